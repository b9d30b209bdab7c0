// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the brain data directory: BRAIN_DATA_DIR when set,
// otherwise ~/.brain. The result is absolute and "~/" is expanded.
//
// It reads the environment directly because it locates the config file
// before viper is set up.
func DataDir() string {
	if dir := os.Getenv("BRAIN_DATA_DIR"); dir != "" {
		return ExpandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".brain"
	}
	return filepath.Join(home, ".brain")
}

// SubDir returns a directory inside DataDir.
func SubDir(name string) string {
	return filepath.Join(DataDir(), name)
}

// ExpandPath expands a leading "~/" and makes path absolute.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
