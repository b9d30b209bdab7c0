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

package manager

import "strings"

var kindKeywords = []struct {
	kind     string
	keywords []string
}{
	{"filesystem", []string{"filesystem", "file", "fs"}},
	{"git", []string{"git", "vcs"}},
	{"codebase", []string{"codebase", "code", "lsp"}},
	{"devtools", []string{"devtools", "build", "test", "ci"}},
	{"search", []string{"search", "exa", "web"}},
}

// Classify infers a provider kind from its id for display. Ids that match
// nothing are "generic".
func Classify(id string) string {
	lower := strings.ToLower(id)
	for _, k := range kindKeywords {
		for _, kw := range k.keywords {
			if strings.Contains(lower, kw) {
				return k.kind
			}
		}
	}
	return "generic"
}
