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

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Backup writes a consistent copy of the store to dir using VACUUM INTO and
// verifies it. The copy is named after the database with a timestamp suffix.
func (s *Store) Backup(ctx context.Context, dir string) (string, error) {
	if s.path == ":memory:" {
		return "", fmt.Errorf("backup: in-memory database cannot be backed up")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("backup: create %q: %w", dir, err)
	}
	dest := filepath.Join(dir, "audit.db.backup."+time.Now().Format("20060102T150405"))

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("backup: vacuum into %q: %w", dest, err)
	}
	if err := VerifyBackup(dest); err != nil {
		_ = os.Remove(dest)
		return "", err
	}
	return dest, nil
}

// VerifyBackup runs PRAGMA integrity_check on the database at path.
func VerifyBackup(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("verify backup: open %q: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("verify backup: integrity check on %q: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("verify backup: integrity check failed on %q: %s", path, result)
	}
	return nil
}
