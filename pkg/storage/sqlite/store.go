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

// Package sqlite persists finished workflows and reasoning steps in a local
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/teradata-labs/brain/pkg/reasoning"
	"github.com/teradata-labs/brain/pkg/types"
	"github.com/teradata-labs/brain/pkg/workflow"
)

// Store is the audit store. It implements reasoning.Sink and workflow.Store.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

var (
	_ reasoning.Sink = (*Store)(nil)
	_ workflow.Store = (*Store)(nil)
)

// WorkflowSummary is one row of the workflow listing.
type WorkflowSummary struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Query     string         `json:"query"`
	Phase     workflow.Phase `json:"phase"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Open opens or creates the database at path and applies migrations.
// ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	migrator, err := NewMigrator(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrator.MigrateUp(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("Audit store opened", zap.String("path", path))
	return &Store{db: db, path: path, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStep stores one reasoning step of chainID. Re-recording the same
// step number replaces it.
func (s *Store) RecordStep(ctx context.Context, chainID string, step reasoning.Step) error {
	input, err := encodeJSON(step.Input)
	if err != nil {
		return err
	}
	output, err := encodeJSON(step.Output)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO reasoning_steps
			(chain_id, step_number, kind, phase, task_id, title, status, input, output, error, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chainID, step.Number, string(step.Kind), step.Phase, step.TaskID, step.Title, string(step.Status),
		input, output, step.Error, step.DurationMs, step.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record step %d of %s: %w", step.Number, chainID, err)
	}
	return nil
}

// Steps returns the stored steps of chainID in order.
func (s *Store) Steps(ctx context.Context, chainID string) ([]reasoning.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_number, kind, phase, task_id, title, status, input, output, error, duration_ms, recorded_at
		FROM reasoning_steps WHERE chain_id = ? ORDER BY step_number`, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps of %s: %w", chainID, err)
	}
	defer rows.Close()

	var steps []reasoning.Step
	for rows.Next() {
		var (
			step                   reasoning.Step
			kind, status           string
			phase, taskID, errText sql.NullString
			input, output          sql.NullString
			recordedAt             int64
		)
		if err := rows.Scan(&step.Number, &kind, &phase, &taskID, &step.Title, &status,
			&input, &output, &errText, &step.DurationMs, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.Kind = reasoning.StepKind(kind)
		step.Status = reasoning.Status(status)
		step.Phase = phase.String
		step.TaskID = taskID.String
		step.Error = errText.String
		step.Timestamp = time.UnixMilli(recordedAt)
		if input.Valid && input.String != "" {
			if err := json.Unmarshal([]byte(input.String), &step.Input); err != nil {
				return nil, fmt.Errorf("failed to decode step input: %w", err)
			}
		}
		if output.Valid && output.String != "" {
			if err := json.Unmarshal([]byte(output.String), &step.Output); err != nil {
				return nil, fmt.Errorf("failed to decode step output: %w", err)
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// SaveWorkflow stores a finished workflow, replacing an earlier snapshot.
func (s *Store) SaveWorkflow(ctx context.Context, snap workflow.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", snap.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, session_id, query, phase, error, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			phase = excluded.phase,
			error = excluded.error,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		snap.ID, snap.SessionID, snap.Query, string(snap.Phase), snap.Error, string(data),
		snap.CreatedAt.UnixMilli(), snap.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", snap.ID, err)
	}
	return nil
}

// Workflow loads the stored snapshot of id.
func (s *Store) Workflow(ctx context.Context, id string) (workflow.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT snapshot FROM workflows WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Snapshot{}, types.NewNotFoundError("workflow %s not found", id)
	}
	if err != nil {
		return workflow.Snapshot{}, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}
	var snap workflow.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return workflow.Snapshot{}, fmt.Errorf("failed to decode workflow %s: %w", id, err)
	}
	return snap, nil
}

// RecentWorkflows lists up to limit workflows, newest first.
func (s *Store) RecentWorkflows(ctx context.Context, limit int) ([]WorkflowSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, query, phase, error, updated_at
		FROM workflows ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []WorkflowSummary
	for rows.Next() {
		var (
			w         WorkflowSummary
			phase     string
			errText   sql.NullString
			updatedAt int64
		)
		if err := rows.Scan(&w.ID, &w.SessionID, &w.Query, &phase, &errText, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		w.Phase = workflow.Phase(phase)
		w.Error = errText.String
		w.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, w)
	}
	return out, rows.Err()
}

// Prune deletes workflows and steps older than before and returns how many
// workflows were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM workflows WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune workflows: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM reasoning_steps WHERE recorded_at < ?", cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune reasoning steps: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("Pruned audit records", zap.Int64("workflows", n), zap.Time("before", before))
	}
	return n, nil
}

func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode step field: %w", err)
	}
	return string(data), nil
}
