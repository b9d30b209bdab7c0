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
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/brain/pkg/config"
	"github.com/teradata-labs/brain/pkg/storage/sqlite"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the workflow audit store",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent workflows",
	Run:   runAuditList,
}

var auditShowCmd = &cobra.Command{
	Use:   "show [workflow-id]",
	Short: "Show a workflow with its reasoning chain",
	Args:  cobra.ExactArgs(1),
	Run:   runAuditShow,
}

var auditBackupCmd = &cobra.Command{
	Use:   "backup [dir]",
	Short: "Write a consistent copy of the audit database",
	Args:  cobra.MaximumNArgs(1),
	Run:   runAuditBackup,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records older than the retention window",
	Run:   runAuditPrune,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditBackupCmd)
	auditCmd.AddCommand(auditPruneCmd)

	auditListCmd.Flags().Int("limit", 20, "number of workflows")
	auditPruneCmd.Flags().Int("days", 0, "retention in days (default: audit.retention_days)")
}

// withAudit opens the audit store for a one-shot command.
func withAudit(fn func(ctx context.Context, store *sqlite.Store) error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := sqlite.Open(ctx, cfg.Audit.Path, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening audit store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	if err := fn(ctx, store); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAuditList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	withAudit(func(ctx context.Context, store *sqlite.Store) error {
		rows, err := store.RecentWorkflows(ctx, limit)
		if err != nil {
			return err
		}
		printWorkflows(cmd.OutOrStdout(), rows)
		return nil
	})
}

func printWorkflows(w io.Writer, rows []sqlite.WorkflowSummary) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No workflows recorded")
		return
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s  %-13s %s  %s\n", r.ID, r.Phase, r.UpdatedAt.Format(time.RFC3339), r.Query)
		if r.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", r.Error)
		}
	}
}

func runAuditShow(cmd *cobra.Command, args []string) {
	withAudit(func(ctx context.Context, store *sqlite.Store) error {
		snap, err := store.Workflow(ctx, args[0])
		if err != nil {
			return err
		}
		steps, err := store.Steps(ctx, snap.ID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"workflow": snap, "reasoning_chain": steps})
	})
}

func runAuditBackup(cmd *cobra.Command, args []string) {
	dir := config.SubDir("backups")
	if len(args) == 1 {
		dir = args[0]
	}
	withAudit(func(ctx context.Context, store *sqlite.Store) error {
		path, err := store.Backup(ctx, dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Backup written to %s\n", path)
		return nil
	})
}

func runAuditPrune(cmd *cobra.Command, args []string) {
	days, _ := cmd.Flags().GetInt("days")
	if days <= 0 {
		days = cfg.Audit.RetentionDays
	}
	if days <= 0 {
		fmt.Fprintln(os.Stderr, "Retention is disabled; pass --days")
		os.Exit(1)
	}
	withAudit(func(ctx context.Context, store *sqlite.Store) error {
		n, err := store.Prune(ctx, time.Now().AddDate(0, 0, -days))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d workflows older than %d days\n", n, days)
		return nil
	})
}
