package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/kpilot/internal/copilot"
	"github.com/cloud-shuttle/kpilot/internal/db"
	"github.com/cloud-shuttle/kpilot/internal/llm"
	"github.com/cloud-shuttle/kpilot/pkg/types"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize kpilot in the current project",
		Long: `Initialize kpilot in the current project.

Creates a .kpilot directory with a SQLite database for tasks, resources,
pending actions, and the change log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}

			kpilotDir := filepath.Join(dir, ".kpilot")
			if _, err := os.Stat(kpilotDir); err == nil {
				return fmt.Errorf("already initialized in %s", kpilotDir)
			}

			if err := os.MkdirAll(kpilotDir, 0755); err != nil {
				return fmt.Errorf("creating .kpilot directory: %w", err)
			}

			store, err := db.Open(filepath.Join(dir, cfg.DatabasePath))
			if err != nil {
				return fmt.Errorf("creating database: %w", err)
			}
			defer store.Close()

			if err := store.InitSchema(); err != nil {
				return fmt.Errorf("initializing schema: %w", err)
			}
			if err := store.MigrateSchema(); err != nil {
				return fmt.Errorf("migrating schema: %w", err)
			}

			fmt.Printf("📊 Initialized kpilot in %s\n", kpilotDir)
			fmt.Println("\nNext steps:")
			fmt.Println("  kpilot import tasks.jsonl")
			fmt.Println("  kpilot task list")
			fmt.Println("  kpilot chat \"log 4 hours on Build 2\"")
			return nil
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and edit tasks",
	}
	cmd.AddCommand(taskListCmd(), taskShowCmd(), taskUpdateCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := store.ListTasks()
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks yet. Import some with: kpilot import tasks.jsonl")
				return nil
			}

			fmt.Printf("%-5s %-35s %-12s %8s %6s %10s\n", "ID", "TASK", "RESOURCE", "WORK", "DONE", "FINISH")
			for _, t := range tasks {
				name := t.Name
				if t.ParentID != 0 {
					name = "  └ " + name
				}
				done := fmt.Sprintf("%d%%", t.PercentComplete)
				if t.PercentComplete >= 100 {
					done = color.GreenString(done)
				} else if t.Variance > 0 {
					done = color.YellowString(done)
				}
				fmt.Printf("%-5d %-35s %-12s %7gh %6s %10s\n",
					t.ID, truncateName(name, 35), t.Resource, t.WorkHours, done, t.FinishDate)
			}
			return nil
		},
	}
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}

			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.GetTask(id)
			if err != nil {
				return err
			}

			fmt.Printf("[%d] %s\n", t.ID, color.New(color.Bold).Sprint(t.Name))
			fmt.Printf("  Resource:   %s\n", orDash(t.Resource))
			fmt.Printf("  Hours:      work=%g baseline=%g variance=%g\n", t.WorkHours, t.BaselineHours, t.Variance)
			fmt.Printf("  Progress:   %d%% (completed=%gh remaining=%gh earned=%gh)\n",
				t.PercentComplete, t.HoursCompleted, t.HoursRemaining, t.EarnedValue)
			fmt.Printf("  Phases:     dev=%gh (%g%%) test=%gh (%g%%) review=%gh (%g%%)\n",
				t.DevHours, t.DevPercent, t.TestHours, t.TestPercent, t.ReviewHours, t.ReviewPercent)
			fmt.Printf("  Dates:      %s -> %s\n", orDash(t.StartDate), orDash(t.FinishDate))
			fmt.Printf("  Phase:      %s | CR stage: %s | Type: %s\n", t.CurrentPhase, t.CRStage, t.Type)
			if t.ParentID != 0 {
				fmt.Printf("  Parent:     %d\n", t.ParentID)
			}

			subs, err := store.ListSubtasks(t.ID)
			if err != nil {
				return err
			}
			for _, sub := range subs {
				fmt.Printf("  └ [%d] %s (%d%%)\n", sub.ID, sub.Name, sub.PercentComplete)
			}
			return nil
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> <field=value>...",
		Short: "Set task fields directly",
		Long: `Set task fields directly, bypassing the copilot.

Changes are validated against the field schema and derived fields are
recalculated, exactly as copilot edits are.

Example:
  kpilot task update 104 work_hours=60 resource=Alice`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}

			fields := make(map[string]any, len(args)-1)
			for _, pair := range args[1:] {
				field, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("expected field=value, got %q", pair)
				}
				fields[field] = parseValue(value)
			}

			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			svc := copilot.New(store, nil)
			task, warnings, err := svc.UpdateFields(id, fields)
			if err != nil {
				return reportApplyError(err)
			}

			printWarnings(warnings)
			fmt.Printf("Updated [%d] %s: %d%% complete, %gh remaining\n",
				task.ID, task.Name, task.PercentComplete, task.HoursRemaining)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <query>",
		Short: "Talk to the project copilot",
		Long: `Send a natural-language instruction or question to the copilot.

The copilot sees every task, the resource allocation, and the project
summary, and answers with either information or a validated change set.

Examples:
  kpilot chat "I spent 6 hours on Build 2 today"
  kpilot chat "increase the testing budget for task 104 by 20 hours"
  kpilot chat "which tasks are over budget?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := llm.New(cfg.LLM())
			if err != nil {
				return err
			}

			svc := copilot.New(store, client)
			result, err := svc.Chat(context.Background(), query, nil)
			if err != nil {
				return reportApplyError(err)
			}

			fmt.Println(color.CyanString(result.Reply))

			if result.NeedsClarification {
				fmt.Println()
				for _, opt := range result.Options {
					line := fmt.Sprintf("  %d. %s", opt.Ordinal, opt.Label)
					if opt.Description != "" {
						line += color.New(color.Faint).Sprintf("  (%s)", opt.Description)
					}
					fmt.Println(line)
				}
				if result.PendingActionID != 0 {
					fmt.Printf("\nPick one with: kpilot resolve %d <option>\n", result.PendingActionID)
				}
				return nil
			}

			for _, log := range result.Logs {
				fmt.Println("  " + log)
			}
			printWarnings(result.Warnings)
			if result.ChangesApplied > 0 {
				fmt.Printf("\n%s\n", color.GreenString("%d change(s) applied", result.ChangesApplied))
			}
			return nil
		},
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <action-id> <option>",
		Short: "Resolve a pending copilot action",
		Long: `Resolve a pending action by picking one of its numbered options.

Pending actions expire five minutes after they are created; an expired
or already-resolved action reports "not found".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actionID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid action id %q", args[0])
			}
			chosen, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid option %q", args[1])
			}

			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			svc := copilot.New(store, nil)
			result, err := svc.Resolve(actionID, chosen)
			if err != nil {
				return reportApplyError(err)
			}

			if result.Cancelled {
				fmt.Println(result.Message)
				return nil
			}

			fmt.Println(color.CyanString(result.Message))
			for _, log := range result.Logs {
				fmt.Println("  " + log)
			}
			printWarnings(result.Warnings)
			fmt.Printf("\n%s\n", color.GreenString("%d change(s) applied", result.ChangesApplied))
			return nil
		},
	}
}

func changelogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "Show recent changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Changelog(limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s  %-12s %-30s %s\n", e.Timestamp, e.Action, truncateName(e.TaskName, 30), e.Details)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries to show")
	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show project totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			s, err := store.Summary()
			if err != nil {
				return err
			}

			fmt.Printf("Tasks:        %d\n", s.TotalTasks)
			fmt.Printf("Hours:        %g scheduled | %g baseline\n", s.TotalHours, s.TotalBaseline)
			variance := fmt.Sprintf("%gh", s.TotalVariance)
			if s.TotalVariance > 0 {
				variance = color.YellowString(variance)
			}
			fmt.Printf("Variance:     %s\n", variance)
			fmt.Printf("Progress:     %.1f%% average | %gh completed | %gh remaining\n",
				s.AvgPercent, s.TotalCompleted, s.TotalRemaining)
			fmt.Printf("Earned value: %gh\n", s.TotalEarnedValue)

			mismatches, err := store.MismatchWarnings()
			if err != nil {
				return err
			}
			for _, m := range mismatches {
				fmt.Println(color.YellowString("⚠ " + m.Message))
			}
			return nil
		},
	}
}

func resourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "Show resource allocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			alloc, err := store.ResourceAllocation()
			if err != nil {
				return err
			}

			fmt.Printf("%-15s %9s %9s %9s %9s %6s\n", "RESOURCE", "CAPACITY", "ALLOC", "DONE", "LEFT", "UTIL")
			for _, r := range alloc {
				util := fmt.Sprintf("%g%%", r.Utilization)
				if r.Overallocated {
					util = color.RedString(util)
				}
				fmt.Printf("%-15s %8gh %8gh %8gh %8gh %6s\n",
					r.Name, r.Capacity, r.Allocated, r.Completed, r.Remaining, util)
			}
			return nil
		},
	}
}

// reportApplyError unwraps the error types callers can act on so the
// CLI message says what to do, not just what broke
func reportApplyError(err error) error {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		fmt.Println(color.RedString("Validation failed, nothing was changed:"))
		for _, e := range verr.Errors {
			fmt.Println("  - " + e)
		}
		return fmt.Errorf("validation failed")
	}

	var cerr *types.CollaboratorError
	if errors.As(err, &cerr) {
		return fmt.Errorf("copilot unavailable, no changes made: %w", cerr.Err)
	}

	if errors.Is(err, types.ErrActionNotFound) {
		return fmt.Errorf("action not found, already resolved, or expired")
	}
	return err
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Println(color.YellowString("⚠ " + w))
	}
}

// parseValue guesses the natural type of a CLI value so numeric fields
// coerce cleanly
func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func truncateName(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
