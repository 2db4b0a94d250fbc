package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/kpilot/pkg/types"
)

// JSONLRecord represents a single line in the JSONL file
type JSONLRecord struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Resource        string  `json:"resource"`
	WorkHours       float64 `json:"work_hours"`
	BaselineHours   float64 `json:"baseline_hours"`
	PercentComplete int     `json:"percent_complete"`
	DevHours        float64 `json:"dev_hours"`
	DevPercent      float64 `json:"dev_percent"`
	TestHours       float64 `json:"test_hours"`
	TestPercent     float64 `json:"test_percent"`
	ReviewHours     float64 `json:"review_hours"`
	ReviewPercent   float64 `json:"review_percent"`
	StartDate       string  `json:"start_date"`
	FinishDate      string  `json:"finish_date"`
	CurrentPhase    string  `json:"current_phase"`
	CRStage         string  `json:"cr_stage"`
	TaskType        string  `json:"task_type"`
	ParentID        int64   `json:"parent_id"`
}

func importJSONLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.jsonl>",
		Short: "Import tasks from a JSONL file",
		Long: `Import tasks from a JSON Lines (JSONL) file, one task object per line.

Top-level tasks are created before subtasks, so parent_id references
resolve regardless of line order. Resources named on imported tasks are
added to the resource list automatically. Derived fields (variance,
earned value, completed and remaining hours) are computed on insert.

Example file:
  {"id": 100, "name": "Build 2", "resource": "Alice", "work_hours": 40, "baseline_hours": 40, "percent_complete": 25}
  {"id": 101, "name": "Build 2 - API", "parent_id": 100, "work_hours": 24, "baseline_hours": 24, "dev_hours": 16, "test_hours": 8}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportJSONL(args[0])
		},
	}
}

func runImportJSONL(filename string) error {
	_, store, err := requireProject()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	if err := store.MigrateSchema(); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	var records []JSONLRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var rec JSONLRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
		if rec.Name == "" {
			return fmt.Errorf("line %d: missing task name", lineNum)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	// Parents first so parent_id references always resolve
	imported := 0
	for _, pass := range []bool{false, true} {
		for _, rec := range records {
			if (rec.ParentID != 0) != pass {
				continue
			}

			if rec.Resource != "" {
				if err := store.EnsureResource(rec.Resource); err != nil {
					return fmt.Errorf("adding resource %q: %w", rec.Resource, err)
				}
			}

			task := recordToTask(rec)
			if _, err := store.CreateTask(task); err != nil {
				return fmt.Errorf("importing %q: %w", rec.Name, err)
			}
			imported++
		}
	}

	fmt.Printf("Imported %d task(s) from %s\n", imported, filename)
	return nil
}

func recordToTask(rec JSONLRecord) *types.Task {
	task := &types.Task{
		ID:              rec.ID,
		Name:            rec.Name,
		Resource:        rec.Resource,
		WorkHours:       rec.WorkHours,
		BaselineHours:   rec.BaselineHours,
		PercentComplete: rec.PercentComplete,
		DevHours:        rec.DevHours,
		DevPercent:      rec.DevPercent,
		TestHours:       rec.TestHours,
		TestPercent:     rec.TestPercent,
		ReviewHours:     rec.ReviewHours,
		ReviewPercent:   rec.ReviewPercent,
		StartDate:       rec.StartDate,
		FinishDate:      rec.FinishDate,
		CurrentPhase:    types.Phase(rec.CurrentPhase),
		CRStage:         types.CRStage(rec.CRStage),
		Type:            types.TaskType(rec.TaskType),
		ParentID:        rec.ParentID,
	}
	if task.CurrentPhase == "" {
		task.CurrentPhase = types.PhaseDevelopment
	}
	if task.CRStage == "" {
		task.CRStage = types.CRStageSubmitted
	}
	if task.Type == "" {
		task.Type = types.TaskTypeFixedWork
	}
	return task
}
