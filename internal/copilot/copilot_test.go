// Package copilot_test provides tests for the copilot package
package copilot_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloud-shuttle/kpilot/internal/copilot"
	"github.com/cloud-shuttle/kpilot/internal/db"
	"github.com/cloud-shuttle/kpilot/internal/llm"
	"github.com/cloud-shuttle/kpilot/pkg/types"
)

var testClock = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

// stubCompleter plays the language model, returning a canned response
type stubCompleter struct {
	response string
	err      error
	lastUser string
}

func (s *stubCompleter) Complete(ctx context.Context, system, user string, history []llm.Message) (json.RawMessage, error) {
	s.lastUser = user
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.response), nil
}

func setupService(t *testing.T, stub *stubCompleter) (*copilot.Service, *db.Store) {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	store.SetClock(func() time.Time { return testClock })

	svc := copilot.New(store, stub)
	svc.SetClock(func() time.Time { return testClock })
	return svc, store
}

func createTask(t *testing.T, store *db.Store, task *types.Task) *types.Task {
	t.Helper()
	created, err := store.CreateTask(task)
	if err != nil {
		t.Fatalf("CreateTask(%q) failed: %v", task.Name, err)
	}
	return created
}

func TestChat_QueryOnly(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "query", "reply": "Build 2 is 25% complete."}`}
	svc, store := setupService(t, stub)
	createTask(t, store, &types.Task{ID: 104, Name: "Build 2", WorkHours: 40, PercentComplete: 25})

	result, err := svc.Chat(context.Background(), "how is Build 2 doing?", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if result.Reply != "Build 2 is 25% complete." {
		t.Errorf("Reply = %q", result.Reply)
	}
	if result.ChangesApplied != 0 {
		t.Errorf("ChangesApplied = %d, want 0", result.ChangesApplied)
	}
	if !strings.Contains(stub.lastUser, "Build 2") {
		t.Error("expected the task dump in the collaborator prompt")
	}
}

func TestChat_Clarify(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "clarify", "question": "Which task?", "options": ["Build 2", "Build 3"]}`}
	svc, _ := setupService(t, stub)

	result, err := svc.Chat(context.Background(), "add 5 hours", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if !result.NeedsClarification {
		t.Fatal("expected NeedsClarification")
	}
	if result.PendingActionID != 0 {
		t.Error("a rephrase clarification should not create a pending action")
	}
	if len(result.Options) != 2 || result.Options[0].Ordinal != 1 {
		t.Errorf("Options = %+v, want two 1-based options", result.Options)
	}
}

func TestChat_LogHours_GrowsZeroAllocation(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "log_hours", "task_id": 104, "hours": 15, "reply": "Logged 15h"}`}
	svc, store := setupService(t, stub)
	createTask(t, store, &types.Task{ID: 104, Name: "Build 2"})

	result, err := svc.Chat(context.Background(), "I worked 15 hours on Build 2", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if result.ChangesApplied == 0 {
		t.Fatal("expected changes to be applied")
	}

	task, err := store.GetTask(104)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.WorkHours != 15 {
		t.Errorf("WorkHours = %g, want raised to 15", task.WorkHours)
	}
	if task.PercentComplete != 100 {
		t.Errorf("PercentComplete = %d, want 100", task.PercentComplete)
	}
	if task.HoursRemaining != 0 {
		t.Errorf("HoursRemaining = %g, want 0", task.HoursRemaining)
	}
}

func TestChat_LogHours_PhaseProgress(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "log_hours", "task_id": 104, "hours": 10, "phase": "development", "reply": "Logged 10h of dev"}`}
	svc, store := setupService(t, stub)
	createTask(t, store, &types.Task{
		ID: 104, Name: "Build 2", WorkHours: 40,
		DevHours: 20, TestHours: 15, ReviewHours: 5,
	})

	if _, err := svc.Chat(context.Background(), "spent 10 hours developing Build 2", nil); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	task, err := store.GetTask(104)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.PercentComplete != 25 {
		t.Errorf("PercentComplete = %d, want 25", task.PercentComplete)
	}
	if task.DevPercent != 50 {
		t.Errorf("DevPercent = %g, want 50", task.DevPercent)
	}
	if task.WorkHours != 40 {
		t.Errorf("WorkHours = %g, want unchanged 40", task.WorkHours)
	}
}

func TestChat_AddHours_DirectWhenNoPhases(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "add_hours", "task_id": 104, "hours": 20, "reply": "Increased budget by 20h"}`}
	svc, store := setupService(t, stub)
	createTask(t, store, &types.Task{ID: 104, Name: "Build 2", WorkHours: 40, PercentComplete: 25})

	result, err := svc.Chat(context.Background(), "increase Build 2 scope by 20 hours", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if result.NeedsClarification {
		t.Fatal("task without phase hours should not need clarification")
	}

	task, err := store.GetTask(104)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.WorkHours != 60 {
		t.Errorf("WorkHours = %g, want 60", task.WorkHours)
	}
	// Scope growth is not progress
	if task.PercentComplete != 25 {
		t.Errorf("PercentComplete = %d, want unchanged 25", task.PercentComplete)
	}
}

func TestChat_AddHours_AsksForPhase(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "add_hours", "task_id": 104, "hours": 10, "reply": "Adding 10h"}`}
	svc, store := setupService(t, stub)
	createTask(t, store, &types.Task{
		ID: 104, Name: "Build 2", WorkHours: 40,
		DevHours: 20, TestHours: 15, ReviewHours: 5,
	})

	result, err := svc.Chat(context.Background(), "increase Build 2 budget by 10 hours", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if !result.NeedsClarification {
		t.Fatal("expected clarification for a task with phase hours")
	}
	if result.PendingActionID == 0 {
		t.Fatal("expected a pending action id")
	}
	if len(result.Options) != 5 {
		t.Fatalf("len(Options) = %d, want 5", len(result.Options))
	}
	if len(result.Options[3].Changes) != 4 {
		t.Errorf("scale option changes = %d, want 4 (three phases plus total)", len(result.Options[3].Changes))
	}
	if !result.Options[4].Cancel {
		t.Error("expected last option to be the explicit cancel")
	}

	// Nothing is written until the caller resolves
	task, _ := store.GetTask(104)
	if task.WorkHours != 40 {
		t.Errorf("WorkHours = %g, want unchanged 40", task.WorkHours)
	}
}

func TestResolve_AppliesChosenOption(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "add_hours", "task_id": 104, "hours": 10, "reply": "Adding 10h"}`}
	svc, store := setupService(t, stub)
	createTask(t, store, &types.Task{
		ID: 104, Name: "Build 2", WorkHours: 40,
		DevHours: 20, TestHours: 15, ReviewHours: 5,
	})

	chat, err := svc.Chat(context.Background(), "increase Build 2 budget by 10 hours", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	result, err := svc.Resolve(chat.PendingActionID, 1)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.Cancelled {
		t.Fatal("option 1 is not a cancel")
	}
	if result.ChangesApplied == 0 {
		t.Fatal("expected changes applied")
	}

	task, _ := store.GetTask(104)
	if task.DevHours != 30 {
		t.Errorf("DevHours = %g, want 30", task.DevHours)
	}
	if task.WorkHours != 50 {
		t.Errorf("WorkHours = %g, want 50", task.WorkHours)
	}

	// The action is consumed; resolving again reads as gone
	if _, err := svc.Resolve(chat.PendingActionID, 1); !errors.Is(err, types.ErrActionNotFound) {
		t.Errorf("second Resolve error = %v, want ErrActionNotFound", err)
	}
}

func TestResolve_Cancel(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "add_hours", "task_id": 104, "hours": 10, "reply": "Adding 10h"}`}
	svc, store := setupService(t, stub)
	createTask(t, store, &types.Task{
		ID: 104, Name: "Build 2", WorkHours: 40,
		DevHours: 20, TestHours: 15, ReviewHours: 5,
	})

	chat, err := svc.Chat(context.Background(), "increase Build 2 budget by 10 hours", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	result, err := svc.Resolve(chat.PendingActionID, 5)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !result.Cancelled {
		t.Fatal("expected cancellation")
	}

	task, _ := store.GetTask(104)
	if task.WorkHours != 40 {
		t.Errorf("WorkHours = %g, want unchanged 40", task.WorkHours)
	}

	if _, err := svc.Resolve(chat.PendingActionID, 1); !errors.Is(err, types.ErrActionNotFound) {
		t.Errorf("Resolve after cancel error = %v, want ErrActionNotFound", err)
	}
}

func TestResolve_InvalidOption(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "add_hours", "task_id": 104, "hours": 10, "reply": "Adding 10h"}`}
	svc, store := setupService(t, stub)
	createTask(t, store, &types.Task{
		ID: 104, Name: "Build 2", WorkHours: 40, DevHours: 40,
	})

	chat, err := svc.Chat(context.Background(), "increase Build 2 budget by 10 hours", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	_, err = svc.Resolve(chat.PendingActionID, 9)
	if !errors.Is(err, types.ErrInvalidOption) {
		t.Errorf("Resolve(9) error = %v, want ErrInvalidOption", err)
	}

	// A bad pick does not consume the action
	if _, err := svc.Resolve(chat.PendingActionID, 1); err != nil {
		t.Errorf("Resolve after bad pick failed: %v", err)
	}
}

func TestResolve_ExpiredAction(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "add_hours", "task_id": 104, "hours": 10, "reply": "Adding 10h"}`}
	svc, store := setupService(t, stub)
	createTask(t, store, &types.Task{
		ID: 104, Name: "Build 2", WorkHours: 40, DevHours: 40,
	})

	chat, err := svc.Chat(context.Background(), "increase Build 2 budget by 10 hours", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	store.SetClock(func() time.Time { return testClock.Add(db.PendingActionTTL + time.Second) })

	if _, err := svc.Resolve(chat.PendingActionID, 1); !errors.Is(err, types.ErrActionNotFound) {
		t.Errorf("Resolve of expired action error = %v, want ErrActionNotFound", err)
	}
}

func TestChat_Update_AppliesChanges(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "update", "reply": "Reassigned to Bob",
		"changes": [{"id": 104, "field": "resource", "value": "Bob"}, {"id": 104, "field": "work_hours", "value": 60}]}`}
	svc, store := setupService(t, stub)
	if err := store.EnsureResource("Bob"); err != nil {
		t.Fatalf("EnsureResource failed: %v", err)
	}
	createTask(t, store, &types.Task{ID: 104, Name: "Build 2", Resource: "Alice", WorkHours: 40})

	result, err := svc.Chat(context.Background(), "give Build 2 to Bob with 60 hours", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if result.ChangesApplied != 2 {
		t.Errorf("ChangesApplied = %d, want 2", result.ChangesApplied)
	}
	if len(result.Logs) != 2 {
		t.Errorf("len(Logs) = %d, want one audit line per change", len(result.Logs))
	}

	task, _ := store.GetTask(104)
	if task.Resource != "Bob" || task.WorkHours != 60 {
		t.Errorf("task = resource %q work %g, want Bob / 60", task.Resource, task.WorkHours)
	}

	entries, err := store.Changelog(10)
	if err != nil {
		t.Fatalf("Changelog failed: %v", err)
	}
	if len(entries) == 0 || entries[0].Action != "AI_EDIT" {
		t.Errorf("expected an AI_EDIT changelog entry, got %+v", entries)
	}
}

func TestChat_Update_ValidationRejectsAll(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "update", "reply": "Updating",
		"changes": [{"id": 104, "field": "work_hours", "value": 60}, {"id": 104, "field": "percent_complete", "value": 150}]}`}
	svc, store := setupService(t, stub)
	createTask(t, store, &types.Task{ID: 104, Name: "Build 2", WorkHours: 40})

	_, err := svc.Chat(context.Background(), "set Build 2 to 150%", nil)
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Chat error = %v, want *types.ValidationError", err)
	}

	// All-or-nothing: the valid change was not applied either
	task, _ := store.GetTask(104)
	if task.WorkHours != 40 {
		t.Errorf("WorkHours = %g, want unchanged 40", task.WorkHours)
	}
}

func TestChat_Update_DropsDerivedFields(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "update", "reply": "Updating",
		"changes": [{"id": 104, "field": "variance", "value": 99}, {"id": 104, "field": "earned_value", "value": 99}]}`}
	svc, store := setupService(t, stub)
	createTask(t, store, &types.Task{ID: 104, Name: "Build 2", WorkHours: 40, BaselineHours: 40})

	result, err := svc.Chat(context.Background(), "set variance to 99", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if result.ChangesApplied != 0 {
		t.Errorf("ChangesApplied = %d, want 0 after dropping derived fields", result.ChangesApplied)
	}
}

func TestChat_CollaboratorFailure(t *testing.T) {
	stub := &stubCompleter{err: fmt.Errorf("connection refused")}
	svc, store := setupService(t, stub)
	createTask(t, store, &types.Task{ID: 104, Name: "Build 2", WorkHours: 40})

	_, err := svc.Chat(context.Background(), "log 5 hours", nil)
	var cerr *types.CollaboratorError
	if !errors.As(err, &cerr) {
		t.Fatalf("Chat error = %v, want *types.CollaboratorError", err)
	}

	task, _ := store.GetTask(104)
	if task.WorkHours != 40 {
		t.Errorf("WorkHours = %g, want untouched 40", task.WorkHours)
	}
}

func TestChat_UnknownActionRejected(t *testing.T) {
	stub := &stubCompleter{response: `{"action": "destroy_everything", "reply": "Done!"}`}
	svc, _ := setupService(t, stub)

	_, err := svc.Chat(context.Background(), "do something", nil)
	var cerr *types.CollaboratorError
	if !errors.As(err, &cerr) {
		t.Fatalf("Chat error = %v, want *types.CollaboratorError for unknown action", err)
	}
}

func TestUpdateFields_DirectEdit(t *testing.T) {
	svc, store := setupService(t, nil)
	createTask(t, store, &types.Task{ID: 104, Name: "Build 2", WorkHours: 40, BaselineHours: 40})

	task, _, err := svc.UpdateFields(104, map[string]any{"percent_complete": int64(100)})
	if err != nil {
		t.Fatalf("UpdateFields failed: %v", err)
	}
	if task.PercentComplete != 100 {
		t.Errorf("PercentComplete = %d, want 100", task.PercentComplete)
	}

	entries, err := store.Changelog(10)
	if err != nil {
		t.Fatalf("Changelog failed: %v", err)
	}
	if len(entries) == 0 || entries[0].Action != "MANUAL_EDIT" {
		t.Errorf("expected a MANUAL_EDIT changelog entry, got %+v", entries)
	}
}
