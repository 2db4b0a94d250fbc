package db_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloud-shuttle/kpilot/internal/db"
	"github.com/cloud-shuttle/kpilot/pkg/types"
)

func pendingOptions(taskID int64) []types.Option {
	return []types.Option{
		{Ordinal: 1, Label: "Add to Development (+10h)", Changes: []types.ChangeEntry{
			{TaskID: taskID, Field: "dev_hours", Value: 30.0},
			{TaskID: taskID, Field: "work_hours", Value: 50.0},
		}},
		{Ordinal: 2, Label: "Cancel", Description: "No changes", Cancel: true},
	}
}

func TestStore_PendingAction_RoundTrip(t *testing.T) {
	store := setupTestDB(t)

	task := mustCreate(t, store, &types.Task{Name: "Build 2", WorkHours: 40})

	id, err := store.CreatePendingAction(task.ID, "phase_selection", "Add 10h", pendingOptions(task.ID))
	if err != nil {
		t.Fatalf("CreatePendingAction failed: %v", err)
	}

	action, err := store.GetPendingAction(id)
	if err != nil {
		t.Fatalf("GetPendingAction failed: %v", err)
	}
	if action.TaskID != task.ID {
		t.Errorf("TaskID = %d, want %d", action.TaskID, task.ID)
	}
	if action.Status != types.ActionStatusPending {
		t.Errorf("Status = %s, want pending", action.Status)
	}
	if len(action.Options) != 2 {
		t.Fatalf("len(Options) = %d, want 2", len(action.Options))
	}
	if !action.Options[1].Cancel {
		t.Error("expected second option to carry the cancel flag")
	}
	if len(action.Options[0].Changes) != 2 {
		t.Errorf("len(Options[0].Changes) = %d, want 2", len(action.Options[0].Changes))
	}
}

func TestStore_PendingAction_SingleWinner(t *testing.T) {
	store := setupTestDB(t)

	task := mustCreate(t, store, &types.Task{Name: "Build 2", WorkHours: 40})
	id, err := store.CreatePendingAction(task.ID, "phase_selection", "Add 10h", pendingOptions(task.ID))
	if err != nil {
		t.Fatalf("CreatePendingAction failed: %v", err)
	}

	if err := store.TransitionPendingAction(id, types.ActionStatusExecuted); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}

	err = store.TransitionPendingAction(id, types.ActionStatusExecuted)
	if !errors.Is(err, types.ErrActionNotFound) {
		t.Errorf("second transition error = %v, want ErrActionNotFound", err)
	}

	_, err = store.GetPendingAction(id)
	if !errors.Is(err, types.ErrActionNotFound) {
		t.Errorf("GetPendingAction after execution error = %v, want ErrActionNotFound", err)
	}
}

func TestStore_PendingAction_ConcurrentResolvers(t *testing.T) {
	store := setupTestDB(t)

	task := mustCreate(t, store, &types.Task{Name: "Build 2", WorkHours: 40})
	id, err := store.CreatePendingAction(task.ID, "phase_selection", "Add 10h", pendingOptions(task.ID))
	if err != nil {
		t.Fatalf("CreatePendingAction failed: %v", err)
	}

	const resolvers = 10
	var wg sync.WaitGroup
	wins := make(chan struct{}, resolvers)

	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.TransitionPendingAction(id, types.ActionStatusExecuted) == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Errorf("winners = %d, want exactly 1", got)
	}
}

func TestStore_PendingAction_Expiry(t *testing.T) {
	store := setupTestDB(t)

	task := mustCreate(t, store, &types.Task{Name: "Build 2", WorkHours: 40})
	id, err := store.CreatePendingAction(task.ID, "phase_selection", "Add 10h", pendingOptions(task.ID))
	if err != nil {
		t.Fatalf("CreatePendingAction failed: %v", err)
	}

	// Just inside the window the action is still resolvable
	store.SetClock(func() time.Time { return testClock.Add(db.PendingActionTTL - time.Second) })
	if _, err := store.GetPendingAction(id); err != nil {
		t.Fatalf("GetPendingAction inside TTL failed: %v", err)
	}

	// At the boundary and beyond it reads as gone
	store.SetClock(func() time.Time { return testClock.Add(db.PendingActionTTL) })
	_, err = store.GetPendingAction(id)
	if !errors.Is(err, types.ErrActionNotFound) {
		t.Errorf("GetPendingAction at expiry error = %v, want ErrActionNotFound", err)
	}

	// Expiry cancelled the action, so winding the clock back cannot
	// reopen the window
	store.SetClock(func() time.Time { return testClock })
	_, err = store.GetPendingAction(id)
	if !errors.Is(err, types.ErrActionNotFound) {
		t.Errorf("GetPendingAction after clock rollback error = %v, want ErrActionNotFound", err)
	}
}

func TestStore_Changelog(t *testing.T) {
	store := setupTestDB(t)

	for i, details := range []string{"first", "second", "third"} {
		store.SetClock(func() time.Time { return testClock.Add(time.Duration(i) * time.Minute) })
		if err := store.AppendChangelog("AI_EDIT", "Build 2", "Alice", details); err != nil {
			t.Fatalf("AppendChangelog failed: %v", err)
		}
	}

	entries, err := store.Changelog(2)
	if err != nil {
		t.Fatalf("Changelog failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want limit 2", len(entries))
	}
	if entries[0].Details != "third" || entries[1].Details != "second" {
		t.Errorf("entries out of order: %q then %q, want newest first", entries[0].Details, entries[1].Details)
	}
}
