// Package copilot turns natural-language instructions into validated,
// auditable task changes. It owns the collaborator round-trip, the
// action handlers, and the pending-action confirmation flow.
package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloud-shuttle/kpilot/internal/db"
	"github.com/cloud-shuttle/kpilot/internal/llm"
	"github.com/cloud-shuttle/kpilot/internal/schema"
	"github.com/cloud-shuttle/kpilot/pkg/types"
)

// Completer is the one call the service needs from a language model
type Completer interface {
	Complete(ctx context.Context, system, user string, history []llm.Message) (json.RawMessage, error)
}

// Service interprets instructions against a task store
type Service struct {
	store *db.Store
	llm   Completer
	now   func() time.Time
}

func New(store *db.Store, completer Completer) *Service {
	return &Service{store: store, llm: completer, now: time.Now}
}

// SetClock overrides the wall clock, for tests
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ChatResult is the outcome of one interpreted instruction
type ChatResult struct {
	Reply          string
	Logs           []string
	ChangesApplied int
	Warnings       []string

	// NeedsClarification means nothing was written; the caller should
	// present Options and come back with Resolve (when PendingActionID
	// is set) or a rephrased query (when it is not).
	NeedsClarification bool
	PendingActionID    int64
	Options            []types.Option
}

// Chat runs one instruction through the collaborator and applies
// whatever change set it decodes to. Collaborator and decode failures
// come back as a CollaboratorError so callers can tell "the model is
// down or talking nonsense" apart from their own bad input; the store
// is untouched in that case.
func (s *Service) Chat(ctx context.Context, query string, history []llm.Message) (*ChatResult, error) {
	pctx, err := s.buildContext()
	if err != nil {
		return nil, fmt.Errorf("building context: %w", err)
	}

	raw, err := s.llm.Complete(ctx, systemPrompt(), userPrompt(pctx.Rendered, query), history)
	if err != nil {
		return nil, &types.CollaboratorError{Err: err}
	}
	action, err := DecodeAction(raw)
	if err != nil {
		return nil, &types.CollaboratorError{Err: err}
	}

	reply := action.Reply
	if reply == "" {
		reply = "Done."
	}

	switch action.Kind {
	case KindQuery:
		return &ChatResult{Reply: reply}, nil

	case KindClarify:
		options := make([]types.Option, len(action.Options))
		for i, label := range action.Options {
			options[i] = types.Option{Ordinal: i + 1, Label: label}
		}
		return &ChatResult{
			Reply:              action.Question,
			NeedsClarification: true,
			Options:            options,
		}, nil

	case KindLogHours:
		task, err := s.store.GetTask(action.TaskID)
		if err != nil {
			return nil, err
		}
		return s.applyWithReply(reply, logHoursChanges(task, action.Hours, action.Phase))

	case KindAddHours:
		task, err := s.store.GetTask(action.TaskID)
		if err != nil {
			return nil, err
		}
		res := addHoursChanges(task, action.Hours, action.Phase, action.Mode)
		if res.Options != nil {
			id, err := s.store.CreatePendingAction(task.ID, "phase_selection",
				fmt.Sprintf("Add %gh", action.Hours), res.Options)
			if err != nil {
				return nil, err
			}
			return &ChatResult{
				Reply:              fmt.Sprintf("Which phase of %s should I add %gh to?", task.Name, action.Hours),
				NeedsClarification: true,
				PendingActionID:    id,
				Options:            res.Options,
			}, nil
		}
		return s.applyWithReply(reply, res.Changes)

	case KindUpdate:
		return s.applyWithReply(reply, action.Changes)
	}

	return nil, fmt.Errorf("unhandled action kind %q", action.Kind)
}

func (s *Service) applyWithReply(reply string, changes []types.ChangeEntry) (*ChatResult, error) {
	res, err := s.applyChanges(changes, "AI_EDIT")
	if err != nil {
		return nil, err
	}
	return &ChatResult{
		Reply:          reply,
		Logs:           res.logs,
		ChangesApplied: res.applied,
		Warnings:       res.warnings,
	}, nil
}

// ResolveResult is the outcome of confirming a pending action
type ResolveResult struct {
	Cancelled      bool
	Message        string
	Logs           []string
	ChangesApplied int
	Warnings       []string
}

// Resolve executes one option of a pending action. The action is
// claimed before any change is written, so when two callers race on
// the same action exactly one of them applies it and the other gets
// ErrActionNotFound.
func (s *Service) Resolve(actionID int64, chosen int) (*ResolveResult, error) {
	action, err := s.store.GetPendingAction(actionID)
	if err != nil {
		return nil, err
	}

	var option *types.Option
	for i := range action.Options {
		if action.Options[i].Ordinal == chosen {
			option = &action.Options[i]
			break
		}
	}
	if option == nil {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidOption, chosen)
	}

	if option.Cancel {
		if err := s.store.TransitionPendingAction(actionID, types.ActionStatusCancelled); err != nil {
			return nil, err
		}
		return &ResolveResult{Cancelled: true, Message: "Cancelled - no changes made"}, nil
	}

	if err := s.store.TransitionPendingAction(actionID, types.ActionStatusExecuted); err != nil {
		return nil, err
	}

	res, err := s.applyChanges(option.Changes, "PHASE_ADJUST")
	if err != nil {
		return nil, err
	}
	return &ResolveResult{
		Message:        option.Label,
		Logs:           res.logs,
		ChangesApplied: res.applied,
		Warnings:       res.warnings,
	}, nil
}

// UpdateFields applies a direct field update, bypassing the
// collaborator but not the validation or the changelog.
func (s *Service) UpdateFields(taskID int64, fields map[string]any) (*types.Task, []string, error) {
	changes := make([]types.ChangeEntry, 0, len(fields))
	for field, value := range fields {
		changes = append(changes, types.ChangeEntry{TaskID: taskID, Field: field, Value: value})
	}

	res, err := s.applyChanges(changes, "MANUAL_EDIT")
	if err != nil {
		return nil, nil, err
	}

	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, nil, err
	}
	return task, res.warnings, nil
}

type applyResult struct {
	logs     []string
	warnings []string
	applied  int
}

// applyChanges validates a change set as a unit and writes it grouped
// per task. Derived fields the collaborator sometimes tries to set
// directly are dropped up front; everything else either all passes
// validation or nothing is written.
func (s *Service) applyChanges(changes []types.ChangeEntry, auditAction string) (*applyResult, error) {
	filtered := changes[:0:0]
	for _, c := range changes {
		if c.Field == "variance" || c.Field == "earned_value" {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return &applyResult{}, nil
	}

	tasks := make(map[int64]*types.Task)
	for _, c := range filtered {
		if _, ok := tasks[c.TaskID]; ok {
			continue
		}
		task, err := s.store.GetTask(c.TaskID)
		if err != nil {
			if errors.Is(err, types.ErrTaskNotFound) {
				continue // ValidateAll reports the missing task
			}
			return nil, err
		}
		tasks[c.TaskID] = task
	}

	resources, err := s.store.ListResources()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(resources))
	for i, r := range resources {
		names[i] = r.Name
	}

	coerced, warnings, err := schema.ValidateAll(filtered, tasks, names)
	if err != nil {
		return nil, err
	}

	var order []int64
	updates := make(map[int64]map[string]any)
	for i, c := range filtered {
		if _, ok := updates[c.TaskID]; !ok {
			order = append(order, c.TaskID)
			updates[c.TaskID] = make(map[string]any)
		}
		updates[c.TaskID][c.Field] = coerced[i]
	}

	out := &applyResult{warnings: warnings}
	for _, id := range order {
		task := tasks[id]
		var details []string
		for _, c := range filtered {
			if c.TaskID != id {
				continue
			}
			line := fmt.Sprintf("%s: %v -> %v", c.Field, fieldValue(task, c.Field), updates[id][c.Field])
			details = append(details, line)
			out.logs = append(out.logs, task.Name+": "+line)
		}

		if _, err := s.store.UpdateTask(id, updates[id]); err != nil {
			return nil, err
		}
		out.applied += len(updates[id])

		if err := s.store.AppendChangelog(auditAction, task.Name, task.Resource, strings.Join(details, "; ")); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// fieldValue reads a task field by schema name, for audit lines
func fieldValue(t *types.Task, field string) any {
	switch field {
	case "name":
		return t.Name
	case "resource":
		return t.Resource
	case "work_hours":
		return t.WorkHours
	case "baseline_hours":
		return t.BaselineHours
	case "variance":
		return t.Variance
	case "hours_completed":
		return t.HoursCompleted
	case "hours_remaining":
		return t.HoursRemaining
	case "earned_value":
		return t.EarnedValue
	case "dev_hours":
		return t.DevHours
	case "dev_percent":
		return t.DevPercent
	case "test_hours":
		return t.TestHours
	case "test_percent":
		return t.TestPercent
	case "review_hours":
		return t.ReviewHours
	case "review_percent":
		return t.ReviewPercent
	case "percent_complete":
		return t.PercentComplete
	case "current_phase":
		return t.CurrentPhase
	case "cr_stage":
		return t.CRStage
	case "task_type":
		return t.Type
	case "start_date":
		return t.StartDate
	case "finish_date":
		return t.FinishDate
	case "parent_id":
		return t.ParentID
	}
	return "?"
}
