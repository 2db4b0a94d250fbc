package copilot_test

import (
	"encoding/json"
	"testing"

	"github.com/cloud-shuttle/kpilot/internal/copilot"
	"github.com/cloud-shuttle/kpilot/pkg/types"
)

func TestDecodeAction_ClosedUnion(t *testing.T) {
	for _, kind := range []string{"update", "query", "clarify"} {
		if _, err := copilot.DecodeAction(json.RawMessage(`{"action": "` + kind + `", "question": "q"}`)); err != nil {
			t.Errorf("DecodeAction(%q) failed: %v", kind, err)
		}
	}

	for _, raw := range []string{
		`{"action": "delete_all"}`,
		`{"action": ""}`,
		`{"reply": "no action tag at all"}`,
		`not json`,
	} {
		if _, err := copilot.DecodeAction(json.RawMessage(raw)); err == nil {
			t.Errorf("DecodeAction(%s) succeeded, want error", raw)
		}
	}
}

func TestDecodeAction_HourActionsNeedTaskAndHours(t *testing.T) {
	for _, raw := range []string{
		`{"action": "log_hours", "hours": 5}`,
		`{"action": "log_hours", "task_id": 104}`,
		`{"action": "log_hours", "task_id": 104, "hours": -2}`,
		`{"action": "add_hours", "task_id": 104, "hours": 0}`,
	} {
		if _, err := copilot.DecodeAction(json.RawMessage(raw)); err == nil {
			t.Errorf("DecodeAction(%s) succeeded, want error", raw)
		}
	}

	a, err := copilot.DecodeAction(json.RawMessage(`{"action": "log_hours", "task_id": 104, "hours": 5.5}`))
	if err != nil {
		t.Fatalf("DecodeAction failed: %v", err)
	}
	if a.TaskID != 104 || a.Hours != 5.5 {
		t.Errorf("decoded task_id=%d hours=%g", a.TaskID, a.Hours)
	}
}

func TestDecodeAction_PhaseSynonyms(t *testing.T) {
	cases := map[string]types.Phase{
		"development": types.PhaseDevelopment,
		"dev":         types.PhaseDevelopment,
		"coding":      types.PhaseDevelopment,
		"testing":     types.PhaseTesting,
		"qa":          types.PhaseTesting,
		"review":      types.PhaseReview,
	}
	for in, want := range cases {
		a, err := copilot.DecodeAction(json.RawMessage(
			`{"action": "log_hours", "task_id": 1, "hours": 2, "phase": "` + in + `"}`))
		if err != nil {
			t.Errorf("DecodeAction(phase=%q) failed: %v", in, err)
			continue
		}
		if a.Phase != want {
			t.Errorf("phase %q decoded as %s, want %s", in, a.Phase, want)
		}
	}

	if _, err := copilot.DecodeAction(json.RawMessage(
		`{"action": "log_hours", "task_id": 1, "hours": 2, "phase": "deployment"}`)); err == nil {
		t.Error("expected unknown phase to be rejected")
	}
}

func TestDecodeAction_ClarifyFallsBackToReply(t *testing.T) {
	a, err := copilot.DecodeAction(json.RawMessage(`{"action": "clarify", "reply": "Which task did you mean?"}`))
	if err != nil {
		t.Fatalf("DecodeAction failed: %v", err)
	}
	if a.Question != "Which task did you mean?" {
		t.Errorf("Question = %q, want fallback to reply", a.Question)
	}
}
