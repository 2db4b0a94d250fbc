package copilot

import (
	"encoding/json"
	"fmt"

	"github.com/cloud-shuttle/kpilot/pkg/types"
)

// Kind enumerates the closed set of action tags the collaborator may
// return. Anything else is rejected at the boundary.
type Kind string

const (
	KindUpdate   Kind = "update"
	KindLogHours Kind = "log_hours"
	KindAddHours Kind = "add_hours"
	KindQuery    Kind = "query"
	KindClarify  Kind = "clarify"
)

// Action is the decoded, validated form of one collaborator response
type Action struct {
	Kind  Kind
	Reply string

	// update
	Changes []types.ChangeEntry

	// log_hours / add_hours
	TaskID int64
	Hours  float64
	Phase  types.Phase
	Mode   string

	// clarify
	Question string
	Options  []string
}

// wire mirror of the JSON the collaborator produces
type actionPayload struct {
	Action   string              `json:"action"`
	Reply    string              `json:"reply"`
	Changes  []types.ChangeEntry `json:"changes"`
	TaskID   int64               `json:"task_id"`
	Hours    float64             `json:"hours"`
	Phase    string              `json:"phase"`
	Mode     string              `json:"mode"`
	Question string              `json:"question"`
	Options  []string            `json:"options"`
}

// DecodeAction parses a collaborator response into the closed action
// union. Unknown action tags and malformed payloads are errors; they
// must never fall through as silent no-ops.
func DecodeAction(raw json.RawMessage) (*Action, error) {
	var p actionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding action: %w", err)
	}

	a := &Action{
		Reply:    p.Reply,
		Changes:  p.Changes,
		TaskID:   p.TaskID,
		Hours:    p.Hours,
		Mode:     p.Mode,
		Question: p.Question,
		Options:  p.Options,
	}

	switch Kind(p.Action) {
	case KindUpdate, KindLogHours, KindAddHours, KindQuery, KindClarify:
		a.Kind = Kind(p.Action)
	default:
		return nil, fmt.Errorf("unrecognized action %q", p.Action)
	}

	if p.Phase != "" {
		phase, err := parsePhase(p.Phase)
		if err != nil {
			return nil, err
		}
		a.Phase = phase
	}

	switch a.Kind {
	case KindLogHours, KindAddHours:
		if a.TaskID == 0 {
			return nil, fmt.Errorf("%s action missing task_id", a.Kind)
		}
		if a.Hours <= 0 {
			return nil, fmt.Errorf("%s action requires positive hours, got %g", a.Kind, a.Hours)
		}
	case KindClarify:
		if a.Question == "" {
			a.Question = a.Reply
		}
	}

	return a, nil
}

func parsePhase(s string) (types.Phase, error) {
	switch s {
	case "development", "dev", "coding", "implementation":
		return types.PhaseDevelopment, nil
	case "testing", "test", "qa":
		return types.PhaseTesting, nil
	case "review", "code review":
		return types.PhaseReview, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}
