package copilot

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloud-shuttle/kpilot/pkg/types"
)

// projectContext is a point-in-time snapshot of the whole project, both
// as structured data and rendered as the text block each collaborator
// call is grounded on.
type projectContext struct {
	Tasks     []*types.Task
	Resources []string
	Rendered  string
}

type issue struct {
	Type    string
	Message string
}

func (s *Service) buildContext() (*projectContext, error) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		return nil, err
	}
	resources, err := s.store.ListResources()
	if err != nil {
		return nil, err
	}
	alloc, err := s.store.ResourceAllocation()
	if err != nil {
		return nil, err
	}
	summary, err := s.store.Summary()
	if err != nil {
		return nil, err
	}
	mismatches, err := s.store.MismatchWarnings()
	if err != nil {
		return nil, err
	}

	names := make([]string, len(resources))
	for i, r := range resources {
		names[i] = r.Name
	}

	now := s.now()
	issues := detectIssues(tasks, alloc, now)
	for _, m := range mismatches {
		issues = append(issues, issue{Type: "hours_progress_mismatch", Message: m.Message})
	}

	var b strings.Builder
	b.WriteString(renderSummary(summary, now))
	b.WriteString(renderIssues(issues))
	b.WriteString(renderTasks(tasks))
	b.WriteString(renderAllocation(alloc))

	return &projectContext{Tasks: tasks, Resources: names, Rendered: b.String()}, nil
}

func detectIssues(tasks []*types.Task, alloc []types.ResourceAllocation, now time.Time) []issue {
	var issues []issue
	for _, t := range tasks {
		if t.Variance > 0 && t.PercentComplete < 80 {
			issues = append(issues, issue{
				Type:    "over_budget",
				Message: fmt.Sprintf("%s is %gh over budget", t.Name, t.Variance),
			})
		}
		if t.FinishDate != "" && t.PercentComplete < 100 {
			if finish, err := time.Parse("2006-01-02", t.FinishDate); err == nil && finish.Before(now) {
				issues = append(issues, issue{
					Type:    "overdue",
					Message: fmt.Sprintf("%s was due %s but is only %d%% complete", t.Name, t.FinishDate, t.PercentComplete),
				})
			}
		}
	}
	for _, r := range alloc {
		if r.Overallocated {
			issues = append(issues, issue{
				Type:    "overallocated_resource",
				Message: fmt.Sprintf("%s is overallocated at %g%% utilization", r.Name, r.Utilization),
			})
		}
	}
	return issues
}

func renderSummary(s *types.Summary, now time.Time) string {
	return fmt.Sprintf(`PROJECT SUMMARY (as of %s):
- Total Tasks: %d
- Total Hours: %g scheduled | %g baseline
- Variance: %gh
- Progress: %.1f%% average | %gh completed | %gh remaining
- Earned Value: %gh
`, now.Format("2006-01-02"), s.TotalTasks, s.TotalHours, s.TotalBaseline,
		s.TotalVariance, s.AvgPercent, s.TotalCompleted, s.TotalRemaining, s.TotalEarnedValue)
}

func renderIssues(issues []issue) string {
	if len(issues) == 0 {
		return "\nNo critical issues detected.\n"
	}
	var b strings.Builder
	b.WriteString("\nCURRENT ISSUES:\n")
	// only the most important few, the task dump carries the rest
	for i, is := range issues {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "- %s\n", is.Message)
	}
	return b.String()
}

func renderTasks(tasks []*types.Task) string {
	byID := make(map[int64]*types.Task, len(tasks))
	hasSubs := make(map[int64]bool)
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		if t.ParentID != 0 {
			hasSubs[t.ParentID] = true
		}
	}

	var b strings.Builder
	rule := strings.Repeat("=", 120)
	b.WriteString("\n" + rule + "\nTASK DATABASE - All Fields\n" + rule + "\n")

	for _, t := range tasks {
		prefix := ""
		switch {
		case hasSubs[t.ID]:
			prefix = "[PARENT] "
		case t.ParentID != 0:
			prefix = "  [SUB] "
		}

		resource := t.Resource
		if resource == "" {
			resource = "Unassigned"
		}
		fmt.Fprintf(&b, "\n%s[ID: %d] %s\n", prefix, t.ID, t.Name)
		fmt.Fprintf(&b, "   Resource: %s\n", resource)
		fmt.Fprintf(&b, "   Hours: work=%g | baseline=%g | variance=%g\n", t.WorkHours, t.BaselineHours, t.Variance)
		fmt.Fprintf(&b, "   Progress: %d%% | completed=%gh | remaining=%gh\n", t.PercentComplete, t.HoursCompleted, t.HoursRemaining)
		fmt.Fprintf(&b, "   Phases: dev=%gh (%g%%) | test=%gh (%g%%) | review=%gh (%g%%)\n",
			t.DevHours, t.DevPercent, t.TestHours, t.TestPercent, t.ReviewHours, t.ReviewPercent)
		fmt.Fprintf(&b, "   Dates: %s -> %s | Phase: %s\n", orUnknown(t.StartDate), orUnknown(t.FinishDate), t.CurrentPhase)
		fmt.Fprintf(&b, "   CR Stage: %s\n", t.CRStage)
		if parent, ok := byID[t.ParentID]; ok {
			fmt.Fprintf(&b, "   Parent: %s\n", parent.Name)
		}
	}
	return b.String()
}

func renderAllocation(alloc []types.ResourceAllocation) string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	b.WriteString("\n\n" + rule + "\nRESOURCE ALLOCATION\n" + rule + "\n")
	for _, r := range alloc {
		status := "OK"
		if r.Overallocated {
			status = "OVERALLOCATED"
		}
		fmt.Fprintf(&b, "\n%s - %s\n", r.Name, status)
		fmt.Fprintf(&b, "   Capacity: %gh | Allocated: %gh | Available: %gh\n", r.Capacity, r.Allocated, r.Available)
		fmt.Fprintf(&b, "   Completed: %gh | Remaining: %gh\n", r.Completed, r.Remaining)
		fmt.Fprintf(&b, "   Utilization: %g%%\n", r.Utilization)
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
