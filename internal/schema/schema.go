// Package schema declares the task field contract: which fields exist,
// their types, whether they may be written, and their constraints. The
// same table drives validation, the store's editable-field filter, and
// the field documentation shown to the natural-language collaborator.
package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloud-shuttle/kpilot/internal/recalc"
	"github.com/cloud-shuttle/kpilot/pkg/types"
)

// FieldType enumerates the value types a field can carry
type FieldType string

const (
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeString FieldType = "str"
	TypeDate   FieldType = "date"
)

// Field describes one task field
type Field struct {
	Name        string
	Type        FieldType
	Editable    bool
	Description string
	Min         *float64
	Max         *float64
	Values      []string
}

func ptr(v float64) *float64 { return &v }

func stageValues() []string {
	vals := make([]string, len(types.CRStages))
	for i, s := range types.CRStages {
		vals[i] = string(s)
	}
	return vals
}

func phaseValues() []string {
	vals := make([]string, len(types.Phases))
	for i, p := range types.Phases {
		vals[i] = string(p)
	}
	return vals
}

func taskTypeValues() []string {
	vals := make([]string, len(types.TaskTypes))
	for i, tt := range types.TaskTypes {
		vals[i] = string(tt)
	}
	return vals
}

// Fields is the full task schema, keyed by field name
var Fields = map[string]Field{
	"id":              {Name: "id", Type: TypeInt, Editable: false, Description: "Unique task ID"},
	"name":            {Name: "name", Type: TypeString, Editable: true, Description: "Task name"},
	"resource":        {Name: "resource", Type: TypeString, Editable: true, Description: "Assigned person"},
	"work_hours":      {Name: "work_hours", Type: TypeFloat, Editable: true, Min: ptr(0), Description: "Current scheduled hours (actual)"},
	"baseline_hours":  {Name: "baseline_hours", Type: TypeFloat, Editable: true, Min: ptr(0), Description: "Original planned hours (for variance calculation)"},
	"variance":        {Name: "variance", Type: TypeFloat, Editable: false, Description: "work_hours - baseline_hours (auto-calculated)"},
	"hours_completed": {Name: "hours_completed", Type: TypeFloat, Editable: true, Min: ptr(0), Description: "Hours of work done so far"},
	"hours_remaining": {Name: "hours_remaining", Type: TypeFloat, Editable: true, Min: ptr(0), Description: "Hours of work left"},
	"earned_value":    {Name: "earned_value", Type: TypeFloat, Editable: false, Description: "baseline_hours x (percent_complete/100)"},
	"dev_hours":       {Name: "dev_hours", Type: TypeFloat, Editable: true, Min: ptr(0), Description: "Development phase hours"},
	"dev_percent":     {Name: "dev_percent", Type: TypeFloat, Editable: true, Min: ptr(0), Max: ptr(100), Description: "Development phase completion %"},
	"test_hours":      {Name: "test_hours", Type: TypeFloat, Editable: true, Min: ptr(0), Description: "Testing phase hours"},
	"test_percent":    {Name: "test_percent", Type: TypeFloat, Editable: true, Min: ptr(0), Max: ptr(100), Description: "Testing phase completion %"},
	"review_hours":    {Name: "review_hours", Type: TypeFloat, Editable: true, Min: ptr(0), Description: "Code review phase hours"},
	"review_percent":  {Name: "review_percent", Type: TypeFloat, Editable: true, Min: ptr(0), Max: ptr(100), Description: "Review phase completion %"},
	"current_phase":   {Name: "current_phase", Type: TypeString, Editable: true, Values: phaseValues(), Description: "Current phase: 'development', 'testing', or 'review'"},
	"cr_stage":        {Name: "cr_stage", Type: TypeString, Editable: true, Values: stageValues(), Description: "CR lifecycle stage. Changing stage nudges percent_complete up to the stage minimum, never down."},
	"start_date":      {Name: "start_date", Type: TypeDate, Editable: true, Description: "Task start date (YYYY-MM-DD)"},
	"finish_date":     {Name: "finish_date", Type: TypeDate, Editable: true, Description: "Task finish date (YYYY-MM-DD)"},
	"percent_complete": {
		Name: "percent_complete", Type: TypeInt, Editable: true, Min: ptr(0), Max: ptr(100),
		Description: "Overall completion percentage (0-100)",
	},
	"task_type": {Name: "task_type", Type: TypeString, Editable: true, Values: taskTypeValues(), Description: "Task type"},
	"parent_id": {Name: "parent_id", Type: TypeInt, Editable: true, Description: "Parent task ID (for hierarchy, 0 = top-level)"},
}

// Editable reports whether a field exists and may be written
func Editable(field string) bool {
	f, ok := Fields[field]
	return ok && f.Editable
}

// Coerce converts a raw value (typically decoded from JSON, so numbers
// arrive as float64) into the field's declared type
func Coerce(f Field, value any) (any, error) {
	switch f.Type {
	case TypeInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid type for %s: expected int", f.Name)
			}
			return n, nil
		}
	case TypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid type for %s: expected float", f.Name)
			}
			return n, nil
		}
	case TypeString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case TypeDate:
		if v, ok := value.(string); ok {
			if v == "" {
				return v, nil
			}
			if _, err := time.Parse(recalc.DateLayout, v); err != nil {
				return nil, fmt.Errorf("invalid type for %s: expected date (YYYY-MM-DD)", f.Name)
			}
			return v, nil
		}
	}
	return nil, fmt.Errorf("invalid type for %s: expected %s", f.Name, f.Type)
}

// Result carries the outcome of validating one change
type Result struct {
	Errors   []string
	Warnings []string
	Coerced  any
}

// Valid reports whether the change passed validation
func (r Result) Valid() bool { return len(r.Errors) == 0 }

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Validate checks one proposed change against the schema and the task's
// current state. Range and enum violations are errors; suspicious but
// legal states (100% complete with hours remaining, an unknown resource
// name) are warnings attached to an otherwise valid result.
func Validate(task *types.Task, field string, value any, knownResources []string) Result {
	var res Result

	f, ok := Fields[field]
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown field: %s", field))
		return res
	}
	if !f.Editable {
		res.Errors = append(res.Errors, fmt.Sprintf("field %q is not editable (auto-calculated)", field))
		return res
	}

	coerced, err := Coerce(f, value)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	res.Coerced = coerced

	if n, ok := numericValue(coerced); ok {
		if f.Min != nil && n < *f.Min {
			res.Errors = append(res.Errors, fmt.Sprintf("%s must be >= %g", field, *f.Min))
		}
		if f.Max != nil && n > *f.Max {
			res.Errors = append(res.Errors, fmt.Sprintf("%s must be <= %g", field, *f.Max))
		}
	}

	if len(f.Values) > 0 {
		s, _ := coerced.(string)
		found := false
		for _, v := range f.Values {
			if v == s {
				found = true
				break
			}
		}
		if !found {
			res.Errors = append(res.Errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(f.Values, ", ")))
		}
	}

	if !res.Valid() {
		return res
	}

	if field == "percent_complete" {
		if n, _ := numericValue(coerced); n == 100 && task.HoursRemaining > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("setting %s to 100%% but %.1fh remain", task.Name, task.HoursRemaining))
		}
	}

	if field == "resource" && len(knownResources) > 0 {
		name, _ := coerced.(string)
		known := false
		for _, r := range knownResources {
			if r == name {
				known = true
				break
			}
		}
		if !known {
			res.Warnings = append(res.Warnings, fmt.Sprintf("resource %q not in resource list", name))
		}
	}

	return res
}

// ValidateAll validates a change set as a unit: either every change
// passes and the coerced values are returned in order, or a
// ValidationError lists every failure and nothing should be written.
// Warnings from individual changes are collected either way.
func ValidateAll(changes []types.ChangeEntry, tasks map[int64]*types.Task, knownResources []string) ([]any, []string, error) {
	coerced := make([]any, len(changes))
	var warnings []string
	var errs []string

	for i, c := range changes {
		task, ok := tasks[c.TaskID]
		if !ok {
			errs = append(errs, fmt.Sprintf("task %d not found", c.TaskID))
			continue
		}
		res := Validate(task, c.Field, c.Value, knownResources)
		warnings = append(warnings, res.Warnings...)
		if !res.Valid() {
			errs = append(errs, res.Errors...)
			continue
		}
		coerced[i] = res.Coerced
	}

	if len(errs) > 0 {
		return nil, warnings, &types.ValidationError{Errors: errs}
	}
	return coerced, warnings, nil
}

// PromptDocs renders the schema as the field list handed verbatim to the
// natural-language collaborator on every call
func PromptDocs() string {
	names := make([]string, 0, len(Fields))
	for name := range Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		f := Fields[name]
		access := "EDITABLE"
		if !f.Editable {
			access = "READ-ONLY"
		}
		var constraints string
		if f.Min != nil {
			constraints += fmt.Sprintf(" min=%g", *f.Min)
		}
		if f.Max != nil {
			constraints += fmt.Sprintf(" max=%g", *f.Max)
		}
		if len(f.Values) > 0 {
			constraints += fmt.Sprintf(" values=[%s]", strings.Join(f.Values, ", "))
		}
		fmt.Fprintf(&b, "  - %s (%s) [%s]: %s%s\n", f.Name, f.Type, access, f.Description, constraints)
	}
	return b.String()
}
