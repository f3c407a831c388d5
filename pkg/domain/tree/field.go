package tree

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Field names a task attribute addressable by update patches.
type Field string

const (
	FieldName            Field = "name"
	FieldStartDate       Field = "startDate"
	FieldEndDate         Field = "endDate"
	FieldPercentComplete Field = "percentComplete"
	FieldStatus          Field = "status"
	FieldAssignedTo      Field = "assignedTo"
	FieldCost            Field = "cost"
	FieldFlagged         Field = "flagged"
	FieldPredecessor     Field = "predecessor"
	FieldDescription     Field = "description"
	FieldAttachments     Field = "attachments"
)

// AllFields returns every addressable field.
func AllFields() []Field {
	return []Field{
		FieldName, FieldStartDate, FieldEndDate, FieldPercentComplete, FieldStatus,
		FieldAssignedTo, FieldCost, FieldFlagged, FieldPredecessor, FieldDescription,
		FieldAttachments,
	}
}

// ParseField validates a field name.
func ParseField(s string) (Field, error) {
	f := Field(s)
	if !f.IsValid() {
		return "", fmt.Errorf("%w: %s", ErrUnknownField, s)
	}
	return f, nil
}

func (f Field) IsValid() bool {
	return slices.Contains(AllFields(), f)
}

// IsDerived reports whether the field is recomputed from children on nodes
// that have them.
func (f Field) IsDerived() bool {
	return f == FieldPercentComplete || f == FieldCost || f == FieldEndDate
}

// IsHighChurn reports whether edits to the field arrive keystroke by keystroke
// and are worth coalescing before transmission.
func (f Field) IsHighChurn() bool {
	switch f {
	case FieldName, FieldCost, FieldPercentComplete, FieldDescription:
		return true
	default:
		return false
	}
}

// Value returns the current value of a field.
func (t *Task) Value(f Field) (any, error) {
	switch f {
	case FieldName:
		return t.Name, nil
	case FieldStartDate:
		return t.StartDate, nil
	case FieldEndDate:
		return t.EndDate, nil
	case FieldPercentComplete:
		return t.PercentComplete, nil
	case FieldStatus:
		return t.Status, nil
	case FieldAssignedTo:
		return append([]string{}, t.AssignedTo...), nil
	case FieldCost:
		return t.Cost, nil
	case FieldFlagged:
		return t.Flagged, nil
	case FieldPredecessor:
		return append([]int64{}, t.Predecessor...), nil
	case FieldDescription:
		return t.Description, nil
	case FieldAttachments:
		return append([]Attachment{}, t.Attachments...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
}

// Set assigns a field from a loosely typed value, as decoded from JSON or
// produced in-process. It reports whether the stored value changed.
func (t *Task) Set(f Field, value any) (bool, error) {
	switch f {
	case FieldName, FieldDescription:
		var s string
		if err := coerce(value, &s); err != nil {
			return false, t.fieldErr(f, "expected text")
		}
		if f == FieldName {
			return assign(&t.Name, s), nil
		}
		return assign(&t.Description, s), nil

	case FieldStartDate, FieldEndDate:
		var s string
		if err := coerce(value, &s); err != nil {
			return false, t.fieldErr(f, "expected a date")
		}
		d, err := ParseDate(s)
		if err != nil {
			return false, t.fieldErr(f, err.Error())
		}
		if f == FieldStartDate {
			return assign(&t.StartDate, d), nil
		}
		return assign(&t.EndDate, d), nil

	case FieldPercentComplete:
		var n float64
		if err := coerce(value, &n); err != nil {
			return false, t.fieldErr(f, "expected a whole number")
		}
		if n != math.Trunc(n) || n < 0 || n > 100 {
			return false, t.fieldErr(f, "must be a whole number between 0 and 100")
		}
		return assign(&t.PercentComplete, int(n)), nil

	case FieldStatus:
		var s string
		if err := coerce(value, &s); err != nil {
			return false, t.fieldErr(f, "expected a status")
		}
		st, err := ParseStatus(s)
		if err != nil {
			return false, t.fieldErr(f, err.Error())
		}
		return assign(&t.Status, st), nil

	case FieldAssignedTo:
		var ids []string
		if err := coerce(value, &ids); err != nil {
			return false, t.fieldErr(f, "expected a list of contact ids")
		}
		ids = dedupe(ids)
		changed := !slices.Equal(t.AssignedTo, ids)
		t.AssignedTo = ids
		return changed, nil

	case FieldCost:
		var c float64
		if err := coerce(value, &c); err != nil {
			return false, t.fieldErr(f, "expected a number")
		}
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false, t.fieldErr(f, "expected a finite number")
		}
		return assign(&t.Cost, c), nil

	case FieldFlagged:
		var b bool
		if err := coerce(value, &b); err != nil {
			return false, t.fieldErr(f, "expected true or false")
		}
		return assign(&t.Flagged, b), nil

	case FieldPredecessor:
		var ids []int64
		if err := coerce(value, &ids); err != nil {
			return false, t.fieldErr(f, "expected a list of task ids")
		}
		if slices.Contains(ids, t.ID) {
			return false, fmt.Errorf("task %d: %w", t.ID, ErrSelfReference)
		}
		ids = dedupe(ids)
		changed := !slices.Equal(t.Predecessor, ids)
		t.Predecessor = ids
		return changed, nil

	case FieldAttachments:
		var atts []Attachment
		if err := coerce(value, &atts); err != nil {
			return false, t.fieldErr(f, "expected a list of attachments")
		}
		if atts == nil {
			atts = []Attachment{}
		}
		t.Attachments = atts
		return true, nil

	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
}

func (t *Task) fieldErr(f Field, reason string) error {
	return &FieldError{TaskID: t.ID, Field: f, Reason: reason}
}

func assign[T comparable](dst *T, v T) bool {
	if *dst == v {
		return false
	}
	*dst = v
	return true
}

// coerce converts a loosely typed value into dst. Values that already have
// the right type are assigned directly; anything else goes through JSON.
func coerce[T any](value any, dst *T) error {
	if v, ok := value.(T); ok {
		*dst = v
		return nil
	}
	if value == nil {
		var zero T
		*dst = zero
		return nil
	}
	if s, ok := value.(string); ok {
		// Stringly typed numbers and booleans come from free-form text input.
		var probe T
		switch any(probe).(type) {
		case float64, bool:
			return json.Unmarshal([]byte(strings.TrimSpace(s)), dst)
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func dedupe[T comparable](in []T) []T {
	out := make([]T, 0, len(in))
	seen := make(map[T]struct{}, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
