package grid

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/plangrid/pkg/domain/projection"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

// DecodeError is a cell text that cannot be turned into a field value.
// Message is meant for the person who typed it.
type DecodeError struct {
	Field   tree.Field
	Text    string
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %q for %s: %s", e.Text, e.Field, e.Message)
}

// EncodeField renders a task field as cell text.
func EncodeField(t *tree.Task, f tree.Field, labels *projection.Labels) string {
	switch f {
	case tree.FieldName:
		return t.Name
	case tree.FieldStartDate:
		return t.StartDate
	case tree.FieldEndDate:
		return t.EndDate
	case tree.FieldPredecessor:
		return labels.Format(t.Predecessor)
	case tree.FieldPercentComplete:
		return strconv.Itoa(t.PercentComplete) + "%"
	case tree.FieldStatus:
		return string(t.Status)
	case tree.FieldAssignedTo:
		return strings.Join(t.AssignedTo, projection.ListSeparator)
	case tree.FieldCost:
		return FormatCost(t.Cost)
	default:
		return ""
	}
}

// FormatCost renders a cost without trailing zeros.
func FormatCost(c float64) string {
	return strconv.FormatFloat(c, 'f', -1, 64)
}

// Duration renders the inclusive day count between start and end, or "" when
// either date is missing or the range is inverted.
func Duration(t *tree.Task) string {
	if t.StartDate == "" || t.EndDate == "" {
		return ""
	}
	start, err := time.Parse(tree.DateLayout, t.StartDate)
	if err != nil {
		return ""
	}
	end, err := time.Parse(tree.DateLayout, t.EndDate)
	if err != nil || end.Before(start) {
		return ""
	}
	days := int(end.Sub(start).Hours()/24) + 1
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// DecodeText parses cell text into a value accepted by tree.Task.Set.
// For predecessor cells the labels that matched no task are returned in
// unresolved; they are dropped from the value.
func DecodeText(f tree.Field, text string, labels *projection.Labels) (value any, unresolved []string, err error) {
	trimmed := strings.TrimSpace(text)
	switch f {
	case tree.FieldName:
		return text, nil, nil

	case tree.FieldStartDate, tree.FieldEndDate:
		d, err := tree.ParseDate(trimmed)
		if err != nil {
			return nil, nil, &DecodeError{Field: f, Text: text, Message: "Dates must be written as YYYY-MM-DD"}
		}
		return d, nil, nil

	case tree.FieldPercentComplete:
		n, err := ParsePercent(trimmed)
		if err != nil {
			return nil, nil, &DecodeError{Field: f, Text: text, Message: err.Error()}
		}
		return n, nil, nil

	case tree.FieldStatus:
		if trimmed == "" {
			return tree.StatusNotStarted, nil, nil
		}
		st, err := tree.ParseStatus(trimmed)
		if err != nil {
			return nil, nil, &DecodeError{Field: f, Text: text, Message: "Unknown status"}
		}
		return st, nil, nil

	case tree.FieldAssignedTo:
		ids := []string{}
		for _, part := range strings.Split(trimmed, ",") {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, part)
			}
		}
		return ids, nil, nil

	case tree.FieldCost:
		c, err := ParseCost(trimmed)
		if err != nil {
			return nil, nil, &DecodeError{Field: f, Text: text, Message: "Cost must be a number"}
		}
		return c, nil, nil

	case tree.FieldPredecessor:
		ids, unresolved := labels.ResolveList(trimmed)
		return ids, unresolved, nil

	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnmappedColumn, f)
	}
}

// ParsePercent accepts "75" or "75%" and rejects anything outside 0..100.
func ParsePercent(s string) (int, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("Percent complete must be a whole number")
	}
	if n < 0 || n > 100 {
		return 0, fmt.Errorf("Percent complete must be between 0 and 100")
	}
	return n, nil
}

// ParseCost accepts plain numbers with an optional leading "$" and thousands
// separators.
func ParseCost(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(s), "$"), ",", "")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
