package validator

import "github.com/dshills/intakeflow/internal/domain"

// DetectEscape reports whether any selected value belongs to an option flagged
// as an escape option. Only option metadata is consulted, never the label.
func DetectEscape(q *domain.QuestionDefinition, selected []string) bool {
	for _, v := range selected {
		if o, ok := q.Option(v); ok && o.IsEscapeOption {
			return true
		}
	}
	return false
}
