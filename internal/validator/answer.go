// Package validator checks submitted answers against their question and
// generated documents against embedded JSON schemas.
package validator

import (
	"fmt"
	"strings"

	"github.com/dshills/intakeflow/internal/domain"
)

// ValidateAnswer checks raw against the type constraints of q and returns the
// canonical answer: trimmed text for free text, option values in submission
// order for select questions, and the escape payload only when an escape
// option is selected. Every failure wraps domain.ErrValidation.
func ValidateAnswer(q *domain.QuestionDefinition, raw domain.Answer) (domain.Answer, error) {
	switch q.Type {
	case domain.QuestionTypeFreeText:
		return validateText(q, raw)
	case domain.QuestionTypeSingleSelect, domain.QuestionTypeMultiSelect:
		return validateSelect(q, raw)
	}
	return domain.Answer{}, fmt.Errorf("%w: question %s has unknown type %q", domain.ErrValidation, q.ID, q.Type)
}

func validateText(q *domain.QuestionDefinition, raw domain.Answer) (domain.Answer, error) {
	if raw.IsList() {
		return domain.Answer{}, fmt.Errorf("%w: question %s expects text, got a list", domain.ErrValidation, q.ID)
	}
	text := strings.TrimSpace(raw.Text)
	if text == "" {
		return domain.Answer{}, fmt.Errorf("%w: answer to %s is empty", domain.ErrValidation, q.ID)
	}
	return domain.TextAnswer(text), nil
}

func validateSelect(q *domain.QuestionDefinition, raw domain.Answer) (domain.Answer, error) {
	values := raw.Values
	// a single select may arrive as a bare string
	if !raw.IsList() {
		if v := strings.TrimSpace(raw.Text); v != "" {
			values = []string{v}
		}
	}
	if len(values) == 0 {
		return domain.Answer{}, fmt.Errorf("%w: no option selected for %s", domain.ErrValidation, q.ID)
	}
	if q.Type == domain.QuestionTypeSingleSelect && len(values) != 1 {
		return domain.Answer{}, fmt.Errorf("%w: question %s accepts exactly one option, got %d", domain.ErrValidation, q.ID, len(values))
	}

	seen := make(map[string]bool, len(values))
	canonical := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := q.Option(v); !ok {
			return domain.Answer{}, fmt.Errorf("%w: %q is not an option of %s", domain.ErrValidation, v, q.ID)
		}
		if seen[v] {
			return domain.Answer{}, fmt.Errorf("%w: option %q selected twice for %s", domain.ErrValidation, v, q.ID)
		}
		seen[v] = true
		canonical = append(canonical, v)
	}

	out := domain.ListAnswer(canonical...)
	if DetectEscape(q, canonical) {
		other := strings.TrimSpace(raw.Other)
		if other == "" {
			return domain.Answer{}, fmt.Errorf("%w: please specify the selected option for %s", domain.ErrValidation, q.ID)
		}
		out.Other = other
	}
	return out, nil
}
