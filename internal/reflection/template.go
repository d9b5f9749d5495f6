package reflection

import (
	"slices"
	"strings"

	"github.com/dshills/intakeflow/internal/domain"
)

const selectedPlaceholder = "{{selected}}"

// Select maps a set of selected option values to one response of the table.
// The none value wins over everything else; otherwise the first tier whose
// range contains the selection count is used. It returns "" when no rule matches.
func Select(q *domain.QuestionDefinition, table domain.TemplateTable, values []string) string {
	if table.NoneValue != "" && slices.Contains(values, table.NoneValue) {
		return table.NoneResponse
	}
	count := len(values)
	for _, tier := range table.Tiers {
		if tier.Contains(count) {
			return fill(tier.Response, q.Labels(values))
		}
	}
	return ""
}

func fill(response string, labels []string) string {
	if !strings.Contains(response, selectedPlaceholder) {
		return response
	}
	return strings.ReplaceAll(response, selectedPlaceholder, joinLabels(labels))
}

// joinLabels joins labels as "A", "A and B", or "A, B and C".
// Labels after the first are lowercased when they start a sentence fragment.
func joinLabels(labels []string) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		if i > 0 {
			l = lowerFirst(l)
		}
		parts[i] = l
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	// keep acronyms like "ADHD" intact
	if len(r) > 1 && strings.ToUpper(string(r[:2])) == string(r[:2]) {
		return s
	}
	return strings.ToLower(string(r[:1])) + string(r[1:])
}
