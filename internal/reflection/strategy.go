// Package reflection decides how each answer is reflected back to the user
// and produces the reflection text.
package reflection

import (
	"fmt"

	"github.com/dshills/intakeflow/internal/domain"
)

// Plan is the reflection decision for one question.
// It is one of Skip, Template, or Generate.
type Plan interface {
	Kind() domain.ReflectionKind
}

// Skip means no reflection is produced; the caller emits the static acknowledgment.
type Skip struct{}

// Template means the answer is mapped through a deterministic rule table.
type Template struct {
	Table domain.TemplateTable
}

// Generate means the reflection comes from the generative collaborator.
type Generate struct{}

func (Skip) Kind() domain.ReflectionKind     { return domain.ReflectionKindSkip }
func (Template) Kind() domain.ReflectionKind { return domain.ReflectionKindTemplate }
func (Generate) Kind() domain.ReflectionKind { return domain.ReflectionKindGenerate }

// Decide resolves the plan for q by static lookup: skip set first, then the
// template registry, else generation.
func Decide(intake *domain.IntakeDefinition, q *domain.QuestionDefinition) Plan {
	if intake.SkipReflection[q.ID] {
		return Skip{}
	}
	if table, ok := intake.Templates[q.ID]; ok {
		return Template{Table: table}
	}
	return Generate{}
}

// CheckTables verifies the skip set and template registry of an intake.
// A question in both tables, or a table pointing at a question that cannot
// use it, is a configuration error.
func CheckTables(intake *domain.IntakeDefinition) error {
	byID := make(map[string]*domain.QuestionDefinition, len(intake.Questions))
	for i := range intake.Questions {
		byID[intake.Questions[i].ID] = &intake.Questions[i]
	}

	for id := range intake.SkipReflection {
		if _, ok := byID[id]; !ok {
			return fmt.Errorf("%w: intake %s: skip set names unknown question %q", domain.ErrConfiguration, intake.Type, id)
		}
		if _, ok := intake.Templates[id]; ok {
			return fmt.Errorf("%w: intake %s: question %q is in both the skip set and the template registry", domain.ErrConfiguration, intake.Type, id)
		}
	}

	for id, table := range intake.Templates {
		q, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: intake %s: template registered for unknown question %q", domain.ErrConfiguration, intake.Type, id)
		}
		if q.Type != domain.QuestionTypeMultiSelect {
			return fmt.Errorf("%w: intake %s: template for %q requires a multi_select question, got %s", domain.ErrConfiguration, intake.Type, id, q.Type)
		}
		if err := checkTable(q, table); err != nil {
			return fmt.Errorf("%w: intake %s: template %q: %v", domain.ErrConfiguration, intake.Type, id, err)
		}
	}
	return nil
}

func checkTable(q *domain.QuestionDefinition, table domain.TemplateTable) error {
	if table.NoneValue != "" {
		if _, ok := q.Option(table.NoneValue); !ok {
			return fmt.Errorf("none value %q is not an option", table.NoneValue)
		}
		if table.NoneResponse == "" {
			return fmt.Errorf("none value %q has no response", table.NoneValue)
		}
	}
	if len(table.Tiers) == 0 {
		return fmt.Errorf("no tiers")
	}
	for i, tier := range table.Tiers {
		if tier.Min < 1 {
			return fmt.Errorf("tier %d: min must be at least 1", i)
		}
		if tier.Max != 0 && tier.Max < tier.Min {
			return fmt.Errorf("tier %d: max %d below min %d", i, tier.Max, tier.Min)
		}
		if tier.Response == "" {
			return fmt.Errorf("tier %d: empty response", i)
		}
	}
	return nil
}
