package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/intakeflow/internal/domain"
)

func TestLoadDefault(t *testing.T) {
	r, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault failed: %v", err)
	}

	types := r.Types()
	if len(types) < 2 {
		t.Fatalf("Expected at least 2 intake types, got %v", types)
	}

	total, err := r.TotalSteps("therapy_intake")
	if err != nil {
		t.Fatalf("TotalSteps failed: %v", err)
	}
	all, _ := r.GetAll("therapy_intake")
	if total != len(all) {
		t.Errorf("TotalSteps = %d, GetAll returned %d", total, len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Order >= all[i].Order {
			t.Errorf("questions not sorted by order at %d", i)
		}
	}

	q, err := r.GetByIndex("therapy_intake", 1)
	if err != nil {
		t.Fatalf("GetByIndex failed: %v", err)
	}
	if q.ID != "life_areas" {
		t.Errorf("Expected life_areas at index 1, got %s", q.ID)
	}
	mood, ok := q.Option("mood")
	if !ok {
		t.Fatal("Expected mood option")
	}
	if mood.IsEscapeOption {
		t.Error("mood must not be an escape option")
	}

	in, _ := r.Intake("check_in")
	if in.Acknowledgment != DefaultAcknowledgment {
		t.Errorf("Expected default acknowledgment, got %q", in.Acknowledgment)
	}
}

func TestLookupErrors(t *testing.T) {
	r, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault failed: %v", err)
	}

	_, err = r.GetByIndex("nope", 0)
	if !errors.Is(err, domain.ErrUnknownIntakeType) || !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrUnknownIntakeType wrapping ErrNotFound, got %v", err)
	}
	if _, err := r.TotalSteps("nope"); !errors.Is(err, domain.ErrUnknownIntakeType) {
		t.Errorf("Expected ErrUnknownIntakeType, got %v", err)
	}

	total, _ := r.TotalSteps("check_in")
	for _, idx := range []int{-1, total} {
		_, err := r.GetByIndex("check_in", idx)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("GetByIndex(%d): expected ErrNotFound, got %v", idx, err)
		}
		if errors.Is(err, domain.ErrUnknownIntakeType) {
			t.Errorf("GetByIndex(%d): out of range must not report unknown intake", idx)
		}
	}
}

const validIntake = `
type: sample
title: Sample
questions:
  - id: second
    order: 2
    type: multi_select
    prompt: Pick some
    options:
      - {value: a, label: A}
      - {value: b, label: B}
      - {value: none, label: None}
  - id: first
    order: 1
    type: free_text
    prompt: Tell me
  - id: third
    order: 3
    type: free_text
    prompt: Anything else?
reflection:
  skip: [third]
  templates:
    second:
      none_value: none
      none_response: Okay.
      tiers:
        - {min: 1, max: 1, response: "One: {{selected}}"}
        - {min: 2, response: "Many: {{selected}}"}
`

func TestParseAndNew(t *testing.T) {
	def, err := ParseYAML([]byte(validIntake))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}
	r, err := New(def)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	q, err := r.GetByIndex("sample", 0)
	if err != nil {
		t.Fatalf("GetByIndex failed: %v", err)
	}
	if q.ID != "first" {
		t.Errorf("Expected first question after sort, got %s", q.ID)
	}
	in, _ := r.Intake("sample")
	if !in.SkipReflection["third"] {
		t.Error("Expected third in skip set")
	}
	if _, ok := in.Templates["second"]; !ok {
		t.Error("Expected template for second")
	}
}

func TestConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(string) string
	}{
		{"skip and template overlap", func(s string) string {
			return strings.Replace(s, "skip: [third]", "skip: [third, second]", 1)
		}},
		{"template on free text", func(s string) string {
			return strings.Replace(s, "    second:\n", "    first:\n", 1)
		}},
		{"template for unknown question", func(s string) string {
			return strings.Replace(s, "    second:\n", "    missing:\n", 1)
		}},
		{"skip unknown question", func(s string) string {
			return strings.Replace(s, "skip: [third]", "skip: [fourth]", 1)
		}},
		{"duplicate order", func(s string) string {
			return strings.Replace(s, "order: 3", "order: 1", 1)
		}},
		{"duplicate id", func(s string) string {
			return strings.Replace(s, "id: third", "id: first", 1)
		}},
		{"bad option value", func(s string) string {
			return strings.Replace(s, "{value: a, label: A}", "{value: A-1, label: A}", 1)
		}},
		{"duplicate option value", func(s string) string {
			return strings.Replace(s, "{value: b, label: B}", "{value: a, label: B}", 1)
		}},
		{"free text with options", func(s string) string {
			return strings.Replace(s, "    prompt: Tell me\n", "    prompt: Tell me\n    options:\n      - {value: x, label: X}\n", 1)
		}},
		{"none value not an option", func(s string) string {
			return strings.Replace(s, "none_value: none", "none_value: zero", 1)
		}},
		{"unknown question type", func(s string) string {
			return strings.Replace(s, "type: free_text\n    prompt: Tell me", "type: essay\n    prompt: Tell me", 1)
		}},
		{"tier without response", func(s string) string {
			return strings.Replace(s, `response: "Many: {{selected}}"`, `response: ""`, 1)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := ParseYAML([]byte(tt.mutate(validIntake)))
			if err == nil {
				_, err = New(def)
			}
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}

	t.Run("select without options", func(t *testing.T) {
		def := &domain.IntakeDefinition{
			Type: "bare",
			Questions: []domain.QuestionDefinition{
				{ID: "pick", Order: 1, Prompt: "Pick", Type: domain.QuestionTypeSingleSelect},
			},
		}
		if _, err := New(def); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("Expected ErrConfiguration, got %v", err)
		}
	})

	t.Run("duplicate intake type", func(t *testing.T) {
		a, _ := ParseYAML([]byte(validIntake))
		b, _ := ParseYAML([]byte(validIntake))
		if _, err := New(a, b); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("Expected ErrConfiguration, got %v", err)
		}
	})

	t.Run("empty intake", func(t *testing.T) {
		if _, err := New(&domain.IntakeDefinition{Type: "empty"}); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("Expected ErrConfiguration, got %v", err)
		}
	})
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sample.yaml"), []byte(validIntake), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := r.Intake("sample"); err != nil {
		t.Errorf("Expected sample intake from dir: %v", err)
	}
	if _, err := r.Intake("therapy_intake"); err != nil {
		t.Errorf("Expected embedded intake alongside dir: %v", err)
	}
}
