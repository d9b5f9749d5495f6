package reflection

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/llm"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testIntake() *domain.IntakeDefinition {
	return &domain.IntakeDefinition{
		Type:           "sample",
		Acknowledgment: "Thanks.",
		Questions: []domain.QuestionDefinition{
			{ID: "open", Order: 1, Prompt: "What brings you here?", Type: domain.QuestionTypeFreeText},
			{
				ID: "areas", Order: 2, Prompt: "Which areas?", Type: domain.QuestionTypeMultiSelect,
				Options: []domain.Option{
					{Value: "work", Label: "Work"},
					{Value: "stress", Label: "Stress"},
					{Value: "sleep", Label: "Sleep"},
					{Value: "mood", Label: "Mood or motivation"},
					{Value: "adhd", Label: "ADHD"},
					{Value: "nothing", Label: "Nothing"},
					{Value: "other", Label: "Other", IsEscapeOption: true},
				},
			},
			{
				ID: "style", Order: 3, Prompt: "Style?", Type: domain.QuestionTypeSingleSelect,
				Options: []domain.Option{{Value: "gentle", Label: "Gentle"}},
			},
			{ID: "last", Order: 4, Prompt: "Anything else?", Type: domain.QuestionTypeFreeText},
		},
		SkipReflection: map[string]bool{"last": true},
		Templates: map[string]domain.TemplateTable{
			"areas": {
				NoneValue:    "nothing",
				NoneResponse: "Nothing stands out, and that is fine.",
				Tiers: []domain.TemplateTier{
					{Min: 1, Max: 1, Response: "One: {{selected}}."},
					{Min: 2, Max: 2, Response: "Two: {{selected}}."},
					{Min: 2, Max: 3, Response: "Overlap: {{selected}}."},
					{Min: 3, Response: "Many: {{selected}}."},
				},
			},
		},
	}
}

func TestDecide(t *testing.T) {
	in := testIntake()
	tests := []struct {
		question string
		want     domain.ReflectionKind
	}{
		{"open", domain.ReflectionKindGenerate},
		{"areas", domain.ReflectionKindTemplate},
		{"style", domain.ReflectionKindGenerate},
		{"last", domain.ReflectionKindSkip},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			q := question(t, in, tt.question)
			if got := Decide(in, q).Kind(); got != tt.want {
				t.Errorf("Decide(%s) = %s, want %s", tt.question, got, tt.want)
			}
		})
	}
}

func TestDecideSkipWinsOverTemplate(t *testing.T) {
	in := testIntake()
	in.SkipReflection["areas"] = true
	if _, ok := Decide(in, question(t, in, "areas")).(Skip); !ok {
		t.Error("Expected skip to take precedence")
	}
	if err := CheckTables(in); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Expected overlap to be a configuration error, got %v", err)
	}
}

func TestCheckTables(t *testing.T) {
	if err := CheckTables(testIntake()); err != nil {
		t.Fatalf("CheckTables failed on valid intake: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(in *domain.IntakeDefinition)
	}{
		{"template on single select", func(in *domain.IntakeDefinition) {
			in.Templates["style"] = in.Templates["areas"]
		}},
		{"template on unknown question", func(in *domain.IntakeDefinition) {
			in.Templates["missing"] = in.Templates["areas"]
		}},
		{"skip unknown question", func(in *domain.IntakeDefinition) {
			in.SkipReflection["missing"] = true
		}},
		{"none value not an option", func(in *domain.IntakeDefinition) {
			tbl := in.Templates["areas"]
			tbl.NoneValue = "zero"
			in.Templates["areas"] = tbl
		}},
		{"no tiers", func(in *domain.IntakeDefinition) {
			in.Templates["areas"] = domain.TemplateTable{}
		}},
		{"inverted tier", func(in *domain.IntakeDefinition) {
			in.Templates["areas"] = domain.TemplateTable{Tiers: []domain.TemplateTier{{Min: 3, Max: 2, Response: "x"}}}
		}},
		{"zero min", func(in *domain.IntakeDefinition) {
			in.Templates["areas"] = domain.TemplateTable{Tiers: []domain.TemplateTier{{Min: 0, Response: "x"}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testIntake()
			tt.mutate(in)
			if err := CheckTables(in); !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	in := testIntake()
	q := question(t, in, "areas")
	table := in.Templates["areas"]

	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"one", []string{"work"}, "One: Work."},
		{"two in submission order", []string{"stress", "work"}, "Two: Stress and work."},
		{"first declared tier wins", []string{"work", "sleep"}, "Two: Work and sleep."},
		{"overlap resolved toward first declared", []string{"work", "stress", "sleep"}, "Overlap: Work, stress and sleep."},
		{"unbounded tier", []string{"work", "stress", "sleep", "mood"}, "Many: Work, stress, sleep and mood or motivation."},
		{"acronym kept", []string{"work", "adhd"}, "Two: Work and ADHD."},
		{"none short-circuits", []string{"work", "nothing"}, "Nothing stands out, and that is fine."},
		{"empty selection", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Select(q, table, tt.values); got != tt.want {
				t.Errorf("Select(%v) = %q, want %q", tt.values, got, tt.want)
			}
		})
	}
}

func TestSelectDeterministic(t *testing.T) {
	in := testIntake()
	q := question(t, in, "areas")
	values := []string{"work", "stress", "sleep"}

	first := Select(q, in.Templates["areas"], values)
	for i := 0; i < 20; i++ {
		if got := Select(q, in.Templates["areas"], values); got != first {
			t.Fatalf("Select not deterministic: %q then %q", first, got)
		}
	}
}

func TestReflect(t *testing.T) {
	in := testIntake()

	t.Run("skip uses acknowledgment", func(t *testing.T) {
		mock := llm.NewMockClient("unused")
		r := NewReflector(mock, nil, 0)
		res, err := r.Reflect(testContext(t), in, question(t, in, "last"), domain.TextAnswer("no"))
		if err != nil {
			t.Fatalf("Reflect failed: %v", err)
		}
		if res.Text != "Thanks." || res.Kind != domain.ReflectionKindSkip {
			t.Errorf("unexpected result %+v", res)
		}
		if mock.Calls() != 0 {
			t.Errorf("Expected no generator call, got %d", mock.Calls())
		}
	})

	t.Run("template makes no call", func(t *testing.T) {
		mock := llm.NewMockClient("unused")
		r := NewReflector(mock, nil, 0)
		res, err := r.Reflect(testContext(t), in, question(t, in, "areas"), domain.ListAnswer("work", "stress"))
		if err != nil {
			t.Fatalf("Reflect failed: %v", err)
		}
		if res.Kind != domain.ReflectionKindTemplate || res.Text != "Two: Work and stress." {
			t.Errorf("unexpected result %+v", res)
		}
		if mock.Calls() != 0 {
			t.Errorf("Expected no generator call, got %d", mock.Calls())
		}
	})

	t.Run("generate sends question and answer", func(t *testing.T) {
		mock := llm.NewMockClient("  That sounds like a lot to hold.  ")
		r := NewReflector(mock, nil, 0)
		res, err := r.Reflect(testContext(t), in, question(t, in, "open"), domain.TextAnswer("I feel anxious"))
		if err != nil {
			t.Fatalf("Reflect failed: %v", err)
		}
		if res.Text != "That sounds like a lot to hold." {
			t.Errorf("Expected trimmed reflection, got %q", res.Text)
		}
		if res.Usage.TotalUnits != 15 {
			t.Errorf("Expected usage passed through, got %+v", res.Usage)
		}
		req := mock.Last()
		if req == nil || len(req.Messages) != 2 {
			t.Fatalf("Expected system and user message, got %+v", req)
		}
		if !strings.Contains(req.Messages[1].Content, "What brings you here?") ||
			!strings.Contains(req.Messages[1].Content, "I feel anxious") {
			t.Errorf("prompt missing question or answer: %q", req.Messages[1].Content)
		}
		if len(req.Schema) != 0 {
			t.Error("reflection requests are plain text")
		}
	})

	t.Run("select without template uses labels", func(t *testing.T) {
		mock := llm.NewMockClient("Noted.")
		r := NewReflector(mock, nil, 0)
		if _, err := r.Reflect(testContext(t), in, question(t, in, "style"), domain.ListAnswer("gentle")); err != nil {
			t.Fatalf("Reflect failed: %v", err)
		}
		if content := mock.Last().Messages[1].Content; !strings.Contains(content, "Gentle") {
			t.Errorf("Expected label in prompt, got %q", content)
		}
	})

	t.Run("generator error", func(t *testing.T) {
		mock := llm.NewMockClient("")
		mock.Error = errors.New("boom")
		r := NewReflector(mock, nil, 0)
		_, err := r.Reflect(testContext(t), in, question(t, in, "open"), domain.TextAnswer("hi"))
		if !errors.Is(err, domain.ErrGeneration) {
			t.Errorf("Expected ErrGeneration, got %v", err)
		}
	})

	t.Run("empty output", func(t *testing.T) {
		r := NewReflector(llm.NewMockClient("   "), nil, 0)
		_, err := r.Reflect(testContext(t), in, question(t, in, "open"), domain.TextAnswer("hi"))
		if !errors.Is(err, domain.ErrGeneration) {
			t.Errorf("Expected ErrGeneration, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		mock := llm.NewMockClient("late")
		mock.Delay = time.Second
		r := NewReflector(mock, nil, 20*time.Millisecond)
		_, err := r.Reflect(testContext(t), in, question(t, in, "open"), domain.TextAnswer("hi"))
		if !errors.Is(err, domain.ErrGeneration) {
			t.Errorf("Expected ErrGeneration, got %v", err)
		}
	})

	t.Run("no client", func(t *testing.T) {
		r := NewReflector(nil, nil, 0)
		_, err := r.Reflect(testContext(t), in, question(t, in, "open"), domain.TextAnswer("hi"))
		if !errors.Is(err, domain.ErrGeneration) {
			t.Errorf("Expected ErrGeneration, got %v", err)
		}
	})
}

func TestAnswerText(t *testing.T) {
	in := testIntake()
	q := question(t, in, "areas")
	got := AnswerText(q, domain.Answer{Values: []string{"work", "other"}, Other: "money"})
	if got != "Work, Other (money)" {
		t.Errorf("AnswerText = %q", got)
	}
	if got := AnswerText(q, domain.TextAnswer("plain")); got != "plain" {
		t.Errorf("AnswerText = %q", got)
	}
}

func question(t *testing.T, in *domain.IntakeDefinition, id string) *domain.QuestionDefinition {
	t.Helper()
	for i := range in.Questions {
		if in.Questions[i].ID == id {
			return &in.Questions[i]
		}
	}
	t.Fatalf("no question %s", id)
	return nil
}
