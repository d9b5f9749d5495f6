package synthesizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/llm"
	"github.com/dshills/intakeflow/internal/validator"
)

const validCompletion = `{
	"personalized_brief": "You came here because work has been weighing on you.",
	"first_session_guide": "Your first session is a conversation about what you shared.",
	"experiments": ["Write down one worry each evening.", "Take a ten minute walk."]
}`

func setupService(t *testing.T, mock *llm.MockClient) *Service {
	t.Helper()
	val, err := validator.New()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	return NewService(mock, val, nil, 0)
}

// testContext returns a context with timeout for tests.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testIntake() *domain.IntakeDefinition {
	return &domain.IntakeDefinition{
		Type:  "sample",
		Title: "Sample intake",
		Questions: []domain.QuestionDefinition{
			{ID: "open", Order: 1, Prompt: "What brings you here?", Type: domain.QuestionTypeFreeText},
			{
				ID: "areas", Order: 2, Prompt: "Which areas?", Type: domain.QuestionTypeMultiSelect,
				Options: []domain.Option{
					{Value: "work", Label: "Work"},
					{Value: "other", Label: "Other", IsEscapeOption: true},
				},
			},
		},
		CompletionGuide: "Keep it short.",
	}
}

func testTranscript() []*domain.ProgressEntry {
	return []*domain.ProgressEntry{
		{Index: 0, QuestionID: "open", QuestionPrompt: "What brings you here?", Answer: domain.TextAnswer("I feel anxious"), Reflection: "That sounds hard."},
		{Index: 1, QuestionID: "areas", QuestionPrompt: "Which areas?", Answer: domain.ListAnswer("work", "other"), EscapeText: "money"},
	}
}

func TestSynthesize(t *testing.T) {
	mock := llm.NewMockClient(validCompletion)
	s := setupService(t, mock)

	out, err := s.Synthesize(testContext(t), testIntake(), testTranscript())
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if out.PersonalizedBrief == "" || out.FirstSessionGuide == "" {
		t.Error("Synthesize() returned empty brief or guide")
	}
	if len(out.Experiments) < 1 {
		t.Error("Synthesize() returned no experiments")
	}
	if out.Model != "mock-model" {
		t.Errorf("Synthesize() model = %s, want mock-model", out.Model)
	}

	if mock.Calls() != 1 {
		t.Errorf("Expected exactly one generator call, got %d", mock.Calls())
	}
	req := mock.Last()
	if len(req.Schema) == 0 {
		t.Error("Expected completion schema on the request")
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	for _, want := range []string{"I feel anxious", "That sounds hard.", "Work, Other (money)", "Sample intake"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestSynthesizeEmptyTranscript(t *testing.T) {
	mock := llm.NewMockClient(validCompletion)
	s := setupService(t, mock)

	_, err := s.Synthesize(testContext(t), testIntake(), nil)
	if !errors.Is(err, domain.ErrEmptyTranscript) {
		t.Errorf("Expected ErrEmptyTranscript, got %v", err)
	}
	if mock.Calls() != 0 {
		t.Errorf("Expected no generator call, got %d", mock.Calls())
	}
}

func TestSynthesizeFailures(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{"generator error", "", errors.New("provider down")},
		{"not json", "Here is your summary!", nil},
		{"no experiments", `{"personalized_brief":"b","first_session_guide":"g","experiments":[]}`, nil},
		{"missing guide", `{"personalized_brief":"b","experiments":["x"]}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockClient(tt.response)
			mock.Error = tt.err
			s := setupService(t, mock)

			_, err := s.Synthesize(testContext(t), testIntake(), testTranscript())
			if !errors.Is(err, domain.ErrGeneration) {
				t.Errorf("Expected ErrGeneration, got %v", err)
			}
		})
	}
}

func TestSynthesizeTimeout(t *testing.T) {
	mock := llm.NewMockClient(validCompletion)
	mock.Delay = time.Second
	val, err := validator.New()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	s := NewService(mock, val, nil, 20*time.Millisecond)

	_, err = s.Synthesize(testContext(t), testIntake(), testTranscript())
	if !errors.Is(err, domain.ErrGeneration) {
		t.Errorf("Expected ErrGeneration, got %v", err)
	}
}
