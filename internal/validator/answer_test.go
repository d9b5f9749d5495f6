package validator

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/intakeflow/internal/domain"
)

func areasQuestion() *domain.QuestionDefinition {
	return &domain.QuestionDefinition{
		ID:     "life_areas",
		Order:  2,
		Prompt: "Which parts of life feel most affected?",
		Type:   domain.QuestionTypeMultiSelect,
		Options: []domain.Option{
			{Value: "work", Label: "Work"},
			{Value: "stress", Label: "Stress"},
			{Value: "mood", Label: "Mood or motivation"},
			{Value: "something_else", Label: "Something else", IsEscapeOption: true},
		},
	}
}

func styleQuestion() *domain.QuestionDefinition {
	return &domain.QuestionDefinition{
		ID:     "style",
		Order:  3,
		Prompt: "What style suits you?",
		Type:   domain.QuestionTypeSingleSelect,
		Options: []domain.Option{
			{Value: "gentle", Label: "Gentle"},
			{Value: "direct", Label: "Direct"},
		},
	}
}

func textQuestion() *domain.QuestionDefinition {
	return &domain.QuestionDefinition{
		ID:     "what_brings_you",
		Order:  1,
		Prompt: "What brings you here?",
		Type:   domain.QuestionTypeFreeText,
	}
}

func TestValidateAnswer(t *testing.T) {
	tests := []struct {
		name    string
		q       *domain.QuestionDefinition
		raw     domain.Answer
		want    domain.Answer
		wantErr bool
	}{
		{
			name: "free text trimmed",
			q:    textQuestion(),
			raw:  domain.TextAnswer("  I feel anxious \n"),
			want: domain.TextAnswer("I feel anxious"),
		},
		{
			name:    "free text empty",
			q:       textQuestion(),
			raw:     domain.TextAnswer(""),
			wantErr: true,
		},
		{
			name:    "free text whitespace only",
			q:       textQuestion(),
			raw:     domain.TextAnswer(" \t "),
			wantErr: true,
		},
		{
			name:    "free text given as list",
			q:       textQuestion(),
			raw:     domain.ListAnswer("work"),
			wantErr: true,
		},
		{
			name: "multi select known values",
			q:    areasQuestion(),
			raw:  domain.ListAnswer("work", "stress"),
			want: domain.ListAnswer("work", "stress"),
		},
		{
			name:    "multi select empty list",
			q:       areasQuestion(),
			raw:     domain.ListAnswer(),
			wantErr: true,
		},
		{
			name:    "multi select unknown value",
			q:       areasQuestion(),
			raw:     domain.ListAnswer("work", "money"),
			wantErr: true,
		},
		{
			name:    "multi select label instead of value",
			q:       areasQuestion(),
			raw:     domain.ListAnswer("Work"),
			wantErr: true,
		},
		{
			name:    "multi select duplicate",
			q:       areasQuestion(),
			raw:     domain.ListAnswer("work", "work"),
			wantErr: true,
		},
		{
			name: "escape with text",
			q:    areasQuestion(),
			raw:  domain.Answer{Values: []string{"something_else"}, Other: " money worries "},
			want: domain.Answer{Values: []string{"something_else"}, Other: "money worries"},
		},
		{
			name:    "escape without text",
			q:       areasQuestion(),
			raw:     domain.ListAnswer("work", "something_else"),
			wantErr: true,
		},
		{
			name: "other text dropped without escape",
			q:    areasQuestion(),
			raw:  domain.Answer{Values: []string{"mood"}, Other: "ignored"},
			want: domain.ListAnswer("mood"),
		},
		{
			name: "single select as string",
			q:    styleQuestion(),
			raw:  domain.TextAnswer("gentle"),
			want: domain.ListAnswer("gentle"),
		},
		{
			name: "single select as one item list",
			q:    styleQuestion(),
			raw:  domain.ListAnswer("direct"),
			want: domain.ListAnswer("direct"),
		},
		{
			name:    "single select two values",
			q:       styleQuestion(),
			raw:     domain.ListAnswer("gentle", "direct"),
			wantErr: true,
		},
		{
			name:    "single select empty string",
			q:       styleQuestion(),
			raw:     domain.TextAnswer(""),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAnswer(tt.q, tt.raw)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("Expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateAnswer failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("canonical answer mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
