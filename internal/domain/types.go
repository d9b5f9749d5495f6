package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QuestionType represents the input type of a question.
type QuestionType string

const (
	QuestionTypeFreeText     QuestionType = "free_text"
	QuestionTypeSingleSelect QuestionType = "single_select"
	QuestionTypeMultiSelect  QuestionType = "multi_select"
)

// IsSelect reports whether the type carries an option set.
func (t QuestionType) IsSelect() bool {
	return t == QuestionTypeSingleSelect || t == QuestionTypeMultiSelect
}

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	return t == QuestionTypeFreeText || t.IsSelect()
}

// ReflectionKind records how the reflection of an entry was produced.
type ReflectionKind string

const (
	ReflectionKindSkip     ReflectionKind = "skip"
	ReflectionKindTemplate ReflectionKind = "template"
	ReflectionKindGenerate ReflectionKind = "generate"
)

// Option is one choice of a select question.
// Value is the only persisted representation; Label is display-only.
type Option struct {
	Value          string `json:"value" yaml:"value"`
	Label          string `json:"label" yaml:"label"`
	IsEscapeOption bool   `json:"is_escape_option,omitempty" yaml:"escape,omitempty"`
}

// QuestionDefinition is one static question of an intake.
type QuestionDefinition struct {
	ID      string       `json:"id" yaml:"id"`
	Order   int          `json:"order" yaml:"order"`
	Prompt  string       `json:"prompt" yaml:"prompt"`
	Type    QuestionType `json:"type" yaml:"type"`
	Options []Option     `json:"options,omitempty" yaml:"options,omitempty"`
}

// Option returns the option with the given value.
func (q *QuestionDefinition) Option(value string) (Option, bool) {
	for _, o := range q.Options {
		if o.Value == value {
			return o, true
		}
	}
	return Option{}, false
}

// Labels maps option values to their display labels, keeping unknown values as-is.
func (q *QuestionDefinition) Labels(values []string) []string {
	labels := make([]string, len(values))
	for i, v := range values {
		if o, ok := q.Option(v); ok {
			labels[i] = o.Label
		} else {
			labels[i] = v
		}
	}
	return labels
}

// TemplateTier maps a selection count range to a hand-authored response.
// Max of zero means unbounded.
type TemplateTier struct {
	Min      int    `json:"min" yaml:"min"`
	Max      int    `json:"max,omitempty" yaml:"max,omitempty"`
	Response string `json:"response" yaml:"response"`
}

// Contains reports whether count falls inside the tier.
func (t TemplateTier) Contains(count int) bool {
	if count < t.Min {
		return false
	}
	return t.Max == 0 || count <= t.Max
}

// TemplateTable is the deterministic reflection rule table owned by one question.
type TemplateTable struct {
	NoneValue    string         `json:"none_value,omitempty" yaml:"none_value,omitempty"`
	NoneResponse string         `json:"none_response,omitempty" yaml:"none_response,omitempty"`
	Tiers        []TemplateTier `json:"tiers" yaml:"tiers"`
}

// IntakeDefinition is an ordered questionnaire plus its reflection tables.
// It is immutable after load and shared by all sessions.
type IntakeDefinition struct {
	Type            string                   `json:"type"`
	Title           string                   `json:"title"`
	Acknowledgment  string                   `json:"acknowledgment"`
	Questions       []QuestionDefinition     `json:"questions"`
	SkipReflection  map[string]bool          `json:"skip_reflection,omitempty"`
	Templates       map[string]TemplateTable `json:"templates,omitempty"`
	ReflectionGuide string                   `json:"reflection_guide,omitempty"`
	CompletionGuide string                   `json:"completion_guide,omitempty"`
}

// Answer is a submitted answer: a single string or an ordered list of option values.
// Other carries the free-text payload that accompanies an escape option.
type Answer struct {
	Text   string
	Values []string
	Other  string
}

// TextAnswer builds a single-string answer.
func TextAnswer(text string) Answer { return Answer{Text: text} }

// ListAnswer builds a list answer.
func ListAnswer(values ...string) Answer {
	if values == nil {
		values = []string{}
	}
	return Answer{Values: values}
}

// IsList reports whether the answer was given in list form.
func (a Answer) IsList() bool { return a.Values != nil }

// MarshalJSON encodes the answer as a JSON string or array. Other is not part of the encoding.
func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Values != nil {
		return json.Marshal(a.Values)
	}
	return json.Marshal(a.Text)
}

// UnmarshalJSON accepts either a JSON string or an array of strings.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Answer{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Answer{Text: s}
		return nil
	case '[':
		var vs []string
		if err := json.Unmarshal(data, &vs); err != nil {
			return err
		}
		if vs == nil {
			vs = []string{}
		}
		*a = Answer{Values: vs}
		return nil
	}
	return fmt.Errorf("%w: answer must be a string or a list of strings", ErrValidation)
}

// Session is one run through an intake. Progress is derived from its entries.
type Session struct {
	ID         string    `json:"id"`
	IntakeType string    `json:"intake_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProgressEntry is one answered question. Immutable once appended.
type ProgressEntry struct {
	ID             uuid.UUID      `json:"id"`
	SessionID      string         `json:"session_id"`
	Index          int            `json:"index"`
	QuestionID     string         `json:"question_id"`
	QuestionPrompt string         `json:"question_prompt"` // snapshot at answer time
	Answer         Answer         `json:"answer"`
	EscapeText     string         `json:"escape_text,omitempty"`
	Reflection     string         `json:"reflection"`
	ReflectionKind ReflectionKind `json:"reflection_kind"`
	CreatedAt      time.Time      `json:"created_at"`
}

// CompletionOutput holds the synthesized end-of-intake artifacts. Written once per session.
type CompletionOutput struct {
	PersonalizedBrief string    `json:"personalized_brief"`
	FirstSessionGuide string    `json:"first_session_guide"`
	Experiments       []string  `json:"experiments"`
	Model             string    `json:"model,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ContactRecord is the optional contact detail a user leaves at the end of an intake.
type ContactRecord struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Consent   bool      `json:"consent"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage is generation telemetry. It is passed through and logged, never interpreted.
type Usage struct {
	PromptUnits     int `json:"prompt_units"`
	CompletionUnits int `json:"completion_units"`
	TotalUnits      int `json:"total_units"`
}
