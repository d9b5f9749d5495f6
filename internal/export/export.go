// Package export renders a session transcript as Markdown and as a zip bundle.
package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/reflection"
)

// Input holds what is exported for one session.
type Input struct {
	Intake     *domain.IntakeDefinition
	Session    *domain.Session
	Entries    []*domain.ProgressEntry
	Completion *domain.CompletionOutput // nil until completed
}

// Bundle holds the files of an export.
type Bundle struct {
	TranscriptMD   []byte
	TranscriptJSON []byte
	CompletionJSON []byte // empty when the session is not completed
}

type transcriptDoc struct {
	IntakeType string                  `json:"intake_type"`
	Title      string                  `json:"title"`
	SessionID  string                  `json:"session_id"`
	StartedAt  time.Time               `json:"started_at"`
	TotalSteps int                     `json:"total_steps"`
	Entries    []*domain.ProgressEntry `json:"entries"`
}

// Generate builds all export files.
func Generate(input Input) (*Bundle, error) {
	entries := input.Entries
	if entries == nil {
		entries = []*domain.ProgressEntry{}
	}

	transcriptJSON, err := json.MarshalIndent(transcriptDoc{
		IntakeType: input.Intake.Type,
		Title:      input.Intake.Title,
		SessionID:  input.Session.ID,
		StartedAt:  input.Session.CreatedAt,
		TotalSteps: len(input.Intake.Questions),
		Entries:    entries,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}

	b := &Bundle{
		TranscriptMD:   RenderMarkdown(input),
		TranscriptJSON: transcriptJSON,
	}
	if input.Completion != nil {
		b.CompletionJSON, err = json.MarshalIndent(input.Completion, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal completion: %w", err)
		}
	}
	return b, nil
}

// WriteZip writes the bundle to a zip archive in a fixed file order.
func WriteZip(b *Bundle, w io.Writer) error {
	zw := zip.NewWriter(w)

	files := []struct {
		name string
		data []byte
	}{
		{"transcript.md", b.TranscriptMD},
		{"transcript.json", b.TranscriptJSON},
		{"completion.json", b.CompletionJSON},
	}

	for _, f := range files {
		if len(f.data) == 0 {
			continue
		}
		fw, err := zw.Create(f.name)
		if err != nil {
			return fmt.Errorf("create %s: %w", f.name, err)
		}
		if _, err := fw.Write(f.data); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}

	return zw.Close()
}

// RenderMarkdown renders the transcript, followed by the completion when present.
func RenderMarkdown(input Input) []byte {
	var buf bytes.Buffer
	def := input.Intake

	fmt.Fprintf(&buf, "# %s\n\n", def.Title)
	fmt.Fprintf(&buf, "- Session: `%s`\n", input.Session.ID)
	fmt.Fprintf(&buf, "- Started: %s\n", input.Session.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&buf, "- Answered: %d of %d\n\n", len(input.Entries), len(def.Questions))

	byID := make(map[string]*domain.QuestionDefinition, len(def.Questions))
	for i := range def.Questions {
		byID[def.Questions[i].ID] = &def.Questions[i]
	}

	for _, e := range input.Entries {
		fmt.Fprintf(&buf, "## %d. %s\n\n", e.Index+1, e.QuestionPrompt)

		answer := e.Answer
		answer.Other = e.EscapeText
		q, ok := byID[e.QuestionID]
		if !ok {
			q = &domain.QuestionDefinition{ID: e.QuestionID}
		}
		if answer.IsList() {
			for _, label := range q.Labels(answer.Values) {
				fmt.Fprintf(&buf, "- %s\n", label)
			}
			if answer.Other != "" {
				fmt.Fprintf(&buf, "- _%s_\n", answer.Other)
			}
			buf.WriteString("\n")
		} else {
			fmt.Fprintf(&buf, "%s\n\n", reflection.AnswerText(q, answer))
		}

		if e.Reflection != "" {
			for _, line := range strings.Split(e.Reflection, "\n") {
				fmt.Fprintf(&buf, "> %s\n", line)
			}
			buf.WriteString("\n")
		}
	}

	if c := input.Completion; c != nil {
		buf.WriteString("---\n\n")
		buf.WriteString("## Your brief\n\n")
		fmt.Fprintf(&buf, "%s\n\n", strings.TrimSpace(c.PersonalizedBrief))
		buf.WriteString("## Your first session\n\n")
		fmt.Fprintf(&buf, "%s\n\n", strings.TrimSpace(c.FirstSessionGuide))
		buf.WriteString("## Things you could try\n\n")
		for _, ex := range c.Experiments {
			fmt.Fprintf(&buf, "- %s\n", ex)
		}
	}

	return buf.Bytes()
}
