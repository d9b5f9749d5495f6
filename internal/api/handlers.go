// Package api exposes the intake flow over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/export"
	"github.com/dshills/intakeflow/internal/intake"
	"github.com/dshills/intakeflow/internal/llm"
	"github.com/dshills/intakeflow/internal/logging"
	"github.com/dshills/intakeflow/internal/registry"
)

const maxBodyBytes = 64 << 10

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	proc     *intake.Processor
	registry *registry.Registry
	factory  *llm.Factory // optional, only used by GET /models
	log      *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(proc *intake.Processor, reg *registry.Registry, factory *llm.Factory, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{proc: proc, registry: reg, factory: factory, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /models", h.ListModels)

	// Intakes
	mux.HandleFunc("GET /intakes", h.ListIntakes)
	mux.HandleFunc("GET /intakes/{intakeType}", h.GetIntake)

	// Sessions
	mux.HandleFunc("POST /intakes/{intakeType}/sessions", h.StartSession)
	mux.HandleFunc("GET /intakes/{intakeType}/sessions/{sessionId}", h.GetSession)
	mux.HandleFunc("POST /intakes/{intakeType}/sessions/{sessionId}/steps", h.SubmitStep)
	mux.HandleFunc("POST /intakes/{intakeType}/sessions/{sessionId}/complete", h.Complete)
	mux.HandleFunc("GET /intakes/{intakeType}/sessions/{sessionId}/export", h.Export)
	mux.HandleFunc("POST /intakes/{intakeType}/sessions/{sessionId}/contact", h.SaveContact)
}

// Error response helpers

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err, message string) {
	writeJSON(w, status, errorResponse{Error: err, Message: message})
}

// writeDomainError maps an intake error onto its status and code.
// Unexpected errors are logged and reported without detail.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrSequence):
		writeError(w, http.StatusConflict, "sequence_error", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrEmptyTranscript):
		writeError(w, http.StatusUnprocessableEntity, "empty_transcript", err.Error())
	case errors.Is(err, domain.ErrGeneration):
		writeError(w, http.StatusBadGateway, "generation_error", "Could not generate a response, please try again")
	default:
		logging.FromContext(r.Context(), h.log).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return false
	}
	return true
}

// Views

type optionView struct {
	Value          string `json:"value"`
	Label          string `json:"label"`
	IsEscapeOption bool   `json:"isEscapeOption,omitempty"`
}

type questionView struct {
	Index   int                 `json:"index"`
	ID      string              `json:"id"`
	Prompt  string              `json:"prompt"`
	Type    domain.QuestionType `json:"type"`
	Options []optionView        `json:"options,omitempty"`
}

func newQuestionView(index int, q *domain.QuestionDefinition) *questionView {
	v := &questionView{Index: index, ID: q.ID, Prompt: q.Prompt, Type: q.Type}
	for _, o := range q.Options {
		v.Options = append(v.Options, optionView{Value: o.Value, Label: o.Label, IsEscapeOption: o.IsEscapeOption})
	}
	return v
}

type completionView struct {
	PersonalizedBrief string   `json:"personalizedBrief"`
	FirstSessionGuide string   `json:"firstSessionGuide"`
	Experiments       []string `json:"experiments"`
}

func newCompletionView(c *domain.CompletionOutput) *completionView {
	if c == nil {
		return nil
	}
	return &completionView{
		PersonalizedBrief: c.PersonalizedBrief,
		FirstSessionGuide: c.FirstSessionGuide,
		Experiments:       c.Experiments,
	}
}

// Health

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Models

type listModelsResponse struct {
	Providers       []llm.ProviderInfo `json:"providers"`
	DefaultProvider llm.Provider       `json:"default_provider"`
	DefaultModel    string             `json:"default_model"`
}

func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	if h.factory == nil {
		writeJSON(w, http.StatusOK, listModelsResponse{Providers: []llm.ProviderInfo{}})
		return
	}
	writeJSON(w, http.StatusOK, listModelsResponse{
		Providers:       h.factory.ListProviders(),
		DefaultProvider: h.factory.DefaultProvider(),
		DefaultModel:    h.factory.DefaultModel(),
	})
}

// Intakes

type intakeSummary struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	TotalSteps int    `json:"totalSteps"`
}

type listIntakesResponse struct {
	Intakes []intakeSummary `json:"intakes"`
}

func (h *Handler) ListIntakes(w http.ResponseWriter, r *http.Request) {
	types := h.registry.Types()
	resp := listIntakesResponse{Intakes: make([]intakeSummary, 0, len(types))}
	for _, t := range types {
		def, err := h.registry.Intake(t)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		resp.Intakes = append(resp.Intakes, intakeSummary{Type: def.Type, Title: def.Title, TotalSteps: len(def.Questions)})
	}
	writeJSON(w, http.StatusOK, resp)
}

type getIntakeResponse struct {
	intakeSummary
	Questions []*questionView `json:"questions"`
}

func (h *Handler) GetIntake(w http.ResponseWriter, r *http.Request) {
	def, err := h.registry.Intake(r.PathValue("intakeType"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp := getIntakeResponse{
		intakeSummary: intakeSummary{Type: def.Type, Title: def.Title, TotalSteps: len(def.Questions)},
		Questions:     make([]*questionView, len(def.Questions)),
	}
	for i := range def.Questions {
		resp.Questions[i] = newQuestionView(i, &def.Questions[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sessions

type startSessionResponse struct {
	SessionID     string        `json:"sessionId"`
	IntakeType    string        `json:"intakeType"`
	TotalSteps    int           `json:"totalSteps"`
	FirstQuestion *questionView `json:"firstQuestion"`
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	intakeType := r.PathValue("intakeType")
	session, err := h.proc.Start(r.Context(), intakeType)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	first, err := h.registry.GetByIndex(intakeType, 0)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	total, _ := h.registry.TotalSteps(intakeType)
	writeJSON(w, http.StatusCreated, startSessionResponse{
		SessionID:     session.ID,
		IntakeType:    intakeType,
		TotalSteps:    total,
		FirstQuestion: newQuestionView(0, first),
	})
}

type entryView struct {
	Index      int           `json:"index"`
	QuestionID string        `json:"questionId"`
	Prompt     string        `json:"prompt"`
	Answer     domain.Answer `json:"answer"`
	OtherText  string        `json:"otherText,omitempty"`
	Reflection string        `json:"reflection"`
}

type sessionResponse struct {
	SessionID    string          `json:"sessionId"`
	IntakeType   string          `json:"intakeType"`
	TotalSteps   int             `json:"totalSteps"`
	Entries      []entryView     `json:"entries"`
	NextQuestion *questionView   `json:"nextQuestion,omitempty"`
	IsComplete   bool            `json:"isComplete"`
	Completion   *completionView `json:"completion,omitempty"`
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.proc.Current(r.Context(), r.PathValue("intakeType"), r.PathValue("sessionId"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := sessionResponse{
		SessionID:  state.Session.ID,
		IntakeType: state.Session.IntakeType,
		TotalSteps: state.TotalSteps,
		Entries:    make([]entryView, 0, len(state.Entries)),
		IsComplete: state.Answered(),
		Completion: newCompletionView(state.Completion),
	}
	for _, e := range state.Entries {
		resp.Entries = append(resp.Entries, entryView{
			Index:      e.Index,
			QuestionID: e.QuestionID,
			Prompt:     e.QuestionPrompt,
			Answer:     e.Answer,
			OtherText:  e.EscapeText,
			Reflection: e.Reflection,
		})
	}
	if state.Next != nil {
		resp.NextQuestion = newQuestionView(len(state.Entries), state.Next)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Steps

type stepRequest struct {
	QuestionIndex *int           `json:"questionIndex"`
	CurrentAnswer *domain.Answer `json:"currentAnswer"`
	OtherText     string         `json:"otherText,omitempty"`
}

type stepResponse struct {
	NextQuestion *questionView `json:"nextQuestion,omitempty"`
	Reflection   string        `json:"reflection,omitempty"`
	IsComplete   bool          `json:"isComplete"`
}

func (h *Handler) SubmitStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.QuestionIndex == nil {
		writeError(w, http.StatusBadRequest, "validation_error", "questionIndex is required")
		return
	}
	if req.CurrentAnswer == nil {
		writeError(w, http.StatusBadRequest, "validation_error", "currentAnswer is required")
		return
	}

	answer := *req.CurrentAnswer
	answer.Other = req.OtherText

	result, err := h.proc.Submit(r.Context(), intake.StepRequest{
		IntakeType:    r.PathValue("intakeType"),
		SessionID:     r.PathValue("sessionId"),
		QuestionIndex: *req.QuestionIndex,
		Answer:        answer,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := stepResponse{Reflection: result.Reflection, IsComplete: result.Complete}
	if result.Next != nil {
		resp.NextQuestion = newQuestionView(result.Index+1, result.Next)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Completion

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	out, err := h.proc.Complete(r.Context(), r.PathValue("intakeType"), r.PathValue("sessionId"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCompletionView(out))
}

// Export

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	intakeType := r.PathValue("intakeType")
	state, err := h.proc.Current(r.Context(), intakeType, r.PathValue("sessionId"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	def, err := h.registry.Intake(intakeType)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	input := export.Input{
		Intake:     def,
		Session:    state.Session,
		Entries:    state.Entries,
		Completion: state.Completion,
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(export.RenderMarkdown(input))
	case "zip":
		bundle, err := export.Generate(input)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		var buf bytes.Buffer
		if err := export.WriteZip(bundle, &buf); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		filename := fmt.Sprintf("%s-%s.zip", sanitizeFilename(def.Type), sanitizeFilename(shortID(state.Session.ID)))
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		_, _ = w.Write(buf.Bytes())
	default:
		writeError(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("unsupported format %q", format))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sanitizeFilename(name string) string {
	var safe []rune
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			safe = append(safe, r)
		case r == ' ':
			safe = append(safe, '-')
		}
	}
	if len(safe) == 0 {
		return "intake"
	}
	return string(safe)
}

// Contact

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Consent bool   `json:"consent"`
}

func (h *Handler) SaveContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	record, err := h.proc.SaveContact(r.Context(), r.PathValue("intakeType"), r.PathValue("sessionId"), domain.ContactRecord{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Consent: req.Consent,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}
