// Package registry holds the static intake definitions: ordered questions,
// option sets and reflection tables. Definitions are immutable after load and
// safe to share across goroutines without locking.
package registry

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/reflection"
)

//go:embed intakes/*.yaml
var intakesFS embed.FS

// DefaultAcknowledgment is emitted for skipped reflections when an intake sets none.
const DefaultAcknowledgment = "Thank you for sharing that."

var vocabulary = regexp.MustCompile(`^[a-z0-9_]+$`)

// Registry is a read-only lookup of intake definitions by type.
type Registry struct {
	intakes map[string]*domain.IntakeDefinition
	types   []string
}

// New builds a registry from already-parsed definitions. Each definition is
// checked and its questions sorted by order.
func New(defs ...*domain.IntakeDefinition) (*Registry, error) {
	r := &Registry{intakes: make(map[string]*domain.IntakeDefinition, len(defs))}
	for _, def := range defs {
		if def == nil {
			continue
		}
		if _, dup := r.intakes[def.Type]; dup {
			return nil, fmt.Errorf("%w: duplicate intake type %q", domain.ErrConfiguration, def.Type)
		}
		if err := normalize(def); err != nil {
			return nil, err
		}
		r.intakes[def.Type] = def
		r.types = append(r.types, def.Type)
	}
	sort.Strings(r.types)
	return r, nil
}

// LoadDefault loads the intake definitions embedded in the binary.
func LoadDefault() (*Registry, error) {
	defs, err := parseFS(intakesFS, "intakes")
	if err != nil {
		return nil, err
	}
	return New(defs...)
}

// Load loads the embedded definitions plus every *.yaml file in dir.
// An empty dir loads the embedded set only.
func Load(dir string) (*Registry, error) {
	defs, err := parseFS(intakesFS, "intakes")
	if err != nil {
		return nil, err
	}
	if dir != "" {
		extra, err := parseFS(os.DirFS(dir), ".")
		if err != nil {
			return nil, err
		}
		defs = append(defs, extra...)
	}
	return New(defs...)
}

func parseFS(fsys fs.FS, dir string) ([]*domain.IntakeDefinition, error) {
	matches, err := fs.Glob(fsys, filepath.ToSlash(filepath.Join(dir, "*.yaml")))
	if err != nil {
		return nil, fmt.Errorf("list intake definitions: %w", err)
	}
	sort.Strings(matches)

	defs := make([]*domain.IntakeDefinition, 0, len(matches))
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		def, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// yamlIntake is the on-disk layout of an intake definition.
type yamlIntake struct {
	Type            string                      `yaml:"type"`
	Title           string                      `yaml:"title"`
	Acknowledgment  string                      `yaml:"acknowledgment"`
	ReflectionGuide string                      `yaml:"reflection_guide"`
	CompletionGuide string                      `yaml:"completion_guide"`
	Questions       []domain.QuestionDefinition `yaml:"questions"`
	Reflection      struct {
		Skip      []string                        `yaml:"skip"`
		Templates map[string]domain.TemplateTable `yaml:"templates"`
	} `yaml:"reflection"`
}

// ParseYAML decodes one intake definition. It does not check it; New does.
func ParseYAML(data []byte) (*domain.IntakeDefinition, error) {
	var raw yamlIntake
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse intake definition: %v", domain.ErrConfiguration, err)
	}

	def := &domain.IntakeDefinition{
		Type:            raw.Type,
		Title:           raw.Title,
		Acknowledgment:  strings.TrimSpace(raw.Acknowledgment),
		Questions:       raw.Questions,
		Templates:       raw.Reflection.Templates,
		ReflectionGuide: strings.TrimSpace(raw.ReflectionGuide),
		CompletionGuide: strings.TrimSpace(raw.CompletionGuide),
	}
	if len(raw.Reflection.Skip) > 0 {
		def.SkipReflection = make(map[string]bool, len(raw.Reflection.Skip))
		for _, id := range raw.Reflection.Skip {
			if def.SkipReflection[id] {
				return nil, fmt.Errorf("%w: intake %s: question %q listed twice in skip set", domain.ErrConfiguration, raw.Type, id)
			}
			def.SkipReflection[id] = true
		}
	}
	return def, nil
}

// normalize checks def and sorts its questions by order.
func normalize(def *domain.IntakeDefinition) error {
	if !vocabulary.MatchString(def.Type) {
		return fmt.Errorf("%w: invalid intake type %q", domain.ErrConfiguration, def.Type)
	}
	if len(def.Questions) == 0 {
		return fmt.Errorf("%w: intake %s has no questions", domain.ErrConfiguration, def.Type)
	}
	if def.Acknowledgment == "" {
		def.Acknowledgment = DefaultAcknowledgment
	}
	if def.Title == "" {
		def.Title = def.Type
	}

	ids := make(map[string]bool, len(def.Questions))
	orders := make(map[int]string, len(def.Questions))
	for i := range def.Questions {
		q := &def.Questions[i]
		if !vocabulary.MatchString(q.ID) {
			return fmt.Errorf("%w: intake %s: invalid question id %q", domain.ErrConfiguration, def.Type, q.ID)
		}
		if ids[q.ID] {
			return fmt.Errorf("%w: intake %s: duplicate question id %q", domain.ErrConfiguration, def.Type, q.ID)
		}
		ids[q.ID] = true
		if other, dup := orders[q.Order]; dup {
			return fmt.Errorf("%w: intake %s: questions %q and %q share order %d", domain.ErrConfiguration, def.Type, other, q.ID, q.Order)
		}
		orders[q.Order] = q.ID
		if strings.TrimSpace(q.Prompt) == "" {
			return fmt.Errorf("%w: intake %s: question %q has no prompt", domain.ErrConfiguration, def.Type, q.ID)
		}
		if err := checkOptions(q); err != nil {
			return fmt.Errorf("%w: intake %s: question %q: %v", domain.ErrConfiguration, def.Type, q.ID, err)
		}
	}

	slices.SortFunc(def.Questions, func(a, b domain.QuestionDefinition) int {
		return a.Order - b.Order
	})

	return reflection.CheckTables(def)
}

func checkOptions(q *domain.QuestionDefinition) error {
	if !q.Type.Valid() {
		return fmt.Errorf("unknown type %q", q.Type)
	}
	if !q.Type.IsSelect() {
		if len(q.Options) > 0 {
			return fmt.Errorf("%s question cannot have options", q.Type)
		}
		return nil
	}
	if len(q.Options) == 0 {
		return fmt.Errorf("%s question needs options", q.Type)
	}
	seen := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		if !vocabulary.MatchString(o.Value) {
			return fmt.Errorf("option value %q must match %s", o.Value, vocabulary)
		}
		if seen[o.Value] {
			return fmt.Errorf("duplicate option value %q", o.Value)
		}
		seen[o.Value] = true
		if o.Label == "" {
			return fmt.Errorf("option %q has no label", o.Value)
		}
	}
	return nil
}

// Types returns the registered intake types in sorted order.
func (r *Registry) Types() []string {
	return slices.Clone(r.types)
}

// Intake returns the definition for intakeType.
func (r *Registry) Intake(intakeType string) (*domain.IntakeDefinition, error) {
	def, ok := r.intakes[intakeType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownIntakeType, intakeType)
	}
	return def, nil
}

// GetByIndex returns the question at the zero-based index of the intake.
func (r *Registry) GetByIndex(intakeType string, index int) (*domain.QuestionDefinition, error) {
	def, err := r.Intake(intakeType)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(def.Questions) {
		return nil, fmt.Errorf("%w: question index %d of intake %s", domain.ErrNotFound, index, intakeType)
	}
	return &def.Questions[index], nil
}

// GetAll returns the questions of the intake in order. The slice is shared; do not modify it.
func (r *Registry) GetAll(intakeType string) ([]domain.QuestionDefinition, error) {
	def, err := r.Intake(intakeType)
	if err != nil {
		return nil, err
	}
	return def.Questions, nil
}

// TotalSteps returns the number of questions of the intake.
func (r *Registry) TotalSteps(intakeType string) (int, error) {
	def, err := r.Intake(intakeType)
	if err != nil {
		return 0, err
	}
	return len(def.Questions), nil
}
