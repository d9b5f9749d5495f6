package llm

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed prompts/v1/*.txt
var promptsFS embed.FS

// PromptVersion represents a prompt version.
type PromptVersion string

const (
	PromptVersionV1 PromptVersion = "v1"
)

// Prompt roles shipped with the binary.
const (
	RoleReflectionSystem = "reflection_system"
	RoleReflection       = "reflection"
	RoleCompletionSystem = "completion_system"
	RoleCompletion       = "completion"
)

// PromptTemplate holds a loaded prompt template.
type PromptTemplate struct {
	Version  PromptVersion
	Role     string
	Template string
}

// LoadPrompt loads a prompt template by role and version.
func LoadPrompt(role string, version PromptVersion) (*PromptTemplate, error) {
	filename := fmt.Sprintf("prompts/%s/%s.txt", version, role)
	data, err := promptsFS.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("load prompt %s/%s: %w", version, role, err)
	}
	return &PromptTemplate{
		Version:  version,
		Role:     role,
		Template: string(data),
	}, nil
}

// MustLoadPrompt is LoadPrompt for templates embedded at build time.
func MustLoadPrompt(role string, version PromptVersion) *PromptTemplate {
	p, err := LoadPrompt(role, version)
	if err != nil {
		panic(err)
	}
	return p
}

// Render renders the template with the given variables.
// Unset placeholders render as empty strings.
func (p *PromptTemplate) Render(vars map[string]string) string {
	result := p.Template
	for k, v := range vars {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}
	for {
		start := strings.Index(result, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end < 0 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return strings.TrimSpace(result)
}
