package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrInvalidConfig indicates a behavior-config blob failed to parse or
	// validate. The previous snapshot stays in effect when this is returned.
	ErrInvalidConfig = errors.New("invalid behavior configuration")

	// ErrSourceUnavailable indicates a reload source could not be reached.
	ErrSourceUnavailable = errors.New("configuration source unavailable")
)

// Query template names the pipeline depends on. A prompt config missing
// any of these is rejected at load time.
const (
	TemplateTopicInference   = "rag_topic_inference"
	TemplateTopicFallback    = "fallback_topic_resolver"
	TemplateFinalAnswer      = "rag_final_answer"
	TemplateGeneralLLM       = "general_llm"
	ResponseClarification    = "clarification"
	ResponseGenerationFailed = "generation_failure"
	ResponseCount            = "count_response"
)

// Intent describes a keyword-matchable user intent. Action names either a
// response template (direct answer) or a pipeline route.
type Intent struct {
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Action      string   `json:"action"`
}

// Intent actions understood by the orchestrator.
const (
	ActionRAG      = "call_rag_tool"
	ActionLLM      = "general_llm_call"
	ActionTemplate = "template_response"
)

// PromptConfig holds the reloadable prompt templates and intent table.
// Instances are immutable after load; reload builds a fresh one.
type PromptConfig struct {
	Intents           map[string]Intent `json:"intents"`
	CorePrompts       map[string]string `json:"core_prompts"`
	QueryTemplates    map[string]string `json:"query_templates"`
	ResponseTemplates map[string]string `json:"response_templates"`
}

// Index describes a searchable document collection.
type Index struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// IndexSchema is the set of indexes topic resolution can target.
type IndexSchema []Index

// Contains reports whether the schema has an index with the given name.
// Matching is case-insensitive; resolver output is lowercased.
func (s IndexSchema) Contains(name string) bool {
	for _, idx := range s {
		if strings.EqualFold(idx.Name, name) {
			return true
		}
	}
	return false
}

// Names returns the index names in schema order.
func (s IndexSchema) Names() []string {
	names := make([]string, len(s))
	for i, idx := range s {
		names[i] = idx.Name
	}
	return names
}

// ParsePromptConfig parses and validates a prompt-config JSON blob.
// Any failure wraps ErrInvalidConfig so callers can keep the old snapshot.
func ParsePromptConfig(data []byte) (*PromptConfig, error) {
	var pc PromptConfig
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("%w: parsing prompt config: %v", ErrInvalidConfig, err)
	}
	if err := pc.validate(); err != nil {
		return nil, err
	}
	return &pc, nil
}

// LoadPromptConfig reads and parses a prompt-config file.
func LoadPromptConfig(path string) (*PromptConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrSourceUnavailable, path, err)
	}
	return ParsePromptConfig(data)
}

// ParseIndexSchema parses an index-schema JSON blob.
func ParseIndexSchema(data []byte) (IndexSchema, error) {
	var schema IndexSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("%w: parsing index schema: %v", ErrInvalidConfig, err)
	}
	for i, idx := range schema {
		if strings.TrimSpace(idx.Name) == "" {
			return nil, fmt.Errorf("%w: index %d has empty name", ErrInvalidConfig, i)
		}
	}
	return schema, nil
}

// LoadIndexSchema reads and parses an index-schema file.
func LoadIndexSchema(path string) (IndexSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrSourceUnavailable, path, err)
	}
	return ParseIndexSchema(data)
}

func (pc *PromptConfig) validate() error {
	required := []string{
		TemplateTopicInference,
		TemplateTopicFallback,
		TemplateFinalAnswer,
		TemplateGeneralLLM,
	}
	for _, name := range required {
		if strings.TrimSpace(pc.QueryTemplates[name]) == "" {
			return fmt.Errorf("%w: missing query template %q", ErrInvalidConfig, name)
		}
	}
	for name, intent := range pc.Intents {
		if len(intent.Keywords) == 0 {
			return fmt.Errorf("%w: intent %q has no keywords", ErrInvalidConfig, name)
		}
	}
	return nil
}

// QueryTemplate returns the named query template.
func (pc *PromptConfig) QueryTemplate(name string) (string, bool) {
	t, ok := pc.QueryTemplates[name]
	return t, ok
}

// ResponseTemplate returns the named response template, falling back to
// a generic message so a sparse config never leaves the user answerless.
func (pc *PromptConfig) ResponseTemplate(name string) string {
	if t, ok := pc.ResponseTemplates[name]; ok && t != "" {
		return t
	}
	switch name {
	case ResponseClarification:
		return "I couldn't work out which topic your question is about. Could you rephrase it?"
	case ResponseGenerationFailed:
		return "Sorry, I wasn't able to produce an answer right now. Please try again."
	case ResponseCount:
		return "The {index} index contains {count} documents."
	default:
		return "Sorry, I can't help with that right now."
	}
}

// RenderTemplate substitutes {placeholder} markers in a template. Unknown
// placeholders are left as-is, matching lenient prompt authoring.
func RenderTemplate(template string, vars map[string]string) string {
	out := template
	for key, val := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", val)
	}
	return out
}
