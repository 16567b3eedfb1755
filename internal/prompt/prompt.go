// Package prompt implements the Prompt Store (spec §4.4): a mapping of
// name to template, loaded from an external YAML file, with placeholder
// substitution. It generalizes the teacher's internal/template.Profile
// records — compiled-in report profiles keyed by report type — into
// externally loaded named templates keyed by an arbitrary string, using
// gopkg.in/yaml.v3, already a teacher dependency (internal/app/config_file.go).
package prompt

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arborly/scoutline/internal/perrors"
)

// Store holds named templates loaded from a YAML file of the form:
//
//	expand_query: "Propose {{num_queries}} search sub-queries."
//	expand_query_user: "Query: {{query}}"
type Store struct {
	templates map[string]string
}

// Load reads a YAML document mapping template name to template body.
func Load(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompt: read %s: %w", path, err)
	}
	raw := make(map[string]string)
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("prompt: parse %s: %w", path, err)
	}
	return &Store{templates: raw}, nil
}

// NewStore builds a Store directly from an in-memory map, useful for
// tests and for callers that embed defaults rather than loading a file.
func NewStore(templates map[string]string) *Store {
	clone := make(map[string]string, len(templates))
	for k, v := range templates {
		clone[k] = v
	}
	return &Store{templates: clone}
}

const (
	placeholderOpen  = "{{"
	placeholderClose = "}}"
	// escapedOpen/escapedClose stand in for literal "{{"/"}}" that appear
	// inside substituted values, so a value containing braces is never
	// mistaken for a placeholder after substitution.
	escapedOpen  = "\x00OPEN\x00"
	escapedClose = "\x00CLOSE\x00"
)

// Render looks up name and substitutes {{key}} placeholders from vars.
// Literal "{{"/"}}" occurring inside vars values are preserved verbatim:
// they are escaped before substitution and restored afterward, so a
// value can never be reinterpreted as introducing a new placeholder.
func (s *Store) Render(name string, vars map[string]string) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt %q: %w", name, perrors.ErrPromptMissing)
	}

	out := tmpl
	for {
		start := strings.Index(out, placeholderOpen)
		if start == -1 {
			break
		}
		end := strings.Index(out[start:], placeholderClose)
		if end == -1 {
			break
		}
		end += start
		key := strings.TrimSpace(out[start+len(placeholderOpen) : end])
		val, ok := vars[key]
		if !ok {
			return "", fmt.Errorf("prompt %q placeholder %q: %w", name, key, perrors.ErrPromptPlaceholderMissing)
		}
		escaped := strings.NewReplacer(placeholderOpen, escapedOpen, placeholderClose, escapedClose).Replace(val)
		out = out[:start] + escaped + out[end+len(placeholderClose):]
	}

	out = strings.NewReplacer(escapedOpen, placeholderOpen, escapedClose, placeholderClose).Replace(out)
	return out, nil
}

// Names returns the loaded template names, primarily for diagnostics.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.templates))
	for n := range s.templates {
		names = append(names, n)
	}
	return names
}
