package prompt

import (
	"errors"
	"testing"

	"github.com/arborly/scoutline/internal/perrors"
)

func TestRender_Substitutes(t *testing.T) {
	s := NewStore(map[string]string{
		"greet": "Hello {{name}}, you asked: {{query}}",
	})
	got, err := s.Render("greet", map[string]string{"name": "Ada", "query": "what is Go"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "Hello Ada, you asked: what is Go"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRender_PreservesLiteralBracesInValues(t *testing.T) {
	s := NewStore(map[string]string{
		"echo": "Value: {{v}}",
	})
	got, err := s.Render("echo", map[string]string{"v": "{{not_a_placeholder}}"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "Value: {{not_a_placeholder}}"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRender_UnknownTemplate(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Render("missing", nil)
	if !errors.Is(err, perrors.ErrPromptMissing) {
		t.Errorf("expected ErrPromptMissing, got %v", err)
	}
}

func TestRender_UnboundPlaceholder(t *testing.T) {
	s := NewStore(map[string]string{"t": "Hi {{name}}"})
	_, err := s.Render("t", map[string]string{})
	if !errors.Is(err, perrors.ErrPromptPlaceholderMissing) {
		t.Errorf("expected ErrPromptPlaceholderMissing, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/prompts.yaml"); err == nil {
		t.Error("expected error loading missing file")
	}
}
