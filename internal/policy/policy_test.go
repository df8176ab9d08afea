package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/iago/manga-creator-back/internal/domain"
)

func TestCheckScriptAcceptsValidInput(t *testing.T) {
	style, err := CheckScript(DefaultLimits(), "Chapter 1", "[SCENE: Dojo - Dawn]", "")
	if err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}
	if style != domain.StyleShounen {
		t.Fatalf("expected default style, got %q", style)
	}
}

func TestCheckScriptCollectsViolations(t *testing.T) {
	_, err := CheckScript(Limits{MaxContentBytes: 10}, "", strings.Repeat("x", 11), "mecha")
	if !errors.Is(err, ErrScriptRejected) {
		t.Fatalf("expected ErrScriptRejected, got %v", err)
	}
	var violationErr *ViolationError
	if !errors.As(err, &violationErr) {
		t.Fatalf("expected ViolationError, got %T", err)
	}

	fields := make(map[string]string)
	for _, violation := range violationErr.Violations {
		fields[violation.Field] = violation.Code
	}
	if fields["title"] != "required" || fields["content"] != "too_large" || fields["style"] != "unsupported" {
		t.Fatalf("unexpected violations %+v", violationErr.Violations)
	}
}

func TestCheckStoryboardLimit(t *testing.T) {
	if err := CheckStoryboard(Limits{MaxPanels: 3}, 3); err != nil {
		t.Fatalf("expected 3 panels to pass, got %v", err)
	}
	if err := CheckStoryboard(Limits{MaxPanels: 3}, 4); !errors.Is(err, ErrScriptRejected) {
		t.Fatalf("expected panel limit violation, got %v", err)
	}
}
