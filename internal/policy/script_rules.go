package policy

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iago/manga-creator-back/internal/domain"
)

var ErrScriptRejected = errors.New("script rejected by input policy")

type Violation struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrScriptRejected.Error()
	}
	return "script rejected: " + e.Violations[0].Message
}

func (e *ViolationError) Unwrap() error {
	return ErrScriptRejected
}

type Limits struct {
	MaxContentBytes int `toml:"max_content_bytes"`
	MaxTitleRunes   int `toml:"max_title_runes"`
	MaxPanels       int `toml:"max_panels"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxContentBytes: 200_000,
		MaxTitleRunes:   200,
		MaxPanels:       120,
	}
}

func (l Limits) withDefaults() Limits {
	defaults := DefaultLimits()
	if l.MaxContentBytes <= 0 {
		l.MaxContentBytes = defaults.MaxContentBytes
	}
	if l.MaxTitleRunes <= 0 {
		l.MaxTitleRunes = defaults.MaxTitleRunes
	}
	if l.MaxPanels <= 0 {
		l.MaxPanels = defaults.MaxPanels
	}
	return l
}

// CheckScript validates a parse request before it reaches the parser. The
// parser itself never rejects content; these are resource limits only.
func CheckScript(limits Limits, title, content, style string) (domain.Style, error) {
	limits = limits.withDefaults()
	violations := make([]Violation, 0, 3)

	if strings.TrimSpace(title) == "" {
		violations = append(violations, Violation{Code: "required", Field: "title", Message: "title is required"})
	} else if utf8.RuneCountInString(title) > limits.MaxTitleRunes {
		violations = append(violations, Violation{
			Code:    "too_long",
			Field:   "title",
			Message: fmt.Sprintf("title exceeds %d characters", limits.MaxTitleRunes),
		})
	}

	if strings.TrimSpace(content) == "" {
		violations = append(violations, Violation{Code: "required", Field: "content", Message: "content is required"})
	} else if len(content) > limits.MaxContentBytes {
		violations = append(violations, Violation{
			Code:    "too_large",
			Field:   "content",
			Message: fmt.Sprintf("content exceeds %d bytes", limits.MaxContentBytes),
		})
	}

	parsed, ok := domain.ParseStyle(style)
	if !ok {
		violations = append(violations, Violation{
			Code:    "unsupported",
			Field:   "style",
			Message: fmt.Sprintf("unsupported style %q", style),
		})
	}

	if len(violations) > 0 {
		return "", &ViolationError{Violations: violations}
	}
	return parsed, nil
}

// CheckStoryboard bounds how many panels a single generation job may render.
func CheckStoryboard(limits Limits, panels int) error {
	limits = limits.withDefaults()
	if panels <= limits.MaxPanels {
		return nil
	}
	return &ViolationError{Violations: []Violation{{
		Code:    "too_many_panels",
		Field:   "storyboard",
		Message: fmt.Sprintf("storyboard has %d panels, limit is %d", panels, limits.MaxPanels),
	}}}
}
