package review

import (
	"errors"
	"fmt"
	"strings"
)

// Focus narrows what a review concentrates on.
type Focus string

const (
	FocusNone        Focus = ""
	FocusSecurity    Focus = "security"
	FocusPerformance Focus = "performance"
	FocusCleanCode   Focus = "clean_code"
)

var (
	// ErrInvalidFocus is returned for a focus outside the known set.
	ErrInvalidFocus = errors.New("invalid focus, use security, performance, or clean_code")
	// ErrLanguageRequired is returned when no language was given or inferred.
	ErrLanguageRequired = errors.New("language is required (set language field or use a known file extension)")
	// ErrEmptyCode is returned when there is nothing to review.
	ErrEmptyCode = errors.New("code must not be empty")
)

// ParseFocus validates a focus name. The empty string means no focus.
func ParseFocus(s string) (Focus, error) {
	switch f := Focus(strings.TrimSpace(s)); f {
	case FocusNone, FocusSecurity, FocusPerformance, FocusCleanCode:
		return f, nil
	default:
		return FocusNone, fmt.Errorf("%w: %q", ErrInvalidFocus, s)
	}
}

// IsInputError reports whether err was caused by the caller's input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidFocus) || errors.Is(err, ErrLanguageRequired) || errors.Is(err, ErrEmptyCode)
}

// Request is one piece of code to review.
type Request struct {
	Code     string
	Language string
	Focus    Focus
}

// Issue is one finding of a review.
type Issue struct {
	Severity    string `json:"severity"`
	Line        int    `json:"line"`
	Description string `json:"description"`
}

// ReviewOutcome is the normalized result of a review.
type ReviewOutcome struct {
	Summary        string  `json:"summary"`
	Rating         int     `json:"rating"`
	Issues         []Issue `json:"issues"`
	RefactoredCode *string `json:"refactored_code"`
}

// RefactorOutcome is the normalized result of a refactor.
type RefactorOutcome struct {
	RefactoredCode string   `json:"refactored_code"`
	ChangesMade    []string `json:"changes_made"`
	Diff           string   `json:"diff,omitempty"`
}

// CombinedOutcome merges a review with the refactor that followed it.
type CombinedOutcome struct {
	Summary        string   `json:"summary"`
	Rating         int      `json:"rating"`
	Issues         []Issue  `json:"issues"`
	RefactoredCode string   `json:"refactored_code"`
	ChangesMade    []string `json:"changes_made"`
	Diff           string   `json:"diff,omitempty"`
}

// Descriptions returns the issue descriptions in order.
func (o ReviewOutcome) Descriptions() []string {
	out := make([]string, 0, len(o.Issues))
	for _, issue := range o.Issues {
		out = append(out, issue.Description)
	}
	return out
}
