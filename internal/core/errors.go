package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrModelNotTrained is returned by the statistical path when no model is loaded
	ErrModelNotTrained = errors.New("statistical model not trained")
	// ErrInsufficientData is returned when training has too few labeled messages
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrInvalidPattern is wrapped by every PatternError
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrUnknownVendor is returned when a vendor name is not in the table
	ErrUnknownVendor = errors.New("unknown vendor")
	// ErrInvalidFeedback is returned for corrections naming no known category
	ErrInvalidFeedback = errors.New("invalid feedback")
	// ErrInvalidAction is returned for outcomes that are neither deleted nor preserved
	ErrInvalidAction = errors.New("invalid action")
)

// PatternError describes a malformed entry in a pattern table
type PatternError struct {
	Table string
	Index int
	Field string
	Err   error
}

func (e *PatternError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("pattern table %s.%s: %v", e.Table, e.Field, e.Err)
	}
	if e.Field != "" {
		return fmt.Sprintf("pattern table %s[%d].%s: %v", e.Table, e.Index, e.Field, e.Err)
	}
	return fmt.Sprintf("pattern table %s[%d]: %v", e.Table, e.Index, e.Err)
}

func (e *PatternError) Unwrap() []error {
	return []error{ErrInvalidPattern, e.Err}
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
