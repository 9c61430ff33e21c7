package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validator validates prompt submissions
type Validator struct {
	maxLength int
}

// NewValidator creates a new prompt validator. A maxLength of 0 disables
// the length check.
func NewValidator(maxLength int) *Validator {
	return &Validator{maxLength: maxLength}
}

// Validate rejects blank prompts and prompts over the configured length
func (v *Validator) Validate(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("%w: prompt is blank", ErrInvalidSubmission)
	}

	if v.maxLength > 0 {
		if n := utf8.RuneCountInString(prompt); n > v.maxLength {
			return fmt.Errorf("%w: prompt has %d characters, limit is %d", ErrInvalidSubmission, n, v.maxLength)
		}
	}

	return nil
}
