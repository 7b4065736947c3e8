package nodes

import (
	"context"
	"fmt"
	"strings"
)

// DefaultMaxOutputChars caps validated output length.
const DefaultMaxOutputChars = 4096

type (
	// ValidatorOptions configures a Validator.
	ValidatorOptions struct {
		// MaxOutputChars defaults to 4096.
		MaxOutputChars int
		// Forbidden tokens must not surface in the final output. Defaults
		// to the generation stop tokens.
		Forbidden []string
	}

	// Validator is the last node of every plan: it rejects empty,
	// oversized, or template-leaking output.
	Validator struct {
		maxChars  int
		forbidden []string
	}
)

// NewValidator constructs a Validator.
func NewValidator(opts *ValidatorOptions) *Validator {
	v := &Validator{}
	if opts != nil {
		v.maxChars = opts.MaxOutputChars
		v.forbidden = opts.Forbidden
	}
	if v.maxChars <= 0 {
		v.maxChars = DefaultMaxOutputChars
	}
	if v.forbidden == nil {
		v.forbidden = DefaultStopTokens()
	}
	return v
}

func (v *Validator) ID() string   { return "validator" }
func (v *Validator) Type() string { return "validator" }

// Run fails the state when the output violates a constraint.
func (v *Validator) Run(_ context.Context, s *State) {
	output := s.Output
	if strings.TrimSpace(output) == "" {
		s.Fail(CodeValidationFailed, "output is empty")
		return
	}
	if len(output) > v.maxChars {
		s.Fail(CodeValidationFailed, fmt.Sprintf("output length %d exceeds %d", len(output), v.maxChars))
		return
	}
	for _, token := range v.forbidden {
		if strings.Contains(output, token) {
			s.Fail(CodeValidationFailed, fmt.Sprintf("output surfaces stop token %q", token))
			return
		}
	}
}
