package ops

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/atelier/internal/errors"
)

// EnhanceInput contains parameters for the Enhance operation.
type EnhanceInput struct {
	Prompt string
}

// EnhanceOutput contains the result of the Enhance operation.
type EnhanceOutput struct {
	Original string `json:"original"`
	Prompt   string `json:"prompt"`
}

// Enhance asks the text service for a richer version of a prompt.
func Enhance(ctx context.Context, s *Studio, input EnhanceInput) (*EnhanceOutput, error) {
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, errors.NewInvalidRequest("prompt is required")
	}
	if n := utf8.RuneCountInString(prompt); n > MaxPromptChars {
		return nil, errors.NewPromptTooLong(MaxPromptChars, n)
	}
	if s.Enhancer == nil {
		return nil, errors.NewInvalidRequest("prompt enhancer is not configured")
	}

	out, err := s.Enhancer.Enhance(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &EnhanceOutput{Original: prompt, Prompt: out}, nil
}
