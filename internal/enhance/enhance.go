// Package enhance rewrites image prompts through an OpenAI-compatible chat service.
package enhance

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/hpungsan/atelier/internal/errors"
)

// SystemPrompt instructs the model how to rewrite a prompt.
const SystemPrompt = `You are an expert in prompts for AI image generation.
Your task is to improve the user's prompt so it produces more realistic and detailed images.

Rules:
- Keep the user's main idea
- Add details about lighting, angle, and quality
- Use photography terms where appropriate (bokeh, depth of field, golden hour, etc.)
- Add quality descriptors (8k, ultra detailed, professional photography, etc.)
- The final prompt must be at most 300 characters
- Reply ONLY with the improved prompt, no explanations
- Reply in English`

// MaxLength is the longest enhanced prompt kept; longer replies are cut.
const MaxLength = 300

// Enhancer rewrites prompts.
type Enhancer struct {
	api   *openai.Client
	model string
}

// Config configures an Enhancer.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
}

// New returns an Enhancer. A nil hc uses http.DefaultClient.
func New(cfg Config, hc *http.Client) *Enhancer {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if hc != nil {
		oc.HTTPClient = hc
	}
	model := cfg.Model
	if model == "" {
		model = "openai"
	}
	return &Enhancer{api: openai.NewClientWithConfig(oc), model: model}
}

// Enhance returns an improved version of prompt.
func (e *Enhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.NewInvalidRequest("prompt is required")
	}

	resp, err := e.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Improve this prompt for image generation: %q", prompt)},
		},
	})
	if err != nil {
		return "", errors.NewUpstream("text", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.NewUpstream("text", fmt.Errorf("no completion response"))
	}

	out := clean(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.NewUpstream("text", fmt.Errorf("empty completion"))
	}
	return out, nil
}

// clean trims whitespace and wrapping quotes, then caps the length in runes.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if r := []rune(s); len(r) > MaxLength {
		s = strings.TrimSpace(string(r[:MaxLength]))
	}
	return s
}
