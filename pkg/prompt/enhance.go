// Package prompt turns a short idea into a detailed natural-language image
// prompt with an LLM.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ravi-parthasarathy/comfyflow/pkg/llm"
)

// ErrEmptyPrompt is returned when the model answers with blank text.
var ErrEmptyPrompt = errors.New("prompt: model returned an empty image prompt")

const (
	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.7
)

const instruction = `You are an AI assistant specialized in creating comprehensive text-to-image natural language prompts for image generation models.

INSTRUCTIONS:
Create an extremely detailed natural language prompt (up to 512 tokens) describing an image of the subject below. Include: subjects, setting, lighting, colors, composition, atmosphere, appearance, pose, expression, clothing, time of day, location details, lighting source/intensity/shadows, color palettes, foreground/middle ground/background, focal points, and overall mood.

Use vivid descriptive language. Use only positive statements about what should be in the image.

CRITICAL RULES:
1. DO NOT include any reasoning, thinking, planning, or step-by-step analysis
2. DO NOT use numbered lists or bullet points
3. DO NOT explain your process
4. START IMMEDIATELY with the image description
5. Write in flowing paragraphs of natural language
6. Your ENTIRE response will be sent directly to the image generator`

// Subject describes what the image should show.
type Subject struct {
	Name        string
	Description string
}

func (s Subject) validate() error {
	if strings.TrimSpace(s.Description) == "" {
		return errors.New("prompt: subject description is required")
	}
	return nil
}

// Enhancer expands subjects into image prompts.
type Enhancer struct {
	client      llm.Client
	maxTokens   int
	temperature float64
}

// Option configures an Enhancer.
type Option func(*Enhancer)

// WithMaxTokens caps the generated prompt length. Non-positive values are ignored.
func WithMaxTokens(n int) Option {
	return func(e *Enhancer) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(e *Enhancer) { e.temperature = t }
}

// NewEnhancer returns an Enhancer backed by client.
func NewEnhancer(client llm.Client, opts ...Option) *Enhancer {
	e := &Enhancer{client: client, maxTokens: DefaultMaxTokens, temperature: DefaultTemperature}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enhance asks the model for a detailed prompt describing s.
func (e *Enhancer) Enhance(ctx context.Context, s Subject) (string, error) {
	if err := s.validate(); err != nil {
		return "", err
	}
	temp := e.temperature
	req := llm.GenerateRequest{
		System:      instruction,
		Messages:    []llm.Message{llm.UserMessage(subjectMessage(s))},
		MaxTokens:   e.maxTokens,
		Temperature: &temp,
	}
	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("prompt: enhance: %w", err)
	}
	out := strings.TrimSpace(resp.Text)
	if out == "" {
		return "", ErrEmptyPrompt
	}
	if resp.StopReason == llm.StopReasonMaxTokens {
		slog.Warn("enhanced prompt was truncated", "max_tokens", e.maxTokens)
	}
	slog.Debug("prompt enhanced", "in_tokens", resp.Usage.InputTokens, "out_tokens", resp.Usage.OutputTokens)
	return out, nil
}

func subjectMessage(s Subject) string {
	var sb strings.Builder
	if s.Name != "" {
		fmt.Fprintf(&sb, "Name: %s\n\n", s.Name)
	}
	sb.WriteString("Description:\n")
	sb.WriteString(strings.TrimSpace(s.Description))
	sb.WriteString("\n\nBEGIN IMAGE PROMPT NOW:")
	return sb.String()
}

var (
	boldMarks  = regexp.MustCompile(`\*\*`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Direct builds a prompt from s without a model: the cleaned description
// prefixed by a portrait lead-in.
func Direct(s Subject) (string, error) {
	if err := s.validate(); err != nil {
		return "", err
	}
	name := s.Name
	if name == "" {
		name = "a character"
	}
	desc := boldMarks.ReplaceAllString(s.Description, "")
	desc = strings.TrimSpace(whitespace.ReplaceAllString(desc, " "))
	return fmt.Sprintf("A highly detailed portrait of %s. %s", name, desc), nil
}
