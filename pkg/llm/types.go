package llm

import (
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one plain-text turn.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserMessage is shorthand for a user turn.
func UserMessage(text string) Message { return Message{Role: RoleUser, Text: text} }

// GenerateRequest is the provider-neutral completion input.
type GenerateRequest struct {
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	// Temperature is left to the provider default when nil.
	Temperature *float64 `json:"temperature,omitempty"`
}

// StopReason explains why generation stopped.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonFiltered  StopReason = "filtered"
)

// Usage reports token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// GenerateResponse is the provider-neutral completion output.
type GenerateResponse struct {
	Text       string     `json:"text"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// defaultMaxTokens is used when a request leaves MaxTokens unset.
const defaultMaxTokens = 1024

// MaxTokensOrDefault returns r.MaxTokens, or a provider-neutral default.
func (r GenerateRequest) MaxTokensOrDefault() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return defaultMaxTokens
}

// ParseModelID splits "provider:model-name". Both parts are required.
func ParseModelID(id string) (provider, modelName string, err error) {
	p, m, ok := strings.Cut(id, ":")
	switch {
	case !ok:
		return "", "", fmt.Errorf("model ID %q: missing 'provider:model-name' format", id)
	case p == "":
		return "", "", fmt.Errorf("model ID %q: empty provider name", id)
	case m == "":
		return "", "", fmt.Errorf("model ID %q: empty model name", id)
	}
	return p, m, nil
}
