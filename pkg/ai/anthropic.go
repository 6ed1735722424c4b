package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 1024
)

// AnthropicGenerator calls the Messages API.
type AnthropicGenerator struct {
	api       upstream
	hasKey    bool
	model     string
	maxTokens int
}

func NewAnthropicGenerator(baseURL, apiKey, model string) *AnthropicGenerator {
	apiKey = strings.TrimSpace(apiKey)
	api := newUpstream("anthropic", baseURL, defaultAnthropicBaseURL, 60*time.Second).
		with("x-api-key", apiKey).
		with("anthropic-version", anthropicVersion)
	return &AnthropicGenerator{
		api:       api,
		hasKey:    apiKey != "",
		model:     strings.TrimSpace(model),
		maxTokens: anthropicMaxTokens,
	}
}

func (g *AnthropicGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.Chat(ctx, systemPrompt, singleTurn(userPrompt))
}

func (g *AnthropicGenerator) Chat(ctx context.Context, systemPrompt string, messages []ChatMessage) (string, error) {
	if !g.hasKey {
		return "", fmt.Errorf("anthropic api key required")
	}
	if err := validateMessages(messages); err != nil {
		return "", err
	}
	var out anthropicResponse
	err := g.api.post(ctx, "/v1/messages", anthropicRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    strings.TrimSpace(systemPrompt),
		Messages:  messages,
	}, &out)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return nonEmpty("anthropic", sb.String())
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []ChatMessage `json:"messages"`
}

// ContentBlock is one block of a Messages-style response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []ContentBlock `json:"content"`
}
