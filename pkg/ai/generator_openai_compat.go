package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAICompatGenerator calls any /chat/completions endpoint. baseURL
// includes the /v1 prefix; local servers may run without a key.
type OpenAICompatGenerator struct {
	api   upstream
	model string
}

func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	api := newUpstream("openai-compat", baseURL, defaultOpenAIBaseURL, 120*time.Second)
	if key := strings.TrimSpace(apiKey); key != "" {
		api = api.with("Authorization", "Bearer "+key)
	}
	return &OpenAICompatGenerator{api: api, model: strings.TrimSpace(model)}
}

func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.Chat(ctx, systemPrompt, singleTurn(userPrompt))
}

func (g *OpenAICompatGenerator) Chat(ctx context.Context, systemPrompt string, messages []ChatMessage) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("openai-compat generation model required")
	}
	if err := validateMessages(messages); err != nil {
		return "", err
	}
	var resp oaiChatResponse
	req := oaiChatRequest{Model: g.model, Messages: withSystem(systemPrompt, messages)}
	if err := g.api.post(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai-compat")
	}
	return nonEmpty("openai-compat", resp.Choices[0].Message.Content)
}

type oaiChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}
