package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaClient targets a local Ollama daemon.
type OllamaClient struct {
	api upstream
}

func NewOllamaClient(baseURL string) *OllamaClient {
	return &OllamaClient{api: newUpstream("ollama", baseURL, defaultOllamaBaseURL, 60*time.Second)}
}

// OllamaGenerator talks to a local model through /api/chat.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: strings.TrimSpace(model)}
}

func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.Chat(ctx, systemPrompt, singleTurn(userPrompt))
}

func (g *OllamaGenerator) Chat(ctx context.Context, systemPrompt string, messages []ChatMessage) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("ollama generation model required")
	}
	if err := validateMessages(messages); err != nil {
		return "", err
	}
	var resp ollamaChatResponse
	req := ollamaChatRequest{Model: g.model, Messages: withSystem(systemPrompt, messages)}
	if err := g.client.api.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", err
	}
	return nonEmpty("ollama", resp.Message.Content)
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaChatResponse struct {
	Message ChatMessage `json:"message"`
}
