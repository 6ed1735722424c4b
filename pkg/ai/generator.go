package ai

import (
	"context"
	"fmt"
	"strings"
)

// TextGenerator generates text from a system prompt and user prompt.
// Every provider and the proxy client implement it.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chatter continues a multi-turn conversation. Providers implement it next
// to TextGenerator.
type Chatter interface {
	Chat(ctx context.Context, systemPrompt string, messages []ChatMessage) (string, error)
}

// ChatGenerator is a provider usable both ways.
type ChatGenerator interface {
	TextGenerator
	Chatter
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider names accepted in configuration.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// ProviderConfig selects and configures an upstream model provider.
type ProviderConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// Configured reports whether enough is set to build a generator.
func (c ProviderConfig) Configured() bool {
	if strings.TrimSpace(c.Model) == "" {
		return false
	}
	switch normalizeProvider(c.Provider) {
	case ProviderOllama:
		return true
	case ProviderOpenAI:
		return strings.TrimSpace(c.BaseURL) != "" || strings.TrimSpace(c.APIKey) != ""
	case ProviderAnthropic, ProviderGemini:
		return strings.TrimSpace(c.APIKey) != ""
	default:
		return false
	}
}

// NewGenerator builds the TextGenerator for cfg.Provider.
func NewGenerator(cfg ProviderConfig) (ChatGenerator, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("ai provider %q is not configured", cfg.Provider)
	}
	switch normalizeProvider(cfg.Provider) {
	case ProviderAnthropic:
		return NewAnthropicGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case ProviderGemini:
		client, err := NewGeminiClient(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return NewGeminiGenerator(client, cfg.Model), nil
	case ProviderOllama:
		return NewOllamaGenerator(NewOllamaClient(cfg.BaseURL), cfg.Model), nil
	case ProviderOpenAI:
		baseURL := cfg.BaseURL
		if strings.TrimSpace(baseURL) == "" {
			baseURL = defaultOpenAIBaseURL
		}
		return NewOpenAICompatGenerator(baseURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

func singleTurn(userPrompt string) []ChatMessage {
	return []ChatMessage{{Role: RoleUser, Content: userPrompt}}
}

// validateMessages requires a non-empty conversation with known roles.
func validateMessages(messages []ChatMessage) error {
	if len(messages) == 0 {
		return fmt.Errorf("at least one message required")
	}
	for i, m := range messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	return nil
}
