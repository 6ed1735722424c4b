package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient posts generateContent calls for any model.
type GeminiClient struct {
	api upstream
}

// NewGeminiClient requires an API key. An empty baseURL uses the public
// endpoint.
func NewGeminiClient(apiKey, baseURL string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	api := newUpstream("gemini", baseURL, defaultGeminiBaseURL, 30*time.Second).with("x-goog-api-key", apiKey)
	return &GeminiClient{api: api}, nil
}

func (c *GeminiClient) generate(ctx context.Context, model, systemPrompt string, contents []geminiContent) (string, error) {
	req := geminiRequest{Contents: contents}
	if s := strings.TrimSpace(systemPrompt); s != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: s}}}
	}
	var resp geminiResponse
	path := "/models/" + strings.TrimPrefix(strings.TrimSpace(model), "models/") + ":generateContent"
	if err := c.api.post(ctx, path, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return nonEmpty("gemini", sb.String())
}

// GeminiGenerator binds a GeminiClient to one model.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: strings.TrimSpace(model)}
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.Chat(ctx, systemPrompt, singleTurn(userPrompt))
}

// Chat maps assistant turns to Gemini's "model" role.
func (g *GeminiGenerator) Chat(ctx context.Context, systemPrompt string, messages []ChatMessage) (string, error) {
	if err := validateMessages(messages); err != nil {
		return "", err
	}
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	return g.client.generate(ctx, g.model, systemPrompt, contents)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}
