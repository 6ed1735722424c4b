package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"studyreader/pkg/domain"
)

// Wire types shared by the proxy service and ProxyClient.

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	System   string        `json:"system"`
}

// ChatResponse carries the generated text as the first content block.
type ChatResponse struct {
	Content []ContentBlock `json:"content"`
}

// Text returns the first content block's text.
func (r ChatResponse) Text() string {
	if len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

// ErrorBody is the error shape used by the proxy and by most upstreams.
type ErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// TokenSigner issues bearer tokens for a target audience.
type TokenSigner interface {
	Sign(audience string) (string, error)
}

// ProxyClient talks to the AI proxy that holds the upstream credentials.
type ProxyClient struct {
	baseURL    string
	httpClient *http.Client
	signer     TokenSigner
	audience   string
}

// ProxyOption customizes a ProxyClient.
type ProxyOption func(*ProxyClient)

// WithServiceToken attaches a signed bearer token for audience to every call.
func WithServiceToken(signer TokenSigner, audience string) ProxyOption {
	return func(c *ProxyClient) {
		c.signer = signer
		c.audience = audience
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) ProxyOption {
	return func(c *ProxyClient) { c.httpClient = hc }
}

func NewProxyClient(baseURL string, opts ...ProxyOption) *ProxyClient {
	c := &ProxyClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Status asks the proxy whether an upstream model is configured.
func (c *ProxyClient) Status(ctx context.Context) (domain.AIStatus, error) {
	var out domain.AIStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return domain.AIStatus{}, err
	}
	return out, nil
}

func (c *ProxyClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.Chat(ctx, systemPrompt, singleTurn(userPrompt))
}

func (c *ProxyClient) Chat(ctx context.Context, systemPrompt string, messages []ChatMessage) (string, error) {
	var out ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", ChatRequest{Messages: messages, System: systemPrompt}, &out); err != nil {
		return "", err
	}
	text := out.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty response from ai proxy")
	}
	return text, nil
}

func (c *ProxyClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		token, err := c.signer.Sign(c.audience)
		if err != nil {
			return fmt.Errorf("sign proxy token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ai proxy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorBody
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error.Message != "" {
			return errors.New(errResp.Error.Message)
		}
		return fmt.Errorf("API Error: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ai proxy decode: %w", err)
	}
	return nil
}
