package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// upstream is a JSON-over-HTTP model endpoint. Every provider posts one
// request and decodes one response through it.
type upstream struct {
	name    string
	baseURL string
	header  http.Header
	hc      *http.Client
}

func newUpstream(name, baseURL, fallback string, timeout time.Duration) upstream {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = fallback
	}
	return upstream{
		name:    name,
		baseURL: baseURL,
		header:  http.Header{"Content-Type": []string{"application/json"}},
		hc:      &http.Client{Timeout: timeout},
	}
}

func (u upstream) with(key, value string) upstream {
	if value == "" {
		return u
	}
	h := u.header.Clone()
	h.Set(key, value)
	u.header = h
	return u
}

func (u upstream) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header = u.header.Clone()

	resp, err := u.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", u.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if msg := upstreamMessage(raw); msg != "" {
			return fmt.Errorf("%s api error: %s", u.name, msg)
		}
		return fmt.Errorf("%s api error: %s", u.name, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", u.name, err)
	}
	return nil
}

// upstreamMessage accepts both {"error":{"message":..}} and {"error":".."}.
func upstreamMessage(raw []byte) string {
	var nested ErrorBody
	if json.Unmarshal(raw, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &flat) == nil {
		return flat.Error
	}
	return ""
}

// withSystem prepends systemPrompt as a "system" turn, the convention of
// chat-completions style APIs.
func withSystem(systemPrompt string, messages []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages)+1)
	if s := strings.TrimSpace(systemPrompt); s != "" {
		out = append(out, ChatMessage{Role: "system", Content: s})
	}
	return append(out, messages...)
}

func nonEmpty(provider, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty response from %s", provider)
	}
	return text, nil
}
