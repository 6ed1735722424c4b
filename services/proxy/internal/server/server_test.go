package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"studyreader/internal/ratelimit"
	"studyreader/internal/servicetoken"
	"studyreader/pkg/ai"
	"studyreader/pkg/domain"
	"studyreader/services/proxy/internal/app"
)

type fakeGenerator struct {
	reply  string
	err    error
	system string
	got    []ai.ChatMessage
}

func (f *fakeGenerator) GenerateText(ctx context.Context, system, user string) (string, error) {
	return f.Chat(ctx, system, []ai.ChatMessage{{Role: ai.RoleUser, Content: user}})
}

func (f *fakeGenerator) Chat(_ context.Context, system string, messages []ai.ChatMessage) (string, error) {
	f.system = system
	f.got = messages
	return f.reply, f.err
}

func newProxy(t *testing.T, gen ai.ChatGenerator, cfg Config) http.Handler {
	t.Helper()
	core, err := app.New(app.Config{
		Provider:  ai.ProviderConfig{Provider: "anthropic", Model: "claude-test"},
		Generator: gen,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg.App = core
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s.Router()
}

func postChat(t *testing.T, h http.Handler, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var validChat = ai.ChatRequest{
	System:   "be brief",
	Messages: []ai.ChatMessage{{Role: ai.RoleUser, Content: "What is ATP?"}},
}

func TestUnconfiguredProxy(t *testing.T) {
	core, err := app.New(app.Config{Provider: ai.ProviderConfig{Provider: "anthropic", Model: "claude-test"}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	s, err := New(Config{App: core})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	h := s.Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var status domain.AIStatus
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if rec.Code != http.StatusOK || status.Configured {
		t.Fatalf("status code = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = postChat(t, h, validChat, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("chat status = %d", rec.Code)
	}
	var body ai.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error.Message == "" {
		t.Fatalf("expected {error:{message}}, got %s", rec.Body.String())
	}
}

func TestChatForwardsConversation(t *testing.T) {
	gen := &fakeGenerator{reply: "Adenosine triphosphate."}
	h := newProxy(t, gen, Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var status domain.AIStatus
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if !status.Configured || status.Model != "claude-test" {
		t.Fatalf("status = %+v", status)
	}

	rec = postChat(t, h, validChat, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp ai.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Text() != "Adenosine triphosphate." || resp.Content[0].Type != "text" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gen.system != "be brief" || len(gen.got) != 1 || gen.got[0].Content != "What is ATP?" {
		t.Fatalf("upstream got system=%q messages=%+v", gen.system, gen.got)
	}
}

func TestChatRejectsInvalidMessages(t *testing.T) {
	h := newProxy(t, &fakeGenerator{reply: "x"}, Config{})
	cases := []any{
		map[string]any{"messages": []any{}},
		map[string]any{"messages": []any{map[string]string{"role": "system", "content": "x"}}},
		map[string]any{"messages": []any{map[string]string{"role": "user", "content": ""}}},
	}
	for i, body := range cases {
		if rec := postChat(t, h, body, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("case %d status = %d", i, rec.Code)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestChatUpstreamFailures(t *testing.T) {
	h := newProxy(t, &fakeGenerator{err: errors.New("invalid x-api-key")}, Config{})
	rec := postChat(t, h, validChat, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	var body ai.ErrorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error.Message != "upstream error: invalid x-api-key" {
		t.Fatalf("message = %q", body.Error.Message)
	}

	h = newProxy(t, &fakeGenerator{err: context.DeadlineExceeded}, Config{})
	if rec := postChat(t, h, validChat, ""); rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("timeout status = %d", rec.Code)
	}
}

func TestChatRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "test:chat", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	defer limiter.Close()
	h := newProxy(t, &fakeGenerator{reply: "ok"}, Config{Limiter: limiter, RetryAfter: time.Minute})

	if rec := postChat(t, h, validChat, ""); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := postChat(t, h, validChat, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}

	status := httptest.NewRecorder()
	h.ServeHTTP(status, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if status.Code != http.StatusOK {
		t.Fatalf("status endpoint should not be rate limited, got %d", status.Code)
	}
}

func TestServiceTokenRequired(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t)
	signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{PrivateKeyPath: privatePath, Issuer: "reader"})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := servicetoken.NewVerifier(servicetoken.VerifierOptions{
		PublicKeyPath:  publicPath,
		Audience:       servicetoken.AudienceProxy,
		AllowedIssuers: []string{"reader"},
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	h := newProxy(t, &fakeGenerator{reply: "ok"}, Config{Verifier: verifier})

	rec := postChat(t, h, validChat, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}
	token, err := signer.Sign(servicetoken.AudienceProxy)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if rec := postChat(t, h, validChat, token); rec.Code != http.StatusOK {
		t.Fatalf("signed request status = %d body = %s", rec.Code, rec.Body.String())
	}

	// The reader-side client attaches the same token.
	srv := httptest.NewServer(h)
	defer srv.Close()
	client := ai.NewProxyClient(srv.URL, ai.WithServiceToken(signer, servicetoken.AudienceProxy))
	st, err := client.Status(context.Background())
	if err != nil || !st.Configured {
		t.Fatalf("client status = %+v err = %v", st, err)
	}
	text, err := client.GenerateText(context.Background(), "sys", "hi")
	if err != nil || text != "ok" {
		t.Fatalf("client chat = %q err = %v", text, err)
	}
}

func writeRSAKeyPairFiles(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := t.TempDir()
	privatePath := filepath.Join(dir, "private.pem")
	publicPath := filepath.Join(dir, "public.pem")
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private: %v", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public: %v", err)
	}
	if err := os.WriteFile(publicPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER}), 0o644); err != nil {
		t.Fatalf("write public: %v", err)
	}
	return privatePath, publicPath
}
