package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"studyreader/internal/ratelimit"
	"studyreader/internal/servicetoken"
	"studyreader/internal/util"
	"studyreader/pkg/ai"
	"studyreader/services/proxy/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Limiter throttles /api/chat per client IP; nil disables it.
	Limiter        *ratelimit.FixedWindowLimiter
	RetryAfter     time.Duration
	TrustedProxies *util.TrustedProxies
	// Verifier requires a service token on /api routes; nil disables it.
	Verifier    *servicetoken.Verifier
	CORSOrigins []string
}

// Server exposes the AI proxy endpoints.
type Server struct {
	app         *app.App
	limiter     *ratelimit.FixedWindowLimiter
	retryAfter  time.Duration
	trusted     *util.TrustedProxies
	verifier    *servicetoken.Verifier
	corsOrigins []string
	mux         *http.ServeMux
}

var validate = validator.New()

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	retryAfter := cfg.RetryAfter
	if retryAfter <= 0 {
		retryAfter = time.Minute
	}
	s := &Server{
		app:         cfg.App,
		limiter:     cfg.Limiter,
		retryAfter:  retryAfter,
		trusted:     cfg.TrustedProxies,
		verifier:    cfg.Verifier,
		corsOrigins: cfg.CORSOrigins,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("proxy", util.WithSecurityHeaders(s.trusted, util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/api/status", s.verifier.Require(s.rejectToken, http.HandlerFunc(s.handleStatus)))
	s.mux.Handle("/api/chat", s.verifier.Require(s.rejectToken, s.withRateLimit(http.HandlerFunc(s.handleChat))))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) rejectToken(w http.ResponseWriter, r *http.Request, err error) {
	util.LoggerFromContext(r.Context()).Warn("service token rejected", "err", err)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(r.Context(), util.ClientIP(r, s.trusted)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Status())
}

type chatMessage struct {
	Role    string `json:"role" validate:"oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages" validate:"required,min=1,dive"`
	System   string        `json:"system"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.app.Status().Configured {
		writeError(w, http.StatusServiceUnavailable, "API key not configured on the proxy")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid messages: each needs role user or assistant and content")
		return
	}
	messages := make([]ai.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, ai.ChatMessage{Role: m.Role, Content: m.Content})
	}

	text, err := s.app.Chat(r.Context(), req.System, messages)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("upstream chat failed", "err", err)
		switch {
		case errors.Is(err, app.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "API key not configured on the proxy")
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "upstream timeout")
		default:
			writeError(w, http.StatusBadGateway, fmt.Sprintf("upstream error: %v", err))
		}
		return
	}
	writeJSON(w, http.StatusOK, ai.ChatResponse{Content: []ai.ContentBlock{{Type: "text", Text: text}}})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorResponse keeps the {error:{message}} shape clients read and adds a
// stable code.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var body errorResponse
	body.Error.Message = msg
	body.Error.Code = errorCodeForProxy(status, msg)
	body.RequestID = strings.TrimSpace(w.Header().Get("X-Request-Id"))
	writeJSON(w, status, body)
}

func errorCodeForProxy(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case strings.Contains(message, "not configured"):
		return "AI_NOT_CONFIGURED"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "rate limit exceeded":
		return "RATE_LIMITED"
	case strings.HasPrefix(message, "invalid messages"):
		return "CHAT_INVALID_MESSAGES"
	case message == "invalid json body":
		return "REQUEST_INVALID_JSON"
	case message == "upstream timeout":
		return "AI_UPSTREAM_TIMEOUT"
	case strings.HasPrefix(message, "upstream error"):
		return "AI_UPSTREAM_ERROR"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
