package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"studyreader/pkg/ai"
	"studyreader/pkg/domain"
)

// ErrNotConfigured is returned by Chat when no upstream model is set up.
var ErrNotConfigured = errors.New("ai provider not configured")

const defaultTimeout = 60 * time.Second

// Config holds runtime configuration for the proxy core.
type Config struct {
	Provider ai.ProviderConfig
	// Generator replaces the provider-built client when set.
	Generator ai.ChatGenerator
	Timeout   time.Duration
	Logger    *slog.Logger
}

// App forwards chat requests to the configured upstream model.
type App struct {
	gen     ai.ChatGenerator
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// New builds the proxy core. A missing or incomplete provider is not an
// error: the proxy starts and reports itself unconfigured.
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	a := &App{
		gen:     cfg.Generator,
		model:   strings.TrimSpace(cfg.Provider.Model),
		timeout: timeout,
		logger:  logger,
	}
	if a.gen == nil {
		if !cfg.Provider.Configured() {
			logger.Warn("ai provider not configured, chat disabled", "provider", cfg.Provider.Provider)
			return a, nil
		}
		gen, err := ai.NewGenerator(cfg.Provider)
		if err != nil {
			return nil, err
		}
		a.gen = gen
	}
	logger.Info("ai provider ready", "provider", cfg.Provider.Provider, "model", a.model)
	return a, nil
}

// Status reports whether chat is available and which model serves it.
func (a *App) Status() domain.AIStatus {
	if a.gen == nil {
		return domain.AIStatus{}
	}
	return domain.AIStatus{Configured: true, Model: a.model}
}

// Chat runs one bounded upstream call.
func (a *App) Chat(ctx context.Context, system string, messages []ai.ChatMessage) (string, error) {
	if a.gen == nil {
		return "", ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.gen.Chat(ctx, system, messages)
}
