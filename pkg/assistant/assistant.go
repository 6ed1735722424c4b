// Package assistant turns a text selection into explanations, solutions,
// flashcards and quiz questions. A live model is used when the proxy reports
// one is configured; any failure serves deterministic offline content.
package assistant

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"studyreader/pkg/ai"
	"studyreader/pkg/domain"
)

// DefaultTimeout bounds a single live request.
const DefaultTimeout = 8 * time.Second

const defaultCount = 3

// StatusSource reports whether a live model is available.
type StatusSource interface {
	Status(ctx context.Context) (domain.AIStatus, error)
}

type Options struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

type Assistant struct {
	gen     ai.TextGenerator
	source  StatusSource
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	checked bool
	status  domain.AIStatus
}

// New builds an assistant. A nil generator always serves offline content;
// a nil status source treats a non-nil generator as configured.
func New(gen ai.TextGenerator, source StatusSource, opts Options) *Assistant {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Assistant{
		gen:     gen,
		source:  source,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

// CheckStatus queries the status source once and caches the answer for the
// lifetime of the assistant. A failed query caches "not configured".
func (a *Assistant) CheckStatus(ctx context.Context) domain.AIStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.checked {
		return a.status
	}
	a.checked = true
	switch {
	case a.gen == nil:
		a.status = domain.AIStatus{}
	case a.source == nil:
		a.status = domain.AIStatus{Configured: true}
	default:
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		status, err := a.source.Status(ctx)
		if err != nil {
			a.logger.Warn("ai status check failed", "err", err)
			status = domain.AIStatus{}
		}
		a.status = status
	}
	return a.status
}

// Explain describes text, optionally in light of the surrounding passage.
func (a *Assistant) Explain(ctx context.Context, text, surrounding string) string {
	if out, ok := a.live(ctx, "explain", explainSystemPrompt, withContext("Explain the following text:", text, surrounding)); ok {
		return out
	}
	return fallbackExplanation(text)
}

// Solve returns a step-by-step solution for text.
func (a *Assistant) Solve(ctx context.Context, text, surrounding string) string {
	if out, ok := a.live(ctx, "solve", solveSystemPrompt, withContext("Solve this problem step by step:", text, surrounding)); ok {
		return out
	}
	return fallbackSolution(text)
}

// GenerateFlashcards returns up to count cards; count <= 0 means 3.
func (a *Assistant) GenerateFlashcards(ctx context.Context, text string, count int) []domain.Card {
	if count <= 0 {
		count = defaultCount
	}
	if out, ok := a.live(ctx, "flashcards", flashcardsSystemPrompt, countPrompt("flashcards", count, text)); ok {
		if cards, ok := parseCards(out, count); ok {
			return cards
		}
		a.logger.Warn("ai response malformed, serving fallback", "op", "flashcards")
	}
	return truncate(fallbackFlashcards(text), count)
}

// GenerateQuiz returns up to count questions; count <= 0 means 3.
func (a *Assistant) GenerateQuiz(ctx context.Context, text string, count int) []domain.QuizQuestion {
	if count <= 0 {
		count = defaultCount
	}
	if out, ok := a.live(ctx, "quiz", quizSystemPrompt, countPrompt("quiz questions", count, text)); ok {
		if questions, ok := parseQuiz(out, count); ok {
			return questions
		}
		a.logger.Warn("ai response malformed, serving fallback", "op", "quiz")
	}
	return truncate(fallbackQuiz(text), count)
}

// live makes one bounded request. It reports false when no model is
// configured or the request fails; there are no retries.
func (a *Assistant) live(ctx context.Context, op, system, user string) (string, bool) {
	if !a.CheckStatus(ctx).Configured {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	out, err := a.gen.GenerateText(ctx, system, user)
	if err != nil {
		a.logger.Warn("ai request failed, serving fallback", "op", op, "err", err)
		return "", false
	}
	if strings.TrimSpace(out) == "" {
		a.logger.Warn("ai response empty, serving fallback", "op", op)
		return "", false
	}
	return out, true
}

func truncate[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
