// Package library keeps books and the study records that reference them
// consistent on top of the record and blob stores.
package library

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"studyreader/pkg/store"
)

// DeletePolicy decides what happens to a book's dependents when it is deleted.
type DeletePolicy string

const (
	// DeleteOrphan keeps highlights, flashcards and progress as history.
	DeleteOrphan DeletePolicy = "orphan"
	// DeleteCascade removes them together with the book.
	DeleteCascade DeletePolicy = "cascade"
)

// ParseDeletePolicy maps config input to a policy; empty means orphan.
func ParseDeletePolicy(raw string) (DeletePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(DeleteOrphan):
		return DeleteOrphan, nil
	case string(DeleteCascade):
		return DeleteCascade, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
	}
}

// Storage is what the library needs from the persistence layer.
type Storage interface {
	store.RecordBackend
	store.BlobStore
}

type Library struct {
	storage Storage
	policy  DeletePolicy
	clock   *idClock
	logger  *slog.Logger
}

type Option func(*Library)

func WithDeletePolicy(p DeletePolicy) Option {
	return func(l *Library) { l.policy = p }
}

// WithClock replaces the time source used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Library) { l.clock.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) { l.logger = logger }
}

func New(storage Storage, opts ...Option) *Library {
	l := &Library{
		storage: storage,
		policy:  DeleteOrphan,
		clock:   &idClock{now: time.Now},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Policy returns the configured delete policy.
func (l *Library) Policy() DeletePolicy { return l.policy }

// idClock hands out millisecond timestamps that double as ids. Ids are
// strictly increasing even when several are taken within one millisecond.
type idClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func (c *idClock) next() (int64, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms, time.UnixMilli(ms).UTC()
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
