package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Driver names accepted by Options.Driver.
const (
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Fallback names accepted by Options.Fallback.
const (
	FallbackMemory = "memory"
	FallbackRedis  = "redis"
)

// Options selects the primary driver and the fallback used when the
// primary cannot be opened.
type Options struct {
	Driver      string
	Path        string
	DatabaseURL string

	Fallback      string
	RedisAddr     string
	RedisPassword string
	Namespace     string

	// Blobs, when set, holds book files instead of the primary backend.
	Blobs BlobStore

	Logger *slog.Logger
}

// Store owns the active backend. It implements Backend by delegation and
// opens itself lazily on first use.
type Store struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	backend  Backend
	blobs    BlobStore
	fallback bool
}

// New builds an unopened store.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{opts: opts, logger: logger}
}

// Init opens the primary backend, or the fallback when the primary is
// unavailable. It is idempotent and never fails.
func (s *Store) Init(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		return
	}
	primary, err := s.openPrimary()
	if err == nil {
		s.backend = primary
		s.blobs = primary
		if s.opts.Blobs != nil {
			s.blobs = s.opts.Blobs
		}
		s.logger.Info("store initialized", "backend", primary.Kind())
		return
	}
	s.logger.Warn("primary store unavailable, using fallback", "driver", s.opts.Driver, "err", err)
	s.backend = s.openFallback(ctx)
	s.blobs = s.backend
	s.fallback = true
}

func (s *Store) openPrimary() (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s.opts.Driver)) {
	case DriverBolt:
		return OpenBolt(s.opts.Path)
	case DriverSQLite:
		return OpenSQLite(s.opts.Path)
	case DriverPostgres:
		return OpenPostgres(s.opts.DatabaseURL)
	case "":
		return nil, unavailable("store", fmt.Errorf("no driver configured"))
	default:
		return nil, unavailable("store", fmt.Errorf("unknown driver %q", s.opts.Driver))
	}
}

func (s *Store) openFallback(ctx context.Context) Backend {
	if strings.EqualFold(strings.TrimSpace(s.opts.Fallback), FallbackRedis) {
		kv, err := NewRedisKV(ctx, s.opts.RedisAddr, s.opts.RedisPassword, s.opts.Namespace)
		if err == nil {
			return kv
		}
		s.logger.Warn("redis fallback unavailable, using memory", "err", err)
	}
	return NewMemoryKV(s.opts.Namespace)
}

func (s *Store) active(ctx context.Context) (Backend, BlobStore) {
	s.Init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend, s.blobs
}

// Fallback reports whether the store runs on the fallback backend.
func (s *Store) Fallback(ctx context.Context) bool {
	s.Init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// Kind names the active backend.
func (s *Store) Kind() string {
	b, _ := s.active(context.Background())
	return b.Kind()
}

// Close releases the active backend. A later call reopens it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	s.blobs = nil
	s.fallback = false
	return err
}

func (s *Store) GetAll(ctx context.Context, coll Collection) ([]Record, error) {
	b, _ := s.active(ctx)
	return b.GetAll(ctx, coll)
}

func (s *Store) GetAllByIndex(ctx context.Context, coll Collection, field, value string) ([]Record, error) {
	b, _ := s.active(ctx)
	return b.GetAllByIndex(ctx, coll, field, value)
}

func (s *Store) ReplaceAll(ctx context.Context, coll Collection, records []Record) error {
	b, _ := s.active(ctx)
	return b.ReplaceAll(ctx, coll, records)
}

func (s *Store) Update(ctx context.Context, coll Collection, fn func([]Record) ([]Record, error)) error {
	b, _ := s.active(ctx)
	return b.Update(ctx, coll, fn)
}

func (s *Store) GetSingleton(ctx context.Context, coll Collection, key string) (json.RawMessage, bool, error) {
	b, _ := s.active(ctx)
	return b.GetSingleton(ctx, coll, key)
}

func (s *Store) UpsertSingleton(ctx context.Context, coll Collection, key string, data json.RawMessage) error {
	b, _ := s.active(ctx)
	return b.UpsertSingleton(ctx, coll, key, data)
}

func (s *Store) DeleteSingleton(ctx context.Context, coll Collection, key string) error {
	b, _ := s.active(ctx)
	return b.DeleteSingleton(ctx, coll, key)
}

func (s *Store) PutBlob(ctx context.Context, bookID string, data []byte) error {
	_, blobs := s.active(ctx)
	return blobs.PutBlob(ctx, bookID, data)
}

func (s *Store) GetBlob(ctx context.Context, bookID string) ([]byte, bool, error) {
	_, blobs := s.active(ctx)
	return blobs.GetBlob(ctx, bookID)
}

func (s *Store) DeleteBlob(ctx context.Context, bookID string) error {
	_, blobs := s.active(ctx)
	return blobs.DeleteBlob(ctx, bookID)
}
