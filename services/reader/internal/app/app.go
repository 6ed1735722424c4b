package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"studyreader/internal/servicetoken"
	"studyreader/pkg/ai"
	"studyreader/pkg/assistant"
	"studyreader/pkg/document"
	"studyreader/pkg/domain"
	"studyreader/pkg/library"
	"studyreader/pkg/stats"
	"studyreader/pkg/storage"
	"studyreader/pkg/store"
)

var (
	// ErrFileMissing means the book record exists but its file does not.
	ErrFileMissing = errors.New("book file missing")
	// ErrNoObjectStore means download links need MinIO configured.
	ErrNoObjectStore = errors.New("object storage not configured")
)

// Config holds runtime configuration for the core application.
type Config struct {
	StoreDriver    string
	StorePath      string
	DatabaseURL    string
	StoreFallback  string
	StoreNamespace string
	RedisAddr      string
	RedisPassword  string
	DeletePolicy   string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	ProxyURL                  string
	AITimeout                 time.Duration
	InternalJWTPrivateKeyPath string
	InternalJWTKeyID          string

	Logger *slog.Logger
}

// App wires the record store, library, stats and assistant together.
type App struct {
	store         *store.Store
	objects       *storage.MinioStore
	library       *library.Library
	stats         *stats.Aggregator
	assistant     *assistant.Assistant
	presignExpiry time.Duration
	logger        *slog.Logger
}

// New opens the store (falling back when the primary is unavailable) and
// builds the services on top of it.
func New(ctx context.Context, cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := library.ParseDeletePolicy(cfg.DeletePolicy)
	if err != nil {
		return nil, err
	}

	opts := store.Options{
		Driver:        cfg.StoreDriver,
		Path:          cfg.StorePath,
		DatabaseURL:   cfg.DatabaseURL,
		Fallback:      cfg.StoreFallback,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		Namespace:     cfg.StoreNamespace,
		Logger:        logger,
	}
	var objects *storage.MinioStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
		opts.Blobs = objects
	}
	st := store.New(opts)
	st.Init(ctx)

	var helper *assistant.Assistant
	aiOpts := assistant.Options{Timeout: cfg.AITimeout, Logger: logger}
	if strings.TrimSpace(cfg.ProxyURL) != "" {
		var proxyOpts []ai.ProxyOption
		if strings.TrimSpace(cfg.InternalJWTPrivateKeyPath) != "" {
			signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{
				PrivateKeyPath: cfg.InternalJWTPrivateKeyPath,
				KeyID:          cfg.InternalJWTKeyID,
				Issuer:         "reader",
			})
			if err != nil {
				_ = st.Close()
				return nil, err
			}
			proxyOpts = append(proxyOpts, ai.WithServiceToken(signer, servicetoken.AudienceProxy))
		}
		proxy := ai.NewProxyClient(cfg.ProxyURL, proxyOpts...)
		helper = assistant.New(proxy, proxy, aiOpts)
	} else {
		logger.Info("no ai proxy configured, serving offline study content")
		helper = assistant.New(nil, nil, aiOpts)
	}

	return &App{
		store:         st,
		objects:       objects,
		library:       library.New(st, library.WithDeletePolicy(policy), library.WithLogger(logger)),
		stats:         stats.NewAggregator(st),
		assistant:     helper,
		presignExpiry: 15 * time.Minute,
		logger:        logger,
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}

func (a *App) Library() *library.Library { return a.library }

func (a *App) Assistant() *assistant.Assistant { return a.assistant }

// StoreStatus names the active backend and whether it is the fallback.
func (a *App) StoreStatus(ctx context.Context) (string, bool) {
	return a.store.Kind(), a.store.Fallback(ctx)
}

// Stats computes the dashboard numbers from the current records.
func (a *App) Stats(ctx context.Context) (domain.StudyStats, error) {
	return a.stats.Compute(ctx)
}

// UploadBook parses the file and stores the book with it. Nothing is
// persisted when the file is rejected.
func (a *App) UploadBook(ctx context.Context, filename string, data []byte) (domain.Book, error) {
	if strings.TrimSpace(filename) == "" {
		return domain.Book{}, errors.New("filename required")
	}
	doc, err := document.Parse(filename, data)
	if err != nil {
		return domain.Book{}, err
	}
	books, err := a.library.AddBook(ctx, doc.Book(), data)
	if len(books) == 0 {
		if err == nil {
			err = errors.New("book not stored")
		}
		return domain.Book{}, err
	}
	return books[0], err
}

// BookFile returns the book and its stored file.
func (a *App) BookFile(ctx context.Context, id int64) (domain.Book, []byte, error) {
	book, ok, err := a.library.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, nil, err
	}
	if !ok {
		return domain.Book{}, nil, library.ErrBookNotFound
	}
	data, ok, err := a.library.GetBlob(ctx, id)
	if err != nil {
		return book, nil, err
	}
	if !ok {
		return book, nil, ErrFileMissing
	}
	return book, data, nil
}

// BookText extracts the text of one 1-based page.
func (a *App) BookText(ctx context.Context, id int64, page int) (string, error) {
	book, data, err := a.BookFile(ctx, id)
	if err != nil {
		return "", err
	}
	return document.PageText(book.Format, data, page)
}

// DownloadURL returns a pre-signed URL for the book file and a filename.
func (a *App) DownloadURL(ctx context.Context, id int64) (string, string, error) {
	if a.objects == nil {
		return "", "", ErrNoObjectStore
	}
	book, ok, err := a.library.GetBook(ctx, id)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", library.ErrBookNotFound
	}
	url, err := a.objects.PresignGet(ctx, strconv.FormatInt(id, 10), a.presignExpiry)
	if err != nil {
		return "", "", err
	}
	return url, Filename(book), nil
}

// GenerateFlashcards asks the assistant for cards and, when save is set,
// appends them to the library under bookID.
func (a *App) GenerateFlashcards(ctx context.Context, bookID int64, text string, count int, save bool) ([]domain.Card, error) {
	cards := a.assistant.GenerateFlashcards(ctx, text, count)
	if !save || len(cards) == 0 {
		return cards, nil
	}
	batch := make([]domain.Flashcard, 0, len(cards))
	for _, c := range cards {
		batch = append(batch, domain.Flashcard{BookID: bookID, Front: c.Front, Back: c.Back})
	}
	if _, err := a.library.AddFlashcards(ctx, batch); err != nil {
		return cards, fmt.Errorf("save flashcards: %w", err)
	}
	return cards, nil
}

// Filename builds a download name from the book title.
func Filename(book domain.Book) string {
	name := sanitizeFilename(book.Title)
	if name == "" {
		name = "book"
	}
	return name + "." + string(book.Format)
}

// ContentType maps a book format to its MIME type.
func ContentType(format domain.Format) string {
	switch format {
	case domain.FormatPDF:
		return "application/pdf"
	case domain.FormatEPUB:
		return "application/epub+zip"
	default:
		return "application/octet-stream"
	}
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
