package library

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"studyreader/pkg/domain"
	"studyreader/pkg/store"
)

// BookPatch carries the fields UpdateBook merges; nil fields are left alone.
// Progress and last page are owned by RecordProgress.
type BookPatch struct {
	Title        *string         `json:"title,omitempty"`
	Author       *string         `json:"author,omitempty"`
	TotalPages   *int            `json:"totalPages,omitempty"`
	CoverImage   *string         `json:"coverImage,omitempty"`
	LastLocation json.RawMessage `json:"lastLocation,omitempty"`
}

func (p BookPatch) apply(b *domain.Book) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.TotalPages != nil {
		b.TotalPages = *p.TotalPages
	}
	if p.CoverImage != nil {
		b.CoverImage = *p.CoverImage
	}
	if len(p.LastLocation) > 0 {
		b.LastLocation = append(json.RawMessage(nil), p.LastLocation...)
	}
}

// ListBooks returns the library, most recently added first.
func (l *Library) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return store.List[domain.Book](ctx, l.storage, store.Books)
}

// GetBook looks a book up by id.
func (l *Library) GetBook(ctx context.Context, id int64) (domain.Book, bool, error) {
	books, err := l.ListBooks(ctx)
	if err != nil {
		return domain.Book{}, false, err
	}
	for _, b := range books {
		if b.ID == id {
			return b, true, nil
		}
	}
	return domain.Book{}, false, nil
}

// AddBook prepends the book and, when blob is non-nil, stores its file
// under the same id. A zero id is assigned from the clock. The record and
// the file are written separately: a failed file write leaves the record.
func (l *Library) AddBook(ctx context.Context, book domain.Book, blob []byte) ([]domain.Book, error) {
	book.Title = strings.TrimSpace(book.Title)
	if book.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidBook)
	}
	if !book.Format.Valid() {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidBook, book.Format)
	}
	id, now := l.clock.next()
	if book.ID == 0 {
		book.ID = id
	}
	if book.DateAdded.IsZero() {
		book.DateAdded = now
	}
	book.Progress = clampPercent(book.Progress)

	books, err := store.Mutate(ctx, l.storage, store.Books, func(cur []domain.Book) ([]domain.Book, error) {
		for _, b := range cur {
			if b.ID == book.ID {
				return nil, fmt.Errorf("%w: id %d", ErrDuplicateBook, book.ID)
			}
		}
		return append([]domain.Book{book}, cur...), nil
	})
	if err != nil {
		return nil, err
	}
	if blob != nil {
		if err := l.storage.PutBlob(ctx, bookKey(book.ID), blob); err != nil {
			l.logger.Warn("book stored without file", "book_id", book.ID, "err", err)
			return books, fmt.Errorf("store book file: %w", err)
		}
	}
	return books, nil
}

// UpdateBook merges patch into the book; an unknown id changes nothing.
func (l *Library) UpdateBook(ctx context.Context, id int64, patch BookPatch) ([]domain.Book, error) {
	return l.editBook(ctx, id, patch.apply)
}

func (l *Library) editBook(ctx context.Context, id int64, edit func(*domain.Book)) ([]domain.Book, error) {
	return store.Mutate(ctx, l.storage, store.Books, func(cur []domain.Book) ([]domain.Book, error) {
		for i := range cur {
			if cur[i].ID == id {
				edit(&cur[i])
				break
			}
		}
		return cur, nil
	})
}

// DeleteBook removes the book record and its file. Dependents follow the
// delete policy.
func (l *Library) DeleteBook(ctx context.Context, id int64) ([]domain.Book, error) {
	books, err := store.Mutate(ctx, l.storage, store.Books, func(cur []domain.Book) ([]domain.Book, error) {
		out := make([]domain.Book, 0, len(cur))
		for _, b := range cur {
			if b.ID != id {
				out = append(out, b)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	if err := l.storage.DeleteBlob(ctx, bookKey(id)); err != nil {
		return books, fmt.Errorf("delete book file: %w", err)
	}
	current, ok, err := l.CurrentBookID(ctx)
	switch {
	case err != nil:
		l.logger.Warn("current book pointer not checked", "book_id", id, "err", err)
	case ok && current == id:
		if err := l.SetCurrentBookID(ctx, 0); err != nil {
			return books, err
		}
	}
	if l.policy == DeleteCascade {
		if err := l.deleteDependents(ctx, id); err != nil {
			return books, err
		}
	}
	return books, nil
}

func (l *Library) deleteDependents(ctx context.Context, bookID int64) error {
	if _, err := store.Mutate(ctx, l.storage, store.Highlights, func(cur []domain.Highlight) ([]domain.Highlight, error) {
		out := cur[:0]
		for _, h := range cur {
			if h.BookID != bookID {
				out = append(out, h)
			}
		}
		return out, nil
	}); err != nil {
		return fmt.Errorf("delete highlights: %w", err)
	}
	if _, err := store.Mutate(ctx, l.storage, store.Flashcards, func(cur []domain.Flashcard) ([]domain.Flashcard, error) {
		out := cur[:0]
		for _, f := range cur {
			if f.BookID != bookID {
				out = append(out, f)
			}
		}
		return out, nil
	}); err != nil {
		return fmt.Errorf("delete flashcards: %w", err)
	}
	if err := l.storage.DeleteSingleton(ctx, store.Progress, bookKey(bookID)); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}

// GetBlob returns the book's file, or false when it has to be re-uploaded.
func (l *Library) GetBlob(ctx context.Context, id int64) ([]byte, bool, error) {
	return l.storage.GetBlob(ctx, bookKey(id))
}

// RecordProgress upserts the progress record, then mirrors the percentage
// and page into the book. The two writes are not atomic together; the
// progress record is authoritative.
func (l *Library) RecordProgress(ctx context.Context, bookID int64, percentage float64, currentPage, totalPages int) (domain.ProgressRecord, error) {
	_, now := l.clock.next()
	rec := domain.ProgressRecord{
		BookID:      bookID,
		Percentage:  clampPercent(percentage),
		CurrentPage: currentPage,
		TotalPages:  totalPages,
		LastRead:    now,
	}
	if err := store.Put(ctx, l.storage, store.Progress, bookKey(bookID), rec); err != nil {
		return domain.ProgressRecord{}, err
	}
	mirror := func(b *domain.Book) {
		page := rec.CurrentPage
		b.Progress = rec.Percentage
		b.LastPage = &page
	}
	if _, err := l.editBook(ctx, bookID, mirror); err != nil {
		return rec, fmt.Errorf("mirror progress: %w", err)
	}
	return rec, nil
}

// GetProgress returns the stored progress record for a book.
func (l *Library) GetProgress(ctx context.Context, bookID int64) (domain.ProgressRecord, bool, error) {
	return store.Get[domain.ProgressRecord](ctx, l.storage, store.Progress, bookKey(bookID))
}

// CurrentBookID returns the book the reader last had open.
func (l *Library) CurrentBookID(ctx context.Context) (int64, bool, error) {
	id, ok, err := store.Get[int64](ctx, l.storage, store.Meta, store.KeyCurrentBookID)
	if err != nil || !ok || id == 0 {
		return 0, false, err
	}
	return id, true, nil
}

// SetCurrentBookID stores the open book; zero clears it.
func (l *Library) SetCurrentBookID(ctx context.Context, id int64) error {
	if id == 0 {
		return l.storage.DeleteSingleton(ctx, store.Meta, store.KeyCurrentBookID)
	}
	return store.Put(ctx, l.storage, store.Meta, store.KeyCurrentBookID, id)
}

func bookKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
