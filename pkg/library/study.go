package library

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"studyreader/pkg/domain"
	"studyreader/pkg/store"
)

// AddHighlight appends a highlight. Id and createdAt come from the clock;
// a missing book title is snapshotted from the book.
func (l *Library) AddHighlight(ctx context.Context, h domain.Highlight) ([]domain.Highlight, error) {
	if strings.TrimSpace(h.Text) == "" {
		return nil, ErrEmptyText
	}
	if h.BookTitle == "" && h.BookID != 0 {
		if book, ok, err := l.GetBook(ctx, h.BookID); err == nil && ok {
			h.BookTitle = book.Title
		}
	}
	h.ID, h.CreatedAt = l.clock.next()
	return store.Mutate(ctx, l.storage, store.Highlights, func(cur []domain.Highlight) ([]domain.Highlight, error) {
		return append(cur, h), nil
	})
}

// ListHighlights returns every highlight, oldest first.
func (l *Library) ListHighlights(ctx context.Context) ([]domain.Highlight, error) {
	return store.List[domain.Highlight](ctx, l.storage, store.Highlights)
}

// HighlightsByBook returns one book's highlights, oldest first.
func (l *Library) HighlightsByBook(ctx context.Context, bookID int64) ([]domain.Highlight, error) {
	return store.ListByIndex[domain.Highlight](ctx, l.storage, store.Highlights, domain.IndexBookID, bookKey(bookID))
}

// DeleteHighlight removes one highlight by id.
func (l *Library) DeleteHighlight(ctx context.Context, id int64) ([]domain.Highlight, error) {
	found := false
	out, err := store.Mutate(ctx, l.storage, store.Highlights, func(cur []domain.Highlight) ([]domain.Highlight, error) {
		found = false
		next := make([]domain.Highlight, 0, len(cur))
		for _, h := range cur {
			if h.ID == id {
				found = true
				continue
			}
			next = append(next, h)
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return out, fmt.Errorf("%w: %d", ErrHighlightNotFound, id)
	}
	return out, nil
}

// SearchHighlights ranks highlights by fuzzy match of query against their
// text, best match first. An empty query returns every highlight.
func (l *Library) SearchHighlights(ctx context.Context, query string) ([]domain.Highlight, error) {
	all, err := l.ListHighlights(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return all, nil
	}
	texts := make([]string, len(all))
	for i, h := range all {
		texts[i] = h.Text
	}
	ranks := fuzzy.RankFindNormalizedFold(query, texts)
	sort.Stable(ranks)
	out := make([]domain.Highlight, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, all[r.OriginalIndex])
	}
	return out, nil
}

// AddFlashcard appends a single card.
func (l *Library) AddFlashcard(ctx context.Context, card domain.Flashcard) ([]domain.Flashcard, error) {
	return l.AddFlashcards(ctx, []domain.Flashcard{card})
}

// AddFlashcards appends a batch in order; every card gets its own id.
func (l *Library) AddFlashcards(ctx context.Context, cards []domain.Flashcard) ([]domain.Flashcard, error) {
	batch := make([]domain.Flashcard, 0, len(cards))
	for _, c := range cards {
		if strings.TrimSpace(c.Front) == "" || strings.TrimSpace(c.Back) == "" {
			return nil, ErrEmptyCard
		}
		c.ID, c.CreatedAt = l.clock.next()
		batch = append(batch, c)
	}
	return store.Mutate(ctx, l.storage, store.Flashcards, func(cur []domain.Flashcard) ([]domain.Flashcard, error) {
		return append(cur, batch...), nil
	})
}

// ListFlashcards returns every card, oldest first.
func (l *Library) ListFlashcards(ctx context.Context) ([]domain.Flashcard, error) {
	return store.List[domain.Flashcard](ctx, l.storage, store.Flashcards)
}

// FlashcardsByBook returns one book's cards, oldest first.
func (l *Library) FlashcardsByBook(ctx context.Context, bookID int64) ([]domain.Flashcard, error) {
	return store.ListByIndex[domain.Flashcard](ctx, l.storage, store.Flashcards, domain.IndexBookID, bookKey(bookID))
}

// AddQuizScore appends a score to the quiz log.
func (l *Library) AddQuizScore(ctx context.Context, percentage float64) ([]domain.QuizScore, error) {
	score := domain.QuizScore{Percentage: clampPercent(percentage)}
	score.ID, score.Date = l.clock.next()
	return store.Mutate(ctx, l.storage, store.QuizScores, func(cur []domain.QuizScore) ([]domain.QuizScore, error) {
		return append(cur, score), nil
	})
}

// ListQuizScores returns the quiz log, oldest first.
func (l *Library) ListQuizScores(ctx context.Context) ([]domain.QuizScore, error) {
	return store.List[domain.QuizScore](ctx, l.storage, store.QuizScores)
}

// Settings returns the saved reader settings or the defaults.
func (l *Library) Settings(ctx context.Context) (domain.Settings, error) {
	s, ok, err := store.Get[domain.Settings](ctx, l.storage, store.Meta, store.KeySettings)
	if err != nil {
		return domain.DefaultSettings(), err
	}
	if !ok {
		return domain.DefaultSettings(), nil
	}
	return s, nil
}

// SaveSettings replaces the reader settings.
func (l *Library) SaveSettings(ctx context.Context, s domain.Settings) error {
	return store.Put(ctx, l.storage, store.Meta, store.KeySettings, s)
}
