// Package stats derives the study dashboard numbers from stored records.
//
// pagesRead and problemsSolved are heuristics, not counted events:
// pagesRead estimates pages from reading progress and problemsSolved is
// half the highlight count.
package stats

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"studyreader/pkg/domain"
	"studyreader/pkg/store"
)

// pagesPerStartedBook is the estimate used when no book has a page count.
const pagesPerStartedBook = 3

// Snapshot is the record state the numbers are computed from.
type Snapshot struct {
	Books      []domain.Book
	Highlights []domain.Highlight
	Flashcards []domain.Flashcard
	QuizScores []domain.QuizScore
}

// Aggregator reads a snapshot and summarizes it. Nothing is cached; every
// call reflects the current records.
type Aggregator struct {
	records store.RecordBackend
}

func NewAggregator(records store.RecordBackend) *Aggregator {
	return &Aggregator{records: records}
}

// Compute loads the four collections concurrently and summarizes them.
func (a *Aggregator) Compute(ctx context.Context) (domain.StudyStats, error) {
	snap, err := a.Load(ctx)
	if err != nil {
		return domain.StudyStats{}, err
	}
	return Summarize(snap), nil
}

// Load reads the collections the stats depend on.
func (a *Aggregator) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Books, err = store.List[domain.Book](gctx, a.records, store.Books)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Highlights, err = store.List[domain.Highlight](gctx, a.records, store.Highlights)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Flashcards, err = store.List[domain.Flashcard](gctx, a.records, store.Flashcards)
		return err
	})
	g.Go(func() error {
		var err error
		snap.QuizScores, err = store.List[domain.QuizScore](gctx, a.records, store.QuizScores)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Summarize is the pure computation behind Compute.
func Summarize(s Snapshot) domain.StudyStats {
	return domain.StudyStats{
		PagesRead:      PagesRead(s.Books),
		ProblemsSolved: len(s.Highlights) / 2,
		Flashcards:     len(s.Flashcards),
		QuizScore:      AverageQuizScore(s.QuizScores),
	}
}

// PagesRead sums floor(progress% of totalPages) over books. When that is
// zero it falls back to a flat estimate per started book.
func PagesRead(books []domain.Book) int {
	total := 0
	started := 0
	for _, b := range books {
		if b.Progress > 0 {
			started++
		}
		if b.TotalPages <= 0 || b.Progress <= 0 {
			continue
		}
		// multiply first so 42% of 100 stays 42 instead of 41.99...
		total += int(math.Floor(b.Progress * float64(b.TotalPages) / 100))
	}
	if total == 0 {
		return pagesPerStartedBook * started
	}
	return total
}

// AverageQuizScore is the mean percentage rounded half up; zero when no
// quiz has been taken.
func AverageQuizScore(scores []domain.QuizScore) int {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s.Percentage
	}
	return int(math.Floor(sum/float64(len(scores)) + 0.5))
}
