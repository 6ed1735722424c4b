package stats

import (
	"context"
	"testing"

	"studyreader/pkg/domain"
	"studyreader/pkg/store"
)

func TestPagesRead(t *testing.T) {
	cases := []struct {
		name  string
		books []domain.Book
		want  int
	}{
		{name: "empty", want: 0},
		{name: "exact", books: []domain.Book{{Progress: 42, TotalPages: 100}}, want: 42},
		{name: "floors", books: []domain.Book{{Progress: 50, TotalPages: 33}, {Progress: 10, TotalPages: 15}}, want: 16 + 1},
		{name: "estimate without page counts", books: []domain.Book{{Progress: 20}, {Progress: 5}, {Progress: 0}}, want: 6},
		{name: "untouched books", books: []domain.Book{{TotalPages: 300}}, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PagesRead(tc.books); got != tc.want {
				t.Fatalf("PagesRead = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAverageQuizScore(t *testing.T) {
	if got := AverageQuizScore(nil); got != 0 {
		t.Fatalf("no scores = %d, want 0", got)
	}
	scores := []domain.QuizScore{{Percentage: 80}, {Percentage: 91}}
	if got := AverageQuizScore(scores); got != 86 {
		t.Fatalf("average = %d, want 86", got)
	}
	scores = []domain.QuizScore{{Percentage: 66.6}, {Percentage: 66.6}, {Percentage: 66.6}}
	if got := AverageQuizScore(scores); got != 67 {
		t.Fatalf("average = %d, want 67", got)
	}
}

func TestSummarizeProblemsSolvedIsHalfOfHighlights(t *testing.T) {
	got := Summarize(Snapshot{
		Highlights: make([]domain.Highlight, 5),
		Flashcards: make([]domain.Flashcard, 4),
	})
	if got.ProblemsSolved != 2 || got.Flashcards != 4 {
		t.Fatalf("unexpected stats: %+v", got)
	}
}

func TestComputeIsIdempotentAndTracksChanges(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV("stats-test")
	agg := NewAggregator(kv)

	first, err := agg.Compute(ctx)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if first != (domain.StudyStats{}) {
		t.Fatalf("empty store stats = %+v", first)
	}

	if _, err := store.Mutate(ctx, kv, store.Books, func(cur []domain.Book) ([]domain.Book, error) {
		return append(cur, domain.Book{ID: 1, Title: "Calc", Format: domain.FormatPDF, TotalPages: 100, Progress: 42}), nil
	}); err != nil {
		t.Fatalf("seed books: %v", err)
	}
	if _, err := store.Mutate(ctx, kv, store.QuizScores, func(cur []domain.QuizScore) ([]domain.QuizScore, error) {
		return append(cur, domain.QuizScore{ID: 1, Percentage: 75}), nil
	}); err != nil {
		t.Fatalf("seed scores: %v", err)
	}

	a, err := agg.Compute(ctx)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	b, err := agg.Compute(ctx)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if a != b {
		t.Fatalf("repeated compute differs: %+v vs %+v", a, b)
	}
	if a.PagesRead != 42 || a.QuizScore != 75 {
		t.Fatalf("unexpected stats: %+v", a)
	}
}
