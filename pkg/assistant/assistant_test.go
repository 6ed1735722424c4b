package assistant

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"studyreader/pkg/domain"
)

type fakeGenerator struct {
	reply string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeGenerator) GenerateText(ctx context.Context, _, _ string) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

type fakeStatus struct {
	status domain.AIStatus
	err    error
	calls  atomic.Int32
}

func (f *fakeStatus) Status(context.Context) (domain.AIStatus, error) {
	f.calls.Add(1)
	return f.status, f.err
}

func offline() *Assistant {
	return New(nil, nil, Options{})
}

func TestExplainDerivativeOfflineIsCanned(t *testing.T) {
	a := offline()
	want := explanations[0].value
	for i := 0; i < 3; i++ {
		if got := a.Explain(context.Background(), "derivative of x^2", ""); got != want {
			t.Fatalf("call %d: got %q", i, got)
		}
	}
}

func TestFlashcardsPhotosynthesisEquationOffline(t *testing.T) {
	cards := offline().GenerateFlashcards(context.Background(), "photosynthesis equation", 0)
	if len(cards) != 3 {
		t.Fatalf("cards = %d, want 3", len(cards))
	}
	want := flashcardSets[0].value
	for i := range cards {
		if cards[i] != want[i] {
			t.Fatalf("card %d = %+v, want %+v", i, cards[i], want[i])
		}
	}
}

func TestOfflineOutputIsDeterministic(t *testing.T) {
	a := offline()
	ctx := context.Background()
	inputs := []string{"", "Photosynthesis", "Solve 2x + 3 = 7", "The French Revolution began in 1789 and reshaped European politics for decades."}
	for _, in := range inputs {
		if a.Explain(ctx, in, "") != a.Explain(ctx, in, "") {
			t.Fatalf("explain not deterministic for %q", in)
		}
		if a.Solve(ctx, in, "") != a.Solve(ctx, in, "") {
			t.Fatalf("solve not deterministic for %q", in)
		}
		c1, c2 := a.GenerateFlashcards(ctx, in, 3), a.GenerateFlashcards(ctx, in, 3)
		if len(c1) != len(c2) {
			t.Fatalf("flashcards not deterministic for %q", in)
		}
		for i := range c1 {
			if c1[i] != c2[i] {
				t.Fatalf("flashcards not deterministic for %q", in)
			}
		}
		q1, q2 := a.GenerateQuiz(ctx, in, 3), a.GenerateQuiz(ctx, in, 3)
		for i := range q1 {
			if q1[i] != q2[i] {
				t.Fatalf("quiz not deterministic for %q", in)
			}
		}
	}
}

func TestGenericFallbackEchoesExcerpt(t *testing.T) {
	text := strings.Repeat("abcdefghij", 8)
	got := offline().Explain(context.Background(), text, "")
	if !strings.Contains(got, text[:60]+"...") {
		t.Fatalf("explanation does not echo the excerpt: %q", got)
	}
	if strings.Contains(got, text[:61]) {
		t.Fatalf("excerpt longer than 60 runes: %q", got)
	}
}

func TestSolveClassification(t *testing.T) {
	cases := map[string]string{
		"Find the derivative of sin x":      solutionSteps.derivative,
		"Evaluate the integral of x dx":     solutionSteps.integral,
		"Solve 2x + 3 = 7":                  solutionSteps.algebra,
		"A car's velocity doubles":          solutionSteps.physics,
		"Balance the combustion reaction":   solutionSteps.chemistry,
		"Why did the empire fall?":          solutionSteps.generic,
		"Calculate the force on a 2kg mass": solutionSteps.algebra,
	}
	for in, want := range cases {
		if got := fallbackSolution(in); got != want {
			t.Fatalf("%q classified as %q", in, got)
		}
	}
}

func TestCountTruncatesFallback(t *testing.T) {
	cards := offline().GenerateFlashcards(context.Background(), "photosynthesis", 2)
	if len(cards) != 2 {
		t.Fatalf("cards = %d, want 2", len(cards))
	}
	questions := offline().GenerateQuiz(context.Background(), "history", 1)
	if len(questions) != 1 {
		t.Fatalf("questions = %d, want 1", len(questions))
	}
}

func TestLiveResponseUsedWhenConfigured(t *testing.T) {
	gen := &fakeGenerator{reply: "live explanation"}
	status := &fakeStatus{status: domain.AIStatus{Configured: true, Model: "m"}}
	a := New(gen, status, Options{})
	if got := a.Explain(context.Background(), "derivative", ""); got != "live explanation" {
		t.Fatalf("got %q", got)
	}
	a.Solve(context.Background(), "x", "")
	if status.calls.Load() != 1 {
		t.Fatalf("status checked %d times, want 1", status.calls.Load())
	}
	if gen.calls.Load() != 2 {
		t.Fatalf("generator called %d times, want 2", gen.calls.Load())
	}
}

func TestUnconfiguredStatusSkipsLiveCall(t *testing.T) {
	gen := &fakeGenerator{reply: "live"}
	a := New(gen, &fakeStatus{status: domain.AIStatus{Configured: false}}, Options{})
	if got := a.Explain(context.Background(), "derivative", ""); got != explanations[0].value {
		t.Fatalf("got %q", got)
	}
	if gen.calls.Load() != 0 {
		t.Fatalf("generator called while unconfigured")
	}
}

func TestStatusErrorCachesUnconfigured(t *testing.T) {
	status := &fakeStatus{err: errors.New("connection refused")}
	a := New(&fakeGenerator{reply: "live"}, status, Options{})
	for i := 0; i < 2; i++ {
		if a.CheckStatus(context.Background()).Configured {
			t.Fatalf("expected unconfigured after status error")
		}
	}
	if status.calls.Load() != 1 {
		t.Fatalf("status checked %d times, want 1", status.calls.Load())
	}
}

func TestFailedLiveCallFallsBack(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("API Error: 500")}
	a := New(gen, nil, Options{})
	if got := a.Explain(context.Background(), "derivative", ""); got != explanations[0].value {
		t.Fatalf("got %q", got)
	}
	if gen.calls.Load() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", gen.calls.Load())
	}
}

func TestTimeoutFallsBack(t *testing.T) {
	gen := &fakeGenerator{reply: "too late", delay: time.Second}
	a := New(gen, nil, Options{Timeout: 20 * time.Millisecond})
	if got := a.Solve(context.Background(), "why", ""); got != solutionSteps.generic {
		t.Fatalf("got %q", got)
	}
}

func TestLiveFlashcardsParsing(t *testing.T) {
	gen := &fakeGenerator{reply: "Here you go:\n```json\n[{\"front\":\"A\",\"back\":\"1\"},{\"front\":\"\",\"back\":\"x\"},{\"front\":\"B\",\"back\":\"2\"},{\"front\":\"C\",\"back\":\"3\"}]\n```"}
	a := New(gen, nil, Options{})
	cards := a.GenerateFlashcards(context.Background(), "anything", 2)
	if len(cards) != 2 || cards[0].Front != "A" || cards[1].Front != "B" {
		t.Fatalf("unexpected cards: %+v", cards)
	}
}

func TestMalformedLiveFlashcardsFallBack(t *testing.T) {
	a := New(&fakeGenerator{reply: "I cannot produce JSON today."}, nil, Options{})
	cards := a.GenerateFlashcards(context.Background(), "photosynthesis equation", 3)
	if len(cards) != 3 || cards[0] != flashcardSets[0].value[0] {
		t.Fatalf("unexpected cards: %+v", cards)
	}
}

func TestLiveQuizParsing(t *testing.T) {
	a := New(&fakeGenerator{reply: `[{"q":"2+2?","a":"4"}]`}, nil, Options{})
	questions := a.GenerateQuiz(context.Background(), "arithmetic", 3)
	if len(questions) != 1 || questions[0].A != "4" {
		t.Fatalf("unexpected questions: %+v", questions)
	}
}

func TestFallbackKeywordsMatchWholeWords(t *testing.T) {
	a := offline()
	ctx := context.Background()
	for _, in := range []string{
		"In general the committee met twice a year.",
		"An excellent overview of the period.",
		"The anatomy lecture covered the skeleton.",
	} {
		if got, generic := a.Explain(ctx, in, ""), fallbackExplanation(in); got != generic || !strings.Contains(got, excerpt(in)) {
			t.Fatalf("explain %q matched a topic: %q", in, got)
		}
	}
	if got := a.Explain(ctx, "Genes are inherited", ""); got != explanations[5].value {
		t.Fatalf("plural keyword did not match: %q", got)
	}
	if got := a.Explain(ctx, "atomic structure", ""); got != explanations[8].value {
		t.Fatalf("atomic did not match: %q", got)
	}

	cells := a.GenerateFlashcards(ctx, "Cells divide by mitosis", 3)
	excellent := a.GenerateFlashcards(ctx, "An excellent overview", 3)
	if len(cells) == 0 || len(excellent) == 0 || cells[0] == excellent[0] {
		t.Fatalf("cells %+v and excellent %+v should differ", cells, excellent)
	}
}

func TestContainsWord(t *testing.T) {
	cases := []struct {
		s, word string
		want    bool
	}{
		{"gene expression", "gene", true},
		{"general", "gene", false},
		{"many genes", "gene", true},
		{"the forces acting", "force", true},
		{"newton's law", "newton", true},
		{"cellular respiration in cells", "cellular respiration", true},
		{"excellent", "cell", false},
		{"cell", "cell", true},
		{"", "cell", false},
	}
	for _, tc := range cases {
		if got := containsWord(tc.s, tc.word); got != tc.want {
			t.Fatalf("containsWord(%q, %q) = %v, want %v", tc.s, tc.word, got, tc.want)
		}
	}
}
