package assistant

import (
	"encoding/json"
	"strings"

	"studyreader/pkg/domain"
)

// jsonArray returns the span from the first '[' to the last ']'.
func jsonArray(s string) (string, bool) {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func parseCards(s string, count int) ([]domain.Card, bool) {
	raw, ok := jsonArray(s)
	if !ok {
		return nil, false
	}
	var cards []domain.Card
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		return nil, false
	}
	out := make([]domain.Card, 0, len(cards))
	for _, c := range cards {
		c.Front, c.Back = strings.TrimSpace(c.Front), strings.TrimSpace(c.Back)
		if c.Front == "" || c.Back == "" {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, false
	}
	return truncate(out, count), true
}

func parseQuiz(s string, count int) ([]domain.QuizQuestion, bool) {
	raw, ok := jsonArray(s)
	if !ok {
		return nil, false
	}
	var questions []domain.QuizQuestion
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		return nil, false
	}
	out := make([]domain.QuizQuestion, 0, len(questions))
	for _, q := range questions {
		q.Q, q.A = strings.TrimSpace(q.Q), strings.TrimSpace(q.A)
		if q.Q == "" || q.A == "" {
			continue
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, false
	}
	return truncate(out, count), true
}
