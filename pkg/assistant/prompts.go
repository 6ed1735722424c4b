package assistant

import (
	"fmt"
	"strings"
)

const (
	explainSystemPrompt = "You are a patient study tutor. Explain the selected text clearly and concisely for a student. Use plain language and short paragraphs."

	solveSystemPrompt = "You are a study tutor. Solve the problem step by step. Number each step and finish with the final answer on its own line."

	flashcardsSystemPrompt = `You create study flashcards. Reply with a JSON array only, in the form [{"front": "...", "back": "..."}].`

	quizSystemPrompt = `You write short quiz questions. Reply with a JSON array only, in the form [{"q": "...", "a": "..."}].`
)

func withContext(instruction, text, surrounding string) string {
	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\n\"")
	sb.WriteString(text)
	sb.WriteString("\"")
	if surrounding = strings.TrimSpace(surrounding); surrounding != "" {
		sb.WriteString("\n\nContext: ")
		sb.WriteString(surrounding)
	}
	return sb.String()
}

func countPrompt(kind string, count int, text string) string {
	return fmt.Sprintf("Create %d %s from the following text:\n\n\"%s\"", count, kind, text)
}
