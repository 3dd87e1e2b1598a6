package brain

import (
	"strings"
	"unicode/utf8"
)

// MaxPostRunes is the longest post the agent will publish.
const MaxPostRunes = 300

// ComposeUserPrompt appends recent posts to the user prompt so the model does
// not repeat itself. history is newest first.
func ComposeUserPrompt(userPrompt string, history []string) string {
	if len(history) == 0 {
		return userPrompt
	}
	var b strings.Builder
	b.WriteString(userPrompt)
	b.WriteString("\n\nRecent posts (do not repeat their wording or topic):")
	for _, h := range history {
		b.WriteString("\n- ")
		b.WriteString(strings.Join(strings.Fields(h), " "))
	}
	return b.String()
}

// Truncate trims whitespace and cuts text to MaxPostRunes runes.
func Truncate(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= MaxPostRunes {
		return text
	}
	return strings.TrimSpace(string([]rune(text)[:MaxPostRunes]))
}
