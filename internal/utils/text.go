package utils

import "strings"

const (
	titleMaxWords = 6
	titleMaxRunes = 40
)

// markupCutset holds the markdown characters stripped before deriving a
// title from message content.
const markupCutset = "#*_`>~[]()|"

// DeriveTitle builds a chat title from the opening words of a message:
// markup is stripped and the result capped at six words and forty runes.
// Empty or all-markup content falls back to fallback.
func DeriveTitle(content, fallback string) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(markupCutset, r) {
			return -1
		}
		return r
	}, content)

	words := strings.Fields(clean)
	if len(words) == 0 {
		return fallback
	}
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	title := strings.Join(words, " ")
	if runes := []rune(title); len(runes) > titleMaxRunes {
		title = strings.TrimSpace(string(runes[:titleMaxRunes]))
	}
	return title
}
