package generate

import (
	"strings"
	"unicode"
)

// Boilerplate the model prepends despite instructions.
var boilerplatePrefixes = []string{
	"here is the tagline:",
	"here is the bio:",
	"here's the bio:",
	"here is the enhanced description:",
	"enhanced description:",
	"the tagline is:",
	"the bio is:",
	"the description is:",
	"here is:",
	"tagline:",
	"bio:",
}

// cleanText strips boilerplate prefixes, surrounding quotes, markdown
// emphasis markers, and collapses whitespace.
func cleanText(text string) string {
	text = strings.TrimSpace(text)

	lower := strings.ToLower(text)
	for _, prefix := range boilerplatePrefixes {
		if strings.HasPrefix(lower, prefix) {
			text = strings.TrimSpace(text[len(prefix):])
			break
		}
	}

	text = strings.Trim(text, `"'`)
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "*", "")
	return strings.Join(strings.Fields(text), " ")
}

// cleanTagline additionally capitalizes the first rune.
func cleanTagline(text string) string {
	text = cleanText(text)
	if text == "" {
		return text
	}
	runes := []rune(text)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
