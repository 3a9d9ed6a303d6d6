package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// PlaceholderTitle marks a conversation whose title has not been derived
	// from a user message yet.
	PlaceholderTitle = "New Chat"

	titleMaxRunes     = 255
	autoTitleRunes    = 50
	previewRunes      = 100
	truncationEllipse = "..."
)

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// normalizeTitle trims, collapses whitespace, applies NFC and clips to the
// column width.
func normalizeTitle(s string) string {
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(norm.NFC.String(s)), " ")
	return clipRunes(s, titleMaxRunes)
}

// isPlaceholderTitle reports whether t can be replaced by an auto title.
func isPlaceholderTitle(t string) bool {
	t = strings.TrimSpace(t)
	return t == "" || strings.EqualFold(t, PlaceholderTitle)
}

// autoTitle derives a title from the first user message.
func autoTitle(content string) string {
	return summarize(whitespaceRE.ReplaceAllString(strings.TrimSpace(content), " "), autoTitleRunes)
}

// makePreview derives the list preview from the first user message.
func makePreview(content string) string {
	return summarize(strings.TrimSpace(content), previewRunes)
}

// summarize keeps the first n runes of s and appends "..." when it had to cut.
func summarize(s string, n int) string {
	s = norm.NFC.String(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + truncationEllipse
}

func clipRunes(s string, n int) string {
	if n > 0 && utf8.RuneCountInString(s) > n {
		return string([]rune(s)[:n])
	}
	return s
}
