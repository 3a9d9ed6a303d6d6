// Package search prepares free-text conversation queries for the store.
//
// A query is matched as a case-insensitive substring of a conversation title
// or of any of its message contents. Preparation is deterministic:
//
//   - NFC normalisation and whitespace collapsing, so visually equal input
//     matches the same rows
//   - lower-casing, matching the LOWER() applied to stored text
//   - escaping of LIKE wildcards, so "%" and "_" match literally
package search

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxQueryRunes caps the prepared query length.
const MaxQueryRunes = 200

// LikeEscape is the escape character used in patterns built by Pattern.
const LikeEscape = `\`

// Query is a prepared search query.
type Query struct {
	// Text is the normalised, lower-cased query.
	Text string
	// Terms are the distinct words of Text in first-seen order.
	Terms []string
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*|\p{N}+`)

// Parse normalises raw. It reports false when nothing searchable remains.
func Parse(raw string) (Query, bool) {
	s := normalizeWhitespace(norm.NFC.String(raw))
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Query{}, false
	}
	if utf8.RuneCountInString(s) > MaxQueryRunes {
		s = strings.TrimSpace(string([]rune(s)[:MaxQueryRunes]))
	}
	return Query{Text: s, Terms: tokenize(s)}, true
}

// Pattern returns the LIKE pattern matching q.Text anywhere, with wildcards
// escaped by LikeEscape.
func (q Query) Pattern() string {
	r := strings.NewReplacer(LikeEscape, LikeEscape+LikeEscape, "%", LikeEscape+"%", "_", LikeEscape+"_")
	return "%" + r.Replace(q.Text) + "%"
}

func tokenize(s string) []string {
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// normalizeWhitespace collapses runs of spaces, tabs and line breaks into a
// single space.
func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
