package services

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// sanitizeText strips markup, drops control characters and collapses runs of spaces while
// preserving intentional newlines. The result is NFC-normalised plain text.
func sanitizeText(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	stripped := html.UnescapeString(plainTextPolicy.Sanitize(trimmed))
	normalized := strings.ReplaceAll(strings.ReplaceAll(stripped, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		line = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return -1
			}
			return r
		}, line)
		lines[i] = strings.Join(strings.Fields(line), " ")
	}

	return norm.NFC.String(strings.TrimSpace(strings.Join(lines, "\n")))
}

func runeLen(s string) int {
	return len([]rune(s))
}
