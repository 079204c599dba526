// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
)

// asciiPunct is the cutset stripped from token edges when counting words.
const asciiPunct = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// WordCount counts words the way analytics expects: split on whitespace runs,
// strip leading and trailing ASCII punctuation from each token, drop tokens
// that end up empty. The rule is observable in persisted counts and must not
// change.
func WordCount(s string) int {
	n := 0
	for _, tok := range strings.Fields(s) {
		if strings.Trim(tok, asciiPunct) != "" {
			n++
		}
	}
	return n
}

// CharacterCount is the byte length of the extracted text, persisted alongside
// the word count.
func CharacterCount(s string) int { return len(s) }
