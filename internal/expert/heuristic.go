package expert

import (
	"strings"
	"unicode"
)

// normalize lowercases s and collapses whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// tokens splits text into lowercase words on anything that is not a letter
// or digit.
func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Heuristic returns the catalog roles whose keywords occur in text, in
// catalog order. Single-word keywords must match a whole word; multi-word
// keywords must match a run of consecutive words. It never fails.
func Heuristic(text string, catalog *Catalog) []Role {
	words := tokens(text)
	if len(words) == 0 {
		return nil
	}
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}
	joined := " " + strings.Join(words, " ") + " "

	var found []Role
	for _, e := range catalog.entries {
		for _, kw := range e.Keywords {
			kwWords := tokens(kw)
			if len(kwWords) == 0 {
				continue
			}
			var hit bool
			if len(kwWords) == 1 {
				_, hit = wordSet[kwWords[0]]
			} else {
				hit = strings.Contains(joined, " "+strings.Join(kwWords, " ")+" ")
			}
			if hit {
				found = append(found, e.Role)
				break
			}
		}
	}
	return found
}
