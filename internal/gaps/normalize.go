package gaps

import (
	"strings"
	"unicode"
)

// DefaultCategory is used for questions asked without a category.
const DefaultCategory = "general"

var stopWords = map[string]bool{
	// en
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"do": true, "does": true, "can": true, "could": true, "i": true, "you": true,
	"your": true, "my": true, "me": true, "we": true, "to": true, "of": true,
	"for": true, "in": true, "on": true, "at": true, "it": true, "please": true,
	"what": true, "how": true, "there": true, "any": true,
	// nl
	"de": true, "het": true, "een": true, "zijn": true, "ik": true,
	"je": true, "jullie": true, "u": true, "mijn": true, "van": true, "voor": true,
	"op": true, "te": true, "wat": true, "hoe": true, "er": true, "kan": true,
	"graag": true,
}

// NormalizeQuestion lowercases q, strips punctuation, drops stop-words and
// collapses whitespace. When only stop-words remain the unfiltered words are
// kept so distinct short questions do not collapse to the same key.
func NormalizeQuestion(q string) string {
	words := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	kept := make([]string, 0, len(words))
	for _, w := range words {
		if !stopWords[w] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		kept = words
	}
	return strings.Join(kept, " ")
}

// Category returns c, or DefaultCategory when c is blank.
func Category(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return DefaultCategory
	}
	return c
}

// Key is the tenant-scoped deduplication key of a question. It is empty
// when the question has no words.
func Key(category, question string) string {
	n := NormalizeQuestion(question)
	if n == "" {
		return ""
	}
	return Category(category) + "|" + n
}
