package chunker

import "strings"

const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// Split breaks text into word-aligned chunks of roughly size characters.
// Each chunk after the first starts with the last overlap words of the
// previous one. Blank input yields no chunks.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	seeded := 0
	length := 0

	for _, w := range words {
		current = append(current, w)
		length += len(w) + 1

		if length >= size {
			chunks = append(chunks, strings.Join(current, " "))
			current = tail(current, overlap)
			seeded = len(current)
			length = 0
		}
	}

	// A trailing chunk made only of carried-over words adds nothing.
	if len(current) > seeded {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// tail returns a copy of the last n words.
func tail(words []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if n > len(words) {
		n = len(words)
	}
	out := make([]string, n)
	copy(out, words[len(words)-n:])
	return out
}
