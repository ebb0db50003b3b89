package speech

import (
	"strings"
	"unicode"
)

// SplitSentences splits after '.', '!' or '?' when followed by whitespace.
// The punctuation stays with its sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var (
		sentences []string
		start     int
	)
	runes := []rune(text)
	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// Chunk groups sentences greedily into chunks of at most limit runes. A
// sentence longer than limit is split on word boundaries; a single word longer
// than limit becomes its own chunk.
func Chunk(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || runeLen(text) <= limit {
		return []string{text}
	}

	var (
		chunks  []string
		current string
	)
	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}

	for _, sentence := range SplitSentences(text) {
		if runeLen(sentence) > limit {
			flush()
			chunks = append(chunks, splitWords(sentence, limit)...)
			continue
		}
		if current == "" {
			current = sentence
			continue
		}
		if candidate := current + " " + sentence; runeLen(candidate) <= limit {
			current = candidate
			continue
		}
		flush()
		current = sentence
	}
	flush()
	return chunks
}

func splitWords(sentence string, limit int) []string {
	var (
		parts   []string
		current string
	)
	for _, word := range strings.Fields(sentence) {
		if current == "" {
			current = word
			continue
		}
		if runeLen(current)+1+runeLen(word) <= limit {
			current += " " + word
			continue
		}
		parts = append(parts, current)
		current = word
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}

func runeLen(s string) int {
	return len([]rune(s))
}
