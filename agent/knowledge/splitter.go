package knowledge

import (
	"strings"
	"unicode/utf8"
)

// RecursiveSplitter cuts text into chunks of at most Size runes, trying each
// separator in turn and carrying up to Overlap runes between neighbours.
type RecursiveSplitter struct {
	Size       int
	Overlap    int
	Separators []string
}

func NewRecursiveSplitter(size, overlap int) RecursiveSplitter {
	return RecursiveSplitter{
		Size:       size,
		Overlap:    overlap,
		Separators: []string{"\n\n", "\n", " ", ""},
	}
}

func (s RecursiveSplitter) Split(text string) []string {
	if s.Size <= 0 {
		s.Size = 1000
	}
	if s.Overlap < 0 || s.Overlap >= s.Size {
		s.Overlap = 0
	}
	seps := s.Separators
	if len(seps) == 0 {
		seps = []string{"\n\n", "\n", " ", ""}
	}
	return s.split(text, seps)
}

func (s RecursiveSplitter) split(text string, seps []string) []string {
	separator := seps[len(seps)-1]
	var rest []string
	for i, sep := range seps {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = seps[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
	} else {
		for _, p := range strings.Split(text, separator) {
			if p != "" {
				pieces = append(pieces, p)
			}
		}
	}

	var (
		out  []string
		good []string
	)
	for _, p := range pieces {
		if utf8.RuneCountInString(p) < s.Size {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, separator)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, s.split(p, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, separator)...)
	}
	return out
}

func (s RecursiveSplitter) merge(pieces []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)

	var (
		docs    []string
		current []string
		total   int
	)
	join := func() {
		if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
			docs = append(docs, doc)
		}
	}
	gap := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n+gap() > s.Size && len(current) > 0 {
			join()
			for len(current) > 0 && (total > s.Overlap || (total+n+gap() > s.Size && total > 0)) {
				drop := utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		total += n + gap()
		current = append(current, p)
	}
	join()
	return docs
}
