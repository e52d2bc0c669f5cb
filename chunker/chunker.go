package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"scholarqa/models"
)

const (
	DefaultTargetWords = 150
	DefaultOverlap     = 1
)

// SplitSentences breaks text after '.', '?' or '!' when whitespace and an
// uppercase letter follow
func SplitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '?' && r != '!' {
			continue
		}

		j := i
		for j < len(text) {
			ws, wsSize := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(ws) {
				break
			}
			j += wsSize
		}
		if j == i || j >= len(text) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(text[j:])
		if !unicode.IsUpper(next) {
			continue
		}

		if s := strings.TrimSpace(text[start:i]); s != "" {
			sentences = append(sentences, s)
		}
		start = j
		i = j
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// Chunk slices text into sentence aligned chunks of about targetWords words.
// A chunk that closed on the word target is followed by one starting overlap
// sentences earlier; a chunk that ran out of input ends the sequence.
func Chunk(title, doi, text string, targetWords, overlap int) []models.Chunk {
	if targetWords < 1 {
		targetWords = DefaultTargetWords
	}
	if overlap < 0 {
		overlap = 0
	}

	sentences := SplitSentences(text)
	prefix := strings.TrimRight(strings.TrimSpace(title), ".") + ". "

	var chunks []models.Chunk
	start := 0
	for start < len(sentences) {
		end := start
		words := 0
		for end < len(sentences) && words < targetWords {
			words += len(strings.Fields(sentences[end]))
			end++
		}

		chunks = append(chunks, models.Chunk{
			DOI:   doi,
			Title: title,
			Text:  prefix + strings.Join(sentences[start:end], " "),
			Seq:   len(chunks),
		})

		if words < targetWords {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}
