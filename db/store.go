package db

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"scholarqa/models"
)

// ErrNotConnected is returned by stores used before they are opened or after Close
var ErrNotConnected = errors.New("store not connected")

// SearchParams drives a similarity search. Keywords, when present, keep only
// chunks mentioning at least one of them.
type SearchParams struct {
	Embedding []float32
	Threshold float64
	Limit     int
	Keywords  []string
}

// VectorStore holds one row per embedded chunk
type VectorStore interface {
	Upsert(ctx context.Context, rec models.EmbeddingRecord) error
	DeleteByDOI(ctx context.Context, doi string) error
	CountByDOI(ctx context.Context, doi string) (int, error)
	Search(ctx context.Context, params SearchParams) ([]models.RetrievalMatch, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func cleanKeywords(keywords []string) []string {
	var out []string
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

func keywordHits(content string, keywords []string) int {
	lower := strings.ToLower(content)
	hits := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	return hits
}

// rankMatches orders matches by similarity, or by keyword hits then
// similarity when keywords are given. Matches with no hit are dropped.
func rankMatches(matches []models.RetrievalMatch, keywords []string, limit int) []models.RetrievalMatch {
	keywords = cleanKeywords(keywords)

	if len(keywords) == 0 {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].Similarity > matches[j].Similarity
		})
	} else {
		hits := make(map[int]int, len(matches))
		kept := matches[:0]
		for _, m := range matches {
			if h := keywordHits(m.Content, keywords); h > 0 {
				hits[len(kept)] = h
				kept = append(kept, m)
			}
		}
		matches = kept

		idx := make([]int, len(matches))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(i, j int) bool {
			a, b := idx[i], idx[j]
			if hits[a] != hits[b] {
				return hits[a] > hits[b]
			}
			return matches[a].Similarity > matches[b].Similarity
		})
		ordered := make([]models.RetrievalMatch, len(idx))
		for i, k := range idx {
			ordered[i] = matches[k]
		}
		matches = ordered
	}

	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches
}
