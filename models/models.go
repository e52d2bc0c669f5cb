package models

import (
	"strings"
	"time"
)

// RawDocument is the cleaned article text pulled from one page
type RawDocument struct {
	DOI   string `json:"doi"`
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

// Chunk is a sentence aligned slice of an article, Text starts with "<title>. "
type Chunk struct {
	DOI   string `json:"doi"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Seq   int    `json:"seq"`
}

// EmbeddingRecord is one stored row per chunk
type EmbeddingRecord struct {
	ID        string    `json:"id"`
	DOI       string    `json:"doi"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// RetrievalMatch is a candidate chunk returned by similarity search
type RetrievalMatch struct {
	DOI        string  `json:"doi"`
	Title      string  `json:"title,omitempty"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}

// ContextEntry holds the rendered text for one source
type ContextEntry struct {
	DOI    string `json:"doi"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Chunks int    `json:"chunks"`
}

// ContextBlock is the assembled retrieval context for one query
type ContextBlock struct {
	Entries []ContextEntry `json:"entries"`
	Tokens  int            `json:"tokens"`
}

const ContextSeparator = "\n---\n"

func (b ContextBlock) String() string {
	parts := make([]string, 0, len(b.Entries))
	for _, e := range b.Entries {
		parts = append(parts, e.Text)
	}
	return strings.Join(parts, ContextSeparator)
}

func (b ContextBlock) Empty() bool {
	return len(b.Entries) == 0
}

// CitationMetadata describes an article by DOI
type CitationMetadata struct {
	DOI         string    `json:"doi"`
	Title       string    `json:"title"`
	FirstAuthor string    `json:"first_author"`
	LastAuthor  string    `json:"last_author"`
	Year        int       `json:"year"`
	Journal     string    `json:"journal"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Article is the bookkeeping row written after a document is ingested
type Article struct {
	DOI          string    `json:"doi"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	ArtifactPath string    `json:"artifact_path"`
	Chunks       int       `json:"chunks"`
	Stored       int       `json:"stored"`
	IngestedAt   time.Time `json:"ingested_at"`
}
