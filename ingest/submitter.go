package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"scholarqa/db"
	"scholarqa/embedding"
	"scholarqa/logger"
	"scholarqa/models"
	"scholarqa/utils"
)

var (
	ErrEmbeddingService = errors.New("embedding service failed")
	ErrStoreWrite       = errors.New("store write failed")
)

type Status int

const (
	Stored Status = iota
	Skipped
	Dropped
)

func (s Status) String() string {
	switch s {
	case Stored:
		return "stored"
	case Skipped:
		return "skipped"
	default:
		return "dropped"
	}
}

// Result is the outcome of one chunk submission
type Result struct {
	Status   Status
	Attempts int
	Err      error
}

type SubmitterOptions struct {
	MinChars   int
	Attempts   int
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Submitter embeds one chunk and writes it to the vector store
type Submitter struct {
	embedder embedding.Embedder
	store    db.VectorStore
	opts     SubmitterOptions
}

func NewSubmitter(embedder embedding.Embedder, store db.VectorStore, opts SubmitterOptions) *Submitter {
	if opts.MinChars <= 0 {
		opts.MinChars = 100
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BackoffMin <= 0 && opts.BackoffMax <= 0 {
		opts.BackoffMin, opts.BackoffMax = 10*time.Second, 30*time.Second
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = opts.BackoffMin
	}
	return &Submitter{embedder: embedder, store: store, opts: opts}
}

func (s *Submitter) backoff() time.Duration {
	span := s.opts.BackoffMax - s.opts.BackoffMin
	if span <= 0 {
		return s.opts.BackoffMin
	}
	return s.opts.BackoffMin + rand.N(span+1)
}

func (s *Submitter) Submit(ctx context.Context, chunk models.Chunk) Result {
	if len(chunk.Text) < s.opts.MinChars {
		logger.Debug("Skipping short chunk %d of %s (%d chars)", chunk.Seq, chunk.DOI, len(chunk.Text))
		return Result{Status: Skipped}
	}

	content := strings.ReplaceAll(chunk.Text, "\n", " ")

	var (
		vec     []float32
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= s.opts.Attempts; attempt++ {
		vec, lastErr = s.embedder.Embed(ctx, content)
		if lastErr == nil {
			break
		}
		logger.Warn("Embedding try %d/%d failed for chunk %d of %s: %v", attempt, s.opts.Attempts, chunk.Seq, chunk.DOI, lastErr)

		if ctx.Err() != nil {
			return Result{Status: Dropped, Attempts: attempt, Err: ctx.Err()}
		}
		if attempt < s.opts.Attempts {
			select {
			case <-ctx.Done():
				return Result{Status: Dropped, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(s.backoff()):
			}
		}
	}
	if lastErr != nil {
		err := fmt.Errorf("%w: chunk %d of %s after %d tries: %v", ErrEmbeddingService, chunk.Seq, chunk.DOI, s.opts.Attempts, lastErr)
		logger.Error("%v", err)
		return Result{Status: Dropped, Attempts: s.opts.Attempts, Err: err}
	}

	rec := models.EmbeddingRecord{
		ID:        utils.ChunkPointID(chunk.DOI, chunk.Seq),
		DOI:       chunk.DOI,
		Title:     strings.ReplaceAll(chunk.Title, "\n", " "),
		Content:   content,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		err = fmt.Errorf("%w: chunk %d of %s: %v", ErrStoreWrite, chunk.Seq, chunk.DOI, err)
		logger.Error("%v", err)
		return Result{Status: Dropped, Attempts: attempt, Err: err}
	}

	return Result{Status: Stored, Attempts: attempt}
}
