package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scholarqa/db"
	"scholarqa/logger"
	"scholarqa/models"
)

// ErrNoMatches is logged when a query finds nothing above the threshold
var ErrNoMatches = errors.New("no matching chunks")

const (
	DefaultThreshold          = 0.3
	DefaultMatchCount         = 100
	DefaultMaxChunksPerSource = 10
	DefaultTokenBudget        = 2000
	LongTokenBudget           = 6000

	elision = "[...]"
)

// Searcher is satisfied by every db.VectorStore
type Searcher interface {
	Search(ctx context.Context, params db.SearchParams) ([]models.RetrievalMatch, error)
}

type Query struct {
	Embedding          []float32
	Threshold          float64
	MatchCount         int
	Keywords           []string
	MaxChunksPerSource int
	TokenBudget        int
}

func (q Query) withDefaults() Query {
	if q.Threshold <= 0 {
		q.Threshold = DefaultThreshold
	}
	if q.MatchCount <= 0 {
		q.MatchCount = DefaultMatchCount
	}
	if q.MaxChunksPerSource <= 0 {
		q.MaxChunksPerSource = DefaultMaxChunksPerSource
	}
	if q.TokenBudget <= 0 {
		q.TokenBudget = DefaultTokenBudget
	}
	return q
}

type Retriever struct {
	store     Searcher
	tokenizer Tokenizer
}

func NewRetriever(store Searcher, tokenizer Tokenizer) *Retriever {
	if tokenizer == nil {
		tokenizer = EstimateCounter{}
	}
	return &Retriever{store: store, tokenizer: tokenizer}
}

// SplitContent separates the "<title>. " prefix every chunk carries from its body.
// The stored title is used when the chunk has one, older rows fall back to the first ". ".
func SplitContent(content, storedTitle string) (title, body string) {
	if t := strings.TrimRight(strings.TrimSpace(storedTitle), "."); t != "" && strings.HasPrefix(content, t+". ") {
		return t, strings.TrimSpace(content[len(t)+2:])
	}
	idx := strings.Index(content, ". ")
	if idx < 0 {
		return strings.TrimSpace(content), ""
	}
	return content[:idx], strings.TrimSpace(content[idx+2:])
}

type source struct {
	doi    string
	title  string
	bodies []string
}

func (s *source) render() string {
	var b strings.Builder
	b.WriteString("TITLE: " + s.title + "\n")
	b.WriteString("DOI: " + s.doi + "\n")
	b.WriteString(elision + " ")
	b.WriteString(strings.Join(s.bodies, " "+elision+" "))
	b.WriteString(" " + elision)
	return b.String()
}

// Retrieve searches the store and assembles a context block. Sources keep
// the order their first chunk was ranked in; a chunk that would push the
// running token total past the budget ends assembly for every source.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (models.ContextBlock, error) {
	q = q.withDefaults()

	matches, err := r.store.Search(ctx, db.SearchParams{
		Embedding: q.Embedding,
		Threshold: q.Threshold,
		Limit:     q.MatchCount,
		Keywords:  q.Keywords,
	})
	if err != nil {
		return models.ContextBlock{}, fmt.Errorf("retrieval failed: %w", err)
	}
	if len(matches) == 0 {
		logger.Info("%v (threshold %.2f, keywords %v)", ErrNoMatches, q.Threshold, q.Keywords)
		return models.ContextBlock{}, nil
	}

	var (
		order  []*source
		byDOI  = make(map[string]*source)
		tokens int
	)
	for _, m := range matches {
		src := byDOI[m.DOI]
		if src != nil && len(src.bodies) >= q.MaxChunksPerSource {
			continue
		}

		title, body := SplitContent(m.Content, m.Title)
		cost := r.tokenizer.Count(body)
		if tokens+cost > q.TokenBudget {
			logger.Debug("token budget %d reached at %d, stopping", q.TokenBudget, tokens)
			break
		}
		tokens += cost

		if src == nil {
			src = &source{doi: m.DOI, title: title}
			byDOI[m.DOI] = src
			order = append(order, src)
		}
		src.bodies = append(src.bodies, body)
	}

	block := models.ContextBlock{Tokens: tokens}
	for _, src := range order {
		block.Entries = append(block.Entries, models.ContextEntry{
			DOI:    src.doi,
			Title:  src.title,
			Text:   src.render(),
			Chunks: len(src.bodies),
		})
	}
	return block, nil
}
