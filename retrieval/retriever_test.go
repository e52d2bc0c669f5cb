package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"scholarqa/db"
	"scholarqa/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	matches []models.RetrievalMatch
	err     error
	got     db.SearchParams
}

func (f *fakeSearcher) Search(ctx context.Context, params db.SearchParams) ([]models.RetrievalMatch, error) {
	f.got = params
	return f.matches, f.err
}

func match(doi, content string, sim float32) models.RetrievalMatch {
	return models.RetrievalMatch{DOI: doi, Content: content, Similarity: sim}
}

func dois(block models.ContextBlock) []string {
	var out []string
	for _, e := range block.Entries {
		out = append(out, e.DOI)
	}
	return out
}

func TestRetrieveOrdersSourcesByBestMatch(t *testing.T) {
	store := &fakeSearcher{matches: []models.RetrievalMatch{
		match("10.1/b", "Paper B. Best chunk.", 0.9),
		match("10.1/a", "Paper A. First of a.", 0.8),
		match("10.1/b", "Paper B. Second of b.", 0.7),
		match("10.1/c", "Paper C. Only c.", 0.6),
		match("10.1/a", "Paper A. Second of a.", 0.5),
	}}
	r := NewRetriever(store, EstimateCounter{})

	block, err := r.Retrieve(context.Background(), Query{Embedding: []float32{1}, Threshold: 0.3, MatchCount: 100})
	require.NoError(t, err)

	assert.Equal(t, []string{"10.1/b", "10.1/a", "10.1/c"}, dois(block))
	assert.Equal(t, "TITLE: Paper B\nDOI: 10.1/b\n[...] Best chunk. [...] Second of b. [...]", block.Entries[0].Text)
	assert.Equal(t, "TITLE: Paper A\nDOI: 10.1/a\n[...] First of a. [...] Second of a. [...]", block.Entries[1].Text)
	assert.Equal(t, 2, block.Entries[0].Chunks)

	assert.Equal(t, 0.3, store.got.Threshold)
	assert.Equal(t, 100, store.got.Limit)
	assert.Nil(t, store.got.Keywords)

	rendered := block.String()
	assert.Equal(t, 2, strings.Count(rendered, models.ContextSeparator))
}

func TestRetrieveCapsChunksPerSource(t *testing.T) {
	var matches []models.RetrievalMatch
	for i := 0; i < 6; i++ {
		matches = append(matches, match("10.1/a", "Paper A. Chunk body.", 0.9))
	}
	matches = append(matches, match("10.1/b", "Paper B. Other body.", 0.5))

	r := NewRetriever(&fakeSearcher{matches: matches}, EstimateCounter{})
	block, err := r.Retrieve(context.Background(), Query{MaxChunksPerSource: 2, TokenBudget: 1000})
	require.NoError(t, err)

	require.Len(t, block.Entries, 2)
	assert.Equal(t, 2, block.Entries[0].Chunks)
	assert.Equal(t, 1, block.Entries[1].Chunks)
}

func TestRetrieveStopsAtTokenBudget(t *testing.T) {
	body := strings.Repeat("abcd", 10) // 10 estimated tokens
	r := NewRetriever(&fakeSearcher{matches: []models.RetrievalMatch{
		match("10.1/a", "Paper A. "+body, 0.9),
		match("10.1/b", "Paper B. "+body, 0.8),
		match("10.1/a", "Paper A. "+body, 0.7),
		match("10.1/c", "Paper C. tiny", 0.6),
	}}, EstimateCounter{})

	block, err := r.Retrieve(context.Background(), Query{TokenBudget: 25})
	require.NoError(t, err)

	// third chunk would make 30 > 25: it is excluded and nothing after it is admitted
	assert.Equal(t, []string{"10.1/a", "10.1/b"}, dois(block))
	assert.Equal(t, 20, block.Tokens)
	assert.Equal(t, 1, block.Entries[0].Chunks)
	assert.LessOrEqual(t, block.Tokens, 25)
}

func TestRetrieveBudgetExactlyReachedIsAdmitted(t *testing.T) {
	body := strings.Repeat("abcd", 10)
	r := NewRetriever(&fakeSearcher{matches: []models.RetrievalMatch{
		match("10.1/a", "Paper A. "+body, 0.9),
		match("10.1/b", "Paper B. "+body, 0.8),
	}}, EstimateCounter{})

	block, err := r.Retrieve(context.Background(), Query{TokenBudget: 20})
	require.NoError(t, err)
	assert.Len(t, block.Entries, 2)
}

func TestRetrieveNoMatchesIsEmpty(t *testing.T) {
	r := NewRetriever(&fakeSearcher{}, nil)
	block, err := r.Retrieve(context.Background(), Query{})
	require.NoError(t, err)
	assert.True(t, block.Empty())
	assert.Equal(t, "", block.String())
}

func TestRetrieveStoreFailure(t *testing.T) {
	boom := errors.New("connection refused")
	r := NewRetriever(&fakeSearcher{err: boom}, nil)
	_, err := r.Retrieve(context.Background(), Query{Keywords: []string{"glucose"}})
	assert.ErrorIs(t, err, boom)
}

func TestSplitContent(t *testing.T) {
	title, body := SplitContent("Tanycytes in mice. They line the ventricle. More.", "")
	assert.Equal(t, "Tanycytes in mice", title)
	assert.Equal(t, "They line the ventricle. More.", body)

	title, body = SplitContent("No separator", "")
	assert.Equal(t, "No separator", title)
	assert.Empty(t, body)
}

func TestSplitContentUsesStoredTitle(t *testing.T) {
	content := "Growth of E. coli in biofilms. Cells attach first. Then they divide."

	title, body := SplitContent(content, "Growth of E. coli in biofilms")
	assert.Equal(t, "Growth of E. coli in biofilms", title)
	assert.Equal(t, "Cells attach first. Then they divide.", body)

	title, _ = SplitContent(content, "Growth of E. coli in biofilms.")
	assert.Equal(t, "Growth of E. coli in biofilms", title)

	// title that doesn't prefix the content is ignored
	title, _ = SplitContent(content, "Another paper")
	assert.Equal(t, "Growth of E", title)
}

func TestRetrieveRendersStoredTitle(t *testing.T) {
	store := &fakeSearcher{matches: []models.RetrievalMatch{{
		DOI:        "10.1/ecoli",
		Title:      "Growth of E. coli in biofilms",
		Content:    "Growth of E. coli in biofilms. Cells attach first.",
		Similarity: 0.9,
	}}}

	block, err := NewRetriever(store, nil).Retrieve(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, block.Entries, 1)
	assert.Equal(t, "TITLE: Growth of E. coli in biofilms\nDOI: 10.1/ecoli\n[...] Cells attach first. [...]", block.Entries[0].Text)
	assert.Equal(t, "Growth of E. coli in biofilms", block.Entries[0].Title)
}

func TestTokenizers(t *testing.T) {
	assert.Equal(t, 0, EstimateCounter{}.Count(""))
	assert.Equal(t, 3, EstimateCounter{}.Count("0123456789"))

	tk, err := NewTokenizer("tiktoken")
	require.NoError(t, err)
	assert.Equal(t, 2, tk.Count("hello world"))
	assert.Equal(t, 0, tk.Count(""))

	_, err = NewTokenizer("words")
	assert.Error(t, err)
}
