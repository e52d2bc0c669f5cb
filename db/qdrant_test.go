package db

import (
	"context"
	"testing"

	"scholarqa/models"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordFilter(t *testing.T) {
	assert.Nil(t, keywordFilter(nil))
	assert.Nil(t, keywordFilter([]string{" ", ""}))

	f := keywordFilter([]string{"Glucose", " insulin "})
	require.NotNil(t, f)
	assert.Empty(t, f.GetMust())
	require.Len(t, f.GetShould(), 2)

	text := f.GetShould()[0].GetField()
	assert.Equal(t, payloadContent, text.GetKey())
	assert.Equal(t, "glucose", text.GetMatch().GetText())
}

func TestDOIFilter(t *testing.T) {
	f := doiFilter("10.1/a")
	require.Len(t, f.GetMust(), 1)
	field := f.GetMust()[0].GetField()
	assert.Equal(t, payloadDOI, field.GetKey())
	assert.Equal(t, "10.1/a", field.GetMatch().GetKeyword())
}

func TestRecordPointAndMatch(t *testing.T) {
	rec := models.EmbeddingRecord{
		ID:        "6f1c6b4e-4a0e-5f3a-9a1d-2b7c1d0e9f11",
		DOI:       "10.1/a",
		Title:     "A",
		Content:   "A. body",
		Embedding: []float32{0.1, 0.2},
	}
	p := recordPoint(rec)
	assert.Equal(t, rec.ID, p.GetId().GetUuid())
	assert.Equal(t, "10.1/a", p.GetPayload()[payloadDOI].GetStringValue())
	assert.NotZero(t, p.GetPayload()[payloadCreatedAt].GetIntegerValue())

	m := pointMatch(&qdrant.ScoredPoint{Payload: p.GetPayload(), Score: 0.42})
	assert.Equal(t, models.RetrievalMatch{DOI: "10.1/a", Title: "A", Content: "A. body", Similarity: 0.42}, m)
}

func TestClosedQdrantStore(t *testing.T) {
	s := &QdrantStore{}
	ctx := context.Background()
	assert.ErrorIs(t, s.Upsert(ctx, models.EmbeddingRecord{}), ErrNotConnected)
	assert.ErrorIs(t, s.DeleteByDOI(ctx, "x"), ErrNotConnected)
	_, err := s.Search(ctx, SearchParams{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, s.Close())
}
