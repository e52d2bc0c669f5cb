package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"scholarqa/logger"
	"scholarqa/models"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	payloadDOI       = "doi"
	payloadTitle     = "title"
	payloadContent   = "content"
	payloadCreatedAt = "created_at"
)

type QdrantOptions struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize int
}

// QdrantStore keeps chunk embeddings in one Qdrant collection with
// payload indexes on doi (keyword) and content (full text)
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
}

func NewQdrantStore(ctx context.Context, opts QdrantOptions) (*QdrantStore, error) {
	if opts.Port == 0 {
		opts.Port = 6334
	}
	if opts.Collection == "" {
		opts.Collection = "paper_chunks"
	}

	cfg := &qdrant.Config{
		Host:                   opts.Host,
		Port:                   opts.Port,
		APIKey:                 opts.APIKey,
		UseTLS:                 opts.UseTLS,
		SkipCompatibilityCheck: true,
	}
	if !opts.UseTLS {
		cfg.GrpcOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		}
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("can't create Qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: opts.Collection,
		vectorSize: uint64(opts.VectorSize),
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.HealthCheck(ctx); err != nil {
		client.Close()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("Qdrant connection timeout, is server running at %s:%d?", opts.Host, opts.Port)
		}
		return nil, err
	}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("Qdrant ready with collection %s", s.collection)
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("can't check collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("can't create collection %s: %w", s.collection, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      payloadDOI,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("can't index %s: %w", payloadDOI, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      payloadContent,
		FieldType:      qdrant.FieldType_FieldTypeText.Enum(),
		FieldIndexParams: qdrant.NewPayloadIndexParamsText(&qdrant.TextIndexParams{
			Tokenizer: qdrant.TokenizerType_Word,
			Lowercase: qdrant.PtrOf(true),
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("can't index %s: %w", payloadContent, err)
	}

	logger.Info("Collection %s created", s.collection)
	return nil
}

func doiFilter(doi string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(payloadDOI, doi),
		},
	}
}

func keywordFilter(keywords []string) *qdrant.Filter {
	keywords = cleanKeywords(keywords)
	if len(keywords) == 0 {
		return nil
	}
	conds := make([]*qdrant.Condition, 0, len(keywords))
	for _, k := range keywords {
		conds = append(conds, qdrant.NewMatchText(payloadContent, k))
	}
	return &qdrant.Filter{Should: conds}
}

func recordPoint(rec models.EmbeddingRecord) *qdrant.PointStruct {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewID(rec.ID),
		Vectors: qdrant.NewVectors(rec.Embedding...),
		Payload: qdrant.NewValueMap(map[string]any{
			payloadDOI:       rec.DOI,
			payloadTitle:     rec.Title,
			payloadContent:   rec.Content,
			payloadCreatedAt: created.Unix(),
		}),
	}
}

func pointMatch(p *qdrant.ScoredPoint) models.RetrievalMatch {
	payload := p.GetPayload()
	return models.RetrievalMatch{
		DOI:        payload[payloadDOI].GetStringValue(),
		Title:      payload[payloadTitle].GetStringValue(),
		Content:    payload[payloadContent].GetStringValue(),
		Similarity: p.GetScore(),
	}
}

func (s *QdrantStore) Upsert(ctx context.Context, rec models.EmbeddingRecord) error {
	if s.client == nil {
		return ErrNotConnected
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         []*qdrant.PointStruct{recordPoint(rec)},
	})
	if err != nil {
		return fmt.Errorf("can't upsert chunk %s: %w", rec.ID, err)
	}
	return nil
}

func (s *QdrantStore) DeleteByDOI(ctx context.Context, doi string) error {
	if s.client == nil {
		return ErrNotConnected
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: doiFilter(doi),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("can't delete chunks of %s: %w", doi, err)
	}
	logger.Debug("Deleted all chunks for %s", doi)
	return nil
}

func (s *QdrantStore) CountByDOI(ctx context.Context, doi string) (int, error) {
	if s.client == nil {
		return 0, ErrNotConnected
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         doiFilter(doi),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("can't count chunks of %s: %w", doi, err)
	}
	return int(n), nil
}

func (s *QdrantStore) Search(ctx context.Context, params SearchParams) ([]models.RetrievalMatch, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}

	limit := uint64(params.Limit)
	if limit == 0 {
		limit = 100
	}
	result, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(params.Embedding...),
		Filter:         keywordFilter(params.Keywords),
		Limit:          &limit,
		ScoreThreshold: qdrant.PtrOf(float32(params.Threshold)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	matches := make([]models.RetrievalMatch, 0, len(result))
	for _, p := range result {
		matches = append(matches, pointMatch(p))
	}
	return rankMatches(matches, params.Keywords, params.Limit), nil
}

func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	if s.client == nil {
		return ErrNotConnected
	}
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("Qdrant health check failed: %w", err)
	}
	return nil
}

// Stats reports point count and vector settings of the collection
func (s *QdrantStore) Stats(ctx context.Context) (map[string]any, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("can't get collection info: %w", err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	return map[string]any{
		"total_vectors":   info.GetPointsCount(),
		"vector_size":     params.GetSize(),
		"distance_metric": strings.ToLower(params.GetDistance().String()),
	}, nil
}

func (s *QdrantStore) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

var _ VectorStore = (*QdrantStore)(nil)
