package db

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"scholarqa/models"
)

// SQLiteVectorStore keeps embeddings as float32 blobs and searches them by
// brute force cosine similarity
type SQLiteVectorStore struct {
	*SQLite
}

func NewSQLiteVectorStore(s *SQLite) *SQLiteVectorStore {
	return &SQLiteVectorStore{SQLite: s}
}

// serializeVector converts a float32 slice to little endian bytes
func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeVector(data []byte) []float32 {
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector
}

func (s *SQLiteVectorStore) Upsert(ctx context.Context, rec models.EmbeddingRecord) error {
	if s.SQLite == nil || s.db == nil {
		return ErrNotConnected
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings (id, doi, title, content, vector, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				doi = excluded.doi,
				title = excluded.title,
				content = excluded.content,
				vector = excluded.vector,
				created_at = excluded.created_at;`,
			rec.ID, rec.DOI, rec.Title, rec.Content, serializeVector(rec.Embedding), created)
		if err != nil {
			return fmt.Errorf("can't upsert chunk %s: %w", rec.ID, err)
		}
		return nil
	})
}

func (s *SQLiteVectorStore) DeleteByDOI(ctx context.Context, doi string) error {
	if s.SQLite == nil || s.db == nil {
		return ErrNotConnected
	}
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE doi = ?", doi); err != nil {
			return fmt.Errorf("can't delete chunks of %s: %w", doi, err)
		}
		return nil
	})
}

func (s *SQLiteVectorStore) CountByDOI(ctx context.Context, doi string) (int, error) {
	if s.SQLite == nil || s.db == nil {
		return 0, ErrNotConnected
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings WHERE doi = ?", doi).Scan(&count); err != nil {
		return 0, fmt.Errorf("can't count chunks of %s: %w", doi, err)
	}
	return count, nil
}

func (s *SQLiteVectorStore) Search(ctx context.Context, params SearchParams) ([]models.RetrievalMatch, error) {
	if s.SQLite == nil || s.db == nil {
		return nil, ErrNotConnected
	}

	rows, err := s.db.QueryContext(ctx, "SELECT doi, title, content, vector FROM embeddings ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var matches []models.RetrievalMatch
	for rows.Next() {
		var (
			doi, title, content string
			vectorBytes         []byte
		)
		if err := rows.Scan(&doi, &title, &content, &vectorBytes); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		similarity := cosineSimilarity(params.Embedding, deserializeVector(vectorBytes))
		if similarity < params.Threshold {
			continue
		}
		matches = append(matches, models.RetrievalMatch{
			DOI:        doi,
			Title:      title,
			Content:    content,
			Similarity: float32(similarity),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return rankMatches(matches, params.Keywords, params.Limit), nil
}

// Close is a no-op, the shared SQLite handle is closed by its owner
func (s *SQLiteVectorStore) Close() error { return nil }

var _ VectorStore = (*SQLiteVectorStore)(nil)
