package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"scholarqa/logger"
	"scholarqa/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the local database: article bookkeeping, the citation cache and,
// with the sqlite backend, the embeddings themselves
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	if dbPath == "" {
		dbPath = "./scholarqa.db"
	}

	logger.Debug("Opening SQLite DB at: %s", dbPath)
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("can't open db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("can't create tables: %w", err)
	}
	return s, nil
}

// helper for running stuff in a transaction
func (s *SQLite) withTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if err := s.HealthCheck(ctx); err != nil {
		return fmt.Errorf("DB health check failed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("can't begin transaction: %w", err)
	}

	var committed bool
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logger.Warn("Rollback failed: %v", rbErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("can't commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (s *SQLite) createTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	createArticlesTable := `
	CREATE TABLE IF NOT EXISTS articles (
		doi TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		title TEXT,
		artifact_path TEXT,
		chunks INTEGER NOT NULL DEFAULT 0,
		stored INTEGER NOT NULL DEFAULT 0,
		ingested_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	createCitationsTable := `
	CREATE TABLE IF NOT EXISTS citations (
		doi TEXT PRIMARY KEY,
		title TEXT,
		first_author TEXT,
		last_author TEXT,
		year INTEGER,
		journal TEXT,
		fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	createEmbeddingsTable := `
	CREATE TABLE IF NOT EXISTS embeddings (
		id TEXT PRIMARY KEY,
		doi TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		vector BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	createIndexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_articles_url ON articles(url);",
		"CREATE INDEX IF NOT EXISTS idx_embeddings_doi ON embeddings(doi);",
	}

	for _, q := range []string{createArticlesTable, createCitationsTable, createEmbeddingsTable} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("can't create table: %w", err)
		}
	}
	// databases created before chunk titles were stored
	if _, err := s.db.ExecContext(ctx, "ALTER TABLE embeddings ADD COLUMN title TEXT NOT NULL DEFAULT ''"); err != nil &&
		!strings.Contains(err.Error(), "duplicate column name") {
		return fmt.Errorf("can't add embeddings.title: %w", err)
	}
	for _, q := range createIndexes {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("can't create index: %w", err)
		}
	}
	return nil
}

// UpsertArticle records the outcome of one ingested document
func (s *SQLite) UpsertArticle(ctx context.Context, a models.Article) error {
	if a.IngestedAt.IsZero() {
		a.IngestedAt = time.Now().UTC()
	}
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO articles (doi, url, title, artifact_path, chunks, stored, ingested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(doi) DO UPDATE SET
				url = excluded.url,
				title = excluded.title,
				artifact_path = excluded.artifact_path,
				chunks = excluded.chunks,
				stored = excluded.stored,
				ingested_at = excluded.ingested_at;`,
			a.DOI, a.URL, a.Title, a.ArtifactPath, a.Chunks, a.Stored, a.IngestedAt)
		if err != nil {
			return fmt.Errorf("upsert article %s failed: %w", a.DOI, err)
		}
		return nil
	})
}

// GetArticle returns nil, nil when the DOI was never ingested
func (s *SQLite) GetArticle(ctx context.Context, doi string) (*models.Article, error) {
	var a models.Article
	var title, artifact sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT doi, url, title, artifact_path, chunks, stored, ingested_at
		FROM articles WHERE doi = ?`, doi).Scan(
		&a.DOI, &a.URL, &title, &artifact, &a.Chunks, &a.Stored, &a.IngestedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get article failed: %w", err)
	}
	a.Title, a.ArtifactPath = title.String, artifact.String
	return &a, nil
}

// ListArticles returns the most recently ingested articles first
func (s *SQLite) ListArticles(ctx context.Context, limit int) ([]models.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doi, url, title, artifact_path, chunks, stored, ingested_at
		FROM articles ORDER BY ingested_at DESC, doi LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list articles failed: %w", err)
	}
	defer rows.Close()

	articles := []models.Article{}
	for rows.Next() {
		var a models.Article
		var title, artifact sql.NullString
		if err := rows.Scan(&a.DOI, &a.URL, &title, &artifact, &a.Chunks, &a.Stored, &a.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan article failed: %w", err)
		}
		a.Title, a.ArtifactPath = title.String, artifact.String
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating articles error: %w", err)
	}
	return articles, nil
}

// SaveCitation caches metadata fetched from the citation service
func (s *SQLite) SaveCitation(ctx context.Context, c models.CitationMetadata) error {
	if c.FetchedAt.IsZero() {
		c.FetchedAt = time.Now().UTC()
	}
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO citations (doi, title, first_author, last_author, year, journal, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(doi) DO UPDATE SET
				title = excluded.title,
				first_author = excluded.first_author,
				last_author = excluded.last_author,
				year = excluded.year,
				journal = excluded.journal,
				fetched_at = excluded.fetched_at;`,
			strings.ToLower(c.DOI), c.Title, c.FirstAuthor, c.LastAuthor, c.Year, c.Journal, c.FetchedAt)
		if err != nil {
			return fmt.Errorf("save citation %s failed: %w", c.DOI, err)
		}
		return nil
	})
}

// GetCitation returns nil, nil on a cache miss
func (s *SQLite) GetCitation(ctx context.Context, doi string) (*models.CitationMetadata, error) {
	var c models.CitationMetadata
	var title, first, last, journal sql.NullString
	var year sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT doi, title, first_author, last_author, year, journal, fetched_at
		FROM citations WHERE doi = ?`, strings.ToLower(doi)).Scan(
		&c.DOI, &title, &first, &last, &year, &journal, &c.FetchedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get citation failed: %w", err)
	}
	c.Title, c.FirstAuthor, c.LastAuthor, c.Journal = title.String, first.String, last.String, journal.String
	c.Year = int(year.Int64)
	return &c, nil
}

func (s *SQLite) HealthCheck(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("DB handler or connection is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var tmp int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&tmp); err != nil {
		return fmt.Errorf("simple query test failed: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		logger.Debug("Closing DB connection...")
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) GracefulShutdown(timeout time.Duration) error {
	if s.db == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Error shutting down DB: %v", err)
		} else {
			logger.Info("DB closed cleanly")
		}
		return err
	case <-ctx.Done():
		logger.Warn("DB shutdown timeout, forcing close")
		return fmt.Errorf("DB shutdown timeout")
	}
}
