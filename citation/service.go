package citation

import (
	"context"
	"errors"

	"scholarqa/logger"
	"scholarqa/models"
	"scholarqa/utils"
)

// Cache is satisfied by *db.SQLite
type Cache interface {
	GetCitation(ctx context.Context, doi string) (*models.CitationMetadata, error)
	SaveCitation(ctx context.Context, c models.CitationMetadata) error
}

type Fetcher interface {
	Fetch(ctx context.Context, doi string) (models.CitationMetadata, error)
}

// Service answers citation lookups from the cache, falling back to the remote source
type Service struct {
	cache  Cache
	remote Fetcher
}

func NewService(cache Cache, remote Fetcher) *Service {
	return &Service{cache: cache, remote: remote}
}

func (s *Service) Lookup(ctx context.Context, doi string) (models.CitationMetadata, error) {
	doi = utils.StripDOIPrefix(doi)

	if s.cache != nil {
		cached, err := s.cache.GetCitation(ctx, doi)
		if err != nil {
			logger.Warn("citation cache read failed for %s: %v", doi, err)
		} else if cached != nil {
			return *cached, nil
		}
	}

	meta, err := s.remote.Fetch(ctx, doi)
	if err != nil {
		return models.CitationMetadata{}, err
	}

	if s.cache != nil {
		if err := s.cache.SaveCitation(ctx, meta); err != nil {
			logger.Warn("citation cache write failed for %s: %v", doi, err)
		}
	}
	return meta, nil
}

// Title returns the article title for doi, or fallback when the lookup fails
func (s *Service) Title(ctx context.Context, doi, fallback string) string {
	meta, err := s.Lookup(ctx, doi)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Warn("citation lookup failed for %s: %v", doi, err)
		}
		return fallback
	}
	if meta.Title == "" {
		return fallback
	}
	return meta.Title
}
