package fetcher

import (
	"fmt"
	"os"
	"path/filepath"

	"scholarqa/utils"
)

// ArtifactStore keeps the normalized text of every ingested DOI on disk
type ArtifactStore struct {
	dir string
}

func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact folder: %w", err)
	}
	return &ArtifactStore{dir: dir}, nil
}

// Path returns where the artifact for doi lives
func (a *ArtifactStore) Path(doi string) string {
	return filepath.Join(a.dir, utils.ArtifactName(doi))
}

// Save writes text for doi, replacing any earlier version atomically
func (a *ArtifactStore) Save(doi, text string) (string, error) {
	path := a.Path(doi)

	tmp, err := os.CreateTemp(a.dir, ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("can't create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return "", fmt.Errorf("can't write artifact for %s: %w", doi, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("can't close artifact for %s: %w", doi, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("can't move artifact into place for %s: %w", doi, err)
	}
	return path, nil
}

// Load reads back the stored text for doi
func (a *ArtifactStore) Load(doi string) (string, error) {
	data, err := os.ReadFile(a.Path(doi))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
