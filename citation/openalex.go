package citation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scholarqa/models"
	"scholarqa/utils"

	"golang.org/x/time/rate"
)

var ErrNotFound = errors.New("no metadata for DOI")

// OpenAlexClient looks works up by DOI on the OpenAlex API
type OpenAlexClient struct {
	baseURL    string
	mailto     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewOpenAlexClient(baseURL, mailto string, rps float64, httpClient *http.Client) *OpenAlexClient {
	if baseURL == "" {
		baseURL = "https://api.openalex.org"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &OpenAlexClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		mailto:     mailto,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

type work struct {
	DOI             string `json:"doi"`
	Title           string `json:"title"`
	DisplayName     string `json:"display_name"`
	PublicationYear int    `json:"publication_year"`
	PrimaryLocation struct {
		Source *struct {
			DisplayName string `json:"display_name"`
		} `json:"source"`
	} `json:"primary_location"`
	Authorships []struct {
		AuthorPosition string `json:"author_position"`
		Author         struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
}

func (w work) metadata(doi string) models.CitationMetadata {
	meta := models.CitationMetadata{
		DOI:   doi,
		Title: w.Title,
		Year:  w.PublicationYear,
	}
	if meta.Title == "" {
		meta.Title = w.DisplayName
	}
	if src := w.PrimaryLocation.Source; src != nil {
		meta.Journal = src.DisplayName
	}
	for _, a := range w.Authorships {
		switch a.AuthorPosition {
		case "first":
			meta.FirstAuthor = a.Author.DisplayName
		case "last":
			meta.LastAuthor = a.Author.DisplayName
		}
	}
	// positions are missing on some older works
	if n := len(w.Authorships); n > 0 {
		if meta.FirstAuthor == "" {
			meta.FirstAuthor = w.Authorships[0].Author.DisplayName
		}
		if meta.LastAuthor == "" && n > 1 {
			meta.LastAuthor = w.Authorships[n-1].Author.DisplayName
		}
	}
	return meta
}

// Fetch asks OpenAlex for the work behind doi
func (c *OpenAlexClient) Fetch(ctx context.Context, doi string) (models.CitationMetadata, error) {
	doi = utils.StripDOIPrefix(doi)
	if doi == "" {
		return models.CitationMetadata{}, fmt.Errorf("empty DOI")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return models.CitationMetadata{}, err
	}

	endpoint := c.baseURL + "/works/" + utils.DOIResolver + doi
	if c.mailto != "" {
		endpoint += "?" + url.Values{"mailto": {c.mailto}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.CitationMetadata{}, fmt.Errorf("can't build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.CitationMetadata{}, fmt.Errorf("can't reach OpenAlex: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.CitationMetadata{}, fmt.Errorf("%w: %s", ErrNotFound, doi)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.CitationMetadata{}, fmt.Errorf("OpenAlex returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var w work
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return models.CitationMetadata{}, fmt.Errorf("can't decode OpenAlex response: %w", err)
	}
	meta := w.metadata(doi)
	meta.FetchedAt = time.Now().UTC()
	return meta, nil
}
