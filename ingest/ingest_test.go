package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scholarqa/db"
	"scholarqa/fetcher"
	"scholarqa/models"
	"scholarqa/profiles"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyEmbedder struct {
	mu       sync.Mutex
	failures int
	calls    int
	inputs   []string
}

func (e *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.inputs = append(e.inputs, text)
	if e.calls <= e.failures {
		return nil, errors.New("503 service unavailable")
	}
	return []float32{1, 0, 0}, nil
}

type memStore struct {
	mu       sync.Mutex
	rows     map[string]models.EmbeddingRecord
	deletes  map[string]int
	writeErr error
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]models.EmbeddingRecord{}, deletes: map[string]int{}}
}

func (s *memStore) Upsert(ctx context.Context, rec models.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.rows[rec.ID] = rec
	return nil
}

func (s *memStore) DeleteByDOI(ctx context.Context, doi string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes[doi]++
	for id, r := range s.rows {
		if r.DOI == doi {
			delete(s.rows, id)
		}
	}
	return nil
}

func (s *memStore) CountByDOI(ctx context.Context, doi string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.DOI == doi {
			n++
		}
	}
	return n, nil
}

func (s *memStore) Search(ctx context.Context, params db.SearchParams) ([]models.RetrievalMatch, error) {
	return nil, nil
}

func (s *memStore) HealthCheck(ctx context.Context) error { return nil }
func (s *memStore) Close() error                          { return nil }

func (s *memStore) contents(doi string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.rows {
		if r.DOI == doi {
			out = append(out, r.Content)
		}
	}
	return out
}

var fastRetry = SubmitterOptions{MinChars: 10, Attempts: 3, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond}

func longChunk(doi string) models.Chunk {
	return models.Chunk{
		DOI:   doi,
		Title: "Paper",
		Seq:   0,
		Text:  "Paper. " + strings.Repeat("Tanycytes line the third ventricle.\n", 5),
	}
}

func TestSubmitFailsTwiceThenSucceeds(t *testing.T) {
	emb := &flakyEmbedder{failures: 2}
	store := newMemStore()
	s := NewSubmitter(emb, store, fastRetry)

	res := s.Submit(context.Background(), longChunk("10.1/a"))
	assert.Equal(t, Stored, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.NoError(t, res.Err)

	n, _ := store.CountByDOI(context.Background(), "10.1/a")
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, emb.calls)
	for _, rec := range store.rows {
		assert.Equal(t, "Paper", rec.Title)
	}
}

func TestSubmitDropsAfterExhaustingAttempts(t *testing.T) {
	emb := &flakyEmbedder{failures: 10}
	store := newMemStore()
	s := NewSubmitter(emb, store, fastRetry)

	res := s.Submit(context.Background(), longChunk("10.1/a"))
	assert.Equal(t, Dropped, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, errors.Is(res.Err, ErrEmbeddingService))
	assert.Equal(t, 3, emb.calls)

	n, _ := store.CountByDOI(context.Background(), "10.1/a")
	assert.Zero(t, n)
}

func TestSubmitSkipsShortChunks(t *testing.T) {
	emb := &flakyEmbedder{}
	s := NewSubmitter(emb, newMemStore(), SubmitterOptions{BackoffMin: time.Millisecond})

	res := s.Submit(context.Background(), models.Chunk{DOI: "10.1/a", Text: "Paper. Too short."})
	assert.Equal(t, Skipped, res.Status)
	assert.Zero(t, emb.calls)
}

func TestSubmitReplacesNewlines(t *testing.T) {
	emb := &flakyEmbedder{}
	store := newMemStore()
	s := NewSubmitter(emb, store, fastRetry)

	res := s.Submit(context.Background(), longChunk("10.1/a"))
	require.Equal(t, Stored, res.Status)
	require.Len(t, emb.inputs, 1)
	assert.NotContains(t, emb.inputs[0], "\n")
	for _, c := range store.contents("10.1/a") {
		assert.NotContains(t, c, "\n")
	}
}

func TestSubmitStoreFailureDrops(t *testing.T) {
	store := newMemStore()
	store.writeErr = errors.New("disk full")
	s := NewSubmitter(&flakyEmbedder{}, store, fastRetry)

	res := s.Submit(context.Background(), longChunk("10.1/a"))
	assert.Equal(t, Dropped, res.Status)
	assert.True(t, errors.Is(res.Err, ErrStoreWrite))
}

func TestSubmitStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSubmitter(&flakyEmbedder{failures: 10}, newMemStore(), SubmitterOptions{MinChars: 10, BackoffMin: time.Hour})

	res := s.Submit(ctx, longChunk("10.1/a"))
	assert.Equal(t, Dropped, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

type fakeBrowser struct{ closed atomic.Bool }

func (b *fakeBrowser) NewTab(ctx context.Context) (fetcher.Tab, error) {
	return nil, errors.New("unused")
}

func (b *fakeBrowser) Close() error {
	b.closed.Store(true)
	return nil
}

type fakeLauncher struct{ browser *fakeBrowser }

func (l *fakeLauncher) Launch(ctx context.Context) (fetcher.Browser, error) { return l.browser, nil }

type fakeFetcher struct {
	mu       sync.Mutex
	docs     map[string]models.RawDocument
	errs     map[string]error
	calls    map[string]int
	delay    time.Duration
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeFetcher) FetchWithRetry(ctx context.Context, browser fetcher.Browser, rawURL string) (models.RawDocument, int, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[rawURL]++
	if err, ok := f.errs[rawURL]; ok {
		return models.RawDocument{}, 1, err
	}
	doc, ok := f.docs[rawURL]
	if !ok {
		return models.RawDocument{}, 4, fmt.Errorf("all 4 tries failed: %w", fetcher.ErrNavigationTimeout)
	}
	return doc, 1, nil
}

type recordedArticles struct {
	mu       sync.Mutex
	articles []models.Article
}

func (r *recordedArticles) UpsertArticle(ctx context.Context, a models.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.articles = append(r.articles, a)
	return nil
}

type staticTitles map[string]string

func (s staticTitles) Title(ctx context.Context, doi, fallback string) string {
	if t, ok := s[doi]; ok {
		return t
	}
	return fallback
}

func articleText(label string, sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "%s sentence %d describes tanycyte signalling in detail. ", label, i)
	}
	return strings.TrimSpace(b.String())
}

func collect(ch <-chan string) []string {
	var lines []string
	for line := range ch {
		lines = append(lines, line)
	}
	return lines
}

func newTestOrchestrator(f *fakeFetcher, store *memStore, workers int) (*Orchestrator, *fakeBrowser, *recordedArticles) {
	browser := &fakeBrowser{}
	articles := &recordedArticles{}
	o := NewOrchestrator(Deps{
		Launcher:  &fakeLauncher{browser: browser},
		Fetcher:   f,
		Submitter: NewSubmitter(&flakyEmbedder{}, store, fastRetry),
		Store:     store,
		Titles:    staticTitles{"10.1/a": "Tanycytes in mice"},
		Articles:  articles,
	}, Options{Workers: workers, TargetWords: 20, Overlap: 1})
	return o, browser, articles
}

func TestRunUnknownWebDoesNotStopOthers(t *testing.T) {
	f := &fakeFetcher{
		docs: map[string]models.RawDocument{
			"https://doi.org/10.1/a": {DOI: "10.1/a", Title: "Page title", Text: articleText("A", 6), URL: "https://www.nature.com/articles/a"},
		},
		errs: map[string]error{
			"https://example.com/paper": fmt.Errorf("%w: example", profiles.ErrUnsupportedHost),
		},
	}
	store := newMemStore()
	o, browser, articles := newTestOrchestrator(f, store, 5)

	lines := collect(o.Run(context.Background(), []string{"https://example.com/paper", "10.1/a"}))

	assert.Contains(t, lines, "Unknown web https://example.com/paper")
	assert.Equal(t, "Done", lines[len(lines)-1])
	assert.Equal(t, 1, f.calls["https://example.com/paper"])
	assert.True(t, browser.closed.Load())

	n, _ := store.CountByDOI(context.Background(), "10.1/a")
	assert.Positive(t, n)
	for _, c := range store.contents("10.1/a") {
		assert.True(t, strings.HasPrefix(c, "Tanycytes in mice. "), c)
	}

	require.Len(t, articles.articles, 1)
	assert.Equal(t, "Tanycytes in mice", articles.articles[0].Title)
	assert.Equal(t, n, articles.articles[0].Stored)
}

func TestRunDeduplicatesAndDeletesOnce(t *testing.T) {
	f := &fakeFetcher{
		docs: map[string]models.RawDocument{
			"https://doi.org/10.1/a": {DOI: "10.1/a", Title: "A", Text: articleText("A", 8)},
		},
	}
	store := newMemStore()
	o, _, _ := newTestOrchestrator(f, store, 2)

	collect(o.Run(context.Background(), []string{"10.1/a", " https://doi.org/10.1/a/ ", "https://doi.org/10.1/a#refs", ""}))

	assert.Equal(t, 1, f.calls["https://doi.org/10.1/a"])
	assert.Equal(t, 1, store.deletes["10.1/a"])
}

func TestRunReingestReplacesRows(t *testing.T) {
	store := newMemStore()
	f := &fakeFetcher{docs: map[string]models.RawDocument{
		"https://doi.org/10.1/r": {DOI: "10.1/r", Title: "R", Text: articleText("First", 12)},
	}}
	o, _, _ := newTestOrchestrator(f, store, 1)
	collect(o.Run(context.Background(), []string{"10.1/r"}))
	firstCount, _ := store.CountByDOI(context.Background(), "10.1/r")

	f.docs["https://doi.org/10.1/r"] = models.RawDocument{DOI: "10.1/r", Title: "R", Text: articleText("Second", 4)}
	collect(o.Run(context.Background(), []string{"10.1/r"}))
	secondCount, _ := store.CountByDOI(context.Background(), "10.1/r")

	assert.Greater(t, firstCount, secondCount)
	for _, c := range store.contents("10.1/r") {
		assert.Contains(t, c, "Second sentence")
		assert.NotContains(t, c, "First sentence")
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	docs := map[string]models.RawDocument{}
	var inputs []string
	for i := 0; i < 12; i++ {
		doi := fmt.Sprintf("10.1/p%d", i)
		docs["https://doi.org/"+doi] = models.RawDocument{DOI: doi, Title: "P", Text: articleText("P", 3)}
		inputs = append(inputs, doi)
	}
	f := &fakeFetcher{docs: docs, delay: 20 * time.Millisecond}
	o, _, _ := newTestOrchestrator(f, newMemStore(), 3)

	lines := collect(o.Run(context.Background(), inputs))

	assert.LessOrEqual(t, f.peak.Load(), int32(3))
	assert.Equal(t, "Done", lines[len(lines)-1])
}

func TestRunReportsFailures(t *testing.T) {
	f := &fakeFetcher{
		errs: map[string]error{
			"https://www.nature.com/articles/x": fmt.Errorf("%w on page", fetcher.ErrMissingIdentifier),
		},
	}
	o, _, _ := newTestOrchestrator(f, newMemStore(), 2)

	lines := collect(o.Run(context.Background(), []string{"https://www.nature.com/articles/x", "https://www.nature.com/articles/y", "not a url"}))

	assert.Contains(t, lines, "Invalid input not a url")
	assert.Contains(t, lines, "No DOI on https://www.nature.com/articles/x")
	var failed bool
	for _, l := range lines {
		if strings.HasPrefix(l, "Failed https://www.nature.com/articles/y after 4 tries") {
			failed = true
		}
	}
	assert.True(t, failed, lines)
	assert.Equal(t, "Done", lines[len(lines)-1])
}

func TestRunWithNothingToDo(t *testing.T) {
	o, _, _ := newTestOrchestrator(&fakeFetcher{}, newMemStore(), 1)
	lines := collect(o.Run(context.Background(), []string{"", "  "}))
	assert.Equal(t, []string{"No urls, nothing to do", "Done"}, lines)
}

func TestNormalizeInputs(t *testing.T) {
	urls, invalid := NormalizeInputs([]string{
		"10.1038/s41586-020-1",
		"https://www.nature.com/articles/s41586-020-1/?utm=x",
		"https://www.nature.com/articles/s41586-020-1",
		"",
		"nope",
	})
	assert.Equal(t, []string{
		"https://doi.org/10.1038/s41586-020-1",
		"https://www.nature.com/articles/s41586-020-1",
	}, urls)
	assert.Equal(t, []string{"nope"}, invalid)
}
