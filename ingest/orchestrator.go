package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"scholarqa/chunker"
	"scholarqa/db"
	"scholarqa/fetcher"
	"scholarqa/logger"
	"scholarqa/models"
	"scholarqa/profiles"
	"scholarqa/utils"
)

// DocumentFetcher is satisfied by *fetcher.Fetcher
type DocumentFetcher interface {
	FetchWithRetry(ctx context.Context, browser fetcher.Browser, rawURL string) (models.RawDocument, int, error)
}

// Titler is satisfied by *citation.Service
type Titler interface {
	Title(ctx context.Context, doi, fallback string) string
}

// ArticleRecorder is satisfied by *db.SQLite
type ArticleRecorder interface {
	UpsertArticle(ctx context.Context, a models.Article) error
}

type Deps struct {
	Launcher  fetcher.Launcher
	Fetcher   DocumentFetcher
	Submitter *Submitter
	Store     db.VectorStore
	// optional
	Titles    Titler
	Articles  ArticleRecorder
	Artifacts *fetcher.ArtifactStore
}

type Options struct {
	Workers     int
	TargetWords int
	Overlap     int
}

// Orchestrator runs one ingestion batch: fetch, chunk, replace and embed
type Orchestrator struct {
	deps Deps
	opts Options

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.TargetWords <= 0 {
		opts.TargetWords = chunker.DefaultTargetWords
	}
	if opts.Overlap < 0 {
		opts.Overlap = chunker.DefaultOverlap
	}
	return &Orchestrator{deps: deps, opts: opts, locks: make(map[string]*sync.Mutex)}
}

// NormalizeInputs expands bare DOIs, normalizes urls and drops blanks and duplicates
func NormalizeInputs(inputs []string) (urls []string, invalid []string) {
	seen := make(map[string]bool)
	for _, raw := range inputs {
		u, err := utils.ExpandInput(raw)
		if err != nil {
			if strings.TrimSpace(raw) != "" {
				invalid = append(invalid, raw)
			}
			continue
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls, invalid
}

// Run processes inputs with at most Workers urls in flight. Progress lines
// arrive on the returned channel, which is closed after the final "Done".
func (o *Orchestrator) Run(ctx context.Context, inputs []string) <-chan string {
	out := make(chan string, 16)

	go func() {
		defer close(out)
		emit := func(format string, args ...any) {
			line := fmt.Sprintf(format, args...)
			logger.Info("%s", line)
			logger.AppendLog(line)
			select {
			case out <- line:
			case <-ctx.Done():
			}
		}
		defer emit("Done")

		urls, invalid := NormalizeInputs(inputs)
		for _, raw := range invalid {
			emit("Invalid input %s", raw)
		}
		if len(urls) == 0 {
			emit("No urls, nothing to do")
			return
		}

		browser, err := o.deps.Launcher.Launch(ctx)
		if err != nil {
			emit("Can't start browser: %v", err)
			return
		}
		defer func() {
			if err := browser.Close(); err != nil {
				logger.Warn("browser close failed: %v", err)
			}
		}()

		emit("Ingesting %d urls with %d workers", len(urls), o.opts.Workers)

		sem := make(chan struct{}, o.opts.Workers)
		var wg sync.WaitGroup
		for _, u := range urls {
			select {
			case <-ctx.Done():
				emit("Stopped before %s: %v", u, ctx.Err())
				continue
			case sem <- struct{}{}:
			}

			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				defer func() { <-sem }()
				o.process(ctx, browser, u, emit)
			}(u)
		}
		wg.Wait()
	}()

	return out
}

func (o *Orchestrator) lockDOI(doi string) func() {
	o.locksMu.Lock()
	mu, ok := o.locks[doi]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[doi] = mu
	}
	o.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (o *Orchestrator) process(ctx context.Context, browser fetcher.Browser, u string, emit func(string, ...any)) {
	doc, attempts, err := o.deps.Fetcher.FetchWithRetry(ctx, browser, u)
	if err != nil {
		switch {
		case errors.Is(err, profiles.ErrUnsupportedHost):
			emit("Unknown web %s", u)
		case errors.Is(err, fetcher.ErrMissingIdentifier):
			emit("No DOI on %s", u)
		default:
			emit("Failed %s after %d tries: %v", u, attempts, err)
		}
		return
	}
	emit("Fetched %s (%s)", u, doc.DOI)

	title := doc.Title
	if o.deps.Titles != nil {
		title = o.deps.Titles.Title(ctx, doc.DOI, doc.Title)
	}

	chunks := chunker.Chunk(title, doc.DOI, doc.Text, o.opts.TargetWords, o.opts.Overlap)
	if len(chunks) == 0 {
		emit("No text to index for %s", doc.DOI)
		return
	}

	unlock := o.lockDOI(doc.DOI)
	defer unlock()

	if err := o.deps.Store.DeleteByDOI(ctx, doc.DOI); err != nil {
		emit("Can't clear old chunks of %s: %v", doc.DOI, err)
		return
	}

	var stored, skipped atomic.Int32
	var wg sync.WaitGroup
	for _, c := range chunks {
		wg.Add(1)
		go func(c models.Chunk) {
			defer wg.Done()
			switch res := o.deps.Submitter.Submit(ctx, c); res.Status {
			case Stored:
				stored.Add(1)
			case Skipped:
				skipped.Add(1)
			}
		}(c)
	}
	wg.Wait()

	if o.deps.Articles != nil {
		article := models.Article{
			DOI:    doc.DOI,
			URL:    doc.URL,
			Title:  title,
			Chunks: len(chunks),
			Stored: int(stored.Load()),
		}
		if o.deps.Artifacts != nil {
			article.ArtifactPath = o.deps.Artifacts.Path(doc.DOI)
		}
		if err := o.deps.Articles.UpsertArticle(ctx, article); err != nil {
			logger.Warn("can't record article %s: %v", doc.DOI, err)
		}
	}

	emit("Stored %d/%d chunks for %s (%d skipped)", stored.Load(), len(chunks), doc.DOI, skipped.Load())
}
