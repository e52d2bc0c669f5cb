package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scholarqa/logger"
	"scholarqa/models"
	"scholarqa/profiles"
)

var (
	ErrMissingIdentifier = errors.New("no DOI found")
	ErrNavigationTimeout = errors.New("navigation timeout")
	ErrNoContent         = errors.New("no article text")
	ErrDisallowed        = errors.New("blocked by robots.txt")
)

// Options tune the fetcher, zero values fall back to defaults
type Options struct {
	NavTimeout  time.Duration
	WaitTimeout time.Duration
	Attempts    int
	Backoff     time.Duration
}

type Fetcher struct {
	registry  *profiles.Registry
	artifacts *ArtifactStore
	robots    *RobotsChecker
	opts      Options
}

// New builds a fetcher; robots may be nil to skip robots.txt checks
func New(registry *profiles.Registry, artifacts *ArtifactStore, robots *RobotsChecker, opts Options) *Fetcher {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 10 * time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 10 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	return &Fetcher{registry: registry, artifacts: artifacts, robots: robots, opts: opts}
}

// Terminal reports whether retrying err can't help
func Terminal(err error) bool {
	return errors.Is(err, profiles.ErrUnsupportedHost) ||
		errors.Is(err, ErrMissingIdentifier) ||
		errors.Is(err, ErrNoContent) ||
		errors.Is(err, ErrDisallowed) ||
		errors.Is(err, context.Canceled)
}

// FetchWithRetry runs Fetch up to Attempts times, stopping early on terminal errors
func (f *Fetcher) FetchWithRetry(ctx context.Context, browser Browser, rawURL string) (models.RawDocument, int, error) {
	var lastErr error
	for attempt := 1; attempt <= f.opts.Attempts; attempt++ {
		doc, err := f.Fetch(ctx, browser, rawURL)
		if err == nil {
			return doc, attempt, nil
		}
		lastErr = err
		if Terminal(err) || ctx.Err() != nil {
			return models.RawDocument{}, attempt, err
		}

		logger.Warn("fetch attempt %d/%d for %s failed: %v", attempt, f.opts.Attempts, rawURL, err)
		if attempt < f.opts.Attempts {
			backoff := time.Duration(attempt*attempt) * f.opts.Backoff
			select {
			case <-ctx.Done():
				return models.RawDocument{}, attempt, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return models.RawDocument{}, f.opts.Attempts, fmt.Errorf("all %d tries failed: %w", f.opts.Attempts, lastErr)
}

// Fetch renders one article page in its own tab and returns the cleaned document
func (f *Fetcher) Fetch(ctx context.Context, browser Browser, rawURL string) (models.RawDocument, error) {
	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, rawURL)
		if err != nil {
			return models.RawDocument{}, err
		}
		if !allowed {
			return models.RawDocument{}, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
		}
	}

	tab, err := browser.NewTab(ctx)
	if err != nil {
		return models.RawDocument{}, err
	}
	defer tab.Close()

	finalURL, err := f.navigate(ctx, tab, rawURL)
	if err != nil {
		return models.RawDocument{}, err
	}
	profile, err := f.registry.Lookup(finalURL)
	if err != nil {
		return models.RawDocument{}, err
	}

	if rewritten, changed := profile.Rewrite(finalURL); changed {
		logger.Debug("rewriting %s to %s", finalURL, rewritten)
		if finalURL, err = f.navigate(ctx, tab, rewritten); err != nil {
			return models.RawDocument{}, err
		}
		if profile, err = f.registry.Lookup(finalURL); err != nil {
			return models.RawDocument{}, err
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, f.opts.WaitTimeout)
	err = tab.WaitVisible(waitCtx, profile.ContentSelectors[0])
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return models.RawDocument{}, ctx.Err()
		}
		return models.RawDocument{}, fmt.Errorf("%w: content %q never appeared on %s: %v", ErrNavigationTimeout, profile.ContentSelectors[0], finalURL, err)
	}

	page, err := tab.HTML(ctx)
	if err != nil {
		return models.RawDocument{}, fmt.Errorf("can't read page %s: %w", finalURL, err)
	}

	doc, err := Extract(profile, page, finalURL)
	if err != nil {
		return models.RawDocument{}, err
	}

	if f.artifacts != nil {
		path, err := f.artifacts.Save(doc.DOI, doc.Text)
		if err != nil {
			return models.RawDocument{}, err
		}
		logger.Debug("saved %s to %s", doc.DOI, path)
	}
	return doc, nil
}

func (f *Fetcher) navigate(ctx context.Context, tab Tab, rawURL string) (string, error) {
	navCtx, cancel := context.WithTimeout(ctx, f.opts.NavTimeout)
	defer cancel()

	finalURL, err := tab.Navigate(navCtx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s", ErrNavigationTimeout, rawURL)
		}
		return "", fmt.Errorf("can't navigate to %s: %w", rawURL, err)
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	return finalURL, nil
}
