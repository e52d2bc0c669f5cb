package fetcher

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// Launcher starts one browser per ingestion run
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser hands out isolated tabs, shared by all workers of a run
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
	Close() error
}

// Tab is one page, opened and closed per url
type Tab interface {
	// Navigate loads url and returns the final url after redirects
	Navigate(ctx context.Context, url string) (string, error)
	WaitVisible(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	Close() error
}

// ChromeLauncher runs a local headless Chrome through chromedp
type ChromeLauncher struct {
	ExecPath  string
	Headless  bool
	UserAgent string
	Proxy     string // e.g. socks5://127.0.0.1:1080
}

func (l ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.Headless),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}
	if l.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.UserAgent))
	}
	if l.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(l.Proxy))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// first Run starts the browser process
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("can't start browser: %w", err)
	}

	return &chromeBrowser{
		ctx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}, nil
}

type chromeBrowser struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (b *chromeBrowser) NewTab(ctx context.Context) (Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)

	// the first Run attaches the target and its event loop lives as long as
	// the context passed here, so it must be the tab context itself
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tabCtx)
	if !stop() {
		// ctx ended and already cancelled the tab
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("can't open tab: %w", err)
	}
	return &chromeTab{ctx: tabCtx, cancel: cancel}, nil
}

func (b *chromeBrowser) Close() error {
	b.cancel()
	return nil
}

type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on an attached tab while honouring the caller's deadline and cancellation
func (t *chromeTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (t *chromeTab) Navigate(ctx context.Context, url string) (string, error) {
	var location string
	if err := t.run(ctx, chromedp.Navigate(url), chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (t *chromeTab) WaitVisible(ctx context.Context, selector string) error {
	return t.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (t *chromeTab) HTML(ctx context.Context) (string, error) {
	var page string
	if err := t.run(ctx, chromedp.OuterHTML("html", &page, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return page, nil
}

func (t *chromeTab) Close() error {
	t.cancel()
	return nil
}
