//go:build chrome

package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -tags chrome ./fetcher, needs a local Chrome (CHROME_PATH to override)
func TestChromeTabsNavigateAfterOpening(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><div id="content">page %s</div></body></html>`, r.URL.Path)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	browser, err := ChromeLauncher{ExecPath: os.Getenv("CHROME_PATH"), Headless: true}.Launch(ctx)
	require.NoError(t, err)
	defer browser.Close()

	for _, path := range []string{"/one", "/two"} {
		openCtx, openCancel := context.WithTimeout(ctx, 10*time.Second)
		tab, err := browser.NewTab(openCtx)
		openCancel()
		require.NoError(t, err)

		navCtx, navCancel := context.WithTimeout(ctx, 10*time.Second)
		final, err := tab.Navigate(navCtx, srv.URL+path)
		navCancel()
		require.NoError(t, err)
		assert.Equal(t, srv.URL+path, final)

		waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
		require.NoError(t, tab.WaitVisible(waitCtx, "#content"))
		waitCancel()

		page, err := tab.HTML(ctx)
		require.NoError(t, err)
		assert.Contains(t, page, "page "+path)
		require.NoError(t, tab.Close())
	}
}
