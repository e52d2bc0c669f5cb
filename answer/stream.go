package answer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"scholarqa/models"
)

const (
	SourceMarker  = "SOURCE:"
	sourceTrailer = "\n" + SourceMarker + " "
)

// SourceTrailer renders the sources appended after the answer: one entry per
// DOI with any "SOURCE:" inside the chunk text removed
func SourceTrailer(block models.ContextBlock) string {
	seen := make(map[string]bool, len(block.Entries))
	var parts []string
	for _, e := range block.Entries {
		if seen[e.DOI] {
			continue
		}
		seen[e.DOI] = true
		parts = append(parts, strings.ReplaceAll(e.Text, SourceMarker, ""))
	}
	return sourceTrailer + strings.Join(parts, models.ContextSeparator)
}

// Stream copies every token to w as it arrives, flushing when w supports it,
// then appends the source trailer. A failed stream returns its error and no trailer.
func Stream(ctx context.Context, w io.Writer, tokens TokenStream, block models.ContextBlock) error {
	defer tokens.Close()

	flusher, _ := w.(http.Flusher)
	write := func(s string) error {
		if _, err := io.WriteString(w, s); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		token, err := tokens.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("answer stream broke: %w", err)
		}
		if err := write(token); err != nil {
			return fmt.Errorf("can't write answer: %w", err)
		}
	}

	return write(SourceTrailer(block))
}

// Collect drains a stream into one string
func Collect(ctx context.Context, tokens TokenStream) (string, error) {
	defer tokens.Close()

	var b strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return b.String(), err
		}
		token, err := tokens.Next()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(token)
	}
}
