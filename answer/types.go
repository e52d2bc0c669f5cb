package answer

import (
	"context"
	"errors"
)

var (
	ErrEmptyQuestion = errors.New("no question in the request")
	// ErrRetrieval marks failures that happen before any answer byte is written
	ErrRetrieval  = errors.New("retrieval failed")
	ErrCompletion = errors.New("completion failed")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model            string
	Messages         []Message
	MaxTokens        int
	Temperature      float64
	FrequencyPenalty float64
	LogitBias        map[string]int
}

// TokenStream yields answer fragments in order. Next returns io.EOF after the last one.
type TokenStream interface {
	Next() (string, error)
	Close() error
}

// Completer starts a streamed chat completion
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (TokenStream, error)
}
