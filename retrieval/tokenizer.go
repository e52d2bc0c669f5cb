package retrieval

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Tokenizer counts tokens the way the answering model would
type Tokenizer interface {
	Count(text string) int
}

// EstimateCounter approximates four characters per token
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// TiktokenCounter uses the cl100k_base BPE shipped with the binary
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

var loaderOnce sync.Once

func NewTiktokenCounter() (*TiktokenCounter, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("can't load cl100k_base: %w", err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (t *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenizer picks a counter by name, "estimate" or "tiktoken"
func NewTokenizer(name string) (Tokenizer, error) {
	switch name {
	case "estimate":
		return EstimateCounter{}, nil
	case "", "tiktoken":
		return NewTiktokenCounter()
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}
