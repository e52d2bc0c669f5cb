package answer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"scholarqa/embedding"
	"scholarqa/logger"
	"scholarqa/models"
	"scholarqa/retrieval"
)

// Retriever is satisfied by *retrieval.Retriever
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (models.ContextBlock, error)
}

type Options struct {
	Model              string
	LongModel          string
	MaxTokens          int
	LongMaxTokens      int
	Temperature        float64
	FrequencyPenalty   float64
	LogitBias          bool
	Threshold          float64
	MatchCount         int
	MaxChunksPerSource int
	TokenBudget        int
	LongTokenBudget    int
}

// Request is one question as received from the CLI or HTTP
type Request struct {
	Question           string `json:"question"`
	Keywords           string `json:"keywords,omitempty"`
	MaxChunksPerSource int    `json:"maxChunksPerSource,omitempty"`
	TokenBudget        int    `json:"tokenBudget,omitempty"`
	LongContext        bool   `json:"longContext,omitempty"`
	Hypothetical       bool   `json:"hypothetical,omitempty"`
}

// Service answers questions from the indexed corpus
type Service struct {
	embedder  embedding.Embedder
	retriever Retriever
	completer Completer
	opts      Options
}

func NewService(embedder embedding.Embedder, retriever Retriever, completer Completer, opts Options) *Service {
	if opts.Model == "" {
		opts.Model = "gpt-3.5-turbo-0613"
	}
	if opts.LongModel == "" {
		opts.LongModel = "gpt-3.5-turbo-16k"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	if opts.LongMaxTokens <= 0 {
		opts.LongMaxTokens = 1500
	}
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = retrieval.DefaultTokenBudget
	}
	if opts.LongTokenBudget <= 0 {
		opts.LongTokenBudget = retrieval.LongTokenBudget
	}
	return &Service{embedder: embedder, retriever: retriever, completer: completer, opts: opts}
}

// SplitKeywords turns "a, b,,c" into [a b c]
func SplitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func (s *Service) completion(messages []Message, long bool) CompletionRequest {
	req := CompletionRequest{
		Model:            s.opts.Model,
		Messages:         messages,
		MaxTokens:        s.opts.MaxTokens,
		Temperature:      s.opts.Temperature,
		FrequencyPenalty: s.opts.FrequencyPenalty,
	}
	if long {
		req.Model = s.opts.LongModel
		req.MaxTokens = s.opts.LongMaxTokens
	}
	if s.opts.LogitBias {
		req.LogitBias = defaultLogitBias
	}
	return req
}

// Context embeds the question (or a hypothetical answer to it) and retrieves the context block
func (s *Service) Context(ctx context.Context, req Request) (models.ContextBlock, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return models.ContextBlock{}, ErrEmptyQuestion
	}

	input := strings.ReplaceAll(question, "\n", " ")
	if req.Hypothetical {
		hypo := s.completion(HypotheticalMessages(input), false)
		hypo.FrequencyPenalty = 0
		hypo.LogitBias = nil
		stream, err := s.completer.Complete(ctx, hypo)
		if err != nil {
			return models.ContextBlock{}, fmt.Errorf("%w: hypothetical answer: %v", ErrRetrieval, err)
		}
		answer, err := Collect(ctx, stream)
		if err != nil {
			return models.ContextBlock{}, fmt.Errorf("%w: hypothetical answer: %v", ErrRetrieval, err)
		}
		logger.Debug("hypothetical answer: %s", answer)
		if answer = strings.TrimSpace(answer); answer != "" {
			input = strings.ReplaceAll(answer, "\n", " ")
		}
	}

	vec, err := s.embedder.Embed(ctx, input)
	if err != nil {
		return models.ContextBlock{}, fmt.Errorf("%w: embedding: %v", ErrRetrieval, err)
	}

	budget := req.TokenBudget
	if budget <= 0 {
		budget = s.opts.TokenBudget
		if req.LongContext {
			budget = s.opts.LongTokenBudget
		}
	}
	maxChunks := req.MaxChunksPerSource
	if maxChunks <= 0 {
		maxChunks = s.opts.MaxChunksPerSource
	}

	block, err := s.retriever.Retrieve(ctx, retrieval.Query{
		Embedding:          vec,
		Threshold:          s.opts.Threshold,
		MatchCount:         s.opts.MatchCount,
		Keywords:           SplitKeywords(req.Keywords),
		MaxChunksPerSource: maxChunks,
		TokenBudget:        budget,
	})
	if err != nil {
		return models.ContextBlock{}, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	logger.Info("context: %d sources, %d tokens", len(block.Entries), block.Tokens)
	return block, nil
}

// Ask streams the answer to w followed by the source trailer. Errors wrapping
// ErrEmptyQuestion or ErrRetrieval mean nothing has been written yet.
func (s *Service) Ask(ctx context.Context, w io.Writer, req Request) error {
	block, err := s.Context(ctx, req)
	if err != nil {
		return err
	}

	stream, err := s.completer.Complete(ctx, s.completion(BuildMessages(block.String(), req.Question), req.LongContext))
	if err != nil {
		return err
	}
	return Stream(ctx, w, stream, block)
}
