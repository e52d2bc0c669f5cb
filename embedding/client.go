package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultModel   = "text-embedding-ada-002"
	DefaultTimeout = 30 * time.Second
	maxTextLength  = 30000
)

// ErrMalformedResponse is returned when the service answers without a usable vector
var ErrMalformedResponse = errors.New("malformed embedding response")

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options are shared by both clients
type Options struct {
	BaseURL    string
	Model      string
	APIKey     string
	HTTPClient *http.Client
	// RPS caps request rate, 0 means unlimited
	RPS float64
}

func (o Options) withDefaults(baseURL string) Options {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	return o
}

func limiterFor(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func prepare(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("text is empty, can't embed")
	}
	if len(text) > maxTextLength {
		text = text[:maxTextLength]
	}
	return text, nil
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body any, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("can't marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("can't build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("can't call embedding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// OpenAIClient talks to an OpenAI compatible /embeddings endpoint
type OpenAIClient struct {
	opts    Options
	limiter *rate.Limiter
}

func NewOpenAIClient(opts Options) *OpenAIClient {
	opts = opts.withDefaults("https://api.openai.com/v1")
	return &OpenAIClient{opts: opts, limiter: limiterFor(opts.RPS)}
}

type openAIRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text, err := prepare(text)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp openAIResponse
	err = postJSON(ctx, c.opts.HTTPClient, c.opts.BaseURL+"/embeddings", c.opts.APIKey,
		openAIRequest{Model: c.opts.Model, Input: text}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding in response", ErrMalformedResponse)
	}
	return resp.Data[0].Embedding, nil
}

// OllamaClient talks to a local Ollama /api/embed endpoint
type OllamaClient struct {
	opts    Options
	limiter *rate.Limiter
}

func NewOllamaClient(opts Options) *OllamaClient {
	if opts.Model == "" {
		opts.Model = "nomic-embed-text"
	}
	opts = opts.withDefaults("http://localhost:11434")
	return &OllamaClient{opts: opts, limiter: limiterFor(opts.RPS)}
}

type ollamaRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text, err := prepare(text)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp ollamaResponse
	err = postJSON(ctx, c.opts.HTTPClient, c.opts.BaseURL+"/api/embed", "",
		ollamaRequest{Model: c.opts.Model, Input: text}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: no embedding in response", ErrMalformedResponse)
	}
	return resp.Embeddings[0], nil
}

var (
	_ Embedder = (*OpenAIClient)(nil)
	_ Embedder = (*OllamaClient)(nil)
)
