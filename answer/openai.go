package answer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAICompleter streams chat completions from an OpenAI compatible API
type OpenAICompleter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewOpenAICompleter(baseURL, apiKey string, httpClient *http.Client) *OpenAICompleter {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if httpClient == nil {
		// streams can run for minutes, the request context bounds them
		httpClient = &http.Client{}
	}
	return &OpenAICompleter{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, httpClient: httpClient}
}

type chatRequest struct {
	Model            string         `json:"model"`
	Messages         []Message      `json:"messages"`
	MaxTokens        int            `json:"max_tokens,omitempty"`
	Temperature      float64        `json:"temperature"`
	TopP             float64        `json:"top_p"`
	FrequencyPenalty float64        `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]int `json:"logit_bias,omitempty"`
	Stream           bool           `json:"stream"`
	N                int            `json:"n"`
}

type streamChoice struct {
	Index        int     `json:"index"`
	Delta        Message `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type streamResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
}

func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (TokenStream, error) {
	body, err := json.Marshal(chatRequest{
		Model:            req.Model,
		Messages:         req.Messages,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             1,
		FrequencyPenalty: req.FrequencyPenalty,
		LogitBias:        req.LogitBias,
		Stream:           true,
		N:                1,
	})
	if err != nil {
		return nil, fmt.Errorf("can't marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("can't build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompletion, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: service returned %d: %s", ErrCompletion, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return &sseStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// sseStream reads "data: {...}" events until "data: [DONE]"
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func (s *sseStream) Next() (string, error) {
	for !s.done {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				// body ended without [DONE]
				return "", fmt.Errorf("%w: %w", ErrCompletion, io.ErrUnexpectedEOF)
			}
			return "", err
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			break
		}

		var event streamResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return "", fmt.Errorf("bad stream event: %w", err)
		}
		if len(event.Choices) == 0 {
			continue
		}
		if text := event.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
	return "", io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
