package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scholarqa/logger"
)

// OllamaCompleter streams chat completions from a local Ollama server
type OllamaCompleter struct {
	baseURL    string
	httpClient *http.Client
}

func NewOllamaCompleter(baseURL string, httpClient *http.Client) *OllamaCompleter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OllamaCompleter{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model     string  `json:"model"`
	CreatedAt string  `json:"created_at"`
	Message   Message `json:"message"`
	Done      bool    `json:"done"`
	Error     string  `json:"error,omitempty"`
}

func (c *OllamaCompleter) Complete(ctx context.Context, req CompletionRequest) (TokenStream, error) {
	options := map[string]any{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.FrequencyPenalty != 0 {
		options["frequency_penalty"] = req.FrequencyPenalty
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
		Options:  options,
	})
	if err != nil {
		return nil, fmt.Errorf("can't marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("can't build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: Ollama request failed: %v", ErrCompletion, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: Ollama returned %d: %s", ErrCompletion, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return &ndjsonStream{body: resp.Body, decoder: json.NewDecoder(resp.Body), started: time.Now()}, nil
}

// ndjsonStream decodes one JSON object per message until done is set
type ndjsonStream struct {
	body    io.ReadCloser
	decoder *json.Decoder
	done    bool
	chars   int
	started time.Time
}

func (s *ndjsonStream) Next() (string, error) {
	for !s.done {
		var resp ollamaChatResponse
		if err := s.decoder.Decode(&resp); err != nil {
			if err == io.EOF {
				// body ended before done:true
				return "", fmt.Errorf("%w: %w", ErrCompletion, io.ErrUnexpectedEOF)
			}
			return "", fmt.Errorf("stream decode error: %w", err)
		}
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrCompletion, resp.Error)
		}
		if resp.Done {
			s.finish()
		}

		if text := resp.Message.Content; text != "" {
			s.chars += len(text)
			return text, nil
		}
	}
	return "", io.EOF
}

func (s *ndjsonStream) finish() {
	if s.done {
		return
	}
	s.done = true
	duration := time.Since(s.started)
	tokens := s.chars / 4
	logger.Debug("Streamed ~%d tokens in %v (%.1f tok/s)", tokens, duration, float64(tokens)/duration.Seconds())
}

func (s *ndjsonStream) Close() error {
	return s.body.Close()
}

// Ping reports whether the Ollama server answers
func (c *OllamaCompleter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("can't reach Ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Ollama returned %d", resp.StatusCode)
	}
	return nil
}

// EnsureModel pulls model unless Ollama already has it
func (c *OllamaCompleter) EnsureModel(ctx context.Context, model string) error {
	logger.Info("Checking if model '%s' exists...", model)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to check models: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	for _, m := range result.Models {
		if strings.HasPrefix(m.Name, model) {
			logger.Info("Model '%s' found", model)
			return nil
		}
	}

	logger.Info("Pulling model '%s', this may take a few minutes...", model)
	body, _ := json.Marshal(map[string]string{"name": model})
	pullReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	pullReq.Header.Set("Content-Type", "application/json")
	pullResp, err := c.httpClient.Do(pullReq)
	if err != nil {
		return fmt.Errorf("failed to pull model: %w", err)
	}
	defer pullResp.Body.Close()

	decoder := json.NewDecoder(pullResp.Body)
	lastStatus := ""
	lastProgress := 0
	for {
		var progress struct {
			Status    string `json:"status"`
			Completed int64  `json:"completed,omitempty"`
			Total     int64  `json:"total,omitempty"`
			Error     string `json:"error,omitempty"`
		}
		if err := decoder.Decode(&progress); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("error reading pull response: %w", err)
		}
		if progress.Error != "" {
			return fmt.Errorf("pull failed: %s", progress.Error)
		}

		if progress.Total > 0 {
			pct := int(float64(progress.Completed) / float64(progress.Total) * 100)
			if pct != lastProgress && pct%10 == 0 {
				logger.Info("Progress: %d%%", pct)
				lastProgress = pct
			}
		} else if progress.Status != lastStatus {
			logger.Info("%s", progress.Status)
			lastStatus = progress.Status
		}
		if progress.Status == "success" {
			break
		}
	}

	logger.Info("Model '%s' pulled successfully", model)
	return nil
}
