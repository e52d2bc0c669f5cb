package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scholarqa/answer"
	"scholarqa/citation"
	"scholarqa/config"
	"scholarqa/db"
	"scholarqa/embedding"
	"scholarqa/fetcher"
	"scholarqa/ingest"
	"scholarqa/logger"
	"scholarqa/profiles"
	"scholarqa/retrieval"
	"scholarqa/server"
	"scholarqa/utils"
)

const (
	defaultOllamaModel = "llama3.2"
	outboundTimeout    = 30 * time.Second
)

// app holds every long lived component one command needs
type app struct {
	cfg       *config.Config
	sqlite    *db.SQLite
	store     db.VectorStore
	embedder  embedding.Embedder
	citations *citation.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	sqlite, err := db.OpenSQLite(ctx, cfg.Store.SQLitePath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, sqlite: sqlite}

	switch cfg.Store.Backend {
	case "sqlite":
		a.store = db.NewSQLiteVectorStore(sqlite)
	default:
		store, err := db.NewQdrantStore(ctx, db.QdrantOptions{
			Host:       cfg.Store.QdrantHost,
			Port:       cfg.Store.QdrantPort,
			APIKey:     cfg.Store.QdrantAPIKey,
			UseTLS:     cfg.Store.QdrantUseTLS,
			Collection: cfg.Store.QdrantCollection,
			VectorSize: cfg.Store.VectorSize,
		})
		if err != nil {
			sqlite.Close()
			return nil, err
		}
		a.store = store
	}

	embedOpts := embedding.Options{
		BaseURL: cfg.Embedding.URL,
		Model:   cfg.Embedding.Model,
		APIKey:  cfg.Embedding.APIKey,
		RPS:     cfg.Embedding.RPS,
	}
	switch cfg.Embedding.Provider {
	case "ollama":
		a.embedder = embedding.NewOllamaClient(embedOpts)
	default:
		a.embedder = embedding.NewOpenAIClient(embedOpts)
	}

	openAlex := citation.NewOpenAlexClient(cfg.Citation.BaseURL, cfg.Citation.Mailto, cfg.Citation.RPS, nil)
	a.citations = citation.NewService(sqlite, openAlex)

	logger.Debug("app ready: store=%s embedding=%s llm=%s", cfg.Store.Backend, cfg.Embedding.Provider, cfg.LLM.Provider)
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.sqlite != nil {
		errs = append(errs, a.sqlite.GracefulShutdown(5*time.Second))
	}
	return errors.Join(errs...)
}

func (a *app) orchestrator(workers int) (*ingest.Orchestrator, error) {
	var (
		registry *profiles.Registry
		err      error
	)
	if a.cfg.Ingest.ProfilesFile != "" {
		registry, err = profiles.Load(a.cfg.Ingest.ProfilesFile)
	} else {
		registry, err = profiles.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("can't load extraction profiles: %w", err)
	}

	artifacts, err := fetcher.NewArtifactStore(a.cfg.Ingest.ArtifactDir)
	if err != nil {
		return nil, err
	}

	var robots *fetcher.RobotsChecker
	if a.cfg.Ingest.RespectRobots {
		client, err := utils.NewHTTPClient(outboundTimeout, a.cfg.Ingest.Proxies)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy list: %w", err)
		}
		robots = fetcher.NewRobotsChecker(client, a.cfg.Ingest.UserAgent)
	}

	launcher := fetcher.ChromeLauncher{
		ExecPath:  a.cfg.Browser.ExecPath,
		Headless:  a.cfg.Browser.Headless,
		UserAgent: a.cfg.Ingest.UserAgent,
	}
	if len(a.cfg.Ingest.Proxies) > 0 {
		// chrome takes one proxy, rotation only applies to plain HTTP clients
		launcher.Proxy = "socks5://" + a.cfg.Ingest.Proxies[0]
	}

	fetch := fetcher.New(registry, artifacts, robots, fetcher.Options{
		NavTimeout:  a.cfg.Ingest.NavTimeout,
		WaitTimeout: a.cfg.Ingest.WaitTimeout,
		Attempts:    a.cfg.Ingest.FetchAttempts,
		Backoff:     a.cfg.Ingest.FetchBackoff,
	})

	submitter := ingest.NewSubmitter(a.embedder, a.store, ingest.SubmitterOptions{
		MinChars:   a.cfg.Embedding.MinChars,
		Attempts:   a.cfg.Embedding.Attempts,
		BackoffMin: a.cfg.Embedding.BackoffMin,
		BackoffMax: a.cfg.Embedding.BackoffMax,
	})

	if workers <= 0 {
		workers = a.cfg.Ingest.Workers
	}
	return ingest.NewOrchestrator(ingest.Deps{
		Launcher:  launcher,
		Fetcher:   fetch,
		Submitter: submitter,
		Store:     a.store,
		Titles:    a.citations,
		Articles:  a.sqlite,
		Artifacts: artifacts,
	}, ingest.Options{
		Workers:     workers,
		TargetWords: a.cfg.Ingest.TargetWords,
		Overlap:     a.cfg.Ingest.Overlap,
	}), nil
}

// completer returns the LLM client, plus the Ollama client when that provider is used
func (a *app) completer(ctx context.Context) (answer.Completer, *answer.OllamaCompleter, error) {
	if a.cfg.LLM.Provider != "ollama" {
		return answer.NewOpenAICompleter(a.cfg.LLM.URL, a.cfg.LLM.APIKey, nil), nil, nil
	}

	ollama := answer.NewOllamaCompleter(a.cfg.LLM.URL, nil)
	if err := ollama.Ping(ctx); err != nil {
		return nil, nil, err
	}
	for _, model := range []string{a.ollamaModel(), a.ollamaLongModel()} {
		if err := ollama.EnsureModel(ctx, model); err != nil {
			return nil, nil, fmt.Errorf("can't prepare model %s: %w", model, err)
		}
	}
	return ollama, ollama, nil
}

func (a *app) ollamaModel() string {
	if a.cfg.LLM.Model != "" {
		return a.cfg.LLM.Model
	}
	return defaultOllamaModel
}

func (a *app) ollamaLongModel() string {
	if a.cfg.LLM.LongModel != "" {
		return a.cfg.LLM.LongModel
	}
	return a.ollamaModel()
}

func (a *app) answers(completer answer.Completer) (*answer.Service, error) {
	tokenizer, err := retrieval.NewTokenizer(a.cfg.Retrieval.Tokenizer)
	if err != nil {
		return nil, err
	}

	opts := answer.Options{
		Model:              a.cfg.LLM.Model,
		LongModel:          a.cfg.LLM.LongModel,
		MaxTokens:          a.cfg.LLM.MaxTokens,
		LongMaxTokens:      a.cfg.LLM.LongMaxTokens,
		Temperature:        a.cfg.LLM.Temperature,
		FrequencyPenalty:   a.cfg.LLM.FrequencyPenalty,
		Threshold:          a.cfg.Retrieval.Threshold,
		MatchCount:         a.cfg.Retrieval.MatchCount,
		MaxChunksPerSource: a.cfg.Retrieval.MaxChunksPerSource,
		TokenBudget:        a.cfg.Retrieval.TokenBudget,
		LongTokenBudget:    a.cfg.Retrieval.LongTokenBudget,
	}
	if a.cfg.LLM.Provider == "ollama" {
		opts.Model, opts.LongModel = a.ollamaModel(), a.ollamaLongModel()
	} else {
		// token ids in the bias table are OpenAI's
		opts.LogitBias = true
	}

	return answer.NewService(a.embedder, retrieval.NewRetriever(a.store, tokenizer), completer, opts), nil
}

func (a *app) healthChecks(ollama *answer.OllamaCompleter) map[string]server.HealthFunc {
	checks := map[string]server.HealthFunc{
		"store":  a.store.HealthCheck,
		"sqlite": a.sqlite.HealthCheck,
		"embedding": func(ctx context.Context) error {
			_, err := a.embedder.Embed(ctx, "health check")
			return err
		},
	}
	if ollama != nil {
		checks["ollama"] = ollama.Ping
	}
	return checks
}

func describeStore(ctx context.Context, store db.VectorStore) string {
	q, ok := store.(*db.QdrantStore)
	if !ok {
		return "sqlite (brute-force cosine)"
	}
	stats, err := q.Stats(ctx)
	if err != nil {
		return "qdrant (" + err.Error() + ")"
	}
	parts := make([]string, 0, len(stats))
	for _, k := range []string{"total_vectors", "vector_size", "distance_metric"} {
		parts = append(parts, fmt.Sprintf("%s=%v", k, stats[k]))
	}
	return "qdrant " + strings.Join(parts, " ")
}
