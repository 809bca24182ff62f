// Package app wires the categorizer's collaborators from configuration.
// Both the long-running worker and the one-shot command build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"basegraph.app/categorizer/common/arangodb"
	"basegraph.app/categorizer/common/llm"
	"basegraph.app/categorizer/common/retry"
	"basegraph.app/categorizer/core/config"
	"basegraph.app/categorizer/core/db"
	"basegraph.app/categorizer/internal/chunker"
	"basegraph.app/categorizer/internal/classifier"
	"basegraph.app/categorizer/internal/pipeline"
	"basegraph.app/categorizer/internal/store"
	"basegraph.app/categorizer/internal/tokenizer"
)

type Options struct {
	// SkipLease runs without the cross-process run lease and without Redis.
	SkipLease bool
}

type App struct {
	Orchestrator *pipeline.Orchestrator
	Taxonomy     store.TaxonomyStore
	Runs         store.PipelineRunStore

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.closers = append(a.closers, database.Close)
	slog.InfoContext(ctx, "database connected")

	arango, err := arangodb.New(ctx, arangodb.Config{
		URL:      cfg.ArangoDB.URL,
		Username: cfg.ArangoDB.Username,
		Password: cfg.ArangoDB.Password,
		Database: cfg.ArangoDB.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("creating arangodb client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = arango.Close() })

	if err := arango.EnsureDatabase(ctx); err != nil {
		return nil, fmt.Errorf("ensuring arangodb database: %w", err)
	}
	if err := store.EnsureConversationCollection(ctx, arango, cfg.ArangoDB.Collection); err != nil {
		return nil, fmt.Errorf("ensuring conversation collection: %w", err)
	}
	slog.InfoContext(ctx, "arangodb connected",
		"database", cfg.ArangoDB.Database,
		"collection", cfg.ArangoDB.Collection)

	var lease store.RunLease
	if !opts.SkipLease {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)
		a.closers = append(a.closers, func() { _ = redisClient.Close() })

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		lease = store.NewRedisLease(redisClient, cfg.Redis.LeaseKey, cfg.Redis.LeaseTTL)
		slog.InfoContext(ctx, "redis connected", "lease_key", cfg.Redis.LeaseKey)
	} else {
		slog.WarnContext(ctx, "run lease disabled, overlapping runs are not prevented")
	}

	tok, err := tokenizer.New(cfg.Pipeline.TokenizerModel)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	ch, err := chunker.New(tok, chunker.Config{
		TokenLimit:      cfg.Pipeline.ChunkTokenLimit,
		MaxUserMessages: cfg.Pipeline.MaxUserMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}

	llmClient, err := llm.New(llm.Config{
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	policy := retry.DefaultPolicy(cfg.Pipeline.RetryMaxTries)
	a.Taxonomy = store.NewTaxonomyStore(database, policy)
	a.Runs = store.NewPipelineRunStore(database)

	if err := a.Taxonomy.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	if err := a.Runs.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	a.Orchestrator = pipeline.NewOrchestrator(pipeline.Deps{
		Conversations: store.NewConversationStore(arango, cfg.ArangoDB.Collection),
		Taxonomy:      a.Taxonomy,
		Lease:         lease,
		Runs:          a.Runs,
		Chunker:       ch,
		Inducer:       classifier.NewInducer(llmClient, policy),
		Assigner:      classifier.NewAssigner(llmClient, policy),
	}, cfg.Pipeline)

	slog.InfoContext(ctx, "categorizer wired",
		"model", llmClient.Model(),
		"tokenizer", tok.Model(),
		"chunk_token_limit", cfg.Pipeline.ChunkTokenLimit,
		"window", cfg.Pipeline.Window.String())

	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
