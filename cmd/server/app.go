package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Shivika2934/labquestion/internal/ai"
	"github.com/Shivika2934/labquestion/internal/api"
	"github.com/Shivika2934/labquestion/internal/auth"
	"github.com/Shivika2934/labquestion/internal/generation"
	"github.com/Shivika2934/labquestion/internal/platform/cache"
	"github.com/Shivika2934/labquestion/internal/platform/config"
	"github.com/Shivika2934/labquestion/internal/platform/database"
	"github.com/Shivika2934/labquestion/internal/pool"
	"github.com/Shivika2934/labquestion/internal/seed"
	"github.com/Shivika2934/labquestion/internal/users"
)

const (
	// memoryDatabase as LABQ_DATABASE_URL runs without PostgreSQL.
	memoryDatabase = "memory"
)

// app is the wired service graph behind the HTTP server.
type app struct {
	handler http.Handler
	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type storage struct {
	pool   pool.Store
	users  users.Store
	events pool.EventLogger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	checks := make(map[string]api.Check)

	st, err := a.openStorage(ctx, cfg.Database, checks)
	if err != nil {
		a.Close()
		return nil, err
	}
	stats := a.openStatsCache(ctx, cfg.Cache, checks)

	router := newAIRouter(cfg.AI)
	if !router.HasProvider() {
		slog.Warn("no AI provider configured, question generation is disabled")
	}

	ingestOpts := []pool.IngestorOption{
		pool.WithIngestEvents(st.events),
		pool.WithIngestStats(stats),
		pool.WithMaxGenerate(cfg.Generation.MaxCount),
	}
	if router.HasProvider() {
		genCfg := generation.GeneratorConfig{
			AI:        router,
			Model:     cfg.Generation.Model,
			MaxTokens: cfg.Generation.MaxTokens,
		}
		if cfg.Generation.TokenBudget > 0 {
			genCfg.Budget = ai.NewInMemoryBudget(cfg.Generation.TokenBudget)
		}
		ingestOpts = append(ingestOpts, pool.WithGenerator(generation.NewGenerator(genCfg)))
		if cfg.Generation.QualityCheck {
			ingestOpts = append(ingestOpts, pool.WithQualityValidator(
				generation.NewQualityChecker(router, cfg.Generation.Model)))
		}
		slog.Info("question generation enabled", "providers", router.Names())
	}

	catalog := pool.NewCatalog(st.pool, st.events, stats)
	ingestor := pool.NewIngestor(st.pool, ingestOpts...)
	userSvc := users.NewService(st.users)

	if cfg.Auth.AdminUsername != "" {
		admin, err := userSvc.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword, cfg.Auth.AdminEmail)
		if err != nil {
			a.Close()
			return nil, err
		}
		if cfg.SeedPath != "" {
			if err := applySeed(ctx, cfg.SeedPath, admin.Principal(), catalog, ingestor, router.HasProvider()); err != nil {
				a.Close()
				return nil, err
			}
		}
	} else if cfg.SeedPath != "" {
		slog.Warn("seed path ignored, seeding needs LABQ_AUTH_ADMIN_USERNAME", "path", cfg.SeedPath)
	}

	a.handler = api.NewRouter(api.Deps{
		Catalog: catalog,
		Allocator: pool.NewAllocator(st.pool,
			pool.WithMaxAttempts(cfg.Allocator.MaxAttempts),
			pool.WithAllocatorEvents(st.events),
			pool.WithAllocatorStats(stats),
		),
		Tracker:              pool.NewTracker(st.pool, st.events),
		Ingestor:             ingestor,
		Users:                userSvc,
		Tokens:               auth.NewTokens(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.AccessTokenTTL)*time.Minute),
		Checks:               checks,
		CORSOrigins:          cfg.Server.CORSOrigins,
		DefaultGenerateCount: cfg.Generation.DefaultCount,
	})
	return a, nil
}

func (a *app) openStorage(ctx context.Context, cfg config.DatabaseConfig, checks map[string]api.Check) (storage, error) {
	if cfg.URL == memoryDatabase {
		slog.Warn("using in-memory storage, data is lost on restart")
		mem := pool.NewMemoryStore()
		return storage{pool: mem, users: users.NewMemoryStore(mem), events: pool.NewMemoryEventLogger()}, nil
	}

	if cfg.Migrate {
		if err := database.Migrate(ctx, cfg.URL); err != nil {
			return storage{}, err
		}
	}
	db, err := database.New(ctx, cfg.URL, cfg.MaxConns, cfg.MinConns)
	if err != nil {
		return storage{}, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	checks["database"] = db.HealthCheck

	ps, err := pool.NewPostgresStore(db.Pool)
	if err != nil {
		return storage{}, err
	}
	us, err := users.NewPostgresStore(db.Pool)
	if err != nil {
		return storage{}, err
	}
	slog.Info("database connected", "max_conns", cfg.MaxConns)
	return storage{pool: ps, users: us, events: pool.NewPostgresEventLogger(db.Pool)}, nil
}

// openStatsCache connects to Redis. The cache is optional: without it pool
// stats are read from the store on every request.
func (a *app) openStatsCache(ctx context.Context, cfg config.CacheConfig, checks map[string]api.Check) pool.StatsCache {
	c, err := cache.New(ctx, cfg.URL)
	if err != nil {
		slog.Warn("cache unavailable, pool stats will not be cached", "error", err)
		return pool.NopStatsCache{}
	}
	a.closers = append(a.closers, func() {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close cache", "error", err)
		}
	})
	checks["cache"] = c.HealthCheck
	return pool.NewRedisStatsCache(c, time.Duration(cfg.StatsTTLSeconds)*time.Second)
}

// newAIRouter registers every configured provider. Registration order is
// the fallback order.
func newAIRouter(cfg config.AIConfig) *ai.Router {
	router := ai.NewRouter()
	if cfg.OpenAI.APIKey != "" {
		router.Register("openai", ai.NewOpenAIProvider(cfg.OpenAI.APIKey))
	}
	if cfg.Anthropic.APIKey != "" {
		p, err := ai.NewAnthropicProvider(cfg.Anthropic.APIKey)
		if err != nil {
			slog.Warn("anthropic provider disabled", "error", err)
		} else {
			router.Register("anthropic", p)
		}
	}
	if cfg.Google.APIKey != "" {
		router.Register("google", ai.NewGoogleProvider(cfg.Google.APIKey))
	}
	if cfg.DeepSeek.APIKey != "" {
		router.Register("deepseek", ai.NewDeepSeekProvider(cfg.DeepSeek.APIKey))
	}
	if cfg.OpenRouter.APIKey != "" {
		router.Register("openrouter", ai.NewOpenRouterProvider(cfg.OpenRouter.APIKey))
	}
	if cfg.Ollama.Enabled {
		router.Register("ollama", ai.NewOllamaProvider(cfg.Ollama.URL))
	}
	return router
}

func applySeed(ctx context.Context, path string, admin pool.Principal, catalog *pool.Catalog, ingestor *pool.Ingestor, generate bool) error {
	loader, err := seed.NewLoader(path)
	if err != nil {
		return fmt.Errorf("load seed files: %w", err)
	}
	sum, err := seed.Apply(ctx, loader.AllTopics(), admin, catalog, ingestor, generate)
	if err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}
	slog.Info("seed applied",
		"path", path,
		"created", sum.Created,
		"ingested", sum.Ingested,
		"generated", sum.Generated,
		"failed", sum.Failed,
	)
	return nil
}
