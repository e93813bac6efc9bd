package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hitlflow/hitlflow/internal/billing"
	"github.com/hitlflow/hitlflow/internal/chat"
	"github.com/hitlflow/hitlflow/internal/config"
	"github.com/hitlflow/hitlflow/internal/content"
	"github.com/hitlflow/hitlflow/internal/history"
	"github.com/hitlflow/hitlflow/internal/llm"
	"github.com/hitlflow/hitlflow/internal/persistence"
	"github.com/hitlflow/hitlflow/internal/service"
	"github.com/hitlflow/hitlflow/internal/workflow"
)

// runtime is the wired service graph shared by serve and batch.
type runtime struct {
	content *service.ContentService
	agents  *service.AgentService
	ledger  *billing.Ledger
	parked  persistence.Store
	// historyKV backs chat transcripts; it may be the same kind of store as
	// parked but is never the same instance.
	historyKV persistence.Store
	closers   []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func buildRuntime(ctx context.Context, e *env) (*runtime, error) {
	rt := &runtime{}
	cfg := e.cfg

	parked, err := openPersistence(ctx, e, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.parked = parked

	hist, err := openHistory(ctx, e, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}

	provider, err := openProvider(e)
	if err != nil {
		rt.Close()
		return nil, err
	}

	resolver := content.NewStoreResolver(e.db)
	agents, err := buildDirectory(cfg.Agents, resolver, e.logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	engineCfg := func(scope string) workflow.Config {
		return workflow.Config{
			Store:     parked,
			TTL:       cfg.Persistence.TTL,
			KeyPrefix: scopedPrefix(cfg.Persistence.KeyPrefix, scope),
			Logger:    e.logger,
		}
	}
	contentEngine, err := workflow.NewEngine(engineCfg(content.KeyScope), content.NewWorkflow(resolver, provider, e.logger).Steps()...)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build content engine: %w", err)
	}
	chatEngine, err := workflow.NewEngine(engineCfg(chat.KeyScope), chat.NewWorkflow(provider, agents, hist, e.logger).Steps()...)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build chat engine: %w", err)
	}

	rt.ledger = billing.NewLedger(e.db, e.logger)
	deps := service.Deps{
		DB:       e.db,
		Governor: billing.NewGovernor(e.db, cfg.Billing.DefaultModel, cfg.Billing.FreeModel),
		Ledger:   rt.ledger,
		Resolver: resolver,
		Logger:   e.logger,
	}
	rt.content = service.NewContentService(deps, contentEngine)
	rt.agents = service.NewAgentService(deps, chatEngine, chat.PatternLinker(cfg.Server.EntityLink))
	return rt, nil
}

func openPersistence(ctx context.Context, e *env, rt *runtime) (persistence.Store, error) {
	pc := e.cfg.Persistence
	switch pc.Driver {
	case "memory":
		return persistence.NewMemoryStore()
	case "sqlite":
		return persistence.NewSQLStore(e.db), nil
	case "redis":
		client, err := dialRedis(ctx, pc.RedisAddr)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { client.Close() })
		return persistence.NewRedisStore(client), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, pc.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		s := persistence.NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown persistence driver %q", pc.Driver)
}

func openHistory(ctx context.Context, e *env, rt *runtime) (history.Store, error) {
	hc := e.cfg.History
	switch hc.Driver {
	case "redis":
		client, err := dialRedis(ctx, e.cfg.Persistence.RedisAddr)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { client.Close() })
		rt.historyKV = persistence.NewRedisStore(client)
	default:
		mem, err := persistence.NewMemoryStore()
		if err != nil {
			return nil, err
		}
		rt.historyKV = mem
	}
	return history.NewKVStore(rt.historyKV, hc.TTL), nil
}

func dialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// openProvider returns the HTTP provider, or an echo provider when no
// endpoint is configured so the API can be exercised end to end.
func openProvider(e *env) (llm.Provider, error) {
	lc := e.cfg.LLM
	if lc.BaseURL == "" {
		e.logger.Warn("llm.base_url is empty, answering with the echo provider")
		return llm.EchoProvider(), nil
	}
	p, err := llm.NewHTTPProvider(llm.HTTPConfig{
		BaseURL:    lc.BaseURL,
		APIKey:     lc.APIKey,
		Timeout:    lc.Timeout,
		MaxRetries: lc.MaxRetries,
		Logger:     e.logger,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func buildDirectory(ac config.AgentsConfig, resolver content.Resolver, logger *slog.Logger) (*chat.Directory, error) {
	catalogue := chat.NewCatalogue(
		llm.NewDateTimeTool(),
		&content.GetEntityTool{Resolver: resolver},
		&content.UpdateContentTool{Resolver: resolver},
	)
	names := make([]string, 0, len(ac.Profiles))
	for name := range ac.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]chat.Profile, 0, len(names))
	for _, name := range names {
		pc := ac.Profiles[name]
		p, err := catalogue.Profile(name, pc.Instructions, pc.Tools)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	logger.Debug("agents configured", slog.Any("agents", names))
	return chat.NewDirectory(ac.Mapping, profiles...)
}

// scopedPrefix gives each engine its own key namespace so a token parked
// by one workflow is unknown to the other.
func scopedPrefix(base, scope string) string {
	if base == "" {
		base = workflow.DefaultKeyPrefix
	}
	return base + scope
}
