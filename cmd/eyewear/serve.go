package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mthangit/Multi-Agents-sub000/pkg/a2a"
	"github.com/mthangit/Multi-Agents-sub000/pkg/adapter"
	"github.com/mthangit/Multi-Agents-sub000/pkg/broker"
	"github.com/mthangit/Multi-Agents-sub000/pkg/catalog"
	"github.com/mthangit/Multi-Agents-sub000/pkg/clients"
	"github.com/mthangit/Multi-Agents-sub000/pkg/config"
	"github.com/mthangit/Multi-Agents-sub000/pkg/llms"
	"github.com/mthangit/Multi-Agents-sub000/pkg/memory"
	"github.com/mthangit/Multi-Agents-sub000/pkg/orchestrator"
	"github.com/mthangit/Multi-Agents-sub000/pkg/registry"
	"github.com/mthangit/Multi-Agents-sub000/pkg/server"
	"github.com/mthangit/Multi-Agents-sub000/pkg/transport"
)

// ServeCmd starts the coordination server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)." default:"0"`
	Watch bool `help:"Watch the config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	cleanup, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	// Shared store.
	store, err := transport.NewRedisStore(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer store.Close()

	// Registry and its sweeper.
	reg := registry.New(store,
		registry.WithLivenessTimeout(cfg.Registry.LivenessTimeout()))
	go reg.RunSweeper(ctx, cfg.Registry.SweepInterval())

	// Message broker for the host agent.
	b := broker.New(orchestrator.HostAgentID, store, reg)
	broker.SetDefault(b)

	// Conversation memory.
	durable, err := memory.OpenDurableTier(cfg.Database.Driver, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer durable.Close()
	fast := memory.NewFastTier(store).WithTTL(cfg.Memory.HistoryTTL())
	mem := memory.New(fast, durable, slog.Default())

	// Product catalog shares the history database.
	cat, err := catalog.New(durable.DB(), cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}

	// Remote agent clients.
	mgr := clients.NewManager(cfg.Agents)
	mgr.Connect(ctx)
	go mgr.RunHealthChecks(ctx, time.Minute)

	// Routing model.
	var llmOpts []llms.OpenAIOption
	if cfg.LLM.Host != "" {
		llmOpts = append(llmOpts, llms.WithHost(cfg.LLM.Host))
	}
	llmOpts = append(llmOpts,
		llms.WithTemperature(cfg.LLM.Temperature),
		llms.WithMaxTokens(cfg.LLM.MaxTokens))
	llm := llms.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.Model, llmOpts...)

	orch := orchestrator.New(llm, mgr, mem, orchestrator.WithCatalog(cat))

	// The host registers itself so queue replies reach the pending
	// table through the normal listener path.
	host := adapter.New(a2a.AgentInfo{
		ID:      orchestrator.HostAgentID,
		Name:    "Host Agent",
		Type:    a2a.AgentTypeOrchestrator,
		Version: "1.0.0",
	}, nil, store, reg,
		adapter.WithHeartbeatInterval(cfg.Registry.HeartbeatInterval()))
	if err := host.Register(ctx); err != nil {
		return fmt.Errorf("failed to register host agent: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := host.Unregister(shutdownCtx); err != nil {
			slog.Warn("failed to unregister host agent", "error", err)
		}
	}()

	srv := server.New(reg, b, orch, mem, mgr, store)

	if c.Watch {
		go func() {
			err := config.Watch(ctx, cli.Config, func(next *config.Config) {
				slog.Info("configuration changed; restart to apply structural changes")
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("config watch failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Address())
	}()

	fmt.Printf("\nEyewear coordination server ready\n")
	fmt.Printf("   Chat:       http://%s/chat\n", cfg.Server.Address())
	fmt.Printf("   Agent Card: http://%s%s\n", cfg.Server.Address(), a2a.WellKnownPath)
	fmt.Printf("   Health:     http://%s/a2a/health\n", cfg.Server.Address())
	fmt.Printf("   Metrics:    http://%s/metrics\n", cfg.Server.Address())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	return srv.Shutdown(shutdownCtx)
}

// MigrateHistoryCmd rewrites cached history keys from the legacy
// chat-history namespace into the current one.
type MigrateHistoryCmd struct{}

func (c *MigrateHistoryCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	cleanup, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := transport.NewRedisStore(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer store.Close()

	durable, err := memory.OpenDurableTier(cfg.Database.Driver, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer durable.Close()

	fast := memory.NewFastTier(store).WithTTL(cfg.Memory.HistoryTTL())
	migrated, err := fast.MigrateLegacy(ctx, func(sessionID string) string {
		owner, err := durable.SessionOwner(ctx, sessionID)
		if err != nil {
			slog.Warn("failed to resolve session owner", "session", sessionID, "error", err)
			return ""
		}
		return owner
	})
	if err != nil {
		return fmt.Errorf("migration failed after %d keys: %w", migrated, err)
	}
	fmt.Printf("migrated %d cached sessions\n", migrated)
	return nil
}
