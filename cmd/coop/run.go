package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/coop/internal/config"
	"github.com/haasonsaas/coop/internal/credpool"
	"github.com/haasonsaas/coop/internal/memory"
	"github.com/haasonsaas/coop/internal/metrics"
	"github.com/haasonsaas/coop/internal/prompt"
	"github.com/haasonsaas/coop/internal/provider"
	"github.com/haasonsaas/coop/internal/router"
	"github.com/haasonsaas/coop/internal/scheduler"
	"github.com/haasonsaas/coop/internal/tools"
	"github.com/haasonsaas/coop/internal/tools/fileedit"
	"github.com/haasonsaas/coop/internal/tools/memorytool"
	"github.com/haasonsaas/coop/internal/tools/shell"
	"github.com/haasonsaas/coop/internal/tools/webfetch"
	"github.com/haasonsaas/coop/internal/turn"
	"github.com/haasonsaas/coop/internal/types"
)

func buildRunCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the agent against the interactive terminal front-end",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			return runAgent(cmd.Context(), configPath, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to coop.toml")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runAgent(ctx context.Context, configPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	shared := config.NewShared(configPath, cfg, logger)
	if err := shared.Watch(ctx); err != nil {
		logger.Warn("config hot-reload watcher failed to start", "error", err)
	}

	metricsReg := metrics.New(prometheus.DefaultRegisterer)

	resolvedKeys, err := credpool.ResolveKeyRefs(cfg.Provider.ApiKeys)
	if err != nil {
		return fmt.Errorf("resolve provider api_keys: %w", err)
	}
	pool := credpool.New(resolvedKeys,
		credpool.WithUtilizationObserver(func(keyIndex int, utilization float64) {
			metricsReg.SetCredentialUtilization(strconv.Itoa(keyIndex), utilization)
		}),
		credpool.WithCooldownObserver(func(keyIndex int) {
			metricsReg.RecordCredentialCooldown(strconv.Itoa(keyIndex))
		}),
	)
	prov := provider.New(pool)

	store, err := memory.Open(cfg.Memory.DBPath,
		memory.WithWriteObserver(func(outcome memory.WriteOutcome) {
			metricsReg.RecordMemoryWrite(string(outcome))
		}),
	)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer store.Close()

	registry := tools.NewRegistry()
	registry.Register(fileedit.NewReadTool(cfg.Agent.Workspace, 0))
	registry.Register(fileedit.NewWriteTool(cfg.Agent.Workspace))
	registry.Register(fileedit.NewEditTool(cfg.Agent.Workspace))
	registry.Register(shell.New(basePolicy(cfg), sandboxConfigProvider(shared), cfg.Agent.Workspace))
	registry.Register(memorytool.NewSearchTool(store))
	registry.Register(memorytool.NewWriteTool(store))
	registry.Register(webfetch.New(cfg.Tools.Web.Fetch.MaxChars, cfg.Tools.Web.Fetch.TimeoutSeconds))

	reminders, err := scheduler.NewReminderStore(cfg.Agent.Workspace)
	if err != nil {
		return fmt.Errorf("open reminder store: %w", err)
	}
	notifier := scheduler.NewNotifier()
	registry.Register(scheduler.NewReminderTool(reminders, userMatchPatterns(cfg), notifier))

	sessions := turn.NewFileSessionStore(filepath.Join(cfg.Agent.Workspace, "sessions"))

	engineOpts := []turn.Option{
		turn.WithSummarizer(providerSummarizer{provider: prov, model: cfg.Agent.Model}),
		turn.WithLogger(logger),
		turn.WithMetrics(metricsReg),
	}
	if len(cfg.Prompt.SharedFiles) > 0 {
		engineOpts = append(engineOpts, turn.WithFileSpecs(promptFileSpecs(cfg.Prompt.SharedFiles)))
	}
	if len(cfg.Prompt.UserFiles) > 0 {
		engineOpts = append(engineOpts, turn.WithUserFileSpecs(promptFileSpecs(cfg.Prompt.UserFiles)))
	}

	engine := turn.NewEngine(prov, registry, sessions, cfg.Agent.Workspace, cfg.Agent.ID, engineOpts...)

	identity := router.NewIdentityResolver(userIdentities(cfg))
	r := router.NewRouter(cfg.Agent.ID, identity, engine, router.WithLogger(logger))

	sched := scheduler.New(cronEntries(cfg), knownUser(cfg), reminders, nil, r, logger)

	if cfg.Metrics.Enabled {
		srv := newMetricsServer(cfg.Metrics.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- sched.Run(ctx, notifier)
	}()

	consoleErr := runConsole(ctx, r, os.Stdin, os.Stdout)
	stop()
	<-errCh
	return consoleErr
}

func userIdentities(cfg *config.Config) []router.UserIdentity {
	out := make([]router.UserIdentity, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		out = append(out, router.UserIdentity{Name: u.Name, Trust: u.TrustLevel(), Match: u.Match})
	}
	return out
}

func userMatchPatterns(cfg *config.Config) scheduler.UserMatchPatterns {
	return func(userName string) []string {
		for _, u := range cfg.Users {
			if u.Name == userName {
				return u.Match
			}
		}
		return nil
	}
}

func knownUser(cfg *config.Config) scheduler.KnownUser {
	return func(name string) bool {
		for _, u := range cfg.Users {
			if u.Name == name {
				return true
			}
		}
		return false
	}
}

func promptFileSpecs(entries []config.PromptFileConfig) []prompt.FileSpec {
	out := make([]prompt.FileSpec, 0, len(entries))
	for _, e := range entries {
		trust, err := types.ParseTrustLevel(e.Trust)
		if err != nil {
			trust = types.TrustFamiliar
		}
		out = append(out, prompt.FileSpec{
			Path:        e.Path,
			MinTrust:    trust,
			Cache:       parseCacheHint(e.Cache),
			Description: e.Description,
		})
	}
	return out
}

func parseCacheHint(s string) prompt.CacheHint {
	switch s {
	case "session":
		return prompt.CacheSession
	case "volatile":
		return prompt.CacheVolatile
	default:
		return prompt.CacheStable
	}
}

func cronEntries(cfg *config.Config) []scheduler.Entry {
	out := make([]scheduler.Entry, 0, len(cfg.Cron))
	for _, e := range cfg.Cron {
		entry := scheduler.Entry{Name: e.Name, Cron: e.Cron, Message: e.Message, User: e.User}
		if e.Deliver != nil {
			entry.Deliver = &scheduler.Delivery{Channel: e.Deliver.Channel, Target: e.Deliver.Target}
		}
		out = append(out, entry)
	}
	return out
}
