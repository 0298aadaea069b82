package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coldironlabs/mcprt/internal/logging"
	"github.com/coldironlabs/mcprt/internal/telemetry"
	"github.com/coldironlabs/mcprt/pkg/mcp/cache"
	"github.com/coldironlabs/mcprt/pkg/mcp/dispatch"
	"github.com/coldironlabs/mcprt/pkg/mcp/protocol"
	"github.com/coldironlabs/mcprt/pkg/mcp/registry"
	"github.com/coldironlabs/mcprt/pkg/mcp/schema"
	"github.com/coldironlabs/mcprt/pkg/mcp/session"
	"github.com/coldironlabs/mcprt/pkg/mcp/session/memory"
	"github.com/coldironlabs/mcprt/pkg/mcp/subscription"
	"github.com/coldironlabs/mcprt/pkg/mcp/transport/sse"
	"github.com/coldironlabs/mcprt/pkg/mcp/transport/stdio"
	"github.com/coldironlabs/mcprt/pkg/mcpconfig"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	transportFlag string
	manifestFlag  string
)

func init() {
	serveCmd.Flags().StringVar(&transportFlag, "transport", "stdio", "transport to serve on: stdio|sse")
	serveCmd.Flags().StringVar(&manifestFlag, "manifest", "", "path to a manifest.json to hot-reload discovered elements from")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := mcpconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tel, err := telemetry.New(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(ctx) }()

	logger.Info(ctx, "starting mcpd",
		zap.String("server_name", cfg.ServerInfo.Name),
		zap.String("server_version", cfg.ServerInfo.Version),
		zap.String("transport", transportFlag))

	elementCache := cache.NewMemory()

	reg := registry.New(
		registry.WithCache(elementCache),
		registry.WithLogger(logger),
	)
	if err := reg.Load(ctx); err != nil {
		logger.Warn(ctx, "no persisted element cache to load", zap.Error(err))
	}
	if err := registerDemoElements(ctx, reg); err != nil {
		return fmt.Errorf("register demo elements: %w", err)
	}

	if manifestFlag != "" {
		watcher, err := registry.WatchManifest(ctx, reg, manifestFlag)
		if err != nil {
			return fmt.Errorf("watch manifest %s: %w", manifestFlag, err)
		}
		defer watcher.Close()
	}

	validator := schema.New()

	store := newSessionStore()

	subs, err := subscription.New(store, subscription.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("start subscription manager: %w", err)
	}
	defer subs.Close()

	reaper := session.NewReaper(store,
		session.WithThreshold(time.Duration(cfg.SessionTTLSeconds)*time.Second),
		session.WithLogger(logger),
		session.WithUnsubscribeAll(subs.UnsubscribeAll),
	)
	reaper.Start(ctx)
	defer reaper.Stop()

	d := dispatch.New(
		reg, nil, validator, subs,
		cfg.Capabilities, cfg.PaginationLimit, cfg.ServerInfo,
		dispatch.WithLogger(logger),
		dispatch.WithInstructions(cfg.Instructions),
	)

	p := protocol.New(store, d, protocol.WithLogger(logger))

	var serveErr error
	switch transportFlag {
	case "stdio":
		serveErr = runStdio(ctx, p, logger)
	case "sse":
		serveErr = runSSE(ctx, p, store, subs, cfg, logger)
	default:
		return fmt.Errorf("unknown transport %q (want stdio or sse)", transportFlag)
	}

	if err := reg.Save(ctx); err != nil {
		logger.Warn(ctx, "failed to persist element cache on shutdown", zap.Error(err))
	}

	return serveErr
}

func newSessionStore() session.Store {
	return memory.New()
}

func runStdio(ctx context.Context, p *protocol.Protocol, logger *logging.Logger) error {
	tr := stdio.New(os.Stdin, os.Stdout, stdio.WithLogger(logger))
	p.SetTransport(tr)
	return tr.Run(ctx, p)
}

func runSSE(ctx context.Context, p *protocol.Protocol, store session.Store, subs *subscription.Manager, cfg *mcpconfig.Config, logger *logging.Logger) error {
	reg := prometheus.NewRegistry()
	tr := sse.New(store, reg,
		sse.WithLogger(logger),
		sse.WithPrefix(cfg.HTTP.Prefix),
		sse.WithRateLimit(cfg.HTTP.RateLimitPerSecond, cfg.HTTP.RateLimitBurst),
		sse.WithUnsubscribeAll(subs.UnsubscribeAll),
		sse.WithRequireAcceptBoth(cfg.HTTP.RequireAcceptBoth),
	)
	p.SetTransport(tr)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	tr.Register(e, p)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: e}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "sse transport listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
