package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/mcpd/internal/config"
	"github.com/haasonsaas/mcpd/internal/gateway"
	"github.com/haasonsaas/mcpd/internal/observability"
	"github.com/haasonsaas/mcpd/internal/protocol"
	"github.com/haasonsaas/mcpd/internal/server"
)

// buildServeCmd creates the "serve" command that hosts MCP sessions.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		useHTTP    bool
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP sessions over stdio or HTTP",
		Long: `Serve MCP sessions with the configured registry and authorization chain.

By default mcpd speaks the protocol on stdin/stdout, the transport used by
hosts that spawn MCP servers as child processes. With --http it serves the
streamable HTTP gateway instead: JSON-RPC over POST /mcp, notifications
over GET /mcp/sse, plus /healthz and /metrics.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Serve on stdin/stdout
  mcpd serve --config mcpd.yaml

  # Serve the HTTP gateway
  mcpd serve --config mcpd.yaml --http`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), useHTTP, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	cmd.Flags().BoolVar(&useHTTP, "http", false,
		"Serve the HTTP gateway instead of stdio")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

func runServe(ctx context.Context, configPath string, useHTTP, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(cfg.Logging)
	metrics, registry := observability.NewMetrics()

	srv := server.New(server.Options{
		Info: protocol.Implementation{
			Name:    cfg.Server.Name,
			Version: serverVersion(cfg),
		},
		Instructions: cfg.Server.Instructions,
		PageSize:     cfg.Server.PageSize,
		Logger:       logger,
		Metrics:      metrics,
	})
	defer srv.Close()

	for _, filter := range config.BuildFilters(cfg.Authorization) {
		srv.Authorization().RegisterFilter(filter)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !useHTTP && !cfg.HTTP.Enabled {
		logger.Info("serving MCP over stdio", "server", cfg.Server.Name)
		return srv.ServeStdio(ctx)
	}

	mux := http.NewServeMux()
	gateway.NewHandler(srv, registry, logger).Routes(mux)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving MCP over HTTP", "addr", cfg.HTTP.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// loadConfig loads the file, falling back to defaults when it is absent.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

// serverVersion prefers the configured version, falling back to the build
// version.
func serverVersion(cfg *config.Config) string {
	if cfg.Server.Version != "" {
		return cfg.Server.Version
	}
	return version
}
