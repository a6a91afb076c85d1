package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/promptflow/internal/api"
	"github.com/hugo-lorenzo-mato/promptflow/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the promptflow HTTP API.

The server exposes workflow authoring, runs, files, threads and saved
prompts under /api/v1, a Server-Sent Events stream at /api/v1/events and
Prometheus metrics at /metrics.

Examples:
  # Start with defaults (localhost:8080)
  promptflow serve

  # Listen on all interfaces
  promptflow serve --host 0.0.0.0 --port 3000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "Host address to bind to")
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, appOptions{generator: true})
	if err != nil {
		return err
	}
	defer a.close()

	srvCfg := a.cfg.Server
	server := api.NewServer(api.Services{
		Workflows: a.workflows,
		Threads:   a.threads,
		Executor:  a.executor,
		Files:     a.files,
	}, a.bus,
		api.WithLogger(a.logger),
		api.WithMetrics(a.metrics),
		api.WithRunContext(ctx),
		api.WithAllowedOrigins(srvCfg.AllowedOrigins...),
		api.WithRequestTimeout(config.Duration(srvCfg.RequestTimeout)),
		api.WithSSEKeepAlive(config.Duration(srvCfg.SSEKeepAlive)),
		api.WithMaxUploadBytes(int64(a.cfg.Files.MaxSizeMB)<<20+1<<20),
	)

	addr := srvCfg.Addr()
	a.logger.Info("starting server",
		"addr", addr,
		"store", a.cfg.Store.Backend,
		"generator", a.generator.Name(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		grace := config.Duration(srvCfg.ShutdownGrace)
		if grace <= 0 {
			grace = 10 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := a.executor.CancelAll(sctx); err != nil {
			a.logger.Warn("aborted runs still active at shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("server stopped")
	return nil
}
