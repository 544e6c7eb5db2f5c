// Command ssereplay runs the replaying Server-Sent Events demo server.
package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mroth/ssereplay"
	"github.com/mroth/ssereplay/admin"
	"github.com/mroth/ssereplay/internal/config"
	"github.com/mroth/ssereplay/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ssereplay",
		Short: "Server-Sent Events server with replay",
		Long: "ssereplay streams numbered Server-Sent Events and replays recent " +
			"history to clients that reconnect with Last-Event-ID.",
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, cfg); err != nil {
				return err
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg, logger)
		},
	}
	serveCmd.Flags().String("addr", "", "HTTP listen address (default from SSEREPLAY_APP_ADDR or :8000)")
	serveCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serveCmd.Flags().String("log-format", "", "Log format: json|console")
	serveCmd.Flags().Int("history", 0, "Events retained per topic for replay")
	rootCmd.AddCommand(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ssereplay", version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// applyFlags overrides cfg with any flag the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.App.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("history") {
		cfg.History.Size, _ = flags.GetInt("history")
	}
	return cfg.Validate()
}

// newHandler mounts the SSE server and its admin pages on one mux.
func newHandler(s *ssereplay.Server, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/admin/", admin.Handler(s, cfg.Admin.Enabled))
	mux.Handle("/", s)
	return mux
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	opts := append(cfg.ServerOptions(), ssereplay.WithLogger(logger.Named("sse")))
	s, err := ssereplay.NewServer(opts...)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// the status snapshot is also available via /debug/vars along with memstats
	expvar.Publish("ssereplay", expvar.Func(func() interface{} {
		return s.Status()
	}))

	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.Handle("/", newHandler(s, cfg))
	srv := &http.Server{
		Addr:              cfg.App.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server started",
			zap.String("addr", cfg.App.Addr),
			zap.String("env", cfg.App.Env),
			zap.String("version", version),
			zap.Int("history", cfg.History.Size))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		s.Shutdown()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// streams never go idle on their own, so end them before draining
	s.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
