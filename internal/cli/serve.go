package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahmadiii429861-dot/ahm-ai/internal/api"
	"github.com/ahmadiii429861-dot/ahm-ai/internal/config"
	"github.com/ahmadiii429861-dot/ahm-ai/internal/core"
	"github.com/ahmadiii429861-dot/ahm-ai/internal/llm"
	"github.com/ahmadiii429861-dot/ahm-ai/internal/store"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/logger"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/tracing"
)

type serveOptions struct {
	host     string
	port     string
	database string
	dev      bool
}

func addServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVar(&opts.host, "host", "", "listen host (overrides HTTP_HOST)")
	cmd.Flags().StringVarP(&opts.port, "port", "p", "", "listen port (overrides HTTP_PORT)")
	cmd.Flags().StringVar(&opts.database, "db", "", "SQLite file (overrides DATABASE_URL)")
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "human-readable development logging")
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local chat server",
		Long: `Run the local chat server.

A missing API key does not stop the server: chats stay browsable and sending
is disabled until the key is configured.

Examples:
  ahm-ai serve
  ahm-ai serve --port 9090 --db /tmp/chats.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	addServeFlags(cmd, opts)
	return cmd
}

func (o *serveOptions) apply(cfg *config.Config) {
	if o.host != "" {
		cfg.HTTPHost = o.host
	}
	if o.port != "" {
		cfg.HTTPPort = o.port
	}
	if o.database != "" {
		cfg.DatabaseURL = o.database
	}
	cfg.ResolvePublicBaseURL()
}

func newLogger(cfg config.Config, dev bool) (*logger.Logger, error) {
	if dev {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg := config.AppConfig
	opts.apply(&cfg)

	log, err := newLogger(cfg, opts.dev)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "ahm-ai", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("tracing disabled", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	kv, err := store.NewSQLiteStore(cfg.DatabaseURL, cfg.StorageQuotaBytes, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer kv.Close()

	client, err := llm.NewClient(ctx, llm.Provider(cfg.LLMProvider), cfg.APIKey())
	switch {
	case errors.Is(err, llm.ErrMissingAPIKey):
		log.Warn("no API key configured, sending disabled", zap.String("provider", cfg.LLMProvider))
	case err != nil:
		return fmt.Errorf("init %s client: %w", cfg.LLMProvider, err)
	}
	if closer, ok := client.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Warn("error closing LLM client", zap.Error(err))
			}
		}()
	}

	completion := core.NewCompletionService(client, cfg.CompletionTimeout, log)
	app := core.NewApp(kv, completion, cfg.PublicBaseURL, log)

	router := api.NewRouter(api.NewAPIHandler(app, log), api.RouterOptions{
		AllowedOrigins:    []string{cfg.PublicBaseURL},
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	serverAddr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.CompletionTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", serverAddr),
			zap.String("provider", completion.Provider()),
			zap.String("public_url", cfg.PublicBaseURL),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited gracefully")
	return nil
}
