package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichardoC/forumtech/internal/api"
	"github.com/RichardoC/forumtech/internal/config"
	"github.com/RichardoC/forumtech/internal/db"
	"github.com/RichardoC/forumtech/internal/llm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServerCmd() *cobra.Command {
	var (
		configPath string
		logger     *zap.Logger
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve the blog, forum and chat gateway API",
		Long: `server runs the HTTP API of the blog and forum together with the
streaming chat gateway.

Settings come from an optional YAML file given with --config and are then
overridden by environment variables such as OPENAI_API_KEY.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = zap.NewProduction()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath, logger)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}

func main() {
	if err := newServerCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// serve runs the API until ctx is done or a termination signal arrives.
func serve(ctx context.Context, configPath string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
		return err
	}
	defer database.Close()

	// A provider that cannot be built is reported on every chat request
	// instead of keeping the content API down.
	llmService, err := llm.New(cfg.Chat.BaseURL, cfg.Chat.APIKey, cfg.Chat.Model, logger)
	if err != nil {
		logger.Warn("chat provider unavailable", zap.Error(err), zap.String("model", cfg.Chat.Model))
		llmService = llm.Unavailable(err, logger)
	}

	var limiter *api.RateLimiter
	if cfg.Chat.RatePerMinute > 0 {
		limiter = api.NewRateLimiter(cfg.Chat.RatePerMinute, cfg.Chat.Burst)
	}

	handler := api.NewHandler(database, llmService, logger, cfg.Chat.MaxDuration)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Routes(limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server", zap.String("addr", cfg.Addr), zap.String("model", cfg.Chat.Model))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	return nil
}
