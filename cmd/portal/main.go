// Command portal serves the shop-floor work-instruction portal API.
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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"workrecord/api/internal/authpw"
	"workrecord/api/internal/config"
	"workrecord/api/internal/logger"
)

const (
	Version = "0.1.0"
	appName = "portal"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Work-instruction portal API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file read before the environment")

	cmd.AddCommand(serveCmd(), reindexCmd(), hashPasswordCmd(), &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log, err := logger.New(cfg.LogMode)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	p, err := buildPortal(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           p.http.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("portal API listening", "addr", cfg.Addr, "data_dir", cfg.DataDir)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := p.search.Watch(gctx); err != nil {
			log.Warn("search index watcher stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push search-index.json into Meilisearch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.MeiliURL == "" {
				return errors.New("MEILI_URL is not set")
			}
			log, err := logger.New(cfg.LogMode)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer log.Sync()

			p, err := buildPortal(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer p.Close()

			count, err := p.search.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d drawings\n", count)
			return nil
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for PORTAL_ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := authpw.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
