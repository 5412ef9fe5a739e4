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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/openfeeds/feedprovider/internal/api"
	"github.com/openfeeds/feedprovider/internal/config"
	"github.com/openfeeds/feedprovider/internal/engine"
	"github.com/openfeeds/feedprovider/internal/exchange"
	"github.com/openfeeds/feedprovider/internal/feed"
)

const (
	appName = "feedprovider"
	version = "v1.0.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Price and volume feed provider for voting protocol clients",
		Version: version,
		RunE:    runServe,
	}
	rootCmd.Flags().Int("port", 0, "HTTP listen port (overrides VALUE_PROVIDER_CLIENT_PORT)")
	rootCmd.Flags().String("config-dir", "", "Directory with feeds.json and exchanges.yaml (overrides CONFIG_DIR)")

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Exiting with error")
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.FromEnv()
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if dir, _ := cmd.Flags().GetString("config-dir"); dir != "" {
		cfg.ConfigDir = dir
	}
	initLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, cleanup, err := buildProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	server := api.NewServer(provider, api.DefaultServerConfig(cfg.Port))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildProvider selects the provider implementation from VALUE_PROVIDER_IMPL
// and, for the live engine, wires the catalog and exchange adapters.
func buildProvider(ctx context.Context, cfg config.Config) (feed.ValueProvider, func(), error) {
	switch cfg.Impl {
	case config.ImplFixed:
		return feed.NewFixedFeed(), func() {}, nil
	case config.ImplRandom:
		return feed.NewRandomFeed(), func() {}, nil
	}

	registry, err := feed.LoadRegistry(cfg.FeedCatalogPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading feed catalog: %w", err)
	}
	exchanges, err := exchange.LoadConfig(cfg.ExchangeConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading exchange config: %w", err)
	}

	log.Info().Int("trades_limit", cfg.TradesHistorySize).Msg("Initializing exchanges")
	eng := engine.New(engine.Options{
		Registry: registry,
		Lambda:   cfg.MedianDecay,
		Adapters: func(name string) (exchange.Adapter, error) {
			settings, ok := exchanges.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("exchange %s not configured", name)
			}
			return exchange.New(name, settings, cfg.TradesHistorySize)
		},
	})
	if err := eng.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("starting engine: %w", err)
	}
	return eng, eng.Stop, nil
}

// initLogging configures the global zerolog logger: console output on a
// terminal, JSON otherwise.
func initLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
