package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/tradequote/internal/book"
	"github.com/sawpanic/tradequote/internal/cache"
	"github.com/sawpanic/tradequote/internal/config"
	"github.com/sawpanic/tradequote/internal/feed"
	"github.com/sawpanic/tradequote/internal/fees"
	"github.com/sawpanic/tradequote/internal/latency"
	"github.com/sawpanic/tradequote/internal/metrics"
	"github.com/sawpanic/tradequote/internal/quote"
	"github.com/sawpanic/tradequote/internal/server"
)

const (
	appName = "tradequote"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string
	var debug bool

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Live order-book trade cost estimator",
		Version: version,
		Long: `TradeQuote maintains a live exchange order book over WebSocket and
serves slippage, market impact, fee and maker/taker estimates for
hypothetical orders against it.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the feed, book engine and HTTP quote API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return runServe(cmd.Flags(), configPath)
		},
	}
	serveCmd.Flags().String("symbol", "", "override the active symbol")
	serveCmd.Flags().Int("port", 0, "override the HTTP port")

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func runServe(flags *pflag.FlagSet, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if symbol, _ := flags.GetString("symbol"); symbol != "" {
		cfg.Exchange.Symbols = []string{symbol}
	}
	if port, _ := flags.GetInt("port"); port > 0 {
		cfg.HTTP.Port = port
	}

	registry := metrics.NewRegistry()

	feedClient := feed.NewClient(feed.Config{
		URL:            cfg.Exchange.WSURL,
		APIKey:         cfg.Exchange.APIKey,
		APISecret:      cfg.Exchange.APISecret,
		Passphrase:     cfg.Exchange.Passphrase,
		Channel:        cfg.Exchange.Channel,
		PingInterval:   cfg.Exchange.PingInterval(),
		ReconnectDelay: cfg.Exchange.ReconnectDelay(),
		BufferSize:     cfg.Exchange.BufferSize,
	})
	feedClient.SetMetricsCallback(registry.FeedCallback())

	var fetcher *feed.SnapshotFetcher
	if cfg.Exchange.RESTURL != "" {
		fetcher = feed.NewSnapshotFetcher(cfg.Exchange.RESTURL)
	}

	schedule := fees.DefaultSchedule()
	if cfg.Fees.SchedulePath != "" {
		schedule, err = fees.LoadSchedule(cfg.Fees.SchedulePath)
		if err != nil {
			return err
		}
	}

	orch := quote.New(quote.Deps{
		Feed:         feedClient,
		Fetcher:      fetcher,
		Engine:       book.NewEngine(cfg.Book.MaxDepth),
		Fees:         schedule,
		Latency:      latency.NewTracker(),
		Cache:        cache.New(cfg.Redis.Addr, cfg.Redis.TTL()),
		Metrics:      registry,
		Symbols:      cfg.Exchange.Symbols,
		ResyncPolicy: cfg.Exchange.ResyncPolicy,
		MaxDepth:     cfg.Book.MaxDepth,
	})

	srv := server.New(server.Config{
		Host:         cfg.HTTP.Host,
		Port:         cfg.HTTP.Port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, server.NewHandlers(orch, registry.Handler()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch.Start(ctx)
	log.Info().
		Strs("symbols", cfg.Exchange.Symbols).
		Str("resync_policy", cfg.Exchange.ResyncPolicy).
		Msg("Quote pipeline started")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	cancel()
	orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
