// ============================================================================
// cmd/analyzer/main.go - Realtime Privacy Analyzer Service
// ============================================================================
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/cache"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/config"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/constants"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/correlation"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/events"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/flags"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/metrics"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/parser"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/realtime"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/rpc"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/server"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/storage"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/stream"
)

// env bootstrap function
func loadEnv(logger *logrus.Logger) {
	// Get the project root directory (where go.mod is)
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	envPath := filepath.Join(projectRoot, ".env")

	if err := godotenv.Load(envPath); err != nil {
		logger.Warnf("no .env file found at %s, using system environment variables", envPath)
	} else {
		logger.Infof("loaded .env from %s", envPath)
	}
}

// analyzerConfig maps env configuration onto the detectors
func analyzerConfig(cfg *config.Config) realtime.Config {
	ac := realtime.DefaultConfig()

	ac.Timing.ExpectedFee = cfg.ExpectedFee
	ac.Timing.AmountWeight = cfg.AmountWeight
	ac.Timing.TimingWeight = cfg.TimingWeight
	ac.Timing.Lookback = cfg.Lookback
	ac.Timing.DecayHorizon = cfg.DecayHorizon
	ac.Timing.RelevanceThreshold = cfg.RelevanceThreshold
	ac.Timing.ReportThreshold = cfg.ReportThreshold
	ac.Timing.MaxRankedSources = cfg.MaxRankedSources
	ac.Timing.ExcludeSpent = cfg.ExcludeSpent

	ac.FeeWindow.Window = cfg.FeeWindow
	ac.FeeWindow.MinDelta = cfg.FeeMinDelta
	ac.FeeWindow.MaxDelta = cfg.FeeMaxDelta
	ac.FeeWindow.ExpectedFee = cfg.ExpectedFee
	ac.FeeWindow.FeeTolerance = cfg.FeeTolerance
	ac.FeeWindow.ZeroConfidenceDeviation = cfg.ZeroConfidenceDeviation
	ac.FeeWindow.MinConfidence = cfg.MinFeeConfidence
	ac.FeeWindow.Clock = correlation.ClockMode(cfg.FeeWindowClock)

	ac.Distribution.MaterialityThreshold = cfg.MaterialityThreshold
	ac.Distribution.RepeatThreshold = cfg.RepeatThreshold

	ac.SnapshotSize = cfg.SnapshotSize
	return ac
}

func main() {
	// Initialize structured logger with custom formatting
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.InfoLevel)

	// load .env BEFORE anything reads os.Getenv
	loadEnv(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown (Ctrl+C, SIGTERM)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	m := metrics.NewMetrics(nil)
	bus := events.NewBus(events.BusConfig{Logger: logger, Observer: m})

	// Parser registry, one entry per configured pool account
	opts := make(map[string]parser.Options, len(cfg.Protocols))
	poolAccounts := make(map[string]string, len(cfg.Protocols))
	for id, p := range cfg.Protocols {
		opts[id] = parser.Options{
			PoolAccount:   p.PoolAccount,
			MinDeposit:    p.MinDeposit,
			MinWithdrawal: p.MinWithdrawal,
		}
		poolAccounts[id] = p.PoolAccount
	}
	registry, err := parser.NewRegistryFromOptions(opts, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build parser registry")
	}
	protocols := registry.Protocols()

	// Redis backs recent matches, detector flags and the raw ingest channel
	matchCache := cache.NewRedisMatchCache(cache.RedisConfig{
		Addr:      cfg.RedisAddr,
		DB:        cfg.RedisDB,
		MaxRecent: cfg.MaxRecentMatches,
		Logger:    logger,
	})
	defer matchCache.Close()
	if err := matchCache.Ping(ctx); err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}
	rclient := matchCache.Client()

	flagStore, err := flags.NewStore(rclient)
	if err != nil {
		logger.WithError(err).Fatal("failed to create flags store")
	}
	gate := flags.NewGate(flagStore, logger)
	if err := gate.Refresh(ctx); err != nil {
		logger.WithError(err).Warn("failed to load detector flags, all detectors enabled")
	}
	go gate.Run(ctx, cfg.FlagRefreshInterval)

	// Sinks: Redis always, ClickHouse and NATS when reachable
	matchSinks := []storage.MatchSink{matchCache}
	var depositSinks []storage.DepositSink
	var snapshot storage.DepositSnapshotSource

	if cfg.EnableClickHouse {
		store, err := cache.NewClickHouseStore(ctx, cache.ClickHouseConfig{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Logger:   logger,
		})
		if err != nil {
			logger.WithError(err).Warn("clickhouse unavailable, running without snapshot and archive")
		} else {
			defer store.Close()
			snapshot = store
			matchSinks = append(matchSinks, store)
			depositSinks = append(depositSinks, store)
		}
	}

	if cfg.NATSUrl != "" {
		pub, err := cache.NewNATSMatchPublisher(ctx, cfg.NATSUrl, logger)
		if err != nil {
			logger.WithError(err).Warn("nats unavailable, matches will not be published to jetstream")
		} else {
			defer pub.Close()
			matchSinks = append(matchSinks, pub)
		}
	}

	// Detectors
	ac := analyzerConfig(cfg)
	ac.PoolAddresses = registry.PoolAccounts()
	ac.Gate = gate
	ac.Protocols = protocols
	ac.Snapshot = snapshot
	ac.Metrics = m
	ac.Logger = logger

	analyzer := realtime.NewAnalyzer(bus, ac)
	if err := analyzer.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start analyzer")
	}
	defer analyzer.Stop()

	forwarder := realtime.NewForwarder(bus, realtime.ForwarderConfig{
		MatchSinks:   matchSinks,
		DepositSinks: depositSinks,
		QueueSize:    cfg.ForwarderQueueSize,
		WriteTimeout: cfg.SinkWriteTimeout,
		Metrics:      m,
		Logger:       logger,
	})
	// Not bound to ctx: it is stopped after the sources, so queued items
	// are written before exit.
	forwarder.Start(context.Background())

	ingestor := realtime.NewIngestor(realtime.IngestorConfig{
		Registry: registry,
		Bus:      bus,
		Metrics:  m,
		Logger:   logger,
	})

	// Raw transaction sources. The bus is synchronous, so deliveries from
	// several sources are serialized here.
	var ingestMu sync.Mutex
	handle := func(protocol string, tx parser.RawTransaction) {
		ingestMu.Lock()
		defer ingestMu.Unlock()
		ingestor.Handle(protocol, tx)
	}

	var sources []storage.RawTransactionSource
	if cfg.EnableRawPubSub {
		sources = append(sources, cache.NewRawSubscriber(rclient, protocols, logger))
	}
	if cfg.EnableRPC {
		client := rpc.NewClient(rpc.ClientConfig{
			BaseURL:      cfg.RPCUrl,
			Timeout:      cfg.HTTPTimeout,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
			Logger:       logger,
			Metrics:      m,
		})
		poller, err := stream.NewRPCPoller(stream.RPCPollerConfig{
			RPCClient:    client,
			PoolAccounts: poolAccounts,
			PollInterval: cfg.PollInterval,
			FetchDelay:   constants.DelayBetweenTxFetch,
			Logger:       logger,
		})
		if err != nil {
			logger.WithError(err).Fatal("failed to create rpc poller")
		}
		sources = append(sources, poller)
	}
	if cfg.KafkaBrokers != "" {
		kafka, err := stream.NewKafkaSource(stream.KafkaSourceConfig{
			Brokers:   stream.SplitBrokers(cfg.KafkaBrokers),
			GroupID:   cfg.KafkaGroup,
			Topic:     cfg.KafkaTopic,
			Protocols: protocols,
			Logger:    logger,
		})
		if err != nil {
			logger.WithError(err).Fatal("failed to create kafka source")
		}
		sources = append(sources, kafka)
	}

	// A failing source is logged; the others keep running
	var g errgroup.Group
	for _, src := range sources {
		g.Go(func() error {
			if err := src.Start(ctx, handle); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("raw transaction source stopped")
			}
			return nil
		})
	}

	// Read-only API
	srv, err := server.NewServer(server.ServerDeps{
		Handlers: &server.Handlers{
			Analyzer: analyzer,
			Cache:    matchCache,
			Flags:    flagStore,
			Gate:     gate,
			Timeout:  cfg.APITimeout,
			Logger:   logger,
		},
		Config: server.ServerConfig{
			Addr:    cfg.APIAddr,
			DevMode: cfg.DevMode,
			APIKey:  cfg.APIKey,
			Metrics: m,
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create http server")
	}

	go func() {
		<-sigCh
		logger.Info("shutting down")
		for _, src := range sources {
			_ = src.Stop()
		}
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"addr":      cfg.APIAddr,
		"protocols": protocols,
		"sources":   len(sources),
		"sinks":     len(matchSinks),
	}).Info("analyzer running")

	if err := srv.Run(ctx); err != nil {
		logger.WithError(err).Fatal("api server failed")
	}

	// Sources first, so no event is published after the forwarder drains
	_ = g.Wait()
	forwarder.Stop()
	logger.Info("analyzer stopped")
}
