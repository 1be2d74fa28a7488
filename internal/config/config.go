package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProtocolConfig is the env-provided setup of one protocol parser
type ProtocolConfig struct {
	PoolAccount   string
	MinDeposit    uint64
	MinWithdrawal uint64
}

type Config struct {
	// RPC settings
	RPCUrl       string
	PollInterval time.Duration
	EnableRPC    bool

	// Protocols keyed by protocol id; only ids with a pool account set.
	// Entries from ProtocolsFile override the POOL_ACCOUNT_* variables.
	Protocols     map[string]ProtocolConfig
	ProtocolsFile string
	protocolsErr  error

	// Redis settings
	RedisAddr        string
	RedisDB          int
	EnableRawPubSub  bool
	MaxRecentMatches int64

	// ClickHouse settings
	EnableClickHouse   bool
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string

	// NATS settings
	NATSUrl string

	// Kafka raw transaction source; empty brokers disables it
	KafkaBrokers string
	KafkaGroup   string
	KafkaTopic   string

	// HTTP client settings
	HTTPTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// API settings
	APIAddr    string
	APIKey     string
	DevMode    bool
	APITimeout time.Duration

	// Timing correlation
	ExpectedFee        float64
	AmountWeight       float64
	TimingWeight       float64
	Lookback           time.Duration
	DecayHorizon       time.Duration
	RelevanceThreshold float64
	ReportThreshold    int
	MaxRankedSources   int
	ExcludeSpent       bool

	// Fee window
	FeeWindow               time.Duration
	FeeMinDelta             time.Duration
	FeeMaxDelta             time.Duration
	FeeTolerance            float64
	ZeroConfidenceDeviation float64
	MinFeeConfidence        int
	FeeWindowClock          string

	// Distribution
	MaterialityThreshold uint64
	RepeatThreshold      int

	// Analyzer plumbing
	SnapshotSize        int
	ForwarderQueueSize  int
	SinkWriteTimeout    time.Duration
	FlagRefreshInterval time.Duration
}

// protocolEnv maps protocol ids to their env prefix
var protocolEnv = map[string]string{
	"privacy-cash": "PRIVACY_CASH",
	"shadowwire":   "SHADOWWIRE",
	"silentswap":   "SILENTSWAP",
}

func Load() *Config {
	cfg := &Config{
		// RPC
		RPCUrl:       getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		PollInterval: getDurationEnv("POLL_INTERVAL", 30*time.Second),
		EnableRPC:    getBoolEnv("ENABLE_RPC_POLLER", true),

		Protocols: loadProtocols(),

		// Redis
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:          getIntEnv("REDIS_DB", 0),
		EnableRawPubSub:  getBoolEnv("ENABLE_RAW_PUBSUB", true),
		MaxRecentMatches: int64(getIntEnv("MAX_RECENT_MATCHES", 1000)),

		// ClickHouse
		EnableClickHouse:   getBoolEnv("ENABLE_CLICKHOUSE", true),
		ClickHouseAddr:     getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "solana"),
		ClickHouseUsername: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),

		// NATS, empty disables the publisher
		NATSUrl: getEnv("NATS_URL", ""),

		// Kafka
		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		KafkaGroup:   getEnv("KAFKA_GROUP", "privacy-analyzer"),
		KafkaTopic:   getEnv("KAFKA_RAW_TOPIC", "raw-transactions"),

		// HTTP
		HTTPTimeout:  getDurationEnv("HTTP_TIMEOUT", 30*time.Second),
		MaxRetries:   getIntEnv("MAX_RETRIES", 5),
		RetryBackoff: getDurationEnv("RETRY_BACKOFF", 2*time.Second),

		// API
		APIAddr:    getEnv("API_ADDR", ":8080"),
		APIKey:     getEnv("API_KEY", ""),
		DevMode:    getBoolEnv("DEV_MODE", false),
		APITimeout: getDurationEnv("API_TIMEOUT", 5*time.Second),

		// Timing correlation
		ExpectedFee:        getFloatEnv("EXPECTED_FEE", 0.01),
		AmountWeight:       getFloatEnv("AMOUNT_WEIGHT", 0.7),
		TimingWeight:       getFloatEnv("TIMING_WEIGHT", 0.3),
		Lookback:           getDurationEnv("LOOKBACK", 30*24*time.Hour),
		DecayHorizon:       getDurationEnv("DECAY_HORIZON", 24*time.Hour),
		RelevanceThreshold: getFloatEnv("RELEVANCE_THRESHOLD", 0.5),
		ReportThreshold:    getIntEnv("REPORT_THRESHOLD", 20),
		MaxRankedSources:   getIntEnv("MAX_RANKED_SOURCES", 10),
		ExcludeSpent:       getBoolEnv("EXCLUDE_SPENT", false),

		// Fee window
		FeeWindow:               getDurationEnv("FEE_WINDOW", 10*time.Minute),
		FeeMinDelta:             getDurationEnv("FEE_MIN_DELTA", 30*time.Second),
		FeeMaxDelta:             getDurationEnv("FEE_MAX_DELTA", 5*time.Minute),
		FeeTolerance:            getFloatEnv("FEE_TOLERANCE", 0.005),
		ZeroConfidenceDeviation: getFloatEnv("ZERO_CONFIDENCE_DEVIATION", 0),
		MinFeeConfidence:        getIntEnv("MIN_FEE_CONFIDENCE", 60),
		FeeWindowClock:          getEnv("FEE_WINDOW_CLOCK", "wall"),

		// Distribution
		MaterialityThreshold: getUint64Env("MATERIALITY_THRESHOLD", 100_000_000),
		RepeatThreshold:      getIntEnv("REPEAT_THRESHOLD", 3),

		// Analyzer
		SnapshotSize:        getIntEnv("SNAPSHOT_SIZE", 10_000),
		ForwarderQueueSize:  getIntEnv("FORWARDER_QUEUE_SIZE", 1024),
		SinkWriteTimeout:    getDurationEnv("SINK_WRITE_TIMEOUT", 5*time.Second),
		FlagRefreshInterval: getDurationEnv("FLAG_REFRESH_INTERVAL", 10*time.Second),
	}

	cfg.ProtocolsFile = getEnv("PROTOCOLS_FILE", "")
	if cfg.ProtocolsFile != "" {
		fromFile, err := LoadProtocolsFile(cfg.ProtocolsFile)
		if err != nil {
			cfg.protocolsErr = err
		}
		for id, pc := range fromFile {
			cfg.Protocols[id] = pc
		}
	}
	return cfg
}

// loadProtocols reads POOL_ACCOUNT_<P>, MIN_DEPOSIT_<P> and MIN_WITHDRAWAL_<P>
func loadProtocols() map[string]ProtocolConfig {
	out := make(map[string]ProtocolConfig)
	for id, suffix := range protocolEnv {
		account := strings.TrimSpace(os.Getenv("POOL_ACCOUNT_" + suffix))
		if account == "" {
			continue
		}
		out[id] = ProtocolConfig{
			PoolAccount:   account,
			MinDeposit:    getUint64Env("MIN_DEPOSIT_"+suffix, 0),
			MinWithdrawal: getUint64Env("MIN_WITHDRAWAL_"+suffix, 0),
		}
	}
	return out
}

// Validate checks ranges that would otherwise silently disable detectors
func (c *Config) Validate() error {
	if c.protocolsErr != nil {
		return fmt.Errorf("PROTOCOLS_FILE: %w", c.protocolsErr)
	}
	if len(c.Protocols) == 0 {
		return fmt.Errorf("no protocol configured: set at least one POOL_ACCOUNT_* variable")
	}
	if c.ExpectedFee < 0 || c.ExpectedFee >= 1 {
		return fmt.Errorf("EXPECTED_FEE must be in [0, 1), got %v", c.ExpectedFee)
	}
	if c.AmountWeight < 0 || c.TimingWeight < 0 || c.AmountWeight+c.TimingWeight == 0 {
		return fmt.Errorf("AMOUNT_WEIGHT and TIMING_WEIGHT must be non-negative and not both zero")
	}
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold >= 1 {
		return fmt.Errorf("RELEVANCE_THRESHOLD must be in [0, 1), got %v", c.RelevanceThreshold)
	}
	if c.ReportThreshold < 1 {
		return fmt.Errorf("REPORT_THRESHOLD must be at least 1, got %d", c.ReportThreshold)
	}
	if c.DecayHorizon <= 0 {
		return fmt.Errorf("DECAY_HORIZON must be positive")
	}
	if c.FeeWindow <= 0 || c.FeeMinDelta < 0 || c.FeeMaxDelta < c.FeeMinDelta {
		return fmt.Errorf("fee window bounds are inconsistent: window=%s min=%s max=%s",
			c.FeeWindow, c.FeeMinDelta, c.FeeMaxDelta)
	}
	if c.FeeTolerance < 0 || c.ZeroConfidenceDeviation < 0 {
		return fmt.Errorf("FEE_TOLERANCE and ZERO_CONFIDENCE_DEVIATION must be non-negative")
	}
	if c.MinFeeConfidence < 0 || c.MinFeeConfidence > 100 {
		return fmt.Errorf("MIN_FEE_CONFIDENCE must be in [0, 100], got %d", c.MinFeeConfidence)
	}
	if c.FeeWindowClock != "wall" && c.FeeWindowClock != "event" {
		return fmt.Errorf("FEE_WINDOW_CLOCK must be wall or event, got %q", c.FeeWindowClock)
	}
	if c.SnapshotSize < 0 || c.ForwarderQueueSize < 1 {
		return fmt.Errorf("SNAPSHOT_SIZE must be non-negative and FORWARDER_QUEUE_SIZE positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getUint64Env(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseUint(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
