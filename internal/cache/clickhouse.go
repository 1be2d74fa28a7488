package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/storage"
)

var _ storage.MatchStore = (*ClickHouseStore)(nil)

const schemaDeposits = `
	CREATE TABLE IF NOT EXISTS deposits (
		protocol     LowCardinality(String),
		signature    String,
		timestamp    DateTime64(3, 'UTC'),
		amount       UInt64,
		depositor    String,
		pool_account String
	) ENGINE = ReplacingMergeTree
	ORDER BY (protocol, signature)
`

const schemaMatches = `
	CREATE TABLE IF NOT EXISTS matches (
		protocol      LowCardinality(String),
		type          LowCardinality(String),
		confidence    Float64,
		anonymity_set UInt32,
		detected_at   DateTime64(3, 'UTC'),
		signatures    Array(String),
		payload       String
	) ENGINE = MergeTree
	ORDER BY (protocol, detected_at)
`

// ClickHouseStore archives deposits and matches and serves deposit snapshots
type ClickHouseStore struct {
	conn   driver.Conn
	logger *logrus.Logger
}

// ClickHouseConfig holds connection settings for the archive
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Logger   *logrus.Logger
}

func NewClickHouseStore(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &ClickHouseStore{conn: conn, logger: cfg.Logger}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	cfg.Logger.WithFields(logrus.Fields{
		"addr":     cfg.Addr,
		"database": cfg.Database,
	}).Info("connected to ClickHouse")
	return s, nil
}

func (c *ClickHouseStore) ensureSchema(ctx context.Context) error {
	for _, ddl := range []string{schemaDeposits, schemaMatches} {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (c *ClickHouseStore) Name() string { return "clickhouse" }

func (c *ClickHouseStore) WriteDeposit(ctx context.Context, protocol string, d models.Deposit) error {
	query := `
		INSERT INTO deposits (
			protocol, signature, timestamp, amount, depositor, pool_account
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	err := c.conn.Exec(ctx, query,
		protocol,
		d.Signature,
		d.Timestamp,
		d.Amount,
		d.Depositor,
		d.PoolAccount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deposit: %w", err)
	}
	return nil
}

func (c *ClickHouseStore) WriteMatch(ctx context.Context, m *models.Match) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}

	query := `
		INSERT INTO matches (
			protocol, type, confidence, anonymity_set, detected_at, signatures, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err = c.conn.Exec(ctx, query,
		m.Protocol,
		string(m.Type),
		m.Confidence,
		uint32(m.AnonymitySet),
		m.DetectedAt,
		m.Signatures(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	return nil
}

// RecentDeposits returns the newest limit deposits of protocol in
// chronological order. Spent state is not archived; snapshot deposits come
// back unspent.
func (c *ClickHouseStore) RecentDeposits(ctx context.Context, protocol string, limit int) ([]models.Deposit, error) {
	query := `
		SELECT signature, timestamp, amount, depositor, pool_account
		FROM deposits FINAL
		WHERE protocol = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := c.conn.Query(ctx, query, protocol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deposits: %w", err)
	}
	defer rows.Close()

	var out []models.Deposit
	for rows.Next() {
		var d models.Deposit
		if err := rows.Scan(&d.Signature, &d.Timestamp, &d.Amount, &d.Depositor, &d.PoolAccount); err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read deposits: %w", err)
	}

	slices.Reverse(out)
	return out, nil
}

func (c *ClickHouseStore) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseStore) Close() error {
	return c.conn.Close()
}
