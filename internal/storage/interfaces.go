package storage

import (
	"context"
	"io"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/parser"
)

// DepositSnapshotSource supplies historical deposits to seed the in-memory
// indexes at startup
type DepositSnapshotSource interface {
	// RecentDeposits returns up to limit of the newest deposits of a protocol
	RecentDeposits(ctx context.Context, protocol string, limit int) ([]models.Deposit, error)
}

// MatchSink receives reported matches off the bus
type MatchSink interface {
	// Name identifies the sink in logs and metrics
	Name() string

	// WriteMatch persists or forwards one match
	WriteMatch(ctx context.Context, match *models.Match) error
}

// DepositSink archives observed deposits so later runs can seed from them
type DepositSink interface {
	Name() string

	// WriteDeposit persists one deposit
	WriteDeposit(ctx context.Context, protocol string, deposit models.Deposit) error
}

// MatchCache keeps recent matches for fast reads and fans them out to
// real-time subscribers
type MatchCache interface {
	MatchSink

	// RecentMatches retrieves the most recent matches, newest first
	RecentMatches(ctx context.Context, limit int64) ([]*models.Match, error)

	// Ping checks if the cache is reachable
	Ping(ctx context.Context) error

	// Close closes the cache connection
	io.Closer
}

// MatchStore is the persistent archive of deposits and matches
type MatchStore interface {
	DepositSnapshotSource
	DepositSink
	MatchSink

	// Ping checks if the store is reachable
	Ping(ctx context.Context) error

	// Close closes the store connection
	io.Closer
}

// RawTransactionHandler processes one raw transaction of a protocol
type RawTransactionHandler func(protocol string, tx parser.RawTransaction)

// RawTransactionSource delivers raw protocol transactions to the analyzer
type RawTransactionSource interface {
	// Start begins delivering transactions; it blocks until ctx is done
	Start(ctx context.Context, handler RawTransactionHandler) error

	// Stop stops the source
	Stop() error
}
