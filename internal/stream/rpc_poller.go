package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/constants"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/rpc"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/storage"
)

// RPCPoller implements storage.RawTransactionSource by polling Solana RPC
// for new signatures touching each protocol's pool account
type RPCPoller struct {
	client       *rpc.Client
	accounts     map[string]string // protocol -> pool account
	pollInterval time.Duration
	fetchDelay   time.Duration
	batchSize    int
	logger       *logrus.Logger

	mu            sync.Mutex
	lastSignature map[string]string // pool account -> newest seen signature
	cancel        context.CancelFunc
}

// RPCPollerConfig holds configuration for the RPC poller
type RPCPollerConfig struct {
	RPCClient *rpc.Client
	// PoolAccounts maps protocol ids to the account to poll for them
	PoolAccounts map[string]string
	PollInterval time.Duration
	// FetchDelay spaces getTransaction calls; zero disables it
	FetchDelay time.Duration
	BatchSize  int
	Logger     *logrus.Logger
}

// NewRPCPoller creates a new RPC poller
func NewRPCPoller(cfg RPCPollerConfig) (*RPCPoller, error) {
	if cfg.RPCClient == nil {
		return nil, fmt.Errorf("rpc client is required")
	}
	if len(cfg.PoolAccounts) == 0 {
		return nil, fmt.Errorf("at least one pool account is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.SignatureBatchSize
	}

	accounts := make(map[string]string, len(cfg.PoolAccounts))
	for protocol, account := range cfg.PoolAccounts {
		accounts[protocol] = account
	}

	return &RPCPoller{
		client:        cfg.RPCClient,
		accounts:      accounts,
		pollInterval:  cfg.PollInterval,
		fetchDelay:    cfg.FetchDelay,
		batchSize:     cfg.BatchSize,
		logger:        cfg.Logger,
		lastSignature: make(map[string]string),
	}, nil
}

// Start begins polling; it blocks until ctx is cancelled or Stop is called
func (r *RPCPoller) Start(ctx context.Context, handler storage.RawTransactionHandler) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return fmt.Errorf("poller already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.logger.WithFields(logrus.Fields{
		"interval": r.pollInterval,
		"accounts": r.accounts,
	}).Info("starting RPC polling")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			r.PollOnce(ctx, handler)
		}
	}
}

// Stop stops the poller
func (r *RPCPoller) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// PollOnce runs a single polling round over every protocol, in protocol
// id order
func (r *RPCPoller) PollOnce(ctx context.Context, handler storage.RawTransactionHandler) {
	protocols := make([]string, 0, len(r.accounts))
	for p := range r.accounts {
		protocols = append(protocols, p)
	}
	sort.Strings(protocols)

	for _, protocol := range protocols {
		if err := r.poll(ctx, protocol, r.accounts[protocol], handler); err != nil {
			r.logger.WithError(err).WithField("protocol", protocol).Error("poll error")
		}
	}
}

// poll fetches and delivers new transactions of one pool account
func (r *RPCPoller) poll(ctx context.Context, protocol, account string, handler storage.RawTransactionHandler) error {
	r.mu.Lock()
	q := rpc.SignatureQuery{Until: r.lastSignature[account], Limit: r.batchSize}
	r.mu.Unlock()

	if q.Until != "" {
		r.logger.WithField("after", short(q.Until)).Debug("fetching new signatures")
	}

	sigs, err := r.client.SignaturesForAddress(ctx, account, q)
	if err != nil {
		return fmt.Errorf("failed to get signatures: %w", err)
	}

	if len(sigs) == 0 {
		r.logger.WithField("protocol", protocol).Debug("no new transactions")
		return nil
	}

	r.logger.WithFields(logrus.Fields{
		"protocol": protocol,
		"count":    len(sigs),
	}).Info("found new signatures")

	r.mu.Lock()
	r.lastSignature[account] = sigs[0].Signature
	r.mu.Unlock()

	// RPC lists newest first; deliver oldest first so deposits precede
	// the withdrawals that spend them
	fetched := 0
	for i := len(sigs) - 1; i >= 0; i-- {
		sig := sigs[i]
		if sig.Err != nil {
			r.logger.WithField("signature", short(sig.Signature)).Debug("skipping failed transaction")
			continue
		}

		if r.fetchDelay > 0 && fetched > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.fetchDelay):
			}
		}
		fetched++

		tx, err := r.client.RawTransaction(ctx, sig)
		if errors.Is(err, rpc.ErrSkipTransaction) {
			continue
		}
		if err != nil {
			r.logger.WithError(err).WithField("signature", short(sig.Signature)).Warn("failed to fetch transaction")
			continue
		}

		handler(protocol, tx)
	}

	return nil
}

func short(sig string) string {
	if len(sig) > 8 {
		return sig[:8]
	}
	return sig
}
