// Package realtime wires the correlation detectors to the event bus.
//
// The Analyzer owns one deposit index and one fee window per protocol. It
// consumes deposit, withdrawal, transfer and swap events, runs the matching
// detector synchronously inside the bus handler and republishes what it finds
// as match:found, index:updated and metrics:updated events. Nothing in here
// performs I/O on the publish path; see Forwarder for external sinks.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/correlation"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/distribution"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/events"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/index"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/metrics"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/storage"
)

var ErrAlreadyStarted = errors.New("analyzer already started")

// DetectorGate switches detectors per protocol at runtime.
type DetectorGate interface {
	Enabled(protocol string, t models.MatchType) bool
}

// Config holds the analyzer's detectors configuration and dependencies.
type Config struct {
	Timing       correlation.TimingConfig
	FeeWindow    correlation.FeeWindowConfig
	Distribution distribution.Config

	// PoolAddresses are treated as hidden endpoints by the visibility detector.
	PoolAddresses []string

	// Gate may disable detectors; nil runs all of them. Deposits are indexed
	// and swap inputs windowed regardless.
	Gate DetectorGate

	// Protocols are seeded from Snapshot on Start. Events for other
	// protocols are still handled; their index starts empty.
	Protocols       []string
	Snapshot        storage.DepositSnapshotSource
	SnapshotSize    int
	SnapshotTimeout time.Duration

	Metrics *metrics.Metrics
	Logger  *logrus.Logger
}

func DefaultConfig() Config {
	return Config{
		Timing:          correlation.DefaultTimingConfig(),
		FeeWindow:       correlation.DefaultFeeWindowConfig(),
		Distribution:    distribution.DefaultConfig(),
		SnapshotSize:    10_000,
		SnapshotTimeout: 30 * time.Second,
	}
}

// ProtocolStats summarizes what the analyzer has seen for one protocol.
type ProtocolStats struct {
	Protocol            string                   `json:"protocol"`
	IndexedDeposits     int                      `json:"indexed_deposits"`
	WindowSize          int                      `json:"window_size"`
	WithdrawalsAnalyzed int                      `json:"withdrawals_analyzed"`
	TransfersAnalyzed   int                      `json:"transfers_analyzed"`
	SwapOutputsAnalyzed int                      `json:"swap_outputs_analyzed"`
	MatchesByType       map[models.MatchType]int `json:"matches_by_type"`
	// MeanAnonymitySet is averaged over analyzed withdrawals that had at
	// least one relevant candidate.
	MeanAnonymitySet float64    `json:"mean_anonymity_set"`
	LastMatchAt      *time.Time `json:"last_match_at,omitempty"`
}

type protocolState struct {
	index  *index.DepositIndex
	window *correlation.FeeCorrelator

	withdrawals  int
	transfers    int
	swapOutputs  int
	anonSum      int
	anonSamples  int
	matches      map[models.MatchType]int
	lastMatchAt  time.Time
	hasLastMatch bool
}

type Analyzer struct {
	cfg        Config
	bus        *events.Bus
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	timing     *correlation.TimingAttack
	visibility *correlation.VisibilityDetector

	mu        sync.Mutex
	protocols map[string]*protocolState
	tokens    []events.Token
	seeded    bool
}

func NewAnalyzer(bus *events.Bus, cfg Config) *Analyzer {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	return &Analyzer{
		cfg:        cfg,
		bus:        bus,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		timing:     correlation.NewTimingAttack(cfg.Timing),
		visibility: correlation.NewVisibilityDetector(cfg.PoolAddresses...),
		protocols:  make(map[string]*protocolState),
	}
}

// Start subscribes the detectors. On the first start the configured
// protocols are seeded from the snapshot source before any event is
// handled; a failing snapshot is logged and the protocol starts with an
// empty index.
func (a *Analyzer) Start(ctx context.Context) error {
	a.mu.Lock()
	started := len(a.tokens) > 0
	seed := !a.seeded
	a.seeded = true
	a.mu.Unlock()
	if started {
		return ErrAlreadyStarted
	}

	if seed {
		for _, p := range a.cfg.Protocols {
			if err := a.loadSnapshot(ctx, p); err != nil {
				a.logger.WithError(err).WithField("protocol", p).Warn("deposit snapshot unavailable, starting empty")
			}
		}
	}

	tokens := []events.Token{
		events.On(a.bus, a.onDeposit),
		events.On(a.bus, a.onWithdrawal),
		events.On(a.bus, a.onTransfer),
		events.On(a.bus, a.onSwapInput),
		events.On(a.bus, a.onSwapOutput),
	}

	a.mu.Lock()
	a.tokens = tokens
	a.mu.Unlock()

	a.logger.WithField("protocols", a.cfg.Protocols).Info("realtime analyzer started")
	return nil
}

// Stop unsubscribes the detectors. State is kept, so Start can be called again.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	tokens := a.tokens
	a.tokens = nil
	a.mu.Unlock()

	for _, tok := range tokens {
		a.bus.Unsubscribe(tok)
	}
}

// loadSnapshot builds the index of protocol from its newest deposits.
func (a *Analyzer) loadSnapshot(ctx context.Context, protocol string) error {
	if a.cfg.Snapshot == nil {
		return nil
	}
	if a.cfg.SnapshotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.SnapshotTimeout)
		defer cancel()
	}

	deposits, err := a.cfg.Snapshot.RecentDeposits(ctx, protocol, a.cfg.SnapshotSize)
	if err != nil {
		return fmt.Errorf("load %s snapshot: %w", protocol, err)
	}

	idx := a.state(protocol).index
	idx.Build(deposits)
	a.metrics.SetIndexSize(protocol, idx.Len())

	a.logger.WithFields(logrus.Fields{
		"protocol": protocol,
		"loaded":   len(deposits),
		"indexed":  idx.Len(),
	}).Info("seeded deposit index")
	return nil
}

func (a *Analyzer) state(protocol string) *protocolState {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.protocols[protocol]
	if !ok {
		st = &protocolState{
			index:   index.New(),
			window:  correlation.NewFeeCorrelator(a.cfg.FeeWindow),
			matches: make(map[models.MatchType]int),
		}
		a.protocols[protocol] = st
	}
	return st
}

// ============================================================================
// Handlers
// ============================================================================

func (a *Analyzer) onDeposit(e events.DepositEvent) error {
	st := a.state(e.Protocol)
	if !st.index.Insert(e.Deposit) {
		return nil
	}
	size := st.index.Len()
	a.metrics.SetIndexSize(e.Protocol, size)
	a.bus.Publish(events.IndexUpdatedEvent{Protocol: e.Protocol, Size: size})
	return nil
}

func (a *Analyzer) enabled(protocol string, t models.MatchType) bool {
	return a.cfg.Gate == nil || a.cfg.Gate.Enabled(protocol, t)
}

func (a *Analyzer) onWithdrawal(e events.WithdrawalEvent) error {
	if !a.enabled(e.Protocol, models.MatchTimingAttack) {
		return nil
	}
	st := a.state(e.Protocol)
	w := e.Withdrawal

	res := a.timing.Evaluate(w, st.index.All())

	a.mu.Lock()
	st.withdrawals++
	if res.AnonymitySet > 0 {
		st.anonSum += res.AnonymitySet
		st.anonSamples++
	}
	a.mu.Unlock()

	if res.Reportable(a.cfg.Timing.ReportThreshold) {
		top := res.RankedSources[0]
		m := correlation.BuildTimingMatch(res, e.Protocol, st.index.CountByAmount(top.Amount))

		// Record the link of a unique source. Whether later withdrawals may
		// still see it is up to Timing.ExcludeSpent.
		if res.AnonymitySet == 1 {
			err := st.index.MarkSpent(top.DepositSignature, w.Signature, w.Timestamp)
			if err != nil && !errors.Is(err, index.ErrAlreadySpent) {
				a.logger.WithError(err).WithField("deposit", top.DepositSignature).Warn("failed to mark deposit spent")
			}
		}

		a.emit(e.Protocol, m)
		a.logger.WithFields(logrus.Fields{
			"protocol":      e.Protocol,
			"withdrawal":    w.Signature,
			"anonymity_set": res.AnonymitySet,
			"level":         res.VulnerabilityLevel,
		}).Info("timing attack match")
	}

	a.bus.Publish(events.MetricsUpdatedEvent{Protocol: e.Protocol})
	return nil
}

func (a *Analyzer) onTransfer(e events.TransferEvent) error {
	if !a.enabled(e.Protocol, models.MatchAddressLink) {
		return nil
	}
	st := a.state(e.Protocol)

	a.mu.Lock()
	st.transfers++
	a.mu.Unlock()

	if m := a.visibility.Detect(e.Transfer, e.Protocol); m != nil {
		a.emit(e.Protocol, m)
		a.logger.WithFields(logrus.Fields{
			"protocol":  e.Protocol,
			"transfer":  e.Transfer.Signature,
			"sender":    e.Transfer.Sender,
			"recipient": e.Transfer.Recipient,
		}).Info("address link match")
	}
	a.bus.Publish(events.MetricsUpdatedEvent{Protocol: e.Protocol})
	return nil
}

func (a *Analyzer) onSwapInput(e events.SwapInputEvent) error {
	st := a.state(e.Protocol)
	st.window.AddInput(e.Input)
	a.metrics.SetWindowSize(e.Protocol, st.window.Len())
	return nil
}

func (a *Analyzer) onSwapOutput(e events.SwapOutputEvent) error {
	if !a.enabled(e.Protocol, models.MatchAmountCorrelation) {
		return nil
	}
	st := a.state(e.Protocol)
	corrs := st.window.MatchOutput(e.Output)
	a.metrics.SetWindowSize(e.Protocol, st.window.Len())

	a.mu.Lock()
	st.swapOutputs++
	a.mu.Unlock()

	for _, m := range correlation.BuildAmountMatches(corrs, e.Protocol) {
		a.emit(e.Protocol, m)
	}
	if len(corrs) > 0 {
		a.logger.WithFields(logrus.Fields{
			"protocol": e.Protocol,
			"output":   e.Output.Signature,
			"inputs":   len(corrs),
		}).Info("amount correlation match")
	}
	a.bus.Publish(events.MetricsUpdatedEvent{Protocol: e.Protocol})
	return nil
}

func (a *Analyzer) emit(protocol string, m *models.Match) {
	st := a.state(protocol)

	a.mu.Lock()
	st.matches[m.Type]++
	if !st.hasLastMatch || m.DetectedAt.After(st.lastMatchAt) {
		st.lastMatchAt = m.DetectedAt
		st.hasLastMatch = true
	}
	a.mu.Unlock()

	a.metrics.RecordMatch(protocol, string(m.Type), m.AnonymitySet)
	a.bus.Publish(events.MatchFoundEvent{Type: m.Type, Match: m, Protocol: protocol})
}

// ============================================================================
// Queries
// ============================================================================

// Protocols returns every protocol the analyzer holds state for, sorted.
func (a *Analyzer) Protocols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.protocols))
	for p := range a.protocols {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Stats returns per-protocol statistics sorted by protocol.
func (a *Analyzer) Stats() []ProtocolStats {
	protocols := a.Protocols()
	out := make([]ProtocolStats, 0, len(protocols))
	for _, p := range protocols {
		if s, ok := a.ProtocolStats(p); ok {
			out = append(out, s)
		}
	}
	return out
}

func (a *Analyzer) ProtocolStats(protocol string) (ProtocolStats, bool) {
	a.mu.Lock()
	st, ok := a.protocols[protocol]
	if !ok {
		a.mu.Unlock()
		return ProtocolStats{}, false
	}

	s := ProtocolStats{
		Protocol:            protocol,
		WithdrawalsAnalyzed: st.withdrawals,
		TransfersAnalyzed:   st.transfers,
		SwapOutputsAnalyzed: st.swapOutputs,
		MatchesByType:       make(map[models.MatchType]int, len(st.matches)),
	}
	for t, n := range st.matches {
		s.MatchesByType[t] = n
	}
	if st.anonSamples > 0 {
		s.MeanAnonymitySet = float64(st.anonSum) / float64(st.anonSamples)
	}
	if st.hasLastMatch {
		at := st.lastMatchAt
		s.LastMatchAt = &at
	}
	a.mu.Unlock()

	s.IndexedDeposits = st.index.Len()
	s.WindowSize = st.window.Len()
	return s, true
}

// Report computes the amount distribution report of a protocol's index.
func (a *Analyzer) Report(protocol string) (distribution.Report, bool) {
	a.mu.Lock()
	st, ok := a.protocols[protocol]
	a.mu.Unlock()
	if !ok {
		return distribution.Report{}, false
	}
	return distribution.BuildReport(protocol, st.index.All(), a.cfg.Distribution), true
}

// DepositsByAmount returns the indexed deposits of protocol with exactly amount.
func (a *Analyzer) DepositsByAmount(protocol string, amount uint64) ([]models.Deposit, bool) {
	a.mu.Lock()
	st, ok := a.protocols[protocol]
	a.mu.Unlock()
	if !ok {
		return nil, false
	}
	return st.index.ByAmount(amount), true
}
