package realtime

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/events"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/metrics"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/parser"
)

// Publish routes a parsed record onto the bus topic for its kind.
func Publish(bus *events.Bus, protocol string, rec *parser.Record) error {
	if rec == nil {
		return nil
	}

	switch {
	case rec.Kind == parser.KindDeposit && rec.Deposit != nil:
		bus.Publish(events.DepositEvent{Deposit: *rec.Deposit, Protocol: protocol})
	case rec.Kind == parser.KindWithdrawal && rec.Withdrawal != nil:
		bus.Publish(events.WithdrawalEvent{Withdrawal: *rec.Withdrawal, Protocol: protocol})
	case rec.Kind == parser.KindTransfer && rec.Transfer != nil:
		bus.Publish(events.TransferEvent{Transfer: *rec.Transfer, Protocol: protocol})
	case rec.Kind == parser.KindSwapInput && rec.SwapInput != nil:
		bus.Publish(events.SwapInputEvent{Input: *rec.SwapInput, Protocol: protocol})
	case rec.Kind == parser.KindSwapOutput && rec.SwapOutput != nil:
		bus.Publish(events.SwapOutputEvent{Output: *rec.SwapOutput, Protocol: protocol})
	default:
		return fmt.Errorf("%w: record kind %q without payload", parser.ErrMalformedRecord, rec.Kind)
	}
	return nil
}

// Ingestor parses raw transactions with the registry and publishes the
// resulting records. Handle fits storage.RawTransactionHandler.
type Ingestor struct {
	registry *parser.Registry
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

type IngestorConfig struct {
	Registry *parser.Registry
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Logger   *logrus.Logger
}

func NewIngestor(cfg IngestorConfig) *Ingestor {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Ingestor{
		registry: cfg.Registry,
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Handle parses and publishes one raw transaction. Rejected and irrelevant
// transactions are counted and dropped.
func (i *Ingestor) Handle(protocol string, tx parser.RawTransaction) {
	rec, err := i.registry.Parse(protocol, tx)
	if err != nil {
		i.metrics.RecordParsed(protocol, "", err)
		if errors.Is(err, parser.ErrUnknownProtocol) {
			i.logger.WithError(err).Error("transaction for unregistered protocol")
		}
		return
	}
	if rec == nil {
		i.metrics.RecordParsed(protocol, "", nil)
		return
	}

	i.metrics.RecordParsed(protocol, string(rec.Kind), nil)
	if err := Publish(i.bus, protocol, rec); err != nil {
		i.logger.WithError(err).WithField("signature", tx.Signature).Warn("dropped record")
	}
}
