package parser

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"
)

// Constructors lists the parser implementations this build knows about.
var Constructors = map[string]Constructor{
	ProtocolPrivacyCash: NewMixerParser,
	ProtocolShadowWire:  NewPoolTransferParser,
	ProtocolSilentSwap:  NewRelayParser,
}

type entry struct {
	ctor Constructor
	opts Options
}

// Registry maps protocol identifiers to parser constructors and their options.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	logger  *logrus.Logger
}

func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// NewRegistryFromOptions registers the known constructor of every protocol in
// opts. An identifier with no known constructor fails with ErrUnknownProtocol.
func NewRegistryFromOptions(opts map[string]Options, logger *logrus.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	for protocol, o := range opts {
		ctor, ok := Constructors[protocol]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, protocol)
		}
		if err := r.Register(protocol, ctor, o); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces the parser for protocol.
func (r *Registry) Register(protocol string, ctor Constructor, opts Options) error {
	if protocol == "" {
		return fmt.Errorf("%w: empty protocol identifier", ErrInvalidOptions)
	}
	if ctor == nil {
		return fmt.Errorf("%w: nil constructor for %s", ErrInvalidOptions, protocol)
	}
	if _, err := solana.PublicKeyFromBase58(opts.PoolAccount); err != nil {
		return fmt.Errorf("%w: %s pool account: %v", ErrInvalidOptions, protocol, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[protocol] = entry{ctor: ctor, opts: opts}
	return nil
}

// Parser instantiates the parser registered for protocol.
func (r *Registry) Parser(protocol string) (Parser, error) {
	r.mu.RLock()
	e, ok := r.entries[protocol]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, protocol)
	}
	return e.ctor(e.opts), nil
}

// Options returns the options registered for protocol.
func (r *Registry) Options(protocol string) (Options, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[protocol]
	if !ok {
		return Options{}, fmt.Errorf("%w: %q", ErrUnknownProtocol, protocol)
	}
	return e.opts, nil
}

// Protocols returns the registered identifiers in sorted order.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for p := range r.entries {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// PoolAccounts returns every registered pool account.
func (r *Registry) PoolAccounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.opts.PoolAccount)
	}
	slices.Sort(out)
	return out
}

// Parse validates tx, runs the protocol's parser and checks that the record
// carries the payload its kind names. Malformed transactions are logged as data-quality warnings and returned
// wrapped in ErrMalformedRecord; they never yield a record.
func (r *Registry) Parse(protocol string, tx RawTransaction) (*Record, error) {
	p, err := r.Parser(protocol)
	if err != nil {
		return nil, err
	}

	var rec *Record
	err = validateTransaction(tx)
	if err == nil {
		rec, err = p.Parse(tx)
	}
	if err == nil && rec != nil {
		err = rec.Validate()
	}
	if err != nil {
		if errors.Is(err, ErrMalformedRecord) {
			r.logger.WithFields(logrus.Fields{
				"protocol":  protocol,
				"signature": tx.Signature,
			}).WithError(err).Warn("rejected malformed transaction")
		}
		return nil, err
	}
	return rec, nil
}

func validateTransaction(tx RawTransaction) error {
	raw, err := base58.Decode(tx.Signature)
	if err != nil || len(raw) != 64 {
		return fmt.Errorf("%w: invalid signature %q", ErrMalformedRecord, tx.Signature)
	}
	if tx.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedRecord)
	}
	if _, err := solana.PublicKeyFromBase58(tx.FeePayer); err != nil {
		return fmt.Errorf("%w: invalid fee payer: %v", ErrMalformedRecord, err)
	}
	return nil
}
