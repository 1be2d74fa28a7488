package parser

import (
	"errors"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

var (
	// ErrUnknownProtocol is a configuration error: no parser is registered
	// under the requested protocol identifier.
	ErrUnknownProtocol = errors.New("unknown protocol")
	// ErrInvalidOptions is a configuration error in a parser's options.
	ErrInvalidOptions = errors.New("invalid parser options")
	// ErrMalformedRecord marks a transaction that cannot yield a valid record.
	ErrMalformedRecord = errors.New("malformed record")
)

// Protocol identifiers.
const (
	ProtocolPrivacyCash = "privacy-cash"
	ProtocolShadowWire  = "shadowwire"
	ProtocolSilentSwap  = "silentswap"
)

// BalanceChange is the net lamport movement of one account in a transaction
// (post balance minus pre balance).
type BalanceChange struct {
	Account string `json:"account"`
	Delta   int64  `json:"delta"`
}

// RawTransaction is the protocol-agnostic shape handed over by ingestion.
type RawTransaction struct {
	Signature      string          `json:"signature"`
	Timestamp      time.Time       `json:"timestamp"`
	FeePayer       string          `json:"fee_payer"`
	BalanceChanges []BalanceChange `json:"balance_changes"`
}

type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindTransfer   Kind = "transfer"
	KindSwapInput  Kind = "swap_input"
	KindSwapOutput Kind = "swap_output"
)

// Record is the parsed form of one transaction; the field matching Kind is set.
type Record struct {
	Kind       Kind
	Deposit    *models.Deposit
	Withdrawal *models.Withdrawal
	Transfer   *models.Transfer
	SwapInput  *models.SwapInput
	SwapOutput *models.SwapOutput
}

// Validate checks that exactly the payload named by Kind is set.
func (r *Record) Validate() error {
	set := map[Kind]bool{
		KindDeposit:    r.Deposit != nil,
		KindWithdrawal: r.Withdrawal != nil,
		KindTransfer:   r.Transfer != nil,
		KindSwapInput:  r.SwapInput != nil,
		KindSwapOutput: r.SwapOutput != nil,
	}
	present, known := set[r.Kind]
	if !known {
		return fmt.Errorf("%w: unknown record kind %q", ErrMalformedRecord, r.Kind)
	}
	if !present {
		return fmt.Errorf("%w: %s record without payload", ErrMalformedRecord, r.Kind)
	}
	for k, ok := range set {
		if ok && k != r.Kind {
			return fmt.Errorf("%w: %s record also carries a %s payload", ErrMalformedRecord, r.Kind, k)
		}
	}
	return nil
}

// Parser turns raw transactions of one protocol into shared records. Parse
// returns (nil, nil) for transactions that are not relevant to the protocol.
type Parser interface {
	ProtocolName() string
	Parse(tx RawTransaction) (*Record, error)
}

// Options configures a parser instance.
type Options struct {
	// PoolAccount is the protocol account holding pooled funds (or the relay
	// account for swap relays).
	PoolAccount string
	// Minimum amounts, in lamports, for a movement to count as a deposit or
	// withdrawal. Smaller movements are ignored.
	MinDeposit    uint64
	MinWithdrawal uint64
}

type Constructor func(Options) Parser
