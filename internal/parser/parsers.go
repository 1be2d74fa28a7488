package parser

import (
	"fmt"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

// ============================================================================
// Balance helpers
// ============================================================================

func deltaOf(changes []BalanceChange, account string) (int64, bool) {
	var (
		sum   int64
		found bool
	)
	for _, c := range changes {
		if c.Account == account {
			sum += c.Delta
			found = true
		}
	}
	return sum, found
}

// largestPositive returns the account receiving the most lamports, ignoring
// the excluded accounts. Ties go to the lexicographically smaller account.
func largestPositive(changes []BalanceChange, exclude ...string) (BalanceChange, bool) {
	var (
		best  BalanceChange
		found bool
	)
	for _, c := range changes {
		if c.Delta <= 0 || contains(exclude, c.Account) {
			continue
		}
		if !found || c.Delta > best.Delta || (c.Delta == best.Delta && c.Account < best.Account) {
			best = c
			found = true
		}
	}
	return best, found
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ============================================================================
// Mixer pool (privacy-cash)
// ============================================================================

// MixerParser reads fixed-pool mixer activity: funds entering the pool are
// deposits, funds leaving it are withdrawals to a fresh recipient, with the
// relayer keeping the difference as a fee.
type MixerParser struct {
	opts Options
}

func NewMixerParser(opts Options) Parser {
	return &MixerParser{opts: opts}
}

func (p *MixerParser) ProtocolName() string { return ProtocolPrivacyCash }

func (p *MixerParser) Parse(tx RawTransaction) (*Record, error) {
	poolDelta, ok := deltaOf(tx.BalanceChanges, p.opts.PoolAccount)
	if !ok || poolDelta == 0 {
		return nil, nil
	}

	if poolDelta > 0 {
		amt := uint64(poolDelta)
		if amt < p.opts.MinDeposit {
			return nil, nil
		}
		return &Record{
			Kind: KindDeposit,
			Deposit: &models.Deposit{
				Signature:   tx.Signature,
				Timestamp:   tx.Timestamp,
				Amount:      amt,
				Depositor:   tx.FeePayer,
				PoolAccount: p.opts.PoolAccount,
			},
		}, nil
	}

	out := uint64(-poolDelta)
	recv, ok := largestPositive(tx.BalanceChanges, p.opts.PoolAccount, tx.FeePayer)
	if !ok {
		// Self-relayed withdrawal: the fee payer is the recipient.
		recv, ok = largestPositive(tx.BalanceChanges, p.opts.PoolAccount)
		if !ok {
			return nil, fmt.Errorf("%w: pool outflow of %d with no recipient", ErrMalformedRecord, out)
		}
	}
	amt := uint64(recv.Delta)
	if amt > out {
		return nil, fmt.Errorf("%w: recipient got %d from a pool outflow of %d", ErrMalformedRecord, amt, out)
	}
	if amt < p.opts.MinWithdrawal {
		return nil, nil
	}
	return &Record{
		Kind: KindWithdrawal,
		Withdrawal: &models.Withdrawal{
			Signature:   tx.Signature,
			Timestamp:   tx.Timestamp,
			Amount:      amt,
			Recipient:   recv.Account,
			PoolAccount: p.opts.PoolAccount,
			Fee:         out - amt,
		},
	}, nil
}

// ============================================================================
// Shielded pool transfers (shadowwire)
// ============================================================================

// PoolTransferParser reads shielded-pool transfers. Internal transfers move no
// lamports on chain, so their amount and recipient stay hidden; shielding and
// unshielding expose one side as the pool; a direct transfer routed through
// the pool program exposes both parties.
type PoolTransferParser struct {
	opts Options
}

func NewPoolTransferParser(opts Options) Parser {
	return &PoolTransferParser{opts: opts}
}

func (p *PoolTransferParser) ProtocolName() string { return ProtocolShadowWire }

func (p *PoolTransferParser) Parse(tx RawTransaction) (*Record, error) {
	poolDelta, ok := deltaOf(tx.BalanceChanges, p.opts.PoolAccount)
	if !ok {
		return nil, nil
	}

	t := &models.Transfer{
		Signature: tx.Signature,
		Timestamp: tx.Timestamp,
	}

	switch {
	case poolDelta > 0:
		if uint64(poolDelta) < p.opts.MinDeposit {
			return nil, nil
		}
		amt := uint64(poolDelta)
		t.Sender = tx.FeePayer
		t.Recipient = models.AddressPool
		t.Amount = &amt

	case poolDelta < 0:
		recv, ok := largestPositive(tx.BalanceChanges, p.opts.PoolAccount)
		if !ok {
			return nil, fmt.Errorf("%w: pool outflow of %d with no recipient", ErrMalformedRecord, -poolDelta)
		}
		amt := uint64(recv.Delta)
		if amt < p.opts.MinWithdrawal {
			return nil, nil
		}
		t.Sender = models.AddressPool
		t.Recipient = recv.Account
		t.Amount = &amt

	default:
		if recv, ok := largestPositive(tx.BalanceChanges, p.opts.PoolAccount, tx.FeePayer); ok {
			amt := uint64(recv.Delta)
			t.Sender = tx.FeePayer
			t.Recipient = recv.Account
			t.Amount = &amt
		} else {
			t.Sender = tx.FeePayer
			t.Recipient = models.AddressUnknown
			t.AmountHidden = true
		}
	}

	return &Record{Kind: KindTransfer, Transfer: t}, nil
}

// ============================================================================
// Swap relay (silentswap)
// ============================================================================

// RelayParser reads swap-relay activity: a wallet paying the relay is a swap
// input, the relay paying a wallet is a swap output.
type RelayParser struct {
	opts Options
}

func NewRelayParser(opts Options) Parser {
	return &RelayParser{opts: opts}
}

func (p *RelayParser) ProtocolName() string { return ProtocolSilentSwap }

func (p *RelayParser) Parse(tx RawTransaction) (*Record, error) {
	relayDelta, ok := deltaOf(tx.BalanceChanges, p.opts.PoolAccount)
	if !ok || relayDelta == 0 {
		return nil, nil
	}

	if relayDelta > 0 {
		amt := uint64(relayDelta)
		if amt < p.opts.MinDeposit {
			return nil, nil
		}
		return &Record{
			Kind: KindSwapInput,
			SwapInput: &models.SwapInput{
				Signature: tx.Signature,
				Timestamp: tx.Timestamp,
				Amount:    amt,
				Wallet:    tx.FeePayer,
			},
		}, nil
	}

	recv, ok := largestPositive(tx.BalanceChanges, p.opts.PoolAccount)
	if !ok {
		return nil, fmt.Errorf("%w: relay outflow of %d with no recipient", ErrMalformedRecord, -relayDelta)
	}
	amt := uint64(recv.Delta)
	if amt < p.opts.MinWithdrawal {
		return nil, nil
	}
	return &Record{
		Kind: KindSwapOutput,
		SwapOutput: &models.SwapOutput{
			Signature: tx.Signature,
			Timestamp: tx.Timestamp,
			Amount:    amt,
			Wallet:    recv.Account,
		},
	}, nil
}
