// ============================================================================
// models/deposit.go
// ============================================================================
package models

import "time"

// Deposit is a shielding transaction into a privacy protocol. Amounts are in
// the smallest unit of the asset (lamports for SOL).
type Deposit struct {
	Signature   string    `json:"signature"`
	Timestamp   time.Time `json:"timestamp"`
	Amount      uint64    `json:"amount"`
	Depositor   string    `json:"depositor"`
	PoolAccount string    `json:"pool_account,omitempty"`

	// Set once, when a correlation consumer links the deposit to a withdrawal.
	Spent                     bool       `json:"spent"`
	SpentAt                   *time.Time `json:"spent_at,omitempty"`
	LinkedWithdrawalSignature string     `json:"linked_withdrawal_signature,omitempty"`
}

type Withdrawal struct {
	Signature   string    `json:"signature"`
	Timestamp   time.Time `json:"timestamp"`
	Amount      uint64    `json:"amount"`
	Recipient   string    `json:"recipient"`
	PoolAccount string    `json:"pool_account,omitempty"`
	Fee         uint64    `json:"fee"`
}

// Transfer is a protocol-agnostic movement between two parties. Sender and
// Recipient may be the pool sentinel or "unknown" when the protocol hides them.
type Transfer struct {
	Signature    string    `json:"signature"`
	Timestamp    time.Time `json:"timestamp"`
	Sender       string    `json:"sender"`
	Recipient    string    `json:"recipient"`
	AmountHidden bool      `json:"amount_hidden"`
	Amount       *uint64   `json:"amount,omitempty"`
}

type SwapInput struct {
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
	Amount    uint64    `json:"amount"`
	Wallet    string    `json:"wallet"`
}

type SwapOutput struct {
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
	Amount    uint64    `json:"amount"`
	Wallet    string    `json:"wallet"`
}

// Address sentinels used by protocols that hide counterparties.
const (
	AddressUnknown = "unknown"
	AddressPool    = "pool"
)
