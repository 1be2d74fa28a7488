package index

import (
	"errors"
	"sync"
	"time"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

var (
	ErrNotFound     = errors.New("deposit not found")
	ErrAlreadySpent = errors.New("deposit already spent")
)

// DepositIndex holds every deposit seen so far, in insertion order, with a
// secondary index by exact amount. All methods are safe for concurrent use.
type DepositIndex struct {
	mu          sync.RWMutex
	deposits    []*models.Deposit
	byAmount    map[uint64][]*models.Deposit
	bySignature map[string]*models.Deposit
}

func New() *DepositIndex {
	return &DepositIndex{
		byAmount:    make(map[uint64][]*models.Deposit),
		bySignature: make(map[string]*models.Deposit),
	}
}

// Build replaces the index contents with the given snapshot.
func (x *DepositIndex) Build(initial []models.Deposit) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.deposits = make([]*models.Deposit, 0, len(initial))
	x.byAmount = make(map[uint64][]*models.Deposit)
	x.bySignature = make(map[string]*models.Deposit, len(initial))

	for i := range initial {
		x.insertLocked(initial[i])
	}
}

// Insert appends d. A deposit whose signature is already indexed is ignored
// and Insert returns false.
func (x *DepositIndex) Insert(d models.Deposit) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.insertLocked(d)
}

func (x *DepositIndex) insertLocked(d models.Deposit) bool {
	if _, exists := x.bySignature[d.Signature]; exists {
		return false
	}
	p := &d
	x.deposits = append(x.deposits, p)
	x.byAmount[d.Amount] = append(x.byAmount[d.Amount], p)
	x.bySignature[d.Signature] = p
	return true
}

// ByAmount returns copies of the deposits with exactly amount, in insertion order.
func (x *DepositIndex) ByAmount(amount uint64) []models.Deposit {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return copyDeposits(x.byAmount[amount])
}

// CountByAmount is ByAmount without the copy.
func (x *DepositIndex) CountByAmount(amount uint64) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byAmount[amount])
}

// All returns copies of every indexed deposit, in insertion order.
func (x *DepositIndex) All() []models.Deposit {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return copyDeposits(x.deposits)
}

func (x *DepositIndex) Get(signature string) (models.Deposit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	d, ok := x.bySignature[signature]
	if !ok {
		return models.Deposit{}, ErrNotFound
	}
	return *d, nil
}

// MarkSpent links a deposit to the withdrawal that consumed it. The spent
// fields are written at most once.
func (x *DepositIndex) MarkSpent(signature, withdrawalSignature string, at time.Time) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	d, ok := x.bySignature[signature]
	if !ok {
		return ErrNotFound
	}
	if d.Spent {
		return ErrAlreadySpent
	}
	spentAt := at
	d.Spent = true
	d.SpentAt = &spentAt
	d.LinkedWithdrawalSignature = withdrawalSignature
	return nil
}

func (x *DepositIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.deposits)
}

func copyDeposits(src []*models.Deposit) []models.Deposit {
	out := make([]models.Deposit, len(src))
	for i, d := range src {
		out[i] = *d
	}
	return out
}
