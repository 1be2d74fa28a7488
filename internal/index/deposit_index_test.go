package index

import (
	"testing"
	"time"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)

func dep(sig string, amount uint64, offset time.Duration) models.Deposit {
	return models.Deposit{
		Signature: sig,
		Timestamp: t0.Add(offset),
		Amount:    amount,
		Depositor: "depositor-" + sig,
	}
}

func TestDepositIndex_BuildReplacesContents(t *testing.T) {
	idx := New()
	idx.Insert(dep("old", 5, 0))

	idx.Build([]models.Deposit{dep("a", 1, 0), dep("b", 2, time.Second)})

	assert.Equal(t, 2, idx.Len())
	_, err := idx.Get("old")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, idx.ByAmount(5))
}

func TestDepositIndex_ByAmountKeepsInsertionOrder(t *testing.T) {
	idx := New()
	idx.Insert(dep("a", 100, 3*time.Second))
	idx.Insert(dep("b", 200, time.Second))
	// late arrival with an earlier timestamp
	idx.Insert(dep("c", 100, 0))

	got := idx.ByAmount(100)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Signature)
	assert.Equal(t, "c", got[1].Signature)
	assert.Equal(t, 2, idx.CountByAmount(100))
	assert.Empty(t, idx.ByAmount(300))

	all := idx.All()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].Signature, all[1].Signature, all[2].Signature})
}

func TestDepositIndex_DuplicateSignatureIgnored(t *testing.T) {
	idx := New()
	assert.True(t, idx.Insert(dep("a", 100, 0)))
	assert.False(t, idx.Insert(dep("a", 999, 0)))

	assert.Equal(t, 1, idx.Len())
	assert.Empty(t, idx.ByAmount(999))
}

func TestDepositIndex_ReturnsCopies(t *testing.T) {
	idx := New()
	idx.Insert(dep("a", 100, 0))

	all := idx.All()
	all[0].Amount = 1
	all[0].Spent = true

	got, err := idx.Get("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Amount)
	assert.False(t, got.Spent)
}

func TestDepositIndex_MarkSpentOnce(t *testing.T) {
	idx := New()
	idx.Insert(dep("a", 100, 0))
	at := t0.Add(time.Minute)

	require.NoError(t, idx.MarkSpent("a", "w1", at))
	assert.ErrorIs(t, idx.MarkSpent("a", "w2", at.Add(time.Minute)), ErrAlreadySpent)
	assert.ErrorIs(t, idx.MarkSpent("missing", "w1", at), ErrNotFound)

	got, err := idx.Get("a")
	require.NoError(t, err)
	assert.True(t, got.Spent)
	require.NotNil(t, got.SpentAt)
	assert.Equal(t, at, *got.SpentAt)
	assert.Equal(t, "w1", got.LinkedWithdrawalSignature)

	// the amount index sees the same record
	assert.True(t, idx.ByAmount(100)[0].Spent)
}

func TestDepositIndex_EmptyIndex(t *testing.T) {
	idx := New()
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.All())
	assert.Empty(t, idx.ByAmount(1))
}
