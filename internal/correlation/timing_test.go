package correlation

import (
	"fmt"
	"testing"
	"time"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)

func deposit(sig string, amount uint64, at time.Time) models.Deposit {
	return models.Deposit{Signature: sig, Amount: amount, Timestamp: at, Depositor: "dep-" + sig}
}

func withdrawal(sig string, amount uint64, at time.Time) models.Withdrawal {
	return models.Withdrawal{Signature: sig, Amount: amount, Timestamp: at, Recipient: "rcpt-" + sig}
}

func TestTimingAttack_SingleCloseDepositIsCritical(t *testing.T) {
	attack := NewTimingAttack(DefaultTimingConfig())

	deps := []models.Deposit{deposit("d1", 10_500_000_000, t0)}
	w := withdrawal("w1", 10_400_000_000, t0.Add(47*time.Second))

	res := attack.Evaluate(w, deps)

	require.Len(t, res.RankedSources, 1)
	assert.InDelta(t, 0.9995, AmountCloseness(w.Amount, deps[0].Amount, 0.01), 0.0001)
	assert.GreaterOrEqual(t, res.RankedSources[0].Confidence, 0.9)
	assert.Equal(t, 47*time.Second, res.RankedSources[0].TimeDelta)
	assert.Equal(t, 1, res.AnonymitySet)
	assert.Equal(t, models.VulnerabilityCritical, res.VulnerabilityLevel)
	assert.True(t, res.Reportable(20))

	m := BuildTimingMatch(res, "privacy-cash", 1)
	assert.Equal(t, models.MatchTimingAttack, m.Type)
	assert.GreaterOrEqual(t, m.Confidence, 90.0)
	assert.Equal(t, 1, m.AnonymitySet)
	assert.Equal(t, []string{"w1", "d1"}, m.Signatures())
	assert.Equal(t, w.Timestamp, m.DetectedAt)
}

func TestTimingAttack_Causality(t *testing.T) {
	attack := NewTimingAttack(DefaultTimingConfig())
	w := withdrawal("w", 1_000_000_000, t0)

	deps := []models.Deposit{
		deposit("before", 1_010_000_000, t0.Add(-time.Minute)),
		deposit("same", 1_010_000_000, t0),
		deposit("after", 1_010_000_000, t0.Add(time.Minute)),
	}

	res := attack.Evaluate(w, deps)
	require.Len(t, res.RankedSources, 1)
	for _, src := range res.RankedSources {
		assert.True(t, src.Timestamp.Before(w.Timestamp))
	}
	assert.Equal(t, "before", res.RankedSources[0].DepositSignature)
}

func TestTimingAttack_LookbackBoundsScan(t *testing.T) {
	cfg := DefaultTimingConfig()
	cfg.Lookback = time.Hour
	attack := NewTimingAttack(cfg)

	w := withdrawal("w", 1_000_000_000, t0)
	deps := []models.Deposit{
		deposit("recent", 1_010_000_000, t0.Add(-30*time.Minute)),
		deposit("stale", 1_010_000_000, t0.Add(-2*time.Hour)),
	}

	res := attack.Evaluate(w, deps)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, "recent", res.RankedSources[0].DepositSignature)
}

func TestTimingAttack_EmptyIndex(t *testing.T) {
	attack := NewTimingAttack(DefaultTimingConfig())

	res := attack.Evaluate(withdrawal("w", 1, t0), nil)
	assert.Equal(t, 0, res.AnonymitySet)
	assert.Equal(t, 0, res.Candidates)
	assert.Empty(t, res.RankedSources)
	assert.False(t, res.Reportable(20))
}

func TestTimingAttack_DedupBySignature(t *testing.T) {
	attack := NewTimingAttack(DefaultTimingConfig())
	d := deposit("d", 1_010_000_000, t0.Add(-time.Minute))

	res := attack.Evaluate(withdrawal("w", 1_000_000_000, t0), []models.Deposit{d, d, d})
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.AnonymitySet)
}

func TestTimingAttack_LowConfidenceIsNoise(t *testing.T) {
	attack := NewTimingAttack(DefaultTimingConfig())
	w := withdrawal("w", 10_400_000_000, t0)

	deps := []models.Deposit{
		deposit("match", 10_500_000_000, t0.Add(-time.Minute)),
		// amount closeness 0, timing closeness ~0.96: confidence ~0.29
		deposit("noise", 1_000_000_000, t0.Add(-time.Hour)),
	}

	res := attack.Evaluate(w, deps)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 1, res.AnonymitySet)
	assert.Equal(t, "match", res.RankedSources[0].DepositSignature)
	assert.Less(t, res.RankedSources[1].Confidence, 0.5)
}

func TestTimingAttack_TieBreaking(t *testing.T) {
	cfg := DefaultTimingConfig()
	cfg.TimingWeight = 0
	attack := NewTimingAttack(cfg)
	w := withdrawal("w", 990, t0)

	deps := []models.Deposit{
		deposit("far", 1000, t0.Add(-2*time.Hour)),
		deposit("b", 1000, t0.Add(-time.Hour)),
		deposit("a", 1000, t0.Add(-time.Hour)),
	}

	res := attack.Evaluate(w, deps)
	require.Len(t, res.RankedSources, 3)
	got := []string{
		res.RankedSources[0].DepositSignature,
		res.RankedSources[1].DepositSignature,
		res.RankedSources[2].DepositSignature,
	}
	assert.Equal(t, []string{"a", "b", "far"}, got)
}

func TestTimingAttack_AnonymitySetMonotonic(t *testing.T) {
	attack := NewTimingAttack(DefaultTimingConfig())
	w := withdrawal("w", 990_000_000, t0)

	var deps []models.Deposit
	prev := 0
	for i := 0; i < 30; i++ {
		deps = append(deps, deposit(fmt.Sprintf("d%02d", i), 1_000_000_000, t0.Add(-time.Duration(i+1)*time.Minute)))
		res := attack.Evaluate(w, deps)
		assert.GreaterOrEqual(t, res.AnonymitySet, prev)
		prev = res.AnonymitySet
	}
	assert.Equal(t, 30, prev)
}

func TestTimingAttack_VulnerabilityBuckets(t *testing.T) {
	attack := NewTimingAttack(DefaultTimingConfig())
	w := withdrawal("w", 990_000_000, t0)

	cases := []struct {
		n     int
		level models.VulnerabilityLevel
	}{
		{1, models.VulnerabilityCritical},
		{2, models.VulnerabilityHigh},
		{5, models.VulnerabilityHigh},
		{6, models.VulnerabilityMedium},
		{20, models.VulnerabilityMedium},
		{21, models.VulnerabilityLow},
	}

	for _, tc := range cases {
		var deps []models.Deposit
		for i := 0; i < tc.n; i++ {
			deps = append(deps, deposit(fmt.Sprintf("d%d", i), 1_000_000_000, t0.Add(-time.Duration(i+1)*time.Second)))
		}
		res := attack.Evaluate(w, deps)
		assert.Equal(t, tc.n, res.AnonymitySet)
		assert.Equal(t, tc.level, res.VulnerabilityLevel, "anonymity set %d", tc.n)
		assert.Equal(t, tc.n <= 20, res.Reportable(20))
	}
}

func TestTimingAttack_MaxRankedSourcesCapsOutputOnly(t *testing.T) {
	cfg := DefaultTimingConfig()
	cfg.MaxRankedSources = 3
	attack := NewTimingAttack(cfg)

	var deps []models.Deposit
	for i := 0; i < 8; i++ {
		deps = append(deps, deposit(fmt.Sprintf("d%d", i), 1_000_000_000, t0.Add(-time.Duration(i+1)*time.Minute)))
	}

	res := attack.Evaluate(withdrawal("w", 990_000_000, t0), deps)
	assert.Len(t, res.RankedSources, 3)
	assert.Equal(t, 8, res.AnonymitySet)
}

func TestTimingAttack_SpentDeposits(t *testing.T) {
	spent := deposit("spent", 1_000_000_000, t0.Add(-time.Minute))
	spent.Spent = true
	w := withdrawal("w", 990_000_000, t0)

	// Spent deposits stay candidates unless exclusion is turned on.
	res := NewTimingAttack(DefaultTimingConfig()).Evaluate(w, []models.Deposit{spent})
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.AnonymitySet)

	cfg := DefaultTimingConfig()
	cfg.ExcludeSpent = true
	res = NewTimingAttack(cfg).Evaluate(w, []models.Deposit{spent})
	assert.Equal(t, 0, res.Candidates)
}

func TestTimingAttack_Deterministic(t *testing.T) {
	attack := NewTimingAttack(DefaultTimingConfig())
	w := withdrawal("w", 990_000_000, t0)
	deps := []models.Deposit{
		deposit("x", 1_000_000_000, t0.Add(-time.Minute)),
		deposit("y", 995_000_000, t0.Add(-3*time.Minute)),
		deposit("z", 1_000_000_000, t0.Add(-time.Minute)),
	}

	first := attack.Evaluate(w, deps)
	second := attack.Evaluate(w, deps)
	assert.Equal(t, first, second)
}

func TestClosenessFunctions(t *testing.T) {
	assert.InDelta(t, 1.0, AmountCloseness(99, 100, 0.01), 1e-9)
	assert.Equal(t, 0.0, AmountCloseness(500, 100, 0.01))
	assert.Equal(t, 0.0, AmountCloseness(1, 0, 0.01))

	assert.Equal(t, 1.0, TimingCloseness(0, time.Hour))
	assert.InDelta(t, 0.5, TimingCloseness(30*time.Minute, time.Hour), 1e-9)
	assert.Equal(t, 0.0, TimingCloseness(2*time.Hour, time.Hour))
	assert.Equal(t, 0.0, TimingCloseness(-time.Second, time.Hour))
}
