package correlation

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

// TimingConfig holds the calibration of the timing correlation attack.
type TimingConfig struct {
	// ExpectedFee is the fraction a mixer deducts on withdrawal (0.01 = 1%).
	ExpectedFee float64

	// Weights of the two signals. They are normalized, so only the ratio matters.
	AmountWeight float64
	TimingWeight float64

	// Lookback bounds how far before a withdrawal deposits are considered.
	// Zero means unbounded.
	Lookback time.Duration

	// DecayHorizon is the time delta at which timing closeness reaches 0.
	DecayHorizon time.Duration

	// RelevanceThreshold is the confidence a candidate must exceed to count
	// towards the anonymity set.
	RelevanceThreshold float64

	// ReportThreshold is the largest anonymity set still reported as a match.
	ReportThreshold int

	// MaxRankedSources caps RankedSources in results. Zero means no cap.
	MaxRankedSources int

	// ExcludeSpent skips deposits already linked to another withdrawal. Off
	// by default: with it on, results depend on withdrawal arrival order.
	ExcludeSpent bool
}

func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		ExpectedFee:        0.01,
		AmountWeight:       0.7,
		TimingWeight:       0.3,
		Lookback:           30 * 24 * time.Hour,
		DecayHorizon:       24 * time.Hour,
		RelevanceThreshold: 0.5,
		ReportThreshold:    20,
		MaxRankedSources:   10,
	}
}

// TimingResult is the outcome of evaluating one withdrawal.
type TimingResult struct {
	Withdrawal         models.Withdrawal
	Candidates         int
	AnonymitySet       int
	VulnerabilityLevel models.VulnerabilityLevel
	RankedSources      []models.RankedSource
}

// Reportable reports whether the result is worth a match:found event under
// the given report threshold.
func (r *TimingResult) Reportable(threshold int) bool {
	return r.AnonymitySet > 0 && r.AnonymitySet <= threshold
}

// TimingAttack links a withdrawal to its most plausible deposits using amount
// and time closeness. It is pure: the same inputs give the same result.
type TimingAttack struct {
	cfg TimingConfig
}

func NewTimingAttack(cfg TimingConfig) *TimingAttack {
	return &TimingAttack{cfg: cfg}
}

func (a *TimingAttack) Config() TimingConfig {
	return a.cfg
}

// Evaluate ranks deposits as sources of w.
func (a *TimingAttack) Evaluate(w models.Withdrawal, deposits []models.Deposit) *TimingResult {
	res := &TimingResult{Withdrawal: w}

	seen := make(map[string]struct{}, len(deposits))
	ranked := make([]models.RankedSource, 0)

	for _, d := range deposits {
		if !a.isCandidate(w, d) {
			continue
		}
		if _, dup := seen[d.Signature]; dup {
			continue
		}
		seen[d.Signature] = struct{}{}

		delta := w.Timestamp.Sub(d.Timestamp)
		ranked = append(ranked, models.RankedSource{
			DepositSignature: d.Signature,
			Depositor:        d.Depositor,
			Amount:           d.Amount,
			Timestamp:        d.Timestamp,
			Confidence:       a.Confidence(w, d),
			TimeDelta:        delta,
		})
	}

	slices.SortFunc(ranked, func(x, y models.RankedSource) int {
		if c := cmp.Compare(y.Confidence, x.Confidence); c != 0 {
			return c
		}
		if c := cmp.Compare(x.TimeDelta, y.TimeDelta); c != 0 {
			return c
		}
		return cmp.Compare(x.DepositSignature, y.DepositSignature)
	})

	res.Candidates = len(ranked)
	for _, r := range ranked {
		if r.Confidence > a.cfg.RelevanceThreshold {
			res.AnonymitySet++
		}
	}
	res.VulnerabilityLevel = models.LevelForAnonymitySet(res.AnonymitySet)

	if a.cfg.MaxRankedSources > 0 && len(ranked) > a.cfg.MaxRankedSources {
		ranked = ranked[:a.cfg.MaxRankedSources]
	}
	res.RankedSources = ranked
	return res
}

func (a *TimingAttack) isCandidate(w models.Withdrawal, d models.Deposit) bool {
	if !d.Timestamp.Before(w.Timestamp) {
		return false
	}
	if a.cfg.Lookback > 0 && w.Timestamp.Sub(d.Timestamp) > a.cfg.Lookback {
		return false
	}
	if a.cfg.ExcludeSpent && d.Spent {
		return false
	}
	return true
}

// Confidence is the weighted combination of amount and timing closeness, in [0,1].
func (a *TimingAttack) Confidence(w models.Withdrawal, d models.Deposit) float64 {
	total := a.cfg.AmountWeight + a.cfg.TimingWeight
	if total <= 0 {
		return 0
	}
	amount := AmountCloseness(w.Amount, d.Amount, a.cfg.ExpectedFee)
	timing := TimingCloseness(w.Timestamp.Sub(d.Timestamp), a.cfg.DecayHorizon)
	return clamp01((a.cfg.AmountWeight*amount + a.cfg.TimingWeight*timing) / total)
}

// AmountCloseness is 1 - |withdrawn - deposited*(1-fee)| / deposited, clipped to [0,1].
func AmountCloseness(withdrawn, deposited uint64, fee float64) float64 {
	if deposited == 0 {
		return 0
	}
	expected := float64(deposited) * (1 - fee)
	return clamp01(1 - math.Abs(float64(withdrawn)-expected)/float64(deposited))
}

// TimingCloseness decays linearly from 1 at delta 0 to 0 at the horizon.
func TimingCloseness(delta, horizon time.Duration) float64 {
	if delta < 0 {
		return 0
	}
	if horizon <= 0 {
		return 1
	}
	return clamp01(1 - float64(delta)/float64(horizon))
}

// BuildTimingMatch builds the match:found payload for a reportable result.
func BuildTimingMatch(res *TimingResult, protocol string, denominationPeers int) *models.Match {
	var top float64
	if len(res.RankedSources) > 0 {
		top = res.RankedSources[0].Confidence
	}
	sources := make([]models.RankedSource, len(res.RankedSources))
	copy(sources, res.RankedSources)

	return &models.Match{
		Type:         models.MatchTimingAttack,
		Protocol:     protocol,
		Confidence:   math.Round(top * 100),
		AnonymitySet: res.AnonymitySet,
		DetectedAt:   res.Withdrawal.Timestamp,
		Timing: &models.TimingMatch{
			WithdrawalSignature: res.Withdrawal.Signature,
			Recipient:           res.Withdrawal.Recipient,
			VulnerabilityLevel:  res.VulnerabilityLevel,
			RankedSources:       sources,
			DenominationPeers:   denominationPeers,
		},
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
