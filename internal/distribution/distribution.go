// Package distribution grades how well a protocol's deposit amounts resist
// fingerprinting. Every function is read-only over its input.
package distribution

import (
	"cmp"
	"math"
	"math/big"
	"slices"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

const defaultTopN = 10

type Config struct {
	// MaterialityThreshold is the amount above which a globally unique
	// deposit is flagged. Default 0.1 SOL in lamports.
	MaterialityThreshold uint64
	// RepeatThreshold is how many identical deposits by one address are
	// flagged.
	RepeatThreshold int
	TopN            int
}

func DefaultConfig() Config {
	return Config{
		MaterialityThreshold: 100_000_000,
		RepeatThreshold:      3,
		TopN:                 defaultTopN,
	}
}

type AmountCount struct {
	Amount uint64 `json:"amount"`
	Count  int    `json:"count"`
}

type AmountDistribution struct {
	FrequencyByAmount map[uint64]int `json:"frequency_by_amount"`
	UniqueCount       int            `json:"unique_count"`
	TotalCount        int            `json:"total_count"`
	UniqueRatio       float64        `json:"unique_ratio"`
	TopAmounts        []AmountCount  `json:"top_amounts"`
}

// Distribution counts deposits per exact amount. TopAmounts holds the ten most
// frequent amounts, ties broken by the smaller amount.
func Distribution(deposits []models.Deposit) AmountDistribution {
	return distribution(deposits, defaultTopN)
}

func distribution(deposits []models.Deposit, topN int) AmountDistribution {
	freq := make(map[uint64]int)
	for _, d := range deposits {
		freq[d.Amount]++
	}

	dist := AmountDistribution{
		FrequencyByAmount: freq,
		TotalCount:        len(deposits),
	}

	ranked := make([]AmountCount, 0, len(freq))
	for amount, count := range freq {
		if count == 1 {
			dist.UniqueCount++
		}
		ranked = append(ranked, AmountCount{Amount: amount, Count: count})
	}
	if dist.TotalCount > 0 {
		dist.UniqueRatio = float64(dist.UniqueCount) / float64(dist.TotalCount)
	}

	slices.SortFunc(ranked, func(a, b AmountCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Amount, b.Amount)
	})
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	dist.TopAmounts = ranked
	return dist
}

// PrivacyScore is round((1 - uniqueRatio) * 100); 0 for an empty batch.
func PrivacyScore(d AmountDistribution) int {
	if d.TotalCount == 0 {
		return 0
	}
	return int(math.Round((1 - d.UniqueRatio) * 100))
}

// MixingScore grades how well an amount hides among its peers:
// under 1% of deposits is fingerprintable (30), over 50% suggests a single
// dominant actor (70), anything between is the sweet spot (100).
func MixingScore(count, total int) int {
	if total <= 0 || count <= 0 {
		return 0
	}
	freq := float64(count) / float64(total)
	switch {
	case freq < 0.01:
		return 30
	case freq > 0.5:
		return 70
	default:
		return 100
	}
}

// GiniCoefficient is sum|ai-aj| / (2 n sum(a)) over all ordered pairs,
// computed exactly on sorted amounts. It is 0 for an empty batch.
func GiniCoefficient(deposits []models.Deposit) float64 {
	n := len(deposits)
	if n == 0 {
		return 0
	}

	amounts := make([]uint64, n)
	for i, d := range deposits {
		amounts[i] = d.Amount
	}
	slices.Sort(amounts)

	// sum over pairs |ai-aj| = 2 * sum_i (2i - n + 1) * a_i for ascending a
	num := new(big.Int)
	sum := new(big.Int)
	term := new(big.Int)
	for i, a := range amounts {
		ab := new(big.Int).SetUint64(a)
		sum.Add(sum, ab)
		term.Mul(ab, big.NewInt(int64(2*i-n+1)))
		num.Add(num, term)
	}
	if sum.Sign() == 0 {
		return 0
	}

	den := new(big.Int).Mul(sum, big.NewInt(int64(n)))
	g, _ := new(big.Rat).SetFrac(num, den).Float64()
	return g
}

type SuspicionKind string

const (
	// SuspicionRepeatedAmount: one depositor reused the same exact amount.
	SuspicionRepeatedAmount SuspicionKind = "repeated_amount"
	// SuspicionUniqueAmount: a material amount nobody else deposited.
	SuspicionUniqueAmount SuspicionKind = "unique_amount"
)

type SuspiciousAmount struct {
	Kind      SuspicionKind `json:"kind"`
	Amount    uint64        `json:"amount"`
	Depositor string        `json:"depositor,omitempty"`
	Count     int           `json:"count"`
}

// SuspiciousAmounts flags easily linkable amounts, sorted by kind, amount
// and depositor.
func SuspiciousAmounts(deposits []models.Deposit, cfg Config) []SuspiciousAmount {
	type key struct {
		depositor string
		amount    uint64
	}
	perDepositor := make(map[key]int)
	freq := make(map[uint64]int)
	for _, d := range deposits {
		perDepositor[key{d.Depositor, d.Amount}]++
		freq[d.Amount]++
	}

	out := make([]SuspiciousAmount, 0)
	if cfg.RepeatThreshold > 0 {
		for k, count := range perDepositor {
			if count >= cfg.RepeatThreshold {
				out = append(out, SuspiciousAmount{
					Kind:      SuspicionRepeatedAmount,
					Amount:    k.amount,
					Depositor: k.depositor,
					Count:     count,
				})
			}
		}
	}
	for amount, count := range freq {
		if count == 1 && amount > cfg.MaterialityThreshold {
			out = append(out, SuspiciousAmount{
				Kind:   SuspicionUniqueAmount,
				Amount: amount,
				Count:  1,
			})
		}
	}

	slices.SortFunc(out, func(a, b SuspiciousAmount) int {
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Amount, b.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.Depositor, b.Depositor)
	})
	return out
}

type DenominationScore struct {
	Amount uint64 `json:"amount"`
	Count  int    `json:"count"`
	Score  int    `json:"score"`
}

// Report bundles every statistic for one batch of deposits.
type Report struct {
	Protocol              string              `json:"protocol"`
	Distribution          AmountDistribution  `json:"distribution"`
	PrivacyScore          int                 `json:"privacy_score"`
	GiniCoefficient       float64             `json:"gini_coefficient"`
	Denominations         []DenominationScore `json:"denominations"`
	MeanDenominationScore float64             `json:"mean_denomination_score"`
	Suspicious            []SuspiciousAmount  `json:"suspicious"`
}

func BuildReport(protocol string, deposits []models.Deposit, cfg Config) Report {
	topN := cfg.TopN
	if topN <= 0 {
		topN = defaultTopN
	}
	dist := distribution(deposits, topN)

	r := Report{
		Protocol:        protocol,
		Distribution:    dist,
		PrivacyScore:    PrivacyScore(dist),
		GiniCoefficient: GiniCoefficient(deposits),
		Denominations:   make([]DenominationScore, 0, len(dist.TopAmounts)),
		Suspicious:      SuspiciousAmounts(deposits, cfg),
	}

	var total int
	for _, ac := range dist.TopAmounts {
		score := MixingScore(ac.Count, dist.TotalCount)
		r.Denominations = append(r.Denominations, DenominationScore{Amount: ac.Amount, Count: ac.Count, Score: score})
		total += score
	}
	if len(r.Denominations) > 0 {
		r.MeanDenominationScore = float64(total) / float64(len(r.Denominations))
	}
	return r
}
