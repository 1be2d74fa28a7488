package correlation

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

// ClockMode selects what "now" means when pruning the fee window.
type ClockMode string

const (
	// ClockWall prunes against the wall clock at insertion time. Suited to
	// live streaming; memory stays bounded regardless of event timestamps.
	ClockWall ClockMode = "wall"
	// ClockEvent prunes against the latest event timestamp observed. Suited to
	// replaying historical data at any speed.
	ClockEvent ClockMode = "event"
)

type FeeWindowConfig struct {
	Window   time.Duration
	MinDelta time.Duration
	MaxDelta time.Duration

	ExpectedFee  float64
	FeeTolerance float64
	// ZeroConfidenceDeviation is the deviation at which confidence reaches 0.
	// Defaults to FeeTolerance when zero.
	ZeroConfidenceDeviation float64
	// MinConfidence is the 0-100 score a pair must exceed to be reported.
	MinConfidence int

	Clock ClockMode
	// Now is the wall clock, overridable in tests.
	Now func() time.Time
}

func DefaultFeeWindowConfig() FeeWindowConfig {
	return FeeWindowConfig{
		Window:        10 * time.Minute,
		MinDelta:      30 * time.Second,
		MaxDelta:      5 * time.Minute,
		ExpectedFee:   0.01,
		FeeTolerance:  0.005,
		MinConfidence: 60,
		Clock:         ClockWall,
	}
}

// AmountCorrelation is one input/output pair that satisfies the fee rule.
type AmountCorrelation struct {
	Input       models.SwapInput
	Output      models.SwapOutput
	AmountRatio float64
	Deviation   float64
	Confidence  int
	TimeDelta   time.Duration
}

type windowEntry struct {
	key   time.Time
	input models.SwapInput
}

// FeeCorrelator keeps recent swap inputs in a bounded window and matches
// each new output against every input still in it. Entries are ordered by
// their insertion key, which never decreases, so pruning is a binary search.
type FeeCorrelator struct {
	mu      sync.Mutex
	cfg     FeeWindowConfig
	entries []windowEntry
	head    int
	latest  time.Time
}

func NewFeeCorrelator(cfg FeeWindowConfig) *FeeCorrelator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Clock == "" {
		cfg.Clock = ClockWall
	}
	if cfg.ZeroConfidenceDeviation <= 0 {
		cfg.ZeroConfidenceDeviation = cfg.FeeTolerance
	}
	return &FeeCorrelator{cfg: cfg}
}

// AddInput prunes expired inputs and appends in to the window.
func (c *FeeCorrelator) AddInput(in models.SwapInput) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.observe(in.Timestamp)
	c.pruneLocked(now)
	c.entries = append(c.entries, windowEntry{key: now, input: in})
}

// MatchOutput returns every windowed input that out plausibly completes, in
// window order. Inputs are not consumed: one input may match many outputs.
func (c *FeeCorrelator) MatchOutput(out models.SwapOutput) []AmountCorrelation {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.observe(out.Timestamp)
	c.pruneLocked(now)

	var matches []AmountCorrelation
	for _, e := range c.entries[c.head:] {
		if m, ok := c.evaluate(e.input, out); ok {
			matches = append(matches, m)
		}
	}
	return matches
}

// Len returns the number of inputs currently in the window.
func (c *FeeCorrelator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries) - c.head
}

func (c *FeeCorrelator) evaluate(in models.SwapInput, out models.SwapOutput) (AmountCorrelation, bool) {
	delta := out.Timestamp.Sub(in.Timestamp)
	if delta < c.cfg.MinDelta || delta > c.cfg.MaxDelta {
		return AmountCorrelation{}, false
	}
	if in.Amount == 0 {
		return AmountCorrelation{}, false
	}

	ratio := float64(out.Amount) / float64(in.Amount)
	deviation := math.Abs(ratio - (1 - c.cfg.ExpectedFee))
	if deviation > c.cfg.FeeTolerance {
		return AmountCorrelation{}, false
	}

	confidence := FeeConfidence(deviation, c.cfg.ZeroConfidenceDeviation)
	if confidence <= c.cfg.MinConfidence {
		return AmountCorrelation{}, false
	}

	return AmountCorrelation{
		Input:       in,
		Output:      out,
		AmountRatio: ratio,
		Deviation:   deviation,
		Confidence:  confidence,
		TimeDelta:   delta,
	}, true
}

// FeeConfidence maps a ratio deviation to a 0-100 score that falls linearly
// to 0 at zeroAt. An exact ratio always scores 100, even when zeroAt is 0.
func FeeConfidence(deviation, zeroAt float64) int {
	if deviation <= 0 {
		return 100
	}
	if zeroAt <= 0 {
		return 0
	}
	return int(math.Round(math.Max(0, 1-deviation/zeroAt) * 100))
}

func (c *FeeCorrelator) observe(ts time.Time) time.Time {
	if c.cfg.Clock == ClockEvent {
		if ts.After(c.latest) {
			c.latest = ts
		}
		return c.latest
	}
	return c.cfg.Now()
}

func (c *FeeCorrelator) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.cfg.Window)
	live := c.entries[c.head:]
	n := sort.Search(len(live), func(i int) bool {
		return !live[i].key.Before(cutoff)
	})
	for i := c.head; i < c.head+n; i++ {
		c.entries[i] = windowEntry{}
	}
	c.head += n
	c.maybeCompact()
}

func (c *FeeCorrelator) maybeCompact() {
	if c.head < 1024 || c.head*2 < len(c.entries) {
		return
	}
	rest := make([]windowEntry, len(c.entries)-c.head)
	copy(rest, c.entries[c.head:])
	c.entries = rest
	c.head = 0
}

// BuildAmountMatches turns the correlations of one output into match:found
// payloads. The anonymity set of each is the number of inputs that matched.
func BuildAmountMatches(corrs []AmountCorrelation, protocol string) []*models.Match {
	out := make([]*models.Match, 0, len(corrs))
	for _, m := range corrs {
		out = append(out, &models.Match{
			Type:         models.MatchAmountCorrelation,
			Protocol:     protocol,
			Confidence:   float64(m.Confidence),
			AnonymitySet: len(corrs),
			DetectedAt:   m.Output.Timestamp,
			Amount: &models.AmountMatch{
				InputSignature:  m.Input.Signature,
				OutputSignature: m.Output.Signature,
				InputWallet:     m.Input.Wallet,
				OutputWallet:    m.Output.Wallet,
				InputAmount:     m.Input.Amount,
				OutputAmount:    m.Output.Amount,
				AmountRatio:     m.AmountRatio,
				Deviation:       m.Deviation,
				TimeDelta:       m.TimeDelta,
			},
		})
	}
	return out
}
