package models

import "time"

type MatchType string

const (
	MatchTimingAttack      MatchType = "timing_attack"
	MatchAddressLink       MatchType = "address_link"
	MatchAmountCorrelation MatchType = "amount_correlation"
)

func (t MatchType) Valid() bool {
	switch t {
	case MatchTimingAttack, MatchAddressLink, MatchAmountCorrelation:
		return true
	}
	return false
}

type VulnerabilityLevel string

const (
	VulnerabilityCritical VulnerabilityLevel = "critical"
	VulnerabilityHigh     VulnerabilityLevel = "high"
	VulnerabilityMedium   VulnerabilityLevel = "medium"
	VulnerabilityLow      VulnerabilityLevel = "low"
)

// LevelForAnonymitySet buckets an anonymity set size into a vulnerability level.
func LevelForAnonymitySet(n int) VulnerabilityLevel {
	switch {
	case n == 1:
		return VulnerabilityCritical
	case n >= 2 && n <= 5:
		return VulnerabilityHigh
	case n >= 6 && n <= 20:
		return VulnerabilityMedium
	default:
		return VulnerabilityLow
	}
}

// Match is the engine's output record. Exactly one of Timing, Amount or Link
// is set, selected by Type. Confidence is on a 0-100 scale for every type.
// Matches are never mutated after emission.
type Match struct {
	Type         MatchType `json:"type"`
	Protocol     string    `json:"protocol"`
	Confidence   float64   `json:"confidence"`
	AnonymitySet int       `json:"anonymity_set"`
	DetectedAt   time.Time `json:"detected_at"`

	Timing *TimingMatch `json:"timing,omitempty"`
	Amount *AmountMatch `json:"amount,omitempty"`
	Link   *LinkMatch   `json:"link,omitempty"`
}

type TimingMatch struct {
	WithdrawalSignature string             `json:"withdrawal_signature"`
	Recipient           string             `json:"recipient"`
	VulnerabilityLevel  VulnerabilityLevel `json:"vulnerability_level"`
	RankedSources       []RankedSource     `json:"ranked_sources"`
	DenominationPeers   int                `json:"denomination_peers"`
}

// RankedSource is one candidate deposit for a withdrawal. Confidence is 0-1.
type RankedSource struct {
	DepositSignature string        `json:"deposit_signature"`
	Depositor        string        `json:"depositor"`
	Amount           uint64        `json:"amount"`
	Timestamp        time.Time     `json:"timestamp"`
	Confidence       float64       `json:"confidence"`
	TimeDelta        time.Duration `json:"time_delta"`
}

type AmountMatch struct {
	InputSignature  string        `json:"input_signature"`
	OutputSignature string        `json:"output_signature"`
	InputWallet     string        `json:"input_wallet"`
	OutputWallet    string        `json:"output_wallet"`
	InputAmount     uint64        `json:"input_amount"`
	OutputAmount    uint64        `json:"output_amount"`
	AmountRatio     float64       `json:"amount_ratio"`
	Deviation       float64       `json:"deviation"`
	TimeDelta       time.Duration `json:"time_delta"`
}

type LinkMatch struct {
	TransferSignature string `json:"transfer_signature"`
	Sender            string `json:"sender"`
	Recipient         string `json:"recipient"`
	AmountHidden      bool   `json:"amount_hidden"`
}

// Signatures returns the signatures needed to reconstruct the matched pair.
func (m *Match) Signatures() []string {
	switch m.Type {
	case MatchTimingAttack:
		if m.Timing == nil {
			return nil
		}
		out := []string{m.Timing.WithdrawalSignature}
		if len(m.Timing.RankedSources) > 0 {
			out = append(out, m.Timing.RankedSources[0].DepositSignature)
		}
		return out
	case MatchAmountCorrelation:
		if m.Amount == nil {
			return nil
		}
		return []string{m.Amount.InputSignature, m.Amount.OutputSignature}
	case MatchAddressLink:
		if m.Link == nil {
			return nil
		}
		return []string{m.Link.TransferSignature}
	}
	return nil
}
