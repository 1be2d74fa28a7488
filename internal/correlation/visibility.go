package correlation

import (
	"strings"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

// VisibilityDetector flags transfers whose two endpoints are both real
// addresses, i.e. the protocol's pool abstraction did not hide either side.
type VisibilityDetector struct {
	hidden map[string]struct{}
}

// NewVisibilityDetector treats "", "unknown", "pool" and any of poolAddresses
// as hidden endpoints.
func NewVisibilityDetector(poolAddresses ...string) *VisibilityDetector {
	hidden := map[string]struct{}{
		"":                    {},
		models.AddressUnknown: {},
		models.AddressPool:    {},
	}
	for _, a := range poolAddresses {
		hidden[a] = struct{}{}
	}
	return &VisibilityDetector{hidden: hidden}
}

func (d *VisibilityDetector) isHidden(addr string) bool {
	if _, ok := d.hidden[addr]; ok {
		return true
	}
	_, ok := d.hidden[strings.ToLower(strings.TrimSpace(addr))]
	return ok
}

func (d *VisibilityDetector) IsLinked(t models.Transfer) bool {
	return !d.isHidden(t.Sender) && !d.isHidden(t.Recipient)
}

// Detect returns an address_link match, or nil when either side is hidden.
func (d *VisibilityDetector) Detect(t models.Transfer, protocol string) *models.Match {
	if !d.IsLinked(t) {
		return nil
	}
	return &models.Match{
		Type:         models.MatchAddressLink,
		Protocol:     protocol,
		Confidence:   100,
		AnonymitySet: 1,
		DetectedAt:   t.Timestamp,
		Link: &models.LinkMatch{
			TransferSignature: t.Signature,
			Sender:            t.Sender,
			Recipient:         t.Recipient,
			AmountHidden:      t.AmountHidden,
		},
	}
}
