package correlation

import (
	"testing"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisibilityDetector(t *testing.T) {
	poolAddr := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	d := NewVisibilityDetector(poolAddr)

	cases := []struct {
		name      string
		sender    string
		recipient string
		linked    bool
	}{
		{"pool sender", "pool", "0xABC123", false},
		{"unknown recipient", "0xABC123", "unknown", false},
		{"both hidden", "pool", "unknown", false},
		{"empty sender", "", "0xABC123", false},
		{"configured pool account", poolAddr, "0xABC123", false},
		{"sentinel case insensitive", "POOL", "0xABC123", false},
		{"both real", "0xDEF456", "0xABC123", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := models.Transfer{Signature: "sig", Sender: tc.sender, Recipient: tc.recipient, AmountHidden: true, Timestamp: t0}
			assert.Equal(t, tc.linked, d.IsLinked(tr))

			m := d.Detect(tr, "shadowwire")
			if !tc.linked {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, models.MatchAddressLink, m.Type)
			assert.Equal(t, 100.0, m.Confidence)
			assert.Equal(t, 1, m.AnonymitySet)
			assert.True(t, m.Link.AmountHidden)
			assert.Equal(t, "shadowwire", m.Protocol)
		})
	}
}
