package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

func TestMatchID(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := linkMatch("sig-1", at)
	b := linkMatch("sig-1", at.Add(time.Hour))
	c := linkMatch("sig-2", at)
	d := linkMatch("sig-1", at)
	d.Protocol = "other"

	id := MatchID(a)
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	assert.Equal(t, id, MatchID(b), "same linked signatures give the same id")
	assert.NotEqual(t, id, MatchID(c))
	assert.NotEqual(t, id, MatchID(d))

	timing := &models.Match{
		Type:     models.MatchTimingAttack,
		Protocol: "shadowwire",
		Timing:   &models.TimingMatch{WithdrawalSignature: "sig-1"},
	}
	assert.NotEqual(t, id, MatchID(timing), "type is part of the id")
}
