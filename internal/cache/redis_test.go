package cache

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/parser"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupTestRedis(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   3, // Use different DB for tests
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.FlushDB(ctx).Err()
		_ = client.Close()
	})
	return client
}

func linkMatch(sig string, at time.Time) *models.Match {
	return &models.Match{
		Type:         models.MatchAddressLink,
		Protocol:     "shadowwire",
		Confidence:   100,
		AnonymitySet: 1,
		DetectedAt:   at,
		Link: &models.LinkMatch{
			TransferSignature: sig,
			Sender:            "alice",
			Recipient:         "bob",
		},
	}
}

func TestMatchChannels(t *testing.T) {
	m := linkMatch("t1", time.Now())
	assert.Equal(t, []string{
		"matches:all",
		"matches:protocol:shadowwire",
		"matches:type:address_link",
	}, MatchChannels(m))
	assert.Equal(t, "matches.shadowwire", Subject(m))
}

func TestRedisMatchCache_RecentMatchesCapped(t *testing.T) {
	client := setupTestRedis(t)
	c := NewRedisMatchCacheFromClient(client, 3, quietLogger())
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, sig := range []string{"t1", "t2", "t3", "t4"} {
		require.NoError(t, c.WriteMatch(ctx, linkMatch(sig, t0.Add(time.Duration(i)*time.Second))))
	}

	got, err := c.RecentMatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "t4", got[0].Link.TransferSignature)
	assert.Equal(t, "t2", got[2].Link.TransferSignature)
	assert.True(t, got[0].DetectedAt.Equal(t0.Add(3*time.Second)))

	got, err = c.RecentMatches(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisMatchCache_PublishesToSubscribers(t *testing.T) {
	client := setupTestRedis(t)
	c := NewRedisMatchCacheFromClient(client, 10, quietLogger())
	ps := NewPubSubManager(client, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *models.Match, 16)
	go func() {
		_ = ps.SubscribeMatches(ctx, "matches:protocol:shadowwire", func(m *models.Match) {
			received <- m
		})
	}()

	// Write until the subscription is live.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		require.NoError(t, c.WriteMatch(ctx, linkMatch("t1", time.Now())))
		select {
		case m := <-received:
			assert.Equal(t, "t1", m.Link.TransferSignature)
			assert.Equal(t, models.MatchAddressLink, m.Type)
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("match not published")
		}
	}
}

func TestRawSubscriber_DeliversTransactions(t *testing.T) {
	client := setupTestRedis(t)
	ps := NewPubSubManager(client, quietLogger())
	sub := NewRawSubscriber(client, []string{"privacy-cash"}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type delivery struct {
		protocol string
		tx       parser.RawTransaction
	}
	got := make(chan delivery, 16)
	go func() {
		_ = sub.Start(ctx, func(protocol string, tx parser.RawTransaction) {
			got <- delivery{protocol, tx}
		})
	}()

	tx := parser.RawTransaction{
		Signature: "sig",
		Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		FeePayer:  "payer",
		BalanceChanges: []parser.BalanceChange{
			{Account: "pool", Delta: 5},
		},
	}

	// Publish until the subscription is live.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		require.NoError(t, ps.PublishRaw(ctx, "privacy-cash", tx))
		select {
		case d := <-got:
			assert.Equal(t, "privacy-cash", d.protocol)
			assert.Equal(t, tx.Signature, d.tx.Signature)
			assert.Equal(t, tx.BalanceChanges, d.tx.BalanceChanges)
			require.NoError(t, sub.Stop())
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("raw transaction not delivered")
		}
	}
}
