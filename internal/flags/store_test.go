package flags

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1, // Use different DB for tests
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

func TestStore_UpsertAndGet(t *testing.T) {
	store, err := NewStore(setupTestRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	key := DetectorKey("privacy-cash", models.MatchTimingAttack)
	flag, err := store.Upsert(ctx, key, false)
	require.NoError(t, err)
	assert.Equal(t, "privacy-cash.timing_attack", flag.Key)
	assert.False(t, flag.Enabled)
	assert.NotZero(t, flag.UpdatedAt)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, flag.Enabled, got.Enabled)
	assert.Equal(t, flag.UpdatedAt, got.UpdatedAt)

	time.Sleep(time.Millisecond)
	flag2, err := store.Upsert(ctx, key, true)
	require.NoError(t, err)
	assert.True(t, flag2.UpdatedAt.After(flag.UpdatedAt))

	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
}

func TestStore_GetMissing(t *testing.T) {
	store, err := NewStore(setupTestRedis(t))
	require.NoError(t, err)

	flag, err := store.Get(context.Background(), "shadowwire")
	assert.Equal(t, ErrNotFound, err)
	assert.Nil(t, flag)
}

func TestStore_Delete(t *testing.T) {
	store, err := NewStore(setupTestRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Upsert(ctx, "address_link", false)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "address_link"))
	_, err = store.Get(ctx, "address_link")
	assert.Equal(t, ErrNotFound, err)

	// Deleting a missing flag is not an error.
	assert.NoError(t, store.Delete(ctx, "address_link"))
}

func TestStore_List(t *testing.T) {
	store, err := NewStore(setupTestRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	flags, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, flags)

	want := map[string]bool{
		"privacy-cash.timing_attack": false,
		"shadowwire":                 true,
		"amount_correlation":         false,
	}
	for k, v := range want {
		_, err := store.Upsert(ctx, k, v)
		require.NoError(t, err)
	}

	flags, err = store.List(ctx)
	require.NoError(t, err)
	got := make(map[string]bool)
	for _, f := range flags {
		got[f.Key] = f.Enabled
	}
	assert.Equal(t, want, got)
}

func TestStore_ListSkipsStrayFields(t *testing.T) {
	client := setupTestRedis(t)
	store, err := NewStore(client)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Upsert(ctx, "silentswap.amount_correlation", false)
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "address_link", true)
	require.NoError(t, err)
	require.NoError(t, client.HSet(ctx, hashKey, "Bad Key", `{"key":"Bad Key"}`).Err())
	require.NoError(t, client.HSet(ctx, hashKey, "shadowwire", "not json").Err())

	flags, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.Equal(t, "address_link", flags[0].Key)
	assert.Equal(t, "silentswap.amount_correlation", flags[1].Key)
}

func TestStore_RejectsInvalidKeys(t *testing.T) {
	store, err := NewStore(setupTestRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Upsert(ctx, "privacy-cash.front_running", true)
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = store.Get(ctx, "Privacy-Cash")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.ErrorIs(t, store.Delete(ctx, ""), ErrInvalidKey)
}

func TestStore_ConcurrentUpserts(t *testing.T) {
	store, err := NewStore(setupTestRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	types := []models.MatchType{models.MatchTimingAttack, models.MatchAddressLink, models.MatchAmountCorrelation}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			protocol := fmt.Sprintf("protocol-%d", id)
			_, err := store.Upsert(ctx, protocol, id%2 == 0)
			assert.NoError(t, err)
			for j, typ := range types {
				_, err := store.Upsert(ctx, DetectorKey(protocol, typ), (id+j)%2 == 0)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	flags, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, flags, 8*(len(types)+1))
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		key  string
		want Scope
	}{
		{"privacy-cash.timing_attack", Scope{Protocol: "privacy-cash", Type: models.MatchTimingAttack}},
		{"shadowwire.address_link", Scope{Protocol: "shadowwire", Type: models.MatchAddressLink}},
		{"silentswap", Scope{Protocol: "silentswap"}},
		{"amount_correlation", Scope{Type: models.MatchAmountCorrelation}},
		{"a", Scope{Protocol: "a"}},
	}
	for _, tt := range tests {
		got, err := ParseKey(tt.key)
		require.NoError(t, err, tt.key)
		assert.Equal(t, tt.want, got, tt.key)
	}

	for _, key := range []string{
		"",
		" ",
		"with spaces",
		"with:colon",
		"Privacy-Cash",
		"-leading-dash",
		"privacy-cash.",
		".timing_attack",
		"privacy-cash.front_running",
		"privacy-cash.timing_attack.extra",
		"new\nline",
	} {
		assert.ErrorIs(t, ValidateKey(key), ErrInvalidKey, key)
	}
}

func TestNewStore_NilClient(t *testing.T) {
	_, err := NewStore(nil)
	assert.Error(t, err)
}

func TestGate_RefreshFromStore(t *testing.T) {
	store, err := NewStore(setupTestRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	g := NewGate(store, nil)
	assert.True(t, g.Enabled("privacy-cash", models.MatchTimingAttack))

	_, err = store.Upsert(ctx, "privacy-cash", false)
	require.NoError(t, err)
	require.NoError(t, g.Refresh(ctx))
	assert.False(t, g.Enabled("privacy-cash", models.MatchTimingAttack))
}
