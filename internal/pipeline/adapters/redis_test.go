package adapters

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"paypipe/internal/config"
	"paypipe/internal/errors"
	"paypipe/internal/pipeline/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisTokenStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	store := NewRedisTokenStore(client)

	tok := sampleToken("OT-RT")
	tok.AllowedMerchants = []string{"merchant-1", "merchant-2"}
	tok.MerchantTypeRestriction = []string{"grocery"}
	require.NoError(t, store.Create(ctx, tok))

	got, err := store.FindByToken(ctx, "OT-RT")
	require.NoError(t, err)
	assert.Equal(t, tok.Token, got.Token)
	assert.Equal(t, tok.Owner, got.Owner)
	assert.True(t, tok.Amount.Equal(got.Amount))
	assert.Equal(t, domain.TokenActive, got.Status)
	assert.True(t, tok.ExpiresAt.Equal(got.ExpiresAt))
	assert.True(t, tok.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, tok.AllowedMerchants, got.AllowedMerchants)
	assert.Nil(t, got.BlockedMerchants)
	assert.Equal(t, []string{"grocery"}, got.MerchantTypeRestriction)
	assert.Equal(t, "txn-1", got.TransactionID)
	assert.Nil(t, got.UsedAt)

	// indexed for the expiry sweep
	score, err := mr.ZScore(tokenExpiryKey, "OT-RT")
	require.NoError(t, err)
	assert.Equal(t, float64(tok.ExpiresAt.UnixMilli()), score)

	err = store.Create(ctx, tok)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = store.FindByToken(ctx, "OT-NONE")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRedisTokenStore_Redeem(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	store := NewRedisTokenStore(client)
	require.NoError(t, store.Create(ctx, sampleToken("OT-1")))

	at := epoch.Add(2 * time.Hour)
	got, err := store.Redeem(ctx, "OT-1", "merchant-7", at)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenUsed, got.Status)
	assert.Equal(t, "merchant-7", got.RedeemedBy)
	require.NotNil(t, got.UsedAt)
	assert.True(t, at.Equal(*got.UsedAt))
	assert.False(t, mr.Exists(tokenExpiryKey) && zsetHas(t, mr, "OT-1"))

	_, err = store.Redeem(ctx, "OT-1", "merchant-7", at)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTokenState))
	assert.Contains(t, err.Error(), "token is used")

	_, err = store.Redeem(ctx, "OT-GONE", "merchant-7", at)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTokenState))
}

func zsetHas(t *testing.T, mr *miniredis.Miniredis, member string) bool {
	t.Helper()
	members, err := mr.ZMembers(tokenExpiryKey)
	require.NoError(t, err)
	for _, m := range members {
		if m == member {
			return true
		}
	}
	return false
}

func TestRedisTokenStore_RedeemPastExpiry(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	store := NewRedisTokenStore(client)
	tok := sampleToken("OT-1")
	require.NoError(t, store.Create(ctx, tok))

	_, err := store.Redeem(ctx, "OT-1", "merchant-1", tok.ExpiresAt.Add(time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token is expired")

	got, err := store.FindByToken(ctx, "OT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenActive, got.Status)
}

func TestRedisTokenStore_ConcurrentRedeemHasOneWinner(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	store := NewRedisTokenStore(client)
	require.NoError(t, store.Create(ctx, sampleToken("OT-1")))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Redeem(ctx, "OT-1", fmt.Sprintf("m-%d", i), epoch)
			if err == nil {
				wins.Add(1)
				return
			}
			assert.True(t, errors.IsType(err, errors.ErrorTypeTokenState), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisTokenStore_Cancel(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	store := NewRedisTokenStore(client)
	require.NoError(t, store.Create(ctx, sampleToken("OT-1")))

	got, err := store.Cancel(ctx, "OT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenCancelled, got.Status)

	_, err = store.Cancel(ctx, "OT-1")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTokenState))
	_, err = store.Redeem(ctx, "OT-1", "merchant-1", epoch)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTokenState))
}

func TestRedisTokenStore_ExpireStale(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	store := NewRedisTokenStore(client)
	for i, hours := range []int{1, 2, 48} {
		tok := sampleToken(fmt.Sprintf("OT-%d", i))
		tok.ExpiresAt = epoch.Add(time.Duration(hours) * time.Hour)
		require.NoError(t, store.Create(ctx, tok))
	}
	_, err := store.Cancel(ctx, "OT-0")
	require.NoError(t, err)

	n, err := store.ExpireStale(ctx, epoch.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.ExpireStale(ctx, epoch.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	for token, want := range map[string]domain.TokenStatus{
		"OT-0": domain.TokenCancelled,
		"OT-1": domain.TokenExpired,
		"OT-2": domain.TokenActive,
	} {
		got, err := store.FindByToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, token)
	}
}

func TestRedisTokenStore_UnavailableServer(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisTokenStore(client)
	mr.Close()

	err := store.Create(context.Background(), sampleToken("OT-1"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeExternal))
}

func TestRedisRateSource(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	src := NewRedisRateSource(client)

	require.NoError(t, src.Seed(ctx, []config.RateEntry{
		{From: "usd", To: "myr", Rate: 4.72},
		{From: "USD", To: "SGD", Rate: 1.35},
	}))
	assert.Equal(t, "4.72", mr.HGet(ratesKey, "USD/MYR"))

	rate, ok, err := src.Rate(ctx, "USD", "MYR")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "4.72", rate.String())

	_, ok, err = src.Rate(ctx, "MYR", "USD")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.HSet(ratesKey, "EUR/MYR", "five")
	_, _, err = src.Rate(ctx, "EUR", "MYR")
	assert.Error(t, err)
}
