package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearshare/internal/config"
	"gearshare/internal/domain"
)

func TestRedisOperationLedger(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer Close(client)
	require.NoError(t, Ping(context.Background(), client))

	ledger := NewRedisOperationLedger(client, time.Hour)
	ctx := context.Background()

	t.Run("AcquireCompleteDone", func(t *testing.T) {
		state, err := ledger.Acquire(ctx, "booking:1:capture")
		require.NoError(t, err)
		assert.Equal(t, domain.LedgerAcquired, state)

		state, err = ledger.Acquire(ctx, "booking:1:capture")
		require.NoError(t, err)
		assert.Equal(t, domain.LedgerInFlight, state)

		require.NoError(t, ledger.Complete(ctx, "booking:1:capture"))
		state, err = ledger.Acquire(ctx, "booking:1:capture")
		require.NoError(t, err)
		assert.Equal(t, domain.LedgerDone, state)
		assert.True(t, s.TTL(ledgerPrefix+"booking:1:capture") > 0)
	})

	t.Run("Peek", func(t *testing.T) {
		state, err := ledger.Peek(ctx, "booking:4:capture")
		require.NoError(t, err)
		assert.Equal(t, domain.LedgerAbsent, state)

		_, err = ledger.Acquire(ctx, "booking:4:capture")
		require.NoError(t, err)
		state, err = ledger.Peek(ctx, "booking:4:capture")
		require.NoError(t, err)
		assert.Equal(t, domain.LedgerInFlight, state)

		require.NoError(t, ledger.Complete(ctx, "booking:4:capture"))
		state, err = ledger.Peek(ctx, "booking:4:capture")
		require.NoError(t, err)
		assert.Equal(t, domain.LedgerDone, state)
	})

	t.Run("ReleaseAllowsRetry", func(t *testing.T) {
		_, err := ledger.Acquire(ctx, "booking:2:capture")
		require.NoError(t, err)
		require.NoError(t, ledger.Release(ctx, "booking:2:capture"))

		state, err := ledger.Acquire(ctx, "booking:2:capture")
		require.NoError(t, err)
		assert.Equal(t, domain.LedgerAcquired, state)
	})

	t.Run("Expiry", func(t *testing.T) {
		_, err := ledger.Acquire(ctx, "booking:3:payout")
		require.NoError(t, err)
		s.FastForward(2 * time.Hour)

		state, err := ledger.Acquire(ctx, "booking:3:payout")
		require.NoError(t, err)
		assert.Equal(t, domain.LedgerAcquired, state)
	})

	t.Run("OnlyOneAcquirer", func(t *testing.T) {
		var wg sync.WaitGroup
		results := make(chan domain.LedgerState, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				state, err := ledger.Acquire(ctx, "booking:4:transfer")
				assert.NoError(t, err)
				results <- state
			}()
		}
		wg.Wait()
		close(results)

		acquired := 0
		for state := range results {
			if state == domain.LedgerAcquired {
				acquired++
			}
		}
		assert.Equal(t, 1, acquired)
	})

	t.Run("NilClient", func(t *testing.T) {
		broken := NewRedisOperationLedger(nil, time.Hour)
		_, err := broken.Acquire(ctx, "k")
		assert.Error(t, err)
		assert.Error(t, broken.Complete(ctx, "k"))
		assert.Error(t, broken.Release(ctx, "k"))
	})

	t.Run("ServerDown", func(t *testing.T) {
		down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		defer down.Close()
		_, err := NewRedisOperationLedger(down, time.Hour).Acquire(ctx, "k")
		assert.Error(t, err)
	})
}
