package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/pricebet-settlement/internal/chain"
	"github.com/radieske/pricebet-settlement/internal/chain/chaintest"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestClassify(t *testing.T) {
	cases := []struct {
		err       error
		cat       apperr.Category
		transient bool
	}{
		{errors.New("HTTP 429 Too Many Requests"), apperr.CategoryRateLimit, true},
		{errors.New("request timed out"), apperr.CategoryTimeout, true},
		{context.DeadlineExceeded, apperr.CategoryTimeout, true},
		{errors.New("sui rpc http 503 Service Unavailable"), apperr.CategoryRPC, true},
		{errors.New("InsufficientGas"), apperr.CategoryRPC, false},
	}
	for _, tc := range cases {
		cat, transient := Classify(tc.err)
		assert.Equal(t, tc.cat, cat, tc.err.Error())
		assert.Equal(t, tc.transient, transient, tc.err.Error())
	}
}

func TestRPCError(t *testing.T) {
	err := RPCError(errors.New("dial tcp: connection reset by peer"), "build transaction")
	assert.Equal(t, apperr.ExecuteFailed, apperr.CodeOf(err))
	assert.Equal(t, apperr.CategoryTimeout, apperr.CategoryOf(err))
	assert.True(t, IsTransient(err))

	typed := apperr.New(apperr.InvalidInput, "bad pure argument")
	assert.Same(t, typed, RPCError(typed, "build transaction"))
}

func TestRetrier_RetriesTransientOnly(t *testing.T) {
	var waits []time.Duration
	r := Retrier{Attempts: 3, Backoff: 300 * time.Millisecond, Sleep: func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}}

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return SubmitError(errors.New("429 rate limit"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 600 * time.Millisecond}, waits)

	calls = 0
	err = r.Do(context.Background(), func(context.Context) error {
		calls++
		return SubmitError(errors.New("MoveAbort in place_bet"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, apperr.CategoryRPC, apperr.CategoryOf(err))
}

func TestRetrier_ExhaustsBudget(t *testing.T) {
	r := Retrier{Attempts: 3, Backoff: time.Millisecond, Sleep: noSleep}
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return SubmitError(errors.New("i/o timeout"))
	})
	assert.True(t, apperr.Is(err, apperr.ExecuteFailed))
	assert.Equal(t, 3, calls)
}

func TestEnsureOnChain(t *testing.T) {
	ctx := context.Background()
	c := Confirmer{Attempts: 3, Delay: time.Second, Sleep: noSleep}

	t.Run("success after not found", func(t *testing.T) {
		gw := chaintest.New()
		gw.PutTx(chain.TxRecord{Digest: "d1", Status: chain.TxSuccess})
		gw.NotFoundPolls = 2

		rec, err := c.EnsureOnChain(ctx, gw, "d1")
		require.NoError(t, err)
		assert.Equal(t, "d1", rec.Digest)
		assert.Equal(t, 3, gw.Fetches)
	})

	t.Run("failure is not retried", func(t *testing.T) {
		gw := chaintest.New()
		gw.PutTx(chain.TxRecord{Digest: "d2", Status: chain.TxFailure, Error: "MoveAbort 3"})

		_, err := c.EnsureOnChain(ctx, gw, "d2")
		require.Error(t, err)
		assert.Equal(t, apperr.ExecuteFailed, apperr.CodeOf(err))
		assert.Contains(t, err.Error(), "MoveAbort 3")
		assert.Equal(t, 1, gw.Fetches)
	})

	t.Run("exhausted budget", func(t *testing.T) {
		gw := chaintest.New()
		_, err := c.EnsureOnChain(ctx, gw, "missing")
		assert.Equal(t, apperr.TxNotFound, apperr.CodeOf(err))
		assert.Equal(t, 3, gw.Fetches)
	})
}
