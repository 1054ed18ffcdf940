package sponsor

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/pricebet-settlement/internal/chain"
	"github.com/radieske/pricebet-settlement/internal/chain/chaintest"
	"github.com/radieske/pricebet-settlement/internal/chain/recovery"
	"github.com/radieske/pricebet-settlement/internal/chain/txbuilder"
	"github.com/radieske/pricebet-settlement/internal/nonce"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

const (
	sponsorAddr = "0x5"
	userAddr    = "0x7"
	poolID      = "0xp001"
)

type fixture struct {
	svc   *Service
	gw    *chaintest.Gateway
	mr    *miniredis.Miniredis
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	gw := chaintest.New()
	gw.Coins[sponsorAddr] = []chain.Coin{{ID: "0xg1", Version: 1, Digest: "d", Balance: 10}, {ID: "0xg2", Version: 1, Digest: "d", Balance: 900}}
	gw.Coins[userAddr] = []chain.Coin{{ID: "0xc1", Balance: 300}, {ID: "0xc2", Balance: 200}, {ID: "0xc3", Balance: 100}}

	f := &fixture{gw: gw, mr: mr, clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.svc = New(gw, chaintest.Signer{Addr: sponsorAddr}, nonce.NewRedisStore(rdb),
		txbuilder.New(txbuilder.Config{PackageID: "0xabc"}),
		Config{GasBudget: 100, NonceTTL: time.Minute}, nil, nil)
	f.svc.Now = func() time.Time { return f.clock }
	f.svc.WithConfirmer(recovery.Confirmer{Attempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }})
	return f
}

func betRequest() PrepareRequest {
	return PrepareRequest{
		Intent:      IntentPlaceBet,
		UserAddress: userAddr,
		PoolID:      poolID,
		Prediction:  txbuilder.PredictGold,
		CoinIDs:     []string{"0xc1"},
		Amount:      150,
		BetID:       "bet-1",
		UserID:      "user-1",
	}
}

func executeFor(p *Prepared) ExecuteRequest {
	return ExecuteRequest{TxBytes: p.TxBytes, UserSignature: "user-sig", Nonce: p.Nonce, BetID: "bet-1", UserID: "user-1"}
}

func TestPrepareExecute_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Prepare(ctx, betRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, p.Nonce)
	assert.Equal(t, f.clock.Add(time.Minute).UnixMilli(), p.ExpiresAt)
	assert.Equal(t, 1, f.gw.Simulations)
	assert.True(t, f.mr.Exists("sponsor:nonce:"+p.Nonce))

	out, err := f.svc.Execute(ctx, executeFor(p))
	require.NoError(t, err)
	assert.Equal(t, "digest-1", out.Digest)
	assert.Equal(t, chain.TxSuccess, out.Record.Status)

	require.Len(t, f.gw.Submitted, 1)
	assert.Equal(t, "user-sig", f.gw.Submitted[0][0])
	assert.Contains(t, f.gw.Submitted[0][1], "sig:"+sponsorAddr)
	assert.False(t, f.mr.Exists("sponsor:nonce:"+p.Nonce))
}

func TestPrepare_PicksLargestEligibleGasCoin(t *testing.T) {
	f := newFixture(t)

	// o fake serializa {plan, gas} em JSON
	p, err := f.svc.Prepare(context.Background(), betRequest())
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(p.TxBytes)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"ID":"0xg2"`)
	assert.NotContains(t, string(raw), `"ID":"0xg1"`)
}

func TestPrepare_AutoSelectsUserCoins(t *testing.T) {
	f := newFixture(t)
	req := betRequest()
	req.CoinIDs = nil
	req.Amount = 450

	_, err := f.svc.Prepare(context.Background(), req)
	require.NoError(t, err)

	plan := f.gw.Plans[0]
	require.Equal(t, chain.CmdMergeCoins, plan.Commands[0].Kind)
	assert.Equal(t, chain.CmdSplitCoins, plan.Commands[1].Kind)
	assert.Equal(t, "0xc1", plan.Inputs[2].ObjectID)
	assert.Equal(t, "0xc2", plan.Inputs[3].ObjectID)
}

func TestPrepare_Failures(t *testing.T) {
	t.Run("missing sponsor key", func(t *testing.T) {
		f := newFixture(t)
		f.svc.signer = nil
		_, err := f.svc.Prepare(context.Background(), betRequest())
		assert.Equal(t, apperr.EnvMissing, apperr.CodeOf(err))
		assert.Zero(t, f.gw.Builds)
	})
	t.Run("no gas coins", func(t *testing.T) {
		f := newFixture(t)
		f.gw.Coins[sponsorAddr] = []chain.Coin{{ID: "0xg1", Balance: 99}}
		_, err := f.svc.Prepare(context.Background(), betRequest())
		assert.Equal(t, apperr.NoGasCoins, apperr.CodeOf(err))
		assert.Zero(t, f.gw.Simulations)
	})
	t.Run("dry run failure issues no nonce", func(t *testing.T) {
		f := newFixture(t)
		f.gw.SimulateResult = &chain.SimulationResult{Success: false, Error: "MoveAbort(place_bet, 2)"}
		_, err := f.svc.Prepare(context.Background(), betRequest())
		assert.Equal(t, apperr.DryRunFailed, apperr.CodeOf(err))
		assert.ErrorContains(t, err, "MoveAbort")
		assert.Empty(t, f.mr.Keys())
	})
	t.Run("empty coin list", func(t *testing.T) {
		f := newFixture(t)
		f.gw.Coins[userAddr] = nil
		req := betRequest()
		req.CoinIDs = nil
		_, err := f.svc.Prepare(context.Background(), req)
		assert.Equal(t, apperr.InvalidInput, apperr.CodeOf(err))
	})
	t.Run("build transport error is not a dry run failure", func(t *testing.T) {
		f := newFixture(t)
		f.gw.BuildErr = errors.New("rpc 503 service unavailable")
		_, err := f.svc.Prepare(context.Background(), betRequest())
		assert.Equal(t, apperr.ExecuteFailed, apperr.CodeOf(err))
		assert.Equal(t, apperr.CategoryRPC, apperr.CategoryOf(err))
		assert.Zero(t, f.gw.Simulations)
		assert.Empty(t, f.mr.Keys())
	})
	t.Run("user coin lookup times out", func(t *testing.T) {
		f := newFixture(t)
		f.gw.CoinsErr = map[string]error{userAddr: context.DeadlineExceeded}
		req := betRequest()
		req.CoinIDs = nil
		_, err := f.svc.Prepare(context.Background(), req)
		assert.Equal(t, apperr.ExecuteFailed, apperr.CodeOf(err))
		assert.Equal(t, apperr.CategoryTimeout, apperr.CategoryOf(err))
		assert.Zero(t, f.gw.Builds)
	})
	t.Run("nonce store down", func(t *testing.T) {
		f := newFixture(t)
		f.mr.Close()
		_, err := f.svc.Prepare(context.Background(), betRequest())
		assert.Equal(t, apperr.NonceStoreFailed, apperr.CodeOf(err))
	})
}

func TestExecute_RejectsReusedNonce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Prepare(ctx, betRequest())
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, executeFor(p))
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, executeFor(p))
	assert.Equal(t, apperr.InvalidNonce, apperr.CodeOf(err))
	assert.Equal(t, 1, f.gw.Submits)
}

func TestExecute_TxMismatchOnSingleByteChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Prepare(ctx, betRequest())
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(p.TxBytes)
	raw[len(raw)/2] ^= 0x01
	req := executeFor(p)
	req.TxBytes = base64.StdEncoding.EncodeToString(raw)

	_, err = f.svc.Execute(ctx, req)
	assert.Equal(t, apperr.TxMismatch, apperr.CodeOf(err))
	assert.Zero(t, f.gw.Submits)

	// o nonce foi consumido mesmo na falha
	_, err = f.svc.Execute(ctx, executeFor(p))
	assert.Equal(t, apperr.InvalidNonce, apperr.CodeOf(err))
}

func TestExecute_ExpiredByDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Prepare(ctx, betRequest())
	require.NoError(t, err)

	// o registro ainda existe no store, mas o prazo absoluto passou
	f.clock = f.clock.Add(time.Minute)
	_, err = f.svc.Execute(ctx, executeFor(p))
	assert.Equal(t, apperr.NonceExpired, apperr.CodeOf(err))
	assert.Zero(t, f.gw.Submits)
}

func TestExecute_ReapedNonceIsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Prepare(ctx, betRequest())
	require.NoError(t, err)

	f.mr.FastForward(61 * time.Second)
	_, err = f.svc.Execute(ctx, executeFor(p))
	assert.Equal(t, apperr.InvalidNonce, apperr.CodeOf(err))
}

func TestExecute_CorrelationMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Prepare(ctx, betRequest())
	require.NoError(t, err)
	req := executeFor(p)
	req.BetID = "bet-2"
	_, err = f.svc.Execute(ctx, req)
	assert.Equal(t, apperr.BetMismatch, apperr.CodeOf(err))

	p, err = f.svc.Prepare(ctx, betRequest())
	require.NoError(t, err)
	req = executeFor(p)
	req.UserID = "user-2"
	_, err = f.svc.Execute(ctx, req)
	assert.Equal(t, apperr.UserMismatch, apperr.CodeOf(err))

	assert.Zero(t, f.gw.Submits)
}

func TestExecute_SubmitIsNotRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Prepare(ctx, betRequest())
	require.NoError(t, err)

	f.gw.SubmitErrs = []error{errors.New("429 Too Many Requests")}
	_, err = f.svc.Execute(ctx, executeFor(p))
	assert.Equal(t, apperr.ExecuteFailed, apperr.CodeOf(err))
	assert.Equal(t, apperr.CategoryRateLimit, apperr.CategoryOf(err))
	assert.Equal(t, 1, f.gw.Submits)
}

func TestExecute_MissingDigest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Prepare(ctx, betRequest())
	require.NoError(t, err)

	f.gw.SubmitNoHash = true
	_, err = f.svc.Execute(ctx, executeFor(p))
	assert.Equal(t, apperr.ExecuteFailed, apperr.CodeOf(err))
}

func TestExecute_NotConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Prepare(ctx, betRequest())
	require.NoError(t, err)

	f.gw.NotFoundPolls = 3
	ex, err := f.svc.Execute(ctx, executeFor(p))
	assert.Equal(t, apperr.TxNotFound, apperr.CodeOf(err))
	require.NotNil(t, ex)
	assert.NotEmpty(t, ex.Digest)
	assert.Nil(t, ex.Record)
	assert.Equal(t, 3, f.gw.Fetches)
}

func TestExecute_MalformedRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Execute(context.Background(), ExecuteRequest{TxBytes: "%%%", UserSignature: "s", Nonce: "n"})
	assert.Equal(t, apperr.InvalidInput, apperr.CodeOf(err))
}
