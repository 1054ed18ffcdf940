package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/chain/txbuilder"
	"github.com/radieske/pricebet-settlement/internal/payout"
	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/round/roundtest"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
	"github.com/radieske/pricebet-settlement/internal/sponsor"
)

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type fakeSponsor struct {
	prepared   []sponsor.PrepareRequest
	executed   []sponsor.ExecuteRequest
	prepareErr error
	execResult *sponsor.Executed
	execErr    error
}

func (f *fakeSponsor) Prepare(_ context.Context, req sponsor.PrepareRequest) (*sponsor.Prepared, error) {
	f.prepared = append(f.prepared, req)
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return &sponsor.Prepared{TxBytes: "dHg=", Nonce: "nonce-1", ExpiresAt: 1234}, nil
}

func (f *fakeSponsor) Execute(_ context.Context, req sponsor.ExecuteRequest) (*sponsor.Executed, error) {
	f.executed = append(f.executed, req)
	if f.execResult != nil || f.execErr != nil {
		return f.execResult, f.execErr
	}
	return &sponsor.Executed{Digest: "dig-ok"}, nil
}

type bets struct {
	*roundtest.Repo
	confirmErr error
}

func (b *bets) ConfirmBetExecuted(ctx context.Context, betID, digest string) (*round.Bet, error) {
	if b.confirmErr != nil {
		return nil, b.confirmErr
	}
	return b.Repo.ConfirmBetExecuted(ctx, betID, digest)
}

type captureEvents struct {
	executed []string
	dlq      []string
}

func (c *captureEvents) PublishBetExecuted(_ context.Context, b *round.Bet, digest string) error {
	c.executed = append(c.executed, b.ID+":"+digest)
	return nil
}

func (c *captureEvents) PublishBetExecutedDLQ(_ context.Context, b *round.Bet, digest, _ string) error {
	c.dlq = append(c.dlq, b.ID+":"+digest)
	return nil
}

type lifecycleCall struct {
	op    string
	id    string
	start round.PriceSnapshot
	end   round.EndSnapshot
}

type fakeLifecycle struct {
	calls []lifecycleCall
	err   error
}

func (f *fakeLifecycle) Schedule(_ context.Context, req round.ScheduleRequest) (*round.Round, error) {
	f.calls = append(f.calls, lifecycleCall{op: "schedule"})
	if f.err != nil {
		return nil, f.err
	}
	return &round.Round{ID: "new", RoundNumber: req.RoundNumber, Type: req.Type, Status: round.Scheduled}, nil
}

func (f *fakeLifecycle) Open(_ context.Context, id string, start round.PriceSnapshot) (*round.Round, error) {
	f.calls = append(f.calls, lifecycleCall{op: "open", id: id, start: start})
	return &round.Round{ID: id, Status: round.BettingOpen}, f.err
}

func (f *fakeLifecycle) Lock(_ context.Context, id string) (*round.Round, error) {
	f.calls = append(f.calls, lifecycleCall{op: "lock", id: id})
	return &round.Round{ID: id, Status: round.BettingLocked}, f.err
}

func (f *fakeLifecycle) Finalize(_ context.Context, id string, end round.EndSnapshot) (*round.Round, error) {
	f.calls = append(f.calls, lifecycleCall{op: "finalize", id: id, end: end})
	return &round.Round{ID: id, Status: round.Settled}, f.err
}

func (f *fakeLifecycle) Cancel(_ context.Context, id, reason string) (*round.Round, error) {
	f.calls = append(f.calls, lifecycleCall{op: "cancel:" + reason, id: id})
	return &round.Round{ID: id, Status: round.Cancelled}, f.err
}

type fixedPrices struct{}

func (fixedPrices) Start(context.Context) (round.PriceSnapshot, error) {
	return round.PriceSnapshot{Gold: 2000, Btc: 60000}, nil
}

func (fixedPrices) End(context.Context) (round.EndSnapshot, error) {
	return round.EndSnapshot{GoldEnd: 2010, BtcEnd: 61000, GoldAvgVol: 0.01, BtcAvgVol: 0.02}, nil
}

type fakeRewards struct{ amounts []decimal.Decimal }

func (f *fakeRewards) MintReward(_ context.Context, _ string, amount decimal.Decimal) (string, error) {
	f.amounts = append(f.amounts, amount)
	return "mint-digest", nil
}

type env struct {
	repo      *roundtest.Repo
	bets      *bets
	sponsor   *fakeSponsor
	events    *captureEvents
	lifecycle *fakeLifecycle
	rewards   *fakeRewards
	h         http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		repo:      roundtest.New(),
		sponsor:   &fakeSponsor{},
		events:    &captureEvents{},
		lifecycle: &fakeLifecycle{},
		rewards:   &fakeRewards{},
	}
	e.bets = &bets{Repo: e.repo}
	e.repo.Put(&round.Round{ID: "open", Status: round.BettingOpen, PoolID: "0xpool", StartTime: t0, LockTime: t0.Add(time.Hour), EndTime: t0.Add(6 * time.Hour)})
	e.repo.Put(&round.Round{ID: "locked", Status: round.BettingLocked, PoolID: "0xpool2"})
	e.repo.Put(&round.Round{ID: "settled", Status: round.Settled, PoolID: "0xpool3", SettlementID: "0xsettle", Winner: payout.Gold})

	e.h = NewServer(zap.NewNop(), Deps{
		Sponsor:    e.sponsor,
		Bets:       e.bets,
		Rounds:     e.repo,
		Lifecycle:  e.lifecycle,
		Prices:     fixedPrices{},
		Rewards:    e.rewards,
		Events:     e.events,
		AdminToken: "secret",
	}).Router()
	return e
}

func (e *env) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (e *env) pendingBet(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/bets", PlaceBetRequest{
		RoundID: "open", UserID: "u1", UserAddress: "0xabc", Prediction: "BTC", Amount: 500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[PreparedResponse](t, rec).BetID
}

func TestPlaceBet(t *testing.T) {
	e := newEnv(t)
	id := e.pendingBet(t)

	require.Len(t, e.sponsor.prepared, 1)
	p := e.sponsor.prepared[0]
	assert.Equal(t, sponsor.IntentPlaceBet, p.Intent)
	assert.Equal(t, "0xpool", p.PoolID)
	assert.Equal(t, txbuilder.PredictBTC, p.Prediction)
	assert.Equal(t, uint64(500), p.Amount)
	assert.Equal(t, id, p.BetID)

	rec := e.do(t, http.MethodGet, "/v1/bets/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	b := decodeBody[BetResponse](t, rec)
	assert.Equal(t, "PENDING", b.ChainStatus)
	assert.Equal(t, "BTC", b.Prediction)
}

func TestPlaceBet_Rejections(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/bets", PlaceBetRequest{RoundID: "locked", UserID: "u1", UserAddress: "0xabc", Prediction: "GOLD", Amount: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BET_INVALID", decodeBody[ErrorResponse](t, rec).Code)

	rec = e.do(t, http.MethodPost, "/v1/bets", PlaceBetRequest{RoundID: "open", UserID: "u1", UserAddress: "0xabc", Prediction: "ETH", Amount: 1})
	assert.Equal(t, "INVALID_INPUT", decodeBody[ErrorResponse](t, rec).Code)

	rec = e.do(t, http.MethodPost, "/v1/bets", PlaceBetRequest{RoundID: "nope", UserID: "u1", UserAddress: "0xabc", Prediction: "GOLD", Amount: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e.sponsor.prepareErr = apperr.New(apperr.NoGasCoins, "sponsor has no gas")
	rec = e.do(t, http.MethodPost, "/v1/bets", PlaceBetRequest{RoundID: "open", UserID: "u1", UserAddress: "0xabc", Prediction: "GOLD", Amount: 1})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NO_GAS_COINS", decodeBody[ErrorResponse](t, rec).Code)
}

func TestExecuteBet_RecordsAndPublishes(t *testing.T) {
	e := newEnv(t)
	id := e.pendingBet(t)

	rec := e.do(t, http.MethodPost, "/v1/bets/"+id+"/execute", sponsor.ExecuteRequest{
		TxBytes: "dHg=", UserSignature: "sig", Nonce: "nonce-1", UserID: "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[ExecutedResponse](t, rec)
	assert.Equal(t, "dig-ok", out.Digest)
	assert.Equal(t, "EXECUTED", out.ChainStatus)

	assert.Equal(t, id, e.sponsor.executed[0].BetID)
	rd := e.repo.Round("open")
	assert.Equal(t, int64(500), rd.TotalBtcBets)
	assert.Equal(t, []string{id + ":dig-ok"}, e.events.executed)
	assert.Empty(t, e.events.dlq)
}

func TestExecuteBet_ProtocolViolation(t *testing.T) {
	e := newEnv(t)
	id := e.pendingBet(t)
	e.sponsor.execErr = apperr.New(apperr.InvalidNonce, "nonce is unknown, used or expired")

	rec := e.do(t, http.MethodPost, "/v1/bets/"+id+"/execute", sponsor.ExecuteRequest{TxBytes: "dHg=", UserSignature: "sig", Nonce: "x", UserID: "u1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_NONCE", decodeBody[ErrorResponse](t, rec).Code)
	assert.Empty(t, e.events.dlq)
	assert.Equal(t, int64(0), e.repo.Round("open").TotalPool)
}

func TestExecuteBet_RateLimited(t *testing.T) {
	e := newEnv(t)
	id := e.pendingBet(t)
	e.sponsor.execErr = apperr.New(apperr.ExecuteFailed, "submit").WithCategory(apperr.CategoryRateLimit)

	rec := e.do(t, http.MethodPost, "/v1/bets/"+id+"/execute", sponsor.ExecuteRequest{TxBytes: "dHg=", UserSignature: "sig", Nonce: "n", UserID: "u1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limit", decodeBody[ErrorResponse](t, rec).Category)
}

func TestExecuteBet_UnconfirmedGoesToDLQ(t *testing.T) {
	e := newEnv(t)
	id := e.pendingBet(t)
	e.sponsor.execResult = &sponsor.Executed{Digest: "dig-late"}
	e.sponsor.execErr = apperr.New(apperr.TxNotFound, "not confirmed")

	rec := e.do(t, http.MethodPost, "/v1/bets/"+id+"/execute", sponsor.ExecuteRequest{TxBytes: "dHg=", UserSignature: "sig", Nonce: "n", UserID: "u1"})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "SUI_TX_NOT_FOUND", body.Code)
	assert.Equal(t, "dig-late", body.Digest)
	assert.Equal(t, []string{id + ":dig-late"}, e.events.dlq)

	b, err := e.repo.FindBet(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "dig-late", b.SuiTxHash)
	assert.Equal(t, round.ChainPending, b.ChainStatus)
}

func TestExecuteBet_RecordFailureGoesToDLQ(t *testing.T) {
	e := newEnv(t)
	id := e.pendingBet(t)
	e.bets.confirmErr = errors.New("connection reset")

	rec := e.do(t, http.MethodPost, "/v1/bets/"+id+"/execute", sponsor.ExecuteRequest{TxBytes: "dHg=", UserSignature: "sig", Nonce: "n", UserID: "u1"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "RECONCILING", decodeBody[ExecutedResponse](t, rec).ChainStatus)
	assert.Equal(t, []string{id + ":dig-ok"}, e.events.dlq)
	assert.Empty(t, e.events.executed)

	b, err := e.repo.FindBet(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "dig-ok", b.SuiTxHash)
}

func TestExecuteBet_RoundClosedBeforeConfirmation(t *testing.T) {
	e := newEnv(t)
	id := e.pendingBet(t)
	e.repo.Put(&round.Round{ID: "open", Status: round.Calculating, PoolID: "0xpool", TotalPool: 1000, TotalGoldBets: 1000})

	rec := e.do(t, http.MethodPost, "/v1/bets/"+id+"/execute", sponsor.ExecuteRequest{TxBytes: "dHg=", UserSignature: "sig", Nonce: "n", UserID: "u1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "BET_ROUND_CLOSED", body.Code)
	assert.Equal(t, "dig-ok", body.Digest)

	assert.Equal(t, []string{id + ":dig-ok"}, e.events.dlq)
	assert.Empty(t, e.events.executed)
	rd := e.repo.Round("open")
	assert.Equal(t, int64(1000), rd.TotalPool)
	assert.Zero(t, rd.TotalBtcBets)
}

func TestExecuteBet_UnknownBet(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/bets/ghost/execute", sponsor.ExecuteRequest{Nonce: "n"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, e.sponsor.executed)
}

func TestClaim(t *testing.T) {
	e := newEnv(t)
	e.repo.PutBet(&round.Bet{ID: "won", RoundID: "settled", UserID: "u1", Prediction: payout.Gold, Amount: 10,
		ChainStatus: round.ChainExecuted, ResultStatus: round.ResultWon, PayoutAmount: 19})
	e.repo.PutBet(&round.Bet{ID: "lost", RoundID: "settled", UserID: "u1", Prediction: payout.BTC, Amount: 10,
		ChainStatus: round.ChainExecuted, ResultStatus: round.ResultLost})

	rec := e.do(t, http.MethodPost, "/v1/claims/prepare", ClaimPrepareRequest{RoundID: "settled", BetID: "won", UserID: "u1", UserAddress: "0xabc"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := e.sponsor.prepared[0]
	assert.Equal(t, sponsor.IntentClaim, p.Intent)
	assert.Equal(t, "0xsettle", p.SettlementID)
	assert.Equal(t, "0xpool3", p.PoolID)

	rec = e.do(t, http.MethodPost, "/v1/claims/prepare", ClaimPrepareRequest{RoundID: "settled", BetID: "lost", UserID: "u1", UserAddress: "0xabc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/claims/prepare", ClaimPrepareRequest{RoundID: "settled", BetID: "won", UserID: "u2", UserAddress: "0xabc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/claims/prepare", ClaimPrepareRequest{RoundID: "open", BetID: "won", UserID: "u1", UserAddress: "0xabc"})
	assert.Equal(t, "BET_INVALID", decodeBody[ErrorResponse](t, rec).Code)

	rec = e.do(t, http.MethodPost, "/v1/claims/execute", sponsor.ExecuteRequest{TxBytes: "dHg=", UserSignature: "sig", Nonce: "nonce-1", BetID: "won", UserID: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dig-ok", decodeBody[ExecutedResponse](t, rec).Digest)
}

func TestRounds(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/v1/rounds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]RoundResponse](t, rec), 2)

	rec = e.do(t, http.MethodGet, "/v1/rounds/settled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GOLD", decodeBody[RoundResponse](t, rec).Winner)
}

func TestAdmin_RequiresToken(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/admin/rounds/open/lock", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, e.lifecycle.calls)

	rec = e.do(t, http.MethodPost, "/v1/admin/rounds/open/lock", nil, "X-Admin-Token", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmin_RoundLifecycle(t *testing.T) {
	e := newEnv(t)
	auth := []string{"X-Admin-Token", "secret"}

	rec := e.do(t, http.MethodPost, "/v1/admin/rounds", ScheduleRoundRequest{
		RoundNumber: 9, Type: "6HOUR", StartTime: t0, LockTime: t0.Add(time.Hour), EndTime: t0.Add(6 * time.Hour),
	}, auth...)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/admin/rounds/r9/open", nil, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	gold := 1999.5
	rec = e.do(t, http.MethodPost, "/v1/admin/rounds/r9/open", OpenRoundRequest{GoldPrice: &gold, BtcPrice: &gold}, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodPost, "/v1/admin/rounds/r9/open", OpenRoundRequest{GoldPrice: &gold}, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/admin/rounds/r9/finalize", FinalizeRoundRequest{GoldEnd: &gold}, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPost, "/v1/admin/rounds/r9/finalize", nil, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SETTLED", decodeBody[RoundResponse](t, rec).Status)

	rec = e.do(t, http.MethodPost, "/v1/admin/rounds/r9/cancel", nil, auth...)
	require.Equal(t, http.StatusOK, rec.Code)

	calls := e.lifecycle.calls
	require.Len(t, calls, 5)
	assert.Equal(t, round.PriceSnapshot{Gold: 2000, Btc: 60000}, calls[1].start)
	assert.Equal(t, round.PriceSnapshot{Gold: gold, Btc: gold}, calls[2].start)
	assert.Equal(t, 2010.0, calls[3].end.GoldEnd)
	assert.Equal(t, "cancel:admin", calls[4].op)

	e.lifecycle.err = apperr.New(apperr.RoundNotDue, "not yet")
	rec = e.do(t, http.MethodPost, "/v1/admin/rounds/r9/lock", nil, auth...)
	assert.Equal(t, http.StatusTooEarly, rec.Code)
}

func TestAdmin_MintReward(t *testing.T) {
	e := newEnv(t)
	auth := []string{"X-Admin-Token", "secret"}

	rec := e.do(t, http.MethodPost, "/v1/admin/rewards", MintRewardRequest{Recipient: "0xabc", Amount: "1.5"}, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mint-digest", decodeBody[ExecutedResponse](t, rec).Digest)
	assert.True(t, decimal.RequireFromString("1.5").Equal(e.rewards.amounts[0]))

	rec = e.do(t, http.MethodPost, "/v1/admin/rewards", MintRewardRequest{Recipient: "0xabc", Amount: "abc"}, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.TxMismatch, ""), http.StatusConflict},
		{apperr.New(apperr.RoundTimeOverlap, ""), http.StatusConflict},
		{apperr.New(apperr.BetRoundClosed, ""), http.StatusConflict},
		{apperr.New(apperr.DryRunFailed, ""), http.StatusUnprocessableEntity},
		{apperr.New(apperr.EnvMissing, ""), http.StatusServiceUnavailable},
		{apperr.New(apperr.ExecuteFailed, "").WithCategory(apperr.CategoryTimeout), http.StatusGatewayTimeout},
		{apperr.New(apperr.ExecuteFailed, "").WithCategory(apperr.CategoryRPC), http.StatusBadGateway},
		{apperr.New(apperr.ParseFailed, ""), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, StatusOf(c.err), c.err.Error())
	}
	assert.Equal(t, "INTERNAL", errorBody(errors.New("pq: secret detail")).Code)
}
