// Package admin executa as operações privilegiadas do pool de previsão com
// a identidade do sponsor. Cada operação consulta a rodada antes de submeter
// e grava o resultado logo após a confirmação.
package admin

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/chain"
	"github.com/radieske/pricebet-settlement/internal/chain/recovery"
	"github.com/radieske/pricebet-settlement/internal/chain/txbuilder"
	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
	"github.com/radieske/pricebet-settlement/internal/shared/logger"
	"github.com/radieske/pricebet-settlement/internal/shared/metrics"
)

const (
	opCreatePool = "create_pool"
	opLockPool   = "lock_pool"
	opFinalize   = "finalize_round"
	opMint       = "mint_reward"
)

type Config struct {
	FeeCollector   string // vazio => endereço do sponsor
	GasBudget      uint64
	MinGasBalance  uint64
	RewardDecimals int32
}

type Operations struct {
	gw        chain.Gateway
	signer    chain.Signer
	builder   *txbuilder.Builder
	recorder  round.Recorder
	cfg       Config
	retrier   recovery.Retrier
	confirmer recovery.Confirmer
	metrics   *metrics.Settlement
	log       *zap.Logger
}

var _ round.ChainOps = (*Operations)(nil)

func New(gw chain.Gateway, signer chain.Signer, builder *txbuilder.Builder, recorder round.Recorder, cfg Config, m *metrics.Settlement, log *zap.Logger) *Operations {
	o := &Operations{
		gw:        gw,
		signer:    signer,
		builder:   builder,
		recorder:  recorder,
		cfg:       cfg,
		retrier:   recovery.DefaultRetrier(),
		confirmer: recovery.DefaultConfirmer(),
		metrics:   m,
		log:       logger.OrNop(log).Named("admin"),
	}
	o.confirmer.OnPoll = m.ConfirmPoll
	return o
}

// WithRecovery troca as políticas de retry e confirmação.
func (o *Operations) WithRecovery(r recovery.Retrier, c recovery.Confirmer) *Operations {
	if c.OnPoll == nil {
		c.OnPoll = o.metrics.ConfirmPoll
	}
	o.retrier, o.confirmer = r, c
	return o
}

func (o *Operations) sender() (string, error) {
	if o.signer == nil {
		return "", apperr.New(apperr.EnvMissing, "sponsor signing key is not configured")
	}
	return o.signer.Address(), nil
}

// CreatePool cria o pool da rodada, salvo se já houver um gravado.
func (o *Operations) CreatePool(ctx context.Context, r *round.Round) (string, error) {
	if r.PoolID != "" {
		return r.PoolID, nil
	}
	sender, err := o.sender()
	if err != nil {
		return "", err
	}
	plan, err := o.builder.CreatePool(txbuilder.CreatePoolParams{
		Sender:      sender,
		RoundNumber: uint64(r.RoundNumber),
		LockTimeMs:  uint64(r.LockTime.UnixMilli()),
		EndTimeMs:   uint64(r.EndTime.UnixMilli()),
	})
	if err != nil {
		return "", err
	}
	rec, err := o.execute(ctx, opCreatePool, r.ID, plan)
	if err != nil {
		return "", err
	}
	poolID, err := ParsePoolID(rec)
	if err != nil {
		return "", err
	}
	if err := o.recorder.RecordPool(ctx, r.ID, poolID, rec.Digest); err != nil {
		o.log.Error("pool created but not recorded",
			zap.String("round_id", r.ID), zap.String("pool_id", poolID), zap.String("digest", rec.Digest), zap.Error(err))
		return "", err
	}
	r.PoolID, r.CreatePoolDigest = poolID, rec.Digest
	return poolID, nil
}

// LockPool trava o pool, salvo se o digest de lock já estiver gravado.
func (o *Operations) LockPool(ctx context.Context, r *round.Round) (string, error) {
	if r.LockDigest != "" {
		return r.LockDigest, nil
	}
	sender, err := o.sender()
	if err != nil {
		return "", err
	}
	plan, err := o.builder.LockPool(sender, r.PoolID)
	if err != nil {
		return "", err
	}
	rec, err := o.execute(ctx, opLockPool, r.ID, plan)
	if err != nil {
		return "", err
	}
	if err := o.recorder.RecordLock(ctx, r.ID, rec.Digest); err != nil {
		o.log.Error("pool locked but not recorded",
			zap.String("round_id", r.ID), zap.String("digest", rec.Digest), zap.Error(err))
		return "", err
	}
	r.LockDigest = rec.Digest
	return rec.Digest, nil
}

// FinalizeRound registra o settlement on-chain e envia a moeda de taxa ao
// coletor na mesma transação. Valores são escalados e validados antes de
// qualquer submissão.
func (o *Operations) FinalizeRound(ctx context.Context, r *round.Round, end round.EndSnapshot) (*round.SettlementRecord, error) {
	if r.SettlementID != "" {
		return &round.SettlementRecord{SettlementID: r.SettlementID, FeeCoinID: r.FeeCoinID, Digest: r.FinalizeDigest, End: end}, nil
	}
	sender, err := o.sender()
	if err != nil {
		return nil, err
	}
	start, ok := r.StartPrices()
	if !ok {
		return nil, apperr.New(apperr.RoundDataMissing, "round %s has no start prices", r.ID)
	}

	var p txbuilder.FinalizeParams
	fields := []struct {
		dst   *uint64
		v     float64
		scale func(float64) (uint64, error)
	}{
		{&p.GoldStart, start.Gold, ScalePrice},
		{&p.GoldEnd, end.GoldEnd, ScalePrice},
		{&p.BtcStart, start.Btc, ScalePrice},
		{&p.BtcEnd, end.BtcEnd, ScalePrice},
		{&p.GoldAvgVol, end.GoldAvgVol, ScaleVolatility},
		{&p.BtcAvgVol, end.BtcAvgVol, ScaleVolatility},
	}
	for _, f := range fields {
		v, err := f.scale(f.v)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	p.Sender = sender
	p.PoolID = r.PoolID
	p.IsFallback = end.Fallback
	p.Collector = o.cfg.FeeCollector
	if p.Collector == "" {
		p.Collector = sender
	}

	plan, err := o.builder.FinalizeRound(p)
	if err != nil {
		return nil, err
	}
	rec, err := o.execute(ctx, opFinalize, r.ID, plan)
	if err != nil {
		return nil, err
	}
	settlementID, feeCoinID, err := ParseSettlement(rec)
	if err != nil {
		return nil, err
	}
	out := &round.SettlementRecord{SettlementID: settlementID, FeeCoinID: feeCoinID, Digest: rec.Digest, End: end}
	if err := o.recorder.RecordSettlement(ctx, r.ID, *out); err != nil {
		o.log.Error("round finalized but not recorded",
			zap.String("round_id", r.ID), zap.String("settlement_id", settlementID), zap.String("digest", rec.Digest), zap.Error(err))
		return nil, err
	}
	r.SettlementID, r.FeeCoinID, r.FinalizeDigest = settlementID, feeCoinID, rec.Digest
	return out, nil
}

// MintReward emite tokens de recompensa; fora do caminho crítico das rodadas.
func (o *Operations) MintReward(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
	sender, err := o.sender()
	if err != nil {
		return "", err
	}
	base, err := ScaleAmount(amount, o.cfg.RewardDecimals)
	if err != nil {
		return "", err
	}
	plan, err := o.builder.MintReward(txbuilder.MintParams{Sender: sender, Recipient: recipient, Amount: base})
	if err != nil {
		return "", err
	}
	rec, err := o.execute(ctx, opMint, recipient, plan)
	if err != nil {
		return "", err
	}
	return rec.Digest, nil
}

// execute é o caminho comum: build, dry run, assinatura, submit com retry
// nas falhas passageiras e confirmação.
func (o *Operations) execute(ctx context.Context, op, ref string, plan chain.Plan) (*chain.TxRecord, error) {
	log := o.log.With(zap.String("op", op), zap.String("ref", ref))
	sender := o.signer.Address()

	gas, err := chain.SelectGas(ctx, o.gw, sender, o.cfg.GasBudget, o.cfg.MinGasBalance)
	if err != nil {
		return nil, err
	}
	txBytes, err := o.gw.Build(ctx, plan, gas)
	if err != nil {
		return nil, recovery.RPCError(err, "%s: build transaction", op)
	}
	sim, err := o.gw.Simulate(ctx, txBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.DryRunFailed, err, "%s: dry run", op)
	}
	if !sim.Success {
		o.metrics.Submission(op, "dry_run_failed")
		return nil, apperr.New(apperr.DryRunFailed, "%s: dry run failed: %s", op, sim.Error)
	}
	sig, err := o.signer.SignTransaction(txBytes)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExecuteFailed, err, "%s: sign", op)
	}

	retrier := o.retrier
	retrier.OnRetry = func(attempt int, err error) {
		cat := string(apperr.CategoryOf(err))
		o.metrics.Retry(op, cat)
		log.Warn("retrying submission", zap.Int("attempt", attempt), zap.String("category", cat), zap.Error(err))
	}
	var digest string
	attempt := 0
	err = retrier.Do(ctx, func(ctx context.Context) error {
		attempt++
		res, err := o.gw.Submit(ctx, txBytes, []string{sig})
		if err != nil {
			return recovery.SubmitError(err)
		}
		if res == nil || res.Digest == "" {
			return apperr.New(apperr.ExecuteFailed, "%s: submit returned no transaction digest", op)
		}
		digest = res.Digest
		return nil
	})
	if err != nil {
		o.metrics.Submission(op, "error")
		log.Error("submission failed", zap.Int("attempts", attempt), zap.Error(err))
		return nil, err
	}
	log.Info("transaction submitted", zap.String("digest", digest), zap.Int("attempt", attempt))

	started := time.Now()
	rec, err := o.confirmer.EnsureOnChain(ctx, o.gw, digest)
	o.metrics.ConfirmDuration(time.Since(started))
	if err != nil {
		o.metrics.Submission(op, "unconfirmed")
		log.Error("transaction not confirmed", zap.String("digest", digest), zap.Error(err))
		return nil, err
	}
	o.metrics.Submission(op, "ok")
	return rec, nil
}
