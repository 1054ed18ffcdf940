package round

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
	"github.com/radieske/pricebet-settlement/internal/shared/logger"
	"github.com/radieske/pricebet-settlement/internal/shared/metrics"
)

// Machine conduz as rodadas pela tabela de transições. Toda chamada on-chain
// é persistida antes da mudança de status que depende dela, e toda entrada é
// segura para ser chamada de novo após uma queda.
type Machine struct {
	repo     Repository
	chain    ChainOps
	table    *Table
	notifier Notifier
	metrics  *metrics.Settlement
	log      *zap.Logger
	feeRate  float64
	nonceTTL time.Duration
	grace    time.Duration

	// Now é trocado nos testes
	Now func() time.Time
}

type MachineConfig struct {
	PlatformFeeRate float64
	// NonceTTL segura a liquidação enquanto uma aposta PENDING ainda pode
	// ser executada; ReconcileGrace, depois do fim da rodada, enquanto uma
	// aposta PENDING com digest aguarda a DLQ. Zero desliga cada espera.
	NonceTTL       time.Duration
	ReconcileGrace time.Duration
}

func NewMachine(repo Repository, chain ChainOps, notifier Notifier, cfg MachineConfig, m *metrics.Settlement, log *zap.Logger) *Machine {
	return &Machine{
		repo:     repo,
		chain:    chain,
		table:    MustDefaultTable(),
		notifier: notifier,
		metrics:  m,
		log:      logger.OrNop(log).Named("round"),
		feeRate:  cfg.PlatformFeeRate,
		nonceTTL: cfg.NonceTTL,
		grace:    cfg.ReconcileGrace,
		Now:      time.Now,
	}
}

// ScheduleRequest descreve uma nova rodada.
type ScheduleRequest struct {
	RoundNumber int64
	Type        string
	StartTime   time.Time
	LockTime    time.Time
	EndTime     time.Time
}

// Schedule cria a rodada em SCHEDULED. Nenhuma chamada on-chain acontece
// aqui; conflito de janela é rejeitado pelo repositório.
func (m *Machine) Schedule(ctx context.Context, req ScheduleRequest) (*Round, error) {
	if req.RoundNumber <= 0 || req.Type == "" {
		return nil, apperr.New(apperr.RoundDataInvalid, "round number and type are required")
	}
	if !req.StartTime.Before(req.LockTime) || !req.LockTime.Before(req.EndTime) {
		return nil, apperr.New(apperr.RoundDataInvalid, "round times must satisfy start < lock < end")
	}
	r := &Round{
		RoundNumber: req.RoundNumber,
		Type:        req.Type,
		Status:      Scheduled,
		StartTime:   req.StartTime.UTC(),
		LockTime:    req.LockTime.UTC(),
		EndTime:     req.EndTime.UTC(),
	}
	if err := m.repo.CreateRound(ctx, r); err != nil {
		return nil, err
	}
	m.log.Info("round scheduled",
		zap.String("round_id", r.ID),
		zap.Int64("round_number", r.RoundNumber),
		zap.Time("start", r.StartTime),
		zap.Time("lock", r.LockTime),
		zap.Time("end", r.EndTime),
	)
	m.notify(ctx, r, "", Scheduled, "")
	return r, nil
}

// Open abre as apostas. Fora da janela [start, lock) a rodada nunca é
// aberta: passado o lock ela é cancelada.
func (m *Machine) Open(ctx context.Context, id string, start PriceSnapshot) (*Round, error) {
	r, err := m.repo.FindRound(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != Scheduled {
		// já aberta, adiante ou terminal
		return r, nil
	}

	now := m.Now()
	if now.Before(r.StartTime) {
		return nil, apperr.New(apperr.RoundNotDue, "round %s opens at %s", r.ID, r.StartTime.Format(time.RFC3339))
	}
	if !now.Before(r.LockTime) {
		m.log.Warn("round missed its opening window", zap.String("round_id", r.ID), zap.Time("lock", r.LockTime))
		if err := m.transition(ctx, r, EventCancel, Changes{Reason: "missed_open_window"}); err != nil {
			return nil, err
		}
		return r, nil
	}
	if !start.Valid() {
		return nil, apperr.New(apperr.RoundDataInvalid, "round %s: invalid start prices gold=%v btc=%v", r.ID, start.Gold, start.Btc)
	}

	if _, err := m.chain.CreatePool(ctx, r); err != nil {
		return nil, err
	}
	if err := m.transition(ctx, r, EventOpen, Changes{StartPrices: &start}); err != nil {
		return nil, err
	}
	return r, nil
}

// Lock fecha as apostas no pool on-chain e na rodada.
func (m *Machine) Lock(ctx context.Context, id string) (*Round, error) {
	r, err := m.repo.FindRound(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() || statusRank[r.Status] > statusRank[BettingOpen] {
		return r, nil
	}
	if !m.table.Allowed(r.Status, EventLock) {
		_, err := m.table.Next(r.Status, EventLock)
		return nil, err
	}

	now := m.Now()
	if now.Before(r.LockTime) {
		return nil, apperr.New(apperr.RoundNotDue, "round %s locks at %s", r.ID, r.LockTime.Format(time.RFC3339))
	}
	if r.PoolID == "" {
		return nil, apperr.New(apperr.RoundDataMissing, "round %s is open without a pool", r.ID)
	}

	if _, err := m.chain.LockPool(ctx, r); err != nil {
		return nil, err
	}
	lockedAt := now.UTC()
	if err := m.transition(ctx, r, EventLock, Changes{LockedAt: &lockedAt}); err != nil {
		return nil, err
	}
	return r, nil
}

// awaitPendingBets falha com ROUND_DATA_MISSING enquanto alguma aposta PENDING
// ainda pode virar EXECUTED: nonce preparado dentro do TTL ou digest na DLQ
// dentro da carência.
func (m *Machine) awaitPendingBets(ctx context.Context, r *Round) error {
	if m.nonceTTL <= 0 && m.grace <= 0 {
		return nil
	}
	bets, err := m.repo.ListBets(ctx, r.ID)
	if err != nil {
		return err
	}
	now := m.Now()
	waiting := 0
	for _, b := range bets {
		if b.ChainStatus != ChainPending {
			continue
		}
		switch {
		case b.SuiTxHash == "" && m.nonceTTL > 0 && now.Before(b.CreatedAt.Add(m.nonceTTL)):
			waiting++
		case b.SuiTxHash != "" && m.grace > 0 && now.Before(r.EndTime.Add(m.grace)):
			waiting++
		}
	}
	if waiting > 0 {
		return apperr.New(apperr.RoundDataMissing, "round %s has %d bets awaiting execution", r.ID, waiting)
	}
	return nil
}

// Finalize calcula o resultado, registra o settlement on-chain e leva a
// rodada a SETTLED ou VOIDED passando por CALCULATING. Uma rodada já em
// CALCULATING é retomada a partir do resultado gravado.
func (m *Machine) Finalize(ctx context.Context, id string, end EndSnapshot) (*Round, error) {
	r, err := m.repo.FindRound(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return r, nil
	}
	if r.Status == Calculating {
		return r, m.complete(ctx, r, OutcomeOf(r))
	}
	if !m.table.Allowed(r.Status, EventCalculate) {
		_, err := m.table.Next(r.Status, EventCalculate)
		return nil, err
	}

	if m.Now().Before(r.EndTime) {
		return nil, apperr.New(apperr.RoundNotDue, "round %s ends at %s", r.ID, r.EndTime.Format(time.RFC3339))
	}
	startPrices, ok := r.StartPrices()
	if !ok {
		return nil, apperr.New(apperr.RoundDataMissing, "round %s has no start prices", r.ID)
	}
	if r.PoolID == "" {
		return nil, apperr.New(apperr.RoundDataMissing, "round %s has no pool", r.ID)
	}
	if r.SettlementID == "" {
		if err := m.awaitPendingBets(ctx, r); err != nil {
			return nil, err
		}
	}

	// settlement já gravado: reusa o snapshot enviado ao contrato
	snapshot, recorded := r.RecordedEnd()
	if r.SettlementID == "" || !recorded {
		snapshot = ResolveEnd(startPrices, end)
	}
	if snapshot.Fallback {
		m.log.Warn("end price fallback",
			zap.String("round_id", r.ID),
			zap.String("reason", snapshot.FallbackReason),
		)
	}

	outcome, err := ComputeOutcome(r, snapshot, m.feeRate)
	if err != nil {
		return nil, err
	}

	if _, err := m.chain.FinalizeRound(ctx, r, snapshot); err != nil {
		return nil, err
	}
	if err := m.transition(ctx, r, EventCalculate, Changes{Outcome: &outcome}); err != nil {
		return nil, err
	}
	return r, m.complete(ctx, r, outcome)
}

// complete grava o status terminal e as anotações das apostas de uma vez.
func (m *Machine) complete(ctx context.Context, r *Round, o Outcome) error {
	ev := EventSettle
	if o.IsVoid {
		ev = EventVoid
	}
	to, err := m.table.Next(r.Status, ev)
	if err != nil {
		return err
	}
	bets, err := m.repo.ListBets(ctx, r.ID)
	if err != nil {
		return err
	}
	results := SettleBets(bets, o)
	now := m.Now().UTC()
	if err := m.repo.CompleteSettlement(ctx, r.ID, to, results, now); err != nil {
		if m.caughtUp(ctx, r, to) {
			return nil
		}
		return err
	}

	from := r.Status
	r.Status = to
	r.SettledAt = &now
	m.committed(ctx, r, from, to, o.VoidReason)
	m.log.Info("round settled",
		zap.String("round_id", r.ID),
		zap.String("status", string(to)),
		zap.String("winner", string(o.Winner)),
		zap.Int64("payout_pool", o.Payout.PayoutPool),
		zap.Int("bets", len(results)),
	)
	return nil
}

// Cancel cancela uma rodada que ainda não abriu.
func (m *Machine) Cancel(ctx context.Context, id, reason string) (*Round, error) {
	r, err := m.repo.FindRound(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return r, nil
	}
	if reason == "" {
		reason = "cancelled"
	}
	if err := m.transition(ctx, r, EventCancel, Changes{Reason: reason}); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *Machine) transition(ctx context.Context, r *Round, ev Event, ch Changes) error {
	to, err := m.table.Next(r.Status, ev)
	if err != nil {
		return err
	}
	if err := m.repo.Transition(ctx, r.ID, r.Status, to, ch); err != nil {
		if m.caughtUp(ctx, r, to) {
			return nil
		}
		return err
	}
	from := r.Status
	r.Status = to
	ch.Apply(r)
	m.committed(ctx, r, from, to, ch.Reason)
	return nil
}

// caughtUp trata o compare-and-set perdido para outra execução que já levou
// a rodada ao mesmo destino.
func (m *Machine) caughtUp(ctx context.Context, r *Round, to Status) bool {
	fresh, err := m.repo.FindRound(ctx, r.ID)
	if err != nil || fresh.Status != to {
		return false
	}
	*r = *fresh
	return true
}

func (m *Machine) committed(ctx context.Context, r *Round, from, to Status, reason string) {
	m.metrics.Transition(string(from), string(to))
	m.log.Info("round transitioned",
		zap.String("round_id", r.ID),
		zap.Int64("round_number", r.RoundNumber),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)
	m.notify(ctx, r, from, to, reason)
}

func (m *Machine) notify(ctx context.Context, r *Round, from, to Status, reason string) {
	if m.notifier == nil {
		return
	}
	m.notifier.RoundTransitioned(ctx, r, from, to, reason)
}
