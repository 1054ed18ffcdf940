// Package repo implementa a persistência de rodadas e apostas em Postgres.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/radieske/pricebet-settlement/internal/payout"
	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// Postgres implementa round.Repository e round.BetRepository
type Postgres struct{ db *sql.DB }

// NewPostgres retorna o repositório sobre a conexão já aberta
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

var (
	_ round.Repository    = (*Postgres)(nil)
	_ round.BetRepository = (*Postgres)(nil)
)

const roundColumns = `id, round_number, type, status, start_time, lock_time, end_time,
	total_pool, total_gold_bets, total_btc_bets, total_bets_count,
	gold_start_price, btc_start_price, gold_end_price, btc_end_price, gold_avg_vol, btc_avg_vol,
	end_price_fallback, fallback_reason, winner, is_void, void_reason,
	payout_pool, payout_ratio, platform_fee_collected,
	pool_id, settlement_id, fee_coin_id, create_pool_digest, lock_digest, finalize_digest,
	locked_at, settled_at, created_at, updated_at`

const betColumns = `id, round_id, user_id, prediction, amount, chain_status, result_status,
	settlement_status, sui_tx_hash, payout_amount, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}

func scanRound(s scanner) (*round.Round, error) {
	var (
		r                                        round.Round
		status                                   string
		goldStart, btcStart, goldEnd, btcEnd     sql.NullFloat64
		goldVol, btcVol                          sql.NullFloat64
		fallbackReason, winner, voidReason       sql.NullString
		poolID, settlementID, feeCoinID          sql.NullString
		createDigest, lockDigest, finalizeDigest sql.NullString
		lockedAt, settledAt                      sql.NullTime
		ratio                                    decimal.Decimal
	)
	err := s.Scan(
		&r.ID, &r.RoundNumber, &r.Type, &status, &r.StartTime, &r.LockTime, &r.EndTime,
		&r.TotalPool, &r.TotalGoldBets, &r.TotalBtcBets, &r.TotalBetsCount,
		&goldStart, &btcStart, &goldEnd, &btcEnd, &goldVol, &btcVol,
		&r.EndPriceFallback, &fallbackReason, &winner, &r.IsVoid, &voidReason,
		&r.PayoutPool, &ratio, &r.PlatformFeeCollected,
		&poolID, &settlementID, &feeCoinID, &createDigest, &lockDigest, &finalizeDigest,
		&lockedAt, &settledAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = round.Status(status)
	r.GoldStartPrice, r.BtcStartPrice = floatPtr(goldStart), floatPtr(btcStart)
	r.GoldEndPrice, r.BtcEndPrice = floatPtr(goldEnd), floatPtr(btcEnd)
	r.GoldAvgVol, r.BtcAvgVol = floatPtr(goldVol), floatPtr(btcVol)
	r.FallbackReason = fallbackReason.String
	r.Winner = payout.Side(winner.String)
	r.VoidReason = voidReason.String
	r.PayoutRatio = ratio
	r.PoolID, r.SettlementID, r.FeeCoinID = poolID.String, settlementID.String, feeCoinID.String
	r.CreatePoolDigest, r.LockDigest, r.FinalizeDigest = createDigest.String, lockDigest.String, finalizeDigest.String
	r.LockedAt, r.SettledAt = timePtr(lockedAt), timePtr(settledAt)
	return &r, nil
}

func scanBet(s scanner) (*round.Bet, error) {
	var (
		b                                 round.Bet
		prediction, chainSt, resultSt, st string
		txHash                            sql.NullString
	)
	err := s.Scan(&b.ID, &b.RoundID, &b.UserID, &prediction, &b.Amount, &chainSt, &resultSt,
		&st, &txHash, &b.PayoutAmount, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Prediction = payout.Side(prediction)
	b.ChainStatus = round.ChainStatus(chainSt)
	b.ResultStatus = round.ResultStatus(resultSt)
	b.SettlementStatus = round.SettlementStatus(st)
	b.SuiTxHash = txHash.String
	return &b, nil
}

// FindRound busca a rodada pelo id
func (p *Postgres) FindRound(ctx context.Context, id string) (*round.Round, error) {
	r, err := scanRound(p.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.RoundNotFound, "round %s not found", id)
	}
	return r, err
}

// ListActiveRounds lista as rodadas não terminais, da mais antiga para a mais nova
func (p *Postgres) ListActiveRounds(ctx context.Context) ([]*round.Round, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+roundColumns+` FROM rounds
		WHERE status NOT IN ('SETTLED','VOIDED','CANCELLED')
		ORDER BY start_time, round_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*round.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRound devolve a rodada de maior número do tipo, ou nil
func (p *Postgres) LatestRound(ctx context.Context, typ string) (*round.Round, error) {
	r, err := scanRound(p.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds
		WHERE type=$1 ORDER BY round_number DESC LIMIT 1`, typ))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// CreateRound insere a rodada em SCHEDULED. O advisory lock por tipo
// serializa criações concorrentes durante a checagem de sobreposição.
func (p *Postgres) CreateRound(ctx context.Context, r *round.Round) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "rounds:"+r.Type); err != nil {
		return err
	}

	var clash string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM rounds
		WHERE type=$1
		  AND (round_number=$2 OR (status<>'CANCELLED' AND start_time < $4 AND end_time > $3))
		LIMIT 1`,
		r.Type, r.RoundNumber, r.StartTime, r.EndTime,
	).Scan(&clash)
	if err == nil {
		return apperr.New(apperr.RoundTimeOverlap, "round %d overlaps round %s", r.RoundNumber, clash)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Status = round.Scheduled
	if err = tx.QueryRowContext(ctx, `
		INSERT INTO rounds (id, round_number, type, status, start_time, lock_time, end_time)
		VALUES ($1,$2,$3,'SCHEDULED',$4,$5,$6)
		RETURNING created_at, updated_at`,
		r.ID, r.RoundNumber, r.Type, r.StartTime, r.LockTime, r.EndTime,
	).Scan(&r.CreatedAt, &r.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// writeOnce executa um UPDATE guardado por "coluna IS NULL". Nenhuma linha
// afetada com a rodada existente significa valor já gravado: no-op.
func (p *Postgres) writeOnce(ctx context.Context, id, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rounds WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return apperr.New(apperr.RoundNotFound, "round %s not found", id)
	}
	return nil
}

// RecordPool grava o pool criado on-chain (uma única vez)
func (p *Postgres) RecordPool(ctx context.Context, id, poolID, digest string) error {
	return p.writeOnce(ctx, id, `
		UPDATE rounds SET pool_id=$2, create_pool_digest=$3, updated_at=now()
		WHERE id=$1 AND pool_id IS NULL`, poolID, digest)
}

// RecordLock grava o digest do lock on-chain (uma única vez)
func (p *Postgres) RecordLock(ctx context.Context, id, digest string) error {
	return p.writeOnce(ctx, id, `
		UPDATE rounds SET lock_digest=$2, updated_at=now()
		WHERE id=$1 AND lock_digest IS NULL`, digest)
}

// RecordSettlement grava settlement, moeda de taxa e o snapshot final usado
func (p *Postgres) RecordSettlement(ctx context.Context, id string, rec round.SettlementRecord) error {
	e := rec.End
	return p.writeOnce(ctx, id, `
		UPDATE rounds SET settlement_id=$2, fee_coin_id=$3, finalize_digest=$4,
			gold_end_price=$5, btc_end_price=$6, gold_avg_vol=$7, btc_avg_vol=$8,
			end_price_fallback=$9, fallback_reason=NULLIF($10,''), updated_at=now()
		WHERE id=$1 AND settlement_id IS NULL`,
		rec.SettlementID, rec.FeeCoinID, rec.Digest,
		e.GoldEnd, e.BtcEnd, e.GoldAvgVol, e.BtcAvgVol, e.Fallback, e.FallbackReason)
}

// Transition troca o status com compare-and-set e grava os campos da mudança
func (p *Postgres) Transition(ctx context.Context, id string, from, to round.Status, ch round.Changes) error {
	var goldStart, btcStart, lockedAt, winner, isVoid, voidReason, payoutPool, ratio, fee any
	if ch.StartPrices != nil {
		goldStart, btcStart = ch.StartPrices.Gold, ch.StartPrices.Btc
	}
	if ch.LockedAt != nil {
		lockedAt = *ch.LockedAt
	}
	if o := ch.Outcome; o != nil {
		winner, isVoid, payoutPool, ratio, fee = string(o.Winner), o.IsVoid, o.Payout.PayoutPool, o.Payout.PayoutRatio, o.Payout.PlatformFee
		if o.VoidReason != "" {
			voidReason = o.VoidReason
		}
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE rounds SET status=$3,
			gold_start_price=COALESCE($4, gold_start_price),
			btc_start_price=COALESCE($5, btc_start_price),
			locked_at=COALESCE($6, locked_at),
			winner=COALESCE($7, winner),
			is_void=COALESCE($8, is_void),
			void_reason=COALESCE($9, void_reason),
			payout_pool=COALESCE($10, payout_pool),
			payout_ratio=COALESCE($11, payout_ratio),
			platform_fee_collected=COALESCE($12, platform_fee_collected),
			updated_at=now()
		WHERE id=$1 AND status=$2`,
		id, string(from), string(to), goldStart, btcStart, lockedAt, winner, isVoid, voidReason, payoutPool, ratio, fee)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.RoundInvalidTransition, "round %s is not %s", id, from)
	}
	return nil
}

// ListBets lista as apostas da rodada
func (p *Postgres) ListBets(ctx context.Context, roundID string) ([]round.Bet, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+betColumns+` FROM bets WHERE round_id=$1 ORDER BY created_at, id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []round.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// CompleteSettlement grava status terminal, resultado de cada aposta e os
// ganhos dos usuários numa única transação
func (p *Postgres) CompleteSettlement(ctx context.Context, id string, to round.Status, results []round.BetResult, at time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE rounds SET status=$2, settled_at=$3, updated_at=now()
		WHERE id=$1 AND status='CALCULATING'`, id, string(to), at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.RoundInvalidTransition, "round %s is not CALCULATING", id)
	}

	for _, r := range results {
		settlement := round.SettlementCompleted
		if r.Result == round.ResultFailed {
			settlement = round.SettlementFailed
		}
		if _, err = tx.ExecContext(ctx, `
			UPDATE bets SET result_status=$2, settlement_status=$3, payout_amount=$4, updated_at=now()
			WHERE id=$1`, r.BetID, string(r.Result), string(settlement), r.PayoutAmount); err != nil {
			return err
		}
		if r.Result == round.ResultWon && r.PayoutAmount > 0 {
			if _, err = tx.ExecContext(ctx, `
				UPDATE users SET total_won = total_won + $2, updated_at=now() WHERE id=$1`,
				r.UserID, r.PayoutAmount); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// CreatePendingBet insere a aposta em PENDING se a rodada aceita apostas
func (p *Postgres) CreatePendingBet(ctx context.Context, b *round.Bet) error {
	if !b.Prediction.Valid() || b.Amount <= 0 {
		return apperr.New(apperr.BetInvalid, "invalid prediction or amount")
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM rounds WHERE id=$1 FOR SHARE`, b.RoundID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.RoundNotFound, "round %s not found", b.RoundID)
	} else if err != nil {
		return err
	}
	if round.Status(status) != round.BettingOpen {
		return apperr.New(apperr.BetInvalid, "round %s is %s, not open for betting", b.RoundID, status)
	}

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.ChainStatus = round.ChainPending
	b.ResultStatus = round.ResultPending
	b.SettlementStatus = round.SettlementPending
	if err = tx.QueryRowContext(ctx, `
		INSERT INTO bets (id, round_id, user_id, prediction, amount, chain_status, result_status, settlement_status)
		VALUES ($1,$2,$3,$4,$5,'PENDING','PENDING','PENDING')
		RETURNING created_at, updated_at`,
		b.ID, b.RoundID, b.UserID, string(b.Prediction), b.Amount,
	).Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// FindBet busca a aposta pelo id
func (p *Postgres) FindBet(ctx context.Context, id string) (*round.Bet, error) {
	b, err := scanBet(p.db.QueryRowContext(ctx, `SELECT `+betColumns+` FROM bets WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.BetNotFound, "bet %s not found", id)
	}
	return b, err
}

// ConfirmBetExecuted marca a aposta EXECUTED e soma os totais da rodada e do
// usuário na mesma transação. Lock pessimista na rodada e depois na aposta,
// na mesma ordem de CompleteSettlement; aposta já EXECUTED é devolvida sem
// somar de novo. Rodada em CALCULATING ou terminal recusa com
// BET_ROUND_CLOSED: os totais já foram usados no cálculo.
func (p *Postgres) ConfirmBetExecuted(ctx context.Context, betID, digest string) (*round.Bet, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT r.status FROM rounds r JOIN bets b ON b.round_id = r.id
		WHERE b.id=$1 FOR UPDATE OF r`, betID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.BetNotFound, "bet %s not found", betID)
	} else if err != nil {
		return nil, err
	}

	b, err := scanBet(tx.QueryRowContext(ctx, `SELECT `+betColumns+` FROM bets WHERE id=$1 FOR UPDATE`, betID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.BetNotFound, "bet %s not found", betID)
	} else if err != nil {
		return nil, err
	}
	if b.ChainStatus == round.ChainExecuted {
		return b, tx.Commit()
	}
	if st := round.Status(status); st == round.Calculating || st.Terminal() {
		return nil, apperr.New(apperr.BetRoundClosed, "round %s is %s; bet %s needs manual review", b.RoundID, st, betID)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE bets SET chain_status='EXECUTED', sui_tx_hash=$2, updated_at=now() WHERE id=$1`,
		betID, digest); err != nil {
		return nil, err
	}

	var gold, btc int64
	if b.Prediction == payout.Gold {
		gold = b.Amount
	} else {
		btc = b.Amount
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE rounds SET total_pool = total_pool + $2,
			total_gold_bets = total_gold_bets + $3,
			total_btc_bets = total_btc_bets + $4,
			total_bets_count = total_bets_count + 1,
			updated_at=now()
		WHERE id=$1`, b.RoundID, b.Amount, gold, btc); err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, total_bets, total_wagered) VALUES ($1, 1, $2)
		ON CONFLICT (id) DO UPDATE SET
			total_bets = users.total_bets + 1,
			total_wagered = users.total_wagered + EXCLUDED.total_wagered,
			updated_at = now()`, b.UserID, b.Amount); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	b.ChainStatus = round.ChainExecuted
	b.SuiTxHash = digest
	return b, nil
}

// RecordBetDigest grava o digest de uma execução ainda não confirmada, para que
// o ciclo da rodada saiba que há uma transação em reconciliação.
func (p *Postgres) RecordBetDigest(ctx context.Context, betID, digest string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE bets SET sui_tx_hash=$2, updated_at=now()
		WHERE id=$1 AND chain_status='PENDING' AND sui_tx_hash IS NULL`, betID, digest)
	return err
}
