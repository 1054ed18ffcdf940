// Package roundtest traz um repositório em memória com as mesmas regras do
// Postgres (compare-and-set, gravação única, sobreposição de janelas).
package roundtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/radieske/pricebet-settlement/internal/payout"
	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

type UserStats struct {
	TotalBets    int64
	TotalWagered int64
	TotalWon     int64
}

// Repo implementa round.Repository e round.BetRepository.
type Repo struct {
	mu     sync.Mutex
	seq    int
	rounds map[string]*round.Round
	bets   map[string]*round.Bet
	Users  map[string]*UserStats

	// Transitions registra cada mudança de status efetivada, em ordem.
	Transitions []string
	// FailComplete faz CompleteSettlement falhar uma vez.
	FailComplete error
}

func New() *Repo {
	return &Repo{
		rounds: map[string]*round.Round{},
		bets:   map[string]*round.Bet{},
		Users:  map[string]*UserStats{},
	}
}

var (
	_ round.Repository    = (*Repo)(nil)
	_ round.BetRepository = (*Repo)(nil)
)

// Put grava a rodada como está (montagem de cenários).
func (r *Repo) Put(rd *round.Round) *round.Round {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rd.ID == "" {
		r.seq++
		rd.ID = fmt.Sprintf("round-%d", r.seq)
	}
	cp := *rd
	r.rounds[rd.ID] = &cp
	return rd
}

// PutBet grava a aposta como está.
func (r *Repo) PutBet(b *round.Bet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	r.bets[b.ID] = &cp
}

// Round devolve uma cópia do estado atual.
func (r *Repo) Round(id string) round.Round {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rounds[id]
}

func (r *Repo) FindRound(_ context.Context, id string) (*round.Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd, ok := r.rounds[id]
	if !ok {
		return nil, apperr.New(apperr.RoundNotFound, "round %s not found", id)
	}
	cp := *rd
	return &cp, nil
}

func (r *Repo) ListActiveRounds(_ context.Context) ([]*round.Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*round.Round
	for _, rd := range r.rounds {
		if !rd.Status.Terminal() {
			cp := *rd
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *Repo) LatestRound(_ context.Context, typ string) (*round.Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *round.Round
	for _, rd := range r.rounds {
		if rd.Type == typ && (latest == nil || rd.RoundNumber > latest.RoundNumber) {
			latest = rd
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *Repo) CreateRound(_ context.Context, rd *round.Round) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.rounds {
		if other.Type != rd.Type {
			continue
		}
		if other.RoundNumber == rd.RoundNumber {
			return apperr.New(apperr.RoundTimeOverlap, "round number %d already exists", rd.RoundNumber)
		}
		if other.Status != round.Cancelled && rd.StartTime.Before(other.EndTime) && other.StartTime.Before(rd.EndTime) {
			return apperr.New(apperr.RoundTimeOverlap, "round overlaps %s", other.ID)
		}
	}
	r.seq++
	rd.ID = fmt.Sprintf("round-%d", r.seq)
	rd.CreatedAt = time.Now().UTC()
	cp := *rd
	r.rounds[rd.ID] = &cp
	return nil
}

func (r *Repo) get(id string) (*round.Round, error) {
	rd, ok := r.rounds[id]
	if !ok {
		return nil, apperr.New(apperr.RoundNotFound, "round %s not found", id)
	}
	return rd, nil
}

func (r *Repo) RecordPool(_ context.Context, id, poolID, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd, err := r.get(id)
	if err != nil {
		return err
	}
	if rd.PoolID == "" {
		rd.PoolID, rd.CreatePoolDigest = poolID, digest
	}
	return nil
}

func (r *Repo) RecordLock(_ context.Context, id, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd, err := r.get(id)
	if err != nil {
		return err
	}
	if rd.LockDigest == "" {
		rd.LockDigest = digest
	}
	return nil
}

func (r *Repo) RecordSettlement(_ context.Context, id string, rec round.SettlementRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd, err := r.get(id)
	if err != nil {
		return err
	}
	if rd.SettlementID != "" {
		return nil
	}
	e := rec.End
	rd.SettlementID, rd.FeeCoinID, rd.FinalizeDigest = rec.SettlementID, rec.FeeCoinID, rec.Digest
	rd.GoldEndPrice, rd.BtcEndPrice = &e.GoldEnd, &e.BtcEnd
	rd.GoldAvgVol, rd.BtcAvgVol = &e.GoldAvgVol, &e.BtcAvgVol
	rd.EndPriceFallback, rd.FallbackReason = e.Fallback, e.FallbackReason
	return nil
}

func (r *Repo) Transition(_ context.Context, id string, from, to round.Status, ch round.Changes) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd, err := r.get(id)
	if err != nil {
		return err
	}
	if rd.Status != from {
		return apperr.New(apperr.RoundInvalidTransition, "round %s is %s, expected %s", id, rd.Status, from)
	}
	rd.Status = to
	ch.Apply(rd)
	r.Transitions = append(r.Transitions, string(from)+"->"+string(to))
	return nil
}

func (r *Repo) ListBets(_ context.Context, roundID string) ([]round.Bet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []round.Bet
	for _, b := range r.bets {
		if b.RoundID == roundID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repo) CompleteSettlement(_ context.Context, id string, to round.Status, results []round.BetResult, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailComplete; err != nil {
		r.FailComplete = nil
		return err
	}
	rd, err := r.get(id)
	if err != nil {
		return err
	}
	if rd.Status != round.Calculating {
		return apperr.New(apperr.RoundInvalidTransition, "round %s is %s, expected %s", id, rd.Status, round.Calculating)
	}
	for _, res := range results {
		b, ok := r.bets[res.BetID]
		if !ok {
			return apperr.New(apperr.BetNotFound, "bet %s not found", res.BetID)
		}
		b.ResultStatus = res.Result
		b.PayoutAmount = res.PayoutAmount
		if res.Result == round.ResultFailed {
			b.SettlementStatus = round.SettlementFailed
		} else {
			b.SettlementStatus = round.SettlementCompleted
		}
		if res.Result == round.ResultWon {
			r.user(b.UserID).TotalWon += res.PayoutAmount
		}
	}
	r.Transitions = append(r.Transitions, string(rd.Status)+"->"+string(to))
	rd.Status = to
	rd.SettledAt = &at
	return nil
}

func (r *Repo) user(id string) *UserStats {
	u, ok := r.Users[id]
	if !ok {
		u = &UserStats{}
		r.Users[id] = u
	}
	return u
}

func (r *Repo) CreatePendingBet(_ context.Context, b *round.Bet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd, err := r.get(b.RoundID)
	if err != nil {
		return err
	}
	if rd.Status != round.BettingOpen {
		return apperr.New(apperr.BetInvalid, "round %s is not open for betting", rd.ID)
	}
	if !b.Prediction.Valid() || b.Amount <= 0 {
		return apperr.New(apperr.BetInvalid, "invalid bet")
	}
	if b.ID == "" {
		r.seq++
		b.ID = fmt.Sprintf("bet-%d", r.seq)
	}
	b.ChainStatus = round.ChainPending
	b.ResultStatus = round.ResultPending
	b.SettlementStatus = round.SettlementPending
	cp := *b
	r.bets[b.ID] = &cp
	return nil
}

func (r *Repo) FindBet(_ context.Context, id string) (*round.Bet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bets[id]
	if !ok {
		return nil, apperr.New(apperr.BetNotFound, "bet %s not found", id)
	}
	cp := *b
	return &cp, nil
}

func (r *Repo) ConfirmBetExecuted(_ context.Context, betID, digest string) (*round.Bet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bets[betID]
	if !ok {
		return nil, apperr.New(apperr.BetNotFound, "bet %s not found", betID)
	}
	if b.ChainStatus == round.ChainExecuted {
		cp := *b
		return &cp, nil
	}
	rd, err := r.get(b.RoundID)
	if err != nil {
		return nil, err
	}
	if rd.Status == round.Calculating || rd.Status.Terminal() {
		return nil, apperr.New(apperr.BetRoundClosed, "round %s is %s; bet %s needs manual review", rd.ID, rd.Status, betID)
	}
	b.ChainStatus = round.ChainExecuted
	b.SuiTxHash = digest
	rd.TotalPool += b.Amount
	rd.TotalBetsCount++
	if b.Prediction == payout.Gold {
		rd.TotalGoldBets += b.Amount
	} else {
		rd.TotalBtcBets += b.Amount
	}
	u := r.user(b.UserID)
	u.TotalBets++
	u.TotalWagered += b.Amount
	cp := *b
	return &cp, nil
}

func (r *Repo) RecordBetDigest(_ context.Context, betID, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bets[betID]; ok && b.ChainStatus == round.ChainPending && b.SuiTxHash == "" {
		b.SuiTxHash = digest
	}
	return nil
}
