package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// Driver são as entradas da máquina de rodadas usadas a cada tick
type Driver interface {
	Schedule(ctx context.Context, req round.ScheduleRequest) (*round.Round, error)
	Open(ctx context.Context, id string, start round.PriceSnapshot) (*round.Round, error)
	Lock(ctx context.Context, id string) (*round.Round, error)
	Finalize(ctx context.Context, id string, end round.EndSnapshot) (*round.Round, error)
}

// Rounds é a leitura de rodadas feita pelo dispatcher
type Rounds interface {
	ListActiveRounds(ctx context.Context) ([]*round.Round, error)
	LatestRound(ctx context.Context, typ string) (*round.Round, error)
}

// Prices fornece os snapshots de abertura e fechamento
type Prices interface {
	Start(ctx context.Context) (round.PriceSnapshot, error)
	End(ctx context.Context) (round.EndSnapshot, error)
}

// Plan descreve a grade de rodadas mantida pelo scheduler
type Plan struct {
	Type          string
	Duration      time.Duration
	BettingWindow time.Duration
}

// ParseRoundType converte "6HOUR", "30MIN", "1DAY" na duração da rodada
func ParseRoundType(t string) (time.Duration, error) {
	units := []struct {
		suffix string
		unit   time.Duration
	}{{"MIN", time.Minute}, {"HOUR", time.Hour}, {"DAY", 24 * time.Hour}}
	up := strings.ToUpper(strings.TrimSpace(t))
	for _, u := range units {
		if !strings.HasSuffix(up, u.suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(up, u.suffix))
		if err != nil || n <= 0 {
			break
		}
		return time.Duration(n) * u.unit, nil
	}
	return 0, fmt.Errorf("invalid round type %q", t)
}

// NewPlan monta o plano a partir do tipo; janela zero vira metade da rodada
func NewPlan(roundType string, bettingWindow time.Duration) (Plan, error) {
	d, err := ParseRoundType(roundType)
	if err != nil {
		return Plan{}, err
	}
	if bettingWindow <= 0 {
		bettingWindow = d / 2
	}
	if bettingWindow >= d {
		return Plan{}, fmt.Errorf("betting window %s must be shorter than round %s", bettingWindow, d)
	}
	return Plan{Type: roundType, Duration: d, BettingWindow: bettingWindow}, nil
}

// Dispatcher avança cada rodada ativa conforme o relógio. Todas as entradas
// da máquina são idempotentes, então reexecutar um tick é seguro.
type Dispatcher struct {
	rounds Rounds
	fsm    Driver
	prices Prices
	plan   Plan
	log    *zap.Logger
	Now    func() time.Time
}

func NewDispatcher(rounds Rounds, fsm Driver, prices Prices, plan Plan, log *zap.Logger) *Dispatcher {
	return &Dispatcher{rounds: rounds, fsm: fsm, prices: prices, plan: plan, log: log.Named("scheduler"), Now: time.Now}
}

// Tick garante a próxima rodada agendada e avança as ativas. Erros de uma
// rodada não impedem as demais.
func (d *Dispatcher) Tick(ctx context.Context) {
	active, err := d.rounds.ListActiveRounds(ctx)
	if err != nil {
		d.log.Error("list active rounds", zap.Error(err))
		return
	}
	if d.plan.Type != "" {
		if err := d.ensureUpcoming(ctx, active); err != nil {
			d.log.Error("schedule next round", zap.String("type", d.plan.Type), zap.Error(err))
		}
	}
	for _, r := range active {
		if err := d.advance(ctx, r); err != nil {
			lvl := d.log.Error
			if apperr.Is(err, apperr.RoundNotDue) {
				lvl = d.log.Debug
			}
			lvl("advance round",
				zap.String("round_id", r.ID),
				zap.String("status", string(r.Status)),
				zap.String("code", string(apperr.CodeOf(err))),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) advance(ctx context.Context, r *round.Round) error {
	now := d.Now()
	switch r.Status {
	case round.Scheduled:
		if now.Before(r.StartTime) {
			return nil
		}
		var start round.PriceSnapshot
		if now.Before(r.LockTime) {
			s, err := d.prices.Start(ctx)
			if err != nil {
				return err
			}
			start = s
		}
		// passado o lock a máquina cancela sem olhar os preços
		_, err := d.fsm.Open(ctx, r.ID, start)
		return err
	case round.BettingOpen:
		if now.Before(r.LockTime) {
			return nil
		}
		_, err := d.fsm.Lock(ctx, r.ID)
		return err
	case round.BettingLocked, round.Calculating:
		if now.Before(r.EndTime) {
			return nil
		}
		var end round.EndSnapshot
		if r.Status == round.BettingLocked && r.SettlementID == "" {
			e, err := d.prices.End(ctx)
			if err != nil {
				return err
			}
			end = e
		}
		_, err := d.fsm.Finalize(ctx, r.ID, end)
		return err
	}
	return nil
}

// ensureUpcoming agenda a próxima rodada do tipo quando nenhuma está em
// SCHEDULED. Ela começa no fim da última rodada, ou no próximo múltiplo da
// duração se a última já passou.
func (d *Dispatcher) ensureUpcoming(ctx context.Context, active []*round.Round) error {
	for _, r := range active {
		if r.Type == d.plan.Type && r.Status == round.Scheduled {
			return nil
		}
	}
	latest, err := d.rounds.LatestRound(ctx, d.plan.Type)
	if err != nil {
		return err
	}

	now := d.Now().UTC()
	start := now.Truncate(d.plan.Duration)
	if start.Before(now) {
		start = start.Add(d.plan.Duration)
	}
	number := int64(1)
	if latest != nil {
		number = latest.RoundNumber + 1
		if latest.Status != round.Cancelled && latest.EndTime.After(start) {
			start = latest.EndTime
		}
	}

	r, err := d.fsm.Schedule(ctx, round.ScheduleRequest{
		RoundNumber: number,
		Type:        d.plan.Type,
		StartTime:   start,
		LockTime:    start.Add(d.plan.BettingWindow),
		EndTime:     start.Add(d.plan.Duration),
	})
	if err != nil {
		return err
	}
	d.log.Info("next round scheduled", zap.String("round_id", r.ID), zap.Int64("round_number", number))
	return nil
}
