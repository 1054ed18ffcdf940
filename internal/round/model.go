// Package round contém o ciclo de vida das rodadas de aposta: modelo,
// tabela de transições, cálculo do resultado e a máquina que coordena as
// chamadas on-chain com a persistência.
package round

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/pricebet-settlement/internal/payout"
)

// Status da rodada, na ordem em que os estados são percorridos.
type Status string

const (
	Scheduled     Status = "SCHEDULED"
	BettingOpen   Status = "BETTING_OPEN"
	BettingLocked Status = "BETTING_LOCKED"
	Calculating   Status = "CALCULATING"
	Settled       Status = "SETTLED"
	Voided        Status = "VOIDED"
	Cancelled     Status = "CANCELLED"
)

var statusRank = map[Status]int{
	Scheduled:     0,
	BettingOpen:   1,
	BettingLocked: 2,
	Calculating:   3,
	Settled:       4,
	Voided:        4,
	Cancelled:     4,
}

func (s Status) Valid() bool { _, ok := statusRank[s]; return ok }

// Terminal indica que nenhuma chamada on-chain parte mais deste estado.
func (s Status) Terminal() bool {
	return s == Settled || s == Voided || s == Cancelled
}

// Round é uma rodada persistida. Chaves de correlação on-chain (PoolID,
// SettlementID, FeeCoinID e digests) são gravadas uma única vez.
type Round struct {
	ID          string
	RoundNumber int64
	Type        string
	Status      Status

	StartTime time.Time
	LockTime  time.Time
	EndTime   time.Time

	TotalPool      int64
	TotalGoldBets  int64
	TotalBtcBets   int64
	TotalBetsCount int64

	GoldStartPrice *float64
	BtcStartPrice  *float64
	GoldEndPrice   *float64
	BtcEndPrice    *float64
	GoldAvgVol     *float64
	BtcAvgVol      *float64
	// snapshot final substituído pelo preço de abertura
	EndPriceFallback bool
	FallbackReason   string

	Winner               payout.Side
	IsVoid               bool
	VoidReason           string
	PayoutPool           int64
	PayoutRatio          decimal.Decimal
	PlatformFeeCollected int64

	PoolID           string
	SettlementID     string
	FeeCoinID        string
	CreatePoolDigest string
	LockDigest       string
	FinalizeDigest   string

	LockedAt  *time.Time
	SettledAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StartPrices devolve o snapshot de abertura, se gravado.
func (r *Round) StartPrices() (PriceSnapshot, bool) {
	if r.GoldStartPrice == nil || r.BtcStartPrice == nil {
		return PriceSnapshot{}, false
	}
	return PriceSnapshot{Gold: *r.GoldStartPrice, Btc: *r.BtcStartPrice}, true
}

// RecordedEnd devolve o snapshot de fechamento gravado junto com o settlement.
func (r *Round) RecordedEnd() (EndSnapshot, bool) {
	if r.GoldEndPrice == nil || r.BtcEndPrice == nil || r.GoldAvgVol == nil || r.BtcAvgVol == nil {
		return EndSnapshot{}, false
	}
	return EndSnapshot{
		GoldEnd:        *r.GoldEndPrice,
		BtcEnd:         *r.BtcEndPrice,
		GoldAvgVol:     *r.GoldAvgVol,
		BtcAvgVol:      *r.BtcAvgVol,
		Fallback:       r.EndPriceFallback,
		FallbackReason: r.FallbackReason,
	}, true
}

type ChainStatus string

const (
	ChainPending  ChainStatus = "PENDING"
	ChainExecuted ChainStatus = "EXECUTED"
)

type ResultStatus string

const (
	ResultPending  ResultStatus = "PENDING"
	ResultWon      ResultStatus = "WON"
	ResultLost     ResultStatus = "LOST"
	ResultRefunded ResultStatus = "REFUNDED"
	ResultFailed   ResultStatus = "FAILED"
)

type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "PENDING"
	SettlementCompleted SettlementStatus = "COMPLETED"
	SettlementFailed    SettlementStatus = "FAILED"
)

// Bet é uma aposta de usuário numa rodada.
type Bet struct {
	ID               string
	RoundID          string
	UserID           string
	Prediction       payout.Side
	Amount           int64
	ChainStatus      ChainStatus
	ResultStatus     ResultStatus
	SettlementStatus SettlementStatus
	SuiTxHash        string
	PayoutAmount     int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BetResult é a anotação gravada em cada aposta no fechamento da rodada.
type BetResult struct {
	BetID        string
	UserID       string
	Result       ResultStatus
	PayoutAmount int64
}

// SettlementRecord reúne o que o finalize on-chain produziu. O snapshot
// final vai junto para que uma retomada use exatamente os mesmos insumos.
type SettlementRecord struct {
	SettlementID string
	FeeCoinID    string
	Digest       string
	End          EndSnapshot
}

// Changes carrega os campos gravados junto com a mudança de status.
type Changes struct {
	StartPrices *PriceSnapshot
	LockedAt    *time.Time
	Outcome     *Outcome
	Reason      string
}

// Repository é a persistência de rodadas usada pela máquina e pelas
// operações administrativas.
type Repository interface {
	FindRound(ctx context.Context, id string) (*Round, error)
	ListActiveRounds(ctx context.Context) ([]*Round, error)
	// LatestRound devolve a rodada de maior número do tipo, inclusive
	// terminais; nil quando não há nenhuma.
	LatestRound(ctx context.Context, typ string) (*Round, error)
	// CreateRound falha com ROUND_TIME_OVERLAP se a janela colidir com outra
	// rodada não cancelada do mesmo tipo.
	CreateRound(ctx context.Context, r *Round) error

	Recorder

	// Transition é um compare-and-set no status; status diferente de from
	// resulta em ROUND_INVALID_TRANSITION.
	Transition(ctx context.Context, id string, from, to Status, ch Changes) error
	ListBets(ctx context.Context, roundID string) ([]Bet, error)
	// CompleteSettlement grava o status terminal e as anotações das apostas
	// numa única transação.
	CompleteSettlement(ctx context.Context, id string, to Status, results []BetResult, at time.Time) error
}

// BetRepository é a persistência de apostas do fluxo patrocinado.
type BetRepository interface {
	// CreatePendingBet exige rodada em BETTING_OPEN.
	CreatePendingBet(ctx context.Context, b *Bet) error
	FindBet(ctx context.Context, id string) (*Bet, error)
	// ConfirmBetExecuted marca a aposta EXECUTED e soma os totais da rodada e
	// do usuário na mesma transação. Repetir com a aposta já EXECUTED não
	// soma de novo. Com a rodada em CALCULATING ou terminal falha com
	// BET_ROUND_CLOSED e nada é alterado.
	ConfirmBetExecuted(ctx context.Context, betID, digest string) (*Bet, error)
	// RecordBetDigest anota o digest numa aposta ainda PENDING que não tem
	// digest. Não mexe em totais.
	RecordBetDigest(ctx context.Context, betID, digest string) error
}

// Recorder grava chaves de correlação on-chain; cada uma é escrita no
// máximo uma vez.
type Recorder interface {
	RecordPool(ctx context.Context, id, poolID, digest string) error
	RecordLock(ctx context.Context, id, digest string) error
	RecordSettlement(ctx context.Context, id string, rec SettlementRecord) error
}

// ChainOps são as operações administrativas on-chain. Cada uma verifica se o
// resultado já está na rodada antes de submeter e persiste via Recorder logo
// após a confirmação.
type ChainOps interface {
	CreatePool(ctx context.Context, r *Round) (string, error)
	LockPool(ctx context.Context, r *Round) (string, error)
	FinalizeRound(ctx context.Context, r *Round, end EndSnapshot) (*SettlementRecord, error)
}

// Notifier recebe as transições já efetivadas.
type Notifier interface {
	RoundTransitioned(ctx context.Context, r *Round, from, to Status, reason string)
}

// Notifiers repassa cada transição a todos os notifiers, em ordem.
type Notifiers []Notifier

func (ns Notifiers) RoundTransitioned(ctx context.Context, r *Round, from, to Status, reason string) {
	for _, n := range ns {
		if n != nil {
			n.RoundTransitioned(ctx, r, from, to, reason)
		}
	}
}
