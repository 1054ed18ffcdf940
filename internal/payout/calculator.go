// Package payout calcula taxa, pool de prêmio e razão de pagamento de uma
// rodada. Toda a aritmética é decimal; o truncamento acontece só no fim.
package payout

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// Side é o ativo apostado.
type Side string

const (
	Gold Side = "GOLD"
	BTC  Side = "BTC"
)

func (s Side) Valid() bool { return s == Gold || s == BTC }

// RatioPrecision é o número de casas decimais da razão gravada e exibida.
// Os prêmios individuais não usam a razão truncada.
const RatioPrecision = 16

type Input struct {
	Winner          Side
	TotalPool       int64
	TotalGoldBets   int64
	TotalBtcBets    int64
	PlatformFeeRate float64
}

type Result struct {
	PlatformFee int64
	PayoutPool  int64
	PayoutRatio decimal.Decimal
	WinningPool int64
	LosingPool  int64
}

// Calculate aplica floor(totalPool × taxa) e divide o restante pelo pool
// vencedor. Pool vencedor zero resulta em razão zero.
func Calculate(in Input) (Result, error) {
	if !in.Winner.Valid() {
		return Result{}, apperr.New(apperr.InvalidInput, "invalid winner %q", in.Winner)
	}
	if in.TotalPool < 0 || in.TotalGoldBets < 0 || in.TotalBtcBets < 0 {
		return Result{}, apperr.New(apperr.InvalidInput, "pool totals must not be negative")
	}
	if in.PlatformFeeRate < 0 || in.PlatformFeeRate >= 1 {
		return Result{}, apperr.New(apperr.InvalidInput, "platform fee rate %v out of range [0,1)", in.PlatformFeeRate)
	}

	total := decimal.NewFromInt(in.TotalPool)
	fee := total.Mul(decimal.NewFromFloat(in.PlatformFeeRate)).Floor()
	payoutPool := total.Sub(fee)

	winning, losing := in.TotalGoldBets, in.TotalBtcBets
	if in.Winner == BTC {
		winning, losing = in.TotalBtcBets, in.TotalGoldBets
	}

	ratio := decimal.Zero
	if winning > 0 {
		// QuoRem trunca em direção a zero
		ratio, _ = payoutPool.QuoRem(decimal.NewFromInt(winning), RatioPrecision)
	}

	return Result{
		PlatformFee: fee.IntPart(),
		PayoutPool:  payoutPool.IntPart(),
		PayoutRatio: ratio,
		WinningPool: winning,
		LosingPool:  losing,
	}, nil
}

// Individual devolve floor(betAmount × payoutPool / winningPool), numa única
// expressão decimal exata.
func (r Result) Individual(betAmount int64) int64 {
	if betAmount <= 0 || r.WinningPool <= 0 || r.PayoutPool <= 0 {
		return 0
	}
	num := decimal.NewFromInt(betAmount).Mul(decimal.NewFromInt(r.PayoutPool))
	q, _ := num.QuoRem(decimal.NewFromInt(r.WinningPool), 0)
	return q.IntPart()
}
