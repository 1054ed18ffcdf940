package admin

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// fatores de ponto fixo esperados pelo contrato
const (
	PriceScale      = 100
	VolatilityScale = 10_000
)

var maxUint64 = decimal.RequireFromString("18446744073709551615")

// ScalePrice converte preço para inteiro (× 100), arredondando metade para
// longe de zero.
func ScalePrice(v float64) (uint64, error) {
	return scale("price", v, PriceScale)
}

// ScaleVolatility converte volatilidade média para inteiro (× 10 000).
func ScaleVolatility(v float64) (uint64, error) {
	return scale("volatility", v, VolatilityScale)
}

func scale(field string, v float64, factor int64) (uint64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperr.New(apperr.RoundDataInvalid, "%s is not finite: %v", field, v)
	}
	if v < 0 {
		return 0, apperr.New(apperr.RoundDataInvalid, "%s is negative: %v", field, v)
	}
	d := decimal.NewFromFloat(v).Mul(decimal.NewFromInt(factor)).Round(0)
	return toUint64(field, d, apperr.RoundDataInvalid)
}

// ScaleAmount leva um valor humano para a unidade base (× 10^decimals).
func ScaleAmount(amount decimal.Decimal, decimals int32) (uint64, error) {
	if decimals < 0 {
		return 0, apperr.New(apperr.InvalidInput, "decimals must not be negative")
	}
	if !amount.IsPositive() {
		return 0, apperr.New(apperr.InvalidInput, "amount must be positive")
	}
	d := amount.Shift(decimals).Round(0)
	if d.IsZero() {
		return 0, apperr.New(apperr.InvalidInput, "amount %s is below one base unit", amount)
	}
	return toUint64("amount", d, apperr.InvalidInput)
}

func toUint64(field string, d decimal.Decimal, code apperr.Code) (uint64, error) {
	if d.GreaterThan(maxUint64) {
		return 0, apperr.New(code, "%s %s overflows uint64", field, d)
	}
	return d.BigInt().Uint64(), nil
}
