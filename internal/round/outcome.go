package round

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/radieske/pricebet-settlement/internal/payout"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

// motivos de VOID
const (
	VoidEndPriceFallback = "end_price_fallback"
	VoidZeroVolatility   = "zero_volatility"
	VoidNoWinningStake   = "no_winning_stake"
)

// PriceSnapshot são os preços dos dois ativos num instante.
type PriceSnapshot struct {
	Gold float64 `json:"gold"`
	Btc  float64 `json:"btc"`
}

func (p PriceSnapshot) Valid() bool { return validPrice(p.Gold) && validPrice(p.Btc) }

// EndSnapshot é o fechamento usado no cálculo e enviado ao contrato.
type EndSnapshot struct {
	GoldEnd        float64 `json:"goldEnd"`
	BtcEnd         float64 `json:"btcEnd"`
	GoldAvgVol     float64 `json:"goldAvgVol"`
	BtcAvgVol      float64 `json:"btcAvgVol"`
	Fallback       bool    `json:"fallback"`
	FallbackReason string  `json:"fallbackReason,omitempty"`
}

func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func validVol(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// ResolveEnd troca preço final inválido pelo de abertura do mesmo ativo. Um
// snapshot com fallback tem as volatilidades zeradas, o que força VOID.
func ResolveEnd(start PriceSnapshot, in EndSnapshot) EndSnapshot {
	out := in
	var reasons []string
	if !validPrice(in.GoldEnd) {
		out.GoldEnd = start.Gold
		reasons = append(reasons, "gold_end_price_invalid")
	}
	if !validPrice(in.BtcEnd) {
		out.BtcEnd = start.Btc
		reasons = append(reasons, "btc_end_price_invalid")
	}
	if len(reasons) > 0 {
		out.Fallback = true
		out.FallbackReason = strings.Join(reasons, ",")
		out.GoldAvgVol = 0
		out.BtcAvgVol = 0
	}
	if !validVol(out.GoldAvgVol) {
		out.GoldAvgVol = 0
	}
	if !validVol(out.BtcAvgVol) {
		out.BtcAvgVol = 0
	}
	return out
}

// Outcome é o resultado calculado de uma rodada.
type Outcome struct {
	Winner     payout.Side
	IsVoid     bool
	VoidReason string
	GoldScore  float64
	BtcScore   float64
	Payout     payout.Result
}

// score é o retorno do ativo dividido pela sua volatilidade média.
func score(start, end, avgVol float64) float64 {
	return ((end - start) / start) / avgVol
}

// ComputeOutcome decide vencedor e distribuição. GOLD vence empates. A
// rodada é VOID com fallback de preço, com qualquer volatilidade zero ou
// quando há pool mas ninguém apostou no lado vencedor.
func ComputeOutcome(r *Round, end EndSnapshot, feeRate float64) (Outcome, error) {
	start, ok := r.StartPrices()
	if !ok {
		return Outcome{}, apperr.New(apperr.RoundDataMissing, "round %s has no start prices", r.ID)
	}
	if !start.Valid() {
		return Outcome{}, apperr.New(apperr.RoundDataInvalid, "round %s has invalid start prices", r.ID)
	}
	if r.TotalPool < 0 || r.TotalGoldBets < 0 || r.TotalBtcBets < 0 ||
		r.TotalGoldBets+r.TotalBtcBets != r.TotalPool {
		return Outcome{}, apperr.New(apperr.RoundDataInvalid,
			"round %s pool totals are inconsistent: pool=%d gold=%d btc=%d", r.ID, r.TotalPool, r.TotalGoldBets, r.TotalBtcBets)
	}

	var out Outcome
	volsOK := end.GoldAvgVol > 0 && end.BtcAvgVol > 0
	if volsOK {
		out.GoldScore = score(start.Gold, end.GoldEnd, end.GoldAvgVol)
		out.BtcScore = score(start.Btc, end.BtcEnd, end.BtcAvgVol)
	}
	out.Winner = payout.Gold
	if out.BtcScore > out.GoldScore {
		out.Winner = payout.BTC
	}

	res, err := payout.Calculate(payout.Input{
		Winner:          out.Winner,
		TotalPool:       r.TotalPool,
		TotalGoldBets:   r.TotalGoldBets,
		TotalBtcBets:    r.TotalBtcBets,
		PlatformFeeRate: feeRate,
	})
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.RoundDataInvalid, err, "payout for round %s", r.ID)
	}
	out.Payout = res

	switch {
	case end.Fallback:
		out.IsVoid, out.VoidReason = true, VoidEndPriceFallback
	case !volsOK:
		out.IsVoid, out.VoidReason = true, VoidZeroVolatility
	case r.TotalPool > 0 && res.WinningPool == 0:
		out.IsVoid, out.VoidReason = true, VoidNoWinningStake
	}
	if out.IsVoid {
		// VOID devolve tudo: sem taxa e sem razão de pagamento
		out.Payout.PlatformFee = 0
		out.Payout.PayoutPool = r.TotalPool
		out.Payout.PayoutRatio = decimal.Zero
	}
	return out, nil
}

// OutcomeOf reconstrói o resultado gravado numa rodada em CALCULATING. O
// pool vencedor sai dos totais da rodada, congelados a partir de CALCULATING.
func OutcomeOf(r *Round) Outcome {
	winning, losing := r.TotalGoldBets, r.TotalBtcBets
	if r.Winner == payout.BTC {
		winning, losing = r.TotalBtcBets, r.TotalGoldBets
	}
	return Outcome{
		Winner:     r.Winner,
		IsVoid:     r.IsVoid,
		VoidReason: r.VoidReason,
		Payout: payout.Result{
			PlatformFee: r.PlatformFeeCollected,
			PayoutPool:  r.PayoutPool,
			PayoutRatio: r.PayoutRatio,
			WinningPool: winning,
			LosingPool:  losing,
		},
	}
}

// SettleBets anota cada aposta. Apostas nunca confirmadas on-chain ficam
// FAILED e não recebem nada.
func SettleBets(bets []Bet, o Outcome) []BetResult {
	out := make([]BetResult, 0, len(bets))
	for _, b := range bets {
		res := BetResult{BetID: b.ID, UserID: b.UserID}
		switch {
		case b.ChainStatus != ChainExecuted:
			res.Result = ResultFailed
		case o.IsVoid:
			res.Result = ResultRefunded
			res.PayoutAmount = b.Amount
		case b.Prediction == o.Winner:
			res.Result = ResultWon
			res.PayoutAmount = o.Payout.Individual(b.Amount)
		default:
			res.Result = ResultLost
		}
		out = append(out, res)
	}
	return out
}

// Apply copia os campos da mudança para r.
func (ch Changes) Apply(r *Round) {
	if ch.StartPrices != nil {
		g, b := ch.StartPrices.Gold, ch.StartPrices.Btc
		r.GoldStartPrice, r.BtcStartPrice = &g, &b
	}
	if ch.LockedAt != nil {
		at := *ch.LockedAt
		r.LockedAt = &at
	}
	if o := ch.Outcome; o != nil {
		r.Winner = o.Winner
		r.IsVoid = o.IsVoid
		r.VoidReason = o.VoidReason
		r.PayoutPool = o.Payout.PayoutPool
		r.PayoutRatio = o.Payout.PayoutRatio
		r.PlatformFeeCollected = o.Payout.PlatformFee
	}
}
