package payout

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

func TestCalculate_Example(t *testing.T) {
	res, err := Calculate(Input{
		Winner:          Gold,
		TotalPool:       1_000_000,
		TotalGoldBets:   600_000,
		TotalBtcBets:    400_000,
		PlatformFeeRate: 0.05,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(50_000), res.PlatformFee)
	assert.Equal(t, int64(950_000), res.PayoutPool)
	assert.Equal(t, int64(600_000), res.WinningPool)
	assert.Equal(t, int64(400_000), res.LosingPool)
	ratio, _ := res.PayoutRatio.Float64()
	assert.InDelta(t, 1.5833, ratio, 0.0001)

	assert.Equal(t, int64(158_333), res.Individual(100_000))
	assert.Equal(t, int64(950_000), res.Individual(600_000))
}

func TestCalculate_BTCWinner(t *testing.T) {
	res, err := Calculate(Input{Winner: BTC, TotalPool: 1000, TotalGoldBets: 700, TotalBtcBets: 300, PlatformFeeRate: 0.1})
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.WinningPool)
	assert.Equal(t, int64(700), res.LosingPool)
	assert.True(t, res.PayoutRatio.Equal(decimal.NewFromInt(3)))
}

func TestCalculate_EmptyWinningSide(t *testing.T) {
	res, err := Calculate(Input{Winner: BTC, TotalPool: 500, TotalGoldBets: 500, PlatformFeeRate: 0.05})
	require.NoError(t, err)
	assert.True(t, res.PayoutRatio.IsZero())
	assert.Equal(t, int64(0), res.Individual(100))
}

func TestCalculate_Invalid(t *testing.T) {
	cases := []Input{
		{Winner: "DRAW", TotalPool: 1},
		{Winner: Gold, TotalPool: -1},
		{Winner: Gold, TotalPool: 1, PlatformFeeRate: 1},
		{Winner: Gold, TotalPool: 1, PlatformFeeRate: -0.1},
	}
	for _, in := range cases {
		_, err := Calculate(in)
		assert.True(t, apperr.Is(err, apperr.InvalidInput), "%+v", in)
	}
}

func TestCalculate_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	rates := []float64{0, 0.01, 0.025, 0.05, 0.1, 0.333}

	for i := 0; i < 500; i++ {
		gold := rng.Int63n(10_000_000_000)
		btc := rng.Int63n(10_000_000_000)
		winner := Gold
		if i%2 == 1 {
			winner = BTC
		}
		if i%7 == 0 {
			gold = 0
		}
		in := Input{Winner: winner, TotalPool: gold + btc, TotalGoldBets: gold, TotalBtcBets: btc, PlatformFeeRate: rates[i%len(rates)]}

		res, err := Calculate(in)
		require.NoError(t, err)

		assert.Equal(t, in.TotalPool, res.PlatformFee+res.PayoutPool)
		if res.WinningPool == 0 {
			assert.True(t, res.PayoutRatio.IsZero())
		}

		prev := int64(-1)
		for _, amount := range []int64{0, 1, 10, 999, 1_000_000, res.WinningPool} {
			p := res.Individual(amount)
			assert.GreaterOrEqual(t, p, prev)
			exact := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(res.PayoutPool))
			if res.WinningPool > 0 {
				// floor exato: p×w ≤ a×P < (p+1)×w
				w := decimal.NewFromInt(res.WinningPool)
				assert.True(t, decimal.NewFromInt(p).Mul(w).LessThanOrEqual(exact))
				assert.True(t, decimal.NewFromInt(p+1).Mul(w).GreaterThan(exact))
			}
			prev = p
		}

		// a soma dos prêmios nunca passa do pool de pagamento
		if res.WinningPool > 0 {
			assert.Equal(t, res.PayoutPool, res.Individual(res.WinningPool))
		}
	}
}

func TestIndividual_RepeatingRatio(t *testing.T) {
	// 950/3 não tem expansão decimal finita; quem apostou o pool vencedor
	// inteiro recebe o pool de pagamento inteiro
	res, err := Calculate(Input{Winner: Gold, TotalPool: 1000, TotalGoldBets: 3, TotalBtcBets: 997, PlatformFeeRate: 0.05})
	require.NoError(t, err)
	assert.Equal(t, "316.6666666666666666", res.PayoutRatio.String())
	assert.Equal(t, int64(950), res.Individual(3))
	assert.Equal(t, int64(633), res.Individual(2))
	assert.Equal(t, int64(316), res.Individual(1))
}
