package pricefeed

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Write grava a cotação no layout lido pelo Reader
func Write(ctx context.Context, rdb *redis.Client, prefix, asset string, q Quote) error {
	return rdb.HSet(ctx, prefix+asset,
		fieldPrice, strconv.FormatFloat(q.Price, 'f', -1, 64),
		fieldAvgVol, strconv.FormatFloat(q.AvgVol, 'f', -1, 64),
		fieldUpdatedAt, strconv.FormatInt(q.UpdatedAt.UnixMilli(), 10),
	).Err()
}

// Walk gera cotações de desenvolvimento: passeio aleatório multiplicativo
// por ativo, com a volatilidade média como EWMA dos retornos absolutos.
type Walk struct {
	rng    *rand.Rand
	step   map[string]float64 // desvio por passo
	quotes map[string]Quote
	alpha  float64
}

func NewWalk(seed int64) *Walk {
	return &Walk{
		rng: rand.New(rand.NewSource(seed)),
		step: map[string]float64{
			AssetGold: 0.0008,
			AssetBtc:  0.002,
		},
		quotes: map[string]Quote{
			AssetGold: {Price: 2000, AvgVol: 0.0008},
			AssetBtc:  {Price: 60000, AvgVol: 0.002},
		},
		alpha: 0.1,
	}
}

// Step avança todos os ativos e devolve as novas cotações
func (w *Walk) Step(at time.Time) map[string]Quote {
	out := make(map[string]Quote, len(w.quotes))
	for asset, q := range w.quotes {
		ret := w.rng.NormFloat64() * w.step[asset]
		q.Price *= math.Exp(ret)
		q.AvgVol = (1-w.alpha)*q.AvgVol + w.alpha*math.Abs(ret)
		q.UpdatedAt = at
		w.quotes[asset] = q
		out[asset] = q
	}
	return out
}
