// Package pricefeed lê os snapshots de preço gravados no Redis pelo ingestor
// externo de market data.
package pricefeed

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

const (
	AssetGold = "GOLD"
	AssetBtc  = "BTC"
)

// Campos do hash "<prefix><ASSET>"
const (
	fieldPrice     = "price"
	fieldAvgVol    = "avg_vol"
	fieldUpdatedAt = "updated_at" // unix ms
)

// Quote é a leitura de um ativo
type Quote struct {
	Price     float64
	AvgVol    float64
	UpdatedAt time.Time
}

// Reader lê as cotações atuais. MaxAge > 0 descarta cotações mais velhas.
type Reader struct {
	Rdb    *redis.Client
	Prefix string
	MaxAge time.Duration
	Now    func() time.Time
}

func NewReader(r *redis.Client, prefix string, maxAge time.Duration) *Reader {
	return &Reader{Rdb: r, Prefix: prefix, MaxAge: maxAge, Now: time.Now}
}

func parseField(m map[string]string, field string) float64 {
	v, ok := m[field]
	if !ok {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// Quote lê um ativo. Campo ausente ou ilegível vira NaN; hash inexistente
// ou cotação vencida é ROUND_DATA_MISSING.
func (r *Reader) Quote(ctx context.Context, asset string) (Quote, error) {
	m, err := r.Rdb.HGetAll(ctx, r.Prefix+asset).Result()
	if err != nil {
		return Quote{}, err
	}
	if len(m) == 0 {
		return Quote{}, apperr.New(apperr.RoundDataMissing, "no quote for %s", asset)
	}
	q := Quote{Price: parseField(m, fieldPrice), AvgVol: parseField(m, fieldAvgVol)}
	if ms := parseField(m, fieldUpdatedAt); !math.IsNaN(ms) {
		q.UpdatedAt = time.UnixMilli(int64(ms))
	}
	if r.MaxAge > 0 && (q.UpdatedAt.IsZero() || r.Now().Sub(q.UpdatedAt) > r.MaxAge) {
		return q, apperr.New(apperr.RoundDataMissing, "quote for %s is stale", asset)
	}
	return q, nil
}

// Start devolve o snapshot de abertura
func (r *Reader) Start(ctx context.Context) (round.PriceSnapshot, error) {
	gold, err := r.Quote(ctx, AssetGold)
	if err != nil {
		return round.PriceSnapshot{}, err
	}
	btc, err := r.Quote(ctx, AssetBtc)
	if err != nil {
		return round.PriceSnapshot{}, err
	}
	return round.PriceSnapshot{Gold: gold.Price, Btc: btc.Price}, nil
}

// End devolve o snapshot de fechamento. Cotação ausente ou vencida entra
// como NaN, e a máquina de rodadas aplica o fallback para o preço de abertura.
// Só erros de acesso ao Redis são devolvidos.
func (r *Reader) End(ctx context.Context) (round.EndSnapshot, error) {
	var out round.EndSnapshot
	gold, err := r.Quote(ctx, AssetGold)
	if err != nil && !apperr.Is(err, apperr.RoundDataMissing) {
		return out, err
	} else if err != nil {
		gold = Quote{Price: math.NaN(), AvgVol: math.NaN()}
	}
	btc, err := r.Quote(ctx, AssetBtc)
	if err != nil && !apperr.Is(err, apperr.RoundDataMissing) {
		return out, err
	} else if err != nil {
		btc = Quote{Price: math.NaN(), AvgVol: math.NaN()}
	}
	out.GoldEnd, out.GoldAvgVol = gold.Price, gold.AvgVol
	out.BtcEnd, out.BtcAvgVol = btc.Price, btc.AvgVol
	return out, nil
}
