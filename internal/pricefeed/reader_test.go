package pricefeed

import (
	"context"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/pricebet-settlement/internal/round"
	"github.com/radieske/pricebet-settlement/internal/shared/apperr"
)

var now = time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)

func newReader(t *testing.T, maxAge time.Duration) (*Reader, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	r := NewReader(rdb, "prices:", maxAge)
	r.Now = func() time.Time { return now }
	return r, mr
}

func put(mr *miniredis.Miniredis, asset, price, vol string, at time.Time) {
	mr.HSet("prices:"+asset, "price", price, "avg_vol", vol, "updated_at", strconv.FormatInt(at.UnixMilli(), 10))
}

func TestStart(t *testing.T) {
	r, mr := newReader(t, time.Minute)
	put(mr, AssetGold, "2001.5", "0.012", now.Add(-10*time.Second))
	put(mr, AssetBtc, "61000", "0.03", now)

	s, err := r.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, round.PriceSnapshot{Gold: 2001.5, Btc: 61000}, s)
}

func TestStart_MissingOrStale(t *testing.T) {
	r, mr := newReader(t, time.Minute)
	put(mr, AssetGold, "2001.5", "0.012", now)

	_, err := r.Start(context.Background())
	assert.Equal(t, apperr.RoundDataMissing, apperr.CodeOf(err))

	put(mr, AssetBtc, "61000", "0.03", now.Add(-2*time.Minute))
	_, err = r.Start(context.Background())
	assert.Equal(t, apperr.RoundDataMissing, apperr.CodeOf(err))
}

func TestEnd_MissingBecomesNaN(t *testing.T) {
	r, mr := newReader(t, 0)
	put(mr, AssetGold, "2010", "0.02", now)
	mr.HSet("prices:"+AssetBtc, "price", "garbage")

	e, err := r.End(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2010.0, e.GoldEnd)
	assert.Equal(t, 0.02, e.GoldAvgVol)
	assert.True(t, math.IsNaN(e.BtcEnd))
	assert.True(t, math.IsNaN(e.BtcAvgVol))

	resolved := round.ResolveEnd(round.PriceSnapshot{Gold: 2000, Btc: 60000}, e)
	assert.True(t, resolved.Fallback)
	assert.Equal(t, 60000.0, resolved.BtcEnd)
}

func TestEnd_RedisDown(t *testing.T) {
	r, mr := newReader(t, 0)
	mr.Close()
	_, err := r.End(context.Background())
	require.Error(t, err)
	assert.NotEqual(t, apperr.RoundDataMissing, apperr.CodeOf(err))
}

func TestWrite_RoundTrip(t *testing.T) {
	r, _ := newReader(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, Write(ctx, r.Rdb, "prices:", AssetGold, Quote{Price: 2003.25, AvgVol: 0.011, UpdatedAt: now}))
	q, err := r.Quote(ctx, AssetGold)
	require.NoError(t, err)
	assert.Equal(t, 2003.25, q.Price)
	assert.Equal(t, 0.011, q.AvgVol)
	assert.True(t, now.Equal(q.UpdatedAt))
}

func TestWalk_Step(t *testing.T) {
	w := NewWalk(7)
	var last map[string]Quote
	for i := 0; i < 500; i++ {
		last = w.Step(now.Add(time.Duration(i) * time.Second))
	}
	require.Len(t, last, 2)
	for asset, q := range last {
		assert.Greater(t, q.Price, 0.0, asset)
		assert.Greater(t, q.AvgVol, 0.0, asset)
		assert.Less(t, q.AvgVol, 0.05, asset)
		assert.True(t, now.Add(499*time.Second).Equal(q.UpdatedAt))
	}
	assert.InDelta(t, 2000, last[AssetGold].Price, 600)
}
