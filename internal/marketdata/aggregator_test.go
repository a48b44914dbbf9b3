package marketdata

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/pkg/marketmath"
)

// lineCodec 测试用协议：{"s":"btcusdt","b":[[p,q]],"a":[[p,q]]}
type lineCodec struct {
	venue string
	url   string
}

func (c *lineCodec) Venue() string { return c.venue }
func (c *lineCodec) URL() string   { return c.url }
func (c *lineCodec) VenueSymbol(canonical string) string {
	return strings.ToLower(strings.ReplaceAll(canonical, "/", ""))
}
func (c *lineCodec) SubscribeFrame(s []string) ([]byte, error) {
	return json.Marshal(map[string]any{"sub": s})
}
func (c *lineCodec) UnsubscribeFrame(s []string) ([]byte, error) {
	return json.Marshal(map[string]any{"unsub": s})
}
func (c *lineCodec) KeepaliveFrame() []byte { return nil }
func (c *lineCodec) Parse(msg []byte) ([]BookUpdate, error) {
	var m struct {
		S string     `json:"s"`
		B [][]string `json:"b"`
		A [][]string `json:"a"`
	}
	if err := json.Unmarshal(msg, &m); err != nil || m.S == "" {
		return nil, malformed("line: %s", msg)
	}
	bids, err := parseLevels(m.B, 0)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(m.A, 0)
	if err != nil {
		return nil, err
	}
	return []BookUpdate{{VenueSymbol: m.S, Bids: bids, Asks: asks}}, nil
}

func testAggregator(venues ...string) (*Aggregator, *time.Time) {
	codecs := make([]Codec, 0, len(venues))
	for _, v := range venues {
		codecs = append(codecs, &lineCodec{venue: v, url: "ws://unused"})
	}
	a := NewAggregator(Config{}, codecs...)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a.now = func() time.Time { return now }
	return a, &now
}

func book(bid, bidQty, ask, askQty float64) BookUpdate {
	return BookUpdate{
		VenueSymbol: "btcusdt",
		Bids:        []marketmath.Level{{Price: bid, Size: bidQty}},
		Asks:        []marketmath.Level{{Price: ask, Size: askQty}},
	}
}

func TestTopLiquidityFloorWhenNoFreshSnapshot(t *testing.T) {
	a, now := testAggregator("v1", "v2")
	for _, sym := range []string{"BTC/USDT", "ETH/USDT", "", "garbage"} {
		if got := a.TopLiquidityUSD(sym); got != 15000 {
			t.Fatalf("TopLiquidityUSD(%q) = %v, want floor", sym, got)
		}
	}

	a.Subscribe("BTC/USDT")
	a.onUpdate("v1", []BookUpdate{book(100, 300, 101, 200)}, *now)
	assert.InDelta(t, 20200, a.TopLiquidityUSD("BTC/USDT"), 1e-6)

	// 过期后回到下限
	*now = now.Add(3 * time.Second)
	assert.Equal(t, 15000.0, a.TopLiquidityUSD("BTC/USDT"))
}

func TestTopLiquidityNeverNegativeAndVenueFilter(t *testing.T) {
	a, now := testAggregator("v1", "v2")
	a.Subscribe("BTC/USDT")
	a.onUpdate("v1", []BookUpdate{book(100, 10, 101, 1000)}, *now)  // min = 1000
	a.onUpdate("v2", []BookUpdate{book(100, 500, 100.5, 500)}, *now) // min = 50000
	assert.InDelta(t, 50000, a.TopLiquidityUSD("BTC/USDT"), 1e-6)
	assert.InDelta(t, 1000, a.TopLiquidityUSD("BTC/USDT", "v1"), 1e-6)
	assert.Equal(t, 15000.0, a.TopLiquidityUSD("BTC/USDT", "nope"))
	assert.GreaterOrEqual(t, a.TopLiquidityUSD("BTC/USDT"), 0.0)
}

func TestSnapshotFieldsAndUnknownSymbolsIgnored(t *testing.T) {
	a, now := testAggregator("v1")
	a.Subscribe("btc/usdt")
	a.onUpdate("v1", []BookUpdate{book(100, 2, 101, 1), {VenueSymbol: "ethusdt", Bids: book(1, 1, 2, 1).Bids, Asks: book(1, 1, 2, 1).Asks}}, *now)

	s, ok := a.Snapshot("BTC/USDT", "v1")
	require.True(t, ok)
	assert.Equal(t, 100.5, s.Mid)
	assert.InDelta(t, 1/100.5*100, s.SpreadPct, 1e-9)
	assert.InDelta(t, (200.0-101.0)/301.0, s.Imbalance, 1e-9)
	assert.Equal(t, 1.0, s.MsgRate)

	_, ok = a.Snapshot("ETH/USDT", "v1")
	assert.False(t, ok, "not subscribed")

	a.Unsubscribe("BTC/USDT")
	_, ok = a.Snapshot("BTC/USDT", "v1")
	assert.False(t, ok)
	a.Unsubscribe("BTC/USDT")
}

func TestBestRoute(t *testing.T) {
	a, now := testAggregator("deep", "tight", "stale")
	a.Subscribe("BTC/USDT")
	if _, ok := a.BestRoute("BTC/USDT"); ok {
		t.Fatalf("route without snapshots")
	}

	a.onUpdate("stale", []BookUpdate{book(100, 1e6, 100.0001, 1e6)}, now.Add(-5*time.Second))
	a.onUpdate("deep", []BookUpdate{book(100, 1000, 100.2, 1000)}, *now)
	a.onUpdate("tight", []BookUpdate{book(100, 200, 100.01, 200)}, *now)

	r, ok := a.BestRoute("BTC/USDT")
	require.True(t, ok)
	// deep: 200200/0.1998 ≈ 1.0e6，tight: 40002/0.01 ≈ 4.0e6
	assert.Equal(t, "tight", r.Venue)
	want := (100*200 + 100.01*200) / marketmath.SpreadPct(100, 100.01)
	assert.InDelta(t, want, r.Score, 1e-3)

	// 延迟扣分
	a.conns["tight"].recordLatency(time.Second)
	a.onUpdate("tight", []BookUpdate{book(100, 200, 100.01, 200)}, *now)
	r, _ = a.BestRoute("BTC/USDT")
	assert.Equal(t, "tight", r.Venue)
	assert.InDelta(t, want-1000*10, r.Score, 1e-3)

	*now = now.Add(10 * time.Second)
	_, ok = a.BestRoute("BTC/USDT")
	assert.False(t, ok, "all stale")
}

func TestBestRouteZeroSpreadUsesEpsilon(t *testing.T) {
	a, now := testAggregator("v1")
	a.Subscribe("BTC/USDT")
	a.onUpdate("v1", []BookUpdate{book(100, 1, 100, 1)}, *now)
	r, ok := a.BestRoute("BTC/USDT")
	require.True(t, ok)
	assert.False(t, math.IsInf(r.Score, 0))
	assert.InDelta(t, 200/routeEpsilon, r.Score, 1e-3)
}

func TestMicroMetricsAndFillProbability(t *testing.T) {
	a, now := testAggregator("v1", "v2")
	a.Subscribe("BTC/USDT")

	p := a.EstimateFillProbability("BTC/USDT", domain.SideBuy)
	assert.InDelta(t, 0.2, p, 1e-9, "no data: max spread penalty")

	// 买盘厚：卖单更容易成交
	a.onUpdate("v1", []BookUpdate{book(100, 30, 100.01, 10)}, *now)
	a.onUpdate("v2", []BookUpdate{book(100, 30, 100.01, 10)}, *now)
	a.onUpdate("v2", []BookUpdate{book(100, 30, 100.01, 10)}, now.Add(100*time.Millisecond))
	*now = now.Add(200 * time.Millisecond)

	m := a.MicroMetrics("BTC/USDT")
	assert.Equal(t, 2, m.Venues)
	assert.Equal(t, 3.0, m.MsgRate)
	assert.Greater(t, m.Imbalance, 0.0)

	buy := a.EstimateFillProbability("BTC/USDT", domain.SideBuy)
	sell := a.EstimateFillProbability("BTC/USDT", domain.SideSell)
	assert.Less(t, buy, sell)
	for _, v := range []float64{buy, sell} {
		assert.GreaterOrEqual(t, v, 0.01)
		assert.LessOrEqual(t, v, 0.99)
	}

	// 1s 之后速率清零
	*now = now.Add(2 * time.Second)
	a.onUpdate("v1", []BookUpdate{book(100, 30, 100.01, 10)}, *now)
	assert.Equal(t, 1.0, a.MicroMetrics("BTC/USDT").MsgRate)
}

func TestConnectionStatesBeforeStart(t *testing.T) {
	a, _ := testAggregator("v1", "v2")
	states := a.ConnectionStates()
	require.Len(t, states, 2)
	for _, s := range states {
		assert.Equal(t, domain.ConnDisconnected, s.State)
		assert.Equal(t, 500*time.Millisecond, s.Backoff)
	}
}

func TestDepthAndBestSnapshot(t *testing.T) {
	a, now := testAggregator("v1")
	a.Subscribe("BTC/USDT")
	_, ok := a.BestSnapshot("BTC/USDT")
	require.False(t, ok)

	a.onUpdate("v1", []BookUpdate{{
		VenueSymbol: "btcusdt",
		Bids:        []marketmath.Level{{Price: 100, Size: 1}, {Price: 99, Size: 2}},
		Asks:        []marketmath.Level{{Price: 101, Size: 3}},
	}}, *now)
	ob, ok := a.Depth("BTC/USDT", "v1")
	require.True(t, ok)
	assert.Equal(t, []domain.Level{{Price: 100, Size: 1}, {Price: 99, Size: 2}}, ob.Bids)
	assert.Equal(t, "BTC/USDT", ob.Symbol)

	s, ok := a.BestSnapshot("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, "v1", s.Venue)
	assert.Equal(t, a.RouteScore(s), a.routeScore(s))
}
