package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/pkg/persistence"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestGate(t *testing.T, cfg Config) (*Gate, *fakeClock) {
	t.Helper()
	clock := newClock()
	g, err := NewGate(cfg, nil, WithClock(clock.Now))
	require.NoError(t, err)
	return g, clock
}

func intent(symbol, strategy string, expectedPct float64) domain.TradeIntent {
	return domain.SignalIntent{IntentCore: domain.IntentCore{
		Symbol: symbol, Side: domain.SideBuy, Confidence: 0.7, ExpectedProfitPct: expectedPct,
		EntryPrice: 100, TargetPrice: 101, StopPrice: 99, Strategy: strategy,
	}}
}

func TestGate_SymbolCooldownScenario(t *testing.T) {
	// 节流与本场景无关，关掉
	g, clock := newTestGate(t, Config{MinSignalInterval: -1, MaxConsecutiveLosses: 10})

	g.RecordOutcome("X/USDT", "s", -5, -0.5)
	if d := g.CanAdmit("X/USDT", "s"); !d.Allowed {
		t.Fatalf("one loss must not cool down: %+v", d)
	}
	if g.Snapshot().SymbolCooldowns["X/USDT"] != (time.Time{}) {
		t.Fatalf("cooldown set before threshold")
	}

	g.RecordOutcome("X/USDT", "s", -5, -0.5)
	d := g.CanAdmit("X/USDT", "s")
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonSymbolCooldown, d.Reason)
	assert.Equal(t, clock.Now().Add(10*time.Minute), d.Until)

	// 另一个交易对不受影响
	assert.True(t, g.CanAdmit("Y/USDT", "s").Allowed)

	clock.Advance(10 * time.Minute)
	assert.True(t, g.CanAdmit("X/USDT", "s").Allowed, "cooldown elapsed")
}

func TestGate_WinClearsSymbolCooldown(t *testing.T) {
	g, _ := newTestGate(t, Config{MinSignalInterval: -1, MaxConsecutiveLosses: 10})
	g.RecordOutcome("X/USDT", "s", -5, -0.5)
	g.RecordOutcome("X/USDT", "s", -5, -0.5)
	require.Equal(t, ReasonSymbolCooldown, g.CanAdmit("X/USDT", "s").Reason)

	g.RecordOutcome("X/USDT", "s", 3, 0.3)
	assert.True(t, g.CanAdmit("X/USDT", "s").Allowed)
	st := g.Snapshot()
	assert.Equal(t, 0, st.SymbolLossStreaks["X/USDT"])
	_, ok := st.SymbolCooldowns["X/USDT"]
	assert.False(t, ok)
}

func TestGate_GlobalBreakerOnConsecutiveLosses(t *testing.T) {
	g, clock := newTestGate(t, Config{MinSignalInterval: -1, ReferenceNotionalUSD: 1e9})
	for _, sym := range []string{"A/USDT", "B/USDT", "C/USDT"} {
		g.RecordOutcome(sym, "s", -1, -0.1)
	}
	d := g.CanAdmit("D/USDT", "other")
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyLimit, d.Reason)
	assert.Equal(t, 0, g.Snapshot().ConsecutiveLosses, "streak resets when breaker trips")

	clock.Advance(15 * time.Minute)
	assert.True(t, g.CanAdmit("D/USDT", "other").Allowed)
}

func TestGate_DailyLossLimitAndRollover(t *testing.T) {
	// 10000 × 2% = 200
	g, clock := newTestGate(t, Config{MinSignalInterval: -1})
	g.RecordOutcome("A/USDT", "s", -250, -2.5)

	d := g.CanAdmit("B/USDT", "s")
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyLimit, d.Reason)
	assert.Equal(t, clock.Now().Add(15*time.Minute), d.Until)

	// 断路器只开一个冷却期；当日亏损仍超限时，再亏一笔会重新熔断
	clock.Advance(15 * time.Minute)
	require.True(t, g.CanAdmit("B/USDT", "s").Allowed)
	g.RecordOutcome("B/USDT", "s", -1, -0.1)
	assert.Equal(t, ReasonDailyLimit, g.CanAdmit("C/USDT", "s").Reason)

	clock.Advance(12 * time.Hour) // 跨 UTC 日
	assert.True(t, g.CanAdmit("B/USDT", "s").Allowed)
	st := g.Snapshot()
	assert.Equal(t, "2026-03-11", st.DayKey)
	assert.Zero(t, st.RealizedPnL)
}

func TestGate_ScopesInIsolation(t *testing.T) {
	cases := []struct {
		name   string
		force  func(g *Gate, c *fakeClock)
		reason Reason
	}{
		{"global", func(g *Gate, c *fakeClock) {
			g.mu.Lock()
			g.state.GlobalCooldownUntil = c.Now().Add(time.Minute)
			g.mu.Unlock()
		}, ReasonDailyLimit},
		{"symbol", func(g *Gate, c *fakeClock) {
			g.mu.Lock()
			g.state.SymbolCooldowns["BTC/USDT"] = c.Now().Add(time.Minute)
			g.mu.Unlock()
		}, ReasonSymbolCooldown},
		{"strategy", func(g *Gate, c *fakeClock) { g.OpenStrategyBreaker("momo", time.Minute) }, ReasonStrategyCooldown},
		{"spike", func(g *Gate, c *fakeClock) {
			g.ObserveMarket(MarketSample{Symbol: "ETH/USDT", Price: 100, At: c.Now()})
			g.ObserveMarket(MarketSample{Symbol: "ETH/USDT", Price: 101.2, At: c.Now()})
		}, ReasonSpikeGuard},
		{"news", func(g *Gate, c *fakeClock) {
			g.ObserveSentiment(SentimentSample{Score: -0.9})
		}, ReasonNewsGate},
		{"throttle", func(g *Gate, c *fakeClock) { g.MarkAdmitted("BTC/USDT") }, ReasonThrottle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, clock := newTestGate(t, Config{})
			require.True(t, g.CanAdmit("BTC/USDT", "momo").Allowed)
			tc.force(g, clock)
			d := g.CanAdmit("BTC/USDT", "momo")
			require.False(t, d.Allowed)
			assert.Equal(t, tc.reason, d.Reason)
			var denied *DeniedError
			require.ErrorAs(t, d.Err(), &denied)
			assert.Equal(t, tc.reason, denied.Reason)
		})
	}
}

func TestGate_StrategyBreakerOnlyAffectsThatStrategy(t *testing.T) {
	g, clock := newTestGate(t, Config{MinSignalInterval: -1})
	g.OpenStrategyBreaker("arb", 5*time.Minute)
	assert.Equal(t, ReasonStrategyCooldown, g.CanAdmit("BTC/USDT", "arb").Reason)
	assert.True(t, g.CanAdmit("BTC/USDT", "momo").Allowed)
	clock.Advance(5 * time.Minute)
	assert.True(t, g.CanAdmit("BTC/USDT", "arb").Allowed)
}

func TestGate_EventGatesExpire(t *testing.T) {
	g, clock := newTestGate(t, Config{MinSignalInterval: -1})
	g.ObserveSentiment(SentimentSample{Score: 0.1, Regulatory: -0.7, Source: "sec"})
	require.Equal(t, ReasonNewsGate, g.CanAdmit("BTC/USDT", "s").Reason)
	clock.Advance(5 * time.Minute)
	require.True(t, g.CanAdmit("BTC/USDT", "s").Allowed)

	g.ObserveSentiment(SentimentSample{Score: 0.5, Regulatory: -0.2})
	require.True(t, g.CanAdmit("BTC/USDT", "s").Allowed, "below extremes")

	g.ObserveMarket(MarketSample{Symbol: "BTC/USDT", Price: 100})
	clock.Advance(10 * time.Second)
	g.ObserveMarket(MarketSample{Symbol: "BTC/USDT", Price: 98.9})
	require.Equal(t, ReasonSpikeGuard, g.CanAdmit("BTC/USDT", "s").Reason)
	clock.Advance(3 * time.Minute)
	require.True(t, g.CanAdmit("BTC/USDT", "s").Allowed)
}

func TestGate_ValidateEdge(t *testing.T) {
	g, _ := newTestGate(t, Config{})
	fast, _ := newTestGate(t, Config{Mode: ModeFast})

	d := g.ValidateEdge(intent("BTC/USDT", "s", 1), 40000, 0.1, nil, 100)
	assert.Equal(t, ReasonLowLiquidity, d.Reason)
	assert.True(t, fast.ValidateEdge(intent("BTC/USDT", "s", 1), 40000, 0.1, nil, 100).Allowed)

	// sqrt(10000/60000) ≈ 0.408% > 0.30%
	d = g.ValidateEdge(intent("BTC/USDT", "s", 2), 60000, 0.1, nil, 10000)
	assert.Equal(t, ReasonHighSlippage, d.Reason)
	assert.InDelta(t, 0.408, d.SlippagePct, 0.001)
	assert.True(t, fast.ValidateEdge(intent("BTC/USDT", "s", 2), 60000, 0.1, nil, 10000).Allowed)

	// 0.3 − (0.2 + 0.0316) < 0.1
	d = g.ValidateEdge(intent("BTC/USDT", "s", 0.3), 100000, 0.2, nil, 100)
	assert.Equal(t, ReasonLowEdge, d.Reason)

	slip := 0.0
	d = g.ValidateEdge(intent("BTC/USDT", "s", 0.35), 100000, 0.2, &slip, 100)
	assert.True(t, d.Allowed)
	assert.InDelta(t, 0.15, d.NetEdgePct, 1e-9)
}

func TestGate_AdmitMarksThrottle(t *testing.T) {
	g, clock := newTestGate(t, Config{})
	in := intent("BTC/USDT", "s", 1)
	require.True(t, g.Admit(in, 1e6, 0.1, 100).Allowed)
	assert.Equal(t, ReasonThrottle, g.Admit(in, 1e6, 0.1, 100).Reason)
	assert.True(t, g.Admit(intent("ETH/USDT", "s", 1), 1e6, 0.1, 100).Allowed)
	clock.Advance(20 * time.Second)
	assert.True(t, g.Admit(in, 1e6, 0.1, 100).Allowed)
	assert.Equal(t, 3, g.Snapshot().TradesToday)
}

func TestGate_PersistsAndReloadsDailyState(t *testing.T) {
	store := NewStateStore(persistence.NewJSONFileService(t.TempDir()), "test")
	clock := newClock()
	g, err := NewGate(Config{MinSignalInterval: -1, MaxConsecutiveLosses: 10}, store, WithClock(clock.Now))
	require.NoError(t, err)
	g.RecordOutcome("X/USDT", "s", -5, -0.5)
	g.RecordOutcome("X/USDT", "s", -7, -0.7)

	g2, err := NewGate(Config{MinSignalInterval: -1, MaxConsecutiveLosses: 10}, store, WithClock(clock.Now))
	require.NoError(t, err)
	st := g2.Snapshot()
	assert.InDelta(t, -12, st.RealizedPnL, 1e-9)
	assert.Equal(t, 2, st.SymbolLossStreaks["X/USDT"])
	assert.Equal(t, ReasonSymbolCooldown, g2.CanAdmit("X/USDT", "s").Reason)

	// 第二天从空状态开始
	clock.Advance(24 * time.Hour)
	g3, err := NewGate(Config{}, store, WithClock(clock.Now))
	require.NoError(t, err)
	assert.Zero(t, g3.Snapshot().RealizedPnL)
}

func TestGate_ActiveGates(t *testing.T) {
	g, _ := newTestGate(t, Config{MinSignalInterval: -1, MaxConsecutiveLosses: 10})
	assert.Empty(t, g.ActiveGates())
	g.RecordOutcome("X/USDT", "s", -1, -0.1)
	g.RecordOutcome("X/USDT", "s", -1, -0.1)
	g.OpenStrategyBreaker("arb", 0)
	g.ObserveSentiment(SentimentSample{Score: 0.95})
	reasons := map[Reason]bool{}
	for _, a := range g.ActiveGates() {
		reasons[a.Reason] = true
	}
	assert.True(t, reasons[ReasonSymbolCooldown])
	assert.True(t, reasons[ReasonStrategyCooldown])
	assert.True(t, reasons[ReasonNewsGate])
}
