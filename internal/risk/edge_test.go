package risk

import (
	"math"
	"testing"
	"time"
)

func TestEstimateSlippagePct_MonotonicConcaveClamped(t *testing.T) {
	const liq = 100000.0
	prev := -1.0
	prevStep := math.Inf(1)
	for n := 1000.0; n <= 50000; n += 1000 {
		s := EstimateSlippagePct(n, liq)
		if s < 0 || s > 1 {
			t.Fatalf("slippage(%v) = %v out of [0,1]", n, s)
		}
		if s < prev {
			t.Fatalf("slippage decreased at %v", n)
		}
		if prev >= 0 {
			step := s - prev
			if step > prevStep+1e-12 {
				t.Fatalf("not concave at %v: step %v > %v", n, step, prevStep)
			}
			prevStep = step
		}
		prev = s
	}
	if got := EstimateSlippagePct(1e9, liq); got != 1 {
		t.Fatalf("large notional should clamp to 1, got %v", got)
	}
	if got := EstimateSlippagePct(100, 0); got != 1 {
		t.Fatalf("zero liquidity should be worst case, got %v", got)
	}
	if got := EstimateSlippagePct(0, liq); got != 0 {
		t.Fatalf("zero notional should be 0, got %v", got)
	}
}

func TestSpikeGuard_VolumeSurge(t *testing.T) {
	g := newSpikeGuard(Config{}.normalized())
	t0 := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		if g.Observe(MarketSample{Symbol: "BTC/USDT", Price: 100, Volume: 10, At: t0.Add(time.Duration(i) * time.Second)}) {
			t.Fatalf("flat samples must not trigger")
		}
	}
	if !g.Observe(MarketSample{Symbol: "BTC/USDT", Price: 100, Volume: 31, At: t0.Add(3 * time.Second)}) {
		t.Fatalf("3.1x volume should trigger")
	}
	until, _, ok := g.Active(t0.Add(3 * time.Second))
	if !ok || !until.Equal(t0.Add(3*time.Second+3*time.Minute)) {
		t.Fatalf("Active = %v %v", until, ok)
	}
}

func TestSpikeGuard_OldSamplesOutsideWindowIgnored(t *testing.T) {
	g := newSpikeGuard(Config{}.normalized())
	t0 := time.Unix(1000, 0)
	g.Observe(MarketSample{Symbol: "BTC/USDT", Price: 100, At: t0})
	// 窗口（1 分钟）之外的样本不参与比较
	if g.Observe(MarketSample{Symbol: "BTC/USDT", Price: 105, At: t0.Add(2 * time.Minute)}) {
		t.Fatalf("move against an expired sample must not trigger")
	}
}
