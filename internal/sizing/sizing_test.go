package sizing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKellyFractionWithinBounds(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		p := r.Float64()*1.4 - 0.2
		b := r.Float64() * 5
		cap := r.Float64()
		f := KellyFraction(p, b, cap)
		if f < 0 || f > cap {
			t.Fatalf("KellyFraction(%v, %v, %v) = %v out of [0, cap]", p, b, cap, f)
		}
	}
	assert.InDelta(t, 0.5-0.5/1.5, KellyFraction(0.5, 1.5, 0.25), 1e-12)
	assert.Equal(t, 0.25, KellyFraction(0.9, 3, 0.25))
	assert.Zero(t, KellyFraction(0.3, 1, 0.25), "negative edge")
}

func TestVolTargetLeverage(t *testing.T) {
	assert.Equal(t, 1.0, VolTargetLeverage(2, 0, 3), "no realized vol")
	assert.Equal(t, 2.0, VolTargetLeverage(2, 1, 3))
	assert.Equal(t, 3.0, VolTargetLeverage(2, 0.1, 3))
	assert.Equal(t, 1.0, VolTargetLeverage(2, 8, 3))
}

func TestNotionalNeverExceedsCeiling(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 5000; i++ {
		ceiling := 1 + r.Float64()*10000
		n := Notional(r.Float64()*1e6, r.Float64()*0.25, 1+r.Float64()*4, ceiling)
		if n > ceiling || n < 0 {
			t.Fatalf("notional %v out of [0, %v]", n, ceiling)
		}
	}
	assert.Equal(t, 166.0, Notional(1000, 1.0/6, 1, 5000))
}

func TestPerTradeTarget(t *testing.T) {
	assert.Equal(t, 5.0, PerTradeTarget(100, 20, 1, 25))
	assert.Equal(t, 25.0, PerTradeTarget(100, 2, 1, 25))
	assert.Equal(t, 1.0, PerTradeTarget(0, 20, 1, 25))
	assert.Equal(t, 25.0, PerTradeTarget(100, 0, 1, 25))
}

func TestSizerUsesPriorsThenTracker(t *testing.T) {
	s := NewSizer(Config{EquityUSD: 1000, MinSamples: 4})
	s.now = func() time.Time { return time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC) }

	first := s.Next()
	assert.Equal(t, 0.5, first.WinRate)
	assert.Equal(t, 1.5, first.RewardRisk)
	assert.Equal(t, 1.0, first.Leverage)
	assert.Equal(t, 166.0, first.NotionalUSD)
	assert.Equal(t, 5.0, first.TargetUSD)

	for _, r := range []float64{1, 1, 1, -0.5} {
		s.RecordOutcome("BTC/USDT", "s", r*10, r)
	}
	st := s.Stats()
	require.Equal(t, 4, st.Samples)
	assert.Equal(t, 0.75, st.WinRate)
	assert.Equal(t, 2.0, st.RewardRisk)

	next := s.Next()
	assert.Equal(t, 0.25, next.Fraction, "0.75 − 0.25/2 capped at 0.25")
	assert.InDelta(t, 1025, next.EquityUSD, 1e-9)
	assert.LessOrEqual(t, next.NotionalUSD, 5000.0)
	assert.InDelta(t, 75.0/16, next.TargetUSD, 1e-9)
}

func TestSizerDayRollover(t *testing.T) {
	now := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	s := NewSizer(Config{EquityUSD: 1000})
	s.now = func() time.Time { return now }
	s.RecordOutcome("BTC/USDT", "s", -40, -4)
	assert.Equal(t, 960.0, s.EquityUSD())
	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1000.0, s.EquityUSD())
}
