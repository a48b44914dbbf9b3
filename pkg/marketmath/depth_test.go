package marketmath

import (
	"math"
	"testing"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestParseLevel(t *testing.T) {
	lv, err := ParseLevel("64250.10", "0.015")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !almost(lv.Price, 64250.10) || !almost(lv.Size, 0.015) {
		t.Fatalf("unexpected %+v", lv)
	}
	if _, err := ParseLevel("abc", "1"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ParseLevel("1", "-2"); err == nil {
		t.Fatalf("expected negative error")
	}
}

func TestDepthAndSpread(t *testing.T) {
	bids := []Level{{100, 1}, {99, 2}, {98, 3}}
	if got := DepthUSD(bids, 2); !almost(got, 298) {
		t.Fatalf("depth=%v", got)
	}
	if got := DepthUSD(bids, 0); !almost(got, 592) {
		t.Fatalf("depth all=%v", got)
	}
	if got := SpreadBps(100, 100.1); math.Abs(got-9.995) > 1e-3 {
		t.Fatalf("spread bps=%v", got)
	}
	if SpreadPct(101, 100) != 0 {
		t.Fatalf("crossed book spread must be 0")
	}
	if got := Imbalance(300, 100); !almost(got, 0.5) {
		t.Fatalf("imbalance=%v", got)
	}
	if Imbalance(0, 0) != 0 {
		t.Fatalf("empty imbalance")
	}
}

func TestWalk(t *testing.T) {
	asks := []Level{{100, 1}, {101, 1}, {102, 1}}
	r := Walk(asks, 1.5)
	if !almost(r.Filled, 1.5) || !almost(r.Notional, 150.5) || !almost(r.Worst, 101) {
		t.Fatalf("walk=%+v", r)
	}
	r = Walk(asks, 10)
	if !almost(r.Filled, 3) || !almost(r.VWAP, 101) {
		t.Fatalf("partial walk=%+v", r)
	}
}
