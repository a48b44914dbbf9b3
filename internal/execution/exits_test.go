package execution

import (
	"testing"

	"github.com/betbot/execbot/internal/domain"
)

func longTrade() *domain.Trade {
	return &domain.Trade{
		ID: "t", Symbol: "BTC/USDT", Side: domain.SideBuy, Status: domain.TradeOpen,
		FilledSize: 10, OpenSize: 10, EntryPrice: 100, StopPrice: 99, TrailRef: 100,
	}
}

var rules = ExitRules{PartialTriggerRatio: 0.5, PartialCloseFraction: 0.5, TrailingStopBps: 15}

func TestExitRules_PartialFiresOnce(t *testing.T) {
	tr := longTrade()
	d := rules.Evaluate(tr, 100.6, 10, false)
	if d.Action != ExitPartial || d.Fraction != 0.5 {
		t.Fatalf("expected partial at 60%% of target, got %+v", d)
	}

	tr.PartialTaken = true
	tr.OpenSize = 5
	tr.RealizedPnL = 3
	if d := rules.Evaluate(tr, 100.6, 10, false); d.Action == ExitPartial {
		t.Fatalf("partial must not fire twice")
	}
}

func TestExitRules_Order(t *testing.T) {
	tr := longTrade()
	// 达到全额目标时不走部分止盈
	if d := rules.Evaluate(tr, 101.2, 10, false); d.Action != ExitClose || d.Reason != domain.ReasonProfitTarget {
		t.Fatalf("expected profit target, got %+v", d)
	}
	if d := rules.Evaluate(tr, 98.9, 10, false); d.Action != ExitClose || d.Reason != domain.ReasonStopLoss {
		t.Fatalf("expected stop loss, got %+v", d)
	}
	// 止损优先于超时
	if d := rules.Evaluate(tr, 98.9, 10, true); d.Reason != domain.ReasonStopLoss {
		t.Fatalf("stop loss must win over timeout, got %+v", d)
	}
	if d := rules.Evaluate(tr, 100.1, 10, true); d.Action != ExitClose || d.Reason != domain.ReasonTimeout {
		t.Fatalf("expected timeout, got %+v", d)
	}
	if d := rules.Evaluate(tr, 100.1, 10, false); d.Action != ExitHold || d.NewStop != 0 {
		t.Fatalf("no trailing before partial, got %+v", d)
	}

	tr.Status = domain.TradeClosed
	if d := rules.Evaluate(tr, 98, 10, true); d.Action != ExitHold {
		t.Fatalf("terminal trade must be ignored")
	}
}

func TestExitRules_TrailingIsMonotonic(t *testing.T) {
	for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		tr := longTrade()
		tr.Side = side
		tr.PartialTaken = true
		tr.OpenSize = 5
		if side == domain.SideSell {
			tr.StopPrice = 101
		}
		path := []float64{100.3, 100.6, 100.5, 100.9, 100.8, 100.95}
		if side == domain.SideSell {
			path = []float64{99.7, 99.4, 99.5, 99.1, 99.2, 99.05}
		}
		for _, p := range path {
			d := rules.Evaluate(tr, p, 1000, false)
			if d.Action == ExitClose {
				t.Fatalf("%s stopped out at %v (stop %v)", side, p, tr.StopPrice)
			}
			if d.TrailRef > 0 {
				tr.TrailRef = d.TrailRef
			}
			if d.NewStop > 0 {
				if side == domain.SideBuy && d.NewStop <= tr.StopPrice {
					t.Fatalf("buy stop loosened: %v -> %v", tr.StopPrice, d.NewStop)
				}
				if side == domain.SideSell && d.NewStop >= tr.StopPrice {
					t.Fatalf("sell stop loosened: %v -> %v", tr.StopPrice, d.NewStop)
				}
				tr.StopPrice = d.NewStop
			}
		}
		if side == domain.SideBuy && tr.StopPrice < 100.9*(1-0.0015)-1e-9 {
			t.Fatalf("buy stop did not follow the high: %v", tr.StopPrice)
		}
		if side == domain.SideSell && tr.StopPrice > 99.1*(1+0.0015)+1e-9 {
			t.Fatalf("sell stop did not follow the low: %v", tr.StopPrice)
		}
	}
}
