package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/execbot/internal/domain"
)

// fakeBooks 可变的单交易所盘口
type fakeBooks struct {
	mu    sync.Mutex
	snaps map[string]domain.VenueSnapshot
}

func newFakeBooks(snaps ...domain.VenueSnapshot) *fakeBooks {
	b := &fakeBooks{snaps: make(map[string]domain.VenueSnapshot)}
	for _, s := range snaps {
		b.set(s)
	}
	return b
}

func (b *fakeBooks) set(s domain.VenueSnapshot) {
	b.mu.Lock()
	b.snaps[s.Venue] = s
	b.mu.Unlock()
}

func (b *fakeBooks) setTop(venue string, bid, ask float64) {
	b.mu.Lock()
	s := b.snaps[venue]
	s.BestBid, s.BestAsk = bid, ask
	s.Mid = (bid + ask) / 2
	s.SpreadPct = (ask - bid) / s.Mid * 100
	b.snaps[venue] = s
	b.mu.Unlock()
}

func (b *fakeBooks) Snapshot(symbol, venue string) (domain.VenueSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.snaps[venue]
	return s, ok && s.Symbol == symbol
}

func (b *fakeBooks) FreshSnapshots(symbol string) []domain.VenueSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.VenueSnapshot
	for _, s := range b.snaps {
		if s.Symbol == symbol {
			out = append(out, s)
		}
	}
	return out
}

func (b *fakeBooks) TopLiquidityUSD(symbol string, _ ...string) float64 { return 0 }

func (b *fakeBooks) BestSnapshot(symbol string) (domain.VenueSnapshot, bool) {
	snaps := b.FreshSnapshots(symbol)
	if len(snaps) == 0 {
		return domain.VenueSnapshot{}, false
	}
	return snaps[0], true
}

func (b *fakeBooks) RouteScore(s domain.VenueSnapshot) float64 { return s.AskDepthUSD }

// fakeVenue 内存交易所：限价单按 limitFill 比例立即成交，市价单按当前盘口成交
type fakeVenue struct {
	mu    sync.Mutex
	name  string
	books *fakeBooks
	rules domain.MarketRules

	limitFill    float64
	fillOnCancel float64 // 撤单瞬间按比例成交（撤单与成交交错）
	failMarkets  bool
	placeDelay  time.Duration

	seq      int
	orders   map[string]*domain.Order
	requests []domain.OrderRequest
	canceled []string
}

func newFakeVenue(name string, books *fakeBooks) *fakeVenue {
	return &fakeVenue{
		name:  name,
		books: books,
		rules: domain.MarketRules{
			Symbol: "BTC/USDT", MinQty: 0.001, StepSize: 0.001, MinNotional: 5, TickSize: 0.01, SupportsPostOnly: true,
		},
		orders: make(map[string]*domain.Order),
	}
}

func (v *fakeVenue) Name() string { return v.name }

func (v *fakeVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if v.placeDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(v.placeDelay):
		}
	}
	snap, _ := v.books.Snapshot(req.Symbol, v.name)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = append(v.requests, req)
	v.seq++
	o := &domain.Order{
		OrderID: fmt.Sprintf("%s-%d", v.name, v.seq), ClientOrderID: req.ClientOrderID, Venue: v.name,
		Symbol: req.Symbol, Side: req.Side, Type: req.Type, Price: req.Price, Size: req.Size,
		PostOnly: req.PostOnly, Status: domain.OrderStatusOpen, CreatedAt: time.Now(),
	}
	switch req.Type {
	case domain.OrderTypeMarket:
		if v.failMarkets {
			return nil, fmt.Errorf("venue unavailable")
		}
		o.FilledSize = req.Size
		o.AvgFillPrice = snap.BestAsk
		if req.Side == domain.SideSell {
			o.AvgFillPrice = snap.BestBid
		}
		o.Status = domain.OrderStatusFilled
	default:
		if v.limitFill > 0 {
			o.FilledSize = req.Size * v.limitFill
			o.AvgFillPrice = req.Price
			o.Status = domain.OrderStatusPartial
			if v.limitFill >= 1 {
				o.Status = domain.OrderStatusFilled
			}
		}
	}
	v.orders[o.OrderID] = o
	cp := *o
	return &cp, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, orderID, _ string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	if !o.IsFinalStatus() {
		if v.fillOnCancel > 0 && o.Type == domain.OrderTypeLimit {
			o.FilledSize = o.Size * v.fillOnCancel
			o.AvgFillPrice = o.Price
		}
		o.Status = domain.OrderStatusCanceled
	}
	v.canceled = append(v.canceled, orderID)
	return nil
}

func (v *fakeVenue) FetchOrder(_ context.Context, orderID, _ string) (*domain.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	cp := *o
	return &cp, nil
}

func (v *fakeVenue) FetchOrderBook(context.Context, string, int) (*domain.OrderBook, error) {
	return nil, fmt.Errorf("not implemented")
}

func (v *fakeVenue) FetchTicker(_ context.Context, symbol string) (*domain.Ticker, error) {
	s, ok := v.books.Snapshot(symbol, v.name)
	if !ok {
		return nil, fmt.Errorf("no ticker")
	}
	return &domain.Ticker{Symbol: symbol, Last: s.Mid}, nil
}

func (v *fakeVenue) MarketRules(context.Context, string) (domain.MarketRules, error) {
	return v.rules, nil
}

func (v *fakeVenue) byType(t domain.OrderType) []domain.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.OrderRequest
	for _, r := range v.requests {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

type recordedOutcome struct {
	symbol, strategy string
	pnl, ret         float64
}

type fakeRecorder struct {
	mu  sync.Mutex
	out []recordedOutcome
}

func (r *fakeRecorder) RecordOutcome(symbol, strategy string, pnlUSD, returnPct float64) {
	r.mu.Lock()
	r.out = append(r.out, recordedOutcome{symbol, strategy, pnlUSD, returnPct})
	r.mu.Unlock()
}

type fakeAlerts struct {
	mu    sync.Mutex
	kinds []string
}

func (a *fakeAlerts) Alert(_ context.Context, kind string, _ map[string]any) {
	a.mu.Lock()
	a.kinds = append(a.kinds, kind)
	a.mu.Unlock()
}

type fakeJournal struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (j *fakeJournal) AppendTrade(_ context.Context, t *domain.Trade) error {
	j.mu.Lock()
	j.trades = append(j.trades, *t)
	j.mu.Unlock()
	return nil
}

func snapshot(venue string, bid, ask, depthUSD float64) domain.VenueSnapshot {
	mid := (bid + ask) / 2
	return domain.VenueSnapshot{
		Venue: venue, Symbol: "BTC/USDT", BestBid: bid, BestAsk: ask, Mid: mid,
		SpreadPct: (ask - bid) / mid * 100, BidDepthUSD: depthUSD, AskDepthUSD: depthUSD,
		UpdatedAt: time.Now(),
	}
}

func buyIntent() domain.TradeIntent {
	return domain.SignalIntent{IntentCore: domain.IntentCore{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Confidence: 0.7, ExpectedProfitPct: 0.5,
		EntryPrice: 100, TargetPrice: 102, StopPrice: 99, Strategy: "momentum",
	}}
}

func fastConfig() Config {
	return Config{
		Timebox:             60 * time.Millisecond,
		FillPollInterval:    10 * time.Millisecond,
		SweepChunkDelay:     time.Millisecond,
		MonitorPollInterval: 5 * time.Millisecond,
		MonitorMaxDuration:  2 * time.Second,
		CancelTimeout:       time.Second,
	}
}
