package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/internal/execution"
	"github.com/betbot/execbot/internal/risk"
	"github.com/betbot/execbot/internal/sizing"
)

type stubBooks struct {
	mu  sync.Mutex
	liq float64
	mid float64
}

func (b *stubBooks) TopLiquidityUSD(string, ...string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.liq
}

func (b *stubBooks) FreshSnapshots(symbol string) []domain.VenueSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mid <= 0 {
		return nil
	}
	return []domain.VenueSnapshot{{Venue: "binance", Symbol: symbol, Mid: b.mid}}
}

type execCall struct {
	symbol   string
	notional float64
	equity   float64
	target   float64
}

type stubExecutor struct {
	mu      sync.Mutex
	calls   []execCall
	fail    error
	outcome domain.TradeStatus
}

func (e *stubExecutor) Execute(_ context.Context, intent domain.TradeIntent, notional, equity float64) (*domain.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, execCall{symbol: intent.Core().Symbol, notional: notional, equity: equity})
	if e.fail != nil {
		return nil, e.fail
	}
	return &domain.Trade{ID: "t", Symbol: intent.Core().Symbol, Status: domain.TradeOpen}, nil
}

func (e *stubExecutor) Supervise(_ context.Context, t *domain.Trade, target float64) execution.Outcome {
	e.mu.Lock()
	e.calls[len(e.calls)-1].target = target
	status := e.outcome
	e.mu.Unlock()
	if status == "" {
		status = domain.TradeClosed
	}
	t.Status = status
	return execution.Outcome{Trade: *t}
}

func signal(symbol, strategy string) domain.TradeIntent {
	return domain.SignalIntent{IntentCore: domain.IntentCore{
		Symbol: symbol, Side: domain.SideBuy, Confidence: 0.8, ExpectedProfitPct: 1,
		EntryPrice: 100, TargetPrice: 101, StopPrice: 99, Strategy: strategy,
	}}
}

func newTestScheduler(t *testing.T, books *stubBooks, exec *stubExecutor) (*Scheduler, *risk.Gate) {
	t.Helper()
	gate, err := risk.NewGate(risk.Config{MinSignalInterval: -1}, nil)
	require.NoError(t, err)
	s := New(Config{Symbols: []string{"BTC/USDT"}}, gate, sizing.NewSizer(sizing.Config{}), exec, books)
	return s, gate
}

func TestScheduler_AdmitsExecutesAndSupervises(t *testing.T) {
	books := &stubBooks{liq: 100000, mid: 100}
	exec := &stubExecutor{}
	s, gate := newTestScheduler(t, books, exec)

	require.NoError(t, s.Submit(signal("BTC/USDT", "momentum")))
	s.Tick(context.Background())
	s.Wait()

	require.Len(t, exec.calls, 1)
	c := exec.calls[0]
	assert.Greater(t, c.notional, 0.0)
	assert.Greater(t, c.equity, 0.0)
	assert.Greater(t, c.target, 0.0)

	st := s.Stats()
	assert.EqualValues(t, 1, st.Executed)
	assert.EqualValues(t, 1, st.Closed)
	assert.Equal(t, 1, gate.Snapshot().TradesToday)
}

func TestScheduler_Denials(t *testing.T) {
	t.Run("low liquidity", func(t *testing.T) {
		exec := &stubExecutor{}
		s, _ := newTestScheduler(t, &stubBooks{liq: 10000, mid: 100}, exec)
		require.NoError(t, s.Submit(signal("BTC/USDT", "momentum")))
		s.Tick(context.Background())
		s.Wait()
		assert.Empty(t, exec.calls)
		assert.EqualValues(t, 1, s.Stats().Denied)
	})
	t.Run("strategy breaker", func(t *testing.T) {
		exec := &stubExecutor{}
		s, gate := newTestScheduler(t, &stubBooks{liq: 100000, mid: 100}, exec)
		gate.OpenStrategyBreaker("momentum", time.Minute)
		require.NoError(t, s.Submit(signal("BTC/USDT", "momentum")))
		require.NoError(t, s.Submit(signal("BTC/USDT", "arb")))
		s.Tick(context.Background())
		s.Wait()
		require.Len(t, exec.calls, 1)
		assert.EqualValues(t, 1, s.Stats().Denied)
	})
	t.Run("price spike freezes admission", func(t *testing.T) {
		books := &stubBooks{liq: 100000, mid: 100}
		exec := &stubExecutor{}
		s, gate := newTestScheduler(t, books, exec)
		s.Tick(context.Background())
		books.mu.Lock()
		books.mid = 102
		books.mu.Unlock()
		require.NoError(t, s.Submit(signal("BTC/USDT", "momentum")))
		s.Tick(context.Background())
		s.Wait()
		assert.Empty(t, exec.calls)
		assert.Equal(t, risk.ReasonSpikeGuard, gate.CanAdmit("ETH/USDT", "other").Reason)
	})
}

func TestScheduler_ExecutionFailureCounted(t *testing.T) {
	exec := &stubExecutor{fail: errors.New("no fill")}
	s, _ := newTestScheduler(t, &stubBooks{liq: 100000, mid: 100}, exec)
	require.NoError(t, s.Submit(signal("BTC/USDT", "momentum")))
	s.Tick(context.Background())
	s.Wait()
	assert.EqualValues(t, 1, s.Stats().Rejected)
	assert.EqualValues(t, 0, s.Stats().Executed)
}

func TestScheduler_SubmitBoundsQueue(t *testing.T) {
	gate, err := risk.NewGate(risk.Config{}, nil)
	require.NoError(t, err)
	s := New(Config{QueueSize: 1}, gate, sizing.NewSizer(sizing.Config{}), &stubExecutor{}, &stubBooks{})

	require.NoError(t, s.Submit(signal("BTC/USDT", "a")))
	assert.ErrorIs(t, s.Submit(signal("BTC/USDT", "b")), ErrQueueFull)
	assert.Error(t, s.Submit(nil))

	bad := domain.SignalIntent{IntentCore: signal("BTC/USDT", "a").Core()}
	bad.Symbol = "BTCUSDT"
	assert.Error(t, s.Submit(bad))

	st := s.Stats()
	assert.EqualValues(t, 1, st.Queued)
	assert.EqualValues(t, 1, st.Dropped)
	assert.Equal(t, 1, st.InQueue)
}

func TestScheduler_StartStopsOnCancel(t *testing.T) {
	exec := &stubExecutor{}
	gate, err := risk.NewGate(risk.Config{MinSignalInterval: -1}, nil)
	require.NoError(t, err)
	s := New(Config{Interval: 5 * time.Millisecond}, gate, sizing.NewSizer(sizing.Config{}), exec, &stubBooks{liq: 100000, mid: 100})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.NoError(t, s.Submit(signal("BTC/USDT", "momentum")))
	require.Eventually(t, func() bool { return s.Stats().Closed == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()
}
