package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionSlots(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newExecutionSlots(time.Minute)
	s.now = func() time.Time { return now }

	require.NoError(t, s.acquire("BTC/USDT", "momentum"))
	now = now.Add(1500 * time.Millisecond)
	err := s.acquire("BTC/USDT", "momentum")
	require.ErrorIs(t, err, ErrDuplicateInFlight)
	assert.Contains(t, err.Error(), "1.5s")
	assert.NoError(t, s.acquire("BTC/USDT", "arb"), "other strategies are independent")
	assert.Equal(t, 2, s.running())

	s.release("BTC/USDT", "momentum")
	require.NoError(t, s.acquire("BTC/USDT", "momentum"))

	// 未归还的槽位到期后可再次占用
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, s.running())
	assert.NoError(t, s.acquire("BTC/USDT", "momentum"))
}

func TestExecute_RejectsConcurrentSameSlot(t *testing.T) {
	books := newFakeBooks(snapshot("binance", 99.95, 100.05, 50000))
	v := newFakeVenue("binance", books)
	v.limitFill = 1
	e := newTestEngine(books, v)

	require.NoError(t, e.slots.acquire("BTC/USDT", "momentum"))
	_, err := e.Execute(context.Background(), buyIntent(), 1000, 5000)
	reason, ok := IsRejected(err)
	require.True(t, ok)
	assert.Equal(t, RejectInFlight, reason)
	assert.Empty(t, v.requests)

	e.slots.release("BTC/USDT", "momentum")
	_, err = e.Execute(context.Background(), buyIntent(), 1000, 5000)
	require.NoError(t, err)
	assert.Equal(t, 0, e.slots.running(), "slot returned after Execute")
}
