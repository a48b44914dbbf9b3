package marketdata

import "time"

// rateCounter 最近 window 内的消息数（环形时间戳，调用方加锁）
type rateCounter struct {
	window time.Duration
	ts     []time.Time
}

func newRateCounter(window time.Duration) *rateCounter {
	return &rateCounter{window: window}
}

func (r *rateCounter) add(now time.Time) {
	r.prune(now)
	r.ts = append(r.ts, now)
}

func (r *rateCounter) count(now time.Time) int {
	r.prune(now)
	return len(r.ts)
}

func (r *rateCounter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.ts) && !r.ts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.ts = append(r.ts[:0], r.ts[i:]...)
	}
}
