package sizing

import (
	"math"
	"sync"
)

// Stats 滚动窗口统计
type Stats struct {
	Samples        int
	WinRate        float64
	RewardRisk     float64
	RealizedVolPct float64
}

// Tracker 最近 N 笔平仓收益率（%）的滚动窗口
type Tracker struct {
	size int

	mu      sync.Mutex
	returns []float64
}

func NewTracker(size int) *Tracker {
	if size <= 0 {
		size = 50
	}
	return &Tracker{size: size}
}

// Add 记录一笔平仓收益率（%）
func (t *Tracker) Add(returnPct float64) {
	if math.IsNaN(returnPct) || math.IsInf(returnPct, 0) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.returns = append(t.returns, returnPct)
	if len(t.returns) > t.size {
		t.returns = append(t.returns[:0], t.returns[len(t.returns)-t.size:]...)
	}
}

// Stats 胜率、平均盈亏比、收益率标准差
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{Samples: len(t.returns)}
	if s.Samples == 0 {
		return s
	}
	var wins, losses, winSum, lossSum, sum float64
	for _, r := range t.returns {
		sum += r
		if r > 0 {
			wins++
			winSum += r
		} else if r < 0 {
			losses++
			lossSum += -r
		}
	}
	s.WinRate = wins / float64(s.Samples)
	if wins > 0 && losses > 0 {
		s.RewardRisk = (winSum / wins) / (lossSum / losses)
	}
	mean := sum / float64(s.Samples)
	var sq float64
	for _, r := range t.returns {
		sq += (r - mean) * (r - mean)
	}
	if s.Samples > 1 {
		s.RealizedVolPct = math.Sqrt(sq / float64(s.Samples-1))
	}
	return s
}
