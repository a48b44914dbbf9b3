// Package sizing 仓位计算：Kelly 比例、波动率目标杠杆、名义金额和单笔目标盈利。
package sizing

import "math"

// KellyFraction f = clamp(0, cap, p − (1−p)/b)
func KellyFraction(p, b, cap float64) float64 {
	if cap <= 0 || b <= 0 || math.IsNaN(p) || math.IsNaN(b) {
		return 0
	}
	p = clamp(p, 0, 1)
	return clamp(p-(1-p)/b, 0, cap)
}

// VolTargetLeverage lev = clamp(1, levMax, targetVol / realizedVol)；没有实现波动时取 1
func VolTargetLeverage(targetVolPct, realizedVolPct, levMax float64) float64 {
	if levMax < 1 {
		levMax = 1
	}
	if realizedVolPct <= 0 || targetVolPct <= 0 {
		return 1
	}
	return clamp(targetVolPct/realizedVolPct, 1, levMax)
}

// Notional floor(min(equity × f × lev, ceiling))；ceiling <= 0 表示不封顶
func Notional(equity, f, lev, ceiling float64) float64 {
	n := equity * f * lev
	if ceiling > 0 {
		n = math.Min(n, ceiling)
	}
	if n <= 0 || math.IsNaN(n) {
		return 0
	}
	return math.Floor(n)
}

// PerTradeTarget clamp(minT, maxT, remainingDailyTarget / remainingTrades)
func PerTradeTarget(remainingDailyTarget float64, remainingTrades int, minT, maxT float64) float64 {
	if maxT < minT {
		maxT = minT
	}
	if remainingTrades <= 0 {
		remainingTrades = 1
	}
	return clamp(remainingDailyTarget/float64(remainingTrades), minT, maxT)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
