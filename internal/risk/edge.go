package risk

import "math"

// EstimateSlippagePct 深度滑点模型：sqrt(notional/liquidity)，凹且单调递增，限制在 [0, 1]（%）。
//
// 流动性为 0 时按最坏情况 1% 处理。
func EstimateSlippagePct(notionalUSD, liquidityUSD float64) float64 {
	return estimateSlippagePct(notionalUSD, liquidityUSD, 1)
}

func estimateSlippagePct(notionalUSD, liquidityUSD, k float64) float64 {
	if notionalUSD <= 0 {
		return 0
	}
	if liquidityUSD <= 0 {
		return 1
	}
	return clamp(k*math.Sqrt(notionalUSD/liquidityUSD), 0, 1)
}

// NetEdgePct 预期收益 − (手续费 + 滑点)
func NetEdgePct(expectedProfitPct, feesPct, slippagePct float64) float64 {
	return expectedProfitPct - (feesPct + slippagePct)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return hi
	}
	return math.Max(lo, math.Min(hi, v))
}
