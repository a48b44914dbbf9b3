package marketmath

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Level 一档（价格, 数量）
type Level struct {
	Price float64
	Size  float64
}

// ParseLevel 解析交易所推送的字符串价格/数量（用 decimal 避免 ParseFloat 对 "1e-8" 之外格式的差异）
func ParseLevel(price, size string) (Level, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return Level{}, fmt.Errorf("bad price %q: %w", price, err)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return Level{}, fmt.Errorf("bad size %q: %w", size, err)
	}
	if p.IsNegative() || s.IsNegative() {
		return Level{}, fmt.Errorf("negative level %s@%s", size, price)
	}
	return Level{Price: p.InexactFloat64(), Size: s.InexactFloat64()}, nil
}

// DepthUSD 前 n 档的累计名义金额（price*size）；n<=0 表示全部
func DepthUSD(levels []Level, n int) float64 {
	if n <= 0 || n > len(levels) {
		n = len(levels)
	}
	total := 0.0
	for i := 0; i < n; i++ {
		if levels[i].Price <= 0 || levels[i].Size <= 0 {
			continue
		}
		total += levels[i].Price * levels[i].Size
	}
	return total
}

// Mid 中间价；任一侧缺失返回 0
func Mid(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// SpreadPct (ask-bid)/mid*100；交叉盘口返回 0
func SpreadPct(bid, ask float64) float64 {
	mid := Mid(bid, ask)
	if mid <= 0 || ask < bid {
		return 0
	}
	return (ask - bid) / mid * 100
}

// SpreadBps (ask-bid)/mid*10000
func SpreadBps(bid, ask float64) float64 {
	return SpreadPct(bid, ask) * 100
}

// Imbalance (bidUSD-askUSD)/(bidUSD+askUSD)，范围 [-1,1]
func Imbalance(bidUSD, askUSD float64) float64 {
	total := bidUSD + askUSD
	if total <= 0 {
		return 0
	}
	v := (bidUSD - askUSD) / total
	return math.Max(-1, math.Min(1, v))
}

// WalkResult 吃单遍历结果
type WalkResult struct {
	Filled   float64 // 基础币成交量
	Notional float64 // 报价币成交额
	VWAP     float64
	Worst    float64 // 最差成交价
}

// Walk 按 size 吃掉对手盘（levels 必须按最优到最差排序）；深度不足时部分成交
func Walk(levels []Level, size float64) WalkResult {
	var r WalkResult
	remaining := size
	for _, lv := range levels {
		if remaining <= 0 {
			break
		}
		if lv.Price <= 0 || lv.Size <= 0 {
			continue
		}
		take := math.Min(remaining, lv.Size)
		r.Filled += take
		r.Notional += take * lv.Price
		r.Worst = lv.Price
		remaining -= take
	}
	if r.Filled > 0 {
		r.VWAP = r.Notional / r.Filled
	}
	return r
}
