package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/internal/metrics"
	"github.com/betbot/execbot/internal/ports"
)

// planSweep 把 remaining 切成至多 maxChunks 个相等的块（按步长向下取整，最后一块补齐余数）。
// 块太小不满足交易所最小值时减少块数。
func planSweep(remaining, price float64, maxChunks int, rules domain.MarketRules) []float64 {
	if remaining <= 0 || maxChunks <= 0 {
		return nil
	}
	total := decimal.NewFromFloat(remaining)
	for n := maxChunks; n > 1; n-- {
		chunk := floorStep(total.Div(decimal.NewFromInt(int64(n))), rules.StepSize)
		if !chunk.IsPositive() || !acceptable(chunk, price, rules) {
			continue
		}
		// 余数在十进制里算，避免浮点相减后向下取整丢一个步长
		last := floorStep(total.Sub(chunk.Mul(decimal.NewFromInt(int64(n-1)))), rules.StepSize)
		if !acceptable(last, price, rules) {
			continue
		}
		out := make([]float64, n)
		for i := 0; i < n-1; i++ {
			out[i] = chunk.InexactFloat64()
		}
		out[n-1] = last.InexactFloat64()
		return out
	}
	single, err := NormalizeSize(remaining, price, rules)
	if err != nil {
		return nil
	}
	return []float64{single}
}

// acceptable 数量不需要任何调整就满足交易所约束
func acceptable(q decimal.Decimal, price float64, rules domain.MarketRules) bool {
	f := q.InexactFloat64()
	norm, err := NormalizeSize(f, price, rules)
	return err == nil && norm == f
}

// runSweep 市价分块扫单，块之间间隔 SweepChunkDelay。
// 任一块失败即停止（已成交部分保留，不重试）。返回已下的块数。
func (e *Engine) runSweep(ctx context.Context, venue ports.Venue, symbol string, side domain.Side, remaining, refPrice float64, rules domain.MarketRules) (fillSummary, int, error) {
	plan := planSweep(remaining, refPrice, e.cfg.SweepMaxChunks, rules)
	if len(plan) == 0 {
		return fillSummary{}, 0, fmt.Errorf("remaining %.8g cannot be normalized", remaining)
	}
	var total fillSummary
	for i, qty := range plan {
		if i > 0 {
			if err := sleepCtx(ctx, e.cfg.SweepChunkDelay); err != nil {
				return total, i, err
			}
		}
		fill, err := e.marketOrder(ctx, venue, symbol, side, qty, refPrice)
		metrics.SweepChunks.Add(1)
		if err != nil {
			return total, i + 1, err
		}
		total = total.add(fill)
	}
	return total, len(plan), nil
}

// marketOrder 下一笔市价单并返回成交；拒单/失败/零成交都算错误
func (e *Engine) marketOrder(ctx context.Context, venue ports.Venue, symbol string, side domain.Side, qty, refPrice float64) (fillSummary, error) {
	order, err := venue.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: newClientOrderID(),
		Symbol:        symbol,
		Side:          side,
		Type:          domain.OrderTypeMarket,
		Size:          qty,
	})
	if err != nil {
		metrics.OrdersRejected.Add(1)
		return fillSummary{}, err
	}
	metrics.OrdersPlaced.Add(1)
	if order == nil {
		return fillSummary{}, fmt.Errorf("venue returned no order")
	}
	if order.Status == domain.OrderStatusRejected || order.Status == domain.OrderStatusFailed {
		metrics.OrdersRejected.Add(1)
		return fillSummary{}, fmt.Errorf("market order %s %s", order.OrderID, order.Status)
	}
	filled := order.FilledSize
	if filled <= 0 && order.Status == domain.OrderStatusFilled {
		filled = order.Size
	}
	if filled <= 0 {
		return fillSummary{}, fmt.Errorf("market order %s not filled (%s)", order.OrderID, order.Status)
	}
	px := order.AvgFillPrice
	if px <= 0 {
		px = refPrice
	}
	return fillSummary{Filled: filled, Notional: filled * px}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
