package execution

import (
	"context"
	"time"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/internal/metrics"
	"github.com/betbot/execbot/internal/ports"
	"github.com/betbot/execbot/pkg/orderbook"
)

// ladderPrice 第 i 档价格：买单从 bid 往下，卖单从 ask 往上，每档 step bps
func ladderPrice(side domain.Side, s domain.VenueSnapshot, i int, stepBps float64) float64 {
	off := float64(i) * stepBps / 10000
	if side == domain.SideSell {
		return s.BestAsk * (1 + off)
	}
	return s.BestBid * (1 - off)
}

// runLadder 挂 maker 梯子并在时间盒内等待成交。
//
// 时间盒从第一笔挂单之前开始计时，所有下单和查询都在它之内。
// 无论怎么退出，所有挂出的订单都会被撤（单个撤单失败不影响其余）。
// 时间盒到期且仍有未成交订单时返回 ErrExecutionTimeout；下单失败返回该错误。
// 返回的成交汇总取自撤单之后，撤单期间的成交也计入。
func (e *Engine) runLadder(ctx context.Context, venue ports.Venue, symbol string, side domain.Side, size float64, snap domain.VenueSnapshot, rules domain.MarketRules) (fs fillSummary, err error) {
	book := orderbook.NewActiveOrderBook(symbol)
	book.OnFilled(func(o *domain.Order) {
		metrics.LadderFills.Add(1)
		log.WithField("symbol", symbol).Debugf("梯子订单 %s 完全成交 %.8g@%.8g", o.OrderID, o.FilledSize, o.AvgFillPrice)
	})
	ladderCtx, cancel := context.WithTimeout(ctx, e.cfg.Timebox)
	defer cancel()
	defer func() {
		e.cancelLadder(ctx, venue, book)
		fs = summarize(book)
	}()

	levels := e.cfg.LadderLevels
	if levels > len(e.cfg.LadderFractions) {
		levels = len(e.cfg.LadderFractions)
	}
	for i := 0; i < levels; i++ {
		px := rules.RoundPrice(ladderPrice(side, snap, i, e.cfg.LadderStepBps))
		qty, err := NormalizeSize(size*e.cfg.LadderFractions[i], px, rules)
		if err != nil {
			log.WithField("symbol", symbol).Debugf("梯子第 %d 档数量不合法，跳过: %v", i, err)
			continue
		}
		order, err := venue.PlaceOrder(ladderCtx, domain.OrderRequest{
			ClientOrderID: newClientOrderID(),
			Symbol:        symbol,
			Side:          side,
			Type:          domain.OrderTypeLimit,
			Size:          qty,
			Price:         px,
			PostOnly:      rules.SupportsPostOnly,
		})
		if err != nil {
			if ladderCtx.Err() != nil && ctx.Err() == nil {
				return fillSummary{}, ErrExecutionTimeout
			}
			metrics.OrdersRejected.Add(1)
			return fillSummary{}, err
		}
		metrics.OrdersPlaced.Add(1)
		book.Add(order)
	}
	if book.NumOfOrders() == 0 {
		return fillSummary{}, nil
	}

	poll := time.NewTicker(e.cfg.FillPollInterval)
	defer poll.Stop()
	for {
		if len(book.Open()) == 0 {
			return fillSummary{}, nil
		}
		select {
		case <-ladderCtx.Done():
			if ctx.Err() != nil {
				return fillSummary{}, ctx.Err()
			}
			return fillSummary{}, ErrExecutionTimeout
		case <-book.C.C():
			// 状态有变化，回到循环顶部检查是否全部成交
		case <-poll.C:
			e.refreshOrders(ladderCtx, venue, book)
		}
	}
}

func (e *Engine) refreshOrders(ctx context.Context, venue ports.Venue, book *orderbook.ActiveOrderBook) {
	for _, o := range book.Open() {
		latest, err := venue.FetchOrder(ctx, o.OrderID, book.Symbol)
		if err != nil {
			log.WithField("symbol", book.Symbol).Debugf("查询订单 %s 失败: %v", o.OrderID, err)
			continue
		}
		book.Update(latest)
	}
}

// cancelLadder 撤掉所有未终态订单并刷新一次最终成交。
// 用独立的超时上下文：调用方 ctx 已取消时也要撤单。
func (e *Engine) cancelLadder(ctx context.Context, venue ports.Venue, book *orderbook.ActiveOrderBook) {
	if book.NumOfOrders() == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CancelTimeout)
	defer cancel()

	open := book.Open()
	err := book.CancelAll(cctx, func(ctx context.Context, orderID string) error {
		return venue.CancelOrder(ctx, orderID, book.Symbol)
	})
	if err != nil {
		log.WithField("symbol", book.Symbol).Warnf("撤单部分失败: %v", err)
	}
	// 撤单与成交可能交错，最后再读一次累计成交
	for _, o := range open {
		if latest, ferr := venue.FetchOrder(cctx, o.OrderID, book.Symbol); ferr == nil {
			book.Update(latest)
		}
	}
}

func summarize(book *orderbook.ActiveOrderBook) fillSummary {
	return fillSummary{Filled: book.FilledSize(), Notional: book.FilledNotional()}
}
