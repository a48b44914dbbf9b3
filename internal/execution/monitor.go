package execution

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/internal/metrics"
	"github.com/betbot/execbot/internal/ports"
)

// Outcome 监控结束时的交易终态
type Outcome struct {
	Trade domain.Trade
	// Err 平仓失败时为 *CloseFailureError
	Err error
}

// Supervise 监控一笔持仓直到 CLOSED/STOPPED。阻塞，调用方为每笔交易单独起 goroutine。
//
// 每个 tick 重新计算盈亏并按固定顺序应用退出规则；最长 MonitorMaxDuration。
// ctx 取消时以 SHUTDOWN 原因平仓。
func (e *Engine) Supervise(ctx context.Context, t *domain.Trade, targetUSD float64) Outcome {
	if t == nil {
		return Outcome{}
	}
	venue, ok := e.venues[t.Venue]
	if !ok {
		err := &CloseFailureError{TradeID: t.ID, Symbol: t.Symbol, Venue: t.Venue, Size: t.OpenSize, Err: rejected(RejectNoVenue, t.Venue, t.Symbol, "")}
		e.stop(ctx, t, err)
		return e.finish(ctx, t, err)
	}
	t.TargetUSD = targetUSD
	tlog := log.WithFields(logrus.Fields{"trade_id": t.ID, "symbol": t.Symbol, "venue": t.Venue})
	tlog.Infof("开始监控: target=$%.2f stop=%.8g max=%v", targetUSD, t.StopPrice, e.cfg.MonitorMaxDuration)

	deadline := e.now().Add(e.cfg.MonitorMaxDuration)
	ticker := time.NewTicker(e.cfg.MonitorPollInterval)
	defer ticker.Stop()

	for !t.IsTerminal() {
		select {
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CancelTimeout)
			err := e.closeAll(cctx, venue, t, domain.ReasonShutdown, 0)
			cancel()
			return e.finish(ctx, t, err)
		case <-ticker.C:
		}

		expired := !e.now().Before(deadline)
		price, ok := e.markPrice(ctx, venue, t)
		if !ok {
			if expired {
				if err := e.closeAll(ctx, venue, t, domain.ReasonTimeout, 0); err != nil {
					return e.finish(ctx, t, err)
				}
			}
			continue
		}

		d := e.exitRules.Evaluate(t, price, targetUSD, expired)
		if d.TrailRef > 0 {
			t.TrailRef = d.TrailRef
		}
		if d.NewStop > 0 {
			tlog.Debugf("追踪止损收紧: %.8g -> %.8g", t.StopPrice, d.NewStop)
			t.StopPrice = d.NewStop
		}
		switch d.Action {
		case ExitPartial:
			if err := e.closePartial(ctx, venue, t, d.Fraction, price); err != nil {
				return e.finish(ctx, t, err)
			}
			tlog.Infof("部分止盈: 剩余 %.8g，已实现 %.4f", t.OpenSize, t.RealizedPnL)
		case ExitClose:
			if err := e.closeAll(ctx, venue, t, d.Reason, price); err != nil {
				return e.finish(ctx, t, err)
			}
		}
		e.track(t)
	}
	return e.finish(ctx, t, nil)
}

// markPrice 平仓可成交价：多头看 bid，空头看 ask；快照过期时退回 REST ticker
func (e *Engine) markPrice(ctx context.Context, venue ports.Venue, t *domain.Trade) (float64, bool) {
	for _, s := range e.books.FreshSnapshots(t.Symbol) {
		if s.Venue != t.Venue {
			continue
		}
		if t.Side == domain.SideSell {
			return s.BestAsk, s.BestAsk > 0
		}
		return s.BestBid, s.BestBid > 0
	}
	tctx, cancel := context.WithTimeout(ctx, e.cfg.MonitorPollInterval)
	defer cancel()
	tk, err := venue.FetchTicker(tctx, t.Symbol)
	if err != nil || tk == nil || tk.Last <= 0 {
		log.WithField("trade_id", t.ID).Debugf("获取价格失败: %v", err)
		return 0, false
	}
	return tk.Last, true
}

// closePartial 平掉 OpenSize × fraction；PartialTaken 只会置位一次
func (e *Engine) closePartial(ctx context.Context, venue ports.Venue, t *domain.Trade, fraction, price float64) error {
	if t.PartialTaken {
		return nil
	}
	rules, err := venue.MarketRules(ctx, t.Symbol)
	if err != nil {
		rules = domain.MarketRules{}
	}
	qty := RoundToStep(t.OpenSize*fraction, rules.StepSize)
	if norm, nerr := NormalizeSize(qty, price, rules); nerr != nil || norm >= t.OpenSize {
		// 剩余太小无法拆分：只标记，不下单
		t.PartialTaken = true
		t.TrailRef = price
		return nil
	}
	if err := e.applyClose(ctx, venue, t, qty, price); err != nil {
		e.stop(ctx, t, err)
		return err
	}
	t.PartialTaken = true
	t.TrailRef = price
	return nil
}

// closeAll 全部平仓；成功 CLOSED，失败 STOPPED（不重试）
func (e *Engine) closeAll(ctx context.Context, venue ports.Venue, t *domain.Trade, reason domain.CloseReason, price float64) error {
	if t.IsTerminal() {
		return nil
	}
	if err := e.applyClose(ctx, venue, t, t.OpenSize, price); err != nil {
		e.stop(ctx, t, err)
		return err
	}
	t.Status = domain.TradeClosed
	t.CloseReason = reason
	t.ClosedAt = e.now()
	return nil
}

// applyClose 下反向市价单并把成交记入已实现盈亏
func (e *Engine) applyClose(ctx context.Context, venue ports.Venue, t *domain.Trade, qty, price float64) error {
	ref := price
	if ref <= 0 {
		ref = t.EntryPrice
	}
	fill, err := e.marketOrder(ctx, venue, t.Symbol, t.Side.Opposite(), qty, ref)
	if err != nil {
		return &CloseFailureError{TradeID: t.ID, Symbol: t.Symbol, Venue: t.Venue, Size: qty, Err: err}
	}
	filled := math.Min(fill.Filled, t.OpenSize)
	px := fill.VWAP()
	t.RealizedPnL += (px - t.EntryPrice) * filled * t.Side.Sign()
	t.FeesUSD += filled * px * e.cfg.feePct(t.Venue) / 100
	t.OpenSize -= filled
	if t.OpenSize < 1e-12 {
		t.OpenSize = 0
	}
	t.ExitPrice = px
	if filled < qty*(1-1e-9) {
		return &CloseFailureError{TradeID: t.ID, Symbol: t.Symbol, Venue: t.Venue, Size: qty - filled,
			Err: rejected(RejectNoFill, t.Venue, t.Symbol, "close filled %.8g of %.8g", filled, qty)}
	}
	return nil
}

// stop 平仓失败：终态 STOPPED + 告警，需要人工介入
func (e *Engine) stop(ctx context.Context, t *domain.Trade, err error) {
	t.Status = domain.TradeStopped
	t.CloseReason = domain.ReasonCloseFailed
	t.ClosedAt = e.now()
	metrics.CloseFailures.Add(1)
	e.alerts.Alert(context.WithoutCancel(ctx), "close_failure", map[string]any{
		"trade_id":  t.ID,
		"symbol":    t.Symbol,
		"venue":     t.Venue,
		"open_size": t.OpenSize,
		"error":     err.Error(),
	})
}

// finish 记录终态：日志、指标、交易日志、结果反馈
func (e *Engine) finish(ctx context.Context, t *domain.Trade, err error) Outcome {
	e.track(t)
	metrics.TradesClosed.Add(string(t.CloseReason), 1)

	net := t.RealizedPnL - t.FeesUSD
	ret := 0.0
	if n := t.Notional(); n > 0 {
		ret = net / n * 100
	}
	fields := logrus.Fields{"trade_id": t.ID, "symbol": t.Symbol, "reason": t.CloseReason, "pnl": net}
	if err != nil {
		log.WithFields(fields).Errorf("交易终止于 %s: %v", t.Status, err)
	} else {
		log.WithFields(fields).Infof("平仓: exit=%.8g return=%.4f%%", t.ExitPrice, ret)
	}

	if e.journal != nil {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CancelTimeout)
		if jerr := e.journal.AppendTrade(jctx, t); jerr != nil {
			log.WithFields(fields).Errorf("写入交易日志失败: %v", jerr)
		}
		cancel()
	}
	for _, r := range e.recorders {
		r.RecordOutcome(t.Symbol, t.Strategy, net, ret)
	}
	return Outcome{Trade: *t, Err: err}
}
