package venue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/internal/ports"
	"github.com/betbot/execbot/pkg/marketmath"
)

// ErrWouldTake post-only 限价单会立即吃单
var ErrWouldTake = errors.New("post-only order would immediately match")

// RulesSource 交易规则来源（通常是同名的 RESTVenue 公共端点）
type RulesSource interface {
	MarketRules(ctx context.Context, symbol string) (domain.MarketRules, error)
}

// PaperConfig 纸面交易所配置
type PaperConfig struct {
	Name string
	// DefaultRules 没有 RulesSource 或查询失败时使用
	DefaultRules domain.MarketRules
	Rules        RulesSource
}

// PaperVenue dry-run 交易所：市价单按聚合器的实时深度逐档成交，
// 限价单挂着，等对手最优价穿过挂单价时按挂单价成交。不产生任何真实订单。
type PaperVenue struct {
	cfg   PaperConfig
	depth ports.DepthSource

	seq    atomic.Int64
	mu     sync.Mutex
	orders map[string]*domain.Order

	now func() time.Time
}

func NewPaperVenue(cfg PaperConfig, depth ports.DepthSource) *PaperVenue {
	if cfg.DefaultRules.StepSize <= 0 {
		cfg.DefaultRules = domain.MarketRules{
			MinQty: 0.00001, StepSize: 0.00001, MinNotional: 5, TickSize: 0.01, SupportsPostOnly: true,
		}
	}
	return &PaperVenue{
		cfg:    cfg,
		depth:  depth,
		orders: make(map[string]*domain.Order),
		now:    time.Now,
	}
}

func (p *PaperVenue) Name() string { return p.cfg.Name }

func (p *PaperVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Size <= 0 {
		return nil, errors.Errorf("paper: size %.8g must be positive", req.Size)
	}
	book, ok := p.depth.Depth(req.Symbol, p.cfg.Name)
	if !ok {
		return nil, errors.Errorf("paper: no depth for %s on %s", req.Symbol, p.cfg.Name)
	}
	now := p.now()
	o := &domain.Order{
		OrderID:       fmt.Sprintf("paper-%s-%d", p.cfg.Name, p.seq.Add(1)),
		ClientOrderID: req.ClientOrderID,
		Venue:         p.cfg.Name,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Size:          req.Size,
		PostOnly:      req.PostOnly,
		Status:        domain.OrderStatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	opposite := book.Asks
	if req.Side == domain.SideSell {
		opposite = book.Bids
	}
	switch req.Type {
	case domain.OrderTypeMarket:
		// IOC：吃不满的部分直接取消
		r := marketmath.Walk(toLevels(opposite, 0, req.Side), req.Size)
		if r.Filled <= 0 {
			return nil, errors.Errorf("paper: no liquidity for %s %s", req.Side, req.Symbol)
		}
		o.FilledSize, o.AvgFillPrice = r.Filled, r.VWAP
		o.Status = domain.OrderStatusFilled
		if r.Filled < req.Size {
			o.Status = domain.OrderStatusCanceled
		}
	default:
		if crosses(req.Side, req.Price, book) {
			if req.PostOnly {
				return nil, ErrWouldTake
			}
			r := marketmath.Walk(toLevels(opposite, req.Price, req.Side), req.Size)
			o.FilledSize, o.AvgFillPrice = r.Filled, r.VWAP
			if r.Filled >= req.Size {
				o.Status = domain.OrderStatusFilled
			} else if r.Filled > 0 {
				o.Status = domain.OrderStatusPartial
			}
		}
	}

	p.mu.Lock()
	p.orders[o.OrderID] = o
	cp := *o
	p.mu.Unlock()
	log.WithField("venue", p.cfg.Name).Debugf("paper %s %s %s %.8g@%.8g → %s (%.8g)",
		o.Type, o.Side, o.Symbol, o.Size, o.Price, o.Status, o.FilledSize)
	return &cp, nil
}

func (p *PaperVenue) CancelOrder(_ context.Context, orderID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return errors.Errorf("paper: unknown order %s", orderID)
	}
	if !o.IsFinalStatus() {
		o.Status = domain.OrderStatusCanceled
		o.UpdatedAt = p.now()
	}
	return nil
}

// FetchOrder 查询时按最新盘口撮合挂单
func (p *PaperVenue) FetchOrder(_ context.Context, orderID, symbol string) (*domain.Order, error) {
	book, hasBook := p.depth.Depth(symbol, p.cfg.Name)

	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, errors.Errorf("paper: unknown order %s", orderID)
	}
	if hasBook && o.Type == domain.OrderTypeLimit && !o.IsFinalStatus() && crosses(o.Side, o.Price, book) {
		o.FilledSize = o.Size
		o.AvgFillPrice = o.Price
		o.Status = domain.OrderStatusFilled
		o.UpdatedAt = p.now()
	}
	cp := *o
	return &cp, nil
}

func (p *PaperVenue) FetchOrderBook(_ context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	book, ok := p.depth.Depth(symbol, p.cfg.Name)
	if !ok {
		return nil, errors.Errorf("paper: no depth for %s", symbol)
	}
	if depth > 0 {
		if len(book.Bids) > depth {
			book.Bids = book.Bids[:depth]
		}
		if len(book.Asks) > depth {
			book.Asks = book.Asks[:depth]
		}
	}
	return &book, nil
}

func (p *PaperVenue) FetchTicker(_ context.Context, symbol string) (*domain.Ticker, error) {
	book, ok := p.depth.Depth(symbol, p.cfg.Name)
	if !ok || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return nil, errors.Errorf("paper: no ticker for %s", symbol)
	}
	return &domain.Ticker{
		Symbol: symbol,
		Last:   marketmath.Mid(book.Bids[0].Price, book.Asks[0].Price),
		At:     book.At,
	}, nil
}

func (p *PaperVenue) MarketRules(ctx context.Context, symbol string) (domain.MarketRules, error) {
	if p.cfg.Rules != nil {
		r, err := p.cfg.Rules.MarketRules(ctx, symbol)
		if err == nil {
			return r, nil
		}
		log.WithField("venue", p.cfg.Name).Warnf("查询交易规则失败，使用默认规则: %v", err)
	}
	r := p.cfg.DefaultRules
	r.Symbol = symbol
	return r, nil
}

// crosses 限价是否穿过对手最优价
func crosses(side domain.Side, price float64, book domain.OrderBook) bool {
	if side == domain.SideSell {
		return len(book.Bids) > 0 && book.Bids[0].Price >= price
	}
	return len(book.Asks) > 0 && book.Asks[0].Price <= price
}

// toLevels 转换对手盘；limit > 0 时只保留不劣于 limit 的档位
func toLevels(levels []domain.Level, limit float64, side domain.Side) []marketmath.Level {
	out := make([]marketmath.Level, 0, len(levels))
	for _, lv := range levels {
		if limit > 0 {
			if side == domain.SideSell && lv.Price < limit {
				break
			}
			if side == domain.SideBuy && lv.Price > limit {
				break
			}
		}
		out = append(out, marketmath.Level{Price: lv.Price, Size: lv.Size})
	}
	return out
}
