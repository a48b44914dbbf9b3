package orderbook

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/pkg/sigchan"
)

// ActiveOrderBook 跟踪一次执行中挂出的工作订单（梯子挂单）。
//
// 订单到终态后仍保留在簿内，用于汇总成交；Open() 只返回未到终态的订单。
type ActiveOrderBook struct {
	Symbol string

	mu     sync.RWMutex
	orders map[string]*domain.Order
	seq    []string // 插入顺序

	filledCallbacks []func(order *domain.Order)

	// C 有订单状态变化时发信号
	C *sigchan.Chan
}

// NewActiveOrderBook 创建新的活跃订单簿
func NewActiveOrderBook(symbol string) *ActiveOrderBook {
	return &ActiveOrderBook{
		Symbol: symbol,
		orders: make(map[string]*domain.Order),
		C:      sigchan.New(1),
	}
}

// Add 添加订单；重复添加按 Update 处理。下单即全部成交的订单也会触发 OnFilled。
func (b *ActiveOrderBook) Add(order *domain.Order) {
	if order == nil || order.OrderID == "" {
		return
	}
	b.mu.Lock()
	if _, exists := b.orders[order.OrderID]; exists {
		b.mu.Unlock()
		b.Update(order)
		return
	}
	cp := *order
	b.orders[order.OrderID] = &cp
	b.seq = append(b.seq, order.OrderID)
	snapshot := cp
	cbs := b.filledCallbacks
	b.mu.Unlock()

	if snapshot.IsFilled() {
		for _, cb := range cbs {
			cb(&snapshot)
		}
	}
	b.C.Emit()
}

// Update 合并订单最新状态。
// 终态不会被中间状态覆盖；累计成交只增不减。
func (b *ActiveOrderBook) Update(order *domain.Order) {
	if order == nil {
		return
	}
	b.mu.Lock()
	cur, exists := b.orders[order.OrderID]
	if !exists {
		b.mu.Unlock()
		return
	}
	wasFilled := cur.IsFilled()
	if order.FilledSize > cur.FilledSize {
		cur.FilledSize = order.FilledSize
		if order.AvgFillPrice > 0 {
			cur.AvgFillPrice = order.AvgFillPrice
		}
	}
	if !cur.IsFinalStatus() && order.Status != "" {
		cur.Status = order.Status
	}
	if !order.UpdatedAt.IsZero() {
		cur.UpdatedAt = order.UpdatedAt
	}
	nowFilled := !wasFilled && cur.IsFilled()
	snapshot := *cur
	cbs := b.filledCallbacks
	b.mu.Unlock()

	if nowFilled {
		for _, cb := range cbs {
			cb(&snapshot)
		}
	}
	b.C.Emit()
}

// Get 获取订单副本
func (b *ActiveOrderBook) Get(orderID string) (domain.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Orders 按插入顺序返回全部订单副本
func (b *ActiveOrderBook) Orders() []domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Order, 0, len(b.seq))
	for _, id := range b.seq {
		out = append(out, *b.orders[id])
	}
	return out
}

// Open 未到终态的订单
func (b *ActiveOrderBook) Open() []domain.Order {
	all := b.Orders()
	out := all[:0]
	for _, o := range all {
		if !o.IsFinalStatus() && !o.IsFilled() {
			out = append(out, o)
		}
	}
	return out
}

// NumOfOrders 订单总数（含终态）
func (b *ActiveOrderBook) NumOfOrders() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}

// FilledSize 累计成交数量
func (b *ActiveOrderBook) FilledSize() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0.0
	for _, o := range b.orders {
		total += o.FilledSize
	}
	return total
}

// FilledNotional 累计成交额
func (b *ActiveOrderBook) FilledNotional() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0.0
	for _, o := range b.orders {
		total += o.FilledNotional()
	}
	return total
}

// OnFilled 注册完全成交回调
func (b *ActiveOrderBook) OnFilled(cb func(order *domain.Order)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filledCallbacks = append(b.filledCallbacks, cb)
}

// CancelAll 撤掉所有未终态订单。
//
// 单个撤单失败不会中断后续撤单；成功的订单标记为 canceled，失败汇总返回。
func (b *ActiveOrderBook) CancelAll(ctx context.Context, cancel func(ctx context.Context, orderID string) error) error {
	var errs []error
	for _, o := range b.Open() {
		if err := cancel(ctx, o.OrderID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", o.OrderID, err))
			continue
		}
		b.Update(&domain.Order{OrderID: o.OrderID, Status: domain.OrderStatusCanceled})
	}
	return errors.Join(errs...)
}
