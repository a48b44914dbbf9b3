package ports

import (
	"context"

	"github.com/betbot/execbot/internal/domain"
)

// 执行/风控/调度层之间共享的小能力接口。

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)
}

type OrderCanceler interface {
	CancelOrder(ctx context.Context, orderID, symbol string) error
}

type OrderFetcher interface {
	// FetchOrder 查询订单最新状态（成交数量/均价）
	FetchOrder(ctx context.Context, orderID, symbol string) (*domain.Order, error)
}

type MarketDataFetcher interface {
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error)
	FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error)
}

// Venue 一个可交易的交易所（REST 下单 + 行情快照）。
//
// symbol 一律使用规范形式 BASE/QUOTE，交易所自己的写法由适配器转换。
type Venue interface {
	Name() string
	OrderPlacer
	OrderCanceler
	OrderFetcher
	MarketDataFetcher
	// MarketRules 查询下单约束；实现方可缓存
	MarketRules(ctx context.Context, symbol string) (domain.MarketRules, error)
}
