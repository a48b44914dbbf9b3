package metrics

import "expvar"

// 行情
var (
	WSReconnects        = expvar.NewInt("ws_reconnects")
	WSMalformedMessages = expvar.NewInt("ws_malformed_messages")
	WSMessages          = expvar.NewMap("ws_messages") // venue -> count
)

// 执行
var (
	OrdersPlaced    = expvar.NewInt("orders_placed")
	OrdersRejected  = expvar.NewInt("orders_rejected")
	LadderFallbacks = expvar.NewInt("ladder_fallbacks")
	LadderFills     = expvar.NewInt("ladder_orders_filled")
	SweepChunks     = expvar.NewInt("sweep_chunks")
	TradesOpened    = expvar.NewInt("trades_opened")
	TradesClosed    = expvar.NewMap("trades_closed") // close reason -> count
	CloseFailures   = expvar.NewInt("close_failures")
)

// 风控 / 告警
var (
	AdmissionDenied = expvar.NewMap("admission_denied") // reason -> count
	Alerts          = expvar.NewMap("alerts")           // kind -> count
	StateSaves      = expvar.NewInt("risk_state_saves")
	StateLoads      = expvar.NewInt("risk_state_loads")
)
