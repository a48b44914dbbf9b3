// Package venue 交易所下单适配器：兼容 Binance 现货 REST 的签名适配器，以及 dry-run 用的纸面交易所。
package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/pkg/cache"
	"github.com/betbot/execbot/pkg/ratelimit"
	sdkhttp "github.com/betbot/execbot/pkg/sdk/http"
)

var log = logrus.WithField("component", "venue")

// 各端点的请求权重
const (
	weightOrder        = 1
	weightCancel       = 1
	weightQueryOrder   = 4
	weightDepth        = 5
	weightTicker       = 2
	weightExchangeInfo = 20
)

// RESTConfig 签名 REST 适配器配置
type RESTConfig struct {
	Name            string
	BaseURL         string
	APIKey          string
	APISecret       string
	WeightPerMinute int
	RecvWindow      time.Duration
	RulesTTL        time.Duration
	Timeout         time.Duration
	ProxyURL        string
}

func (c RESTConfig) normalized() RESTConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.binance.com"
	}
	if c.WeightPerMinute <= 0 {
		c.WeightPerMinute = 1200
	}
	if c.RecvWindow <= 0 {
		c.RecvWindow = 5 * time.Second
	}
	if c.RulesTTL <= 0 {
		c.RulesTTL = 10 * time.Minute
	}
	return c
}

// APIError 交易所业务错误（{"code":-2010,"msg":"..."}）
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d api error %d: %s", e.Status, e.Code, e.Msg)
}

// RESTVenue Binance 现货兼容的下单适配器。
//
// 私有端点用 HMAC-SHA256 签名查询串；所有请求先从权重令牌桶取额度；交易规则按 TTL 缓存。
type RESTVenue struct {
	cfg    RESTConfig
	client *sdkhttp.Client
	weight *ratelimit.TokenBucket
	rules  *cache.InMemoryCache[string, domain.MarketRules]
	now    func() time.Time
}

// NewRESTVenue 创建适配器；没有密钥时只能用公共端点（行情、交易规则）
func NewRESTVenue(cfg RESTConfig) (*RESTVenue, error) {
	cfg = cfg.normalized()
	if cfg.Name == "" {
		return nil, errors.New("venue name required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrapf(err, "bad base url for %s", cfg.Name)
	}
	return &RESTVenue{
		cfg:    cfg,
		client: sdkhttp.NewClient(cfg.BaseURL, sdkhttp.Options{Timeout: cfg.Timeout, ProxyURL: cfg.ProxyURL}),
		weight: ratelimit.NewTokenBucket(cfg.WeightPerMinute, time.Minute),
		rules:  cache.NewInMemoryCache[string, domain.MarketRules](cfg.RulesTTL),
		now:    time.Now,
	}, nil
}

func (v *RESTVenue) Name() string { return v.cfg.Name }

// Authenticated 是否配置了密钥
func (v *RESTVenue) Authenticated() bool {
	return v.cfg.APIKey != "" && v.cfg.APISecret != ""
}

// ExchangeSymbol BTC/USDT → BTCUSDT
func ExchangeSymbol(canonical string) string {
	return strings.ToUpper(strings.ReplaceAll(canonical, "/", ""))
}

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	TransactTime        int64  `json:"transactTime"`
	UpdateTime          int64  `json:"updateTime"`
}

// PlaceOrder 下单。post-only 映射为 LIMIT_MAKER，会吃单时交易所直接拒绝。
func (v *RESTVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", ExchangeSymbol(req.Symbol))
	params.Set("side", string(req.Side))
	params.Set("quantity", formatFloat(req.Size))
	params.Set("newOrderRespType", "FULL")
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	switch {
	case req.Type == domain.OrderTypeMarket:
		params.Set("type", "MARKET")
	case req.PostOnly:
		params.Set("type", "LIMIT_MAKER")
		params.Set("price", formatFloat(req.Price))
	default:
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", formatFloat(req.Price))
	}

	var resp orderResponse
	if err := v.signed(ctx, http.MethodPost, "/api/v3/order", params, weightOrder, &resp); err != nil {
		return nil, errors.Wrapf(err, "place %s %s %s", req.Type, req.Side, req.Symbol)
	}
	o := v.toOrder(req.Symbol, resp)
	o.PostOnly = req.PostOnly
	return o, nil
}

func (v *RESTVenue) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := url.Values{}
	params.Set("symbol", ExchangeSymbol(symbol))
	params.Set("orderId", orderID)
	var resp orderResponse
	if err := v.signed(ctx, http.MethodDelete, "/api/v3/order", params, weightCancel, &resp); err != nil {
		return errors.Wrapf(err, "cancel %s", orderID)
	}
	return nil
}

func (v *RESTVenue) FetchOrder(ctx context.Context, orderID, symbol string) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", ExchangeSymbol(symbol))
	params.Set("orderId", orderID)
	var resp orderResponse
	if err := v.signed(ctx, http.MethodGet, "/api/v3/order", params, weightQueryOrder, &resp); err != nil {
		return nil, errors.Wrapf(err, "query order %s", orderID)
	}
	return v.toOrder(symbol, resp), nil
}

type depthResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

func (v *RESTVenue) FetchOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	var resp depthResponse
	params := map[string]any{"symbol": ExchangeSymbol(symbol), "limit": depth}
	if err := v.public(ctx, "/api/v3/depth", params, weightDepth, &resp); err != nil {
		return nil, errors.Wrapf(err, "depth %s", symbol)
	}
	book := &domain.OrderBook{Venue: v.cfg.Name, Symbol: symbol, At: v.now()}
	var err error
	if book.Bids, err = parseLevels(resp.Bids); err != nil {
		return nil, err
	}
	if book.Asks, err = parseLevels(resp.Asks); err != nil {
		return nil, err
	}
	return book, nil
}

type tickerResponse struct {
	LastPrice   string `json:"lastPrice"`
	Volume      string `json:"volume"`
	QuoteVolume string `json:"quoteVolume"`
	CloseTime   int64  `json:"closeTime"`
}

func (v *RESTVenue) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	var resp tickerResponse
	if err := v.public(ctx, "/api/v3/ticker/24hr", map[string]any{"symbol": ExchangeSymbol(symbol)}, weightTicker, &resp); err != nil {
		return nil, errors.Wrapf(err, "ticker %s", symbol)
	}
	return &domain.Ticker{
		Symbol:      symbol,
		Last:        parseFloat(resp.LastPrice),
		BaseVolume:  parseFloat(resp.Volume),
		QuoteVolume: parseFloat(resp.QuoteVolume),
		At:          time.UnixMilli(resp.CloseTime),
	}, nil
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol     string           `json:"symbol"`
		Status     string           `json:"status"`
		OrderTypes []string         `json:"orderTypes"`
		Filters    []map[string]any `json:"filters"`
	} `json:"symbols"`
}

// MarketRules 从 exchangeInfo 解析 LOT_SIZE / PRICE_FILTER / NOTIONAL，按 TTL 缓存
func (v *RESTVenue) MarketRules(ctx context.Context, symbol string) (domain.MarketRules, error) {
	return v.rules.GetOrLoad(symbol, func() (domain.MarketRules, error) {
		var info exchangeInfo
		if err := v.public(ctx, "/api/v3/exchangeInfo", map[string]any{"symbol": ExchangeSymbol(symbol)}, weightExchangeInfo, &info); err != nil {
			return domain.MarketRules{}, errors.Wrapf(err, "exchange info %s", symbol)
		}
		for _, s := range info.Symbols {
			if s.Symbol != ExchangeSymbol(symbol) {
				continue
			}
			rules := domain.MarketRules{Symbol: symbol}
			for _, t := range s.OrderTypes {
				if t == "LIMIT_MAKER" {
					rules.SupportsPostOnly = true
				}
			}
			for _, f := range s.Filters {
				switch f["filterType"] {
				case "LOT_SIZE":
					rules.MinQty = filterFloat(f, "minQty")
					rules.MaxQty = filterFloat(f, "maxQty")
					rules.StepSize = filterFloat(f, "stepSize")
				case "PRICE_FILTER":
					rules.TickSize = filterFloat(f, "tickSize")
				case "NOTIONAL", "MIN_NOTIONAL":
					rules.MinNotional = filterFloat(f, "minNotional")
				}
			}
			log.WithField("venue", v.cfg.Name).Debugf("交易规则 %s: %+v", symbol, rules)
			return rules, nil
		}
		return domain.MarketRules{}, errors.Errorf("symbol %s not listed on %s", symbol, v.cfg.Name)
	})
}

// signed 带签名的私有请求：timestamp + recvWindow 追加到查询串，对整串做 HMAC-SHA256
func (v *RESTVenue) signed(ctx context.Context, method, path string, params url.Values, weight int, out any) error {
	if !v.Authenticated() {
		return errors.Errorf("%s: api credentials not configured", v.cfg.Name)
	}
	params.Set("timestamp", strconv.FormatInt(v.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(v.cfg.RecvWindow.Milliseconds(), 10))
	query := params.Encode()
	query += "&signature=" + Sign(v.cfg.APISecret, query)

	return v.do(ctx, method, path, &sdkhttp.RequestOptions{
		Headers:  map[string]string{"X-MBX-APIKEY": v.cfg.APIKey},
		RawQuery: query,
	}, weight, out)
}

func (v *RESTVenue) public(ctx context.Context, path string, params map[string]any, weight int, out any) error {
	return v.do(ctx, http.MethodGet, path, &sdkhttp.RequestOptions{Params: params}, weight, out)
}

func (v *RESTVenue) do(ctx context.Context, method, path string, opt *sdkhttp.RequestOptions, weight int, out any) error {
	if err := v.weight.WaitN(ctx, weight); err != nil {
		return errors.Wrap(err, "rate limit")
	}
	resp, err := v.client.DoRequest(ctx, method, path, opt, out)
	if err := sdkhttp.CheckResponse(resp, err); err != nil {
		var he *sdkhttp.HTTPError
		if errors.As(err, &he) {
			return parseAPIError(he)
		}
		return err
	}
	return nil
}

func parseAPIError(he *sdkhttp.HTTPError) error {
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal([]byte(he.Body), &body); err != nil || body.Msg == "" {
		return he
	}
	return &APIError{Status: he.Status, Code: body.Code, Msg: body.Msg}
}

// Sign 十六进制 HMAC-SHA256
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *RESTVenue) toOrder(symbol string, r orderResponse) *domain.Order {
	filled := parseFloat(r.ExecutedQty)
	o := &domain.Order{
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: r.ClientOrderID,
		Venue:         v.cfg.Name,
		Symbol:        symbol,
		Side:          domain.Side(r.Side),
		Price:         parseFloat(r.Price),
		Size:          parseFloat(r.OrigQty),
		FilledSize:    filled,
		Status:        mapStatus(r.Status),
		UpdatedAt:     v.now(),
	}
	if r.Type == "MARKET" {
		o.Type = domain.OrderTypeMarket
	} else {
		o.Type = domain.OrderTypeLimit
	}
	if filled > 0 {
		o.AvgFillPrice = parseFloat(r.CummulativeQuoteQty) / filled
	}
	if r.TransactTime > 0 {
		o.CreatedAt = time.UnixMilli(r.TransactTime)
	}
	return o
}

func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "NEW", "PENDING_NEW":
		return domain.OrderStatusOpen
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartial
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH", "PENDING_CANCEL":
		return domain.OrderStatusCanceled
	case "REJECTED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusPending
	}
}

func parseLevels(raw [][2]string) ([]domain.Level, error) {
	out := make([]domain.Level, 0, len(raw))
	for _, r := range raw {
		p, err := decimal.NewFromString(r[0])
		if err != nil {
			return nil, errors.Wrapf(err, "bad price %q", r[0])
		}
		s, err := decimal.NewFromString(r[1])
		if err != nil {
			return nil, errors.Wrapf(err, "bad size %q", r[1])
		}
		out = append(out, domain.Level{Price: p.InexactFloat64(), Size: s.InexactFloat64()})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func filterFloat(f map[string]any, key string) float64 {
	s, _ := f[key].(string)
	return parseFloat(s)
}

func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}
