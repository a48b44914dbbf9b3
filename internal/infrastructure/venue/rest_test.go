package venue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/execbot/internal/domain"
)

type exchangeStub struct {
	infoCalls atomic.Int64
	badSigs   atomic.Int64
}

func (s *exchangeStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		s.infoCalls.Add(1)
		fmt.Fprint(w, `{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","orderTypes":["LIMIT","LIMIT_MAKER","MARKET"],
			"filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01000000"},
			{"filterType":"LOT_SIZE","minQty":"0.00001000","maxQty":"9000.00000000","stepSize":"0.00001000"},
			{"filterType":"NOTIONAL","minNotional":"5.00000000"}]}]}`)
	})
	mux.HandleFunc("/api/v3/depth", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		fmt.Fprint(w, `{"lastUpdateId":1,"bids":[["99.90","1.5"],["99.80","2"]],"asks":[["100.10","0.7"]]}`)
	})
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		if r.Header.Get("X-MBX-APIKEY") != "key" || idx < 0 || Sign("secret", raw[:idx]) != raw[idx+len("&signature="):] {
			s.badSigs.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"code":-1022,"msg":"Signature for this request is not valid."}`)
			return
		}
		q := r.URL.Query()
		switch {
		case r.Method == http.MethodPost && q.Get("type") == "LIMIT_MAKER" && price(q.Get("price")) >= 100.1:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-2010,"msg":"Order would immediately match and take."}`)
		case r.Method == http.MethodPost && q.Get("type") == "MARKET":
			fmt.Fprintf(w, `{"symbol":"BTCUSDT","orderId":42,"clientOrderId":%q,"price":"0","origQty":%q,
				"executedQty":%q,"cummulativeQuoteQty":"100.10","status":"FILLED","type":"MARKET","side":%q}`,
				q.Get("newClientOrderId"), q.Get("quantity"), q.Get("quantity"), q.Get("side"))
		case r.Method == http.MethodPost:
			fmt.Fprintf(w, `{"symbol":"BTCUSDT","orderId":43,"price":%q,"origQty":%q,"executedQty":"0",
				"cummulativeQuoteQty":"0","status":"NEW","type":%q,"side":%q}`, q.Get("price"), q.Get("quantity"), q.Get("type"), q.Get("side"))
		case r.Method == http.MethodGet:
			fmt.Fprint(w, `{"symbol":"BTCUSDT","orderId":43,"price":"99.90","origQty":"1","executedQty":"0.4",
				"cummulativeQuoteQty":"39.96","status":"PARTIALLY_FILLED","type":"LIMIT_MAKER","side":"BUY"}`)
		case r.Method == http.MethodDelete:
			fmt.Fprint(w, `{"symbol":"BTCUSDT","orderId":43,"status":"CANCELED","type":"LIMIT_MAKER","side":"BUY"}`)
		}
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		mux.ServeHTTP(w, r)
	})
}

func price(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func newStubVenue(t *testing.T, key, secret string) (*RESTVenue, *exchangeStub) {
	t.Helper()
	stub := &exchangeStub{}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	v, err := NewRESTVenue(RESTConfig{Name: "binance", BaseURL: srv.URL, APIKey: key, APISecret: secret})
	require.NoError(t, err)
	return v, stub
}

func TestRESTVenue_MarketRulesParsedAndCached(t *testing.T) {
	v, stub := newStubVenue(t, "", "")
	for i := 0; i < 3; i++ {
		rules, err := v.MarketRules(context.Background(), "BTC/USDT")
		require.NoError(t, err)
		assert.Equal(t, 0.00001, rules.StepSize)
		assert.Equal(t, 0.00001, rules.MinQty)
		assert.Equal(t, 9000.0, rules.MaxQty)
		assert.Equal(t, 0.01, rules.TickSize)
		assert.Equal(t, 5.0, rules.MinNotional)
		assert.True(t, rules.SupportsPostOnly)
	}
	assert.EqualValues(t, 1, stub.infoCalls.Load())

	_, err := v.MarketRules(context.Background(), "DOGE/EUR")
	require.Error(t, err)
}

func TestRESTVenue_SignedOrders(t *testing.T) {
	v, stub := newStubVenue(t, "key", "secret")
	ctx := context.Background()

	o, err := v.PlaceOrder(ctx, domain.OrderRequest{
		ClientOrderID: "xabc", Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Size: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", o.OrderID)
	assert.Equal(t, "xabc", o.ClientOrderID)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.InDelta(t, 100.10, o.AvgFillPrice, 1e-9)

	o, err = v.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Size: 1, Price: 99.9, PostOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, o.Status)
	assert.True(t, o.PostOnly)

	o, err = v.FetchOrder(ctx, "43", "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartial, o.Status)
	assert.InDelta(t, 99.9, o.AvgFillPrice, 1e-9)

	require.NoError(t, v.CancelOrder(ctx, "43", "BTC/USDT"))
	assert.Zero(t, stub.badSigs.Load())
}

func TestRESTVenue_PostOnlyCrossRejected(t *testing.T) {
	v, _ := newStubVenue(t, "key", "secret")
	_, err := v.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Size: 1, Price: 100.2, PostOnly: true,
	})
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, -2010, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestRESTVenue_RequiresCredentials(t *testing.T) {
	v, stub := newStubVenue(t, "", "")
	_, err := v.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Size: 1})
	require.Error(t, err)
	assert.Zero(t, stub.badSigs.Load(), "no request may leave without credentials")
}

func TestRESTVenue_FetchOrderBook(t *testing.T) {
	v, _ := newStubVenue(t, "", "")
	book, err := v.FetchOrderBook(context.Background(), "BTC/USDT", 5)
	require.NoError(t, err)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, domain.Level{Price: 99.9, Size: 1.5}, book.Bids[0])
	assert.Equal(t, "binance", book.Venue)
}

func TestSign(t *testing.T) {
	// Binance API 文档中的示例
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", Sign(secret, payload))
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, domain.OrderStatusOpen, mapStatus("NEW"))
	assert.Equal(t, domain.OrderStatusCanceled, mapStatus("EXPIRED"))
	assert.Equal(t, domain.OrderStatusRejected, mapStatus("REJECTED"))
	assert.Equal(t, domain.OrderStatusPending, mapStatus("???"))
}
