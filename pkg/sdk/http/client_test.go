package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoRequest_RetriesOn429(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"100.5"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", Options{Timeout: 2 * time.Second, RetryCount: 2})
	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	resp, err := c.DoRequest(context.Background(), http.MethodGet, "/api/v3/ticker/price", &RequestOptions{Params: map[string]any{"symbol": "BTCUSDT"}}, &out)
	if err := CheckResponse(resp, err); err != nil {
		t.Fatalf("request: %v", err)
	}
	if out.Symbol != "BTCUSDT" || out.Price != "100.5" {
		t.Fatalf("unexpected body %+v", out)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", hits)
	}
}

func TestCheckResponse_4xxNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.DoRequest(context.Background(), http.MethodPost, "/api/v3/order", &RequestOptions{RawQuery: "a=1&signature=x"}, nil)
	err = CheckResponse(resp, err)
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusBadRequest {
		t.Fatalf("expected HTTPError 400, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("4xx must not be retried, hits=%d", hits)
	}
}

func TestRetryAfter(t *testing.T) {
	if retryAfter("3") != 3*time.Second {
		t.Fatalf("3s")
	}
	if retryAfter("") != time.Second || retryAfter("abc") != time.Second {
		t.Fatalf("fallback")
	}
}
