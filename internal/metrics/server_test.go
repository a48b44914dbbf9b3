package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestStartAsync_ServesExpvar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := StartAsync(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	OrdersPlaced.Add(1)

	resp, err := http.Get("http://" + addr + "/debug/vars")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "orders_placed") {
		t.Fatalf("expvar output missing counter: %s", string(b))
	}
}
