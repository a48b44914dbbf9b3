package domain

import (
	"strings"
	"testing"
)

func TestDecodeIntent(t *testing.T) {
	signal := `{"kind":"signal","symbol":"BTC/USDT","side":"BUY","confidence":0.7,"expected_profit_pct":0.6,
		"entry_price":100,"target_price":101,"stop_price":99,"strategy":"momentum","source":"ta"}`
	in, err := DecodeIntent([]byte(signal))
	if err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if in.Kind() != IntentSignal || in.Core().Strategy != "momentum" || in.PreferredVenue() != "" {
		t.Fatalf("unexpected intent: %+v", in)
	}

	arb := `{"kind":"arbitrage","symbol":"ETH/USDT","side":"SELL","confidence":0.9,"expected_profit_pct":0.4,
		"entry_price":100,"target_price":99.5,"stop_price":100.5,"strategy":"xarb",
		"buy_venue":"okx","sell_venue":"binance","spread_pct":0.4}`
	in, err = DecodeIntent([]byte(arb))
	if err != nil {
		t.Fatalf("decode arbitrage: %v", err)
	}
	if in.PreferredVenue() != "binance" {
		t.Fatalf("sell leg must route to sell venue, got %q", in.PreferredVenue())
	}

	bad := map[string]string{
		"missing kind":     `{"symbol":"BTC/USDT"}`,
		"unknown kind":     `{"kind":"mev","symbol":"BTC/USDT"}`,
		"bad json":         `{"kind":`,
		"stop above entry": strings.Replace(signal, `"stop_price":99`, `"stop_price":100.5`, 1),
		"same venues":      strings.Replace(arb, `"buy_venue":"okx"`, `"buy_venue":"binance"`, 1),
		"no slash":         strings.Replace(signal, `"BTC/USDT"`, `"BTCUSDT"`, 1),
	}
	for name, body := range bad {
		if _, err := DecodeIntent([]byte(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
