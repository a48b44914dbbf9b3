package marketdata

import (
	"strings"
	"sync/atomic"

	json "github.com/goccy/go-json"
)

const binanceStreamURL = "wss://stream.binance.com:9443/stream"

// BinanceCodec 组合流 + <sym>@depth5@100ms
type BinanceCodec struct {
	url string
	id  atomic.Int64
}

func NewBinanceCodec(url string) *BinanceCodec {
	if url == "" {
		url = binanceStreamURL
	}
	return &BinanceCodec{url: url}
}

func (c *BinanceCodec) Venue() string { return "binance" }
func (c *BinanceCodec) URL() string   { return c.url }

func (c *BinanceCodec) VenueSymbol(canonical string) string {
	base, quote := splitSymbol(canonical)
	return strings.ToLower(base + quote)
}

func (c *BinanceCodec) streams(venueSymbols []string) []string {
	out := make([]string, 0, len(venueSymbols))
	for _, s := range venueSymbols {
		out = append(out, s+"@depth5@100ms")
	}
	return out
}

func (c *BinanceCodec) frame(method string, venueSymbols []string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"method": method,
		"params": c.streams(venueSymbols),
		"id":     c.id.Add(1),
	})
}

func (c *BinanceCodec) SubscribeFrame(venueSymbols []string) ([]byte, error) {
	return c.frame("SUBSCRIBE", venueSymbols)
}

func (c *BinanceCodec) UnsubscribeFrame(venueSymbols []string) ([]byte, error) {
	return c.frame("UNSUBSCRIBE", venueSymbols)
}

// KeepaliveFrame binance 使用控制帧
func (c *BinanceCodec) KeepaliveFrame() []byte { return nil }

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	ID     *int64          `json:"id"`
}

type binanceDepth struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (c *BinanceCodec) Parse(msg []byte) ([]BookUpdate, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, malformed("binance: %v", err)
	}
	if env.Stream == "" {
		if env.ID != nil {
			return nil, nil // 订阅回执 {"result":null,"id":1}
		}
		return nil, malformed("binance: missing stream")
	}
	sym, _, ok := strings.Cut(env.Stream, "@")
	if !ok || sym == "" {
		return nil, malformed("binance: bad stream %q", env.Stream)
	}
	var d binanceDepth
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return nil, malformed("binance: %v", err)
	}
	bids, err := parseLevels(d.Bids, 0)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(d.Asks, 0)
	if err != nil {
		return nil, err
	}
	return []BookUpdate{{VenueSymbol: sym, Bids: bids, Asks: asks}}, nil
}
