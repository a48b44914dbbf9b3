package marketdata

import (
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/betbot/execbot/pkg/marketmath"
)

const bybitSpotURL = "wss://stream.bybit.com/v5/public/spot"

// BybitCodec orderbook.50.<SYM>：先推 snapshot 再推 delta，本地维护档位后输出前 depth 档。
type BybitCodec struct {
	url   string
	depth int

	mu    sync.Mutex
	books map[string]*levelBook
}

func NewBybitCodec(url string, depth int) *BybitCodec {
	if url == "" {
		url = bybitSpotURL
	}
	if depth <= 0 {
		depth = 5
	}
	return &BybitCodec{url: url, depth: depth, books: make(map[string]*levelBook)}
}

func (c *BybitCodec) Venue() string { return "bybit" }
func (c *BybitCodec) URL() string   { return c.url }

func (c *BybitCodec) VenueSymbol(canonical string) string {
	base, quote := splitSymbol(canonical)
	return base + quote
}

func (c *BybitCodec) topics(venueSymbols []string) []string {
	out := make([]string, 0, len(venueSymbols))
	for _, s := range venueSymbols {
		out = append(out, "orderbook.50."+s)
	}
	return out
}

func (c *BybitCodec) SubscribeFrame(venueSymbols []string) ([]byte, error) {
	return json.Marshal(map[string]any{"op": "subscribe", "args": c.topics(venueSymbols)})
}

func (c *BybitCodec) UnsubscribeFrame(venueSymbols []string) ([]byte, error) {
	c.mu.Lock()
	for _, s := range venueSymbols {
		delete(c.books, s)
	}
	c.mu.Unlock()
	return json.Marshal(map[string]any{"op": "unsubscribe", "args": c.topics(venueSymbols)})
}

func (c *BybitCodec) KeepaliveFrame() []byte { return []byte(`{"op":"ping"}`) }

func (c *BybitCodec) IsPong(msg []byte) bool {
	var m struct {
		Op     string `json:"op"`
		RetMsg string `json:"ret_msg"`
	}
	if json.Unmarshal(msg, &m) != nil {
		return false
	}
	return m.Op == "pong" || (m.Op == "ping" && m.RetMsg == "pong")
}

type bybitMessage struct {
	Topic   string     `json:"topic"`
	Type    string     `json:"type"`
	Ts      int64      `json:"ts"`
	Op      string     `json:"op"`
	Success *bool      `json:"success"`
	RetMsg  string     `json:"ret_msg"`
	Data    *bybitBook `json:"data"`
}

type bybitBook struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Update int64      `json:"u"`
}

func (c *BybitCodec) Parse(msg []byte) ([]BookUpdate, error) {
	var m bybitMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, malformed("bybit: %v", err)
	}
	if m.Op != "" {
		if m.Success != nil && !*m.Success {
			return nil, malformed("bybit: op %s failed: %s", m.Op, m.RetMsg)
		}
		return nil, nil
	}
	if !strings.HasPrefix(m.Topic, "orderbook.") || m.Data == nil {
		return nil, malformed("bybit: unexpected topic %q", m.Topic)
	}
	sym := m.Data.Symbol
	if sym == "" {
		sym = m.Topic[strings.LastIndex(m.Topic, ".")+1:]
	}
	bids, err := parseLevels(m.Data.Bids, 0)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(m.Data.Asks, 0)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	book, ok := c.books[sym]
	switch m.Type {
	case "snapshot":
		book = newLevelBook()
		c.books[sym] = book
	case "delta":
		if !ok {
			return nil, malformed("bybit: delta before snapshot for %s", sym)
		}
	default:
		return nil, malformed("bybit: unknown type %q", m.Type)
	}
	book.apply(bids, asks)

	u := BookUpdate{VenueSymbol: sym, Bids: book.top(true, c.depth), Asks: book.top(false, c.depth)}
	if m.Ts > 0 {
		u.EventTime = time.UnixMilli(m.Ts)
	}
	return []BookUpdate{u}, nil
}

// levelBook 价格 -> 数量；数量为 0 表示删除该档
type levelBook struct {
	bids map[float64]float64
	asks map[float64]float64
}

func newLevelBook() *levelBook {
	return &levelBook{bids: make(map[float64]float64), asks: make(map[float64]float64)}
}

func (b *levelBook) apply(bids, asks []marketmath.Level) {
	for _, lv := range bids {
		if lv.Size == 0 {
			delete(b.bids, lv.Price)
		} else {
			b.bids[lv.Price] = lv.Size
		}
	}
	for _, lv := range asks {
		if lv.Size == 0 {
			delete(b.asks, lv.Price)
		} else {
			b.asks[lv.Price] = lv.Size
		}
	}
}

func (b *levelBook) top(bids bool, n int) []marketmath.Level {
	src := b.asks
	if bids {
		src = b.bids
	}
	out := make([]marketmath.Level, 0, len(src))
	for p, s := range src {
		out = append(out, marketmath.Level{Price: p, Size: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if bids {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
