package marketdata

import (
	"bytes"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

const okxPublicURL = "wss://ws.okx.com:8443/ws/v5/public"

// OKXCodec books5 频道；文本 "ping"/"pong" 保活
type OKXCodec struct {
	url string
}

func NewOKXCodec(url string) *OKXCodec {
	if url == "" {
		url = okxPublicURL
	}
	return &OKXCodec{url: url}
}

func (c *OKXCodec) Venue() string { return "okx" }
func (c *OKXCodec) URL() string   { return c.url }

func (c *OKXCodec) VenueSymbol(canonical string) string {
	base, quote := splitSymbol(canonical)
	return base + "-" + quote
}

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

func (c *OKXCodec) frame(op string, venueSymbols []string) ([]byte, error) {
	args := make([]okxArg, 0, len(venueSymbols))
	for _, s := range venueSymbols {
		args = append(args, okxArg{Channel: "books5", InstID: s})
	}
	return json.Marshal(map[string]any{"op": op, "args": args})
}

func (c *OKXCodec) SubscribeFrame(venueSymbols []string) ([]byte, error) {
	return c.frame("subscribe", venueSymbols)
}

func (c *OKXCodec) UnsubscribeFrame(venueSymbols []string) ([]byte, error) {
	return c.frame("unsubscribe", venueSymbols)
}

func (c *OKXCodec) KeepaliveFrame() []byte { return []byte("ping") }

func (c *OKXCodec) IsPong(msg []byte) bool {
	return bytes.Equal(bytes.TrimSpace(msg), []byte("pong"))
}

type okxMessage struct {
	Event string    `json:"event"`
	Code  string    `json:"code"`
	Msg   string    `json:"msg"`
	Arg   okxArg    `json:"arg"`
	Data  []okxBook `json:"data"`
}

type okxBook struct {
	Asks   [][]string `json:"asks"`
	Bids   [][]string `json:"bids"`
	InstID string     `json:"instId"`
	Ts     string     `json:"ts"`
}

func (c *OKXCodec) Parse(msg []byte) ([]BookUpdate, error) {
	if c.IsPong(msg) {
		return nil, nil
	}
	var m okxMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, malformed("okx: %v", err)
	}
	if m.Event != "" {
		if m.Event == "error" {
			return nil, malformed("okx: event error %s %s", m.Code, m.Msg)
		}
		return nil, nil // subscribe / unsubscribe 回执
	}
	if m.Arg.Channel != "books5" || len(m.Data) == 0 {
		return nil, malformed("okx: unexpected channel %q", m.Arg.Channel)
	}
	out := make([]BookUpdate, 0, len(m.Data))
	for _, b := range m.Data {
		bids, err := parseLevels(b.Bids, 0)
		if err != nil {
			return nil, err
		}
		asks, err := parseLevels(b.Asks, 0)
		if err != nil {
			return nil, err
		}
		sym := b.InstID
		if sym == "" {
			sym = m.Arg.InstID
		}
		u := BookUpdate{VenueSymbol: sym, Bids: bids, Asks: asks}
		if ms, err := strconv.ParseInt(b.Ts, 10, 64); err == nil {
			u.EventTime = time.UnixMilli(ms)
		}
		out = append(out, u)
	}
	return out, nil
}
