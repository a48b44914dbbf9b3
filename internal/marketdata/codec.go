package marketdata

import (
	"strings"
	"time"

	"github.com/betbot/execbot/pkg/marketmath"
)

// BookUpdate 一条解析后的盘口（前 N 档快照）
type BookUpdate struct {
	VenueSymbol string // 交易所写法，由聚合器映射回 BASE/QUOTE
	Bids        []marketmath.Level
	Asks        []marketmath.Level
	EventTime   time.Time // 交易所时间戳；缺失时为零值
}

// Codec 一个交易所的流协议：地址、订阅帧、保活帧、消息解析。
//
// Parse 只会被该交易所的读协程调用；返回 (nil, nil) 表示控制消息（订阅回执、pong 等）。
type Codec interface {
	Venue() string
	URL() string
	VenueSymbol(canonical string) string
	SubscribeFrame(venueSymbols []string) ([]byte, error)
	UnsubscribeFrame(venueSymbols []string) ([]byte, error)
	// KeepaliveFrame 返回 nil 表示使用 websocket 控制帧 ping
	KeepaliveFrame() []byte
	Parse(msg []byte) ([]BookUpdate, error)
}

// PongDetector 使用文本保活的交易所实现它，用于测量往返延迟
type PongDetector interface {
	IsPong(msg []byte) bool
}

// splitSymbol "BTC/USDT" -> ("BTC", "USDT")
func splitSymbol(canonical string) (string, string) {
	base, quote, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(canonical)), "/")
	if !ok {
		return base, ""
	}
	return base, quote
}

// parseLevels 解析 [["price","size",...], ...]；额外字段忽略
func parseLevels(raw [][]string, limit int) ([]marketmath.Level, error) {
	n := len(raw)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]marketmath.Level, 0, n)
	for i := 0; i < n; i++ {
		if len(raw[i]) < 2 {
			return nil, malformed("level %d has %d fields", i, len(raw[i]))
		}
		lv, err := marketmath.ParseLevel(raw[i][0], raw[i][1])
		if err != nil {
			return nil, malformed("%v", err)
		}
		out = append(out, lv)
	}
	return out, nil
}
