package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/internal/metrics"
	"github.com/betbot/execbot/pkg/syncgroup"
)

var log = logrus.WithField("component", "marketdata")

type updateFunc func(venue string, updates []BookUpdate, at time.Time)

type connConfig struct {
	PingInterval     time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ProxyURL         string
}

// VenueConn 一个交易所的长连接：DISCONNECTED → CONNECTING → CONNECTED，断开后按退避无限重连。
//
// 订阅集合跨连接保留，每次连上后整体回放。读协程是该交易所快照的唯一写入方。
type VenueConn struct {
	codec    Codec
	cfg      connConfig
	onUpdate updateFunc
	backoff  *Backoff
	log      *logrus.Entry

	mu    sync.RWMutex
	state domain.ConnectionState
	subs  map[string]struct{}
	conn  *websocket.Conn

	writeMu   sync.Mutex
	pingSent  atomic.Int64 // 最近一次文本保活的发送时间（UnixNano）
	malformed atomic.Int64
	now       func() time.Time
}

func newVenueConn(codec Codec, cfg connConfig, onUpdate updateFunc) *VenueConn {
	return &VenueConn{
		codec:    codec,
		cfg:      cfg,
		onUpdate: onUpdate,
		backoff:  NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		log:      log.WithField("venue", codec.Venue()),
		state:    domain.ConnectionState{Venue: codec.Venue(), State: domain.ConnDisconnected},
		subs:     make(map[string]struct{}),
		now:      time.Now,
	}
}

// State 连接状态副本
func (c *VenueConn) State() domain.ConnectionState {
	c.mu.RLock()
	st := c.state
	c.mu.RUnlock()
	st.Backoff = c.backoff.Current()
	return st
}

// Malformed 丢弃的消息数
func (c *VenueConn) Malformed() int64 { return c.malformed.Load() }

func (c *VenueConn) setState(s domain.ConnState) {
	c.mu.Lock()
	c.state.State = s
	c.mu.Unlock()
}

// Subscribe 幂等；未连接时只记录，连上后回放
func (c *VenueConn) Subscribe(venueSymbol string) {
	c.mu.Lock()
	if _, ok := c.subs[venueSymbol]; ok {
		c.mu.Unlock()
		return
	}
	c.subs[venueSymbol] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}
	frame, err := c.codec.SubscribeFrame([]string{venueSymbol})
	if err == nil {
		err = c.write(conn, frame)
	}
	if err != nil {
		// 写失败说明连接在断开，重连后会回放
		c.log.Debugf("订阅 %s 发送失败: %v", venueSymbol, err)
	}
}

// Unsubscribe 幂等
func (c *VenueConn) Unsubscribe(venueSymbol string) {
	c.mu.Lock()
	if _, ok := c.subs[venueSymbol]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.subs, venueSymbol)
	conn := c.conn
	c.mu.Unlock()

	frame, err := c.codec.UnsubscribeFrame([]string{venueSymbol})
	if err != nil || conn == nil {
		return
	}
	if err := c.write(conn, frame); err != nil {
		c.log.Debugf("退订 %s 发送失败: %v", venueSymbol, err)
	}
}

func (c *VenueConn) subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	return out
}

// Run 阻塞运行直到 ctx 结束
func (c *VenueConn) Run(ctx context.Context) {
	defer c.setState(domain.ConnDisconnected)
	for ctx.Err() == nil {
		c.setState(domain.ConnConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.setState(domain.ConnDisconnected)
			if ctx.Err() != nil {
				return
			}
			d := c.backoff.Next()
			c.log.Warnf("连接失败: %v，%v 后重试", err, d)
			if !sleepCtx(ctx, d) {
				return
			}
			continue
		}

		c.backoff.Reset()
		c.mu.Lock()
		c.conn = conn
		c.state.State = domain.ConnConnected
		c.state.LastHeartbeat = c.now()
		c.mu.Unlock()
		c.log.Infof("已连接 %s", c.codec.URL())

		err = c.serve(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.state.State = domain.ConnDisconnected
		c.state.Reconnects++
		c.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		metrics.WSReconnects.Add(1)
		d := c.backoff.Next()
		c.log.Warnf("连接断开: %v，%v 后重连", err, d)
		if !sleepCtx(ctx, d) {
			return
		}
	}
}

func (c *VenueConn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if c.cfg.ProxyURL != "" {
		if u, err := url.Parse(c.cfg.ProxyURL); err == nil {
			dialer.Proxy = http.ProxyURL(u)
		} else {
			c.log.Warnf("解析代理 URL 失败: %v，将尝试直接连接", err)
		}
	}
	conn, _, err := dialer.DialContext(ctx, c.codec.URL(), nil)
	if err != nil {
		return nil, &ConnectionError{Venue: c.codec.Venue(), Op: "dial", Err: err}
	}
	return conn, nil
}

// serve 回放订阅，然后读消息直到出错；返回时连接已关闭、子协程已退出
func (c *VenueConn) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	sg := syncgroup.NewSyncGroup()
	defer func() {
		cancel()
		sg.Wait()
	}()

	// ctx 结束时关闭连接以打断阻塞的 ReadMessage
	sg.Go(func() {
		<-connCtx.Done()
		_ = conn.Close()
	})

	if subs := c.subscriptions(); len(subs) > 0 {
		frame, err := c.codec.SubscribeFrame(subs)
		if err != nil {
			return fmt.Errorf("build subscribe frame: %w", err)
		}
		if err := c.write(conn, frame); err != nil {
			return err
		}
		c.log.Infof("已回放 %d 个订阅", len(subs))
	}

	readTimeout := 3 * c.cfg.PingInterval
	conn.SetPongHandler(func(payload string) error {
		now := c.now()
		if sent, err := strconv.ParseInt(payload, 10, 64); err == nil {
			c.recordLatency(now.Sub(time.Unix(0, sent)))
		}
		c.touch(now)
		return conn.SetReadDeadline(now.Add(readTimeout))
	})

	sg.Go(func() { c.keepalive(connCtx, conn) })

	for {
		_ = conn.SetReadDeadline(c.now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return &ConnectionError{Venue: c.codec.Venue(), Op: "read", Err: err}
		}
		c.handle(msg)
	}
}

// handle 解析一条消息；任何解析问题（包括 panic）都只计数丢弃
func (c *VenueConn) handle(msg []byte) {
	now := c.now()
	c.touch(now)
	metrics.WSMessages.Add(c.codec.Venue(), 1)

	if pd, ok := c.codec.(PongDetector); ok && pd.IsPong(msg) {
		if sent := c.pingSent.Load(); sent > 0 {
			c.recordLatency(now.Sub(time.Unix(0, sent)))
		}
		return
	}

	updates, err := c.safeParse(msg)
	if err != nil {
		c.malformed.Add(1)
		metrics.WSMalformedMessages.Add(1)
		c.log.Debugf("丢弃无法解析的消息: %v", err)
		return
	}
	if len(updates) > 0 && c.onUpdate != nil {
		c.onUpdate(c.codec.Venue(), updates, now)
	}
}

func (c *VenueConn) safeParse(msg []byte) (updates []BookUpdate, err error) {
	defer func() {
		if r := recover(); r != nil {
			updates, err = nil, malformed("panic: %v", r)
		}
	}()
	return c.codec.Parse(msg)
}

func (c *VenueConn) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := c.now()
		var err error
		if frame := c.codec.KeepaliveFrame(); frame != nil {
			c.pingSent.Store(now.UnixNano())
			err = c.write(conn, frame)
		} else {
			payload := []byte(strconv.FormatInt(now.UnixNano(), 10))
			err = conn.WriteControl(websocket.PingMessage, payload, now.Add(c.cfg.WriteTimeout))
		}
		if err != nil {
			c.log.Warnf("发送保活失败: %v，关闭连接", err)
			_ = conn.Close()
			return
		}
	}
}

func (c *VenueConn) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(c.now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ConnectionError{Venue: c.codec.Venue(), Op: "write", Err: err}
	}
	return nil
}

func (c *VenueConn) touch(now time.Time) {
	c.mu.Lock()
	c.state.LastHeartbeat = now
	c.mu.Unlock()
}

func (c *VenueConn) recordLatency(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	c.state.LatencyMs = float64(d) / float64(time.Millisecond)
	c.mu.Unlock()
}

func (c *VenueConn) latencyMs() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.LatencyMs
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
