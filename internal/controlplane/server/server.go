// Package server 控制面 HTTP API（gin）。
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/internal/marketdata"
	"github.com/betbot/execbot/internal/risk"
	"github.com/betbot/execbot/internal/scheduler"
	"github.com/betbot/execbot/pkg/ratelimit"
)

var log = logrus.WithField("component", "controlplane")

// Books 聚合器只读视图
type Books interface {
	FreshSnapshots(symbol string) []domain.VenueSnapshot
	BestRoute(symbol string) (marketdata.Route, bool)
	MicroMetrics(symbol string) marketdata.MicroMetrics
	ConnectionStates() []domain.ConnectionState
	Symbols() []string
}

// Gate 风控闸门视图 + 人工操作
type Gate interface {
	Mode() risk.Mode
	Snapshot() domain.RiskState
	ActiveGates() []risk.ActiveGate
	ObserveSentiment(s risk.SentimentSample)
	OpenStrategyBreaker(strategy string, d time.Duration)
}

type Trades interface {
	ListTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error)
}

type OpenTrades interface {
	OpenTrades() []domain.Trade
}

type Intake interface {
	Submit(intent domain.TradeIntent) error
	Stats() scheduler.Stats
}

// Deps 各依赖；Trades 可为 nil（未启用交易日志）
type Deps struct {
	Books  Books
	Gate   Gate
	Engine OpenTrades
	Intake Intake
	Trades Trades
}

type Config struct {
	Listen string
	// IntakePerMinute POST /api/intents 每分钟上限
	IntakePerMinute int
	// HaltDuration 人工熔断策略的时长
	HaltDuration time.Duration
	DryRun       bool
}

func (c Config) normalized() Config {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8088"
	}
	if c.IntakePerMinute <= 0 {
		c.IntakePerMinute = 120
	}
	if c.HaltDuration <= 0 {
		c.HaltDuration = 10 * time.Minute
	}
	return c
}

type Server struct {
	cfg    Config
	deps   Deps
	intake *ratelimit.SlidingWindow
	start  time.Time
	now    func() time.Time

	httpSrv *http.Server
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Books == nil || deps.Gate == nil || deps.Engine == nil || deps.Intake == nil {
		return nil, errors.New("controlplane: books, gate, engine and intake are required")
	}
	cfg = cfg.normalized()
	return &Server{
		cfg:    cfg,
		deps:   deps,
		intake: ratelimit.NewSlidingWindow(cfg.IntakePerMinute, time.Minute),
		start:  time.Now(),
		now:    time.Now,
	}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/books/:symbol", s.handleBooks)
	api.GET("/route/:symbol", s.handleRoute)
	api.GET("/risk", s.handleRisk)
	api.GET("/trades", s.handleTrades)
	api.POST("/intents", s.handleIntent)
	api.POST("/sentiment", s.handleSentiment)
	api.POST("/strategies/:tag/halt", s.handleHalt)

	return r
}

// Start 在后台监听；返回实际监听地址由调用方从日志获取
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("控制面监听: %s", s.cfg.Listen)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return errors.Wrap(err, "controlplane listen")
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
			"cost":   time.Since(start).String(),
		}).Debug("http")
	}
}

func writeError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
