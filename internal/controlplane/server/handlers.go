package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/internal/marketdata"
	"github.com/betbot/execbot/internal/risk"
	"github.com/betbot/execbot/internal/scheduler"
)

var validate = validator.New()

type statusResponse struct {
	Mode        risk.Mode                `json:"mode"`
	DryRun      bool                     `json:"dry_run"`
	Uptime      string                   `json:"uptime"`
	Symbols     []string                 `json:"symbols"`
	Connections []domain.ConnectionState `json:"connections"`
	OpenTrades  []domain.Trade           `json:"open_trades"`
	Scheduler   scheduler.Stats          `json:"scheduler"`
	RiskState   domain.RiskState         `json:"risk_state"`
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{
		Mode:        s.deps.Gate.Mode(),
		DryRun:      s.cfg.DryRun,
		Uptime:      s.now().Sub(s.start).Truncate(time.Second).String(),
		Symbols:     s.deps.Books.Symbols(),
		Connections: s.deps.Books.ConnectionStates(),
		OpenTrades:  s.deps.Engine.OpenTrades(),
		Scheduler:   s.deps.Intake.Stats(),
		RiskState:   s.deps.Gate.Snapshot(),
	})
}

type booksResponse struct {
	Symbol    string                  `json:"symbol"`
	Snapshots []domain.VenueSnapshot  `json:"snapshots"`
	Micro     marketdata.MicroMetrics `json:"micro"`
}

func (s *Server) handleBooks(c *gin.Context) {
	sym := symbolParam(c)
	snaps := s.deps.Books.FreshSnapshots(sym)
	if snaps == nil {
		snaps = []domain.VenueSnapshot{}
	}
	c.JSON(http.StatusOK, booksResponse{Symbol: sym, Snapshots: snaps, Micro: s.deps.Books.MicroMetrics(sym)})
}

func (s *Server) handleRoute(c *gin.Context) {
	sym := symbolParam(c)
	route, ok := s.deps.Books.BestRoute(sym)
	if !ok {
		writeError(c, http.StatusNotFound, errors.Errorf("no fresh venue for %s", sym))
		return
	}
	c.JSON(http.StatusOK, route)
}

type riskResponse struct {
	Mode   risk.Mode         `json:"mode"`
	State  domain.RiskState  `json:"state"`
	Active []risk.ActiveGate `json:"active_gates"`
}

func (s *Server) handleRisk(c *gin.Context) {
	active := s.deps.Gate.ActiveGates()
	if active == nil {
		active = []risk.ActiveGate{}
	}
	c.JSON(http.StatusOK, riskResponse{Mode: s.deps.Gate.Mode(), State: s.deps.Gate.Snapshot(), Active: active})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.deps.Trades == nil {
		writeError(c, http.StatusServiceUnavailable, errors.New("trade journal disabled"))
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, errors.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	sym := ""
	if v := c.Query("symbol"); v != "" {
		sym = canonicalSymbol(v)
	}
	trades, err := s.deps.Trades.ListTrades(c.Request.Context(), sym, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleIntent(c *gin.Context) {
	if !s.intake.Allow() {
		c.Header("Retry-After", strconv.Itoa(int(time.Until(s.intake.GetResetTime()).Seconds())+1))
		writeError(c, http.StatusTooManyRequests, errors.New("intent rate limit exceeded"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	intent, err := domain.DecodeIntent(body)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Intake.Submit(intent); err != nil {
		if errors.Is(err, scheduler.ErrQueueFull) {
			writeError(c, http.StatusServiceUnavailable, err)
			return
		}
		writeError(c, http.StatusBadRequest, err)
		return
	}
	core := intent.Core()
	log.WithFields(logrus.Fields{"symbol": core.Symbol, "strategy": core.Strategy, "kind": intent.Kind()}).Info("收到交易意图")
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "kind": intent.Kind(), "symbol": core.Symbol})
}

type sentimentRequest struct {
	Symbol     string  `json:"symbol"`
	Score      float64 `json:"score" validate:"gte=-1,lte=1"`
	Regulatory float64 `json:"regulatory" validate:"gte=-1,lte=1"`
	Source     string  `json:"source" validate:"required"`
}

func (s *Server) handleSentiment(c *gin.Context) {
	var req sentimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	s.deps.Gate.ObserveSentiment(risk.SentimentSample{
		Symbol:     canonicalSymbol(req.Symbol),
		Score:      req.Score,
		Regulatory: req.Regulatory,
		Source:     req.Source,
		At:         s.now(),
	})
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHalt(c *gin.Context) {
	tag := strings.TrimSpace(c.Param("tag"))
	if tag == "" {
		writeError(c, http.StatusBadRequest, errors.New("strategy tag is required"))
		return
	}
	d := s.cfg.HaltDuration
	if v := c.Query("duration"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			writeError(c, http.StatusBadRequest, errors.Errorf("invalid duration %q", v))
			return
		}
		d = parsed
	}
	s.deps.Gate.OpenStrategyBreaker(tag, d)
	log.Warnf("人工熔断策略 %s，持续 %v", tag, d)
	c.JSON(http.StatusOK, gin.H{"strategy": tag, "until": s.now().Add(d)})
}

// symbolParam 路径里用 BTC-USDT 表示 BTC/USDT
func symbolParam(c *gin.Context) string {
	return canonicalSymbol(c.Param("symbol"))
}

func canonicalSymbol(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "/"))
}
