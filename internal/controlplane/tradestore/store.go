// Package tradestore 终态交易日志（sqlite），按保留期清理。
package tradestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/execbot/internal/domain"
)

var log = logrus.WithField("component", "tradestore")

// Summary 某个时间点之后的汇总
type Summary struct {
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	Stopped int     `json:"stopped"`
	PnLUSD  float64 `json:"pnl_usd"`
	FeesUSD float64 `json:"fees_usd"`
}

// Store 实现 ports.TradeJournal
type Store struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

// Open 打开（或创建）数据库。path 为 ":memory:" 时使用内存库。
func Open(path string, retention time.Duration) (*Store, error) {
	if path == "" {
		return nil, errors.New("trades db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "mkdir db dir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1) // SQLite：单连接
	db.SetMaxIdleConns(1)

	s := &Store{db: db, retention: retention, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  venue TEXT NOT NULL,
  strategy TEXT NOT NULL,
  side TEXT NOT NULL,
  status TEXT NOT NULL,
  close_reason TEXT,
  entry_price REAL NOT NULL,
  exit_price REAL NOT NULL,
  filled_size REAL NOT NULL,
  realized_pnl REAL NOT NULL,
  fees_usd REAL NOT NULL,
  opened_at TEXT NOT NULL,
  closed_at TEXT,
  closed_ms INTEGER NOT NULL,
  payload TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_closed_ms ON trades(closed_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, closed_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// AppendTrade 写入终态交易；同 id 重复写入覆盖
func (s *Store) AppendTrade(ctx context.Context, t *domain.Trade) error {
	if t == nil || t.ID == "" {
		return errors.New("trade without id")
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "marshal trade")
	}
	closed := t.ClosedAt
	if closed.IsZero() {
		closed = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO trades (id, symbol, venue, strategy, side, status, close_reason, entry_price, exit_price,
  filled_size, realized_pnl, fees_usd, opened_at, closed_at, closed_ms, payload)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, t.ID, t.Symbol, t.Venue, t.Strategy, string(t.Side), string(t.Status), string(t.CloseReason),
		t.EntryPrice, t.ExitPrice, t.FilledSize, t.RealizedPnL, t.FeesUSD,
		t.OpenedAt.UTC().Format(time.RFC3339Nano), closed.UTC().Format(time.RFC3339Nano), closed.UnixMilli(), string(payload))
	if err != nil {
		return errors.Wrapf(err, "insert trade %s", t.ID)
	}
	return nil
}

// ListTrades 最近的终态交易（按平仓时间倒序）；symbol 为空表示全部
func (s *Store) ListTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT payload FROM trades
WHERE (? = '' OR symbol = ?)
ORDER BY closed_ms DESC
LIMIT ?
`, symbol, symbol, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query trades")
	}
	defer rows.Close()

	out := make([]domain.Trade, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var t domain.Trade
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			log.Warnf("跳过无法解析的交易记录: %v", err)
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SummarySince since 之后平仓的交易汇总（净盈亏 = realized - fees）
func (s *Store) SummarySince(ctx context.Context, since time.Time) (Summary, error) {
	var sum Summary
	var pnl, fees sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
  COALESCE(SUM(CASE WHEN realized_pnl - fees_usd > 0 THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN realized_pnl - fees_usd < 0 THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
  SUM(realized_pnl), SUM(fees_usd)
FROM trades WHERE closed_ms >= ?
`, string(domain.TradeStopped), since.UnixMilli()).Scan(&sum.Trades, &sum.Wins, &sum.Losses, &sum.Stopped, &pnl, &fees)
	if err != nil {
		return Summary{}, errors.Wrap(err, "summary")
	}
	sum.FeesUSD = fees.Float64
	sum.PnLUSD = pnl.Float64 - fees.Float64
	return sum, nil
}

// Purge 删除超出保留期的记录；retention <= 0 时不清理
func (s *Store) Purge(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM trades WHERE closed_ms < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "purge trades")
	}
	return res.RowsAffected()
}

// StartPurge 启动时清理一次，之后每 every 清理一次，直到 ctx 取消
func (s *Store) StartPurge(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Hour
	}
	purge := func() {
		n, err := s.Purge(ctx)
		if err != nil {
			log.Warnf("清理交易记录失败: %v", err)
			return
		}
		if n > 0 {
			log.Infof("清理过期交易记录 %d 条（保留 %v）", n, s.retention)
		}
	}
	go func() {
		purge()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				purge()
			}
		}
	}()
}
