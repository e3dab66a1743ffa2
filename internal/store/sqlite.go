package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/fubot/internal/domain"
)

var log = logrus.WithField("component", "store")

// SQLiteStore 交易数据存储，实现 ports.TradeRecorder。
// 记录收到的信号、执行的订单、交易结果与影子决策特征，
// 供离线复盘与超时诊断查询。
type SQLiteStore struct {
	db *sql.DB
}

// Open 打开（或创建）数据库并完成建表。
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS signals_received (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  signal_type TEXT,
  quantity REAL NOT NULL,
  order_type TEXT,
  opposite INTEGER,
  entry_price REAL,
  atr REAL,
  received_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS orders_executed (
  client_order_id TEXT PRIMARY KEY,
  signal_id INTEGER,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  kind TEXT NOT NULL,
  order_type TEXT NOT NULL,
  quantity REAL NOT NULL,
  price REAL,
  status TEXT NOT NULL,
  is_add_position INTEGER NOT NULL DEFAULT 0,
  signal_type TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS trading_results (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  client_order_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  entry_price REAL NOT NULL,
  exit_price REAL NOT NULL,
  quantity REAL NOT NULL,
  pnl REAL NOT NULL,
  pnl_percent REAL NOT NULL,
  holding_minutes INTEGER NOT NULL,
  exit_method TEXT NOT NULL,
  is_successful INTEGER NOT NULL,
  created_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS ml_features (
  id TEXT PRIMARY KEY,
  client_order_id TEXT,
  symbol TEXT NOT NULL,
  signal_type TEXT,
  features TEXT NOT NULL,
  shadow_score REAL NOT NULL,
  shadow_decision TEXT NOT NULL,
  actual_decision TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_results_symbol ON trading_results(symbol);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders_executed(symbol, status);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

// Close 关闭数据库。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordSignal 记录收到的信号，返回自增 ID。
func (s *SQLiteStore) RecordSignal(ctx context.Context, sig *domain.ParsedSignal) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO signals_received (symbol, side, signal_type, quantity, order_type, opposite, entry_price, atr, received_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.Symbol, string(sig.Side), sig.SignalType, sig.Quantity, sig.OrderType,
		sig.Opposite, sig.EntryPrice, sig.ATR, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("记录信号失败: %w", err)
	}
	return res.LastInsertId()
}

// RecordOrderExecuted 记录已提交的订单。
func (s *SQLiteStore) RecordOrderExecuted(ctx context.Context, order *domain.Order, signalID int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	isAdd := 0
	if order.IsAddPosition {
		isAdd = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO orders_executed (client_order_id, signal_id, symbol, side, kind, order_type, quantity, price, status, is_add_position, signal_type, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(client_order_id) DO UPDATE SET status=excluded.status, updated_at=excluded.updated_at`,
		order.ClientOrderID, signalID, order.Symbol, string(order.Side), string(order.Kind),
		order.Type, order.Quantity, order.Price, string(order.Status), isAdd, order.SignalType, now, now)
	if err != nil {
		return fmt.Errorf("记录订单失败: %w", err)
	}
	return nil
}

// UpdateOrderStatus 更新订单状态。
func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, clientOrderID string, status domain.OrderStatus) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE orders_executed SET status = ?, updated_at = ? WHERE client_order_id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339), clientOrderID)
	if err != nil {
		return fmt.Errorf("更新订单状态失败: %w", err)
	}
	return nil
}

// RecordTradingResult 记录一次完整交易的结果。
func (s *SQLiteStore) RecordTradingResult(ctx context.Context, result *domain.TradingResult) error {
	success := 0
	if result.IsSuccessful {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO trading_results (client_order_id, symbol, entry_price, exit_price, quantity, pnl, pnl_percent, holding_minutes, exit_method, is_successful, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ClientOrderID, result.Symbol, result.EntryPrice, result.ExitPrice, result.Quantity,
		result.PnL, result.PnLPercent, result.HoldingMinutes, result.ExitMethod, success,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("记录交易结果失败: %w", err)
	}
	return nil
}

// QueryOrderByClientID 按 clientOrderId 查询落库订单，不存在返回 (nil, nil)。
func (s *SQLiteStore) QueryOrderByClientID(ctx context.Context, clientOrderID string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT client_order_id, symbol, side, kind, order_type, quantity, price, status, is_add_position, signal_type
FROM orders_executed WHERE client_order_id = ?`, clientOrderID)

	var o domain.Order
	var side, kind, status string
	var isAdd int
	err := row.Scan(&o.ClientOrderID, &o.Symbol, &side, &kind, &o.Type, &o.Quantity, &o.Price, &status, &isAdd, &o.SignalType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	o.Side = domain.Side(side)
	o.Kind = domain.OrderKind(kind)
	o.Status = domain.OrderStatus(status)
	o.IsAddPosition = isAdd == 1
	return &o, nil
}

// RecordShadowObservation 记录影子决策特征（JSON 序列化后的特征向量）。
func (s *SQLiteStore) RecordShadowObservation(ctx context.Context, id, clientOrderID, symbol, signalType, featuresJSON string, score float64, shadowDecision, actualDecision string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ml_features (id, client_order_id, symbol, signal_type, features, shadow_score, shadow_decision, actual_decision, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, clientOrderID, symbol, signalType, featuresJSON, score, shadowDecision, actualDecision,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("记录影子特征失败: %w", err)
	}
	return nil
}

// Stats 汇总统计（/stats 接口用）。
type Stats struct {
	TotalSignals  int64   `json:"total_signals"`
	TotalOrders   int64   `json:"total_orders"`
	TotalTrades   int64   `json:"total_trades"`
	WinningTrades int64   `json:"winning_trades"`
	TotalPnL      float64 `json:"total_pnl"`
	WinRate       float64 `json:"win_rate"`
}

// QueryStats 汇总交易统计。
func (s *SQLiteStore) QueryStats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals_received`).Scan(&st.TotalSignals); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders_executed`).Scan(&st.TotalOrders); err != nil {
		return nil, err
	}
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(is_successful), 0), COALESCE(SUM(pnl), 0) FROM trading_results`).
		Scan(&st.TotalTrades, &st.WinningTrades, &st.TotalPnL)
	if err != nil {
		return nil, err
	}
	if st.TotalTrades > 0 {
		st.WinRate = float64(st.WinningTrades) / float64(st.TotalTrades) * 100
	}
	return &st, nil
}
