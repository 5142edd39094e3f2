package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"strux/internal/analysis/structure"
	"strux/internal/market"
)

// ScanRun 一次扫描任务的落库记录。
type ScanRun struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Interval       string `json:"interval"`
	SwingLength    int    `json:"swing_length"`
	InternalLength int    `json:"internal_length"`
	Bars           int    `json:"bars"`
	Events         int    `json:"events"`
	SwingTrend     string `json:"swing_trend"`
	InternalTrend  string `json:"internal_trend"`
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
	StartedAt      int64  `json:"started_at"`
	FinishedAt     int64  `json:"finished_at,omitempty"`
}

// EventRow 结构事件的落库形态，带上确认时间方便查询端直接展示。
type EventRow struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	Symbol     string  `json:"symbol"`
	Interval   string  `json:"interval"`
	Level      string  `json:"level"`
	Kind       string  `json:"kind"`
	Direction  string  `json:"direction"`
	PivotIndex int     `json:"pivot_index"`
	BreakIndex int     `json:"break_index"`
	Price      float64 `json:"price"`
	PivotTime  int64   `json:"pivot_time"`
	BreakTime  int64   `json:"break_time"`
	CreatedAt  int64   `json:"created_at"`
}

// StructureStore sqlite 持久层：蜡烛缓存、扫描任务与结构事件。
type StructureStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewStructureStore 打开（必要时创建）sqlite 文件并执行建表。
func NewStructureStore(path string) (*StructureStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite 路径不能为空")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 失败: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &StructureStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *StructureStore) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS candles (
            symbol TEXT NOT NULL,
            interval TEXT NOT NULL,
            open_time INTEGER NOT NULL,
            close_time INTEGER NOT NULL,
            open REAL NOT NULL,
            high REAL NOT NULL,
            low REAL NOT NULL,
            close REAL NOT NULL,
            volume REAL NOT NULL DEFAULT 0,
            trades INTEGER NOT NULL DEFAULT 0,
            PRIMARY KEY (symbol, interval, open_time)
        )`,
		`CREATE TABLE IF NOT EXISTS scan_runs (
            id TEXT PRIMARY KEY,
            symbol TEXT NOT NULL,
            interval TEXT NOT NULL,
            swing_length INTEGER NOT NULL,
            internal_length INTEGER NOT NULL,
            bars INTEGER NOT NULL DEFAULT 0,
            events INTEGER NOT NULL DEFAULT 0,
            swing_trend TEXT NOT NULL DEFAULT '',
            internal_trend TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            message TEXT NOT NULL DEFAULT '',
            started_at INTEGER NOT NULL,
            finished_at INTEGER
        )`,
		`CREATE TABLE IF NOT EXISTS structure_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            symbol TEXT NOT NULL,
            interval TEXT NOT NULL,
            level TEXT NOT NULL,
            kind TEXT NOT NULL,
            direction TEXT NOT NULL,
            pivot_index INTEGER NOT NULL,
            break_index INTEGER NOT NULL,
            price REAL NOT NULL,
            pivot_time INTEGER NOT NULL DEFAULT 0,
            break_time INTEGER NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_events_symbol ON structure_events (symbol, interval, break_time)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("建表失败: %w", err)
		}
	}
	return nil
}

// Close 关闭底层连接。
func (s *StructureStore) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

func (s *StructureStore) handle() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("structure store 未初始化")
	}
	return db, nil
}

// SaveCandles 以 INSERT OR REPLACE 写入蜡烛缓存，事务内批量执行。
func (s *StructureStore) SaveCandles(ctx context.Context, symbol, interval string, ks []market.Candle) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" || interval == "" {
		return fmt.Errorf("symbol/interval 不能为空")
	}
	if len(ks) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT OR REPLACE INTO candles
            (symbol, interval, open_time, close_time, open, high, low, close, volume, trades)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, k := range ks {
		if _, err := stmt.ExecContext(ctx, sym, interval, k.OpenTime, k.CloseTime,
			k.Open, k.High, k.Low, k.Close, k.Volume, k.Trades); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadCandles 读取最近 limit 根蜡烛（升序返回）；limit<=0 表示全部。
func (s *StructureStore) LoadCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" || interval == "" {
		return nil, fmt.Errorf("symbol/interval 不能为空")
	}
	query := `
        SELECT open_time, close_time, open, high, low, close, volume, trades
        FROM candles WHERE symbol=? AND interval=?
        ORDER BY open_time DESC`
	args := []interface{}{sym, interval}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Candle
	for rows.Next() {
		var k market.Candle
		if err := rows.Scan(&k.OpenTime, &k.CloseTime, &k.Open, &k.High, &k.Low,
			&k.Close, &k.Volume, &k.Trades); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// DESC 取最近，再翻回升序
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// InsertRun 写入一条 pending/running 状态的任务记录。
func (s *StructureStore) InsertRun(ctx context.Context, run ScanRun) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id 不能为空")
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixMilli()
	}
	_, err = db.ExecContext(ctx, `
        INSERT INTO scan_runs
            (id, symbol, interval, swing_length, internal_length, bars, events,
             swing_trend, internal_trend, status, message, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		run.ID, strings.ToUpper(run.Symbol), run.Interval, run.SwingLength, run.InternalLength,
		run.Bars, run.Events, run.SwingTrend, run.InternalTrend, run.Status, run.Message, run.StartedAt)
	return err
}

// FinishRun 回填任务的终态与统计。
func (s *StructureStore) FinishRun(ctx context.Context, run ScanRun) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if run.FinishedAt == 0 {
		run.FinishedAt = time.Now().UnixMilli()
	}
	res, err := db.ExecContext(ctx, `
        UPDATE scan_runs
        SET bars=?, events=?, swing_trend=?, internal_trend=?, status=?, message=?, finished_at=?
        WHERE id=?`,
		run.Bars, run.Events, run.SwingTrend, run.InternalTrend, run.Status, run.Message, run.FinishedAt, run.ID)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("任务 %s 不存在", run.ID)
	}
	return nil
}

// GetRun 按 ID 查询任务，不存在时返回 (nil, nil)。
func (s *StructureStore) GetRun(ctx context.Context, id string) (*ScanRun, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `
        SELECT id, symbol, interval, swing_length, internal_length, bars, events,
               swing_trend, internal_trend, status, message, started_at, COALESCE(finished_at, 0)
        FROM scan_runs WHERE id=?`, id)
	var run ScanRun
	if err := row.Scan(&run.ID, &run.Symbol, &run.Interval, &run.SwingLength, &run.InternalLength,
		&run.Bars, &run.Events, &run.SwingTrend, &run.InternalTrend, &run.Status, &run.Message,
		&run.StartedAt, &run.FinishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// ListRuns 按开始时间倒序返回最近 limit 条任务。
func (s *StructureStore) ListRuns(ctx context.Context, limit int) ([]ScanRun, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
        SELECT id, symbol, interval, swing_length, internal_length, bars, events,
               swing_trend, internal_trend, status, message, started_at, COALESCE(finished_at, 0)
        FROM scan_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScanRun
	for rows.Next() {
		var run ScanRun
		if err := rows.Scan(&run.ID, &run.Symbol, &run.Interval, &run.SwingLength, &run.InternalLength,
			&run.Bars, &run.Events, &run.SwingTrend, &run.InternalTrend, &run.Status, &run.Message,
			&run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// InsertEvents 批量写入结构事件；candles 用于回填 pivot/break 的时间戳。
func (s *StructureStore) InsertEvents(ctx context.Context, runID, symbol, interval string, events []structure.BreakEvent, candles []market.Candle) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	now := time.Now().UnixMilli()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO structure_events
            (run_id, symbol, interval, level, kind, direction, pivot_index, break_index,
             price, pivot_time, break_time, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	openTime := func(i int) int64 {
		if i >= 0 && i < len(candles) {
			return candles[i].OpenTime
		}
		return 0
	}
	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, runID, sym, interval,
			string(ev.Level), string(ev.Kind), string(ev.Direction),
			ev.PivotIndex, ev.BreakIndex, ev.Price,
			openTime(ev.PivotIndex), openTime(ev.BreakIndex), now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListEvents 按确认时间倒序返回最近 limit 条事件；symbol 为空表示不过滤。
func (s *StructureStore) ListEvents(ctx context.Context, symbol, interval string, limit int) ([]EventRow, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	query := `
        SELECT id, run_id, symbol, interval, level, kind, direction, pivot_index, break_index,
               price, pivot_time, break_time, created_at
        FROM structure_events`
	var conds []string
	var args []interface{}
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		conds = append(conds, "symbol=?")
		args = append(args, sym)
	}
	if interval != "" {
		conds = append(conds, "interval=?")
		args = append(args, interval)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY break_time DESC, id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var ev EventRow
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Symbol, &ev.Interval, &ev.Level, &ev.Kind,
			&ev.Direction, &ev.PivotIndex, &ev.BreakIndex, &ev.Price,
			&ev.PivotTime, &ev.BreakTime, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
