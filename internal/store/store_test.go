package store

import (
	"context"
	"path/filepath"
	"testing"

	"strux/internal/analysis/structure"
	"strux/internal/market"
)

func mkCandle(i int, close float64) market.Candle {
	return market.Candle{
		OpenTime:  int64(i) * 60_000,
		CloseTime: int64(i+1)*60_000 - 1,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    1,
	}
}

func TestMemoryKlineStorePutMergesSameOpenTime(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()
	if err := s.Put(ctx, "BTCUSDT", "1m", []market.Candle{mkCandle(0, 10), mkCandle(1, 11)}, 100); err != nil {
		t.Fatalf("put: %v", err)
	}
	// 同一 OpenTime 的增量更新应覆盖末尾那根而不是追加
	upd := mkCandle(1, 12)
	if err := s.Put(ctx, "BTCUSDT", "1m", []market.Candle{upd}, 100); err != nil {
		t.Fatalf("put update: %v", err)
	}
	got, err := s.Get(ctx, "BTCUSDT", "1m")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("期望 2 根, got %d", len(got))
	}
	if got[1].Close != 12 {
		t.Fatalf("末尾应被覆盖为 12, got %v", got[1].Close)
	}
}

func TestMemoryKlineStorePutTrims(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()
	var ks []market.Candle
	for i := 0; i < 10; i++ {
		ks = append(ks, mkCandle(i, float64(i)))
	}
	if err := s.Put(ctx, "ETHUSDT", "5m", ks, 4); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _ := s.Get(ctx, "ETHUSDT", "5m")
	if len(got) != 4 {
		t.Fatalf("裁剪后应剩 4 根, got %d", len(got))
	}
	if got[0].Close != 6 || got[3].Close != 9 {
		t.Fatalf("应保留最近 4 根 [6..9], got %v..%v", got[0].Close, got[3].Close)
	}
}

func TestMemoryKlineStoreExportWindow(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()
	var ks []market.Candle
	for i := 0; i < 6; i++ {
		ks = append(ks, mkCandle(i, float64(i)))
	}
	if err := s.Set(ctx, "BTCUSDT", "1h", ks); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Export(ctx, "BTCUSDT", "1h", 3)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(got) != 3 || got[0].Close != 3 || got[2].Close != 5 {
		t.Fatalf("应返回最近 3 根 [3,4,5], got %+v", got)
	}
}

func TestStructureStoreCandleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strux.db")
	s, err := NewStructureStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	var ks []market.Candle
	for i := 0; i < 5; i++ {
		ks = append(ks, mkCandle(i, 100+float64(i)))
	}
	if err := s.SaveCandles(ctx, "btcusdt", "1m", ks); err != nil {
		t.Fatalf("save: %v", err)
	}
	// REPLACE 语义：同主键重写不应产生重复行
	if err := s.SaveCandles(ctx, "BTCUSDT", "1m", ks[:2]); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, err := s.LoadCandles(ctx, "BTCUSDT", "1m", 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("期望 3 根, got %d", len(got))
	}
	if got[0].Close != 102 || got[2].Close != 104 {
		t.Fatalf("应为最近 3 根且升序, got %v..%v", got[0].Close, got[2].Close)
	}
}

func TestStructureStoreRunLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strux.db")
	s, err := NewStructureStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	run := ScanRun{
		ID:             "run-1",
		Symbol:         "btcusdt",
		Interval:       "1h",
		SwingLength:    50,
		InternalLength: 5,
		Status:         "running",
		StartedAt:      1000,
	}
	if err := s.InsertRun(ctx, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	run.Bars = 500
	run.Events = 7
	run.SwingTrend = "bullish"
	run.InternalTrend = "bearish"
	run.Status = "done"
	run.FinishedAt = 2000
	if err := s.FinishRun(ctx, run); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got == nil {
		t.Fatalf("任务应存在")
	}
	if got.Symbol != "BTCUSDT" || got.Status != "done" || got.Events != 7 || got.SwingTrend != "bullish" {
		t.Fatalf("回读不一致: %+v", got)
	}

	missing, err := s.GetRun(ctx, "run-404")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("不存在的任务应返回 nil")
	}
	if err := s.FinishRun(ctx, ScanRun{ID: "run-404", Status: "done", FinishedAt: 1}); err == nil {
		t.Fatalf("回填不存在的任务应报错")
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("list 结果异常: %+v", runs)
	}
}

func TestStructureStoreEventsBackfillTimes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strux.db")
	s, err := NewStructureStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	var ks []market.Candle
	for i := 0; i < 10; i++ {
		ks = append(ks, mkCandle(i, float64(i)))
	}
	events := []structure.BreakEvent{
		{PivotIndex: 2, BreakIndex: 7, Price: 5, Level: structure.LevelSwing, Kind: structure.BreakBOS, Direction: structure.DirectionBull},
		{PivotIndex: 5, BreakIndex: 9, Price: 1, Level: structure.LevelInternal, Kind: structure.BreakCHoCH, Direction: structure.DirectionBear},
	}
	if err := s.InsertEvents(ctx, "run-1", "ethusdt", "1h", events, ks); err != nil {
		t.Fatalf("insert events: %v", err)
	}
	rows, err := s.ListEvents(ctx, "ETHUSDT", "1h", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("期望 2 条事件, got %d", len(rows))
	}
	// break_time 倒序：index 9 的在前
	if rows[0].BreakIndex != 9 || rows[1].BreakIndex != 7 {
		t.Fatalf("排序异常: %+v", rows)
	}
	if rows[1].PivotTime != 2*60_000 || rows[1].BreakTime != 7*60_000 {
		t.Fatalf("时间回填异常: pivot=%d break=%d", rows[1].PivotTime, rows[1].BreakTime)
	}
	if rows[0].Level != "internal" || rows[0].Kind != "choch" || rows[0].Direction != "bear" {
		t.Fatalf("字段映射异常: %+v", rows[0])
	}

	// symbol 过滤
	none, err := s.ListEvents(ctx, "BTCUSDT", "", 10)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("过滤后应为空, got %d", len(none))
	}
}
