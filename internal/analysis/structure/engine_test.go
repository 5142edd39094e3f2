package structure

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"strux/internal/market"
)

// mkCandles 用同一数值填充 H/L/C，专注结构逻辑本身。
func mkCandles(t *testing.T, vals []float64) []market.Candle {
	t.Helper()
	out := make([]market.Candle, len(vals))
	for i, v := range vals {
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i+1)*60_000 - 1,
			Open:      v,
			High:      v,
			Low:       v,
			Close:     v,
			Volume:    1,
		}
	}
	return out
}

type recordingObserver struct {
	pivots []Pivot
	events []BreakEvent
}

func (o *recordingObserver) PivotConfirmed(p Pivot)      { o.pivots = append(o.pivots, p) }
func (o *recordingObserver) BreakDetected(ev BreakEvent) { o.events = append(o.events, ev) }

// TestDetectScenario 双级别同时命中同一次突破：swing(4) 与 internal(2)
// 都确认 High@2(5) 并在 bar 7 产出多头 bos，合并时 swing 在前。
func TestDetectScenario(t *testing.T) {
	eng, err := NewEngine(Options{SwingLength: 4, InternalLength: 2}, nil)
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	res, err := eng.Detect(mkCandles(t, scanFixture()))
	if err != nil {
		t.Fatalf("检测失败: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("应产出 2 个事件, 实际=%d: %+v", len(res.Events), res.Events)
	}
	for _, ev := range res.Events {
		if ev.PivotIndex != 2 || ev.BreakIndex != 7 || ev.Price != 5 {
			t.Fatalf("事件坐标不符: %+v", ev)
		}
		if ev.Kind != BreakBOS || ev.Direction != DirectionBull {
			t.Fatalf("事件类型不符: %+v", ev)
		}
	}
	if res.Events[0].Level != LevelSwing || res.Events[1].Level != LevelInternal {
		t.Fatalf("同 bar 事件应 swing 在前: %+v", res.Events)
	}
	wantPivots := []Pivot{
		{Index: 0, Price: 1, Kind: KindLow, Level: LevelSwing},
		{Index: 0, Price: 1, Kind: KindLow, Level: LevelInternal},
		{Index: 2, Price: 5, Kind: KindHigh, Level: LevelSwing},
		{Index: 2, Price: 5, Kind: KindHigh, Level: LevelInternal},
		{Index: 5, Price: 1, Kind: KindLow, Level: LevelInternal},
	}
	if !reflect.DeepEqual(res.Pivots, wantPivots) {
		t.Fatalf("pivot 合并结果不符\n got=%+v\nwant=%+v", res.Pivots, wantPivots)
	}
	if res.SwingTrend != TrendBullish || res.InternalTrend != TrendBullish {
		t.Fatalf("两级趋势都应为 bullish, 实际 swing=%s internal=%s", res.SwingTrend, res.InternalTrend)
	}
}

func TestDetectObserverSeesEverything(t *testing.T) {
	obs := &recordingObserver{}
	eng, err := NewEngine(Options{SwingLength: 4, InternalLength: 2}, obs)
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	res, err := eng.Detect(mkCandles(t, scanFixture()))
	if err != nil {
		t.Fatalf("检测失败: %v", err)
	}
	if !reflect.DeepEqual(obs.pivots, res.Pivots) {
		t.Fatalf("observer 收到的 pivot 与结果不一致")
	}
	if !reflect.DeepEqual(obs.events, res.Events) {
		t.Fatalf("observer 收到的事件与结果不一致")
	}
}

func TestDetectRejectsInvalidNumbers(t *testing.T) {
	eng, err := NewEngine(Options{SwingLength: 2, InternalLength: 2}, nil)
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	candles := mkCandles(t, scanFixture())
	candles[3].High = math.NaN()
	_, err = eng.Detect(candles)
	var dataErr *DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("NaN 输入应返回 DataError, 实际=%v", err)
	}
	if dataErr.Index != 3 || dataErr.Field != "high" {
		t.Fatalf("DataError 应指向 bar 3 的 high, 实际=%+v", dataErr)
	}

	candles = mkCandles(t, scanFixture())
	candles[6].Close = math.Inf(-1)
	_, err = eng.Detect(candles)
	if !errors.As(err, &dataErr) {
		t.Fatalf("Inf 输入应返回 DataError, 实际=%v", err)
	}
	if dataErr.Index != 6 || dataErr.Field != "close" {
		t.Fatalf("DataError 应指向 bar 6 的 close, 实际=%+v", dataErr)
	}
}

func TestNewEngineRejectsNegativeLength(t *testing.T) {
	_, err := NewEngine(Options{SwingLength: -1}, nil)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("负的 swing_length 应返回 ConfigError, 实际=%v", err)
	}
	_, err = NewEngine(Options{InternalLength: -5}, nil)
	if !errors.As(err, &cfgErr) {
		t.Fatalf("负的 internal_length 应返回 ConfigError, 实际=%v", err)
	}
}

func TestOptionsDefaults(t *testing.T) {
	eng, err := NewEngine(Options{}, nil)
	if err != nil {
		t.Fatalf("零值配置应使用默认回看长度: %v", err)
	}
	opts := eng.Options()
	if opts.SwingLength != DefaultSwingLength || opts.InternalLength != DefaultInternalLength {
		t.Fatalf("默认值不符: %+v", opts)
	}
}

func TestDetectIdempotent(t *testing.T) {
	eng, err := NewEngine(Options{SwingLength: 3, InternalLength: 2}, nil)
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	candles := mkCandles(t, walkSeries(60))
	first, err := eng.Detect(candles)
	if err != nil {
		t.Fatalf("首次检测失败: %v", err)
	}
	second, err := eng.Detect(candles)
	if err != nil {
		t.Fatalf("二次检测失败: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("同一输入两次检测结果应完全一致")
	}
}

// walkSeries 生成确定性的锯齿行情，幅度和周期都不规则。
func walkSeries(n int) []float64 {
	deltas := []float64{2, 1, -3, 4, -2, -1, 5, -4, 1, -2}
	out := make([]float64, n)
	cur := 100.0
	for i := 0; i < n; i++ {
		cur += deltas[i%len(deltas)] * float64(1+i%3)
		out[i] = cur
	}
	return out
}

// TestDetectIncrementalPrefix 追加 K 线后重算，距旧序列末尾超过各自
// lookback 的事件与 pivot 必须逐项一致。
func TestDetectIncrementalPrefix(t *testing.T) {
	const (
		swingLen    = 6
		internalLen = 3
		nOld        = 36
		nNew        = 48
	)
	eng, err := NewEngine(Options{SwingLength: swingLen, InternalLength: internalLen}, nil)
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	full := walkSeries(nNew)
	oldRes, err := eng.Detect(mkCandles(t, full[:nOld]))
	if err != nil {
		t.Fatalf("旧序列检测失败: %v", err)
	}
	newRes, err := eng.Detect(mkCandles(t, full))
	if err != nil {
		t.Fatalf("新序列检测失败: %v", err)
	}

	for _, level := range []Level{LevelSwing, LevelInternal} {
		horizon := nOld - swingLen
		if level == LevelInternal {
			horizon = nOld - internalLen
		}
		gotEv := filterEvents(newRes.Events, level, horizon)
		wantEv := filterEvents(oldRes.Events, level, horizon)
		if !reflect.DeepEqual(gotEv, wantEv) {
			t.Fatalf("%s 级别 horizon=%d 内事件不稳定\n old=%+v\n new=%+v", level, horizon, wantEv, gotEv)
		}
		// 下标恰为 horizon 的 pivot 要等追加的 bar 才能确认，稳定区到 horizon-1。
		gotPv := filterPivots(newRes.Pivots, level, horizon-1)
		wantPv := filterPivots(oldRes.Pivots, level, horizon-1)
		if !reflect.DeepEqual(gotPv, wantPv) {
			t.Fatalf("%s 级别 horizon=%d 内 pivot 不稳定\n old=%+v\n new=%+v", level, horizon, wantPv, gotPv)
		}
	}
}

func filterEvents(events []BreakEvent, level Level, maxIndex int) []BreakEvent {
	out := make([]BreakEvent, 0, len(events))
	for _, ev := range events {
		if ev.Level == level && ev.BreakIndex <= maxIndex {
			out = append(out, ev)
		}
	}
	return out
}

func filterPivots(pivots []Pivot, level Level, maxIndex int) []Pivot {
	out := make([]Pivot, 0, len(pivots))
	for _, p := range pivots {
		if p.Level == level && p.Index <= maxIndex {
			out = append(out, p)
		}
	}
	return out
}

func TestDetectEmptyInput(t *testing.T) {
	eng, err := NewEngine(Options{}, nil)
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	res, err := eng.Detect(nil)
	if err != nil {
		t.Fatalf("空输入不应报错: %v", err)
	}
	if len(res.Events) != 0 || len(res.Pivots) != 0 {
		t.Fatalf("空输入应产出空结果: %+v", res)
	}
	if res.SwingTrend != TrendNeutral || res.InternalTrend != TrendNeutral {
		t.Fatalf("空输入趋势应为 neutral: %+v", res)
	}
}

// TestDetectPivotUsedAtMostOnce 全量检测中每个 pivot 至多出现在一个事件里。
func TestDetectPivotUsedAtMostOnce(t *testing.T) {
	eng, err := NewEngine(Options{SwingLength: 4, InternalLength: 2}, nil)
	if err != nil {
		t.Fatalf("构造引擎失败: %v", err)
	}
	res, err := eng.Detect(mkCandles(t, walkSeries(80)))
	if err != nil {
		t.Fatalf("检测失败: %v", err)
	}
	type key struct {
		level Level
		index int
	}
	seen := make(map[key]bool)
	for _, ev := range res.Events {
		if ev.PivotIndex >= ev.BreakIndex {
			t.Fatalf("事件必须满足 pivot 在前: %+v", ev)
		}
		k := key{level: ev.Level, index: ev.PivotIndex}
		if seen[k] {
			t.Fatalf("pivot %+v 被消费了多次", k)
		}
		seen[k] = true
	}
}
