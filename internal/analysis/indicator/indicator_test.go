package indicator

import (
	"math"
	"testing"

	"strux/internal/market"
)

func risingCandles(t *testing.T, n int) []market.Candle {
	t.Helper()
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		c := float64(i + 1)
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i+1)*60_000 - 1,
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func TestComputeContextShortSeriesStaysNeutral(t *testing.T) {
	// 9 根远少于任何周期，不应越界，也不应给出虚假状态
	ctx, err := ComputeContext(risingCandles(t, 9), Settings{})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if ctx.Close != 9 {
		t.Fatalf("close 应为最后收盘 9, got %v", ctx.Close)
	}
	if ctx.EMAFast != 0 || ctx.EMASlow != 0 || ctx.RSI != 0 || ctx.ATR != 0 {
		t.Fatalf("样本不足时指标应保持零值: %+v", ctx)
	}
	if ctx.RSIState != "neutral" || ctx.EMAState != "unknown" {
		t.Fatalf("样本不足时状态异常: rsi=%s ema=%s", ctx.RSIState, ctx.EMAState)
	}
}

func TestComputeContextRisingSeries(t *testing.T) {
	ctx, err := ComputeContext(risingCandles(t, 80), Settings{})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if ctx.EMAFast <= 0 || ctx.EMASlow <= 0 {
		t.Fatalf("EMA 应已成熟: %+v", ctx)
	}
	// 单边上涨：价格在慢线上方，RSI 贴顶
	if ctx.EMAState != "above" {
		t.Fatalf("EMAState 应为 above, got %s", ctx.EMAState)
	}
	if ctx.RSIState != "overbought" {
		t.Fatalf("RSIState 应为 overbought, got %s (rsi=%v)", ctx.RSIState, ctx.RSI)
	}
	if ctx.ATR <= 0 || ctx.ATRPct <= 0 {
		t.Fatalf("ATR 应为正: %+v", ctx)
	}
}

func TestComputeContextEmptyInput(t *testing.T) {
	if _, err := ComputeContext(nil, Settings{}); err == nil {
		t.Fatalf("空输入应报错")
	}
}

func TestComputeEMASeriesLeadingNaN(t *testing.T) {
	series := ComputeEMASeries(risingCandles(t, 30), 21)
	if len(series) != 30 {
		t.Fatalf("序列应与输入等长: %d", len(series))
	}
	for i := 0; i < 20; i++ {
		if !math.IsNaN(series[i]) {
			t.Fatalf("前导未成熟段应为 NaN, i=%d v=%v", i, series[i])
		}
	}
	if math.IsNaN(series[29]) || series[29] <= 0 {
		t.Fatalf("成熟段应有值: %v", series[29])
	}
}

func TestComputeEMASeriesShorterThanPeriod(t *testing.T) {
	series := ComputeEMASeries(risingCandles(t, 5), 21)
	if len(series) != 5 {
		t.Fatalf("序列应与输入等长: %d", len(series))
	}
	for i, v := range series {
		if !math.IsNaN(v) {
			t.Fatalf("全序列应为 NaN, i=%d v=%v", i, v)
		}
	}
}

func TestComputeATRSeriesRequiresEnoughBars(t *testing.T) {
	if _, err := ComputeATRSeries(risingCandles(t, 10), 14); err == nil {
		t.Fatalf("样本不足应报错")
	}
	series, err := ComputeATRSeries(risingCandles(t, 40), 14)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(series) == 0 || series[len(series)-1] <= 0 {
		t.Fatalf("ATR 序列异常: %v", series)
	}
}

func TestSettingsDefaults(t *testing.T) {
	cfg := Settings{}.withDefaults()
	if cfg.EMAFast != 21 || cfg.EMASlow != 55 || cfg.RSIPeriod != 14 || cfg.ATRPeriod != 14 {
		t.Fatalf("默认周期异常: %+v", cfg)
	}
	if cfg.RSIHigh != 70 || cfg.RSILow != 30 {
		t.Fatalf("默认阈值异常: %+v", cfg)
	}
}
