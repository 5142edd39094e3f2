package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"strux/internal/market"
)

type Settings struct {
	EMAFast   int     `json:"ema_fast,omitempty"`
	EMASlow   int     `json:"ema_slow,omitempty"`
	RSIPeriod int     `json:"rsi_period,omitempty"`
	ATRPeriod int     `json:"atr_period,omitempty"`
	RSIHigh   float64 `json:"rsi_high,omitempty"`
	RSILow    float64 `json:"rsi_low,omitempty"`
}

func (s Settings) withDefaults() Settings {
	out := s
	if out.EMAFast <= 0 {
		out.EMAFast = 21
	}
	if out.EMASlow <= 0 {
		out.EMASlow = 55
	}
	if out.RSIPeriod <= 0 {
		out.RSIPeriod = 14
	}
	if out.ATRPeriod <= 0 {
		out.ATRPeriod = 14
	}
	if out.RSIHigh == 0 {
		out.RSIHigh = 70
	}
	if out.RSILow == 0 {
		out.RSILow = 30
	}
	return out
}

// Context 是结构扫描附带的行情环境快照。
type Context struct {
	Close    float64            `json:"close"`
	EMAFast  float64            `json:"ema_fast"`
	EMASlow  float64            `json:"ema_slow"`
	EMAState string             `json:"ema_state"`
	RSI      float64            `json:"rsi"`
	RSIState string             `json:"rsi_state"`
	ATR      float64            `json:"atr"`
	ATRPct   float64            `json:"atr_pct"`
	CVD      *market.CVDMetrics `json:"cvd,omitempty"`
}

func ComputeContext(candles []market.Candle, cfg Settings) (Context, error) {
	if len(candles) == 0 {
		return Context{}, fmt.Errorf("no candles")
	}
	cfg = cfg.withDefaults()
	highs, lows, closes := market.Series(candles)
	lastClose := closes[len(closes)-1]

	// talib 对样本少于周期的输入会越界，不够就让对应指标保持零值
	var emaFast, emaSlow, rsiVal, atrVal float64
	if len(closes) >= cfg.EMAFast {
		emaFast = lastValid(sanitizeSeries(talib.Ema(closes, cfg.EMAFast)))
	}
	if len(closes) >= cfg.EMASlow {
		emaSlow = lastValid(sanitizeSeries(talib.Ema(closes, cfg.EMASlow)))
	}
	if len(closes) > cfg.RSIPeriod {
		rsiVal = lastValid(sanitizeSeries(talib.Rsi(closes, cfg.RSIPeriod)))
	}
	if len(closes) > cfg.ATRPeriod {
		atrVal = lastValid(sanitizeSeries(talib.Atr(highs, lows, closes, cfg.ATRPeriod)))
	}

	rsiState := "neutral"
	switch {
	case rsiVal == 0:
		// 样本不足，保持 neutral
	case rsiVal >= cfg.RSIHigh:
		rsiState = "overbought"
	case rsiVal <= cfg.RSILow:
		rsiState = "oversold"
	}
	atrPct := 0.0
	if lastClose != 0 {
		atrPct = round4(atrVal / lastClose * 100)
	}
	ctx := Context{
		Close:    round4(lastClose),
		EMAFast:  emaFast,
		EMASlow:  emaSlow,
		EMAState: relativeState(lastClose, emaSlow),
		RSI:      rsiVal,
		RSIState: rsiState,
		ATR:      atrVal,
		ATRPct:   atrPct,
	}
	if cvd, ok := market.ComputeCVD(candles); ok {
		ctx.CVD = &cvd
	}
	return ctx, nil
}

func ComputeATRSeries(candles []market.Candle, period int) ([]float64, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles")
	}
	if period <= 0 {
		period = 14
	}
	if len(candles) <= period {
		return nil, fmt.Errorf("atr 需要至少 %d 根 K 线", period+1)
	}
	highs, lows, closes := market.Series(candles)
	series := sanitizeSeries(talib.Atr(highs, lows, closes, period))
	if len(series) == 0 {
		return nil, fmt.Errorf("atr series empty")
	}
	return series, nil
}

// ComputeEMASeries 返回与输入等长的 EMA 序列，前导未成熟段为 NaN，供叠加渲染。
func ComputeEMASeries(candles []market.Candle, period int) []float64 {
	if len(candles) == 0 {
		return nil
	}
	if period <= 0 {
		period = 21
	}
	_, _, closes := market.Series(candles)
	out := make([]float64, len(closes))
	if len(closes) < period {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	series := talib.Ema(closes, period)
	for i, v := range series {
		if i < period-1 || almostZero(v) {
			out[i] = math.NaN()
			continue
		}
		out[i] = round4(v)
	}
	return out
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, round4(v))
	}
	return out
}

func almostZero(v float64) bool {
	return math.Abs(v) <= 1e-9
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func relativeState(price, ref float64) string {
	if ref == 0 {
		return "unknown"
	}
	switch {
	case price > ref*1.002:
		return "above"
	case price < ref*0.998:
		return "below"
	default:
		return "touch"
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
