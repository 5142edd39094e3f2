package market

// Candle 表示一根已收盘或聚合中的 K 线，时间戳为毫秒。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Series 把蜡烛序列拆成 talib 风格的列数组。
func Series(candles []Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return highs, lows, closes
}

// Dedupe 去掉 OpenTime 重复的蜡烛，后出现的覆盖先出现的（同一根的增量更新）。
func Dedupe(candles []Candle) []Candle {
	if len(candles) == 0 {
		return candles
	}
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		n := len(out)
		if n > 0 && out[n-1].OpenTime == c.OpenTime {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}
