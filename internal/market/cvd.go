package market

import "github.com/shopspring/decimal"

// CVDMetrics 是窗口内累计量差的快照。
// 没有逐笔数据时用收盘价在振幅中的位置估算单根买卖占比：
// 收在最高价附近视为买方主导（delta≈+volume），收在最低价附近视为卖方主导。
type CVDMetrics struct {
	Delta      decimal.Decimal `json:"delta"`
	Momentum   decimal.Decimal `json:"momentum"`
	Normalized decimal.Decimal `json:"normalized"`
	Divergence string          `json:"divergence"`
	PeakFlip   string          `json:"peak_flip"`
}

const cvdMomentumBars = 6

// ComputeCVD 计算近似 CVD：
//   - Delta: 窗口内累计量差。
//   - Momentum: 与 6 根前的 CVD 差值，样本不足时为 0。
//   - Normalized: CVD 在窗口 min/max 间的位置，序列走平时取 0.5。
//   - Divergence: 价涨量差跌为 bearish，价跌量差涨为 bullish，其余 neutral。
//   - PeakFlip: 最近三点构成局部顶/底时标记 local_top / local_bottom。
func ComputeCVD(candles []Candle) (CVDMetrics, bool) {
	if len(candles) == 0 {
		return CVDMetrics{}, false
	}
	cvd := make([]decimal.Decimal, 0, len(candles))
	closes := make([]decimal.Decimal, 0, len(candles))
	cumulative := decimal.Zero
	for _, c := range candles {
		cumulative = cumulative.Add(decimal.NewFromFloat(barDelta(c)))
		cvd = append(cvd, cumulative)
		closes = append(closes, decimal.NewFromFloat(c.Close))
	}

	last := cvd[len(cvd)-1]
	momentum := decimal.Zero
	if len(cvd) > cvdMomentumBars {
		momentum = last.Sub(cvd[len(cvd)-cvdMomentumBars])
	}

	minVal := cvd[0]
	maxVal := cvd[0]
	for _, v := range cvd[1:] {
		if v.LessThan(minVal) {
			minVal = v
		}
		if v.GreaterThan(maxVal) {
			maxVal = v
		}
	}
	norm := decimal.NewFromFloat(0.5)
	if maxVal.GreaterThan(minVal) {
		norm = last.Sub(minVal).Div(maxVal.Sub(minVal))
	}

	priceNow := closes[len(closes)-1]
	pricePrev := closes[0]
	cvdPrev := cvd[0]
	if len(closes) > cvdMomentumBars {
		pricePrev = closes[len(closes)-cvdMomentumBars]
		cvdPrev = cvd[len(cvd)-cvdMomentumBars]
	}
	divergence := "neutral"
	if priceNow.GreaterThan(pricePrev) && last.LessThan(cvdPrev) {
		divergence = "bearish"
	} else if priceNow.LessThan(pricePrev) && last.GreaterThan(cvdPrev) {
		divergence = "bullish"
	}

	peakFlip := "none"
	if len(cvd) > 3 {
		a := cvd[len(cvd)-1]
		b := cvd[len(cvd)-2]
		c := cvd[len(cvd)-3]
		if a.LessThan(b) && b.GreaterThan(c) {
			peakFlip = "local_top"
		} else if a.GreaterThan(b) && b.LessThan(c) {
			peakFlip = "local_bottom"
		}
	}

	return CVDMetrics{
		Delta:      last,
		Momentum:   momentum,
		Normalized: norm,
		Divergence: divergence,
		PeakFlip:   peakFlip,
	}, true
}

// barDelta 用 close 在 [low, high] 中的位置折算单根量差，十字星记 0。
func barDelta(c Candle) float64 {
	span := c.High - c.Low
	if span <= 0 || c.Volume <= 0 {
		return 0
	}
	frac := (c.Close - c.Low) / span
	return c.Volume * (2*frac - 1)
}
