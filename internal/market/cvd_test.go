package market

import (
	"testing"

	"github.com/shopspring/decimal"
)

// barC 构造一根指定形态的蜡烛：收在 high 视为买方单、收在 low 视为卖方单。
func barC(i int, low, high, close, vol float64) Candle {
	return Candle{
		OpenTime:  int64(i) * 60_000,
		CloseTime: int64(i+1)*60_000 - 1,
		Open:      (low + high) / 2,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    vol,
	}
}

func TestComputeCVDAccumulatesDelta(t *testing.T) {
	ks := []Candle{
		barC(0, 10, 12, 12, 5), // 收最高 → +5
		barC(1, 11, 13, 11, 3), // 收最低 → -3
		barC(2, 10, 20, 15, 7), // 收在正中 → 0
	}
	m, ok := ComputeCVD(ks)
	if !ok {
		t.Fatalf("非空输入应返回 ok")
	}
	if !m.Delta.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("累计量差应为 2, got %s", m.Delta)
	}
	if !m.Momentum.IsZero() {
		t.Fatalf("样本不足时 momentum 应为 0, got %s", m.Momentum)
	}
	// 序列 [5,2,2]：最新值落在区间最底部
	if !m.Normalized.IsZero() {
		t.Fatalf("normalized 应为 0, got %s", m.Normalized)
	}
	if m.PeakFlip != "none" {
		t.Fatalf("不足四点不应标记拐点: %s", m.PeakFlip)
	}
}

func TestComputeCVDBearishDivergence(t *testing.T) {
	// 价格一路抬升但每根都收在最低价：CVD 持续走低
	ks := make([]Candle, 0, 8)
	for i := 0; i < 8; i++ {
		px := 10 + float64(i)
		ks = append(ks, barC(i, px, px+2, px, 1))
	}
	m, ok := ComputeCVD(ks)
	if !ok {
		t.Fatalf("compute 失败")
	}
	if m.Divergence != "bearish" {
		t.Fatalf("价涨量差跌应判 bearish, got %s", m.Divergence)
	}
	// cvd[-1]=-8, cvd[-6]=-3
	if !m.Momentum.Equal(decimal.NewFromInt(-5)) {
		t.Fatalf("momentum 应为 -5, got %s", m.Momentum)
	}
}

func TestComputeCVDBullishDivergence(t *testing.T) {
	ks := make([]Candle, 0, 8)
	for i := 0; i < 8; i++ {
		px := 17 - float64(i)
		ks = append(ks, barC(i, px-2, px, px, 1)) // 下跌途中每根都收在最高价
	}
	m, _ := ComputeCVD(ks)
	if m.Divergence != "bullish" {
		t.Fatalf("价跌量差涨应判 bullish, got %s", m.Divergence)
	}
}

func TestComputeCVDPeakFlip(t *testing.T) {
	top := []Candle{
		barC(0, 10, 11, 11, 5),
		barC(1, 10, 11, 11, 5),
		barC(2, 10, 11, 11, 5),
		barC(3, 10, 11, 10, 2),
	}
	m, _ := ComputeCVD(top)
	if m.PeakFlip != "local_top" {
		t.Fatalf("期望 local_top, got %s", m.PeakFlip)
	}

	bottom := []Candle{
		barC(0, 10, 11, 10, 5),
		barC(1, 10, 11, 10, 5),
		barC(2, 10, 11, 10, 5),
		barC(3, 10, 11, 11, 2),
	}
	m, _ = ComputeCVD(bottom)
	if m.PeakFlip != "local_bottom" {
		t.Fatalf("期望 local_bottom, got %s", m.PeakFlip)
	}
}

func TestComputeCVDEdgeCases(t *testing.T) {
	if _, ok := ComputeCVD(nil); ok {
		t.Fatalf("空输入不应返回 ok")
	}

	// 全是一字线：量差恒为 0，normalized 走平取 0.5
	flat := []Candle{barC(0, 10, 10, 10, 100), barC(1, 10, 10, 10, 100)}
	m, ok := ComputeCVD(flat)
	if !ok {
		t.Fatalf("compute 失败")
	}
	if !m.Delta.IsZero() {
		t.Fatalf("一字线量差应为 0, got %s", m.Delta)
	}
	if !m.Normalized.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("走平序列 normalized 应为 0.5, got %s", m.Normalized)
	}
	if m.Divergence != "neutral" {
		t.Fatalf("无价差无量差应为 neutral, got %s", m.Divergence)
	}
}
