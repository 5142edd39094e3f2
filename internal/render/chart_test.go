package render

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"strux/internal/analysis/structure"
	"strux/internal/market"
)

func fixtureCandles(t *testing.T) []market.Candle {
	t.Helper()
	vals := []float64{1, 2, 5, 3, 2, 1, 2, 6, 3}
	out := make([]market.Candle, len(vals))
	for i, v := range vals {
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i+1)*60_000 - 1,
			Open:      v, High: v, Low: v, Close: v,
			Volume: 10,
		}
	}
	return out
}

func fixtureResult(t *testing.T, candles []market.Candle) structure.Result {
	t.Helper()
	eng, err := structure.NewEngine(structure.Options{SwingLength: 4, InternalLength: 2}, nil)
	if err != nil {
		t.Fatalf("构建引擎失败: %v", err)
	}
	res, err := eng.Detect(candles)
	if err != nil {
		t.Fatalf("Detect 失败: %v", err)
	}
	return res
}

func TestRenderHTMLContainsStructureSeries(t *testing.T) {
	candles := fixtureCandles(t)
	res := fixtureResult(t, candles)

	var buf bytes.Buffer
	err := RenderHTML(Input{
		Symbol:   "BTCUSDT",
		Interval: "1h",
		Theme:    "dark",
		Candles:  candles,
		Result:   res,
	}, &buf)
	if err != nil {
		t.Fatalf("渲染失败: %v", err)
	}
	html := buf.String()
	if !strings.Contains(html, "BTCUSDT 1h Market Structure") {
		t.Fatalf("缺少默认标题")
	}
	// 该行情里 swing 与 internal 各有一个多头 BOS
	for _, want := range []string{structure.ChannelSwingBosBull, structure.ChannelInternalBosBull, "swing high"} {
		if !strings.Contains(html, want) {
			t.Fatalf("HTML 中缺少序列 %q", want)
		}
	}
	if strings.Contains(html, structure.ChannelSwingChochBear) {
		t.Fatalf("不应出现空头 CHoCH 序列")
	}
}

func TestRenderHTMLRejectsEmptyInput(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderHTML(Input{}, &buf); err == nil {
		t.Fatalf("空蜡烛应当报错")
	}
}

func TestWriteHTMLCreatesFile(t *testing.T) {
	candles := fixtureCandles(t)
	res := fixtureResult(t, candles)
	path := filepath.Join(t.TempDir(), "structure.html")
	if err := WriteHTML(Input{Symbol: "ETHUSDT", Interval: "4h", Candles: candles, Result: res}, path); err != nil {
		t.Fatalf("WriteHTML 失败: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取输出失败: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("输出文件为空")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("临时文件应当被清理")
	}
}

func TestLineDataLeavesGapsForNaN(t *testing.T) {
	nan := math.NaN()
	data := lineData([]float64{nan, 1.5, nan, 2.5})
	if data[0].Value != nil || data[2].Value != nil {
		t.Fatalf("NaN 位置应当为空值")
	}
	if data[1].Value != 1.5 || data[3].Value != 2.5 {
		t.Fatalf("有效值被改写: %+v", data)
	}
}

func TestEmptyChannelDetection(t *testing.T) {
	nan := math.NaN()
	if !emptyChannel([]float64{nan, nan}) {
		t.Fatalf("全 NaN 应视为空通道")
	}
	if emptyChannel([]float64{nan, 3}) {
		t.Fatalf("含有效值不应视为空通道")
	}
}

func TestThemeMapping(t *testing.T) {
	if got := themeOf("dark"); got != "chalk" {
		t.Fatalf("dark 应映射到 chalk 主题, got %q", got)
	}
	if got := themeOf(""); got != "white" {
		t.Fatalf("默认应为 white, got %q", got)
	}
	if got := themeOf("westeros"); got != "westeros" {
		t.Fatalf("未知主题应原样透传, got %q", got)
	}
}
