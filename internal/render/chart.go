package render

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"strux/internal/analysis/structure"
	"strux/internal/market"
)

// Input 汇集一次渲染所需的全部数据，由调用方（CLI/HTTP）组装。
type Input struct {
	Symbol   string
	Interval string
	Title    string
	Subtitle string
	Theme    string

	Candles []market.Candle
	Result  structure.Result

	// 可选的 EMA 叠加序列（与蜡烛等长，NaN 表示未成熟段）
	EMAFast []float64
	EMASlow []float64
}

// lineStyle 每条结构通道的画法：BOS 实线、CHoCH 虚线；多头绿、空头红；
// internal 档用更细更浅的一组。
type lineStyle struct {
	color string
	width float32
	dash  string
}

var channelStyles = map[string]lineStyle{
	structure.ChannelSwingBosBull:      {color: "#16a34a", width: 2, dash: "solid"},
	structure.ChannelSwingBosBear:      {color: "#dc2626", width: 2, dash: "solid"},
	structure.ChannelSwingChochBull:    {color: "#16a34a", width: 2, dash: "dashed"},
	structure.ChannelSwingChochBear:    {color: "#dc2626", width: 2, dash: "dashed"},
	structure.ChannelInternalBosBull:   {color: "#2dd4bf", width: 1, dash: "solid"},
	structure.ChannelInternalBosBear:   {color: "#fb923c", width: 1, dash: "solid"},
	structure.ChannelInternalChochBull: {color: "#2dd4bf", width: 1, dash: "dashed"},
	structure.ChannelInternalChochBear: {color: "#fb923c", width: 1, dash: "dashed"},
}

func themeOf(name string) string {
	switch name {
	case "dark":
		return types.ThemeChalk
	case "", "light", "white":
		return types.ThemeWhite
	default:
		return name
	}
}

// BuildChart 产出带结构通道叠加的 K 线图。
func BuildChart(in Input) (*charts.Kline, error) {
	if len(in.Candles) == 0 {
		return nil, fmt.Errorf("没有可渲染的蜡烛")
	}
	title := in.Title
	if title == "" {
		title = fmt.Sprintf("%s %s Market Structure", in.Symbol, in.Interval)
	}

	x := make([]string, len(in.Candles))
	y := make([]opts.KlineData, len(in.Candles))
	for i, c := range in.Candles {
		x[i] = time.UnixMilli(c.OpenTime).UTC().Format("2006-01-02 15:04")
		// ECharts candlestick 的取值顺序是 [open, close, low, high]
		y[i] = opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}}
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: title,
			Theme:     themeOf(in.Theme),
			Width:     "1400px",
			Height:    "720px",
		}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: in.Subtitle}),
		charts.WithXAxisOpts(opts.XAxis{SplitNumber: 20}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Type: "scroll"}),
		charts.WithDataZoomOpts(
			opts.DataZoom{Type: "inside", Start: 0, End: 100},
			opts.DataZoom{Type: "slider", Start: 0, End: 100},
		),
	)
	kline.SetXAxis(x).AddSeries("kline", y)

	channels := structure.BuildChannels(in.Result, len(in.Candles))
	for _, name := range structure.ChannelNames {
		style, ok := channelStyles[name]
		if !ok {
			continue // marker 通道走散点
		}
		vals := channels[name]
		if emptyChannel(vals) {
			continue
		}
		line := charts.NewLine()
		line.SetXAxis(x).AddSeries(name, lineData(vals),
			charts.WithLineStyleOpts(opts.LineStyle{Color: style.color, Width: style.width, Type: style.dash}),
			charts.WithLineChartOpts(opts.LineChart{Symbol: "none", ConnectNulls: opts.Bool(false)}),
		)
		kline.Overlap(line)
	}

	addMarkers(kline, x, channels)
	addEMAOverlay(kline, x, "EMA fast", in.EMAFast, "#f59e0b")
	addEMAOverlay(kline, x, "EMA slow", in.EMASlow, "#a855f7")
	return kline, nil
}

func addMarkers(kline *charts.Kline, x []string, channels structure.ChannelMap) {
	marks := []struct {
		channel string
		name    string
		color   string
		symbol  string
	}{
		{structure.ChannelSwingHighMarker, "swing high", "#dc2626", "triangle"},
		{structure.ChannelSwingLowMarker, "swing low", "#16a34a", "triangle"},
	}
	for _, m := range marks {
		vals := channels[m.channel]
		if emptyChannel(vals) {
			continue
		}
		data := make([]opts.ScatterData, len(vals))
		for i, v := range vals {
			if v != v { // NaN
				data[i] = opts.ScatterData{Value: nil}
				continue
			}
			rotate := 0
			if m.channel == structure.ChannelSwingHighMarker {
				rotate = 180
			}
			data[i] = opts.ScatterData{Value: v, Symbol: m.symbol, SymbolSize: 12, SymbolRotate: rotate}
		}
		sc := charts.NewScatter()
		sc.SetXAxis(x).AddSeries(m.name, data,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: m.color}),
		)
		kline.Overlap(sc)
	}
}

func addEMAOverlay(kline *charts.Kline, x []string, name string, series []float64, color string) {
	if len(series) == 0 {
		return
	}
	line := charts.NewLine()
	line.SetXAxis(x).AddSeries(name, lineData(series),
		charts.WithLineStyleOpts(opts.LineStyle{Color: color, Width: 1, Opacity: 0.8}),
		charts.WithLineChartOpts(opts.LineChart{Symbol: "none", ConnectNulls: opts.Bool(false)}),
	)
	kline.Overlap(line)
}

func lineData(vals []float64) []opts.LineData {
	out := make([]opts.LineData, len(vals))
	for i, v := range vals {
		if v != v { // NaN 段留空
			out[i] = opts.LineData{Value: nil}
			continue
		}
		out[i] = opts.LineData{Value: v}
	}
	return out
}

func emptyChannel(vals []float64) bool {
	for _, v := range vals {
		if v == v {
			return false
		}
	}
	return true
}

// RenderHTML 把图表写成独立 HTML。
func RenderHTML(in Input, w io.Writer) error {
	kline, err := BuildChart(in)
	if err != nil {
		return err
	}
	return kline.Render(w)
}

// WriteHTML 渲染到文件（先临时文件后替换）。
func WriteHTML(in Input, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("创建 %s 失败: %w", tmp, err)
	}
	if err := RenderHTML(in, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("替换 %s 失败: %w", path, err)
	}
	return nil
}
