// Package report 把扫描结果排成终端表格，供 CLI 输出。
package report

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"strux/internal/analysis/structure"
	"strux/internal/market"
	"strux/internal/scan"
	"strux/internal/store"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	return t
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func formatTime(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
}

// EventsTable 列出检测到的结构事件，按输出顺序编号。
// 传入蜡烛时补上枢轴/突破两端的时间列。
func EventsTable(events []structure.BreakEvent, candles []market.Candle) string {
	t := newTable()
	t.AppendHeader(table.Row{"#", "LEVEL", "KIND", "DIR", "PIVOT", "BREAK", "PRICE", "BREAK TIME"})
	openTime := func(i int) string {
		if i >= 0 && i < len(candles) {
			return formatTime(candles[i].OpenTime)
		}
		return "-"
	}
	for i, ev := range events {
		t.AppendRow(table.Row{
			i + 1,
			string(ev.Level),
			string(ev.Kind),
			string(ev.Direction),
			ev.PivotIndex,
			ev.BreakIndex,
			formatPrice(ev.Price),
			openTime(ev.BreakIndex),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "PRICE", Align: text.AlignRight},
		{Name: "PIVOT", Align: text.AlignRight},
		{Name: "BREAK", Align: text.AlignRight},
	})
	return t.Render()
}

// ReportTable 汇总单次扫描：行情规模、两档趋势、指标上下文。
func ReportTable(rep *scan.Report) string {
	if rep == nil {
		return ""
	}
	t := newTable()
	t.AppendHeader(table.Row{"FIELD", "VALUE"})
	t.AppendRows([]table.Row{
		{"symbol", rep.Symbol},
		{"interval", rep.Interval},
		{"bars", rep.Bars},
		{"events", len(rep.Result.Events)},
		{"pivots", len(rep.Result.Pivots)},
		{"swing trend", string(rep.Result.SwingTrend)},
		{"internal trend", string(rep.Result.InternalTrend)},
	})
	if rep.RunID != "" {
		t.AppendRow(table.Row{"run", rep.RunID})
	}
	if len(rep.Gaps) > 0 {
		var missing int64
		for _, g := range rep.Gaps {
			missing += g.Count
		}
		t.AppendRow(table.Row{"gaps", fmt.Sprintf("%d 段 / 缺 %d 根", len(rep.Gaps), missing)})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"close", formatPrice(rep.Context.Close)},
		{"ema", fmt.Sprintf("%s (%s / %s)", rep.Context.EMAState, formatPrice(rep.Context.EMAFast), formatPrice(rep.Context.EMASlow))},
		{"rsi", fmt.Sprintf("%.1f %s", rep.Context.RSI, rep.Context.RSIState)},
		{"atr", fmt.Sprintf("%s (%.2f%%)", formatPrice(rep.Context.ATR), rep.Context.ATRPct)},
	})
	if cvd := rep.Context.CVD; cvd != nil {
		t.AppendRow(table.Row{"cvd", fmt.Sprintf("%s %s (mom %s)", cvd.Delta.StringFixed(2), cvd.Divergence, cvd.Momentum.StringFixed(2))})
	}
	return t.Render()
}

// BatchTable 批量任务的逐符号结果，失败行带错误信息。
func BatchTable(job scan.BatchJob) string {
	t := newTable()
	t.SetTitle(fmt.Sprintf("batch %s · %s · %d/%d", job.ID, job.Status, job.Completed, job.Total))
	t.AppendHeader(table.Row{"SYMBOL", "BARS", "EVENTS", "SWING", "INTERNAL", "ERROR"})
	for _, s := range job.Summaries {
		t.AppendRow(table.Row{s.Symbol, s.Bars, s.Events, s.SwingTrend, s.InternalTrend, s.Error})
	}
	return t.Render()
}

// RunsTable 历史任务列表，时间倒序由调用方保证。
func RunsTable(runs []store.ScanRun) string {
	t := newTable()
	t.AppendHeader(table.Row{"ID", "SYMBOL", "INTERVAL", "BARS", "EVENTS", "SWING", "INTERNAL", "STATUS", "STARTED"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			shortID(r.ID), r.Symbol, r.Interval, r.Bars, r.Events,
			r.SwingTrend, r.InternalTrend, r.Status, formatTime(r.StartedAt),
		})
	}
	return t.Render()
}

// StoredEventsTable 展示落库后的事件行。
func StoredEventsTable(rows []store.EventRow) string {
	t := newTable()
	t.AppendHeader(table.Row{"SYMBOL", "IV", "LEVEL", "KIND", "DIR", "PRICE", "BREAK TIME"})
	for _, r := range rows {
		t.AppendRow(table.Row{
			r.Symbol, r.Interval, r.Level, r.Kind, r.Direction,
			formatPrice(r.Price), formatTime(r.BreakTime),
		})
	}
	return t.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
