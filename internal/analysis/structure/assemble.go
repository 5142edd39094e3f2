package structure

import "math"

// Result 保存单次检测的全部输出。事件按 BreakIndex 升序，
// 同一 bar 上 swing 先于 internal、多头先于空头。
type Result struct {
	Events        []BreakEvent `json:"events"`
	Pivots        []Pivot      `json:"pivots"`
	SwingTrend    Trend        `json:"swing_trend"`
	InternalTrend Trend        `json:"internal_trend"`
}

// 渲染兼容模式的固定通道名。
const (
	ChannelSwingBosBull      = "swingBosBull"
	ChannelSwingBosBear      = "swingBosBear"
	ChannelSwingChochBull    = "swingChochBull"
	ChannelSwingChochBear    = "swingChochBear"
	ChannelInternalBosBull   = "internalBosBull"
	ChannelInternalBosBear   = "internalBosBear"
	ChannelInternalChochBull = "internalChochBull"
	ChannelInternalChochBear = "internalChochBear"
	ChannelSwingHighMarker   = "swingHighMarker"
	ChannelSwingLowMarker    = "swingLowMarker"
)

// ChannelNames 按固定顺序列出全部通道。
var ChannelNames = []string{
	ChannelSwingBosBull,
	ChannelSwingBosBear,
	ChannelSwingChochBull,
	ChannelSwingChochBear,
	ChannelInternalBosBull,
	ChannelInternalBosBear,
	ChannelInternalChochBull,
	ChannelInternalChochBear,
	ChannelSwingHighMarker,
	ChannelSwingLowMarker,
}

// ChannelMap 把每个通道映射为与 bar 序列等长的数组，空槽为 NaN。
type ChannelMap map[string][]float64

// BuildChannels 把事件流展开为渲染通道：每个事件在 [PivotIndex, BreakIndex]
// 区间写入其价格；swing 级别的 pivot 在其下标处写入标记通道。
// 写入前若同通道已有连续段延伸到新区间起点，截断旧段到起点之前，
// 避免陈旧价格在重叠下标上盖过新事件。
func BuildChannels(res Result, bars int) ChannelMap {
	m := make(ChannelMap, len(ChannelNames))
	for _, name := range ChannelNames {
		vals := make([]float64, bars)
		for i := range vals {
			vals[i] = math.NaN()
		}
		m[name] = vals
	}
	for _, ev := range res.Events {
		vals := m[channelFor(ev)]
		writeRange(vals, ev.PivotIndex, ev.BreakIndex, ev.Price)
	}
	for _, p := range res.Pivots {
		if p.Level != LevelSwing || p.Index < 0 || p.Index >= bars {
			continue
		}
		if p.Kind == KindHigh {
			m[ChannelSwingHighMarker][p.Index] = p.Price
		} else {
			m[ChannelSwingLowMarker][p.Index] = p.Price
		}
	}
	return m
}

func channelFor(ev BreakEvent) string {
	swing := ev.Level == LevelSwing
	bull := ev.Direction == DirectionBull
	if ev.Kind == BreakBOS {
		switch {
		case swing && bull:
			return ChannelSwingBosBull
		case swing:
			return ChannelSwingBosBear
		case bull:
			return ChannelInternalBosBull
		default:
			return ChannelInternalBosBear
		}
	}
	switch {
	case swing && bull:
		return ChannelSwingChochBull
	case swing:
		return ChannelSwingChochBear
	case bull:
		return ChannelInternalChochBull
	default:
		return ChannelInternalChochBear
	}
}

func writeRange(vals []float64, from, to int, price float64) {
	if from < 0 {
		from = 0
	}
	if to >= len(vals) {
		to = len(vals) - 1
	}
	if from > to {
		return
	}
	// 旧段覆盖到新起点时整段清到断开为止，使其恰好止于 from-1。
	for j := from; j < len(vals) && !math.IsNaN(vals[j]); j++ {
		vals[j] = math.NaN()
	}
	for j := from; j <= to; j++ {
		vals[j] = price
	}
}

func mergeEvents(a, b []BreakEvent) []BreakEvent {
	out := make([]BreakEvent, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].BreakIndex <= b[j].BreakIndex {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

func mergePivots(a, b []Pivot) []Pivot {
	out := make([]Pivot, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Index <= b[j].Index {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
