package structure

// pivotQueue 按插入顺序保存同方向的 pivot；被消费的条目永不复活。
type pivotQueue struct {
	items    []Pivot
	consumed []bool
	head     int
}

func newPivotQueue(pivots []Pivot, kind Kind) *pivotQueue {
	q := &pivotQueue{}
	for _, p := range pivots {
		if p.Kind == kind {
			q.items = append(q.items, p)
		}
	}
	q.consumed = make([]bool, len(q.items))
	return q
}

// take 按插入顺序返回第一个满足 match 的未消费 pivot 并标记消费。
// 不满足 match 的条目原样保留，等待后续 bar。
func (q *pivotQueue) take(match func(Pivot) bool) (Pivot, bool) {
	for q.head < len(q.items) && q.consumed[q.head] {
		q.head++
	}
	for idx := q.head; idx < len(q.items); idx++ {
		if q.consumed[idx] || !match(q.items[idx]) {
			continue
		}
		q.consumed[idx] = true
		return q.items[idx], true
	}
	return Pivot{}, false
}

// ClassifyBreaks 逐 bar 扫描收盘价对仍有效 pivot 的穿越并按当前趋势定性。
// 同一 bar 先做多头判定再做空头判定，两个方向各自最多产出一个事件；
// 多头穿越在趋势为 bearish 时记为 choch，否则为 bos（neutral 下首破恒为 bos），
// 空头对称。返回事件按 BreakIndex 升序，以及收尾时的趋势值。
func ClassifyBreaks(closes []float64, pivots []Pivot, trend Trend) ([]BreakEvent, Trend) {
	if trend == "" {
		trend = TrendNeutral
	}
	highsQ := newPivotQueue(pivots, KindHigh)
	lowsQ := newPivotQueue(pivots, KindLow)
	var out []BreakEvent
	for i, c := range closes {
		if pv, ok := highsQ.take(func(p Pivot) bool { return p.Index < i && p.Price < c }); ok {
			kind := BreakBOS
			if trend == TrendBearish {
				kind = BreakCHoCH
			}
			trend = TrendBullish
			out = append(out, BreakEvent{
				PivotIndex: pv.Index,
				BreakIndex: i,
				Price:      pv.Price,
				Level:      pv.Level,
				Kind:       kind,
				Direction:  DirectionBull,
			})
		}
		if pv, ok := lowsQ.take(func(p Pivot) bool { return p.Index < i && p.Price > c }); ok {
			kind := BreakBOS
			if trend == TrendBullish {
				kind = BreakCHoCH
			}
			trend = TrendBearish
			out = append(out, BreakEvent{
				PivotIndex: pv.Index,
				BreakIndex: i,
				Price:      pv.Price,
				Level:      pv.Level,
				Kind:       kind,
				Direction:  DirectionBear,
			})
		}
	}
	return out, trend
}
