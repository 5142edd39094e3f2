package structure

const (
	pivotNone = iota
	pivotTop
	pivotBottom
)

// ScanPivots 以 lookback 为确认窗口扫描整段序列，返回按确认先后排列的 pivot。
// 候选 bar p = i - lookback 在窗口 (p, i] 内的 high 严格高于窗口最大值时记为顶，
// low 严格低于窗口最小值时记为底（顶优先判定）；状态翻转才会产出 pivot，
// 连续满足同一方向的 bar 不会重复产出。序列短于 lookback+1 时返回空。
func ScanPivots(highs, lows []float64, lookback int, level Level) ([]Pivot, error) {
	if lookback <= 0 {
		return nil, &ConfigError{Field: "lookback", Value: lookback, Reason: "必须大于 0"}
	}
	n := len(highs)
	if len(lows) < n {
		n = len(lows)
	}
	if n < lookback+1 {
		return nil, nil
	}

	// 两条单调队列维护窗口 (p, i] 的最大 high / 最小 low，整体 O(n)。
	maxQ := make([]int, 0, lookback+1)
	minQ := make([]int, 0, lookback+1)

	out := make([]Pivot, 0, n/8)
	state := pivotNone
	for i := 1; i < n; i++ {
		for len(maxQ) > 0 && highs[maxQ[len(maxQ)-1]] <= highs[i] {
			maxQ = maxQ[:len(maxQ)-1]
		}
		maxQ = append(maxQ, i)
		for len(minQ) > 0 && lows[minQ[len(minQ)-1]] >= lows[i] {
			minQ = minQ[:len(minQ)-1]
		}
		minQ = append(minQ, i)
		if i < lookback {
			continue
		}
		p := i - lookback
		for maxQ[0] <= p {
			maxQ = maxQ[1:]
		}
		for minQ[0] <= p {
			minQ = minQ[1:]
		}

		next := state
		if highs[p] > highs[maxQ[0]] {
			next = pivotTop
		} else if lows[p] < lows[minQ[0]] {
			next = pivotBottom
		}
		if next == state {
			continue
		}
		state = next
		if next == pivotTop {
			out = append(out, Pivot{Index: p, Price: highs[p], Kind: KindHigh, Level: level})
		} else {
			out = append(out, Pivot{Index: p, Price: lows[p], Kind: KindLow, Level: level})
		}
	}
	return out, nil
}
