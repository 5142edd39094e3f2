package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe 是标准化后的 K 线周期，例如 1m/15m/4h/1d。
type Timeframe struct {
	Label string
	Step  time.Duration
}

// ParseTimeframe 解析 Binance 风格的周期字符串。
func ParseTimeframe(s string) (Timeframe, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if len(raw) < 2 {
		return Timeframe{}, fmt.Errorf("非法周期 %q", s)
	}
	unit := raw[len(raw)-1]
	n, err := strconv.Atoi(raw[:len(raw)-1])
	if err != nil || n <= 0 {
		return Timeframe{}, fmt.Errorf("非法周期 %q", s)
	}
	var step time.Duration
	switch unit {
	case 'm':
		step = time.Duration(n) * time.Minute
	case 'h':
		step = time.Duration(n) * time.Hour
	case 'd':
		step = time.Duration(n) * 24 * time.Hour
	case 'w':
		step = time.Duration(n) * 7 * 24 * time.Hour
	default:
		return Timeframe{}, fmt.Errorf("非法周期 %q", s)
	}
	return Timeframe{Label: raw, Step: step}, nil
}

func (tf Timeframe) durationMillis() int64 {
	return tf.Step.Milliseconds()
}

// ExpectedCandles 返回对齐区间内应有的 K 线数量。
func (tf Timeframe) ExpectedCandles(alignedFrom, alignedTo int64) int64 {
	step := tf.durationMillis()
	if step <= 0 || alignedTo < alignedFrom {
		return 0
	}
	return (alignedTo-alignedFrom)/step + 1
}

// Gap 表示缺失的连续 K 线区间（OpenTime 毫秒）。
type Gap struct {
	From  int64 `json:"from"`
	To    int64 `json:"to"`
	Count int64 `json:"count"`
}

// FindGaps 检查升序蜡烛序列中的缺口。
// 结构检测按数组下标推进，缺口会让下标和时间错位，调用方应当示警。
func FindGaps(candles []Candle, tf Timeframe) []Gap {
	step := tf.durationMillis()
	if step <= 0 || len(candles) < 2 {
		return nil
	}
	var gaps []Gap
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].OpenTime
		cur := candles[i].OpenTime
		diff := cur - prev
		if diff <= step {
			continue
		}
		missing := diff/step - 1
		if missing <= 0 {
			continue
		}
		gaps = append(gaps, Gap{
			From:  prev + step,
			To:    cur - step,
			Count: missing,
		})
	}
	return gaps
}
