package structure

import (
	"math"

	"golang.org/x/sync/errgroup"

	"strux/internal/market"
)

// Engine 在一段不可变的 K 线序列上执行两级（swing/internal）结构检测。
// 检测是输入与配置的纯函数：相同输入重复调用产出逐字节相同的结果，
// 追加新 K 线后重算时，距序列末尾超过各自回看长度的旧结果保持不变。
type Engine struct {
	opts Options
	obs  Observer
}

// NewEngine 校验配置并构造引擎；obs 传 nil 时使用 NopObserver。
func NewEngine(opts Options, obs Observer) (*Engine, error) {
	final := opts.withDefaults()
	if err := final.validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Engine{opts: final, obs: obs}, nil
}

// Options 返回补全默认值后的生效配置。
func (e *Engine) Options() Options {
	return e.opts
}

type levelOutput struct {
	pivots []Pivot
	events []BreakEvent
	trend  Trend
}

// Detect 对整段序列做一次完整检测。两个级别互不影响，各自并行跑完后合并。
func (e *Engine) Detect(candles []market.Candle) (Result, error) {
	if err := ValidateCandles(candles); err != nil {
		return Result{}, err
	}
	highs, lows, closes := market.Series(candles)

	var swing, internal levelOutput
	var g errgroup.Group
	g.Go(func() error {
		out, err := runLevel(highs, lows, closes, e.opts.SwingLength, LevelSwing)
		if err != nil {
			return err
		}
		swing = out
		return nil
	})
	g.Go(func() error {
		out, err := runLevel(highs, lows, closes, e.opts.InternalLength, LevelInternal)
		if err != nil {
			return err
		}
		internal = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{
		Events:        mergeEvents(swing.events, internal.events),
		Pivots:        mergePivots(swing.pivots, internal.pivots),
		SwingTrend:    swing.trend,
		InternalTrend: internal.trend,
	}
	for _, p := range res.Pivots {
		e.obs.PivotConfirmed(p)
	}
	for _, ev := range res.Events {
		e.obs.BreakDetected(ev)
	}
	return res, nil
}

func runLevel(highs, lows, closes []float64, lookback int, level Level) (levelOutput, error) {
	pivots, err := ScanPivots(highs, lows, lookback, level)
	if err != nil {
		return levelOutput{}, err
	}
	events, trend := ClassifyBreaks(closes, pivots, TrendNeutral)
	return levelOutput{pivots: pivots, events: events, trend: trend}, nil
}

// ValidateCandles 拒绝 high/low/close 含 NaN/Inf 的序列，并指出首个出错下标。
func ValidateCandles(candles []market.Candle) error {
	for i, c := range candles {
		switch {
		case badNumber(c.High):
			return &DataError{Index: i, Field: "high"}
		case badNumber(c.Low):
			return &DataError{Index: i, Field: "low"}
		case badNumber(c.Close):
			return &DataError{Index: i, Field: "close"}
		}
	}
	return nil
}

func badNumber(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
