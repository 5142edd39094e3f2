package structure

import "fmt"

// Level 区分长短两套回看窗口。
type Level string

const (
	LevelSwing    Level = "swing"
	LevelInternal Level = "internal"
)

// Kind 标记 pivot 的方向。
type Kind string

const (
	KindHigh Kind = "high"
	KindLow  Kind = "low"
)

// Trend 是每个级别独立维护的趋势寄存器取值。
type Trend string

const (
	TrendNeutral Trend = "neutral"
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
)

// Direction 标记突破方向。
type Direction string

const (
	DirectionBull Direction = "bull"
	DirectionBear Direction = "bear"
)

// BreakKind 区分顺势突破与反转突破。
type BreakKind string

const (
	BreakBOS   BreakKind = "bos"
	BreakCHoCH BreakKind = "choch"
)

// Pivot 表示在给定回看窗口下确认的局部极值。
type Pivot struct {
	Index int     `json:"index"`
	Price float64 `json:"price"`
	Kind  Kind    `json:"kind"`
	Level Level   `json:"level"`
}

// BreakEvent 表示收盘价越过某个仍有效 pivot 的一次结构事件。
// PivotIndex 恒小于 BreakIndex。
type BreakEvent struct {
	PivotIndex int       `json:"pivot_index"`
	BreakIndex int       `json:"break_index"`
	Price      float64   `json:"price"`
	Level      Level     `json:"level"`
	Kind       BreakKind `json:"kind"`
	Direction  Direction `json:"direction"`
}

const (
	DefaultSwingLength    = 50
	DefaultInternalLength = 5
)

// Options 描述一次检测的回看窗口配置。零值字段取默认值。
type Options struct {
	SwingLength    int `json:"swing_length"`
	InternalLength int `json:"internal_length"`
}

func (o Options) withDefaults() Options {
	out := o
	if out.SwingLength == 0 {
		out.SwingLength = DefaultSwingLength
	}
	if out.InternalLength == 0 {
		out.InternalLength = DefaultInternalLength
	}
	return out
}

func (o Options) validate() error {
	if o.SwingLength <= 0 {
		return &ConfigError{Field: "swing_length", Value: o.SwingLength, Reason: "必须大于 0"}
	}
	if o.InternalLength <= 0 {
		return &ConfigError{Field: "internal_length", Value: o.InternalLength, Reason: "必须大于 0"}
	}
	return nil
}

// ConfigError 表示检测配置非法。
type ConfigError struct {
	Field  string
	Value  int
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置 %s=%d 非法: %s", e.Field, e.Value, e.Reason)
}

// DataError 标识输入序列中第一个含 NaN/Inf 字段的 bar。
type DataError struct {
	Index int
	Field string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("bar %d 的 %s 字段不是有效数值", e.Index, e.Field)
}
