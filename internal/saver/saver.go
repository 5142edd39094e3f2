// Package saver 把扫描产物导出成数据集文件：每行一根 K 线，
// 外加十条结构通道的取值（无值处留空）。
package saver

import (
	"fmt"
	"strings"

	"strux/internal/analysis/structure"
	"strux/internal/market"
)

// Row 导出用 DTO。通道列为指针：nil 表示该位置没有结构标注。
type Row struct {
	OpenTime int64   `json:"open_time" parquet:"open_time"`
	Open     float64 `json:"open" parquet:"open"`
	High     float64 `json:"high" parquet:"high"`
	Low      float64 `json:"low" parquet:"low"`
	Close    float64 `json:"close" parquet:"close"`
	Volume   float64 `json:"volume" parquet:"volume"`

	SwingBosBull      *float64 `json:"swing_bos_bull,omitempty" parquet:"swing_bos_bull,optional"`
	SwingBosBear      *float64 `json:"swing_bos_bear,omitempty" parquet:"swing_bos_bear,optional"`
	SwingChochBull    *float64 `json:"swing_choch_bull,omitempty" parquet:"swing_choch_bull,optional"`
	SwingChochBear    *float64 `json:"swing_choch_bear,omitempty" parquet:"swing_choch_bear,optional"`
	InternalBosBull   *float64 `json:"internal_bos_bull,omitempty" parquet:"internal_bos_bull,optional"`
	InternalBosBear   *float64 `json:"internal_bos_bear,omitempty" parquet:"internal_bos_bear,optional"`
	InternalChochBull *float64 `json:"internal_choch_bull,omitempty" parquet:"internal_choch_bull,optional"`
	InternalChochBear *float64 `json:"internal_choch_bear,omitempty" parquet:"internal_choch_bear,optional"`
	SwingHighMarker   *float64 `json:"swing_high_marker,omitempty" parquet:"swing_high_marker,optional"`
	SwingLowMarker    *float64 `json:"swing_low_marker,omitempty" parquet:"swing_low_marker,optional"`
}

// RowSaver 按格式落盘一批行。实现方只关心序列化，不关心数据从哪来。
type RowSaver interface {
	Save(rows []Row, path string) error
	Extension() string
}

// NewRowSaver 根据格式名返回实现（csv/parquet/json），不支持的格式返回 nil。
func NewRowSaver(format string) RowSaver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVSaver{}
	case "parquet":
		return ParquetSaver{}
	case "json":
		return JSONSaver{}
	default:
		return nil
	}
}

// MustRowSaver 同 NewRowSaver，格式非法时 panic。
func MustRowSaver(format string) RowSaver {
	s := NewRowSaver(format)
	if s == nil {
		panic(fmt.Sprintf("saver: 不支持的格式 %q (可用: csv, parquet, json)", format))
	}
	return s
}

// BuildRows 把蜡烛和通道矩阵拼成导出行，NaN 转为 nil。
func BuildRows(candles []market.Candle, channels structure.ChannelMap) []Row {
	at := func(name string, i int) *float64 {
		vals := channels[name]
		if i >= len(vals) {
			return nil
		}
		v := vals[i]
		if v != v {
			return nil
		}
		out := v
		return &out
	}
	rows := make([]Row, len(candles))
	for i, c := range candles {
		rows[i] = Row{
			OpenTime: c.OpenTime,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,

			SwingBosBull:      at(structure.ChannelSwingBosBull, i),
			SwingBosBear:      at(structure.ChannelSwingBosBear, i),
			SwingChochBull:    at(structure.ChannelSwingChochBull, i),
			SwingChochBear:    at(structure.ChannelSwingChochBear, i),
			InternalBosBull:   at(structure.ChannelInternalBosBull, i),
			InternalBosBear:   at(structure.ChannelInternalBosBear, i),
			InternalChochBull: at(structure.ChannelInternalChochBull, i),
			InternalChochBear: at(structure.ChannelInternalChochBear, i),
			SwingHighMarker:   at(structure.ChannelSwingHighMarker, i),
			SwingLowMarker:    at(structure.ChannelSwingLowMarker, i),
		}
	}
	return rows
}
