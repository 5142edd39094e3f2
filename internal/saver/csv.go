package saver

import (
	"encoding/csv"
	"os"
	"strconv"
)

// CSVSaver 明文导出，通道无值处留空列。
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

var csvHeader = []string{
	"open_time", "open", "high", "low", "close", "volume",
	"swing_bos_bull", "swing_bos_bear", "swing_choch_bull", "swing_choch_bear",
	"internal_bos_bull", "internal_bos_bear", "internal_choch_bull", "internal_choch_bear",
	"swing_high_marker", "swing_low_marker",
}

func (CSVSaver) Save(rows []Row, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.FormatInt(r.OpenTime, 10),
			floatStr(r.Open),
			floatStr(r.High),
			floatStr(r.Low),
			floatStr(r.Close),
			floatStr(r.Volume),
			ptrStr(r.SwingBosBull),
			ptrStr(r.SwingBosBear),
			ptrStr(r.SwingChochBull),
			ptrStr(r.SwingChochBear),
			ptrStr(r.InternalBosBull),
			ptrStr(r.InternalBosBear),
			ptrStr(r.InternalChochBull),
			ptrStr(r.InternalChochBear),
			ptrStr(r.SwingHighMarker),
			ptrStr(r.SwingLowMarker),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func ptrStr(p *float64) string {
	if p == nil {
		return ""
	}
	return floatStr(*p)
}
