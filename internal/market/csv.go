package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var csvHeader = []string{"open_time", "close_time", "open", "high", "low", "close", "volume", "trades"}

// WriteCSV 把蜡烛序列写成 CSV 文件，首行为列头。
func WriteCSV(path string, candles []Candle) error {
	var b strings.Builder
	b.WriteString(strings.Join(csvHeader, ","))
	b.WriteByte('\n')
	for _, c := range candles {
		b.WriteString(strconv.FormatInt(c.OpenTime, 10))
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(c.CloseTime, 10))
		b.WriteByte(',')
		b.WriteString(formatPlainFloat(c.Open))
		b.WriteByte(',')
		b.WriteString(formatPlainFloat(c.High))
		b.WriteByte(',')
		b.WriteString(formatPlainFloat(c.Low))
		b.WriteByte(',')
		b.WriteString(formatPlainFloat(c.Close))
		b.WriteByte(',')
		b.WriteString(formatPlainFloat(c.Volume))
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(c.Trades, 10))
		b.WriteByte('\n')
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("替换 CSV 文件失败: %w", err)
	}
	return nil
}

// LoadCSV 读取 WriteCSV 产出的文件并按时间升序返回。
func LoadCSV(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 CSV 失败: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV 从 reader 解析蜡烛序列，首行列头可缺省。
// 价格列解析失败视为错误，不做静默兜底。
func ReadCSV(r io.Reader) ([]Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	var out []Candle
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析 CSV 第 %d 行失败: %w", line+1, err)
		}
		line++
		if line == 1 && looksLikeHeader(rec) {
			continue
		}
		if len(rec) < 6 {
			return nil, fmt.Errorf("CSV 第 %d 行列数不足: %d", line, len(rec))
		}
		c := Candle{
			OpenTime:  lenientInt(rec[0]),
			CloseTime: lenientInt(rec[1]),
		}
		prices := [4]*float64{&c.Open, &c.High, &c.Low, &c.Close}
		for k, dst := range prices {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[2+k]), 64)
			if err != nil {
				return nil, fmt.Errorf("CSV 第 %d 行 %s 列非法: %q", line, csvHeader[2+k], rec[2+k])
			}
			*dst = v
		}
		if len(rec) > 6 {
			c.Volume = lenientFloat(rec[6])
		}
		if len(rec) > 7 {
			c.Trades = lenientInt(rec[7])
		}
		out = append(out, c)
	}
	return Dedupe(out), nil
}

func looksLikeHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
	return err != nil
}

func lenientInt(s string) int64 {
	v, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return v
}

func lenientFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func formatPlainFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
