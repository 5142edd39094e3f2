package saver

import (
	"github.com/parquet-go/parquet-go"
)

// ParquetSaver 列式导出，通道列是 optional 列。
type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) Save(rows []Row, path string) error {
	return parquet.WriteFile(path, rows)
}
