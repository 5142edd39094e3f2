package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultPath 为缺省配置文件名，不存在时全部走内置默认值。
const DefaultPath = "strux.toml"

// Config 汇总 CLI 与 HTTP 服务的全部可调参数。
type Config struct {
	Engine EngineConfig `toml:"engine"`
	Data   DataConfig   `toml:"data"`
	Server ServerConfig `toml:"server"`
	Chart  ChartConfig  `toml:"chart"`
	Log    LogConfig    `toml:"log"`
}

// EngineConfig 对应结构检测引擎的两档回看窗口。
type EngineConfig struct {
	SwingLength    int `toml:"swing_length"`
	InternalLength int `toml:"internal_length"`
}

// DataConfig 描述行情来源与本地缓存。
type DataConfig struct {
	Symbol      string `toml:"symbol"`
	Interval    string `toml:"interval"`
	Limit       int    `toml:"limit"`
	Quote       string `toml:"quote"`
	RESTBaseURL string `toml:"rest_base_url"`
	WSBaseURL   string `toml:"ws_base_url"`
	CachePath   string `toml:"cache_path"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type ChartConfig struct {
	Title  string `toml:"title"`
	Theme  string `toml:"theme"`
	Output string `toml:"output"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Load 读取 TOML 配置；文件不存在时返回默认配置而不是报错。
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return (&Config{}).withDefaults(), nil
		}
		return Config{}, fmt.Errorf("读取配置 %s 失败: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("解析配置 %s 失败: %w", path, err)
	}
	return cfg.withDefaults(), nil
}

// Save 原子化写出配置（先写临时文件再替换）。
func Save(path string, cfg Config) error {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("替换配置文件失败: %w", err)
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Engine.SwingLength <= 0 {
		out.Engine.SwingLength = 50
	}
	if out.Engine.InternalLength <= 0 {
		out.Engine.InternalLength = 5
	}
	out.Data.Symbol = strings.ToUpper(strings.TrimSpace(out.Data.Symbol))
	if out.Data.Symbol == "" {
		out.Data.Symbol = "BTCUSDT"
	}
	out.Data.Interval = strings.ToLower(strings.TrimSpace(out.Data.Interval))
	if out.Data.Interval == "" {
		out.Data.Interval = "1h"
	}
	if out.Data.Limit <= 0 {
		out.Data.Limit = 1000
	}
	if out.Data.Quote == "" {
		out.Data.Quote = "USDT"
	}
	if out.Data.CachePath == "" {
		out.Data.CachePath = "strux.db"
	}
	if out.Server.Addr == "" {
		out.Server.Addr = ":8090"
	}
	if out.Chart.Title == "" {
		out.Chart.Title = "Market Structure"
	}
	if out.Chart.Theme == "" {
		out.Chart.Theme = "dark"
	}
	if out.Chart.Output == "" {
		out.Chart.Output = "structure.html"
	}
	if out.Log.Level == "" {
		out.Log.Level = "info"
	}
	return out
}
