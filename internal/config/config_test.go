package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("缺省配置不应报错: %v", err)
	}
	if cfg.Engine.SwingLength != 50 || cfg.Engine.InternalLength != 5 {
		t.Fatalf("引擎默认窗口异常: %+v", cfg.Engine)
	}
	if cfg.Data.Symbol != "BTCUSDT" || cfg.Data.Interval != "1h" {
		t.Fatalf("数据默认值异常: %+v", cfg.Data)
	}
	if cfg.Server.Addr != ":8090" || cfg.Log.Level != "info" {
		t.Fatalf("服务默认值异常: %+v %+v", cfg.Server, cfg.Log)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strux.toml")
	body := `
[engine]
swing_length = 20

[data]
symbol = " ethusdt "
interval = "4H"
limit = 300

[chart]
title = "ETH Structure"
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("写测试配置: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.SwingLength != 20 || cfg.Engine.InternalLength != 5 {
		t.Fatalf("部分覆盖后应保留其余默认: %+v", cfg.Engine)
	}
	if cfg.Data.Symbol != "ETHUSDT" || cfg.Data.Interval != "4h" || cfg.Data.Limit != 300 {
		t.Fatalf("归一化异常: %+v", cfg.Data)
	}
	if cfg.Chart.Title != "ETH Structure" || cfg.Chart.Output != "structure.html" {
		t.Fatalf("图表配置异常: %+v", cfg.Chart)
	}
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("engine = [broken"), 0644); err != nil {
		t.Fatalf("写测试配置: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("坏配置应报错")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strux.toml")
	cfg := (&Config{}).withDefaults()
	cfg.Data.Symbol = "SOLUSDT"
	cfg.Engine.SwingLength = 30
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Data.Symbol != "SOLUSDT" || got.Engine.SwingLength != 30 {
		t.Fatalf("回读不一致: %+v", got)
	}
}

func TestWatchlistWriterCRUD(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlists.yaml")
	w := NewWatchlistWriter(path)

	// 文件不存在时 Read 返回空集合
	cfg, err := w.Read()
	if err != nil {
		t.Fatalf("read empty: %v", err)
	}
	if len(cfg.Watchlists) != 0 {
		t.Fatalf("初始应为空: %+v", cfg.Watchlists)
	}

	if err := w.Update("majors", Watchlist{
		Symbols:  []string{"BTCUSDT", "ETHUSDT"},
		Interval: "4h",
		Limit:    500,
		Default:  true,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := w.Update("alts", Watchlist{Quote: "USDT", Interval: "1h"}); err != nil {
		t.Fatalf("update alts: %v", err)
	}

	got, err := w.Get("majors")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Symbols) != 2 || got.Interval != "4h" {
		t.Fatalf("回读不一致: %+v", got)
	}

	name, def, err := w.DefaultWatchlist()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if name != "majors" || !def.Default {
		t.Fatalf("default 应为 majors: %s %+v", name, def)
	}

	if err := w.Delete("alts"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := w.Get("alts"); err == nil {
		t.Fatalf("删除后 Get 应报错")
	}
	if err := w.Delete("alts"); err == nil {
		t.Fatalf("重复删除应报错")
	}

	// 覆盖写应产生备份
	if err := w.Update("majors", Watchlist{Symbols: []string{"BTCUSDT"}}); err != nil {
		t.Fatalf("update again: %v", err)
	}
	backups, err := os.ReadDir(filepath.Join(filepath.Dir(path), "backups"))
	if err != nil {
		t.Fatalf("备份目录应存在: %v", err)
	}
	if len(backups) == 0 {
		t.Fatalf("覆盖写后应有备份文件")
	}
}
