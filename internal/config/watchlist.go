package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// WatchlistFile 是 watchlists.yaml 的顶层结构。
type WatchlistFile struct {
	Watchlists map[string]Watchlist `yaml:"watchlists"`
}

// Watchlist 一组批量扫描预设；Symbols 为空时按 Quote 拉全市场符号。
type Watchlist struct {
	Symbols        []string `yaml:"symbols,omitempty"`
	Quote          string   `yaml:"quote,omitempty"`
	Interval       string   `yaml:"interval,omitempty"`
	Limit          int      `yaml:"limit,omitempty"`
	SwingLength    int      `yaml:"swing_length,omitempty"`
	InternalLength int      `yaml:"internal_length,omitempty"`
	Default        bool     `yaml:"default,omitempty"`
}

// WatchlistWriter 负责 watchlists.yaml 的读写与备份。
type WatchlistWriter struct {
	path string
	mu   sync.RWMutex
}

func NewWatchlistWriter(path string) *WatchlistWriter {
	return &WatchlistWriter{path: path}
}

// Read 读取当前 watchlists.yaml；文件不存在返回空集合。
func (w *WatchlistWriter) Read() (*WatchlistFile, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &WatchlistFile{Watchlists: make(map[string]Watchlist)}, nil
		}
		return nil, fmt.Errorf("读取 watchlists 失败: %w", err)
	}

	var cfg WatchlistFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 watchlists 失败: %w", err)
	}
	if cfg.Watchlists == nil {
		cfg.Watchlists = make(map[string]Watchlist)
	}
	return &cfg, nil
}

// Write 先备份再以临时文件替换，保证写入原子性。
func (w *WatchlistWriter) Write(cfg *WatchlistFile) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.backup(); err != nil {
		return fmt.Errorf("备份失败: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化 watchlists 失败: %w", err)
	}

	tmpPath := w.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("替换 watchlists 失败: %w", err)
	}
	return nil
}

func (w *WatchlistWriter) backup() error {
	src, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	backupDir := filepath.Join(filepath.Dir(w.path), "backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("watchlists_%s.yaml", timestamp))

	dst, err := os.Create(backupPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	w.cleanOldBackups(backupDir, 10)
	return nil
}

func (w *WatchlistWriter) cleanOldBackups(dir string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var backups []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "watchlists_") && strings.HasSuffix(e.Name(), ".yaml") {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}
	if len(backups) <= keep {
		return
	}
	sort.Strings(backups)
	for i := 0; i < len(backups)-keep; i++ {
		os.Remove(backups[i])
	}
}

// Get 按名称取出单个预设。
func (w *WatchlistWriter) Get(name string) (*Watchlist, error) {
	cfg, err := w.Read()
	if err != nil {
		return nil, err
	}
	wl, ok := cfg.Watchlists[name]
	if !ok {
		return nil, fmt.Errorf("watchlist '%s' 不存在", name)
	}
	return &wl, nil
}

// Update 新增或覆盖一个预设。
func (w *WatchlistWriter) Update(name string, wl Watchlist) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("watchlist 名称不能为空")
	}
	cfg, err := w.Read()
	if err != nil {
		return err
	}
	cfg.Watchlists[name] = wl
	return w.Write(cfg)
}

// Delete 删除指定预设。
func (w *WatchlistWriter) Delete(name string) error {
	cfg, err := w.Read()
	if err != nil {
		return err
	}
	if _, ok := cfg.Watchlists[name]; !ok {
		return fmt.Errorf("watchlist '%s' 不存在", name)
	}
	delete(cfg.Watchlists, name)
	return w.Write(cfg)
}

// DefaultWatchlist 返回标记为 default 的预设；没有标记时取名称排序后的第一个。
func (w *WatchlistWriter) DefaultWatchlist() (string, *Watchlist, error) {
	cfg, err := w.Read()
	if err != nil {
		return "", nil, err
	}
	if len(cfg.Watchlists) == 0 {
		return "", nil, fmt.Errorf("watchlists 为空")
	}
	names := make([]string, 0, len(cfg.Watchlists))
	for name, wl := range cfg.Watchlists {
		if wl.Default {
			out := wl
			return name, &out, nil
		}
		names = append(names, name)
	}
	sort.Strings(names)
	wl := cfg.Watchlists[names[0]]
	return names[0], &wl, nil
}

// Path 返回底层文件路径。
func (w *WatchlistWriter) Path() string {
	return w.path
}
