package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"strux/internal/analysis/indicator"
	"strux/internal/analysis/structure"
	"strux/internal/config"
	"strux/internal/gateway/binance"
	"strux/internal/logger"
	"strux/internal/market"
	"strux/internal/render"
	"strux/internal/report"
	"strux/internal/saver"
	"strux/internal/scan"
	"strux/internal/store"
	"strux/internal/transport/http/scanapi"
	"strux/internal/watch"
)

type cliFlags struct {
	mode           string
	cfgPath        string
	symbol         string
	symbolsCSV     string
	interval       string
	limit          int
	swing          int
	internal       int
	quote          string
	csvIn          string
	out            string
	pngOut         string
	format         string
	addr           string
	watchlistsPath string
	watchlistName  string
	logLevel       string
	noStore        bool
}

func main() {
	var f cliFlags
	flag.StringVar(&f.mode, "mode", "scan", "运行模式: scan | serve | watch | render | export")
	flag.StringVar(&f.cfgPath, "config", "", "配置文件路径 (默认 strux.toml)")
	flag.StringVar(&f.symbol, "symbol", "", "单符号，如 BTCUSDT")
	flag.StringVar(&f.symbolsCSV, "symbols", "", "逗号分隔的符号列表，scan 模式下触发批量")
	flag.StringVar(&f.interval, "interval", "", "K 线周期，如 1h")
	flag.IntVar(&f.limit, "limit", 0, "拉取的 K 线根数")
	flag.IntVar(&f.swing, "swing", 0, "swing 档回看窗口")
	flag.IntVar(&f.internal, "internal", 0, "internal 档回看窗口")
	flag.StringVar(&f.quote, "quote", "", "按计价币拉全市场符号（批量）")
	flag.StringVar(&f.csvIn, "csv", "", "离线模式：从 CSV 读蜡烛而不是拉接口")
	flag.StringVar(&f.out, "out", "", "输出路径 (render: html, export: 数据集)")
	flag.StringVar(&f.pngOut, "png", "", "render 模式下追加无头浏览器截图")
	flag.StringVar(&f.format, "format", "csv", "export 格式: csv | parquet | json")
	flag.StringVar(&f.addr, "addr", "", "serve 模式监听地址")
	flag.StringVar(&f.watchlistsPath, "watchlists", "watchlists.yaml", "watchlist 预设文件")
	flag.StringVar(&f.watchlistName, "watchlist", "", "使用指定 watchlist 预设")
	flag.StringVar(&f.logLevel, "log-level", "", "日志级别: debug | info | warn | error")
	flag.BoolVar(&f.noStore, "no-store", false, "不落 sqlite")
	flag.Parse()

	cfg, err := config.Load(f.cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg, f)
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch f.mode {
	case "scan":
		err = runScan(ctx, cfg, f)
	case "serve":
		err = runServe(ctx, cfg, f)
	case "watch":
		err = runWatch(ctx, cfg, f)
	case "render":
		err = runRender(ctx, cfg, f)
	case "export":
		err = runExport(ctx, cfg, f)
	default:
		fmt.Fprintf(os.Stderr, "未知模式 %q (可用: scan, serve, watch, render, export)\n", f.mode)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// applyFlags 命令行覆盖配置文件；watchlist 预设优先于配置、低于显式 flag。
func applyFlags(cfg *config.Config, f cliFlags) {
	if f.watchlistName != "" {
		if wl, err := config.NewWatchlistWriter(f.watchlistsPath).Get(f.watchlistName); err != nil {
			fmt.Fprintf(os.Stderr, "读取 watchlist 失败: %v\n", err)
			os.Exit(1)
		} else {
			if wl.Interval != "" {
				cfg.Data.Interval = wl.Interval
			}
			if wl.Limit > 0 {
				cfg.Data.Limit = wl.Limit
			}
			if wl.Quote != "" {
				cfg.Data.Quote = wl.Quote
			}
			if wl.SwingLength > 0 {
				cfg.Engine.SwingLength = wl.SwingLength
			}
			if wl.InternalLength > 0 {
				cfg.Engine.InternalLength = wl.InternalLength
			}
		}
	}
	if f.symbol != "" {
		cfg.Data.Symbol = strings.ToUpper(strings.TrimSpace(f.symbol))
	}
	if f.interval != "" {
		cfg.Data.Interval = strings.ToLower(strings.TrimSpace(f.interval))
	}
	if f.limit > 0 {
		cfg.Data.Limit = f.limit
	}
	if f.swing > 0 {
		cfg.Engine.SwingLength = f.swing
	}
	if f.internal > 0 {
		cfg.Engine.InternalLength = f.internal
	}
	if f.quote != "" {
		cfg.Data.Quote = strings.ToUpper(strings.TrimSpace(f.quote))
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
}

// resolveSymbols 组合 -symbols 与 watchlist 的符号集，留空表示按 quote 拉全市场。
func resolveSymbols(f cliFlags) []string {
	var out []string
	if f.symbolsCSV != "" {
		for _, s := range strings.Split(f.symbolsCSV, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" {
				out = append(out, s)
			}
		}
	}
	if f.watchlistName != "" && len(out) == 0 {
		if wl, err := config.NewWatchlistWriter(f.watchlistsPath).Get(f.watchlistName); err == nil {
			out = append(out, wl.Symbols...)
		}
	}
	return out
}

func buildSource(cfg config.Config) (*binance.Source, error) {
	return binance.New(binance.Config{
		RESTBaseURL: cfg.Data.RESTBaseURL,
		WSBaseURL:   cfg.Data.WSBaseURL,
	})
}

func buildStore(cfg config.Config, f cliFlags) (*store.StructureStore, error) {
	if f.noStore {
		return nil, nil
	}
	return store.NewStructureStore(cfg.Data.CachePath)
}

func buildService(cfg config.Config, f cliFlags) (*scan.Service, *store.StructureStore, error) {
	src, err := buildSource(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化行情源失败: %w", err)
	}
	st, err := buildStore(cfg, f)
	if err != nil {
		return nil, nil, fmt.Errorf("打开本地存储失败: %w", err)
	}
	svc, err := scan.NewService(scan.Options{
		Source: src,
		Store:  st,
		Engine: structure.Options{
			SwingLength:    cfg.Engine.SwingLength,
			InternalLength: cfg.Engine.InternalLength,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, st, nil
}

// scanOnce 单符号跑一遍，csvIn 非空时走离线蜡烛。
func scanOnce(ctx context.Context, svc *scan.Service, cfg config.Config, f cliFlags) (*scan.Report, error) {
	req := scan.Request{
		Symbol:   cfg.Data.Symbol,
		Interval: cfg.Data.Interval,
		Limit:    cfg.Data.Limit,
	}
	if f.csvIn != "" {
		candles, err := market.LoadCSV(f.csvIn)
		if err != nil {
			return nil, err
		}
		req.Candles = candles
	}
	return svc.ScanSymbol(ctx, req)
}

func runScan(ctx context.Context, cfg config.Config, f cliFlags) error {
	svc, st, err := buildService(cfg, f)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	symbols := resolveSymbols(f)
	batch := len(symbols) > 0 || f.quote != ""
	if !batch {
		rep, err := scanOnce(ctx, svc, cfg, f)
		if err != nil {
			return err
		}
		fmt.Println(report.ReportTable(rep))
		if len(rep.Result.Events) > 0 {
			fmt.Println(report.EventsTable(rep.Result.Events, rep.Candles))
		}
		return nil
	}

	params := scan.BatchParams{
		Symbols:  symbols,
		Interval: cfg.Data.Interval,
		Limit:    cfg.Data.Limit,
	}
	if len(symbols) == 0 {
		params.Quote = cfg.Data.Quote
	}
	job, err := svc.SubmitBatch(params)
	if err != nil {
		return err
	}
	logger.Infof("[cli] 批量任务已提交: %s", job.ID)
	final, err := waitBatch(ctx, svc, job.ID)
	if err != nil {
		return err
	}
	fmt.Println(report.BatchTable(final))
	return nil
}

func waitBatch(ctx context.Context, svc *scan.Service, id string) (scan.BatchJob, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return scan.BatchJob{}, ctx.Err()
		case <-ticker.C:
			job, ok := svc.JobSnapshot(id)
			if !ok {
				return scan.BatchJob{}, fmt.Errorf("任务 %s 不存在", id)
			}
			switch job.Status {
			case scan.JobStatusDone, scan.JobStatusFailed, scan.JobStatusPartial:
				return job, nil
			}
		}
	}
}

func runServe(ctx context.Context, cfg config.Config, f cliFlags) error {
	svc, st, err := buildService(cfg, f)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}
	srv, err := scanapi.NewHTTPServer(scanapi.HTTPConfig{
		Addr:       cfg.Server.Addr,
		Svc:        svc,
		Store:      st,
		Watchlists: config.NewWatchlistWriter(f.watchlistsPath),
		ChartTheme: cfg.Chart.Theme,
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

func runWatch(ctx context.Context, cfg config.Config, f cliFlags) error {
	src, err := buildSource(cfg)
	if err != nil {
		return fmt.Errorf("初始化行情源失败: %w", err)
	}
	symbols := resolveSymbols(f)
	if len(symbols) == 0 {
		symbols = []string{cfg.Data.Symbol}
	}
	mon, err := watch.NewMonitor(watch.Params{
		Source:   src,
		Symbols:  symbols,
		Interval: cfg.Data.Interval,
		Window:   cfg.Data.Limit,
		Engine: structure.Options{
			SwingLength:    cfg.Engine.SwingLength,
			InternalLength: cfg.Engine.InternalLength,
		},
	})
	if err != nil {
		return err
	}
	defer mon.Close()
	if err := mon.Start(ctx); err != nil {
		return err
	}
	logger.Infof("[cli] 盯盘中，Ctrl+C 退出")
	<-ctx.Done()
	return nil
}

func runRender(ctx context.Context, cfg config.Config, f cliFlags) error {
	svc, st, err := buildService(cfg, f)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}
	rep, err := scanOnce(ctx, svc, cfg, f)
	if err != nil {
		return err
	}
	out := f.out
	if out == "" {
		out = cfg.Chart.Output
	}
	in := render.Input{
		Symbol:   rep.Symbol,
		Interval: rep.Interval,
		Title:    cfg.Chart.Title,
		Theme:    cfg.Chart.Theme,
		Subtitle: fmt.Sprintf("swing %s · internal %s · %d events", rep.Result.SwingTrend, rep.Result.InternalTrend, len(rep.Result.Events)),
		Candles:  rep.Candles,
		Result:   rep.Result,
		EMAFast:  indicator.ComputeEMASeries(rep.Candles, 21),
		EMASlow:  indicator.ComputeEMASeries(rep.Candles, 55),
	}
	if err := render.WriteHTML(in, out); err != nil {
		return err
	}
	logger.Infof("[cli] 图表已写入 %s", out)
	if f.pngOut != "" {
		if err := render.SnapshotPNG(ctx, out, f.pngOut, render.SnapshotOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func runExport(ctx context.Context, cfg config.Config, f cliFlags) error {
	s := saver.NewRowSaver(f.format)
	if s == nil {
		return fmt.Errorf("不支持的导出格式 %q (可用: csv, parquet, json)", f.format)
	}
	svc, st, err := buildService(cfg, f)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}
	rep, err := scanOnce(ctx, svc, cfg, f)
	if err != nil {
		return err
	}
	rows := saver.BuildRows(rep.Candles, structure.BuildChannels(rep.Result, rep.Bars))
	out := f.out
	if out == "" {
		out = fmt.Sprintf("%s_%s_structure.%s", strings.ToLower(rep.Symbol), rep.Interval, s.Extension())
	}
	if err := s.Save(rows, out); err != nil {
		return err
	}
	logger.Infof("[cli] 数据集已导出 %s (%d 行)", out, len(rows))
	return nil
}
