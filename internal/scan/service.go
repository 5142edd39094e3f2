package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"strux/internal/analysis/indicator"
	"strux/internal/analysis/structure"
	"strux/internal/logger"
	"strux/internal/market"
	"strux/internal/store"
)

// Options 组装扫描服务的依赖。Store 可以为空（纯内存模式）。
type Options struct {
	Source  market.Source
	Store   *store.StructureStore
	Engine  structure.Options
	Workers int
}

// Service 串起行情源、结构引擎与持久层：拉取 → 检测 → 落库 → 汇报。
type Service struct {
	src     market.Source
	store   *store.StructureStore
	engOpts structure.Options
	workers int

	mu   sync.Mutex
	jobs map[string]*BatchJob
}

func NewService(opts Options) (*Service, error) {
	if opts.Source == nil {
		return nil, errors.New("source 不能为空")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		src:     opts.Source,
		store:   opts.Store,
		engOpts: opts.Engine,
		workers: workers,
		jobs:    make(map[string]*BatchJob),
	}, nil
}

// Request 单符号扫描参数；Candles 非空时跳过拉取（离线 CSV 等场景）。
type Request struct {
	Symbol         string
	Interval       string
	Limit          int
	SwingLength    int
	InternalLength int
	Candles        []market.Candle
}

// Report 单符号扫描的完整产出。
type Report struct {
	RunID       string            `json:"run_id,omitempty"`
	Symbol      string            `json:"symbol"`
	Interval    string            `json:"interval"`
	Bars        int               `json:"bars"`
	Gaps        []market.Gap      `json:"gaps,omitempty"`
	Result      structure.Result  `json:"result"`
	Context     indicator.Context `json:"context"`
	GeneratedAt int64             `json:"generated_at"`

	// 渲染与导出要用原始蜡烛，不随 JSON 下发
	Candles []market.Candle `json:"-"`
}

// ScanSymbol 同步跑完一个符号：取数、检测、算指标上下文、落库。
func (s *Service) ScanSymbol(ctx context.Context, req Request) (*Report, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if interval == "" {
		return nil, fmt.Errorf("interval 不能为空")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 1000
	}

	candles := req.Candles
	if len(candles) == 0 {
		var err error
		candles, err = s.src.FetchHistory(ctx, symbol, interval, limit)
		if err != nil {
			return nil, fmt.Errorf("拉取 %s %s 历史失败: %w", symbol, interval, err)
		}
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s %s 没有任何 K 线", symbol, interval)
	}

	if s.store != nil {
		if err := s.store.SaveCandles(ctx, symbol, interval, candles); err != nil {
			logger.Warnf("[scan] 缓存 %s %s 蜡烛失败: %v", symbol, interval, err)
		}
	}

	var gaps []market.Gap
	if tf, err := market.ParseTimeframe(interval); err == nil {
		gaps = market.FindGaps(candles, tf)
		if len(gaps) > 0 {
			logger.Warnf("[scan] %s %s 序列有 %d 个缺口，事件下标与时间可能错位", symbol, interval, len(gaps))
		}
	}

	engOpts := s.engOpts
	if req.SwingLength > 0 {
		engOpts.SwingLength = req.SwingLength
	}
	if req.InternalLength > 0 {
		engOpts.InternalLength = req.InternalLength
	}
	engine, err := structure.NewEngine(engOpts, logObserver{symbol: symbol})
	if err != nil {
		return nil, err
	}
	res, err := engine.Detect(candles)
	if err != nil {
		return nil, fmt.Errorf("检测 %s %s 失败: %w", symbol, interval, err)
	}

	ictx, err := indicator.ComputeContext(candles, indicator.Settings{})
	if err != nil {
		logger.Warnf("[scan] 计算 %s 指标上下文失败: %v", symbol, err)
	}

	report := &Report{
		Symbol:      symbol,
		Interval:    interval,
		Bars:        len(candles),
		Gaps:        gaps,
		Result:      res,
		Context:     ictx,
		GeneratedAt: time.Now().UnixMilli(),
		Candles:     candles,
	}

	if s.store != nil {
		final := engine.Options()
		runID := uuid.NewString()
		run := store.ScanRun{
			ID:             runID,
			Symbol:         symbol,
			Interval:       interval,
			SwingLength:    final.SwingLength,
			InternalLength: final.InternalLength,
			Status:         JobStatusRunning,
			StartedAt:      report.GeneratedAt,
		}
		if err := s.store.InsertRun(ctx, run); err != nil {
			logger.Warnf("[scan] 记录任务失败: %v", err)
		} else {
			if err := s.store.InsertEvents(ctx, runID, symbol, interval, res.Events, candles); err != nil {
				logger.Warnf("[scan] 落库 %s 事件失败: %v", symbol, err)
			}
			run.Bars = len(candles)
			run.Events = len(res.Events)
			run.SwingTrend = string(res.SwingTrend)
			run.InternalTrend = string(res.InternalTrend)
			run.Status = JobStatusDone
			if err := s.store.FinishRun(ctx, run); err != nil {
				logger.Warnf("[scan] 回填任务失败: %v", err)
			}
			report.RunID = runID
		}
	}
	return report, nil
}

// SubmitBatch 异步提交批量扫描，立刻返回任务快照。
func (s *Service) SubmitBatch(params BatchParams) (BatchJob, error) {
	interval := strings.ToLower(strings.TrimSpace(params.Interval))
	if interval == "" {
		return BatchJob{}, fmt.Errorf("interval 不能为空")
	}
	if len(params.Symbols) == 0 && strings.TrimSpace(params.Quote) == "" {
		return BatchJob{}, fmt.Errorf("symbols 与 quote 至少填一个")
	}
	params.Interval = interval
	now := time.Now()
	job := &BatchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		StartedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	snap := job.copy()
	s.mu.Unlock()

	go s.runBatch(job.ID, params)
	return snap, nil
}

func (s *Service) runBatch(id string, params BatchParams) {
	ctx := context.Background()
	symbols := params.Symbols
	if len(symbols) == 0 {
		var err error
		symbols, err = s.src.ListSymbols(ctx, params.Quote)
		if err != nil {
			s.updateJob(id, func(j *BatchJob) {
				j.Status = JobStatusFailed
				j.Message = fmt.Sprintf("获取符号列表失败: %v", err)
			})
			return
		}
	}
	symbols = dedupeSymbols(symbols)
	if len(symbols) == 0 {
		s.updateJob(id, func(j *BatchJob) {
			j.Status = JobStatusFailed
			j.Message = "没有可扫描的符号"
		})
		return
	}

	s.updateJob(id, func(j *BatchJob) {
		j.Status = JobStatusRunning
		j.Total = len(symbols)
	})
	logger.Infof("[scan] 批量任务 %s 启动: %d 个符号 @%s", id, len(symbols), params.Interval)

	var eg errgroup.Group
	eg.SetLimit(s.workers)
	for _, sym := range symbols {
		sym := sym
		eg.Go(func() error {
			rep, err := s.ScanSymbol(ctx, Request{
				Symbol:         sym,
				Interval:       params.Interval,
				Limit:          params.Limit,
				SwingLength:    params.SwingLength,
				InternalLength: params.InternalLength,
			})
			s.updateJob(id, func(j *BatchJob) {
				if err != nil {
					j.Warnings = append(j.Warnings, fmt.Sprintf("%s: %v", sym, err))
					j.Summaries = append(j.Summaries, Summary{Symbol: sym, Error: err.Error()})
					return
				}
				j.Completed++
				j.Summaries = append(j.Summaries, Summary{
					Symbol:        sym,
					RunID:         rep.RunID,
					Bars:          rep.Bars,
					Events:        len(rep.Result.Events),
					SwingTrend:    string(rep.Result.SwingTrend),
					InternalTrend: string(rep.Result.InternalTrend),
				})
			})
			// 单符号失败不终止整批
			return nil
		})
	}
	_ = eg.Wait()

	s.updateJob(id, func(j *BatchJob) {
		sort.Slice(j.Summaries, func(a, b int) bool { return j.Summaries[a].Symbol < j.Summaries[b].Symbol })
		switch {
		case j.Completed == 0:
			j.Status = JobStatusFailed
			j.Message = "全部符号扫描失败"
		case j.Completed < j.Total:
			j.Status = JobStatusPartial
		default:
			j.Status = JobStatusDone
		}
	})
	if snap, ok := s.JobSnapshot(id); ok {
		logger.Infof("[scan] 批量任务 %s 结束: %s %d/%d", id, snap.Status, snap.Completed, snap.Total)
	}
}

func (s *Service) updateJob(id string, fn func(*BatchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = time.Now()
}

// JobSnapshot 返回任务的深拷贝快照。
func (s *Service) JobSnapshot(id string) (BatchJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return BatchJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 按启动时间倒序返回全部任务快照。
func (s *Service) JobsSnapshot() []BatchJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BatchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.After(out[b].StartedAt) })
	return out
}

func dedupeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		upper := strings.ToUpper(strings.TrimSpace(sym))
		if upper == "" {
			continue
		}
		if _, ok := seen[upper]; ok {
			continue
		}
		seen[upper] = struct{}{}
		out = append(out, upper)
	}
	return out
}
