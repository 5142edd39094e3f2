// Package watch 实时盯盘：订阅 K 线收线事件，在滚动窗口上重跑结构检测，
// 只把新出现的结构事件往外报。
package watch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"strux/internal/analysis/structure"
	"strux/internal/logger"
	"strux/internal/market"
	"strux/internal/store"
)

// Notifier 接收新检测出的结构事件；回撤指未确认区间里曾报出、重算后消失的事件。
type Notifier interface {
	StructureEvent(symbol, interval string, ev structure.BreakEvent, lastClose float64)
	StructureRetraction(symbol, interval string, ev structure.BreakEvent)
}

type Params struct {
	Source   market.Source
	Store    *store.MemoryKlineStore
	Symbols  []string
	Interval string
	Window   int // 滚动窗口保留的根数，默认 600
	Engine   structure.Options
	Notifier Notifier
}

// eventKey 用时间戳而不是下标标识事件：窗口滚动后下标会整体平移。
type eventKey struct {
	level     structure.Level
	kind      structure.BreakKind
	direction structure.Direction
	pivotTime int64
	breakTime int64
	price     float64
}

type Monitor struct {
	src      market.Source
	ks       *store.MemoryKlineStore
	symbols  []string
	interval string
	window   int
	engine   *structure.Engine
	notifier Notifier

	mu      sync.RWMutex
	seen    map[string]map[eventKey]structure.BreakEvent
	results map[string]structure.Result
}

func NewMonitor(p Params) (*Monitor, error) {
	if p.Source == nil {
		return nil, fmt.Errorf("source 不能为空")
	}
	if len(p.Symbols) == 0 {
		return nil, fmt.Errorf("symbols 不能为空")
	}
	symbols := make([]string, 0, len(p.Symbols))
	for _, s := range p.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	interval := strings.ToLower(strings.TrimSpace(p.Interval))
	if interval == "" {
		interval = "1m"
	}
	if p.Window <= 0 {
		p.Window = 600
	}
	eng, err := structure.NewEngine(p.Engine, nil)
	if err != nil {
		return nil, err
	}
	ks := p.Store
	if ks == nil {
		ks = store.NewMemoryKlineStore()
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = logNotifier{}
	}
	return &Monitor{
		src:      p.Source,
		ks:       ks,
		symbols:  symbols,
		interval: interval,
		window:   p.Window,
		engine:   eng,
		notifier: notifier,
		seen:     make(map[string]map[eventKey]structure.BreakEvent),
		results:  make(map[string]structure.Result),
	}, nil
}

// Start 预热历史窗口后订阅实时 K 线，消费循环随 ctx 结束。
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("monitor 未初始化")
	}
	m.warmup(ctx)

	stream, err := m.src.Subscribe(ctx, m.symbols, []string{m.interval}, market.SubscribeOptions{
		Buffer: 2048,
		OnConnect: func() {
			logger.Infof("[watch] WS 已连接，订阅 %d 个符号 @ %s", len(m.symbols), m.interval)
		},
		OnDisconnect: func(err error) {
			if err != nil {
				logger.Errorf("[watch] WS 断线: %v", err)
			} else {
				logger.Errorf("[watch] WS 断线")
			}
		},
	})
	if err != nil {
		return fmt.Errorf("订阅实时行情失败: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-stream:
				if !ok {
					return
				}
				m.onCandle(ctx, ev)
			}
		}
	}()
	return nil
}

// warmup 拉历史填满窗口，并把已有事件记为"见过"，启动时不重报历史。
func (m *Monitor) warmup(ctx context.Context) {
	for _, symbol := range m.symbols {
		candles, err := m.src.FetchHistory(ctx, symbol, m.interval, m.window)
		if err != nil {
			logger.Warnf("[watch] %s 预热失败，等待实时数据补齐: %v", symbol, err)
			continue
		}
		if err := m.ks.Set(ctx, symbol, m.interval, candles); err != nil {
			logger.Warnf("[watch] %s 写入窗口失败: %v", symbol, err)
			continue
		}
		res, err := m.engine.Detect(candles)
		if err != nil {
			logger.Warnf("[watch] %s 预热检测失败: %v", symbol, err)
			continue
		}
		seen := make(map[eventKey]structure.BreakEvent, len(res.Events))
		for _, ev := range res.Events {
			seen[keyOf(ev, candles)] = ev
		}
		m.mu.Lock()
		m.seen[symbol] = seen
		m.results[symbol] = res
		m.mu.Unlock()
		logger.Infof("[watch] %s 预热完成: %d 根, 已有事件 %d, swing=%s internal=%s",
			symbol, len(candles), len(res.Events), res.SwingTrend, res.InternalTrend)
	}
}

func (m *Monitor) onCandle(ctx context.Context, evt market.CandleEvent) {
	if m == nil {
		return
	}
	// 只在收线后重算，盘中波动不算数
	if !evt.Final {
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(evt.Symbol))
	if symbol == "" {
		return
	}
	if err := m.ks.Put(ctx, symbol, m.interval, []market.Candle{evt.Candle}, m.window); err != nil {
		logger.Warnf("[watch] %s 更新窗口失败: %v", symbol, err)
		return
	}
	candles, err := m.ks.Get(ctx, symbol, m.interval)
	if err != nil || len(candles) == 0 {
		return
	}
	res, err := m.engine.Detect(candles)
	if err != nil {
		logger.Warnf("[watch] %s 检测失败: %v", symbol, err)
		return
	}
	m.diffAndNotify(symbol, candles, res, evt.Candle.Close)
}

func (m *Monitor) diffAndNotify(symbol string, candles []market.Candle, res structure.Result, lastClose float64) {
	cur := make(map[eventKey]structure.BreakEvent, len(res.Events))
	for _, ev := range res.Events {
		cur[keyOf(ev, candles)] = ev
	}
	windowStart := candles[0].OpenTime

	var fresh, gone []structure.BreakEvent
	m.mu.Lock()
	prev := m.seen[symbol]
	prevResult, hadResult := m.results[symbol]
	for k, ev := range cur {
		if _, ok := prev[k]; !ok {
			fresh = append(fresh, ev)
		}
	}
	for k, old := range prev {
		if _, ok := cur[k]; ok {
			continue
		}
		// 滚出窗口的事件静默丢弃；仍在窗口内却消失的才是回撤
		if k.breakTime >= windowStart {
			gone = append(gone, old)
		}
	}
	m.seen[symbol] = cur
	m.results[symbol] = res
	m.mu.Unlock()

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].BreakIndex < fresh[j].BreakIndex })
	for _, ev := range fresh {
		m.notifier.StructureEvent(symbol, m.interval, ev, lastClose)
	}
	for _, ev := range gone {
		m.notifier.StructureRetraction(symbol, m.interval, ev)
	}
	if hadResult {
		if prevResult.SwingTrend != res.SwingTrend {
			logger.Infof("[watch] %s swing 趋势翻转: %s -> %s", symbol, prevResult.SwingTrend, res.SwingTrend)
		}
		if prevResult.InternalTrend != res.InternalTrend {
			logger.Infof("[watch] %s internal 趋势翻转: %s -> %s", symbol, prevResult.InternalTrend, res.InternalTrend)
		}
	}
}

func keyOf(ev structure.BreakEvent, candles []market.Candle) eventKey {
	k := eventKey{
		level:     ev.Level,
		kind:      ev.Kind,
		direction: ev.Direction,
		price:     ev.Price,
	}
	if ev.PivotIndex >= 0 && ev.PivotIndex < len(candles) {
		k.pivotTime = candles[ev.PivotIndex].OpenTime
	}
	if ev.BreakIndex >= 0 && ev.BreakIndex < len(candles) {
		k.breakTime = candles[ev.BreakIndex].OpenTime
	}
	return k
}

// LatestResult 返回指定符号最近一次检测结果的拷贝。
func (m *Monitor) LatestResult(symbol string) (structure.Result, bool) {
	if m == nil {
		return structure.Result{}, false
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	m.mu.RLock()
	res, ok := m.results[symbol]
	m.mu.RUnlock()
	if !ok {
		return structure.Result{}, false
	}
	out := res
	out.Events = append([]structure.BreakEvent(nil), res.Events...)
	out.Pivots = append([]structure.Pivot(nil), res.Pivots...)
	return out, true
}

func (m *Monitor) Stats() market.SourceStats {
	if m == nil || m.src == nil {
		return market.SourceStats{}
	}
	return m.src.Stats()
}

func (m *Monitor) Close() {
	if m == nil || m.src == nil {
		return
	}
	_ = m.src.Close()
}

// logNotifier 默认通知器，直接写日志。
type logNotifier struct{}

func (logNotifier) StructureEvent(symbol, interval string, ev structure.BreakEvent, lastClose float64) {
	logger.Infof("[watch] %s %s 新结构事件: %s %s %s pivot=%d break=%d price=%v close=%v",
		symbol, interval, ev.Level, ev.Kind, ev.Direction, ev.PivotIndex, ev.BreakIndex, ev.Price, lastClose)
}

func (logNotifier) StructureRetraction(symbol, interval string, ev structure.BreakEvent) {
	logger.Warnf("[watch] %s %s 结构事件回撤: %s %s %s price=%v",
		symbol, interval, ev.Level, ev.Kind, ev.Direction, ev.Price)
}
