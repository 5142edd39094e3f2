package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"strux/internal/logger"
	"strux/internal/market"
)

// 单次 REST 请求最多 1500 根，超出部分分页拉取。
const maxKlineLimit = 1500

// Source 实现了 market.Source，负责 Binance 合约 REST/WS 接入。
type Source struct {
	cfg    Config
	client *futures.Client

	mu     sync.Mutex
	ws     *combinedStreamsClient
	cancel context.CancelFunc
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	cli := futures.NewClient("", "")
	cli.BaseURL = final.RESTBaseURL
	cli.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: cli}, nil
}

// FetchHistory 拉取最近 limit 根已收盘 K 线（升序）。
// limit 超过单页上限时按 EndTime 向前翻页，并按限频配置留出间隔。
func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}

	var out []market.Candle
	remaining := limit
	var endTime int64
	for remaining > 0 {
		page := remaining
		if page > maxKlineLimit {
			page = maxKlineLimit
		}
		svc := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(page)
		if endTime > 0 {
			svc = svc.EndTime(endTime)
		}
		logger.Debugf("[binance] klines %s %s limit=%d end=%d", symbol, interval, page, endTime)
		ks, err := svc.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
		}
		if len(ks) == 0 {
			break
		}
		batch := make([]market.Candle, 0, len(ks))
		for _, k := range ks {
			if k == nil {
				continue
			}
			batch = append(batch, market.Candle{
				OpenTime:  k.OpenTime,
				CloseTime: k.CloseTime,
				Open:      parseFloat(k.Open),
				High:      parseFloat(k.High),
				Low:       parseFloat(k.Low),
				Close:     parseFloat(k.Close),
				Volume:    parseFloat(k.Volume),
				Trades:    k.TradeNum,
			})
		}
		out = append(batch, out...)
		remaining -= len(batch)
		if len(ks) < page {
			break // 历史见底
		}
		endTime = ks[0].OpenTime - 1
		if remaining > 0 {
			if err := s.pace(ctx); err != nil {
				return nil, err
			}
		}
	}
	return market.Dedupe(out), nil
}

// ListSymbols 返回处于交易状态的永续合约交易对；quote 非空时按计价币过滤。
func (s *Source) ListSymbols(ctx context.Context, quote string) ([]string, error) {
	info, err := s.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance exchange info: %w", err)
	}
	quote = strings.ToUpper(strings.TrimSpace(quote))
	out := make([]string, 0, len(info.Symbols))
	for _, sym := range info.Symbols {
		if sym.Status != "TRADING" || sym.ContractType != "PERPETUAL" {
			continue
		}
		if quote != "" && !strings.EqualFold(sym.QuoteAsset, quote) {
			continue
		}
		out = append(out, strings.ToUpper(sym.Symbol))
	}
	return out, nil
}

// pace 按 RateLimitPerMin 在分页之间等待。
func (s *Source) pace(ctx context.Context) error {
	perMin := s.cfg.RateLimitPerMin
	if perMin <= 0 {
		return nil
	}
	gap := time.Minute / time.Duration(perMin)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(gap):
		return nil
	}
}

func (s *Source) Subscribe(ctx context.Context, symbols, intervals []string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	if len(symbols) == 0 || len(intervals) == 0 {
		return nil, fmt.Errorf("symbols and intervals are required for subscription")
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = s.cfg.WSBatchSize
	}
	ws := newCombinedStreamsClient(s.cfg.WSBaseURL, batch)
	ws.SetCallbacks(opts.OnConnect, opts.OnDisconnect)
	if err := ws.Connect(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.ws != nil {
		s.ws.Close()
	}
	s.ws = ws
	s.cancel = cancel
	s.mu.Unlock()

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 512
	}
	out := make(chan market.CandleEvent, buffer)
	var wg sync.WaitGroup

	nIntervals := normalizeIntervals(intervals)
	for _, sym := range symbols {
		upper := strings.ToUpper(strings.TrimSpace(sym))
		if upper == "" {
			continue
		}
		for _, iv := range nIntervals {
			stream := strings.ToLower(upper) + "@kline_" + iv
			sub := ws.AddSubscriber(stream, 200)
			wg.Add(1)
			go func(symbol, interval string, ch <-chan []byte) {
				defer wg.Done()
				s.forwardStream(subCtx, symbol, interval, ch, out)
			}(upper, iv, sub)
		}
	}
	for _, iv := range nIntervals {
		if err := ws.BatchSubscribeKlines(symbols, iv); err != nil {
			ws.Close()
			cancel()
			return nil, err
		}
	}

	go func() {
		<-subCtx.Done()
		ws.Close()
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (s *Source) forwardStream(ctx context.Context, symbol, interval string, stream <-chan []byte, out chan<- market.CandleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			var ev klineEvent
			if err := json.Unmarshal(msg, &ev); err != nil {
				logger.Warnf("[binance] 解码 WS 帧失败: %v", err)
				continue
			}
			c := market.Candle{
				OpenTime:  ev.Kline.StartTime,
				CloseTime: ev.Kline.CloseTime,
				Open:      ev.Kline.OpenPrice.Float(),
				High:      ev.Kline.HighPrice.Float(),
				Low:       ev.Kline.LowPrice.Float(),
				Close:     ev.Kline.ClosePrice.Float(),
				Volume:    ev.Kline.Volume.Float(),
				Trades:    int64(ev.Kline.NumberOfTrades),
			}
			event := market.CandleEvent{Symbol: symbol, Interval: interval, Candle: c, Final: ev.Kline.IsFinal}
			select {
			case out <- event:
			default:
				logger.Warnf("[binance] 事件通道已满，丢弃 %s %s", symbol, interval)
			}
		}
	}
}

func (s *Source) Stats() market.SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ws == nil {
		return market.SourceStats{}
	}
	return s.ws.Stats()
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.ws != nil {
		s.ws.Close()
		s.ws = nil
	}
	return nil
}

func normalizeIntervals(intervals []string) []string {
	out := make([]string, 0, len(intervals))
	for _, iv := range intervals {
		trimmed := strings.ToLower(strings.TrimSpace(iv))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

// klineEvent 是组合流推送的 kline 帧。
type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime      int64    `json:"t"`
		CloseTime      int64    `json:"T"`
		Symbol         string   `json:"s"`
		Interval       string   `json:"i"`
		OpenPrice      strOrNum `json:"o"`
		ClosePrice     strOrNum `json:"c"`
		HighPrice      strOrNum `json:"h"`
		LowPrice       strOrNum `json:"l"`
		Volume         strOrNum `json:"v"`
		NumberOfTrades int      `json:"n"`
		IsFinal        bool     `json:"x"`
		QuoteVolume    strOrNum `json:"q"`
	} `json:"k"`
}

type strOrNum string

func (s *strOrNum) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = strOrNum(v)
		return nil
	}
	*s = strOrNum(string(b))
	return nil
}

func (s strOrNum) Float() float64 {
	f, _ := strconv.ParseFloat(string(s), 64)
	return f
}
