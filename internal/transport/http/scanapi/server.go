// Package scanapi 提供结构扫描的 Gin 接口：同步/批量扫描、事件与任务查询、
// 图表页，以及 watchlist 预设的增删改查。
package scanapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"strux/internal/analysis/indicator"
	"strux/internal/analysis/structure"
	"strux/internal/config"
	"strux/internal/logger"
	"strux/internal/render"
	"strux/internal/scan"
	"strux/internal/store"
	"strux/internal/transport/http/scanapi/ui"
)

type HTTPServer struct {
	addr       string
	svc        *scan.Service
	store      *store.StructureStore
	watchlists *config.WatchlistWriter
	chartTheme string
	router     *gin.Engine
	indexHTML  []byte
}

type HTTPConfig struct {
	Addr string
	Svc  *scan.Service
	// Store 可为 nil：此时 events/runs/candles 查询返回 503
	Store *store.StructureStore
	// Watchlists 可为 nil：不挂载 watchlist 路由
	Watchlists *config.WatchlistWriter
	ChartTheme string
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}

	staticFS, err := ui.StaticFS()
	if err != nil {
		return nil, fmt.Errorf("加载控制台静态资源失败: %w", err)
	}
	indexHTML, err := ui.Index()
	if err != nil {
		return nil, fmt.Errorf("加载控制台首页失败: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.StaticFS("/static", staticFS)

	s := &HTTPServer{
		addr:       cfg.Addr,
		svc:        cfg.Svc,
		store:      cfg.Store,
		watchlists: cfg.Watchlists,
		chartTheme: cfg.ChartTheme,
		router:     router,
		indexHTML:  indexHTML,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	s.router.GET("/", s.handleIndex)
	api := s.router.Group("/api/structure")
	api.POST("/scan", s.handleScan)
	api.GET("/channels", s.handleChannels)
	api.POST("/batch", s.handleBatch)
	api.GET("/batch/:id", s.handleBatchStatus)
	api.GET("/jobs", s.handleJobs)
	api.GET("/events", s.handleEvents)
	api.GET("/runs", s.handleRuns)
	api.GET("/candles", s.handleCandles)
	api.GET("/chart", s.handleChart)
	if s.watchlists != nil {
		NewWatchlistRouter(s.watchlists).Register(api.Group("/watchlists"))
	}
}

func (s *HTTPServer) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", s.indexHTML)
}

func (s *HTTPServer) handleScan(c *gin.Context) {
	var req struct {
		Symbol         string `json:"symbol" binding:"required"`
		Interval       string `json:"interval"`
		Limit          int    `json:"limit"`
		SwingLength    int    `json:"swing_length"`
		InternalLength int    `json:"internal_length"`
		Channels       bool   `json:"channels"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rep, err := s.svc.ScanSymbol(c.Request.Context(), scan.Request{
		Symbol:         req.Symbol,
		Interval:       req.Interval,
		Limit:          req.Limit,
		SwingLength:    req.SwingLength,
		InternalLength: req.InternalLength,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"report": rep}
	if req.Channels {
		resp["channels"] = channelsJSON(structure.BuildChannels(rep.Result, rep.Bars))
	}
	c.JSON(http.StatusOK, resp)
}

// handleChannels 按查询参数跑一遍扫描，只回通道矩阵，供图表前端直接取数。
func (s *HTTPServer) handleChannels(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 必填"})
		return
	}
	limit, swing, internal, ok := s.scanParams(c)
	if !ok {
		return
	}
	rep, err := s.svc.ScanSymbol(c.Request.Context(), scan.Request{
		Symbol:         symbol,
		Interval:       c.Query("interval"),
		Limit:          limit,
		SwingLength:    swing,
		InternalLength: internal,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   rep.Symbol,
		"interval": rep.Interval,
		"bars":     rep.Bars,
		"channels": channelsJSON(structure.BuildChannels(rep.Result, rep.Bars)),
	})
}

func (s *HTTPServer) handleBatch(c *gin.Context) {
	var req struct {
		Symbols        []string `json:"symbols"`
		Quote          string   `json:"quote"`
		Interval       string   `json:"interval"`
		Limit          int      `json:"limit"`
		SwingLength    int      `json:"swing_length"`
		InternalLength int      `json:"internal_length"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.svc.SubmitBatch(scan.BatchParams{
		Symbols:        req.Symbols,
		Quote:          req.Quote,
		Interval:       req.Interval,
		Limit:          req.Limit,
		SwingLength:    req.SwingLength,
		InternalLength: req.InternalLength,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *HTTPServer) handleBatchStatus(c *gin.Context) {
	id := c.Param("id")
	job, ok := s.svc.JobSnapshot(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *HTTPServer) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.svc.JobsSnapshot()})
}

func (s *HTTPServer) handleEvents(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未启用持久化存储"})
		return
	}
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}
	rows, err := s.store.ListEvents(c.Request.Context(), c.Query("symbol"), c.Query("interval"), limit)
	if err != nil {
		logger.Errorf("[scan-api] list events failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

func (s *HTTPServer) handleRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未启用持久化存储"})
		return
	}
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}
	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[scan-api] list runs failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleCandles(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未启用持久化存储"})
		return
	}
	symbol := c.Query("symbol")
	interval := c.Query("interval")
	if symbol == "" || interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/interval 必填"})
		return
	}
	limit, ok := intQuery(c, "limit", 200)
	if !ok {
		return
	}
	data, err := s.store.LoadCandles(c.Request.Context(), symbol, interval, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

// handleChart 扫描后直接渲染 echarts 页面返回。
func (s *HTTPServer) handleChart(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 必填"})
		return
	}
	limit, swing, internal, ok := s.scanParams(c)
	if !ok {
		return
	}
	rep, err := s.svc.ScanSymbol(c.Request.Context(), scan.Request{
		Symbol:         symbol,
		Interval:       c.Query("interval"),
		Limit:          limit,
		SwingLength:    swing,
		InternalLength: internal,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	theme := c.DefaultQuery("theme", s.chartTheme)
	var buf bytes.Buffer
	err = render.RenderHTML(render.Input{
		Symbol:   rep.Symbol,
		Interval: rep.Interval,
		Theme:    theme,
		Subtitle: chartSubtitle(rep),
		Candles:  rep.Candles,
		Result:   rep.Result,
		EMAFast:  indicator.ComputeEMASeries(rep.Candles, 21),
		EMASlow:  indicator.ComputeEMASeries(rep.Candles, 55),
	}, &buf)
	if err != nil {
		logger.Errorf("[scan-api] render chart failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func chartSubtitle(rep *scan.Report) string {
	return "swing " + string(rep.Result.SwingTrend) +
		" · internal " + string(rep.Result.InternalTrend) +
		" · ema " + rep.Context.EMAState +
		" · rsi " + strconv.FormatFloat(rep.Context.RSI, 'f', 1, 64) + " " + rep.Context.RSIState
}

func (s *HTTPServer) scanParams(c *gin.Context) (limit, swing, internal int, ok bool) {
	if limit, ok = intQuery(c, "limit", 0); !ok {
		return
	}
	if swing, ok = intQuery(c, "swing", 0); !ok {
		return
	}
	internal, ok = intQuery(c, "internal", 0)
	return
}

func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " 非法"})
		return 0, false
	}
	return v, true
}

// channelsJSON 把 NaN 占位转成 null，JSON 不接受 NaN。
func channelsJSON(m structure.ChannelMap) map[string][]*float64 {
	out := make(map[string][]*float64, len(m))
	for name, vals := range m {
		col := make([]*float64, len(vals))
		for i, v := range vals {
			if v == v {
				vv := v
				col[i] = &vv
			}
		}
		out[name] = col
	}
	return out
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[scan-api] listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
