package scanapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"strux/internal/config"
	"strux/internal/logger"
)

// WatchlistRouter 管理批量扫描预设（watchlists.yaml）的增删改查。
type WatchlistRouter struct {
	writer *config.WatchlistWriter
}

func NewWatchlistRouter(w *config.WatchlistWriter) *WatchlistRouter {
	return &WatchlistRouter{writer: w}
}

func (r *WatchlistRouter) Register(group *gin.RouterGroup) {
	group.GET("", r.handleList)
	group.GET("/:name", r.handleGet)
	group.POST("", r.handleCreate)
	group.PUT("/:name", r.handleUpdate)
	group.DELETE("/:name", r.handleDelete)
}

type WatchlistResponse struct {
	Name           string   `json:"name"`
	Symbols        []string `json:"symbols,omitempty"`
	Quote          string   `json:"quote,omitempty"`
	Interval       string   `json:"interval,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	SwingLength    int      `json:"swing_length,omitempty"`
	InternalLength int      `json:"internal_length,omitempty"`
	Default        bool     `json:"default"`
}

type WatchlistUpsertRequest struct {
	Symbols        []string `json:"symbols"`
	Quote          string   `json:"quote"`
	Interval       string   `json:"interval"`
	Limit          int      `json:"limit"`
	SwingLength    int      `json:"swing_length"`
	InternalLength int      `json:"internal_length"`
	Default        bool     `json:"default"`
}

type WatchlistCreateRequest struct {
	Name     string `json:"name" binding:"required"`
	CopyFrom string `json:"copy_from"`
	WatchlistUpsertRequest
}

func (r *WatchlistRouter) handleList(c *gin.Context) {
	cfg, err := r.writer.Read()
	if err != nil {
		logger.Errorf("[scan-api] list watchlists failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	names := make([]string, 0, len(cfg.Watchlists))
	for name := range cfg.Watchlists {
		names = append(names, name)
	}
	sort.Strings(names)
	list := make([]WatchlistResponse, 0, len(names))
	for _, name := range names {
		list = append(list, entryToResponse(name, cfg.Watchlists[name]))
	}
	c.JSON(http.StatusOK, gin.H{"watchlists": list})
}

func (r *WatchlistRouter) handleGet(c *gin.Context) {
	name := c.Param("name")
	wl, err := r.writer.Get(name)
	if err != nil {
		if strings.Contains(err.Error(), "不存在") {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, entryToResponse(name, *wl))
}

func (r *WatchlistRouter) handleCreate(c *gin.Context) {
	var req WatchlistCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "watchlist 名称不能为空"})
		return
	}
	for _, ch := range name {
		if !((ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_') {
			c.JSON(http.StatusBadRequest, gin.H{"error": "watchlist 名称只能包含字母、数字和下划线"})
			return
		}
	}

	cfg, err := r.writer.Read()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, exists := cfg.Watchlists[name]; exists {
		c.JSON(http.StatusConflict, gin.H{"error": "watchlist 已存在"})
		return
	}

	var entry config.Watchlist
	if req.CopyFrom != "" {
		source, ok := cfg.Watchlists[req.CopyFrom]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "源 watchlist 不存在"})
			return
		}
		entry = source
		entry.Default = false
	} else {
		entry = config.Watchlist{Quote: "USDT", Interval: "1h"}
	}
	applyUpsert(&entry, req.WatchlistUpsertRequest)

	if err := r.writer.Update(name, entry); err != nil {
		logger.Errorf("[scan-api] create watchlist failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[scan-api] watchlist '%s' created by %s", name, c.ClientIP())
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Watchlist 已创建", "name": name})
}

func (r *WatchlistRouter) handleUpdate(c *gin.Context) {
	name := c.Param("name")
	var req WatchlistUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	existing, err := r.writer.Get(name)
	if err != nil {
		if strings.Contains(err.Error(), "不存在") {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	applyUpsert(existing, req)

	if err := r.writer.Update(name, *existing); err != nil {
		logger.Errorf("[scan-api] update watchlist failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[scan-api] watchlist '%s' updated by %s", name, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Watchlist 已更新"})
}

func (r *WatchlistRouter) handleDelete(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 watchlist 名称"})
		return
	}
	if err := r.writer.Delete(name); err != nil {
		logger.Errorf("[scan-api] delete watchlist failed: %v", err)
		if strings.Contains(err.Error(), "不存在") {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	logger.Infof("[scan-api] watchlist '%s' deleted by %s", name, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Watchlist 已删除"})
}

// applyUpsert 把请求里给出的字段套到预设上；Default 总是取请求值。
func applyUpsert(entry *config.Watchlist, req WatchlistUpsertRequest) {
	if len(req.Symbols) > 0 {
		entry.Symbols = normalizeSymbols(req.Symbols)
	}
	if req.Quote != "" {
		entry.Quote = strings.ToUpper(strings.TrimSpace(req.Quote))
	}
	if req.Interval != "" {
		entry.Interval = strings.ToLower(strings.TrimSpace(req.Interval))
	}
	if req.Limit > 0 {
		entry.Limit = req.Limit
	}
	if req.SwingLength > 0 {
		entry.SwingLength = req.SwingLength
	}
	if req.InternalLength > 0 {
		entry.InternalLength = req.InternalLength
	}
	entry.Default = req.Default
}

func entryToResponse(name string, wl config.Watchlist) WatchlistResponse {
	return WatchlistResponse{
		Name:           name,
		Symbols:        wl.Symbols,
		Quote:          wl.Quote,
		Interval:       wl.Interval,
		Limit:          wl.Limit,
		SwingLength:    wl.SwingLength,
		InternalLength: wl.InternalLength,
		Default:        wl.Default,
	}
}

func normalizeSymbols(symbols []string) []string {
	var out []string
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
