package scanapi

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestWatchlistCRUD(t *testing.T) {
	srv := newTestServer(t, nil)
	base := "/api/structure/watchlists"

	// 初始为空
	rec := doJSON(t, srv, http.MethodGet, base, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("列表失败: %d", rec.Code)
	}
	var listResp struct {
		Watchlists []WatchlistResponse `json:"watchlists"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("解析列表失败: %v", err)
	}
	if len(listResp.Watchlists) != 0 {
		t.Fatalf("初始列表应为空: %+v", listResp.Watchlists)
	}

	// 创建
	rec = doJSON(t, srv, http.MethodPost, base, map[string]any{
		"name":    "majors",
		"symbols": []string{" btcusdt ", "ethusdt"},
		"quote":   "usdt", "interval": "4H",
		"swing_length": 30, "default": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("创建应 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// 读取并校验归一化
	rec = doJSON(t, srv, http.MethodGet, base+"/majors", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("读取失败: %d", rec.Code)
	}
	var wl WatchlistResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &wl); err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(wl.Symbols) != 2 || wl.Symbols[0] != "BTCUSDT" {
		t.Fatalf("符号未归一化: %+v", wl.Symbols)
	}
	if wl.Quote != "USDT" || wl.Interval != "4h" || wl.SwingLength != 30 || !wl.Default {
		t.Fatalf("字段异常: %+v", wl)
	}

	// 重名冲突
	if rec := doJSON(t, srv, http.MethodPost, base, map[string]any{"name": "majors"}); rec.Code != http.StatusConflict {
		t.Fatalf("重名应 409, got %d", rec.Code)
	}
	// 非法名称
	if rec := doJSON(t, srv, http.MethodPost, base, map[string]any{"name": "bad name!"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("非法名称应 400, got %d", rec.Code)
	}

	// 复制创建
	rec = doJSON(t, srv, http.MethodPost, base, map[string]any{"name": "majors_copy", "copy_from": "majors"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("复制创建失败: %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodGet, base+"/majors_copy", nil)
	var cp WatchlistResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &cp); err != nil {
		t.Fatalf("解析副本失败: %v", err)
	}
	if len(cp.Symbols) != 2 || cp.Default {
		t.Fatalf("副本应复制符号且不继承 default: %+v", cp)
	}
	if rec := doJSON(t, srv, http.MethodPost, base, map[string]any{"name": "x", "copy_from": "nope"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("复制源缺失应 400, got %d", rec.Code)
	}

	// 更新
	rec = doJSON(t, srv, http.MethodPut, base+"/majors", map[string]any{"interval": "1d", "default": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("更新失败: %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodGet, base+"/majors", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &wl); err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if wl.Interval != "1d" || len(wl.Symbols) != 2 {
		t.Fatalf("更新应保留未提交字段: %+v", wl)
	}
	if rec := doJSON(t, srv, http.MethodPut, base+"/nope", map[string]any{"interval": "1d"}); rec.Code != http.StatusNotFound {
		t.Fatalf("更新缺失项应 404, got %d", rec.Code)
	}

	// 删除
	if rec := doJSON(t, srv, http.MethodDelete, base+"/majors_copy", nil); rec.Code != http.StatusOK {
		t.Fatalf("删除失败: %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodDelete, base+"/majors_copy", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("重复删除应 404, got %d", rec.Code)
	}

	// 最终只剩 majors
	rec = doJSON(t, srv, http.MethodGet, base, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("解析列表失败: %v", err)
	}
	if len(listResp.Watchlists) != 1 || listResp.Watchlists[0].Name != "majors" {
		t.Fatalf("列表异常: %+v", listResp.Watchlists)
	}
}

func TestWatchlistGetMissing(t *testing.T) {
	srv := newTestServer(t, nil)
	if rec := doJSON(t, srv, http.MethodGet, "/api/structure/watchlists/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("缺失项应 404, got %d", rec.Code)
	}
}
