package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/betbot/lagbet/internal/detector"
	"github.com/betbot/lagbet/internal/domain"
	"github.com/betbot/lagbet/internal/engine"
	"github.com/betbot/lagbet/internal/execution"
	"github.com/betbot/lagbet/internal/journal"
	"github.com/betbot/lagbet/internal/ports"
	"github.com/betbot/lagbet/internal/position"
	"github.com/betbot/lagbet/internal/rotator"
)

type noopFeed struct{}

func (noopFeed) Subscribe(string, ports.TickFunc) (func(), error) { return func() {}, nil }
func (noopFeed) Close() error                                     { return nil }

type emptySource struct{}

func (emptySource) Query(context.Context, string, []string) ([]domain.MarketCandidate, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *position.Manager) {
	t.Helper()
	cfg := domain.Config{DryRun: true}
	cfg.ApplyDefaults()

	pm := position.NewManager(cfg)
	rot := rotator.New(emptySource{}, cfg)
	eng := engine.New(cfg, engine.Deps{
		Feed:      noopFeed{},
		Detector:  detector.New(cfg),
		Rotator:   rot,
		Positions: pm,
		Executor:  execution.NewDryRunExecutor(),
	})
	jnl, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("打开流水库失败: %v", err)
	}
	t.Cleanup(func() { jnl.Close() })

	return New(eng, pm, rot, jnl), pm
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// TestStatusEndpoint /api/status 返回运行态和配置
func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodGet, "/api/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("状态码错误: %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp["running"] != false {
		t.Error("未启动的引擎 running 应为 false")
	}
	if resp["dryRun"] != true {
		t.Error("dryRun 应为 true")
	}
}

// TestTokenAuth 设置 LAGBET_API_TOKEN 后无令牌请求被拒
func TestTokenAuth(t *testing.T) {
	t.Setenv("LAGBET_API_TOKEN", "secret-token")
	s, _ := newTestServer(t)
	r := s.Router()

	if w := doRequest(t, r, http.MethodGet, "/api/status", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("无令牌应 401: %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/status", "", map[string]string{"X-API-Token": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("错误令牌应 401: %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/status", "", map[string]string{"X-API-Token": "secret-token"}); w.Code != http.StatusOK {
		t.Errorf("正确令牌应放行: %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/status", "", map[string]string{"Authorization": "Bearer secret-token"}); w.Code != http.StatusOK {
		t.Errorf("Bearer 令牌应放行: %d", w.Code)
	}
	// healthz 不需要令牌
	if w := doRequest(t, r, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("healthz 不应要求令牌: %d", w.Code)
	}
}

// TestConfigPatch 合法 patch 生效，非法被拒且不改配置
func TestConfigPatch(t *testing.T) {
	s, _ := newTestServer(t)
	r := s.Router()

	w := doRequest(t, r, http.MethodPost, "/api/config", `{"takeProfitPct": 20}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("合法 patch 应 200: %d %s", w.Code, w.Body.String())
	}
	if s.engine.Config().TakeProfitPct != 20 {
		t.Error("patch 未生效")
	}

	w = doRequest(t, r, http.MethodPost, "/api/config", `{"takeProfitPct": -5}`, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("非法 patch 应 422: %d", w.Code)
	}
	if s.engine.Config().TakeProfitPct != 20 {
		t.Error("被拒的 patch 不应改配置")
	}

	w = doRequest(t, r, http.MethodPost, "/api/config", `{not json`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("坏 JSON 应 400: %d", w.Code)
	}
}

// TestPnlReset 归零端点返回归零前的值
func TestPnlReset(t *testing.T) {
	s, pm := newTestServer(t)
	r := s.Router()

	// 开一笔再亏一笔制造非零当日盈亏
	now := time.Unix(1765985400, 0)
	pos, err := pm.Open(position.OpenParams{
		Asset: "BTC", Direction: domain.TokenTypeUp, TokenID: "tok",
		MarketSlug: "m", Price: 0.40, Shares: 50,
		ExpiresAt: now.Add(10 * time.Minute),
	}, now)
	if err != nil {
		t.Fatalf("开仓失败: %v", err)
	}
	pm.Close(pos.ID, 0.30, domain.ExitReasonStopLoss, now.Add(time.Minute))

	w := doRequest(t, r, http.MethodPost, "/api/pnl/reset", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("归零应 200: %d", w.Code)
	}
	var resp map[string]float64
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["previousDailyPnlUsd"] != -5.0 {
		t.Errorf("归零前的值错误: %v", resp["previousDailyPnlUsd"])
	}
	if pm.DailyPnlUsd() != 0 {
		t.Error("归零后应为 0")
	}
}

// TestTradesFromJournal /api/trades 优先读流水库
func TestTradesFromJournal(t *testing.T) {
	s, _ := newTestServer(t)
	r := s.Router()

	s.journal.RecordClosed(domain.ClosedPosition{
		Position: domain.Position{
			ID: "pos-1", Asset: "BTC", Direction: domain.TokenTypeUp,
			MarketSlug: "m", EntryPrice: 0.40, Shares: 50,
			EnteredAt: time.Unix(1765985400, 0),
		},
		ExitPrice: 0.46, ExitReason: domain.ExitReasonTakeProfit,
		ExitedAt: time.Unix(1765985490, 0), PnlUsd: 3.0, PnlPct: 15,
	})

	w := doRequest(t, r, http.MethodGet, "/api/trades?limit=10", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("状态码错误: %d", w.Code)
	}
	var resp struct {
		Trades []journal.TradeRecord `json:"trades"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(resp.Trades) != 1 || resp.Trades[0].ID != "pos-1" {
		t.Errorf("流水读取错误: %+v", resp.Trades)
	}
}
