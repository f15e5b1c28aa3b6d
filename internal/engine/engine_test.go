package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/betbot/lagbet/internal/detector"
	"github.com/betbot/lagbet/internal/domain"
	"github.com/betbot/lagbet/internal/execution"
	"github.com/betbot/lagbet/internal/ports"
	"github.com/betbot/lagbet/internal/position"
	"github.com/betbot/lagbet/internal/rotator"
)

// fakeFeed 手动派发 tick 的现货流
type fakeFeed struct {
	mu  sync.Mutex
	cbs map[string]ports.TickFunc
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{cbs: make(map[string]ports.TickFunc)}
}

func (f *fakeFeed) Subscribe(asset string, fn ports.TickFunc) (func(), error) {
	f.mu.Lock()
	f.cbs[asset] = fn
	f.mu.Unlock()
	return func() {}, nil
}

func (f *fakeFeed) Close() error { return nil }

func (f *fakeFeed) tick(asset string, price float64, at time.Time) {
	f.mu.Lock()
	cb := f.cbs[asset]
	f.mu.Unlock()
	if cb != nil {
		cb(asset, price, at)
	}
}

// fakeSource 固定候选的市场源
type fakeSource struct {
	candidates []domain.MarketCandidate
}

func (f *fakeSource) Query(context.Context, string, []string) ([]domain.MarketCandidate, error) {
	return f.candidates, nil
}

// fakeRecorder 记录平仓回调
type fakeRecorder struct {
	mu     sync.Mutex
	closed []domain.ClosedPosition
}

func (f *fakeRecorder) RecordClosed(c domain.ClosedPosition) error {
	f.mu.Lock()
	f.closed = append(f.closed, c)
	f.mu.Unlock()
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closed)
}

func testConfig() domain.Config {
	cfg := domain.Config{
		Assets:  []string{"BTC"},
		Windows: []int{15},
		DryRun:  true,
	}
	cfg.ApplyDefaults()
	return cfg
}

func btcCandidate(expiresAt time.Time) domain.MarketCandidate {
	return domain.MarketCandidate{
		Slug:        "btc-up-or-down-15m-test",
		ConditionID: "cond-1",
		Active:      true,
		ExpiresAt:   expiresAt,
		OutcomeTokens: []domain.OutcomeToken{
			{TokenID: "tok-up", Label: "Up", Price: 0.52},
			{TokenID: "tok-down", Label: "Down", Price: 0.48},
		},
	}
}

// newTestEngine 组装一台干跑引擎
func newTestEngine(cfg domain.Config, expiresAt time.Time) (*Engine, *fakeFeed, *position.Manager, *fakeRecorder) {
	feed := newFakeFeed()
	det := detector.New(cfg)
	rot := rotator.New(&fakeSource{candidates: []domain.MarketCandidate{btcCandidate(expiresAt)}}, cfg)
	pm := position.NewManager(cfg)
	rec := &fakeRecorder{}
	eng := New(cfg, Deps{
		Feed:      feed,
		Detector:  det,
		Rotator:   rot,
		Positions: pm,
		Executor:  execution.NewDryRunExecutor(),
		Recorder:  rec,
	})
	return eng, feed, pm, rec
}

// waitFor 轮询等待异步路径完成
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

// TestStartRequiresDeps 协作方缺失时返回配置错误
func TestStartRequiresDeps(t *testing.T) {
	eng := New(testConfig(), Deps{})
	err := eng.Start(context.Background())
	if err == nil {
		t.Fatal("缺协作方应返回错误")
	}
	var cfgErr *domain.ConfigError
	if !errorsAs(err, &cfgErr) {
		t.Errorf("应该是 ConfigError，实际 %T", err)
	}
}

func errorsAs(err error, target **domain.ConfigError) bool {
	e, ok := err.(*domain.ConfigError)
	if ok {
		*target = e
	}
	return ok
}

// TestEntryFlowDryRun 完整入场流：分歧信号 → 干跑成交 → 登记仓位
func TestEntryFlowDryRun(t *testing.T) {
	cfg := testConfig()
	eng, feed, pm, _ := newTestEngine(cfg, time.Now().Add(10*time.Minute))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer eng.Stop()

	// 等轮换器抓到市场
	if !waitFor(t, 2*time.Second, func() bool {
		_, ok := eng.deps.Rotator.Market("BTC")
		return ok
	}) {
		t.Fatal("轮换器未能拿到市场")
	}

	// 新鲜的二元报价 + 15 秒窗口内 0.2% 的现货移动
	base := time.Now()
	eng.deps.Detector.OnPolyTick("BTC", 0.52, base)
	feed.tick("BTC", 100000, base)
	feed.tick("BTC", 100200, base.Add(5*time.Second))

	if !waitFor(t, 2*time.Second, func() bool { return pm.OpenCount() == 1 }) {
		t.Fatal("应该开出一个仓位")
	}

	pos, ok := pm.OpenByAsset("BTC")
	if !ok {
		t.Fatal("BTC 仓位不存在")
	}
	if pos.Direction != domain.TokenTypeUp {
		t.Errorf("上行分歧应买 up 腿: %s", pos.Direction)
	}
	if pos.TokenID != "tok-up" {
		t.Errorf("token 错误: %s", pos.TokenID)
	}
	if pos.EntryPrice != 0.52 {
		t.Errorf("干跑入场价应为报价 0.52: %v", pos.EntryPrice)
	}
	// floor(10 / 0.52 × 100) / 100
	if pos.Shares != 19.23 {
		t.Errorf("份额应向下取到 0.01: %v", pos.Shares)
	}
	if pos.StrategyTag != "BTC_UP_s20+_w15" {
		t.Errorf("策略标签错误: %s", pos.StrategyTag)
	}
}

// TestEntryBlockedWhenInFlight 单飞闸：已有入场在途时不再开第二笔
func TestEntryBlockedWhenInFlight(t *testing.T) {
	cfg := testConfig()
	eng, feed, pm, _ := newTestEngine(cfg, time.Now().Add(10*time.Minute))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer eng.Stop()

	waitFor(t, 2*time.Second, func() bool {
		_, ok := eng.deps.Rotator.Market("BTC")
		return ok
	})

	eng.mu.Lock()
	eng.entryInFlight = true
	eng.mu.Unlock()

	base := time.Now()
	eng.deps.Detector.OnPolyTick("BTC", 0.52, base)
	feed.tick("BTC", 100000, base)
	feed.tick("BTC", 100200, base.Add(5*time.Second))

	time.Sleep(200 * time.Millisecond)
	if pm.OpenCount() != 0 {
		t.Error("单飞闸生效时不应开仓")
	}
}

// TestEntrySkipsNearExpiry 剩余时间不足 timeExitSec+30s 的市场不进
func TestEntrySkipsNearExpiry(t *testing.T) {
	cfg := testConfig()
	// timeExit 默认 120s，到期在 2 分钟内 → 不够
	eng, feed, pm, _ := newTestEngine(cfg, time.Now().Add(100*time.Second))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer eng.Stop()

	waitFor(t, 2*time.Second, func() bool {
		_, ok := eng.deps.Rotator.Market("BTC")
		return ok
	})

	base := time.Now()
	eng.deps.Detector.OnPolyTick("BTC", 0.52, base)
	feed.tick("BTC", 100000, base)
	feed.tick("BTC", 100200, base.Add(5*time.Second))

	time.Sleep(200 * time.Millisecond)
	if pm.OpenCount() != 0 {
		t.Error("临近到期的市场不应入场")
	}
}

// TestEntrySkipsSubOneShare 算出的份额不足 1 份时丢信号不下单
func TestEntrySkipsSubOneShare(t *testing.T) {
	cfg := testConfig()
	// 0.5 / 0.52 → floor 后 0.96 份
	cfg.DefaultSizeUsd = 0.5
	eng, feed, pm, _ := newTestEngine(cfg, time.Now().Add(10*time.Minute))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer eng.Stop()

	waitFor(t, 2*time.Second, func() bool {
		_, ok := eng.deps.Rotator.Market("BTC")
		return ok
	})

	base := time.Now()
	eng.deps.Detector.OnPolyTick("BTC", 0.52, base)
	feed.tick("BTC", 100000, base)
	feed.tick("BTC", 100200, base.Add(5*time.Second))

	time.Sleep(200 * time.Millisecond)
	if pm.OpenCount() != 0 {
		t.Error("不足 1 份的入场应被丢弃")
	}
}

// TestExitFlowTakeProfit 止盈出场：干跑平仓并回调记录器
func TestExitFlowTakeProfit(t *testing.T) {
	cfg := testConfig()
	eng, _, pm, rec := newTestEngine(cfg, time.Now().Add(10*time.Minute))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer eng.Stop()

	pos, err := pm.Open(position.OpenParams{
		Asset: "BTC", Direction: domain.TokenTypeUp, TokenID: "tok-up",
		MarketSlug: "btc-up-or-down-15m-test", Price: 0.40, Shares: 50,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}, time.Now())
	if err != nil {
		t.Fatalf("开仓失败: %v", err)
	}

	// +20% 触发止盈（默认 15%）
	pm.Tick(pos.ID, 0.48)

	if !waitFor(t, 3*time.Second, func() bool { return pm.OpenCount() == 0 }) {
		t.Fatal("止盈应在出场循环里被平掉")
	}

	history := pm.ClosedHistory()
	if len(history) != 1 {
		t.Fatalf("应有一条平仓记录: %d", len(history))
	}
	if history[0].ExitReason != domain.ExitReasonTakeProfit {
		t.Errorf("出场原因错误: %s", history[0].ExitReason)
	}
	if !waitFor(t, time.Second, func() bool { return rec.count() == 1 }) {
		t.Error("平仓应回调记录器")
	}
}

// TestUpdateConfigValidates 非法 patch 被拒，合法 patch 生效
func TestUpdateConfigValidates(t *testing.T) {
	cfg := testConfig()
	eng, _, _, _ := newTestEngine(cfg, time.Now().Add(10*time.Minute))

	bad := -1.0
	if _, err := eng.UpdateConfig(&domain.ConfigPatch{TakeProfitPct: &bad}); err == nil {
		t.Error("非法 patch 应被拒绝")
	}
	if eng.Config().TakeProfitPct != domain.DefaultTakeProfitPct {
		t.Error("被拒的 patch 不应改动配置")
	}

	tp := 20.0
	next, err := eng.UpdateConfig(&domain.ConfigPatch{TakeProfitPct: &tp})
	if err != nil {
		t.Fatalf("合法 patch 失败: %v", err)
	}
	if next.TakeProfitPct != 20.0 || eng.Config().TakeProfitPct != 20.0 {
		t.Error("patch 未生效")
	}
}

// TestStopIdempotent Stop 可重复调用，停止后 Running 为假
func TestStopIdempotent(t *testing.T) {
	cfg := testConfig()
	eng, _, _, _ := newTestEngine(cfg, time.Now().Add(10*time.Minute))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	eng.Stop()
	eng.Stop()
	if eng.Running() {
		t.Error("停止后 Running 应为假")
	}
}
