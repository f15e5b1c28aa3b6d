package rotator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/betbot/lagbet/internal/domain"
)

// fakeSource 可编程的市场源
type fakeSource struct {
	mu        sync.Mutex
	byAsset   map[string][]domain.MarketCandidate
	errAssets map[string]error
	queries   int
}

func (f *fakeSource) Query(_ context.Context, asset string, _ []string) ([]domain.MarketCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if err := f.errAssets[asset]; err != nil {
		return nil, err
	}
	return f.byAsset[asset], nil
}

func testConfig() domain.Config {
	cfg := domain.Config{
		Assets:            []string{"BTC", "ETH"},
		MarketDurationSec: 900,
	}
	cfg.ApplyDefaults()
	return cfg
}

func candidate(slug string, expiresAt time.Time) domain.MarketCandidate {
	return domain.MarketCandidate{
		Slug:        slug,
		ConditionID: "cond-" + slug,
		Question:    "Bitcoin Up or Down?",
		Active:      true,
		Closed:      false,
		ExpiresAt:   expiresAt,
		OutcomeTokens: []domain.OutcomeToken{
			{TokenID: slug + "-up", Label: "Up", Price: 0.52},
			{TokenID: slug + "-down", Label: "Down", Price: 0.48},
		},
	}
}

// TestRefreshKeepsEarliestExpiry 多个候选时保留最早到期的
func TestRefreshKeepsEarliestExpiry(t *testing.T) {
	now := time.Unix(1765985400, 0)
	src := &fakeSource{byAsset: map[string][]domain.MarketCandidate{
		"BTC": {
			candidate("btc-late", now.Add(14*time.Minute)),
			candidate("btc-early", now.Add(9*time.Minute)),
		},
	}}
	r := New(src, testConfig())
	r.Refresh(context.Background(), now)

	m, ok := r.Market("BTC")
	if !ok {
		t.Fatal("应该持有 BTC 市场")
	}
	if m.Slug != "btc-early" {
		t.Errorf("应该保留最早到期的市场，实际 %s", m.Slug)
	}
	if m.UpAssetID != "btc-early-up" || m.DownAssetID != "btc-early-down" {
		t.Errorf("up/down token 解析错误: %+v", m)
	}
}

// TestRefreshFiltersCandidates 过滤：不活跃、已关闭、token 数不对、到期超窗
func TestRefreshFiltersCandidates(t *testing.T) {
	now := time.Unix(1765985400, 0)

	inactive := candidate("btc-inactive", now.Add(5*time.Minute))
	inactive.Active = false
	closed := candidate("btc-closed", now.Add(5*time.Minute))
	closed.Closed = true
	badTokens := candidate("btc-one-leg", now.Add(5*time.Minute))
	badTokens.OutcomeTokens = badTokens.OutcomeTokens[:1]
	tooFar := candidate("btc-next-round", now.Add(40*time.Minute))
	expired := candidate("btc-expired", now.Add(-1*time.Minute))

	src := &fakeSource{byAsset: map[string][]domain.MarketCandidate{
		"BTC": {inactive, closed, badTokens, tooFar, expired},
	}}
	r := New(src, testConfig())
	r.Refresh(context.Background(), now)

	if _, ok := r.Market("BTC"); ok {
		t.Error("全部候选都应被过滤掉")
	}
}

// TestRefreshIsolatesAssetFailure 单资产查询失败不影响其他资产
func TestRefreshIsolatesAssetFailure(t *testing.T) {
	now := time.Unix(1765985400, 0)
	src := &fakeSource{
		byAsset: map[string][]domain.MarketCandidate{
			"ETH": {candidate("eth-ok", now.Add(10*time.Minute))},
		},
		errAssets: map[string]error{"BTC": errors.New("gamma 超时")},
	}
	r := New(src, testConfig())
	r.Refresh(context.Background(), now)

	if _, ok := r.Market("BTC"); ok {
		t.Error("BTC 查询失败不应持有市场")
	}
	if _, ok := r.Market("ETH"); !ok {
		t.Error("BTC 失败不应影响 ETH")
	}
}

// TestUpdatePriceInPlace 价格原地更新，其余字段不动
func TestUpdatePriceInPlace(t *testing.T) {
	now := time.Unix(1765985400, 0)
	src := &fakeSource{byAsset: map[string][]domain.MarketCandidate{
		"BTC": {candidate("btc-m", now.Add(10*time.Minute))},
	}}
	r := New(src, testConfig())
	r.Refresh(context.Background(), now)

	r.UpdatePrice("btc-m", 0.61, 0.39)
	m, _ := r.Market("BTC")
	if m.UpPrice != 0.61 || m.DownPrice != 0.39 {
		t.Errorf("价格未更新: up=%v down=%v", m.UpPrice, m.DownPrice)
	}
	if m.UpAssetID != "btc-m-up" {
		t.Error("UpdatePrice 不应改动 token 字段")
	}

	// 0 表示该侧不变
	r.UpdatePrice("btc-m", 0.63, 0)
	m, _ = r.Market("BTC")
	if m.UpPrice != 0.63 || m.DownPrice != 0.39 {
		t.Errorf("单侧更新错误: up=%v down=%v", m.UpPrice, m.DownPrice)
	}
}

// TestMaybeRefreshDebounce 槽位变化的刷新有 10s 防抖
func TestMaybeRefreshDebounce(t *testing.T) {
	now := time.Unix(1765985400, 0)
	src := &fakeSource{byAsset: map[string][]domain.MarketCandidate{}}
	cfg := testConfig()
	cfg.Assets = []string{"BTC"}
	r := New(src, cfg)

	// 第一次：没有市场 → 刷新
	r.maybeRefresh(context.Background(), now)
	first := src.queries

	// 2 秒后槽位抖动（lastSlot 没变也没市场）→ 防抖挡住
	r.maybeRefresh(context.Background(), now.Add(2*time.Second))
	if src.queries != first {
		t.Errorf("防抖窗口内不应再次刷新: %d → %d", first, src.queries)
	}

	// 11 秒后 → 允许
	r.maybeRefresh(context.Background(), now.Add(11*time.Second))
	if src.queries == first {
		t.Error("防抖窗口过后应该允许刷新")
	}
}

// TestStopIdempotent Stop 可重复调用
func TestStopIdempotent(t *testing.T) {
	src := &fakeSource{byAsset: map[string][]domain.MarketCandidate{}}
	r := New(src, testConfig())
	r.Start(context.Background())
	r.Stop()
	r.Stop()
}
