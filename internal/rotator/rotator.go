package rotator

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/lagbet/internal/common"
	"github.com/betbot/lagbet/internal/domain"
	"github.com/betbot/lagbet/internal/ports"
	"github.com/betbot/lagbet/pkg/logger"
	"github.com/betbot/lagbet/pkg/marketspec"
)

const (
	// refreshDebounce 槽位变化触发刷新的最小间隔
	// 槽位抖动或失败重试都不会让刷新频率超过它
	refreshDebounce = 10 * time.Second
	// pollInterval 槽位检查周期
	pollInterval = 1 * time.Second
	// expiryGrace 到期过滤的宽限：只接受 [now, now+duration+grace] 内到期的市场
	expiryGrace = 60 * time.Second
)

var log = logger.WithField("component", "rotator")

// Rotator 市场轮换器
// 每个跟踪资产维持恰好一个当前轮次的二元市场，围绕轮次边界刷新；
// 刷新时整体替换快照，轮换间隔内只有价格字段原地更新
type Rotator struct {
	mu sync.Mutex

	source  ports.MarketSource
	cfg     domain.Config
	markets map[string]*domain.Market // 资产 → 当前市场

	lastSlot int64 // 最近观察到的槽位（-1 表示还没观察过）
	debounce *common.Debouncer

	loopOnce   sync.Once
	loopCancel context.CancelFunc
	stopped    bool
}

func New(source ports.MarketSource, cfg domain.Config) *Rotator {
	return &Rotator{
		source:   source,
		cfg:      cfg.Clone(),
		markets:  make(map[string]*domain.Market),
		lastSlot: -1,
		debounce: common.NewDebouncer(refreshDebounce),
	}
}

// SetConfig 热更新配置（资产列表、轮次时长的变化在下一次刷新生效）
func (r *Rotator) SetConfig(cfg domain.Config) {
	r.mu.Lock()
	r.cfg = cfg.Clone()
	r.mu.Unlock()
}

// CurrentSlot 当前槽位 = floor(unix / marketDurationSec)
func (r *Rotator) CurrentSlot(now time.Time) int64 {
	r.mu.Lock()
	dur := int64(r.cfg.MarketDurationSec)
	r.mu.Unlock()
	if dur <= 0 {
		return 0
	}
	return now.Unix() / dur
}

// Start 启动槽位检查循环；重复调用无效果
func (r *Rotator) Start(ctx context.Context) {
	common.StartLoopOnce(ctx, &r.loopOnce, func(c context.CancelFunc) {
		r.mu.Lock()
		r.loopCancel = c
		r.mu.Unlock()
	}, pollInterval, func(loopCtx context.Context, tickC <-chan time.Time) {
		// 启动即刷新一次（还没有市场时不等槽位变化）
		r.maybeRefresh(loopCtx, time.Now())
		for {
			select {
			case <-loopCtx.Done():
				return
			case now := <-tickC:
				r.maybeRefresh(loopCtx, now)
			}
		}
	})
}

// Stop 停止轮换器；幂等，不留下悬挂的定时器
func (r *Rotator) Stop() {
	r.mu.Lock()
	cancel := r.loopCancel
	r.loopCancel = nil
	r.stopped = true
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// maybeRefresh 槽位防抖闸：槽位变化或还没有市场时刷新，
// 但无论如何不超过 refreshDebounce 一次
func (r *Rotator) maybeRefresh(ctx context.Context, now time.Time) {
	r.mu.Lock()
	slot := int64(0)
	if r.cfg.MarketDurationSec > 0 {
		slot = now.Unix() / int64(r.cfg.MarketDurationSec)
	}
	need := slot != r.lastSlot || len(r.markets) < len(r.cfg.Assets)
	r.mu.Unlock()

	if !need {
		return
	}
	if ready, _ := r.debounce.Ready(now); !ready {
		return
	}
	r.debounce.Mark(now)

	r.Refresh(ctx, now)

	r.mu.Lock()
	r.lastSlot = slot
	r.mu.Unlock()
}

// Refresh 对每个跟踪资产查询市场源并替换当前市场
// 单个资产失败只记日志跳过，不中断其他资产
func (r *Rotator) Refresh(ctx context.Context, now time.Time) {
	r.mu.Lock()
	cfg := r.cfg.Clone()
	r.mu.Unlock()

	for _, asset := range cfg.Assets {
		m, err := r.fetchOne(ctx, asset, cfg, now)
		if err != nil {
			log.Warnf("刷新跳过: %v", &domain.PollError{Asset: asset, Err: err})
			continue
		}
		if m == nil {
			log.Debugf("%s: 本轮未找到符合条件的市场", asset)
			continue
		}

		r.mu.Lock()
		prev := r.markets[asset]
		// 运行中途 Stop 的话不再写入（不复活已关闭的状态）
		if !r.stopped {
			r.markets[asset] = m
		}
		r.mu.Unlock()

		if prev == nil || prev.Slug != m.Slug {
			log.Infof("🔄 %s 市场切换: %s (到期 %s, slot=%d)",
				asset, m.Slug, m.ExpiresAt.Format("15:04:05"), m.Slot)
		}
	}
}

// fetchOne 按搜索短语逐个询问市场源，过滤后保留最早到期的候选
func (r *Rotator) fetchOne(ctx context.Context, asset string, cfg domain.Config, now time.Time) (*domain.Market, error) {
	spec, err := marketspec.New(asset, cfg.MarketDurationSec)
	if err != nil {
		return nil, err
	}

	candidates, err := r.source.Query(ctx, asset, spec.SearchPhrases(now))
	if err != nil {
		return nil, err
	}

	var best *domain.Market
	maxExpiry := now.Add(spec.Duration + expiryGrace)
	for i := range candidates {
		c := &candidates[i]
		if !c.Active || c.Closed {
			continue
		}
		up, down, ok := c.UpDownTokens()
		if !ok {
			continue
		}
		if c.ExpiresAt.Before(now) || c.ExpiresAt.After(maxExpiry) {
			continue
		}
		if best != nil && !c.ExpiresAt.Before(best.ExpiresAt) {
			continue
		}
		best = &domain.Market{
			Asset:       asset,
			Slug:        c.Slug,
			ConditionID: c.ConditionID,
			UpAssetID:   up.TokenID,
			DownAssetID: down.TokenID,
			UpPrice:     up.Price,
			DownPrice:   down.Price,
			ExpiresAt:   c.ExpiresAt,
			Slot:        spec.Slot(now),
			NegRisk:     c.NegRisk,
			Question:    c.Question,
			FetchedAt:   now,
		}
	}
	return best, nil
}

// Market 返回资产当前市场的拷贝；没有时返回 (zero, false)
func (r *Rotator) Market(asset string) (domain.Market, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.markets[asset]
	if !ok {
		return domain.Market{}, false
	}
	return *m, true
}

// Markets 返回全部当前市场的拷贝
func (r *Rotator) Markets() map[string]domain.Market {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]domain.Market, len(r.markets))
	for k, v := range r.markets {
		out[k] = *v
	}
	return out
}

// UpdatePrice 按 slug 原地更新价格字段（推送报价流用，不触发整体刷新）
// 传 0 的一侧保持不变
func (r *Rotator) UpdatePrice(slug string, upPrice, downPrice float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.markets {
		if m.Slug != slug {
			continue
		}
		if upPrice > 0 {
			m.UpPrice = upPrice
		}
		if downPrice > 0 {
			m.DownPrice = downPrice
		}
		return
	}
}
