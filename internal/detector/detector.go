package detector

import (
	"math"
	"sync"
	"time"

	"github.com/betbot/lagbet/internal/domain"
)

// spotSample 单条现货样本
type spotSample struct {
	price float64
	ts    time.Time
}

// spotHistory 单资产的现货滚动窗口
type spotHistory struct {
	samples   []spotSample
	lastPrice float64
	hasLast   bool
}

// add 追加样本并清理过期数据，只保留近 keep 时长
func (h *spotHistory) add(price float64, now time.Time, keep time.Duration) {
	h.samples = append(h.samples, spotSample{price: price, ts: now})
	h.lastPrice = price
	h.hasLast = true

	cutoff := now.Add(-keep)
	// 简单线性清理（tick 频率不高时足够；若后续需要可改 ring）
	i := 0
	for ; i < len(h.samples); i++ {
		if h.samples[i].ts.After(cutoff) || h.samples[i].ts.Equal(cutoff) {
			break
		}
	}
	if i > 0 {
		h.samples = h.samples[i:]
	}
}

// movePct 最近 windowSec 秒内的移动百分比：(latest - oldest) / oldest * 100
// 窗口内没有足够老的样本时返回 ok=false（跳过该窗口，不是错误）
func (h *spotHistory) movePct(windowSec int, now time.Time) (float64, bool) {
	if !h.hasLast || len(h.samples) == 0 || windowSec <= 0 {
		return 0, false
	}
	cutoff := now.Add(-time.Duration(windowSec) * time.Second)
	// 找窗口内最早的样本
	var old *spotSample
	for i := 0; i < len(h.samples); i++ {
		if h.samples[i].ts.After(cutoff) || h.samples[i].ts.Equal(cutoff) {
			old = &h.samples[i]
			break
		}
	}
	if old == nil || old.price <= 0 {
		return 0, false
	}
	return (h.lastPrice - old.price) / old.price * 100.0, true
}

// polyQuote 单资产的二元市场最新中间价（只存最新值，不存历史）
type polyQuote struct {
	mid float64
	ts  time.Time
	has bool
}

// Detector 分歧检测器
// 把现货 tick 和二元市场中间价 tick 转成带置信度的分歧信号
type Detector struct {
	mu   sync.Mutex
	cfg  domain.Config
	spot map[string]*spotHistory
	poly map[string]polyQuote
}

func New(cfg domain.Config) *Detector {
	return &Detector{
		cfg:  cfg.Clone(),
		spot: make(map[string]*spotHistory),
		poly: make(map[string]polyQuote),
	}
}

// SetConfig 热更新配置（engine 在 updateConfig 时调用）
func (d *Detector) SetConfig(cfg domain.Config) {
	d.mu.Lock()
	d.cfg = cfg.Clone()
	d.mu.Unlock()
}

// OnSpotTick 追加现货样本；超过 max(windows) 的旧样本被清理
func (d *Detector) OnSpotTick(asset string, price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.spot[asset]
	if h == nil {
		h = &spotHistory{}
		d.spot[asset] = h
	}
	h.add(price, ts, time.Duration(d.cfg.MaxWindowSec())*time.Second)
}

// OnPolyTick 记录二元市场最新中间价
func (d *Detector) OnPolyTick(asset string, mid float64, ts time.Time) {
	if mid <= 0 {
		return
	}
	d.mu.Lock()
	d.poly[asset] = polyQuote{mid: mid, ts: ts, has: true}
	d.mu.Unlock()
}

// Detect 对每个配置窗口做一次分歧判定，返回全部合格信号（无序，排序由调用方负责）
// 合格条件：|movePct| ≥ minSpotMovePct，报价年龄 ≤ maxPolyFreshnessSec，
// 中间价 ≤ maxPolyMidForEntry，且幅度落入某个阈值桶
func (d *Detector) Detect(asset string, now time.Time) []domain.DivergenceSignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.spot[asset]
	q := d.poly[asset]
	if h == nil || !h.hasLast || !q.has {
		return nil
	}

	ageSec := now.Sub(q.ts).Seconds()
	if ageSec < 0 {
		ageSec = 0
	}

	var signals []domain.DivergenceSignal
	for _, w := range d.cfg.Windows {
		movePct, ok := h.movePct(w, now)
		if !ok {
			continue
		}
		absMove := math.Abs(movePct)
		if absMove < d.cfg.MinSpotMovePct {
			continue
		}
		if ageSec > d.cfg.MaxPolyFreshnessSec {
			continue
		}
		// 市场已把这波行情定价完的不追
		if q.mid > d.cfg.MaxPolyMidForEntry {
			continue
		}
		bucket, ok := matchBucket(d.cfg.ThresholdBuckets, absMove)
		if !ok {
			continue
		}

		dir := domain.TokenTypeUp
		if movePct < 0 {
			dir = domain.TokenTypeDown
		}

		signals = append(signals, domain.DivergenceSignal{
			Asset:        asset,
			Direction:    dir,
			SpotMovePct:  movePct,
			WindowSec:    w,
			PolyMid:      q.mid,
			PolyAgeSec:   ageSec,
			Bucket:       bucket,
			BucketLabel:  bucket.Label(),
			StrategyTag:  domain.StrategyTag(asset, dir, bucket, w),
			WindowTag:    domain.WindowTag(asset, dir, w),
			ThresholdTag: domain.ThresholdTag(asset, dir, bucket),
			Confidence:   confidence(absMove, bucket, ageSec, d.cfg.MaxPolyFreshnessSec),
			Timestamp:    now,
		})
	}
	return signals
}

// matchBucket 按升序找第一个包含该幅度的桶
func matchBucket(buckets []domain.ThresholdBucket, absMovePct float64) (domain.ThresholdBucket, bool) {
	for _, b := range buckets {
		if b.Contains(absMovePct) {
			return b, true
		}
	}
	return domain.ThresholdBucket{}, false
}

// confidence 置信度 ∈ [0,1]：
//
//	r     = (|movePct| - bucket.Min) / bucket.Min   超出桶下界的相对幅度
//	move  = r / (1 + r)                              饱和递增
//	fresh = 1 - ageSec / maxAgeSec                   报价越新越高
//	conf  = clamp(0.5 + 0.35*move + 0.15*fresh)
//
// 对 |movePct| 严格递增，对报价年龄严格递减，确定性
func confidence(absMovePct float64, bucket domain.ThresholdBucket, ageSec, maxAgeSec float64) float64 {
	r := absMovePct
	if bucket.Min > 0 {
		r = (absMovePct - bucket.Min) / bucket.Min
	}
	if r < 0 {
		r = 0
	}
	move := r / (1 + r)

	fresh := 0.0
	if maxAgeSec > 0 {
		fresh = 1 - ageSec/maxAgeSec
	}
	if fresh < 0 {
		fresh = 0
	}

	c := 0.5 + 0.35*move + 0.15*fresh
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// BestSignal 返回置信度最高的信号（detect 是无序的，这里给调用方做排序用）
func BestSignal(signals []domain.DivergenceSignal) (domain.DivergenceSignal, bool) {
	if len(signals) == 0 {
		return domain.DivergenceSignal{}, false
	}
	best := signals[0]
	for _, s := range signals[1:] {
		if s.Confidence > best.Confidence {
			best = s
		}
	}
	return best, true
}
