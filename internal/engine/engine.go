package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/betbot/lagbet/internal/detector"
	"github.com/betbot/lagbet/internal/domain"
	"github.com/betbot/lagbet/internal/metrics"
	"github.com/betbot/lagbet/internal/ports"
	"github.com/betbot/lagbet/internal/position"
	"github.com/betbot/lagbet/internal/rotator"
	"github.com/betbot/lagbet/pkg/logger"
)

const (
	// exitCheckInterval 出场检查周期
	exitCheckInterval = 500 * time.Millisecond
	// quotePollInterval 二元市场报价轮询周期
	quotePollInterval = 1 * time.Second
	// fillPollInterval maker 挂单的成交轮询周期
	fillPollInterval = 500 * time.Millisecond
	// minEntryRemaining 入场要求的最小剩余时间余量（在 timeExitSec 之上再加）
	minEntryRemaining = 30 * time.Second
	// maxOrderPrice 限价上限（taker 加价后不能越过）
	maxOrderPrice = 0.99
	// minOrderPrice 限价下限（紧急卖单减价后不能低于）
	minOrderPrice = 0.01
)

var log = logger.WithField("component", "engine")

// TradeRecorder 平仓记录落盘（可选，engine 只调不管错）
type TradeRecorder interface {
	RecordClosed(c domain.ClosedPosition) error
}

// Deps 引擎协作方；Quotes 和 Recorder 可为 nil，其余必填
type Deps struct {
	Feed      ports.PriceFeed
	Detector  *detector.Detector
	Rotator   *rotator.Rotator
	Positions *position.Manager
	Executor  ports.Executor
	Quotes    ports.BestPriceGetter
	Recorder  TradeRecorder
}

// Engine 决策引擎
// 现货 tick 驱动入场路径，500ms 循环驱动出场路径，1s 循环刷新二元市场报价。
// 入场有全局单飞闸：任意时刻最多一笔入场在途
type Engine struct {
	mu  sync.Mutex
	cfg domain.Config

	deps Deps

	running bool
	cancel  context.CancelFunc
	unsubs  []func()

	entryInFlight bool            // 入场单飞闸
	exiting       map[string]bool // 出场在途的仓位 ID
}

func New(cfg domain.Config, deps Deps) *Engine {
	return &Engine{
		cfg:     cfg.Clone(),
		deps:    deps,
		exiting: make(map[string]bool),
	}
}

// Start 启动引擎；协作方缺失返回 ConfigError，重复启动无效果
func (e *Engine) Start(ctx context.Context) error {
	if e.deps.Feed == nil || e.deps.Detector == nil || e.deps.Rotator == nil ||
		e.deps.Positions == nil || e.deps.Executor == nil {
		return domain.NewConfigError("引擎协作方不完整")
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	cfg := e.cfg.Clone()
	e.mu.Unlock()

	e.deps.Rotator.Start(loopCtx)

	// 每个资产订阅现货流；tick 既喂检测器也触发入场评估
	for _, asset := range cfg.Assets {
		a := asset
		unsub, err := e.deps.Feed.Subscribe(a, func(asset string, price float64, at time.Time) {
			e.deps.Detector.OnSpotTick(asset, price, at)
			e.evaluateEntry(loopCtx, asset, at)
		})
		if err != nil {
			e.Stop()
			return domain.NewConfigError("订阅 %s 失败: %v", a, err)
		}
		e.mu.Lock()
		e.unsubs = append(e.unsubs, unsub)
		e.mu.Unlock()
	}

	go e.runExitLoop(loopCtx)
	go e.runQuoteLoop(loopCtx)

	log.Infof("🚀 引擎已启动: assets=%v dryRun=%v", cfg.Assets, cfg.DryRun)
	return nil
}

// Stop 停止引擎；幂等
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	e.deps.Rotator.Stop()
	log.Info("引擎已停止")
}

// Running 引擎是否在运行
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Config 当前配置快照
func (e *Engine) Config() domain.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone()
}

// UpdateConfig 热更新：patch 合并进当前配置，校验通过后推给全部协作方
// 已开仓位在下一轮出场检查按新配置评估
func (e *Engine) UpdateConfig(patch *domain.ConfigPatch) (domain.Config, error) {
	e.mu.Lock()
	next := e.cfg.Clone()
	patch.Apply(&next)
	if err := next.Validate(); err != nil {
		e.mu.Unlock()
		return domain.Config{}, err
	}
	e.cfg = next.Clone()
	e.mu.Unlock()

	e.deps.Detector.SetConfig(next)
	e.deps.Rotator.SetConfig(next)
	e.deps.Positions.SetConfig(next)

	log.Infof("⚙️ 配置已热更新")
	return next, nil
}

func (e *Engine) snapshot() (domain.Config, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone(), e.running
}

// ---- 入场路径 ----

// evaluateEntry 现货 tick 后的入场评估（在 feed 的派发 goroutine 上执行）
// 闸门顺序：信号 → 风险闸 → 市场可用 → 剩余时间 → 单飞闸
func (e *Engine) evaluateEntry(ctx context.Context, asset string, now time.Time) {
	cfg, running := e.snapshot()
	if !running {
		return
	}

	signals := e.deps.Detector.Detect(asset, now)
	if len(signals) == 0 {
		return
	}
	metrics.SignalsDetected.Add(int64(len(signals)))

	best, ok := detector.BestSignal(signals)
	if !ok {
		return
	}
	e.deps.Positions.NoteSignal(best.StrategyTag)

	if ok, reason := e.deps.Positions.CanOpen(asset, now); !ok {
		log.Debugf("%s 入场被风险闸拦下: %s", asset, reason)
		metrics.EntriesRejected.Add(1)
		return
	}

	market, ok := e.deps.Rotator.Market(asset)
	if !ok || !market.IsValid() {
		log.Debugf("%s 无可用市场，跳过信号 %s", asset, best.StrategyTag)
		return
	}
	// 剩余时间不足以走完一个正常持仓周期的不进
	minRemaining := time.Duration(cfg.TimeExitSec)*time.Second + minEntryRemaining
	if market.RemainingAt(now) < minRemaining {
		log.Debugf("%s 市场剩余 %s 不足 %s，跳过", asset, market.RemainingAt(now), minRemaining)
		return
	}

	price := market.PriceFor(best.Direction)
	if price <= 0 || price > cfg.MaxPolyMidForEntry {
		return
	}
	// 份额向下取到 0.01；不足 1 份的单子交易所会拒，直接丢掉信号
	shares := math.Floor(cfg.EntrySizeUsd()/price*100) / 100
	if shares < 1 || math.IsInf(shares, 0) || math.IsNaN(shares) {
		log.Debugf("%s 份额 %.2f 不足 1 份，跳过信号 %s", asset, shares, best.StrategyTag)
		return
	}

	// 单飞闸：任意时刻最多一笔入场在途
	e.mu.Lock()
	if e.entryInFlight || !e.running {
		e.mu.Unlock()
		return
	}
	e.entryInFlight = true
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			e.entryInFlight = false
			e.mu.Unlock()
		}()
		e.placeEntry(ctx, cfg, best, market, price, shares)
	}()
}

// placeEntry 下入场单：先 maker 挂单，超时撤单转 taker FOK
func (e *Engine) placeEntry(ctx context.Context, cfg domain.Config, sig domain.DivergenceSignal, market domain.Market, price, shares float64) {
	tokenID := market.AssetIDFor(sig.Direction)
	negRisk := market.NegRisk || cfg.NegRisk

	log.Infof("📈 入场信号 %s: move=%.3f%% w=%ds mid=%.3f conf=%.2f → %s @ %.3f × %.2f",
		sig.StrategyTag, sig.SpotMovePct, sig.WindowSec, sig.PolyMid, sig.Confidence,
		sig.Direction, price, shares)

	fillPrice, fillShares := 0.0, 0.0

	preferMaker := cfg.PreferMaker == nil || *cfg.PreferMaker
	if cfg.DryRun || !preferMaker {
		// 干跑执行器即时成交；真实执行器直接吃单
		tif := ports.TifGTC
		if !cfg.DryRun {
			tif = ports.TifFOK
		}
		result, err := e.deps.Executor.BuyLimit(ctx, ports.OrderSpec{
			TokenID: tokenID, NegRisk: negRisk, Price: price, Shares: shares, Tif: tif,
		})
		if err != nil {
			log.Warnf("入场下单失败: %v", err)
			metrics.EntriesRejected.Add(1)
			return
		}
		fillPrice, fillShares = result.AvgPrice, result.FilledShares
		if fillShares <= 0 {
			fillPrice, fillShares = price, shares
		}
	} else {
		var done bool
		fillPrice, fillShares, done = e.makerThenTaker(ctx, cfg, tokenID, negRisk, price, shares)
		if !done {
			metrics.EntriesRejected.Add(1)
			return
		}
	}

	// 下单等待期间引擎可能已停止
	if !e.Running() {
		log.Warnf("引擎已停止，放弃登记入场成交 %s（份额 %.2f 需人工核对）", sig.Asset, fillShares)
		return
	}

	_, err := e.deps.Positions.Open(position.OpenParams{
		Asset:       sig.Asset,
		Direction:   sig.Direction,
		TokenID:     tokenID,
		MarketSlug:  market.Slug,
		NegRisk:     negRisk,
		Price:       fillPrice,
		Shares:      fillShares,
		StrategyTag: sig.StrategyTag,
		ExpiresAt:   market.ExpiresAt,
	}, time.Now())
	if err != nil {
		log.Warnf("登记仓位失败: %v", err)
		return
	}
	metrics.EntriesOpened.Add(1)
}

// makerThenTaker 入场的 maker→taker 阶梯
// 返回 (成交均价, 成交份额, 是否成交)；maker 部分成交后撤单时直接采用已成交部分
func (e *Engine) makerThenTaker(ctx context.Context, cfg domain.Config, tokenID string, negRisk bool, price, shares float64) (float64, float64, bool) {
	result, err := e.deps.Executor.BuyLimit(ctx, ports.OrderSpec{
		TokenID: tokenID, NegRisk: negRisk, Price: price, Shares: shares, Tif: ports.TifGTC,
	})
	if err != nil {
		log.Warnf("maker 挂单失败: %v", err)
	} else {
		deadline := time.Now().Add(time.Duration(cfg.MakerTimeoutMs) * time.Millisecond)
		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				_ = e.deps.Executor.CancelOrder(context.Background(), result.OrderID)
				return 0, 0, false
			case <-time.After(fillPollInterval):
			}

			st, err := e.deps.Executor.OrderFill(ctx, result.OrderID)
			if err != nil {
				log.Debugf("挂单状态查询失败: %v", err)
				continue
			}
			if !st.Open {
				if st.FilledShares > 0 {
					metrics.MakerFills.Add(1)
					return orDefault(st.AvgPrice, price), st.FilledShares, true
				}
				break // 被撤或被拒，直接转 taker
			}
		}

		// 超时撤单；撤单竞态下订单可能刚好成交，以最终状态为准
		_ = e.deps.Executor.CancelOrder(ctx, result.OrderID)
		if st, err := e.deps.Executor.OrderFill(ctx, result.OrderID); err == nil && st.FilledShares > 0 {
			metrics.MakerFills.Add(1)
			return orDefault(st.AvgPrice, price), st.FilledShares, true
		}
	}

	// taker 回退：信号价加缓冲，封顶 0.99
	takerPrice := math.Min(maxOrderPrice, price+float64(cfg.TakerBufferCents)/100)
	metrics.TakerFallbacks.Add(1)
	result, err = e.deps.Executor.BuyLimit(ctx, ports.OrderSpec{
		TokenID: tokenID, NegRisk: negRisk, Price: takerPrice, Shares: shares, Tif: ports.TifFOK,
	})
	if err != nil {
		log.Warnf("taker 回退失败: %v", err)
		return 0, 0, false
	}
	if result.FilledShares <= 0 {
		return takerPrice, shares, true // FOK 成功即全额成交，金额缺失时按请求值记
	}
	return orDefault(result.AvgPrice, takerPrice), result.FilledShares, true
}

// ---- 出场路径 ----

func (e *Engine) runExitLoop(ctx context.Context) {
	ticker := time.NewTicker(exitCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.checkExits(ctx, now)
		}
	}
}

func (e *Engine) checkExits(ctx context.Context, now time.Time) {
	_, running := e.snapshot()
	if !running {
		return
	}

	for _, sig := range e.deps.Positions.CheckExits(now) {
		e.mu.Lock()
		if e.exiting[sig.PositionID] {
			e.mu.Unlock()
			continue
		}
		e.exiting[sig.PositionID] = true
		e.mu.Unlock()

		s := sig
		go func() {
			defer func() {
				e.mu.Lock()
				delete(e.exiting, s.PositionID)
				e.mu.Unlock()
			}()
			e.placeExit(ctx, s)
		}()
	}
}

// placeExit 下出场单
// 紧急出场（止损/强制）用 FOK 减价吃单；普通出场挂限价等 makerTimeout，不成再吃
// 成交价拿不到时按信号价记账：仓位必须离场，价格宁可记得保守
func (e *Engine) placeExit(ctx context.Context, sig domain.ExitSignal) {
	pos, ok := e.deps.Positions.Get(sig.PositionID)
	if !ok {
		return
	}
	cfg, running := e.snapshot()
	if !running {
		return
	}

	log.Infof("📉 出场 %s %s (%s): mark=%.3f pnl=%.1f%%",
		pos.Asset, pos.Direction, sig.Reason, sig.ExitPrice, sig.PnlPct)

	buffer := float64(cfg.TakerBufferCents) / 100
	fillPrice := sig.ExitPrice

	if cfg.DryRun {
		result, err := e.deps.Executor.SellLimit(ctx, ports.OrderSpec{
			TokenID: pos.TokenID, NegRisk: pos.NegRisk, Price: sig.ExitPrice, Shares: pos.Shares, Tif: ports.TifFOK,
		})
		if err == nil && result.AvgPrice > 0 {
			fillPrice = result.AvgPrice
		}
	} else if sig.Reason.Urgent() {
		price := math.Max(minOrderPrice, sig.ExitPrice-buffer)
		result, err := e.deps.Executor.SellLimit(ctx, ports.OrderSpec{
			TokenID: pos.TokenID, NegRisk: pos.NegRisk, Price: price, Shares: pos.Shares, Tif: ports.TifFOK,
		})
		if err != nil {
			// FOK 吃不掉就 FAK 扫掉能扫的；都失败按信号价记账离场
			log.Warnf("紧急出场 FOK 失败: %v，转 FAK", err)
			metrics.ExitErrors.Add(1)
			result, err = e.deps.Executor.SellLimit(ctx, ports.OrderSpec{
				TokenID: pos.TokenID, NegRisk: pos.NegRisk, Price: price, Shares: pos.Shares, Tif: ports.TifFAK,
			})
		}
		if err == nil && result.AvgPrice > 0 {
			fillPrice = result.AvgPrice
		}
	} else {
		fillPrice = e.sellMakerThenTaker(ctx, cfg, pos, sig.ExitPrice)
	}

	if !e.Running() {
		return
	}

	closed, ok := e.deps.Positions.Close(sig.PositionID, fillPrice, sig.Reason, time.Now())
	if !ok {
		return
	}
	metrics.ExitsTotal.Add(1)
	metrics.ExitsByReason.Add(string(sig.Reason), 1)

	if e.deps.Recorder != nil {
		if err := e.deps.Recorder.RecordClosed(closed); err != nil {
			log.Warnf("平仓记录落盘失败: %v", err)
		}
	}
}

// sellMakerThenTaker 普通出场：限价挂单等待，超时撤单转 FOK 减价
func (e *Engine) sellMakerThenTaker(ctx context.Context, cfg domain.Config, pos domain.Position, price float64) float64 {
	result, err := e.deps.Executor.SellLimit(ctx, ports.OrderSpec{
		TokenID: pos.TokenID, NegRisk: pos.NegRisk, Price: price, Shares: pos.Shares, Tif: ports.TifGTC,
	})
	if err == nil {
		deadline := time.Now().Add(time.Duration(cfg.MakerTimeoutMs) * time.Millisecond)
		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				_ = e.deps.Executor.CancelOrder(context.Background(), result.OrderID)
				return price
			case <-time.After(fillPollInterval):
			}
			st, err := e.deps.Executor.OrderFill(ctx, result.OrderID)
			if err != nil {
				continue
			}
			if !st.Open && st.FilledShares > 0 {
				return orDefault(st.AvgPrice, price)
			}
			if !st.Open {
				break
			}
		}
		_ = e.deps.Executor.CancelOrder(ctx, result.OrderID)
		if st, err := e.deps.Executor.OrderFill(ctx, result.OrderID); err == nil && st.FilledShares > 0 {
			return orDefault(st.AvgPrice, price)
		}
	} else {
		log.Warnf("出场挂单失败: %v", err)
		metrics.ExitErrors.Add(1)
	}

	takerPrice := math.Max(minOrderPrice, price-float64(cfg.TakerBufferCents)/100)
	result, err = e.deps.Executor.SellLimit(ctx, ports.OrderSpec{
		TokenID: pos.TokenID, NegRisk: pos.NegRisk, Price: takerPrice, Shares: pos.Shares, Tif: ports.TifFOK,
	})
	if err != nil {
		log.Warnf("出场 taker 回退失败: %v，按信号价记账", err)
		metrics.ExitErrors.Add(1)
		return price
	}
	return orDefault(result.AvgPrice, takerPrice)
}

// ---- 报价轮询 ----

// runQuoteLoop 1s 周期：刷新二元市场报价，喂检测器，并给开放仓位打标记价
func (e *Engine) runQuoteLoop(ctx context.Context) {
	ticker := time.NewTicker(quotePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.pollQuotes(ctx, now)
		}
	}
}

func (e *Engine) pollQuotes(ctx context.Context, now time.Time) {
	cfg, running := e.snapshot()
	if !running {
		return
	}

	for _, asset := range cfg.Assets {
		market, ok := e.deps.Rotator.Market(asset)
		if !ok {
			continue
		}

		upMid, downMid := market.UpPrice, market.DownPrice
		if e.deps.Quotes != nil {
			bid, ask, err := e.deps.Quotes.GetBestPrice(ctx, market.UpAssetID)
			if err != nil {
				metrics.PollFailures.Add(1)
				log.Debugf("报价轮询失败: %v", &domain.PollError{Asset: asset, Err: err})
				continue
			}
			upMid = (bid + ask) / 2
			downMid = 1 - upMid
			e.deps.Rotator.UpdatePrice(market.Slug, upMid, downMid)
		}
		if upMid <= 0 {
			continue
		}

		// 喂检测器的是较贵一腿的中间价：任一腿被打满都说明行情已定价完
		e.deps.Detector.OnPolyTick(asset, math.Max(upMid, downMid), now)

		// 给该资产的开放仓位打标记价
		if pos, ok := e.deps.Positions.OpenByAsset(asset); ok && pos.MarketSlug == market.Slug {
			e.deps.Positions.Tick(pos.ID, priceForLeg(pos.Direction, upMid, downMid))
		}
	}
}

func priceForLeg(dir domain.TokenType, upMid, downMid float64) float64 {
	if dir == domain.TokenTypeUp {
		return upMid
	}
	return downMid
}

func orDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
