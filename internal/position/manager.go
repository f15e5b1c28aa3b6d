package position

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/betbot/lagbet/internal/common"
	"github.com/betbot/lagbet/internal/domain"
	"github.com/betbot/lagbet/internal/metrics"
	"github.com/betbot/lagbet/pkg/logger"
)

const (
	// closedHistoryCap 已平仓历史上限（超出丢最旧的）
	closedHistoryCap = 500
	// signalTagCap 信号标签计数上限（超出丢最旧的）
	signalTagCap = 500
)

// StateStore 仓位状态快照存储（可选，崩溃恢复用）
type StateStore interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

// OpenParams 开仓参数
type OpenParams struct {
	Asset       string
	Direction   domain.TokenType
	TokenID     string
	MarketSlug  string
	NegRisk     bool
	Price       float64
	Shares      float64
	StrategyTag string
	ExpiresAt   time.Time
}

// Manager 仓位管理器
// 持有开放/已平仓状态和出场状态机；与行情源、市场源完全解耦
type Manager struct {
	mu sync.Mutex

	cfg domain.Config

	open    map[string]*domain.Position // 按仓位 ID
	byAsset map[string]string           // 资产 → 仓位 ID（保证每资产最多一个）
	closed  []domain.ClosedPosition     // 有上限，最旧的先被丢弃

	dailyPnlUsd float64   // 当日累计已实现盈亏；只通过 ResetDailyPnl 外部归零
	lastLossAt  time.Time // 最近一次止损时间（冷却闸）
	lastExitAt  time.Time // 最近一次出场时间（冷却闸）

	tags *common.BoundedCounter // 信号标签计数（有上限）

	store StateStore // 可为 nil
}

var log = logger.WithField("component", "position")

func NewManager(cfg domain.Config) *Manager {
	return &Manager{
		cfg:     cfg.Clone(),
		open:    make(map[string]*domain.Position),
		byAsset: make(map[string]string),
		tags:    common.NewBoundedCounter(signalTagCap),
	}
}

// SetConfig 热更新配置；已开仓位在下一次 CheckExits 按新配置评估
func (m *Manager) SetConfig(cfg domain.Config) {
	m.mu.Lock()
	m.cfg = cfg.Clone()
	m.mu.Unlock()
}

// managerState 快照结构
type managerState struct {
	Open        []domain.Position       `json:"open"`
	Closed      []domain.ClosedPosition `json:"closed"`
	DailyPnlUsd float64                 `json:"dailyPnlUsd"`
	LastLossAt  time.Time               `json:"lastLossAt"`
	LastExitAt  time.Time               `json:"lastExitAt"`
}

// AttachStore 挂接快照存储并尝试恢复上次状态
// 恢复的过期仓位会在下一轮出场检查里被 force_exit 正常清掉
func (m *Manager) AttachStore(store StateStore) {
	if store == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store = store

	var st managerState
	if err := store.Load(&st); err != nil {
		log.Debugf("仓位快照不存在或读取失败（忽略）: %v", err)
		return
	}
	for i := range st.Open {
		p := st.Open[i]
		m.open[p.ID] = &p
		m.byAsset[p.Asset] = p.ID
	}
	m.closed = st.Closed
	m.dailyPnlUsd = st.DailyPnlUsd
	m.lastLossAt = st.LastLossAt
	m.lastExitAt = st.LastExitAt
	metrics.SnapshotLoads.Add(1)
	log.Infof("仓位状态已恢复: open=%d closed=%d dailyPnl=%.2f", len(m.open), len(m.closed), m.dailyPnlUsd)
}

// saveLocked 保存快照（持锁调用）；失败只告警，不影响主流程
func (m *Manager) saveLocked() {
	if m.store == nil {
		return
	}
	st := managerState{
		Closed:      m.closed,
		DailyPnlUsd: m.dailyPnlUsd,
		LastLossAt:  m.lastLossAt,
		LastExitAt:  m.lastExitAt,
	}
	for _, p := range m.open {
		st.Open = append(st.Open, *p)
	}
	if err := m.store.Save(&st); err != nil {
		log.Warnf("仓位快照保存失败: %v", err)
		return
	}
	metrics.SnapshotSaves.Add(1)
}

// Open 开仓
// price/shares 用实际成交值；同资产已有仓位时拒绝
func (m *Manager) Open(p OpenParams, now time.Time) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.Price <= 0 || p.Shares <= 0 {
		return domain.Position{}, fmt.Errorf("开仓参数无效: price=%v shares=%v", p.Price, p.Shares)
	}
	if _, exists := m.byAsset[p.Asset]; exists {
		return domain.Position{}, fmt.Errorf("资产 %s 已有开放仓位", p.Asset)
	}

	pos := &domain.Position{
		ID:            uuid.NewString(),
		Asset:         p.Asset,
		Direction:     p.Direction,
		TokenID:       p.TokenID,
		MarketSlug:    p.MarketSlug,
		NegRisk:       p.NegRisk,
		EntryPrice:    p.Price,
		CurrentPrice:  p.Price,
		Shares:        p.Shares,
		CostUsd:       p.Price * p.Shares,
		HighWaterMark: p.Price,
		StrategyTag:   p.StrategyTag,
		EnteredAt:     now,
		ExpiresAt:     p.ExpiresAt,
	}
	m.open[pos.ID] = pos
	m.byAsset[pos.Asset] = pos.ID

	if pos.StrategyTag != "" {
		m.tags.Inc(pos.StrategyTag)
	}
	m.saveLocked()

	log.Infof("🎯 开仓 %s %s: price=%.3f shares=%.2f cost=$%.2f tag=%s",
		pos.Asset, pos.Direction, pos.EntryPrice, pos.Shares, pos.CostUsd, pos.StrategyTag)
	return *pos, nil
}

// Tick 更新标记价：刷新当前价，抬高水位，满足激活条件时锁存移动止损
// 高水位单调不降；TrailingActivated 只会 false→true
func (m *Manager) Tick(id string, price float64) {
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[id]
	if !ok {
		return
	}
	pos.CurrentPrice = price
	if price > pos.HighWaterMark {
		pos.HighWaterMark = price
	}
	if !pos.TrailingActivated && pos.UnrealizedPnlPct() >= m.cfg.TrailingActivationPct {
		pos.TrailingActivated = true
		log.Debugf("🔔 %s 移动止损已激活: entry=%.3f hwm=%.3f pnl=%.1f%%",
			pos.Asset, pos.EntryPrice, pos.HighWaterMark, pos.UnrealizedPnlPct())
	}
}

// CheckExits 按固定优先级评估全部开放仓位，每个仓位最多给出一个出场信号
// 优先级：force_exit > take_profit > stop_loss > trailing_stop > time_exit
func (m *Manager) CheckExits(now time.Time) []domain.ExitSignal {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	// 按入场时间稳定排序，保证出场提交顺序可复现
	sort.Slice(ids, func(i, j int) bool {
		return m.open[ids[i]].EnteredAt.Before(m.open[ids[j]].EnteredAt)
	})

	var exits []domain.ExitSignal
	for _, id := range ids {
		pos := m.open[id]
		if reason, ok := m.evalExitLocked(pos, now); ok {
			exits = append(exits, domain.ExitSignal{
				PositionID: pos.ID,
				Asset:      pos.Asset,
				Reason:     reason,
				ExitPrice:  pos.CurrentPrice,
				PnlPct:     pos.UnrealizedPnlPct(),
			})
		}
	}
	return exits
}

// evalExitLocked 单仓位出场判定（持锁调用）
func (m *Manager) evalExitLocked(pos *domain.Position, now time.Time) (domain.ExitReason, bool) {
	remaining := pos.ExpiresAt.Sub(now)

	if remaining <= time.Duration(m.cfg.ForceExitSec)*time.Second {
		return domain.ExitReasonForceExit, true
	}

	pnlPct := pos.UnrealizedPnlPct()
	if pnlPct >= m.cfg.TakeProfitPct {
		return domain.ExitReasonTakeProfit, true
	}
	if pnlPct <= -m.cfg.StopLossPct {
		return domain.ExitReasonStopLoss, true
	}
	if pos.TrailingActivated && pos.HighWaterMark > pos.EntryPrice {
		drawdownPct := (pos.HighWaterMark - pos.CurrentPrice) / pos.HighWaterMark * 100
		if drawdownPct >= m.cfg.TrailingStopPct {
			return domain.ExitReasonTrailingStop, true
		}
	}
	if remaining <= time.Duration(m.cfg.TimeExitSec)*time.Second {
		return domain.ExitReasonTimeExit, true
	}
	return "", false
}

// Close 平仓并记账
// 未知 id 返回 (zero, false) 且不改任何计数器（幂等空操作）
func (m *Manager) Close(id string, exitPrice float64, reason domain.ExitReason, now time.Time) (domain.ClosedPosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[id]
	if !ok {
		return domain.ClosedPosition{}, false
	}
	delete(m.open, id)
	delete(m.byAsset, pos.Asset)

	pnlUsd := (exitPrice - pos.EntryPrice) * pos.Shares
	pnlPct := 0.0
	if pos.CostUsd > 0 {
		pnlPct = pnlUsd / pos.CostUsd * 100
	}

	closed := domain.ClosedPosition{
		Position:    *pos,
		ExitPrice:   exitPrice,
		ExitReason:  reason,
		ExitedAt:    now,
		PnlUsd:      pnlUsd,
		PnlPct:      pnlPct,
		HoldTimeSec: now.Sub(pos.EnteredAt).Seconds(),
	}
	closed.CurrentPrice = exitPrice

	m.dailyPnlUsd += pnlUsd
	if reason == domain.ExitReasonStopLoss {
		m.lastLossAt = now
	}
	m.lastExitAt = now

	m.closed = append(m.closed, closed)
	if len(m.closed) > closedHistoryCap {
		m.closed = m.closed[len(m.closed)-closedHistoryCap:]
	}
	m.saveLocked()

	log.Infof("💰 平仓 %s %s (%s): entry=%.3f exit=%.3f pnl=$%.2f (%.1f%%) hold=%.0fs daily=$%.2f",
		closed.Asset, closed.Direction, reason, closed.EntryPrice, exitPrice,
		pnlUsd, pnlPct, closed.HoldTimeSec, m.dailyPnlUsd)
	return closed, true
}

// CanOpen 开仓风险闸
// asset 为空时只做全局检查；返回 (false, 原因) 或 (true, "")
func (m *Manager) CanOpen(asset string, now time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.open) >= m.cfg.MaxConcurrentPositions {
		return false, "max_positions"
	}
	if m.dailyPnlUsd <= -m.cfg.MaxDailyLossUsd {
		return false, "daily_loss_limit"
	}
	if !m.lastLossAt.IsZero() {
		if since := now.Sub(m.lastLossAt); since < time.Duration(m.cfg.CooldownAfterLossSec)*time.Second {
			return false, "loss_cooldown"
		}
	}
	if !m.lastExitAt.IsZero() {
		if since := now.Sub(m.lastExitAt); since < time.Duration(m.cfg.CooldownAfterExitSec)*time.Second {
			return false, "exit_cooldown"
		}
	}
	if asset != "" {
		if _, exists := m.byAsset[asset]; exists {
			return false, "asset_position_exists"
		}
	}
	return true, ""
}

// NoteSignal 记录一次信号标签（有上限的频次统计）
func (m *Manager) NoteSignal(tag string) {
	if tag == "" {
		return
	}
	m.tags.Inc(tag)
}

// ResetDailyPnl 外部触发的当日盈亏归零；返回归零前的值
// 这是唯一的归零途径（不做自然日自动翻转）
func (m *Manager) ResetDailyPnl() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.dailyPnlUsd
	m.dailyPnlUsd = 0
	m.saveLocked()
	log.Infof("📊 当日盈亏已归零（此前 $%.2f）", prev)
	return prev
}

// OpenPositions 返回全部开放仓位的拷贝（按入场时间排序）
func (m *Manager) OpenPositions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnteredAt.Before(out[j].EnteredAt) })
	return out
}

// Get 按 ID 取开放仓位拷贝
func (m *Manager) Get(id string) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.open[id]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// OpenByAsset 按资产取开放仓位拷贝
func (m *Manager) OpenByAsset(asset string) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byAsset[asset]
	if !ok {
		return domain.Position{}, false
	}
	return *m.open[id], true
}

// OpenCount 开放仓位数
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// DailyPnlUsd 当日累计已实现盈亏
func (m *Manager) DailyPnlUsd() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnlUsd
}

// ClosedHistory 已平仓历史拷贝（最旧在前）
func (m *Manager) ClosedHistory() []domain.ClosedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ClosedPosition(nil), m.closed...)
}
