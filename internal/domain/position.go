package domain

import (
	"time"
)

// ExitReason 出场原因（按优先级从高到低）
type ExitReason string

const (
	ExitReasonForceExit    ExitReason = "force_exit"    // 距到期过近，强制出场
	ExitReasonTakeProfit   ExitReason = "take_profit"   // 止盈
	ExitReasonStopLoss     ExitReason = "stop_loss"     // 止损
	ExitReasonTrailingStop ExitReason = "trailing_stop" // 移动止损
	ExitReasonTimeExit     ExitReason = "time_exit"     // 时间出场（软截止）
)

// Urgent 是否为紧急出场（紧急出场用 FOK+缓冲价，普通出场挂 post-only）
func (r ExitReason) Urgent() bool {
	return r == ExitReasonStopLoss || r == ExitReasonForceExit
}

// Position 开放仓位
// 由 position.Manager.Open 创建；只有 Tick 会改价格/高水位/移动止损锁存，
// 调用方不直接修改字段
type Position struct {
	ID                string    // 仓位 ID
	Asset             string    // 资产，如 "BTC"
	Direction         TokenType // 方向腿
	TokenID           string    // 持有的 CLOB token
	MarketSlug        string    // 所属市场
	NegRisk           bool      // 市场 negRisk 标记（出场下单需要）
	EntryPrice        float64   // 入场均价
	CurrentPrice      float64   // 最新标记价
	Shares            float64   // 持有份额
	CostUsd           float64   // 成本（USDC）= EntryPrice × Shares
	HighWaterMark     float64   // 开仓以来最高标记价（单调不降）
	TrailingActivated bool      // 移动止损已激活（单向锁存，开仓期间不会回退）
	StrategyTag       string    // 触发信号的策略标签
	EnteredAt         time.Time // 入场时间
	ExpiresAt         time.Time // 市场到期时间
}

// UnrealizedPnlUsd 未实现盈亏（USDC）
func (p *Position) UnrealizedPnlUsd() float64 {
	return (p.CurrentPrice - p.EntryPrice) * p.Shares
}

// UnrealizedPnlPct 未实现盈亏百分比（相对成本）
func (p *Position) UnrealizedPnlPct() float64 {
	if p.CostUsd <= 0 {
		return 0
	}
	return p.UnrealizedPnlUsd() / p.CostUsd * 100
}

// ClosedPosition 已平仓记录（创建后不可变）
type ClosedPosition struct {
	Position

	ExitPrice   float64    // 出场价格
	ExitReason  ExitReason // 出场原因
	ExitedAt    time.Time  // 出场时间
	PnlUsd      float64    // 已实现盈亏（USDC）
	PnlPct      float64    // 已实现盈亏百分比
	HoldTimeSec float64    // 持仓时长（秒）
}

// ExitSignal checkExits 对单个仓位给出的出场决定
// 每个仓位每次检查最多产生一个
type ExitSignal struct {
	PositionID string
	Asset      string
	Reason     ExitReason
	ExitPrice  float64 // 按触发时标记价给出的出场价
	PnlPct     float64 // 触发时的未实现盈亏百分比
}
