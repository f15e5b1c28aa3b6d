package domain

import "time"

// TokenType 二元市场的方向腿：up 或 down
// 同时用作信号方向（上行分歧买 up 腿，下行分歧买 down 腿）
type TokenType string

const (
	TokenTypeUp   TokenType = "up"
	TokenTypeDown TokenType = "down"
)

// Opposite 返回另一条腿
func (t TokenType) Opposite() TokenType {
	if t == TokenTypeUp {
		return TokenTypeDown
	}
	return TokenTypeUp
}

// Market 当前轮次的二元市场快照
// 每个资产最多持有一个；refresh 时整体替换，轮换间隔内只有价格字段原地更新
type Market struct {
	Asset       string    // 跟踪资产，如 "BTC"
	Slug        string    // 市场 slug
	ConditionID string    // 条件 ID
	UpAssetID   string    // UP token 资产 ID
	DownAssetID string    // DOWN token 资产 ID
	UpPrice     float64   // UP 腿最新中间价
	DownPrice   float64   // DOWN 腿最新中间价
	ExpiresAt   time.Time // 到期时间
	Slot        int64     // 轮次槽位 = floor(unix / marketDurationSec)
	NegRisk     bool      // negRisk 市场标记（影响下单参数）
	Question    string    // 问题描述
	FetchedAt   time.Time // 拉取时间
}

// IsValid 验证市场是否有效
func (m *Market) IsValid() bool {
	return m.Slug != "" && m.UpAssetID != "" && m.DownAssetID != "" && !m.ExpiresAt.IsZero()
}

// AssetIDFor 根据方向腿获取资产 ID
func (m *Market) AssetIDFor(tokenType TokenType) string {
	if tokenType == TokenTypeUp {
		return m.UpAssetID
	}
	return m.DownAssetID
}

// PriceFor 根据方向腿获取最新中间价
func (m *Market) PriceFor(tokenType TokenType) float64 {
	if tokenType == TokenTypeUp {
		return m.UpPrice
	}
	return m.DownPrice
}

// RemainingAt 距离到期的剩余时间
func (m *Market) RemainingAt(now time.Time) time.Duration {
	return m.ExpiresAt.Sub(now)
}

// OutcomeToken 市场候选的单个结果 token
type OutcomeToken struct {
	TokenID string  // CLOB 资产 ID
	Label   string  // 结果标签，如 "Up" / "Down"
	Price   float64 // 最新价格
}

// MarketCandidate 市场源返回的候选市场（过滤前）
type MarketCandidate struct {
	ID            string
	Slug          string
	ConditionID   string
	Question      string
	OutcomeTokens []OutcomeToken
	ExpiresAt     time.Time
	Active        bool
	Closed        bool
	NegRisk       bool
}

// UpDownTokens 从候选中解析 up/down 两条腿
// 仅当恰好两个 token 且标签可辨识时返回 ok=true
func (c *MarketCandidate) UpDownTokens() (up, down OutcomeToken, ok bool) {
	if len(c.OutcomeTokens) != 2 {
		return up, down, false
	}
	for _, tok := range c.OutcomeTokens {
		switch normalizeOutcomeLabel(tok.Label) {
		case TokenTypeUp:
			up = tok
		case TokenTypeDown:
			down = tok
		}
	}
	if up.TokenID == "" || down.TokenID == "" {
		return up, down, false
	}
	return up, down, true
}

// normalizeOutcomeLabel 归一化结果标签
// Gamma 对 up/down 市场的标签出现过 "Up"/"Down"、"Yes"/"No"、"Higher"/"Lower" 几种写法
func normalizeOutcomeLabel(label string) TokenType {
	switch label {
	case "Up", "up", "UP", "Yes", "yes", "Higher", "higher":
		return TokenTypeUp
	case "Down", "down", "DOWN", "No", "no", "Lower", "lower":
		return TokenTypeDown
	}
	return ""
}
