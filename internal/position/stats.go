package position

// Stats 交易统计（由已平仓历史和计数器推导）
// 净收益在这一层等于毛收益，手续费记账由执行层负责
type Stats struct {
	TradeCount     int     `json:"tradeCount"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"winRate"` // 0~1
	GrossPnlUsd    float64 `json:"grossPnlUsd"`
	NetPnlUsd      float64 `json:"netPnlUsd"`
	DailyPnlUsd    float64 `json:"dailyPnlUsd"`
	OpenCount      int     `json:"openCount"`
	BestTradePct   float64 `json:"bestTradePct"`
	WorstTradePct  float64 `json:"worstTradePct"`
	AvgHoldTimeSec float64 `json:"avgHoldTimeSec"`

	SignalTags map[string]int64 `json:"signalTags"`
}

// Stats 汇总当前统计
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		TradeCount:  len(m.closed),
		DailyPnlUsd: m.dailyPnlUsd,
		OpenCount:   len(m.open),
		SignalTags:  m.tags.Snapshot(),
	}

	var holdSum float64
	for i, c := range m.closed {
		st.GrossPnlUsd += c.PnlUsd
		holdSum += c.HoldTimeSec
		if c.PnlUsd > 0 {
			st.Wins++
		} else if c.PnlUsd < 0 {
			st.Losses++
		}
		if i == 0 || c.PnlPct > st.BestTradePct {
			st.BestTradePct = c.PnlPct
		}
		if i == 0 || c.PnlPct < st.WorstTradePct {
			st.WorstTradePct = c.PnlPct
		}
	}
	st.NetPnlUsd = st.GrossPnlUsd
	if st.TradeCount > 0 {
		st.WinRate = float64(st.Wins) / float64(st.TradeCount)
		st.AvgHoldTimeSec = holdSum / float64(st.TradeCount)
	}
	return st
}
