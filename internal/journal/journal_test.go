package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/betbot/lagbet/internal/domain"
)

func closedPosition(id string, pnlUsd float64, exitedAt time.Time) domain.ClosedPosition {
	return domain.ClosedPosition{
		Position: domain.Position{
			ID:          id,
			Asset:       "BTC",
			Direction:   domain.TokenTypeUp,
			MarketSlug:  "btc-up-or-down-15m-1765985400",
			StrategyTag: "BTC_UP_s12-14_w15",
			EntryPrice:  0.40,
			Shares:      50,
			EnteredAt:   exitedAt.Add(-90 * time.Second),
		},
		ExitPrice:   0.40 + pnlUsd/50,
		ExitReason:  domain.ExitReasonTakeProfit,
		ExitedAt:    exitedAt,
		PnlUsd:      pnlUsd,
		PnlPct:      pnlUsd / 20 * 100,
		HoldTimeSec: 90,
	}
}

// TestRecordAndQuery 写入平仓记录后可按倒序查回
func TestRecordAndQuery(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("打开流水库失败: %v", err)
	}
	defer j.Close()

	base := time.Unix(1765985400, 0)
	if err := j.RecordClosed(closedPosition("pos-1", 3.0, base)); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := j.RecordClosed(closedPosition("pos-2", -1.5, base.Add(5*time.Minute))); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	trades, err := j.RecentTrades(10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("应有 2 笔记录: %d", len(trades))
	}
	if trades[0].ID != "pos-2" {
		t.Errorf("应按出场时间倒序: %s", trades[0].ID)
	}
	if trades[0].PnlUsd != -1.5 || trades[1].PnlUsd != 3.0 {
		t.Errorf("盈亏读回错误: %v %v", trades[0].PnlUsd, trades[1].PnlUsd)
	}
	if trades[1].EntryPrice != 0.40 || trades[1].Shares != 50 {
		t.Errorf("价格/份额读回错误: %+v", trades[1])
	}
	if trades[1].StrategyTag != "BTC_UP_s12-14_w15" {
		t.Errorf("策略标签错误: %s", trades[1].StrategyTag)
	}
}

// TestDailyRollup 同一天的平仓累进同一行日汇总，跨天分开
func TestDailyRollup(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("打开流水库失败: %v", err)
	}
	defer j.Close()

	day1 := time.Date(2025, 12, 17, 15, 45, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	j.RecordClosed(closedPosition("pos-1", 3.0, day1))
	j.RecordClosed(closedPosition("pos-2", -1.25, day1.Add(time.Hour)))
	j.RecordClosed(closedPosition("pos-3", 2.0, day2))

	history, err := j.DailyHistory(30)
	if err != nil {
		t.Fatalf("查询日汇总失败: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("应有 2 天汇总: %d", len(history))
	}
	// 倒序：最新的天在前
	if history[0].Day != "2025-12-18" || history[0].PnlUsd != 2.0 || history[0].Trades != 1 {
		t.Errorf("day2 汇总错误: %+v", history[0])
	}
	if history[1].Day != "2025-12-17" || history[1].PnlUsd != 1.75 || history[1].Trades != 2 {
		t.Errorf("day1 汇总错误: %+v", history[1])
	}
}

// TestRecordIdempotentByID 同 ID 重复写入不产生重复行
func TestRecordIdempotentByID(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("打开流水库失败: %v", err)
	}
	defer j.Close()

	base := time.Unix(1765985400, 0)
	j.RecordClosed(closedPosition("pos-1", 3.0, base))
	j.RecordClosed(closedPosition("pos-1", 3.0, base))

	trades, err := j.RecentTrades(10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(trades) != 1 {
		t.Errorf("同 ID 应只有一行: %d", len(trades))
	}
}
