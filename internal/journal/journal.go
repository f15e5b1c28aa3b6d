package journal

import (
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/betbot/lagbet/internal/domain"
	"github.com/betbot/lagbet/pkg/logger"
)

var log = logger.WithField("component", "journal")

// schema 建表语句；Open 时幂等执行
// 金额列存十进制字符串，避免浮点累加误差污染日报
const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id            TEXT PRIMARY KEY,
	asset         TEXT NOT NULL,
	direction     TEXT NOT NULL,
	market_slug   TEXT NOT NULL,
	strategy_tag  TEXT NOT NULL DEFAULT '',
	entry_price   TEXT NOT NULL,
	exit_price    TEXT NOT NULL,
	shares        TEXT NOT NULL,
	pnl_usd       TEXT NOT NULL,
	pnl_pct       REAL NOT NULL,
	exit_reason   TEXT NOT NULL,
	hold_time_sec REAL NOT NULL,
	entered_at    INTEGER NOT NULL,
	exited_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_exited_at ON trades(exited_at);
CREATE INDEX IF NOT EXISTS idx_trades_strategy_tag ON trades(strategy_tag);

CREATE TABLE IF NOT EXISTS daily_pnl (
	day      TEXT PRIMARY KEY,
	pnl_usd  TEXT NOT NULL,
	trades   INTEGER NOT NULL
);
`

// Journal 交易流水：平仓记录 + 按日盈亏汇总
// 单连接足够（写入频率是人肉级别的），省掉 sqlite 的并发写麻烦
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open 打开（必要时创建）流水库并执行建表
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "打开流水库失败")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "初始化流水库表失败")
	}

	log.Infof("流水库已就绪: %s", path)
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}

// RecordClosed 记录一笔平仓并更新当日汇总（按出场时间的 UTC 日期归档）
func (j *Journal) RecordClosed(c domain.ClosedPosition) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return errors.Wrap(err, "开启事务失败")
	}
	defer tx.Rollback()

	pnl := decimal.NewFromFloat(c.PnlUsd).Round(4)
	_, err = tx.Exec(`INSERT OR REPLACE INTO trades
		(id, asset, direction, market_slug, strategy_tag, entry_price, exit_price, shares,
		 pnl_usd, pnl_pct, exit_reason, hold_time_sec, entered_at, exited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Asset, string(c.Direction), c.MarketSlug, c.StrategyTag,
		decimal.NewFromFloat(c.EntryPrice).String(),
		decimal.NewFromFloat(c.ExitPrice).String(),
		decimal.NewFromFloat(c.Shares).String(),
		pnl.String(), c.PnlPct, string(c.ExitReason), c.HoldTimeSec,
		c.EnteredAt.Unix(), c.ExitedAt.Unix())
	if err != nil {
		return errors.Wrap(err, "写入平仓记录失败")
	}

	day := c.ExitedAt.UTC().Format("2006-01-02")
	var prev string
	var count int
	err = tx.QueryRow(`SELECT pnl_usd, trades FROM daily_pnl WHERE day = ?`, day).Scan(&prev, &count)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`INSERT INTO daily_pnl (day, pnl_usd, trades) VALUES (?, ?, 1)`, day, pnl.String())
	case err == nil:
		prevDec, decErr := decimal.NewFromString(prev)
		if decErr != nil {
			prevDec = decimal.Zero
		}
		_, err = tx.Exec(`UPDATE daily_pnl SET pnl_usd = ?, trades = ? WHERE day = ?`,
			prevDec.Add(pnl).String(), count+1, day)
	}
	if err != nil {
		return errors.Wrap(err, "更新日汇总失败")
	}

	return errors.Wrap(tx.Commit(), "提交流水事务失败")
}

// TradeRecord 查询返回的平仓记录
type TradeRecord struct {
	ID          string    `json:"id"`
	Asset       string    `json:"asset"`
	Direction   string    `json:"direction"`
	MarketSlug  string    `json:"marketSlug"`
	StrategyTag string    `json:"strategyTag"`
	EntryPrice  float64   `json:"entryPrice"`
	ExitPrice   float64   `json:"exitPrice"`
	Shares      float64   `json:"shares"`
	PnlUsd      float64   `json:"pnlUsd"`
	PnlPct      float64   `json:"pnlPct"`
	ExitReason  string    `json:"exitReason"`
	HoldTimeSec float64   `json:"holdTimeSec"`
	EnteredAt   time.Time `json:"enteredAt"`
	ExitedAt    time.Time `json:"exitedAt"`
}

// RecentTrades 按出场时间倒序取最近 limit 笔
func (j *Journal) RecentTrades(limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`SELECT id, asset, direction, market_slug, strategy_tag,
		entry_price, exit_price, shares, pnl_usd, pnl_pct, exit_reason, hold_time_sec,
		entered_at, exited_at
		FROM trades ORDER BY exited_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "查询平仓记录失败")
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var r TradeRecord
		var entry, exit, shares, pnl string
		var enteredAt, exitedAt int64
		if err := rows.Scan(&r.ID, &r.Asset, &r.Direction, &r.MarketSlug, &r.StrategyTag,
			&entry, &exit, &shares, &pnl, &r.PnlPct, &r.ExitReason, &r.HoldTimeSec,
			&enteredAt, &exitedAt); err != nil {
			return nil, errors.Wrap(err, "读取平仓记录失败")
		}
		r.EntryPrice = decimalFloat(entry)
		r.ExitPrice = decimalFloat(exit)
		r.Shares = decimalFloat(shares)
		r.PnlUsd = decimalFloat(pnl)
		r.EnteredAt = time.Unix(enteredAt, 0)
		r.ExitedAt = time.Unix(exitedAt, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DailyPnl 单日汇总
type DailyPnl struct {
	Day    string  `json:"day"`
	PnlUsd float64 `json:"pnlUsd"`
	Trades int     `json:"trades"`
}

// DailyHistory 最近 days 天的日汇总（倒序）
func (j *Journal) DailyHistory(days int) ([]DailyPnl, error) {
	if days <= 0 {
		days = 30
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`SELECT day, pnl_usd, trades FROM daily_pnl ORDER BY day DESC LIMIT ?`, days)
	if err != nil {
		return nil, errors.Wrap(err, "查询日汇总失败")
	}
	defer rows.Close()

	var out []DailyPnl
	for rows.Next() {
		var d DailyPnl
		var pnl string
		if err := rows.Scan(&d.Day, &pnl, &d.Trades); err != nil {
			return nil, errors.Wrap(err, "读取日汇总失败")
		}
		d.PnlUsd = decimalFloat(pnl)
		out = append(out, d)
	}
	return out, rows.Err()
}

func decimalFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
