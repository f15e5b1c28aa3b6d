package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// watch：lagbet 控制面的终端看板。
// 只读轮询 /api/*，唯一的写操作是 z 键归零当日盈亏。

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true)
)

type statusPayload struct {
	Running     bool     `json:"running"`
	DryRun      bool     `json:"dryRun"`
	Assets      []string `json:"assets"`
	OpenCount   int      `json:"openCount"`
	DailyPnlUsd float64  `json:"dailyPnlUsd"`
	Markets     map[string]struct {
		Slug      string    `json:"Slug"`
		UpPrice   float64   `json:"UpPrice"`
		DownPrice float64   `json:"DownPrice"`
		ExpiresAt time.Time `json:"ExpiresAt"`
	} `json:"markets"`
}

type positionRow struct {
	Asset        string    `json:"Asset"`
	Direction    string    `json:"Direction"`
	EntryPrice   float64   `json:"EntryPrice"`
	CurrentPrice float64   `json:"CurrentPrice"`
	Shares       float64   `json:"Shares"`
	CostUsd      float64   `json:"CostUsd"`
	StrategyTag  string    `json:"StrategyTag"`
	EnteredAt    time.Time `json:"EnteredAt"`
}

type statsPayload struct {
	Stats struct {
		TradeCount  int     `json:"tradeCount"`
		Wins        int     `json:"wins"`
		Losses      int     `json:"losses"`
		WinRate     float64 `json:"winRate"`
		NetPnlUsd   float64 `json:"netPnlUsd"`
		DailyPnlUsd float64 `json:"dailyPnlUsd"`
	} `json:"stats"`
}

type tradeRow struct {
	Asset      string    `json:"asset"`
	Direction  string    `json:"direction"`
	EntryPrice float64   `json:"entryPrice"`
	ExitPrice  float64   `json:"exitPrice"`
	PnlUsd     float64   `json:"pnlUsd"`
	PnlPct     float64   `json:"pnlPct"`
	ExitReason string    `json:"exitReason"`
	ExitedAt   time.Time `json:"exitedAt"`
}

// snapshot 一轮轮询聚合出的看板数据
type snapshot struct {
	status    statusPayload
	positions []positionRow
	stats     statsPayload
	trades    []tradeRow
	fetchedAt time.Time
	err       error
}

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *apiClient) getJSON(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("X-API-Token", c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

func (c *apiClient) resetDailyPnl() error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/pnl/reset", nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("X-API-Token", c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pnl/reset: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *apiClient) fetch() snapshot {
	snap := snapshot{fetchedAt: time.Now()}

	if err := c.getJSON("/api/status", &snap.status); err != nil {
		snap.err = err
		return snap
	}

	var pos struct {
		Positions []positionRow `json:"positions"`
	}
	if err := c.getJSON("/api/positions", &pos); err != nil {
		snap.err = err
		return snap
	}
	snap.positions = pos.Positions

	if err := c.getJSON("/api/stats", &snap.stats); err != nil {
		snap.err = err
		return snap
	}

	var trades struct {
		Trades []tradeRow `json:"trades"`
	}
	if err := c.getJSON("/api/trades?limit=10", &trades); err != nil {
		snap.err = err
		return snap
	}
	snap.trades = trades.Trades
	return snap
}

type tickMsg time.Time

type model struct {
	api      *apiClient
	interval time.Duration
	snap     snapshot
	lastErr  error
	width    int
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.pollCmd(), tickCmd(m.interval))
}

func (m model) pollCmd() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		return api.fetch()
	}
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.pollCmd()
		case "z":
			api := m.api
			return m, func() tea.Msg {
				if err := api.resetDailyPnl(); err != nil {
					return snapshot{err: err, fetchedAt: time.Now()}
				}
				return api.fetch()
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(m.pollCmd(), tickCmd(m.interval))
	case snapshot:
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			m.snap = msg
			m.lastErr = nil
		}
	}
	return m, nil
}

func pnlStyle(v float64) lipgloss.Style {
	if v < 0 {
		return downStyle
	}
	return upStyle
}

func (m model) View() string {
	var b strings.Builder

	mode := "实盘"
	if m.snap.status.DryRun {
		mode = "干跑"
	}
	running := "运行中"
	if !m.snap.status.Running {
		running = "已停止"
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf(
		" lagbet 看板 │ %s │ %s │ 资产 %s │ 当日盈亏 $%.2f ",
		running, mode,
		strings.Join(m.snap.status.Assets, ","),
		m.snap.status.DailyPnlUsd,
	)))
	b.WriteString("\n\n")

	if m.lastErr != nil {
		b.WriteString(errStyle.Render("⚠ 拉取失败: "+m.lastErr.Error()) + "\n\n")
	}

	// 当前轮次市场
	b.WriteString(titleStyle.Render("市场") + "\n")
	var marketLines []string
	assets := make([]string, 0, len(m.snap.status.Markets))
	for asset := range m.snap.status.Markets {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		mkt := m.snap.status.Markets[asset]
		remain := time.Until(mkt.ExpiresAt).Round(time.Second)
		if remain < 0 {
			remain = 0
		}
		marketLines = append(marketLines, fmt.Sprintf(
			"%-5s %s %s  剩余 %s  %s",
			asset,
			upStyle.Render(fmt.Sprintf("UP %.3f", mkt.UpPrice)),
			downStyle.Render(fmt.Sprintf("DOWN %.3f", mkt.DownPrice)),
			remain,
			dimStyle.Render(mkt.Slug),
		))
	}
	if len(marketLines) == 0 {
		marketLines = append(marketLines, dimStyle.Render("（无活跃市场）"))
	}
	b.WriteString(borderStyle.Render(strings.Join(marketLines, "\n")) + "\n\n")

	// 持仓
	b.WriteString(titleStyle.Render(fmt.Sprintf("持仓（%d）", len(m.snap.positions))) + "\n")
	var posLines []string
	for _, p := range m.snap.positions {
		unrealized := (p.CurrentPrice - p.EntryPrice) * p.Shares
		posLines = append(posLines, fmt.Sprintf(
			"%-5s %-4s 入场 %.3f → 现价 %.3f  %.2f 份  %s  %s",
			p.Asset, p.Direction, p.EntryPrice, p.CurrentPrice, p.Shares,
			pnlStyle(unrealized).Render(fmt.Sprintf("$%+.2f", unrealized)),
			dimStyle.Render(p.StrategyTag),
		))
	}
	if len(posLines) == 0 {
		posLines = append(posLines, dimStyle.Render("（空仓）"))
	}
	b.WriteString(borderStyle.Render(strings.Join(posLines, "\n")) + "\n\n")

	// 统计
	st := m.snap.stats.Stats
	statsLine := fmt.Sprintf(
		"交易 %d 笔  胜 %d / 负 %d  胜率 %.1f%%  净盈亏 %s",
		st.TradeCount, st.Wins, st.Losses, st.WinRate*100,
		pnlStyle(st.NetPnlUsd).Render(fmt.Sprintf("$%+.2f", st.NetPnlUsd)),
	)
	b.WriteString(titleStyle.Render("统计") + "\n")
	b.WriteString(borderStyle.Render(statsLine) + "\n\n")

	// 最近成交
	b.WriteString(titleStyle.Render("最近成交") + "\n")
	var tradeLines []string
	for _, t := range m.snap.trades {
		tradeLines = append(tradeLines, fmt.Sprintf(
			"%s  %-5s %-4s %.3f→%.3f  %s (%+.1f%%)  %s",
			t.ExitedAt.Local().Format("15:04:05"),
			t.Asset, t.Direction, t.EntryPrice, t.ExitPrice,
			pnlStyle(t.PnlUsd).Render(fmt.Sprintf("$%+.2f", t.PnlUsd)),
			t.PnlPct*100,
			dimStyle.Render(t.ExitReason),
		))
	}
	if len(tradeLines) == 0 {
		tradeLines = append(tradeLines, dimStyle.Render("（暂无成交）"))
	}
	b.WriteString(borderStyle.Render(strings.Join(tradeLines, "\n")) + "\n\n")

	b.WriteString(dimStyle.Render(fmt.Sprintf(
		"刷新 %s │ q 退出  r 刷新  z 归零当日盈亏",
		m.snap.fetchedAt.Format("15:04:05"),
	)))
	b.WriteString("\n")
	return b.String()
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8808", "控制面 API 地址")
	interval := flag.Duration("interval", 2*time.Second, "轮询间隔")
	flag.Parse()

	api := &apiClient{
		baseURL: strings.TrimRight(*addr, "/"),
		token:   os.Getenv("LAGBET_API_TOKEN"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}

	p := tea.NewProgram(model{api: api, interval: *interval}, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "看板退出:", err)
		os.Exit(1)
	}
}
