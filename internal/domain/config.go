package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// 默认配置值
const (
	DefaultMarketDurationSec      = 900 // 15 分钟轮次
	DefaultMinSpotMovePct         = 0.12
	DefaultMaxPolyFreshnessSec    = 10.0
	DefaultMaxPolyMidForEntry     = 0.85
	DefaultSizeUsd                = 10.0
	DefaultMaxPositionSizeUsd     = 50.0
	DefaultMaxConcurrentPositions = 2
	DefaultMakerTimeoutMs         = 4000
	DefaultTakerBufferCents       = 2
	DefaultTakeProfitPct          = 15.0
	DefaultStopLossPct            = 25.0
	DefaultTrailingStopPct        = 8.0
	DefaultTrailingActivationPct  = 10.0
	DefaultForceExitSec           = 45
	DefaultTimeExitSec            = 120
	DefaultMaxDailyLossUsd        = 100.0
	DefaultCooldownAfterLossSec   = 180
	DefaultCooldownAfterExitSec   = 30
)

// Config 决策核心配置
// 全部字段可通过 updateConfig 热更新；已开仓位在下一次 tick 按新配置评估，
// 不回溯重算历史决策
type Config struct {
	// Assets 跟踪资产列表，如 ["BTC", "ETH"]
	Assets []string `yaml:"assets" json:"assets"`
	// MarketDurationSec 市场轮次时长（秒）
	MarketDurationSec int `yaml:"marketDurationSec" json:"marketDurationSec"`

	// Windows 分歧测量窗口（秒），升序
	Windows []int `yaml:"windows" json:"windows"`
	// ThresholdBuckets 幅度分桶（百分比），按 Min 升序且互不重叠；
	// 最后一个桶 Max<=0 表示无上界
	ThresholdBuckets []ThresholdBucket `yaml:"thresholdBuckets" json:"thresholdBuckets"`
	// MinSpotMovePct 触发信号的最小现货移动（百分比）
	MinSpotMovePct float64 `yaml:"minSpotMovePct" json:"minSpotMovePct"`
	// MaxPolyFreshnessSec 二元市场报价的最大可用年龄（秒）
	MaxPolyFreshnessSec float64 `yaml:"maxPolyFreshnessSec" json:"maxPolyFreshnessSec"`
	// MaxPolyMidForEntry 入场时二元市场中间价上限（已定价完的行情不追）
	MaxPolyMidForEntry float64 `yaml:"maxPolyMidForEntry" json:"maxPolyMidForEntry"`

	// DefaultSizeUsd 单笔下单金额（USDC）
	DefaultSizeUsd float64 `yaml:"defaultSizeUsd" json:"defaultSizeUsd"`
	// MaxPositionSizeUsd 单笔金额硬上限（USDC）
	MaxPositionSizeUsd float64 `yaml:"maxPositionSizeUsd" json:"maxPositionSizeUsd"`
	// MaxConcurrentPositions 最大并发仓位数
	MaxConcurrentPositions int `yaml:"maxConcurrentPositions" json:"maxConcurrentPositions"`

	// PreferMaker 默认 true（先挂 post-only，超时再转 taker）
	// 用指针是为了支持"默认 true"同时允许显式关闭
	PreferMaker *bool `yaml:"preferMaker" json:"preferMaker"`
	// MakerTimeoutMs maker 单等待成交的超时（毫秒）
	MakerTimeoutMs int `yaml:"makerTimeoutMs" json:"makerTimeoutMs"`
	// TakerBufferCents taker 回退时在信号价上加的缓冲（分），最终价 ≤ 0.99
	TakerBufferCents int `yaml:"takerBufferCents" json:"takerBufferCents"`
	// NegRisk 市场未声明时的 negRisk 默认值
	NegRisk bool `yaml:"negRisk" json:"negRisk"`

	// TakeProfitPct 止盈阈值（百分比）
	TakeProfitPct float64 `yaml:"takeProfitPct" json:"takeProfitPct"`
	// StopLossPct 止损阈值（百分比，正数）
	StopLossPct float64 `yaml:"stopLossPct" json:"stopLossPct"`
	// TrailingStopPct 移动止损回撤阈值（相对高水位的百分比）
	TrailingStopPct float64 `yaml:"trailingStopPct" json:"trailingStopPct"`
	// TrailingActivationPct 激活移动止损所需的浮盈（百分比）
	TrailingActivationPct float64 `yaml:"trailingActivationPct" json:"trailingActivationPct"`
	// ForceExitSec 距到期不足该秒数时强制出场
	ForceExitSec int `yaml:"forceExitSec" json:"forceExitSec"`
	// TimeExitSec 距到期不足该秒数时时间出场（软截止，须大于 ForceExitSec）
	TimeExitSec int `yaml:"timeExitSec" json:"timeExitSec"`

	// MaxDailyLossUsd 当日最大亏损（USDC），达到后停止开仓
	MaxDailyLossUsd float64 `yaml:"maxDailyLossUsd" json:"maxDailyLossUsd"`
	// CooldownAfterLossSec 止损后的冷却期（秒）
	CooldownAfterLossSec int `yaml:"cooldownAfterLossSec" json:"cooldownAfterLossSec"`
	// CooldownAfterExitSec 任意出场后的冷却期（秒）
	CooldownAfterExitSec int `yaml:"cooldownAfterExitSec" json:"cooldownAfterExitSec"`

	// DryRun 干跑模式：不发真实订单，按报价直接记账
	DryRun bool `yaml:"dryRun" json:"dryRun"`
}

// ApplyDefaults 填充零值字段
func (c *Config) ApplyDefaults() {
	if len(c.Assets) == 0 {
		c.Assets = []string{"BTC", "ETH"}
	}
	if c.MarketDurationSec <= 0 {
		c.MarketDurationSec = DefaultMarketDurationSec
	}
	if len(c.Windows) == 0 {
		c.Windows = []int{15, 30, 60}
	}
	if len(c.ThresholdBuckets) == 0 {
		c.ThresholdBuckets = []ThresholdBucket{
			{Min: 0.12, Max: 0.14},
			{Min: 0.14, Max: 0.17},
			{Min: 0.17, Max: 0.20},
			{Min: 0.20, Max: 0},
		}
	}
	if c.MinSpotMovePct <= 0 {
		c.MinSpotMovePct = DefaultMinSpotMovePct
	}
	if c.MaxPolyFreshnessSec <= 0 {
		c.MaxPolyFreshnessSec = DefaultMaxPolyFreshnessSec
	}
	if c.MaxPolyMidForEntry <= 0 {
		c.MaxPolyMidForEntry = DefaultMaxPolyMidForEntry
	}
	if c.DefaultSizeUsd <= 0 {
		c.DefaultSizeUsd = DefaultSizeUsd
	}
	if c.MaxPositionSizeUsd <= 0 {
		c.MaxPositionSizeUsd = DefaultMaxPositionSizeUsd
	}
	if c.MaxConcurrentPositions <= 0 {
		c.MaxConcurrentPositions = DefaultMaxConcurrentPositions
	}
	if c.PreferMaker == nil {
		def := true
		c.PreferMaker = &def
	}
	if c.MakerTimeoutMs <= 0 {
		c.MakerTimeoutMs = DefaultMakerTimeoutMs
	}
	if c.TakerBufferCents <= 0 {
		c.TakerBufferCents = DefaultTakerBufferCents
	}
	if c.TakeProfitPct <= 0 {
		c.TakeProfitPct = DefaultTakeProfitPct
	}
	if c.StopLossPct <= 0 {
		c.StopLossPct = DefaultStopLossPct
	}
	if c.TrailingStopPct <= 0 {
		c.TrailingStopPct = DefaultTrailingStopPct
	}
	if c.TrailingActivationPct <= 0 {
		c.TrailingActivationPct = DefaultTrailingActivationPct
	}
	if c.ForceExitSec <= 0 {
		c.ForceExitSec = DefaultForceExitSec
	}
	if c.TimeExitSec <= 0 {
		c.TimeExitSec = DefaultTimeExitSec
	}
	if c.MaxDailyLossUsd <= 0 {
		c.MaxDailyLossUsd = DefaultMaxDailyLossUsd
	}
	if c.CooldownAfterLossSec <= 0 {
		c.CooldownAfterLossSec = DefaultCooldownAfterLossSec
	}
	if c.CooldownAfterExitSec <= 0 {
		c.CooldownAfterExitSec = DefaultCooldownAfterExitSec
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config 不能为空")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("assets 不能为空")
	}
	for i, a := range c.Assets {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("assets[%d] 不能为空白", i)
		}
	}
	if c.MarketDurationSec <= 0 {
		return fmt.Errorf("marketDurationSec 必须 > 0")
	}
	if len(c.Windows) == 0 {
		return fmt.Errorf("windows 不能为空")
	}
	if !sort.IntsAreSorted(c.Windows) {
		return fmt.Errorf("windows 必须升序")
	}
	for i, w := range c.Windows {
		if w <= 0 {
			return fmt.Errorf("windows[%d] 必须 > 0", i)
		}
	}
	if len(c.ThresholdBuckets) == 0 {
		return fmt.Errorf("thresholdBuckets 不能为空")
	}
	for i, b := range c.ThresholdBuckets {
		if b.Min < 0 {
			return fmt.Errorf("thresholdBuckets[%d].min 不能为负数", i)
		}
		if !b.Unbounded() && b.Max <= b.Min {
			return fmt.Errorf("thresholdBuckets[%d] 区间无效: [%v, %v)", i, b.Min, b.Max)
		}
		if i > 0 {
			prev := c.ThresholdBuckets[i-1]
			if prev.Unbounded() {
				return fmt.Errorf("thresholdBuckets[%d] 无上界桶后不能再有桶", i-1)
			}
			if b.Min < prev.Max {
				return fmt.Errorf("thresholdBuckets[%d] 与前一个桶重叠", i)
			}
		}
	}
	if c.MinSpotMovePct <= 0 {
		return fmt.Errorf("minSpotMovePct 必须 > 0")
	}
	if c.MaxPolyFreshnessSec <= 0 {
		return fmt.Errorf("maxPolyFreshnessSec 必须 > 0")
	}
	if c.MaxPolyMidForEntry <= 0 || c.MaxPolyMidForEntry >= 1 {
		return fmt.Errorf("maxPolyMidForEntry 必须在 (0, 1) 内")
	}
	if c.DefaultSizeUsd <= 0 {
		return fmt.Errorf("defaultSizeUsd 必须 > 0")
	}
	if c.MaxPositionSizeUsd < c.DefaultSizeUsd {
		return fmt.Errorf("maxPositionSizeUsd 不能小于 defaultSizeUsd")
	}
	if c.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("maxConcurrentPositions 必须 > 0")
	}
	if c.MakerTimeoutMs < 0 {
		return fmt.Errorf("makerTimeoutMs 不能为负数")
	}
	if c.TakerBufferCents < 0 {
		return fmt.Errorf("takerBufferCents 不能为负数")
	}
	if c.TakeProfitPct <= 0 || c.StopLossPct <= 0 {
		return fmt.Errorf("takeProfitPct/stopLossPct 必须 > 0")
	}
	if c.TrailingStopPct <= 0 || c.TrailingActivationPct <= 0 {
		return fmt.Errorf("trailingStopPct/trailingActivationPct 必须 > 0")
	}
	if c.ForceExitSec <= 0 {
		return fmt.Errorf("forceExitSec 必须 > 0")
	}
	if c.TimeExitSec <= c.ForceExitSec {
		return fmt.Errorf("timeExitSec 必须大于 forceExitSec")
	}
	if c.TimeExitSec >= c.MarketDurationSec {
		return fmt.Errorf("timeExitSec 必须小于 marketDurationSec")
	}
	if c.MaxDailyLossUsd <= 0 {
		return fmt.Errorf("maxDailyLossUsd 必须 > 0")
	}
	if c.CooldownAfterLossSec < 0 || c.CooldownAfterExitSec < 0 {
		return fmt.Errorf("冷却期不能为负数")
	}
	return nil
}

// EntrySizeUsd 实际下单金额 = min(defaultSizeUsd, maxPositionSizeUsd)
func (c *Config) EntrySizeUsd() float64 {
	return math.Min(c.DefaultSizeUsd, c.MaxPositionSizeUsd)
}

// MaxWindowSec 最大窗口（秒），detector 的样本保留期
func (c *Config) MaxWindowSec() int {
	maxW := 0
	for _, w := range c.Windows {
		if w > maxW {
			maxW = w
		}
	}
	return maxW
}

// Clone 深拷贝（切片独立）
func (c *Config) Clone() Config {
	out := *c
	out.Assets = append([]string(nil), c.Assets...)
	out.Windows = append([]int(nil), c.Windows...)
	out.ThresholdBuckets = append([]ThresholdBucket(nil), c.ThresholdBuckets...)
	if c.PreferMaker != nil {
		v := *c.PreferMaker
		out.PreferMaker = &v
	}
	return out
}

// ConfigPatch 热更新用的增量配置：nil 字段表示不变
type ConfigPatch struct {
	Assets                 []string          `json:"assets,omitempty" yaml:"assets,omitempty"`
	MarketDurationSec      *int              `json:"marketDurationSec,omitempty" yaml:"marketDurationSec,omitempty"`
	Windows                []int             `json:"windows,omitempty" yaml:"windows,omitempty"`
	ThresholdBuckets       []ThresholdBucket `json:"thresholdBuckets,omitempty" yaml:"thresholdBuckets,omitempty"`
	MinSpotMovePct         *float64          `json:"minSpotMovePct,omitempty" yaml:"minSpotMovePct,omitempty"`
	MaxPolyFreshnessSec    *float64          `json:"maxPolyFreshnessSec,omitempty" yaml:"maxPolyFreshnessSec,omitempty"`
	MaxPolyMidForEntry     *float64          `json:"maxPolyMidForEntry,omitempty" yaml:"maxPolyMidForEntry,omitempty"`
	DefaultSizeUsd         *float64          `json:"defaultSizeUsd,omitempty" yaml:"defaultSizeUsd,omitempty"`
	MaxPositionSizeUsd     *float64          `json:"maxPositionSizeUsd,omitempty" yaml:"maxPositionSizeUsd,omitempty"`
	MaxConcurrentPositions *int              `json:"maxConcurrentPositions,omitempty" yaml:"maxConcurrentPositions,omitempty"`
	PreferMaker            *bool             `json:"preferMaker,omitempty" yaml:"preferMaker,omitempty"`
	MakerTimeoutMs         *int              `json:"makerTimeoutMs,omitempty" yaml:"makerTimeoutMs,omitempty"`
	TakerBufferCents       *int              `json:"takerBufferCents,omitempty" yaml:"takerBufferCents,omitempty"`
	NegRisk                *bool             `json:"negRisk,omitempty" yaml:"negRisk,omitempty"`
	TakeProfitPct          *float64          `json:"takeProfitPct,omitempty" yaml:"takeProfitPct,omitempty"`
	StopLossPct            *float64          `json:"stopLossPct,omitempty" yaml:"stopLossPct,omitempty"`
	TrailingStopPct        *float64          `json:"trailingStopPct,omitempty" yaml:"trailingStopPct,omitempty"`
	TrailingActivationPct  *float64          `json:"trailingActivationPct,omitempty" yaml:"trailingActivationPct,omitempty"`
	ForceExitSec           *int              `json:"forceExitSec,omitempty" yaml:"forceExitSec,omitempty"`
	TimeExitSec            *int              `json:"timeExitSec,omitempty" yaml:"timeExitSec,omitempty"`
	MaxDailyLossUsd        *float64          `json:"maxDailyLossUsd,omitempty" yaml:"maxDailyLossUsd,omitempty"`
	CooldownAfterLossSec   *int              `json:"cooldownAfterLossSec,omitempty" yaml:"cooldownAfterLossSec,omitempty"`
	CooldownAfterExitSec   *int              `json:"cooldownAfterExitSec,omitempty" yaml:"cooldownAfterExitSec,omitempty"`
	DryRun                 *bool             `json:"dryRun,omitempty" yaml:"dryRun,omitempty"`
}

// Apply 把非 nil 字段合并进目标配置
func (p *ConfigPatch) Apply(c *Config) {
	if p == nil || c == nil {
		return
	}
	if p.Assets != nil {
		c.Assets = append([]string(nil), p.Assets...)
	}
	if p.MarketDurationSec != nil {
		c.MarketDurationSec = *p.MarketDurationSec
	}
	if p.Windows != nil {
		c.Windows = append([]int(nil), p.Windows...)
	}
	if p.ThresholdBuckets != nil {
		c.ThresholdBuckets = append([]ThresholdBucket(nil), p.ThresholdBuckets...)
	}
	if p.MinSpotMovePct != nil {
		c.MinSpotMovePct = *p.MinSpotMovePct
	}
	if p.MaxPolyFreshnessSec != nil {
		c.MaxPolyFreshnessSec = *p.MaxPolyFreshnessSec
	}
	if p.MaxPolyMidForEntry != nil {
		c.MaxPolyMidForEntry = *p.MaxPolyMidForEntry
	}
	if p.DefaultSizeUsd != nil {
		c.DefaultSizeUsd = *p.DefaultSizeUsd
	}
	if p.MaxPositionSizeUsd != nil {
		c.MaxPositionSizeUsd = *p.MaxPositionSizeUsd
	}
	if p.MaxConcurrentPositions != nil {
		c.MaxConcurrentPositions = *p.MaxConcurrentPositions
	}
	if p.PreferMaker != nil {
		v := *p.PreferMaker
		c.PreferMaker = &v
	}
	if p.MakerTimeoutMs != nil {
		c.MakerTimeoutMs = *p.MakerTimeoutMs
	}
	if p.TakerBufferCents != nil {
		c.TakerBufferCents = *p.TakerBufferCents
	}
	if p.NegRisk != nil {
		c.NegRisk = *p.NegRisk
	}
	if p.TakeProfitPct != nil {
		c.TakeProfitPct = *p.TakeProfitPct
	}
	if p.StopLossPct != nil {
		c.StopLossPct = *p.StopLossPct
	}
	if p.TrailingStopPct != nil {
		c.TrailingStopPct = *p.TrailingStopPct
	}
	if p.TrailingActivationPct != nil {
		c.TrailingActivationPct = *p.TrailingActivationPct
	}
	if p.ForceExitSec != nil {
		c.ForceExitSec = *p.ForceExitSec
	}
	if p.TimeExitSec != nil {
		c.TimeExitSec = *p.TimeExitSec
	}
	if p.MaxDailyLossUsd != nil {
		c.MaxDailyLossUsd = *p.MaxDailyLossUsd
	}
	if p.CooldownAfterLossSec != nil {
		c.CooldownAfterLossSec = *p.CooldownAfterLossSec
	}
	if p.CooldownAfterExitSec != nil {
		c.CooldownAfterExitSec = *p.CooldownAfterExitSec
	}
	if p.DryRun != nil {
		c.DryRun = *p.DryRun
	}
}
