package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PriceSample 单条现货价格样本
type PriceSample struct {
	Asset     string
	Price     float64
	Timestamp time.Time
}

// ThresholdBucket 分歧幅度的百分比区间 [Min, Max)
// Max <= 0 表示无上界；配置中的桶互不重叠且按 Min 升序排列
type ThresholdBucket struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Unbounded 是否为无上界桶
func (b ThresholdBucket) Unbounded() bool {
	return b.Max <= 0
}

// Contains 判断幅度（绝对值，百分比）是否落入 [Min, Max)
func (b ThresholdBucket) Contains(movePct float64) bool {
	if movePct < b.Min {
		return false
	}
	return b.Unbounded() || movePct < b.Max
}

// Label 桶标签：s12-14（0.12%~0.14%）、s20+（≥0.20%）
// 百分比 ×100 后取整并补零到两位，是下游分析依赖的稳定格式。
// 0.57×100 这类浮点噪声必须走四舍五入，截断会把 57 算成 56
func (b ThresholdBucket) Label() string {
	if b.Unbounded() {
		return fmt.Sprintf("s%02d+", int(math.Round(b.Min*100)))
	}
	return fmt.Sprintf("s%02d-%02d", int(math.Round(b.Min*100)), int(math.Round(b.Max*100)))
}

// DivergenceSignal 分歧信号
// 单个 engine 周期内产生并消费，不持久化
type DivergenceSignal struct {
	Asset        string
	Direction    TokenType // 现货移动方向
	SpotMovePct  float64   // 窗口内现货移动百分比（带符号）
	WindowSec    int       // 测量窗口（秒）
	PolyMid      float64   // 二元市场最新中间价
	PolyAgeSec   float64   // 该中间价的新鲜度（秒）
	Bucket       ThresholdBucket
	BucketLabel  string
	StrategyTag  string
	WindowTag    string
	ThresholdTag string
	Confidence   float64 // ∈ [0,1]
	Timestamp    time.Time
}

// directionTag 方向在标签中的写法
func directionTag(dir TokenType) string {
	return strings.ToUpper(string(dir))
}

// StrategyTag 完整策略标签：{ASSET}_{UP|DOWN}_{桶标签}_w{窗口秒}
// 例：BTC_DOWN_s12-14_w15。格式对下游分析稳定，不可改动
func StrategyTag(asset string, dir TokenType, bucket ThresholdBucket, windowSec int) string {
	return fmt.Sprintf("%s_%s_%s_w%d", strings.ToUpper(asset), directionTag(dir), bucket.Label(), windowSec)
}

// WindowTag 只含窗口维度的子标签：BTC_DOWN_w15
func WindowTag(asset string, dir TokenType, windowSec int) string {
	return fmt.Sprintf("%s_%s_w%d", strings.ToUpper(asset), directionTag(dir), windowSec)
}

// ThresholdTag 只含阈值维度的子标签：BTC_DOWN_s12-14
func ThresholdTag(asset string, dir TokenType, bucket ThresholdBucket) string {
	return fmt.Sprintf("%s_%s_%s", strings.ToUpper(asset), directionTag(dir), bucket.Label())
}
