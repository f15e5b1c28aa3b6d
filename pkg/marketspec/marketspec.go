package marketspec

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Spec 描述单个资产的轮次市场规格（polymarket up-or-down 市场）。
type Spec struct {
	Asset    string        // 资产符号，如 "BTC"
	Symbol   string        // slug 用小写符号，如 "btc"
	Duration time.Duration // 轮次时长
}

var symbolRe = regexp.MustCompile(`^[a-z0-9]+$`)

// fullNames 常见资产的全名（用于兜底搜索短语）
var fullNames = map[string]string{
	"BTC":  "Bitcoin",
	"ETH":  "Ethereum",
	"SOL":  "Solana",
	"XRP":  "XRP",
	"DOGE": "Dogecoin",
}

func New(asset string, durationSec int) (Spec, error) {
	a := strings.ToUpper(strings.TrimSpace(asset))
	if a == "" {
		return Spec{}, fmt.Errorf("asset 不能为空")
	}
	s := strings.ToLower(a)
	if !symbolRe.MatchString(s) {
		return Spec{}, fmt.Errorf("无效的 asset: %q（仅允许字母/数字）", asset)
	}
	if durationSec <= 0 {
		return Spec{}, fmt.Errorf("durationSec 必须 > 0")
	}
	return Spec{Asset: a, Symbol: s, Duration: time.Duration(durationSec) * time.Second}, nil
}

// Slot 当前槽位 = floor(unix / durationSec)
func (s Spec) Slot(now time.Time) int64 {
	return now.Unix() / int64(s.Duration.Seconds())
}

// SlotStartUnix 槽位起点（unix 秒）
func (s Spec) SlotStartUnix(slot int64) int64 {
	return slot * int64(s.Duration.Seconds())
}

// TimeframeLabel slug 里的周期写法：15m / 1h / 4h，其余按分钟或秒兜底
func (s Spec) TimeframeLabel() string {
	switch s.Duration {
	case 15 * time.Minute:
		return "15m"
	case time.Hour:
		return "1h"
	case 4 * time.Hour:
		return "4h"
	}
	if s.Duration%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(s.Duration.Minutes()))
	}
	return fmt.Sprintf("%ds", int(s.Duration.Seconds()))
}

// SlugPrefix 形如 "btc-up-or-down-15m-"，末尾接槽位起点时间戳
func (s Spec) SlugPrefix() string {
	return fmt.Sprintf("%s-up-or-down-%s-", s.Symbol, s.TimeframeLabel())
}

// Slug 完整 slug，如 "btc-up-or-down-15m-1765985400"
func (s Spec) Slug(slotStartUnix int64) string {
	return s.SlugPrefix() + fmt.Sprintf("%d", slotStartUnix)
}

// SearchPhrases 查询市场源用的短语，按可靠度降序：
// 先是当前槽位的精确 slug，再是 slug 前缀，最后是标题写法不一致时的兜底文本
func (s Spec) SearchPhrases(now time.Time) []string {
	full := fullNames[s.Asset]
	if full == "" {
		full = s.Asset
	}
	phrases := []string{
		s.Slug(s.SlotStartUnix(s.Slot(now))),
		s.SlugPrefix(),
		fmt.Sprintf("%s Up or Down", full),
		fmt.Sprintf("%s up or down", s.Asset),
	}
	if full != s.Asset {
		phrases = append(phrases, fmt.Sprintf("%s price up or down", full))
	}
	return phrases
}

// IsSlugPhrase 判断短语是否为 slug 形式（市场源据此选择 slug 查询还是文本搜索）
func IsSlugPhrase(phrase string) bool {
	return !strings.Contains(phrase, " ") && strings.Contains(phrase, "-")
}
