package marketspec

import (
	"testing"
	"time"
)

// TestSlotMath 测试槽位计算：floor(unix / durationSec)
func TestSlotMath(t *testing.T) {
	spec, err := New("BTC", 900)
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}

	now := time.Unix(1765985400, 0) // 恰为 900 的整数倍
	slot := spec.Slot(now)
	if slot != 1765985400/900 {
		t.Errorf("Slot = %d，期望 %d", slot, 1765985400/900)
	}
	if spec.SlotStartUnix(slot) != 1765985400 {
		t.Errorf("SlotStartUnix = %d，期望 1765985400", spec.SlotStartUnix(slot))
	}

	// 槽位中途时间戳归属同一槽位
	mid := time.Unix(1765985400+450, 0)
	if spec.Slot(mid) != slot {
		t.Errorf("槽位中途的 Slot 应该不变")
	}
	// 下一槽位
	next := time.Unix(1765985400+900, 0)
	if spec.Slot(next) != slot+1 {
		t.Errorf("跨界后 Slot 应该 +1")
	}
}

// TestSlugFormat 测试 slug 格式
func TestSlugFormat(t *testing.T) {
	spec, _ := New("btc", 900)
	if spec.Asset != "BTC" || spec.Symbol != "btc" {
		t.Errorf("符号归一化错误: Asset=%s Symbol=%s", spec.Asset, spec.Symbol)
	}
	if got := spec.SlugPrefix(); got != "btc-up-or-down-15m-" {
		t.Errorf("SlugPrefix = %q", got)
	}
	if got := spec.Slug(1765985400); got != "btc-up-or-down-15m-1765985400" {
		t.Errorf("Slug = %q", got)
	}

	hourly, _ := New("ETH", 3600)
	if got := hourly.TimeframeLabel(); got != "1h" {
		t.Errorf("TimeframeLabel = %q，期望 1h", got)
	}
}

// TestSearchPhrases 测试兜底搜索短语：slug 优先，文本兜底
func TestSearchPhrases(t *testing.T) {
	spec, _ := New("BTC", 900)
	now := time.Unix(1765985400, 0)
	phrases := spec.SearchPhrases(now)

	if len(phrases) < 3 {
		t.Fatalf("短语数量不足: %v", phrases)
	}
	if phrases[0] != "btc-up-or-down-15m-1765985400" {
		t.Errorf("第一个短语应该是精确 slug，实际为 %q", phrases[0])
	}
	if !IsSlugPhrase(phrases[0]) || !IsSlugPhrase(phrases[1]) {
		t.Error("slug 形式短语应该被识别为 slug")
	}
	if IsSlugPhrase("Bitcoin Up or Down") {
		t.Error("文本短语不应被识别为 slug")
	}

	found := false
	for _, p := range phrases {
		if p == "Bitcoin Up or Down" {
			found = true
		}
	}
	if !found {
		t.Errorf("短语里应该包含全名写法: %v", phrases)
	}
}

// TestNewValidation 测试规格校验
func TestNewValidation(t *testing.T) {
	if _, err := New("", 900); err == nil {
		t.Error("空 asset 应该报错")
	}
	if _, err := New("BTC/USD", 900); err == nil {
		t.Error("非法字符应该报错")
	}
	if _, err := New("BTC", 0); err == nil {
		t.Error("durationSec <= 0 应该报错")
	}
}
