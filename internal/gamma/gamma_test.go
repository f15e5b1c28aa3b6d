package gamma

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const marketJSON = `[{
	"id": "500123",
	"question": "Bitcoin Up or Down - June 17, 3:30PM ET",
	"conditionId": "0xabc123",
	"slug": "btc-up-or-down-15m-1765985400",
	"clobTokenIds": "[\"111\",\"222\"]",
	"outcomes": "[\"Up\",\"Down\"]",
	"outcomePrices": "[\"0.52\",\"0.48\"]",
	"endDate": "2025-12-17T15:45:00Z",
	"active": true,
	"closed": false,
	"negRisk": false
}]`

// TestQueryParsesNestedArrays clobTokenIds/outcomes/outcomePrices 是 JSON 字符串数组
func TestQueryParsesNestedArrays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("意外的路径: %s", r.URL.Path)
		}
		if r.URL.Query().Get("slug") != "btc-up-or-down-15m-1765985400" {
			t.Errorf("slug 短语应走 slug 参数: %v", r.URL.Query())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(marketJSON))
	}))
	defer srv.Close()

	c := New(srv.URL)
	candidates, err := c.Query(context.Background(), "BTC", []string{"btc-up-or-down-15m-1765985400"})
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("应该有 1 个候选，实际 %d", len(candidates))
	}

	cand := candidates[0]
	if cand.ConditionID != "0xabc123" || cand.Slug != "btc-up-or-down-15m-1765985400" {
		t.Errorf("基础字段解析错误: %+v", cand)
	}
	up, down, ok := cand.UpDownTokens()
	if !ok {
		t.Fatal("应该解析出 up/down 两条腿")
	}
	if up.TokenID != "111" || up.Price != 0.52 {
		t.Errorf("up 腿错误: %+v", up)
	}
	if down.TokenID != "222" || down.Price != 0.48 {
		t.Errorf("down 腿错误: %+v", down)
	}
	if cand.ExpiresAt.IsZero() {
		t.Error("endDate 应解析为到期时间")
	}
}

// TestQueryTextPhraseUsesSearch 非 slug 短语走 _q 文本搜索
func TestQueryTextPhraseUsesSearch(t *testing.T) {
	var gotQ string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQ = r.URL.Query().Get("_q")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(marketJSON))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Query(context.Background(), "BTC", []string{"Bitcoin Up or Down"}); err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if gotQ != "Bitcoin Up or Down" {
		t.Errorf("文本短语应走 _q 参数，实际 %q", gotQ)
	}
}

// TestQueryFallsThroughEmptyPhrase 第一个短语无结果时尝试下一个
func TestQueryFallsThroughEmptyPhrase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("slug") != "" {
			w.Write([]byte("[]")) // slug 查询无结果
			return
		}
		w.Write([]byte(marketJSON))
	}))
	defer srv.Close()

	c := New(srv.URL)
	candidates, err := c.Query(context.Background(), "BTC",
		[]string{"btc-up-or-down-15m-9999999999", "Bitcoin Up or Down"})
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("兜底短语应该产出候选，实际 %d 个", len(candidates))
	}
}

// TestQuerySkipsMalformedMarket 单个市场解析失败不拖累整批
func TestQuerySkipsMalformedMarket(t *testing.T) {
	body := `[
		{"slug": "btc-bad", "clobTokenIds": "not-json", "outcomes": "[]", "endDate": "2025-12-17T15:45:00Z", "active": true},
		` + marketJSON[1:len(marketJSON)-1] + `
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New(srv.URL)
	candidates, err := c.Query(context.Background(), "BTC", []string{"Bitcoin Up or Down"})
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("坏市场应被跳过，好市场保留: %d", len(candidates))
	}
	if candidates[0].Slug != "btc-up-or-down-15m-1765985400" {
		t.Errorf("保留了错误的市场: %s", candidates[0].Slug)
	}
}
