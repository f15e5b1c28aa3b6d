package feed

import (
	"sync"
	"testing"
	"time"
)

// TestHandleMessageDispatch 组合流消息解析并派发给对应资产的监听者
func TestHandleMessageDispatch(t *testing.T) {
	f := New(Options{})
	defer f.Close()

	var mu sync.Mutex
	var gotAsset string
	var gotPrice float64
	var gotAt time.Time

	// 只注册监听，不真正联网（started 标记会启动空转的 runWS，无资产时只等待）
	unsub, err := f.Subscribe("BTC", func(asset string, price float64, at time.Time) {
		mu.Lock()
		gotAsset, gotPrice, gotAt = asset, price, at
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("订阅失败: %v", err)
	}
	defer unsub()

	f.handleMessage([]byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"BTCUSDT","p":"117250.50","T":1765985400123}}`))

	mu.Lock()
	defer mu.Unlock()
	if gotAsset != "BTC" {
		t.Errorf("资产解析错误: %q", gotAsset)
	}
	if gotPrice != 117250.50 {
		t.Errorf("价格解析错误: %v", gotPrice)
	}
	if gotAt.UnixMilli() != 1765985400123 {
		t.Errorf("时间戳解析错误: %v", gotAt.UnixMilli())
	}
}

// TestHandleMessageIgnoresGarbage 坏消息静默丢弃
func TestHandleMessageIgnoresGarbage(t *testing.T) {
	f := New(Options{})
	defer f.Close()

	called := false
	unsub, _ := f.Subscribe("BTC", func(string, float64, time.Time) { called = true })
	defer unsub()

	f.handleMessage([]byte(`not json`))
	f.handleMessage([]byte(`{"stream":"x","data":{"e":"ping"}}`))
	f.handleMessage([]byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"BTCUSDT","p":"-1"}}`))
	f.handleMessage([]byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"BTCUSDT","p":"abc"}}`))

	if called {
		t.Error("坏消息不应触发监听者")
	}
}

// TestUnsubscribeStopsDelivery 退订后不再收到 tick，其他监听者不受影响
func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := New(Options{})
	defer f.Close()

	var mu sync.Mutex
	countA, countB := 0, 0
	unsubA, _ := f.Subscribe("ETH", func(string, float64, time.Time) {
		mu.Lock()
		countA++
		mu.Unlock()
	})
	unsubB, _ := f.Subscribe("ETH", func(string, float64, time.Time) {
		mu.Lock()
		countB++
		mu.Unlock()
	})
	defer unsubB()

	msg := []byte(`{"stream":"ethusdt@aggTrade","data":{"e":"aggTrade","s":"ETHUSDT","p":"4100.25","T":1765985400123}}`)
	f.handleMessage(msg)
	unsubA()
	f.handleMessage(msg)

	mu.Lock()
	defer mu.Unlock()
	if countA != 1 {
		t.Errorf("退订后 A 不应再收到 tick: %d", countA)
	}
	if countB != 2 {
		t.Errorf("B 应收到全部 tick: %d", countB)
	}
}

// TestStreamURL 组合流 URL 按资产拼接
func TestStreamURL(t *testing.T) {
	f := New(Options{WSURL: "ws://localhost/stream?streams="})
	defer f.Close()

	got := f.streamURL([]string{"BTC", "ETH"})
	want := "ws://localhost/stream?streams=btcusdt@aggTrade/ethusdt@aggTrade"
	if got != want {
		t.Errorf("URL 错误:\n got %s\nwant %s", got, want)
	}
}

// TestSubscribeAfterClose 关闭后订阅返回错误
func TestSubscribeAfterClose(t *testing.T) {
	f := New(Options{})
	f.Close()
	if _, err := f.Subscribe("BTC", func(string, float64, time.Time) {}); err == nil {
		t.Error("关闭后订阅应失败")
	}
	// Close 幂等
	if err := f.Close(); err != nil {
		t.Errorf("重复 Close 不应报错: %v", err)
	}
}
