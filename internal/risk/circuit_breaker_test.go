package risk

import "testing"

// TestBreakerTripsOnConsecutiveErrors 连续失败达到上限后锁死
func TestBreakerTripsOnConsecutiveErrors(t *testing.T) {
	b := NewBreaker(3)

	for i := 0; i < 2; i++ {
		b.OnError()
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("未达上限不应熔断: %v", err)
	}

	b.OnError()
	if err := b.Allow(); err != ErrHalted {
		t.Fatalf("应已熔断: %v", err)
	}
	if !b.Halted() {
		t.Fatal("Halted 应为 true")
	}
}

// TestBreakerSuccessResetsCount 一次成功清空连续错误计数
func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(2)
	b.OnError()
	b.OnSuccess()
	b.OnError()
	if err := b.Allow(); err != nil {
		t.Fatalf("计数应已被成功清空: %v", err)
	}
}

// TestBreakerResume 手动恢复后可继续交易
func TestBreakerResume(t *testing.T) {
	b := NewBreaker(1)
	b.OnError()
	if err := b.Allow(); err == nil {
		t.Fatal("应已熔断")
	}
	b.Resume()
	if err := b.Allow(); err != nil {
		t.Fatalf("恢复后应放行: %v", err)
	}
}

// TestBreakerDisabledAndNil 上限 <= 0 或 nil 接收者都不限制
func TestBreakerDisabledAndNil(t *testing.T) {
	b := NewBreaker(0)
	for i := 0; i < 10; i++ {
		b.OnError()
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("上限为 0 不应熔断: %v", err)
	}

	var nb *Breaker
	nb.OnError()
	if err := nb.Allow(); err != nil {
		t.Fatalf("nil 熔断器不应拦截: %v", err)
	}
}
