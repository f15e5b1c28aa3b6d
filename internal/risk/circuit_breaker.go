package risk

import (
	"errors"
	"sync/atomic"
)

// ErrHalted 断路器已打开，禁止继续下单
var ErrHalted = errors.New("交易已熔断")

// Breaker 下单路径的熔断器。
// 连续下单失败达到上限后锁死实盘执行器，避免在 API 异常或
// 资金问题时反复撞墙。当日亏损上限由仓位管理器负责，这里不重复。
// 快路径全部走原子变量，下单热路径无锁。
type Breaker struct {
	halted            atomic.Bool
	consecutiveErrors atomic.Int64
	maxErrors         int64 // <= 0 表示不限制
}

func NewBreaker(maxConsecutiveErrors int64) *Breaker {
	return &Breaker{maxErrors: maxConsecutiveErrors}
}

// Allow 下单前检查；nil 接收者视为不限制
func (b *Breaker) Allow() error {
	if b == nil {
		return nil
	}
	if b.halted.Load() {
		return ErrHalted
	}
	if b.maxErrors > 0 && b.consecutiveErrors.Load() >= b.maxErrors {
		b.halted.Store(true)
		return ErrHalted
	}
	return nil
}

// OnSuccess 一次下单成功，清空连续错误计数
func (b *Breaker) OnSuccess() {
	if b == nil {
		return
	}
	b.consecutiveErrors.Store(0)
}

// OnError 一次下单失败，累计连续错误计数
func (b *Breaker) OnError() {
	if b == nil {
		return
	}
	b.consecutiveErrors.Add(1)
}

// Halt 手动熔断
func (b *Breaker) Halt() {
	if b == nil {
		return
	}
	b.halted.Store(true)
}

// Resume 手动恢复，同时清空错误计数
func (b *Breaker) Resume() {
	if b == nil {
		return
	}
	b.halted.Store(false)
	b.consecutiveErrors.Store(0)
}

// Halted 当前是否处于熔断状态
func (b *Breaker) Halted() bool {
	return b != nil && b.halted.Load()
}
