package domain

import (
	"errors"
	"fmt"
)

// ErrMarketUnavailable 当前无可用市场或剩余时间不足
// 入场路径遇到它时静默跳过，不作为错误上报
var ErrMarketUnavailable = errors.New("当前无可用市场")

// ConfigError 启动期配置错误（必要依赖缺失或配置非法）
// engine 遇到它时不得进入运行态
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置错误: %s", e.Reason)
}

// NewConfigError 创建配置错误
func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// ExecError 订单执行失败（下单/撤单）
// 入场：不开仓；出场：仍按最优可用价平仓记账，保证账面不悬空
type ExecError struct {
	Op  string // "buy" / "sell" / "cancel"
	Err error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("订单执行失败 (%s): %v", e.Op, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// PollError 市场源查询失败
// 该资产本轮刷新跳过，下一轮重试；不影响其他资产
type PollError struct {
	Asset string
	Err   error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("市场查询失败 (%s): %v", e.Asset, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}
