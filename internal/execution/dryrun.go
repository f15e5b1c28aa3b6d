package execution

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/betbot/lagbet/internal/ports"
)

// DryRunExecutor 模拟执行器：不触网，所有订单按请求价立即全额成交
// 用于观察信号质量而不动真金
type DryRunExecutor struct {
	mu     sync.Mutex
	orders map[string]ports.OrderResult
}

func NewDryRunExecutor() *DryRunExecutor {
	return &DryRunExecutor{orders: make(map[string]ports.OrderResult)}
}

func (e *DryRunExecutor) BuyLimit(_ context.Context, spec ports.OrderSpec) (ports.OrderResult, error) {
	return e.fill(spec)
}

func (e *DryRunExecutor) SellLimit(_ context.Context, spec ports.OrderSpec) (ports.OrderResult, error) {
	return e.fill(spec)
}

func (e *DryRunExecutor) fill(spec ports.OrderSpec) (ports.OrderResult, error) {
	result := ports.OrderResult{
		OrderID:      "dryrun-" + uuid.NewString(),
		Status:       "matched",
		FilledShares: spec.Shares,
		AvgPrice:     spec.Price,
	}
	e.mu.Lock()
	e.orders[result.OrderID] = result
	e.mu.Unlock()

	log.Infof("🧪 模拟成交: %s %s size=%.2f price=%.2f", spec.Tif, spec.TokenID, spec.Shares, spec.Price)
	return result, nil
}

func (e *DryRunExecutor) OrderFill(_ context.Context, orderID string) (ports.FillState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.orders[orderID]; ok {
		return ports.FillState{Open: false, FilledShares: r.FilledShares, AvgPrice: r.AvgPrice}, nil
	}
	return ports.FillState{}, nil
}

func (e *DryRunExecutor) CancelOrder(context.Context, string) error {
	return nil
}
