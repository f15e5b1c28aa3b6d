package execution

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/betbot/lagbet/clob/types"
	"github.com/betbot/lagbet/internal/domain"
	"github.com/betbot/lagbet/internal/ports"
	"github.com/betbot/lagbet/internal/risk"
	"github.com/betbot/lagbet/pkg/logger"
)

var log = logger.WithField("component", "execution")

// clobAPI ClobExecutor 依赖的 CLOB 客户端能力子集（测试时可替换）
type clobAPI interface {
	PlaceLimitOrder(ctx context.Context, tokenID string, side types.Side, size, price float64, options *types.CreateOrderOptions) (*types.OrderResponse, error)
	PlaceOrderFOK(ctx context.Context, tokenID string, side types.Side, size, price float64, options *types.CreateOrderOptions) (*types.OrderResponse, error)
	PlaceOrderFAK(ctx context.Context, tokenID string, side types.Side, size, price float64, options *types.CreateOrderOptions) (*types.OrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*types.OpenOrder, error)
	CancelOrder(ctx context.Context, orderID string) (*types.OrderResponse, error)
	GetOrderBook(ctx context.Context, tokenID string, side *types.Side) (*types.OrderBookSummary, error)
}

// ClobExecutor 真实下单执行器，实现 ports.Executor 和 ports.BestPriceGetter
// GTC 走限价挂单（maker 尝试），FOK/FAK 走即时成交（taker）
type ClobExecutor struct {
	api     clobAPI
	breaker *risk.Breaker // 可为 nil
}

func NewClobExecutor(api clobAPI) *ClobExecutor {
	return &ClobExecutor{api: api}
}

// SetBreaker 挂上熔断器：连续下单失败达到上限后锁死执行器
func (e *ClobExecutor) SetBreaker(b *risk.Breaker) {
	e.breaker = b
}

func (e *ClobExecutor) BuyLimit(ctx context.Context, spec ports.OrderSpec) (ports.OrderResult, error) {
	return e.place(ctx, types.SideBuy, spec)
}

func (e *ClobExecutor) SellLimit(ctx context.Context, spec ports.OrderSpec) (ports.OrderResult, error) {
	return e.place(ctx, types.SideSell, spec)
}

func (e *ClobExecutor) place(ctx context.Context, side types.Side, spec ports.OrderSpec) (ports.OrderResult, error) {
	if err := e.breaker.Allow(); err != nil {
		return ports.OrderResult{}, &domain.ExecError{Op: "place", Err: err}
	}

	negRisk := spec.NegRisk
	options := &types.CreateOrderOptions{
		TickSize: types.TickSize001,
		NegRisk:  &negRisk,
	}

	var resp *types.OrderResponse
	var err error
	switch spec.Tif {
	case ports.TifGTC:
		resp, err = e.api.PlaceLimitOrder(ctx, spec.TokenID, side, spec.Shares, spec.Price, options)
	case ports.TifFOK:
		resp, err = e.api.PlaceOrderFOK(ctx, spec.TokenID, side, spec.Shares, spec.Price, options)
	case ports.TifFAK:
		resp, err = e.api.PlaceOrderFAK(ctx, spec.TokenID, side, spec.Shares, spec.Price, options)
	default:
		return ports.OrderResult{}, &domain.ExecError{Op: "place", Err: errors.Errorf("未知的 tif: %q", spec.Tif)}
	}
	if err != nil {
		e.breaker.OnError()
		return ports.OrderResult{}, &domain.ExecError{Op: "place", Err: err}
	}
	if !resp.Success {
		e.breaker.OnError()
		return ports.OrderResult{}, &domain.ExecError{Op: "place", Err: errors.Errorf("下单被拒: %s", resp.ErrorMsg)}
	}
	e.breaker.OnSuccess()

	result := ports.OrderResult{
		OrderID: resp.OrderID,
		Status:  resp.Status,
	}
	// BUY: making=USDC taking=份额；SELL 反过来
	making := parseAmount(resp.MakingAmount)
	taking := parseAmount(resp.TakingAmount)
	if side == types.SideBuy {
		result.FilledShares = taking
		if taking > 0 {
			result.AvgPrice = making / taking
		}
	} else {
		result.FilledShares = making
		if making > 0 {
			result.AvgPrice = taking / making
		}
	}

	log.Debugf("下单完成: %s %s %s size=%.2f price=%.2f → %s (%s)",
		spec.Tif, side, spec.TokenID, spec.Shares, spec.Price, result.OrderID, result.Status)
	return result, nil
}

// OrderFill 轮询挂单状态
func (e *ClobExecutor) OrderFill(ctx context.Context, orderID string) (ports.FillState, error) {
	order, err := e.api.GetOrder(ctx, orderID)
	if err != nil {
		return ports.FillState{}, &domain.ExecError{Op: "order_fill", Err: err}
	}

	matched := parseAmount(order.SizeMatched)
	return ports.FillState{
		Open:         order.Status == "LIVE",
		FilledShares: matched,
		AvgPrice:     parseAmount(order.Price),
	}, nil
}

// CancelOrder 取消挂单；已成交或已取消的订单返回的错误由调用方决定是否忽略
func (e *ClobExecutor) CancelOrder(ctx context.Context, orderID string) error {
	if _, err := e.api.CancelOrder(ctx, orderID); err != nil {
		return &domain.ExecError{Op: "cancel", Err: err}
	}
	return nil
}

// GetBestPrice 从订单簿取最优买卖价
func (e *ClobExecutor) GetBestPrice(ctx context.Context, assetID string) (float64, float64, error) {
	book, err := e.api.GetOrderBook(ctx, assetID, nil)
	if err != nil {
		return 0, 0, &domain.ExecError{Op: "best_price", Err: err}
	}

	var bestBid, bestAsk float64
	for _, b := range book.Bids {
		if p := parseAmount(b.Price); p > bestBid {
			bestBid = p
		}
	}
	for _, a := range book.Asks {
		if p := parseAmount(a.Price); p > 0 && (bestAsk == 0 || p < bestAsk) {
			bestAsk = p
		}
	}
	if bestBid == 0 && bestAsk == 0 {
		return 0, 0, &domain.ExecError{Op: "best_price", Err: errors.New("订单簿为空")}
	}
	return bestBid, bestAsk, nil
}

func parseAmount(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
