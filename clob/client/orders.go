package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/betbot/lagbet/clob/signing"
	"github.com/betbot/lagbet/clob/types"
)

// PostOrder 提交已签名的订单
func (c *Client) PostOrder(ctx context.Context, order *types.SignedOrder, orderType types.OrderType) (*types.OrderResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx, "clob:order:post"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	orderPayload := types.NewOrder{
		Order:     *order,
		Owner:     c.authConfig.Creds.Key,
		OrderType: orderType,
	}

	// L2 签名覆盖整个请求体
	bodyBytes, err := json.Marshal(orderPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化订单载荷失败: %w", err)
	}
	bodyStr := string(bodyBytes)

	headerMap, err := c.l2Headers("POST", EndpointPostOrder, &bodyStr)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.post(EndpointPostOrder, headerMap, orderPayload)
	if err != nil {
		return nil, fmt.Errorf("提交订单失败: %w", err)
	}

	var orderResp types.OrderResponse
	if err := parseResponse(resp, &orderResp); err != nil {
		return nil, fmt.Errorf("解析订单响应失败: %w", err)
	}
	return &orderResp, nil
}

// CancelOrder 取消订单
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*types.OrderResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx, "clob:order:delete"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	headerMap, err := c.l2Headers("DELETE", EndpointCancelOrder, nil)
	if err != nil {
		return nil, err
	}

	params := map[string]string{"orderID": orderID}
	resp, err := c.httpClient.delete(EndpointCancelOrder, headerMap, params)
	if err != nil {
		return nil, fmt.Errorf("取消订单失败: %w", err)
	}

	var orderResp types.OrderResponse
	if err := parseResponse(resp, &orderResp); err != nil {
		return nil, fmt.Errorf("解析取消响应失败: %w (orderID=%s)", err, orderID)
	}
	return &orderResp, nil
}

// GetOpenOrders 获取开放订单
func (c *Client) GetOpenOrders(ctx context.Context, params *types.OpenOrderParams) (types.OpenOrdersResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx, "clob:orders:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	queryParams := make(map[string]string)
	if params != nil {
		if params.ID != nil {
			queryParams["id"] = *params.ID
		}
		if params.Market != nil {
			queryParams["market"] = *params.Market
		}
		if params.AssetID != nil {
			queryParams["asset_id"] = *params.AssetID
		}
	}

	headerMap, err := c.l2Headers("GET", EndpointGetOpenOrders, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.get(EndpointGetOpenOrders, headerMap, queryParams)
	if err != nil {
		return nil, fmt.Errorf("获取开放订单失败: %w", err)
	}

	var apiResp types.OpenOrdersAPIResponse
	if err := parseResponse(resp, &apiResp); err != nil {
		return nil, err
	}
	return types.OpenOrdersResponse(apiResp.Data), nil
}

// GetOrder 获取订单详情（成交轮询用）
func (c *Client) GetOrder(ctx context.Context, orderID string) (*types.OpenOrder, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	endpoint := EndpointGetOrder + orderID
	headerMap, err := c.l2Headers("GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.get(endpoint, headerMap, nil)
	if err != nil {
		return nil, fmt.Errorf("获取订单详情失败: %w", err)
	}

	var order types.OpenOrder
	if err := parseResponse(resp, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrder 构建并签名订单（funder/signatureType 取客户端配置）
func (c *Client) CreateOrder(req *types.UserOrder, options *types.CreateOrderOptions) (*types.SignedOrder, error) {
	if c.authConfig.PrivateKey == nil {
		return nil, fmt.Errorf("私钥未设置，无法创建订单")
	}
	builder := NewOrderBuilder(c, c.signatureType, c.funderAddress)
	return builder.BuildOrder(req, options)
}

// PlaceLimitOrder 下 GTC 限价单，挂在订单簿直到成交或取消
func (c *Client) PlaceLimitOrder(ctx context.Context, tokenID string, side types.Side, size, price float64, options *types.CreateOrderOptions) (*types.OrderResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	signedOrder, err := c.CreateOrder(&types.UserOrder{
		TokenID: tokenID,
		Side:    side,
		Size:    size,
		Price:   price,
	}, options)
	if err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}

	return c.PostOrder(ctx, signedOrder, types.OrderTypeGTC)
}

// PlaceOrderFOK 下 FOK 单：全部成交或整单取消
func (c *Client) PlaceOrderFOK(ctx context.Context, tokenID string, side types.Side, size, price float64, options *types.CreateOrderOptions) (*types.OrderResponse, error) {
	return c.placeImmediate(ctx, tokenID, side, size, price, options, types.OrderTypeFOK)
}

// PlaceOrderFAK 下 FAK 单：尽量成交，剩余自动取消
func (c *Client) PlaceOrderFAK(ctx context.Context, tokenID string, side types.Side, size, price float64, options *types.CreateOrderOptions) (*types.OrderResponse, error) {
	return c.placeImmediate(ctx, tokenID, side, size, price, options, types.OrderTypeFAK)
}

func (c *Client) placeImmediate(ctx context.Context, tokenID string, side types.Side, size, price float64, options *types.CreateOrderOptions, orderType types.OrderType) (*types.OrderResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	userOrder, err := normalizeImmediateOrder(tokenID, side, size, price)
	if err != nil {
		return nil, fmt.Errorf("%s 订单精度处理失败: %w", orderType, err)
	}

	signedOrder, err := c.CreateOrder(userOrder, options)
	if err != nil {
		return nil, fmt.Errorf("创建 %s 订单失败: %w", orderType, err)
	}

	return c.PostOrder(ctx, signedOrder, orderType)
}

// normalizeImmediateOrder 把 FOK/FAK 订单收敛到 CLOB 的精度和最小额要求
// 价格 2 位小数、份额 4 位小数，买单不低于 $1，份额不低于 0.1
func normalizeImmediateOrder(tokenID string, side types.Side, size, price float64) (*types.UserOrder, error) {
	p := decimal.NewFromFloat(price).Round(2)
	if p.Sign() <= 0 {
		return nil, fmt.Errorf("价格无效: %v", price)
	}
	s := decimal.NewFromFloat(size).Round(4)

	const minOrderUSDC = 1.0
	const minTokenSize = 0.1

	if side == types.SideBuy {
		usdc := s.Mul(p).Round(2)
		if usdc.LessThan(decimal.NewFromFloat(minOrderUSDC)) {
			usdc = decimal.NewFromFloat(minOrderUSDC)
			s = usdc.Div(p).Round(4)
		}
	}
	if s.LessThan(decimal.NewFromFloat(minTokenSize)) {
		s = decimal.NewFromFloat(minTokenSize)
	}

	sizeF, _ := s.Float64()
	priceF, _ := p.Float64()
	return &types.UserOrder{
		TokenID: tokenID,
		Side:    side,
		Size:    sizeF,
		Price:   priceF,
	}, nil
}

// l2Headers 构建 L2 认证头的 map 形式
func (c *Client) l2Headers(method, requestPath string, body *string) (map[string]string, error) {
	headers, err := signing.CreateL2Headers(
		c.authConfig.PrivateKey,
		c.authConfig.Creds,
		&types.L2HeaderArgs{
			Method:      method,
			RequestPath: requestPath,
			Body:        body,
		},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("创建 L2 认证头失败: %w", err)
	}

	return map[string]string{
		"POLY_ADDRESS":    headers.PolyAddress,
		"POLY_SIGNATURE":  headers.PolySignature,
		"POLY_TIMESTAMP":  headers.PolyTimestamp,
		"POLY_API_KEY":    headers.PolyAPIKey,
		"POLY_PASSPHRASE": headers.PolyPassphrase,
	}, nil
}
