package client

import (
	"context"
	"fmt"

	"github.com/betbot/lagbet/clob/types"
)

// GetOrderBook 获取订单簿
func (c *Client) GetOrderBook(ctx context.Context, tokenID string, side *types.Side) (*types.OrderBookSummary, error) {
	if err := c.rateLimiter.Wait(ctx, "clob:book:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	queryParams := map[string]string{"token_id": tokenID}
	if side != nil {
		queryParams["side"] = string(*side)
	}

	resp, err := c.httpClient.get(EndpointGetOrderBook, nil, queryParams)
	if err != nil {
		return nil, fmt.Errorf("获取订单簿失败: %w", err)
	}

	var book types.OrderBookSummary
	if err := parseResponse(resp, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// GetPrice 获取最新成交价
func (c *Client) GetPrice(ctx context.Context, tokenID string) (*types.MarketPrice, error) {
	if err := c.rateLimiter.Wait(ctx, "clob:price:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	resp, err := c.httpClient.get(EndpointGetPrice, nil, map[string]string{"token_id": tokenID})
	if err != nil {
		return nil, fmt.Errorf("获取价格失败: %w", err)
	}

	var price types.MarketPrice
	if err := parseResponse(resp, &price); err != nil {
		return nil, err
	}
	return &price, nil
}

// GetBalanceAllowance 获取 USDC 余额和授权（启动时的资金预检）
func (c *Client) GetBalanceAllowance(ctx context.Context, params *types.BalanceAllowanceParams) (*types.BalanceAllowanceResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	queryParams := map[string]string{
		"asset_type": string(params.AssetType),
	}
	if params.TokenID != nil {
		queryParams["token_id"] = *params.TokenID
	}
	if params.SignatureType != nil {
		queryParams["signature_type"] = fmt.Sprintf("%d", int(*params.SignatureType))
	}

	headerMap, err := c.l2Headers("GET", EndpointGetBalanceAllowance, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.get(EndpointGetBalanceAllowance, headerMap, queryParams)
	if err != nil {
		return nil, fmt.Errorf("获取余额和授权失败: %w", err)
	}

	var balance types.BalanceAllowanceResponse
	if err := parseResponse(resp, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}
