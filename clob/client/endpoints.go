package client

// API 端点常量
const (
	// API Key
	EndpointCreateAPIKey = "/auth/api-key"
	EndpointDeriveAPIKey = "/auth/derive-api-key"

	// 行情
	EndpointGetOrderBook = "/book"
	EndpointGetPrice     = "/price"

	// 订单
	EndpointPostOrder     = "/order"
	EndpointCancelOrder   = "/order"
	EndpointGetOrder      = "/data/order/"
	EndpointGetOpenOrders = "/data/orders"

	// 余额
	EndpointGetBalanceAllowance = "/balance-allowance"
)
