package types

// MarketPrice 最新成交价
type MarketPrice struct {
	Timestamp int64   `json:"t"`
	Price     float64 `json:"p"`
}

// OrderBookSummary 订单簿摘要
type OrderBookSummary struct {
	Market       string         `json:"market"`
	AssetID      string         `json:"asset_id"`
	Timestamp    string         `json:"timestamp"`
	Bids         []OrderSummary `json:"bids"`
	Asks         []OrderSummary `json:"asks"`
	MinOrderSize string         `json:"min_order_size"`
	TickSize     string         `json:"tick_size"`
	NegRisk      bool           `json:"neg_risk"`
	Hash         string         `json:"hash"`
}

// OrderSummary 订单簿单档
type OrderSummary struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BalanceAllowanceParams 余额和授权查询参数
type BalanceAllowanceParams struct {
	AssetType     AssetType
	TokenID       *string
	SignatureType *SignatureType
}

// BalanceAllowanceResponse 余额和授权响应
type BalanceAllowanceResponse struct {
	Balance             string            `json:"balance"`
	Allowance           string            `json:"allowance"`
	CollateralBalance   string            `json:"collateralBalance,omitempty"`
	CollateralAllowance string            `json:"collateralAllowance,omitempty"`
	Allowances          map[string]string `json:"allowances,omitempty"`
}
