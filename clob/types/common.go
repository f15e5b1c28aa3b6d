package types

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 订单有效期类型
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // 挂到取消（maker 路径）
	OrderTypeFOK OrderType = "FOK" // 全部成交或整单作废
	OrderTypeFAK OrderType = "FAK" // 能成多少成多少，剩余作废
)

// Chain 区块链网络，Polymarket 主网在 Polygon
type Chain int

const (
	ChainPolygon Chain = 137
	ChainAmoy    Chain = 80002 // 测试网
)

// SignatureType 订单签名方式，决定 maker 地址怎么验
type SignatureType int

const (
	SignatureTypeBrowser    SignatureType = 0 // EOA 直签
	SignatureTypeMagic      SignatureType = 1 // Magic Link 代理钱包
	SignatureTypeGnosisSafe SignatureType = 2 // Gnosis Safe 代理钱包（网页注册账号用这个）
)

// AssetType 余额查询的资产类型
type AssetType string

const (
	AssetTypeCollateral  AssetType = "COLLATERAL"  // USDC
	AssetTypeConditional AssetType = "CONDITIONAL" // 条件代币
)

// TickSize 市场价格精度，决定金额换算的舍入位数
type TickSize string

const (
	TickSize01    TickSize = "0.1"
	TickSize001   TickSize = "0.01"
	TickSize0001  TickSize = "0.001"
	TickSize00001 TickSize = "0.0001"
)

// ApiKeyCreds L2 认证凭证
type ApiKeyCreds struct {
	Key        string
	Secret     string
	Passphrase string
}

// ApiKeyRaw /auth/api-key 返回的原始格式
type ApiKeyRaw struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}
