package client

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	orderbuilder "github.com/polymarket/go-order-utils/pkg/builder"
	ordermodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"

	"github.com/betbot/lagbet/clob/types"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// CollateralTokenDecimals USDC 精度
const CollateralTokenDecimals = 6

// RoundConfig 各字段的小数位数
type RoundConfig struct {
	Price  int32
	Size   int32
	Amount int32
}

// RoundingConfig tick size 对应的舍入配置
var RoundingConfig = map[types.TickSize]RoundConfig{
	types.TickSize01:    {Price: 1, Size: 2, Amount: 3},
	types.TickSize001:   {Price: 2, Size: 2, Amount: 4},
	types.TickSize0001:  {Price: 3, Size: 2, Amount: 5},
	types.TickSize00001: {Price: 4, Size: 2, Amount: 6},
}

// OrderBuilder 构建并签名 CLOB 订单
// 金额换算全程走 decimal：CLOB 端按小数位数校验 maker/taker 金额，
// float64 乘法的尾差会直接导致 400 拒单
type OrderBuilder struct {
	client        *Client
	signatureType types.SignatureType
	funderAddress string
}

// NewOrderBuilder 创建订单构建器
func NewOrderBuilder(client *Client, signatureType types.SignatureType, funderAddress string) *OrderBuilder {
	return &OrderBuilder{
		client:        client,
		signatureType: signatureType,
		funderAddress: funderAddress,
	}
}

// BuildOrder 构建并签名订单
func (ob *OrderBuilder) BuildOrder(userOrder *types.UserOrder, options *types.CreateOrderOptions) (*types.SignedOrder, error) {
	roundConfig, ok := RoundingConfig[options.TickSize]
	if !ok {
		return nil, fmt.Errorf("不支持的 tick size: %s", options.TickSize)
	}

	signerAddress := crypto.PubkeyToAddress(ob.client.authConfig.PrivateKey.PublicKey).Hex()

	// maker 是资金所在地址：有代理钱包时填代理，否则就是 signer 本身
	maker := signerAddress
	if ob.funderAddress != "" {
		maker = ob.funderAddress
	}

	makerAmount, takerAmount := orderAmounts(userOrder.Side, userOrder.Size, userOrder.Price, roundConfig)

	taker := zeroAddress
	if userOrder.Taker != nil && *userOrder.Taker != "" {
		taker = *userOrder.Taker
	}

	feeRateBps := "0"
	if userOrder.FeeRateBps != nil {
		feeRateBps = fmt.Sprintf("%d", *userOrder.FeeRateBps)
	}
	nonce := "0"
	if userOrder.Nonce != nil {
		nonce = fmt.Sprintf("%d", *userOrder.Nonce)
	}
	expiration := "0"
	if userOrder.Expiration != nil {
		expiration = fmt.Sprintf("%d", *userOrder.Expiration)
	}

	side := ordermodel.BUY
	if userOrder.Side == types.SideSell {
		side = ordermodel.SELL
	}

	contract := ordermodel.CTFExchange
	if options.NegRisk != nil && *options.NegRisk {
		contract = ordermodel.NegRiskCTFExchange
	}

	orderData := &ordermodel.OrderData{
		Maker:         maker,
		Signer:        signerAddress,
		Taker:         taker,
		TokenId:       userOrder.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		FeeRateBps:    feeRateBps,
		Nonce:         nonce,
		Expiration:    expiration,
		Side:          side,
		SignatureType: ordermodel.SignatureType(ob.signatureType),
	}

	builder := orderbuilder.NewExchangeOrderBuilderImpl(
		big.NewInt(int64(ob.client.GetChainID())),
		func() int64 { return time.Now().UnixNano() },
	)
	signed, err := builder.BuildSignedOrder(ob.client.authConfig.PrivateKey, orderData, contract)
	if err != nil {
		return nil, fmt.Errorf("签名订单失败: %w", err)
	}

	return convertSignedOrder(signed), nil
}

// convertSignedOrder 把签名结果转成 POST /order 的 JSON 形状
func convertSignedOrder(o *ordermodel.SignedOrder) *types.SignedOrder {
	return &types.SignedOrder{
		Salt:          o.Salt.Int64(),
		Maker:         o.Maker.Hex(),
		Signer:        o.Signer.Hex(),
		Taker:         o.Taker.Hex(),
		TokenID:       o.TokenId.String(),
		MakerAmount:   o.MakerAmount.String(),
		TakerAmount:   o.TakerAmount.String(),
		Expiration:    o.Expiration.String(),
		Nonce:         o.Nonce.String(),
		FeeRateBps:    o.FeeRateBps.String(),
		Side:          sideFromBig(o.Side),
		SignatureType: int(o.SignatureType.Int64()),
		Signature:     "0x" + fmt.Sprintf("%x", o.Signature),
	}
}

func sideFromBig(v *big.Int) types.Side {
	if v != nil && v.Int64() == int64(ordermodel.SELL) {
		return types.SideSell
	}
	return types.SideBuy
}

// orderAmounts 计算 maker/taker 金额（1e6 链上单位）
// BUY: maker=USDC taker=份额；SELL: maker=份额 taker=USDC
func orderAmounts(side types.Side, size, price float64, rc RoundConfig) (*big.Int, *big.Int) {
	p := decimal.NewFromFloat(price).Round(rc.Price)

	if side == types.SideBuy {
		shares := decimal.NewFromFloat(size).RoundFloor(rc.Size)
		usdc := shares.Mul(p)
		if -usdc.Exponent() > rc.Amount {
			usdc = usdc.RoundCeil(rc.Amount + 4)
			if -usdc.Exponent() > rc.Amount {
				usdc = usdc.RoundFloor(rc.Amount)
			}
		}
		return toUnits(usdc), toUnits(shares)
	}

	// 卖出：份额最多 2 位小数，USDC 最多 4 位
	shares := decimal.NewFromFloat(size).RoundFloor(2)
	usdc := shares.Mul(p).RoundFloor(4)
	return toUnits(shares), toUnits(usdc)
}

// toUnits 十进制金额 → 1e6 整数单位
func toUnits(d decimal.Decimal) *big.Int {
	return d.Shift(CollateralTokenDecimals).BigInt()
}
