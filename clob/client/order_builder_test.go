package client

import (
	"math/big"
	"testing"

	"github.com/betbot/lagbet/clob/types"
)

// TestOrderAmountsBuy 买单：maker=USDC taker=份额，1e6 单位
func TestOrderAmountsBuy(t *testing.T) {
	rc := RoundingConfig[types.TickSize001]
	maker, taker := orderAmounts(types.SideBuy, 19.23, 0.52, rc)

	// 19.23 份 × 0.52 = 9.9996 USDC
	if taker.Cmp(big.NewInt(19_230000)) != 0 {
		t.Errorf("taker(份额)错误: %s", taker)
	}
	if maker.Cmp(big.NewInt(9_999600)) != 0 {
		t.Errorf("maker(USDC)错误: %s", maker)
	}
}

// TestOrderAmountsSell 卖单：maker=份额 taker=USDC，USDC 向下取 4 位
func TestOrderAmountsSell(t *testing.T) {
	rc := RoundingConfig[types.TickSize001]
	maker, taker := orderAmounts(types.SideSell, 19.239, 0.48, rc)

	// 份额向下取 2 位：19.23；19.23 × 0.48 = 9.2304 USDC
	if maker.Cmp(big.NewInt(19_230000)) != 0 {
		t.Errorf("maker(份额)错误: %s", maker)
	}
	if taker.Cmp(big.NewInt(9_230400)) != 0 {
		t.Errorf("taker(USDC)错误: %s", taker)
	}
}

// TestOrderAmountsNoFloatDrift 0.1×0.3 这类浮点噪声不污染链上金额
func TestOrderAmountsNoFloatDrift(t *testing.T) {
	rc := RoundingConfig[types.TickSize001]
	maker, _ := orderAmounts(types.SideBuy, 0.1, 0.30, rc)

	if maker.Cmp(big.NewInt(30000)) != 0 {
		t.Errorf("maker 应为 0.03 USDC = 30000 单位: %s", maker)
	}
}

// TestNormalizeImmediateOrder 小额买单被垫高到 $1，微量份额被垫到 0.1
func TestNormalizeImmediateOrder(t *testing.T) {
	order, err := normalizeImmediateOrder("tok", types.SideBuy, 0.5, 0.40)
	if err != nil {
		t.Fatalf("精度处理失败: %v", err)
	}
	// 0.5 × 0.40 = $0.2 < $1 → size = 1/0.40 = 2.5
	if order.Size != 2.5 {
		t.Errorf("最小金额垫高错误: %v", order.Size)
	}

	order, err = normalizeImmediateOrder("tok", types.SideSell, 0.05, 0.40)
	if err != nil {
		t.Fatalf("精度处理失败: %v", err)
	}
	if order.Size != 0.1 {
		t.Errorf("最小份额垫高错误: %v", order.Size)
	}

	if _, err := normalizeImmediateOrder("tok", types.SideBuy, 1, 0); err == nil {
		t.Error("零价格应报错")
	}
}

// TestNormalizeImmediateOrderRounding 价格收敛到 2 位、份额 4 位
func TestNormalizeImmediateOrderRounding(t *testing.T) {
	order, err := normalizeImmediateOrder("tok", types.SideSell, 19.23456, 0.48678)
	if err != nil {
		t.Fatalf("精度处理失败: %v", err)
	}
	if order.Price != 0.49 {
		t.Errorf("价格舍入错误: %v", order.Price)
	}
	if order.Size != 19.2346 {
		t.Errorf("份额舍入错误: %v", order.Size)
	}
}
