package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPosition_SameSideFillsWeightedAverage(t *testing.T) {
	p := NewPosition("BTC-USD")

	p.ApplyFill(SideBuy, d("1"), d("100"))
	p.ApplyFill(SideBuy, d("1"), d("110"))

	assert.True(t, p.Quantity.Equal(d("2")), "数量应为 2，实际 %s", p.Quantity)
	assert.True(t, p.AvgPrice.Equal(d("105")), "均价应为 105，实际 %s", p.AvgPrice)
	assert.True(t, p.RealizedPnL.IsZero())
}

func TestPosition_ReduceToZeroRealizesPnL(t *testing.T) {
	p := NewPosition("BTC-USD")

	p.ApplyFill(SideBuy, d("2"), d("100"))
	res := p.ApplyFill(SideSell, d("2"), d("105"))

	assert.True(t, p.IsFlat())
	assert.True(t, res.RealizedPnL.Equal(d("10")), "已实现盈亏应为 10，实际 %s", res.RealizedPnL)
	assert.True(t, res.ClosedCycle, "持仓归零应计为一个完整循环")
	assert.True(t, p.AvgPrice.IsZero())
}

func TestPosition_OversizedOppositeFillFlips(t *testing.T) {
	p := NewPosition("BTC-USD")

	// 多头 2 张，反向成交 5 张：先平 2 张结算盈亏，剩余 3 张翻转为空头
	p.ApplyFill(SideBuy, d("2"), d("100"))
	res := p.ApplyFill(SideSell, d("5"), d("110"))

	require.True(t, p.Quantity.Equal(d("-3")), "翻转后应为 -3，实际 %s", p.Quantity)
	assert.True(t, p.AvgPrice.Equal(d("110")), "翻转后均价应取成交价 110，实际 %s", p.AvgPrice)
	assert.True(t, res.RealizedPnL.Equal(d("20")), "平掉 2 张的盈亏应为 20，实际 %s", res.RealizedPnL)
	assert.True(t, res.ClosedCycle)
}

func TestPosition_ShortSidePnL(t *testing.T) {
	p := NewPosition("ETH-USD")

	p.ApplyFill(SideSell, d("3"), d("100"))
	require.True(t, p.Quantity.Equal(d("-3")))

	// 空头回补 1 张，价格下跌 10 为盈利
	res := p.ApplyFill(SideBuy, d("1"), d("90"))
	assert.True(t, res.RealizedPnL.Equal(d("10")), "空头回补盈亏应为 10，实际 %s", res.RealizedPnL)
	assert.True(t, p.Quantity.Equal(d("-2")))
	assert.False(t, res.ClosedCycle, "仅减仓不应计为完整循环")
}

func TestPosition_UnrealizedPnL(t *testing.T) {
	long := NewPosition("BTC-USD")
	long.ApplyFill(SideBuy, d("2"), d("100"))
	assert.True(t, long.UnrealizedPnL(d("110")).Equal(d("20")))
	assert.True(t, long.UnrealizedPnL(d("95")).Equal(d("-10")))

	short := NewPosition("BTC-USD")
	short.ApplyFill(SideSell, d("2"), d("100"))
	assert.True(t, short.UnrealizedPnL(d("90")).Equal(d("20")))
	assert.True(t, short.UnrealizedPnL(d("105")).Equal(d("-10")))

	flat := NewPosition("BTC-USD")
	assert.True(t, flat.UnrealizedPnL(d("123")).IsZero())
}

func TestPosition_IgnoresNonPositiveQuantity(t *testing.T) {
	p := NewPosition("BTC-USD")
	p.ApplyFill(SideBuy, d("0"), d("100"))
	p.ApplyFill(SideBuy, d("-1"), d("100"))
	assert.True(t, p.IsFlat())
}
