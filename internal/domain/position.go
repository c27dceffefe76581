package domain

import (
	"github.com/shopspring/decimal"
)

// FillResult ApplyFill 的结算结果
type FillResult struct {
	RealizedPnL decimal.Decimal // 本次成交实现的盈亏
	ClosedCycle bool            // 本次成交是否完成了一个交易循环（持仓归零或翻转）
}

// Position 净持仓
//
// Quantity 带符号：正为多头，负为空头。买单成交增加数量，卖单成交
// 减少数量。同向加仓按数量加权更新平均入场价；反向成交先平掉已有
// 持仓并结算已实现盈亏，剩余部分翻转为新方向，平均入场价取成交价。
type Position struct {
	Market      string          `json:"market"`       // 交易对
	Quantity    decimal.Decimal `json:"quantity"`     // 带符号净持仓数量
	AvgPrice    decimal.Decimal `json:"avg_price"`    // 平均入场价（持仓为零时无意义）
	RealizedPnL decimal.Decimal `json:"realized_pnl"` // 累计已实现盈亏
}

// NewPosition 创建空持仓
func NewPosition(market string) *Position {
	return &Position{Market: market}
}

// IsFlat 检查是否空仓
func (p *Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// ApplyFill 应用一笔成交
func (p *Position) ApplyFill(side Side, qty, price decimal.Decimal) FillResult {
	var res FillResult
	if qty.LessThanOrEqual(decimal.Zero) {
		return res
	}

	signed := qty
	if side == SideSell {
		signed = qty.Neg()
	}

	// 空仓或同向：加权平均更新入场价
	if p.Quantity.IsZero() || p.Quantity.Sign() == signed.Sign() {
		newQty := p.Quantity.Add(signed)
		totalCost := p.AvgPrice.Mul(p.Quantity.Abs()).Add(price.Mul(qty))
		p.AvgPrice = totalCost.Div(newQty.Abs())
		p.Quantity = newQty
		return res
	}

	// 反向成交：先平仓结算
	closeQty := decimal.Min(qty, p.Quantity.Abs())
	pnlPerUnit := price.Sub(p.AvgPrice)
	if p.Quantity.Sign() < 0 {
		// 空头平仓盈亏方向相反
		pnlPerUnit = pnlPerUnit.Neg()
	}
	realized := pnlPerUnit.Mul(closeQty)
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	res.RealizedPnL = realized

	remainder := qty.Sub(closeQty)
	p.Quantity = p.Quantity.Add(signed)

	if p.Quantity.IsZero() {
		// 持仓归零，完成一个循环
		p.AvgPrice = decimal.Zero
		res.ClosedCycle = true
	} else if remainder.GreaterThan(decimal.Zero) {
		// 翻转为新方向，剩余部分按成交价建仓
		p.AvgPrice = price
		res.ClosedCycle = true
	}
	return res
}

// UnrealizedPnL 按标记价计算未实现盈亏
// 多头为 (mark - avg) * qty，空头为 (avg - mark) * |qty|
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return mark.Sub(p.AvgPrice).Mul(p.Quantity)
}
