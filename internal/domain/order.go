package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"  // 买入
	SideSell Side = "sell" // 卖出
)

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"          // 已提交，尚未收到交易所确认
	OrderStatusOpen      OrderStatus = "open"             // 挂单中
	OrderStatusPartial   OrderStatus = "partially_filled" // 部分成交
	OrderStatusFilled    OrderStatus = "filled"           // 全部成交
	OrderStatusCancelled OrderStatus = "cancelled"        // 已取消
	OrderStatusRejected  OrderStatus = "rejected"         // 被拒绝
)

// Order 订单领域模型
//
// ClientID 在本地生成，是幂等去重的依据；ExchangeID 由交易所返回，
// 确认之前为空。
type Order struct {
	ClientID       string          `json:"client_id"`                 // 本地生成的客户端订单 ID
	ExchangeID     string          `json:"exchange_id,omitempty"`     // 交易所订单 ID（确认后才有）
	StrategyID     string          `json:"strategy_id"`               // 所属策略实例 ID
	Market         string          `json:"market"`                    // 交易对，例如 BTC-USD
	Side           Side            `json:"side"`                      // 订单方向
	Price          decimal.Decimal `json:"price"`                     // 限价
	Quantity       decimal.Decimal `json:"quantity"`                  // 原始数量
	FilledQuantity decimal.Decimal `json:"filled_quantity"`           // 已成交数量（部分成交累计）
	Status         OrderStatus     `json:"status"`                    // 订单状态
	Level          int             `json:"level"`                     // 所属网格层级
	CreatedAt      time.Time       `json:"created_at"`                // 创建时间
	UpdatedAt      time.Time       `json:"updated_at"`                // 最近一次状态变化时间
}

// IsActive 检查订单是否仍在场上（尚未到达终态）
func (o *Order) IsActive() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusOpen, OrderStatusPartial:
		return true
	}
	return false
}

// IsFinal 检查订单是否为终态（filled/cancelled/rejected）
// 终态不应该被中间状态覆盖
func (o *Order) IsFinal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Remaining 返回未成交数量
func (o *Order) Remaining() decimal.Decimal {
	r := o.Quantity.Sub(o.FilledQuantity)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// ApplyFill 累加一笔成交并推进状态
// 累计成交量达到原始数量时进入 filled，否则 partially_filled
func (o *Order) ApplyFill(qty decimal.Decimal, at time.Time) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return
	}
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		o.FilledQuantity = o.Quantity
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartial
	}
	o.UpdatedAt = at
}
