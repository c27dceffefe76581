package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyState 策略实例运行状态
type StrategyState string

const (
	StrategyStateRunning StrategyState = "running"
	StrategyStateStopped StrategyState = "stopped"
	StrategyStateErrored StrategyState = "errored"
)

// OrderView 对外展示的订单摘要
type OrderView struct {
	ClientID string          `json:"client_id"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Filled   decimal.Decimal `json:"filled"`
	Status   OrderStatus     `json:"status"`
	Level    int             `json:"level"`
}

// PositionView 对外展示的持仓摘要
type PositionView struct {
	Quantity      decimal.Decimal `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// StrategySnapshot 策略实例的状态快照
// 状态查询接口和 WebSocket 推送共用同一结构
type StrategySnapshot struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Market       string          `json:"market"`
	State        StrategyState   `json:"state"`
	Position     PositionView    `json:"position"`
	ActiveOrders []OrderView     `json:"active_orders"`
	BuyOrders    []OrderView     `json:"buy_orders,omitempty"`  // 买单摘要，价格从高到低
	SellOrders   []OrderView     `json:"sell_orders,omitempty"` // 卖单摘要，价格从高到低
	CycleCount   int             `json:"cycle_count"`
	LastPrice    decimal.Decimal `json:"last_price"`
	BestBid      decimal.Decimal `json:"best_bid"`
	BestAsk      decimal.Decimal `json:"best_ask"`
	OrderSize    decimal.Decimal `json:"order_size"` // 单张挂单数量
	Error        string          `json:"error,omitempty"` // 状态为 errored 时的原因
	UpdatedAt    time.Time       `json:"updated_at"`
}
