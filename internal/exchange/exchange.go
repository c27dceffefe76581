package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tianxingj2021/wangge/internal/domain"
)

// Ticker 行情快照
type Ticker struct {
	Market    string          `json:"market"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid 中间价 (bid+ask)/2
func (t Ticker) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Balance 账户余额
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// PlaceOrderRequest 下单请求
// PostOnly 为 true 时要求只做 maker，会立即吃单的价格被交易所拒绝
type PlaceOrderRequest struct {
	ClientID string          `json:"client_id"`
	Market   string          `json:"market"`
	Side     domain.Side     `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	PostOnly bool            `json:"post_only"`
}

// OrderState 交易所侧的订单状态
type OrderState struct {
	ClientID       string             `json:"client_id"`
	ExchangeID     string             `json:"exchange_id"`
	Market         string             `json:"market"`
	Side           domain.Side        `json:"side"`
	Price          decimal.Decimal    `json:"price"`
	Quantity       decimal.Decimal    `json:"quantity"`
	FilledQuantity decimal.Decimal    `json:"filled_quantity"`
	Status         domain.OrderStatus `json:"status"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Exchange 交易所适配接口
//
// 所有实现都必须把底层错误归入 domain 的错误分类，上层据此决定
// 重试还是放弃。
type Exchange interface {
	// PlaceOrder 下限价单，返回交易所确认后的订单状态
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderState, error)
	// CancelOrder 按交易所订单 ID 撤单
	CancelOrder(ctx context.Context, market, exchangeID string) error
	// GetOrder 查询单个订单
	GetOrder(ctx context.Context, market, exchangeID string) (*OrderState, error)
	// OpenOrders 查询指定交易对的全部挂单
	OpenOrders(ctx context.Context, market string) ([]*OrderState, error)
	// GetTicker 查询行情
	GetTicker(ctx context.Context, market string) (*Ticker, error)
	// GetBalances 查询账户余额
	GetBalances(ctx context.Context) ([]Balance, error)
}
