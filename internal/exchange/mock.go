package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tianxingj2021/wangge/internal/domain"
)

// MockExchange 内存交易所，用于测试和 dry-run
type MockExchange struct {
	mu     sync.Mutex
	seq    int
	orders map[string]*OrderState // exchangeID -> state

	ticker   Ticker
	balances []Balance

	// 错误注入
	placeErrs  []error // 依次弹出，作为 PlaceOrder 的返回错误
	cancelErrs []error

	PlaceCalls  int
	CancelCalls int
}

// NewMockExchange 创建内存交易所
func NewMockExchange() *MockExchange {
	return &MockExchange{
		orders: make(map[string]*OrderState),
		balances: []Balance{
			{Asset: "USD", Free: decimal.NewFromInt(1_000_000)},
			{Asset: "BTC", Free: decimal.NewFromInt(100)},
		},
	}
}

// SetTicker 设置行情
func (m *MockExchange) SetTicker(t Ticker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticker = t
}

// FailNextPlace 注入若干次下单失败
func (m *MockExchange) FailNextPlace(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeErrs = append(m.placeErrs, errs...)
}

// FailNextCancel 注入若干次撤单失败
func (m *MockExchange) FailNextCancel(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelErrs = append(m.cancelErrs, errs...)
}

// PlaceOrder 下单
func (m *MockExchange) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PlaceCalls++
	if len(m.placeErrs) > 0 {
		err := m.placeErrs[0]
		m.placeErrs = m.placeErrs[1:]
		return nil, err
	}

	m.seq++
	st := &OrderState{
		ClientID:   req.ClientID,
		ExchangeID: fmt.Sprintf("EX-%d", m.seq),
		Market:     req.Market,
		Side:       req.Side,
		Price:      req.Price,
		Quantity:   req.Quantity,
		Status:     domain.OrderStatusOpen,
		UpdatedAt:  time.Now(),
	}
	m.orders[st.ExchangeID] = st
	return cloneState(st), nil
}

// CancelOrder 撤单
func (m *MockExchange) CancelOrder(ctx context.Context, market, exchangeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CancelCalls++
	if len(m.cancelErrs) > 0 {
		err := m.cancelErrs[0]
		m.cancelErrs = m.cancelErrs[1:]
		return err
	}

	st, ok := m.orders[exchangeID]
	if !ok || st.Status != domain.OrderStatusOpen && st.Status != domain.OrderStatusPartial {
		return domain.NewError(domain.ErrStaleState, "订单 %s 不存在或已终态", exchangeID)
	}
	st.Status = domain.OrderStatusCancelled
	st.UpdatedAt = time.Now()
	return nil
}

// GetOrder 查询订单
func (m *MockExchange) GetOrder(ctx context.Context, market, exchangeID string) (*OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.orders[exchangeID]
	if !ok {
		return nil, domain.NewError(domain.ErrStaleState, "订单 %s 不存在", exchangeID)
	}
	return cloneState(st), nil
}

// OpenOrders 查询挂单
func (m *MockExchange) OpenOrders(ctx context.Context, market string) ([]*OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*OrderState
	for _, st := range m.orders {
		if market != "" && st.Market != market {
			continue
		}
		if st.Status == domain.OrderStatusOpen || st.Status == domain.OrderStatusPartial {
			out = append(out, cloneState(st))
		}
	}
	return out, nil
}

// GetTicker 查询行情
func (m *MockExchange) GetTicker(ctx context.Context, market string) (*Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ticker
	t.Market = market
	return &t, nil
}

// GetBalances 查询余额
func (m *MockExchange) GetBalances(ctx context.Context) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Balance, len(m.balances))
	copy(out, m.balances)
	return out, nil
}

// Fill 模拟指定订单全部成交（测试辅助）
func (m *MockExchange) Fill(exchangeID string) (*OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.orders[exchangeID]
	if !ok {
		return nil, fmt.Errorf("订单 %s 不存在", exchangeID)
	}
	st.FilledQuantity = st.Quantity
	st.Status = domain.OrderStatusFilled
	st.UpdatedAt = time.Now()
	return cloneState(st), nil
}

// FindByClientID 按 ClientID 查订单（测试辅助）
func (m *MockExchange) FindByClientID(clientID string) *OrderState {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.orders {
		if st.ClientID == clientID {
			return cloneState(st)
		}
	}
	return nil
}

func cloneState(st *OrderState) *OrderState {
	c := *st
	return &c
}

var _ Exchange = (*MockExchange)(nil)
