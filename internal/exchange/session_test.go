package exchange

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tianxingj2021/wangge/pkg/config"
)

// slowExchange 给每次调用加延迟并记录并发进入，用于验证串行化
type slowExchange struct {
	*MockExchange
	inFlight int32
	overlap  int32
}

func (e *slowExchange) enter() {
	if atomic.AddInt32(&e.inFlight, 1) > 1 {
		atomic.StoreInt32(&e.overlap, 1)
	}
	time.Sleep(5 * time.Millisecond)
}

func (e *slowExchange) leave() {
	atomic.AddInt32(&e.inFlight, -1)
}

func (e *slowExchange) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderState, error) {
	e.enter()
	defer e.leave()
	return e.MockExchange.PlaceOrder(ctx, req)
}

func (e *slowExchange) CancelOrder(ctx context.Context, market, exchangeID string) error {
	e.enter()
	defer e.leave()
	return e.MockExchange.CancelOrder(ctx, market, exchangeID)
}

func (e *slowExchange) GetBalances(ctx context.Context) ([]Balance, error) {
	e.enter()
	defer e.leave()
	return e.MockExchange.GetBalances(ctx)
}

func TestSession_OrderAndBalanceCallsSerialized(t *testing.T) {
	slow := &slowExchange{MockExchange: NewMockExchange()}
	s := NewSession("test", slow, time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_, err := s.PlaceOrder(ctx, PlaceOrderRequest{
				ClientID: "c",
				Market:   "BTC-USD",
				Side:     "buy",
				Price:    decimal.NewFromInt(100),
				Quantity: decimal.NewFromInt(1),
			})
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := s.GetBalances(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&slow.overlap), "同一账户的订单与余额调用必须串行")
}

func TestPool_SameAccountSharesSession(t *testing.T) {
	p := NewPool()
	mock := NewMockExchange()
	acc := &config.AccountConfig{Name: "main", TimeoutSecs: 5}

	s1 := p.Register(acc, mock)
	s2 := p.Register(acc, mock)
	assert.Same(t, s1, s2, "同名账户应复用同一会话")

	got, err := p.Get("main")
	require.NoError(t, err)
	assert.Same(t, s1, got)

	_, err = p.Get("missing")
	assert.Error(t, err)
}
