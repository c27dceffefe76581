package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tianxingj2021/wangge/internal/domain"
	"github.com/tianxingj2021/wangge/internal/exchange"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// memStore 内存实现的 OrderStore，用于重启对账测试
type memStore struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[string][]byte)}
}

func (s *memStore) Put(bucket, key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[bucket] == nil {
		s.data[bucket] = make(map[string][]byte)
	}
	s.data[bucket][key] = b
	return nil
}

func (s *memStore) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[bucket], key)
	return nil
}

func (s *memStore) List(bucket string, fn func(key string, value []byte) error) error {
	s.mu.Lock()
	snapshot := make(map[string][]byte, len(s.data[bucket]))
	for k, v := range s.data[bucket] {
		snapshot[k] = v
	}
	s.mu.Unlock()

	for k, v := range snapshot {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func fastRetry() retryPolicy {
	return retryPolicy{MaxAttempts: 3, Base: time.Millisecond, Cap: 10 * time.Millisecond}
}

func newTestReconciler(mock *exchange.MockExchange, store OrderStore) *OrderReconciler {
	return NewOrderReconciler(ReconcilerOptions{
		StrategyID: "test-strategy",
		Market:     "BTC-USD",
		Cooldown:   50 * time.Millisecond,
		Retry:      fastRetry(),
	}, mock, store)
}

func TestSubmit_DuplicateLevelRejectedLocally(t *testing.T) {
	mock := exchange.NewMockExchange()
	r := newTestReconciler(mock, nil)
	ctx := context.Background()

	_, err := r.Submit(ctx, domain.SideBuy, d("100"), d("1"), 3)
	require.NoError(t, err)

	_, err = r.Submit(ctx, domain.SideBuy, d("100"), d("1"), 3)
	assert.ErrorIs(t, err, ErrDuplicateLevel)
	assert.Equal(t, 1, mock.PlaceCalls, "重复提交不应产生交易所调用")
}

func TestSubmit_TransientRetryThenSuccess(t *testing.T) {
	mock := exchange.NewMockExchange()
	mock.FailNextPlace(
		domain.NewError(domain.ErrTransientNetwork, "连接超时"),
		domain.NewError(domain.ErrTransientNetwork, "连接超时"),
	)
	r := newTestReconciler(mock, nil)

	o, err := r.Submit(context.Background(), domain.SideBuy, d("100"), d("1"), 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, o.Status)
	assert.Equal(t, 3, mock.PlaceCalls)
}

func TestSubmit_RetryExhaustedLevelCooldown(t *testing.T) {
	mock := exchange.NewMockExchange()
	mock.FailNextPlace(
		domain.NewError(domain.ErrTransientNetwork, "连接超时"),
		domain.NewError(domain.ErrTransientNetwork, "连接超时"),
		domain.NewError(domain.ErrTransientNetwork, "连接超时"),
	)
	r := newTestReconciler(mock, nil)
	ctx := context.Background()

	_, err := r.Submit(ctx, domain.SideBuy, d("100"), d("1"), 2)
	require.Error(t, err)
	assert.Equal(t, 3, mock.PlaceCalls, "瞬时错误最多重试到 3 次尝试")
	assert.True(t, r.LevelInCooldown(2))

	_, err = r.Submit(ctx, domain.SideBuy, d("100"), d("1"), 2)
	assert.ErrorIs(t, err, ErrLevelCooldown)
	assert.Equal(t, 3, mock.PlaceCalls, "冷却期内不应再调交易所")
}

func TestSubmit_RejectionNotRetried(t *testing.T) {
	mock := exchange.NewMockExchange()
	mock.FailNextPlace(domain.NewError(domain.ErrExchangeRejection, "价格精度不符"))
	r := newTestReconciler(mock, nil)

	_, err := r.Submit(context.Background(), domain.SideSell, d("100"), d("1"), 1)
	require.Error(t, err)
	assert.Equal(t, domain.ErrExchangeRejection, domain.KindOf(err))
	assert.Equal(t, 1, mock.PlaceCalls, "明确拒绝不应重试")
	assert.True(t, r.LevelInCooldown(1))
}

func TestApplyRemoteState_FillIsIdempotent(t *testing.T) {
	mock := exchange.NewMockExchange()
	r := newTestReconciler(mock, nil)
	ctx := context.Background()

	o, err := r.Submit(ctx, domain.SideBuy, d("100"), d("2"), 5)
	require.NoError(t, err)

	fills := 0
	r.OnFill = func(_ *domain.Order, qty, price decimal.Decimal) {
		fills++
		assert.True(t, qty.Equal(d("2")))
		assert.True(t, price.Equal(d("100")))
	}

	update := exchange.OrderUpdate{
		ClientID:  o.ClientID,
		Status:    domain.OrderStatusFilled,
		FillQty:   d("2"),
		FillPrice: d("100"),
	}
	r.ApplyRemoteState(update)
	r.ApplyRemoteState(update) // 重复推送

	assert.Equal(t, 1, fills, "同一成交的重复推送应被忽略")
	assert.Nil(t, r.ActiveOrderAtLevel(5), "成交后层级应释放")

	// 层级释放后可再次挂单
	_, err = r.Submit(ctx, domain.SideSell, d("105"), d("2"), 5)
	assert.NoError(t, err)
}

// gatedGateway 把 PlaceOrder 卡在发出与确认之间，模拟确认在途的窗口
type gatedGateway struct {
	*exchange.MockExchange
	entered chan struct{}
	release chan struct{}
}

func (g *gatedGateway) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderState, error) {
	close(g.entered)
	<-g.release
	return g.MockExchange.PlaceOrder(ctx, req)
}

func TestSubmit_SyncDuringPlacementKeepsOrderTracked(t *testing.T) {
	mock := exchange.NewMockExchange()
	gw := &gatedGateway{
		MockExchange: mock,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	r := NewOrderReconciler(ReconcilerOptions{
		StrategyID: "test-strategy",
		Market:     "BTC-USD",
		Cooldown:   50 * time.Millisecond,
		Retry:      fastRetry(),
	}, gw, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := r.Submit(ctx, domain.SideBuy, d("100"), d("1"), 3)
		done <- err
	}()

	// 订单已登记但交易所尚未确认，此时对账看不到这张挂单
	<-gw.entered
	require.NoError(t, r.Sync(ctx))

	close(gw.release)
	require.NoError(t, <-done)

	require.Len(t, r.ActiveOrders(), 1, "确认在途的订单不应被对账清理")
	assert.NotNil(t, r.ActiveOrderAtLevel(3))

	_, err := r.Submit(ctx, domain.SideBuy, d("100"), d("1"), 3)
	assert.ErrorIs(t, err, ErrDuplicateLevel)
	assert.Equal(t, 1, mock.PlaceCalls, "同一层级只应有一次交易所下单")
}

func TestSync_RemotelyCancelledOrderMarkedLocally(t *testing.T) {
	mock := exchange.NewMockExchange()
	r := newTestReconciler(mock, nil)
	ctx := context.Background()

	o, err := r.Submit(ctx, domain.SideBuy, d("100"), d("1"), 0)
	require.NoError(t, err)

	// 外部直接在交易所撤掉这张单
	require.NoError(t, mock.CancelOrder(ctx, "BTC-USD", o.ExchangeID))

	cancelled := 0
	r.OnCancel = func(_ *domain.Order) { cancelled++ }

	require.NoError(t, r.Sync(ctx))
	assert.Equal(t, 1, cancelled)
	assert.Empty(t, r.ActiveOrders())
}

func TestSync_RemoteFillReconciled(t *testing.T) {
	mock := exchange.NewMockExchange()
	r := newTestReconciler(mock, nil)
	ctx := context.Background()

	o, err := r.Submit(ctx, domain.SideBuy, d("100"), d("1"), 0)
	require.NoError(t, err)

	// 数据流丢失成交推送，轮询对账兜底
	_, err = mock.Fill(o.ExchangeID)
	require.NoError(t, err)

	fills := 0
	r.OnFill = func(_ *domain.Order, qty, _ decimal.Decimal) {
		fills++
		assert.True(t, qty.Equal(d("1")))
	}

	require.NoError(t, r.Sync(ctx))
	assert.Equal(t, 1, fills)
	assert.Empty(t, r.ActiveOrders())
}

func TestReconcileOnStart_AdoptsWithoutDuplicates(t *testing.T) {
	mock := exchange.NewMockExchange()
	store := newMemStore()
	ctx := context.Background()

	r1 := newTestReconciler(mock, store)
	_, err := r1.Submit(ctx, domain.SideBuy, d("100"), d("1"), 0)
	require.NoError(t, err)
	_, err = r1.Submit(ctx, domain.SideSell, d("110"), d("1"), 4)
	require.NoError(t, err)
	require.Equal(t, 2, mock.PlaceCalls)

	// 模拟进程重启：新对账器，同一存储与交易所
	r2 := newTestReconciler(mock, store)
	require.NoError(t, r2.ReconcileOnStart(ctx))

	assert.Len(t, r2.ActiveOrders(), 2, "重启后应收编全部挂单")
	assert.Equal(t, 2, mock.PlaceCalls, "重启对账绝不重复下单")
	assert.NotNil(t, r2.ActiveOrderAtLevel(0))
	assert.NotNil(t, r2.ActiveOrderAtLevel(4))
}

func TestReconcileOnStart_FilledWhileDownTriggersCallback(t *testing.T) {
	mock := exchange.NewMockExchange()
	store := newMemStore()
	ctx := context.Background()

	r1 := newTestReconciler(mock, store)
	o, err := r1.Submit(ctx, domain.SideBuy, d("100"), d("1"), 0)
	require.NoError(t, err)

	// 停机期间成交
	_, err = mock.Fill(o.ExchangeID)
	require.NoError(t, err)

	r2 := newTestReconciler(mock, store)
	fills := 0
	r2.OnFill = func(_ *domain.Order, qty, _ decimal.Decimal) {
		fills++
		assert.True(t, qty.Equal(d("1")))
	}
	require.NoError(t, r2.ReconcileOnStart(ctx))

	assert.Equal(t, 1, fills, "停机期间的成交应补发回调")
	assert.Empty(t, r2.ActiveOrders())
}

func TestCancelAll_ContinuesAfterFailure(t *testing.T) {
	mock := exchange.NewMockExchange()
	r := newTestReconciler(mock, nil)
	ctx := context.Background()

	_, err := r.Submit(ctx, domain.SideBuy, d("100"), d("1"), 0)
	require.NoError(t, err)
	_, err = r.Submit(ctx, domain.SideSell, d("110"), d("1"), 4)
	require.NoError(t, err)

	mock.FailNextCancel(domain.NewError(domain.ErrExchangeRejection, "撤单被拒"))

	failed := r.CancelAll(ctx)
	assert.Equal(t, 1, failed)
	assert.Len(t, r.ActiveOrders(), 1, "失败的那张仍然在场")
}
