package controller

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tianxingj2021/wangge/internal/domain"
	"github.com/tianxingj2021/wangge/internal/exchange"
	"github.com/tianxingj2021/wangge/internal/services"
	"github.com/tianxingj2021/wangge/internal/strategies"
	_ "github.com/tianxingj2021/wangge/internal/strategies/grid"
	"github.com/tianxingj2021/wangge/pkg/config"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestController(t *testing.T) (*Controller, *exchange.MockExchange) {
	t.Helper()

	mock := exchange.NewMockExchange()
	mock.SetTicker(exchange.Ticker{Bid: d("159"), Ask: d("161"), Last: d("160")})

	pool := exchange.NewPool()
	pool.Register(&config.AccountConfig{Name: "test", BaseURL: "http://localhost", TimeoutSecs: 1}, mock)

	publisher := services.NewStatusPublisher(time.Second)
	return New(strategies.GlobalRegistry, pool, nil, publisher), mock
}

func gridParams() json.RawMessage {
	raw, _ := json.Marshal(map[string]interface{}{
		"account":        "test",
		"market":         "BTC-USD",
		"lower_price":    "100",
		"upper_price":    "200",
		"grid_count":     5,
		"order_quantity": "1",
	})
	return raw
}

func TestController_Lifecycle(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	id, err := c.Create(ctx, "grid", gridParams())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap, err := c.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyStateRunning, snap.State)
	assert.Len(t, snap.ActiveOrders, 5)

	require.NoError(t, c.Stop(ctx, id))
	snap, err = c.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyStateStopped, snap.State)
	assert.Empty(t, snap.ActiveOrders)

	// 重启后重新铺单
	require.NoError(t, c.Restart(ctx, id))
	snap, err = c.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyStateRunning, snap.State)
	assert.Len(t, snap.ActiveOrders, 5)

	require.NoError(t, c.Stop(ctx, id))
	require.NoError(t, c.Delete(ctx, id))

	_, err = c.Status(id)
	assert.Equal(t, domain.ErrStrategyNotFound, domain.KindOf(err))
}

func TestController_UnknownIDRejected(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	assert.Equal(t, domain.ErrStrategyNotFound, domain.KindOf(c.Stop(ctx, "missing")))
	assert.Equal(t, domain.ErrStrategyNotFound, domain.KindOf(c.Restart(ctx, "missing")))
	assert.Equal(t, domain.ErrStrategyNotFound, domain.KindOf(c.Delete(ctx, "missing")))
	_, err := c.Status("missing")
	assert.Equal(t, domain.ErrStrategyNotFound, domain.KindOf(err))
}

func TestController_DeleteRunningRejected(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	id, err := c.Create(ctx, "grid", gridParams())
	require.NoError(t, err)
	defer c.Stop(ctx, id)

	err = c.Delete(ctx, id)
	require.Error(t, err, "运行中的实例不允许删除")
	assert.Equal(t, domain.ErrInvalidConfiguration, domain.KindOf(err))
}

func TestController_UnknownAccountRejected(t *testing.T) {
	c, _ := newTestController(t)

	raw, _ := json.Marshal(map[string]interface{}{
		"account":        "nope",
		"market":         "BTC-USD",
		"lower_price":    "100",
		"upper_price":    "200",
		"grid_count":     5,
		"order_quantity": "1",
	})
	_, err := c.Create(context.Background(), "grid", raw)
	require.Error(t, err)
	assert.Equal(t, domain.ErrInvalidConfiguration, domain.KindOf(err))
}

func TestController_ListAndTypes(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	id, err := c.Create(ctx, "grid", gridParams())
	require.NoError(t, err)
	defer c.Stop(ctx, id)

	list := c.List()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	types := c.Types()
	names := make(map[string]bool)
	for _, desc := range types {
		names[desc.Type] = true
	}
	assert.True(t, names["grid"])
}

func TestController_OrderUpdateFanOut(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	id, err := c.Create(ctx, "grid", gridParams())
	require.NoError(t, err)
	defer c.Stop(ctx, id)

	snap, err := c.Status(id)
	require.NoError(t, err)
	require.NotEmpty(t, snap.ActiveOrders)
	target := snap.ActiveOrders[0]

	c.HandleOrderUpdate(exchange.OrderUpdate{
		ClientID:  target.ClientID,
		Status:    domain.OrderStatusFilled,
		FillQty:   target.Quantity,
		FillPrice: target.Price,
	})

	snap, err = c.Status(id)
	require.NoError(t, err)
	assert.False(t, snap.Position.Quantity.IsZero(), "成交应反映到持仓")
}
