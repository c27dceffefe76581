package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tianxingj2021/wangge/internal/domain"
)

func TestStatusPublisher_GetAndList(t *testing.T) {
	p := NewStatusPublisher(time.Second)
	p.Register("a", func() domain.StrategySnapshot {
		return domain.StrategySnapshot{ID: "a", State: domain.StrategyStateRunning}
	})
	p.Register("b", func() domain.StrategySnapshot {
		return domain.StrategySnapshot{ID: "b", State: domain.StrategyStateStopped}
	})

	snap, err := p.Get("a")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyStateRunning, snap.State)

	_, err = p.Get("missing")
	assert.Equal(t, domain.ErrStrategyNotFound, domain.KindOf(err))

	list := p.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func TestStatusPublisher_SubscribePush(t *testing.T) {
	p := NewStatusPublisher(time.Second)
	p.Register("a", func() domain.StrategySnapshot {
		return domain.StrategySnapshot{ID: "a", CycleCount: 7}
	})

	ch, cancel, err := p.Subscribe("a")
	require.NoError(t, err)
	defer cancel()

	p.publishOnce()

	select {
	case snap := <-ch:
		assert.Equal(t, 7, snap.CycleCount)
	default:
		t.Fatal("订阅方应收到快照")
	}
}

func TestStatusPublisher_UnregisterClosesSubscribers(t *testing.T) {
	p := NewStatusPublisher(time.Second)
	p.Register("a", func() domain.StrategySnapshot {
		return domain.StrategySnapshot{ID: "a"}
	})

	ch, cancel, err := p.Subscribe("a")
	require.NoError(t, err)
	defer cancel()

	p.Unregister("a")

	_, open := <-ch
	assert.False(t, open, "注销后订阅 channel 应关闭")

	_, _, err = p.Subscribe("a")
	assert.Error(t, err)
	assert.Equal(t, domain.ErrStrategyNotFound, domain.KindOf(err))
}
