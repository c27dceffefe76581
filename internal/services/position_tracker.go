package services

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tianxingj2021/wangge/internal/domain"
)

// PositionTracker 持仓跟踪器
//
// 消费订单对账器的成交回调，维护净持仓、已实现盈亏和完成的
// 交易循环数。持仓归零或方向翻转计为一个完整循环。
type PositionTracker struct {
	mu        sync.Mutex
	pos       *domain.Position
	cycles    int
	lastPrice decimal.Decimal
	log       *logrus.Entry

	// OnCycle 完成一个交易循环时触发（可选）
	OnCycle func(realized decimal.Decimal)
}

// NewPositionTracker 创建持仓跟踪器
func NewPositionTracker(strategyID, market string) *PositionTracker {
	return &PositionTracker{
		pos: domain.NewPosition(market),
		log: logrus.WithField("strategy", strategyID).WithField("component", "position"),
	}
}

// ApplyFill 应用一笔成交
func (t *PositionTracker) ApplyFill(side domain.Side, qty, price decimal.Decimal) domain.FillResult {
	t.mu.Lock()
	res := t.pos.ApplyFill(side, qty, price)
	t.lastPrice = price
	if res.ClosedCycle {
		t.cycles++
		t.log.Infof("💰 完成第 %d 个循环，本轮已实现盈亏 %s，累计 %s",
			t.cycles, res.RealizedPnL, t.pos.RealizedPnL)
	}
	onCycle := t.OnCycle
	t.mu.Unlock()

	if res.ClosedCycle && onCycle != nil {
		onCycle(res.RealizedPnL)
	}
	return res
}

// MarkPrice 更新标记价（用于未实现盈亏计算）
func (t *PositionTracker) MarkPrice(p decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.GreaterThan(decimal.Zero) {
		t.lastPrice = p
	}
}

// Quantity 当前带符号净持仓
func (t *PositionTracker) Quantity() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos.Quantity
}

// Cycles 已完成的交易循环数
func (t *PositionTracker) Cycles() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cycles
}

// View 当前持仓摘要
func (t *PositionTracker) View() domain.PositionView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.PositionView{
		Quantity:      t.pos.Quantity,
		AvgPrice:      t.pos.AvgPrice,
		RealizedPnL:   t.pos.RealizedPnL,
		UnrealizedPnL: t.pos.UnrealizedPnL(t.lastPrice),
	}
}

// LastPrice 最近一次成交价或标记价
func (t *PositionTracker) LastPrice() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPrice
}
