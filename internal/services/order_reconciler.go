package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tianxingj2021/wangge/internal/domain"
	"github.com/tianxingj2021/wangge/internal/exchange"
)

var (
	// ErrDuplicateLevel 层级上已有活跃订单，本地直接拒绝
	ErrDuplicateLevel = errors.New("层级上已有活跃订单")
	// ErrLevelCooldown 层级处于失败冷却期
	ErrLevelCooldown = errors.New("层级处于失败冷却期")
)

// OrderGateway 对账器需要的交易所能力
// exchange.Session 和 exchange.MockExchange 都满足该接口
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderState, error)
	CancelOrder(ctx context.Context, market, exchangeID string) error
	GetOrder(ctx context.Context, market, exchangeID string) (*exchange.OrderState, error)
	OpenOrders(ctx context.Context, market string) ([]*exchange.OrderState, error)
}

// OrderStore 订单快照的本地持久化
// persistence.Store 满足该接口，测试可以传 nil 跳过持久化
type OrderStore interface {
	Put(bucket, key string, value interface{}) error
	Delete(bucket, key string) error
	List(bucket string, fn func(key string, value []byte) error) error
}

// ReconcilerOptions 对账器配置
type ReconcilerOptions struct {
	StrategyID string
	Market     string
	Cooldown   time.Duration // 层级失败后的冷却时长，默认 30 秒
	Retry      retryPolicy
}

// OrderReconciler 订单对账器
//
// 策略层的所有订单操作都经过这里。对账器维护本地订单账本，
// 保证每个网格层级同一时刻至多一张活跃订单，并把交易所侧的
// 状态变化（成交/撤单/拒绝）收敛回本地账本。
type OrderReconciler struct {
	opts    ReconcilerOptions
	gateway OrderGateway
	store   OrderStore
	log     *logrus.Entry

	mu           sync.Mutex
	byClient     map[string]*domain.Order
	byExchange   map[string]*domain.Order
	byLevel      map[int]*domain.Order
	erroredUntil map[int]time.Time
	inflight     map[string]bool // 已登记但尚未收到交易所确认的订单，对账跳过

	// 状态变化回调，由策略层注册
	OnFill   func(o *domain.Order, qty, price decimal.Decimal)
	OnCancel func(o *domain.Order)
	OnReject func(o *domain.Order, reason string)
}

// NewOrderReconciler 创建订单对账器
func NewOrderReconciler(opts ReconcilerOptions, gateway OrderGateway, store OrderStore) *OrderReconciler {
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = defaultRetryPolicy()
	}
	return &OrderReconciler{
		opts:         opts,
		gateway:      gateway,
		store:        store,
		log:          logrus.WithField("strategy", opts.StrategyID).WithField("component", "reconciler"),
		byClient:     make(map[string]*domain.Order),
		byExchange:   make(map[string]*domain.Order),
		byLevel:      make(map[int]*domain.Order),
		erroredUntil: make(map[int]time.Time),
		inflight:     make(map[string]bool),
	}
}

func (r *OrderReconciler) bucket() string {
	return "orders/" + r.opts.StrategyID
}

func (r *OrderReconciler) persist(o *domain.Order) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(r.bucket(), o.ClientID, o); err != nil {
		r.log.Warnf("持久化订单失败 %s: %v", o.ClientID, err)
	}
}

func (r *OrderReconciler) unpersist(o *domain.Order) {
	if r.store == nil {
		return
	}
	if err := r.store.Delete(r.bucket(), o.ClientID); err != nil {
		r.log.Warnf("删除持久化订单失败 %s: %v", o.ClientID, err)
	}
}

// Submit 在指定层级下单
//
// 层级已有活跃订单时本地直接拒绝，不产生交易所调用；瞬时网络错误
// 按指数退避重试，重试耗尽或被交易所拒绝后层级进入冷却期。
func (r *OrderReconciler) Submit(ctx context.Context, side domain.Side, price, qty decimal.Decimal, level int) (*domain.Order, error) {
	now := time.Now()

	r.mu.Lock()
	if until, ok := r.erroredUntil[level]; ok && now.Before(until) {
		r.mu.Unlock()
		return nil, ErrLevelCooldown
	}
	if existing, ok := r.byLevel[level]; ok && existing.IsActive() {
		r.mu.Unlock()
		return nil, ErrDuplicateLevel
	}

	o := &domain.Order{
		ClientID:   uuid.NewString(),
		StrategyID: r.opts.StrategyID,
		Market:     r.opts.Market,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		Status:     domain.OrderStatusPending,
		Level:      level,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.byClient[o.ClientID] = o
	r.byLevel[level] = o
	r.inflight[o.ClientID] = true
	// 发送前先落盘，崩溃后重启对账时能识别这张单
	r.persist(o)
	r.mu.Unlock()

	var state *exchange.OrderState
	err := retryTransient(ctx, r.opts.Retry, func() error {
		st, perr := r.gateway.PlaceOrder(ctx, exchange.PlaceOrderRequest{
			ClientID: o.ClientID,
			Market:   o.Market,
			Side:     o.Side,
			Price:    o.Price,
			Quantity: o.Quantity,
			// 网格挂单只做 maker
			PostOnly: true,
		})
		if perr != nil {
			return perr
		}
		state = st
		return nil
	})

	r.mu.Lock()
	delete(r.inflight, o.ClientID)

	if err != nil {
		o.Status = domain.OrderStatusRejected
		o.UpdatedAt = time.Now()
		delete(r.byLevel, level)
		delete(r.byClient, o.ClientID)
		r.unpersist(o)
		r.erroredUntil[level] = time.Now().Add(r.opts.Cooldown)
		r.log.Warnf("❌ 层级 %d 下单失败，冷却 %v: %v", level, r.opts.Cooldown, err)
		r.mu.Unlock()
		return nil, err
	}

	if o.IsFinal() {
		// 在途期间被本地取消，刚挂上的单要立刻撤掉
		r.mu.Unlock()
		if cerr := r.gateway.CancelOrder(ctx, r.opts.Market, state.ExchangeID); cerr != nil {
			r.log.Errorf("撤销在途期间被取消的订单 %s 失败: %v", o.ClientID, cerr)
		}
		return nil, errors.New("订单在交易所确认前已被取消")
	}

	o.ExchangeID = state.ExchangeID
	o.Status = domain.OrderStatusOpen
	o.UpdatedAt = time.Now()
	// 三张映射全部重建，避免在途期间的并发清理留下缺口
	r.byClient[o.ClientID] = o
	r.byLevel[level] = o
	r.byExchange[o.ExchangeID] = o
	r.persist(o)
	r.log.Infof("📝 层级 %d 挂单 %s %s@%s x%s", level, o.Side, o.Market, o.Price, o.Quantity)
	r.mu.Unlock()
	return o, nil
}

// Cancel 按 ClientID 撤单
// 交易所侧订单已不存在时只做本地标记，不报错
func (r *OrderReconciler) Cancel(ctx context.Context, clientID string) error {
	r.mu.Lock()
	o, ok := r.byClient[clientID]
	if !ok || !o.IsActive() {
		r.mu.Unlock()
		return nil
	}
	exchangeID := o.ExchangeID
	r.mu.Unlock()

	if exchangeID != "" {
		err := retryTransient(ctx, r.opts.Retry, func() error {
			return r.gateway.CancelOrder(ctx, r.opts.Market, exchangeID)
		})
		if err != nil && !domain.IsKind(err, domain.ErrStaleState) {
			return errors.Wrapf(err, "撤单失败 %s", clientID)
		}
		if domain.IsKind(err, domain.ErrStaleState) {
			r.log.Warnf("撤单时订单 %s 已不在交易所，本地标记取消", clientID)
		}
	}

	r.mu.Lock()
	cb := r.markCancelledLocked(o)
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

// CancelAll 撤掉所有活跃订单
// 单张失败只记日志，继续处理其余订单，返回失败数量
func (r *OrderReconciler) CancelAll(ctx context.Context) int {
	orders := r.ActiveOrders()
	failed := 0
	for _, o := range orders {
		if err := r.Cancel(ctx, o.ClientID); err != nil {
			failed++
			r.log.Errorf("撤单失败 %s: %v", o.ClientID, err)
		}
	}
	if failed > 0 {
		r.log.Warnf("⚠️ 全部撤单完成，%d 张失败", failed)
	}
	return failed
}

// ApplyRemoteState 应用来自用户数据流的订单更新
// 未知订单和已终态订单的更新直接忽略（重复推送是幂等的）
func (r *OrderReconciler) ApplyRemoteState(update exchange.OrderUpdate) {
	r.mu.Lock()
	o, ok := r.byClient[update.ClientID]
	if !ok && update.ExchangeID != "" {
		o, ok = r.byExchange[update.ExchangeID]
	}
	if !ok || o.IsFinal() {
		r.mu.Unlock()
		return
	}

	var cb func()
	switch update.Status {
	case domain.OrderStatusFilled, domain.OrderStatusPartial:
		cb = r.applyFillLocked(o, update.FillQty, update.FillPrice)
	case domain.OrderStatusCancelled:
		cb = r.markCancelledLocked(o)
	case domain.OrderStatusRejected:
		cb = r.markRejectedLocked(o, update.Reason)
	case domain.OrderStatusOpen:
		if o.Status == domain.OrderStatusPending {
			o.Status = domain.OrderStatusOpen
			if o.ExchangeID == "" && update.ExchangeID != "" {
				o.ExchangeID = update.ExchangeID
				r.byExchange[o.ExchangeID] = o
			}
			o.UpdatedAt = time.Now()
			r.persist(o)
		}
	}
	r.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Sync 主动对账：以交易所挂单列表为准收敛本地账本
//
// 本地活跃但交易所已不在挂单列表的订单逐张查询：已成交的补发
// 成交回调，已取消/查不到的本地标记取消。
func (r *OrderReconciler) Sync(ctx context.Context) error {
	remote, err := r.gateway.OpenOrders(ctx, r.opts.Market)
	if err != nil {
		return errors.Wrap(err, "查询交易所挂单失败")
	}

	remoteByClient := make(map[string]*exchange.OrderState, len(remote))
	for _, st := range remote {
		remoteByClient[st.ClientID] = st
	}

	var callbacks []func()
	r.mu.Lock()
	locals := make([]*domain.Order, 0, len(r.byClient))
	for _, o := range r.byClient {
		// 在途订单还没拿到交易所确认，不在挂单列表是正常的
		if o.IsActive() && !r.inflight[o.ClientID] {
			locals = append(locals, o)
		}
	}
	r.mu.Unlock()

	for _, o := range locals {
		if st, ok := remoteByClient[o.ClientID]; ok {
			// 仍在场上，补齐部分成交进度
			r.mu.Lock()
			if st.FilledQuantity.GreaterThan(o.FilledQuantity) {
				delta := st.FilledQuantity.Sub(o.FilledQuantity)
				if cb := r.applyFillLocked(o, delta, st.Price); cb != nil {
					callbacks = append(callbacks, cb)
				}
			}
			r.mu.Unlock()
			continue
		}
		if o.ExchangeID == "" {
			// 从未得到交易所确认又不在挂单列表，视为没挂上
			r.mu.Lock()
			if cb := r.markCancelledLocked(o); cb != nil {
				callbacks = append(callbacks, cb)
			}
			r.mu.Unlock()
			continue
		}

		st, gerr := r.gateway.GetOrder(ctx, r.opts.Market, o.ExchangeID)
		if gerr != nil {
			if domain.IsKind(gerr, domain.ErrStaleState) {
				r.mu.Lock()
				if cb := r.markCancelledLocked(o); cb != nil {
					callbacks = append(callbacks, cb)
				}
				r.mu.Unlock()
				continue
			}
			r.log.Warnf("对账查询订单 %s 失败: %v", o.ClientID, gerr)
			continue
		}

		r.mu.Lock()
		switch st.Status {
		case domain.OrderStatusFilled:
			delta := st.FilledQuantity.Sub(o.FilledQuantity)
			if cb := r.applyFillLocked(o, delta, st.Price); cb != nil {
				callbacks = append(callbacks, cb)
			}
		case domain.OrderStatusCancelled:
			if cb := r.markCancelledLocked(o); cb != nil {
				callbacks = append(callbacks, cb)
			}
		case domain.OrderStatusRejected:
			if cb := r.markRejectedLocked(o, "对账发现订单被拒绝"); cb != nil {
				callbacks = append(callbacks, cb)
			}
		}
		r.mu.Unlock()
	}

	for _, cb := range callbacks {
		cb()
	}
	return nil
}

// ReconcileOnStart 重启后的首次对账
//
// 加载本地持久化的订单快照，与交易所挂单逐一比对：仍在场上的
// 直接收编为活跃订单（绝不重复下单），已离场的确认终态后清理。
func (r *OrderReconciler) ReconcileOnStart(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	var persisted []*domain.Order
	err := r.store.List(r.bucket(), func(key string, value []byte) error {
		var o domain.Order
		if jerr := json.Unmarshal(value, &o); jerr != nil {
			r.log.Warnf("解析持久化订单 %s 失败: %v", key, jerr)
			return nil
		}
		persisted = append(persisted, &o)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "加载持久化订单失败")
	}
	if len(persisted) == 0 {
		return nil
	}

	remote, err := r.gateway.OpenOrders(ctx, r.opts.Market)
	if err != nil {
		return errors.Wrap(err, "重启对账查询挂单失败")
	}
	remoteByClient := make(map[string]*exchange.OrderState, len(remote))
	for _, st := range remote {
		remoteByClient[st.ClientID] = st
	}

	adopted := 0
	var callbacks []func()
	for _, o := range persisted {
		if st, ok := remoteByClient[o.ClientID]; ok {
			r.mu.Lock()
			o.ExchangeID = st.ExchangeID
			o.Status = st.Status
			o.FilledQuantity = st.FilledQuantity
			o.UpdatedAt = time.Now()
			r.byClient[o.ClientID] = o
			r.byExchange[o.ExchangeID] = o
			r.byLevel[o.Level] = o
			r.persist(o)
			r.mu.Unlock()
			adopted++
			continue
		}

		// 不在挂单列表，确认终态
		if o.ExchangeID != "" {
			st, gerr := r.gateway.GetOrder(ctx, r.opts.Market, o.ExchangeID)
			if gerr == nil && st.Status == domain.OrderStatusFilled {
				// 停机期间成交，补发回调让持仓收敛
				delta := st.FilledQuantity.Sub(o.FilledQuantity)
				o.FilledQuantity = st.FilledQuantity
				o.Status = domain.OrderStatusFilled
				if r.OnFill != nil && delta.GreaterThan(decimal.Zero) {
					oo, price := o, st.Price
					callbacks = append(callbacks, func() { r.OnFill(oo, delta, price) })
				}
			}
		}
		r.unpersist(o)
	}

	r.log.Infof("🔄 重启对账完成：收编 %d 张挂单，清理 %d 条记录", adopted, len(persisted)-adopted)

	for _, cb := range callbacks {
		cb()
	}
	return nil
}

// ActiveOrders 返回所有活跃订单（按层级排序）
func (r *OrderReconciler) ActiveOrders() []*domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Order, 0, len(r.byClient))
	for _, o := range r.byClient {
		if o.IsActive() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// ActiveOrderAtLevel 返回指定层级的活跃订单，没有时返回 nil
func (r *OrderReconciler) ActiveOrderAtLevel(level int) *domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.byLevel[level]; ok && o.IsActive() {
		return o
	}
	return nil
}

// LevelInCooldown 检查层级是否处于失败冷却期
func (r *OrderReconciler) LevelInCooldown(level int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	until, ok := r.erroredUntil[level]
	return ok && time.Now().Before(until)
}

// applyFillLocked 应用成交并返回待执行的回调（调用方在解锁后执行）
func (r *OrderReconciler) applyFillLocked(o *domain.Order, qty, price decimal.Decimal) func() {
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	o.ApplyFill(qty, time.Now())
	if o.Status == domain.OrderStatusFilled {
		delete(r.byLevel, o.Level)
		delete(r.byClient, o.ClientID)
		delete(r.byExchange, o.ExchangeID)
		r.unpersist(o)
		r.log.Infof("✅ 层级 %d 订单成交 %s @%s x%s", o.Level, o.Side, price, qty)
	} else {
		r.persist(o)
		r.log.Infof("部分成交 层级 %d %s @%s x%s（累计 %s/%s）", o.Level, o.Side, price, qty, o.FilledQuantity, o.Quantity)
	}
	if r.OnFill != nil {
		return func() { r.OnFill(o, qty, price) }
	}
	return nil
}

func (r *OrderReconciler) markCancelledLocked(o *domain.Order) func() {
	if o.IsFinal() {
		return nil
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = time.Now()
	delete(r.byLevel, o.Level)
	delete(r.byClient, o.ClientID)
	delete(r.byExchange, o.ExchangeID)
	r.unpersist(o)
	if r.OnCancel != nil {
		return func() { r.OnCancel(o) }
	}
	return nil
}

func (r *OrderReconciler) markRejectedLocked(o *domain.Order, reason string) func() {
	if o.IsFinal() {
		return nil
	}
	o.Status = domain.OrderStatusRejected
	o.UpdatedAt = time.Now()
	delete(r.byLevel, o.Level)
	delete(r.byClient, o.ClientID)
	delete(r.byExchange, o.ExchangeID)
	r.unpersist(o)
	r.erroredUntil[o.Level] = time.Now().Add(r.opts.Cooldown)
	r.log.Warnf("❌ 层级 %d 订单被拒绝: %s", o.Level, reason)
	if r.OnReject != nil {
		return func() { r.OnReject(o, reason) }
	}
	return nil
}
