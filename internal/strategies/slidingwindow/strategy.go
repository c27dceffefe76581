package slidingwindow

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tianxingj2021/wangge/internal/domain"
	"github.com/tianxingj2021/wangge/internal/exchange"
	"github.com/tianxingj2021/wangge/internal/services"
	"github.com/tianxingj2021/wangge/internal/strategies"
)

const ID = "sliding_window_grid"

var log = logrus.WithField("strategy", ID)

func init() {
	strategies.Register(strategies.Descriptor{
		Type:        ID,
		Name:        "滑动窗口网格",
		Description: "围绕最新盘口滚动维护固定数量的买卖挂单，窗口随价格漂移，按持仓倾斜买卖配比",
		Fields: []strategies.Field{
			{Name: "account", Type: "string", Required: true},
			{Name: "market", Type: "string", Required: true},
			{Name: "order_quantity", Type: "decimal", Required: true},
			{Name: "total_orders", Type: "int", Default: "18"},
			{Name: "price_interval", Type: "decimal", Default: "10"},
			{Name: "safe_gap", Type: "decimal", Default: "20"},
			{Name: "window_percent", Type: "decimal", Default: "0.12"},
			{Name: "buy_ratio", Type: "decimal", Default: "0.5"},
			{Name: "sell_ratio", Type: "decimal", Default: "0.5"},
			{Name: "max_multiplier", Type: "int", Default: "15"},
			{Name: "min_valid_price", Type: "decimal", Default: "10000"},
			{Name: "max_drift_buffer", Type: "decimal", Default: "2000"},
			{Name: "max_cancels_per_tick", Type: "int", Default: "10"},
			{Name: "order_cooldown_ms", Type: "int", Default: "1500"},
		},
	}, New)
}

// Strategy 滑动窗口网格策略
type Strategy struct {
	id   string
	deps strategies.Deps

	mu      sync.Mutex
	cfg     *Config
	state   domain.StrategyState
	lastErr string

	reconciler *services.OrderReconciler
	tracker    *services.PositionTracker

	lastOrderAt time.Time
	lastBid     decimal.Decimal
	lastAsk     decimal.Decimal

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New 创建滑动窗口网格策略实例
func New(id string, raw json.RawMessage, deps strategies.Deps) (strategies.Strategy, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidConfiguration, err, "解析滑动窗口配置失败")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Strategy{
		id:      id,
		deps:    deps,
		cfg:     &cfg,
		state:   domain.StrategyStateStopped,
		tracker: services.NewPositionTracker(id, cfg.Market),
	}
	s.reconciler = services.NewOrderReconciler(services.ReconcilerOptions{
		StrategyID: id,
		Market:     cfg.Market,
	}, deps.Session, deps.Store)
	s.reconciler.OnFill = func(o *domain.Order, qty, price decimal.Decimal) {
		s.tracker.ApplyFill(o.Side, qty, price)
	}
	return s, nil
}

func (s *Strategy) ID() string     { return s.id }
func (s *Strategy) Type() string   { return ID }
func (s *Strategy) Market() string { return s.cfg.Market }

// Start 启动策略
func (s *Strategy) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("策略已在运行")
	}
	s.mu.Unlock()

	if err := s.reconciler.ReconcileOnStart(ctx); err != nil {
		log.Warnf("[%s] 重启对账失败，继续启动: %v", s.id, err)
	}

	if err := s.tick(ctx); err != nil {
		s.setError(err)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.running = true
	s.state = domain.StrategyStateRunning
	s.lastErr = ""
	cfg := s.cfg
	s.mu.Unlock()

	go s.loop(loopCtx, done)

	log.Infof("🚀 [%s] 滑动窗口启动 %s，目标挂单 %d 张，间距 %s",
		s.id, cfg.Market, cfg.TotalOrders, cfg.PriceInterval)
	return nil
}

// Stop 停止策略并撤掉全部挂单（不平仓）
func (s *Strategy) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	failed := s.reconciler.CancelAll(ctx)

	s.mu.Lock()
	s.running = false
	s.state = domain.StrategyStateStopped
	s.mu.Unlock()

	log.Infof("🛑 [%s] 滑动窗口停止，撤单失败 %d 张", s.id, failed)
	return nil
}

// UpdateConfig 更新配置，下一个周期按新参数收敛
func (s *Strategy) UpdateConfig(raw json.RawMessage) error {
	var next Config
	if err := json.Unmarshal(raw, &next); err != nil {
		return domain.WrapError(domain.ErrInvalidConfiguration, err, "解析滑动窗口配置失败")
	}
	next.applyDefaults()
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if next.Market != s.cfg.Market {
		return domain.NewError(domain.ErrInvalidConfiguration, "更新不允许修改 market")
	}
	s.cfg = &next
	log.Infof("🔧 [%s] 配置已更新，目标挂单 %d 张", s.id, next.TotalOrders)
	return nil
}

// HandleOrderUpdate 注入交易所侧订单更新
func (s *Strategy) HandleOrderUpdate(u exchange.OrderUpdate) {
	s.reconciler.ApplyRemoteState(u)
}

// Snapshot 当前状态快照
// 买卖挂单分开给出，各自按价格从高到低排序，方便前端直接渲染盘口两侧
func (s *Strategy) Snapshot() domain.StrategySnapshot {
	s.mu.Lock()
	state, lastErr, cfg := s.state, s.lastErr, s.cfg
	bid, ask := s.lastBid, s.lastAsk
	s.mu.Unlock()

	orders := s.reconciler.ActiveOrders()
	views := make([]domain.OrderView, 0, len(orders))
	var buys, sells []domain.OrderView
	for _, o := range orders {
		v := domain.OrderView{
			ClientID: o.ClientID,
			Side:     o.Side,
			Price:    o.Price,
			Quantity: o.Quantity,
			Filled:   o.FilledQuantity,
			Status:   o.Status,
			Level:    o.Level,
		}
		views = append(views, v)
		if o.Side == domain.SideBuy {
			buys = append(buys, v)
		} else {
			sells = append(sells, v)
		}
	}
	byPriceDesc := func(vs []domain.OrderView) func(i, j int) bool {
		return func(i, j int) bool { return vs[i].Price.GreaterThan(vs[j].Price) }
	}
	sort.Slice(buys, byPriceDesc(buys))
	sort.Slice(sells, byPriceDesc(sells))

	return domain.StrategySnapshot{
		ID:           s.id,
		Type:         ID,
		Market:       cfg.Market,
		State:        state,
		Position:     s.tracker.View(),
		ActiveOrders: views,
		BuyOrders:    buys,
		SellOrders:   sells,
		CycleCount:   s.tracker.Cycles(),
		LastPrice:    s.tracker.LastPrice(),
		BestBid:      bid,
		BestAsk:      ask,
		OrderSize:    cfg.OrderQuantity,
		Error:        lastErr,
		UpdatedAt:    time.Now(),
	}
}

func (s *Strategy) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.mu.Lock()
	interval := time.Duration(s.cfg.UpdateIntervalSecs) * time.Second
	syncEvery := time.Duration(s.cfg.SyncIntervalSecs) * time.Second
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	syncTicker := time.NewTicker(syncEvery)
	defer syncTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				log.Warnf("[%s] 周期执行失败: %v", s.id, err)
			}
		case <-syncTicker.C:
			if err := s.reconciler.Sync(ctx); err != nil {
				log.Warnf("[%s] 主动对账失败: %v", s.id, err)
			}
		}
	}
}

// desiredOrder 本周期的目标挂单
type desiredOrder struct {
	price decimal.Decimal
	side  domain.Side
	level int
}

// tick 执行一个窗口周期：重算目标挂单集合并向其收敛
func (s *Strategy) tick(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	t, err := s.deps.Session.GetTicker(ctx, cfg.Market)
	if err != nil {
		return errors.Wrap(err, "获取行情失败")
	}
	mid := t.Mid()
	s.tracker.MarkPrice(mid)
	s.mu.Lock()
	s.lastBid, s.lastAsk = t.Bid, t.Ask
	s.mu.Unlock()

	if mid.LessThan(cfg.MinValidPrice) {
		log.Warnf("[%s] 中间价 %s 低于有效下限 %s，跳过本周期", s.id, mid, cfg.MinValidPrice)
		return nil
	}

	desired := s.buildWindow(cfg, t)
	s.cleanupOrders(ctx, cfg, mid, desired)
	s.placeMissing(ctx, cfg, mid, desired)
	return nil
}

// levelKey 价格到层级键的映射，同一间距桶内的价格共用一个键
func levelKey(price, interval decimal.Decimal) int {
	return int(price.Div(interval).IntPart())
}

// buildWindow 计算本周期的目标挂单集合
//
// 卖单从 卖一+safe_gap 向上取整到间距的整数倍开始向上铺，买单从
// 买一-safe_gap 向下取整开始向下铺。买卖张数按持仓倾斜：持仓越重，
// 加仓方向分到的张数越少，达到上限后只挂减仓方向。
func (s *Strategy) buildWindow(cfg *Config, t *exchange.Ticker) []desiredOrder {
	mid := t.Mid()
	interval := cfg.PriceInterval

	sellStart := t.Ask.Add(cfg.SafeGap).Div(interval).Ceil().Mul(interval)
	buyEnd := t.Bid.Sub(cfg.SafeGap).Div(interval).Floor().Mul(interval)

	buyCount, sellCount := s.orderCounts(cfg)

	// 窗口边界：偏离中间价超过 window_percent 的层级不挂
	windowHalf := mid.Mul(cfg.WindowPercent)
	lowBound := mid.Sub(windowHalf)
	highBound := mid.Add(windowHalf)

	desired := make([]desiredOrder, 0, cfg.TotalOrders)
	for k := 0; k < sellCount; k++ {
		price := sellStart.Add(interval.Mul(decimal.NewFromInt(int64(k))))
		if price.GreaterThan(highBound) {
			break
		}
		desired = append(desired, desiredOrder{price: price, side: domain.SideSell, level: levelKey(price, interval)})
	}
	for k := 0; k < buyCount; k++ {
		price := buyEnd.Sub(interval.Mul(decimal.NewFromInt(int64(k))))
		if price.LessThanOrEqual(decimal.Zero) || price.LessThan(lowBound) {
			break
		}
		desired = append(desired, desiredOrder{price: price, side: domain.SideBuy, level: levelKey(price, interval)})
	}
	return desired
}

// orderCounts 按持仓倾斜计算买卖张数
func (s *Strategy) orderCounts(cfg *Config) (buyCount, sellCount int) {
	total := decimal.NewFromInt(int64(cfg.TotalOrders))
	buyCount = int(total.Mul(cfg.BuyRatio).Round(0).IntPart())
	sellCount = cfg.TotalOrders - buyCount

	qty := s.tracker.Quantity()
	if qty.IsZero() {
		return buyCount, sellCount
	}

	multiplier := qty.Abs().Div(cfg.OrderQuantity)
	maxMult := decimal.NewFromInt(int64(cfg.MaxMultiplier))

	if multiplier.GreaterThanOrEqual(maxMult) {
		// 持仓到顶，只挂减仓方向
		if qty.Sign() > 0 {
			return 0, cfg.TotalOrders
		}
		return cfg.TotalOrders, 0
	}

	// 缩减加仓方向的配比，缩减系数限制在 [0.1, 0.9]
	reduction := multiplier.Div(maxMult)
	low, high := decimal.NewFromFloat(0.1), decimal.NewFromFloat(0.9)
	if reduction.LessThan(low) {
		reduction = low
	}
	if reduction.GreaterThan(high) {
		reduction = high
	}
	one := decimal.NewFromInt(1)

	if qty.Sign() > 0 {
		buyCount = int(total.Mul(cfg.BuyRatio).Mul(one.Sub(reduction)).Round(0).IntPart())
		sellCount = cfg.TotalOrders - buyCount
	} else {
		sellCount = int(total.Mul(cfg.SellRatio).Mul(one.Sub(reduction)).Round(0).IntPart())
		buyCount = cfg.TotalOrders - sellCount
	}
	return buyCount, sellCount
}

// cleanupOrders 清理同价重复单和漂出窗口的挂单
//
// 每周期最多撤 max_cancels_per_tick 张，离中间价最远的先撤；
// 距中间价 2 倍 safe_gap 以内的挂单不在清理范围（除非超出
// max_drift_buffer）。
func (s *Strategy) cleanupOrders(ctx context.Context, cfg *Config, mid decimal.Decimal, desired []desiredOrder) {
	desiredByLevel := make(map[int]desiredOrder, len(desired))
	for _, w := range desired {
		desiredByLevel[w.level] = w
	}

	active := s.reconciler.ActiveOrders()

	// 同价重复单：保留先到的，撤后来的
	seen := make(map[string]bool, len(active))
	var strays []*domain.Order
	for _, o := range active {
		key := o.Price.String()
		if seen[key] {
			strays = append(strays, o)
			continue
		}
		seen[key] = true

		drift := o.Price.Sub(mid).Abs()
		if drift.GreaterThan(cfg.MaxDriftBuffer) {
			strays = append(strays, o)
			continue
		}
		if w, ok := desiredByLevel[o.Level]; ok && w.side == o.Side {
			continue
		}
		// 不在目标集合里，但贴近盘口的先留着，避免撤了马上又要挂
		if drift.LessThanOrEqual(cfg.SafeGap.Mul(decimal.NewFromInt(2))) {
			continue
		}
		strays = append(strays, o)
	}

	sort.Slice(strays, func(i, j int) bool {
		return strays[i].Price.Sub(mid).Abs().GreaterThan(strays[j].Price.Sub(mid).Abs())
	})
	if len(strays) > cfg.MaxCancelsPerTick {
		strays = strays[:cfg.MaxCancelsPerTick]
	}
	for _, o := range strays {
		if err := s.reconciler.Cancel(ctx, o.ClientID); err != nil {
			log.Warnf("[%s] 清理挂单失败 %s: %v", s.id, o.ClientID, err)
		}
	}
}

// placeMissing 补齐缺失的目标挂单，遵守连续下单的最小间隔
func (s *Strategy) placeMissing(ctx context.Context, cfg *Config, mid decimal.Decimal, desired []desiredOrder) {
	// 贴近盘口的先挂
	sort.Slice(desired, func(i, j int) bool {
		return desired[i].price.Sub(mid).Abs().LessThan(desired[j].price.Sub(mid).Abs())
	})

	cooldown := time.Duration(cfg.OrderCooldownMs) * time.Millisecond
	for _, w := range desired {
		if s.reconciler.ActiveOrderAtLevel(w.level) != nil {
			continue
		}

		if cooldown > 0 {
			s.mu.Lock()
			if wait := cooldown - time.Since(s.lastOrderAt); wait > 0 {
				s.mu.Unlock()
				// 冷却未到，剩余的留给下个周期
				return
			}
			s.lastOrderAt = time.Now()
			s.mu.Unlock()
		}

		_, err := s.reconciler.Submit(ctx, w.side, w.price, cfg.OrderQuantity, w.level)
		switch {
		case err == nil:
		case errors.Is(err, services.ErrDuplicateLevel), errors.Is(err, services.ErrLevelCooldown):
		default:
			log.Warnf("[%s] 挂单失败 %s@%s: %v", s.id, w.side, w.price, err)
		}
	}
}

func (s *Strategy) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = domain.StrategyStateErrored
	s.lastErr = err.Error()
}

var _ strategies.Strategy = (*Strategy)(nil)
