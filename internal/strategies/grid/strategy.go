package grid

import (
	"context"
	"encoding/json"
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

const ID = "grid"

var log = logrus.WithField("strategy", ID)

func init() {
	strategies.Register(strategies.Descriptor{
		Type:        ID,
		Name:        "固定区间网格",
		Description: "在固定价格区间内等差/等比铺设层级，低买高卖，成交后在相邻层级补反向单",
		Fields: []strategies.Field{
			{Name: "account", Type: "string", Required: true},
			{Name: "market", Type: "string", Required: true},
			{Name: "lower_price", Type: "decimal", Required: true},
			{Name: "upper_price", Type: "decimal", Required: true},
			{Name: "grid_count", Type: "int", Required: true},
			{Name: "order_quantity", Type: "decimal"},
			{Name: "investment", Type: "decimal"},
			{Name: "spacing", Type: "enum", Default: "arithmetic"},
			{Name: "tie_break", Type: "enum", Default: "skip"},
		},
	}, New)
}

// Strategy 固定区间网格策略
//
// 启动时在当前价下方层级挂买单、上方层级挂卖单。买单成交后在
// 上一层补卖单，卖单成交后在下一层补买单，在区间内往复套利。
type Strategy struct {
	id   string
	deps strategies.Deps

	mu      sync.Mutex
	cfg     *Config
	grid    *domain.Grid
	state   domain.StrategyState
	lastErr string

	reconciler *services.OrderReconciler
	tracker    *services.PositionTracker

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New 创建固定区间网格策略实例
func New(id string, raw json.RawMessage, deps strategies.Deps) (strategies.Strategy, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidConfiguration, err, "解析网格配置失败")
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
	s.reconciler.OnFill = s.onFill
	return s, nil
}

func (s *Strategy) ID() string     { return s.id }
func (s *Strategy) Type() string   { return ID }
func (s *Strategy) Market() string { return s.cfg.Market }

// Start 启动策略
// 先做重启对账收编历史挂单，再按当前价铺设缺失的层级订单
func (s *Strategy) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("策略已在运行")
	}
	cfg := s.cfg
	s.mu.Unlock()

	if err := s.reconciler.ReconcileOnStart(ctx); err != nil {
		log.Warnf("[%s] 重启对账失败，继续启动: %v", s.id, err)
	}

	ticker, err := s.deps.Session.GetTicker(ctx, cfg.Market)
	if err != nil {
		s.setError(err)
		return errors.Wrap(err, "获取行情失败")
	}
	current := ticker.Mid()
	s.tracker.MarkPrice(current)

	grid, err := domain.BuildGrid(cfg.LowerPrice, cfg.UpperPrice, cfg.GridCount, cfg.Spacing)
	if err != nil {
		s.setError(err)
		return err
	}
	grid.AssignSides(current, cfg.TieBreak)

	s.mu.Lock()
	s.grid = grid
	s.mu.Unlock()

	s.placeGridOrders(ctx, grid, cfg)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.running = true
	s.state = domain.StrategyStateRunning
	s.lastErr = ""
	s.mu.Unlock()

	go s.loop(loopCtx, done)

	log.Infof("🚀 [%s] 网格启动 %s [%s, %s] x%d 层，当前价 %s",
		s.id, cfg.Market, cfg.LowerPrice, cfg.UpperPrice, cfg.GridCount, current)
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

	log.Infof("🛑 [%s] 网格停止，撤单失败 %d 张", s.id, failed)
	return nil
}

// UpdateConfig 增量更新配置
//
// 按新网格做差量对账：价格不在新层级上的挂单撤掉，缺失的层级
// 补挂，价格重合的订单原样保留。
func (s *Strategy) UpdateConfig(raw json.RawMessage) error {
	var next Config
	if err := json.Unmarshal(raw, &next); err != nil {
		return domain.WrapError(domain.ErrInvalidConfiguration, err, "解析网格配置失败")
	}
	next.applyDefaults()
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if next.Market != s.cfg.Market {
		s.mu.Unlock()
		return domain.NewError(domain.ErrInvalidConfiguration, "更新不允许修改 market")
	}
	wasRunning := s.running
	s.mu.Unlock()

	newGrid, err := domain.BuildGrid(next.LowerPrice, next.UpperPrice, next.GridCount, next.Spacing)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if wasRunning {
		current := s.tracker.LastPrice()
		if t, terr := s.deps.Session.GetTicker(ctx, next.Market); terr == nil {
			current = t.Mid()
		}
		newGrid.AssignSides(current, next.TieBreak)

		// 撤掉不再属于新网格的挂单；同价同层的保留
		for _, o := range s.reconciler.ActiveOrders() {
			keep := false
			if l := newGrid.LevelAt(o.Level); l != nil && l.Price.Equal(o.Price) && l.Side == o.Side {
				keep = true
			}
			if !keep {
				if cerr := s.reconciler.Cancel(ctx, o.ClientID); cerr != nil {
					log.Warnf("[%s] 更新撤单失败 %s: %v", s.id, o.ClientID, cerr)
				}
			}
		}
	}

	s.mu.Lock()
	s.cfg = &next
	s.grid = newGrid
	s.mu.Unlock()

	if wasRunning {
		s.placeGridOrders(ctx, newGrid, &next)
	}
	log.Infof("🔧 [%s] 配置已更新 [%s, %s] x%d", s.id, next.LowerPrice, next.UpperPrice, next.GridCount)
	return nil
}

// HandleOrderUpdate 注入交易所侧订单更新
func (s *Strategy) HandleOrderUpdate(u exchange.OrderUpdate) {
	s.reconciler.ApplyRemoteState(u)
}

// Snapshot 当前状态快照
func (s *Strategy) Snapshot() domain.StrategySnapshot {
	s.mu.Lock()
	state, lastErr, cfg := s.state, s.lastErr, s.cfg
	s.mu.Unlock()

	orders := s.reconciler.ActiveOrders()
	views := make([]domain.OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, domain.OrderView{
			ClientID: o.ClientID,
			Side:     o.Side,
			Price:    o.Price,
			Quantity: o.Quantity,
			Filled:   o.FilledQuantity,
			Status:   o.Status,
			Level:    o.Level,
		})
	}

	return domain.StrategySnapshot{
		ID:           s.id,
		Type:         ID,
		Market:       cfg.Market,
		State:        state,
		Position:     s.tracker.View(),
		ActiveOrders: views,
		CycleCount:   s.tracker.Cycles(),
		LastPrice:    s.tracker.LastPrice(),
		Error:        lastErr,
		UpdatedAt:    time.Now(),
	}
}

// loop 行情轮询与定期对账
func (s *Strategy) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.mu.Lock()
	interval := time.Duration(s.cfg.UpdateIntervalSecs) * time.Second
	syncEvery := time.Duration(s.cfg.SyncIntervalSecs) * time.Second
	market := s.cfg.Market
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
			t, err := s.deps.Session.GetTicker(ctx, market)
			if err != nil {
				log.Warnf("[%s] 行情轮询失败: %v", s.id, err)
				continue
			}
			s.tracker.MarkPrice(t.Mid())
		case <-syncTicker.C:
			if err := s.reconciler.Sync(ctx); err != nil {
				log.Warnf("[%s] 主动对账失败: %v", s.id, err)
			}
		}
	}
}

// placeGridOrders 铺设所有未被占用层级的订单
func (s *Strategy) placeGridOrders(ctx context.Context, grid *domain.Grid, cfg *Config) {
	for _, l := range grid.Levels {
		if l.Side == "" {
			// tie-break 跳过的层级
			continue
		}
		_, err := s.reconciler.Submit(ctx, l.Side, l.Price, cfg.quantityFor(l.Price), l.Index)
		switch {
		case err == nil:
		case errors.Is(err, services.ErrDuplicateLevel), errors.Is(err, services.ErrLevelCooldown):
			// 层级已有单或在冷却，跳过
		default:
			log.Warnf("[%s] 层级 %d 挂单失败: %v", s.id, l.Index, err)
		}
	}
}

// onFill 成交回调：更新持仓并补反向单
//
// 买单成交向上补卖单，卖单成交向下补买单。相邻层级已被占用或在
// 冷却期时沿补单方向继续找最近的空闲层级，走到边界仍没有就放弃。
func (s *Strategy) onFill(o *domain.Order, qty, price decimal.Decimal) {
	s.tracker.ApplyFill(o.Side, qty, price)

	if o.Status != domain.OrderStatusFilled {
		return
	}

	s.mu.Lock()
	grid := s.grid
	cfg := s.cfg
	running := s.running
	s.mu.Unlock()
	if grid == nil || !running {
		return
	}

	step := 1
	side := domain.SideSell
	if o.Side == domain.SideSell {
		step = -1
		side = domain.SideBuy
	}

	for target := o.Level + step; ; target += step {
		l := grid.LevelAt(target)
		if l == nil {
			return
		}
		_, err := s.reconciler.Submit(context.Background(), side, l.Price, cfg.quantityFor(l.Price), target)
		switch {
		case err == nil:
			s.mu.Lock()
			l.Side = side
			s.mu.Unlock()
			log.Infof("🔁 [%s] 层级 %d 成交后在层级 %d 补 %s", s.id, o.Level, target, side)
			return
		case errors.Is(err, services.ErrDuplicateLevel), errors.Is(err, services.ErrLevelCooldown):
			// 该层已有单或在冷却，继续向外找
		default:
			log.Warnf("[%s] 补单失败 层级 %d: %v", s.id, target, err)
			return
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
