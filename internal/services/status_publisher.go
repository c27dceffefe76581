package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tianxingj2021/wangge/internal/domain"
	"github.com/tianxingj2021/wangge/pkg/sigchan"
)

// SnapshotFunc 策略实例的状态快照提供函数
type SnapshotFunc func() domain.StrategySnapshot

// StatusPublisher 状态发布器
//
// 策略实例注册快照函数，发布器按固定间隔拉取快照推送给订阅者
// （WebSocket 连接），同时支持按需拉取。订阅 channel 写满时丢弃
// 本次快照，慢消费者不会拖垮推送循环。
type StatusPublisher struct {
	mu       sync.RWMutex
	sources  map[string]SnapshotFunc
	subs     map[string]map[chan domain.StrategySnapshot]struct{}
	interval time.Duration
	kick     *sigchan.Chan
	log      *logrus.Entry
}

// NewStatusPublisher 创建状态发布器
func NewStatusPublisher(interval time.Duration) *StatusPublisher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &StatusPublisher{
		sources:  make(map[string]SnapshotFunc),
		subs:     make(map[string]map[chan domain.StrategySnapshot]struct{}),
		interval: interval,
		kick:     sigchan.New(1),
		log:      logrus.WithField("component", "status"),
	}
}

// Register 注册策略实例的快照函数
func (p *StatusPublisher) Register(id string, fn SnapshotFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources[id] = fn
}

// Unregister 注销策略实例并关闭其全部订阅
func (p *StatusPublisher) Unregister(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sources, id)
	for ch := range p.subs[id] {
		close(ch)
	}
	delete(p.subs, id)
}

// Get 拉取单个策略实例的快照
func (p *StatusPublisher) Get(id string) (domain.StrategySnapshot, error) {
	p.mu.RLock()
	fn, ok := p.sources[id]
	p.mu.RUnlock()

	if !ok {
		return domain.StrategySnapshot{}, domain.NewError(domain.ErrStrategyNotFound, "策略 %s 不存在", id)
	}
	return fn(), nil
}

// List 拉取全部策略实例的快照（按 ID 排序）
func (p *StatusPublisher) List() []domain.StrategySnapshot {
	p.mu.RLock()
	fns := make(map[string]SnapshotFunc, len(p.sources))
	for id, fn := range p.sources {
		fns[id] = fn
	}
	p.mu.RUnlock()

	out := make([]domain.StrategySnapshot, 0, len(fns))
	for _, fn := range fns {
		out = append(out, fn())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe 订阅指定策略实例的快照推送
// 返回的取消函数必须在订阅方退出时调用
func (p *StatusPublisher) Subscribe(id string) (<-chan domain.StrategySnapshot, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.sources[id]; !ok {
		return nil, nil, domain.NewError(domain.ErrStrategyNotFound, "策略 %s 不存在", id)
	}

	ch := make(chan domain.StrategySnapshot, 4)
	if p.subs[id] == nil {
		p.subs[id] = make(map[chan domain.StrategySnapshot]struct{})
	}
	p.subs[id][ch] = struct{}{}
	// 新订阅立即推一次，不用等下一个推送周期
	p.kick.Emit()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[id][ch]; ok {
			delete(p.subs[id], ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// Run 推送循环（阻塞调用，ctx 取消后退出）
func (p *StatusPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Infof("状态推送启动，间隔 %v", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("状态推送退出")
			return
		case <-ticker.C:
			p.publishOnce()
		case <-p.kick.C():
			p.publishOnce()
		}
	}
}

func (p *StatusPublisher) publishOnce() {
	p.mu.RLock()
	type target struct {
		fn  SnapshotFunc
		chs []chan domain.StrategySnapshot
	}
	targets := make([]target, 0, len(p.subs))
	for id, set := range p.subs {
		fn, ok := p.sources[id]
		if !ok || len(set) == 0 {
			continue
		}
		t := target{fn: fn}
		for ch := range set {
			t.chs = append(t.chs, ch)
		}
		targets = append(targets, t)
	}
	p.mu.RUnlock()

	for _, t := range targets {
		snap := t.fn()
		for _, ch := range t.chs {
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
