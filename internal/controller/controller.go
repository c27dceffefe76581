package controller

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tianxingj2021/wangge/internal/domain"
	"github.com/tianxingj2021/wangge/internal/exchange"
	"github.com/tianxingj2021/wangge/internal/services"
	"github.com/tianxingj2021/wangge/internal/strategies"
)

var log = logrus.WithField("component", "controller")

// Controller 策略控制器
//
// 管理策略实例的完整生命周期：创建、启动、停止、重启、更新、
// 删除。实例 ID 由控制器生成，删除前必须先停止。
type Controller struct {
	registry  *strategies.Registry
	pool      *exchange.Pool
	store     services.OrderStore
	publisher *services.StatusPublisher

	mu        sync.Mutex
	instances map[string]strategies.Strategy
}

// New 创建策略控制器
func New(registry *strategies.Registry, pool *exchange.Pool, store services.OrderStore, publisher *services.StatusPublisher) *Controller {
	return &Controller{
		registry:  registry,
		pool:      pool,
		store:     store,
		publisher: publisher,
		instances: make(map[string]strategies.Strategy),
	}
}

// accountField 从策略参数中取账户名
type accountField struct {
	Account string `json:"account"`
}

// Create 创建并启动一个策略实例，返回实例 ID
func (c *Controller) Create(ctx context.Context, typ string, params json.RawMessage) (string, error) {
	var acc accountField
	if err := json.Unmarshal(params, &acc); err != nil {
		return "", domain.WrapError(domain.ErrInvalidConfiguration, err, "解析策略参数失败")
	}
	if acc.Account == "" {
		return "", domain.NewError(domain.ErrInvalidConfiguration, "account 不能为空")
	}

	session, err := c.pool.Get(acc.Account)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	inst, err := c.registry.Create(typ, id, params, strategies.Deps{
		Session: session,
		Store:   c.store,
	})
	if err != nil {
		return "", err
	}

	if err := inst.Start(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.instances[id] = inst
	c.mu.Unlock()
	c.publisher.Register(id, inst.Snapshot)

	log.Infof("✨ 创建策略 %s 实例 %s（%s @ %s）", typ, id, inst.Market(), acc.Account)
	return id, nil
}

func (c *Controller) get(id string) (strategies.Strategy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[id]
	if !ok {
		return nil, domain.NewError(domain.ErrStrategyNotFound, "策略 %s 不存在", id)
	}
	return inst, nil
}

// Stop 停止策略实例（撤单不平仓）
func (c *Controller) Stop(ctx context.Context, id string) error {
	inst, err := c.get(id)
	if err != nil {
		return err
	}
	return inst.Stop(ctx)
}

// Restart 重新启动已停止的策略实例
func (c *Controller) Restart(ctx context.Context, id string) error {
	inst, err := c.get(id)
	if err != nil {
		return err
	}
	return inst.Start(ctx)
}

// Update 更新策略实例配置（运行中按差量收敛）
func (c *Controller) Update(ctx context.Context, id string, params json.RawMessage) error {
	inst, err := c.get(id)
	if err != nil {
		return err
	}
	return inst.UpdateConfig(params)
}

// Delete 删除策略实例，只允许删除已停止的实例
func (c *Controller) Delete(ctx context.Context, id string) error {
	inst, err := c.get(id)
	if err != nil {
		return err
	}

	if inst.Snapshot().State == domain.StrategyStateRunning {
		return domain.NewError(domain.ErrInvalidConfiguration, "策略 %s 仍在运行，先停止再删除", id)
	}

	c.mu.Lock()
	delete(c.instances, id)
	c.mu.Unlock()
	c.publisher.Unregister(id)

	log.Infof("🗑️ 删除策略实例 %s", id)
	return nil
}

// Status 查询单个策略实例的快照
func (c *Controller) Status(id string) (domain.StrategySnapshot, error) {
	inst, err := c.get(id)
	if err != nil {
		return domain.StrategySnapshot{}, err
	}
	return inst.Snapshot(), nil
}

// List 列出全部策略实例的快照
func (c *Controller) List() []domain.StrategySnapshot {
	return c.publisher.List()
}

// Types 列出已注册的策略类型
func (c *Controller) Types() []strategies.Descriptor {
	return c.registry.Descriptors()
}

// HandleOrderUpdate 把交易所订单更新分发给全部实例
// 对账器只认自己的 ClientID，不相干的更新会被忽略
func (c *Controller) HandleOrderUpdate(u exchange.OrderUpdate) {
	c.mu.Lock()
	insts := make([]strategies.Strategy, 0, len(c.instances))
	for _, inst := range c.instances {
		insts = append(insts, inst)
	}
	c.mu.Unlock()

	for _, inst := range insts {
		inst.HandleOrderUpdate(u)
	}
}

// Shutdown 停止全部运行中的实例（进程退出时调用）
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	insts := make([]strategies.Strategy, 0, len(c.instances))
	for _, inst := range c.instances {
		insts = append(insts, inst)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range insts {
		wg.Add(1)
		go func(s strategies.Strategy) {
			defer wg.Done()
			if err := s.Stop(ctx); err != nil {
				log.Errorf("停止策略 %s 失败: %v", s.ID(), err)
			}
		}(inst)
	}
	wg.Wait()
	log.Info("全部策略已停止")
}
