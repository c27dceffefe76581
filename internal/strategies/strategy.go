package strategies

import (
	"context"
	"encoding/json"

	"github.com/tianxingj2021/wangge/internal/domain"
	"github.com/tianxingj2021/wangge/internal/exchange"
	"github.com/tianxingj2021/wangge/internal/services"
)

// Strategy 策略实例接口
//
// Start 启动后台循环后立即返回；Stop 取消循环并撤掉全部挂单，
// 不平仓。交易所侧的订单更新由外层通过 HandleOrderUpdate 注入。
type Strategy interface {
	ID() string
	Type() string
	Market() string

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	UpdateConfig(raw json.RawMessage) error

	Snapshot() domain.StrategySnapshot
	HandleOrderUpdate(u exchange.OrderUpdate)
}

// Deps 策略实例的外部依赖，由控制器注入
type Deps struct {
	Session *exchange.Session   // 账户交易会话
	Store   services.OrderStore // 订单快照持久化（可为 nil）
}
