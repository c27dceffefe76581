package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/tianxingj2021/wangge/internal/domain"
	"github.com/tianxingj2021/wangge/pkg/config"
)

// Session 单个账户的交易会话
//
// 同一账户下的所有订单操作持同一把锁串行执行，避免多个策略实例
// 并发修改同一账户的挂单。行情查询不走这把锁。
type Session struct {
	Account  string
	exchange Exchange
	timeout  time.Duration
	orderMu  sync.Mutex
}

// NewSession 创建账户会话
func NewSession(account string, ex Exchange, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Session{
		Account:  account,
		exchange: ex,
		timeout:  timeout,
	}
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// PlaceOrder 串行下单
func (s *Session) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderState, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()

	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.exchange.PlaceOrder(cctx, req)
}

// CancelOrder 串行撤单
func (s *Session) CancelOrder(ctx context.Context, market, exchangeID string) error {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()

	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.exchange.CancelOrder(cctx, market, exchangeID)
}

// GetOrder 查询单个订单
func (s *Session) GetOrder(ctx context.Context, market, exchangeID string) (*OrderState, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.exchange.GetOrder(cctx, market, exchangeID)
}

// OpenOrders 查询挂单
func (s *Session) OpenOrders(ctx context.Context, market string) ([]*OrderState, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.exchange.OpenOrders(cctx, market)
}

// GetTicker 查询行情
func (s *Session) GetTicker(ctx context.Context, market string) (*Ticker, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.exchange.GetTicker(cctx, market)
}

// GetBalances 查询余额
// 余额在下单/撤单期间会瞬时变化，持同一把锁读到的才是稳定值
func (s *Session) GetBalances(ctx context.Context) ([]Balance, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()

	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.exchange.GetBalances(cctx)
}

// Pool 账户会话池
// 同一账户名总是返回同一个 Session，保证串行化对整个进程生效
type Pool struct {
	sessions map[string]*Session
	mu       sync.Mutex
}

// NewPool 创建会话池
func NewPool() *Pool {
	return &Pool{sessions: make(map[string]*Session)}
}

// Register 注册账户会话（已存在时返回已注册的实例）
func (p *Pool) Register(acc *config.AccountConfig, ex Exchange) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sessions[acc.Name]; ok {
		return s
	}
	s := NewSession(acc.Name, ex, time.Duration(acc.TimeoutSecs)*time.Second)
	p.sessions[acc.Name] = s
	return s
}

// Get 按账户名取会话
func (p *Pool) Get(name string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[name]
	if !ok {
		return nil, domain.NewError(domain.ErrInvalidConfiguration, "账户 %s 未配置", name)
	}
	return s, nil
}
