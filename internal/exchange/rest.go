package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/tianxingj2021/wangge/internal/domain"
	"github.com/tianxingj2021/wangge/pkg/config"
	"github.com/tianxingj2021/wangge/pkg/ratelimit"
)

// RestExchange 基于 REST API 的交易所适配器
type RestExchange struct {
	client  *resty.Client
	limiter *ratelimit.Manager
}

// NewRestExchange 创建 REST 适配器
func NewRestExchange(acc *config.AccountConfig) *RestExchange {
	base := strings.TrimSuffix(acc.BaseURL, "/")

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(time.Duration(acc.TimeoutSecs) * time.Second).
		SetHeader("X-API-KEY", acc.APIKey).
		SetHeader("X-API-SECRET", acc.APISecret).
		SetHeader("Content-Type", "application/json")

	return &RestExchange{
		client:  client,
		limiter: ratelimit.NewManager(),
	}
}

// apiError 交易所返回的错误体
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify 把 HTTP 层的失败归入领域错误分类
func classify(resp *resty.Response, err error, op string) error {
	if err != nil {
		// 传输层失败（超时、连接中断）一律视为瞬时错误
		return domain.WrapError(domain.ErrTransientNetwork, err, "%s 网络请求失败", op)
	}
	if resp.IsSuccess() {
		return nil
	}

	var body apiError
	if e, ok := resp.Error().(*apiError); ok && e != nil {
		body = *e
	}
	msg := body.Message
	if msg == "" {
		msg = strings.TrimSpace(string(resp.Body()))
	}

	code := resp.StatusCode()
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return domain.NewError(domain.ErrTransientNetwork, "%s 返回 %d: %s", op, code, msg)
	case code == http.StatusNotFound:
		return domain.NewError(domain.ErrStaleState, "%s 目标不存在: %s", op, msg)
	case strings.Contains(strings.ToLower(msg), "insufficient") ||
		strings.Contains(msg, "余额不足") ||
		body.Code == "INSUFFICIENT_BALANCE":
		return domain.NewError(domain.ErrInsufficientBalance, "%s 余额不足: %s", op, msg)
	default:
		return domain.NewError(domain.ErrExchangeRejection, "%s 被交易所拒绝 (%d): %s", op, code, msg)
	}
}

// PlaceOrder 下限价单
func (e *RestExchange) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderState, error) {
	if err := e.limiter.Wait(ctx, "order:post"); err != nil {
		return nil, errors.Wrap(err, "等待限流令牌失败")
	}

	var out OrderState
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/api/v1/orders")
	if cerr := classify(resp, err, "下单"); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

// CancelOrder 撤单
func (e *RestExchange) CancelOrder(ctx context.Context, market, exchangeID string) error {
	if err := e.limiter.Wait(ctx, "order:delete"); err != nil {
		return errors.Wrap(err, "等待限流令牌失败")
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParam("market", market).
		SetError(&apiError{}).
		Delete(fmt.Sprintf("/api/v1/orders/%s", exchangeID))
	return classify(resp, err, "撤单")
}

// GetOrder 查询单个订单
func (e *RestExchange) GetOrder(ctx context.Context, market, exchangeID string) (*OrderState, error) {
	if err := e.limiter.Wait(ctx, "order:get"); err != nil {
		return nil, errors.Wrap(err, "等待限流令牌失败")
	}

	var out OrderState
	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParam("market", market).
		SetResult(&out).
		SetError(&apiError{}).
		Get(fmt.Sprintf("/api/v1/orders/%s", exchangeID))
	if cerr := classify(resp, err, "查询订单"); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

// OpenOrders 查询全部挂单
func (e *RestExchange) OpenOrders(ctx context.Context, market string) ([]*OrderState, error) {
	if err := e.limiter.Wait(ctx, "order:get"); err != nil {
		return nil, errors.Wrap(err, "等待限流令牌失败")
	}

	var out []*OrderState
	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParam("market", market).
		SetQueryParam("status", "open").
		SetResult(&out).
		SetError(&apiError{}).
		Get("/api/v1/orders")
	if cerr := classify(resp, err, "查询挂单"); cerr != nil {
		return nil, cerr
	}
	return out, nil
}

// GetTicker 查询行情
func (e *RestExchange) GetTicker(ctx context.Context, market string) (*Ticker, error) {
	if err := e.limiter.Wait(ctx, "ticker:get"); err != nil {
		return nil, errors.Wrap(err, "等待限流令牌失败")
	}

	var out Ticker
	resp, err := e.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiError{}).
		Get(fmt.Sprintf("/api/v1/ticker/%s", market))
	if cerr := classify(resp, err, "查询行情"); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

// GetBalances 查询账户余额
func (e *RestExchange) GetBalances(ctx context.Context) ([]Balance, error) {
	if err := e.limiter.Wait(ctx, "balance:get"); err != nil {
		return nil, errors.Wrap(err, "等待限流令牌失败")
	}

	var out []Balance
	resp, err := e.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/api/v1/balances")
	if cerr := classify(resp, err, "查询余额"); cerr != nil {
		return nil, cerr
	}
	return out, nil
}

var _ Exchange = (*RestExchange)(nil)
