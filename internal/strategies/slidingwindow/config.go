package slidingwindow

import (
	"github.com/shopspring/decimal"

	"github.com/tianxingj2021/wangge/internal/domain"
)

// Config 滑动窗口网格配置
//
// 与固定区间网格不同，滑动窗口没有固定边界：每个周期围绕最新
// 买一/卖一价重新计算目标挂单集合，窗口随价格漂移。
type Config struct {
	Account       string          `json:"account"`        // 账户名
	Market        string          `json:"market"`         // 交易对
	TotalOrders   int             `json:"total_orders"`   // 目标挂单总数，默认 18
	OrderQuantity decimal.Decimal `json:"order_quantity"` // 每张订单数量
	PriceInterval decimal.Decimal `json:"price_interval"` // 层级间距，默认 10
	SafeGap       decimal.Decimal `json:"safe_gap"`       // 距买一/卖一的安全间隔，默认 20
	WindowPercent decimal.Decimal `json:"window_percent"` // 窗口宽度占中间价比例，默认 0.12

	BuyRatio  decimal.Decimal `json:"buy_ratio"`  // 买单占比，默认 0.5
	SellRatio decimal.Decimal `json:"sell_ratio"` // 卖单占比，默认 0.5

	MaxMultiplier  int             `json:"max_multiplier"`   // 持仓上限（OrderQuantity 的倍数），默认 15
	MinValidPrice  decimal.Decimal `json:"min_valid_price"`  // 低于该价视为行情异常，跳过本周期，默认 10000
	MaxDriftBuffer decimal.Decimal `json:"max_drift_buffer"` // 距中间价超过该值的挂单强制清理，默认 2000

	MaxCancelsPerTick  int `json:"max_cancels_per_tick"` // 每周期最多撤掉的漂移单数，默认 10
	OrderCooldownMs    int `json:"order_cooldown_ms"`    // 连续下单的最小间隔（毫秒），默认 1500，负数关闭
	UpdateIntervalSecs int `json:"update_interval_secs"` // 周期间隔（秒），默认 3
	SyncIntervalSecs   int `json:"sync_interval_secs"`   // 主动对账间隔（秒），默认 30
}

func (c *Config) applyDefaults() {
	if c.TotalOrders <= 0 {
		c.TotalOrders = 18
	}
	if c.PriceInterval.IsZero() {
		c.PriceInterval = decimal.NewFromInt(10)
	}
	if c.SafeGap.IsZero() {
		c.SafeGap = decimal.NewFromInt(20)
	}
	if c.WindowPercent.IsZero() {
		c.WindowPercent = decimal.NewFromFloat(0.12)
	}
	if c.BuyRatio.IsZero() {
		c.BuyRatio = decimal.NewFromFloat(0.5)
	}
	if c.SellRatio.IsZero() {
		c.SellRatio = decimal.NewFromFloat(0.5)
	}
	if c.MaxMultiplier <= 0 {
		c.MaxMultiplier = 15
	}
	if c.MinValidPrice.IsZero() {
		c.MinValidPrice = decimal.NewFromInt(10000)
	}
	if c.MaxDriftBuffer.IsZero() {
		c.MaxDriftBuffer = decimal.NewFromInt(2000)
	}
	if c.MaxCancelsPerTick <= 0 {
		c.MaxCancelsPerTick = 10
	}
	if c.OrderCooldownMs == 0 {
		c.OrderCooldownMs = 1500
	}
	if c.UpdateIntervalSecs <= 0 {
		c.UpdateIntervalSecs = 3
	}
	if c.SyncIntervalSecs <= 0 {
		c.SyncIntervalSecs = 30
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Market == "" {
		return domain.NewError(domain.ErrInvalidConfiguration, "market 不能为空")
	}
	if c.OrderQuantity.LessThanOrEqual(decimal.Zero) {
		return domain.NewError(domain.ErrInvalidConfiguration, "order_quantity 必须大于 0")
	}
	if c.PriceInterval.LessThanOrEqual(decimal.Zero) {
		return domain.NewError(domain.ErrInvalidConfiguration, "price_interval 必须大于 0")
	}
	if c.SafeGap.IsNegative() {
		return domain.NewError(domain.ErrInvalidConfiguration, "safe_gap 不能为负")
	}
	if c.TotalOrders < 2 {
		return domain.NewError(domain.ErrInvalidConfiguration, "total_orders 至少为 2")
	}
	one := decimal.NewFromInt(1)
	if c.BuyRatio.LessThanOrEqual(decimal.Zero) || c.BuyRatio.GreaterThanOrEqual(one) {
		return domain.NewError(domain.ErrInvalidConfiguration, "buy_ratio 必须在 (0, 1) 区间内")
	}
	if c.SellRatio.LessThanOrEqual(decimal.Zero) || c.SellRatio.GreaterThanOrEqual(one) {
		return domain.NewError(domain.ErrInvalidConfiguration, "sell_ratio 必须在 (0, 1) 区间内")
	}
	if !c.BuyRatio.Add(c.SellRatio).Equal(one) {
		return domain.NewError(domain.ErrInvalidConfiguration, "buy_ratio 与 sell_ratio 之和必须为 1")
	}
	return nil
}
