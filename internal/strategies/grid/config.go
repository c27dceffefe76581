package grid

import (
	"github.com/shopspring/decimal"

	"github.com/tianxingj2021/wangge/internal/domain"
)

// Config 固定区间网格配置
type Config struct {
	Account       string          `json:"account"`        // 账户名
	Market        string          `json:"market"`         // 交易对
	LowerPrice    decimal.Decimal `json:"lower_price"`    // 网格下边界
	UpperPrice    decimal.Decimal `json:"upper_price"`    // 网格上边界
	GridCount     int             `json:"grid_count"`     // 层级数（含首尾）
	OrderQuantity decimal.Decimal `json:"order_quantity"` // 每层下单数量，与 investment 二选一
	Investment    decimal.Decimal `json:"investment"`     // 总投入计价币金额，平摊到每层后按层级价换算数量
	Spacing       domain.Spacing  `json:"spacing"`        // 间距模式，默认等差
	TieBreak      domain.TieBreak `json:"tie_break"`      // 当前价落在层级上的处理，默认跳过

	UpdateIntervalSecs int `json:"update_interval_secs"` // 行情轮询间隔（秒），默认 3
	SyncIntervalSecs   int `json:"sync_interval_secs"`   // 主动对账间隔（秒），默认 30
}

func (c *Config) applyDefaults() {
	if c.Spacing == "" {
		c.Spacing = domain.SpacingArithmetic
	}
	if c.TieBreak == "" {
		c.TieBreak = domain.TieBreakSkip
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
	if c.LowerPrice.LessThanOrEqual(decimal.Zero) {
		return domain.NewError(domain.ErrInvalidConfiguration, "lower_price 必须大于 0")
	}
	if c.UpperPrice.LessThanOrEqual(c.LowerPrice) {
		return domain.NewError(domain.ErrInvalidConfiguration, "upper_price 必须大于 lower_price")
	}
	if c.GridCount < 2 {
		return domain.NewError(domain.ErrInvalidConfiguration, "grid_count 至少为 2")
	}
	hasQty := c.OrderQuantity.GreaterThan(decimal.Zero)
	hasInvestment := c.Investment.GreaterThan(decimal.Zero)
	if hasQty == hasInvestment {
		return domain.NewError(domain.ErrInvalidConfiguration, "order_quantity 与 investment 必须且只能配置一个")
	}
	switch c.Spacing {
	case domain.SpacingArithmetic, domain.SpacingGeometric:
	default:
		return domain.NewError(domain.ErrInvalidConfiguration, "spacing 必须为 arithmetic 或 geometric")
	}
	switch c.TieBreak {
	case domain.TieBreakSkip, domain.TieBreakBuy, domain.TieBreakSell:
	default:
		return domain.NewError(domain.ErrInvalidConfiguration, "tie_break 必须为 skip、buy 或 sell")
	}
	return nil
}

// quantityFor 层级下单数量
// 配置了 investment 时按层平摊金额再除以层级价换算，保留 8 位小数
func (c *Config) quantityFor(price decimal.Decimal) decimal.Decimal {
	if c.Investment.GreaterThan(decimal.Zero) {
		perLevel := c.Investment.Div(decimal.NewFromInt(int64(c.GridCount)))
		return perLevel.Div(price).Round(8)
	}
	return c.OrderQuantity
}
