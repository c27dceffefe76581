package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Spacing 网格间距模式
type Spacing string

const (
	SpacingArithmetic Spacing = "arithmetic" // 等差：相邻层级差值相同
	SpacingGeometric  Spacing = "geometric"  // 等比：相邻层级比例相同
)

// TieBreak 当前价恰好落在某一层级时的处理方式
type TieBreak string

const (
	TieBreakSkip TieBreak = "skip" // 该层级不挂单
	TieBreakBuy  TieBreak = "buy"  // 该层级挂买单
	TieBreakSell TieBreak = "sell" // 该层级挂卖单
)

// GridLevel 网格层级
// 不变式：每个层级同一时刻至多有一张活跃订单
type GridLevel struct {
	Index        int             // 层级序号（0 为最低价层级）
	Price        decimal.Decimal // 层级价格
	Side         Side            // 当前应挂的方向（可能随补单翻转）
	OrderID      string          // 当前活跃订单的 ClientID，空表示无单
	ErroredUntil time.Time       // 冷却截止时间，在此之前不再尝试挂单
}

// Occupied 检查层级是否已有活跃订单
func (l *GridLevel) Occupied() bool {
	return l.OrderID != ""
}

// InCooldown 检查层级是否处于失败冷却期
func (l *GridLevel) InCooldown(now time.Time) bool {
	return now.Before(l.ErroredUntil)
}

// Grid 固定区间网格
type Grid struct {
	Lower   decimal.Decimal
	Upper   decimal.Decimal
	Spacing Spacing
	Levels  []*GridLevel
}

// BuildGrid 在 [lower, upper] 上生成 count 个层级
//
// 等差模式步长 step = (upper - lower) / (count - 1)，首尾层级分别
// 落在 lower 和 upper 上；等比模式相邻层级比例为
// (upper/lower)^(1/(count-1))。
func BuildGrid(lower, upper decimal.Decimal, count int, spacing Spacing) (*Grid, error) {
	if count < 2 {
		return nil, fmt.Errorf("网格层级数必须至少为 2，实际为 %d", count)
	}
	if lower.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("网格下边界必须大于 0")
	}
	if upper.LessThanOrEqual(lower) {
		return nil, fmt.Errorf("网格上边界 %s 必须大于下边界 %s", upper, lower)
	}
	if spacing == "" {
		spacing = SpacingArithmetic
	}

	levels := make([]*GridLevel, count)
	switch spacing {
	case SpacingArithmetic:
		step := upper.Sub(lower).Div(decimal.NewFromInt(int64(count - 1)))
		for i := 0; i < count; i++ {
			levels[i] = &GridLevel{
				Index: i,
				Price: lower.Add(step.Mul(decimal.NewFromInt(int64(i)))),
			}
		}
	case SpacingGeometric:
		// decimal 没有幂根运算，等比间距在 float64 上算 ratio 再回转
		ratioF := math.Pow(upper.Div(lower).InexactFloat64(), 1.0/float64(count-1))
		ratio := decimal.NewFromFloat(ratioF)
		price := lower
		for i := 0; i < count; i++ {
			levels[i] = &GridLevel{Index: i, Price: price}
			price = price.Mul(ratio)
		}
	default:
		return nil, fmt.Errorf("未知的网格间距模式: %s", spacing)
	}
	// 首尾强制对齐边界，消除累计误差
	levels[0].Price = lower
	levels[count-1].Price = upper

	return &Grid{Lower: lower, Upper: upper, Spacing: spacing, Levels: levels}, nil
}

// AssignSides 按当前价为每个层级分配方向
// 低于当前价的层级挂买单，高于当前价的挂卖单，恰好相等时按 tieBreak 处理
// 返回被跳过（tie + skip）的层级序号，-1 表示没有
func (g *Grid) AssignSides(current decimal.Decimal, tieBreak TieBreak) int {
	skipped := -1
	for _, l := range g.Levels {
		switch {
		case l.Price.LessThan(current):
			l.Side = SideBuy
		case l.Price.GreaterThan(current):
			l.Side = SideSell
		default:
			switch tieBreak {
			case TieBreakBuy:
				l.Side = SideBuy
			case TieBreakSell:
				l.Side = SideSell
			default:
				l.Side = ""
				skipped = l.Index
			}
		}
	}
	return skipped
}

// LevelAt 按序号取层级
func (g *Grid) LevelAt(index int) *GridLevel {
	if index < 0 || index >= len(g.Levels) {
		return nil
	}
	return g.Levels[index]
}
