package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGrid_Arithmetic(t *testing.T) {
	g, err := BuildGrid(d("100"), d("200"), 5, SpacingArithmetic)
	require.NoError(t, err)
	require.Len(t, g.Levels, 5)

	expected := []string{"100", "125", "150", "175", "200"}
	for i, want := range expected {
		assert.True(t, g.Levels[i].Price.Equal(d(want)),
			"层级 %d 应为 %s，实际 %s", i, want, g.Levels[i].Price)
	}
}

func TestBuildGrid_Geometric(t *testing.T) {
	g, err := BuildGrid(d("100"), d("400"), 3, SpacingGeometric)
	require.NoError(t, err)
	require.Len(t, g.Levels, 3)

	// ratio = (400/100)^(1/2) = 2
	assert.True(t, g.Levels[0].Price.Equal(d("100")))
	assert.InDelta(t, 200.0, g.Levels[1].Price.InexactFloat64(), 0.01)
	assert.True(t, g.Levels[2].Price.Equal(d("400")), "末级应对齐上边界")
}

func TestBuildGrid_Validation(t *testing.T) {
	_, err := BuildGrid(d("100"), d("200"), 1, SpacingArithmetic)
	assert.Error(t, err, "层级数小于 2 应报错")

	_, err = BuildGrid(d("200"), d("100"), 5, SpacingArithmetic)
	assert.Error(t, err, "上边界不大于下边界应报错")

	_, err = BuildGrid(d("0"), d("100"), 5, SpacingArithmetic)
	assert.Error(t, err, "下边界必须大于 0")
}

func TestGrid_AssignSides(t *testing.T) {
	g, err := BuildGrid(d("100"), d("200"), 5, SpacingArithmetic)
	require.NoError(t, err)

	skipped := g.AssignSides(d("160"), TieBreakSkip)
	assert.Equal(t, -1, skipped)
	assert.Equal(t, SideBuy, g.Levels[0].Side)  // 100
	assert.Equal(t, SideBuy, g.Levels[1].Side)  // 125
	assert.Equal(t, SideBuy, g.Levels[2].Side)  // 150
	assert.Equal(t, SideSell, g.Levels[3].Side) // 175
	assert.Equal(t, SideSell, g.Levels[4].Side) // 200
}

func TestGrid_AssignSidesTieBreak(t *testing.T) {
	g, err := BuildGrid(d("100"), d("200"), 5, SpacingArithmetic)
	require.NoError(t, err)

	// 当前价恰好落在 150 层级
	skipped := g.AssignSides(d("150"), TieBreakSkip)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, Side(""), g.Levels[2].Side, "skip 模式下该层级不挂单")

	g.AssignSides(d("150"), TieBreakBuy)
	assert.Equal(t, SideBuy, g.Levels[2].Side)

	g.AssignSides(d("150"), TieBreakSell)
	assert.Equal(t, SideSell, g.Levels[2].Side)
}
