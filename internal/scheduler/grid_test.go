package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridDefaultLayout(t *testing.T) {
	grid := MustGrid(DefaultGridConfig())

	assert.Equal(t, 21, grid.SlotCount())
	assert.Equal(t, 5, grid.DayCount())
	assert.Equal(t, "08:30", grid.SlotToClock(0))
	assert.Equal(t, "12:30", grid.SlotToClock(8))
	assert.Equal(t, "19:00", grid.SlotToClock(21))
	assert.Equal(t, "", grid.SlotToClock(22))
	assert.Equal(t, "", grid.SlotToClock(-1))
	assert.InDelta(t, 8.5, grid.SlotHours(0), 1e-9)
	assert.InDelta(t, 16.0, grid.SlotHours(15), 1e-9)
}

func TestGridClockToSlot(t *testing.T) {
	grid := MustGrid(DefaultGridConfig())

	cases := map[string]int{
		"08:30":       0,
		"09:00":       1,
		"9.00":        1,
		" 13:00 ":     9,
		"at 16.00 pm": 15,
		"19:00":       21,
		"08:00":       NoSlot,
		"09:15":       NoSlot,
		"19:30":       NoSlot,
		"25:00":       NoSlot,
		"noon":        NoSlot,
		"":            NoSlot,
	}
	for label, want := range cases {
		assert.Equal(t, want, grid.ClockToSlot(label), label)
	}
}

func TestGridLunchAndWindow(t *testing.T) {
	grid := MustGrid(DefaultGridConfig())

	assert.True(t, grid.IsLunch(8))
	assert.False(t, grid.IsLunch(7))
	assert.False(t, grid.IsLunch(9))
	assert.False(t, grid.IsLunch(99))
	assert.True(t, grid.CoversLunch(5, 4))
	assert.False(t, grid.CoversLunch(2, 6))

	assert.True(t, grid.InWindow(1, 6))
	assert.True(t, grid.InWindow(9, 6))
	assert.False(t, grid.InWindow(0, 2))
	assert.False(t, grid.InWindow(10, 6))

	assert.True(t, grid.Fits(15, 6))
	assert.False(t, grid.Fits(16, 6))
	assert.False(t, grid.Fits(0, 0))
}

func TestGridDayIndex(t *testing.T) {
	grid := MustGrid(DefaultGridConfig())

	day, ok := grid.DayIndex("tuesday")
	require.True(t, ok)
	assert.Equal(t, 1, day)

	day, ok = grid.DayIndex(" FRI")
	require.True(t, ok)
	assert.Equal(t, 4, day)

	_, ok = grid.DayIndex("Sat")
	assert.False(t, ok)
	_, ok = grid.DayIndex("M")
	assert.False(t, ok)
	assert.Equal(t, "Wed", grid.DayName(2))
	assert.Equal(t, "", grid.DayName(7))
}

func TestNewGridRejectsBadConfig(t *testing.T) {
	cfg := DefaultGridConfig()
	cfg.DayEnd = "08:00"
	_, err := NewGrid(cfg)
	assert.Error(t, err)

	cfg = DefaultGridConfig()
	cfg.LunchStart = "12:15"
	_, err = NewGrid(cfg)
	assert.Error(t, err)

	cfg = DefaultGridConfig()
	cfg.DayStart = "eight"
	_, err = NewGrid(cfg)
	assert.Error(t, err)
}

func TestGridCustomWindow(t *testing.T) {
	cfg := DefaultGridConfig()
	cfg.DayStart = "08:00"
	cfg.DayEnd = "12:00"
	cfg.LunchStart, cfg.LunchEnd = "", ""
	cfg.WindowStart, cfg.WindowEnd = "", ""
	cfg.Days = []string{"Sat", "Sun"}

	grid, err := NewGrid(cfg)
	require.NoError(t, err)
	assert.Equal(t, 8, grid.SlotCount())
	assert.True(t, grid.InWindow(0, 8))
	assert.False(t, grid.CoversLunch(0, 8))
	day, ok := grid.DayIndex("Sunday")
	require.True(t, ok)
	assert.Equal(t, 1, day)
}
