package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SlotMinutes is the width of one grid slot.
const SlotMinutes = 30

// NoSlot is returned when a clock label does not name a grid boundary.
const NoSlot = -1

var clockPattern = regexp.MustCompile(`(\d{1,2})[:.](\d{2})`)

// DefaultDays are the teaching weekdays in order.
var DefaultDays = []string{"Mon", "Tue", "Wed", "Thu", "Fri"}

// GridConfig describes the daily teaching window. Times are "HH:MM" labels aligned to SlotMinutes.
type GridConfig struct {
	DayStart    string
	DayEnd      string
	LunchStart  string
	LunchEnd    string
	WindowStart string
	WindowEnd   string
	Days        []string
}

// DefaultGridConfig returns the 08:30-19:00 week with a 12:30 lunch break and a 09:00-16:00 core window.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		DayStart:    "08:30",
		DayEnd:      "19:00",
		LunchStart:  "12:30",
		LunchEnd:    "13:00",
		WindowStart: "09:00",
		WindowEnd:   "16:00",
		Days:        append([]string(nil), DefaultDays...),
	}
}

// Grid discretises a teaching day into fixed-width slots. Slot i starts at DayStart + i*SlotMinutes;
// labels exist for 0..SlotCount so a session ending at DayEnd has an end label.
type Grid struct {
	startMinute int
	slots       int
	lunch       []bool
	windowStart int
	windowEnd   int
	days        []string
}

// NewGrid validates cfg and builds the grid.
func NewGrid(cfg GridConfig) (*Grid, error) {
	start, ok := parseClock(cfg.DayStart)
	if !ok {
		return nil, fmt.Errorf("scheduler: invalid day start %q", cfg.DayStart)
	}
	end, ok := parseClock(cfg.DayEnd)
	if !ok {
		return nil, fmt.Errorf("scheduler: invalid day end %q", cfg.DayEnd)
	}
	if end <= start || (end-start)%SlotMinutes != 0 {
		return nil, fmt.Errorf("scheduler: day %s-%s is not a positive multiple of %d minutes", cfg.DayStart, cfg.DayEnd, SlotMinutes)
	}
	days := cfg.Days
	if len(days) == 0 {
		days = DefaultDays
	}

	g := &Grid{
		startMinute: start,
		slots:       (end - start) / SlotMinutes,
		days:        append([]string(nil), days...),
	}
	g.lunch = make([]bool, g.slots)

	if cfg.LunchStart != "" || cfg.LunchEnd != "" {
		from, to, err := g.interval(cfg.LunchStart, cfg.LunchEnd, "lunch")
		if err != nil {
			return nil, err
		}
		for i := from; i < to; i++ {
			g.lunch[i] = true
		}
	}

	g.windowStart, g.windowEnd = 0, g.slots
	if cfg.WindowStart != "" || cfg.WindowEnd != "" {
		from, to, err := g.interval(cfg.WindowStart, cfg.WindowEnd, "window")
		if err != nil {
			return nil, err
		}
		g.windowStart, g.windowEnd = from, to
	}
	return g, nil
}

// MustGrid is NewGrid for configurations known to be valid.
func MustGrid(cfg GridConfig) *Grid {
	g, err := NewGrid(cfg)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Grid) interval(from, to, name string) (int, int, error) {
	start := g.ClockToSlot(from)
	end := g.ClockToSlot(to)
	if start == NoSlot || end == NoSlot || end < start {
		return 0, 0, fmt.Errorf("scheduler: invalid %s %q-%q", name, from, to)
	}
	return start, end, nil
}

// SlotCount is the number of bookable slot starts per day.
func (g *Grid) SlotCount() int { return g.slots }

// Days returns the weekday labels.
func (g *Grid) Days() []string { return g.days }

// DayCount is the number of teaching days.
func (g *Grid) DayCount() int { return len(g.days) }

// SlotToClock returns the "HH:MM" label of boundary i, or "" outside 0..SlotCount.
func (g *Grid) SlotToClock(i int) string {
	if i < 0 || i > g.slots {
		return ""
	}
	minutes := g.startMinute + i*SlotMinutes
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// SlotHours returns boundary i as decimal hours, e.g. 8.5 for 08:30.
func (g *Grid) SlotHours(i int) float64 {
	return float64(g.startMinute+i*SlotMinutes) / 60
}

// ClockToSlot maps a "HH:MM" or "HH.MM" label to its boundary index, or NoSlot when the label is
// unparseable, off the slot raster, or outside the day.
func (g *Grid) ClockToSlot(label string) int {
	minutes, ok := parseClock(label)
	if !ok {
		return NoSlot
	}
	offset := minutes - g.startMinute
	if offset < 0 || offset%SlotMinutes != 0 {
		return NoSlot
	}
	i := offset / SlotMinutes
	if i > g.slots {
		return NoSlot
	}
	return i
}

// IsLunch reports whether slot i falls inside the lunch break.
func (g *Grid) IsLunch(i int) bool {
	return i >= 0 && i < g.slots && g.lunch[i]
}

// CoversLunch reports whether [start, start+duration) touches the lunch break.
func (g *Grid) CoversLunch(start, duration int) bool {
	for i := start; i < start+duration; i++ {
		if g.IsLunch(i) {
			return true
		}
	}
	return false
}

// InWindow reports whether [start, start+duration) lies inside the core daytime window.
func (g *Grid) InWindow(start, duration int) bool {
	return start >= g.windowStart && start+duration <= g.windowEnd
}

// Fits reports whether a session of duration slots may start at start.
func (g *Grid) Fits(start, duration int) bool {
	return duration > 0 && start >= 0 && start+duration <= g.slots
}

// DayIndex resolves a weekday name by its first three letters, case-insensitively.
func (g *Grid) DayIndex(name string) (int, bool) {
	name = strings.TrimSpace(name)
	if len(name) < 3 {
		return 0, false
	}
	prefix := strings.ToLower(name[:3])
	for i, day := range g.days {
		if len(day) >= 3 && strings.ToLower(day[:3]) == prefix {
			return i, true
		}
	}
	return 0, false
}

// DayName returns the label of day index d.
func (g *Grid) DayName(d int) string {
	if d < 0 || d >= len(g.days) {
		return ""
	}
	return g.days[d]
}

func parseClock(label string) (int, bool) {
	match := clockPattern.FindStringSubmatch(label)
	if match == nil {
		return 0, false
	}
	hour, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	minute, err := strconv.Atoi(match[2])
	if err != nil || hour > 23 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}
