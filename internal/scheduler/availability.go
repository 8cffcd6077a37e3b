package scheduler

import (
	"regexp"
	"strings"
)

var (
	unavailablePattern = regexp.MustCompile(`([A-Za-z]{3})[A-Za-z]*\s+(\d{1,2}[:.]\d{2})\s*-\s*(\d{1,2}[:.]\d{2})`)
	fragmentSeparators = regexp.MustCompile(`[,;\n]+`)
	annotationNoise    = strings.NewReplacer("[", "", "]", "", "'", "", `"`, "")
)

// Availability holds the slots a staff member cannot teach, per weekday.
type Availability struct {
	slots   int
	blocked []bool
}

// NewAvailability returns a fully available calendar for grid.
func NewAvailability(grid *Grid) *Availability {
	return &Availability{
		slots:   grid.SlotCount(),
		blocked: make([]bool, grid.DayCount()*grid.SlotCount()),
	}
}

// Block marks [from, to) on day as unavailable. Out-of-range slots are ignored.
func (a *Availability) Block(day, from, to int) {
	if from < 0 {
		from = 0
	}
	if to > a.slots {
		to = a.slots
	}
	for slot := from; slot < to; slot++ {
		idx := day*a.slots + slot
		if day >= 0 && idx < len(a.blocked) {
			a.blocked[idx] = true
		}
	}
}

// CanTeach reports whether slot on day is free.
func (a *Availability) CanTeach(day, slot int) bool {
	if a == nil {
		return true
	}
	idx := day*a.slots + slot
	if day < 0 || slot < 0 || slot >= a.slots || idx >= len(a.blocked) {
		return true
	}
	return !a.blocked[idx]
}

// Free reports whether [start, start+duration) on day is entirely free.
func (a *Availability) Free(day, start, duration int) bool {
	for slot := start; slot < start+duration; slot++ {
		if !a.CanTeach(day, slot) {
			return false
		}
	}
	return true
}

// BlockedSlots returns the excluded slot indices of day in ascending order.
func (a *Availability) BlockedSlots(day int) []int {
	var out []int
	for slot := 0; slot < a.slots; slot++ {
		if !a.CanTeach(day, slot) {
			out = append(out, slot)
		}
	}
	return out
}

// ParseAvailability converts free-text annotations such as "Mon 09:00-12:00; Wed 13.00-15.00"
// into blocked slots. Fragments that do not parse are skipped and returned.
func ParseAvailability(grid *Grid, annotations []string) (*Availability, []string) {
	availability := NewAvailability(grid)
	var skipped []string
	for _, annotation := range annotations {
		cleaned := annotationNoise.Replace(annotation)
		for _, fragment := range fragmentSeparators.Split(cleaned, -1) {
			fragment = strings.TrimSpace(fragment)
			if fragment == "" || strings.EqualFold(fragment, "nan") || strings.EqualFold(fragment, "none") {
				continue
			}
			if !blockFragment(grid, availability, fragment) {
				skipped = append(skipped, fragment)
			}
		}
	}
	return availability, skipped
}

func blockFragment(grid *Grid, availability *Availability, fragment string) bool {
	match := unavailablePattern.FindStringSubmatch(fragment)
	if match == nil {
		return false
	}
	day, ok := grid.DayIndex(match[1])
	if !ok {
		return false
	}
	from, to, ok := grid.span(match[2], match[3])
	if !ok {
		return false
	}
	availability.Block(day, from, to)
	return true
}

// span converts a busy interval into slots, widening off-raster edges so every slot the interval
// touches is covered and clamping to the day.
func (g *Grid) span(fromLabel, toLabel string) (int, int, bool) {
	from, ok := parseClock(fromLabel)
	if !ok {
		return 0, 0, false
	}
	to, ok := parseClock(toLabel)
	if !ok || to <= from {
		return 0, 0, false
	}
	start := floorDiv(from-g.startMinute, SlotMinutes)
	end := -floorDiv(g.startMinute-to, SlotMinutes)
	if start < 0 {
		start = 0
	}
	if end > g.slots {
		end = g.slots
	}
	if start >= end {
		// Entirely outside the teaching day: nothing to block, but the fragment was understood.
		return 0, 0, true
	}
	return start, end, true
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
