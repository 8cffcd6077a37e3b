package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/timetable-api/internal/models"
)

// ErrViolation wraps every problem reported by Verify.
var ErrViolation = errors.New("timetable violation")

// Verify re-checks a result against its input: no room or staff double-booking, room capacity,
// lunch, the compact window, and fixed sessions at their declared place.
func Verify(result *Result, input Input, opts Options) error {
	if result == nil {
		return fmt.Errorf("%w: nil result", ErrViolation)
	}
	grid, err := NewGrid(opts.Grid)
	if err != nil {
		return err
	}
	inventory, _ := NewInventory(input.Rooms)

	var problems []error
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf("%w: "+format, append([]any{ErrViolation}, args...)...))
	}

	roomUse := make(map[string]string)
	staffUse := make(map[string]string)
	for _, e := range result.Entries {
		label := fmt.Sprintf("%s/%s %s", e.CourseID, e.Section, e.Kind)
		if e.Part > 0 {
			label = fmt.Sprintf("%s P%d", label, e.Part)
		}
		fixed := e.HasAnnotation(models.AnnotationFixed)
		duration := e.EndSlot - e.StartSlot
		if !grid.Fits(e.StartSlot, duration) {
			report("%s at %s %s lies outside the day", label, e.Day, e.Start)
			continue
		}

		idx, known := inventory.Lookup(e.Room)
		if !known {
			report("%s uses unknown room %s", label, e.Room)
			continue
		}
		room := inventory.Room(idx)
		if !fixed {
			if !room.IsVirtual() && room.Capacity < e.Enrollment {
				report("%s needs %d seats but room %s has %d", label, e.Enrollment, room.ID, room.Capacity)
			}
			if grid.CoversLunch(e.StartSlot, duration) {
				report("%s at %s %s overlaps lunch", label, e.Day, e.Start)
			}
			if opts.Policy == PolicyCompact && !grid.InWindow(e.StartSlot, duration) {
				report("%s at %s %s leaves the core window", label, e.Day, e.Start)
			}
		}

		for slot := e.StartSlot; slot < e.EndSlot; slot++ {
			if !room.IsVirtual() {
				key := fmt.Sprintf("%s|%d|%d", room.ID, e.DayIndex, slot)
				if other, ok := roomUse[key]; ok {
					report("room %s double-booked on %s slot %d by %s and %s", room.ID, e.Day, slot, other, label)
				}
				roomUse[key] = label
			}
			for _, staff := range e.Staff {
				key := fmt.Sprintf("%s|%d|%d", staff, e.DayIndex, slot)
				if other, ok := staffUse[key]; ok {
					report("staff %s double-booked on %s slot %d by %s and %s", staff, e.Day, slot, other, label)
				}
				staffUse[key] = label
			}
		}
	}

	fixed := LoadFixed(grid, inventory, input.Fixed, input.Courses, StaffByCourse(input.Assignments))
	for _, t := range fixed.Tasks {
		if !placedAt(result.Entries, t) && (opts.RequireFixed || !reportedUnplaced(result.Unplaced, t)) {
			report("fixed session %s is not at %s %s in %s", t.ID, grid.DayName(t.Pinned.Day), grid.SlotToClock(t.Pinned.Slot), t.Pinned.Room)
		}
	}
	return errors.Join(problems...)
}

func placedAt(entries []models.ScheduleEntry, t Task) bool {
	for _, e := range entries {
		if e.CourseID == t.CourseID && e.Section == t.Section && e.Kind == t.Kind &&
			e.DayIndex == t.Pinned.Day && e.StartSlot == t.Pinned.Slot &&
			strings.EqualFold(e.Room, t.Pinned.Room) && e.EndSlot-e.StartSlot == t.Duration &&
			e.HasAnnotation(models.AnnotationFixed) {
			return true
		}
	}
	return false
}

func reportedUnplaced(unplaced []models.UnplacedTask, t Task) bool {
	for _, u := range unplaced {
		if u.TaskID == t.ID {
			return true
		}
	}
	return false
}
