package scheduler

import (
	"fmt"
	"strings"

	"github.com/noah-isme/timetable-api/internal/models"
)

// Occupancy marks (room, day, slot) cells held by fixed sessions in physical rooms.
type Occupancy struct {
	days  int
	slots int
	cells []bool
}

func newOccupancy(rooms, days, slots int) *Occupancy {
	return &Occupancy{days: days, slots: slots, cells: make([]bool, rooms*days*slots)}
}

func (o *Occupancy) cell(room, day, slot int) int {
	return (room*o.days+day)*o.slots + slot
}

// Mark holds [start, start+duration) of room on day.
func (o *Occupancy) Mark(room, day, start, duration int) {
	for slot := start; slot < start+duration && slot < o.slots; slot++ {
		o.cells[o.cell(room, day, slot)] = true
	}
}

// Free reports whether [start, start+duration) of room on day is unheld.
func (o *Occupancy) Free(room, day, start, duration int) bool {
	for slot := start; slot < start+duration && slot < o.slots; slot++ {
		if o.cells[o.cell(room, day, slot)] {
			return false
		}
	}
	return true
}

// FixedLoad is the outcome of loading fixed sessions.
type FixedLoad struct {
	Tasks     []Task
	Occupancy *Occupancy
	Invalid   []models.UnplacedTask
	Warnings  []string

	suppress map[string]struct{}
}

// Suppresses reports whether a generated task duplicates a fixed session. A fixed lecture without
// a part number stands in for every lecture part of its section.
func (f *FixedLoad) Suppresses(t Task) bool {
	if f == nil {
		return false
	}
	if _, ok := f.suppress[suppressKey(t.CourseID, t.Section, t.Kind, 0)]; ok {
		return true
	}
	_, ok := f.suppress[suppressKey(t.CourseID, t.Section, t.Kind, t.Part)]
	return ok
}

func suppressKey(courseID, section string, kind models.SessionKind, part int) string {
	return fmt.Sprintf("%s|%s|%s|%d", courseID, section, kind, part)
}

// LoadFixed converts fixed records into pinned tasks and their room footprint. Records with an
// unknown day, start or room are skipped with a warning; records that overflow the day are
// reported as invalid.
func LoadFixed(grid *Grid, inv *Inventory, records []models.FixedSession, courses []models.CourseSection, staff map[string][]string) *FixedLoad {
	load := &FixedLoad{
		Occupancy: newOccupancy(inv.Len(), grid.DayCount(), grid.SlotCount()),
		suppress:  make(map[string]struct{}, len(records)),
	}
	enrollment := make(map[string]int, len(courses))
	for _, c := range courses {
		key := sectionKey(strings.TrimSpace(c.CourseID), strings.TrimSpace(c.Section))
		if _, ok := enrollment[key]; !ok {
			enrollment[key] = c.Enrollment
		}
	}
	ids := make(map[string]int, len(records))

	for i, rec := range records {
		courseID := strings.TrimSpace(rec.CourseID)
		section := strings.TrimSpace(rec.Section)
		if courseID == "" || section == "" {
			load.Warnings = append(load.Warnings, fmt.Sprintf("fixed session #%d skipped: missing course or section", i+1))
			continue
		}
		day, ok := grid.DayIndex(rec.Day)
		if !ok {
			load.Warnings = append(load.Warnings, fmt.Sprintf("fixed session %s/%s skipped: unknown day %q", courseID, section, rec.Day))
			continue
		}
		start := grid.ClockToSlot(rec.Start)
		if start == NoSlot || start >= grid.SlotCount() {
			load.Warnings = append(load.Warnings, fmt.Sprintf("fixed session %s/%s skipped: start %q is not a slot", courseID, section, rec.Start))
			continue
		}
		roomIdx, ok := inv.Lookup(rec.Room)
		if !ok {
			load.Warnings = append(load.Warnings, fmt.Sprintf("fixed session %s/%s skipped: unknown room %q", courseID, section, rec.Room))
			continue
		}
		room := inv.Room(roomIdx)

		kind := rec.Kind
		if kind == "" {
			kind = models.SessionLecture
			if rec.LectureHours <= 0 && rec.LabHours > 0 {
				kind = models.SessionLab
			}
		}
		part := rec.Part
		if kind == models.SessionLab || part < 0 {
			part = 0
		}

		id := fmt.Sprintf("%s_S%s_%s", courseID, section, kind)
		if part > 0 {
			id = fmt.Sprintf("%s_P%d", id, part)
		}
		ids[id]++
		if n := ids[id]; n > 1 {
			id = fmt.Sprintf("%s_F%d", id, n)
		}

		duration := SlotsFor(rec.LectureHours + rec.LabHours)
		if duration <= 0 || !grid.Fits(start, duration) {
			load.Invalid = append(load.Invalid, models.UnplacedTask{
				TaskID:   id,
				CourseID: courseID,
				Section:  section,
				Kind:     kind,
				Part:     part,
				Reason:   models.ReasonInvalidFixed,
			})
			load.suppress[suppressKey(courseID, section, kind, part)] = struct{}{}
			continue
		}

		load.Tasks = append(load.Tasks, Task{
			ID:         id,
			CourseID:   courseID,
			Section:    section,
			Kind:       kind,
			Part:       part,
			Duration:   duration,
			Enrollment: enrollment[sectionKey(courseID, section)],
			Online:     room.IsVirtual(),
			Staff:      staff[courseID],
			Priority:   PriorityFixed,
			Pinned:     &Pin{Day: day, Slot: start, Room: room.ID},
		})
		load.suppress[suppressKey(courseID, section, kind, part)] = struct{}{}
		if !room.IsVirtual() {
			load.Occupancy.Mark(roomIdx, day, start, duration)
		}
	}
	return load
}
