package scheduler

import (
	"sort"

	"github.com/noah-isme/timetable-api/internal/cpmodel"
	"github.com/noah-isme/timetable-api/internal/models"
)

// Extract reads the selected candidate of every task from sol. It does not modify the plan, so
// repeated calls on the same solution return identical output.
func (p *Plan) Extract(sol *cpmodel.Solution) ([]models.ScheduleEntry, []models.UnplacedTask) {
	entries := make([]models.ScheduleEntry, 0, len(p.tasks))
	unplaced := append([]models.UnplacedTask(nil), p.invalid...)
	chosen := make([]int, len(p.tasks))

	for i, t := range p.tasks {
		chosen[i] = -1
		if p.placed[i] < 0 {
			unplaced = append(unplaced, unplacedFrom(t, models.ReasonNoCandidate))
			continue
		}
		for j, v := range p.selections[i] {
			if sol.Value(v) {
				chosen[i] = j
				break
			}
		}
		if chosen[i] < 0 {
			unplaced = append(unplaced, unplacedFrom(t, models.ReasonNotSelected))
		}
	}

	lateLabs := make(map[int]struct{})
	for _, pair := range p.ordering {
		lec, lab := chosen[pair.lecture], chosen[pair.lab]
		if lec < 0 || lab < 0 {
			continue
		}
		if p.at(pair.lecture, lec) >= p.at(pair.lab, lab) {
			lateLabs[pair.lab] = struct{}{}
		}
	}

	for i, j := range chosen {
		if j < 0 {
			continue
		}
		entry := p.entry(p.tasks[i], p.candidates[i][j])
		if _, ok := lateLabs[i]; ok {
			entry.Annotations = append(entry.Annotations, models.AnnotationLabBeforeLecture)
		}
		entries = append(entries, entry)
	}
	SortEntries(entries)
	return entries, unplaced
}

func (p *Plan) at(task, candidate int) int {
	c := p.candidates[task][candidate]
	return c.Day*p.grid.SlotCount() + c.Slot
}

func (p *Plan) entry(t Task, c Candidate) models.ScheduleEntry {
	room := p.inventory.Room(c.Room)
	entry := models.ScheduleEntry{
		Day:        p.grid.DayName(c.Day),
		DayIndex:   c.Day,
		Start:      p.grid.SlotToClock(c.Slot),
		End:        p.grid.SlotToClock(c.Slot + t.Duration),
		StartSlot:  c.Slot,
		EndSlot:    c.Slot + t.Duration,
		Room:       room.ID,
		CourseID:   t.CourseID,
		Section:    t.Section,
		Kind:       t.Kind,
		Part:       t.Part,
		Parts:      t.Parts,
		Enrollment: t.Enrollment,
		Staff:      append([]string{}, t.Staff...),
	}
	if room.IsVirtual() {
		entry.Annotations = append(entry.Annotations, models.AnnotationOnline)
	}
	if c.OffHours {
		entry.Annotations = append(entry.Annotations, models.AnnotationOffHours)
	}
	if t.Fixed() {
		entry.Annotations = append(entry.Annotations, models.AnnotationFixed)
	}
	if len(t.Staff) == 0 {
		entry.Annotations = append(entry.Annotations, models.AnnotationUnstaffed)
	}
	return entry
}

func unplacedFrom(t Task, reason string) models.UnplacedTask {
	return models.UnplacedTask{
		TaskID:   t.ID,
		CourseID: t.CourseID,
		Section:  t.Section,
		Kind:     t.Kind,
		Part:     t.Part,
		Reason:   reason,
	}
}

// SortEntries orders entries by day, start, room, course, section, kind and part.
func SortEntries(entries []models.ScheduleEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.DayIndex != b.DayIndex:
			return a.DayIndex < b.DayIndex
		case a.StartSlot != b.StartSlot:
			return a.StartSlot < b.StartSlot
		case a.Room != b.Room:
			return a.Room < b.Room
		case a.CourseID != b.CourseID:
			return a.CourseID < b.CourseID
		case a.Section != b.Section:
			return a.Section < b.Section
		case a.Kind != b.Kind:
			return a.Kind < b.Kind
		default:
			return a.Part < b.Part
		}
	})
}
