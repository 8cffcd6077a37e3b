package scheduler

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"

	"github.com/noah-isme/timetable-api/internal/models"
)

// DefaultMaxSessionSlots caps a single lecture block at three hours.
const DefaultMaxSessionSlots = 6

// Priority orders tasks by how strongly the objective rewards placing them.
type Priority int

const (
	PriorityElective Priority = iota
	PriorityMandatory
	PriorityFixed
)

func (p Priority) String() string {
	switch p {
	case PriorityFixed:
		return "fixed"
	case PriorityMandatory:
		return "mandatory"
	default:
		return "elective"
	}
}

// Pin is the placement of a fixed task.
type Pin struct {
	Day  int
	Slot int
	Room string
}

// Task is one indivisible session to place.
type Task struct {
	ID          string
	CourseID    string
	Section     string
	Kind        models.SessionKind
	Part        int
	Parts       int
	Duration    int
	Enrollment  int
	Online      bool
	LabRoomType string
	Staff       []string
	Priority    Priority
	Pinned      *Pin
}

// Fixed reports whether the task's placement is supplied rather than searched.
func (t Task) Fixed() bool { return t.Pinned != nil }

// SectionKey identifies the course section that owns the task.
func (t Task) SectionKey() string { return sectionKey(t.CourseID, t.Section) }

func sectionKey(courseID, section string) string {
	return courseID + "|" + section
}

// LectureTaskID names lecture part k of a section.
func LectureTaskID(courseID, section string, part int) string {
	return fmt.Sprintf("%s_S%s_Lec_P%d", courseID, section, part)
}

// LabTaskID names the lab of a section.
func LabTaskID(courseID, section string) string {
	return fmt.Sprintf("%s_S%s_Lab", courseID, section)
}

// SlotsFor converts weekly contact hours to whole slots, rounding up.
func SlotsFor(hours float64) int {
	if hours <= 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return 0
	}
	return int(math.Ceil(hours*60/SlotMinutes - 1e-9))
}

// SplitLecture chunks total slots into consecutive parts of at most max slots, first-fit.
func SplitLecture(total, max int) []int {
	if total <= 0 {
		return nil
	}
	if max <= 0 {
		return []int{total}
	}
	var parts []int
	for total > 0 {
		size := lo.Min([]int{total, max})
		parts = append(parts, size)
		total -= size
	}
	return parts
}

// StaffByCourse groups assignments into a de-duplicated staff list per course.
func StaffByCourse(assignments []models.StaffAssignment) map[string][]string {
	grouped := lo.GroupBy(lo.Filter(assignments, func(a models.StaffAssignment, _ int) bool {
		return strings.TrimSpace(a.CourseID) != "" && strings.TrimSpace(a.StaffID) != ""
	}), func(a models.StaffAssignment) string {
		return strings.TrimSpace(a.CourseID)
	})
	out := make(map[string][]string, len(grouped))
	for course, rows := range grouped {
		out[course] = lo.Uniq(lo.Map(rows, func(a models.StaffAssignment, _ int) string {
			return strings.TrimSpace(a.StaffID)
		}))
	}
	return out
}

// Decompose turns course sections into tasks. Invalid or repeated sections are skipped and
// reported as warnings.
func Decompose(courses []models.CourseSection, staff map[string][]string, maxSlots int) ([]Task, []string) {
	var (
		tasks    []Task
		warnings []string
		seen     = make(map[string]struct{}, len(courses))
	)
	for _, course := range courses {
		courseID := strings.TrimSpace(course.CourseID)
		section := strings.TrimSpace(course.Section)
		if courseID == "" || section == "" {
			warnings = append(warnings, fmt.Sprintf("course section %q/%q skipped: missing identifier", course.CourseID, course.Section))
			continue
		}
		if course.LectureHours < 0 || course.LabHours < 0 || course.Enrollment < 0 {
			warnings = append(warnings, fmt.Sprintf("course section %s/%s skipped: negative hours or enrollment", courseID, section))
			continue
		}
		key := sectionKey(courseID, section)
		if _, dup := seen[key]; dup {
			warnings = append(warnings, fmt.Sprintf("course section %s/%s repeated; first occurrence kept", courseID, section))
			continue
		}
		seen[key] = struct{}{}

		priority := PriorityMandatory
		if course.Elective {
			priority = PriorityElective
		}
		assigned := staff[courseID]

		parts := SplitLecture(SlotsFor(course.LectureHours), maxSlots)
		for i, duration := range parts {
			tasks = append(tasks, Task{
				ID:         LectureTaskID(courseID, section, i+1),
				CourseID:   courseID,
				Section:    section,
				Kind:       models.SessionLecture,
				Part:       i + 1,
				Parts:      len(parts),
				Duration:   duration,
				Enrollment: course.Enrollment,
				Online:     course.LectureOnline,
				Staff:      assigned,
				Priority:   priority,
			})
		}
		if lab := SlotsFor(course.LabHours); lab > 0 {
			tasks = append(tasks, Task{
				ID:          LabTaskID(courseID, section),
				CourseID:    courseID,
				Section:     section,
				Kind:        models.SessionLab,
				Duration:    lab,
				Enrollment:  course.Enrollment,
				Online:      course.LabOnline,
				LabRoomType: strings.TrimSpace(course.LabRoomType),
				Staff:       assigned,
				Priority:    priority,
			})
		}
	}
	return tasks, warnings
}
