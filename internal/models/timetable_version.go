package models

import (
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// TimetableStatus represents lifecycle phases for saved timetables.
type TimetableStatus string

const (
	TimetableStatusDraft     TimetableStatus = "DRAFT"
	TimetableStatusPublished TimetableStatus = "PUBLISHED"
	TimetableStatusArchived  TimetableStatus = "ARCHIVED"
)

// TimetableVersion is a persisted snapshot of one solver run.
type TimetableVersion struct {
	ID           string          `db:"id" json:"id"`
	Version      int             `db:"version" json:"version"`
	RunID        string          `db:"run_id" json:"runId"`
	Name         string          `db:"name" json:"name"`
	Status       TimetableStatus `db:"status" json:"status"`
	Solver       string          `db:"solver" json:"solver"`
	SolverStatus string          `db:"solver_status" json:"solverStatus"`
	Policy       string          `db:"policy" json:"policy"`
	Fingerprint  string          `db:"fingerprint" json:"fingerprint"`
	Objective    int64           `db:"objective" json:"objective"`
	Placed       int             `db:"placed" json:"placed"`
	Unplaced     int             `db:"unplaced" json:"unplaced"`
	UnplacedJSON types.JSONText  `db:"unplaced_json" json:"unplacedTasks"`
	CreatedBy    *string         `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updatedAt"`
}

// TimetableVersionFilter narrows version listings.
type TimetableVersionFilter struct {
	Status   TimetableStatus
	Page     int
	PageSize int
}

// TimetableEntry is a stored placement belonging to a version.
type TimetableEntry struct {
	ID          string      `db:"id" json:"id"`
	VersionID   string      `db:"version_id" json:"versionId"`
	Day         string      `db:"day" json:"day"`
	DayIndex    int         `db:"day_index" json:"dayIndex"`
	StartSlot   int         `db:"start_slot" json:"startSlot"`
	EndSlot     int         `db:"end_slot" json:"endSlot"`
	StartTime   string      `db:"start_time" json:"start"`
	EndTime     string      `db:"end_time" json:"end"`
	Room        string      `db:"room" json:"room"`
	CourseID    string      `db:"course_id" json:"courseId"`
	Section     string      `db:"section" json:"section"`
	Kind        SessionKind `db:"kind" json:"kind"`
	Part        int         `db:"part" json:"part,omitempty"`
	Staff       string      `db:"staff" json:"staff"`
	Annotations string      `db:"annotations" json:"annotations"`
}

// NewTimetableEntry flattens a schedule entry for storage.
func NewTimetableEntry(versionID string, e ScheduleEntry) TimetableEntry {
	return TimetableEntry{
		VersionID:   versionID,
		Day:         e.Day,
		DayIndex:    e.DayIndex,
		StartSlot:   e.StartSlot,
		EndSlot:     e.EndSlot,
		StartTime:   e.Start,
		EndTime:     e.End,
		Room:        e.Room,
		CourseID:    e.CourseID,
		Section:     e.Section,
		Kind:        e.Kind,
		Part:        e.Part,
		Staff:       strings.Join(e.Staff, ","),
		Annotations: strings.Join(e.Annotations, ","),
	}
}

// ScheduleEntry restores the engine view of a stored entry. Parts and enrollment are not stored.
func (t TimetableEntry) ScheduleEntry() ScheduleEntry {
	return ScheduleEntry{
		Day:         t.Day,
		DayIndex:    t.DayIndex,
		Start:       t.StartTime,
		End:         t.EndTime,
		StartSlot:   t.StartSlot,
		EndSlot:     t.EndSlot,
		Room:        t.Room,
		CourseID:    t.CourseID,
		Section:     t.Section,
		Kind:        t.Kind,
		Part:        t.Part,
		Staff:       splitList(t.Staff),
		Annotations: splitList(t.Annotations),
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
