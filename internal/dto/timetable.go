package dto

import (
	"time"

	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/scheduler"
)

// TimetableOptions overrides engine defaults for a single run.
type TimetableOptions struct {
	Policy            string `json:"policy" validate:"omitempty,oneof=compact flexible 1 2"`
	Engine            string `json:"engine" validate:"omitempty,oneof=sat search"`
	TimeBudgetSeconds int    `json:"timeBudgetSeconds" validate:"omitempty,min=1"`
	OffHoursPenalty   *int   `json:"offHoursPenalty" validate:"omitempty,min=0"`
	OrderingPenalty   *int   `json:"orderingPenalty" validate:"omitempty,min=0"`
	RequireFixed      *bool  `json:"requireFixed"`
}

// GenerateTimetableRequest carries the full weekly scheduling input.
type GenerateTimetableRequest struct {
	Rooms       []models.Room            `json:"rooms" validate:"required,min=1,dive"`
	Staff       []models.StaffMember     `json:"staff" validate:"dive"`
	Assignments []models.StaffAssignment `json:"assignments" validate:"dive"`
	Courses     []models.CourseSection   `json:"courses" validate:"dive"`
	Fixed       []models.FixedSession    `json:"fixed" validate:"dive"`
	Options     TimetableOptions         `json:"options"`
}

// Input converts the request into an engine input.
func (r GenerateTimetableRequest) Input() scheduler.Input {
	return scheduler.Input{
		Rooms:       r.Rooms,
		Staff:       r.Staff,
		Assignments: r.Assignments,
		Courses:     r.Courses,
		Fixed:       r.Fixed,
	}
}

// GenerateTimetableResponse returns a solved run.
type GenerateTimetableResponse struct {
	RunID         string                 `json:"runId"`
	Status        string                 `json:"status"`
	ProvenOptimal bool                   `json:"provenOptimal"`
	Outcome       string                 `json:"outcome"`
	Objective     int64                  `json:"objective"`
	Policy        string                 `json:"policy"`
	Fingerprint   string                 `json:"fingerprint"`
	Cached        bool                   `json:"cached"`
	Entries       []models.ScheduleEntry `json:"entries"`
	Unplaced      []models.UnplacedTask  `json:"unplaced"`
	Stats         scheduler.Stats        `json:"stats"`
	Warnings      []string               `json:"warnings,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	ExpiresAt     time.Time              `json:"expiresAt"`
}

// SaveTimetableRequest names the version created from a run.
type SaveTimetableRequest struct {
	Name string `json:"name" validate:"omitempty,max=120"`
}

// TimetableVersionQuery filters version listings.
type TimetableVersionQuery struct {
	Status   string `form:"status" validate:"omitempty,oneof=DRAFT PUBLISHED ARCHIVED"`
	Page     int    `form:"page" validate:"omitempty,min=1"`
	PageSize int    `form:"pageSize" validate:"omitempty,min=1,max=200"`
}

// TimetableVersionDetail bundles a version with its entries.
type TimetableVersionDetail struct {
	Version models.TimetableVersion `json:"version"`
	Entries []models.ScheduleEntry  `json:"entries"`
}

// Job lifecycle states.
const (
	JobQueued   = "queued"
	JobRunning  = "running"
	JobFinished = "finished"
	JobFailed   = "failed"
)

// TimetableJobResponse reports the state of a background generation.
type TimetableJobResponse struct {
	JobID       string     `json:"jobId"`
	Status      string     `json:"status"`
	RunID       string     `json:"runId,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submittedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// ExportTimetableRequest selects the rendering of a run.
type ExportTimetableRequest struct {
	Format string `form:"format" validate:"omitempty,oneof=csv pdf"`
}

// ExportTimetableResponse returns a signed download link.
type ExportTimetableResponse struct {
	Format    string    `json:"format"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
