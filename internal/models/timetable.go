package models

import "strings"

// Room types understood by the timetable engine. Any other value is treated as an
// ordinary physical room whose type may still satisfy a lab sub-type requirement.
const (
	RoomTypeOrdinary = "ordinary"
	RoomTypeVirtual  = "virtual"
)

// VirtualRoomID names the synthetic, unbounded room that hosts online sessions.
const VirtualRoomID = "Online"

// Room is a bookable teaching space.
type Room struct {
	ID       string `json:"id" validate:"required"`
	Capacity int    `json:"capacity" validate:"min=0"`
	Type     string `json:"type"`
}

// IsVirtual reports whether the room hosts online sessions only.
func (r Room) IsVirtual() bool {
	return strings.EqualFold(r.Type, RoomTypeVirtual) || r.ID == VirtualRoomID
}

// StaffMember carries free-text weekly unavailability annotations such as "Mon 09:00-12:00".
type StaffMember struct {
	ID          string   `json:"id" validate:"required"`
	Unavailable []string `json:"unavailable"`
}

// StaffAssignment links a staff member to a course; a course may have many.
type StaffAssignment struct {
	CourseID string `json:"courseId" validate:"required"`
	StaffID  string `json:"staffId" validate:"required"`
}

// CourseSection is one section of a course with its weekly contact hours.
type CourseSection struct {
	CourseID      string  `json:"courseId" validate:"required"`
	Section       string  `json:"section" validate:"required"`
	LectureHours  float64 `json:"lectureHours" validate:"min=0"`
	LabHours      float64 `json:"labHours" validate:"min=0"`
	Enrollment    int     `json:"enrollment" validate:"min=0"`
	LectureOnline bool    `json:"lectureOnline"`
	LabOnline     bool    `json:"labOnline"`
	Elective      bool    `json:"elective"`
	LabRoomType   string  `json:"labRoomType,omitempty"`
}

// FixedSession is an externally supplied placement that must not move.
// Kind and Part are optional; when Kind is empty it is inferred from the hours.
type FixedSession struct {
	CourseID     string      `json:"courseId" validate:"required"`
	Section      string      `json:"section" validate:"required"`
	Day          string      `json:"day" validate:"required"`
	Start        string      `json:"start" validate:"required"`
	Room         string      `json:"room" validate:"required"`
	LectureHours float64     `json:"lectureHours" validate:"min=0"`
	LabHours     float64     `json:"labHours" validate:"min=0"`
	Kind         SessionKind `json:"kind,omitempty"`
	Part         int         `json:"part,omitempty" validate:"min=0"`
}

// SessionKind distinguishes lecture blocks from lab blocks.
type SessionKind string

const (
	SessionLecture SessionKind = "Lec"
	SessionLab     SessionKind = "Lab"
)

// ParseSessionKind accepts "lec", "lecture", "lab" in any case.
func ParseSessionKind(raw string) (SessionKind, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(value, "lec"):
		return SessionLecture, true
	case strings.HasPrefix(value, "lab"):
		return SessionLab, true
	}
	return "", false
}

// Entry annotations.
const (
	AnnotationOnline           = "online"
	AnnotationOffHours         = "off_hours"
	AnnotationFixed            = "fixed"
	AnnotationUnstaffed        = "unstaffed"
	AnnotationLabBeforeLecture = "lab_before_lecture"
)

// Unplaced reasons.
const (
	ReasonNoCandidate  = "no_candidate"
	ReasonNotSelected  = "not_selected"
	ReasonInvalidFixed = "invalid_fixed"
)

// ScheduleEntry is one confirmed placement in the weekly timetable.
type ScheduleEntry struct {
	Day         string      `json:"day"`
	DayIndex    int         `json:"dayIndex"`
	Start       string      `json:"start"`
	End         string      `json:"end"`
	StartSlot   int         `json:"startSlot"`
	EndSlot     int         `json:"endSlot"`
	Room        string      `json:"room"`
	CourseID    string      `json:"courseId"`
	Section     string      `json:"section"`
	Kind        SessionKind `json:"kind"`
	Part        int         `json:"part,omitempty"`
	Parts       int         `json:"parts,omitempty"`
	Enrollment  int         `json:"enrollment"`
	Staff       []string    `json:"staff"`
	Annotations []string    `json:"annotations,omitempty"`
}

// HasAnnotation reports whether the entry carries the given annotation.
func (e ScheduleEntry) HasAnnotation(annotation string) bool {
	for _, a := range e.Annotations {
		if a == annotation {
			return true
		}
	}
	return false
}

// UnplacedTask reports a session the engine could not or did not place.
type UnplacedTask struct {
	TaskID   string      `json:"taskId"`
	CourseID string      `json:"courseId"`
	Section  string      `json:"section"`
	Kind     SessionKind `json:"kind"`
	Part     int         `json:"part,omitempty"`
	Reason   string      `json:"reason"`
}
