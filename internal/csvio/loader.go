// Package csvio reads timetable inputs from CSV files and writes schedules back out.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/scheduler"
)

// LabAIRoomType is the lab sub-type implied by a truthy require_lab_ai column.
const LabAIRoomType = "lab_ai"

// Paths locates the CSV files of one scheduling run. Courses may span several files.
type Paths struct {
	Rooms       string
	Staff       string
	Assignments string
	Courses     []string
	Fixed       string
}

// Flag parses spreadsheet booleans: 1, true, yes, y (any case). Empty and nan are false.
type Flag bool

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (f *Flag) UnmarshalCSV(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "1.0", "true", "yes", "y", "t":
		*f = true
	case "", "0", "0.0", "false", "no", "n", "f", "nan", "none":
		*f = false
	default:
		return fmt.Errorf("invalid boolean %q", value)
	}
	return nil
}

// Number parses numeric cells, treating empty and nan as zero.
type Number float64

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (n *Number) UnmarshalCSV(value string) error {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "nan") {
		*n = 0
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", value)
	}
	*n = Number(parsed)
	return nil
}

// Label normalises identifier cells; spreadsheet exports turn section 1 into "1.0".
type Label string

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (l *Label) UnmarshalCSV(value string) error {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "nan") {
		value = ""
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && f == math.Trunc(f) && strings.Contains(value, ".") {
		value = strconv.FormatInt(int64(f), 10)
	}
	*l = Label(value)
	return nil
}

type roomRow struct {
	Room     Label  `csv:"room"`
	Capacity Number `csv:"capacity"`
	Type     string `csv:"type"`
}

type staffRow struct {
	TeacherID        Label  `csv:"teacher_id"`
	UnavailableTimes string `csv:"unavailable_times"`
}

type assignmentRow struct {
	CourseCode Label `csv:"course_code"`
	TeacherID  Label `csv:"teacher_id"`
}

type courseRow struct {
	CourseCode      Label  `csv:"course_code"`
	Section         Label  `csv:"section"`
	LectureHour     Number `csv:"lecture_hour"`
	LabHour         Number `csv:"lab_hour"`
	EnrollmentCount Number `csv:"enrollment_count"`
	LecOnline       Flag   `csv:"lec_online"`
	LabOnline       Flag   `csv:"lab_online"`
	Optional        Flag   `csv:"optional"`
	RequireLabAI    Flag   `csv:"require_lab_ai"`
	LabRoomType     string `csv:"lab_room_type"`
}

type fixedRow struct {
	CourseCode  Label  `csv:"course_code"`
	Section     Label  `csv:"section"`
	Day         string `csv:"day"`
	Start       string `csv:"start"`
	Room        Label  `csv:"room"`
	LectureHour Number `csv:"lecture_hour"`
	LabHour     Number `csv:"lab_hour"`
	Type        string `csv:"type"`
	Part        Number `csv:"part"`
}

func newReader(in io.Reader) gocsv.CSVReader {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	return r
}

func unmarshal[T any](in io.Reader, name string) ([]T, error) {
	var rows []T
	if err := gocsv.UnmarshalCSV(newReader(in), &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return rows, nil
}

// ReadRooms parses room,capacity,type rows.
func ReadRooms(in io.Reader) ([]models.Room, error) {
	rows, err := unmarshal[roomRow](in, "rooms")
	if err != nil {
		return nil, err
	}
	rooms := make([]models.Room, 0, len(rows))
	for _, row := range rows {
		if row.Room == "" {
			continue
		}
		roomType := strings.TrimSpace(row.Type)
		if roomType == "" {
			roomType = models.RoomTypeOrdinary
		}
		rooms = append(rooms, models.Room{ID: string(row.Room), Capacity: int(row.Capacity), Type: roomType})
	}
	return rooms, nil
}

// ReadStaff parses teacher_id,unavailable_times rows.
func ReadStaff(in io.Reader) ([]models.StaffMember, error) {
	rows, err := unmarshal[staffRow](in, "staff")
	if err != nil {
		return nil, err
	}
	staff := make([]models.StaffMember, 0, len(rows))
	for _, row := range rows {
		if row.TeacherID == "" {
			continue
		}
		member := models.StaffMember{ID: string(row.TeacherID)}
		if text := strings.TrimSpace(row.UnavailableTimes); text != "" {
			member.Unavailable = []string{text}
		}
		staff = append(staff, member)
	}
	return staff, nil
}

// ReadAssignments parses course_code,teacher_id rows.
func ReadAssignments(in io.Reader) ([]models.StaffAssignment, error) {
	rows, err := unmarshal[assignmentRow](in, "assignments")
	if err != nil {
		return nil, err
	}
	out := make([]models.StaffAssignment, 0, len(rows))
	for _, row := range rows {
		if row.CourseCode == "" || row.TeacherID == "" {
			continue
		}
		out = append(out, models.StaffAssignment{CourseID: string(row.CourseCode), StaffID: string(row.TeacherID)})
	}
	return out, nil
}

// ReadCourses parses course section rows. A truthy require_lab_ai without an explicit
// lab_room_type asks for a lab_ai room.
func ReadCourses(in io.Reader) ([]models.CourseSection, error) {
	rows, err := unmarshal[courseRow](in, "courses")
	if err != nil {
		return nil, err
	}
	out := make([]models.CourseSection, 0, len(rows))
	for _, row := range rows {
		labType := strings.TrimSpace(row.LabRoomType)
		if labType == "" && bool(row.RequireLabAI) {
			labType = LabAIRoomType
		}
		out = append(out, models.CourseSection{
			CourseID:      string(row.CourseCode),
			Section:       string(row.Section),
			LectureHours:  float64(row.LectureHour),
			LabHours:      float64(row.LabHour),
			Enrollment:    int(math.Round(float64(row.EnrollmentCount))),
			LectureOnline: bool(row.LecOnline),
			LabOnline:     bool(row.LabOnline),
			Elective:      bool(row.Optional),
			LabRoomType:   labType,
		})
	}
	return out, nil
}

// ReadFixed parses pinned sessions. The type and part columns are optional.
func ReadFixed(in io.Reader) ([]models.FixedSession, error) {
	rows, err := unmarshal[fixedRow](in, "fixed sessions")
	if err != nil {
		return nil, err
	}
	out := make([]models.FixedSession, 0, len(rows))
	for _, row := range rows {
		session := models.FixedSession{
			CourseID:     string(row.CourseCode),
			Section:      string(row.Section),
			Day:          strings.TrimSpace(row.Day),
			Start:        strings.TrimSpace(row.Start),
			Room:         string(row.Room),
			LectureHours: float64(row.LectureHour),
			LabHours:     float64(row.LabHour),
			Part:         int(row.Part),
		}
		if kind, ok := models.ParseSessionKind(row.Type); ok {
			session.Kind = kind
		}
		out = append(out, session)
	}
	return out, nil
}

// Load reads every file named in paths into an engine input. The fixed file is optional.
func Load(paths Paths) (scheduler.Input, error) {
	var input scheduler.Input
	var err error

	if input.Rooms, err = readFile(paths.Rooms, ReadRooms); err != nil {
		return input, err
	}
	if input.Staff, err = readFile(paths.Staff, ReadStaff); err != nil {
		return input, err
	}
	if input.Assignments, err = readFile(paths.Assignments, ReadAssignments); err != nil {
		return input, err
	}
	if len(paths.Courses) == 0 {
		return input, fmt.Errorf("no course files given")
	}
	for _, path := range paths.Courses {
		courses, err := readFile(path, ReadCourses)
		if err != nil {
			return input, err
		}
		input.Courses = append(input.Courses, courses...)
	}
	if paths.Fixed != "" {
		if input.Fixed, err = readFile(paths.Fixed, ReadFixed); err != nil {
			return input, err
		}
	}
	return input, nil
}

func readFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	if path == "" {
		return nil, fmt.Errorf("missing file path")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}
