package csvio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
)

func TestReadRoomsDefaultsType(t *testing.T) {
	rooms, err := ReadRooms(strings.NewReader("room,capacity,type\nR101,40,\nlab_ai,30.0,lab_ai\n,10,ordinary\n"))
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, models.Room{ID: "R101", Capacity: 40, Type: models.RoomTypeOrdinary}, rooms[0])
	assert.Equal(t, models.Room{ID: "lab_ai", Capacity: 30, Type: "lab_ai"}, rooms[1])
}

func TestReadStaffKeepsRawUnavailability(t *testing.T) {
	data := "teacher_id,unavailable_times\nT1,\"['Mon 09:00-12:00', 'Tue 13:00-14:00']\"\nT2,nan\nT3,\n"
	staff, err := ReadStaff(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, staff, 3)
	assert.Equal(t, []string{"['Mon 09:00-12:00', 'Tue 13:00-14:00']"}, staff[0].Unavailable)
	assert.Equal(t, []string{"nan"}, staff[1].Unavailable)
	assert.Empty(t, staff[2].Unavailable)
}

func TestReadCoursesParsesSpreadsheetValues(t *testing.T) {
	data := strings.Join([]string{
		"course_code,section,lecture_hour,lab_hour,enrollment_count,lec_online,lab_online,optional,require_lab_ai",
		"CS101,1.0,3,2,35,0,1,0,1",
		"GE100,2,1.5,nan,12.0,1,0,yes,0",
	}, "\n")
	courses, err := ReadCourses(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, courses, 2)

	assert.Equal(t, models.CourseSection{
		CourseID: "CS101", Section: "1", LectureHours: 3, LabHours: 2, Enrollment: 35,
		LabOnline: true, LabRoomType: LabAIRoomType,
	}, courses[0])
	assert.Equal(t, models.CourseSection{
		CourseID: "GE100", Section: "2", LectureHours: 1.5, Enrollment: 12,
		LectureOnline: true, Elective: true,
	}, courses[1])
}

func TestReadCoursesRejectsGarbage(t *testing.T) {
	_, err := ReadCourses(strings.NewReader("course_code,section,lecture_hour\nCS101,1,three\n"))
	assert.Error(t, err)

	courses, err := ReadCourses(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, courses)
}

func TestReadFixedOptionalColumns(t *testing.T) {
	data := "course_code,section,day,start,room,lecture_hour,lab_hour,type,part\nCS101,1,Tue,10:30,R101,1,0,lecture,2\nCS102,1,Wed,13.00,LAB,0,2,,\n"
	fixed, err := ReadFixed(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, fixed, 2)
	assert.Equal(t, models.SessionLecture, fixed[0].Kind)
	assert.Equal(t, 2, fixed[0].Part)
	assert.Equal(t, "13.00", fixed[1].Start)
	assert.Equal(t, models.SessionKind(""), fixed[1].Kind)
	assert.InDelta(t, 2.0, fixed[1].LabHours, 1e-9)
}

func TestLoadMergesCourseFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}
	paths := Paths{
		Rooms:       write("room.csv", "room,capacity,type\nR1,30,ordinary\n"),
		Staff:       write("staff.csv", "teacher_id,unavailable_times\nT1,Mon 09:00-10:00\n"),
		Assignments: write("tc.csv", "course_code,teacher_id\nA1,T1\n"),
		Courses: []string{
			write("a.csv", "course_code,section,lecture_hour,lab_hour,enrollment_count\nA1,1,1,0,10\n"),
			write("b.csv", "course_code,section,lecture_hour,lab_hour,enrollment_count\nB1,1,2,0,10\n"),
		},
	}

	input, err := Load(paths)
	require.NoError(t, err)
	assert.Len(t, input.Rooms, 1)
	assert.Len(t, input.Staff, 1)
	assert.Len(t, input.Assignments, 1)
	assert.Len(t, input.Courses, 2)
	assert.Empty(t, input.Fixed)

	paths.Fixed = filepath.Join(dir, "missing.csv")
	_, err = Load(paths)
	assert.Error(t, err)

	paths.Fixed = ""
	paths.Courses = nil
	_, err = Load(paths)
	assert.Error(t, err)
}

func TestWriteSchedule(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSchedule(&buf, []models.ScheduleEntry{{
		Day: "Mon", Start: "09:00", End: "12:00", Room: "R1", CourseID: "CS101", Section: "1",
		Kind: models.SessionLecture, Part: 1, Parts: 2, Staff: []string{"T1", "T2"},
		Annotations: []string{models.AnnotationFixed},
	}})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Day,Start,End,Room,Course,Sec,Type,Part,Teacher,Notes", lines[0])
	assert.Equal(t, `Mon,09:00,12:00,R1,CS101,1,Lec,1/2,"T1,T2",fixed`, lines[1])
}

func TestWriteUnplaced(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUnplaced(&buf, []models.UnplacedTask{
		{CourseID: "CS101", Section: "1", Kind: models.SessionLab, Reason: models.ReasonNoCandidate},
	}))
	assert.Equal(t, "Course,Sec,Type,Part,Reason\nCS101,1,Lab,,no_candidate\n", buf.String())
}
