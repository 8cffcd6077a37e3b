package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
)

func fixedFixture() (*Grid, *Inventory) {
	inv, _ := NewInventory([]models.Room{
		{ID: "X", Capacity: 40, Type: models.RoomTypeOrdinary},
		{ID: "Y", Capacity: 40, Type: models.RoomTypeOrdinary},
	})
	return MustGrid(DefaultGridConfig()), inv
}

func TestLoadFixedPinsAndFootprint(t *testing.T) {
	grid, inv := fixedFixture()
	courses := []models.CourseSection{{CourseID: "CS101", Section: "1", LectureHours: 3, Enrollment: 33}}

	load := LoadFixed(grid, inv, []models.FixedSession{
		{CourseID: "CS101", Section: "1", Day: "Tue", Start: "10:30", Room: "X", LectureHours: 1},
		{CourseID: "CS101", Section: "1", Day: "Wed", Start: "09.00", Room: "Online", LabHours: 1.5},
	}, courses, map[string][]string{"CS101": {"T1"}})

	require.Empty(t, load.Warnings)
	require.Empty(t, load.Invalid)
	require.Len(t, load.Tasks, 2)

	lecture := load.Tasks[0]
	assert.Equal(t, "CS101_S1_Lec", lecture.ID)
	assert.Equal(t, models.SessionLecture, lecture.Kind)
	assert.Equal(t, 2, lecture.Duration)
	assert.Equal(t, 33, lecture.Enrollment)
	assert.Equal(t, PriorityFixed, lecture.Priority)
	assert.Equal(t, &Pin{Day: 1, Slot: 4, Room: "X"}, lecture.Pinned)
	assert.Equal(t, []string{"T1"}, lecture.Staff)

	lab := load.Tasks[1]
	assert.Equal(t, models.SessionLab, lab.Kind)
	assert.True(t, lab.Online)
	assert.Equal(t, 3, lab.Duration)

	x, _ := inv.Lookup("X")
	online, _ := inv.Lookup(models.VirtualRoomID)
	assert.False(t, load.Occupancy.Free(x, 1, 4, 1))
	assert.False(t, load.Occupancy.Free(x, 1, 3, 2))
	assert.True(t, load.Occupancy.Free(x, 1, 6, 2))
	assert.True(t, load.Occupancy.Free(x, 2, 4, 2))
	assert.True(t, load.Occupancy.Free(online, 2, 1, 3))

	// A part-less fixed lecture suppresses every generated lecture part.
	assert.True(t, load.Suppresses(Task{CourseID: "CS101", Section: "1", Kind: models.SessionLecture, Part: 2}))
	assert.True(t, load.Suppresses(Task{CourseID: "CS101", Section: "1", Kind: models.SessionLab}))
	assert.False(t, load.Suppresses(Task{CourseID: "CS101", Section: "2", Kind: models.SessionLecture, Part: 1}))
}

func TestLoadFixedPartSuppressesOnlyThatPart(t *testing.T) {
	grid, inv := fixedFixture()
	load := LoadFixed(grid, inv, []models.FixedSession{
		{CourseID: "CS101", Section: "1", Day: "Mon", Start: "09:00", Room: "Y", LectureHours: 3, Kind: models.SessionLecture, Part: 1},
		{CourseID: "CS101", Section: "1", Day: "Thu", Start: "09:00", Room: "Y", LectureHours: 3, Kind: models.SessionLecture, Part: 1},
	}, nil, nil)

	require.Len(t, load.Tasks, 2)
	assert.Equal(t, "CS101_S1_Lec_P1", load.Tasks[0].ID)
	assert.Equal(t, "CS101_S1_Lec_P1_F2", load.Tasks[1].ID)
	assert.True(t, load.Suppresses(Task{CourseID: "CS101", Section: "1", Kind: models.SessionLecture, Part: 1}))
	assert.False(t, load.Suppresses(Task{CourseID: "CS101", Section: "1", Kind: models.SessionLecture, Part: 2}))
}

func TestLoadFixedSkipsMalformedRecords(t *testing.T) {
	grid, inv := fixedFixture()
	load := LoadFixed(grid, inv, []models.FixedSession{
		{CourseID: "CS101", Section: "1", Day: "Sun", Start: "09:00", Room: "X", LectureHours: 1},
		{CourseID: "CS101", Section: "1", Day: "Mon", Start: "09:10", Room: "X", LectureHours: 1},
		{CourseID: "CS101", Section: "1", Day: "Mon", Start: "09:00", Room: "Z", LectureHours: 1},
		{CourseID: "", Section: "1", Day: "Mon", Start: "09:00", Room: "X", LectureHours: 1},
		{CourseID: "CS102", Section: "1", Day: "Fri", Start: "18:00", Room: "X", LectureHours: 2},
	}, nil, nil)

	assert.Len(t, load.Warnings, 4)
	assert.Empty(t, load.Tasks)
	require.Len(t, load.Invalid, 1)
	assert.Equal(t, models.ReasonInvalidFixed, load.Invalid[0].Reason)
	assert.Equal(t, "CS102", load.Invalid[0].CourseID)
	assert.True(t, load.Suppresses(Task{CourseID: "CS102", Section: "1", Kind: models.SessionLecture, Part: 1}))
}

func TestCandidatesAvoidFixedFootprint(t *testing.T) {
	grid, inv := fixedFixture()
	load := LoadFixed(grid, inv, []models.FixedSession{
		{CourseID: "FIX", Section: "1", Day: "Tue", Start: "10:30", Room: "X", LectureHours: 1},
	}, nil, nil)

	filter := &candidateFilter{grid: grid, inv: inv, occupancy: load.Occupancy, policy: PolicyFlexible}
	task := Task{ID: "CS101_S1_Lec_P1", CourseID: "CS101", Section: "1", Kind: models.SessionLecture, Duration: 2, Enrollment: 20}
	cands := filter.enumerate(task)
	require.NotEmpty(t, cands)

	x, _ := inv.Lookup("X")
	for _, c := range cands {
		if c.Room == x && c.Day == 1 {
			end := c.Slot + task.Duration
			assert.False(t, c.Slot < 6 && end > 4, "candidate at slot %d overlaps the fixed session", c.Slot)
		}
	}
	assert.Contains(t, cands, Candidate{Room: x, Day: 1, Slot: 6})
	assert.Contains(t, cands, Candidate{Room: x, Day: 1, Slot: 2})

	pinned := filter.enumerate(load.Tasks[0])
	assert.Equal(t, []Candidate{{Room: x, Day: 1, Slot: 4}}, pinned)
}

func TestCandidateFilters(t *testing.T) {
	grid := MustGrid(DefaultGridConfig())
	inv, _ := NewInventory([]models.Room{
		{ID: "small", Capacity: 10},
		{ID: "big", Capacity: 60},
		{ID: "ai", Capacity: 60, Type: "lab_ai"},
	})
	staffBusy, _ := ParseAvailability(grid, []string{"Mon 08:30-19:00"})
	filter := &candidateFilter{
		grid:         grid,
		inv:          inv,
		occupancy:    newOccupancy(inv.Len(), grid.DayCount(), grid.SlotCount()),
		availability: map[string]*Availability{"T1": staffBusy},
		policy:       PolicyCompact,
	}

	lecture := Task{ID: "L", Kind: models.SessionLecture, Duration: 3, Enrollment: 30, Staff: []string{"T1", "ghost"}}
	small, _ := inv.Lookup("small")
	for _, c := range filter.enumerate(lecture) {
		assert.NotEqual(t, small, c.Room, "capacity")
		assert.NotEqual(t, 0, c.Day, "staff unavailable on Monday")
		assert.False(t, grid.CoversLunch(c.Slot, lecture.Duration), "lunch")
		assert.True(t, grid.InWindow(c.Slot, lecture.Duration), "compact window")
		assert.False(t, c.OffHours)
	}

	lab := Task{ID: "B", Kind: models.SessionLab, Duration: 2, Enrollment: 30, LabRoomType: "lab_ai"}
	ai, _ := inv.Lookup("ai")
	labCands := filter.enumerate(lab)
	require.NotEmpty(t, labCands)
	for _, c := range labCands {
		assert.Equal(t, ai, c.Room)
	}

	online := Task{ID: "O", Kind: models.SessionLecture, Duration: 2, Enrollment: 500, Online: true}
	virtual, _ := inv.Lookup(models.VirtualRoomID)
	onlineCands := filter.enumerate(online)
	require.NotEmpty(t, onlineCands)
	for _, c := range onlineCands {
		assert.Equal(t, virtual, c.Room)
	}

	filter.policy = PolicyFlexible
	offHours := 0
	for _, c := range filter.enumerate(lecture) {
		if c.OffHours {
			offHours++
			assert.False(t, grid.InWindow(c.Slot, lecture.Duration))
		}
	}
	assert.Greater(t, offHours, 0)
}

func TestParsePolicy(t *testing.T) {
	policy, err := ParsePolicy("Compact")
	require.NoError(t, err)
	assert.Equal(t, PolicyCompact, policy)

	policy, err = ParsePolicy("2")
	require.NoError(t, err)
	assert.Equal(t, PolicyFlexible, policy)

	_, err = ParsePolicy("loose")
	assert.Error(t, err)
}
