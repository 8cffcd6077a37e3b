package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
)

func TestTimetableEntryRepositoryInsertBatchInTx(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableEntryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO timetable_entries")).
		WithArgs(sqlmock.AnyArg(), "v-1", "Mon", 0, 2, 5, "09:30", "11:00", "R1", "CS101", "1", "Lec", 0, "T1,T2", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO timetable_entries")).
		WithArgs(sqlmock.AnyArg(), "v-1", "Tue", 1, 0, 2, "08:30", "09:30", "Online", "CS101", "1", "Lab", 0, "T1", "online").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entries := []models.TimetableEntry{
		models.NewTimetableEntry("v-1", models.ScheduleEntry{
			Day: "Mon", DayIndex: 0, StartSlot: 2, EndSlot: 5, Start: "09:30", End: "11:00",
			Room: "R1", CourseID: "CS101", Section: "1", Kind: models.SessionLecture, Staff: []string{"T1", "T2"},
		}),
		models.NewTimetableEntry("v-1", models.ScheduleEntry{
			Day: "Tue", DayIndex: 1, StartSlot: 0, EndSlot: 2, Start: "08:30", End: "09:30",
			Room: "Online", CourseID: "CS101", Section: "1", Kind: models.SessionLab, Staff: []string{"T1"},
			Annotations: []string{models.AnnotationOnline},
		}),
	}

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, repo.InsertBatch(context.Background(), tx, entries))
	require.NoError(t, tx.Commit())
	assert.NotEmpty(t, entries[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableEntryRepositoryInsertBatchRequiresVersion(t *testing.T) {
	db, _, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableEntryRepository(db)

	require.NoError(t, repo.InsertBatch(context.Background(), nil, nil))
	assert.Error(t, repo.InsertBatch(context.Background(), nil, []models.TimetableEntry{{Day: "Mon"}}))
}

func TestTimetableEntryRepositoryListByVersion(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableEntryRepository(db)

	rows := sqlmock.NewRows([]string{"id", "version_id", "day", "day_index", "start_slot", "end_slot", "start_time", "end_time",
		"room", "course_id", "section", "kind", "part", "staff", "annotations"}).
		AddRow("e-1", "v-1", "Mon", 0, 2, 5, "09:30", "11:00", "R1", "CS101", "1", "Lec", 0, "T1,T2", "off_hours")
	mock.ExpectQuery(regexp.QuoteMeta("FROM timetable_entries WHERE version_id = $1 ORDER BY day_index ASC, start_slot ASC, room ASC")).
		WithArgs("v-1").
		WillReturnRows(rows)

	entries, err := repo.ListByVersion(context.Background(), "v-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	restored := entries[0].ScheduleEntry()
	assert.Equal(t, []string{"T1", "T2"}, restored.Staff)
	assert.True(t, restored.HasAnnotation(models.AnnotationOffHours))
	assert.NoError(t, mock.ExpectationsWereMet())
}
