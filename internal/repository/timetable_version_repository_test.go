package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/models"
)

func newTimetableRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func versionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "version", "run_id", "name", "status", "solver", "solver_status", "policy",
		"fingerprint", "objective", "placed", "unplaced", "unplaced_json", "created_by", "created_at", "updated_at"})
}

func TestTimetableVersionRepositoryCreateVersioned(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableVersionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) + 1 FROM timetable_versions")).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO timetable_versions")).
		WithArgs(sqlmock.AnyArg(), 3, "run-1", "Timetable v3", string(models.TimetableStatusDraft), "sat", "optimal", "flexible",
			"fp", int64(1200), 4, 0, sqlmock.AnyArg(), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	payload := &models.TimetableVersion{
		RunID:        "run-1",
		Solver:       "sat",
		SolverStatus: "optimal",
		Policy:       "flexible",
		Fingerprint:  "fp",
		Objective:    1200,
		Placed:       4,
	}
	require.NoError(t, repo.CreateVersioned(context.Background(), nil, payload))
	assert.Equal(t, 3, payload.Version)
	assert.NotEmpty(t, payload.ID)
	assert.Equal(t, types.JSONText(`[]`), payload.UnplacedJSON)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableVersionRepositoryCreateVersionedDuplicateRun(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableVersionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) + 1 FROM timetable_versions")).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO timetable_versions")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "timetable_versions_run_id_key"})

	err := repo.CreateVersioned(context.Background(), nil, &models.TimetableVersion{RunID: "run-1"})
	assert.ErrorIs(t, err, ErrRunAlreadySaved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableVersionRepositoryCreateVersionedRequiresRun(t *testing.T) {
	db, _, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableVersionRepository(db)

	assert.Error(t, repo.CreateVersioned(context.Background(), nil, nil))
	assert.Error(t, repo.CreateVersioned(context.Background(), nil, &models.TimetableVersion{}))
}

func TestTimetableVersionRepositoryList(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableVersionRepository(db)

	now := time.Now()
	rows := versionRows().AddRow("v-1", 2, "run-2", "Timetable v2", "DRAFT", "sat", "optimal", "compact", "fp", 10, 3, 1,
		types.JSONText(`[]`), nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM timetable_versions WHERE status = $1 ORDER BY version DESC LIMIT 10 OFFSET 10")).
		WithArgs(models.TimetableStatusDraft).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM timetable_versions WHERE status = $1")).
		WithArgs(models.TimetableStatusDraft).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	list, total, err := repo.List(context.Background(), models.TimetableVersionFilter{
		Status:   models.TimetableStatusDraft,
		Page:     2,
		PageSize: 10,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Version)
	assert.Equal(t, 11, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableVersionRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableVersionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM timetable_versions WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(versionRows())

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableVersionRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableVersionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM timetable_versions WHERE id = $1")).
		WithArgs("v-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM timetable_versions WHERE id = $1")).
		WithArgs("v-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "v-1"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "v-2"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableVersionRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newTimetableRepoMock(t)
	defer cleanup()
	repo := NewTimetableVersionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE timetable_versions SET status = $1, updated_at = $2 WHERE id = $3")).
		WithArgs(models.TimetableStatusPublished, sqlmock.AnyArg(), "v-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), nil, "v-1", models.TimetableStatusPublished))
	assert.NoError(t, mock.ExpectationsWereMet())
}
