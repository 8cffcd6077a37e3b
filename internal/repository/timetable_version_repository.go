package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/timetable-api/internal/models"
)

const timetableVersionColumns = "id, version, run_id, name, status, solver, solver_status, policy, fingerprint, objective, placed, unplaced, unplaced_json, created_by, created_at, updated_at"

// ErrRunAlreadySaved is returned when a version already exists for the run.
var ErrRunAlreadySaved = errors.New("timetable run already saved")

const runIDUniqueConstraint = "timetable_versions_run_id_key"

// TimetableVersionRepository persists saved timetable snapshots.
type TimetableVersionRepository struct {
	db *sqlx.DB
}

// NewTimetableVersionRepository constructs repository.
func NewTimetableVersionRepository(db *sqlx.DB) *TimetableVersionRepository {
	return &TimetableVersionRepository{db: db}
}

func (r *TimetableVersionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// CreateVersioned inserts a version row, assigning the next version number.
func (r *TimetableVersionRepository) CreateVersioned(ctx context.Context, exec sqlx.ExtContext, version *models.TimetableVersion) error {
	if version == nil {
		return fmt.Errorf("timetable version payload is nil")
	}
	if version.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if version.ID == "" {
		version.ID = uuid.NewString()
	}
	if version.Status == "" {
		version.Status = models.TimetableStatusDraft
	}
	if len(version.UnplacedJSON) == 0 {
		version.UnplacedJSON = types.JSONText(`[]`)
	}
	now := time.Now().UTC()
	if version.CreatedAt.IsZero() {
		version.CreatedAt = now
	}
	version.UpdatedAt = now

	target := r.exec(exec)

	const nextVersionQuery = `SELECT COALESCE(MAX(version), 0) + 1 FROM timetable_versions`
	if err := sqlx.GetContext(ctx, target, &version.Version, nextVersionQuery); err != nil {
		return fmt.Errorf("compute next timetable version: %w", err)
	}
	if version.Name == "" {
		version.Name = fmt.Sprintf("Timetable v%d", version.Version)
	}

	const insertQuery = `
INSERT INTO timetable_versions (id, version, run_id, name, status, solver, solver_status, policy, fingerprint,
	objective, placed, unplaced, unplaced_json, created_by, created_at, updated_at)
VALUES (:id, :version, :run_id, :name, :status, :solver, :solver_status, :policy, :fingerprint,
	:objective, :placed, :unplaced, :unplaced_json, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, insertQuery, version); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == runIDUniqueConstraint {
			return ErrRunAlreadySaved
		}
		return fmt.Errorf("insert timetable version: %w", err)
	}
	return nil
}

// List returns versions newest first with the total count for pagination.
func (r *TimetableVersionRepository) List(ctx context.Context, filter models.TimetableVersionFilter) ([]models.TimetableVersion, int, error) {
	base := "FROM timetable_versions"
	args := []interface{}{}
	if filter.Status != "" {
		base += " WHERE status = $1"
		args = append(args, filter.Status)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY version DESC LIMIT %d OFFSET %d", timetableVersionColumns, base, size, offset)
	var versions []models.TimetableVersion
	if err := r.db.SelectContext(ctx, &versions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list timetable versions: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count timetable versions: %w", err)
	}
	return versions, total, nil
}

// FindByID loads a version by its identifier. Missing rows surface as sql.ErrNoRows.
func (r *TimetableVersionRepository) FindByID(ctx context.Context, id string) (*models.TimetableVersion, error) {
	query := "SELECT " + timetableVersionColumns + " FROM timetable_versions WHERE id = $1"
	var version models.TimetableVersion
	if err := r.db.GetContext(ctx, &version, query, id); err != nil {
		return nil, err
	}
	return &version, nil
}

// Delete removes a stored version; entries cascade.
func (r *TimetableVersionRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM timetable_versions WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete timetable version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("timetable version rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateStatus moves a version to another lifecycle status.
func (r *TimetableVersionRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.TimetableStatus) error {
	const query = `UPDATE timetable_versions SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update timetable version status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("timetable version status rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
