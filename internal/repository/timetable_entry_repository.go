package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-api/internal/models"
)

// TimetableEntryRepository manages the placements of saved versions.
type TimetableEntryRepository struct {
	db *sqlx.DB
}

// NewTimetableEntryRepository builds repository.
func NewTimetableEntryRepository(db *sqlx.DB) *TimetableEntryRepository {
	return &TimetableEntryRepository{db: db}
}

func (r *TimetableEntryRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InsertBatch stores entries for a version.
func (r *TimetableEntryRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, entries []models.TimetableEntry) error {
	if len(entries) == 0 {
		return nil
	}
	target := r.exec(exec)

	const query = `
INSERT INTO timetable_entries (id, version_id, day, day_index, start_slot, end_slot, start_time, end_time,
	room, course_id, section, kind, part, staff, annotations)
VALUES (:id, :version_id, :day, :day_index, :start_slot, :end_slot, :start_time, :end_time,
	:room, :course_id, :section, :kind, :part, :staff, :annotations)`

	for i := range entries {
		entry := &entries[i]
		if entry.VersionID == "" {
			return fmt.Errorf("timetable entry %d has no version_id", i)
		}
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, entry); err != nil {
			return fmt.Errorf("insert timetable entry: %w", err)
		}
	}
	return nil
}

// ListByVersion returns entries ordered by day, start slot and room.
func (r *TimetableEntryRepository) ListByVersion(ctx context.Context, versionID string) ([]models.TimetableEntry, error) {
	const query = `SELECT id, version_id, day, day_index, start_slot, end_slot, start_time, end_time, room, course_id, section, kind, part, staff, annotations
FROM timetable_entries WHERE version_id = $1 ORDER BY day_index ASC, start_slot ASC, room ASC`
	var entries []models.TimetableEntry
	if err := r.db.SelectContext(ctx, &entries, query, versionID); err != nil {
		return nil, fmt.Errorf("list timetable entries: %w", err)
	}
	return entries, nil
}
