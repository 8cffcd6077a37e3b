package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/scheduler"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

type versionRepoFake struct {
	mu       sync.Mutex
	items    map[string]*models.TimetableVersion
	next     int
	deleted  []string
	statuses map[string]models.TimetableStatus
}

func newVersionRepoFake() *versionRepoFake {
	return &versionRepoFake{items: map[string]*models.TimetableVersion{}, statuses: map[string]models.TimetableStatus{}}
}

func (f *versionRepoFake) CreateVersioned(_ context.Context, _ sqlx.ExtContext, version *models.TimetableVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	version.ID = fmt.Sprintf("version-%d", f.next)
	version.Version = f.next
	copied := *version
	f.items[version.ID] = &copied
	return nil
}

func (f *versionRepoFake) List(_ context.Context, filter models.TimetableVersionFilter) ([]models.TimetableVersion, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.TimetableVersion, 0, len(f.items))
	for _, item := range f.items {
		if filter.Status == "" || item.Status == filter.Status {
			out = append(out, *item)
		}
	}
	return out, len(out), nil
}

func (f *versionRepoFake) FindByID(_ context.Context, id string) (*models.TimetableVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *item
	return &copied, nil
}

func (f *versionRepoFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.items, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *versionRepoFake) UpdateStatus(_ context.Context, _ sqlx.ExtContext, id string, status models.TimetableStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.Status = status
	f.statuses[id] = status
	return nil
}

type entryRepoFake struct {
	mu      sync.Mutex
	entries map[string][]models.TimetableEntry
	// inserting and resume hold InsertBatch open when set.
	inserting chan struct{}
	resume    chan struct{}
}

func (f *entryRepoFake) InsertBatch(_ context.Context, _ sqlx.ExtContext, entries []models.TimetableEntry) error {
	if f.resume != nil {
		f.inserting <- struct{}{}
		<-f.resume
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = map[string][]models.TimetableEntry{}
	}
	for _, e := range entries {
		f.entries[e.VersionID] = append(f.entries[e.VersionID], e)
	}
	return nil
}

func (f *entryRepoFake) ListByVersion(_ context.Context, versionID string) ([]models.TimetableEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[versionID], nil
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.items[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = map[string][]byte{}
	}
	c.items[key] = raw
	return nil
}

type txProviderMock struct {
	db *sqlx.DB
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func (p *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return p.db.BeginTxx(ctx, opts)
}

type timetableFixture struct {
	service  *TimetableService
	versions *versionRepoFake
	entries  *entryRepoFake
	cache    *memoryCache
	mock     sqlmock.Sqlmock
}

func newTimetableFixture(t *testing.T) timetableFixture {
	t.Helper()
	tx, mock := newTxProviderMock(t)
	opts := scheduler.DefaultOptions()
	opts.TimeBudget = 5 * time.Second
	fx := timetableFixture{
		versions: newVersionRepoFake(),
		entries:  &entryRepoFake{},
		cache:    &memoryCache{},
		mock:     mock,
	}
	fx.service = NewTimetableService(fx.versions, fx.entries, tx, fx.cache, NewMetricsService(), nil, zap.NewNop(), TimetableConfig{
		Options:       opts,
		Engine:        scheduler.EngineSearch,
		MaxTimeBudget: 10 * time.Second,
		RunTTL:        time.Minute,
	})
	return fx
}

func smallTimetableRequest() dto.GenerateTimetableRequest {
	return dto.GenerateTimetableRequest{
		Rooms: []models.Room{{ID: "R1", Capacity: 40}, {ID: "R2", Capacity: 20}},
		Staff: []models.StaffMember{{ID: "T1", Unavailable: []string{"Mon 08:30-12:30"}}, {ID: "T2"}},
		Assignments: []models.StaffAssignment{
			{CourseID: "CS101", StaffID: "T1"},
			{CourseID: "CS102", StaffID: "T2"},
		},
		Courses: []models.CourseSection{
			{CourseID: "CS101", Section: "1", LectureHours: 2, Enrollment: 30},
			{CourseID: "CS102", Section: "1", LectureHours: 1, LabHours: 1, Enrollment: 15},
		},
	}
}

func requireAppError(t *testing.T, err error, code string) *appErrors.Error {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected typed error, got %v", err)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

func TestTimetableServiceGenerateAndCache(t *testing.T) {
	fx := newTimetableFixture(t)

	first, err := fx.service.Generate(context.Background(), smallTimetableRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, first.RunID)
	assert.False(t, first.Cached)
	assert.Equal(t, scheduler.OutcomeAllPlaced, first.Outcome)
	assert.Equal(t, "flexible", first.Policy)
	assert.NotEmpty(t, first.Entries)
	assert.NotNil(t, first.Unplaced)

	second, err := fx.service.Generate(context.Background(), smallTimetableRequest())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Entries, second.Entries)

	run, err := fx.service.GetRun(context.Background(), second.RunID)
	require.NoError(t, err)
	assert.Equal(t, second.Entries, run.Entries)
}

func TestTimetableServiceGenerateErrors(t *testing.T) {
	fx := newTimetableFixture(t)
	ctx := context.Background()

	_, err := fx.service.Generate(ctx, dto.GenerateTimetableRequest{})
	requireAppError(t, err, appErrors.ErrValidation.Code)

	bad := smallTimetableRequest()
	bad.Options.Policy = "strict"
	_, err = fx.service.Generate(ctx, bad)
	requireAppError(t, err, appErrors.ErrValidation.Code)

	_, err = fx.service.Generate(ctx, dto.GenerateTimetableRequest{Rooms: []models.Room{{ID: "R1", Capacity: 10}}})
	requireAppError(t, err, appErrors.ErrValidation.Code)

	clash := dto.GenerateTimetableRequest{
		Rooms: []models.Room{{ID: "X", Capacity: 50}},
		Fixed: []models.FixedSession{
			{CourseID: "A", Section: "1", Day: "Mon", Start: "09:00", Room: "X", LectureHours: 1},
			{CourseID: "B", Section: "1", Day: "Mon", Start: "09:30", Room: "X", LectureHours: 1},
		},
	}
	_, err = fx.service.Generate(ctx, clash)
	appErr := requireAppError(t, err, appErrors.ErrInfeasible.Code)
	assert.Equal(t, 422, appErr.Status)
}

func TestTimetableServiceResolveOptionsCapsBudget(t *testing.T) {
	fx := newTimetableFixture(t)
	penalty := 0
	requireFixed := false

	opts, engine, err := fx.service.resolveOptions(dto.TimetableOptions{
		Policy:            "compact",
		Engine:            "sat",
		TimeBudgetSeconds: 3600,
		OrderingPenalty:   &penalty,
		RequireFixed:      &requireFixed,
	})
	require.NoError(t, err)
	assert.Equal(t, scheduler.PolicyCompact, opts.Policy)
	assert.Equal(t, scheduler.EngineSAT, engine)
	assert.Equal(t, 10*time.Second, opts.TimeBudget)
	assert.Zero(t, opts.OrderingPenalty)
	assert.Equal(t, int64(1), opts.OffHoursPenalty)
	assert.False(t, opts.RequireFixed)
}

func TestTimetableServiceSaveAndReadBack(t *testing.T) {
	fx := newTimetableFixture(t)
	ctx := context.Background()

	generated, err := fx.service.Generate(ctx, smallTimetableRequest())
	require.NoError(t, err)

	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()
	version, err := fx.service.Save(ctx, generated.RunID, dto.SaveTimetableRequest{Name: " Week A "}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Week A", version.Name)
	assert.Equal(t, models.TimetableStatusDraft, version.Status)
	assert.Equal(t, len(generated.Entries), version.Placed)
	require.NotNil(t, version.CreatedBy)
	assert.Equal(t, "user-1", *version.CreatedBy)
	assert.NoError(t, fx.mock.ExpectationsWereMet())

	_, err = fx.service.Save(ctx, generated.RunID, dto.SaveTimetableRequest{}, "")
	requireAppError(t, err, appErrors.ErrConflict.Code)

	detail, err := fx.service.GetEntries(ctx, version.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Entries, len(generated.Entries))

	list, pagination, err := fx.service.List(ctx, dto.TimetableVersionQuery{Status: "DRAFT"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, pagination.TotalCount)
	assert.Equal(t, 20, pagination.PageSize)
}

func TestTimetableServiceConcurrentSaveCreatesOneVersion(t *testing.T) {
	fx := newTimetableFixture(t)
	ctx := context.Background()

	generated, err := fx.service.Generate(ctx, smallTimetableRequest())
	require.NoError(t, err)

	fx.entries.inserting = make(chan struct{})
	fx.entries.resume = make(chan struct{})
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	type saveResult struct {
		version *models.TimetableVersion
		err     error
	}
	first := make(chan saveResult, 1)
	go func() {
		version, err := fx.service.Save(ctx, generated.RunID, dto.SaveTimetableRequest{}, "")
		first <- saveResult{version: version, err: err}
	}()
	<-fx.entries.inserting

	_, err = fx.service.Save(ctx, generated.RunID, dto.SaveTimetableRequest{}, "")
	appErr := requireAppError(t, err, appErrors.ErrConflict.Code)
	assert.Equal(t, "run is being saved", appErr.Message)

	close(fx.entries.resume)
	res := <-first
	require.NoError(t, res.err)
	assert.Len(t, fx.versions.items, 1)
	assert.NoError(t, fx.mock.ExpectationsWereMet())

	_, err = fx.service.Save(ctx, generated.RunID, dto.SaveTimetableRequest{}, "")
	appErr = requireAppError(t, err, appErrors.ErrConflict.Code)
	assert.Contains(t, appErr.Message, res.version.ID)
}

func TestTimetableServiceSaveReleasesClaimOnFailure(t *testing.T) {
	fx := newTimetableFixture(t)
	ctx := context.Background()

	generated, err := fx.service.Generate(ctx, smallTimetableRequest())
	require.NoError(t, err)

	fx.mock.ExpectBegin().WillReturnError(errors.New("connection reset"))
	_, err = fx.service.Save(ctx, generated.RunID, dto.SaveTimetableRequest{}, "")
	requireAppError(t, err, appErrors.ErrInternal.Code)

	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()
	version, err := fx.service.Save(ctx, generated.RunID, dto.SaveTimetableRequest{}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, version.ID)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestTimetableServiceSaveUnknownRun(t *testing.T) {
	fx := newTimetableFixture(t)
	_, err := fx.service.Save(context.Background(), "missing", dto.SaveTimetableRequest{}, "")
	requireAppError(t, err, appErrors.ErrNotFound.Code)
}

func TestTimetableServiceSaveRejectsTamperedRun(t *testing.T) {
	fx := newTimetableFixture(t)
	ctx := context.Background()

	generated, err := fx.service.Generate(ctx, smallTimetableRequest())
	require.NoError(t, err)

	run, ok := fx.service.runs.Get(generated.RunID)
	require.True(t, ok)
	tampered := *run.Result
	tampered.Entries = append([]models.ScheduleEntry{}, run.Result.Entries...)
	tampered.Entries[0].Room = "NOWHERE"
	run.Result = &tampered

	_, err = fx.service.Save(ctx, generated.RunID, dto.SaveTimetableRequest{}, "")
	requireAppError(t, err, appErrors.ErrVerification.Code)
}

func TestTimetableServiceDeleteAndPublish(t *testing.T) {
	fx := newTimetableFixture(t)
	ctx := context.Background()
	fx.versions.items["draft"] = &models.TimetableVersion{ID: "draft", Status: models.TimetableStatusDraft}
	fx.versions.items["live"] = &models.TimetableVersion{ID: "live", Status: models.TimetableStatusDraft}

	published, err := fx.service.Publish(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, models.TimetableStatusPublished, published.Status)

	requireAppError(t, fx.service.Delete(ctx, "live"), appErrors.ErrConflict.Code)
	requireAppError(t, fx.service.Delete(ctx, "missing"), appErrors.ErrNotFound.Code)
	require.NoError(t, fx.service.Delete(ctx, "draft"))
	assert.Equal(t, []string{"draft"}, fx.versions.deleted)

	_, err = fx.service.Publish(ctx, "live")
	requireAppError(t, err, appErrors.ErrConflict.Code)
}

func TestRunStoreExpires(t *testing.T) {
	store := newRunStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	store.Save(&timetableRun{ID: "a", CreatedAt: now})

	_, ok := store.Get("a")
	assert.True(t, ok)

	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok = store.Get("a")
	assert.False(t, ok)
}
