package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/repository"
	"github.com/noah-isme/timetable-api/internal/scheduler"
	"github.com/noah-isme/timetable-api/pkg/cache"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

type timetableVersionRepository interface {
	CreateVersioned(ctx context.Context, exec sqlx.ExtContext, version *models.TimetableVersion) error
	List(ctx context.Context, filter models.TimetableVersionFilter) ([]models.TimetableVersion, int, error)
	FindByID(ctx context.Context, id string) (*models.TimetableVersion, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.TimetableStatus) error
}

type timetableEntryRepository interface {
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, entries []models.TimetableEntry) error
	ListByVersion(ctx context.Context, versionID string) ([]models.TimetableEntry, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type resultCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// TimetableConfig governs engine defaults and run retention.
type TimetableConfig struct {
	Options       scheduler.Options
	Engine        string
	MaxTimeBudget time.Duration
	RunTTL        time.Duration
}

// TimetableService solves timetables and manages saved versions.
type TimetableService struct {
	versions  timetableVersionRepository
	entries   timetableEntryRepository
	tx        txProvider
	cache     resultCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       TimetableConfig
	runs      *runStore
	now       func() time.Time
}

// NewTimetableService wires timetable dependencies. results and metrics may be nil.
func NewTimetableService(
	versions timetableVersionRepository,
	entries timetableEntryRepository,
	tx txProvider,
	results resultCache,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg TimetableConfig,
) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = 30 * time.Minute
	}
	if cfg.Engine == "" {
		cfg.Engine = scheduler.EngineSAT
	}
	if cfg.Options.TimeBudget <= 0 {
		cfg.Options = scheduler.DefaultOptions()
	}
	if cfg.MaxTimeBudget < cfg.Options.TimeBudget {
		cfg.MaxTimeBudget = cfg.Options.TimeBudget
	}
	return &TimetableService{
		versions:  versions,
		entries:   entries,
		tx:        tx,
		cache:     results,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		runs:      newRunStore(cfg.RunTTL),
		now:       time.Now,
	}
}

// Generate solves a timetable and keeps the run available for saving and exporting.
func (s *TimetableService) Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable generation payload")
	}
	opts, engineName, err := s.resolveOptions(req.Options)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable options")
	}

	input := req.Input()
	fingerprint, err := scheduler.Fingerprint(input, opts, engineName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fingerprint timetable input")
	}
	cacheKey := cache.Key("result", fingerprint)

	result, cached := s.lookupCached(ctx, cacheKey)
	if !cached {
		result, err = s.solve(ctx, input, opts, engineName)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, cacheKey, result, s.cfg.RunTTL); err != nil {
				s.logger.Warn("failed to cache timetable result", zap.String("fingerprint", fingerprint), zap.Error(err))
			}
		}
	}

	run := &timetableRun{
		ID:          uuid.NewString(),
		Input:       input,
		Options:     opts,
		Engine:      engineName,
		Fingerprint: fingerprint,
		Result:      result,
		Cached:      cached,
		CreatedAt:   s.now().UTC(),
	}
	s.runs.Save(run)

	s.logger.Info("timetable generated",
		zap.String("run_id", run.ID),
		zap.String("engine", engineName),
		zap.String("status", result.Status.String()),
		zap.Int("placed", len(result.Entries)),
		zap.Int("unplaced", len(result.Unplaced)),
		zap.Bool("cached", cached),
	)
	return s.runResponse(run), nil
}

// GetRun returns a previously generated run while it is retained.
func (s *TimetableService) GetRun(ctx context.Context, runID string) (*dto.GenerateTimetableResponse, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	return s.runResponse(run), nil
}

// Save persists a run as a new draft version after re-verifying it.
func (s *TimetableService) Save(ctx context.Context, runID string, req dto.SaveTimetableRequest, actorID string) (*models.TimetableVersion, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid save timetable payload")
	}
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	if versionID, ok := run.Claim(); !ok {
		if versionID != "" {
			return nil, appErrors.Clone(appErrors.ErrConflict, "run already saved as version "+versionID)
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "run is being saved")
	}
	saved := false
	defer func() {
		if !saved {
			run.Release()
		}
	}()
	if verr := scheduler.Verify(run.Result, run.Input, run.Options); verr != nil {
		return nil, appErrors.Wrap(verr, appErrors.ErrVerification.Code, appErrors.ErrVerification.Status, appErrors.ErrVerification.Message)
	}
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}

	unplaced, marshalErr := json.Marshal(nonNil(run.Result.Unplaced))
	if marshalErr != nil {
		return nil, appErrors.Wrap(marshalErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode unplaced sessions")
	}
	record := &models.TimetableVersion{
		RunID:        run.ID,
		Name:         strings.TrimSpace(req.Name),
		Status:       models.TimetableStatusDraft,
		Solver:       run.Result.Stats.Solver,
		SolverStatus: run.Result.Status.String(),
		Policy:       run.Options.Policy.String(),
		Fingerprint:  run.Fingerprint,
		Objective:    run.Result.Stats.Objective,
		Placed:       len(run.Result.Entries),
		Unplaced:     len(run.Result.Unplaced),
		UnplacedJSON: types.JSONText(unplaced),
	}
	if actorID != "" {
		record.CreatedBy = &actorID
	}

	started := time.Now()
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.versions.CreateVersioned(ctx, tx, record); err != nil {
		if errors.Is(err, repository.ErrRunAlreadySaved) {
			err = appErrors.Clone(appErrors.ErrConflict, "run already saved")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create timetable version")
		return nil, err
	}
	rows := make([]models.TimetableEntry, 0, len(run.Result.Entries))
	for _, entry := range run.Result.Entries {
		rows = append(rows, models.NewTimetableEntry(record.ID, entry))
	}
	if err = s.entries.InsertBatch(ctx, tx, rows); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist timetable entries")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit timetable transaction")
		return nil, err
	}
	s.metrics.ObserveDBQuery("save_timetable", time.Since(started))

	run.MarkSaved(record.ID)
	saved = true
	s.logger.Info("timetable saved", zap.String("run_id", run.ID), zap.String("version_id", record.ID), zap.Int("version", record.Version))
	return record, nil
}

// List returns saved versions with pagination metadata.
func (s *TimetableService) List(ctx context.Context, query dto.TimetableVersionQuery) ([]models.TimetableVersion, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid version query")
	}
	filter := models.TimetableVersionFilter{
		Status:   models.TimetableStatus(query.Status),
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	list, total, err := s.versions.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list timetable versions")
	}
	return list, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// GetEntries returns a saved version together with its placements.
func (s *TimetableService) GetEntries(ctx context.Context, versionID string) (*dto.TimetableVersionDetail, error) {
	if versionID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "version id is required")
	}
	version, err := s.findVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	rows, err := s.entries.ListByVersion(ctx, versionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list timetable entries")
	}
	entries := make([]models.ScheduleEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.ScheduleEntry())
	}
	return &dto.TimetableVersionDetail{Version: *version, Entries: entries}, nil
}

// Delete removes a draft version.
func (s *TimetableService) Delete(ctx context.Context, versionID string) error {
	version, err := s.findVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if version.Status != models.TimetableStatusDraft {
		return appErrors.Clone(appErrors.ErrConflict, "only draft timetables can be deleted")
	}
	if err := s.versions.Delete(ctx, versionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "timetable version not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete timetable version")
	}
	return nil
}

// Publish marks a draft version as published.
func (s *TimetableService) Publish(ctx context.Context, versionID string) (*models.TimetableVersion, error) {
	version, err := s.findVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Status != models.TimetableStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only draft timetables can be published")
	}
	if err := s.versions.UpdateStatus(ctx, nil, versionID, models.TimetableStatusPublished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable version not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish timetable version")
	}
	version.Status = models.TimetableStatusPublished
	return version, nil
}

func (s *TimetableService) findVersion(ctx context.Context, versionID string) (*models.TimetableVersion, error) {
	version, err := s.versions.FindByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable version not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable version")
	}
	return version, nil
}

func (s *TimetableService) run(runID string) (*timetableRun, error) {
	if runID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "run id is required")
	}
	run, ok := s.runs.Get(runID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable run not found or expired")
	}
	return run, nil
}

// resolveOptions layers per-request overrides on the configured defaults.
func (s *TimetableService) resolveOptions(req dto.TimetableOptions) (scheduler.Options, string, error) {
	opts := s.cfg.Options
	if req.Policy != "" {
		policy, err := scheduler.ParsePolicy(req.Policy)
		if err != nil {
			return opts, "", err
		}
		opts.Policy = policy
	}
	if req.TimeBudgetSeconds > 0 {
		opts.TimeBudget = time.Duration(req.TimeBudgetSeconds) * time.Second
	}
	if opts.TimeBudget > s.cfg.MaxTimeBudget {
		opts.TimeBudget = s.cfg.MaxTimeBudget
	}
	if req.OffHoursPenalty != nil {
		opts.OffHoursPenalty = int64(*req.OffHoursPenalty)
	}
	if req.OrderingPenalty != nil {
		opts.OrderingPenalty = int64(*req.OrderingPenalty)
	}
	if req.RequireFixed != nil {
		opts.RequireFixed = *req.RequireFixed
	}
	engineName := s.cfg.Engine
	if req.Engine != "" {
		engineName = strings.ToLower(req.Engine)
	}
	if err := opts.Validate(); err != nil {
		return opts, "", err
	}
	return opts, engineName, nil
}

func (s *TimetableService) lookupCached(ctx context.Context, key string) (*scheduler.Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	var result scheduler.Result
	hit, err := s.cache.Get(ctx, key, &result)
	if err != nil || !hit {
		return nil, false
	}
	return &result, true
}

func (s *TimetableService) solve(ctx context.Context, input scheduler.Input, opts scheduler.Options, engineName string) (*scheduler.Result, error) {
	solver, err := scheduler.NewSolver(engineName, s.logger)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unknown solver engine")
	}
	engine, err := scheduler.NewEngine(solver, opts, s.logger)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable options")
	}

	started := time.Now()
	result, err := engine.Run(ctx, input)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrEmptyInput):
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "nothing to schedule")
		case errors.Is(err, scheduler.ErrInfeasible):
			s.metrics.ObserveSolverRun(engineName, "infeasible", time.Since(started), 0, nil)
			return nil, appErrors.Wrap(err, appErrors.ErrInfeasible.Code, appErrors.ErrInfeasible.Status, appErrors.ErrInfeasible.Message)
		case errors.Is(err, scheduler.ErrNoSolution):
			s.metrics.ObserveSolverRun(engineName, "unknown", time.Since(started), 0, nil)
			return nil, appErrors.Wrap(err, appErrors.ErrNoSolution.Code, appErrors.ErrNoSolution.Status, appErrors.ErrNoSolution.Message)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "timetable generation cancelled")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate timetable")
	}

	unplaced := make(map[string]int)
	for _, task := range result.Unplaced {
		unplaced[task.Reason]++
	}
	s.metrics.ObserveSolverRun(engineName, result.Status.String(), result.Stats.SolveDuration, len(result.Entries), unplaced)
	return result, nil
}

func (s *TimetableService) runResponse(run *timetableRun) *dto.GenerateTimetableResponse {
	result := run.Result
	return &dto.GenerateTimetableResponse{
		RunID:         run.ID,
		Status:        result.Status.String(),
		ProvenOptimal: result.ProvenOptimal(),
		Outcome:       result.Outcome(),
		Objective:     result.Stats.Objective,
		Policy:        run.Options.Policy.String(),
		Fingerprint:   run.Fingerprint,
		Cached:        run.Cached,
		Entries:       nonNil(result.Entries),
		Unplaced:      nonNil(result.Unplaced),
		Stats:         result.Stats,
		Warnings:      result.Warnings,
		CreatedAt:     run.CreatedAt,
		ExpiresAt:     run.CreatedAt.Add(s.runs.ttl),
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// --- run store ---

type timetableRun struct {
	ID          string
	Input       scheduler.Input
	Options     scheduler.Options
	Engine      string
	Fingerprint string
	Result      *scheduler.Result
	Cached      bool
	CreatedAt   time.Time

	mu           sync.Mutex
	saving       bool
	savedVersion string
}

// Claim reserves the run for a single save. It fails with the saved version id once the run
// is saved, or with an empty id while another save holds the claim.
func (r *timetableRun) Claim() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.savedVersion != "" || r.saving {
		return r.savedVersion, false
	}
	r.saving = true
	return "", true
}

// Release drops a claim after a failed save.
func (r *timetableRun) Release() {
	r.mu.Lock()
	r.saving = false
	r.mu.Unlock()
}

func (r *timetableRun) MarkSaved(versionID string) {
	r.mu.Lock()
	r.savedVersion = versionID
	r.saving = false
	r.mu.Unlock()
}

type runStore struct {
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]*timetableRun
	now   func() time.Time
}

func newRunStore(ttl time.Duration) *runStore {
	return &runStore{
		ttl:   ttl,
		items: make(map[string]*timetableRun),
		now:   time.Now,
	}
}

func (s *runStore) Save(run *timetableRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[run.ID] = run
	s.evictLocked()
}

func (s *runStore) Get(id string) (*timetableRun, bool) {
	s.mu.RLock()
	run, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.now().Sub(run.CreatedAt) > s.ttl {
		s.Delete(id)
		return nil, false
	}
	return run, true
}

func (s *runStore) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

// evictLocked drops expired runs; callers hold mu.
func (s *runStore) evictLocked() {
	now := s.now()
	for id, run := range s.items {
		if now.Sub(run.CreatedAt) > s.ttl {
			delete(s.items, id)
		}
	}
}
