package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/dto"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/jobs"
)

const timetableJobType = "timetable.generate"

type timetableGenerator interface {
	Generate(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error)
}

// TimetableJobConfig sizes the background worker pool.
type TimetableJobConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	StatusTTL  time.Duration
}

// TimetableJobService runs timetable generation in the background.
type TimetableJobService struct {
	generator timetableGenerator
	queue     *jobs.Queue[dto.GenerateTimetableRequest]
	metrics   *MetricsService
	logger    *zap.Logger
	ttl       time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	states map[string]*dto.TimetableJobResponse
}

// NewTimetableJobService builds the service and its queue. Call Start before submitting.
func NewTimetableJobService(generator timetableGenerator, metrics *MetricsService, logger *zap.Logger, cfg TimetableJobConfig) *TimetableJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = 30 * time.Minute
	}
	s := &TimetableJobService{
		generator: generator,
		metrics:   metrics,
		logger:    logger,
		ttl:       cfg.StatusTTL,
		now:       time.Now,
		states:    make(map[string]*dto.TimetableJobResponse),
	}
	s.queue = jobs.NewQueue("timetables", s.handle, jobs.QueueConfig[dto.GenerateTimetableRequest]{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		OnFailure:  s.fail,
		Logger:     logger,
	})
	return s
}

// Start launches the workers.
func (s *TimetableJobService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop cancels running jobs and waits for workers.
func (s *TimetableJobService) Stop() {
	s.queue.Stop()
}

// Submit queues a generation request and returns its job record.
func (s *TimetableJobService) Submit(ctx context.Context, req dto.GenerateTimetableRequest) (*dto.TimetableJobResponse, error) {
	state := &dto.TimetableJobResponse{
		JobID:       uuid.NewString(),
		Status:      dto.JobQueued,
		SubmittedAt: s.now().UTC(),
	}
	queued := *state
	s.mu.Lock()
	s.evictLocked()
	s.states[state.JobID] = state
	s.mu.Unlock()

	err := s.queue.Enqueue(jobs.Job[dto.GenerateTimetableRequest]{ID: state.JobID, Type: timetableJobType, Payload: req})
	if err != nil {
		s.mu.Lock()
		delete(s.states, state.JobID)
		s.mu.Unlock()
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Clone(appErrors.ErrUnavailable, "too many pending timetable jobs")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue timetable job")
	}
	s.logger.Info("timetable job queued", zap.String("job_id", state.JobID))
	return &queued, nil
}

// Status reports the current state of a job.
func (s *TimetableJobService) Status(ctx context.Context, jobID string) (*dto.TimetableJobResponse, error) {
	if jobID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "job id is required")
	}
	return s.snapshot(jobID)
}

func (s *TimetableJobService) handle(ctx context.Context, job jobs.Job[dto.GenerateTimetableRequest]) error {
	started := s.now().UTC()
	s.update(job.ID, func(state *dto.TimetableJobResponse) {
		state.Status = dto.JobRunning
		state.StartedAt = &started
		state.Error = ""
	})

	resp, err := s.generator.Generate(ctx, job.Payload)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Status < 500 {
			// Input and infeasibility errors will not change on retry.
			s.fail(job, err)
			return nil
		}
		return err
	}

	finished := s.now().UTC()
	s.update(job.ID, func(state *dto.TimetableJobResponse) {
		state.Status = dto.JobFinished
		state.RunID = resp.RunID
		state.FinishedAt = &finished
	})
	s.metrics.RecordJob(dto.JobFinished)
	return nil
}

func (s *TimetableJobService) fail(job jobs.Job[dto.GenerateTimetableRequest], err error) {
	finished := s.now().UTC()
	message := err.Error()
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	s.update(job.ID, func(state *dto.TimetableJobResponse) {
		state.Status = dto.JobFailed
		state.Error = message
		state.FinishedAt = &finished
	})
	s.metrics.RecordJob(dto.JobFailed)
	s.logger.Warn("timetable job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
}

func (s *TimetableJobService) update(jobID string, mutate func(*dto.TimetableJobResponse)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[jobID]; ok {
		mutate(state)
	}
}

func (s *TimetableJobService) snapshot(jobID string) (*dto.TimetableJobResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[jobID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable job not found or expired")
	}
	copied := *state
	return &copied, nil
}

// evictLocked forgets finished jobs older than the TTL; callers hold mu.
func (s *TimetableJobService) evictLocked() {
	cutoff := s.now().Add(-s.ttl)
	for id, state := range s.states {
		if state.FinishedAt != nil && state.FinishedAt.Before(cutoff) {
			delete(s.states, id)
		}
	}
}
