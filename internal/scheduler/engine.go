// Package scheduler builds weekly timetables: it decomposes course sections into sessions,
// enumerates feasible placements, compiles them into a cpmodel optimisation model and reads the
// solver's answer back into schedule entries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/cpmodel"
	"github.com/noah-isme/timetable-api/internal/cpmodel/satsolver"
	"github.com/noah-isme/timetable-api/internal/cpmodel/search"
	"github.com/noah-isme/timetable-api/internal/models"
)

var (
	// ErrEmptyInput is returned when there is nothing to schedule.
	ErrEmptyInput = errors.New("scheduler: no sessions to schedule")
	// ErrInfeasible is returned when no assignment honours every required session.
	ErrInfeasible = errors.New("scheduler: fixed sessions cannot all be honoured")
	// ErrNoSolution is returned when the solver found no assignment within the time budget.
	ErrNoSolution = errors.New("scheduler: no timetable found within the time budget")
)

// Solver engine names.
const (
	EngineSAT    = "sat"
	EngineSearch = "search"
)

// NewSolver returns the solver registered under name.
func NewSolver(name string, logger *zap.Logger) (cpmodel.Solver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case EngineSAT, "":
		return satsolver.New(logger), nil
	case EngineSearch:
		return search.New(logger), nil
	}
	return nil, fmt.Errorf("scheduler: unknown engine %q", name)
}

// Options configure one engine.
type Options struct {
	Policy          Policy
	TimeBudget      time.Duration
	OffHoursPenalty int64
	OrderingPenalty int64
	Weights         Weights
	MaxSessionSlots int
	RequireFixed    bool
	Workers         int
	Grid            GridConfig
}

// DefaultOptions returns the flexible policy with a one minute budget.
func DefaultOptions() Options {
	return Options{
		Policy:          PolicyFlexible,
		TimeBudget:      60 * time.Second,
		OffHoursPenalty: 1,
		OrderingPenalty: 1,
		Weights:         DefaultWeights(),
		MaxSessionSlots: DefaultMaxSessionSlots,
		RequireFixed:    true,
		Grid:            DefaultGridConfig(),
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.Policy != PolicyCompact && o.Policy != PolicyFlexible {
		return fmt.Errorf("scheduler: invalid policy %d", o.Policy)
	}
	if o.TimeBudget <= 0 {
		return fmt.Errorf("scheduler: time budget must be positive")
	}
	if o.OffHoursPenalty < 0 || o.OrderingPenalty < 0 {
		return fmt.Errorf("scheduler: penalties must not be negative")
	}
	if o.MaxSessionSlots <= 0 {
		return fmt.Errorf("scheduler: max session slots must be positive")
	}
	if err := o.Weights.Validate(); err != nil {
		return err
	}
	_, err := NewGrid(o.Grid)
	return err
}

// Input is the raw material of one run.
type Input struct {
	Rooms       []models.Room
	Staff       []models.StaffMember
	Assignments []models.StaffAssignment
	Courses     []models.CourseSection
	Fixed       []models.FixedSession
}

// Stats summarises a run.
type Stats struct {
	Tasks         int           `json:"tasks"`
	FixedTasks    int           `json:"fixedTasks"`
	Candidates    int           `json:"candidates"`
	Variables     int           `json:"variables"`
	Constraints   int           `json:"constraints"`
	Objective     int64         `json:"objective"`
	UpperBound    int64         `json:"upperBound"`
	Solver        string        `json:"solver"`
	BuildDuration time.Duration `json:"buildDuration"`
	SolveDuration time.Duration `json:"solveDuration"`
}

// Outcomes distinguishing complete from partial timetables.
const (
	OutcomeAllPlaced = "all_placed"
	OutcomePartial   = "partial"
)

// Result is a solved timetable.
type Result struct {
	Status   cpmodel.Status
	Entries  []models.ScheduleEntry
	Unplaced []models.UnplacedTask
	Stats    Stats
	Warnings []string
}

// ProvenOptimal reports whether the solver proved no better timetable exists.
func (r *Result) ProvenOptimal() bool { return r.Status == cpmodel.StatusOptimal }

// Outcome is OutcomeAllPlaced when nothing was left unplaced.
func (r *Result) Outcome() string {
	if len(r.Unplaced) == 0 {
		return OutcomeAllPlaced
	}
	return OutcomePartial
}

// Engine runs timetabling jobs. It holds no per-run state and is safe for concurrent use.
type Engine struct {
	solver cpmodel.Solver
	opts   Options
	grid   *Grid
	logger *zap.Logger
}

// NewEngine validates opts and binds them to solver.
func NewEngine(solver cpmodel.Solver, opts Options, logger *zap.Logger) (*Engine, error) {
	if solver == nil {
		return nil, errors.New("scheduler: solver is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{solver: solver, opts: opts, grid: MustGrid(opts.Grid), logger: logger}, nil
}

// Options returns the engine configuration.
func (e *Engine) Options() Options { return e.opts }

// Grid returns the engine's time grid.
func (e *Engine) Grid() *Grid { return e.grid }

// Prepare builds the optimisation plan for input without solving it.
func (e *Engine) Prepare(ctx context.Context, input Input) (*Plan, error) {
	inventory, warnings := NewInventory(input.Rooms)
	staff := StaffByCourse(input.Assignments)
	if e.opts.Policy == PolicyFlexible && e.opts.OffHoursPenalty >= e.opts.Weights.Elective {
		warnings = append(warnings, fmt.Sprintf("off-hours penalty %d is not below the elective weight %d: electives are left unplaced rather than placed off-window",
			e.opts.OffHoursPenalty, e.opts.Weights.Elective))
	}

	availability := make(map[string]*Availability, len(input.Staff))
	for _, member := range input.Staff {
		id := strings.TrimSpace(member.ID)
		if id == "" {
			warnings = append(warnings, "staff member without id skipped")
			continue
		}
		parsed, skipped := ParseAvailability(e.grid, member.Unavailable)
		for _, fragment := range skipped {
			warnings = append(warnings, fmt.Sprintf("staff %s: unavailability %q not understood", id, fragment))
		}
		if existing, ok := availability[id]; ok {
			for day := 0; day < e.grid.DayCount(); day++ {
				for _, slot := range parsed.BlockedSlots(day) {
					existing.Block(day, slot, slot+1)
				}
			}
			continue
		}
		availability[id] = parsed
	}

	fixed := LoadFixed(e.grid, inventory, input.Fixed, input.Courses, staff)
	warnings = append(warnings, fixed.Warnings...)

	generated, decomposeWarnings := Decompose(input.Courses, staff, e.opts.MaxSessionSlots)
	warnings = append(warnings, decomposeWarnings...)

	tasks := append([]Task(nil), fixed.Tasks...)
	for _, t := range generated {
		if fixed.Suppresses(t) {
			continue
		}
		tasks = append(tasks, t)
	}
	if len(tasks) == 0 && len(fixed.Invalid) == 0 {
		return nil, ErrEmptyInput
	}
	for _, w := range warnings {
		e.logger.Warn("timetable input skipped", zap.String("detail", w))
	}

	filter := &candidateFilter{
		grid:         e.grid,
		inv:          inventory,
		occupancy:    fixed.Occupancy,
		availability: availability,
		policy:       e.opts.Policy,
	}
	candidates, err := generateCandidates(ctx, filter, tasks, e.opts.Workers)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		grid:       e.grid,
		inventory:  inventory,
		tasks:      tasks,
		candidates: candidates,
		invalid:    fixed.Invalid,
		warnings:   warnings,
		ordering:   orderingPairs(tasks),
	}
	builder := &modelBuilder{
		grid:            e.grid,
		inventory:       inventory,
		weights:         e.opts.Weights,
		offHoursPenalty: e.opts.OffHoursPenalty,
		orderingPenalty: e.opts.OrderingPenalty,
		requireFixed:    e.opts.RequireFixed,
	}
	if err := builder.build(plan); err != nil {
		return nil, fmt.Errorf("scheduler: build model: %w", err)
	}
	return plan, nil
}

// orderingPairs links each section's first lecture block to its lab.
func orderingPairs(tasks []Task) []orderingPair {
	lectures := make(map[string]int)
	labs := make(map[string]int)
	var order []string
	for i, t := range tasks {
		key := t.SectionKey()
		switch t.Kind {
		case models.SessionLecture:
			if t.Part > 1 {
				continue
			}
			if _, ok := lectures[key]; !ok {
				lectures[key] = i
				order = append(order, key)
			}
		case models.SessionLab:
			if _, ok := labs[key]; !ok {
				labs[key] = i
			}
		}
	}
	var pairs []orderingPair
	for _, key := range order {
		if lab, ok := labs[key]; ok {
			pairs = append(pairs, orderingPair{lecture: lectures[key], lab: lab})
		}
	}
	return pairs
}

// Run prepares, solves and extracts a timetable. A run that cannot honour its fixed sessions
// fails with ErrInfeasible; a run whose solver found nothing within budget fails with ErrNoSolution.
func (e *Engine) Run(ctx context.Context, input Input) (*Result, error) {
	started := time.Now()
	plan, err := e.Prepare(ctx, input)
	if err != nil {
		return nil, err
	}
	built := time.Since(started)
	model := plan.Model()

	e.logger.Info("timetable model built",
		zap.Int("tasks", len(plan.tasks)),
		zap.Int("candidates", plan.CandidateCount()),
		zap.Int("variables", model.NumVars()),
		zap.Int("constraints", model.NumConstraints()),
		zap.Duration("duration", built),
	)

	solveCtx, cancel := context.WithTimeout(ctx, e.opts.TimeBudget)
	defer cancel()
	sol, err := e.solver.Solve(solveCtx, model)
	if err != nil {
		return nil, fmt.Errorf("scheduler: solve: %w", err)
	}

	stats := Stats{
		Tasks:         len(plan.tasks),
		Candidates:    plan.CandidateCount(),
		Variables:     model.NumVars(),
		Constraints:   model.NumConstraints(),
		Objective:     sol.Objective,
		UpperBound:    sol.Bound,
		Solver:        e.solver.Name(),
		BuildDuration: built,
		SolveDuration: sol.Duration,
	}
	for _, t := range plan.tasks {
		if t.Fixed() {
			stats.FixedTasks++
		}
	}

	e.logger.Info("timetable solved",
		zap.String("solver", e.solver.Name()),
		zap.String("status", sol.Status.String()),
		zap.Int64("objective", sol.Objective),
		zap.Int64("bound", sol.Bound),
		zap.Duration("duration", sol.Duration),
	)

	switch sol.Status {
	case cpmodel.StatusInfeasible:
		return nil, ErrInfeasible
	case cpmodel.StatusUnknown:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoSolution
	}

	entries, unplaced := plan.Extract(sol)
	return &Result{
		Status:   sol.Status,
		Entries:  entries,
		Unplaced: unplaced,
		Stats:    stats,
		Warnings: plan.Warnings(),
	}, nil
}
