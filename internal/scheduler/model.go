package scheduler

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/noah-isme/timetable-api/internal/cpmodel"
	"github.com/noah-isme/timetable-api/internal/models"
)

// Weights are the objective rewards per placed task, by priority.
type Weights struct {
	Fixed     int64
	Mandatory int64
	Elective  int64
}

// DefaultWeights keeps fixed sessions far above mandatory ones and mandatory above electives.
func DefaultWeights() Weights {
	return Weights{Fixed: 100000, Mandatory: 1000, Elective: 100}
}

// Validate rejects weight sets that do not keep fixed > mandatory > elective > 0.
func (w Weights) Validate() error {
	if w.Elective <= 0 || w.Mandatory <= w.Elective || w.Fixed <= w.Mandatory {
		return fmt.Errorf("scheduler: weights must satisfy fixed > mandatory > elective > 0, got %d/%d/%d", w.Fixed, w.Mandatory, w.Elective)
	}
	return nil
}

func (w Weights) of(p Priority) int64 {
	switch p {
	case PriorityFixed:
		return w.Fixed
	case PriorityMandatory:
		return w.Mandatory
	default:
		return w.Elective
	}
}

// cellTable is a flat arena of variable lists indexed by (owner, day, slot).
type cellTable struct {
	days  int
	slots int
	cells [][]cpmodel.Var
}

func newCellTable(owners, days, slots int) *cellTable {
	return &cellTable{days: days, slots: slots, cells: make([][]cpmodel.Var, owners*days*slots)}
}

func (c *cellTable) add(owner, day, start, duration int, v cpmodel.Var) {
	base := (owner*c.days + day) * c.slots
	for slot := start; slot < start+duration; slot++ {
		c.cells[base+slot] = append(c.cells[base+slot], v)
	}
}

func (c *cellTable) emit(m *cpmodel.Model) int {
	emitted := 0
	for _, vars := range c.cells {
		if len(vars) > 1 {
			m.AddAtMostOne(vars)
			emitted++
		}
	}
	return emitted
}

// Plan is a built model together with the data needed to read a solution back.
type Plan struct {
	grid       *Grid
	inventory  *Inventory
	tasks      []Task
	candidates [][]Candidate
	placed     []cpmodel.Var
	selections [][]cpmodel.Var
	model      *cpmodel.Model
	invalid    []models.UnplacedTask
	warnings   []string
	ordering   []orderingPair
}

type orderingPair struct {
	lecture int
	lab     int
}

// Model exposes the underlying optimisation model.
func (p *Plan) Model() *cpmodel.Model { return p.model }

// Tasks returns every task in the plan, fixed ones first.
func (p *Plan) Tasks() []Task { return p.tasks }

// Candidates returns the candidate placements of task i.
func (p *Plan) Candidates(i int) []Candidate { return p.candidates[i] }

// CandidateCount sums candidates over all tasks.
func (p *Plan) CandidateCount() int {
	total := 0
	for _, c := range p.candidates {
		total += len(c)
	}
	return total
}

// Warnings lists inputs skipped while preparing the plan.
func (p *Plan) Warnings() []string { return p.warnings }

type modelBuilder struct {
	grid            *Grid
	inventory       *Inventory
	weights         Weights
	offHoursPenalty int64
	orderingPenalty int64
	requireFixed    bool
}

// build creates selection and placement variables, the one-per-task groups, the room and staff
// no-double-booking constraints, the objective, and the lecture-before-lab preference.
func (b *modelBuilder) build(plan *Plan) error {
	m := cpmodel.NewModel()
	plan.model = m
	plan.placed = make([]cpmodel.Var, len(plan.tasks))
	plan.selections = make([][]cpmodel.Var, len(plan.tasks))

	staffIDs := lo.Uniq(lo.FlatMap(plan.tasks, func(t Task, _ int) []string { return t.Staff }))
	sort.Strings(staffIDs)
	staffIndex := make(map[string]int, len(staffIDs))
	for i, id := range staffIDs {
		staffIndex[id] = i
	}

	days, slots := b.grid.DayCount(), b.grid.SlotCount()
	roomCells := newCellTable(b.inventory.Len(), days, slots)
	staffCells := newCellTable(len(staffIDs), days, slots)

	for i, t := range plan.tasks {
		plan.placed[i] = -1
		cands := plan.candidates[i]
		if len(cands) == 0 {
			continue
		}
		target := m.NewBool("placed_" + t.ID)
		plan.placed[i] = target
		members := make([]cpmodel.Var, len(cands))
		for j, c := range cands {
			v := m.NewBool(fmt.Sprintf("%s@%s/%d/%d", t.ID, b.inventory.Room(c.Room).ID, c.Day, c.Slot))
			members[j] = v
			if !b.inventory.Room(c.Room).IsVirtual() {
				roomCells.add(c.Room, c.Day, c.Slot, t.Duration, v)
			}
			for _, id := range t.Staff {
				staffCells.add(staffIndex[id], c.Day, c.Slot, t.Duration, v)
			}
			if c.OffHours && !t.Fixed() {
				m.AddObjective(v, -b.offHoursPenalty)
			}
		}
		plan.selections[i] = members
		if err := m.AddExactlyOneIf(target, members); err != nil {
			return err
		}
		m.AddObjective(target, b.weights.of(t.Priority))
		if t.Fixed() && b.requireFixed {
			m.Fix(target, true)
		}
	}

	roomCells.emit(m)
	staffCells.emit(m)

	if b.orderingPenalty > 0 {
		for _, pair := range plan.ordering {
			if plan.placed[pair.lecture] < 0 || plan.placed[pair.lab] < 0 {
				continue
			}
			m.AddPrecedence(b.timed(plan, pair.lecture), b.timed(plan, pair.lab), b.orderingPenalty)
		}
	}
	return m.Validate()
}

func (b *modelBuilder) timed(plan *Plan, task int) []cpmodel.Timed {
	out := make([]cpmodel.Timed, len(plan.candidates[task]))
	for j, c := range plan.candidates[task] {
		out[j] = cpmodel.Timed{Var: plan.selections[task][j], At: c.Day*b.grid.SlotCount() + c.Slot}
	}
	return out
}
