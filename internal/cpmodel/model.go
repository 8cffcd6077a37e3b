// Package cpmodel describes boolean optimisation models: decision variables, selection groups,
// at-most-one constraints, pinned values, a linear objective and soft precedence penalties.
// Solvers implement the Solver interface and are interchangeable.
package cpmodel

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidModel is returned when a model references unknown variables or is malformed.
	ErrInvalidModel = errors.New("cpmodel: invalid model")
	// ErrUnsupportedModel is returned by solvers that cannot handle a model's shape.
	ErrUnsupportedModel = errors.New("cpmodel: unsupported model")
	// ErrViolated is returned by Evaluate when an assignment breaks a hard constraint.
	ErrViolated = errors.New("cpmodel: assignment violates a constraint")
)

// Var identifies a boolean decision variable.
type Var int

// Term is one weighted objective contribution.
type Term struct {
	Var   Var
	Coeff int64
}

// Group ties a target to its members: sum(members) == target.
type Group struct {
	Target  Var
	Members []Var
}

// Timed associates a variable with a point in time used by precedence constraints.
type Timed struct {
	Var Var
	At  int
}

// Precedence is a soft constraint. Whenever a selected First variable is not strictly earlier
// than a selected Second variable the objective is reduced by Penalty.
type Precedence struct {
	First   []Timed
	Second  []Timed
	Penalty int64
}

// Violated reports whether the assignment triggers the precedence penalty.
func (p Precedence) Violated(values []bool) bool {
	for _, a := range p.First {
		if !values[a.Var] {
			continue
		}
		for _, b := range p.Second {
			if values[b.Var] && a.At >= b.At {
				return true
			}
		}
	}
	return false
}

// Model is a maximisation problem over boolean variables.
type Model struct {
	names       []string
	groups      []Group
	atMostOne   [][]Var
	fixed       map[Var]bool
	objective   []Term
	precedences []Precedence
	grouped     map[Var]struct{}
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{
		fixed:   make(map[Var]bool),
		grouped: make(map[Var]struct{}),
	}
}

// NewBool allocates a variable.
func (m *Model) NewBool(name string) Var {
	m.names = append(m.names, name)
	return Var(len(m.names) - 1)
}

// NumVars returns the number of allocated variables.
func (m *Model) NumVars() int { return len(m.names) }

// Name returns the debug name of v.
func (m *Model) Name(v Var) string {
	if int(v) < 0 || int(v) >= len(m.names) {
		return fmt.Sprintf("v%d", v)
	}
	return m.names[v]
}

// AddExactlyOneIf constrains sum(members) == target. A variable may belong to at most one group.
func (m *Model) AddExactlyOneIf(target Var, members []Var) error {
	if len(members) == 0 {
		return fmt.Errorf("%w: group for %s has no members", ErrInvalidModel, m.Name(target))
	}
	all := append([]Var{target}, members...)
	for _, v := range all {
		if !m.valid(v) {
			return fmt.Errorf("%w: unknown variable %d", ErrInvalidModel, v)
		}
		if _, ok := m.grouped[v]; ok {
			return fmt.Errorf("%w: %s already belongs to a group", ErrInvalidModel, m.Name(v))
		}
	}
	for _, v := range all {
		m.grouped[v] = struct{}{}
	}
	m.groups = append(m.groups, Group{Target: target, Members: append([]Var(nil), members...)})
	return nil
}

// AddAtMostOne constrains at most one of vars to be true. Lists shorter than two are ignored.
func (m *Model) AddAtMostOne(vars []Var) {
	if len(vars) < 2 {
		return
	}
	m.atMostOne = append(m.atMostOne, append([]Var(nil), vars...))
}

// Fix pins v to value.
func (m *Model) Fix(v Var, value bool) {
	m.fixed[v] = value
}

// AddObjective adds coeff*v to the maximised objective.
func (m *Model) AddObjective(v Var, coeff int64) {
	if coeff == 0 {
		return
	}
	m.objective = append(m.objective, Term{Var: v, Coeff: coeff})
}

// AddPrecedence registers a soft ordering preference between two sets of timed variables.
func (m *Model) AddPrecedence(first, second []Timed, penalty int64) {
	if penalty <= 0 || len(first) == 0 || len(second) == 0 {
		return
	}
	m.precedences = append(m.precedences, Precedence{
		First:   append([]Timed(nil), first...),
		Second:  append([]Timed(nil), second...),
		Penalty: penalty,
	})
}

func (m *Model) Groups() []Group           { return m.groups }
func (m *Model) AtMostOne() [][]Var        { return m.atMostOne }
func (m *Model) Objective() []Term         { return m.objective }
func (m *Model) Precedences() []Precedence { return m.precedences }

// FixedValue returns the pinned value of v and whether v is pinned.
func (m *Model) FixedValue(v Var) (bool, bool) {
	value, ok := m.fixed[v]
	return value, ok
}

// Fixed returns a copy of the pinned variables.
func (m *Model) Fixed() map[Var]bool {
	out := make(map[Var]bool, len(m.fixed))
	for k, v := range m.fixed {
		out[k] = v
	}
	return out
}

// InGroup reports whether v is a target or member of some group.
func (m *Model) InGroup(v Var) bool {
	_, ok := m.grouped[v]
	return ok
}

// NumConstraints counts every hard and soft constraint in the model.
func (m *Model) NumConstraints() int {
	return len(m.groups) + len(m.atMostOne) + len(m.fixed) + len(m.precedences)
}

// Coefficients returns the aggregated objective coefficient per variable.
func (m *Model) Coefficients() []int64 {
	coeffs := make([]int64, len(m.names))
	for _, term := range m.objective {
		coeffs[term.Var] += term.Coeff
	}
	return coeffs
}

// UpperBound is the objective of an assignment that sets every positively weighted variable
// and no negatively weighted one, ignoring feasibility.
func (m *Model) UpperBound() int64 {
	var bound int64
	for v, c := range m.Coefficients() {
		if value, ok := m.fixed[Var(v)]; ok {
			if value {
				bound += c
			}
			continue
		}
		if c > 0 {
			bound += c
		}
	}
	return bound
}

// Validate checks that every reference points at an allocated variable.
func (m *Model) Validate() error {
	check := func(v Var) error {
		if !m.valid(v) {
			return fmt.Errorf("%w: unknown variable %d", ErrInvalidModel, v)
		}
		return nil
	}
	for _, vars := range m.atMostOne {
		for _, v := range vars {
			if err := check(v); err != nil {
				return err
			}
		}
	}
	for v := range m.fixed {
		if err := check(v); err != nil {
			return err
		}
	}
	for _, term := range m.objective {
		if err := check(term.Var); err != nil {
			return err
		}
	}
	for _, p := range m.precedences {
		for _, t := range append(append([]Timed(nil), p.First...), p.Second...) {
			if err := check(t.Var); err != nil {
				return err
			}
		}
	}
	return nil
}

// Evaluate checks values against every hard constraint and returns the objective.
func (m *Model) Evaluate(values []bool) (int64, error) {
	if len(values) != len(m.names) {
		return 0, fmt.Errorf("%w: expected %d values, got %d", ErrInvalidModel, len(m.names), len(values))
	}
	for v, want := range m.fixed {
		if values[v] != want {
			return 0, fmt.Errorf("%w: %s pinned to %t", ErrViolated, m.Name(v), want)
		}
	}
	for _, g := range m.groups {
		count := 0
		for _, v := range g.Members {
			if values[v] {
				count++
			}
		}
		want := 0
		if values[g.Target] {
			want = 1
		}
		if count != want {
			return 0, fmt.Errorf("%w: group %s selects %d members", ErrViolated, m.Name(g.Target), count)
		}
	}
	for _, vars := range m.atMostOne {
		count := 0
		for _, v := range vars {
			if values[v] {
				count++
			}
		}
		if count > 1 {
			return 0, fmt.Errorf("%w: at-most-one over %d variables has %d set", ErrViolated, len(vars), count)
		}
	}
	var total int64
	for _, term := range m.objective {
		if values[term.Var] {
			total += term.Coeff
		}
	}
	for _, p := range m.precedences {
		if p.Violated(values) {
			total -= p.Penalty
		}
	}
	return total, nil
}

func (m *Model) valid(v Var) bool {
	return int(v) >= 0 && int(v) < len(m.names)
}

// Status is the outcome of a solve.
type Status int

const (
	StatusUnknown Status = iota
	StatusOptimal
	StatusFeasible
	StatusInfeasible
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusFeasible:
		return "feasible"
	case StatusInfeasible:
		return "infeasible"
	default:
		return "unknown"
	}
}

// HasSolution reports whether the status carries an assignment.
func (s Status) HasSolution() bool {
	return s == StatusOptimal || s == StatusFeasible
}

// Solution is a solver answer. Values is nil unless Status.HasSolution.
type Solution struct {
	Status    Status
	Values    []bool
	Objective int64
	Bound     int64
	Duration  time.Duration
}

// Value returns the assignment of v, false when no assignment exists.
func (s *Solution) Value(v Var) bool {
	if s == nil || int(v) < 0 || int(v) >= len(s.Values) {
		return false
	}
	return s.Values[v]
}

// Solver optimises a model. The time budget is taken from the context deadline; solvers
// return the best assignment found when it expires.
type Solver interface {
	Name() string
	Solve(ctx context.Context, m *Model) (*Solution, error)
}
