// Package search solves cpmodel models by depth-first branch and bound over selection groups.
// It proves optimality when the tree is exhausted within the deadline.
package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/cpmodel"
)

const defaultCheckEvery = 1024

// Solver is a branch and bound optimiser. Every constrained or weighted variable must be a
// group member, a group target, or pinned.
type Solver struct {
	logger     *zap.Logger
	checkEvery int64
}

// New constructs a branch and bound solver.
func New(logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{logger: logger, checkEvery: defaultCheckEvery}
}

// Name implements cpmodel.Solver.
func (s *Solver) Name() string { return "search" }

type choice struct {
	target   cpmodel.Var
	options  []cpmodel.Var
	required bool
	gain     int64
	maxGain  int64
}

type precedenceState struct {
	penalty int64
	first   []int
	second  []int
	pairs   int
}

type occurrence struct {
	index int
	at    int
	first bool
}

type state struct {
	ctx        context.Context
	model      *cpmodel.Model
	coeffs     []int64
	choices    []choice
	suffix     []int64
	amoOf      [][]int
	amoCount   []int
	precOf     [][]occurrence
	precs      []precedenceState
	values     []bool
	current    int64
	best       []bool
	bestValue  int64
	found      bool
	rootBound  int64
	nodes      int64
	checkEvery int64
	aborted    bool
}

// Solve implements cpmodel.Solver.
func (s *Solver) Solve(ctx context.Context, m *cpmodel.Model) (*cpmodel.Solution, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()
	st, err := newState(ctx, m, s.checkEvery)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		st.aborted = true
	} else {
		st.dfs(0)
	}

	solution := &cpmodel.Solution{Status: cpmodel.StatusUnknown, Bound: m.UpperBound()}
	switch {
	case st.found && !st.aborted:
		solution.Status = cpmodel.StatusOptimal
	case st.found:
		solution.Status = cpmodel.StatusFeasible
	case !st.aborted:
		solution.Status = cpmodel.StatusInfeasible
	}
	if st.found {
		objective, err := m.Evaluate(st.best)
		if err != nil {
			return nil, fmt.Errorf("search: incumbent: %w", err)
		}
		solution.Values = st.best
		solution.Objective = objective
	}
	solution.Duration = time.Since(started)

	s.logger.Debug("branch and bound finished",
		zap.String("status", solution.Status.String()),
		zap.Int64("objective", solution.Objective),
		zap.Int64("nodes", st.nodes),
		zap.Bool("aborted", st.aborted),
	)
	return solution, nil
}

func newState(ctx context.Context, m *cpmodel.Model, checkEvery int64) (*state, error) {
	n := m.NumVars()
	st := &state{
		ctx:        ctx,
		model:      m,
		coeffs:     m.Coefficients(),
		values:     make([]bool, n),
		amoOf:      make([][]int, n),
		amoCount:   make([]int, len(m.AtMostOne())),
		precOf:     make([][]occurrence, n),
		checkEvery: checkEvery,
	}

	referenced := make(map[cpmodel.Var]struct{})
	for i, vars := range m.AtMostOne() {
		for _, v := range vars {
			st.amoOf[v] = append(st.amoOf[v], i)
			referenced[v] = struct{}{}
		}
	}
	for _, term := range m.Objective() {
		referenced[term.Var] = struct{}{}
	}
	for i, p := range m.Precedences() {
		st.precs = append(st.precs, precedenceState{penalty: p.Penalty})
		for _, t := range p.First {
			st.precOf[t.Var] = append(st.precOf[t.Var], occurrence{index: i, at: t.At, first: true})
			referenced[t.Var] = struct{}{}
		}
		for _, t := range p.Second {
			st.precOf[t.Var] = append(st.precOf[t.Var], occurrence{index: i, at: t.At})
			referenced[t.Var] = struct{}{}
		}
	}

	var constant int64
	for v := range referenced {
		if m.InGroup(v) {
			continue
		}
		value, pinned := m.FixedValue(v)
		if !pinned {
			return nil, fmt.Errorf("%w: free variable %s outside any group", cpmodel.ErrUnsupportedModel, m.Name(v))
		}
		if value {
			if len(st.amoOf[v]) > 0 || len(st.precOf[v]) > 0 {
				return nil, fmt.Errorf("%w: pinned variable %s outside any group is constrained", cpmodel.ErrUnsupportedModel, m.Name(v))
			}
			st.values[v] = true
			constant += st.coeffs[v]
		}
	}

	for _, g := range m.Groups() {
		c := choice{target: g.Target}
		targetValue, targetPinned := m.FixedValue(g.Target)
		if targetPinned && !targetValue {
			for _, v := range g.Members {
				if value, ok := m.FixedValue(v); ok && value {
					return nil, fmt.Errorf("%w: group %s is pinned off but has a pinned member", cpmodel.ErrInvalidModel, m.Name(g.Target))
				}
			}
			continue
		}
		c.required = targetPinned && targetValue
		var forced []cpmodel.Var
		for _, v := range g.Members {
			value, ok := m.FixedValue(v)
			switch {
			case ok && value:
				forced = append(forced, v)
			case ok:
			default:
				c.options = append(c.options, v)
			}
		}
		if len(forced) > 0 {
			c.options = forced
			c.required = true
		}
		sort.SliceStable(c.options, func(i, j int) bool {
			return st.coeffs[c.options[i]] > st.coeffs[c.options[j]]
		})
		c.gain = st.coeffs[g.Target]
		best := int64(0)
		if len(c.options) > 0 {
			best = c.gain + st.coeffs[c.options[0]]
		}
		switch {
		case c.required:
			c.maxGain = best
		case best > 0:
			c.maxGain = best
		}
		st.choices = append(st.choices, c)
	}

	sort.SliceStable(st.choices, func(i, j int) bool {
		a, b := st.choices[i], st.choices[j]
		if a.required != b.required {
			return a.required
		}
		if a.gain != b.gain {
			return a.gain > b.gain
		}
		return len(a.options) < len(b.options)
	})

	st.suffix = make([]int64, len(st.choices)+1)
	for i := len(st.choices) - 1; i >= 0; i-- {
		st.suffix[i] = st.suffix[i+1] + st.choices[i].maxGain
	}
	st.current = constant
	st.rootBound = constant + st.suffix[0]
	return st, nil
}

func (st *state) dfs(depth int) {
	if st.aborted {
		return
	}
	st.nodes++
	if st.nodes%st.checkEvery == 0 && st.ctx.Err() != nil {
		st.aborted = true
		return
	}
	if st.found && st.current+st.suffix[depth] <= st.bestValue {
		return
	}
	if depth == len(st.choices) {
		st.record()
		return
	}

	c := st.choices[depth]
	for _, v := range c.options {
		if !st.available(v) {
			continue
		}
		delta := st.coeffs[c.target] + st.coeffs[v]
		st.values[c.target] = true
		penalty := st.take(v)
		st.current += delta - penalty
		st.dfs(depth + 1)
		st.current -= delta - penalty
		st.release(v)
		st.values[c.target] = false
		if st.aborted || st.optimalFound() {
			return
		}
	}
	if !c.required {
		st.dfs(depth + 1)
	}
}

func (st *state) record() {
	if st.found && st.current <= st.bestValue {
		return
	}
	st.found = true
	st.bestValue = st.current
	st.best = append(st.best[:0], st.values...)
}

func (st *state) optimalFound() bool {
	return st.found && st.bestValue >= st.rootBound
}

func (st *state) available(v cpmodel.Var) bool {
	for _, c := range st.amoOf[v] {
		if st.amoCount[c] > 0 {
			return false
		}
	}
	return true
}

// take selects v and returns the penalty newly incurred by precedence constraints.
func (st *state) take(v cpmodel.Var) int64 {
	st.values[v] = true
	for _, c := range st.amoOf[v] {
		st.amoCount[c]++
	}
	var penalty int64
	for _, occ := range st.precOf[v] {
		p := &st.precs[occ.index]
		before := p.pairs
		if occ.first {
			for _, at := range p.second {
				if occ.at >= at {
					p.pairs++
				}
			}
			p.first = append(p.first, occ.at)
		} else {
			for _, at := range p.first {
				if at >= occ.at {
					p.pairs++
				}
			}
			p.second = append(p.second, occ.at)
		}
		if before == 0 && p.pairs > 0 {
			penalty += p.penalty
		}
	}
	return penalty
}

func (st *state) release(v cpmodel.Var) {
	st.values[v] = false
	for _, c := range st.amoOf[v] {
		st.amoCount[c]--
	}
	occs := st.precOf[v]
	for i := len(occs) - 1; i >= 0; i-- {
		occ := occs[i]
		p := &st.precs[occ.index]
		if occ.first {
			p.first = p.first[:len(p.first)-1]
			for _, at := range p.second {
				if occ.at >= at {
					p.pairs--
				}
			}
		} else {
			p.second = p.second[:len(p.second)-1]
			for _, at := range p.first {
				if at >= occ.at {
					p.pairs--
				}
			}
		}
	}
}
