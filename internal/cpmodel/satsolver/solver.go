// Package satsolver optimises cpmodel models with the gini SAT solver.
package satsolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/z"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/cpmodel"
)

const (
	defaultPollInterval = 5 * time.Millisecond
	pairwiseLimit       = 5
)

// Solver compiles a model to CNF. A greedy pass of assumption probes finds a first incumbent:
// positively weighted variables first, highest weight first, then penalty removal. A weighted
// totalizer over the objective loss then tightens the bound until the solver proves no better
// assignment exists or the deadline passes.
type Solver struct {
	logger       *zap.Logger
	pollInterval time.Duration
}

// New constructs a SAT backed solver.
func New(logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{logger: logger, pollInterval: defaultPollInterval}
}

// Name implements cpmodel.Solver.
func (s *Solver) Name() string { return "sat" }

// Solve implements cpmodel.Solver.
func (s *Solver) Solve(ctx context.Context, m *cpmodel.Model) (*cpmodel.Solution, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()
	enc := newEncoder(m)
	enc.encode()

	solution := &cpmodel.Solution{Status: cpmodel.StatusUnknown, Bound: m.UpperBound()}
	finish := func() *cpmodel.Solution {
		solution.Duration = time.Since(started)
		return solution
	}

	switch s.run(ctx, enc.g) {
	case -1:
		solution.Status = cpmodel.StatusInfeasible
		return finish(), nil
	case 0:
		return finish(), nil
	}

	last := enc.values()
	objective, err := m.Evaluate(last)
	if err != nil {
		return nil, fmt.Errorf("satsolver: base assignment: %w", err)
	}
	solution.Status = cpmodel.StatusFeasible
	solution.Values = last
	solution.Objective = objective

	// offer keeps values when they beat the incumbent.
	offer := func(values []bool) error {
		value, err := m.Evaluate(values)
		if err != nil {
			return fmt.Errorf("satsolver: probe assignment: %w", err)
		}
		if value > solution.Objective {
			solution.Values = values
			solution.Objective = value
		}
		return nil
	}

	coeffs := m.Coefficients()
	complete, err := s.greedy(ctx, enc, coeffs, last, offer)
	if err != nil {
		return nil, err
	}

	proven := solution.Objective == solution.Bound
	if complete && !proven {
		proven, err = s.improve(ctx, enc, coeffs, solution, offer)
		if err != nil {
			return nil, err
		}
	}
	if proven {
		solution.Status = cpmodel.StatusOptimal
	}
	s.logger.Debug("sat solve finished",
		zap.String("status", solution.Status.String()),
		zap.Int64("objective", solution.Objective),
		zap.Int64("bound", solution.Bound),
		zap.Bool("complete", complete),
	)
	return finish(), nil
}

// greedy probes rewards then penalties under a growing list of assumptions. Nothing is asserted
// permanently, so later phases may still undo any greedy choice. It reports false when the
// context ended first.
func (s *Solver) greedy(ctx context.Context, enc *encoder, coeffs []int64, last []bool, offer func([]bool) error) (bool, error) {
	var assumed []z.Lit
	probe := func(l z.Lit) (int, error) {
		res := s.run(ctx, enc.g, append(assumed, l)...)
		if res == 1 {
			last = enc.values()
			if err := offer(last); err != nil {
				return 0, err
			}
		}
		return res, nil
	}

	rewards, penalties := partitionObjective(enc.m, coeffs)
	for _, v := range rewards {
		l := enc.lit(v)
		if last[v] {
			assumed = append(assumed, l)
			continue
		}
		res, err := probe(l)
		if err != nil {
			return false, err
		}
		switch res {
		case 0:
			return false, nil
		case 1:
			assumed = append(assumed, l)
		default:
			assumed = append(assumed, l.Not())
		}
	}

	for _, l := range enc.penaltyProbes(penalties, coeffs) {
		if !enc.holds(l, last) {
			assumed = append(assumed, l.Not())
			continue
		}
		res, err := probe(l.Not())
		if err != nil {
			return false, err
		}
		switch res {
		case 0:
			return false, nil
		case 1:
			assumed = append(assumed, l.Not())
		}
	}
	return true, nil
}

// improve runs a descending search on the weighted loss: each satisfying assignment caps the
// allowed loss strictly below its own until the solver answers unsat. The full loss is the
// bound minus the incumbent objective. It reports whether the incumbent is proven optimal.
// When the full counter is too large it falls back to a counter over the rewards only, which
// can still improve the incumbent but never proves it.
func (s *Solver) improve(ctx context.Context, enc *encoder, coeffs []int64, solution *cpmodel.Solution, offer func([]bool) error) (bool, error) {
	exact := true
	terms := enc.lossTerms(coeffs, false)
	loss := func([]bool) int64 { return solution.Bound - solution.Objective }
	counter, ok := enc.newLossCounter(terms, loss(solution.Values)-1)
	if !ok {
		exact = false
		terms = enc.lossTerms(coeffs, true)
		loss = func(values []bool) int64 { return rewardLoss(enc, terms, values) }
		counter, ok = enc.newLossCounter(terms, loss(solution.Values)-1)
		if !ok {
			s.logger.Debug("sat objective counter too large", zap.Int("terms", len(terms)))
			return false, nil
		}
	}

	for {
		switch s.run(ctx, enc.g) {
		case 0:
			return false, nil
		case -1:
			return exact, nil
		}
		values := enc.values()
		if err := offer(values); err != nil {
			return false, err
		}
		next := loss(values)
		if next <= 0 {
			return exact, nil
		}
		counter.atMost(next - 1)
	}
}

// rewardLoss sums the weights of the reward terms an assignment leaves unset.
func rewardLoss(enc *encoder, terms []lossTerm, values []bool) int64 {
	var total int64
	for _, t := range terms {
		if v, ok := enc.modelVar(t.lit); ok && !values[v] {
			total += t.weight
		}
	}
	return total
}

// holds reports whether l is true in values. Violation literals hold when their precedence is
// broken.
func (e *encoder) holds(l z.Lit, values []bool) bool {
	if v, ok := e.modelVar(l); ok {
		return values[v] == l.IsPos()
	}
	for i, viol := range e.violations {
		if viol == l {
			return e.precedences[i].Violated(values)
		}
	}
	return false
}

// run solves under assumptions until the context ends. It returns 1 (sat), -1 (unsat) or 0.
func (s *Solver) run(ctx context.Context, g *gini.Gini, assumptions ...z.Lit) int {
	if ctx.Err() != nil {
		return 0
	}
	if len(assumptions) > 0 {
		g.Assume(assumptions...)
	}
	solve := g.GoSolve()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		if res, done := solve.Test(); done {
			return res
		}
		select {
		case <-ctx.Done():
			return solve.Stop()
		case <-ticker.C:
		}
	}
}

// partitionObjective orders free positively weighted variables by weight descending and
// free negatively weighted variables by weight ascending.
func partitionObjective(m *cpmodel.Model, coeffs []int64) (rewards, penalties []cpmodel.Var) {
	for i, c := range coeffs {
		v := cpmodel.Var(i)
		if _, pinned := m.FixedValue(v); pinned {
			continue
		}
		switch {
		case c > 0:
			rewards = append(rewards, v)
		case c < 0:
			penalties = append(penalties, v)
		}
	}
	sort.SliceStable(rewards, func(i, j int) bool { return coeffs[rewards[i]] > coeffs[rewards[j]] })
	sort.SliceStable(penalties, func(i, j int) bool { return coeffs[penalties[i]] < coeffs[penalties[j]] })
	return rewards, penalties
}
