package satsolver

import (
	"context"
	"testing"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/z"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/cpmodel"
	"github.com/noah-isme/timetable-api/internal/cpmodel/cpmodeltest"
)

func TestSolverSuite(t *testing.T) {
	cpmodeltest.Run(t, New(zap.NewNop()))
}

func TestAtMostOneSequentialCounter(t *testing.T) {
	m := cpmodel.NewModel()
	vars := make([]cpmodel.Var, 8)
	for i := range vars {
		vars[i] = m.NewBool("x")
	}
	enc := newEncoder(m)
	lits := make([]z.Lit, len(vars))
	for i, v := range vars {
		lits[i] = enc.lit(v)
	}
	enc.atMostOne(lits)

	enc.g.Assume(lits[2], lits[6])
	assert.Equal(t, -1, enc.g.Solve())

	enc.g.Assume(lits[5])
	require.Equal(t, 1, enc.g.Solve())
	for i, l := range lits {
		assert.Equal(t, i == 5, enc.g.Value(l))
	}
}

func TestPrecedenceEncodingForcesViolation(t *testing.T) {
	m := cpmodel.NewModel()
	first := m.NewBool("first@4")
	second := m.NewBool("second@4")
	m.AddPrecedence([]cpmodel.Timed{{Var: first, At: 4}}, []cpmodel.Timed{{Var: second, At: 4}}, 3)

	enc := newEncoder(m)
	enc.encode()
	require.Len(t, enc.violations, 1)

	enc.g.Assume(enc.lit(first), enc.lit(second), enc.violations[0].Not())
	assert.Equal(t, -1, enc.g.Solve())

	enc.g.Assume(enc.lit(first), enc.violations[0].Not())
	assert.Equal(t, 1, enc.g.Solve())
}

func TestSolverProvesOptimumBelowBound(t *testing.T) {
	// Two tasks compete for one slot; the bound counts both, the loss counter proves one is best.
	m := cpmodel.NewModel()
	a := m.NewBool("a")
	b := m.NewBool("b")
	a1 := m.NewBool("a@slot")
	b1 := m.NewBool("b@slot")
	require.NoError(t, m.AddExactlyOneIf(a, []cpmodel.Var{a1}))
	require.NoError(t, m.AddExactlyOneIf(b, []cpmodel.Var{b1}))
	m.AddAtMostOne([]cpmodel.Var{a1, b1})
	m.AddObjective(a, 10)
	m.AddObjective(b, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sol, err := New(nil).Solve(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, cpmodel.StatusOptimal, sol.Status)
	assert.Equal(t, int64(10), sol.Objective)
	assert.Equal(t, int64(20), sol.Bound)
}

func TestLossCounterBoundsWeightedSum(t *testing.T) {
	m := cpmodel.NewModel()
	a := m.NewBool("a")
	b := m.NewBool("b")
	c := m.NewBool("c")
	enc := newEncoder(m)
	enc.encode()
	terms := []lossTerm{
		{lit: enc.lit(a), weight: 30},
		{lit: enc.lit(b), weight: 20},
		{lit: enc.lit(c), weight: 20},
	}

	counter, ok := enc.newLossCounter(terms, 45)
	require.True(t, ok)
	assert.Equal(t, int64(10), counter.unit)

	enc.g.Assume(enc.lit(a), enc.lit(b))
	assert.Equal(t, -1, enc.g.Solve())
	enc.g.Assume(enc.lit(b), enc.lit(c))
	assert.Equal(t, 1, enc.g.Solve())

	counter.atMost(39)
	enc.g.Assume(enc.lit(b), enc.lit(c))
	assert.Equal(t, -1, enc.g.Solve())
	enc.g.Assume(enc.lit(a))
	require.Equal(t, 1, enc.g.Solve())
	assert.False(t, enc.g.Value(enc.lit(b)))
	assert.False(t, enc.g.Value(enc.lit(c)))
}

func TestLossCounterRejectsEmptyTerms(t *testing.T) {
	enc := newEncoder(cpmodel.NewModel())
	_, ok := enc.newLossCounter(nil, 10)
	assert.False(t, ok)
}

func TestGreedyLeavesChoicesRevocable(t *testing.T) {
	// The greedy pass takes the wide task first; the search must still reach the two narrow ones.
	m := cpmodel.NewModel()
	wide := m.NewBool("wide")
	left := m.NewBool("left")
	right := m.NewBool("right")
	w1 := m.NewBool("wide@slot")
	l1 := m.NewBool("left@slot")
	r1 := m.NewBool("right@slot")
	require.NoError(t, m.AddExactlyOneIf(wide, []cpmodel.Var{w1}))
	require.NoError(t, m.AddExactlyOneIf(left, []cpmodel.Var{l1}))
	require.NoError(t, m.AddExactlyOneIf(right, []cpmodel.Var{r1}))
	m.AddAtMostOne([]cpmodel.Var{w1, l1})
	m.AddAtMostOne([]cpmodel.Var{w1, r1})
	m.AddObjective(wide, 1000)
	m.AddObjective(left, 1000)
	m.AddObjective(right, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sol, err := New(nil).Solve(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, cpmodel.StatusOptimal, sol.Status)
	assert.Equal(t, int64(2000), sol.Objective)
	assert.False(t, sol.Value(wide))
	assert.True(t, sol.Value(left))
	assert.True(t, sol.Value(right))
}

func TestRunHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 0, New(nil).run(ctx, gini.New()))
}
