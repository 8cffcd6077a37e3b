package cpmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelEvaluate(t *testing.T) {
	m := NewModel()
	target := m.NewBool("placed")
	a := m.NewBool("a")
	b := m.NewBool("b")
	require.NoError(t, m.AddExactlyOneIf(target, []Var{a, b}))
	m.AddObjective(target, 10)
	m.AddObjective(b, -1)

	value, err := m.Evaluate([]bool{true, true, false})
	require.NoError(t, err)
	assert.Equal(t, int64(10), value)

	value, err = m.Evaluate([]bool{true, false, true})
	require.NoError(t, err)
	assert.Equal(t, int64(9), value)

	_, err = m.Evaluate([]bool{true, true, true})
	assert.ErrorIs(t, err, ErrViolated)

	_, err = m.Evaluate([]bool{false, true, false})
	assert.ErrorIs(t, err, ErrViolated)

	assert.Equal(t, int64(10), m.UpperBound())
}

func TestModelGroupMembershipIsExclusive(t *testing.T) {
	m := NewModel()
	t1 := m.NewBool("t1")
	t2 := m.NewBool("t2")
	shared := m.NewBool("shared")
	require.NoError(t, m.AddExactlyOneIf(t1, []Var{shared}))
	err := m.AddExactlyOneIf(t2, []Var{shared})
	assert.ErrorIs(t, err, ErrInvalidModel)
	assert.ErrorIs(t, m.AddExactlyOneIf(t2, nil), ErrInvalidModel)
}

func TestModelAtMostOneAndFix(t *testing.T) {
	m := NewModel()
	a := m.NewBool("a")
	b := m.NewBool("b")
	m.AddAtMostOne([]Var{a, b})
	m.AddAtMostOne([]Var{a})
	m.Fix(a, true)

	assert.Len(t, m.AtMostOne(), 1)
	assert.Equal(t, 2, m.NumConstraints())

	_, err := m.Evaluate([]bool{true, true})
	assert.ErrorIs(t, err, ErrViolated)
	_, err = m.Evaluate([]bool{false, false})
	assert.ErrorIs(t, err, ErrViolated)
	_, err = m.Evaluate([]bool{true, false})
	assert.NoError(t, err)
}

func TestPrecedenceViolated(t *testing.T) {
	m := NewModel()
	early := m.NewBool("lec@1")
	late := m.NewBool("lec@5")
	lab := m.NewBool("lab@3")
	m.AddPrecedence([]Timed{{Var: early, At: 1}, {Var: late, At: 5}}, []Timed{{Var: lab, At: 3}}, 4)
	m.AddPrecedence(nil, []Timed{{Var: lab, At: 3}}, 4)
	require.Len(t, m.Precedences(), 1)

	p := m.Precedences()[0]
	assert.False(t, p.Violated([]bool{true, false, true}))
	assert.True(t, p.Violated([]bool{false, true, true}))
	assert.False(t, p.Violated([]bool{false, true, false}))

	value, err := m.Evaluate([]bool{false, true, true})
	require.NoError(t, err)
	assert.Equal(t, int64(-4), value)
}

func TestModelValidateRejectsUnknownVariables(t *testing.T) {
	m := NewModel()
	m.NewBool("a")
	m.AddObjective(Var(7), 1)
	assert.ErrorIs(t, m.Validate(), ErrInvalidModel)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "optimal", StatusOptimal.String())
	assert.Equal(t, "unknown", Status(42).String())
	assert.True(t, StatusFeasible.HasSolution())
	assert.False(t, StatusInfeasible.HasSolution())

	var missing *Solution
	assert.False(t, missing.Value(0))
}
