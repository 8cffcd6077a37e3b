// Package cpmodeltest holds behaviour checks shared by every cpmodel.Solver implementation.
package cpmodeltest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/cpmodel"
)

// Run exercises solver against small models with known optima.
func Run(t *testing.T, solver cpmodel.Solver) {
	t.Helper()

	t.Run("prefers heavier group under contention", func(t *testing.T) {
		m := cpmodel.NewModel()
		heavy := m.NewBool("heavy")
		light := m.NewBool("light")
		h1 := m.NewBool("heavy@room")
		l1 := m.NewBool("light@room")
		require.NoError(t, m.AddExactlyOneIf(heavy, []cpmodel.Var{h1}))
		require.NoError(t, m.AddExactlyOneIf(light, []cpmodel.Var{l1}))
		m.AddAtMostOne([]cpmodel.Var{h1, l1})
		m.AddObjective(heavy, 1000)
		m.AddObjective(light, 100)

		sol := solve(t, solver, m)
		require.True(t, sol.Status.HasSolution())
		assert.True(t, sol.Value(heavy))
		assert.False(t, sol.Value(light))
		assert.Equal(t, int64(1000), sol.Objective)
	})

	t.Run("pinned group displaces optional one", func(t *testing.T) {
		m := cpmodel.NewModel()
		pinned := m.NewBool("pinned")
		other := m.NewBool("other")
		p1 := m.NewBool("pinned@slot")
		o1 := m.NewBool("other@slot")
		o2 := m.NewBool("other@later")
		require.NoError(t, m.AddExactlyOneIf(pinned, []cpmodel.Var{p1}))
		require.NoError(t, m.AddExactlyOneIf(other, []cpmodel.Var{o1, o2}))
		m.Fix(pinned, true)
		m.AddAtMostOne([]cpmodel.Var{p1, o1})
		m.AddObjective(pinned, 100000)
		m.AddObjective(other, 1000)

		sol := solve(t, solver, m)
		require.Equal(t, cpmodel.StatusOptimal, sol.Status)
		assert.True(t, sol.Value(p1))
		assert.False(t, sol.Value(o1))
		assert.True(t, sol.Value(o2))
		assert.Equal(t, int64(101000), sol.Objective)
	})

	t.Run("conflicting pins are infeasible", func(t *testing.T) {
		m := cpmodel.NewModel()
		a := m.NewBool("a")
		b := m.NewBool("b")
		a1 := m.NewBool("a@slot")
		b1 := m.NewBool("b@slot")
		require.NoError(t, m.AddExactlyOneIf(a, []cpmodel.Var{a1}))
		require.NoError(t, m.AddExactlyOneIf(b, []cpmodel.Var{b1}))
		m.Fix(a, true)
		m.Fix(b, true)
		m.AddAtMostOne([]cpmodel.Var{a1, b1})

		sol := solve(t, solver, m)
		assert.Equal(t, cpmodel.StatusInfeasible, sol.Status)
		assert.Nil(t, sol.Values)
	})

	t.Run("avoids penalised members when an equal alternative exists", func(t *testing.T) {
		m := cpmodel.NewModel()
		task := m.NewBool("task")
		offHours := m.NewBool("task@08:30")
		inWindow := m.NewBool("task@10:00")
		require.NoError(t, m.AddExactlyOneIf(task, []cpmodel.Var{offHours, inWindow}))
		m.AddObjective(task, 1000)
		m.AddObjective(offHours, -1)

		sol := solve(t, solver, m)
		require.Equal(t, cpmodel.StatusOptimal, sol.Status)
		assert.True(t, sol.Value(inWindow))
		assert.False(t, sol.Value(offHours))
		assert.Equal(t, int64(1000), sol.Objective)
	})

	t.Run("soft precedence steers ordering without blocking placement", func(t *testing.T) {
		m := cpmodel.NewModel()
		lec := m.NewBool("lec")
		lab := m.NewBool("lab")
		lecEarly := m.NewBool("lec@2")
		lecLate := m.NewBool("lec@8")
		labMid := m.NewBool("lab@5")
		require.NoError(t, m.AddExactlyOneIf(lec, []cpmodel.Var{lecLate, lecEarly}))
		require.NoError(t, m.AddExactlyOneIf(lab, []cpmodel.Var{labMid}))
		m.AddObjective(lec, 1000)
		m.AddObjective(lab, 1000)
		m.AddPrecedence(
			[]cpmodel.Timed{{Var: lecEarly, At: 2}, {Var: lecLate, At: 8}},
			[]cpmodel.Timed{{Var: labMid, At: 5}},
			1,
		)

		sol := solve(t, solver, m)
		assert.True(t, sol.Status.HasSolution())
		assert.True(t, sol.Value(lecEarly))
		assert.True(t, sol.Value(labMid))
		assert.Equal(t, int64(2000), sol.Objective)

		// Only the late option remains: both sessions still placed, penalty paid.
		m.Fix(lecEarly, false)
		sol = solve(t, solver, m)
		assert.True(t, sol.Status.HasSolution())
		assert.True(t, sol.Value(lecLate))
		assert.True(t, sol.Value(labMid))
		assert.Equal(t, int64(1999), sol.Objective)
	})

	t.Run("chain of groups sharing resources", func(t *testing.T) {
		// Three tasks, three rooms; task i fits rooms i and i+1 only.
		m := cpmodel.NewModel()
		rooms := make([][]cpmodel.Var, 3)
		for i := 0; i < 3; i++ {
			target := m.NewBool("task")
			var members []cpmodel.Var
			for r := i; r < i+2 && r < 3; r++ {
				v := m.NewBool("task@room")
				members = append(members, v)
				rooms[r] = append(rooms[r], v)
			}
			require.NoError(t, m.AddExactlyOneIf(target, members))
			m.AddObjective(target, 10)
		}
		for _, vars := range rooms {
			m.AddAtMostOne(vars)
		}

		sol := solve(t, solver, m)
		require.Equal(t, cpmodel.StatusOptimal, sol.Status)
		assert.Equal(t, int64(30), sol.Objective)
		_, err := m.Evaluate(sol.Values)
		assert.NoError(t, err)
	})

	t.Run("escapes a first choice that blocks two tasks", func(t *testing.T) {
		// A needs staff X and Y, B needs X, C needs Y; all share one slot.
		sol, m, tasks := sharedStaff(t, solver, 1000, 1000)
		require.Equal(t, cpmodel.StatusOptimal, sol.Status)
		assert.Equal(t, int64(2000), sol.Objective)
		assert.False(t, sol.Value(tasks[0]))
		assert.True(t, sol.Value(tasks[1]))
		assert.True(t, sol.Value(tasks[2]))
		_, err := m.Evaluate(sol.Values)
		assert.NoError(t, err)
	})

	t.Run("heavier task yields to two lighter ones worth more", func(t *testing.T) {
		sol, _, tasks := sharedStaff(t, solver, 1500, 1000)
		require.Equal(t, cpmodel.StatusOptimal, sol.Status)
		assert.Equal(t, int64(2000), sol.Objective)
		assert.False(t, sol.Value(tasks[0]))
	})

	t.Run("heavier task kept when it outweighs both", func(t *testing.T) {
		sol, _, tasks := sharedStaff(t, solver, 2500, 1000)
		require.Equal(t, cpmodel.StatusOptimal, sol.Status)
		assert.Equal(t, int64(2500), sol.Objective)
		assert.True(t, sol.Value(tasks[0]))
	})

	t.Run("cancelled context yields no assignment", func(t *testing.T) {
		m := cpmodel.NewModel()
		task := m.NewBool("task")
		slot := m.NewBool("task@slot")
		require.NoError(t, m.AddExactlyOneIf(task, []cpmodel.Var{slot}))
		m.AddObjective(task, 1)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sol, err := solver.Solve(ctx, m)
		require.NoError(t, err)
		assert.NotEqual(t, cpmodel.StatusOptimal, sol.Status)
		assert.NotEqual(t, cpmodel.StatusInfeasible, sol.Status)
	})
}

func solve(t *testing.T, solver cpmodel.Solver, m *cpmodel.Model) *cpmodel.Solution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sol, err := solver.Solve(ctx, m)
	require.NoError(t, err)
	require.NotNil(t, sol)
	return sol
}

// sharedStaff builds three tasks with one candidate each. The first conflicts with both others,
// which are compatible with each other. It returns the solution, the model and the task targets.
func sharedStaff(t *testing.T, solver cpmodel.Solver, wideWeight, narrowWeight int64) (*cpmodel.Solution, *cpmodel.Model, []cpmodel.Var) {
	t.Helper()
	m := cpmodel.NewModel()
	tasks := make([]cpmodel.Var, 3)
	slots := make([]cpmodel.Var, 3)
	for i, name := range []string{"A", "B", "C"} {
		tasks[i] = m.NewBool(name)
		slots[i] = m.NewBool(name + "@mon-09:00")
		require.NoError(t, m.AddExactlyOneIf(tasks[i], []cpmodel.Var{slots[i]}))
	}
	m.AddAtMostOne([]cpmodel.Var{slots[0], slots[1]})
	m.AddAtMostOne([]cpmodel.Var{slots[0], slots[2]})
	m.AddObjective(tasks[0], wideWeight)
	m.AddObjective(tasks[1], narrowWeight)
	m.AddObjective(tasks[2], narrowWeight)
	return solve(t, solver, m), m, tasks
}
