package satsolver

import (
	"sort"

	"github.com/go-air/gini"
	"github.com/go-air/gini/z"

	"github.com/noah-isme/timetable-api/internal/cpmodel"
)

// encoder owns the CNF translation of one model. Model variable v maps to solver variable v+1;
// auxiliary variables are allocated above NumVars.
type encoder struct {
	m           *cpmodel.Model
	g           *gini.Gini
	next        z.Var
	precedences []cpmodel.Precedence
	violations  []z.Lit
}

func newEncoder(m *cpmodel.Model) *encoder {
	return &encoder{
		m:    m,
		g:    gini.New(),
		next: z.Var(m.NumVars() + 1),
	}
}

func (e *encoder) lit(v cpmodel.Var) z.Lit {
	return z.Var(int(v) + 1).Pos()
}

func (e *encoder) modelVar(l z.Lit) (cpmodel.Var, bool) {
	idx := int(l.Var()) - 1
	if idx < 0 || idx >= e.m.NumVars() {
		return 0, false
	}
	return cpmodel.Var(idx), true
}

func (e *encoder) fresh() z.Lit {
	v := e.next
	e.next++
	return v.Pos()
}

func (e *encoder) clause(lits ...z.Lit) {
	for _, l := range lits {
		e.g.Add(l)
	}
	e.g.Add(z.LitNull)
}

func (e *encoder) unit(l z.Lit) {
	e.clause(l)
}

func (e *encoder) encode() {
	// Every variable appears at least once so the solver reports a value for it.
	for i := 0; i < e.m.NumVars(); i++ {
		l := e.lit(cpmodel.Var(i))
		e.clause(l, l.Not())
	}
	for v, value := range e.m.Fixed() {
		if value {
			e.unit(e.lit(v))
		} else {
			e.unit(e.lit(v).Not())
		}
	}
	for _, group := range e.m.Groups() {
		target := e.lit(group.Target)
		members := make([]z.Lit, len(group.Members))
		for i, v := range group.Members {
			members[i] = e.lit(v)
			e.clause(members[i].Not(), target)
		}
		e.clause(append([]z.Lit{target.Not()}, members...)...)
		e.atMostOne(members)
	}
	for _, vars := range e.m.AtMostOne() {
		lits := make([]z.Lit, len(vars))
		for i, v := range vars {
			lits[i] = e.lit(v)
		}
		e.atMostOne(lits)
	}
	for _, p := range e.m.Precedences() {
		e.precedences = append(e.precedences, p)
		e.violations = append(e.violations, e.precedence(p))
	}
}

// atMostOne uses pairwise clauses for short lists and a sequential counter otherwise.
func (e *encoder) atMostOne(lits []z.Lit) {
	n := len(lits)
	if n < 2 {
		return
	}
	if n <= pairwiseLimit {
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				e.clause(lits[i].Not(), lits[j].Not())
			}
		}
		return
	}
	counter := make([]z.Lit, n-1)
	for i := range counter {
		counter[i] = e.fresh()
	}
	e.clause(lits[0].Not(), counter[0])
	for i := 1; i < n-1; i++ {
		e.clause(lits[i].Not(), counter[i])
		e.clause(counter[i-1].Not(), counter[i])
		e.clause(lits[i].Not(), counter[i-1].Not())
	}
	e.clause(lits[n-1].Not(), counter[n-2].Not())
}

// precedence returns a literal forced true whenever the ordering is violated. Second-set
// selections are order-encoded over their distinct times: le[k] holds when some selected
// Second variable sits at or before times[k].
func (e *encoder) precedence(p cpmodel.Precedence) z.Lit {
	viol := e.fresh()

	times := make([]int, 0, len(p.Second))
	seen := make(map[int]struct{}, len(p.Second))
	for _, t := range p.Second {
		if _, ok := seen[t.At]; ok {
			continue
		}
		seen[t.At] = struct{}{}
		times = append(times, t.At)
	}
	sort.Ints(times)

	le := make([]z.Lit, len(times))
	index := make(map[int]int, len(times))
	for k, at := range times {
		le[k] = e.fresh()
		index[at] = k
		if k > 0 {
			e.clause(le[k-1].Not(), le[k])
		}
	}
	for _, t := range p.Second {
		e.clause(e.lit(t.Var).Not(), le[index[t.At]])
	}
	for _, t := range p.First {
		// Largest k with times[k] <= t.At.
		k := sort.SearchInts(times, t.At+1) - 1
		if k < 0 {
			continue
		}
		e.clause(e.lit(t.Var).Not(), le[k].Not(), viol)
	}
	return viol
}

// values projects the last satisfying assignment onto the model variables.
func (e *encoder) values() []bool {
	out := make([]bool, e.m.NumVars())
	for i := range out {
		out[i] = e.g.Value(e.lit(cpmodel.Var(i)))
	}
	return out
}

type weightedProbe struct {
	lit    z.Lit
	weight int64
}

// penaltyProbes lists penalty carrying literals, heaviest first.
func (e *encoder) penaltyProbes(penalties []cpmodel.Var, coeffs []int64) []z.Lit {
	probes := make([]weightedProbe, 0, len(penalties)+len(e.violations))
	for _, v := range penalties {
		probes = append(probes, weightedProbe{lit: e.lit(v), weight: -coeffs[v]})
	}
	for i, viol := range e.violations {
		probes = append(probes, weightedProbe{lit: viol, weight: e.precedences[i].Penalty})
	}
	sort.SliceStable(probes, func(i, j int) bool { return probes[i].weight > probes[j].weight })
	out := make([]z.Lit, len(probes))
	for i, p := range probes {
		out[i] = p.lit
	}
	return out
}
