package satsolver

import (
	"sort"

	"github.com/go-air/gini/z"

	"github.com/noah-isme/timetable-api/internal/cpmodel"
)

// maxCounterClauses caps the size of a weighted loss counter.
const maxCounterClauses = 1 << 20

// lossTerm is a literal that costs weight when true.
type lossTerm struct {
	lit    z.Lit
	weight int64
}

// lossTerms rewrites the objective as bound minus the weighted sum of true loss literals:
// an unset reward, a set penalty or a triggered precedence.
func (e *encoder) lossTerms(coeffs []int64, rewardsOnly bool) []lossTerm {
	var terms []lossTerm
	for i, c := range coeffs {
		v := cpmodel.Var(i)
		if _, pinned := e.m.FixedValue(v); pinned {
			continue
		}
		switch {
		case c > 0:
			terms = append(terms, lossTerm{lit: e.lit(v).Not(), weight: c})
		case c < 0 && !rewardsOnly:
			terms = append(terms, lossTerm{lit: e.lit(v), weight: -c})
		}
	}
	if rewardsOnly {
		return terms
	}
	for i, viol := range e.violations {
		terms = append(terms, lossTerm{lit: viol, weight: e.precedences[i].Penalty})
	}
	return terms
}

// sumNode is a generalized totalizer node. lits[i] is implied whenever the weighted sum of the
// leaves below reaches vals[i]; sums above the limit share the last value.
type sumNode struct {
	vals        []int64
	lits        []z.Lit
	left, right *sumNode
}

// lossCounter bounds the total loss of a set of terms from above.
type lossCounter struct {
	enc  *encoder
	unit int64
	root *sumNode
}

// newLossCounter encodes a totalizer over terms able to express loss <= limit. It returns
// false without touching the solver when the encoding would exceed maxCounterClauses.
func (e *encoder) newLossCounter(terms []lossTerm, limit int64) (*lossCounter, bool) {
	if len(terms) == 0 || limit < 0 {
		return nil, false
	}
	unit := terms[0].weight
	for _, t := range terms[1:] {
		unit = gcd(unit, t.weight)
	}
	sorted := append([]lossTerm(nil), terms...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].weight > sorted[j].weight })

	ceiling := limit / unit
	leaves := make([]*sumNode, len(sorted))
	for i, t := range sorted {
		leaves[i] = &sumNode{vals: []int64{clamp(t.weight/unit, ceiling)}, lits: []z.Lit{t.lit}}
	}
	budget := maxCounterClauses
	root := planSum(leaves, ceiling, &budget)
	if root == nil {
		return nil, false
	}
	e.emitSum(root, ceiling)
	c := &lossCounter{enc: e, unit: unit, root: root}
	c.atMost(limit)
	return c, true
}

// atMost forbids every total above limit.
func (c *lossCounter) atMost(limit int64) {
	k := limit / c.unit
	for i, v := range c.root.vals {
		if v > k {
			c.enc.unit(c.root.lits[i].Not())
		}
	}
}

func planSum(nodes []*sumNode, ceiling int64, budget *int) *sumNode {
	if len(nodes) == 1 {
		return nodes[0]
	}
	mid := len(nodes) / 2
	left := planSum(nodes[:mid], ceiling, budget)
	if left == nil {
		return nil
	}
	right := planSum(nodes[mid:], ceiling, budget)
	if right == nil {
		return nil
	}
	*budget -= len(left.vals)*len(right.vals) + len(left.vals) + len(right.vals)
	if *budget < 0 {
		return nil
	}

	seen := make(map[int64]struct{}, len(left.vals)+len(right.vals))
	add := func(v int64) { seen[clamp(v, ceiling)] = struct{}{} }
	for _, a := range left.vals {
		add(a)
		for _, b := range right.vals {
			add(a + b)
		}
	}
	for _, b := range right.vals {
		add(b)
	}
	vals := make([]int64, 0, len(seen))
	for v := range seen {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	return &sumNode{vals: vals, left: left, right: right}
}

// emitSum allocates output literals bottom up and adds the upward implications.
func (e *encoder) emitSum(n *sumNode, ceiling int64) {
	if n.left == nil {
		return
	}
	e.emitSum(n.left, ceiling)
	e.emitSum(n.right, ceiling)

	index := make(map[int64]int, len(n.vals))
	n.lits = make([]z.Lit, len(n.vals))
	for i, v := range n.vals {
		n.lits[i] = e.fresh()
		index[v] = i
	}
	out := func(v int64) z.Lit { return n.lits[index[clamp(v, ceiling)]] }
	for i, a := range n.left.vals {
		e.clause(n.left.lits[i].Not(), out(a))
		for j, b := range n.right.vals {
			e.clause(n.left.lits[i].Not(), n.right.lits[j].Not(), out(a+b))
		}
	}
	for j, b := range n.right.vals {
		e.clause(n.right.lits[j].Not(), out(b))
	}
}

// clamp folds every value above ceiling into ceiling+1.
func clamp(v, ceiling int64) int64 {
	if v > ceiling {
		return ceiling + 1
	}
	return v
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
