package plan

import (
	"sort"

	"github.com/xiyu1984/halo2-solidity-verifier/protocol"
)

// Query identifies one polynomial opening: which polynomial, at which
// rotation of the evaluation point. Sub distinguishes sigma polynomials
// within a permutation group; it is zero elsewhere.
type Query struct {
	Kind     protocol.ColumnKind
	Index    int
	Sub      int
	Rotation int
}

// queryPlan is the deduplicated opening set in canonical order (polynomial
// first, rotation second), plus the distinct evaluation rotations in first-
// appearance order. Duplicate (polynomial, rotation) pairs from different
// gates collapse to one query; an unmerged duplicate would be weighted twice
// by the random linear combination and break the batched check.
type queryPlan struct {
	queries []Query

	// rotations holds the distinct opening rotations; each one becomes a
	// point x*omega^rot and one opening witness in the proof.
	rotations []int

	// instanceRefs are the (column, rotation) pairs of instance columns
	// referenced by gates. Instance openings are computed from public
	// values, not claimed, so they are not queries.
	instanceRefs []Query
}

// newQueryPlan derives the opening set from the protocol's rotation
// structure.
func newQueryPlan(p *protocol.Protocol) *queryPlan {
	adviceRots := make(map[int]map[int]struct{})
	fixedRots := make(map[int]map[int]struct{})
	instanceRots := make(map[int]map[int]struct{})

	note := func(m map[int]map[int]struct{}, index, rot int) {
		if m[index] == nil {
			m[index] = make(map[int]struct{})
		}
		m[index][rot] = struct{}{}
	}
	noteRef := func(kind protocol.ColumnKind, index, rot int) {
		switch kind {
		case protocol.Advice:
			note(adviceRots, index, rot)
		case protocol.Fixed:
			note(fixedRots, index, rot)
		case protocol.Instance:
			note(instanceRots, index, rot)
		}
	}

	forEachExpr(p, func(e protocol.Expression) {
		if q, ok := e.(protocol.ColumnQuery); ok {
			noteRef(q.Kind, q.Index, q.Rotation)
		}
	})
	for _, g := range p.Permutations {
		for _, c := range g.Columns {
			noteRef(c.Kind, c.Index, 0)
		}
	}

	qp := &queryPlan{}
	sortedRots := func(m map[int]struct{}) []int {
		out := make([]int, 0, len(m))
		for r := range m {
			out = append(out, r)
		}
		sort.Ints(out)
		return out
	}

	for i := 0; i < p.NumAdvice; i++ {
		for _, r := range sortedRots(adviceRots[i]) {
			qp.queries = append(qp.queries, Query{Kind: protocol.Advice, Index: i, Rotation: r})
		}
	}
	for i := 0; i < p.NumFixed; i++ {
		for _, r := range sortedRots(fixedRots[i]) {
			qp.queries = append(qp.queries, Query{Kind: protocol.Fixed, Index: i, Rotation: r})
		}
	}
	for g := range p.Permutations {
		for s := range p.Permutations[g].Sigmas {
			qp.queries = append(qp.queries, Query{Kind: protocol.AuxPermutation, Index: g, Sub: s})
		}
	}
	for g := range p.Permutations {
		qp.queries = append(qp.queries,
			Query{Kind: protocol.AuxPermutationZ, Index: g, Rotation: 0},
			Query{Kind: protocol.AuxPermutationZ, Index: g, Rotation: 1},
		)
	}
	for l := range p.Lookups {
		qp.queries = append(qp.queries,
			Query{Kind: protocol.AuxLookupInput, Index: l, Rotation: -1},
			Query{Kind: protocol.AuxLookupInput, Index: l, Rotation: 0},
			Query{Kind: protocol.AuxLookupTable, Index: l, Rotation: 0},
			Query{Kind: protocol.AuxLookupZ, Index: l, Rotation: 0},
			Query{Kind: protocol.AuxLookupZ, Index: l, Rotation: 1},
		)
	}
	qp.queries = append(qp.queries, Query{Kind: protocol.AuxQuotient})

	seen := make(map[int]struct{})
	for _, q := range qp.queries {
		if _, ok := seen[q.Rotation]; !ok {
			seen[q.Rotation] = struct{}{}
			qp.rotations = append(qp.rotations, q.Rotation)
		}
	}

	for i := 0; i < p.NumInstanceColumns; i++ {
		for _, r := range sortedRots(instanceRots[i]) {
			qp.instanceRefs = append(qp.instanceRefs, Query{Kind: protocol.Instance, Index: i, Rotation: r})
		}
	}
	return qp
}

// Openings returns the deduplicated opening queries in canonical order and
// the distinct rotations in first-appearance order. Provers serialize
// claimed evaluations and opening witnesses in exactly this order.
func Openings(p *protocol.Protocol) ([]Query, []int) {
	qp := newQueryPlan(p)
	return qp.queries, qp.rotations
}

// evalQueries are the openings whose claimed value travels in the proof:
// everything except the quotient, whose evaluation is derived from the gate
// identity.
func (qp *queryPlan) evalQueries() []Query {
	out := make([]Query, 0, len(qp.queries))
	for _, q := range qp.queries {
		if q.Kind != protocol.AuxQuotient {
			out = append(out, q)
		}
	}
	return out
}

// queriesAt returns the canonical-order queries opened at the given
// rotation.
func (qp *queryPlan) queriesAt(rot int) []Query {
	var out []Query
	for _, q := range qp.queries {
		if q.Rotation == rot {
			out = append(out, q)
		}
	}
	return out
}

// forEachExpr walks every gate and lookup expression of the protocol.
func forEachExpr(p *protocol.Protocol, fn func(protocol.Expression)) {
	var walk func(e protocol.Expression)
	walk = func(e protocol.Expression) {
		fn(e)
		switch v := e.(type) {
		case protocol.Sum:
			walk(v.A)
			walk(v.B)
		case protocol.Product:
			walk(v.A)
			walk(v.B)
		case protocol.Negated:
			walk(v.A)
		case protocol.Scaled:
			walk(v.A)
		}
	}
	for _, g := range p.Gates {
		for _, c := range g.Constraints {
			walk(c)
		}
	}
	for _, l := range p.Lookups {
		for _, e := range l.Inputs {
			walk(e)
		}
		for _, e := range l.Tables {
			walk(e)
		}
	}
}
