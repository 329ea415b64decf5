package plan

import (
	"math/big"
	"testing"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/stretchr/testify/require"

	"github.com/xiyu1984/halo2-solidity-verifier/protocol"
)

func testProtocol(t *testing.T, mutate func(*protocol.Protocol)) *protocol.Protocol {
	t.Helper()
	_, _, g1, g2 := bn254.Generators()
	var tau bn254.G2Affine
	tau.ScalarMultiplication(&g2, big.NewInt(0x5eed))
	var fixedCommit bn254.G1Affine
	fixedCommit.ScalarMultiplication(&g1, big.NewInt(11))

	a0 := protocol.ColumnQuery{Kind: protocol.Advice, Index: 0}
	a0Next := protocol.ColumnQuery{Kind: protocol.Advice, Index: 0, Rotation: 1}
	a1 := protocol.ColumnQuery{Kind: protocol.Advice, Index: 1}
	sel := protocol.ColumnQuery{Kind: protocol.Fixed, Index: 0}

	d := protocol.Protocol{
		NumAdvice:          2,
		NumFixed:           1,
		NumInstanceColumns: 1,
		NumInstanceRows:    1,
		DomainSize:         8,
		Gates: []protocol.Gate{
			{Name: "step", Constraints: []protocol.Expression{
				protocol.Product{A: sel, B: protocol.Sum{
					A: protocol.Sum{A: a0, B: a1},
					B: protocol.Negated{A: a0Next},
				}},
			}},
			// references a0 and a0Next again: the openings must not double
			{Name: "repeat", Constraints: []protocol.Expression{
				protocol.Product{A: sel, B: protocol.Sum{A: a0, B: protocol.Negated{A: a0Next}}},
			}},
		},
		FixedCommitments: []bn254.G1Affine{fixedCommit},
		G1:               g1,
		G2:               g2,
		TauG2:            tau,
	}
	if mutate != nil {
		mutate(&d)
	}
	p, err := protocol.New(d)
	require.NoError(t, err)
	return p
}

func TestOpeningsDeduplicate(t *testing.T) {
	p := testProtocol(t, nil)
	queries, rotations := Openings(p)

	seen := make(map[Query]int)
	for _, q := range queries {
		seen[q]++
	}
	for q, n := range seen {
		require.Equal(t, 1, n, "query %+v appears %d times", q, n)
	}

	// two gates share (advice 0, rot 0) and (advice 0, rot 1)
	require.Contains(t, seen, Query{Kind: protocol.Advice, Index: 0, Rotation: 0})
	require.Contains(t, seen, Query{Kind: protocol.Advice, Index: 0, Rotation: 1})
	require.Equal(t, []int{0, 1}, rotations)
}

func TestOpeningsCanonicalOrder(t *testing.T) {
	p := testProtocol(t, nil)
	queries, _ := Openings(p)

	want := []Query{
		{Kind: protocol.Advice, Index: 0, Rotation: 0},
		{Kind: protocol.Advice, Index: 0, Rotation: 1},
		{Kind: protocol.Advice, Index: 1, Rotation: 0},
		{Kind: protocol.Fixed, Index: 0, Rotation: 0},
		{Kind: protocol.AuxQuotient},
	}
	require.Equal(t, want, queries)
}

func TestBuildChallengeSchedule(t *testing.T) {
	prog := Build(testProtocol(t, nil))

	for _, name := range []string{"theta", "beta", "gamma", "y", "x", "v", "u"} {
		require.Contains(t, prog.Challenges, name)
	}
	// squeeze order is fixed by the slot order
	require.Less(t, prog.Challenges["theta"], prog.Challenges["beta"])
	require.Less(t, prog.Challenges["beta"], prog.Challenges["gamma"])
	require.Less(t, prog.Challenges["gamma"], prog.Challenges["y"])
	require.Less(t, prog.Challenges["y"], prog.Challenges["x"])
	require.Less(t, prog.Challenges["x"], prog.Challenges["v"])
	require.Less(t, prog.Challenges["v"], prog.Challenges["u"])
}

func TestBuildLayout(t *testing.T) {
	p := testProtocol(t, nil)
	prog := Build(p)
	queries, rotations := Openings(p)

	require.Equal(t, 1, prog.Layout.NumInstances)
	require.Equal(t, 32, prog.Layout.ProofOffset)

	// advice commitments, quotient piece, evals, opening witnesses
	wantProof := 64*2 + 64*1 + 32*(len(queries)-1) + 64*len(rotations)
	require.Equal(t, wantProof, prog.Layout.ProofLen)
	require.Equal(t, prog.Layout.ProofOffset+prog.Layout.ProofLen, prog.Layout.TotalLen)

	// fields tile the calldata without gaps
	off := 0
	for _, f := range prog.Layout.Fields {
		require.Equal(t, off, f.Offset, "field %s", f.Name)
		off += f.Len
	}
	require.Equal(t, prog.Layout.TotalLen, off)
}

func TestBuildDeterministic(t *testing.T) {
	a := Build(testProtocol(t, nil))
	b := Build(testProtocol(t, nil))
	require.Equal(t, a.Ops, b.Ops)
	require.Equal(t, a.Layout, b.Layout)
	require.Equal(t, a.Challenges, b.Challenges)
	require.Equal(t, a.TranscriptSize, b.TranscriptSize)
}

func TestBuildEndsWithPairingCheck(t *testing.T) {
	prog := Build(testProtocol(t, nil))
	require.NotEmpty(t, prog.Ops)
	require.Equal(t, OpPairingCheck, prog.Ops[len(prog.Ops)-1].Code)

	count := 0
	for _, op := range prog.Ops {
		if op.Code == OpPairingCheck {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestBuildCommonSubexpressionsCollapse(t *testing.T) {
	// the two gates share the subterm sel * (a0 - a0Next) references; at
	// minimum, no two scalar ops may share (code, operands)
	prog := Build(testProtocol(t, nil))
	type sig struct {
		code OpCode
		a, b int
	}
	seen := make(map[sig]bool)
	for _, op := range prog.Ops {
		switch op.Code {
		case OpAdd, OpSub, OpMul, OpEcAdd, OpEcMul:
			s := sig{op.Code, op.A, op.B}
			require.False(t, seen[s], "duplicate op %+v", op)
			seen[s] = true
		}
	}
}

func TestBuildAssertsWitnessNonIdentity(t *testing.T) {
	prog := Build(testProtocol(t, nil))
	asserts := 0
	for _, op := range prog.Ops {
		if op.Code == OpAssertNonIdentity {
			asserts++
		}
	}
	_, rotations := Openings(testProtocol(t, nil))
	require.Equal(t, len(rotations), asserts)
}

func TestNegativeRotationOrdering(t *testing.T) {
	p := testProtocol(t, func(d *protocol.Protocol) {
		prev := protocol.ColumnQuery{Kind: protocol.Advice, Index: 1, Rotation: -1}
		d.Gates = append(d.Gates, protocol.Gate{
			Name: "prev",
			Constraints: []protocol.Expression{
				protocol.Sum{A: prev, B: protocol.Negated{A: protocol.ColumnQuery{Kind: protocol.Advice, Index: 1}}},
			},
		})
	})
	queries, rotations := Openings(p)

	// per-column rotations ascend, so -1 comes first for advice 1
	var advice1 []int
	for _, q := range queries {
		if q.Kind == protocol.Advice && q.Index == 1 {
			advice1 = append(advice1, q.Rotation)
		}
	}
	require.Equal(t, []int{-1, 0}, advice1)
	// first-appearance order of distinct rotations
	require.Equal(t, []int{0, 1, -1}, rotations)
}
