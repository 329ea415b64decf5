// Package halo2test holds a small proving side used by the oracle tests:
// fixed circuits over a deterministic trusted setup, with just enough of a
// prover to produce proofs the generated verifiers accept. NewFixture is
// the plain gate circuit, NewArgumentFixture adds a permutation group and
// a lookup.
package halo2test

import (
	"fmt"
	"math/big"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/kzg"

	"github.com/xiyu1984/halo2-solidity-verifier/protocol"
)

const fixtureDomain = 8

// Fixture is the test circuit: advice a0 carries a running sum seeded from
// the single public value, a1 carries the increments, a2 carries cubes of
// a0 on active rows. Fixed q selects the three active rows, fixed qout pins
// a0 to the instance on row zero.
type Fixture struct {
	Protocol *protocol.Protocol

	srs       *kzg.SRS
	omega     fr_bn254.Element
	fixed     []poly
	fixedRows [][]fr_bn254.Element
	sigmas    [][]poly // per permutation group, per column
	assign    func(instances []fr_bn254.Element) [][]fr_bn254.Element
}

func q(kind protocol.ColumnKind, index, rot int) protocol.ColumnQuery {
	return protocol.ColumnQuery{Kind: kind, Index: index, Rotation: rot}
}

// NewFixture builds the circuit descriptor over a deterministic SRS.
func NewFixture() (*Fixture, error) {
	f := &Fixture{omega: protocol.RootOfUnity(fixtureDomain)}

	srs, err := kzg.NewSRS(2*fixtureDomain, big.NewInt(0x1b9d5e7a))
	if err != nil {
		return nil, fmt.Errorf("srs: %w", err)
	}
	f.srs = srs

	// q = 1 on rows 0..2, qout = 1 on row 0
	sel := make([]fr_bn254.Element, fixtureDomain)
	selOut := make([]fr_bn254.Element, fixtureDomain)
	for j := 0; j < 3; j++ {
		sel[j].SetOne()
	}
	selOut[0].SetOne()
	f.fixedRows = [][]fr_bn254.Element{sel, selOut}
	f.fixed = []poly{interpolate(sel, f.omega), interpolate(selOut, f.omega)}

	fixedCommits := make([]bn254.G1Affine, len(f.fixed))
	for i, p := range f.fixed {
		c, err := kzg.Commit(p, srs.Pk)
		if err != nil {
			return nil, fmt.Errorf("fixed commitment %d: %w", i, err)
		}
		fixedCommits[i] = c
	}

	a0 := q(protocol.Advice, 0, 0)
	a0Next := q(protocol.Advice, 0, 1)
	a1 := q(protocol.Advice, 1, 0)
	a2 := q(protocol.Advice, 2, 0)
	selQ := q(protocol.Fixed, 0, 0)
	selOutQ := q(protocol.Fixed, 1, 0)
	inst := q(protocol.Instance, 0, 0)

	desc := protocol.Protocol{
		NumAdvice:          3,
		NumFixed:           2,
		NumInstanceColumns: 1,
		NumInstanceRows:    1,
		DomainSize:         fixtureDomain,
		Gates: []protocol.Gate{
			{Name: "running_sum", Constraints: []protocol.Expression{
				protocol.Product{A: selQ, B: protocol.Sum{
					A: protocol.Sum{A: a0, B: a1},
					B: protocol.Negated{A: a0Next},
				}},
			}},
			{Name: "seed", Constraints: []protocol.Expression{
				protocol.Product{A: selOutQ, B: protocol.Sum{A: a0, B: protocol.Negated{A: inst}}},
			}},
			{Name: "cube", Constraints: []protocol.Expression{
				protocol.Product{A: selQ, B: protocol.Sum{
					A: protocol.Product{A: protocol.Product{A: a0, B: a0}, B: a0},
					B: protocol.Negated{A: a2},
				}},
			}},
		},
		FixedCommitments: fixedCommits,
		G1:               srs.Pk.G1[0],
		G2:               srs.Vk.G2[0],
		TauG2:            srs.Vk.G2[1],
	}
	p, err := protocol.New(desc)
	if err != nil {
		return nil, err
	}
	f.Protocol = p
	f.assign = f.witness
	return f, nil
}

// Instances wraps a seed value as the circuit's public input vector.
func (f *Fixture) Instances(seed uint64) []fr_bn254.Element {
	var e fr_bn254.Element
	e.SetUint64(seed)
	return []fr_bn254.Element{e}
}

// witness fills the advice columns for the given public seed.
func (f *Fixture) witness(instances []fr_bn254.Element) [][]fr_bn254.Element {
	a0 := make([]fr_bn254.Element, fixtureDomain)
	a1 := make([]fr_bn254.Element, fixtureDomain)
	a2 := make([]fr_bn254.Element, fixtureDomain)
	a0[0] = instances[0]
	for j := 0; j < 3; j++ {
		a1[j].SetUint64(uint64(j + 1))
		a0[j+1].Add(&a0[j], &a1[j])
		var sq fr_bn254.Element
		sq.Mul(&a0[j], &a0[j])
		a2[j].Mul(&sq, &a0[j])
	}
	return [][]fr_bn254.Element{a0, a1, a2}
}
