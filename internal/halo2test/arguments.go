package halo2test

import (
	"fmt"
	"math/big"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/kzg"

	"github.com/xiyu1984/halo2-solidity-verifier/protocol"
)

// NewArgumentFixture builds a second circuit exercising the two built-in
// arguments. Advice a1 is a rotated copy of a0, enforced by a two-column
// permutation group whose sigma polynomials encode the shift; advice a2 is
// bound to the fixed table column by a lookup. One gate pins a0 to the
// public seed on row zero.
func NewArgumentFixture() (*Fixture, error) {
	n := fixtureDomain
	f := &Fixture{omega: protocol.RootOfUnity(fixtureDomain)}

	srs, err := kzg.NewSRS(2*fixtureDomain, big.NewInt(0x2c41f))
	if err != nil {
		return nil, fmt.Errorf("srs: %w", err)
	}
	f.srs = srs

	// fixed 0 is the lookup table 1..n, fixed 1 pins row zero
	table := make([]fr_bn254.Element, n)
	selOut := make([]fr_bn254.Element, n)
	for j := 0; j < n; j++ {
		table[j].SetUint64(uint64(j + 1))
	}
	selOut[0].SetOne()
	f.fixedRows = [][]fr_bn254.Element{table, selOut}
	f.fixed = []poly{interpolate(table, f.omega), interpolate(selOut, f.omega)}

	fixedCommits := make([]bn254.G1Affine, len(f.fixed))
	for i, p := range f.fixed {
		c, err := kzg.Commit(p, srs.Pk)
		if err != nil {
			return nil, fmt.Errorf("fixed commitment %d: %w", i, err)
		}
		fixedCommits[i] = c
	}

	// cell (a0, j) is copied from (a1, j-1): sigma_0 points one row back
	// in column one, sigma_1 one row ahead in column zero
	delta := protocol.CosetShift()
	omegaPow := make([]fr_bn254.Element, n)
	omegaPow[0].SetOne()
	for j := 1; j < n; j++ {
		omegaPow[j].Mul(&omegaPow[j-1], &f.omega)
	}
	sigma0 := make([]fr_bn254.Element, n)
	sigma1 := make([]fr_bn254.Element, n)
	for j := 0; j < n; j++ {
		sigma0[j].Mul(&delta, &omegaPow[(j-1+n)%n])
		sigma1[j] = omegaPow[(j+1)%n]
	}
	f.sigmas = [][]poly{{interpolate(sigma0, f.omega), interpolate(sigma1, f.omega)}}

	sigmaCommits := make([]bn254.G1Affine, 2)
	for i, p := range f.sigmas[0] {
		c, err := kzg.Commit(p, srs.Pk)
		if err != nil {
			return nil, fmt.Errorf("sigma commitment %d: %w", i, err)
		}
		sigmaCommits[i] = c
	}

	a0 := q(protocol.Advice, 0, 0)
	a1 := q(protocol.Advice, 1, 0)
	a2 := q(protocol.Advice, 2, 0)
	tableQ := q(protocol.Fixed, 0, 0)
	selOutQ := q(protocol.Fixed, 1, 0)
	inst := q(protocol.Instance, 0, 0)

	desc := protocol.Protocol{
		NumAdvice:          3,
		NumFixed:           2,
		NumInstanceColumns: 1,
		NumInstanceRows:    1,
		DomainSize:         fixtureDomain,
		Gates: []protocol.Gate{
			{Name: "bind_seed", Constraints: []protocol.Expression{
				protocol.Product{A: selOutQ, B: protocol.Sum{A: a0, B: protocol.Negated{A: inst}}},
			}},
		},
		Lookups: []protocol.Lookup{
			{Name: "range", Inputs: []protocol.Expression{a2}, Tables: []protocol.Expression{tableQ}},
		},
		Permutations: []protocol.PermutationGroup{
			{Columns: []protocol.ColumnQuery{a0, a1}, Sigmas: sigmaCommits},
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
	f.assign = f.argumentWitness
	return f, nil
}

// argumentWitness fills the advice columns: a0 walks distinct values from
// the seed, a1 carries a0 one row ahead so the copy constraint holds, and
// a2 visits every table value once.
func (f *Fixture) argumentWitness(instances []fr_bn254.Element) [][]fr_bn254.Element {
	n := fixtureDomain
	a0 := make([]fr_bn254.Element, n)
	a1 := make([]fr_bn254.Element, n)
	a2 := make([]fr_bn254.Element, n)
	for j := 0; j < n; j++ {
		var off fr_bn254.Element
		off.SetUint64(uint64(j))
		a0[j].Add(&instances[0], &off)
		a2[j].SetUint64(uint64(3*j%n + 1))
	}
	for j := 0; j < n; j++ {
		a1[j] = a0[(j+1)%n]
	}
	return [][]fr_bn254.Element{a0, a1, a2}
}
