// Package protocol describes the verification shape of a halo2-style
// circuit: column counts, gate expressions, lookup and permutation argument
// structure, the evaluation domain and the commitment scheme points taken
// from the verifying key. A Protocol is immutable after construction and is
// shared read-only by the verifier and the code generator.
package protocol

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/sha3"
)

// ErrInvalidProtocol reports a structurally inconsistent descriptor. It is
// fatal: no code is generated and no proof is verified against it.
var ErrInvalidProtocol = errors.New("invalid protocol")

// Gate is one named polynomial constraint set. Every constraint must vanish
// on the domain rows for a proof to verify.
type Gate struct {
	Name        string
	Constraints []Expression
}

// Lookup declares one lookup argument: each input expression tuple must,
// theta-compressed, appear among the theta-compressed table expressions.
type Lookup struct {
	Name   string
	Inputs []Expression
	Tables []Expression
}

// PermutationGroup lists the columns tied together by one grand-product
// argument. Sigmas holds the permutation polynomial commitments from the
// verifying key, one per column, in the same order.
type PermutationGroup struct {
	Columns []ColumnQuery // rotation must be 0
	Sigmas  []bn254.G1Affine
}

// Protocol is the immutable verification descriptor.
type Protocol struct {
	NumAdvice          int
	NumFixed           int
	NumInstanceColumns int
	// NumInstanceRows is the number of public values per instance column.
	NumInstanceRows int

	DomainSize uint64 // power of two
	Gates      []Gate
	Lookups    []Lookup
	Permutations []PermutationGroup

	// FixedCommitments are the verifying-key commitments to the fixed
	// columns, in column order.
	FixedCommitments []bn254.G1Affine

	// Commitment scheme points: the G1 generator, the G2 generator and
	// tau*G2 from the trusted setup.
	G1    bn254.G1Affine
	G2    bn254.G2Affine
	TauG2 bn254.G2Affine

	// AllowIdentityCommitments tolerates the group identity in decoded
	// proof commitments. Opening witnesses are always rejected when
	// identity, independent of this flag.
	AllowIdentityCommitments bool

	// derived, set by New
	omega      fr_bn254.Element
	omegaInv   fr_bn254.Element
	domainInv  fr_bn254.Element // 1/n
	delta      fr_bn254.Element
	quotientPieces int
	digest     [32]byte
}

// delta shifts the permutation argument's column cosets; any non-root
// multiplicative generator works as long as prover and verifier agree.
const permutationDelta = 5

// New validates the descriptor, freezes it and precomputes the domain
// constants and the content digest.
func New(p Protocol) (*Protocol, error) {
	if p.DomainSize < 2 || bits.OnesCount64(p.DomainSize) != 1 {
		return nil, fmt.Errorf("%w: domain size %d is not a power of two >= 2", ErrInvalidProtocol, p.DomainSize)
	}
	if p.NumAdvice < 0 || p.NumFixed < 0 || p.NumInstanceColumns < 0 || p.NumInstanceRows < 0 {
		return nil, fmt.Errorf("%w: negative column count", ErrInvalidProtocol)
	}
	if p.NumInstanceColumns > 0 && p.NumInstanceRows == 0 {
		return nil, fmt.Errorf("%w: instance columns declared with zero rows", ErrInvalidProtocol)
	}
	if uint64(p.NumInstanceRows) > p.DomainSize {
		return nil, fmt.Errorf("%w: %d instance rows exceed domain %d", ErrInvalidProtocol, p.NumInstanceRows, p.DomainSize)
	}
	if len(p.FixedCommitments) != p.NumFixed {
		return nil, fmt.Errorf("%w: %d fixed commitments for %d fixed columns", ErrInvalidProtocol, len(p.FixedCommitments), p.NumFixed)
	}
	for _, g := range p.Gates {
		if len(g.Constraints) == 0 {
			return nil, fmt.Errorf("%w: gate %q has no constraints", ErrInvalidProtocol, g.Name)
		}
		for _, c := range g.Constraints {
			if err := p.validateExpression(g.Name, c); err != nil {
				return nil, err
			}
		}
	}
	for _, l := range p.Lookups {
		if len(l.Inputs) == 0 || len(l.Inputs) != len(l.Tables) {
			return nil, fmt.Errorf("%w: lookup %q input/table arity mismatch", ErrInvalidProtocol, l.Name)
		}
		for _, e := range append(append([]Expression{}, l.Inputs...), l.Tables...) {
			if err := p.validateExpression(l.Name, e); err != nil {
				return nil, err
			}
		}
	}
	for i, g := range p.Permutations {
		if len(g.Columns) != len(g.Sigmas) || len(g.Columns) == 0 {
			return nil, fmt.Errorf("%w: permutation group %d has %d columns and %d sigmas", ErrInvalidProtocol, i, len(g.Columns), len(g.Sigmas))
		}
		for _, c := range g.Columns {
			if c.Rotation != 0 {
				return nil, fmt.Errorf("%w: permutation group %d uses non-zero rotation", ErrInvalidProtocol, i)
			}
			if err := p.validateExpression(fmt.Sprintf("permutation[%d]", i), c); err != nil {
				return nil, err
			}
		}
	}

	if p.TauG2.IsInfinity() || p.G2.IsInfinity() || p.G1.IsInfinity() {
		return nil, fmt.Errorf("%w: commitment scheme generator is the identity", ErrInvalidProtocol)
	}

	p.omega = domainGenerator(p.DomainSize)
	p.omegaInv.Inverse(&p.omega)
	var n fr_bn254.Element
	n.SetUint64(p.DomainSize)
	p.domainInv.Inverse(&n)
	p.delta.SetUint64(permutationDelta)
	p.quotientPieces = p.maxConstraintDegree() - 1
	if p.quotientPieces < 1 {
		p.quotientPieces = 1
	}
	p.digest = p.computeDigest()
	return &p, nil
}

// maxConstraintDegree spans gates and the built-in argument residuals. The
// permutation product contributes one degree above its column count, the
// lookup product is degree three.
func (p *Protocol) maxConstraintDegree() int {
	d := 2
	for _, g := range p.Gates {
		for _, c := range g.Constraints {
			if c.Degree() > d {
				d = c.Degree()
			}
		}
	}
	for _, g := range p.Permutations {
		if len(g.Columns)+1 > d {
			d = len(g.Columns) + 1
		}
	}
	if len(p.Lookups) > 0 && d < 3 {
		d = 3
	}
	return d
}

// RootOfUnity returns the canonical generator of the order-n subgroup, the
// same omega a Protocol with DomainSize n reports. Provers interpolate
// column polynomials over this root before the descriptor exists.
func RootOfUnity(n uint64) fr_bn254.Element {
	return domainGenerator(n)
}

// CosetShift returns the permutation argument's column coset multiplier,
// the same delta a constructed Protocol reports. Provers label permutation
// cells with delta^column * omega^row before the descriptor exists.
func CosetShift() fr_bn254.Element {
	var d fr_bn254.Element
	d.SetUint64(permutationDelta)
	return d
}

// domainGenerator returns the canonical generator of the order-n subgroup of
// the BN254 scalar field: g^((r-1)/n) for the multiplicative generator g=5.
func domainGenerator(n uint64) fr_bn254.Element {
	var g, root fr_bn254.Element
	g.SetUint64(5)
	exp := new(big.Int).Sub(fr_bn254.Modulus(), big.NewInt(1))
	exp.Div(exp, new(big.Int).SetUint64(n))
	root.Exp(g, exp)
	return root
}

// Omega is the domain generator.
func (p *Protocol) Omega() fr_bn254.Element { return p.omega }

// OmegaInv is the inverse domain generator.
func (p *Protocol) OmegaInv() fr_bn254.Element { return p.omegaInv }

// DomainSizeInv is 1/n in the scalar field.
func (p *Protocol) DomainSizeInv() fr_bn254.Element { return p.domainInv }

// Delta is the permutation coset shift.
func (p *Protocol) Delta() fr_bn254.Element { return p.delta }

// QuotientPieces is the number of degree-n quotient polynomial chunks the
// prover commits to.
func (p *Protocol) QuotientPieces() int { return p.quotientPieces }

// Digest is a content hash of the descriptor. It keys the generated-program
// cache and seeds the Fiat-Shamir transcript, binding every challenge to
// this exact circuit shape.
func (p *Protocol) Digest() [32]byte { return p.digest }

func (p *Protocol) computeDigest() [32]byte {
	h := sha3.NewLegacyKeccak256()
	writeU64 := func(v uint64) {
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[7-i] = byte(v >> (8 * i))
		}
		h.Write(b[:])
	}
	writeScalar := func(e fr_bn254.Element) {
		b := e.Bytes()
		h.Write(b[:])
	}
	writePoint := func(g bn254.G1Affine) {
		b := g.RawBytes()
		h.Write(b[:])
	}
	writeU64(uint64(p.NumAdvice))
	writeU64(uint64(p.NumFixed))
	writeU64(uint64(p.NumInstanceColumns))
	writeU64(uint64(p.NumInstanceRows))
	writeU64(p.DomainSize)
	var writeExpr func(e Expression)
	writeExpr = func(e Expression) {
		switch v := e.(type) {
		case Constant:
			writeU64(0)
			writeScalar(v.Value)
		case ColumnQuery:
			writeU64(1)
			writeU64(uint64(v.Kind))
			writeU64(uint64(v.Index))
			writeU64(uint64(int64(v.Rotation)))
		case Sum:
			writeU64(2)
			writeExpr(v.A)
			writeExpr(v.B)
		case Product:
			writeU64(3)
			writeExpr(v.A)
			writeExpr(v.B)
		case Negated:
			writeU64(4)
			writeExpr(v.A)
		case Scaled:
			writeU64(5)
			writeExpr(v.A)
			writeScalar(v.Scalar)
		}
	}
	for _, g := range p.Gates {
		h.Write([]byte(g.Name))
		for _, c := range g.Constraints {
			writeExpr(c)
		}
	}
	for _, l := range p.Lookups {
		h.Write([]byte(l.Name))
		for _, e := range l.Inputs {
			writeExpr(e)
		}
		for _, e := range l.Tables {
			writeExpr(e)
		}
	}
	for _, g := range p.Permutations {
		for i := range g.Columns {
			writeExpr(g.Columns[i])
			writePoint(g.Sigmas[i])
		}
	}
	for _, c := range p.FixedCommitments {
		writePoint(c)
	}
	writePoint(p.G1)
	g2 := p.G2.RawBytes()
	h.Write(g2[:])
	tau := p.TauG2.RawBytes()
	h.Write(tau[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ScalarModulus is the bn254 scalar field modulus.
func ScalarModulus() *big.Int { return fr_bn254.Modulus() }
