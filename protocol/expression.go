package protocol

import (
	"fmt"

	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// ColumnKind discriminates the polynomial families a gate expression may
// reference. The Aux* kinds are reserved for the verifier-internal
// permutation and lookup polynomials; a Protocol whose gates reference them
// directly is invalid.
type ColumnKind uint8

const (
	Advice ColumnKind = iota
	Fixed
	Instance
	AuxPermutation // sigma_i of a permutation group
	AuxPermutationZ
	AuxLookupInput // permuted input a'
	AuxLookupTable // permuted table s'
	AuxLookupZ
	AuxQuotient
)

func (k ColumnKind) String() string {
	switch k {
	case Advice:
		return "advice"
	case Fixed:
		return "fixed"
	case Instance:
		return "instance"
	case AuxPermutation:
		return "sigma"
	case AuxPermutationZ:
		return "perm_z"
	case AuxLookupInput:
		return "lookup_input"
	case AuxLookupTable:
		return "lookup_table"
	case AuxLookupZ:
		return "lookup_z"
	case AuxQuotient:
		return "quotient"
	}
	return "unknown"
}

// Binding resolves a (column, rotation) reference to a concrete scalar.
type Binding func(kind ColumnKind, index int, rotation int) fr_bn254.Element

// Expression is a gate polynomial over column references, rotations and the
// field operations. The node set is closed; evaluation is structural
// recursion, pure and reentrant.
type Expression interface {
	// Evaluate computes the expression under the given binding.
	Evaluate(bind Binding) fr_bn254.Element

	// Degree is the total polynomial degree, counting every column
	// reference as degree one.
	Degree() int

	// refs calls fn for every column reference in the subtree.
	refs(fn func(kind ColumnKind, index int, rotation int))
}

// Constant is a fixed scalar.
type Constant struct {
	Value fr_bn254.Element
}

// ColumnQuery references column Index of the given kind at Rotation rows
// relative to the evaluation point.
type ColumnQuery struct {
	Kind     ColumnKind
	Index    int
	Rotation int
}

// Sum is A + B.
type Sum struct {
	A, B Expression
}

// Product is A * B.
type Product struct {
	A, B Expression
}

// Negated is -A.
type Negated struct {
	A Expression
}

// Scaled is Scalar * A.
type Scaled struct {
	A      Expression
	Scalar fr_bn254.Element
}

func (e Constant) Evaluate(Binding) fr_bn254.Element { return e.Value }
func (e Constant) Degree() int                       { return 0 }
func (e Constant) refs(func(ColumnKind, int, int))   {}

func (e ColumnQuery) Evaluate(bind Binding) fr_bn254.Element {
	return bind(e.Kind, e.Index, e.Rotation)
}
func (e ColumnQuery) Degree() int { return 1 }
func (e ColumnQuery) refs(fn func(ColumnKind, int, int)) {
	fn(e.Kind, e.Index, e.Rotation)
}

func (e Sum) Evaluate(bind Binding) fr_bn254.Element {
	a := e.A.Evaluate(bind)
	b := e.B.Evaluate(bind)
	a.Add(&a, &b)
	return a
}
func (e Sum) Degree() int { return max(e.A.Degree(), e.B.Degree()) }
func (e Sum) refs(fn func(ColumnKind, int, int)) {
	e.A.refs(fn)
	e.B.refs(fn)
}

func (e Product) Evaluate(bind Binding) fr_bn254.Element {
	a := e.A.Evaluate(bind)
	b := e.B.Evaluate(bind)
	a.Mul(&a, &b)
	return a
}
func (e Product) Degree() int { return e.A.Degree() + e.B.Degree() }
func (e Product) refs(fn func(ColumnKind, int, int)) {
	e.A.refs(fn)
	e.B.refs(fn)
}

func (e Negated) Evaluate(bind Binding) fr_bn254.Element {
	a := e.A.Evaluate(bind)
	a.Neg(&a)
	return a
}
func (e Negated) Degree() int                       { return e.A.Degree() }
func (e Negated) refs(fn func(ColumnKind, int, int)) { e.A.refs(fn) }

func (e Scaled) Evaluate(bind Binding) fr_bn254.Element {
	a := e.A.Evaluate(bind)
	a.Mul(&a, &e.Scalar)
	return a
}
func (e Scaled) Degree() int                       { return e.A.Degree() }
func (e Scaled) refs(fn func(ColumnKind, int, int)) { e.A.refs(fn) }

// validateExpression checks every reference against the protocol dimensions.
func (p *Protocol) validateExpression(gate string, e Expression) error {
	var err error
	e.refs(func(kind ColumnKind, index, rotation int) {
		if err != nil {
			return
		}
		var limit int
		switch kind {
		case Advice:
			limit = p.NumAdvice
		case Fixed:
			limit = p.NumFixed
		case Instance:
			limit = p.NumInstanceColumns
		default:
			err = fmt.Errorf("%w: gate %q references internal column kind %s", ErrInvalidProtocol, gate, kind)
			return
		}
		if index < 0 || index >= limit {
			err = fmt.Errorf("%w: gate %q references %s column %d of %d", ErrInvalidProtocol, gate, kind, index, limit)
			return
		}
		if rotation < -(int(p.DomainSize)-1) || rotation > int(p.DomainSize)-1 {
			err = fmt.Errorf("%w: gate %q uses rotation %d beyond domain %d", ErrInvalidProtocol, gate, rotation, p.DomainSize)
		}
	})
	return err
}
