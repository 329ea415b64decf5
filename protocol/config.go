package protocol

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Config is the on-disk descriptor format. Scalars and coordinates are hex
// strings, G2 coordinates are [real, imaginary] pairs, expressions are
// tagged trees.
type Config struct {
	NumAdvice          int    `json:"num_advice"`
	NumFixed           int    `json:"num_fixed"`
	NumInstanceColumns int    `json:"num_instance_columns"`
	NumInstanceRows    int    `json:"num_instance_rows"`
	DomainSize         uint64 `json:"domain_size"`

	Gates        []GateConfig        `json:"gates"`
	Lookups      []LookupConfig      `json:"lookups,omitempty"`
	Permutations []PermutationConfig `json:"permutations,omitempty"`

	FixedCommitments []PointConfig `json:"fixed_commitments"`
	G1               PointConfig   `json:"g1"`
	G2               G2PointConfig `json:"g2"`
	TauG2            G2PointConfig `json:"tau_g2"`

	AllowIdentityCommitments bool `json:"allow_identity_commitments,omitempty"`
}

type GateConfig struct {
	Name        string        `json:"name"`
	Constraints []*ExprConfig `json:"constraints"`
}

type LookupConfig struct {
	Name   string        `json:"name"`
	Inputs []*ExprConfig `json:"inputs"`
	Tables []*ExprConfig `json:"tables"`
}

type PermutationConfig struct {
	Columns []*ExprConfig `json:"columns"`
	Sigmas  []PointConfig `json:"sigmas"`
}

type PointConfig struct {
	X string `json:"x"`
	Y string `json:"y"`
}

type G2PointConfig struct {
	X [2]string `json:"x"`
	Y [2]string `json:"y"`
}

// ExprConfig is one expression node. Op is one of const, col, sum, product,
// negated, scaled.
type ExprConfig struct {
	Op string `json:"op"`

	A *ExprConfig `json:"a,omitempty"`
	B *ExprConfig `json:"b,omitempty"`

	Kind     string `json:"kind,omitempty"`
	Index    int    `json:"index,omitempty"`
	Rotation int    `json:"rotation,omitempty"`

	Value string `json:"value,omitempty"`
}

// LoadConfig reads and decodes a descriptor file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Protocol converts the descriptor to its validated form.
func (c *Config) Protocol() (*Protocol, error) {
	p := Protocol{
		NumAdvice:                c.NumAdvice,
		NumFixed:                 c.NumFixed,
		NumInstanceColumns:       c.NumInstanceColumns,
		NumInstanceRows:          c.NumInstanceRows,
		DomainSize:               c.DomainSize,
		AllowIdentityCommitments: c.AllowIdentityCommitments,
	}
	var err error
	for _, g := range c.Gates {
		gate := Gate{Name: g.Name}
		for _, e := range g.Constraints {
			expr, err := e.expression()
			if err != nil {
				return nil, fmt.Errorf("gate %q: %w", g.Name, err)
			}
			gate.Constraints = append(gate.Constraints, expr)
		}
		p.Gates = append(p.Gates, gate)
	}
	for _, l := range c.Lookups {
		lookup := Lookup{Name: l.Name}
		for _, e := range l.Inputs {
			expr, err := e.expression()
			if err != nil {
				return nil, fmt.Errorf("lookup %q: %w", l.Name, err)
			}
			lookup.Inputs = append(lookup.Inputs, expr)
		}
		for _, e := range l.Tables {
			expr, err := e.expression()
			if err != nil {
				return nil, fmt.Errorf("lookup %q: %w", l.Name, err)
			}
			lookup.Tables = append(lookup.Tables, expr)
		}
		p.Lookups = append(p.Lookups, lookup)
	}
	for i, g := range c.Permutations {
		group := PermutationGroup{}
		for _, e := range g.Columns {
			expr, err := e.expression()
			if err != nil {
				return nil, fmt.Errorf("permutation group %d: %w", i, err)
			}
			col, ok := expr.(ColumnQuery)
			if !ok {
				return nil, fmt.Errorf("%w: permutation group %d column is not a column query", ErrInvalidProtocol, i)
			}
			group.Columns = append(group.Columns, col)
		}
		for _, s := range g.Sigmas {
			pt, err := s.point()
			if err != nil {
				return nil, fmt.Errorf("permutation group %d sigma: %w", i, err)
			}
			group.Sigmas = append(group.Sigmas, pt)
		}
		p.Permutations = append(p.Permutations, group)
	}
	for i, pc := range c.FixedCommitments {
		pt, err := pc.point()
		if err != nil {
			return nil, fmt.Errorf("fixed commitment %d: %w", i, err)
		}
		p.FixedCommitments = append(p.FixedCommitments, pt)
	}
	if p.G1, err = c.G1.point(); err != nil {
		return nil, fmt.Errorf("g1: %w", err)
	}
	if p.G2, err = c.G2.point(); err != nil {
		return nil, fmt.Errorf("g2: %w", err)
	}
	if p.TauG2, err = c.TauG2.point(); err != nil {
		return nil, fmt.Errorf("tau_g2: %w", err)
	}
	return New(p)
}

func (e *ExprConfig) expression() (Expression, error) {
	switch e.Op {
	case "const":
		v, ok := new(big.Int).SetString(e.Value, 0)
		if !ok {
			return nil, fmt.Errorf("%w: bad constant %q", ErrInvalidProtocol, e.Value)
		}
		var c Constant
		c.Value.SetBigInt(v)
		return c, nil
	case "col":
		kind, err := parseColumnKind(e.Kind)
		if err != nil {
			return nil, err
		}
		return ColumnQuery{Kind: kind, Index: e.Index, Rotation: e.Rotation}, nil
	case "sum", "product":
		a, err := e.A.expression()
		if err != nil {
			return nil, err
		}
		b, err := e.B.expression()
		if err != nil {
			return nil, err
		}
		if e.Op == "sum" {
			return Sum{A: a, B: b}, nil
		}
		return Product{A: a, B: b}, nil
	case "negated":
		a, err := e.A.expression()
		if err != nil {
			return nil, err
		}
		return Negated{A: a}, nil
	case "scaled":
		a, err := e.A.expression()
		if err != nil {
			return nil, err
		}
		v, ok := new(big.Int).SetString(e.Value, 0)
		if !ok {
			return nil, fmt.Errorf("%w: bad scale %q", ErrInvalidProtocol, e.Value)
		}
		var s fr_bn254.Element
		s.SetBigInt(v)
		return Scaled{A: a, Scalar: s}, nil
	}
	return nil, fmt.Errorf("%w: unknown expression op %q", ErrInvalidProtocol, e.Op)
}

func parseColumnKind(s string) (ColumnKind, error) {
	switch s {
	case "advice":
		return Advice, nil
	case "fixed":
		return Fixed, nil
	case "instance":
		return Instance, nil
	}
	return 0, fmt.Errorf("%w: unknown column kind %q", ErrInvalidProtocol, s)
}

func (p PointConfig) point() (bn254.G1Affine, error) {
	var out bn254.G1Affine
	x, err := parseFp(p.X)
	if err != nil {
		return out, err
	}
	y, err := parseFp(p.Y)
	if err != nil {
		return out, err
	}
	out.X, out.Y = x, y
	if !out.IsInfinity() && !out.IsOnCurve() {
		return out, fmt.Errorf("%w: point not on curve", ErrInvalidProtocol)
	}
	return out, nil
}

func (p G2PointConfig) point() (bn254.G2Affine, error) {
	var out bn254.G2Affine
	coords := [4]*fp.Element{&out.X.A0, &out.X.A1, &out.Y.A0, &out.Y.A1}
	for i, s := range []string{p.X[0], p.X[1], p.Y[0], p.Y[1]} {
		v, err := parseFp(s)
		if err != nil {
			return out, err
		}
		*coords[i] = v
	}
	if !out.IsInfinity() && !out.IsOnCurve() {
		return out, fmt.Errorf("%w: g2 point not on curve", ErrInvalidProtocol)
	}
	return out, nil
}

func parseFp(s string) (fp.Element, error) {
	var e fp.Element
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return e, fmt.Errorf("%w: bad coordinate %q", ErrInvalidProtocol, s)
	}
	if v.Sign() < 0 || v.Cmp(fp.Modulus()) >= 0 {
		return e, fmt.Errorf("%w: coordinate out of range", ErrInvalidProtocol)
	}
	e.SetBigInt(v)
	return e, nil
}
