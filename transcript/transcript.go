// Package transcript replays the Fiat-Shamir transcript of a proof. The
// hash is keccak256 (the EVM-native choice) and the update rule chains
// squeezes: each challenge is keccak256(state || absorbed || 0x00) reduced
// into the scalar field, and the unreduced hash becomes the next state.
//
// One Transcript belongs to exactly one verification run. Absorb/Squeeze
// ordering is dictated by the protocol phase sequence; any deviation changes
// every later challenge.
package transcript

import (
	"math/big"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/sha3"
)

// Transcript accumulates absorbed bytes between squeezes.
type Transcript struct {
	segment []byte
}

// New seeds the transcript. The seed is the protocol digest, so challenges
// are bound to the circuit shape as well as the proof bytes.
func New(seed [32]byte) *Transcript {
	t := &Transcript{}
	t.segment = append(t.segment, seed[:]...)
	return t
}

// Absorb appends label-free bytes to the running segment.
func (t *Transcript) Absorb(data []byte) {
	t.segment = append(t.segment, data...)
}

// AbsorbScalar absorbs a field element as a 32-byte big-endian word.
func (t *Transcript) AbsorbScalar(e fr_bn254.Element) {
	b := e.Bytes()
	t.Absorb(b[:])
}

// AbsorbPoint absorbs an affine G1 point as two 32-byte big-endian
// coordinates, x then y. The identity absorbs as 64 zero bytes.
func (t *Transcript) AbsorbPoint(p *bn254.G1Affine) {
	var buf [64]byte
	x := p.X.Bytes()
	y := p.Y.Bytes()
	copy(buf[:32], x[:])
	copy(buf[32:], y[:])
	t.Absorb(buf[:])
}

// Squeeze finalizes the current segment and derives the next challenge. The
// trailing 0x00 byte keeps back-to-back squeezes distinct.
func (t *Transcript) Squeeze() fr_bn254.Element {
	h := sha3.NewLegacyKeccak256()
	h.Write(t.segment)
	h.Write([]byte{0})
	digest := h.Sum(nil)

	t.segment = t.segment[:0]
	t.segment = append(t.segment, digest...)

	var c fr_bn254.Element
	c.SetBigInt(new(big.Int).SetBytes(digest))
	return c
}
