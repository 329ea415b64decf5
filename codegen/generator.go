// Package codegen turns a protocol descriptor into a deployable EVM
// verifier. The contract takes raw calldata (instance words then proof
// bytes, no selector), returns a single 32-byte word, one for a valid
// proof and zero otherwise, and holds no state.
package codegen

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/rs/zerolog"

	"github.com/xiyu1984/halo2-solidity-verifier/plan"
	"github.com/xiyu1984/halo2-solidity-verifier/protocol"
)

// ErrResourceExhausted reports a verifier larger than the deployable code
// size ceiling.
var ErrResourceExhausted = errors.New("resource exhausted")

// Artifact is one generated verifier.
type Artifact struct {
	// Program is the lowered operation sequence the bytecode implements.
	Program *plan.Program

	// RuntimeCode is the deployed contract body; DeployCode is the
	// creation transaction payload that returns it.
	RuntimeCode []byte
	DeployCode  []byte

	// Listing is a human-readable rendering of the program and its
	// calldata layout.
	Listing string

	// GasEstimate is a static upper estimate of one verification call.
	GasEstimate uint64
}

// Generator produces verifier artifacts and memoizes them by protocol
// digest. Generation is deterministic, so a cached artifact is
// byte-identical to a fresh one.
type Generator struct {
	log zerolog.Logger

	mu    sync.RWMutex
	cache map[[32]byte]*Artifact
}

func NewGenerator(log zerolog.Logger) *Generator {
	return &Generator{log: log, cache: make(map[[32]byte]*Artifact)}
}

// Generate builds (or returns the cached) verifier for p.
func (g *Generator) Generate(p *protocol.Protocol) (*Artifact, error) {
	digest := p.Digest()

	g.mu.RLock()
	cached := g.cache[digest]
	g.mu.RUnlock()
	if cached != nil {
		g.log.Debug().Hex("digest", digest[:]).Msg("verifier cache hit")
		return cached, nil
	}

	art, err := build(p)
	if err != nil {
		return nil, err
	}
	g.log.Info().
		Hex("digest", digest[:]).
		Int("runtime_bytes", len(art.RuntimeCode)).
		Int("calldata_bytes", art.Program.Layout.TotalLen).
		Uint64("gas_estimate", art.GasEstimate).
		Msg("generated verifier")

	g.mu.Lock()
	g.cache[digest] = art
	g.mu.Unlock()
	return art, nil
}

func build(p *protocol.Protocol) (*Artifact, error) {
	prog := plan.Build(p)
	runtime, err := lower(prog)
	if err != nil {
		return nil, err
	}
	if len(runtime) > params.MaxCodeSize {
		return nil, fmt.Errorf("%w: runtime code %d bytes exceeds limit %d",
			ErrResourceExhausted, len(runtime), params.MaxCodeSize)
	}
	listing, err := renderListing(prog, len(runtime))
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Program:     prog,
		RuntimeCode: runtime,
		DeployCode:  wrapDeploy(runtime),
		Listing:     listing,
		GasEstimate: estimateGas(prog),
	}, nil
}

// wrapDeploy prefixes the runtime code with a constructor that copies it
// into memory and returns it.
func wrapDeploy(runtime []byte) []byte {
	// PUSH2 len, DUP1, PUSH1 12, PUSH1 0, CODECOPY, PUSH1 0, RETURN
	n := len(runtime)
	prefix := []byte{
		byte(vm.PUSH2), byte(n >> 8), byte(n),
		byte(vm.DUP1),
		byte(vm.PUSH1), 12,
		byte(vm.PUSH1), 0,
		byte(vm.CODECOPY),
		byte(vm.PUSH1), 0,
		byte(vm.RETURN),
	}
	return append(prefix, runtime...)
}

// estimateGas sums static per-operation costs. Precompile prices follow
// EIP-1108 and EIP-197; the arithmetic and memory traffic around each
// operation is charged as a flat envelope.
func estimateGas(prog *plan.Program) uint64 {
	var gas uint64 = 21000
	for _, op := range prog.Ops {
		switch op.Code {
		case plan.OpEcAdd:
			gas += 150 + 200
		case plan.OpEcMul:
			gas += 6000 + 200
		case plan.OpPairingCheck:
			gas += 45000 + 2*34000 + 1000
		case plan.OpInv:
			gas += 1360 + 200
		case plan.OpSqueeze:
			gas += 30 + 6*uint64((prog.TranscriptSize+31)/32) + 100
		case plan.OpAbsorb:
			gas += 3*uint64((op.Len+31)/32) + 50
		case plan.OpLoadPoint:
			gas += 150
		default:
			gas += 50
		}
	}
	return gas
}

// DigestHex is the cache key in printable form, used for artifact file
// names.
func DigestHex(p *protocol.Protocol) string {
	d := p.Digest()
	return hex.EncodeToString(d[:])
}
