package codegen

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xiyu1984/halo2-solidity-verifier/internal/halo2test"
	"github.com/xiyu1984/halo2-solidity-verifier/protocol"
)

func fixtureProtocol(t *testing.T) *protocol.Protocol {
	t.Helper()
	f, err := halo2test.NewFixture()
	require.NoError(t, err)
	return f.Protocol
}

func TestGenerateDeterministic(t *testing.T) {
	p := fixtureProtocol(t)
	a, err := NewGenerator(zerolog.Nop()).Generate(p)
	require.NoError(t, err)
	b, err := NewGenerator(zerolog.Nop()).Generate(p)
	require.NoError(t, err)

	require.True(t, bytes.Equal(a.RuntimeCode, b.RuntimeCode))
	require.True(t, bytes.Equal(a.DeployCode, b.DeployCode))
	require.Equal(t, a.Listing, b.Listing)
	require.Equal(t, a.GasEstimate, b.GasEstimate)
}

func TestGenerateCacheHit(t *testing.T) {
	g := NewGenerator(zerolog.Nop())
	p := fixtureProtocol(t)
	a, err := g.Generate(p)
	require.NoError(t, err)
	b, err := g.Generate(p)
	require.NoError(t, err)
	require.Same(t, a, b)
}

func TestGenerateArgumentCircuit(t *testing.T) {
	f, err := halo2test.NewArgumentFixture()
	require.NoError(t, err)
	art, err := NewGenerator(zerolog.Nop()).Generate(f.Protocol)
	require.NoError(t, err)

	require.LessOrEqual(t, len(art.RuntimeCode), params.MaxCodeSize)

	// the lowered memory regions must not overlap: the transcript sits
	// after the precompile staging area, slots after the transcript
	mem := newMemoryLayout(art.Program)
	require.GreaterOrEqual(t, mem.transcript, 0x180)
	require.GreaterOrEqual(t, mem.scalars, mem.transcript+art.Program.TranscriptSize)
	require.Equal(t, mem.scalars+32*art.Program.NumScalars, mem.points)

	again, err := NewGenerator(zerolog.Nop()).Generate(f.Protocol)
	require.NoError(t, err)
	require.True(t, bytes.Equal(art.RuntimeCode, again.RuntimeCode))
}

func TestGenerateWithinCodeSizeLimit(t *testing.T) {
	art, err := NewGenerator(zerolog.Nop()).Generate(fixtureProtocol(t))
	require.NoError(t, err)
	require.LessOrEqual(t, len(art.RuntimeCode), params.MaxCodeSize)
	require.Positive(t, art.GasEstimate)
}

func TestDeployCodeReturnsRuntime(t *testing.T) {
	art, err := NewGenerator(zerolog.Nop()).Generate(fixtureProtocol(t))
	require.NoError(t, err)

	require.True(t, bytes.HasSuffix(art.DeployCode, art.RuntimeCode))
	prefix := art.DeployCode[:len(art.DeployCode)-len(art.RuntimeCode)]
	require.Equal(t, byte(vm.PUSH2), prefix[0])
	n := int(prefix[1])<<8 | int(prefix[2])
	require.Equal(t, len(art.RuntimeCode), n)
	require.Equal(t, byte(vm.RETURN), prefix[len(prefix)-1])
	require.Len(t, prefix, 12)
}

func TestListingNamesEveryField(t *testing.T) {
	art, err := NewGenerator(zerolog.Nop()).Generate(fixtureProtocol(t))
	require.NoError(t, err)
	for _, f := range art.Program.Layout.Fields {
		require.Contains(t, art.Listing, f.Name)
	}
	for _, name := range []string{"theta", "beta", "gamma", "y", "x", "v", "u"} {
		require.Contains(t, art.Listing, name)
	}
}

func TestAsmLabelResolution(t *testing.T) {
	a := newAsm()
	a.jump("end")
	a.op(vm.STOP)
	a.label("end")
	code, err := a.assemble()
	require.NoError(t, err)

	// PUSH2 target, JUMP, STOP, JUMPDEST
	require.Equal(t, []byte{byte(vm.PUSH2), 0, 5, byte(vm.JUMP), byte(vm.STOP), byte(vm.JUMPDEST)}, code)
}

func TestAsmUndefinedLabel(t *testing.T) {
	a := newAsm()
	a.jump("nowhere")
	_, err := a.assemble()
	require.Error(t, err)
}

func TestAsmPushWidths(t *testing.T) {
	a := newAsm()
	a.pushInt(0)
	a.pushInt(255)
	a.pushInt(256)
	code, err := a.assemble()
	require.NoError(t, err)
	require.Equal(t, []byte{
		byte(vm.PUSH1), 0,
		byte(vm.PUSH1), 255,
		byte(vm.PUSH2), 1, 0,
	}, code)
}
