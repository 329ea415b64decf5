package evm_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xiyu1984/halo2-solidity-verifier/codegen"
	"github.com/xiyu1984/halo2-solidity-verifier/evm"
	"github.com/xiyu1984/halo2-solidity-verifier/internal/halo2test"
	"github.com/xiyu1984/halo2-solidity-verifier/verifier"
)

type deployed struct {
	fixture  *halo2test.Fixture
	artifact *codegen.Artifact
	contract *evm.Contract
}

func deployFixture(t *testing.T) *deployed {
	t.Helper()
	f, err := halo2test.NewFixture()
	require.NoError(t, err)
	art, err := codegen.NewGenerator(zerolog.Nop()).Generate(f.Protocol)
	require.NoError(t, err)
	c, err := evm.Deploy(art.DeployCode)
	require.NoError(t, err)
	return &deployed{fixture: f, artifact: art, contract: c}
}

func (d *deployed) calldata(t *testing.T, seed uint64, proof []byte) []byte {
	t.Helper()
	data, err := verifier.Calldata(d.artifact.Program, d.fixture.Instances(seed), proof)
	require.NoError(t, err)
	return data
}

func TestDeployedVerifierAcceptsValidProof(t *testing.T) {
	d := deployFixture(t)
	proof, err := d.fixture.Prove(d.fixture.Instances(5))
	require.NoError(t, err)

	ok, gas, err := d.contract.Accepts(d.calldata(t, 5, proof))
	require.NoError(t, err)
	require.True(t, ok)
	require.Positive(t, gas)
	t.Logf("verification gas: %d (static estimate %d)", gas, d.artifact.GasEstimate)
}

func TestDeployedVerifierMatchesNativeExecutor(t *testing.T) {
	d := deployFixture(t)
	proof, err := d.fixture.Prove(d.fixture.Instances(9))
	require.NoError(t, err)

	check := func(name string, seed uint64, proofBytes []byte) {
		nativeErr := verifier.Verify(d.artifact.Program, d.fixture.Instances(seed), proofBytes)
		ok, _, callErr := d.contract.Accepts(d.calldata(t, seed, proofBytes))
		require.NoError(t, callErr, name)
		require.Equal(t, nativeErr == nil, ok, "%s: native %v, evm %v", name, nativeErr, ok)
	}

	check("valid", 9, proof)
	check("wrong instance", 10, proof)

	mutated := append([]byte(nil), proof...)
	mutated[len(mutated)/2] ^= 0x40
	check("flipped byte", 9, mutated)

	zeroed := append([]byte(nil), proof...)
	for i := 0; i < 64; i++ {
		zeroed[i] = 0
	}
	check("identity commitment", 9, zeroed)

	check("truncated", 9, proof[:len(proof)-64])
}

func TestDeployedVerifierHandlesArgumentCircuit(t *testing.T) {
	f, err := halo2test.NewArgumentFixture()
	require.NoError(t, err)
	art, err := codegen.NewGenerator(zerolog.Nop()).Generate(f.Protocol)
	require.NoError(t, err)
	c, err := evm.Deploy(art.DeployCode)
	require.NoError(t, err)

	proof, err := f.Prove(f.Instances(7))
	require.NoError(t, err)

	check := func(name string, seed uint64, proofBytes []byte) {
		nativeErr := verifier.Verify(art.Program, f.Instances(seed), proofBytes)
		data, err := verifier.Calldata(art.Program, f.Instances(seed), proofBytes)
		require.NoError(t, err, name)
		ok, _, callErr := c.Accepts(data)
		require.NoError(t, callErr, name)
		require.Equal(t, nativeErr == nil, ok, "%s: native %v, evm %v", name, nativeErr, ok)
	}

	check("valid", 7, proof)
	check("wrong instance", 8, proof)

	// one flip per proof field keeps the run fast while touching the
	// permutation and lookup segments
	layout := art.Program.Layout
	for _, fd := range layout.Fields {
		if fd.Offset < layout.ProofOffset {
			continue
		}
		mutated := append([]byte(nil), proof...)
		mutated[fd.Offset-layout.ProofOffset+fd.Len-1] ^= 1
		check("mutated "+fd.Name, 7, mutated)
	}
}

func TestDeployedVerifierRejectsEvaluationShift(t *testing.T) {
	d := deployFixture(t)
	proof, err := d.fixture.Prove(d.fixture.Instances(3))
	require.NoError(t, err)

	layout := d.artifact.Program.Layout
	mutations := 0
	for _, f := range layout.Fields {
		if f.Len != 32 || f.Offset < layout.ProofOffset {
			continue
		}
		mutated := append([]byte(nil), proof...)
		mutated[f.Offset-layout.ProofOffset+31] ^= 1
		ok, _, err := d.contract.Accepts(d.calldata(t, 3, mutated))
		require.NoError(t, err)
		require.False(t, ok, "field %s", f.Name)
		mutations++
	}
	require.Positive(t, mutations)
}

func TestDeployedVerifierRejectsShortCalldata(t *testing.T) {
	d := deployFixture(t)
	proof, err := d.fixture.Prove(d.fixture.Instances(5))
	require.NoError(t, err)

	data := d.calldata(t, 5, proof)
	ok, _, err := d.contract.Accepts(data[:len(data)-1])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeployedVerifierStateless(t *testing.T) {
	// a failed call must not poison a later valid one
	d := deployFixture(t)
	proof, err := d.fixture.Prove(d.fixture.Instances(5))
	require.NoError(t, err)

	bad := append([]byte(nil), proof...)
	bad[100] ^= 0x02
	ok, _, err := d.contract.Accepts(d.calldata(t, 5, bad))
	require.NoError(t, err)
	require.False(t, ok)

	ok, _, err = d.contract.Accepts(d.calldata(t, 5, proof))
	require.NoError(t, err)
	require.True(t, ok)
}
