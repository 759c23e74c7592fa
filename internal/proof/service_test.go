package proof

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/kroma-network/kroma-exploit-prover/internal/chain"
	"github.com/kroma-network/kroma-exploit-prover/internal/journal"
	"github.com/kroma-network/kroma-exploit-prover/internal/retry"
	"github.com/kroma-network/kroma-exploit-prover/internal/testnode"
	"github.com/kroma-network/kroma-exploit-prover/internal/witness"
)

// fakeProgram is a guest that checks the witness it is fed and commits a fixed output.
type fakeProgram struct {
	elf    []byte
	output *journal.Output
	fail   error
	proofs int
}

func (p *fakeProgram) ImageID() ImageID { return ComputeImageID(p.elf) }
func (p *fakeProgram) Binary() []byte   { return p.elf }

func (p *fakeProgram) Execute(ctx context.Context, input []uint32) ([]byte, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	enc, err := DecodeInput(input)
	if err != nil {
		return nil, err
	}
	bundle, err := witness.DecodeBundle(enc)
	if err != nil {
		return nil, err
	}
	if err := bundle.Verify(); err != nil {
		return nil, err
	}
	return p.output.Encode()
}

func (p *fakeProgram) Prove(ctx context.Context, input []uint32) (*Receipt, error) {
	raw, err := p.Execute(ctx, input)
	if err != nil {
		return nil, err
	}
	p.proofs++
	return NewReceipt(Succinct, p.ImageID(), common.Hash{0x01}, raw, []byte("succinct seal")), nil
}

func (p *fakeProgram) VerifySeal(ctx context.Context, receipt *Receipt) error {
	return testSeals.VerifySeal(ctx, receipt)
}

func buildWitness(t *testing.T) *witness.Result {
	node := testnode.New(t, 1, nil)
	node.AddBlock(testnode.Block{Number: 18_000_000, Hash: common.Hash{0xbb}, Timestamp: 1_692_000_012, GasLimit: 30_000_000})
	client, err := chain.Dial(context.Background(), node.URL, chain.Config{
		Retry: retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, RequestTimeout: 5 * time.Second},
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	header, err := client.HeaderByNumber(context.Background(), 18_000_000)
	require.NoError(t, err)

	result, err := witness.NewBuilder(client, witness.Config{CallData: []byte{}}).Build(context.Background(), []byte{0x00}, header, nil, common.Address{})
	require.NoError(t, err)
	require.Equal(t, uint64(21_000), result.GasUsed)
	require.Equal(t, node.Root, result.Witness.StateTrie.Root())
	return result
}

func TestServiceProvesWitness(t *testing.T) {
	built := buildWitness(t)
	program := &fakeProgram{elf: []byte("test guest"), output: built.Output}
	repo, err := NewDiskRepository(t.TempDir(), 0)
	require.NoError(t, err)
	service := NewService(program, NewLocal(), nil, repo, Config{Chain: "mainnet"})
	defer service.Close()

	output, err := service.Execute(context.Background(), built.Witness)
	require.NoError(t, err)
	require.True(t, journal.Equal(built.Output, output))
	require.Zero(t, program.proofs)

	result, err := service.Prove(context.Background(), &Request{Witness: built.Witness, Expected: built.Output})
	require.NoError(t, err)
	require.NoError(t, result.Anomaly)
	require.False(t, result.Cached)
	require.NotEmpty(t, result.JobID)
	require.Equal(t, program.ImageID(), result.Artifact.ImageID)
	require.Equal(t, "mainnet", result.Artifact.Chain)
	require.Equal(t, Succinct, result.Artifact.Receipt.Kind)
	require.True(t, journal.Equal(built.Output, result.Output))
	require.NoError(t, result.Artifact.Receipt.Verify(context.Background(), program.ImageID(), program))
	require.False(t, service.Proving())

	// identical requests are answered from the repository
	cached, err := service.Prove(context.Background(), &Request{Witness: built.Witness, Expected: built.Output})
	require.NoError(t, err)
	require.True(t, cached.Cached)
	require.Equal(t, 1, program.proofs)
	require.Equal(t, result.Artifact, cached.Artifact)
}

func TestServiceReprovesForgedCachedArtifact(t *testing.T) {
	built := buildWitness(t)
	program := &fakeProgram{elf: []byte("test guest"), output: built.Output}
	input, err := encodeWitness(built.Witness)
	require.NoError(t, err)
	raw, err := built.Output.Encode()
	require.NoError(t, err)

	repo, err := NewDiskRepository(t.TempDir(), 0)
	require.NoError(t, err)
	id := computeId(append(program.ImageID().Bytes(), InputBytes(input)...))
	forged := NewArtifact(program.ImageID(), "mainnet", NewReceipt(Succinct, program.ImageID(), common.Hash{0x01}, raw, []byte("not a proof")))
	require.NoError(t, repo.Save(context.Background(), id, forged))

	service := NewService(program, NewLocal(), nil, repo, Config{Chain: "mainnet"})
	defer service.Close()
	result, err := service.Prove(context.Background(), &Request{Witness: built.Witness, Expected: built.Output})
	require.NoError(t, err)
	require.False(t, result.Cached)
	require.Equal(t, 1, program.proofs)
	require.Equal(t, []byte("succinct seal"), result.Artifact.Receipt.Seal)

	// the proven artifact replaced the forged one
	cached, err := service.Prove(context.Background(), &Request{Witness: built.Witness})
	require.NoError(t, err)
	require.True(t, cached.Cached)
	require.Equal(t, 1, program.proofs)
}

func TestServiceRejectsUntrustedAttestation(t *testing.T) {
	built := buildWitness(t)
	program := &fakeProgram{elf: []byte("test guest"), output: built.Output}
	service := NewService(program, NewLocal(), nil, nil, Config{SealVerifier: trustedSeals{}})
	_, err := service.Prove(context.Background(), &Request{Witness: built.Witness})
	require.ErrorIs(t, err, ErrVerificationFailed)
}

func TestServiceReportsOutputMismatch(t *testing.T) {
	built := buildWitness(t)
	program := &fakeProgram{elf: []byte("test guest"), output: &journal.Output{}}
	service := NewService(program, NewLocal(), nil, nil, Config{Chain: "mainnet"})

	result, err := service.Prove(context.Background(), &Request{Witness: built.Witness, Expected: built.Output})
	require.NoError(t, err)
	require.ErrorIs(t, result.Anomaly, ErrOutputMismatch)
	require.NotNil(t, result.Artifact)
	require.Empty(t, result.Output.StateDiff)
}

func TestServiceReportsFailedJob(t *testing.T) {
	built := buildWitness(t)
	program := &fakeProgram{elf: []byte("test guest"), fail: errors.New("guest panicked")}
	service := NewService(program, NewLocal(), nil, nil, Config{})

	_, err := service.Prove(context.Background(), &Request{Witness: built.Witness})
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	require.Equal(t, "ERROR", jobErr.Status)
	require.Equal(t, "guest panicked", jobErr.Message)
}

func TestServiceConvertsToGroth16(t *testing.T) {
	built := buildWitness(t)
	program := &fakeProgram{elf: []byte("test guest"), output: built.Output}
	input, err := encodeWitness(built.Witness)
	require.NoError(t, err)
	succinct, err := program.Prove(context.Background(), input)
	require.NoError(t, err)

	fake := newFakeProvingService(t, succinct)
	fake.snarkStatus = []string{statusRunning, statusSucceeded}
	fake.snarkOutput = fake.matchingSnark()
	repo, err := NewDiskRepository(t.TempDir(), 0)
	require.NoError(t, err)
	service := NewService(program, NewLocal(), fake.remote(), repo, Config{Chain: "mainnet", Snark: true})

	result, err := service.Prove(context.Background(), &Request{Witness: built.Witness, Expected: built.Output})
	require.NoError(t, err)
	require.NoError(t, result.Anomaly)
	require.Equal(t, Groth16, result.Artifact.Receipt.Kind)
	require.Equal(t, []byte("groth16 seal"), result.Artifact.Receipt.Seal)
	onchain, err := EncodeOnchain(&result.Artifact.Receipt)
	require.NoError(t, err)
	require.NotEmpty(t, onchain)

	cached, err := service.Prove(context.Background(), &Request{Witness: built.Witness})
	require.NoError(t, err)
	require.True(t, cached.Cached)
	require.Equal(t, 2, fake.snarkCalls)
}

func TestServiceNeedsConverterForSnark(t *testing.T) {
	built := buildWitness(t)
	program := &fakeProgram{elf: []byte("test guest"), output: built.Output}
	service := NewService(program, NewLocal(), nil, nil, Config{Snark: true})
	_, err := service.Prove(context.Background(), &Request{Witness: built.Witness})
	require.Error(t, err)
}
