package verifier

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/kroma-network/kroma-exploit-prover/internal/chain"
	"github.com/kroma-network/kroma-exploit-prover/internal/journal"
	"github.com/kroma-network/kroma-exploit-prover/internal/proof"
	"github.com/kroma-network/kroma-exploit-prover/internal/retry"
	"github.com/kroma-network/kroma-exploit-prover/internal/testnode"
)

var (
	imageID   = proof.ComputeImageID([]byte("exploit guest"))
	committed = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	reorged   = common.HexToHash("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

// knownSeal accepts only the seal of artifactCommitting.
type knownSeal []byte

func (k knownSeal) VerifySeal(ctx context.Context, receipt *proof.Receipt) error {
	if !bytes.Equal(k, receipt.Seal) {
		return errors.New("seal does not verify")
	}
	return nil
}

var seals = knownSeal{0x01}

func artifactCommitting(t *testing.T, hash common.Hash) *proof.Artifact {
	output := &journal.Output{
		BlockHashes: []journal.BlockHash{{Number: 18_000_000, Hash: hash}},
		StateDiff: journal.StateDiff{{
			Address:     common.Address{0x01},
			BalanceFrom: big.NewInt(10),
			BalanceTo:   big.NewInt(0),
		}},
	}
	enc, err := output.Encode()
	require.NoError(t, err)
	return proof.NewArtifact(imageID, "mainnet", proof.NewReceipt(proof.Succinct, imageID, common.Hash{}, enc, []byte{0x01}))
}

func dial(t *testing.T, liveHash common.Hash) *chain.Client {
	node := testnode.New(t, 1, nil)
	node.AddBlock(testnode.Block{Number: 18_000_000, Hash: liveHash, GasLimit: 30_000_000})
	client, err := chain.Dial(context.Background(), node.URL, chain.Config{
		Retry: retry.Config{InitialBackoff: time.Millisecond, RequestTimeout: 5 * time.Second},
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestVerifyReturnsStateDiff(t *testing.T) {
	diff, err := New(imageID, seals, dial(t, committed)).Verify(context.Background(), artifactCommitting(t, committed))
	require.NoError(t, err)
	require.Len(t, diff, 1)
	require.Equal(t, big.NewInt(-10), diff.Account(common.Address{0x01}).BalanceDelta())
}

func TestVerifyDetectsReorganization(t *testing.T) {
	_, err := New(imageID, seals, dial(t, reorged)).Verify(context.Background(), artifactCommitting(t, committed))
	require.ErrorIs(t, err, ErrChainReorganization)
	var reorgErr *ReorgError
	require.ErrorAs(t, err, &reorgErr)
	require.Equal(t, uint64(18_000_000), reorgErr.Number)
	require.Equal(t, committed, reorgErr.Committed)
	require.Equal(t, reorged, reorgErr.Live)
}

func TestVerifyRejectsForeignImage(t *testing.T) {
	other := proof.ComputeImageID([]byte("other guest"))
	_, err := New(other, seals, dial(t, committed)).Verify(context.Background(), artifactCommitting(t, committed))
	require.ErrorIs(t, err, proof.ErrVerificationFailed)
}

func TestVerifyRejectsTamperedJournal(t *testing.T) {
	artifact := artifactCommitting(t, committed)
	artifact.Receipt.Journal[len(artifact.Receipt.Journal)-1] ^= 0x01
	_, err := New(imageID, seals, dial(t, committed)).Verify(context.Background(), artifact)
	require.ErrorIs(t, err, proof.ErrVerificationFailed)
}

func TestVerifyRejectsForgedSeal(t *testing.T) {
	output := &journal.Output{
		BlockHashes: []journal.BlockHash{{Number: 18_000_000, Hash: committed}},
		StateDiff: journal.StateDiff{{
			Address:     common.HexToAddress("0xdead000000000000000000000000000000000000"),
			BalanceFrom: big.NewInt(params.Ether),
			BalanceTo:   big.NewInt(0),
		}},
	}
	enc, err := output.Encode()
	require.NoError(t, err)
	forged := proof.NewArtifact(imageID, "mainnet", proof.NewReceipt(proof.Groth16, imageID, common.Hash{}, enc, []byte("not a proof")))

	diff, err := New(imageID, seals, dial(t, committed)).Verify(context.Background(), forged)
	require.ErrorIs(t, err, proof.ErrVerificationFailed)
	require.Nil(t, diff)

	_, err = New(imageID, nil, dial(t, committed)).Verify(context.Background(), forged)
	require.ErrorIs(t, err, proof.ErrVerificationFailed)
}
