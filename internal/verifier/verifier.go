// Package verifier checks that a proof artifact still holds against the live chain.
package verifier

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/kroma-network/kroma-exploit-prover/internal/journal"
	"github.com/kroma-network/kroma-exploit-prover/internal/proof"
)

var ErrChainReorganization = errors.New("chain reorganization detected")

// ReorgError is a committed block hash that is no longer canonical.
type ReorgError struct {
	Number    uint64
	Committed common.Hash
	Live      common.Hash
}

func (e *ReorgError) Error() string {
	return fmt.Sprintf("%v: block %d committed as %s, chain has %s", ErrChainReorganization, e.Number, e.Committed, e.Live)
}

func (e *ReorgError) Is(target error) bool { return target == ErrChainReorganization }

type BlockSource interface {
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
}

type Verifier struct {
	imageID proof.ImageID
	seals   proof.SealVerifier
	source  BlockSource
}

// New checks artifacts of imageID against source. seals checks their attestations.
func New(imageID proof.ImageID, seals proof.SealVerifier, source BlockSource) *Verifier {
	return &Verifier{imageID: imageID, seals: seals, source: source}
}

// Verify checks the attestation and every committed block hash, and returns the
// attested state diff.
func (v *Verifier) Verify(ctx context.Context, artifact *proof.Artifact) (journal.StateDiff, error) {
	if artifact.ImageID != v.imageID {
		return nil, errors.Wrapf(proof.ErrVerificationFailed, "artifact is for image %s, expected %s", artifact.ImageID, v.imageID)
	}
	if err := artifact.Receipt.Verify(ctx, v.imageID, v.seals); err != nil {
		return nil, err
	}
	output, err := journal.Decode(artifact.Receipt.Journal)
	if err != nil {
		return nil, err
	}
	for _, committed := range output.BlockHashes {
		live, err := v.source.BlockHash(ctx, committed.Number)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch block %d", committed.Number)
		}
		if live != committed.Hash {
			log.Warn("block hash mismatch", "number", committed.Number, "committed", committed.Hash, "live", live)
			return nil, &ReorgError{Number: committed.Number, Committed: committed.Hash, Live: live}
		}
	}
	log.Info("artifact verified", "image", v.imageID, "chain", artifact.Chain, "blocks", len(output.BlockHashes), "accounts", len(output.StateDiff))
	return output.StateDiff, nil
}
