package proof

import (
	"context"
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

var ErrVerificationFailed = errors.New("attestation verification failed")

type ReceiptKind uint8

const (
	// Succinct receipts come straight out of a proving session.
	Succinct ReceiptKind = iota
	// Groth16 receipts are converted from succinct ones and verifiable on chain.
	Groth16
)

func (k ReceiptKind) String() string {
	if k == Groth16 {
		return "groth16"
	}
	return "succinct"
}

// Claim is what a receipt attests: the program, its exit and what it committed.
type Claim struct {
	ImageID         ImageID
	PostStateDigest common.Hash
	ExitCode        uint32
	JournalDigest   common.Hash
}

func (c *Claim) Digest() common.Hash {
	enc, _ := rlp.EncodeToBytes(c)
	return sha256.Sum256(enc)
}

type Receipt struct {
	Kind    ReceiptKind
	Seal    []byte
	Claim   Claim
	Journal []byte
}

// NewReceipt binds journal to a claim of imageID with a clean exit.
func NewReceipt(kind ReceiptKind, imageID ImageID, postStateDigest common.Hash, journal []byte, seal []byte) *Receipt {
	return &Receipt{
		Kind: kind,
		Seal: seal,
		Claim: Claim{
			ImageID:         imageID,
			PostStateDigest: postStateDigest,
			JournalDigest:   sha256.Sum256(journal),
		},
		Journal: journal,
	}
}

// SealVerifier checks the cryptographic seal of a receipt against its claim.
type SealVerifier interface {
	VerifySeal(ctx context.Context, receipt *Receipt) error
}

// Verify checks that the receipt attests a clean run of imageID that committed its
// journal, and that verifier accepts its seal.
func (r *Receipt) Verify(ctx context.Context, imageID ImageID, verifier SealVerifier) error {
	if r.Claim.ImageID != imageID {
		return errors.Wrapf(ErrVerificationFailed, "receipt is for image %s, expected %s", r.Claim.ImageID, imageID)
	}
	if r.Claim.ExitCode != 0 {
		return errors.Wrapf(ErrVerificationFailed, "guest exited with code %d", r.Claim.ExitCode)
	}
	if digest := common.Hash(sha256.Sum256(r.Journal)); digest != r.Claim.JournalDigest {
		return errors.Wrapf(ErrVerificationFailed, "journal digest %s, claim has %s", digest, r.Claim.JournalDigest)
	}
	if verifier == nil {
		return errors.Wrap(ErrVerificationFailed, "no seal verifier")
	}
	if err := verifier.VerifySeal(ctx, r); err != nil {
		return errors.Wrapf(ErrVerificationFailed, "%s seal rejected: %v", r.Kind, err)
	}
	return nil
}

func (r *Receipt) Encode() ([]byte, error) { return rlp.EncodeToBytes(r) }

func DecodeReceipt(enc []byte) (*Receipt, error) {
	var receipt Receipt
	if err := rlp.DecodeBytes(enc, &receipt); err != nil {
		return nil, errors.Wrap(err, "failed to decode receipt")
	}
	return &receipt, nil
}
