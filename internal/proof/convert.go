package proof

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

var (
	ErrPostStateMismatch = errors.New("succinct/groth16 post state digest mismatch")
	ErrJournalMismatch   = errors.New("succinct/groth16 journal mismatch")
)

// Convert uploads the succinct receipt and drives a Groth16 conversion job on the
// proving service. The result is cross-validated against the input.
func (r *Remote) Convert(ctx context.Context, succinct *Receipt) (*Receipt, error) {
	c, err := r.api(ctx)
	if err != nil {
		return nil, err
	}
	enc, err := succinct.Encode()
	if err != nil {
		return nil, err
	}
	receiptID, err := r.upload(ctx, c, "receipts/upload", enc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upload receipt")
	}
	created, err := send[CreateResponse](ctx, c, r.config.Retry, "POST", "snark/create", &CreateSnarkRequest{SessionID: receiptID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create snark job")
	}
	if created == nil || created.UUID == "" {
		return nil, errors.New("proving service returned no snark job id")
	}
	job := newJob(created.UUID, r.Name(), []string{receiptID})
	job.transition(Submitted)
	log.Info("submitted snark workload", "job", job.ID, "receipt", receiptID)

	resp, err := poll(ctx, r, job, "snark/status/", func(s *SnarkStatusResponse) (string, string, string) {
		return s.Status, "", s.ErrorMsg
	})
	if err != nil {
		return nil, err
	}
	if resp.Output == nil {
		return nil, job.fail(resp.Status, "response is missing the snark receipt")
	}
	job.transition(Succeeded)
	output := resp.Output
	if len(output.PostStateDigest) != common.HashLength {
		return nil, errors.Errorf("snark post state digest has %d bytes", len(output.PostStateDigest))
	}
	snark := NewReceipt(Groth16, succinct.Claim.ImageID, common.BytesToHash(output.PostStateDigest), output.Journal, output.Snark)
	if err := CrossValidate(succinct, snark); err != nil {
		return nil, err
	}
	return snark, nil
}

// CrossValidate requires both receipts to attest the same post state and journal.
func CrossValidate(succinct *Receipt, groth16 *Receipt) error {
	if succinct.Claim.PostStateDigest != groth16.Claim.PostStateDigest {
		log.Error("SNARK/STARK post state digest mismatch",
			"stark", succinct.Claim.PostStateDigest, "snark", groth16.Claim.PostStateDigest)
		return errors.Wrapf(ErrPostStateMismatch, "%s != %s", succinct.Claim.PostStateDigest, groth16.Claim.PostStateDigest)
	}
	if !bytes.Equal(succinct.Journal, groth16.Journal) {
		log.Error("SNARK/STARK receipt journal mismatch",
			"stark", hex.EncodeToString(succinct.Journal), "snark", hex.EncodeToString(groth16.Journal))
		return errors.Wrapf(ErrJournalMismatch, "%d and %d bytes", len(succinct.Journal), len(groth16.Journal))
	}
	return nil
}
