package proof

import (
	"context"
	"crypto/md5"
	"encoding/hex"

	"github.com/pkg/errors"
)

var ErrJobNotSucceeded = errors.New("job has not succeeded")

// Backend drives a Job from submission to an attestation.
type Backend interface {
	Name() string
	Submit(ctx context.Context, program Program, input []uint32, assumptions []string) (*Job, error)
	// Await blocks until the job is terminal. A failed job yields a *JobError.
	Await(ctx context.Context, job *Job) error
	Attestation(ctx context.Context, job *Job) (*Receipt, error)
}

// Converter turns a succinct receipt into a Groth16 one.
type Converter interface {
	Convert(ctx context.Context, succinct *Receipt) (*Receipt, error)
}

// Local proves in-process. Await does the work, no polling takes place.
type Local struct {
	program Program
	input   []uint32
}

func NewLocal() *Local { return &Local{} }

func (l *Local) Name() string { return "local" }

func (l *Local) Submit(ctx context.Context, program Program, input []uint32, assumptions []string) (*Job, error) {
	if len(assumptions) != 0 {
		return nil, errors.New("local proving does not resolve assumptions")
	}
	l.program, l.input = program, input
	job := newJob(computeId(InputBytes(input)), l.Name(), nil)
	job.transition(Submitted)
	return job, nil
}

func (l *Local) Await(ctx context.Context, job *Job) error {
	if job.State.Terminal() {
		return nil
	}
	job.transition(Running)
	receipt, err := l.program.Prove(ctx, l.input)
	if err != nil {
		return job.fail("ERROR", err.Error())
	}
	job.receipt = receipt
	job.transition(Succeeded)
	return nil
}

func (l *Local) Attestation(ctx context.Context, job *Job) (*Receipt, error) {
	if job.State != Succeeded {
		return nil, errors.Wrapf(ErrJobNotSucceeded, "job %s is %s", job.ID, job.State)
	}
	return job.receipt, nil
}

func computeId(b []byte) string {
	hash := md5.Sum(b)
	return hex.EncodeToString(hash[:])
}
