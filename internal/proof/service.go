package proof

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/kroma-network/kroma-exploit-prover/internal/journal"
	"github.com/kroma-network/kroma-exploit-prover/internal/witness"
)

// ErrOutputMismatch is reported when the attested journal differs from the expected
// output. It is returned inside the Result, the caller decides what to do with it.
var ErrOutputMismatch = errors.New("output mismatch")

type Config struct {
	Chain string
	// Snark converts the succinct receipt into a Groth16 one before packaging.
	Snark bool
	// SealVerifier checks seals of attestations and cached artifacts. When nil the
	// program is used if it is a SealVerifier, otherwise every attestation fails.
	SealVerifier SealVerifier
}

type Request struct {
	Witness     *witness.Bundle
	Expected    *journal.Output
	Assumptions []string
}

type Result struct {
	Artifact *Artifact
	JobID    string
	Output   *journal.Output
	// Anomaly is ErrOutputMismatch when the attested output is not the expected one.
	Anomaly error
	Cached  bool
}

type releaser interface{ Release() }

// Service drives one proof request at a time through a backend and packages it.
type Service struct {
	program   Program
	backend   Backend
	converter Converter
	repo      Repository
	config    Config
	mu        sync.Mutex
	proving   atomic.Bool
}

// NewService wires a backend. converter may be nil when no Groth16 conversion is wanted,
// repo may be nil to disable the artifact cache.
func NewService(program Program, backend Backend, converter Converter, repo Repository, config Config) *Service {
	if config.SealVerifier == nil {
		if seals, ok := program.(SealVerifier); ok {
			config.SealVerifier = seals
		}
	}
	return &Service{program: program, backend: backend, converter: converter, repo: repo, config: config}
}

func (s *Service) ImageID() ImageID { return s.program.ImageID() }

// Proving reports whether a request is being proven.
func (s *Service) Proving() bool { return s.proving.Load() }

// Execute runs the guest on the witness without proving and decodes its journal.
func (s *Service) Execute(ctx context.Context, bundle *witness.Bundle) (*journal.Output, error) {
	input, err := encodeWitness(bundle)
	if err != nil {
		return nil, err
	}
	raw, err := s.ExecuteInput(ctx, input)
	if err != nil {
		return nil, err
	}
	return journal.Decode(raw)
}

// ExecuteInput runs the guest on an encoded input and returns the raw journal.
func (s *Service) ExecuteInput(ctx context.Context, input []uint32) ([]byte, error) {
	return s.program.Execute(ctx, input)
}

func (s *Service) Prove(ctx context.Context, request *Request) (*Result, error) {
	input, err := encodeWitness(request.Witness)
	if err != nil {
		return nil, err
	}
	result, err := s.ProveInput(ctx, input, request.Assumptions)
	if err != nil {
		return nil, err
	}
	if result.Output, err = journal.Decode(result.Artifact.Receipt.Journal); err != nil {
		return nil, err
	}
	if request.Expected != nil && !journal.Equal(request.Expected, result.Output) {
		log.Error("Output mismatch!", "job", result.JobID,
			"blockHashes", len(result.Output.BlockHashes), "expectedBlockHashes", len(request.Expected.BlockHashes),
			"accounts", len(result.Output.StateDiff), "expectedAccounts", len(request.Expected.StateDiff))
		result.Anomaly = errors.Wrapf(ErrOutputMismatch, "journal of %s", result.Artifact.ImageID)
	} else {
		log.Info("Receipt validated!", "job", result.JobID)
	}
	return result, nil
}

// ProveInput proves an already encoded guest input. Identical inputs are served from
// the repository without proving.
func (s *Service) ProveInput(ctx context.Context, input []uint32, assumptions []string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proving.Store(true)
	defer s.proving.Store(false)
	for _, used := range []any{s.backend, s.converter} {
		if r, ok := used.(releaser); ok {
			defer r.Release()
		}
	}

	imageID := s.program.ImageID()
	id := computeId(append(imageID.Bytes(), InputBytes(input)...))
	if s.repo != nil {
		artifact, err := s.repo.Find(ctx, id)
		if err != nil {
			log.Warn("failed to read cached artifact", "id", id, "err", err)
		} else if artifact != nil && artifact.ImageID == imageID && (!s.config.Snark || artifact.Receipt.Kind == Groth16) {
			if err := artifact.Receipt.Verify(ctx, imageID, s.config.SealVerifier); err != nil {
				log.Warn("cached artifact rejected, proving again", "id", id, "err", err)
			} else {
				log.Info("found cached artifact", "id", id)
				return &Result{Artifact: artifact, Cached: true}, nil
			}
		}
	}

	log.Info("prove start", "id", id, "image", imageID, "backend", s.backend.Name(), "inputWords", len(input))
	job, err := s.backend.Submit(ctx, s.program, input, assumptions)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Await(ctx, job); err != nil {
		return nil, err
	}
	receipt, err := s.backend.Attestation(ctx, job)
	if err != nil {
		return nil, err
	}
	if err := receipt.Verify(ctx, imageID, s.config.SealVerifier); err != nil {
		log.Error("receipt verification failed", "job", job.ID, "err", err)
		return nil, err
	}
	log.Info("prove complete", "id", id, "job", job.ID)

	if s.config.Snark {
		if s.converter == nil {
			return nil, errors.New("groth16 conversion needs a remote backend")
		}
		if receipt, err = s.converter.Convert(ctx, receipt); err != nil {
			return nil, err
		}
		if err := receipt.Verify(ctx, imageID, s.config.SealVerifier); err != nil {
			return nil, err
		}
	}

	artifact := NewArtifact(imageID, s.config.Chain, receipt)
	if s.repo != nil {
		if err := s.repo.Save(ctx, id, artifact); err != nil {
			log.Warn("failed to save artifact", "id", id, "err", err)
		}
	}
	return &Result{Artifact: artifact, JobID: job.ID}, nil
}

func (s *Service) Close() {
	if s.repo != nil {
		s.repo.Close()
	}
}

func encodeWitness(bundle *witness.Bundle) ([]uint32, error) {
	enc, err := bundle.Encode()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode witness")
	}
	return EncodeInput(enc), nil
}
