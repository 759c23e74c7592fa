package proof

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"
)

type JobState int

const (
	Created JobState = iota
	Submitted
	Running
	Succeeded
	Failed
)

func (s JobState) String() string {
	switch s {
	case Created:
		return "created"
	case Submitted:
		return "submitted"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s JobState) Terminal() bool { return s == Succeeded || s == Failed }

// Job is one submission to a proving backend. Only the backend that created it moves
// it forward, and it reaches a terminal state once.
type Job struct {
	ID          string
	Backend     string
	State       JobState
	Assumptions []string
	Message     string

	receiptURL string
	receipt    *Receipt
}

func newJob(id string, backend string, assumptions []string) *Job {
	return &Job{ID: id, Backend: backend, State: Created, Assumptions: assumptions}
}

func (j *Job) transition(to JobState) {
	if j.State.Terminal() {
		log.Error("ignoring transition of terminated job", "job", j.ID, "state", j.State, "to", to)
		return
	}
	if j.State != to {
		log.Info("proof job state changed", "job", j.ID, "backend", j.Backend, "from", j.State, "to", to)
	}
	j.State = to
}

func (j *Job) fail(status string, message string) error {
	j.Message = message
	j.transition(Failed)
	return &JobError{JobID: j.ID, Status: status, Message: message}
}

// JobError is a job that terminated without an attestation.
type JobError struct {
	JobID   string
	Status  string
	Message string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("proof job %s exited with %s: %s", e.JobID, e.Status, e.Message)
}
