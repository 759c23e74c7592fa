package proof

import (
	"context"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/kroma-network/kroma-exploit-prover/internal/retry"
)

// Host is a self-hosted proving machine that is only kept up while proving.
type Host interface {
	StartIfNotRunning() error
	StopIfRunning()
	Running() bool
	// Endpoint is the base URL of the proving service on the host.
	Endpoint() string
}

type RemoteConfig struct {
	URL     string
	APIKey  string
	Version string
	// PollInterval is the sleep between status polls.
	PollInterval time.Duration
	// MaxStatusFailures consecutive failed polls abort the job.
	MaxStatusFailures int
	Retry             retry.Config
	// Host, when set, is started before the first call and serves the API.
	Host Host
}

var DefaultRemoteConfig = RemoteConfig{
	PollInterval:      15 * time.Second,
	MaxStatusFailures: 8,
	Retry:             retry.DefaultConfig,
}

// Remote proves on an asynchronous proving service: image and input are uploaded,
// a session is created and its status polled until it is terminal.
type Remote struct {
	config RemoteConfig
	client *apiClient
}

func NewRemote(config RemoteConfig) *Remote {
	if config.PollInterval == 0 {
		config.PollInterval = DefaultRemoteConfig.PollInterval
	}
	if config.MaxStatusFailures == 0 {
		config.MaxStatusFailures = DefaultRemoteConfig.MaxStatusFailures
	}
	return &Remote{config: config}
}

func (r *Remote) Name() string { return "remote" }

func (r *Remote) Submit(ctx context.Context, program Program, input []uint32, assumptions []string) (*Job, error) {
	c, err := r.api(ctx)
	if err != nil {
		return nil, err
	}
	imageID := program.ImageID().String()
	image, err := send[UploadResponse](ctx, c, r.config.Retry, "GET", "images/upload/"+imageID, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to request image upload")
	}
	if image == nil {
		log.Info("image already uploaded", "image", imageID)
	} else if err := c.put(ctx, r.config.Retry, image.URL, program.Binary()); err != nil {
		return nil, errors.Wrap(err, "failed to upload image")
	}

	inputID, err := r.upload(ctx, c, "inputs/upload", InputBytes(input))
	if err != nil {
		return nil, errors.Wrap(err, "failed to upload input")
	}
	session, err := send[CreateResponse](ctx, c, r.config.Retry, "POST", "sessions/create",
		&CreateSessionRequest{Image: imageID, Input: inputID, Assumptions: nonNil(assumptions)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}
	if session == nil || session.UUID == "" {
		return nil, errors.New("proving service returned no session id")
	}
	job := newJob(session.UUID, r.Name(), assumptions)
	job.transition(Submitted)
	log.Info("created proving session", "session", job.ID, "image", imageID, "input", inputID)
	return job, nil
}

func (r *Remote) Await(ctx context.Context, job *Job) error {
	if job.State.Terminal() {
		return nil
	}
	resp, err := poll(ctx, r, job, "sessions/status/", func(s *SessionStatusResponse) (string, string, string) {
		return s.Status, s.State, s.ErrorMsg
	})
	if err != nil {
		return err
	}
	if resp.ReceiptURL == "" {
		return job.fail(resp.Status, "completed session has no receipt")
	}
	job.receiptURL = resp.ReceiptURL
	job.transition(Succeeded)
	return nil
}

func (r *Remote) Attestation(ctx context.Context, job *Job) (*Receipt, error) {
	if job.State != Succeeded {
		return nil, errors.Wrapf(ErrJobNotSucceeded, "job %s is %s", job.ID, job.State)
	}
	if job.receipt != nil {
		return job.receipt, nil
	}
	c, err := r.api(ctx)
	if err != nil {
		return nil, err
	}
	enc, err := c.download(ctx, r.config.Retry, job.receiptURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download receipt of %s", job.ID)
	}
	if job.receipt, err = DecodeReceipt(enc); err != nil {
		return nil, err
	}
	return job.receipt, nil
}

// Release stops the host, if any. The next call starts it again.
func (r *Remote) Release() {
	if r.config.Host != nil {
		r.config.Host.StopIfRunning()
		r.client = nil
	}
}

// Running reports whether the host is up. Without a host the service is always up.
func (r *Remote) Running() bool {
	return r.config.Host == nil || r.config.Host.Running()
}

func (r *Remote) upload(ctx context.Context, c *apiClient, path string, data []byte) (string, error) {
	target, err := send[UploadResponse](ctx, c, r.config.Retry, "GET", path, nil)
	if err != nil {
		return "", err
	}
	if target == nil || target.URL == "" {
		return "", errors.Errorf("%s returned no upload url", path)
	}
	if err := c.put(ctx, r.config.Retry, target.URL, data); err != nil {
		return "", err
	}
	return target.UUID, nil
}

func (r *Remote) api(ctx context.Context) (*apiClient, error) {
	if r.client != nil {
		return r.client, nil
	}
	host := r.config.Host
	if host == nil {
		r.client = newApiClient(r.config.URL, r.config.APIKey, r.config.Version)
		return r.client, nil
	}
	if err := host.StartIfNotRunning(); err != nil {
		return nil, err
	}
	client := newApiClient(host.Endpoint(), r.config.APIKey, r.config.Version)
	for { // Wait for the proving service to run.
		_, err := send[struct{}](ctx, client, retry.Config{RequestTimeout: r.config.Retry.RequestTimeout}, "GET", "version", nil)
		if err == nil {
			break
		}
		var urlError *url.Error
		if !errors.As(err, &urlError) {
			// unexpected error
			return nil, err
		}
		log.Info("host started. but proving service not ready. waiting...", "endpoint", host.Endpoint())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	r.client = client
	return client, nil
}

// poll reads the status at path+job.ID until it is terminal. Each poll is a single
// request. Failed polls are tolerated up to MaxStatusFailures in a row.
func poll[T any](ctx context.Context, r *Remote, job *Job, path string, status func(*T) (string, string, string)) (*T, error) {
	c, err := r.api(ctx)
	if err != nil {
		return nil, err
	}
	once := retry.Config{RequestTimeout: r.config.Retry.RequestTimeout}
	failures := 0
	for {
		resp, err := send[T](ctx, c, once, "GET", path+job.ID, nil)
		if err == nil && resp == nil {
			err = errors.New("empty status response")
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			if failures >= r.config.MaxStatusFailures {
				return nil, errors.Wrapf(err, "status of %s failed %d times in a row", job.ID, failures)
			}
			log.Warn("status request failed", "job", job.ID, "attempt", failures, "max", r.config.MaxStatusFailures, "err", err)
		} else {
			failures = 0
			state, detail, message := status(resp)
			switch state {
			case statusRunning:
				job.transition(Running)
				log.Info("current status - continue polling...", "job", job.ID, "status", state, "state", detail)
			case statusSucceeded:
				return resp, nil
			default:
				return nil, job.fail(state, message)
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.config.PollInterval):
		}
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
