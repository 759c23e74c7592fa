package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/kroma-network/kroma-exploit-prover/internal/retry"
)

// apiClient speaks the REST API of a remote proving service.
type apiClient struct {
	address string
	apiKey  string
	version string
	client  *http.Client
}

func newApiClient(address string, apiKey string, version string) *apiClient {
	return &apiClient{address: strings.TrimSuffix(address, "/"), apiKey: apiKey, version: version, client: &http.Client{}}
}

// APIError is a non-2xx answer of the proving service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string { return fmt.Sprintf("[%d] %s", e.StatusCode, e.Body) }

type JsonRpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func NewJsonRpcErrorFromString(err string) *JsonRpcError {
	return &JsonRpcError{Code: -32000, Message: err}
}

func NewJsonRpcErrorFromErrorOrNil(err error) (rpcError *JsonRpcError) {
	errors.As(err, &rpcError)
	return
}

func (j *JsonRpcError) Error() string { return fmt.Sprintf("[%d] %s", j.Code, j.Message) }

// send issues one API call under the retry policy. A 204 answer yields a nil result.
func send[T any](ctx context.Context, c *apiClient, cfg retry.Config, method string, path string, body any) (*T, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, errors.Wrap(err, "failed to json.Marshal")
		}
	}
	return retry.Value(ctx, cfg, method+" "+path, func(ctx context.Context) (*T, error) {
		request, err := http.NewRequestWithContext(ctx, method, c.address+"/"+path, bytes.NewReader(payload))
		if err != nil {
			return nil, retry.Permanent(err)
		}
		request.Header.Set("Content-Type", "application/json")
		request.Header.Set("x-api-key", c.apiKey)
		request.Header.Set("x-prover-version", c.version)
		jsonBytes, status, err := c.do(request)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNoContent {
			return nil, nil
		}
		var response T
		if err = json.Unmarshal(jsonBytes, &response); err != nil {
			log.Warn("failed to json.Unmarshal", "path", path, "err", err, "body", string(jsonBytes))
			return nil, retry.Permanent(errors.Wrapf(err, "failed to json.Unmarshal %s response", path))
		}
		return &response, nil
	})
}

// put uploads data to a (presigned) URL handed out by the service.
func (c *apiClient) put(ctx context.Context, cfg retry.Config, url string, data []byte) error {
	return retry.Do(ctx, cfg, "PUT upload", func(ctx context.Context) error {
		request, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
		if err != nil {
			return retry.Permanent(err)
		}
		request.Header.Set("Content-Type", "application/octet-stream")
		_, _, err = c.do(request)
		return err
	})
}

func (c *apiClient) download(ctx context.Context, cfg retry.Config, url string) ([]byte, error) {
	return retry.Value(ctx, cfg, "GET download", func(ctx context.Context) ([]byte, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		request.Header.Set("x-api-key", c.apiKey)
		body, _, err := c.do(request)
		return body, err
	})
}

// do performs the request. Server errors and 429 stay retryable, other non-2xx
// answers are permanent.
func (c *apiClient) do(request *http.Request) ([]byte, int, error) {
	httpResponse, err := c.client.Do(request)
	if err != nil {
		return nil, 0, err
	}
	defer httpResponse.Body.Close()
	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, 0, err
	}
	if httpResponse.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: httpResponse.StatusCode, Body: string(bytes.TrimSpace(body))}
		if httpResponse.StatusCode == http.StatusTooManyRequests || httpResponse.StatusCode >= 500 {
			return nil, 0, apiErr
		}
		return nil, 0, retry.Permanent(apiErr)
	}
	return body, httpResponse.StatusCode, nil
}
