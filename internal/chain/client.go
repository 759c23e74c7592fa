package chain

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/kroma-network/kroma-exploit-prover/internal/retry"
)

var ErrNotFound = errors.New("not found")

const (
	localPollInterval   = 100 * time.Millisecond
	defaultPollInterval = 7 * time.Second
)

// average block times of chains we know, used as polling hints
var blockTimes = map[uint64]time.Duration{
	1:     12 * time.Second,
	10:    2 * time.Second,
	56:    3 * time.Second,
	137:   2 * time.Second,
	8453:  2 * time.Second,
	42161: 250 * time.Millisecond,
}

type Config struct {
	Retry retry.Config
	// PollInterval overrides the adaptive interval when non-zero.
	PollInterval time.Duration
}

var DefaultConfig = Config{Retry: retry.DefaultConfig}

// Client is JSON-RPC access to a chain node with the retry policy applied to every call.
type Client struct {
	client       *rpc.Client
	config       Config
	chainID      uint64
	pollInterval time.Duration
	logId        uint64
}

func Dial(ctx context.Context, rawurl string, config Config) (*Client, error) {
	if strings.HasPrefix(rawurl, "localhost:") {
		rawurl = "http://" + rawurl
	}
	client, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", rawurl)
	}
	c := &Client{client: client, config: config}
	if c.chainID, err = c.ChainID(ctx); err != nil {
		client.Close()
		return nil, err
	}
	c.pollInterval = config.PollInterval
	if c.pollInterval == 0 {
		c.pollInterval = pollIntervalHint(rawurl, c.chainID)
	}
	log.Debug("connected to chain node", "url", rawurl, "chainId", c.chainID, "pollInterval", c.pollInterval)
	return c, nil
}

func (c *Client) Close() { c.client.Close() }

func (c *Client) PollInterval() time.Duration { return c.pollInterval }

// ChainIDHint is the chain id read when the client was dialed.
func (c *Client) ChainIDHint() uint64 { return c.chainID }

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	logId := atomic.AddUint64(&c.logId, 1)
	log.Trace("sending RPC request", "method", method, "logId", logId)
	return retry.Do(ctx, c.config.Retry, method, func(ctx context.Context) error {
		return classify(c.client.CallContext(ctx, result, method, args...))
	})
}

// classify marks the errors a retry cannot fix.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500 {
			return err
		}
		return retry.Permanent(err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		// -32005 is the conventional "limit exceeded" code
		if rpcErr.ErrorCode() == -32005 {
			return err
		}
		return retry.Permanent(err)
	}
	return err
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Uint64
	if err := c.call(ctx, &id, "eth_chainId"); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var number hexutil.Uint64
	if err := c.call(ctx, &number, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(number), nil
}

func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*Header, error) {
	var head *rpcHeader
	if err := c.call(ctx, &head, "eth_getBlockByNumber", hexutil.Uint64(number), false); err != nil {
		return nil, err
	}
	if head == nil {
		return nil, errors.Wrapf(ErrNotFound, "block %d", number)
	}
	return head.header(), nil
}

func (c *Client) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	header, err := c.HeaderByNumber(ctx, number)
	if err != nil {
		return common.Hash{}, err
	}
	return header.Hash, nil
}

// Proof fetches an account and the given storage slots together with their
// Merkle proofs against the state root of block number.
func (c *Client) Proof(ctx context.Context, address common.Address, slots []common.Hash, number uint64) (*AccountResult, error) {
	keys := make([]string, len(slots))
	for i, slot := range slots {
		keys[i] = slot.Hex()
	}
	var result AccountResult
	if err := c.call(ctx, &result, "eth_getProof", address, keys, hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	if len(result.StorageProof) != len(slots) {
		return nil, errors.Errorf("eth_getProof returned %d storage proofs for %d slots", len(result.StorageProof), len(slots))
	}
	return &result, nil
}

func (c *Client) Code(ctx context.Context, address common.Address, number uint64) ([]byte, error) {
	var code hexutil.Bytes
	if err := c.call(ctx, &code, "eth_getCode", address, hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	return code, nil
}

// WaitForBlock blocks until the node has mined block number.
func (c *Client) WaitForBlock(ctx context.Context, number uint64) (uint64, error) {
	for {
		head, err := c.BlockNumber(ctx)
		if err != nil {
			return 0, err
		}
		if head >= number {
			return head, nil
		}
		log.Info("waiting for block", "target", number, "head", head)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func pollIntervalHint(rawurl string, chainID uint64) time.Duration {
	if isLocal(rawurl) {
		return localPollInterval
	}
	if blockTime, ok := blockTimes[chainID]; ok {
		return blockTime / 2
	}
	return defaultPollInterval
}

func isLocal(rawurl string) bool {
	u, err := url.Parse(rawurl)
	if err != nil || u.Scheme == "" {
		// bare paths are IPC endpoints
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}
