package proof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/kroma-network/kroma-exploit-prover/internal/journal"
)

type (
	ProveParams struct {
		Bytecode       hexutil.Bytes  `json:"bytecode"`
		BlockNumber    hexutil.Uint64 `json:"blockNumber"`
		InitialBalance *hexutil.Big   `json:"initialBalance,omitempty"`
		Author         common.Address `json:"author"`
	}

	ProveResponse struct {
		Artifact hexutil.Bytes  `json:"artifact"`
		ImageID  string         `json:"imageId"`
		JobID    string         `json:"jobId,omitempty"`
		GasUsed  hexutil.Uint64 `json:"gasUsed"`
		Cached   bool           `json:"cached"`
		Onchain  hexutil.Bytes  `json:"onchain,omitempty"`
		Anomaly  string         `json:"anomaly,omitempty"`
	}
)

// Handler implements the methods served over JSON-RPC.
type Handler interface {
	Prove(ctx context.Context, params *ProveParams) (*ProveResponse, error)
	Verify(ctx context.Context, artifact []byte) (journal.StateDiff, error)
}

type Server struct {
	handler Handler
	service *Service
	running func() bool
}

// NewServer serves handler. running reports the state of the proving host for /health.
func NewServer(handler Handler, service *Service, running func() bool) *Server {
	return &Server{handler: handler, service: service, running: running}
}

type jsonRpcRequest struct {
	Jsonrpc string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	Id      any               `json:"id"`
}

func (s *Server) ServeHTTP(writer http.ResponseWriter, httpRequest *http.Request) {
	switch httpRequest.URL.Path {
	case "/":
		s.serveJsonRpc(writer, httpRequest)
	case "/health":
		response := map[string]interface{}{
			"status":      "ok",
			"hostRunning": s.running(),
			"proving":     s.service.Proving(),
		}
		err := json.NewEncoder(writer).Encode(response)
		if err != nil {
			http.Error(writer, "Failed to encode JSON response", http.StatusInternalServerError)
		}
	default:
		http.NotFound(writer, httpRequest)
	}
}

func (s *Server) serveJsonRpc(writer http.ResponseWriter, httpRequest *http.Request) {
	var request jsonRpcRequest
	err := json.NewDecoder(httpRequest.Body).Decode(&request)
	if err != nil {
		http.Error(writer, "Failed to decode JSON request", http.StatusBadRequest)
		return
	}
	if request.Method == "" {
		http.Error(writer, "Method not found in JSON request", http.StatusBadRequest)
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.Id,
	}

	if result, err := s.callMethod(httpRequest.Context(), request.Method, request.Params); err != nil {
		rpcError := NewJsonRpcErrorFromErrorOrNil(err)
		if rpcError == nil {
			rpcError = NewJsonRpcErrorFromString(err.Error())
		}
		response["error"] = rpcError
	} else {
		response["result"] = result
	}

	writer.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(writer).Encode(response)
	if err != nil {
		http.Error(writer, "Failed to encode JSON response", http.StatusInternalServerError)
	}
}

func (s *Server) callMethod(ctx context.Context, method string, params []json.RawMessage) (any, error) {
	switch method {
	case "prove":
		log.Info("prove requested")
		if len(params) != 1 {
			return nil, errors.New("prove expects one parameter")
		}
		var p ProveParams
		if err := json.Unmarshal(params[0], &p); err != nil {
			return nil, fmt.Errorf("failed to read prove parameter: %w", err)
		}
		return s.handler.Prove(ctx, &p)
	case "verify":
		log.Info("verify requested")
		if len(params) != 1 {
			return nil, errors.New("verify expects one parameter")
		}
		var artifact hexutil.Bytes
		if err := json.Unmarshal(params[0], &artifact); err != nil {
			return nil, fmt.Errorf("failed to read artifact parameter: %w", err)
		}
		return s.handler.Verify(ctx, artifact)
	default:
		return nil, &JsonRpcError{Code: -32601, Message: fmt.Sprintf("unsupported method %s", method)}
	}
}

func (s *Server) Close() {
	s.service.Close()
}
