package proof

import "github.com/ethereum/go-ethereum/common/hexutil"

type (
	UploadResponse struct {
		UUID string `json:"uuid"`
		URL  string `json:"url"`
	}

	CreateSessionRequest struct {
		Image       string   `json:"img"`
		Input       string   `json:"input"`
		Assumptions []string `json:"assumptions"`
	}

	CreateSnarkRequest struct {
		SessionID string `json:"session_id"`
	}

	CreateResponse struct {
		UUID string `json:"uuid"`
	}

	SessionStatusResponse struct {
		Status     string `json:"status"`
		ReceiptURL string `json:"receipt_url,omitempty"`
		ErrorMsg   string `json:"error_msg,omitempty"`
		State      string `json:"state,omitempty"`
	}

	SnarkStatusResponse struct {
		Status   string        `json:"status"`
		Output   *SnarkReceipt `json:"output,omitempty"`
		ErrorMsg string        `json:"error_msg,omitempty"`
	}

	SnarkReceipt struct {
		Snark           hexutil.Bytes `json:"snark"`
		PostStateDigest hexutil.Bytes `json:"post_state_digest"`
		Journal         hexutil.Bytes `json:"journal"`
	}
)

const (
	statusRunning   = "RUNNING"
	statusSucceeded = "SUCCEEDED"
)
