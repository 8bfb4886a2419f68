package handler

import (
	"time"

	"github.com/yndnr/chainstate-go/internal/core/domain"
)

// Error codes produced by the handler itself. Storage errors keep their own
// codes.
const (
	CodeOK          = "OK"
	CodeBadBody     = "CS-HTTP-4001"
	CodeNoHeaders   = "CS-HTTP-5010"
	CodeUnavailable = "CS-HTTP-5030"
	CodeInternal    = "CS-HTTP-5000"
)

// Response is the standard API response envelope.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      CodeOK,
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// DumpResponse describes one dump in GET /v1/dumps.
type DumpResponse struct {
	Hash      domain.BlockHash `json:"hash"`
	Size      int64            `json:"size"`
	Refs      int              `json:"refs"`
	CreatedAt time.Time        `json:"created_at"`
}

// RecycleResponse is the response body for POST /v1/dumps/recycle.
type RecycleResponse struct {
	Removed int `json:"removed"`
}

// DigestResponse is the response body for GET /v1/snapshots/{hash}/digest.
type DigestResponse struct {
	Hash   domain.BlockHash `json:"hash"`
	Digest string           `json:"digest"`
}

// PutHeaderRequest is the request body for PUT /v1/headers/{hash}.
type PutHeaderRequest struct {
	PreBlockHash domain.BlockHash `json:"pre_block_hash"`
	Number       uint64           `json:"number"`
}
