package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingPositive is returned when a request carries no positive text.
var ErrMissingPositive = errors.New("request has no positive text")

// Status is the lifecycle code carried by every worker message.
type Status int

const (
	StatusError   Status = -1
	StatusLoading Status = 0
	StatusReady   Status = 1
)

// ValidStatuses is the set of all status codes a worker may emit.
var ValidStatuses = []Status{
	StatusError,
	StatusLoading,
	StatusReady,
}

// IsValid returns true if the status code is recognized.
func (s Status) IsValid() bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Message is anything the worker posts back to its host.
type Message interface {
	StatusCode() Status
}

// Signal is a payload-less readiness notification.
type Signal struct {
	Status Status `json:"status"`
}

func (s Signal) StatusCode() Status { return s.Status }

// Request asks the worker for the embeddings of a positive text and an
// optional negative text. A nil Positive marks the request as malformed;
// an empty Negative means no negative embedding is wanted.
type Request struct {
	ID       string  `json:"id,omitempty"`
	Positive *string `json:"positive"`
	Negative string  `json:"negative"`
}

// NewRequest builds a well-formed request.
func NewRequest(id, positive, negative string) Request {
	return Request{ID: id, Positive: &positive, Negative: negative}
}

// Validate reports whether the request can be served.
func (r Request) Validate() error {
	if r.Positive == nil {
		return ErrMissingPositive
	}
	return nil
}

// WantsNegative returns true when a negative embedding was requested.
func (r Request) WantsNegative() bool {
	return r.Negative != ""
}

// Response carries the embeddings computed for one request.
// Negative marshals to JSON null when no negative text was given.
type Response struct {
	ID       string    `json:"id,omitempty"`
	Status   Status    `json:"status"`
	Positive []float32 `json:"positive"`
	Negative []float32 `json:"negative"`
}

func (r Response) StatusCode() Status { return r.Status }

// ErrorResponse reports a failed request. Workers only emit it when
// explicitly configured to; the default is to stay silent.
type ErrorResponse struct {
	ID     string `json:"id,omitempty"`
	Status Status `json:"status"`
	Error  string `json:"error"`
}

func (e ErrorResponse) StatusCode() Status { return e.Status }

// DecodeRequest parses a single JSON request object.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decoding request: %w", err)
	}
	return req, nil
}

// RequestID returns the correlation ID of a response-like message,
// or "" for readiness signals.
func RequestID(m Message) string {
	switch v := m.(type) {
	case Response:
		return v.ID
	case *Response:
		return v.ID
	case ErrorResponse:
		return v.ID
	case *ErrorResponse:
		return v.ID
	default:
		return ""
	}
}
