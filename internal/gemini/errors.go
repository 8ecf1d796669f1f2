package gemini

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies upstream failures into the small set the HTTP
// boundary knows how to surface.
type ErrorKind int

const (
	KindUpstream ErrorKind = iota
	KindBadRequest
	KindAuth
	KindNotFound
	KindRateLimited
)

// APIError is a normalized upstream failure. Message is sanitized; the raw
// backend body is logged by the client and never carried here.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: %s (status %d)", e.Message, e.StatusCode)
}

// AsAPIError unwraps err into an APIError, or nil.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// classifyStatus maps a non-2xx upstream status to a sanitized APIError.
func classifyStatus(status int) *APIError {
	switch {
	case status == http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimited, StatusCode: status, Message: "rate limited by upstream"}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &APIError{Kind: KindAuth, StatusCode: status, Message: "upstream rejected credentials"}
	case status == http.StatusNotFound:
		return &APIError{Kind: KindNotFound, StatusCode: status, Message: "model or endpoint not found"}
	case status >= 400 && status < 500:
		return &APIError{Kind: KindBadRequest, StatusCode: status, Message: "upstream rejected the request"}
	default:
		return &APIError{Kind: KindUpstream, StatusCode: status, Message: "upstream error"}
	}
}
