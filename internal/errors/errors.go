// Package errors writes the public OpenAI-shaped error envelope and maps
// internal failures onto it.
package errors

import (
	"encoding/json"
	goerrors "errors"
	"net/http"

	"gemini-bridge/internal/auth"
	"gemini-bridge/internal/gemini"
)

const (
	TypeInvalidRequest = "invalid_request_error"
	TypeAuthentication = "authentication_error"
	TypeRateLimit      = "rate_limit_error"
	TypeServer         = "server_error"
)

type errorBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// WriteError writes the {error:{message,type,param,code}} envelope.
func WriteError(w http.ResponseWriter, statusCode int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Message: message, Type: errType}})
}

// WriteInvalidRequest writes a 400 invalid_request_error.
func WriteInvalidRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, TypeInvalidRequest, message)
}

// WriteUpstreamError maps a normalized upstream or auth failure to the
// public surface: 429 rate_limit_error, 401 authentication_error (which also
// covers upstream 403s), 400 invalid_request_error, else 500 server_error.
func WriteUpstreamError(w http.ResponseWriter, err error) {
	if goerrors.Is(err, auth.ErrNotAuthenticated) {
		WriteError(w, http.StatusUnauthorized, TypeAuthentication, err.Error())
		return
	}
	if apiErr := gemini.AsAPIError(err); apiErr != nil {
		switch apiErr.Kind {
		case gemini.KindRateLimited:
			WriteError(w, http.StatusTooManyRequests, TypeRateLimit, apiErr.Message)
		case gemini.KindAuth:
			WriteError(w, http.StatusUnauthorized, TypeAuthentication, apiErr.Message)
		case gemini.KindBadRequest:
			WriteError(w, http.StatusBadRequest, TypeInvalidRequest, apiErr.Message)
		default:
			WriteError(w, http.StatusInternalServerError, TypeServer, apiErr.Message)
		}
		return
	}
	WriteError(w, http.StatusInternalServerError, TypeServer, "upstream request failed")
}
