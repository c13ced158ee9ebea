package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Error codes returned in the error envelope. Clients branch on code, not on
// message text.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeInvalidScope      = "invalid_scope"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeInvalidSignature  = "invalid_signature"
	CodeNonceReplay       = "nonce_replay"
	CodeRateLimited       = "rate_limited"
	CodeChallengeUnavail  = "challenge_unavailable"
	CodeSyncTokenUnavail  = "sync_token_unavailable"
	CodeKhalaTokenUnavail = "khala_token_unavailable"
	CodeNotReady          = "not_ready"
	CodeInternal          = "internal_error"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type dataEnvelope struct {
	Data interface{} `json:"data"`
}

func writeData(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dataEnvelope{Data: v})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorDetail{Code: code, Message: message}})
}

// decodeBody decodes the JSON request body into dst. An empty body leaves dst
// at its zero value; anything undecodable is reported as invalid_request.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "malformed request body")
		return false
	}
	return true
}
