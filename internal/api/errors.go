package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// maxJSONBodySize caps request bodies (1MB). Catalog requests are small;
// anything larger is a client bug.
const maxJSONBodySize = 1 << 20

// ErrorResponse is the Iceberg REST error envelope.
type ErrorResponse struct {
	Error ErrorModel `json:"error"`
}

// ErrorModel is the envelope body. Type carries the stable error string
// clients switch on; Stack carries the cause chain for operators.
type ErrorModel struct {
	Message string   `json:"message"`
	Type    string   `json:"type"`
	Code    int      `json:"code"`
	Stack   []string `json:"stack"`
}

// writeError translates any error into the Iceberg envelope. 5xx responses
// are logged with the full cause chain; 4xx only at debug since they are
// client mistakes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	model := domain.ErrorModel(err)
	logger := LoggerFromContext(r.Context())
	if model.Code >= 500 {
		logger.Error("request failed", "type", model.Type, "error", err)
	} else {
		logger.Debug("request rejected", "type", model.Type, "error", err)
	}
	stack := model.Stack()
	if stack == nil {
		stack = []string{}
	}
	writeJSON(w, r, model.Code, ErrorResponse{Error: ErrorModel{
		Message: model.Message,
		Type:    model.Type,
		Code:    model.Code,
		Stack:   stack,
	}})
}

// WriteError is the exported envelope writer for middleware that lives
// outside this package, like the auth slot.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, err)
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		LoggerFromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

// decodeJSON reads the request body into v, rejecting malformed or oversized
// payloads with BadRequest.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBodySize))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.BadRequest("request body exceeds %d bytes", maxErr.Limit)
		}
		return domain.BadRequest("invalid request body: %v", err)
	}
	return nil
}
