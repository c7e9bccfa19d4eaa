package utils

import (
	"encoding/json"
	"net/http"

	"github.com/sunnywifi/ledgerline/backend/src/logger"
)

// ErrorDetail is the machine-readable error payload: a stable code plus a
// client-safe message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type successEnvelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorEnvelope struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// SendJSONSuccess writes the standard success envelope.
func SendJSONSuccess(w http.ResponseWriter, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data, Message: message}); err != nil {
		logger.L.Error("Failed to encode JSON success response", "error", err)
	}
}

// SendJSONError writes the standard error envelope with a stable code.
func SendJSONError(w http.ResponseWriter, code, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	logger.L.Warn("Sending JSON error to client", "code", code, "message", message, "statusCode", statusCode)
	if err := json.NewEncoder(w).Encode(errorEnvelope{Success: false, Error: ErrorDetail{Code: code, Message: message}}); err != nil {
		logger.L.Error("Failed to encode JSON error response", "error", err)
	}
}
