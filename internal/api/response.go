// Package api provides the HTTP gateway for WaRelay.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// errorBody is the structured error envelope for /api/* endpoints.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Pre-marshaled fallback so a response can always be written even when
// runtime JSON encoding fails.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(errorBody{Success: false, Error: "Internal server error"})
	if err != nil {
		panic(fmt.Sprintf("failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse marshals first so encoding errors are caught before
// any header is written.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeError writes the structured error envelope.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSONResponse(w, statusCode, errorBody{Success: false, Error: message})
}

// writeErrorWithDetails writes the structured error envelope with a
// details field for downstream failures.
func writeErrorWithDetails(w http.ResponseWriter, statusCode int, message, details string) {
	writeJSONResponse(w, statusCode, errorBody{Success: false, Error: message, Details: details})
}
