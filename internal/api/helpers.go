package api

import (
	"encoding/json"
	"net/http"
)

// Error codes mirror the ones the middleware emits so clients see a
// single vocabulary.
const (
	codeInput     = "invalid_input"
	codeForbidden = "forbidden"
	codeNotFound  = "not_found"
	codeInternal  = "internal"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": message, "error_code": code})
}
