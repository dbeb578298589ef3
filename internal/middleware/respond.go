package middleware

import (
	"encoding/json"
	"net/http"
)

// Stable error codes per the API error taxonomy.
const (
	CodeInput     = "input_error"
	CodeAuth      = "auth_error"
	CodeTenant    = "tenant_error"
	CodeForbidden = "forbidden"
	CodeQuota     = "quota_exceeded"
	CodeInternal  = "internal"
)

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "error_code": code})
}
