package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

const APIKeyHeader = "X-API-Key"

// APIKey rejects requests whose X-API-Key header does not match key.
func APIKey(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(APIKeyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{
					"code":    "UNAUTHORIZED",
					"message": "Invalid or missing API key",
				},
				"correlationId": GetCorrelationID(r.Context()),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
