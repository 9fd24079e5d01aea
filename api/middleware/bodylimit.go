package middleware

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// BodyLimit rejects requests whose declared length exceeds maxBytes with 413
// and caps the body of the rest.
func BodyLimit(maxBytes int64, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				traceID := GetTraceID(r.Context())
				logger.Warn("Request body too large",
					zap.String("trace_id", traceID),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Int64("content_length", r.ContentLength),
					zap.Int64("limit", maxBytes),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				json.NewEncoder(w).Encode(map[string]string{
					"error":    "Request body too large",
					"trace_id": traceID,
				})
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
