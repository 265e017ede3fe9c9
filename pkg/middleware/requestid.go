package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/agrinova/authd/pkg/contextkeys"
	"github.com/agrinova/authd/pkg/observability"
)

// HeaderRequestID carries the request ID in and out
const HeaderRequestID = "X-Request-ID"

// RequestID assigns every request an ID (reusing the caller's when present),
// echoes it in the response and attaches a request-scoped logger
func RequestID(logger *observability.Logger) func(http.Handler) http.Handler {
	logger = observability.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)

			ctx := contextkeys.WithRequestID(r.Context(), id)
			ctx = observability.WithLogger(ctx, logger.WithField("request_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
