package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenantbilling-backend/api/responses"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
)

const maxRequestIDLength = 128

// RequestID propagates a caller-supplied request id or mints one, and tags the log context with it.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(responses.RequestIDHeader)
			if reqID == "" || len(reqID) > maxRequestIDLength {
				reqID = uuid.NewString()
			}

			w.Header().Set(responses.RequestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
