package middleware

import (
	"net/http"
	"time"

	"github.com/qcom/otplogin/internal/observability"
	"github.com/sirupsen/logrus"
)

// LoggingMiddleware logs each request on entry and its status and duration
// on completion. Request bodies are not logged since they carry passcodes.
func LoggingMiddleware(logger *logrus.Logger, resolver *IPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"url":        r.URL.RequestURI(),
				"ip":         resolver.ClientIP(r),
				"user_agent": r.UserAgent(),
			})
			entry.Info("Request received")

			rec := observability.NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			entry.WithFields(logrus.Fields{
				"status":      rec.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}
