package middleware

import (
	"net/http"

	"github.com/qcom/otplogin/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

const rateLimitMessage = "Too many OTP requests, please try again later."

// RateLimit rejects clients that exceed limiter's budget with 429. Clients
// are keyed by resolver. When the limiter itself fails the request is let
// through.
func RateLimit(limiter ratelimit.Limiter, resolver *IPResolver, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolver.ClientIP(r)
			if ip == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), ip)
			if err != nil {
				logger.WithError(err).WithField("ip", ip).Error("Rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.WithFields(logrus.Fields{"ip": ip, "path": r.URL.Path}).Warn("Rate limit exceeded")
				writeJSON(w, http.StatusTooManyRequests, rateLimitMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
