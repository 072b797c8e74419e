package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/qcom/otplogin/internal/middleware"
	"github.com/qcom/otplogin/internal/observability"
	"github.com/qcom/otplogin/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// NewRouter mounts the auth API under /api/auth plus /health and /metrics.
func NewRouter(
	authHandlers *AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	sendLimiter ratelimit.Limiter,
	ipResolver *middleware.IPResolver,
	metrics *observability.Metrics,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(metrics.Middleware)
	router.Use(middleware.LoggingMiddleware(logger, ipResolver))

	router.HandleFunc("/health", authHandlers.Health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	auth := router.PathPrefix("/api/auth").Subrouter()

	sendOTP := http.Handler(http.HandlerFunc(authHandlers.SendOTP))
	if sendLimiter != nil {
		sendOTP = middleware.RateLimit(sendLimiter, ipResolver, logger)(sendOTP)
	}
	auth.Handle("/send-otp", sendOTP).Methods(http.MethodPost)
	auth.HandleFunc("/verify-otp", authHandlers.VerifyOTP).Methods(http.MethodPost)
	auth.Handle("/me", authMiddleware.RequireAuth(http.HandlerFunc(authHandlers.Me))).Methods(http.MethodGet)

	return router
}
