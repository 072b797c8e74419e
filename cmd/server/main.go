package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/qcom/otplogin/internal/config"
	"github.com/qcom/otplogin/internal/gateway"
	"github.com/qcom/otplogin/internal/handlers"
	"github.com/qcom/otplogin/internal/middleware"
	"github.com/qcom/otplogin/internal/observability"
	"github.com/qcom/otplogin/internal/ratelimit"
	"github.com/qcom/otplogin/internal/repository"
	"github.com/qcom/otplogin/internal/service"
	"github.com/qcom/otplogin/internal/validation"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Fatal("Invalid LOG_LEVEL")
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
	logger.Info("Server exited")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	metrics := observability.NewMetrics()

	var redisClient *redis.Client
	if cfg.Store.Backend == config.BackendRedis {
		client, err := initRedis(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
	}

	var limiter ratelimit.Limiter
	if redisClient != nil {
		redisLimiter, err := ratelimit.NewRedisLimiter(redisClient, "send-otp", cfg.RateLimit.Max, cfg.RateLimit.Window)
		if err != nil {
			return err
		}
		limiter = redisLimiter
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
	}

	ipResolver, err := middleware.NewIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	var memoryStore *repository.MemoryStore
	var otpService *service.OTPService
	if cfg.OTP.Mode == config.ModeRemote {
		otpService, err = newRemoteOTPService(cfg, metrics, logger)
	} else {
		var store repository.OTPStore
		store, memoryStore, err = newOTPStore(cfg, redisClient, logger)
		if err != nil {
			return err
		}
		otpService, err = newLocalOTPService(cfg, store, metrics, logger)
	}
	if err != nil {
		return err
	}

	sessions, err := service.NewSessionService(&cfg.JWT, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize session service: %w", err)
	}

	validator, err := validation.New()
	if err != nil {
		return fmt.Errorf("failed to initialize validator: %w", err)
	}

	formRecorder := gateway.NewFormRecorder(&cfg.Form, logger)
	if formRecorder == nil {
		logger.Info("Google Form recording disabled")
	}

	authHandlers := handlers.NewAuthHandlers(otpService, sessions, formRecorder, validator, cfg.OTP.Length, logger)
	authMiddleware := middleware.NewAuthMiddleware(sessions, logger)
	router := handlers.NewRouter(authHandlers, authMiddleware, limiter, ipResolver, metrics, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      middleware.CORS(cfg.Server.AllowedOrigins, router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"port":    cfg.Server.Port,
			"env":     cfg.Env,
			"mode":    otpService.Mode(),
			"backend": cfg.Store.Backend,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if memoryStore != nil {
		g.Go(func() error {
			return memoryStore.Run(groupCtx)
		})
	}

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// newOTPStore builds the passcode store for local mode. The memory store is
// also returned so its sweeper can be started; it is nil for Redis.
func newOTPStore(cfg *config.Config, redisClient *redis.Client, logger *logrus.Logger) (repository.OTPStore, *repository.MemoryStore, error) {
	opts := repository.StoreOptions{
		TTL:           cfg.OTP.Expiry,
		MaxAttempts:   cfg.OTP.MaxAttempts,
		SweepInterval: cfg.OTP.SweepInterval,
	}

	if redisClient != nil {
		store, err := repository.NewRedisStore(redisClient, opts, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}

	store := repository.NewMemoryStore(opts, logger)
	return store, store, nil
}

// newRemoteOTPService hands generation and checking to Twilio Verify; no
// passcode is stored locally.
func newRemoteOTPService(cfg *config.Config, metrics *observability.Metrics, logger *logrus.Logger) (*service.OTPService, error) {
	verifier, err := gateway.NewRemoteVerify(&cfg.Twilio, logger)
	if err != nil {
		return nil, err
	}
	return service.NewRemoteOTPService(verifier, logger, metrics), nil
}

// newLocalOTPService generates codes here and sends them through the mock
// transport in development or Twilio Messages in production.
func newLocalOTPService(cfg *config.Config, store repository.OTPStore, metrics *observability.Metrics, logger *logrus.Logger) (*service.OTPService, error) {
	var messenger gateway.Messenger
	if cfg.IsProduction() {
		twilio, err := gateway.NewTwilioMessenger(&cfg.Twilio, logger)
		if err != nil {
			return nil, err
		}
		messenger = twilio
	} else {
		logger.Warn("Development mode: SMS messages are logged, not sent")
		messenger = gateway.NewMockMessenger(cfg.Twilio.MockDelay, logger)
	}

	dispatcher := gateway.NewLocalDispatch(messenger, cfg.OTP.Expiry, logger)
	return service.NewLocalOTPService(store, dispatcher, &cfg.OTP, logger, metrics), nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client, nil
}
