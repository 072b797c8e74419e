package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/qcom/otplogin/internal/config"
	"github.com/qcom/otplogin/internal/models"
	"github.com/qcom/otplogin/internal/observability"
	"github.com/qcom/otplogin/internal/repository"
	"github.com/sirupsen/logrus"
)

const defaultCodeLength = 6

// CodeDispatcher transports a locally generated passcode.
type CodeDispatcher interface {
	Send(ctx context.Context, phoneNumber, code string) (*models.DeliveryResult, error)
}

// RemoteVerifier owns passcode generation and checking.
type RemoteVerifier interface {
	Send(ctx context.Context, phoneNumber string) (*models.DeliveryResult, error)
	Verify(ctx context.Context, phoneNumber, candidate string) (*models.VerifyResult, error)
}

type otpFlow interface {
	request(ctx context.Context, phoneNumber string) (*models.DeliveryResult, error)
	verify(ctx context.Context, phoneNumber, candidate string) error
}

// OTPService enforces the passcode lifecycle. The delivery strategy is fixed
// at construction: NewLocalOTPService or NewRemoteOTPService.
type OTPService struct {
	flow    otpFlow
	mode    string
	logger  *logrus.Logger
	metrics *observability.Metrics
}

func NewLocalOTPService(
	store repository.OTPStore,
	dispatcher CodeDispatcher,
	cfg *config.OTPConfig,
	logger *logrus.Logger,
	metrics *observability.Metrics,
) *OTPService {
	length := cfg.Length
	if length <= 0 {
		length = defaultCodeLength
	}

	return &OTPService{
		flow: &localFlow{
			store:      store,
			dispatcher: dispatcher,
			length:     length,
			metrics:    metrics,
		},
		mode:    config.ModeLocal,
		logger:  logger,
		metrics: metrics,
	}
}

func NewRemoteOTPService(verifier RemoteVerifier, logger *logrus.Logger, metrics *observability.Metrics) *OTPService {
	return &OTPService{
		flow:    &remoteFlow{verifier: verifier, metrics: metrics},
		mode:    config.ModeRemote,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *OTPService) Mode() string {
	return s.mode
}

// RequestOTP creates a passcode for phoneNumber and dispatches it. Dispatch
// failures wrap ErrDispatchFailed. At most one dispatch is attempted.
func (s *OTPService) RequestOTP(ctx context.Context, phoneNumber string) (*models.DeliveryResult, error) {
	result, err := s.flow.request(ctx, phoneNumber)
	if err != nil {
		s.metrics.IncOTPRequest(s.mode, "failed")
		s.logger.WithError(err).WithFields(logrus.Fields{
			"phone": phoneNumber,
			"mode":  s.mode,
		}).Error("Failed to send OTP")
		return result, err
	}

	s.metrics.IncOTPRequest(s.mode, "sent")
	s.logger.WithFields(logrus.Fields{
		"phone":     phoneNumber,
		"mode":      s.mode,
		"reference": result.ProviderReference,
	}).Info("OTP sent")
	return result, nil
}

// VerifyOTP checks candidate. It returns nil on success, or one of
// ErrOTPNotFound, ErrTooManyAttempts, ErrInvalidCode (*InvalidCodeError), or
// a provider/store failure.
func (s *OTPService) VerifyOTP(ctx context.Context, phoneNumber, candidate string) error {
	err := s.flow.verify(ctx, phoneNumber, candidate)
	s.metrics.IncOTPVerification(s.mode, verificationOutcome(err))

	fields := logrus.Fields{"phone": phoneNumber, "mode": s.mode}
	var invalid *InvalidCodeError
	switch {
	case err == nil:
		s.logger.WithFields(fields).Info("OTP verified successfully")
	case errors.As(err, &invalid):
		fields["attempts"] = invalid.Attempts
		fields["remaining"] = invalid.Remaining
		s.logger.WithFields(fields).Warn("Invalid OTP attempt")
	case errors.Is(err, ErrTooManyAttempts):
		s.logger.WithFields(fields).Warn("Too many OTP attempts")
	case errors.Is(err, ErrOTPNotFound):
		s.logger.WithFields(fields).Warn("No OTP found")
	default:
		s.logger.WithError(err).WithFields(fields).Error("OTP verification failed")
	}
	return err
}

func verificationOutcome(err error) string {
	switch {
	case err == nil:
		return "verified"
	case errors.Is(err, ErrInvalidCode):
		return "invalid"
	case errors.Is(err, ErrTooManyAttempts):
		return "locked"
	case errors.Is(err, ErrOTPNotFound):
		return "not_found"
	default:
		return "error"
	}
}

type localFlow struct {
	store      repository.OTPStore
	dispatcher CodeDispatcher
	length     int
	metrics    *observability.Metrics
}

func (f *localFlow) request(ctx context.Context, phoneNumber string) (*models.DeliveryResult, error) {
	code, err := generateCode(f.length)
	if err != nil {
		return nil, fmt.Errorf("failed to generate OTP: %w", err)
	}

	if _, err := f.store.Put(ctx, phoneNumber, code); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := f.dispatcher.Send(ctx, phoneNumber, code)
	f.metrics.ObserveProvider("send", start, err)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	return result, nil
}

func (f *localFlow) verify(ctx context.Context, phoneNumber, candidate string) error {
	maxAttempts := f.store.MaxAttempts()

	var outcome error
	err := f.store.Update(ctx, phoneNumber, func(rec *models.OTPRecord) repository.UpdateAction {
		rec.Attempts++
		if rec.Attempts > maxAttempts {
			outcome = ErrTooManyAttempts
			return repository.DeleteRecord
		}

		if subtle.ConstantTimeCompare([]byte(candidate), []byte(rec.Code)) == 1 {
			outcome = nil
			return repository.DeleteRecord
		}

		outcome = &InvalidCodeError{
			Attempts:  rec.Attempts,
			Remaining: max(0, maxAttempts-rec.Attempts),
		}
		return repository.KeepRecord
	})
	if errors.Is(err, repository.ErrNotFound) {
		return ErrOTPNotFound
	}
	if err != nil {
		return err
	}
	return outcome
}

type remoteFlow struct {
	verifier RemoteVerifier
	metrics  *observability.Metrics
}

func (f *remoteFlow) request(ctx context.Context, phoneNumber string) (*models.DeliveryResult, error) {
	start := time.Now()
	result, err := f.verifier.Send(ctx, phoneNumber)
	f.metrics.ObserveProvider("send", start, err)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	return result, nil
}

func (f *remoteFlow) verify(ctx context.Context, phoneNumber, candidate string) error {
	start := time.Now()
	result, err := f.verifier.Verify(ctx, phoneNumber, candidate)
	f.metrics.ObserveProvider("verify", start, err)
	if err != nil {
		return fmt.Errorf("failed to check OTP: %w", err)
	}

	switch {
	case result.Approved:
		return nil
	case result.Status == models.VerificationExpired, result.Status == models.VerificationCanceled:
		return ErrOTPNotFound
	default:
		return &InvalidCodeError{Remaining: UnknownRemaining}
	}
}

// generateCode returns a uniformly random numeric code of the given length
// with no leading zero, drawn from crypto/rand.
func generateCode(length int) (string, error) {
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length-1)), nil)
	span := new(big.Int).Mul(low, big.NewInt(9))

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return n.Add(n, low).String(), nil
}
