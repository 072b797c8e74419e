package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/qcom/otplogin/internal/middleware"
	"github.com/qcom/otplogin/internal/models"
	"github.com/qcom/otplogin/internal/service"
	"github.com/qcom/otplogin/internal/validation"
	"github.com/sirupsen/logrus"
)

const (
	msgOTPSent        = "OTP sent successfully to your mobile number"
	msgSendFailed     = "Failed to send OTP. Please try again."
	msgInvalidOTP     = "Invalid or expired OTP. Please try again."
	msgLoginOK        = "Login successful!"
	msgInternal       = "Internal server error. Please try again."
	msgInvalidPhone   = "Invalid phone number format"
	msgInvalidInput   = "Invalid input format"
	msgUnauthorized   = "Invalid or expired token"
	maxRequestBodyLen = 1 << 12

	defaultCodeLength = 6
)

// OTPService is the passcode lifecycle the handlers drive.
type OTPService interface {
	RequestOTP(ctx context.Context, phoneNumber string) (*models.DeliveryResult, error)
	VerifyOTP(ctx context.Context, phoneNumber, candidate string) error
}

type SessionIssuer interface {
	Issue(phoneNumber string) (*models.SessionToken, error)
}

// SendRecorder is notified of every successful send. It must not block.
type SendRecorder interface {
	RecordAsync(phoneNumber string)
}

type AuthHandlers struct {
	otpService OTPService
	sessions   SessionIssuer
	recorder   SendRecorder
	validator  *validation.Validator
	codeLength int
	logger     *logrus.Logger
}

func NewAuthHandlers(
	otpService OTPService,
	sessions SessionIssuer,
	recorder SendRecorder,
	validator *validation.Validator,
	codeLength int,
	logger *logrus.Logger,
) *AuthHandlers {
	if codeLength <= 0 {
		codeLength = defaultCodeLength
	}
	return &AuthHandlers{
		otpService: otpService,
		sessions:   sessions,
		recorder:   recorder,
		validator:  validator,
		codeLength: codeLength,
		logger:     logger,
	}
}

type SendOTPRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,indian_mobile"`
}

type VerifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,indian_mobile"`
	OTP         string `json:"otp" validate:"required,digits"`
}

type Response struct {
	Success           bool                    `json:"success"`
	Message           string                  `json:"message"`
	Token             string                  `json:"token,omitempty"`
	RemainingAttempts *int                    `json:"remainingAttempts,omitempty"`
	Errors            []validation.FieldError `json:"errors,omitempty"`
}

type MeResponse struct {
	Success     bool      `json:"success"`
	PhoneNumber string    `json:"phoneNumber"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (h *AuthHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if ok := h.decodeAndValidate(w, r, &req, msgInvalidPhone); !ok {
		return
	}

	if _, err := h.otpService.RequestOTP(r.Context(), req.PhoneNumber); err != nil {
		if errors.Is(err, service.ErrDispatchFailed) {
			h.respondWithJSON(w, http.StatusInternalServerError, Response{Message: msgSendFailed})
			return
		}
		h.logger.WithError(err).Error("Send OTP error")
		h.respondWithJSON(w, http.StatusInternalServerError, Response{Message: msgInternal})
		return
	}

	if h.recorder != nil {
		h.recorder.RecordAsync(req.PhoneNumber)
	}

	h.respondWithJSON(w, http.StatusOK, Response{Success: true, Message: msgOTPSent})
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if ok := h.decodeAndValidate(w, r, &req, msgInvalidInput); !ok {
		return
	}
	if len(req.OTP) != h.codeLength {
		h.respondWithJSON(w, http.StatusBadRequest, Response{
			Message: msgInvalidInput,
			Errors: []validation.FieldError{{
				Field:   "otp",
				Message: fmt.Sprintf("OTP must be %d digits", h.codeLength),
			}},
		})
		return
	}

	err := h.otpService.VerifyOTP(r.Context(), req.PhoneNumber, req.OTP)
	var invalid *service.InvalidCodeError
	switch {
	case err == nil:
	case errors.As(err, &invalid):
		resp := Response{Message: msgInvalidOTP}
		if invalid.Remaining != service.UnknownRemaining {
			remaining := invalid.Remaining
			resp.RemainingAttempts = &remaining
		}
		h.respondWithJSON(w, http.StatusBadRequest, resp)
		return
	case errors.Is(err, service.ErrOTPNotFound), errors.Is(err, service.ErrTooManyAttempts):
		h.respondWithJSON(w, http.StatusBadRequest, Response{Message: msgInvalidOTP})
		return
	default:
		h.logger.WithError(err).Error("Verify OTP error")
		h.respondWithJSON(w, http.StatusInternalServerError, Response{Message: msgInternal})
		return
	}

	token, err := h.sessions.Issue(req.PhoneNumber)
	if err != nil {
		h.logger.WithError(err).Error("Failed to issue session token")
		h.respondWithJSON(w, http.StatusInternalServerError, Response{Message: msgInternal})
		return
	}

	h.logger.WithField("phone", req.PhoneNumber).Info("User authenticated")
	h.respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Message: msgLoginOK,
		Token:   token.Token,
	})
}

// Me echoes the identity carried by the caller's session token.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithJSON(w, http.StatusUnauthorized, Response{Message: msgUnauthorized})
		return
	}

	resp := MeResponse{Success: true, PhoneNumber: claims.PhoneNumber}
	if claims.IssuedAt != nil {
		resp.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeAndValidate writes a 400 and returns false when the body is not
// valid JSON or breaks a field rule.
func (h *AuthHandlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any, message string) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyLen))
	if err := dec.Decode(dst); err != nil {
		h.logger.WithError(err).Debug("Failed to decode request body")
		h.respondWithJSON(w, http.StatusBadRequest, Response{Message: message})
		return false
	}
	trimFields(dst)

	if err := h.validator.Validate(dst); err != nil {
		var verr validation.ValidationError
		if !errors.As(err, &verr) {
			h.logger.WithError(err).Error("Validation failed")
			h.respondWithJSON(w, http.StatusInternalServerError, Response{Message: msgInternal})
			return false
		}
		h.respondWithJSON(w, http.StatusBadRequest, Response{Message: message, Errors: verr})
		return false
	}
	return true
}

func trimFields(dst any) {
	switch req := dst.(type) {
	case *SendOTPRequest:
		req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	case *VerifyOTPRequest:
		req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
		req.OTP = strings.TrimSpace(req.OTP)
	}
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Error("Failed to write response")
	}
}
