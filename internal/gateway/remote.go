package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/qcom/otplogin/internal/config"
	"github.com/qcom/otplogin/internal/models"
	"github.com/sirupsen/logrus"
)

const defaultProviderTimeout = 10 * time.Second

type verificationResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// RemoteVerify delegates passcode generation, delivery and checking to
// Twilio Verify. No code is ever held locally.
type RemoteVerify struct {
	client      *resty.Client
	serviceURL  string
	countryCode string
	logger      *logrus.Logger
}

func NewRemoteVerify(cfg *config.TwilioConfig, logger *logrus.Logger) (*RemoteVerify, error) {
	return NewRemoteVerifyWithClient(cfg, newProviderClient(cfg), logger)
}

func NewRemoteVerifyWithClient(cfg *config.TwilioConfig, client *resty.Client, logger *logrus.Logger) (*RemoteVerify, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.VerifyServiceSID == "" {
		logger.WithFields(logrus.Fields{
			"account_sid": cfg.AccountSID != "",
			"auth_token":  cfg.AuthToken != "",
			"service_sid": cfg.VerifyServiceSID != "",
		}).Error("Missing Twilio config")
		return nil, fmt.Errorf("%w: account sid, auth token and verify service sid are required", config.ErrProviderConfig)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	client.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	return &RemoteVerify{
		client:      client,
		serviceURL:  fmt.Sprintf("%s/Services/%s", strings.TrimRight(cfg.VerifyBaseURL, "/"), cfg.VerifyServiceSID),
		countryCode: cfg.CountryCode,
		logger:      logger,
	}, nil
}

// Send asks the provider to generate and deliver its own passcode.
func (r *RemoteVerify) Send(ctx context.Context, phoneNumber string) (*models.DeliveryResult, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":      r.countryCode + phoneNumber,
			"Channel": "sms",
		}).
		Post(r.serviceURL + "/Verifications")
	if err != nil {
		perr := &ProviderError{Message: "verification request failed", Cause: err}
		return &models.DeliveryResult{Success: false, FailureReason: perr.Error()}, perr
	}
	if !isSuccess(resp.StatusCode()) {
		perr := statusError(resp.StatusCode(), resp.String())
		return &models.DeliveryResult{Success: false, FailureReason: perr.Error()}, perr
	}

	var out verificationResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		perr := &ProviderError{StatusCode: resp.StatusCode(), Message: "invalid verification response", Cause: err}
		return &models.DeliveryResult{Success: false, FailureReason: perr.Error()}, perr
	}

	r.logger.WithField("phone", phoneNumber).Info("Twilio Verify SMS sent")

	return &models.DeliveryResult{Success: true, ProviderReference: out.SID}, nil
}

// Verify asks the provider to check candidate. A missing or expired
// verification (HTTP 404) is a verdict, not an error.
func (r *RemoteVerify) Verify(ctx context.Context, phoneNumber, candidate string) (*models.VerifyResult, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   r.countryCode + phoneNumber,
			"Code": candidate,
		}).
		Post(r.serviceURL + "/VerificationCheck")
	if err != nil {
		return nil, &ProviderError{Message: "verification check failed", Cause: err}
	}

	if resp.StatusCode() == http.StatusNotFound {
		r.logger.WithField("phone", phoneNumber).Warn("Twilio verification not found or expired")
		return &models.VerifyResult{Approved: false, Status: models.VerificationExpired}, nil
	}
	if !isSuccess(resp.StatusCode()) {
		return nil, statusError(resp.StatusCode(), resp.String())
	}

	var out verificationResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode(), Message: "invalid verification check response", Cause: err}
	}

	result := &models.VerifyResult{
		Approved: out.Status == models.VerificationApproved,
		Status:   out.Status,
	}
	if result.Approved {
		r.logger.WithField("phone", phoneNumber).Info("Twilio OTP verified successfully")
	} else {
		r.logger.WithFields(logrus.Fields{
			"phone":  phoneNumber,
			"status": out.Status,
		}).Warn("Invalid Twilio OTP attempt")
	}

	return result, nil
}
