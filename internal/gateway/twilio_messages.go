package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/qcom/otplogin/internal/config"
	"github.com/qcom/otplogin/internal/models"
	"github.com/sirupsen/logrus"
)

var _ Messenger = (*TwilioMessenger)(nil)

type twilioMessageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// TwilioMessenger sends plain SMS through the Twilio Messages API.
type TwilioMessenger struct {
	client      *resty.Client
	endpoint    string
	from        string
	countryCode string
	logger      *logrus.Logger
}

func NewTwilioMessenger(cfg *config.TwilioConfig, logger *logrus.Logger) (*TwilioMessenger, error) {
	return NewTwilioMessengerWithClient(cfg, newProviderClient(cfg), logger)
}

func NewTwilioMessengerWithClient(cfg *config.TwilioConfig, client *resty.Client, logger *logrus.Logger) (*TwilioMessenger, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, fmt.Errorf("%w: account sid, auth token and sender number are required", config.ErrProviderConfig)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	client.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	return &TwilioMessenger{
		client:      client,
		endpoint:    fmt.Sprintf("%s/Accounts/%s/Messages.json", strings.TrimRight(cfg.APIBaseURL, "/"), cfg.AccountSID),
		from:        cfg.FromNumber,
		countryCode: cfg.CountryCode,
		logger:      logger,
	}, nil
}

func (m *TwilioMessenger) SendMessage(ctx context.Context, phoneNumber, body string) (*models.DeliveryResult, error) {
	resp, err := m.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   m.countryCode + phoneNumber,
			"From": m.from,
			"Body": body,
		}).
		Post(m.endpoint)
	if err != nil {
		return nil, &ProviderError{Message: "twilio message request failed", Cause: err}
	}
	if !isSuccess(resp.StatusCode()) {
		return nil, statusError(resp.StatusCode(), resp.String())
	}

	var out twilioMessageResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode(), Message: "invalid twilio response", Cause: err}
	}

	m.logger.WithFields(logrus.Fields{
		"phone": phoneNumber,
		"sid":   out.SID,
	}).Info("Twilio SMS sent")

	return &models.DeliveryResult{Success: true, ProviderReference: out.SID}, nil
}

// newProviderClient builds the shared resty client: bounded timeout and no
// automatic retries.
func newProviderClient(cfg *config.TwilioConfig) *resty.Client {
	client := resty.New()
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	} else {
		client.SetTimeout(defaultProviderTimeout)
	}
	client.SetRetryCount(0)
	return client
}
