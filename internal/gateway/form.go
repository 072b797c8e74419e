package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/qcom/otplogin/internal/config"
	"github.com/sirupsen/logrus"
)

const formSubmitTimeout = 10 * time.Second

// FormRecorder posts phone numbers that requested a passcode to a Google Form.
// A nil *FormRecorder is valid and records nothing.
type FormRecorder struct {
	client *resty.Client
	url    string
	field  string
	logger *logrus.Logger
}

// NewFormRecorder returns nil when no form is configured.
func NewFormRecorder(cfg *config.FormConfig, logger *logrus.Logger) *FormRecorder {
	if cfg.FormID == "" || cfg.PhoneEntryID == "" {
		return nil
	}

	client := resty.New()
	client.SetTimeout(formSubmitTimeout)
	client.SetRetryCount(0)

	return &FormRecorder{
		client: client,
		url:    fmt.Sprintf("%s/%s/formResponse", strings.TrimRight(cfg.BaseURL, "/"), cfg.FormID),
		field:  "entry." + cfg.PhoneEntryID,
		logger: logger,
	}
}

func (f *FormRecorder) Record(ctx context.Context, phoneNumber string) error {
	if f == nil {
		return nil
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{f.field: phoneNumber}).
		Post(f.url)
	if err != nil {
		return &ProviderError{Message: "form submission failed", Cause: err}
	}
	if !isSuccess(resp.StatusCode()) {
		return statusError(resp.StatusCode(), "")
	}
	return nil
}

// RecordAsync submits in the background; failures are only logged.
func (f *FormRecorder) RecordAsync(phoneNumber string) {
	if f == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), formSubmitTimeout)
		defer cancel()

		if err := f.Record(ctx, phoneNumber); err != nil {
			f.logger.WithError(err).Error("Failed to submit data to Google Form")
			return
		}
		f.logger.WithField("phone", phoneNumber).Info("Data submitted to Google Form")
	}()
}
