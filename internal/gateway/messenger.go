package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/qcom/otplogin/internal/models"
	"github.com/sirupsen/logrus"
)

// Messenger delivers a text message to a phone number.
type Messenger interface {
	SendMessage(ctx context.Context, phoneNumber, body string) (*models.DeliveryResult, error)
}

var _ Messenger = (*MockMessenger)(nil)

// MockMessenger logs messages instead of sending them. Used in development.
type MockMessenger struct {
	delay  time.Duration
	logger *logrus.Logger
}

// NewMockMessenger returns a messenger that waits delay before acknowledging,
// to mimic provider latency.
func NewMockMessenger(delay time.Duration, logger *logrus.Logger) *MockMessenger {
	return &MockMessenger{delay: delay, logger: logger}
}

func (m *MockMessenger) SendMessage(ctx context.Context, phoneNumber, body string) (*models.DeliveryResult, error) {
	m.logger.WithField("phone", phoneNumber).Info("[MOCK SMS] Sending message")
	m.logger.WithFields(logrus.Fields{
		"phone": phoneNumber,
		"body":  body,
	}).Debug("[MOCK SMS] Message body")

	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, &ProviderError{Message: "mock send canceled", Cause: ctx.Err()}
		case <-timer.C:
		}
	}

	return &models.DeliveryResult{
		Success:           true,
		ProviderReference: "mock_" + uuid.New().String(),
	}, nil
}
