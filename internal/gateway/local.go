package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/qcom/otplogin/internal/models"
	"github.com/sirupsen/logrus"
)

const messageTemplate = "Your verification code is %s. It expires in %d minutes. Do not share it with anyone."

// LocalDispatch is the delivery strategy for locally generated passcodes:
// it only transports the code; verification happens against the OTP store.
type LocalDispatch struct {
	messenger Messenger
	ttl       time.Duration
	logger    *logrus.Logger
}

func NewLocalDispatch(messenger Messenger, ttl time.Duration, logger *logrus.Logger) *LocalDispatch {
	return &LocalDispatch{
		messenger: messenger,
		ttl:       ttl,
		logger:    logger,
	}
}

// Send delivers code to phoneNumber. A failed delivery is reported both as a
// DeliveryResult with a reason and as an error.
func (d *LocalDispatch) Send(ctx context.Context, phoneNumber, code string) (*models.DeliveryResult, error) {
	minutes := int(d.ttl.Round(time.Minute) / time.Minute)
	body := fmt.Sprintf(messageTemplate, code, max(1, minutes))

	result, err := d.messenger.SendMessage(ctx, phoneNumber, body)
	if err != nil {
		d.logger.WithError(err).WithField("phone", phoneNumber).Error("SMS dispatch failed")
		return &models.DeliveryResult{Success: false, FailureReason: err.Error()}, err
	}

	return result, nil
}
