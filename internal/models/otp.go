package models

import "time"

// OTPRecord is the live passcode held for a phone number.
type OTPRecord struct {
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record is no longer usable at now.
func (r *OTPRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// DeliveryResult is the acknowledgment of a dispatch attempt.
type DeliveryResult struct {
	Success           bool   `json:"success"`
	ProviderReference string `json:"provider_reference,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

// Verification statuses reported by the remote provider.
const (
	VerificationApproved = "approved"
	VerificationPending  = "pending"
	VerificationExpired  = "expired"
	VerificationCanceled = "canceled"
)

// VerifyResult is the provider's verdict on a submitted passcode.
type VerifyResult struct {
	Approved bool   `json:"approved"`
	Status   string `json:"status"`
}
