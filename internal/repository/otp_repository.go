package repository

import (
	"context"
	"errors"
	"time"

	"github.com/qcom/otplogin/internal/models"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultMaxAttempts   = 3
	DefaultSweepInterval = 60 * time.Second
)

// ErrNotFound is returned when no live record exists for a phone number.
var ErrNotFound = errors.New("OTP not found or expired")

// UpdateAction tells the store what to do with a record after an Update callback.
type UpdateAction int

const (
	KeepRecord UpdateAction = iota
	DeleteRecord
)

// UpdateFunc mutates rec in place and returns what the store should do with it.
// It must not retain rec and may be invoked more than once per Update call.
type UpdateFunc func(rec *models.OTPRecord) UpdateAction

// OTPStore keeps at most one live passcode per phone number.
type OTPStore interface {
	// Put inserts or replaces the record for phoneNumber with zero attempts.
	Put(ctx context.Context, phoneNumber, code string) (*models.OTPRecord, error)
	// Get returns a copy of the live record or ErrNotFound.
	Get(ctx context.Context, phoneNumber string) (*models.OTPRecord, error)
	// Delete removes the record unconditionally.
	Delete(ctx context.Context, phoneNumber string) error
	// Update runs fn against the live record atomically with respect to other
	// store operations on the same phone number.
	Update(ctx context.Context, phoneNumber string, fn UpdateFunc) error
	RemainingAttempts(ctx context.Context, phoneNumber string) (int, error)
	ExpiryTime(ctx context.Context, phoneNumber string) (time.Time, bool, error)
	MaxAttempts() int
}

type StoreOptions struct {
	TTL           time.Duration
	MaxAttempts   int
	SweepInterval time.Duration
	// Now overrides the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

func (o StoreOptions) withDefaults() StoreOptions {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func remaining(maxAttempts, attempts int) int {
	return max(0, maxAttempts-attempts)
}
