package service

import (
	"errors"
	"fmt"
)

var (
	ErrOTPNotFound     = errors.New("OTP not found or expired")
	ErrTooManyAttempts = errors.New("maximum attempts exceeded")
	ErrInvalidCode     = errors.New("invalid OTP")
	ErrDispatchFailed  = errors.New("failed to dispatch OTP")
	ErrInvalidToken    = errors.New("invalid or expired token")
)

// UnknownRemaining is reported when the provider enforces attempt limits itself.
const UnknownRemaining = -1

// InvalidCodeError is a wrong passcode with the attempts still allowed.
// It matches ErrInvalidCode with errors.Is.
type InvalidCodeError struct {
	Attempts  int
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	if e.Remaining == UnknownRemaining {
		return ErrInvalidCode.Error()
	}
	return fmt.Sprintf("%s: %d attempts remaining", ErrInvalidCode, e.Remaining)
}

func (e *InvalidCodeError) Is(target error) bool {
	return target == ErrInvalidCode
}
