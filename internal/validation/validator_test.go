package validation

import (
	"errors"
	"testing"
)

type verifyRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,indian_mobile"`
	OTP         string `json:"otp" validate:"required,len=6,digits"`
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

func TestValidate(t *testing.T) {
	t.Parallel()

	v := newTestValidator(t)

	testCases := []struct {
		name       string
		req        verifyRequest
		wantFields []string
	}{
		{name: "valid", req: verifyRequest{PhoneNumber: "9876543210", OTP: "123456"}},
		{name: "phone starts with 5", req: verifyRequest{PhoneNumber: "5876543210", OTP: "123456"}, wantFields: []string{"phoneNumber"}},
		{name: "phone too short", req: verifyRequest{PhoneNumber: "987654321", OTP: "123456"}, wantFields: []string{"phoneNumber"}},
		{name: "phone with country code", req: verifyRequest{PhoneNumber: "+919876543210", OTP: "123456"}, wantFields: []string{"phoneNumber"}},
		{name: "otp too short", req: verifyRequest{PhoneNumber: "9876543210", OTP: "12345"}, wantFields: []string{"otp"}},
		{name: "otp not numeric", req: verifyRequest{PhoneNumber: "9876543210", OTP: "12a456"}, wantFields: []string{"otp"}},
		{name: "both missing", req: verifyRequest{}, wantFields: []string{"phoneNumber", "otp"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := v.Validate(tc.req)
			if len(tc.wantFields) == 0 {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if len(verr) != len(tc.wantFields) {
				t.Fatalf("fields = %+v, want %v", verr, tc.wantFields)
			}
			for i, field := range tc.wantFields {
				if verr[i].Field != field {
					t.Errorf("field[%d] = %q, want %q", i, verr[i].Field, field)
				}
				if verr[i].Message == "" {
					t.Errorf("field[%d] has empty message", i)
				}
			}
		})
	}
}

func TestValidate_CustomMessages(t *testing.T) {
	t.Parallel()

	v := newTestValidator(t)
	err := v.Validate(verifyRequest{PhoneNumber: "1234567890", OTP: "abcdef"})

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want ValidationError", err)
	}
	want := map[string]string{
		"phoneNumber": "Please enter a valid 10-digit Indian mobile number",
		"otp":         "otp must contain only numbers",
	}
	for _, fe := range verr {
		if fe.Message != want[fe.Field] {
			t.Errorf("%s message = %q, want %q", fe.Field, fe.Message, want[fe.Field])
		}
	}
}
