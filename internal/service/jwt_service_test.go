package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/qcom/otplogin/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestSessionService(t *testing.T, secret string, clock *fakeClock) *SessionService {
	t.Helper()
	svc, err := newSessionService(&config.JWTConfig{SecretKey: secret, Expiry: 24 * time.Hour}, newTestLogger(), clock.Now)
	if err != nil {
		t.Fatalf("newSessionService() error = %v", err)
	}
	return svc
}

func TestNewSessionService_ShortSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewSessionService(&config.JWTConfig{SecretKey: "short"}, newTestLogger()); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestSessionIssueAndVerify(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc := newTestSessionService(t, testSecret, clock)

	token, err := svc.Issue(testPhone)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if token.TokenType != "Bearer" || token.PhoneNumber != testPhone {
		t.Fatalf("token = %+v", token)
	}
	if want := clock.Now().Add(24 * time.Hour); !token.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", token.ExpiresAt, want)
	}

	claims, err := svc.Verify(token.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.PhoneNumber != testPhone || claims.Subject != testPhone {
		t.Fatalf("claims phone = %q subject = %q, want %q", claims.PhoneNumber, claims.Subject, testPhone)
	}
	if claims.Type != "session" {
		t.Fatalf("Type = %q, want session", claims.Type)
	}
	if claims.Timestamp != clock.Now().UnixMilli() {
		t.Fatalf("Timestamp = %d, want %d", claims.Timestamp, clock.Now().UnixMilli())
	}
	if claims.ID == "" {
		t.Fatal("token has no jti")
	}
}

func TestSessionTokensAreUnique(t *testing.T) {
	t.Parallel()

	svc := newTestSessionService(t, testSecret, newFakeClock())
	a, err := svc.Issue(testPhone)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	b, err := svc.Issue(testPhone)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if a.Token == b.Token {
		t.Fatal("two tokens issued in the same instant are identical")
	}
}

func TestSessionVerifyRejects(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc := newTestSessionService(t, testSecret, clock)
	other := newTestSessionService(t, strings.Repeat("x", 32), clock)

	valid, err := svc.Issue(testPhone)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	foreign, err := other.Issue(testPhone)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		PhoneNumber: testPhone,
		Type:        "session",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	parts := strings.Split(valid.Token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	testCases := []struct {
		name  string
		token string
	}{
		{name: "wrong secret", token: foreign.Token},
		{name: "tampered payload", token: tampered},
		{name: "unsigned", token: noneToken},
		{name: "garbage", token: "not-a-token"},
		{name: "empty", token: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Verify(tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Verify() error = %v, want %v", err, ErrInvalidToken)
			}
		})
	}
}

func TestSessionVerifyExpired(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc := newTestSessionService(t, testSecret, clock)

	token, err := svc.Issue(testPhone)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	clock.Advance(24*time.Hour + time.Second)
	if _, err := svc.Verify(token.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestSessionTokenBoundToPhone(t *testing.T) {
	t.Parallel()

	svc := newTestSessionService(t, testSecret, newFakeClock())
	token, err := svc.Issue("9876543210")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := svc.Verify(token.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.PhoneNumber == "9123456789" {
		t.Fatal("token accepted for a different phone number")
	}
}
