package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qcom/otplogin/internal/ratelimit"
	"github.com/qcom/otplogin/internal/service"
	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeVerifier struct {
	claims *service.Claims
	err    error
	got    string
}

func (v *fakeVerifier) Verify(token string) (*service.Claims, error) {
	v.got = token
	return v.claims, v.err
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body error = %v", err)
	}
	return body
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()

	claims := &service.Claims{PhoneNumber: "9876543210", Type: "session"}

	testCases := []struct {
		name       string
		header     string
		verifyErr  error
		wantStatus int
		wantToken  string
	}{
		{name: "valid token", header: "Bearer abc.def.ghi", wantStatus: http.StatusOK, wantToken: "abc.def.ghi"},
		{name: "lowercase scheme", header: "bearer abc.def.ghi", wantStatus: http.StatusOK, wantToken: "abc.def.ghi"},
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "rejected token", header: "Bearer bad", verifyErr: service.ErrInvalidToken, wantStatus: http.StatusUnauthorized, wantToken: "bad"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			v := &fakeVerifier{claims: claims, err: tc.verifyErr}
			m := NewAuthMiddleware(v, newTestLogger())

			var gotPhone string
			h := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c, ok := ClaimsFromContext(r.Context())
				if !ok {
					t.Error("claims missing from context")
					return
				}
				gotPhone = c.PhoneNumber
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if v.got != tc.wantToken {
				t.Fatalf("verified token = %q, want %q", v.got, tc.wantToken)
			}
			if tc.wantStatus == http.StatusOK && gotPhone != claims.PhoneNumber {
				t.Fatalf("phone = %q, want %q", gotPhone, claims.PhoneNumber)
			}
			if tc.wantStatus == http.StatusUnauthorized && decodeBody(t, rec).Success {
				t.Fatal("success = true on unauthorized response")
			}
		})
	}
}

type fakeLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		allowed    bool
		err        error
		wantStatus int
	}{
		{name: "allowed", allowed: true, wantStatus: http.StatusNoContent},
		{name: "limited", allowed: false, wantStatus: http.StatusTooManyRequests},
		{name: "limiter failure passes through", err: errors.New("redis down"), wantStatus: http.StatusNoContent},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			l := &fakeLimiter{allowed: tc.allowed, err: tc.err}
			h := RateLimit(l, nil, newTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/auth/send-otp", nil)
			req.RemoteAddr = "203.0.113.7:5555"
			req.Header.Set("X-Forwarded-For", "198.51.100.99")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if len(l.keys) != 1 || l.keys[0] != "203.0.113.7" {
				t.Fatalf("limiter keys = %v, want [203.0.113.7]", l.keys)
			}
			if tc.wantStatus == http.StatusTooManyRequests {
				if msg := decodeBody(t, rec).Message; msg != rateLimitMessage {
					t.Fatalf("message = %q, want %q", msg, rateLimitMessage)
				}
			}
		})
	}
}

func TestRateLimitIgnoresSpoofedForwardingHeaders(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewMemoryLimiter(5, 15*time.Minute)
	h := RateLimit(limiter, nil, newTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 1; i <= 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/send-otp", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i))
		req.Header.Set("True-Client-IP", fmt.Sprintf("192.0.2.%d", 100+i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		want := http.StatusNoContent
		if i == 6 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Fatalf("request %d status = %d, want %d", i, rec.Code, want)
		}
	}
}

func TestNewIPResolver_Invalid(t *testing.T) {
	t.Parallel()

	for _, entry := range []string{"not-an-ip", "10.0.0.0/99"} {
		if _, err := NewIPResolver([]string{entry}); err == nil {
			t.Errorf("NewIPResolver(%q) error = nil, want error", entry)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	trusted, err := NewIPResolver([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("NewIPResolver() error = %v", err)
	}

	testCases := []struct {
		name     string
		resolver *IPResolver
		headers  map[string]string
		remote   string
		want     string
	}{
		{name: "remote addr", remote: "198.51.100.1:1234", want: "198.51.100.1"},
		{name: "untrusted peer ignores forwarded for", headers: map[string]string{"X-Forwarded-For": "203.0.113.3"}, remote: "198.51.100.1:1", want: "198.51.100.1"},
		{name: "untrusted peer ignores real ip", resolver: trusted, headers: map[string]string{"X-Real-IP": "203.0.113.2"}, remote: "198.51.100.1:1", want: "198.51.100.1"},
		{name: "trusted true client ip", resolver: trusted, headers: map[string]string{"True-Client-IP": "203.0.113.1"}, remote: "10.0.0.1:1", want: "203.0.113.1"},
		{name: "trusted x-real-ip", resolver: trusted, headers: map[string]string{"X-Real-IP": "203.0.113.2"}, remote: "192.168.1.10:1", want: "203.0.113.2"},
		{name: "trusted forwarded chain skips proxies", resolver: trusted, headers: map[string]string{"X-Forwarded-For": "198.51.100.50, 203.0.113.3, 10.0.0.2"}, remote: "10.0.0.1:1", want: "203.0.113.3"},
		{name: "trusted chain of only proxies", resolver: trusted, headers: map[string]string{"X-Forwarded-For": "10.1.1.1, 10.0.0.2"}, remote: "10.0.0.1:1", want: "10.1.1.1"},
		{name: "garbage header falls back", resolver: trusted, headers: map[string]string{"X-Real-IP": "nope"}, remote: "10.0.0.1:1", want: "10.0.0.1"},
		{name: "ipv4 mapped peer", remote: "[::ffff:198.51.100.4]:1", want: "198.51.100.4"},
		{name: "unparseable remote", remote: "pipe", want: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := tc.resolver.ClientIP(req); got != tc.want {
				t.Fatalf("ClientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLoggingMiddlewarePassesStatus(t *testing.T) {
	t.Parallel()

	h := LoggingMiddleware(newTestLogger(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	h := CORS([]string{"https://app.example"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/send-otp", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want https://app.example", got)
	}
}
