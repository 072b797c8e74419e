package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/sirupsen/logrus"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	ModeLocal  = "local"
	ModeRemote = "remote"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ErrProviderConfig is returned when the SMS provider credentials required by
// the selected mode are missing.
var ErrProviderConfig = errors.New("twilio configuration missing")

type Config struct {
	Env       string
	LogLevel  string
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OTP       OTPConfig
	Twilio    TwilioConfig
	Form      FormConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	// TrustedProxies are peer IPs or CIDRs whose forwarding headers are
	// believed when resolving the client address.
	TrustedProxies []string
}

type StoreConfig struct {
	Backend string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey string
	Expiry    time.Duration
}

type OTPConfig struct {
	Mode          string
	Length        int
	Expiry        time.Duration
	MaxAttempts   int
	SweepInterval time.Duration
}

type TwilioConfig struct {
	AccountSID       string
	AuthToken        string
	VerifyServiceSID string
	FromNumber       string
	CountryCode      string
	VerifyBaseURL    string
	APIBaseURL       string
	Timeout          time.Duration
	MockDelay        time.Duration
}

type FormConfig struct {
	BaseURL      string
	FormID       string
	PhoneEntryID string
}

type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

// environment mirrors the process environment; Load maps it onto Config.
type environment struct {
	Port           string `env:"PORT,default=8080"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
	AppEnv         string `env:"APP_ENV,default=development"`
	AllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	TrustedProxies string `env:"TRUSTED_PROXIES"`

	StoreBackend  string `env:"STORE_BACKEND,default=memory"`
	RedisEndpoint string `env:"REDIS_ENDPOINT,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	JWTSecret    string `env:"JWT_SECRET"`
	JWTExpiresIn string `env:"JWT_EXPIRES_IN,default=24h"`

	OTPMode          string `env:"OTP_MODE"`
	OTPLength        int    `env:"OTP_LENGTH,default=6"`
	OTPExpiryMinutes int    `env:"OTP_EXPIRY_MINUTES,default=5"`
	OTPMaxAttempts   int    `env:"OTP_MAX_ATTEMPTS,default=3"`
	OTPSweepSeconds  int    `env:"OTP_SWEEP_INTERVAL_SECONDS,default=60"`

	TwilioAccountSID    string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken     string `env:"TWILIO_AUTH_TOKEN"`
	TwilioVerifySID     string `env:"TWILIO_VERIFY_SERVICE_SID"`
	TwilioFromNumber    string `env:"TWILIO_FROM_NUMBER"`
	TwilioCountryCode   string `env:"TWILIO_COUNTRY_CODE,default=+91"`
	TwilioVerifyBaseURL string `env:"TWILIO_VERIFY_BASE_URL,default=https://verify.twilio.com/v2"`
	TwilioAPIBaseURL    string `env:"TWILIO_API_BASE_URL,default=https://api.twilio.com/2010-04-01"`
	ProviderTimeoutSecs int    `env:"PROVIDER_TIMEOUT_SECONDS,default=10"`
	MockSMSDelayMillis  int    `env:"MOCK_SMS_DELAY_MS,default=1000"`

	FormBaseURL      string `env:"GOOGLE_FORM_BASE_URL,default=https://docs.google.com/forms/d/e"`
	FormID           string `env:"GOOGLE_FORM_ID"`
	FormPhoneEntryID string `env:"GOOGLE_PHONE_NUMBER_ENTRY_ID"`

	RateLimitMax           int `env:"RATE_LIMIT_MAX,default=5"`
	RateLimitWindowMinutes int `env:"RATE_LIMIT_WINDOW_MINUTES,default=15"`
}

func Load() (*Config, error) {
	var e environment
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	jwtExpiry, err := time.ParseDuration(e.JWTExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRES_IN %q: %w", e.JWTExpiresIn, err)
	}

	appEnv := strings.ToLower(strings.TrimSpace(e.AppEnv))
	mode := strings.ToLower(strings.TrimSpace(e.OTPMode))
	if mode == "" {
		mode = ModeLocal
		if appEnv == EnvProduction {
			mode = ModeRemote
		}
	}

	cfg := &Config{
		Env:      appEnv,
		LogLevel: e.LogLevel,
		Server: ServerConfig{
			Port:           e.Port,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			AllowedOrigins: splitList(e.AllowedOrigins),
			TrustedProxies: splitList(e.TrustedProxies),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(strings.TrimSpace(e.StoreBackend)),
		},
		Redis: RedisConfig{
			Endpoint: e.RedisEndpoint,
			Password: e.RedisPassword,
			DB:       e.RedisDB,
		},
		JWT: JWTConfig{
			SecretKey: e.JWTSecret,
			Expiry:    jwtExpiry,
		},
		OTP: OTPConfig{
			Mode:          mode,
			Length:        e.OTPLength,
			Expiry:        time.Duration(e.OTPExpiryMinutes) * time.Minute,
			MaxAttempts:   e.OTPMaxAttempts,
			SweepInterval: time.Duration(e.OTPSweepSeconds) * time.Second,
		},
		Twilio: TwilioConfig{
			AccountSID:       e.TwilioAccountSID,
			AuthToken:        e.TwilioAuthToken,
			VerifyServiceSID: e.TwilioVerifySID,
			FromNumber:       e.TwilioFromNumber,
			CountryCode:      e.TwilioCountryCode,
			VerifyBaseURL:    e.TwilioVerifyBaseURL,
			APIBaseURL:       e.TwilioAPIBaseURL,
			Timeout:          time.Duration(e.ProviderTimeoutSecs) * time.Second,
			MockDelay:        time.Duration(e.MockSMSDelayMillis) * time.Millisecond,
		},
		Form: FormConfig{
			BaseURL:      e.FormBaseURL,
			FormID:       e.FormID,
			PhoneEntryID: e.FormPhoneEntryID,
		},
		RateLimit: RateLimitConfig{
			Max:    e.RateLimitMax,
			Window: time.Duration(e.RateLimitWindowMinutes) * time.Minute,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether the service talks to the real SMS provider.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

func (c *Config) validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes (256 bits)")
	}
	if c.JWT.Expiry <= 0 {
		return fmt.Errorf("JWT_EXPIRES_IN must be positive")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}

	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env)
	}
	if c.OTP.Mode != ModeLocal && c.OTP.Mode != ModeRemote {
		return fmt.Errorf("OTP_MODE must be %q or %q, got %q", ModeLocal, ModeRemote, c.OTP.Mode)
	}
	if c.Store.Backend != BackendMemory && c.Store.Backend != BackendRedis {
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, c.Store.Backend)
	}

	for _, p := range c.Server.TrustedProxies {
		if !validProxy(p) {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", p)
		}
	}

	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10")
	}
	if c.OTP.Expiry <= 0 {
		return fmt.Errorf("OTP_EXPIRY_MINUTES must be positive")
	}
	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	if c.OTP.SweepInterval <= 0 {
		return fmt.Errorf("OTP_SWEEP_INTERVAL_SECONDS must be positive")
	}

	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW_MINUTES must be positive")
	}

	return c.validateProvider()
}

// validateProvider rejects configurations that would fail on every request:
// remote verification without Verify credentials, or production SMS delivery
// without a sender number.
func (c *Config) validateProvider() error {
	t := c.Twilio
	switch {
	case c.OTP.Mode == ModeRemote:
		if t.AccountSID == "" || t.AuthToken == "" || t.VerifyServiceSID == "" {
			return fmt.Errorf("%w: TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_VERIFY_SERVICE_SID are required in remote mode", ErrProviderConfig)
		}
	case c.IsProduction():
		if t.AccountSID == "" || t.AuthToken == "" || t.FromNumber == "" {
			return fmt.Errorf("%w: TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required for production SMS", ErrProviderConfig)
		}
	}
	return nil
}

func validProxy(value string) bool {
	if strings.Contains(value, "/") {
		_, err := netip.ParsePrefix(value)
		return err == nil
	}
	_, err := netip.ParseAddr(value)
	return err == nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
