package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/qcom/otplogin/internal/config"
	"github.com/qcom/otplogin/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	sessionTokenType   = "session"
	defaultTokenExpiry = 24 * time.Hour
)

// SessionService issues and checks the signed session tokens handed out
// after a successful OTP verification.
type SessionService struct {
	secretKey []byte
	expiry    time.Duration
	now       func() time.Time
	logger    *logrus.Logger
}

func NewSessionService(cfg *config.JWTConfig, logger *logrus.Logger) (*SessionService, error) {
	return newSessionService(cfg, logger, time.Now)
}

func newSessionService(cfg *config.JWTConfig, logger *logrus.Logger, nowFn func() time.Time) (*SessionService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = defaultTokenExpiry
	}

	return &SessionService{
		secretKey: secretKey,
		expiry:    expiry,
		now:       nowFn,
		logger:    logger,
	}, nil
}

type Claims struct {
	PhoneNumber string `json:"phoneNumber"`
	Timestamp   int64  `json:"timestamp"`
	Type        string `json:"type"`
	jwt.RegisteredClaims
}

// Issue signs a session token bound to phoneNumber.
func (s *SessionService) Issue(phoneNumber string) (*models.SessionToken, error) {
	now := s.now()
	expiresAt := now.Add(s.expiry)
	jti := uuid.New().String()

	claims := &Claims{
		PhoneNumber: phoneNumber,
		Timestamp:   now.UnixMilli(),
		Type:        sessionTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   phoneNumber,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign session token")
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &models.SessionToken{
		Token:       signed,
		TokenType:   "Bearer",
		PhoneNumber: phoneNumber,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}, nil
}

// Verify checks the signature, expiry and token type. Every failure wraps
// ErrInvalidToken.
func (s *SessionService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != sessionTokenType || claims.PhoneNumber == "" {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.Type)
	}

	return claims, nil
}
