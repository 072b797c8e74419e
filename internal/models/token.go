package models

import "time"

type SessionToken struct {
	Token       string    `json:"token"`
	TokenType   string    `json:"token_type"`
	PhoneNumber string    `json:"phone_number"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
