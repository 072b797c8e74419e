package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qcom/otplogin/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

var _ OTPStore = (*RedisStore)(nil)

// RedisStore keeps OTP records in Redis so several instances can share them.
// Keys expire through Redis TTL; ExpiresAt is also checked on read.
type RedisStore struct {
	client *redis.Client
	opts   StoreOptions
	now    func() time.Time
	logger *logrus.Logger
}

func NewRedisStore(client *redis.Client, opts StoreOptions, logger *logrus.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	opts = opts.withDefaults()
	return &RedisStore{
		client: client,
		opts:   opts,
		now:    opts.Now,
		logger: logger,
	}, nil
}

func otpKey(phoneNumber string) string {
	return fmt.Sprintf("otp:%s", phoneNumber)
}

func (s *RedisStore) Put(ctx context.Context, phoneNumber, code string) (*models.OTPRecord, error) {
	now := s.now()
	rec := &models.OTPRecord{
		Phone:     phoneNumber,
		Code:      code,
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.TTL),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OTP data: %w", err)
	}

	if err := s.client.Set(ctx, otpKey(phoneNumber), data, s.opts.TTL).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to store OTP in Redis")
		return nil, fmt.Errorf("failed to store OTP: %w", err)
	}

	return rec, nil
}

func (s *RedisStore) Get(ctx context.Context, phoneNumber string) (*models.OTPRecord, error) {
	rec, err := s.load(ctx, s.client, phoneNumber)
	if err != nil {
		return nil, err
	}
	if rec.Expired(s.now()) {
		if err := s.client.Del(ctx, otpKey(phoneNumber)).Err(); err != nil {
			s.logger.WithError(err).WithField("phone", phoneNumber).Warn("Failed to delete expired OTP from Redis")
		}
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, phoneNumber string) error {
	if err := s.client.Del(ctx, otpKey(phoneNumber)).Err(); err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}
	return nil
}

// Update applies fn inside a WATCH/MULTI transaction. A conflicting write
// from another client restarts the transaction until ctx is done; every
// round commits at least one contender, so callers make progress.
func (s *RedisStore) Update(ctx context.Context, phoneNumber string, fn UpdateFunc) error {
	key := otpKey(phoneNumber)

	txf := func(tx *redis.Tx) error {
		rec, err := s.load(ctx, tx, phoneNumber)
		if err != nil {
			return err
		}

		now := s.now()
		if rec.Expired(now) {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			return ErrNotFound
		}

		action := fn(rec)
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal OTP data: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if action == DeleteRecord {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, data, rec.ExpiresAt.Sub(now))
			return nil
		})
		return err
	}

	for {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("failed to update OTP: %w", ctxErr)
			}
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.WithError(err).Error("Failed to update OTP in Redis")
			return fmt.Errorf("failed to update OTP: %w", err)
		}
		return err
	}
}

func (s *RedisStore) RemainingAttempts(ctx context.Context, phoneNumber string) (int, error) {
	rec, err := s.Get(ctx, phoneNumber)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return remaining(s.opts.MaxAttempts, rec.Attempts), nil
}

func (s *RedisStore) ExpiryTime(ctx context.Context, phoneNumber string) (time.Time, bool, error) {
	rec, err := s.Get(ctx, phoneNumber)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return rec.ExpiresAt, true, nil
}

func (s *RedisStore) MaxAttempts() int {
	return s.opts.MaxAttempts
}

func (s *RedisStore) load(ctx context.Context, c stringGetter, phoneNumber string) (*models.OTPRecord, error) {
	data, err := c.Get(ctx, otpKey(phoneNumber)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	var rec models.OTPRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}
	return &rec, nil
}
