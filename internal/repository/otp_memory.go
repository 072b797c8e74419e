package repository

import (
	"context"
	"sync"
	"time"

	"github.com/qcom/otplogin/internal/models"
	"github.com/sirupsen/logrus"
)

var _ OTPStore = (*MemoryStore)(nil)

// MemoryStore is a single-process OTPStore. Expired records are treated as
// absent on read and reclaimed either lazily or by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.OTPRecord

	opts   StoreOptions
	now    func() time.Time
	logger *logrus.Logger
}

func NewMemoryStore(opts StoreOptions, logger *logrus.Logger) *MemoryStore {
	opts = opts.withDefaults()
	return &MemoryStore{
		records: make(map[string]*models.OTPRecord),
		opts:    opts,
		now:     opts.Now,
		logger:  logger,
	}
}

func (s *MemoryStore) Put(_ context.Context, phoneNumber, code string) (*models.OTPRecord, error) {
	now := s.now()
	rec := &models.OTPRecord{
		Phone:     phoneNumber,
		Code:      code,
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.TTL),
	}

	s.mu.Lock()
	s.records[phoneNumber] = rec
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"phone":      phoneNumber,
		"expires_at": rec.ExpiresAt.Format(time.RFC3339),
	}).Debug("OTP stored")

	out := *rec
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, phoneNumber string) (*models.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveLocked(phoneNumber)
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *MemoryStore) Delete(_ context.Context, phoneNumber string) error {
	s.mu.Lock()
	delete(s.records, phoneNumber)
	s.mu.Unlock()

	s.logger.WithField("phone", phoneNumber).Debug("OTP cleared")
	return nil
}

func (s *MemoryStore) Update(_ context.Context, phoneNumber string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveLocked(phoneNumber)
	if !ok {
		return ErrNotFound
	}

	working := *rec
	if fn(&working) == DeleteRecord {
		delete(s.records, phoneNumber)
		return nil
	}
	s.records[phoneNumber] = &working
	return nil
}

func (s *MemoryStore) RemainingAttempts(_ context.Context, phoneNumber string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveLocked(phoneNumber)
	if !ok {
		return 0, nil
	}
	return remaining(s.opts.MaxAttempts, rec.Attempts), nil
}

func (s *MemoryStore) ExpiryTime(_ context.Context, phoneNumber string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveLocked(phoneNumber)
	if !ok {
		return time.Time{}, false, nil
	}
	return rec.ExpiresAt, true, nil
}

func (s *MemoryStore) MaxAttempts() int {
	return s.opts.MaxAttempts
}

// Len returns the number of records held, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sweep removes every expired record and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for phone, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, phone)
			removed++
		}
	}
	return removed
}

// Run sweeps expired records every SweepInterval until ctx is canceled.
func (s *MemoryStore) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.opts.SweepInterval.String()).Info("OTP sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("OTP sweeper stopped")
			return nil
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				s.logger.WithField("removed", removed).Debug("Expired OTPs swept")
			}
		}
	}
}

// liveLocked returns the record for phoneNumber, reclaiming it if expired.
// s.mu must be held.
func (s *MemoryStore) liveLocked(phoneNumber string) (*models.OTPRecord, bool) {
	rec, ok := s.records[phoneNumber]
	if !ok {
		return nil, false
	}
	if rec.Expired(s.now()) {
		delete(s.records, phoneNumber)
		return nil, false
	}
	return rec, true
}
