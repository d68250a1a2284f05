package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/tanglebox/keywarden/internal/auth/store"
)

// HousekeepingService periodically removes expired records so the token,
// denylist, rate limit, and audit tables do not grow without bound.
type HousekeepingService struct {
	Store          store.Store
	Logger         *slog.Logger
	Interval       time.Duration
	AuditRetention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A non-positive
// interval defaults to 1 hour, a non-positive retention to 90 days.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval, auditRetention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if auditRetention <= 0 {
		auditRetention = 90 * 24 * time.Hour
	}
	return &HousekeepingService{
		Store:          st,
		Logger:         logger,
		Interval:       interval,
		AuditRetention: auditRetention,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts down the worker and blocks until any in-progress sweep finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup sweeps each table independently, a failure in one never stops the
// others.
func (s *HousekeepingService) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	now := time.Now().UTC()

	if n, err := s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "error", err)
	} else if n > 0 {
		s.Logger.Debug("deleted expired refresh tokens", "count", n)
	}

	if n, err := s.Store.RevokedTokens().DeleteExpired(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired denylist entries", "error", err)
	} else if n > 0 {
		s.Logger.Debug("deleted expired denylist entries", "count", n)
	}

	// Buckets older than two windows can never be read again.
	if n, err := s.Store.RateLimits().DeleteStaleBuckets(ctx, now.Add(-2*DefaultRateLimitWindow)); err != nil {
		s.Logger.Error("failed to delete stale rate limit buckets", "error", err)
	} else if n > 0 {
		s.Logger.Debug("deleted stale rate limit buckets", "count", n)
	}

	if n, err := s.Store.AuditEvents().DeleteOlderThan(ctx, now.Add(-s.AuditRetention)); err != nil {
		s.Logger.Error("failed to prune audit events", "error", err)
	} else if n > 0 {
		s.Logger.Debug("pruned audit events", "count", n)
	}
}
