package storage

import (
	"context"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
)

// RetentionSweeper periodically drops readings past the retention horizon.
// The Timescale retention policy does the same server-side; the sweeper
// keeps the horizon honored when policies are disabled or the background
// workers fall behind.
type RetentionSweeper struct {
	services.Service

	store     Store
	retention time.Duration
	logger    kitlog.Logger
}

// NewRetentionSweeper builds the sweeper service.
func NewRetentionSweeper(store Store, retentionDays int, interval time.Duration, logger kitlog.Logger) *RetentionSweeper {
	s := &RetentionSweeper{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger,
	}
	s.Service = services.NewTimerService(interval, nil, s.sweep, nil)
	return s
}

func (s *RetentionSweeper) sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.retention)
	dropped, err := s.store.DropBefore(ctx, cutoff)
	if err != nil {
		// Transient store trouble must not kill the service; the next tick retries.
		level.Warn(s.logger).Log("msg", "retention sweep failed", "err", err)
		return nil
	}
	if dropped > 0 {
		level.Info(s.logger).Log("msg", "retention sweep", "dropped", dropped)
	}
	return nil
}
