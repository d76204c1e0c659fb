package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig contains sweep cadence configuration.
type SweeperConfig struct {
	SweepInterval   time.Duration
	CleanupInterval time.Duration
	RetentionDays   int
}

// DefaultSweeperConfig returns default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		SweepInterval:   1 * time.Minute,
		CleanupInterval: 1 * time.Hour,
		RetentionDays:   30,
	}
}

// Sweeper periodically runs the retryable, stuck and retention sweeps.
// Errors are logged and the sweep is attempted again on the next tick.
type Sweeper struct {
	config  SweeperConfig
	service *Service

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a new sweeper.
func NewSweeper(config SweeperConfig, service *Service) *Sweeper {
	return &Sweeper{
		config:  config,
		service: service,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("starting queue sweeper",
		"sweep_interval", s.config.SweepInterval,
		"cleanup_interval", s.config.CleanupInterval,
		"retention_days", s.config.RetentionDays,
	)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the sweep loop.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	slog.Info("queue sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	sweepTicker := time.NewTicker(s.config.SweepInterval)
	defer sweepTicker.Stop()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-sweepTicker.C:
			s.Sweep(ctx)
		case <-cleanupTicker.C:
			s.Cleanup(ctx)
		}
	}
}

// Sweep runs the stuck-item and retryable sweeps once.
func (s *Sweeper) Sweep(ctx context.Context) {
	if _, err := s.service.HandleStuckItems(ctx); err != nil {
		slog.Error("stuck item sweep failed", "error", err)
	}
	if _, err := s.service.ProcessRetryableItems(ctx); err != nil {
		slog.Error("retryable sweep failed", "error", err)
	}
}

// Cleanup runs the retention sweep once.
func (s *Sweeper) Cleanup(ctx context.Context) {
	if _, err := s.service.CleanupOldItems(ctx, s.config.RetentionDays); err != nil {
		slog.Error("retention sweep failed", "error", err)
	}
}
