// Package scheduler drives the periodic fleet scan. Each tick it walks all
// active storefronts in fixed-size parallel batches, claiming each one with
// an atomic check-and-set so a storefront is never scanned twice at once.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storewatch/internal/config"
	"storewatch/internal/diag"
	"storewatch/internal/model"
)

const (
	defaultIntervalMin = 1440
	defaultBatchSize   = 5
	defaultScanTimeout = 10 * time.Minute
)

// ScanRunner runs one scan under a hard deadline. Implemented by
// diag.Service.
type ScanRunner interface {
	RunTimedScan(ctx context.Context, storefrontID string, timeout time.Duration) (*model.ScanRun, error)
}

// Scheduler owns the fleet scan loop.
type Scheduler struct {
	runner      ScanRunner
	storefronts diag.StorefrontStore
	settings    diag.SettingsStore
	cfg         config.SchedulerConfig
	logger      diag.Logger
	clock       diag.Clock
}

// New builds a Scheduler.
func New(runner ScanRunner, stores diag.Stores, cfg config.SchedulerConfig, logger diag.Logger, clock diag.Clock) *Scheduler {
	return &Scheduler{
		runner:      runner,
		storefronts: stores.Storefronts,
		settings:    stores.Settings,
		cfg:         cfg,
		logger:      logger,
		clock:       clock,
	}
}

// SweepResult summarizes one fleet pass.
type SweepResult struct {
	Attempted int
	Completed int
	Failed    int
	Skipped   int
}

// Run blocks until ctx is cancelled, executing one fleet sweep per interval.
// The first sweep runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.IntervalMin) * time.Minute
	if interval <= 0 {
		interval = defaultIntervalMin * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", interval)
	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			s.logger.Error("fleet sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SweepOnce scans every active storefront once, honoring the
// daily_scans_enabled kill switch.
func (s *Scheduler) SweepOnce(ctx context.Context) (*SweepResult, error) {
	enabled, err := s.dailyScansEnabled()
	if err != nil {
		return nil, err
	}
	if !enabled {
		s.logger.Info("daily scans disabled, skipping fleet sweep")
		return &SweepResult{}, nil
	}

	fronts, err := s.storefronts.ListActiveStorefronts()
	if err != nil {
		return nil, fmt.Errorf("listing storefronts: %w", err)
	}

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	// Zero means no pause; the config default is 10s.
	pause := time.Duration(s.cfg.BatchPauseSec) * time.Second

	result := &SweepResult{}
	var mu sync.Mutex

	for start := 0; start < len(fronts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := start + batchSize
		if end > len(fronts) {
			end = len(fronts)
		}

		var wg sync.WaitGroup
		for _, sf := range fronts[start:end] {
			wg.Add(1)
			go func(sf *model.Storefront) {
				defer wg.Done()
				outcome := s.scanStorefront(ctx, sf)
				mu.Lock()
				defer mu.Unlock()
				result.Attempted++
				switch outcome {
				case model.ScanCompleted:
					result.Completed++
				case model.ScanFailed:
					result.Failed++
				default:
					result.Skipped++
					result.Attempted--
				}
			}(sf)
		}
		wg.Wait()

		// Pause between batches to spread API load.
		if end < len(fronts) {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(pause):
			}
		}
	}

	s.logger.Info("fleet sweep finished",
		"attempted", result.Attempted, "completed", result.Completed,
		"failed", result.Failed, "skipped", result.Skipped)
	return result, nil
}

// scanStorefront claims the single-flight flag, runs the scan and records
// the outcome on the storefront row. Returns the scan status, or "" when
// the storefront was skipped.
func (s *Scheduler) scanStorefront(ctx context.Context, sf *model.Storefront) string {
	claimed, err := s.storefronts.TryBeginScan(sf.ID, s.clock.Now())
	if err != nil {
		s.logger.Error("claiming scan flag", "storefront_id", sf.ID, "error", err)
		return ""
	}
	if !claimed {
		s.logger.Debug("scan already in progress", "storefront_id", sf.ID, "domain", sf.Domain)
		return ""
	}

	timeout := time.Duration(s.cfg.ScanTimeoutMin) * time.Minute
	if timeout <= 0 {
		timeout = defaultScanTimeout
	}

	run, err := s.runner.RunTimedScan(ctx, sf.ID, timeout)

	status := model.ScanCompleted
	errMsg := ""
	if err != nil {
		status = model.ScanFailed
		errMsg = err.Error()
	} else if run != nil && run.Status != model.ScanCompleted {
		status = run.Status
		errMsg = run.ErrorMessage
	}

	if finishErr := s.storefronts.FinishScan(sf.ID, status, errMsg, s.clock.Now()); finishErr != nil {
		s.logger.Error("recording scan outcome", "storefront_id", sf.ID, "error", finishErr)
	}
	return status
}

func (s *Scheduler) dailyScansEnabled() (bool, error) {
	value, ok, err := s.settings.Setting(model.SettingDailyScansEnabled)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", model.SettingDailyScansEnabled, err)
	}
	if !ok {
		return true, nil
	}
	return value == "true", nil
}
