package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/scholaris/internal/billing/domain"
)

// ErrSweepInProgress is returned when a sweep is requested while a previous
// one is still running. Overlapping timer fires are skipped, not queued.
var ErrSweepInProgress = errors.New("billing: reconciliation sweep already in progress")

// ReconcilerConfig holds configuration for the reconciliation sweep.
type ReconcilerConfig struct {
	// Interval between periodic sweeps.
	Interval time.Duration
	// Grace is how long a subscription may stay past_due before expiry.
	Grace time.Duration
	// SweepOnStart runs one sweep immediately when Start is called.
	SweepOnStart bool
}

// DefaultReconcilerConfig returns the production defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:     60 * time.Minute,
		Grace:        7 * 24 * time.Hour,
		SweepOnStart: true,
	}
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Scanned   int
	Expired   int
	Errors    int
	StartedAt time.Time
	Duration  time.Duration
}

// Stats are cumulative reconciler statistics, exposed on the worker health
// endpoint.
type Stats struct {
	IsRunning    bool
	SweepCount   uint64
	ExpiredCount uint64
	ErrorCount   uint64
	LastSweepAt  *time.Time
	LastError    string
}

// Reconciler periodically re-derives subscription state from time-based
// rules, independent of webhook delivery: lapsed non-renewing actives and
// past-due subscriptions beyond the grace period are expired and their
// owners downgraded. Each record is processed independently; a failure on
// one is logged and does not abort the sweep for the rest.
type Reconciler struct {
	subscriptions domain.SubscriptionRepository
	lifecycle     *Lifecycle
	config        ReconcilerConfig
	logger        *slog.Logger
	nowFunc       func() time.Time

	wg       sync.WaitGroup
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex

	// sweepMu serializes sweeps: a timer fire while a sweep is still in
	// progress is skipped.
	sweepMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// NewReconciler creates a reconciler.
func NewReconciler(
	subscriptions domain.SubscriptionRepository,
	lifecycle *Lifecycle,
	config ReconcilerConfig,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		subscriptions: subscriptions,
		lifecycle:     lifecycle,
		config:        config,
		logger:        logger,
		nowFunc:       time.Now,
		stopChan:      make(chan struct{}),
	}
}

// Start launches the periodic sweep loop. When configured, one sweep runs
// immediately so restarts do not wait a full interval to reconcile.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("reconciliation sweep started",
		"interval", r.config.Interval,
		"grace", r.config.Grace,
	)
	return nil
}

// Stop gracefully stops the loop, waiting for an in-flight sweep to finish
// its current record. Partially processed batches are safe: every record's
// transition is re-evaluated by condition on the next run.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("reconciliation sweep stopped")
}

// IsRunning reports whether the periodic loop is active.
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	if r.config.SweepOnStart {
		if _, err := r.RunSweepOnce(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
			r.logger.Error("startup sweep failed", "error", err)
		}
	}

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if _, err := r.RunSweepOnce(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
				r.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// RunSweepOnce executes a single sweep. Safe to call at any time; returns
// ErrSweepInProgress when another sweep is still running.
func (r *Reconciler) RunSweepOnce(ctx context.Context) (SweepResult, error) {
	if !r.sweepMu.TryLock() {
		return SweepResult{}, ErrSweepInProgress
	}
	defer r.sweepMu.Unlock()

	now := r.nowFunc()
	result := SweepResult{StartedAt: now}

	lapsed, err := r.subscriptions.ListLapsedNonRenewing(ctx, now)
	if err != nil {
		r.recordSweep(result, err)
		return result, err
	}
	r.expireBatch(ctx, lapsed, "sweep-lapsed", &result)

	delinquent, err := r.subscriptions.ListPastDueUpdatedBefore(ctx, now.Add(-r.config.Grace))
	if err != nil {
		r.recordSweep(result, err)
		return result, err
	}
	r.expireBatch(ctx, delinquent, "sweep-grace-elapsed", &result)

	result.Duration = r.nowFunc().Sub(now)
	r.recordSweep(result, nil)

	r.logger.Info("sweep completed",
		"scanned", result.Scanned,
		"expired", result.Expired,
		"errors", result.Errors,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// expireBatch applies the terminal transition to each record, catching
// per-record failures so one bad record cannot block the rest.
func (r *Reconciler) expireBatch(ctx context.Context, subs []*domain.Subscription, trigger string, result *SweepResult) {
	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result.Scanned++
		landed, err := r.lifecycle.Expire(ctx, sub, trigger)
		if err != nil {
			result.Errors++
			r.logger.Error("failed to expire subscription",
				"subscription_id", sub.ID,
				"user_id", sub.UserID,
				"trigger", trigger,
				"error", err,
			)
			continue
		}
		if landed {
			result.Expired++
		}
	}
}

func (r *Reconciler) recordSweep(result SweepResult, err error) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	r.stats.SweepCount++
	r.stats.ExpiredCount += uint64(result.Expired)
	r.stats.ErrorCount += uint64(result.Errors)
	now := time.Now()
	r.stats.LastSweepAt = &now
	if err != nil {
		r.stats.LastError = err.Error()
	}
}

// GetStats returns cumulative reconciler statistics.
func (r *Reconciler) GetStats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	stats := r.stats
	stats.IsRunning = r.IsRunning()
	return stats
}
