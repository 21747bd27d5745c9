// Package daemon runs expiration passes in-process for serve mode. A pass
// runs at the fire time held in the local reschedule record, and at least
// once per backup interval.
package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/lapse/internal/reschedule"
	"github.com/yairfalse/lapse/reconciler"
	"github.com/yairfalse/lapse/storage"
)

// PassRunner runs one expiration pass. *reconciler.Reconciler implements it.
type PassRunner interface {
	Run(ctx context.Context) (*reconciler.PassResult, error)
}

// HistoryRecorder stores executor outcomes. *storage.Store implements it.
type HistoryRecorder interface {
	RecordAction(ctx context.Context, rec storage.ActionRecord) error
}

// Config holds daemon configuration
type Config struct {
	BackupInterval time.Duration
}

// Daemon manages continuous expiration passes
type Daemon struct {
	runner   PassRunner
	schedule reschedule.Store
	history  HistoryRecorder
	backup   time.Duration
	logger   zerolog.Logger
	metrics  *DaemonMetrics
	now      func() time.Time

	startTime time.Time
	passCount atomic.Int64
	wake      chan struct{}

	mu       sync.RWMutex
	lastPass time.Time
	lastErr  string
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// WithMetrics sets daemon metrics.
func WithMetrics(m *DaemonMetrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithHistory records every executor result.
func WithHistory(h HistoryRecorder) Option {
	return func(d *Daemon) { d.history = h }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) { d.now = now }
}

// NewDaemon creates a new daemon instance
func NewDaemon(runner PassRunner, schedule reschedule.Store, config Config, opts ...Option) *Daemon {
	d := &Daemon{
		runner:   runner,
		schedule: schedule,
		backup:   config.BackupInterval,
		logger:   log.Logger,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.backup <= 0 {
		d.backup = time.Hour
	}
	d.startTime = d.now()
	return d
}

// Start runs a pass immediately, then one each time the next check comes
// due, until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	for {
		d.runPass(ctx)

		wait := d.nextWait(ctx)
		d.logger.Debug().Dur("wait", wait).Msg("Waiting for next check")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-d.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Trigger requests an immediate pass. It never blocks.
func (d *Daemon) Trigger() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Daemon) runPass(ctx context.Context) {
	d.passCount.Add(1)
	start := d.now()

	res, err := d.runner.Run(ctx)

	status := "success"
	switch {
	case err != nil:
		status = "failed"
		d.logger.Error().Err(err).Msg("Expiration pass failed")
	case res.Failed() > 0 || res.RescheduleErr != "":
		status = "partial"
	}

	d.mu.Lock()
	d.lastPass = start
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordPass(ctx, status)
		d.metrics.RecordPassDuration(ctx, d.now().Sub(start).Seconds(), status)
		if res != nil {
			d.metrics.RecordInstancesDescribed(ctx, int64(res.Described))
		}
	}

	if res != nil {
		d.recordHistory(ctx, res)
	}
}

func (d *Daemon) recordHistory(ctx context.Context, res *reconciler.PassResult) {
	if d.history == nil {
		return
	}
	for _, r := range res.Results {
		rec := storage.ActionRecord{
			InstanceID: r.InstanceID,
			Action:     r.Action.String(),
			Status:     string(r.Status),
			Reason:     r.SkipReason,
			At:         r.StartTime,
		}
		if r.Error != "" {
			rec.Reason = r.Error
		}
		if err := d.history.RecordAction(ctx, rec); err != nil {
			d.logger.Warn().Err(err).Str("instance_id", r.InstanceID).Msg("Failed to record action history")
			d.recordStorage(ctx, "record_action", err)
			continue
		}
		d.recordStorage(ctx, "record_action", nil)
	}
}

// nextWait returns how long to sleep before the next pass: until the stored
// fire time when it is in the future, never longer than the backup interval.
func (d *Daemon) nextWait(ctx context.Context) time.Duration {
	rec, err := d.schedule.Get(ctx)
	if err != nil {
		if !errors.Is(err, reschedule.ErrRecordNotFound) {
			d.logger.Warn().Err(err).Msg("Failed to read next check; using backup interval")
		}
		d.recordStorage(ctx, "get_schedule", err)
		return d.backup
	}
	d.recordStorage(ctx, "get_schedule", nil)

	wait := rec.FireAt.Sub(d.now())
	if wait <= 0 || wait > d.backup {
		return d.backup
	}
	return wait
}

func (d *Daemon) recordStorage(ctx context.Context, op string, err error) {
	if d.metrics == nil {
		return
	}
	if err != nil {
		d.metrics.RecordStorageOperation(ctx, op, "error", errorType(err))
		return
	}
	d.metrics.RecordStorageOperation(ctx, op, "success", "")
}

func errorType(err error) string {
	if errors.Is(err, reschedule.ErrRecordNotFound) {
		return "not_found"
	}
	return "other"
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := "healthy"
	if d.lastErr != "" {
		status = "degraded"
	}
	return HealthStatus{
		Status:    status,
		Uptime:    int64(d.now().Sub(d.startTime).Seconds()),
		Passes:    d.passCount.Load(),
		LastPass:  d.lastPass,
		LastError: d.lastErr,
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status    string    `json:"status"`
	Uptime    int64     `json:"uptime_seconds"`
	Passes    int64     `json:"passes"`
	LastPass  time.Time `json:"last_pass,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// PassCount returns total passes run
func (d *Daemon) PassCount() int64 {
	return d.passCount.Load()
}
