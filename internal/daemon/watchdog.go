// Package daemon implements the long-running watchdog loop.
package daemon

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// Reconciler runs one enforcement cycle against the current clock.
type Reconciler interface {
	Reconcile(ctx context.Context, now time.Time) (*domain.Report, error)
}

// GuardSweeper re-kills processes for targets that have an active relaunch
// guard. Satisfied by the app enforcer.
type GuardSweeper interface {
	SweepGuards(ctx context.Context) error
}

// Config holds watchdog loop intervals.
type Config struct {
	ReconcileInterval time.Duration // full enforcement cycle
	GuardInterval     time.Duration // fast re-kill sweep while blocked
	HeartbeatInterval time.Duration // run registry heartbeat
}

// DefaultConfig returns the default watchdog intervals.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: 5 * time.Minute,
		GuardInterval:     15 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Watchdog drives periodic reconciliation. Between full cycles it sweeps
// guarded apps at a faster cadence so a relaunched app dies within seconds
// rather than minutes.
type Watchdog struct {
	config     Config
	reconciler Reconciler
	sweeper    GuardSweeper
	registry   domain.RunRegistry
	logger     *zap.Logger

	lastDesired domain.DesiredState
}

// NewWatchdog creates a watchdog daemon.
func NewWatchdog(
	config Config,
	reconciler Reconciler,
	sweeper GuardSweeper,
	registry domain.RunRegistry,
	logger *zap.Logger,
) *Watchdog {
	return &Watchdog{
		config:     config,
		reconciler: reconciler,
		sweeper:    sweeper,
		registry:   registry,
		logger:     logger,
		// Until the first cycle completes assume blocked, so guard
		// sweeps start immediately.
		lastDesired: domain.StateBlocked,
	}
}

// Run starts the watchdog loop. It blocks until the context is canceled.
func (w *Watchdog) Run(ctx context.Context) error {
	if w.registry != nil {
		if err := w.registry.Register(os.Getpid()); err != nil {
			w.logger.Error("failed to register watchdog run", zap.Error(err))
			return err
		}
		defer func() {
			if err := w.registry.Clear(); err != nil {
				w.logger.Warn("failed to clear run registry", zap.Error(err))
			}
		}()
	}

	w.logger.Info("watchdog started",
		zap.Duration("reconcile_interval", w.config.ReconcileInterval),
		zap.Duration("guard_interval", w.config.GuardInterval))

	w.runCycle(ctx)

	reconcileTicker := time.NewTicker(w.config.ReconcileInterval)
	guardTicker := time.NewTicker(w.config.GuardInterval)
	heartbeatTicker := time.NewTicker(w.config.HeartbeatInterval)

	defer func() {
		reconcileTicker.Stop()
		guardTicker.Stop()
		heartbeatTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopping")
			return ctx.Err()

		case <-reconcileTicker.C:
			w.runCycle(ctx)

		case <-guardTicker.C:
			w.sweep(ctx)

		case <-heartbeatTicker.C:
			if w.registry != nil {
				if err := w.registry.Heartbeat(); err != nil {
					w.logger.Warn("heartbeat update failed", zap.Error(err))
				}
			}
		}
	}
}

// runCycle executes one reconciliation and remembers the desired state so
// the guard sweep knows whether blocking is in effect.
func (w *Watchdog) runCycle(ctx context.Context) {
	report, err := w.reconciler.Reconcile(ctx, time.Now())
	if err != nil {
		w.logger.Error("reconciliation cycle failed", zap.Error(err))
		return
	}
	w.lastDesired = report.Desired

	if n := report.Count(domain.OutcomeFailed); n > 0 {
		w.logger.Warn("reconciliation completed with failures", zap.Int("failed", n))
	}
}

// sweep re-kills guarded apps, but only while blocking is in effect.
func (w *Watchdog) sweep(ctx context.Context) {
	if w.sweeper == nil || w.lastDesired != domain.StateBlocked {
		return
	}
	if err := w.sweeper.SweepGuards(ctx); err != nil {
		w.logger.Warn("guard sweep failed", zap.Error(err))
	}
}
