package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// EvalFunc computes the desired state for a timestamp. Supplied by the
// schedule package; kept as a function so tests can inject fixed outcomes.
type EvalFunc func(t time.Time) (domain.DesiredState, error)

// Reconciler compares live system state to the schedule-computed desired
// state and applies only the needed transitions. Each enforcer, and each
// target within it, transitions independently: a partial failure blocks most
// things rather than blocking nothing.
type Reconciler struct {
	eval      EvalFunc
	enforcers []domain.Enforcer
	logbook   domain.Logbook
	notifier  domain.Notifier
	logger    *zap.Logger
}

// NewReconciler creates a reconciler over the given enforcers.
func NewReconciler(
	eval EvalFunc,
	enforcers []domain.Enforcer,
	logbook domain.Logbook,
	notifier domain.Notifier,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		eval:      eval,
		enforcers: enforcers,
		logbook:   logbook,
		notifier:  notifier,
		logger:    logger,
	}
}

// Reconcile runs one cycle for the given timestamp. If the desired state
// cannot be determined the cycle fails closed: enforcement proceeds toward
// BLOCKED and the report carries the evaluation error.
func (r *Reconciler) Reconcile(ctx context.Context, now time.Time) (*domain.Report, error) {
	start := time.Now()
	report := &domain.Report{StartedAt: start}

	desired, err := r.eval(now)
	if err != nil {
		report.Desired = domain.StateBlocked
		report.FailClosed = true
		report.EvalErr = err
		r.logger.Error("schedule evaluation failed, failing closed to blocked", zap.Error(err))
		r.appendLog("fail-closed", "schedule: "+err.Error())
	} else {
		report.Desired = desired
	}

	changed := 0
	for _, enf := range r.enforcers {
		inSync, err := enf.InSync(ctx, report.Desired)
		if err != nil {
			r.logger.Warn("state query failed, applying anyway",
				zap.String("enforcer", enf.Name()), zap.Error(err))
		} else if inSync {
			r.logger.Debug("already in desired state",
				zap.String("enforcer", enf.Name()),
				zap.String("desired", report.Desired.String()))
			continue
		}

		outcomes, err := enf.Apply(ctx, report.Desired)
		report.Outcomes = append(report.Outcomes, outcomes...)
		if err != nil {
			// Apply only errors on context cancellation; per-target
			// failures live in the outcomes.
			r.logger.Warn("enforcement interrupted",
				zap.String("enforcer", enf.Name()), zap.Error(err))
			report.DurationMs = time.Since(start).Milliseconds()
			return report, err
		}

		for _, o := range outcomes {
			switch o.Status {
			case domain.OutcomeChanged:
				changed++
				r.appendLog(o.Action, o.Target)
			case domain.OutcomeSkipped:
				r.appendLog("skipped", fmt.Sprintf("%s (%s)", o.Target, o.Detail))
			case domain.OutcomeFailed:
				r.appendLog("failed", fmt.Sprintf("%s %s (%v)", o.Action, o.Target, o.Err))
			}
		}
	}

	report.DurationMs = time.Since(start).Milliseconds()

	r.logger.Info("reconciliation finished",
		zap.String("desired", report.Desired.String()),
		zap.Bool("fail_closed", report.FailClosed),
		zap.Int("changed", report.Count(domain.OutcomeChanged)),
		zap.Int("unchanged", report.Count(domain.OutcomeUnchanged)),
		zap.Int("skipped", report.Count(domain.OutcomeSkipped)),
		zap.Int("failed", report.Count(domain.OutcomeFailed)),
		zap.Int64("duration_ms", report.DurationMs))

	if changed > 0 {
		r.notify(report.Desired)
	}

	return report, nil
}

// appendLog writes to the logbook; logbook failures are logged, never fatal.
func (r *Reconciler) appendLog(action, target string) {
	if r.logbook == nil {
		return
	}
	if err := r.logbook.Append(action, target); err != nil {
		r.logger.Warn("logbook write failed", zap.Error(err))
	}
}

// notify shows one desktop notification per actual transition.
func (r *Reconciler) notify(desired domain.DesiredState) {
	if r.notifier == nil {
		return
	}
	var msg string
	if desired == domain.StateBlocked {
		msg = "Access to work resources is blocked. Time to rest!"
	} else {
		msg = "Access to work resources is restored. Time to work."
	}
	if err := r.notifier.Notify(msg, "Work Blocker"); err != nil {
		r.logger.Debug("notification failed", zap.Error(err))
	}
}
