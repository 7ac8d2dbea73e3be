package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// defaultKillGrace is how long a process gets between SIGTERM and SIGKILL.
const defaultKillGrace = 800 * time.Millisecond

// AppEnforcer terminates running applications and keeps a relaunch guard in
// the state store. While a guard is installed the watchdog re-kills matching
// processes; the app's own launchd agents are unloaded so it does not come
// back on its own. Unblock removes the guard and reloads the agents, but
// never relaunches the app.
type AppEnforcer struct {
	targets []domain.AppTarget
	pm      domain.ProcessManager
	store   domain.StateStore
	agents  domain.AgentManager
	quitter domain.AppQuitter
	logger  *zap.Logger
	grace   time.Duration
	now     func() time.Time
	sleep   func(time.Duration)
}

// NewAppEnforcer creates an app enforcer for the given targets.
func NewAppEnforcer(
	targets []domain.AppTarget,
	pm domain.ProcessManager,
	store domain.StateStore,
	agents domain.AgentManager,
	quitter domain.AppQuitter,
	logger *zap.Logger,
) *AppEnforcer {
	return &AppEnforcer{
		targets: targets,
		pm:      pm,
		store:   store,
		agents:  agents,
		quitter: quitter,
		logger:  logger,
		grace:   defaultKillGrace,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Name identifies the resource class.
func (e *AppEnforcer) Name() string { return "apps" }

// findPIDs dispatches on the matcher variant decided at config-parse time.
func (e *AppEnforcer) findPIDs(t domain.AppTarget) ([]int, error) {
	switch t.Kind {
	case domain.MatchDisplayName:
		return e.pm.FindByName(t.Value)
	case domain.MatchBundlePath:
		return e.pm.FindByExePrefix(t.Value)
	case domain.MatchBundleID, domain.MatchProcessPattern:
		return e.pm.FindByCmdline(t.Value)
	default:
		return nil, fmt.Errorf("unknown matcher kind %d for %q", t.Kind, t.Raw)
	}
}

// InSync reports whether live state matches desired: blocked means every
// target has a guard and no matching process is running; unblocked means no
// guards remain.
func (e *AppEnforcer) InSync(ctx context.Context, desired domain.DesiredState) (bool, error) {
	for _, t := range e.targets {
		guard, err := e.store.Guard(t.Raw)
		if err != nil {
			return false, err
		}
		if desired == domain.StateBlocked {
			if guard == nil {
				return false, nil
			}
			pids, err := e.findPIDs(t)
			if err != nil {
				return false, err
			}
			if len(pids) > 0 {
				return false, nil
			}
		} else if guard != nil {
			return false, nil
		}
	}
	return true, nil
}

// Apply transitions every target toward desired.
func (e *AppEnforcer) Apply(ctx context.Context, desired domain.DesiredState) ([]domain.TargetOutcome, error) {
	outcomes := make([]domain.TargetOutcome, 0, len(e.targets))

	for _, t := range e.targets {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcome := domain.TargetOutcome{
			Enforcer: e.Name(),
			Target:   t.Raw,
			Action:   desired.Action(),
		}

		var err error
		if desired == domain.StateBlocked {
			err = e.block(t, &outcome)
		} else {
			err = e.unblock(t, &outcome)
		}
		if err != nil {
			outcome.Status = domain.OutcomeFailed
			outcome.Err = err
			if domain.IsPermission(err) {
				outcome.Detail = "permission denied"
			}
			e.logger.Warn("app transition failed",
				zap.String("target", t.Raw), zap.Error(err))
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// block terminates matching processes and installs the relaunch guard.
// A target with no running match is not an error: the guard is installed
// regardless so a later launch is caught.
func (e *AppEnforcer) block(t domain.AppTarget, outcome *domain.TargetOutcome) error {
	killed, err := e.killMatching(t, true)
	if err != nil {
		return err
	}

	guard, err := e.store.Guard(t.Raw)
	if err != nil {
		return err
	}

	if guard == nil {
		unloaded, err := e.agents.UnloadAgentsMatching(t.Value)
		if err != nil {
			e.logger.Warn("could not scan launch agents",
				zap.String("target", t.Raw), zap.Error(err))
		}
		if err := e.store.InstallGuard(domain.GuardRecord{
			Matcher:        t.Raw,
			UnloadedAgents: unloaded,
			InstalledAt:    e.now(),
		}); err != nil {
			return err
		}
		e.logger.Info("installed relaunch guard",
			zap.String("target", t.Raw),
			zap.Int("killed", killed),
			zap.Int("agents_unloaded", len(unloaded)))
		outcome.Status = domain.OutcomeChanged
		outcome.Detail = fmt.Sprintf("killed %d, guard installed", killed)
		return nil
	}

	if killed > 0 {
		outcome.Status = domain.OutcomeChanged
		outcome.Detail = fmt.Sprintf("killed %d", killed)
	} else {
		outcome.Status = domain.OutcomeUnchanged
	}
	return nil
}

// unblock removes the guard and reloads the app's launch agents.
func (e *AppEnforcer) unblock(t domain.AppTarget, outcome *domain.TargetOutcome) error {
	guard, err := e.store.Guard(t.Raw)
	if err != nil {
		return err
	}
	if guard == nil {
		outcome.Status = domain.OutcomeUnchanged
		return nil
	}

	if err := e.agents.LoadAgents(guard.UnloadedAgents); err != nil {
		e.logger.Warn("could not reload launch agents",
			zap.String("target", t.Raw), zap.Error(err))
	}
	if err := e.store.RemoveGuard(t.Raw); err != nil {
		return err
	}

	e.logger.Info("removed relaunch guard", zap.String("target", t.Raw))
	outcome.Status = domain.OutcomeChanged
	return nil
}

// killMatching quits the target gracefully when possible, then SIGTERM,
// waits out the grace period, and SIGKILLs survivors. Returns the number of
// processes that were signaled.
func (e *AppEnforcer) killMatching(t domain.AppTarget, graceful bool) (int, error) {
	if graceful && t.Kind == domain.MatchDisplayName {
		if err := e.quitter.Quit(t.Value); err != nil {
			// Graceful quit is best effort; the signals below are the
			// real enforcement.
			e.logger.Debug("graceful quit failed",
				zap.String("app", t.Value), zap.Error(err))
		} else {
			e.sleep(e.grace)
		}
	}

	pids, err := e.findPIDs(t)
	if err != nil {
		return 0, err
	}
	if len(pids) == 0 {
		return 0, nil
	}

	var firstErr error
	for _, pid := range pids {
		if err := e.pm.Terminate(pid); err != nil {
			if domain.IsPermission(err) && firstErr == nil {
				firstErr = err
			}
			e.logger.Debug("terminate failed", zap.Int("pid", pid), zap.Error(err))
		}
	}

	e.sleep(e.grace)

	remaining, err := e.findPIDs(t)
	if err != nil {
		return len(pids), err
	}
	for _, pid := range remaining {
		if err := e.pm.Kill(pid); err != nil {
			if domain.IsPermission(err) && firstErr == nil {
				firstErr = err
			}
			e.logger.Debug("kill failed", zap.Int("pid", pid), zap.Error(err))
		} else {
			e.logger.Info("killed process",
				zap.String("target", t.Raw), zap.Int("pid", pid))
		}
	}

	return len(pids), firstErr
}

// SweepGuards re-kills processes for every target whose relaunch guard is
// installed. Called by the watchdog between reconciliations while blocked.
func (e *AppEnforcer) SweepGuards(ctx context.Context) error {
	for _, t := range e.targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		guard, err := e.store.Guard(t.Raw)
		if err != nil {
			return err
		}
		if guard == nil {
			continue
		}
		if _, err := e.killMatching(t, false); err != nil {
			e.logger.Warn("guard sweep failed",
				zap.String("target", t.Raw), zap.Error(err))
		}
	}
	return nil
}

// Ensure AppEnforcer implements domain.Enforcer.
var _ domain.Enforcer = (*AppEnforcer)(nil)
