// Package usecase contains application business logic: the reconciler and
// the three resource enforcers.
package usecase

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// Fallback modes used when no original mode was recorded for an entry
// (first-ever unblock, or a file created while the tree was locked).
const (
	fallbackDirMode  os.FileMode = 0755
	fallbackFileMode os.FileMode = 0644
)

// PathEnforcer blocks and restores filesystem paths by clearing and
// restoring permission bits. Original modes are captured into the state
// store at block time so unblock restores the exact prior permissions.
type PathEnforcer struct {
	targets []domain.PathTarget
	fs      domain.FileSystemManager
	store   domain.StateStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewPathEnforcer creates a path enforcer for the given targets.
func NewPathEnforcer(
	targets []domain.PathTarget,
	fs domain.FileSystemManager,
	store domain.StateStore,
	logger *zap.Logger,
) *PathEnforcer {
	return &PathEnforcer{
		targets: targets,
		fs:      fs,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// Name identifies the resource class.
func (e *PathEnforcer) Name() string { return "paths" }

// InSync reports whether every existing target already matches desired.
// Missing targets are ignored; an empty target list is always in sync.
func (e *PathEnforcer) InSync(ctx context.Context, desired domain.DesiredState) (bool, error) {
	for _, t := range e.targets {
		if !e.fs.Exists(t.Path) {
			continue
		}
		blocked, err := e.fs.IsBlocked(t.Path)
		if err != nil {
			return false, err
		}
		if blocked != (desired == domain.StateBlocked) {
			return false, nil
		}
	}
	return true, nil
}

// Apply transitions every target toward desired. Each target is independent:
// a missing path is skipped, a permission failure is fatal for that target
// only, and the batch always runs to the end.
func (e *PathEnforcer) Apply(ctx context.Context, desired domain.DesiredState) ([]domain.TargetOutcome, error) {
	outcomes := make([]domain.TargetOutcome, 0, len(e.targets))

	for _, t := range e.targets {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcome := domain.TargetOutcome{
			Enforcer: e.Name(),
			Target:   t.Path,
			Action:   desired.Action(),
		}

		if !e.fs.Exists(t.Path) {
			outcome.Status = domain.OutcomeSkipped
			outcome.Detail = "not found"
			outcome.Err = domain.ErrTargetNotFound
			e.logger.Warn("path not found, skipping", zap.String("path", t.Path))
			outcomes = append(outcomes, outcome)
			continue
		}

		var err error
		if desired == domain.StateBlocked {
			err = e.block(t.Path, &outcome)
		} else {
			err = e.unblock(t.Path, &outcome)
		}
		if err != nil {
			outcome.Status = domain.OutcomeFailed
			outcome.Err = err
			if domain.IsPermission(err) {
				outcome.Detail = "permission denied"
				e.logger.Warn("insufficient privilege for path",
					zap.String("path", t.Path), zap.Error(err))
			} else {
				e.logger.Warn("path transition failed",
					zap.String("path", t.Path), zap.Error(err))
			}
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// block captures original modes (unless already blocked, in which case the
// record from the earlier block is the truth) and locks the tree.
func (e *PathEnforcer) block(path string, outcome *domain.TargetOutcome) error {
	blocked, err := e.fs.IsBlocked(path)
	if err != nil {
		return err
	}
	if blocked {
		outcome.Status = domain.OutcomeUnchanged
		return nil
	}

	modes, err := e.fs.CaptureModes(path)
	if err != nil {
		return err
	}

	// A lock interrupted mid-tree leaves some entries already at mode 0
	// while the root still reads unblocked. For those entries the record
	// saved by the interrupted run holds the real modes; a captured 0 must
	// never replace them or the next unblock restores nothing.
	prev, err := e.store.PathRecord(path)
	if err != nil {
		return err
	}
	if prev != nil {
		for entry, mode := range modes {
			if mode == 0 {
				if m, ok := prev.Modes[entry]; ok && m != 0 {
					modes[entry] = m
				}
			}
		}
	}

	if err := e.store.SavePathRecord(domain.PathRecord{
		Path:       path,
		Modes:      modes,
		RecordedAt: e.now(),
	}); err != nil {
		return err
	}

	if err := e.fs.LockTree(path); err != nil {
		return err
	}

	outcome.Status = domain.OutcomeChanged
	e.logger.Info("blocked path access", zap.String("path", path), zap.Int("entries", len(modes)))
	return nil
}

// unblock restores the recorded modes, falling back to permissive defaults
// for entries without a record, and drops the record once restored.
func (e *PathEnforcer) unblock(path string, outcome *domain.TargetOutcome) error {
	blocked, err := e.fs.IsBlocked(path)
	if err != nil {
		return err
	}
	if !blocked {
		outcome.Status = domain.OutcomeUnchanged
		return nil
	}

	rec, err := e.store.PathRecord(path)
	if err != nil {
		return err
	}
	var modes map[string]uint32
	if rec != nil {
		modes = rec.Modes
	}

	if err := e.fs.RestoreTree(path, modes, fallbackDirMode, fallbackFileMode); err != nil {
		return err
	}
	if err := e.store.DeletePathRecord(path); err != nil {
		return err
	}

	outcome.Status = domain.OutcomeChanged
	e.logger.Info("restored path access", zap.String("path", path))
	return nil
}

// Ensure PathEnforcer implements domain.Enforcer.
var _ domain.Enforcer = (*PathEnforcer)(nil)
