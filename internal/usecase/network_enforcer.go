package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// NetworkEnforcer blocks outbound traffic to the IPs each domain currently
// resolves to. Resolution is fresh every block cycle: a stale cache from a
// previous run is never trusted. The rule labels installed for a domain are
// recorded so unblock removes exactly those rules, even if the domain would
// resolve differently by then.
//
// Known limitation, inherited and accepted: IP-based blocking can be evaded
// if the service moves to new IPs after the rules are installed, and a
// shared CDN IP can over-block unrelated services.
type NetworkEnforcer struct {
	targets   []domain.DomainTarget
	resolver  domain.Resolver
	fw        domain.Firewall
	store     domain.StateStore
	logger    *zap.Logger
	newRuleID func() string
	now       func() time.Time
}

// NewNetworkEnforcer creates a network enforcer for the given targets.
func NewNetworkEnforcer(
	targets []domain.DomainTarget,
	resolver domain.Resolver,
	fw domain.Firewall,
	store domain.StateStore,
	logger *zap.Logger,
) *NetworkEnforcer {
	return &NetworkEnforcer{
		targets:   targets,
		resolver:  resolver,
		fw:        fw,
		store:     store,
		logger:    logger,
		newRuleID: func() string { return "wb-" + uuid.NewString() },
		now:       time.Now,
	}
}

// Name identifies the resource class.
func (e *NetworkEnforcer) Name() string { return "network" }

// InSync reports whether live firewall state matches desired: blocked means
// every domain has a record whose rules are all installed; unblocked means
// no records remain.
func (e *NetworkEnforcer) InSync(ctx context.Context, desired domain.DesiredState) (bool, error) {
	installed, err := e.installedSet()
	if err != nil {
		return false, err
	}

	for _, t := range e.targets {
		rec, err := e.store.DomainRecord(t.Hostname)
		if err != nil {
			return false, err
		}
		if desired == domain.StateBlocked {
			if rec == nil || !allInstalled(rec.RuleIDs, installed) {
				return false, nil
			}
		} else if rec != nil {
			return false, nil
		}
	}
	return true, nil
}

func (e *NetworkEnforcer) installedSet() (map[string]struct{}, error) {
	ids, err := e.fw.InstalledRuleIDs()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func allInstalled(ids []string, installed map[string]struct{}) bool {
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if _, ok := installed[id]; !ok {
			return false
		}
	}
	return true
}

// Apply transitions every domain toward desired. DNS failures skip that
// domain only; the batch continues.
func (e *NetworkEnforcer) Apply(ctx context.Context, desired domain.DesiredState) ([]domain.TargetOutcome, error) {
	installed, err := e.installedSet()
	if err != nil {
		return nil, err
	}

	outcomes := make([]domain.TargetOutcome, 0, len(e.targets))
	for _, t := range e.targets {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcome := domain.TargetOutcome{
			Enforcer: e.Name(),
			Target:   t.Hostname,
			Action:   desired.Action(),
		}

		var terr error
		if desired == domain.StateBlocked {
			terr = e.block(ctx, t, installed, &outcome)
		} else {
			terr = e.unblock(t, &outcome)
		}
		if terr != nil {
			if domain.IsResolutionError(terr) {
				// No IPs resolved: skip this domain, log, continue.
				outcome.Status = domain.OutcomeSkipped
				outcome.Detail = "resolution failed"
				outcome.Err = terr
				e.logger.Warn("domain resolution failed, skipping",
					zap.String("hostname", t.Hostname), zap.Error(terr))
			} else {
				outcome.Status = domain.OutcomeFailed
				outcome.Err = terr
				if domain.IsPermission(terr) {
					outcome.Detail = "permission denied (run as root)"
				}
				e.logger.Warn("network transition failed",
					zap.String("hostname", t.Hostname), zap.Error(terr))
			}
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// block resolves the domain fresh and installs labeled rules for the
// resulting IPs. A prior partial record is removed first so rules never
// stack across runs.
func (e *NetworkEnforcer) block(ctx context.Context, t domain.DomainTarget, installed map[string]struct{}, outcome *domain.TargetOutcome) error {
	rec, err := e.store.DomainRecord(t.Hostname)
	if err != nil {
		return err
	}
	if rec != nil && allInstalled(rec.RuleIDs, installed) {
		outcome.Status = domain.OutcomeUnchanged
		return nil
	}

	ips, err := e.resolver.LookupIPv4(ctx, t.Hostname)
	if err != nil {
		return err
	}
	if len(ips) == 0 {
		return &domain.ResolutionError{Host: t.Hostname, Err: fmt.Errorf("no IPv4 addresses")}
	}

	// Clear remnants of an interrupted earlier block before reinstalling.
	if rec != nil {
		if err := e.fw.RemoveRules(rec.RuleIDs); err != nil {
			return err
		}
	}

	rules := make([]domain.FirewallRule, 0, len(ips))
	ruleIDs := make([]string, 0, len(ips))
	for _, ip := range ips {
		id := e.newRuleID()
		rules = append(rules, domain.FirewallRule{ID: id, IP: ip})
		ruleIDs = append(ruleIDs, id)
	}

	if err := e.fw.AddRules(rules); err != nil {
		return err
	}
	if err := e.store.SaveDomainRecord(domain.DomainRecord{
		Hostname:    t.Hostname,
		RuleIDs:     ruleIDs,
		IPs:         ips,
		InstalledAt: e.now(),
	}); err != nil {
		return err
	}

	e.logger.Info("blocked domain",
		zap.String("hostname", t.Hostname),
		zap.Strings("ips", ips))
	outcome.Status = domain.OutcomeChanged
	outcome.Detail = fmt.Sprintf("%d rules installed", len(rules))
	return nil
}

// unblock removes exactly the recorded rules for the domain.
func (e *NetworkEnforcer) unblock(t domain.DomainTarget, outcome *domain.TargetOutcome) error {
	rec, err := e.store.DomainRecord(t.Hostname)
	if err != nil {
		return err
	}
	if rec == nil {
		outcome.Status = domain.OutcomeUnchanged
		return nil
	}

	if err := e.fw.RemoveRules(rec.RuleIDs); err != nil {
		return err
	}
	if err := e.store.DeleteDomainRecord(t.Hostname); err != nil {
		return err
	}

	e.logger.Info("unblocked domain",
		zap.String("hostname", t.Hostname),
		zap.Int("rules_removed", len(rec.RuleIDs)))
	outcome.Status = domain.OutcomeChanged
	outcome.Detail = fmt.Sprintf("%d rules removed", len(rec.RuleIDs))
	return nil
}

// Ensure NetworkEnforcer implements domain.Enforcer.
var _ domain.Enforcer = (*NetworkEnforcer)(nil)
