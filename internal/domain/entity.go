// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// DesiredState is the schedule-computed target state for "now".
type DesiredState int

const (
	// StateBlocked means access to work resources must be denied.
	StateBlocked DesiredState = iota
	// StateUnblocked means access to work resources must be restored.
	StateUnblocked
)

// String returns the lowercase name used in logs and CLI output.
func (s DesiredState) String() string {
	switch s {
	case StateBlocked:
		return "blocked"
	case StateUnblocked:
		return "unblocked"
	default:
		return "unknown"
	}
}

// Action returns the transition verb for this state ("block" or "unblock").
func (s DesiredState) Action() string {
	if s == StateBlocked {
		return "block"
	}
	return "unblock"
}

// MatcherKind identifies how an app target is matched against the system.
// Decided once at config-parse time, never re-sniffed per match attempt.
type MatcherKind int

const (
	// MatchDisplayName matches fuzzily against running process names and is
	// eligible for a graceful AppleScript quit.
	MatchDisplayName MatcherKind = iota
	// MatchBundlePath matches processes whose executable lives under an
	// absolute .app bundle path.
	MatchBundlePath
	// MatchBundleID matches the bundle identifier against process command
	// lines ("bundle:" prefix in the list file).
	MatchBundleID
	// MatchProcessPattern matches a raw substring against process command
	// lines ("proc:" prefix in the list file).
	MatchProcessPattern
)

// String returns the list-file syntax name of the matcher kind.
func (k MatcherKind) String() string {
	switch k {
	case MatchDisplayName:
		return "name"
	case MatchBundlePath:
		return "path"
	case MatchBundleID:
		return "bundle"
	case MatchProcessPattern:
		return "proc"
	default:
		return "unknown"
	}
}

// PathTarget is a filesystem path subject to permission blocking.
type PathTarget struct {
	Path string
}

// AppTarget is an application subject to kill-and-guard blocking.
// Raw keeps the original list-file entry for identity in logs and in the
// guard table; Kind and Value are the parsed tagged variant.
type AppTarget struct {
	Raw   string
	Kind  MatcherKind
	Value string
}

// DomainTarget is a hostname subject to firewall blocking. ResolvedIPs and
// RuleIDs are populated at block time and persisted so unblock removes
// exactly the rules that were installed.
type DomainTarget struct {
	Hostname    string
	ResolvedIPs []string
	RuleIDs     []string
}

// Targets holds the three target lists loaded for one reconciliation cycle.
type Targets struct {
	Paths   []PathTarget
	Apps    []AppTarget
	Domains []DomainTarget
}

// OutcomeStatus classifies what happened to a single target.
type OutcomeStatus string

const (
	// OutcomeChanged means live state was actually transitioned.
	OutcomeChanged OutcomeStatus = "changed"
	// OutcomeUnchanged means live state already matched the desired state.
	OutcomeUnchanged OutcomeStatus = "unchanged"
	// OutcomeSkipped means the target could not be located or resolved;
	// non-fatal, the batch continues.
	OutcomeSkipped OutcomeStatus = "skipped"
	// OutcomeFailed means the transition was attempted and failed;
	// fatal for this target only.
	OutcomeFailed OutcomeStatus = "failed"
)

// TargetOutcome records the result of applying a transition to one target.
type TargetOutcome struct {
	Enforcer string
	Target   string
	Action   string
	Status   OutcomeStatus
	Detail   string
	Err      error
}

// Report summarizes one reconciliation cycle. Each target transitions
// independently; a partial failure leaves the counters mixed rather than
// failing the batch.
type Report struct {
	Desired    DesiredState
	FailClosed bool // desired state defaulted to blocked due to a config error
	EvalErr    error
	StartedAt  time.Time
	DurationMs int64
	Outcomes   []TargetOutcome
}

// Count returns the number of outcomes with the given status.
func (r *Report) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// FirewallRule is one outbound deny rule: an IP plus the label recorded in
// the state store so the rule can be removed individually later.
type FirewallRule struct {
	ID string
	IP string
}

// PathRecord persists the original permission modes of a path tree, captured
// at block time so unblock restores the exact prior modes.
type PathRecord struct {
	Path       string
	Modes      map[string]uint32 // relative entry path -> permission bits
	RecordedAt time.Time
}

// DomainRecord persists the rules installed for one hostname at block time.
type DomainRecord struct {
	Hostname    string
	RuleIDs     []string
	IPs         []string
	InstalledAt time.Time
}

// GuardRecord marks an app target as under a relaunch guard. The watchdog
// re-kills matching processes while the record exists. UnloadedAgents keeps
// the launchd plists that were unloaded so unblock can load them back.
type GuardRecord struct {
	Matcher        string
	UnloadedAgents []string
	InstalledAt    time.Time
}

// TriggerPoint is a wall-clock point in the weekly schedule at which the
// external scheduler fires a block or unblock transition.
// Weekday numbering is 1=Sunday .. 7=Saturday.
type TriggerPoint struct {
	Weekday int
	Hour    int
	Minute  int
}

// RunEntry stores the watchdog daemon state for cross-process discovery.
// Persisted to a JSON file in the state directory.
type RunEntry struct {
	Version       int    `json:"version"`
	PID           int    `json:"pid"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	Mode          string `json:"mode,omitempty"` // "user" or "system"
}
