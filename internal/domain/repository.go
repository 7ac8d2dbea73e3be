package domain

import (
	"context"
	"os"
)

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes whose name matches the pattern
	// (case-insensitive substring).
	FindByName(pattern string) ([]int, error)

	// FindByCmdline returns PIDs of processes whose full command line
	// contains the pattern (pgrep -f semantics; used for bundle ids and
	// proc: patterns).
	FindByCmdline(pattern string) ([]int, error)

	// FindByExePrefix returns PIDs of processes whose executable path lives
	// under the given prefix (used for .app bundle paths).
	FindByExePrefix(prefix string) ([]int, error)

	// Terminate sends SIGTERM to a process, giving it a chance to exit.
	Terminate(pid int) error

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// FileSystemManager handles filesystem permission operations.
// Permission bits only: structure, ownership and contents are never touched.
type FileSystemManager interface {
	// Exists checks if a path exists.
	Exists(path string) bool

	// ExpandHome expands ~ to the user's home directory.
	ExpandHome(path string) string

	// IsBlocked reports whether a path currently has all permission bits
	// cleared.
	IsBlocked(path string) (bool, error)

	// CaptureModes records the permission bits of every entry under path,
	// keyed by path relative to the root ("." for the root itself).
	CaptureModes(path string) (map[string]uint32, error)

	// LockTree clears all permission bits on path and, for directories,
	// every entry beneath it.
	LockTree(path string) error

	// RestoreTree restores the recorded permission bits. Entries without a
	// recorded mode fall back to dirMode/fileMode.
	RestoreTree(path string, modes map[string]uint32, dirMode, fileMode os.FileMode) error
}

// Resolver resolves hostnames to IPv4 addresses. Lookups are bounded so a
// hung DNS server cannot stall a reconciliation cycle.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) ([]string, error)
}

// Firewall manages outbound deny rules inside a dedicated anchor.
// Rules are identified by label so unblock can remove exactly the rules that
// block installed, never a blanket flush.
type Firewall interface {
	// InstalledRuleIDs returns the labels of all rules currently present.
	InstalledRuleIDs() ([]string, error)

	// AddRules installs the given rules and reloads the firewall. Rules
	// whose ID is already installed are left alone.
	AddRules(rules []FirewallRule) error

	// RemoveRules deletes exactly the rules with the given labels and
	// reloads the firewall.
	RemoveRules(ruleIDs []string) error
}

// StateStore is the persistent side-state kept between invocations: captured
// path modes, installed firewall rules per domain, and relaunch guards.
// Implementation: SQLCipher encrypted SQLite database.
type StateStore interface {
	// PathRecord returns the recorded modes for a path, or nil if none.
	PathRecord(path string) (*PathRecord, error)
	SavePathRecord(rec PathRecord) error
	DeletePathRecord(path string) error

	// DomainRecord returns the installed rules for a hostname, or nil.
	DomainRecord(hostname string) (*DomainRecord, error)
	SaveDomainRecord(rec DomainRecord) error
	DeleteDomainRecord(hostname string) error

	// Guard returns the relaunch guard for a matcher, or nil.
	Guard(matcher string) (*GuardRecord, error)
	Guards() ([]GuardRecord, error)
	InstallGuard(rec GuardRecord) error
	RemoveGuard(matcher string) error

	// Close releases the database connection.
	Close() error
}

// KeyProvider abstracts the source of the state store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// Enforcer applies BLOCKED/UNBLOCKED to one resource class and idempotently
// converges live state toward it.
type Enforcer interface {
	// Name identifies the resource class ("paths", "apps", "network").
	Name() string

	// InSync reports whether live system state already matches desired.
	// The reconciler skips Apply when true, but Apply must still be safe
	// to call redundantly.
	InSync(ctx context.Context, desired DesiredState) (bool, error)

	// Apply transitions every target toward desired, returning one outcome
	// per target. A failed target never aborts the batch.
	Apply(ctx context.Context, desired DesiredState) ([]TargetOutcome, error)
}

// Logbook is the append-only text log, one line per state change:
// "<timestamp>: <action> <target>". Each write opens, appends, flushes and
// closes the file so concurrent invocations cannot interleave garbage.
type Logbook interface {
	Append(action, target string) error
}

// Notifier shows a desktop notification. Best effort; failures are logged
// and never fatal.
type Notifier interface {
	Notify(message, title string) error
}

// AppQuitter asks an application to quit gracefully before signals are used.
// Implementation: AppleScript via osascript.
type AppQuitter interface {
	Quit(appName string) error
}

// AgentManager handles launchd job descriptors: the calendar-interval
// triggers that fire block/unblock, the watchdog keep-alive job, and the
// launch agents of blocked apps.
type AgentManager interface {
	// Install writes and loads the trigger and watchdog jobs. Trigger
	// points come from the normalized schedule.
	Install(execPath string, unblock, block []TriggerPoint) error

	// Uninstall unloads and removes all workblocker jobs.
	Uninstall() error

	// IsInstalled checks whether the trigger jobs are present.
	IsInstalled() bool

	// UnloadAgentsMatching unloads launchd plists whose name or content
	// contains the hint, returning the plist paths that were unloaded.
	UnloadAgentsMatching(hint string) ([]string, error)

	// LoadAgents loads the given plists back.
	LoadAgents(paths []string) error
}

// RunRegistry provides watchdog daemon discovery via a JSON state file, so a
// second invocation can detect a live daemon and status can report liveness.
type RunRegistry interface {
	// Register saves the current daemon's PID.
	Register(pid int) error

	// Heartbeat updates the liveness timestamp.
	Heartbeat() error

	// Current returns the registered entry, or nil if none.
	Current() (*RunEntry, error)

	// Clear removes the registry file (for clean shutdown).
	Clear() error

	// Path returns the registry file path (for tests).
	Path() string
}
