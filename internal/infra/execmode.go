package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs as user with LaunchAgent (no sudo required).
	// Network enforcement is unavailable in this mode.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root with LaunchDaemon (sudo required).
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds paths and settings based on execution mode.
type ExecModeConfig struct {
	Mode     ExecMode
	PlistDir string // Where the launchd plists go
	LogDir   string // Where launchd stdout/stderr logs go
	IsRoot   bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	isRoot := os.Geteuid() == 0
	home := RealUserHome()

	if isRoot {
		return &ExecModeConfig{
			Mode:     ExecModeSystem,
			PlistDir: "/Library/LaunchDaemons",
			LogDir:   "/var/log/workblocker",
			IsRoot:   true,
		}
	}

	return &ExecModeConfig{
		Mode:     ExecModeUser,
		PlistDir: filepath.Join(home, "Library", "LaunchAgents"),
		LogDir:   filepath.Join(home, "Library", "Logs", "workblocker"),
		IsRoot:   false,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (LaunchDaemon, root)"
	case ExecModeUser:
		return "user (LaunchAgent, non-root)"
	default:
		return "unknown"
	}
}

// RealUserHome returns the real user's home directory, even when running
// under sudo. Under sudo, os.UserHomeDir() returns /var/root, so SUDO_USER
// is used to find the invoking user.
func RealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// RealUsername returns the invoking user's name, resolving through sudo.
func RealUsername() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		return sudoUser
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "user"
}
