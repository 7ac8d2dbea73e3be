// Package infra implements infrastructure concerns (process table, file
// permissions, firewall, DNS, state store, launchd, logbook).
package infra

import (
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByName returns PIDs of processes whose name matches the pattern
// (case-insensitive substring).
func (pm *ProcessManagerImpl) FindByName(pattern string) ([]int, error) {
	return pm.find(func(p *process.Process) bool {
		name, err := p.Name()
		if err != nil {
			return false // Process may have exited
		}
		return strings.EqualFold(name, pattern) ||
			strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
	})
}

// FindByCmdline returns PIDs of processes whose full command line contains
// the pattern (pgrep -f semantics). Used for bundle ids and proc: patterns.
func (pm *ProcessManagerImpl) FindByCmdline(pattern string) ([]int, error) {
	patternLower := strings.ToLower(pattern)
	return pm.find(func(p *process.Process) bool {
		cmdline, err := p.Cmdline()
		if err != nil {
			return false
		}
		return strings.Contains(strings.ToLower(cmdline), patternLower)
	})
}

// FindByExePrefix returns PIDs of processes whose executable path lives
// under the given prefix. Used for .app bundle paths.
func (pm *ProcessManagerImpl) FindByExePrefix(prefix string) ([]int, error) {
	cleaned := strings.TrimSuffix(prefix, "/")
	return pm.find(func(p *process.Process) bool {
		exe, err := p.Exe()
		if err != nil {
			return false
		}
		return exe == cleaned || strings.HasPrefix(exe, cleaned+"/")
	})
}

func (pm *ProcessManagerImpl) find(match func(*process.Process) bool) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	var found []int
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		if match(p) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

// Terminate sends SIGTERM, letting the process shut down cleanly.
func (pm *ProcessManagerImpl) Terminate(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Terminate()
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process exists
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
