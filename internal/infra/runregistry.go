package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

const runFileName = "run.json"

// FileRunRegistry implements domain.RunRegistry with a JSON file in the
// state directory. A file lock guards the read-modify-write against a racing
// second invocation.
type FileRunRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewRunRegistry creates a run registry under the state directory.
func NewRunRegistry(stateDir string, pm domain.ProcessManager) domain.RunRegistry {
	return &FileRunRegistry{
		path:           filepath.Join(stateDir, runFileName),
		processManager: pm,
	}
}

// NewRunRegistryWithPath creates a registry at a specific path (for testing).
func NewRunRegistryWithPath(path string, pm domain.ProcessManager) domain.RunRegistry {
	return &FileRunRegistry{path: path, processManager: pm}
}

// Path returns the registry file path.
func (r *FileRunRegistry) Path() string {
	return r.path
}

// Register saves the current daemon's PID. Fails if another live daemon is
// already registered.
func (r *FileRunRegistry) Register(pid int) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return err
	}

	lockPath := r.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	existing, _ := r.Current() // May not exist yet
	if existing != nil && existing.PID != pid && r.processManager.IsRunning(existing.PID) {
		return fmt.Errorf("watchdog already running with pid %d", existing.PID)
	}

	mode := "user"
	if os.Geteuid() == 0 {
		mode = "system"
	}

	now := time.Now().Unix()
	return r.atomicWrite(&domain.RunEntry{
		Version:       1,
		PID:           pid,
		StartedAt:     now,
		LastHeartbeat: now,
		Mode:          mode,
	})
}

// Heartbeat updates the liveness timestamp.
func (r *FileRunRegistry) Heartbeat() error {
	entry, err := r.Current()
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("no watchdog registered")
	}
	entry.LastHeartbeat = time.Now().Unix()
	return r.atomicWrite(entry)
}

// Current returns the registered entry, or nil if none.
func (r *FileRunRegistry) Current() (*domain.RunEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.RunEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Clear removes the registry file.
func (r *FileRunRegistry) Clear() error {
	err := os.Remove(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// atomicWrite writes the entry to the file atomically (write + rename).
func (r *FileRunRegistry) atomicWrite(entry *domain.RunEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

// Ensure FileRunRegistry implements domain.RunRegistry.
var _ domain.RunRegistry = (*FileRunRegistry)(nil)
