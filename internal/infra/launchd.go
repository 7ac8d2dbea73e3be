package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// Calendar-trigger plist: fires the block or unblock transition at the
// schedule's span edges via StartCalendarInterval.
const triggerPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>{{.Action}}</string>
    </array>

    <key>RunAtLoad</key>
    <false/>

    <key>StartCalendarInterval</key>
    <array>
{{- range .Triggers}}
        <dict>
            <key>Weekday</key>
            <integer>{{.Weekday}}</integer>
            <key>Hour</key>
            <integer>{{.Hour}}</integer>
            <key>Minute</key>
            <integer>{{.Minute}}</integer>
        </dict>
{{- end}}
    </array>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>
{{- if .UserSession}}

    <key>LimitLoadToSessionType</key>
    <string>Aqua</string>
{{- end}}
</dict>
</plist>`

// Watchdog plist: keeps the reconciling daemon alive across logins.
const watchdogPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>run</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

const (
	agentSuffixBlock    = "block"
	agentSuffixUnblock  = "unblock"
	agentSuffixWatchdog = "watchdog"
)

// launchdTrigger is a StartCalendarInterval entry. launchd weekday numbering
// is 0=Sunday .. 6=Saturday, one below the schedule's 1..7.
type launchdTrigger struct {
	Weekday int
	Hour    int
	Minute  int
}

type triggerPlistData struct {
	Label          string
	ExecutablePath string
	Action         string
	Triggers       []launchdTrigger
	LogPath        string
	ErrorLogPath   string
	// UserSession scopes the job to the Aqua session. Only meaningful for
	// LaunchAgents; a LaunchDaemon must not carry the key.
	UserSession bool
}

type watchdogPlistData struct {
	Label          string
	ExecutablePath string
	LogPath        string
	ErrorLogPath   string
}

// LaunchdManager implements domain.AgentManager: it renders and loads the
// scheduler-trigger and watchdog jobs, and unloads/reloads launch agents of
// blocked apps for the relaunch guard.
type LaunchdManager struct {
	labelPrefix string // e.g. "com.alice.workblocker"
	plistDir    string
	logDir      string
	mode        ExecMode
	searchDirs  []string // LaunchAgents dirs scanned for app agents
	launchctl   func(args ...string) error
}

// NewLaunchdManager creates a manager for the detected execution mode.
func NewLaunchdManager(mode *ExecModeConfig) *LaunchdManager {
	home := RealUserHome()
	return &LaunchdManager{
		labelPrefix: fmt.Sprintf("com.%s.workblocker", RealUsername()),
		plistDir:    mode.PlistDir,
		logDir:      mode.LogDir,
		mode:        mode.Mode,
		searchDirs: []string{
			filepath.Join(home, "Library", "LaunchAgents"),
			"/Library/LaunchAgents",
			"/Library/LaunchDaemons",
		},
		launchctl: runLaunchctl,
	}
}

// NewLaunchdManagerWithDirs creates a manager with custom directories and a
// custom launchctl runner (for testing).
func NewLaunchdManagerWithDirs(labelPrefix, plistDir, logDir string, mode ExecMode, searchDirs []string, launchctl func(args ...string) error) *LaunchdManager {
	return &LaunchdManager{
		labelPrefix: labelPrefix,
		plistDir:    plistDir,
		logDir:      logDir,
		mode:        mode,
		searchDirs:  searchDirs,
		launchctl:   launchctl,
	}
}

func runLaunchctl(args ...string) error {
	return exec.Command("launchctl", args...).Run()
}

func (m *LaunchdManager) label(suffix string) string {
	return m.labelPrefix + "." + suffix
}

func (m *LaunchdManager) plistPath(suffix string) string {
	return filepath.Join(m.plistDir, m.label(suffix)+".plist")
}

// Install writes and loads the two calendar-trigger jobs and the watchdog
// job. Existing jobs are reloaded so schedule changes take effect.
func (m *LaunchdManager) Install(execPath string, unblock, block []domain.TriggerPoint) error {
	if err := os.MkdirAll(m.plistDir, 0755); err != nil {
		return fmt.Errorf("create plist directory: %w", err)
	}
	if err := os.MkdirAll(m.logDir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	if err := m.installTrigger(agentSuffixUnblock, execPath, "unblock", unblock); err != nil {
		return err
	}
	if err := m.installTrigger(agentSuffixBlock, execPath, "block", block); err != nil {
		return err
	}
	return m.installWatchdog(execPath)
}

func (m *LaunchdManager) installTrigger(suffix, execPath, action string, points []domain.TriggerPoint) error {
	label := m.label(suffix)
	triggers := make([]launchdTrigger, 0, len(points))
	for _, p := range points {
		triggers = append(triggers, launchdTrigger{
			Weekday: p.Weekday - 1, // launchd counts Sunday as 0
			Hour:    p.Hour,
			Minute:  p.Minute,
		})
	}

	data := triggerPlistData{
		Label:          label,
		ExecutablePath: execPath,
		Action:         action,
		Triggers:       triggers,
		LogPath:        filepath.Join(m.logDir, label+"_stdout.log"),
		ErrorLogPath:   filepath.Join(m.logDir, label+"_stderr.log"),
		UserSession:    m.mode != ExecModeSystem,
	}
	return m.writeAndReload(m.plistPath(suffix), triggerPlistTemplate, data)
}

func (m *LaunchdManager) installWatchdog(execPath string) error {
	label := m.label(agentSuffixWatchdog)
	data := watchdogPlistData{
		Label:          label,
		ExecutablePath: execPath,
		LogPath:        filepath.Join(m.logDir, label+"_stdout.log"),
		ErrorLogPath:   filepath.Join(m.logDir, label+"_stderr.log"),
	}
	return m.writeAndReload(m.plistPath(agentSuffixWatchdog), watchdogPlistTemplate, data)
}

func (m *LaunchdManager) writeAndReload(path, tmpl string, data any) error {
	t, err := template.New("plist").Parse(tmpl)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write plist %s: %w", path, err)
	}

	// unload is best effort: the job may not be loaded yet
	_ = m.launchctl("unload", path)
	if err := m.launchctl("load", path); err != nil {
		return fmt.Errorf("launchctl load %s: %w", path, err)
	}
	return nil
}

// Uninstall unloads and removes all workblocker jobs.
func (m *LaunchdManager) Uninstall() error {
	var firstErr error
	for _, suffix := range []string{agentSuffixBlock, agentSuffixUnblock, agentSuffixWatchdog} {
		path := m.plistPath(suffix)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		_ = m.launchctl("unload", path)
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsInstalled checks whether the trigger jobs are present.
func (m *LaunchdManager) IsInstalled() bool {
	for _, suffix := range []string{agentSuffixBlock, agentSuffixUnblock} {
		if _, err := os.Stat(m.plistPath(suffix)); err != nil {
			return false
		}
	}
	return true
}

// UnloadAgentsMatching scans the LaunchAgents directories for plists whose
// filename or content contains the hint (case-insensitive), unloads them,
// and returns their paths so they can be loaded back on unblock.
// Workblocker's own jobs are never touched.
func (m *LaunchdManager) UnloadAgentsMatching(hint string) ([]string, error) {
	hintLower := strings.ToLower(hint)
	var unloaded []string

	for _, dir := range m.searchDirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*.plist"))
		if err != nil {
			continue
		}
		for _, path := range matches {
			if strings.HasPrefix(filepath.Base(path), m.labelPrefix) {
				continue
			}
			if !m.plistMatches(path, hintLower) {
				continue
			}
			_ = m.launchctl("unload", path)
			unloaded = append(unloaded, path)
		}
	}
	return unloaded, nil
}

func (m *LaunchdManager) plistMatches(path, hintLower string) bool {
	if strings.Contains(strings.ToLower(filepath.Base(path)), hintLower) {
		return true
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(bytes.ToLower(content), []byte(hintLower))
}

// LoadAgents loads the given plists back. Missing files are skipped.
func (m *LaunchdManager) LoadAgents(paths []string) error {
	var firstErr error
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := m.launchctl("load", path); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("launchctl load %s: %w", path, err)
		}
	}
	return firstErr
}

// Ensure LaunchdManager implements domain.AgentManager.
var _ domain.AgentManager = (*LaunchdManager)(nil)
