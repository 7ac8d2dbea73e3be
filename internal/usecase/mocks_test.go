package usecase

import (
	"context"
	"os"
	"sort"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// mockFileSystemManager implements domain.FileSystemManager for testing
type mockFileSystemManager struct {
	existing   map[string]bool
	blocked    map[string]bool
	modes      map[string]map[string]uint32
	lockErr    error
	restoreErr error

	lockedPaths   []string
	restoredPaths []string
	restoredModes map[string]map[string]uint32
}

func newMockFS() *mockFileSystemManager {
	return &mockFileSystemManager{
		existing:      make(map[string]bool),
		blocked:       make(map[string]bool),
		modes:         make(map[string]map[string]uint32),
		restoredModes: make(map[string]map[string]uint32),
	}
}

func (m *mockFileSystemManager) Exists(path string) bool { return m.existing[path] }

func (m *mockFileSystemManager) ExpandHome(path string) string { return path }

func (m *mockFileSystemManager) IsBlocked(path string) (bool, error) {
	return m.blocked[path], nil
}

func (m *mockFileSystemManager) CaptureModes(path string) (map[string]uint32, error) {
	if modes, ok := m.modes[path]; ok {
		return modes, nil
	}
	return map[string]uint32{".": 0755}, nil
}

func (m *mockFileSystemManager) LockTree(path string) error {
	if m.lockErr != nil {
		return m.lockErr
	}
	m.blocked[path] = true
	m.lockedPaths = append(m.lockedPaths, path)
	return nil
}

func (m *mockFileSystemManager) RestoreTree(path string, modes map[string]uint32, dirMode, fileMode os.FileMode) error {
	if m.restoreErr != nil {
		return m.restoreErr
	}
	m.blocked[path] = false
	m.restoredPaths = append(m.restoredPaths, path)
	m.restoredModes[path] = modes
	return nil
}

// mockStateStore implements domain.StateStore in memory for testing
type mockStateStore struct {
	pathRecords   map[string]domain.PathRecord
	domainRecords map[string]domain.DomainRecord
	guards        map[string]domain.GuardRecord
	saveErr       error
}

func newMockStore() *mockStateStore {
	return &mockStateStore{
		pathRecords:   make(map[string]domain.PathRecord),
		domainRecords: make(map[string]domain.DomainRecord),
		guards:        make(map[string]domain.GuardRecord),
	}
}

func (m *mockStateStore) PathRecord(path string) (*domain.PathRecord, error) {
	if rec, ok := m.pathRecords[path]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (m *mockStateStore) SavePathRecord(rec domain.PathRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.pathRecords[rec.Path] = rec
	return nil
}

func (m *mockStateStore) DeletePathRecord(path string) error {
	delete(m.pathRecords, path)
	return nil
}

func (m *mockStateStore) DomainRecord(hostname string) (*domain.DomainRecord, error) {
	if rec, ok := m.domainRecords[hostname]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (m *mockStateStore) SaveDomainRecord(rec domain.DomainRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.domainRecords[rec.Hostname] = rec
	return nil
}

func (m *mockStateStore) DeleteDomainRecord(hostname string) error {
	delete(m.domainRecords, hostname)
	return nil
}

func (m *mockStateStore) Guard(matcher string) (*domain.GuardRecord, error) {
	if rec, ok := m.guards[matcher]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (m *mockStateStore) Guards() ([]domain.GuardRecord, error) {
	keys := make([]string, 0, len(m.guards))
	for k := range m.guards {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	recs := make([]domain.GuardRecord, 0, len(keys))
	for _, k := range keys {
		recs = append(recs, m.guards[k])
	}
	return recs, nil
}

func (m *mockStateStore) InstallGuard(rec domain.GuardRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.guards[rec.Matcher] = rec
	return nil
}

func (m *mockStateStore) RemoveGuard(matcher string) error {
	delete(m.guards, matcher)
	return nil
}

func (m *mockStateStore) Close() error { return nil }

// mockProcessManager implements domain.ProcessManager for testing
type mockProcessManager struct {
	byName    map[string][]int
	byCmdline map[string][]int
	byExe     map[string][]int
	findErr   error
	termErr   error
	killErr   error

	terminated []int
	killed     []int
	// pids that ignore SIGTERM and stay alive until SIGKILL
	stubborn map[int]bool
}

func newMockPM() *mockProcessManager {
	return &mockProcessManager{
		byName:    make(map[string][]int),
		byCmdline: make(map[string][]int),
		byExe:     make(map[string][]int),
		stubborn:  make(map[int]bool),
	}
}

func (m *mockProcessManager) find(table map[string][]int, key string) ([]int, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return append([]int(nil), table[key]...), nil
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) {
	return m.find(m.byName, pattern)
}

func (m *mockProcessManager) FindByCmdline(pattern string) ([]int, error) {
	return m.find(m.byCmdline, pattern)
}

func (m *mockProcessManager) FindByExePrefix(prefix string) ([]int, error) {
	return m.find(m.byExe, prefix)
}

func (m *mockProcessManager) Terminate(pid int) error {
	if m.termErr != nil {
		return m.termErr
	}
	m.terminated = append(m.terminated, pid)
	if !m.stubborn[pid] {
		m.removePID(pid)
	}
	return nil
}

func (m *mockProcessManager) Kill(pid int) error {
	if m.killErr != nil {
		return m.killErr
	}
	m.killed = append(m.killed, pid)
	m.removePID(pid)
	return nil
}

func (m *mockProcessManager) removePID(pid int) {
	for _, table := range []map[string][]int{m.byName, m.byCmdline, m.byExe} {
		for key, pids := range table {
			out := pids[:0]
			for _, p := range pids {
				if p != pid {
					out = append(out, p)
				}
			}
			table[key] = out
		}
	}
}

func (m *mockProcessManager) IsRunning(pid int) bool { return false }

func (m *mockProcessManager) GetCurrentPID() int { return os.Getpid() }

// mockAgentManager implements domain.AgentManager for testing
type mockAgentManager struct {
	agentsByHint map[string][]string
	unloadErr    error
	loaded       []string
	unloaded     []string
}

func newMockAgents() *mockAgentManager {
	return &mockAgentManager{agentsByHint: make(map[string][]string)}
}

func (m *mockAgentManager) Install(execPath string, unblock, block []domain.TriggerPoint) error {
	return nil
}

func (m *mockAgentManager) Uninstall() error { return nil }

func (m *mockAgentManager) IsInstalled() bool { return false }

func (m *mockAgentManager) UnloadAgentsMatching(hint string) ([]string, error) {
	if m.unloadErr != nil {
		return nil, m.unloadErr
	}
	paths := m.agentsByHint[hint]
	m.unloaded = append(m.unloaded, paths...)
	return paths, nil
}

func (m *mockAgentManager) LoadAgents(paths []string) error {
	m.loaded = append(m.loaded, paths...)
	return nil
}

// mockQuitter implements domain.AppQuitter for testing
type mockQuitter struct {
	quitErr error
	quit    []string
}

func (m *mockQuitter) Quit(appName string) error {
	if m.quitErr != nil {
		return m.quitErr
	}
	m.quit = append(m.quit, appName)
	return nil
}

// mockResolver implements domain.Resolver for testing
type mockResolver struct {
	ips     map[string][]string
	lookups map[string]int
}

func newMockResolver() *mockResolver {
	return &mockResolver{
		ips:     make(map[string][]string),
		lookups: make(map[string]int),
	}
}

func (m *mockResolver) LookupIPv4(ctx context.Context, host string) ([]string, error) {
	m.lookups[host]++
	ips, ok := m.ips[host]
	if !ok {
		return nil, &domain.ResolutionError{Host: host}
	}
	return ips, nil
}

// mockFirewall implements domain.Firewall in memory for testing
type mockFirewall struct {
	rules   map[string]string // id -> ip
	addErr  error
	added   []domain.FirewallRule
	removed []string
}

func newMockFirewall() *mockFirewall {
	return &mockFirewall{rules: make(map[string]string)}
}

func (m *mockFirewall) InstalledRuleIDs() ([]string, error) {
	ids := make([]string, 0, len(m.rules))
	for id := range m.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockFirewall) AddRules(rules []domain.FirewallRule) error {
	if m.addErr != nil {
		return m.addErr
	}
	for _, r := range rules {
		m.rules[r.ID] = r.IP
		m.added = append(m.added, r)
	}
	return nil
}

func (m *mockFirewall) RemoveRules(ruleIDs []string) error {
	for _, id := range ruleIDs {
		delete(m.rules, id)
		m.removed = append(m.removed, id)
	}
	return nil
}

// mockLogbook implements domain.Logbook for testing
type mockLogbook struct {
	appendErr error
	lines     []string
}

func (m *mockLogbook) Append(action, target string) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.lines = append(m.lines, action+" "+target)
	return nil
}

// mockNotifier implements domain.Notifier for testing
type mockNotifier struct {
	messages []string
}

func (m *mockNotifier) Notify(message, title string) error {
	m.messages = append(m.messages, message)
	return nil
}
