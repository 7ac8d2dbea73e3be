package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

type fakeReconciler struct {
	mu      sync.Mutex
	desired domain.DesiredState
	calls   int
}

func (f *fakeReconciler) Reconcile(ctx context.Context, now time.Time) (*domain.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &domain.Report{Desired: f.desired}, nil
}

func (f *fakeReconciler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSweeper) SweepGuards(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeSweeper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRegistry struct {
	mu         sync.Mutex
	registered bool
	cleared    bool
	heartbeats int
}

func (f *fakeRegistry) Register(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = true
	return nil
}

func (f *fakeRegistry) Heartbeat() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeRegistry) Current() (*domain.RunEntry, error) { return nil, nil }

func (f *fakeRegistry) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = true
	return nil
}

func (f *fakeRegistry) Path() string { return "" }

func testConfig() Config {
	return Config{
		ReconcileInterval: 5 * time.Millisecond,
		GuardInterval:     5 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
	}
}

func TestWatchdogSweepsOnlyWhileBlocked(t *testing.T) {
	rec := &fakeReconciler{desired: domain.StateBlocked}
	sweeper := &fakeSweeper{}
	w := NewWatchdog(testConfig(), rec, sweeper, nil, zap.NewNop())

	ctx := context.Background()
	w.runCycle(ctx)
	assert.Equal(t, domain.StateBlocked, w.lastDesired)

	w.sweep(ctx)
	assert.Equal(t, 1, sweeper.callCount())

	rec.desired = domain.StateUnblocked
	w.runCycle(ctx)
	assert.Equal(t, domain.StateUnblocked, w.lastDesired)

	w.sweep(ctx)
	assert.Equal(t, 1, sweeper.callCount(), "no sweep while unblocked")
}

func TestWatchdogRunRegistersAndClears(t *testing.T) {
	rec := &fakeReconciler{desired: domain.StateBlocked}
	sweeper := &fakeSweeper{}
	registry := &fakeRegistry{}
	w := NewWatchdog(testConfig(), rec, sweeper, registry, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	registry.mu.Lock()
	defer registry.mu.Unlock()
	assert.True(t, registry.registered)
	assert.True(t, registry.cleared)
	assert.Greater(t, registry.heartbeats, 0)

	// One immediate cycle on startup plus at least one ticked cycle.
	assert.GreaterOrEqual(t, rec.callCount(), 2)
	assert.Greater(t, sweeper.callCount(), 0)
}

func TestWatchdogNilSweeperIsSafe(t *testing.T) {
	rec := &fakeReconciler{desired: domain.StateBlocked}
	w := NewWatchdog(testConfig(), rec, nil, nil, zap.NewNop())

	ctx := context.Background()
	w.runCycle(ctx)
	w.sweep(ctx) // must not panic
}
