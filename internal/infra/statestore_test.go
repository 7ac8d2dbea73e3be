package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

func newTestStore(t *testing.T) *SQLStateStore {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	store, err := NewStateStore(t.TempDir(), key)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPathRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)

	rec := domain.PathRecord{
		Path:       "/Users/me/work",
		Modes:      map[string]uint32{".": 0755, "notes.txt": 0644},
		RecordedAt: time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.SavePathRecord(rec))

	got, err := store.PathRecord("/Users/me/work")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Modes, got.Modes)
	assert.Equal(t, rec.RecordedAt.Unix(), got.RecordedAt.Unix())

	require.NoError(t, store.DeletePathRecord("/Users/me/work"))
	got, err = store.PathRecord("/Users/me/work")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPathRecordMissingIsNil(t *testing.T) {
	store := newTestStore(t)
	got, err := store.PathRecord("/never/saved")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSavePathRecordReplaces(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SavePathRecord(domain.PathRecord{
		Path: "/work", Modes: map[string]uint32{".": 0700}, RecordedAt: time.Now(),
	}))
	require.NoError(t, store.SavePathRecord(domain.PathRecord{
		Path: "/work", Modes: map[string]uint32{".": 0755}, RecordedAt: time.Now(),
	}))

	got, err := store.PathRecord("/work")
	require.NoError(t, err)
	assert.Equal(t, uint32(0755), got.Modes["."])
}

func TestDomainRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)

	rec := domain.DomainRecord{
		Hostname:    "mail.work.example.com",
		RuleIDs:     []string{"wb-a", "wb-b"},
		IPs:         []string{"192.0.2.10", "192.0.2.11"},
		InstalledAt: time.Now(),
	}
	require.NoError(t, store.SaveDomainRecord(rec))

	got, err := store.DomainRecord("mail.work.example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.RuleIDs, got.RuleIDs)
	assert.Equal(t, rec.IPs, got.IPs)

	require.NoError(t, store.DeleteDomainRecord("mail.work.example.com"))
	got, err = store.DomainRecord("mail.work.example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGuardRoundTrip(t *testing.T) {
	store := newTestStore(t)

	rec := domain.GuardRecord{
		Matcher:        "Slack",
		UnloadedAgents: []string{"/Users/me/Library/LaunchAgents/slack.plist"},
		InstalledAt:    time.Now(),
	}
	require.NoError(t, store.InstallGuard(rec))

	got, err := store.Guard("Slack")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.UnloadedAgents, got.UnloadedAgents)

	require.NoError(t, store.RemoveGuard("Slack"))
	got, err = store.Guard("Slack")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGuardsOrderedByMatcher(t *testing.T) {
	store := newTestStore(t)

	for _, m := range []string{"Zoom", "Slack", "Mail"} {
		require.NoError(t, store.InstallGuard(domain.GuardRecord{
			Matcher: m, InstalledAt: time.Now(),
		}))
	}

	guards, err := store.Guards()
	require.NoError(t, err)
	require.Len(t, guards, 3)
	assert.Equal(t, "Mail", guards[0].Matcher)
	assert.Equal(t, "Slack", guards[1].Matcher)
	assert.Equal(t, "Zoom", guards[2].Matcher)
}

func TestStoreReopensWithSameKey(t *testing.T) {
	dir := t.TempDir()
	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := NewStateStore(dir, key)
	require.NoError(t, err)
	require.NoError(t, store.SavePathRecord(domain.PathRecord{
		Path: "/work", Modes: map[string]uint32{".": 0755}, RecordedAt: time.Now(),
	}))
	require.NoError(t, store.Close())

	reopened, err := NewStateStore(dir, key)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.PathRecord("/work")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint32(0755), got.Modes["."])
}
