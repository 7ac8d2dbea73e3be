package infra

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const stateDBName = "state.db"

// SQLStateStore implements domain.StateStore using a SQLCipher encrypted
// SQLite database. Encryption keeps the recorded original modes and rule ids
// from being trivially hand-edited, which is the point of a friction tool.
type SQLStateStore struct {
	db     *sql.DB
	dbPath string
}

// NewStateStore opens (or creates) the encrypted state database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewStateStore(dataDir string, key []byte) (*SQLStateStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to state database: %w", err)
	}

	store := &SQLStateStore{db: db, dbPath: dbPath}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLStateStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS path_state (
		path TEXT PRIMARY KEY,
		modes TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS domain_state (
		hostname TEXT PRIMARY KEY,
		rule_ids TEXT NOT NULL,
		ips TEXT NOT NULL,
		installed_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS app_guard (
		matcher TEXT PRIMARY KEY,
		unloaded_agents TEXT NOT NULL,
		installed_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- path records ---

// PathRecord returns the recorded modes for a path, or nil if none.
func (s *SQLStateStore) PathRecord(path string) (*domain.PathRecord, error) {
	var modesJSON string
	var recordedAt int64

	err := s.db.QueryRow(
		`SELECT modes, recorded_at FROM path_state WHERE path = ?`, path,
	).Scan(&modesJSON, &recordedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	modes := make(map[string]uint32)
	if err := json.Unmarshal([]byte(modesJSON), &modes); err != nil {
		return nil, fmt.Errorf("corrupt path record for %s: %w", path, err)
	}
	return &domain.PathRecord{
		Path:       path,
		Modes:      modes,
		RecordedAt: time.Unix(recordedAt, 0),
	}, nil
}

// SavePathRecord stores (or replaces) a path record.
func (s *SQLStateStore) SavePathRecord(rec domain.PathRecord) error {
	modesJSON, err := json.Marshal(rec.Modes)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO path_state (path, modes, recorded_at) VALUES (?, ?, ?)`,
		rec.Path, string(modesJSON), rec.RecordedAt.Unix(),
	)
	return err
}

// DeletePathRecord removes a path record.
func (s *SQLStateStore) DeletePathRecord(path string) error {
	_, err := s.db.Exec(`DELETE FROM path_state WHERE path = ?`, path)
	return err
}

// --- domain records ---

// DomainRecord returns the installed rules for a hostname, or nil.
func (s *SQLStateStore) DomainRecord(hostname string) (*domain.DomainRecord, error) {
	var ruleIDsJSON, ipsJSON string
	var installedAt int64

	err := s.db.QueryRow(
		`SELECT rule_ids, ips, installed_at FROM domain_state WHERE hostname = ?`, hostname,
	).Scan(&ruleIDsJSON, &ipsJSON, &installedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := &domain.DomainRecord{
		Hostname:    hostname,
		InstalledAt: time.Unix(installedAt, 0),
	}
	if err := json.Unmarshal([]byte(ruleIDsJSON), &rec.RuleIDs); err != nil {
		return nil, fmt.Errorf("corrupt domain record for %s: %w", hostname, err)
	}
	if err := json.Unmarshal([]byte(ipsJSON), &rec.IPs); err != nil {
		return nil, fmt.Errorf("corrupt domain record for %s: %w", hostname, err)
	}
	return rec, nil
}

// SaveDomainRecord stores (or replaces) a domain record.
func (s *SQLStateStore) SaveDomainRecord(rec domain.DomainRecord) error {
	ruleIDsJSON, err := json.Marshal(rec.RuleIDs)
	if err != nil {
		return err
	}
	ipsJSON, err := json.Marshal(rec.IPs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO domain_state (hostname, rule_ids, ips, installed_at) VALUES (?, ?, ?, ?)`,
		rec.Hostname, string(ruleIDsJSON), string(ipsJSON), rec.InstalledAt.Unix(),
	)
	return err
}

// DeleteDomainRecord removes a domain record.
func (s *SQLStateStore) DeleteDomainRecord(hostname string) error {
	_, err := s.db.Exec(`DELETE FROM domain_state WHERE hostname = ?`, hostname)
	return err
}

// --- relaunch guards ---

// Guard returns the relaunch guard for a matcher, or nil.
func (s *SQLStateStore) Guard(matcher string) (*domain.GuardRecord, error) {
	var agentsJSON string
	var installedAt int64

	err := s.db.QueryRow(
		`SELECT unloaded_agents, installed_at FROM app_guard WHERE matcher = ?`, matcher,
	).Scan(&agentsJSON, &installedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := &domain.GuardRecord{
		Matcher:     matcher,
		InstalledAt: time.Unix(installedAt, 0),
	}
	if err := json.Unmarshal([]byte(agentsJSON), &rec.UnloadedAgents); err != nil {
		return nil, fmt.Errorf("corrupt guard record for %s: %w", matcher, err)
	}
	return rec, nil
}

// Guards returns all installed relaunch guards.
func (s *SQLStateStore) Guards() ([]domain.GuardRecord, error) {
	rows, err := s.db.Query(`SELECT matcher, unloaded_agents, installed_at FROM app_guard ORDER BY matcher`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var guards []domain.GuardRecord
	for rows.Next() {
		var rec domain.GuardRecord
		var agentsJSON string
		var installedAt int64
		if err := rows.Scan(&rec.Matcher, &agentsJSON, &installedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(agentsJSON), &rec.UnloadedAgents); err != nil {
			return nil, fmt.Errorf("corrupt guard record for %s: %w", rec.Matcher, err)
		}
		rec.InstalledAt = time.Unix(installedAt, 0)
		guards = append(guards, rec)
	}
	return guards, rows.Err()
}

// InstallGuard stores (or replaces) a relaunch guard.
func (s *SQLStateStore) InstallGuard(rec domain.GuardRecord) error {
	agentsJSON, err := json.Marshal(rec.UnloadedAgents)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO app_guard (matcher, unloaded_agents, installed_at) VALUES (?, ?, ?)`,
		rec.Matcher, string(agentsJSON), rec.InstalledAt.Unix(),
	)
	return err
}

// RemoveGuard deletes a relaunch guard.
func (s *SQLStateStore) RemoveGuard(matcher string) error {
	_, err := s.db.Exec(`DELETE FROM app_guard WHERE matcher = ?`, matcher)
	return err
}

// Close releases the database connection.
func (s *SQLStateStore) Close() error {
	return s.db.Close()
}

// DBPath returns the database file location (for status output).
func (s *SQLStateStore) DBPath() string {
	return s.dbPath
}

// Ensure SQLStateStore implements domain.StateStore.
var _ domain.StateStore = (*SQLStateStore)(nil)
