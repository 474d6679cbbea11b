// Package storage provides durable key/value persistence for metric values
// using SQLite, namespaced by lifetime and destination ping. Every write
// commits before the call returns, so a crash after a recording call cannot
// lose that write. Unreadable rows are logged and treated as absent; the
// store degrades to "no prior value" instead of failing reads.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/observelite/beacon/internal/metricdata"
)

// Lifetime controls how long a recorded value survives.
type Lifetime string

const (
	// LifetimePing values are cleared every time their owning ping is
	// assembled.
	LifetimePing Lifetime = "ping"
	// LifetimeApplication values survive ping submission and last until the
	// session ends or they are explicitly reset.
	LifetimeApplication Lifetime = "application"
	// LifetimeUser values persist across restarts until the profile resets.
	LifetimeUser Lifetime = "user"
)

// Lifetimes lists all lifetimes in snapshot order.
var Lifetimes = []Lifetime{LifetimePing, LifetimeApplication, LifetimeUser}

// Entry is one snapshotted (metric id, value) pair.
type Entry struct {
	ID    string
	Value metricdata.Value
}

// Store is the persistent metric store. A single connection in WAL mode
// serializes writers; SQLite works best that way and the engine funnels all
// mutation through one dispatcher anyway.
type Store struct {
	mu sync.Mutex
	db *sql.DB

	// delayed ping-lifetime overlay, keyed ping + "\x1f" + metric id.
	// Populated only when delayPingWrites is set; flushed by Persist.
	delayPingWrites bool
	overlay         map[string]metricdata.Value
}

// Open opens (creating if needed) the store at dbPath. When delayPingWrites
// is set, ping-lifetime writes are buffered in memory and only hit disk on
// Persist, trading crash durability of one ping interval for write volume.
func Open(dbPath string, delayPingWrites bool) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open metric store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:              db,
		delayPingWrites: delayPingWrites,
		overlay:         make(map[string]metricdata.Value),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug().Str("path", dbPath).Bool("delayPingWrites", delayPingWrites).Msg("Metric store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS metrics (
			lifetime  TEXT NOT NULL,
			ping      TEXT NOT NULL,
			metric_id TEXT NOT NULL,
			value     TEXT NOT NULL,
			PRIMARY KEY (lifetime, ping, metric_id)
		);

		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create metric store schema: %w", err)
	}
	return nil
}

// Close flushes any delayed writes and closes the database.
func (s *Store) Close() error {
	if err := s.Persist(); err != nil {
		log.Warn().Err(err).Msg("Failed to flush delayed writes on close")
	}
	return s.db.Close()
}

func overlayKey(ping, id string) string { return ping + "\x1f" + id }

// Get returns the stored value for one key, or ok=false when absent or
// unreadable.
func (s *Store) Get(lt Lifetime, ping, id string) (metricdata.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.delayPingWrites && lt == LifetimePing {
		if v, ok := s.overlay[overlayKey(ping, id)]; ok {
			return v, true
		}
	}

	var raw []byte
	err := s.db.QueryRow(
		`SELECT value FROM metrics WHERE lifetime = ? AND ping = ? AND metric_id = ?`,
		string(lt), ping, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return metricdata.Value{}, false
	}
	if err != nil {
		log.Warn().Err(err).Str("metric", id).Msg("Metric read failed, treating as absent")
		return metricdata.Value{}, false
	}

	v, err := metricdata.Decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("metric", id).Msg("Corrupt stored value, dropping")
		s.deleteRowLocked(lt, ping, id)
		return metricdata.Value{}, false
	}
	return v, true
}

// Set overwrites the value for one key, committing before returning.
func (s *Store) Set(lt Lifetime, ping, id string, v metricdata.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(lt, ping, id, v)
}

func (s *Store) setLocked(lt Lifetime, ping, id string, v metricdata.Value) error {
	if s.delayPingWrites && lt == LifetimePing {
		s.overlay[overlayKey(ping, id)] = v
		return nil
	}

	raw, err := metricdata.Encode(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO metrics (lifetime, ping, metric_id, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (lifetime, ping, metric_id) DO UPDATE SET value = excluded.value`,
		string(lt), ping, id, raw,
	)
	if err != nil {
		return fmt.Errorf("write metric %s: %w", id, err)
	}
	return nil
}

// Accumulate merges delta into the stored value per the value kind's merge
// rule, creating the entry when absent. Merge rules for accumulating kinds
// are commutative and associative, so the final value does not depend on
// arrival order across concurrent accumulations.
func (s *Store) Accumulate(lt Lifetime, ping, id string, delta metricdata.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := delta
	if base, ok := s.getLocked(lt, ping, id); ok {
		merged = metricdata.Merge(base, delta)
	}
	return s.setLocked(lt, ping, id, merged)
}

// getLocked mirrors Get without re-taking the mutex.
func (s *Store) getLocked(lt Lifetime, ping, id string) (metricdata.Value, bool) {
	if s.delayPingWrites && lt == LifetimePing {
		if v, ok := s.overlay[overlayKey(ping, id)]; ok {
			return v, true
		}
	}
	var raw []byte
	err := s.db.QueryRow(
		`SELECT value FROM metrics WHERE lifetime = ? AND ping = ? AND metric_id = ?`,
		string(lt), ping, id,
	).Scan(&raw)
	if err != nil {
		return metricdata.Value{}, false
	}
	v, err := metricdata.Decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("metric", id).Msg("Corrupt stored value, dropping")
		s.deleteRowLocked(lt, ping, id)
		return metricdata.Value{}, false
	}
	return v, true
}

func (s *Store) deleteRowLocked(lt Lifetime, ping, id string) {
	if _, err := s.db.Exec(
		`DELETE FROM metrics WHERE lifetime = ? AND ping = ? AND metric_id = ?`,
		string(lt), ping, id,
	); err != nil {
		log.Warn().Err(err).Str("metric", id).Msg("Failed to drop corrupt row")
	}
}

// Snapshot returns all entries in one (lifetime, ping) namespace ordered by
// metric id. It does not mutate stored state.
func (s *Store) Snapshot(lt Lifetime, ping string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT metric_id, value FROM metrics WHERE lifetime = ? AND ping = ? ORDER BY metric_id ASC`,
		string(lt), ping,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s/%s: %w", lt, ping, err)
	}
	defer rows.Close()

	seen := make(map[string]int)
	var entries []Entry
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			log.Warn().Err(err).Msg("Failed to scan metric row")
			continue
		}
		v, err := metricdata.Decode(raw)
		if err != nil {
			log.Warn().Err(err).Str("metric", id).Msg("Corrupt stored value skipped in snapshot")
			continue
		}
		seen[id] = len(entries)
		entries = append(entries, Entry{ID: id, Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot %s/%s: %w", lt, ping, err)
	}

	if s.delayPingWrites && lt == LifetimePing {
		entries = s.mergeOverlayLocked(ping, entries, seen)
	}
	return entries, nil
}

// mergeOverlayLocked layers buffered ping-lifetime writes over the on-disk
// snapshot, keeping the id ordering stable.
func (s *Store) mergeOverlayLocked(ping string, entries []Entry, seen map[string]int) []Entry {
	var added bool
	for key, v := range s.overlay {
		p, id, ok := splitOverlayKey(key)
		if !ok || p != ping {
			continue
		}
		if at, dup := seen[id]; dup {
			entries[at].Value = v
			continue
		}
		entries = append(entries, Entry{ID: id, Value: v})
		added = true
	}
	if added {
		sortEntries(entries)
	}
	return entries
}

// PingNames lists the distinct ping namespaces present under one lifetime,
// for inspection tooling. Delayed overlay entries are included.
func (s *Store) PingNames(lt Lifetime) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT DISTINCT ping FROM metrics WHERE lifetime = ? ORDER BY ping ASC`,
		string(lt),
	)
	if err != nil {
		return nil, fmt.Errorf("list pings for %s: %w", lt, err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var names []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			continue
		}
		seen[p] = true
		names = append(names, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pings for %s: %w", lt, err)
	}

	if s.delayPingWrites && lt == LifetimePing {
		for key := range s.overlay {
			if p, _, ok := splitOverlayKey(key); ok && !seen[p] {
				seen[p] = true
				names = append(names, p)
			}
		}
		sort.Strings(names)
	}
	return names, nil
}

// HasEntries reports whether any value exists in the (lifetime, ping)
// namespace, used for the send-if-empty gate.
func (s *Store) HasEntries(lt Lifetime, ping string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.delayPingWrites && lt == LifetimePing {
		for key := range s.overlay {
			if p, _, ok := splitOverlayKey(key); ok && p == ping {
				return true
			}
		}
	}

	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM metrics WHERE lifetime = ? AND ping = ?`,
		string(lt), ping,
	).Scan(&n)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count metric namespace")
		return false
	}
	return n > 0
}

// Clear drops every entry in one (lifetime, ping) namespace.
func (s *Store) Clear(lt Lifetime, ping string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.delayPingWrites && lt == LifetimePing {
		for key := range s.overlay {
			if p, _, ok := splitOverlayKey(key); ok && p == ping {
				delete(s.overlay, key)
			}
		}
	}

	if _, err := s.db.Exec(
		`DELETE FROM metrics WHERE lifetime = ? AND ping = ?`,
		string(lt), ping,
	); err != nil {
		return fmt.Errorf("clear %s/%s: %w", lt, ping, err)
	}
	return nil
}

// ClearLifetime drops every entry recorded under one lifetime across all
// pings.
func (s *Store) ClearLifetime(lt Lifetime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.delayPingWrites && lt == LifetimePing {
		s.overlay = make(map[string]metricdata.Value)
	}
	if _, err := s.db.Exec(`DELETE FROM metrics WHERE lifetime = ?`, string(lt)); err != nil {
		return fmt.Errorf("clear lifetime %s: %w", lt, err)
	}
	return nil
}

// ClearAll drops every stored metric value in every lifetime. Meta flags are
// untouched; callers reset those individually.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overlay = make(map[string]metricdata.Value)
	if _, err := s.db.Exec(`DELETE FROM metrics`); err != nil {
		return fmt.Errorf("clear all metrics: %w", err)
	}
	return nil
}

// Persist flushes delayed ping-lifetime writes to disk in one transaction.
// A no-op unless the store was opened with delayPingWrites.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.overlay) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("persist delayed writes: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO metrics (lifetime, ping, metric_id, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (lifetime, ping, metric_id) DO UPDATE SET value = excluded.value`,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("persist delayed writes: %w", err)
	}
	defer stmt.Close()

	for key, v := range s.overlay {
		ping, id, ok := splitOverlayKey(key)
		if !ok {
			continue
		}
		raw, err := metricdata.Encode(v)
		if err != nil {
			log.Warn().Err(err).Str("metric", id).Msg("Skipping unencodable delayed write")
			continue
		}
		if _, err := stmt.Exec(string(LifetimePing), ping, id, raw); err != nil {
			tx.Rollback()
			return fmt.Errorf("persist delayed write for %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist delayed writes: %w", err)
	}

	s.overlay = make(map[string]metricdata.Value)
	return nil
}

// GetMeta reads one lifecycle flag.
func (s *Store) GetMeta(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Meta read failed, treating as absent")
		return "", false
	}
	return v, true
}

// SetMeta writes one lifecycle flag, committing before returning.
func (s *Store) SetMeta(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}

func splitOverlayKey(key string) (ping, id string, ok bool) {
	i := strings.IndexByte(key, '\x1f')
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
}

// DeleteMeta removes one lifecycle flag.
func (s *Store) DeleteMeta(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM meta WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete meta %s: %w", key, err)
	}
	return nil
}
