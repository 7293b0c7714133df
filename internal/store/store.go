// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store persists DNS query logs to SQLite and implements the
// engine's record-store interface by translating composite filters into
// native WHERE clauses.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/nsight/internal/engine"
	"grimm.is/nsight/internal/errors"
)

// Log is a stored DNS query log entry. Domain is lowercase-normalized at
// ingest; DeviceName is empty when the resolver reported no device. Raw is
// the API payload the entry was ingested from, verbatim.
type Log struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Domain     string          `json:"domain"`
	Action     string          `json:"action"`
	DeviceName string          `json:"device_name,omitempty"`
	ClientIP   string          `json:"client_ip,omitempty"`
	QueryType  string          `json:"query_type"`
	Blocked    bool            `json:"blocked"`
	ProfileID  string          `json:"profile_id"`
	Raw        json.RawMessage `json:"data,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store handles persistence of DNS query logs to SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the query log database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to open query log db")
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dns_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL, -- Unix timestamp
		domain TEXT NOT NULL,
		action TEXT NOT NULL DEFAULT 'default',
		device_name TEXT NOT NULL DEFAULT '',
		client_ip TEXT NOT NULL DEFAULT '',
		query_type TEXT NOT NULL DEFAULT 'A',
		blocked BOOLEAN NOT NULL DEFAULT 0,
		profile_id TEXT NOT NULL DEFAULT '',
		raw TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE(timestamp, domain, client_ip)
	);
	CREATE INDEX IF NOT EXISTS idx_dns_logs_timestamp ON dns_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_dns_logs_domain ON dns_logs(domain);
	CREATE INDEX IF NOT EXISTS idx_dns_logs_profile_timestamp ON dns_logs(profile_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_dns_logs_blocked ON dns_logs(blocked);

	CREATE TABLE IF NOT EXISTS fetch_status (
		profile_id TEXT PRIMARY KEY,
		last_fetch_timestamp INTEGER NOT NULL,
		last_successful_fetch INTEGER NOT NULL,
		records_fetched INTEGER NOT NULL DEFAULT 0
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to init query log schema")
	}
	return nil
}

// InsertBatch persists a batch of log entries, silently skipping entries
// that collide with the (timestamp, domain, client_ip) uniqueness constraint.
// It returns the genuinely new rows, domains lowercase-normalized, so callers
// can tell new records apart from duplicates.
func (s *Store) InsertBatch(ctx context.Context, logs []Log) ([]Log, error) {
	if len(logs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to begin insert transaction")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO dns_logs
			(timestamp, domain, action, device_name, client_ip, query_type, blocked, profile_id, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to prepare insert")
	}
	defer stmt.Close()

	var inserted []Log
	now := time.Now().UTC()
	for _, l := range logs {
		l.Domain = strings.ToLower(l.Domain)
		res, err := stmt.ExecContext(ctx,
			l.Timestamp.UTC().Unix(),
			l.Domain,
			l.Action,
			l.DeviceName,
			l.ClientIP,
			l.QueryType,
			l.Blocked,
			l.ProfileID,
			string(l.Raw),
			now.Unix(),
		)
		if err != nil {
			tx.Rollback()
			return nil, errors.Wrap(err, errors.KindUnavailable, "failed to insert log entry")
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			l.CreatedAt = now
			if id, err := res.LastInsertId(); err == nil {
				l.ID = id
			}
			inserted = append(inserted, l)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to commit insert")
	}
	return inserted, nil
}

// whereClause renders a composite engine filter as SQL conditions. Pattern
// conditions come from the engine so the LIKE escaping rules live in one
// place.
func whereClause(f *engine.Filter) (string, []any) {
	var conds []string
	var args []any

	if f.ProfileID != "" {
		conds = append(conds, "profile_id = ?")
		args = append(args, f.ProfileID)
	}
	if !f.Range.All {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Range.Start.UTC().Unix())
	}
	conds = append(conds, "timestamp <= ?")
	args = append(args, f.Range.End.UTC().Unix())

	if len(f.ExcludeDevices) > 0 {
		placeholders := strings.Repeat("?, ", len(f.ExcludeDevices)-1) + "?"
		conds = append(conds, "(device_name = '' OR device_name NOT IN ("+placeholders+"))")
		for _, d := range f.ExcludeDevices {
			args = append(args, d)
		}
	}

	for _, p := range f.Patterns {
		cond, condArgs := p.SQL("domain")
		conds = append(conds, "NOT "+cond)
		args = append(args, condArgs...)
	}

	return strings.Join(conds, " AND "), args
}

// Iterate streams every record matching the filter to fn in timestamp order.
// Iteration stops on the first callback error or context cancellation.
func (s *Store) Iterate(ctx context.Context, f *engine.Filter, fn func(engine.Record) error) error {
	where, args := whereClause(f)
	query := `
		SELECT timestamp, domain, blocked, device_name, query_type, profile_id
		FROM dns_logs
		WHERE ` + where + `
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to query log records")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ts      int64
			rec     engine.Record
			blocked bool
		)
		if err := rows.Scan(&ts, &rec.Domain, &blocked, &rec.DeviceName, &rec.QueryType, &rec.ProfileID); err != nil {
			return errors.Wrap(err, errors.KindUnavailable, "failed to scan log record")
		}
		rec.Timestamp = time.Unix(ts, 0).UTC()
		rec.Action = engine.ActionAllowed
		if blocked {
			rec.Action = engine.ActionBlocked
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "log record iteration failed")
	}
	return nil
}

// Bounds reports the oldest and newest stored timestamps, optionally scoped
// to a profile. ok is false when nothing is stored.
func (s *Store) Bounds(ctx context.Context, profileID string) (time.Time, time.Time, bool, error) {
	query := "SELECT MIN(timestamp), MAX(timestamp) FROM dns_logs"
	var args []any
	if profileID != "" {
		query += " WHERE profile_id = ?"
		args = append(args, profileID)
	}

	var oldest, newest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&oldest, &newest); err != nil {
		return time.Time{}, time.Time{}, false, errors.Wrap(err, errors.KindUnavailable, "failed to query store bounds")
	}
	if !oldest.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return time.Unix(oldest.Int64, 0).UTC(), time.Unix(newest.Int64, 0).UTC(), true, nil
}

// LogQuery selects a page of raw log entries for the log viewer.
type LogQuery struct {
	Search          string // substring match on domain
	Status          string // "all", "blocked" or "allowed"
	ProfileID       string
	ExcludePatterns []engine.Pattern
	Limit           int
	Offset          int
}

// RecentLogs returns recent logs, newest first, with optional filtering and
// pagination.
func (s *Store) RecentLogs(ctx context.Context, q LogQuery) ([]Log, error) {
	query := `
		SELECT id, timestamp, domain, action, device_name, client_ip, query_type, blocked, profile_id, raw, created_at
		FROM dns_logs
	`
	var conds []string
	var args []any

	if q.Search != "" {
		conds = append(conds, `domain LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(q.Search))+"%")
	}
	switch q.Status {
	case "blocked":
		conds = append(conds, "blocked = 1")
	case "allowed":
		conds = append(conds, "blocked = 0")
	}
	if q.ProfileID != "" {
		conds = append(conds, "profile_id = ?")
		args = append(args, q.ProfileID)
	}
	for _, p := range q.ExcludePatterns {
		cond, condArgs := p.SQL("domain")
		conds = append(conds, "NOT "+cond)
		args = append(args, condArgs...)
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to query recent logs")
	}
	defer rows.Close()

	var logs []Log
	for rows.Next() {
		var l Log
		var ts, created int64
		var raw string
		if err := rows.Scan(&l.ID, &ts, &l.Domain, &l.Action, &l.DeviceName, &l.ClientIP,
			&l.QueryType, &l.Blocked, &l.ProfileID, &raw, &created); err != nil {
			return nil, errors.Wrap(err, errors.KindUnavailable, "failed to scan log row")
		}
		if raw != "" {
			l.Raw = json.RawMessage(raw)
		}
		l.Timestamp = time.Unix(ts, 0).UTC()
		l.CreatedAt = time.Unix(created, 0).UTC()
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "recent log iteration failed")
	}
	return logs, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// TotalCount returns the number of stored log records.
func (s *Store) TotalCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dns_logs").Scan(&count); err != nil {
		return 0, errors.Wrap(err, errors.KindUnavailable, "failed to count log records")
	}
	return count, nil
}

// ProfileSummary describes one profile present in the store.
type ProfileSummary struct {
	ProfileID    string    `json:"profile_id"`
	RecordCount  int64     `json:"record_count"`
	LastActivity time.Time `json:"last_activity"`
}

// Profiles lists the profiles that have data, busiest first.
func (s *Store) Profiles(ctx context.Context) ([]ProfileSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT profile_id, COUNT(*), MAX(timestamp)
		FROM dns_logs
		WHERE profile_id != ''
		GROUP BY profile_id
		ORDER BY COUNT(*) DESC, profile_id ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to query profiles")
	}
	defer rows.Close()

	var profiles []ProfileSummary
	for rows.Next() {
		var p ProfileSummary
		var last int64
		if err := rows.Scan(&p.ProfileID, &p.RecordCount, &last); err != nil {
			return nil, errors.Wrap(err, errors.KindUnavailable, "failed to scan profile row")
		}
		p.LastActivity = time.Unix(last, 0).UTC()
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Devices lists the distinct device names seen in the store, alphabetically.
func (s *Store) Devices(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT device_name FROM dns_logs
		WHERE device_name != ''
		ORDER BY device_name ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to query devices")
	}
	defer rows.Close()

	var devices []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, errors.Wrap(err, errors.KindUnavailable, "failed to scan device row")
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// FetchStatus reports the last fetch state for a profile. ok is false when
// the profile has never been fetched.
func (s *Store) FetchStatus(ctx context.Context, profileID string) (last time.Time, total int64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT last_fetch_timestamp, records_fetched FROM fetch_status WHERE profile_id = ?", profileID)

	var ts int64
	switch err := row.Scan(&ts, &total); err {
	case nil:
		return time.Unix(ts, 0).UTC(), total, true, nil
	case sql.ErrNoRows:
		return time.Time{}, 0, false, nil
	default:
		return time.Time{}, 0, false, errors.Wrap(err, errors.KindUnavailable, "failed to read fetch status")
	}
}

// UpdateFetchStatus records a successful fetch, accumulating the per-profile
// record count.
func (s *Store) UpdateFetchStatus(ctx context.Context, profileID string, last time.Time, fetched int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_status (profile_id, last_fetch_timestamp, last_successful_fetch, records_fetched)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			last_fetch_timestamp = excluded.last_fetch_timestamp,
			last_successful_fetch = excluded.last_successful_fetch,
			records_fetched = records_fetched + excluded.records_fetched
	`, profileID, last.UTC().Unix(), time.Now().UTC().Unix(), fetched)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to update fetch status")
	}
	return nil
}

// Cleanup removes records older than the retention period and returns the
// number deleted.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Unix()
	res, err := s.db.ExecContext(ctx, "DELETE FROM dns_logs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindUnavailable, "failed to prune old records")
	}
	return res.RowsAffected()
}
