// Package store persists odds snapshots and the opportunity log in an
// embedded SQLite database. Writers are serialised behind a mutex; readers
// run concurrently on the pooled handle under WAL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/models"
)

const currentSchemaVersion = 2

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// schemaStatements is the full current (v2) schema. Every statement is
// idempotent so it can run over an upgraded v1 store as well.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		id             INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS latest_events (
		fingerprint   TEXT PRIMARY KEY,
		sport_key     TEXT NOT NULL,
		commence_time TEXT NOT NULL,
		home_team     TEXT NOT NULL,
		away_team     TEXT NOT NULL,
		payload       TEXT NOT NULL,
		fetched_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_latest_events_sport ON latest_events(sport_key)`,
	`CREATE TABLE IF NOT EXISTS opportunities (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		fingerprint        TEXT NOT NULL UNIQUE,
		run_id             TEXT NOT NULL DEFAULT '',
		sport_key          TEXT NOT NULL,
		event_id           TEXT NOT NULL,
		event_slug         TEXT NOT NULL DEFAULT '',
		event_name         TEXT NOT NULL,
		home_team          TEXT NOT NULL,
		away_team          TEXT NOT NULL,
		commence_time      TEXT NOT NULL,
		market             TEXT NOT NULL,
		total_implied_prob REAL NOT NULL,
		profit_pct         REAL NOT NULL,
		legs               TEXT NOT NULL,
		detected_at        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_opportunities_read ON opportunities(detected_at DESC, sport_key, profit_pct DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_opportunities_sport ON opportunities(sport_key)`,
	`CREATE TABLE IF NOT EXISTS sports (
		key          TEXT PRIMARY KEY,
		sport_group  TEXT NOT NULL,
		title        TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		active       INTEGER NOT NULL,
		has_outcomes INTEGER NOT NULL,
		synced_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS quota_history (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		requests_used      INTEGER NOT NULL,
		requests_remaining INTEGER NOT NULL,
		recorded_at        TEXT NOT NULL
	)`,
}

// v1 stores predate run attribution and the catalogue tables.
var upgradeV1Statements = []string{
	`ALTER TABLE opportunities ADD COLUMN run_id TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE opportunities ADD COLUMN event_slug TEXT NOT NULL DEFAULT ''`,
}

// Store is the embedded relational store for snapshots and opportunities.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *logger.Logger
}

// Open opens (creating if needed) the SQLite store at path and runs the
// schema upgrade path before returning.
func Open(path string, log *logger.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	// WAL permits one writer and many readers; writes additionally
	// serialise on s.mu.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, logger: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close is safe to call on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// schemaVersion reports the stored version. A store without a version row is
// either fresh (0) or a pre-versioning install (1), told apart by whether the
// opportunities table exists yet.
func (s *Store) schemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow(`SELECT schema_version FROM meta WHERE id = 1`).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	var name string
	err = s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'opportunities'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to inspect store tables: %w", err)
	}
	return 1, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaStatements[0]); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	if version == 1 {
		for _, stmt := range upgradeV1Statements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to upgrade store schema from v1: %w", err)
			}
		}
		s.logger.Info().
			Str("action", "schema_upgrade").
			Int("from_version", version).
			Int("to_version", currentSchemaVersion).
			Msg("Upgraded store schema")
	}

	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply store schema: %w", err)
		}
	}

	if _, err := s.db.Exec(
		`INSERT INTO meta (id, schema_version) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET schema_version = excluded.schema_version`,
		currentSchemaVersion,
	); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// ReplaceSports swaps the catalogue wholesale in one transaction.
func (s *Store) ReplaceSports(ctx context.Context, sports []models.Sport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin sports transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sports`); err != nil {
		return fmt.Errorf("failed to clear sports: %w", err)
	}
	for _, sp := range sports {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sports (key, sport_group, title, description, active, has_outcomes, synced_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sp.Key, sp.Group, sp.Title, sp.Description, boolToInt(sp.Active), boolToInt(sp.HasOutcomes),
			fmtTime(sp.SyncedAt),
		); err != nil {
			return fmt.Errorf("failed to insert sport %s: %w", sp.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sports: %w", err)
	}
	s.logger.LogDatabaseOperation("replace", "sports", len(sports), time.Since(start), nil)
	return nil
}

// ListSports returns the catalogue snapshot ordered by key.
func (s *Store) ListSports(ctx context.Context) ([]models.Sport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, sport_group, title, description, active, has_outcomes, synced_at
		 FROM sports ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sports: %w", err)
	}
	defer rows.Close()

	var out []models.Sport
	for rows.Next() {
		var (
			sp               models.Sport
			active, outcomes int
			syncedAt         string
		)
		if err := rows.Scan(&sp.Key, &sp.Group, &sp.Title, &sp.Description, &active, &outcomes, &syncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sport: %w", err)
		}
		sp.Active = active != 0
		sp.HasOutcomes = outcomes != 0
		sp.SyncedAt, _ = time.Parse(time.RFC3339, syncedAt)
		out = append(out, sp)
	}
	return out, rows.Err()
}

// ReplaceLatest atomically swaps the latest-events snapshot. Readers observe
// either the previous set or the new one, never a mix.
func (s *Store) ReplaceLatest(ctx context.Context, events []models.Event, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM latest_events`); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to serialise event %s: %w", ev.Fingerprint(), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO latest_events
			 (fingerprint, sport_key, commence_time, home_team, away_team, payload, fetched_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.Fingerprint(), ev.SportKey, fmtTime(ev.CommenceTime), ev.HomeTeam, ev.AwayTeam,
			string(payload), fmtTime(fetchedAt),
		); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", ev.Fingerprint(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	s.logger.LogDatabaseOperation("replace", "latest_events", len(events), time.Since(start), nil)
	return nil
}

// ListLatest returns the current snapshot, optionally filtered by sport key.
func (s *Store) ListLatest(ctx context.Context, sportKey string) ([]models.Event, error) {
	query := `SELECT payload FROM latest_events`
	args := []any{}
	if sportKey != "" {
		query += ` WHERE sport_key = ?`
		args = append(args, sportKey)
	}
	query += ` ORDER BY commence_time, fingerprint`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event payload: %w", err)
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// AppendOpportunities inserts new opportunities in one transaction, skipping
// rows whose minute-bucket fingerprint is already present. Returns the number
// actually inserted.
func (s *Store) AppendOpportunities(ctx context.Context, ops []models.Opportunity) (int, error) {
	if len(ops) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin opportunity transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, op := range ops {
		legs, err := json.Marshal(op.Legs)
		if err != nil {
			return 0, fmt.Errorf("failed to serialise legs for %s: %w", op.Fingerprint(), err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO opportunities
			 (fingerprint, run_id, sport_key, event_id, event_slug, event_name, home_team, away_team,
			  commence_time, market, total_implied_prob, profit_pct, legs, detected_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.Fingerprint(), op.RunID, op.SportKey, op.EventID, op.EventSlug, op.EventName,
			op.HomeTeam, op.AwayTeam, fmtTime(op.CommenceTime), op.Market,
			op.TotalImpliedProb, op.ProfitPct, string(legs), fmtTime(op.DetectedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert opportunity %s: %w", op.Fingerprint(), err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit opportunities: %w", err)
	}
	s.logger.LogDatabaseOperation("append", "opportunities", inserted, time.Since(start), nil)
	return inserted, nil
}

// OpportunityFilter narrows historical opportunity reads. Zero values mean
// no constraint; Limit is clamped to 500 and defaults to 50.
type OpportunityFilter struct {
	Sport        string
	MinProfitPct float64
	Since        time.Time
	Limit        int
}

// ListOpportunities returns historical opportunities, newest first.
func (s *Store) ListOpportunities(ctx context.Context, f OpportunityFilter) ([]models.Opportunity, error) {
	var (
		conds []string
		args  []any
	)
	if f.Sport != "" {
		conds = append(conds, `sport_key = ?`)
		args = append(args, f.Sport)
	}
	if f.MinProfitPct > 0 {
		conds = append(conds, `profit_pct >= ?`)
		args = append(args, f.MinProfitPct)
	}
	if !f.Since.IsZero() {
		conds = append(conds, `detected_at >= ?`)
		args = append(args, fmtTime(f.Since))
	}

	query := `SELECT ` + opportunityColumns + ` FROM opportunities`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY detected_at DESC, profit_pct DESC LIMIT ?`
	args = append(args, clampLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}
	defer rows.Close()
	return scanOpportunities(rows)
}

// CurrentOpportunities returns rows detected by the most recent persisting
// run whose events have not commenced, best profit first.
func (s *Store) CurrentOpportunities(ctx context.Context, sportKey string, minProfitPct float64, limit int, now time.Time) ([]models.Opportunity, error) {
	query := `SELECT ` + opportunityColumns + ` FROM opportunities
		WHERE run_id = (SELECT run_id FROM opportunities ORDER BY id DESC LIMIT 1)
		AND commence_time > ?`
	args := []any{fmtTime(now)}

	if sportKey != "" {
		query += ` AND sport_key = ?`
		args = append(args, sportKey)
	}
	if minProfitPct > 0 {
		query += ` AND profit_pct >= ?`
		args = append(args, minProfitPct)
	}
	query += ` ORDER BY profit_pct DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list current opportunities: %w", err)
	}
	defer rows.Close()
	return scanOpportunities(rows)
}

// PurgeOpportunities deletes rows detected before the cutoff and reports how
// many were removed.
func (s *Store) PurgeOpportunities(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res, err := s.db.ExecContext(ctx, `DELETE FROM opportunities WHERE detected_at < ?`, fmtTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge opportunities: %w", err)
	}
	deleted, _ := res.RowsAffected()
	s.logger.LogDatabaseOperation("purge", "opportunities", int(deleted), time.Since(start), nil)
	return deleted, nil
}

// RecordQuota appends one quota observation.
func (s *Store) RecordQuota(ctx context.Context, q models.QuotaSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_history (requests_used, requests_remaining, recorded_at) VALUES (?, ?, ?)`,
		q.Used, q.Remaining, fmtTime(q.ObservedAt),
	); err != nil {
		return fmt.Errorf("failed to record quota: %w", err)
	}
	return nil
}

// LastQuota returns the most recent quota observation, or nil when none has
// been recorded yet.
func (s *Store) LastQuota(ctx context.Context) (*models.QuotaSnapshot, error) {
	var (
		q          models.QuotaSnapshot
		recordedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT requests_used, requests_remaining, recorded_at FROM quota_history ORDER BY id DESC LIMIT 1`,
	).Scan(&q.Used, &q.Remaining, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read quota: %w", err)
	}
	q.ObservedAt, _ = time.Parse(time.RFC3339, recordedAt)
	return &q, nil
}

const opportunityColumns = `run_id, sport_key, event_id, event_slug, event_name, home_team, away_team,
	commence_time, market, total_implied_prob, profit_pct, legs, detected_at`

func scanOpportunities(rows *sql.Rows) ([]models.Opportunity, error) {
	var out []models.Opportunity
	for rows.Next() {
		var op models.Opportunity
		var commenceAt, detectedAt, legs string
		if err := rows.Scan(&op.RunID, &op.SportKey, &op.EventID, &op.EventSlug, &op.EventName,
			&op.HomeTeam, &op.AwayTeam, &commenceAt, &op.Market, &op.TotalImpliedProb,
			&op.ProfitPct, &legs, &detectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		if err := json.Unmarshal([]byte(legs), &op.Legs); err != nil {
			return nil, fmt.Errorf("failed to decode legs: %w", err)
		}
		op.CommenceTime, _ = time.Parse(time.RFC3339, commenceAt)
		op.DetectedAt, _ = time.Parse(time.RFC3339, detectedAt)
		out = append(out, op)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// fmtTime renders a timestamp the way every store column expects it: UTC,
// RFC3339, whole seconds, so lexicographic order matches chronological order.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
