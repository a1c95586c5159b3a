// Package cache is the durable local store for captured events and
// audio snapshots. It knows nothing about networking; sync state is
// just a flag it persists and flips.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/fieldrec/pitchside/internal/domain"
)

// Store is a SQLite-backed cache of event and audio snapshots.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the cache database at path and initializes
// the schema. An in-memory DSN such as
// "file:test?mode=memory&cache=shared" works for tests.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, &domain.CacheError{Kind: domain.CacheStorage, Op: "open", Err: err}
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, &domain.CacheError{Kind: domain.CacheStorage, Op: "open", Err: err}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			match_id INTEGER NOT NULL,
			raw_text TEXT NOT NULL,
			parsed_json TEXT NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0,
			capture_key TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audio (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			match_id INTEGER NOT NULL,
			file_path TEXT NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_match_id ON events(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_synced ON events(synced)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_capture_key ON events(capture_key) WHERE capture_key <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_audio_match_id ON audio(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audio_synced ON audio(synced)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return &domain.CacheError{Kind: domain.CacheStorage, Op: "init schema", Err: err}
		}
	}
	return nil
}

type eventRow struct {
	ID         int64     `db:"id"`
	MatchID    int64     `db:"match_id"`
	RawText    string    `db:"raw_text"`
	ParsedJSON string    `db:"parsed_json"`
	Synced     bool      `db:"synced"`
	CaptureKey string    `db:"capture_key"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r eventRow) toDomain() (domain.CachedEvent, error) {
	ev := domain.CachedEvent{
		LocalID:    r.ID,
		MatchID:    r.MatchID,
		RawText:    r.RawText,
		Synced:     r.Synced,
		CaptureKey: r.CaptureKey,
		CreatedAt:  r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.ParsedJSON), &ev.Payload); err != nil {
		return ev, fmt.Errorf("unmarshal payload for event %d: %w", r.ID, err)
	}
	return ev, nil
}

type audioRow struct {
	ID        int64     `db:"id"`
	MatchID   int64     `db:"match_id"`
	FilePath  string    `db:"file_path"`
	Synced    bool      `db:"synced"`
	CreatedAt time.Time `db:"created_at"`
}

func (r audioRow) toDomain() domain.CachedAudio {
	return domain.CachedAudio{
		LocalID:   r.ID,
		MatchID:   r.MatchID,
		FilePath:  r.FilePath,
		Synced:    r.Synced,
		CreatedAt: r.CreatedAt,
	}
}

// SaveEvent persists one event snapshot and returns its local id.
//
// When captureKey is non-empty the write is an upsert: a second save
// for the same capture updates the existing row in place and returns
// the same id, so the save-then-update flow of a capture session never
// creates a duplicate row. The synced flag only ratchets upward; an
// unsynced save never demotes a row that is already synced. An empty
// captureKey appends a plain row.
func (s *Store) SaveEvent(ctx context.Context, matchID int64, rawText string, payload domain.EventPayload, synced bool, captureKey string) (int64, error) {
	parsed, err := json.Marshal(payload)
	if err != nil {
		return 0, &domain.CacheError{Kind: domain.CacheStorage, Op: "save event", Err: err}
	}

	now := time.Now().UTC()

	if captureKey == "" {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO events (match_id, raw_text, parsed_json, synced, capture_key, created_at)
			 VALUES (?, ?, ?, ?, '', ?)`,
			matchID, rawText, string(parsed), synced, now)
		if err != nil {
			return 0, &domain.CacheError{Kind: domain.CacheStorage, Op: "save event", Err: err}
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, &domain.CacheError{Kind: domain.CacheStorage, Op: "save event", Err: err}
		}
		return id, nil
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO events (match_id, raw_text, parsed_json, synced, capture_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(capture_key) WHERE capture_key <> '' DO UPDATE SET
		 	raw_text = excluded.raw_text,
		 	parsed_json = excluded.parsed_json,
		 	synced = MAX(events.synced, excluded.synced)
		 RETURNING id`,
		matchID, rawText, string(parsed), synced, captureKey, now).Scan(&id)
	if err != nil {
		return 0, &domain.CacheError{Kind: domain.CacheStorage, Op: "save event", Err: err}
	}
	return id, nil
}

// SaveAudio persists one audio snapshot and returns its local id.
func (s *Store) SaveAudio(ctx context.Context, matchID int64, filePath string, synced bool) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audio (match_id, file_path, synced, created_at) VALUES (?, ?, ?, ?)`,
		matchID, filePath, synced, time.Now().UTC())
	if err != nil {
		return 0, &domain.CacheError{Kind: domain.CacheStorage, Op: "save audio", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &domain.CacheError{Kind: domain.CacheStorage, Op: "save audio", Err: err}
	}
	return id, nil
}

// MarkEventSynced flips exactly one event row to synced.
func (s *Store) MarkEventSynced(ctx context.Context, id int64) error {
	return s.markSynced(ctx, "events", "mark event synced", id)
}

// MarkAudioSynced flips exactly one audio row to synced.
func (s *Store) MarkAudioSynced(ctx context.Context, id int64) error {
	return s.markSynced(ctx, "audio", "mark audio synced", id)
}

func (s *Store) markSynced(ctx context.Context, table, op string, id int64) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET synced = 1 WHERE id = ?", table), id)
	if err != nil {
		return &domain.CacheError{Kind: domain.CacheStorage, Op: op, Err: err}
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return &domain.CacheError{Kind: domain.CacheStorage, Op: op, Err: err}
	}
	if rows == 0 {
		return &domain.CacheError{Kind: domain.CacheNotFound, Op: op}
	}
	return nil
}

// UnsyncedEvents returns all pending event rows, oldest first. The
// order preserves submission order for backend sequencing assumptions.
func (s *Store) UnsyncedEvents(ctx context.Context) ([]domain.CachedEvent, error) {
	return s.selectEvents(ctx, "unsynced events",
		`SELECT * FROM events WHERE synced = 0 ORDER BY created_at ASC, id ASC`)
}

// UnsyncedAudio returns all pending audio rows, oldest first.
func (s *Store) UnsyncedAudio(ctx context.Context) ([]domain.CachedAudio, error) {
	return s.selectAudio(ctx, "unsynced audio",
		`SELECT * FROM audio WHERE synced = 0 ORDER BY created_at ASC, id ASC`)
}

// EventsForMatch returns the full event history for a match, any state.
func (s *Store) EventsForMatch(ctx context.Context, matchID int64) ([]domain.CachedEvent, error) {
	return s.selectEvents(ctx, "events for match",
		`SELECT * FROM events WHERE match_id = ? ORDER BY created_at ASC, id ASC`, matchID)
}

// AudioForMatch returns the full audio history for a match, any state.
func (s *Store) AudioForMatch(ctx context.Context, matchID int64) ([]domain.CachedAudio, error) {
	return s.selectAudio(ctx, "audio for match",
		`SELECT * FROM audio WHERE match_id = ? ORDER BY created_at ASC, id ASC`, matchID)
}

func (s *Store) selectEvents(ctx context.Context, op, query string, args ...any) ([]domain.CachedEvent, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &domain.CacheError{Kind: domain.CacheStorage, Op: op, Err: err}
	}
	events := make([]domain.CachedEvent, 0, len(rows))
	for _, r := range rows {
		ev, err := r.toDomain()
		if err != nil {
			return nil, &domain.CacheError{Kind: domain.CacheStorage, Op: op, Err: err}
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Store) selectAudio(ctx context.Context, op, query string, args ...any) ([]domain.CachedAudio, error) {
	var rows []audioRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &domain.CacheError{Kind: domain.CacheStorage, Op: op, Err: err}
	}
	clips := make([]domain.CachedAudio, 0, len(rows))
	for _, r := range rows {
		clips = append(clips, r.toDomain())
	}
	return clips, nil
}

// Stats reports total and pending counts for both tables.
func (s *Store) Stats(ctx context.Context) (domain.CacheStats, error) {
	var stats domain.CacheStats

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0) FROM events`)
	if err := row.Scan(&stats.TotalEvents, &stats.PendingEvents); err != nil {
		return stats, &domain.CacheError{Kind: domain.CacheStorage, Op: "stats", Err: err}
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0) FROM audio`)
	if err := row.Scan(&stats.TotalAudio, &stats.PendingAudio); err != nil {
		return stats, &domain.CacheError{Kind: domain.CacheStorage, Op: "stats", Err: err}
	}

	return stats, nil
}

// ClearAll removes every cached row. Destructive; intended for
// testing and reset flows only.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &domain.CacheError{Kind: domain.CacheStorage, Op: "clear", Err: err}
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM events`, `DELETE FROM audio`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &domain.CacheError{Kind: domain.CacheStorage, Op: "clear", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &domain.CacheError{Kind: domain.CacheStorage, Op: "clear", Err: err}
	}
	return nil
}

// Close releases the store handle. The store is unusable afterward.
func (s *Store) Close() error {
	return s.db.Close()
}
