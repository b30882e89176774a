package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	_ "modernc.org/sqlite"
)

// SessionRecord summarizes one finished dictation session. The journal keeps
// operational metadata only; transcript text is never persisted.
type SessionRecord struct {
	SessionID       string
	StartedAt       time.Time
	EndedAt         time.Time
	Reason          string
	DeltasCommitted int64
	TokensCommitted int64
	Dropped         int64
	Failures        int64
}

// Journal is a SQLite-backed log of session lifecycle and counters.
type Journal struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config. Returns nil when the
// journal is disabled; a nil *Journal drops all writes.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	j := &Journal{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := j.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}

	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP,
    reason TEXT,
    deltas_committed INTEGER NOT NULL DEFAULT 0,
    tokens_committed INTEGER NOT NULL DEFAULT 0,
    injections_dropped INTEGER NOT NULL DEFAULT 0,
    injection_failures INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`
	_, err := j.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordStart inserts a session row at start time.
func (j *Journal) RecordStart(ctx context.Context, sessionID string, startedAt time.Time) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at) VALUES(?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, startedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// RecordEnd completes a session row with its outcome and counters.
func (j *Journal) RecordEnd(ctx context.Context, rec SessionRecord) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at, ended_at, reason,
		                      deltas_committed, tokens_committed,
		                      injections_dropped, injection_failures)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		     ended_at=excluded.ended_at,
		     reason=excluded.reason,
		     deltas_committed=excluded.deltas_committed,
		     tokens_committed=excluded.tokens_committed,
		     injections_dropped=excluded.injections_dropped,
		     injection_failures=excluded.injection_failures`,
		rec.SessionID,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.EndedAt.UTC().Format(time.RFC3339Nano),
		rec.Reason,
		rec.DeltasCommitted, rec.TokensCommitted, rec.Dropped, rec.Failures)
	return err
}

// ListRecent returns up to limit finished sessions, newest first.
func (j *Journal) ListRecent(ctx context.Context, limit int) ([]SessionRecord, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id, started_at, ended_at, reason,
		        deltas_committed, tokens_committed,
		        injections_dropped, injection_failures
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var started string
		var ended, reason sql.NullString
		if err := rows.Scan(&rec.SessionID, &started, &ended, &reason,
			&rec.DeltasCommitted, &rec.TokensCommitted, &rec.Dropped, &rec.Failures); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
			rec.StartedAt = ts
		}
		if ended.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, ended.String); err == nil {
				rec.EndedAt = ts
			}
		}
		rec.Reason = reason.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune applies configured retention: rows older than retention_days and
// rows beyond max_sessions are dropped.
func (j *Journal) Prune(ctx context.Context) error {
	if j == nil {
		return nil
	}
	if j.cfg.RetentionDays > 0 {
		cutoff := j.clock().Add(-time.Duration(j.cfg.RetentionDays) * 24 * time.Hour)
		if _, err := j.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE started_at < ?`,
			cutoff.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	if j.cfg.MaxSessions > 0 {
		if _, err := j.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE session_id IN (
				SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
			)`, j.cfg.MaxSessions); err != nil {
			return err
		}
	}
	return nil
}
