// Package transcripts persists finished utterances to SQLite.
package transcripts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/config"
	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/protocol"
)

// Store wraps a SQLite-backed utterance log. In ephemeral retention mode the
// store is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.TranscriptsConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the transcript store according to config.
func Open(ctx context.Context, cfg config.TranscriptsConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
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

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("transcript store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("transcript store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS utterances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    trace_id TEXT,
    source TEXT,
    text TEXT NOT NULL,
    confidence REAL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_utterances_session_created ON utterances(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordUtterance appends a finished utterance.
func (s *Store) RecordUtterance(ctx context.Context, u protocol.Utterance) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(session_id, trace_id, source, text, confidence, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		u.SessionID, u.TraceID, u.Source, u.Text, u.Confidence, u.CreatedAt)
	return err
}

// ListSession retrieves up to limit utterances for a session, oldest first.
func (s *Store) ListSession(ctx context.Context, sessionID string, limit int) ([]protocol.Utterance, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, trace_id, source, text, confidence, created_at
		 FROM utterances WHERE session_id = ? ORDER BY created_at ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.Utterance
	for rows.Next() {
		var u protocol.Utterance
		var created string
		if err := rows.Scan(&u.SessionID, &u.TraceID, &u.Source, &u.Text, &u.Confidence, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			u.CreatedAt = ts
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Prune applies configured retention: drop utterances older than the
// retention window, then trim to the most recent max_sessions sessions.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM utterances WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM utterances WHERE session_id IN (
			SELECT session_id FROM (
				SELECT session_id, MAX(created_at) AS last_seen
				FROM utterances GROUP BY session_id
				ORDER BY last_seen DESC LIMIT -1 OFFSET ?
			)
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return nil
}
