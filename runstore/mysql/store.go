// Package mysql persists run records in MySQL.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hupe1980/agentrelay/core"
)

const schema = `CREATE TABLE IF NOT EXISTS relay_runs (
        id VARCHAR(64) PRIMARY KEY,
        session_id VARCHAR(255) NOT NULL DEFAULT '',
        trigger_type VARCHAR(16) NOT NULL,
        event MEDIUMTEXT,
        transcript MEDIUMTEXT NOT NULL,
        reply TEXT,
        hops INT NOT NULL DEFAULT 0,
        loop_detected BOOLEAN NOT NULL DEFAULT FALSE,
        status VARCHAR(16) NOT NULL,
        error TEXT,
        started_at BIGINT NOT NULL,
        finished_at BIGINT NOT NULL,
        INDEX idx_runs_session (session_id, started_at)
)`

// Store implements core.RunStore on MySQL.
type Store struct {
	db *sql.DB
}

// New opens a connection pool for dsn, verifies it and creates the schema.
func New(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql dsn must not be empty")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach mysql: %w", err)
	}

	store := NewFromDB(db)
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewFromDB wraps an existing pool. The schema is assumed to exist.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create relay_runs table: %w", err)
	}
	return nil
}

// Save upserts rec.
func (s *Store) Save(ctx context.Context, rec core.RunRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO relay_runs
        (id, session_id, trigger_type, event, transcript, reply, hops, loop_detected, status, error, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        session_id = VALUES(session_id), trigger_type = VALUES(trigger_type), event = VALUES(event),
        transcript = VALUES(transcript), reply = VALUES(reply), hops = VALUES(hops),
        loop_detected = VALUES(loop_detected), status = VALUES(status), error = VALUES(error),
        started_at = VALUES(started_at), finished_at = VALUES(finished_at)`

	_, err = s.db.ExecContext(ctx, stmt,
		row.id, row.sessionID, row.trigger, row.event, row.transcript, row.reply,
		row.hops, row.loopDetected, row.status, row.err, row.started, row.finished,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, session_id, trigger_type, event, transcript, reply, hops, loop_detected, status, error, started_at, finished_at FROM relay_runs`

// Get loads a record or returns core.ErrRunNotFound.
func (s *Store) Get(ctx context.Context, id string) (core.RunRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.RunRecord{}, core.ErrRunNotFound
		}
		return core.RunRecord{}, fmt.Errorf("failed to get run: %w", err)
	}
	return rec, nil
}

// ListBySession returns the newest records of a session.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]core.RunRecord, error) {
	query := selectColumns + ` WHERE session_id = ? ORDER BY started_at DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list session runs: %w", err)
	}
	defer rows.Close()

	out := []core.RunRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type row struct {
	id, sessionID, trigger, status string
	event, reply, err              sql.NullString
	transcript                     string
	hops                           int
	loopDetected                   bool
	started, finished              int64
}

func toRow(rec core.RunRecord) (row, error) {
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return row{}, fmt.Errorf("failed to encode transcript: %w", err)
	}
	r := row{
		id:           rec.ID,
		sessionID:    rec.SessionID,
		trigger:      string(rec.Trigger),
		status:       string(rec.Status),
		transcript:   string(transcript),
		hops:         rec.Hops,
		loopDetected: rec.LoopDetected,
		started:      rec.Started.UnixMilli(),
		finished:     rec.Finished.UnixMilli(),
	}
	if len(rec.Event) > 0 {
		r.event = sql.NullString{String: string(rec.Event), Valid: true}
	}
	if rec.Reply != nil {
		reply, err := json.Marshal(rec.Reply)
		if err != nil {
			return row{}, fmt.Errorf("failed to encode reply: %w", err)
		}
		r.reply = sql.NullString{String: string(reply), Valid: true}
	}
	if rec.Error != "" {
		r.err = sql.NullString{String: rec.Error, Valid: true}
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (core.RunRecord, error) {
	var r row
	if err := sc.Scan(
		&r.id, &r.sessionID, &r.trigger, &r.event, &r.transcript, &r.reply,
		&r.hops, &r.loopDetected, &r.status, &r.err, &r.started, &r.finished,
	); err != nil {
		return core.RunRecord{}, err
	}
	return fromRow(r)
}

func fromRow(r row) (core.RunRecord, error) {
	rec := core.RunRecord{
		ID:           r.id,
		SessionID:    r.sessionID,
		Trigger:      core.TriggerType(r.trigger),
		Hops:         r.hops,
		LoopDetected: r.loopDetected,
		Status:       core.RunStatus(r.status),
		Error:        r.err.String,
		Started:      time.UnixMilli(r.started).UTC(),
		Finished:     time.UnixMilli(r.finished).UTC(),
	}
	if err := json.Unmarshal([]byte(r.transcript), &rec.Transcript); err != nil {
		return core.RunRecord{}, fmt.Errorf("failed to decode transcript: %w", err)
	}
	if r.event.Valid {
		rec.Event = json.RawMessage(r.event.String)
	}
	if r.reply.Valid {
		var reply core.Turn
		if err := json.Unmarshal([]byte(r.reply.String), &reply); err != nil {
			return core.RunRecord{}, fmt.Errorf("failed to decode reply: %w", err)
		}
		rec.Reply = &reply
	}
	return rec, nil
}
