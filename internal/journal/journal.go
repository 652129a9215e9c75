// Package journal keeps a local SQLite history of emitted reports so a participant's
// counters can be resumed after a restart.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/novi-app/attention/internal/attention"
	"github.com/novi-app/attention/internal/types"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id            TEXT    NOT NULL,
	participant_id        TEXT    NOT NULL,
	name                  TEXT    NOT NULL,
	status                TEXT    NOT NULL,
	total_checks          INTEGER NOT NULL,
	distracted_checks     INTEGER NOT NULL,
	peak_distraction_pct  INTEGER NOT NULL,
	peak_distraction_time INTEGER NOT NULL,
	emitted_at            TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_participant_idx ON reports (participant_id, id);
`

// Entry is one journaled report.
type Entry struct {
	ID        int64
	SessionID string
	Report    attention.Report
}

// Session summarizes the reports of one tracking session.
type Session struct {
	ID        string
	Reports   int
	StartedAt time.Time
	EndedAt   time.Time
	Final     attention.AggregateStats
}

// Journal is a SQLite-backed report history.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path. Use ":memory:" for a throwaway journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records an emitted report.
func (j *Journal) Append(ctx context.Context, r attention.Report) error {
	rec := r.Record()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO reports (session_id, participant_id, name, status, total_checks, distracted_checks,
			peak_distraction_pct, peak_distraction_time, emitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, rec.ParticipantID, rec.Name, rec.Status, rec.TotalChecks, rec.DistractedChecks,
		rec.PeakDistractionPct, rec.PeakDistractionTime, r.EmittedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

const selectColumns = `id, session_id, participant_id, name, status, total_checks, distracted_checks,
	peak_distraction_pct, peak_distraction_time, emitted_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e         Entry
		rec       attention.Record
		emittedAt string
	)
	if err := row.Scan(&e.ID, &e.SessionID, &rec.ParticipantID, &rec.Name, &rec.Status, &rec.TotalChecks,
		&rec.DistractedChecks, &rec.PeakDistractionPct, &rec.PeakDistractionTime, &emittedAt); err != nil {
		return Entry{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, emittedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %d: bad timestamp %q: %w", e.ID, emittedAt, err)
	}
	e.Report = attention.Report{
		SessionID:   e.SessionID,
		SubjectID:   rec.ParticipantID,
		DisplayName: rec.Name,
		Status:      types.FrameStatus(rec.Status),
		Stats:       rec.Stats(),
		EmittedAt:   ts,
	}
	return e, nil
}

// Latest returns the participant's most recent report, or nil when there is none.
func (j *Journal) Latest(ctx context.Context, participantID string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM reports WHERE participant_id = ? ORDER BY id DESC LIMIT 1`, participantID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns up to limit of the participant's reports, newest first. limit <= 0 returns all.
func (j *Journal) List(ctx context.Context, participantID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM reports WHERE participant_id = ? ORDER BY id DESC LIMIT ?`, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sessions summarizes the participant's sessions, oldest first.
func (j *Journal) Sessions(ctx context.Context, participantID string) ([]Session, error) {
	entries, err := j.List(ctx, participantID, 0)
	if err != nil {
		return nil, err
	}

	var (
		out   []Session
		index = map[string]int{}
	)
	// entries are newest first; walk backwards so sessions come out in order.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		idx, ok := index[e.SessionID]
		if !ok {
			idx = len(out)
			index[e.SessionID] = idx
			out = append(out, Session{ID: e.SessionID, StartedAt: e.Report.EmittedAt})
		}
		s := &out[idx]
		s.Reports++
		s.EndedAt = e.Report.EmittedAt
		s.Final = e.Report.Stats
	}
	return out, nil
}
