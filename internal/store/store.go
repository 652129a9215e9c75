package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/novi-app/attention/internal/attention"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a participant row does not exist.
var ErrNotFound = errors.New("participant not found")

// Store manages the PostgreSQL pool backing the telemetry sink.
type Store struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

// Participant is the latest record a participant reported to a meeting.
type Participant struct {
	MeetingID           string
	ParticipantID       string
	Name                string
	Status              string
	TotalChecks         int
	DistractedChecks    int
	PeakDistractionPct  int
	PeakDistractionTime int64
	UpdatedAt           time.Time
}

// Record converts the row back to the wire record.
func (p Participant) Record() attention.Record {
	return attention.Record{
		ParticipantID:       p.ParticipantID,
		Name:                p.Name,
		Status:              p.Status,
		TotalChecks:         p.TotalChecks,
		DistractedChecks:    p.DistractedChecks,
		PeakDistractionPct:  p.PeakDistractionPct,
		PeakDistractionTime: p.PeakDistractionTime,
	}
}

// Meeting summarizes one meeting's rows.
type Meeting struct {
	ID           string
	Participants int
	LastUpdate   time.Time
}

// New connects to the database and applies pending migrations.
func New(ctx context.Context, connString string, log logrus.FieldLogger) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{pool: pool, log: log}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetLogger(s.log)
	return goose.UpContext(ctx, db, "migrations")
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// UpsertReport stores the participant's latest record, replacing any previous one.
func (s *Store) UpsertReport(ctx context.Context, meetingID string, rec attention.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO distraction_reports
			(meeting_id, participant_id, name, status, total_checks, distracted_checks,
			 peak_distraction_pct, peak_distraction_time, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (meeting_id, participant_id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			total_checks = EXCLUDED.total_checks,
			distracted_checks = EXCLUDED.distracted_checks,
			peak_distraction_pct = EXCLUDED.peak_distraction_pct,
			peak_distraction_time = EXCLUDED.peak_distraction_time,
			updated_at = NOW()
	`, meetingID, rec.ParticipantID, rec.Name, rec.Status, rec.TotalChecks, rec.DistractedChecks,
		rec.PeakDistractionPct, rec.PeakDistractionTime)
	return err
}

// DeleteParticipant removes a participant's row. Deleting a missing row is not an error.
func (s *Store) DeleteParticipant(ctx context.Context, meetingID, participantID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM distraction_reports WHERE meeting_id = $1 AND participant_id = $2", meetingID, participantID)
	return err
}

// ListMeeting returns the meeting's rows, most recently updated first.
func (s *Store) ListMeeting(ctx context.Context, meetingID string) ([]Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT meeting_id, participant_id, name, status, total_checks, distracted_checks,
		       peak_distraction_pct, peak_distraction_time, updated_at
		FROM distraction_reports
		WHERE meeting_id = $1
		ORDER BY updated_at DESC, participant_id
	`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.MeetingID, &p.ParticipantID, &p.Name, &p.Status, &p.TotalChecks,
			&p.DistractedChecks, &p.PeakDistractionPct, &p.PeakDistractionTime, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListMeetings returns one summary per meeting with at least one row.
func (s *Store) ListMeetings(ctx context.Context) ([]Meeting, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT meeting_id, COUNT(*), MAX(updated_at)
		FROM distraction_reports
		GROUP BY meeting_id
		ORDER BY MAX(updated_at) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Meeting
	for rows.Next() {
		var m Meeting
		if err := rows.Scan(&m.ID, &m.Participants, &m.LastUpdate); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RenameParticipant changes the display name stored for a participant.
func (s *Store) RenameParticipant(ctx context.Context, meetingID, participantID, name string) error {
	var updated string
	err := s.pool.QueryRow(ctx, `
		UPDATE distraction_reports SET name = $3
		WHERE meeting_id = $1 AND participant_id = $2
		RETURNING participant_id
	`, meetingID, participantID, name).Scan(&updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Reset rolls every migration back, dropping all application tables.
func (s *Store) Reset(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.DownToContext(ctx, db, "migrations", 0)
}
