package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/novi-app/attention/internal/attention"
	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// testcontainers panics when the Docker socket is missing
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("attention_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	s, err := New(ctx, connStr, log)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close()

	// --- Test Scenarios ---

	rec := attention.Record{
		ParticipantID:       "p-1",
		Name:                "Ada",
		Status:              "FOCUSED",
		TotalChecks:         4,
		DistractedChecks:    2,
		PeakDistractionPct:  67,
		PeakDistractionTime: 1714557600123,
	}
	if err := s.UpsertReport(ctx, "m-1", rec); err != nil {
		t.Fatalf("UpsertReport failed: %v", err)
	}

	// Second upsert replaces the row instead of adding one
	rec.TotalChecks = 5
	rec.Status = "NO FACE"
	if err := s.UpsertReport(ctx, "m-1", rec); err != nil {
		t.Fatalf("UpsertReport (update) failed: %v", err)
	}
	if err := s.UpsertReport(ctx, "m-1", attention.Record{ParticipantID: "p-2", Name: "Bo", Status: "DISTRACTED", TotalChecks: 1, DistractedChecks: 1, PeakDistractionPct: 100}); err != nil {
		t.Fatalf("UpsertReport (p-2) failed: %v", err)
	}
	if err := s.UpsertReport(ctx, "m-2", rec); err != nil {
		t.Fatalf("UpsertReport (m-2) failed: %v", err)
	}

	rows, err := s.ListMeeting(ctx, "m-1")
	if err != nil {
		t.Fatalf("ListMeeting failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 participants, got %d", len(rows))
	}
	var p1 Participant
	for _, r := range rows {
		if r.ParticipantID == "p-1" {
			p1 = r
		}
	}
	if p1.TotalChecks != 5 || p1.Status != "NO FACE" || p1.PeakDistractionTime != 1714557600123 {
		t.Errorf("Unexpected row for p-1: %+v", p1)
	}
	if p1.Record() != rec {
		t.Errorf("Row does not convert back to the stored record: %+v", p1.Record())
	}

	// Rows that break the counter invariants are rejected by the schema
	bad := attention.Record{ParticipantID: "p-3", Status: "FOCUSED", TotalChecks: 1, DistractedChecks: 2}
	if err := s.UpsertReport(ctx, "m-1", bad); err == nil {
		t.Error("Expected a check constraint violation")
	}

	if err := s.RenameParticipant(ctx, "m-1", "p-2", "Bob"); err != nil {
		t.Fatalf("RenameParticipant failed: %v", err)
	}
	if err := s.RenameParticipant(ctx, "m-1", "ghost", "X"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	meetings, err := s.ListMeetings(ctx)
	if err != nil {
		t.Fatalf("ListMeetings failed: %v", err)
	}
	if len(meetings) != 2 {
		t.Errorf("Expected 2 meetings, got %d", len(meetings))
	}

	if err := s.DeleteParticipant(ctx, "m-1", "p-1"); err != nil {
		t.Fatalf("DeleteParticipant failed: %v", err)
	}
	if err := s.DeleteParticipant(ctx, "m-1", "p-1"); err != nil {
		t.Errorf("Deleting a missing row should succeed, got %v", err)
	}
	rows, _ = s.ListMeeting(ctx, "m-1")
	if len(rows) != 1 || rows[0].Name != "Bob" {
		t.Errorf("Expected only the renamed p-2 to remain, got %+v", rows)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListMeeting(ctx, "m-1"); err == nil {
		t.Error("Expected the table to be gone after Reset")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
