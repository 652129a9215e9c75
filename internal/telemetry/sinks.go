package telemetry

import (
	"context"

	"github.com/novi-app/attention/internal/attention"
)

// RecordStore is the subset of the Postgres store used as a direct sink.
type RecordStore interface {
	UpsertReport(ctx context.Context, meetingID string, rec attention.Record) error
	DeleteParticipant(ctx context.Context, meetingID, participantID string) error
}

// StoreTransport writes records straight to the sink database, bypassing HTTP.
type StoreTransport struct {
	store     RecordStore
	meetingID string
}

func NewStoreTransport(s RecordStore, meetingID string) *StoreTransport {
	return &StoreTransport{store: s, meetingID: meetingID}
}

func (s *StoreTransport) Name() string { return "postgres" }

func (s *StoreTransport) Publish(ctx context.Context, r attention.Report) error {
	return s.store.UpsertReport(ctx, s.meetingID, r.Record())
}

func (s *StoreTransport) Remove(ctx context.Context, participantID string) error {
	return s.store.DeleteParticipant(ctx, s.meetingID, participantID)
}

// Appender persists full reports locally.
type Appender interface {
	Append(ctx context.Context, r attention.Report) error
}

// JournalTransport keeps every emitted report. Removal is a no-op; the journal is history.
type JournalTransport struct {
	journal Appender
}

func NewJournalTransport(j Appender) *JournalTransport {
	return &JournalTransport{journal: j}
}

func (j *JournalTransport) Name() string { return "journal" }

func (j *JournalTransport) Publish(ctx context.Context, r attention.Report) error {
	return j.journal.Append(ctx, r)
}

func (j *JournalTransport) Remove(ctx context.Context, participantID string) error { return nil }

// Finalize journals the closing snapshot so a resumed session starts from the last counted check.
func (j *JournalTransport) Finalize(ctx context.Context, r attention.Report) error {
	return j.journal.Append(ctx, r)
}
