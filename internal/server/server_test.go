package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/novi-app/attention/internal/attention"
	"github.com/novi-app/attention/internal/store"
	"github.com/sirupsen/logrus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memStore struct {
	mu   sync.Mutex
	rows map[string][]store.Participant
	err  error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string][]store.Participant)}
}

func (m *memStore) UpsertReport(_ context.Context, meetingID string, rec attention.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	p := store.Participant{
		MeetingID:           meetingID,
		ParticipantID:       rec.ParticipantID,
		Name:                rec.Name,
		Status:              rec.Status,
		TotalChecks:         rec.TotalChecks,
		DistractedChecks:    rec.DistractedChecks,
		PeakDistractionPct:  rec.PeakDistractionPct,
		PeakDistractionTime: rec.PeakDistractionTime,
		UpdatedAt:           time.Now(),
	}
	rows := m.rows[meetingID]
	for i := range rows {
		if rows[i].ParticipantID == rec.ParticipantID {
			rows[i] = p
			return nil
		}
	}
	m.rows[meetingID] = append(rows, p)
	return nil
}

func (m *memStore) DeleteParticipant(_ context.Context, meetingID, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	rows := m.rows[meetingID]
	for i := range rows {
		if rows[i].ParticipantID == participantID {
			m.rows[meetingID] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memStore) ListMeeting(_ context.Context, meetingID string) ([]store.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]store.Participant(nil), m.rows[meetingID]...), nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func record(id string, total, distracted int) attention.Record {
	return attention.Record{
		ParticipantID:      id,
		Name:               strings.ToUpper(id),
		Status:             "FOCUSED",
		TotalChecks:        total,
		DistractedChecks:   distracted,
		PeakDistractionPct: 50,
	}
}

func TestHealth(t *testing.T) {
	s := New(newMemStore(), quietLogger())
	w := do(t, s.Handler(), http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestUpsertAndGetMeeting(t *testing.T) {
	st := newMemStore()
	s := New(st, quietLogger())
	h := s.Handler()

	for _, rec := range []attention.Record{record("alice", 10, 2), record("bob", 10, 7), record("alice", 20, 4)} {
		if w := do(t, h, http.MethodPost, "/api/meeting/m1/distraction", rec); w.Code != http.StatusOK {
			t.Fatalf("POST %s: status = %d, body %s", rec.ParticipantID, w.Code, w.Body.String())
		}
	}

	w := do(t, h, http.MethodGet, "/api/meeting/m1/distraction", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	var view MeetingView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Participants) != 2 {
		t.Fatalf("Expected 2 participants (upsert replaces), got %d", len(view.Participants))
	}
	if view.Participants[0].TotalChecks != 20 {
		t.Errorf("alice TotalChecks = %d, want 20", view.Participants[0].TotalChecks)
	}
	// alice 20% distracted → 80, bob 70% → 30.
	if view.Summary.AverageFocusScore != 55 {
		t.Errorf("AverageFocusScore = %d, want 55", view.Summary.AverageFocusScore)
	}
	if view.Summary.MostDistracted != "bob" {
		t.Errorf("MostDistracted = %q, want bob", view.Summary.MostDistracted)
	}
	if view.Participants[1].Band != attention.BandLow {
		t.Errorf("bob band = %s, want %s", view.Participants[1].Band, attention.BandLow)
	}
}

func TestUpsert_Rejects(t *testing.T) {
	bad := record("alice", 1, 2)
	unknown := record("alice", 1, 0)
	unknown.Status = "SLEEPING"

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"participantId":`},
		{"missing participant", record("", 1, 0)},
		{"unknown status", unknown},
		{"distracted above total", bad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			s := New(st, quietLogger())
			w := do(t, s.Handler(), http.MethodPost, "/api/meeting/m1/distraction", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if len(st.rows["m1"]) != 0 {
				t.Error("rejected record was stored")
			}
		})
	}
}

func TestRemoveParticipant(t *testing.T) {
	st := newMemStore()
	s := New(st, quietLogger())
	h := s.Handler()

	do(t, h, http.MethodPost, "/api/meeting/m1/distraction", record("alice", 1, 0))

	if w := do(t, h, http.MethodDelete, "/api/meeting/m1/distraction", nil); w.Code != http.StatusBadRequest {
		t.Errorf("DELETE without participantId: status = %d, want 400", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api/meeting/m1/distraction?participantId=alice", nil); w.Code != http.StatusOK {
		t.Fatalf("DELETE: status = %d", w.Code)
	}
	if len(st.rows["m1"]) != 0 {
		t.Errorf("Expected alice removed, rows = %+v", st.rows["m1"])
	}
	// Removing again is not an error.
	if w := do(t, h, http.MethodDelete, "/api/meeting/m1/distraction?participantId=alice", nil); w.Code != http.StatusOK {
		t.Errorf("repeated DELETE: status = %d", w.Code)
	}
}

func TestStoreFailure(t *testing.T) {
	st := newMemStore()
	st.err = errors.New("connection refused")
	s := New(st, quietLogger())
	h := s.Handler()

	tests := []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/meeting/m1/distraction", record("alice", 1, 0)},
		{http.MethodDelete, "/api/meeting/m1/distraction?participantId=alice", nil},
		{http.MethodGet, "/api/meeting/m1/distraction", nil},
	}
	for _, tt := range tests {
		if w := do(t, h, tt.method, tt.path, tt.body); w.Code != http.StatusInternalServerError {
			t.Errorf("%s %s: status = %d, want 500", tt.method, tt.path, w.Code)
		}
	}
}

func TestSummarize(t *testing.T) {
	rows := []store.Participant{
		{ParticipantID: "new", Status: "NO FACE"},
		{ParticipantID: "a", Status: "FOCUSED", TotalChecks: 3, DistractedChecks: 1},
		{ParticipantID: "b", Status: "DISTRACTED", TotalChecks: 3, DistractedChecks: 1},
	}
	view := summarize("m", rows)
	if view.Summary.Participants != 3 {
		t.Errorf("Participants = %d, want 3", view.Summary.Participants)
	}
	// Participants without checks do not drag the average down.
	if view.Summary.AverageFocusScore != 67 {
		t.Errorf("AverageFocusScore = %d, want 67", view.Summary.AverageFocusScore)
	}
	if view.Summary.MostDistracted != "a" {
		t.Errorf("MostDistracted = %q, want a (first of a tie)", view.Summary.MostDistracted)
	}

	empty := summarize("m", nil)
	if empty.Summary.AverageFocusScore != 0 || empty.Summary.MostDistracted != "" || empty.Participants == nil {
		t.Errorf("unexpected empty summary: %+v", empty)
	}
}

func TestWatchMeeting(t *testing.T) {
	s := New(newMemStore(), quietLogger())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Hub().Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/meeting/m1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().Watchers("m1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	post := func(path string, body any) {
		data, _ := json.Marshal(body)
		resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
	}
	post("/api/meeting/other/distraction", record("zed", 1, 0))
	post("/api/meeting/m1/distraction", record("alice", 4, 1))

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/meeting/m1/distraction?participantId=alice", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != EventUpsert || ev.ParticipantID != "alice" || ev.Record == nil || ev.Record.TotalChecks != 4 {
		t.Errorf("unexpected first event: %+v", ev)
	}
	ev = Event{}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != EventRemove || ev.ParticipantID != "alice" || ev.Record != nil {
		t.Errorf("unexpected second event: %+v", ev)
	}
}

func TestHub_CloseDisconnects(t *testing.T) {
	s := New(newMemStore(), quietLogger())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/meeting/m1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().Watchers("m1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Hub().Close()
	if n := s.Hub().Watchers("m1"); n != 0 {
		t.Errorf("Watchers after Close = %d, want 0", n)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the connection to close")
	}
}
