// Package server is the telemetry sink: it keeps each meeting's latest participant records and
// pushes changes to websocket watchers.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/novi-app/attention/internal/attention"
	"github.com/novi-app/attention/internal/store"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the sink needs.
type Store interface {
	UpsertReport(ctx context.Context, meetingID string, rec attention.Record) error
	DeleteParticipant(ctx context.Context, meetingID, participantID string) error
	ListMeeting(ctx context.Context, meetingID string) ([]store.Participant, error)
}

// Server serves the sink API.
type Server struct {
	store  Store
	hub    *Hub
	log    logrus.FieldLogger
	router *gin.Engine
	now    func() time.Time
}

// New builds the router. Call gin.SetMode before New to silence debug output.
func New(st Store, log logrus.FieldLogger) *Server {
	s := &Server{
		store: st,
		hub:   NewHub(log),
		log:   log,
		now:   time.Now,
	}

	router := gin.New()
	router.Use(requestLogger(log))
	router.Use(gin.Recovery())
	s.RegisterRoutes(router)
	s.router = router
	return s
}

// RegisterRoutes mounts the API on router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/health", s.Health)
		api.POST("/meeting/:meetingId/distraction", s.UpsertDistraction)
		api.DELETE("/meeting/:meetingId/distraction", s.RemoveParticipant)
		api.GET("/meeting/:meetingId/distraction", s.GetMeeting)
	}
	router.GET("/ws/meeting/:meetingId", s.Watch)
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Hub exposes the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Run listens on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("Telemetry sink listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Health reports liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": s.now().UTC().Format(time.RFC3339)})
}

// UpsertDistraction stores the participant's latest record and notifies watchers.
func (s *Server) UpsertDistraction(c *gin.Context) {
	meetingID := c.Param("meetingId")

	var rec attention.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if err := rec.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.UpsertReport(c.Request.Context(), meetingID, rec); err != nil {
		s.log.WithError(err).WithField("meeting", meetingID).Error("Failed to store record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store record"})
		return
	}

	s.hub.Broadcast(Event{
		Type:          EventUpsert,
		MeetingID:     meetingID,
		ParticipantID: rec.ParticipantID,
		Record:        &rec,
		Timestamp:     s.now().UnixMilli(),
	})
	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}

// RemoveParticipant deletes a participant's row and notifies watchers.
func (s *Server) RemoveParticipant(c *gin.Context) {
	meetingID := c.Param("meetingId")
	participantID := c.Query("participantId")
	if participantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participantId is required"})
		return
	}

	if err := s.store.DeleteParticipant(c.Request.Context(), meetingID, participantID); err != nil {
		s.log.WithError(err).WithField("meeting", meetingID).Error("Failed to remove participant")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove participant"})
		return
	}

	s.hub.Broadcast(Event{
		Type:          EventRemove,
		MeetingID:     meetingID,
		ParticipantID: participantID,
		Timestamp:     s.now().UnixMilli(),
	})
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// ParticipantView is a stored record plus its derived focus values.
type ParticipantView struct {
	attention.Record
	DistractedPct int                 `json:"distractedPct"`
	FocusScore    int                 `json:"focusScore"`
	Band          attention.FocusBand `json:"band"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// Summary aggregates a meeting's participants.
type Summary struct {
	Participants      int    `json:"participants"`
	AverageFocusScore int    `json:"averageFocusScore"`
	MostDistracted    string `json:"mostDistracted,omitempty"`
}

// MeetingView is the GET response body.
type MeetingView struct {
	MeetingID    string            `json:"meetingId"`
	Participants []ParticipantView `json:"participants"`
	Summary      Summary           `json:"summary"`
}

// GetMeeting lists the meeting's participants with a summary.
func (s *Server) GetMeeting(c *gin.Context) {
	meetingID := c.Param("meetingId")
	rows, err := s.store.ListMeeting(c.Request.Context(), meetingID)
	if err != nil {
		s.log.WithError(err).WithField("meeting", meetingID).Error("Failed to list meeting")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list meeting"})
		return
	}
	c.JSON(http.StatusOK, summarize(meetingID, rows))
}

// Watch streams the meeting's events over a websocket.
func (s *Server) Watch(c *gin.Context) {
	s.hub.Serve(c.Writer, c.Request, c.Param("meetingId"))
}

// summarize averages focus scores over participants that have at least one check. The most
// distracted participant has the highest current distraction percentage; ties keep row order.
func summarize(meetingID string, rows []store.Participant) MeetingView {
	view := MeetingView{MeetingID: meetingID, Participants: make([]ParticipantView, 0, len(rows))}

	var scored, scoreSum, worst int
	worst = -1
	for _, p := range rows {
		rec := p.Record()
		stats := rec.Stats()
		view.Participants = append(view.Participants, ParticipantView{
			Record:        rec,
			DistractedPct: stats.CurrentDistractedPct,
			FocusScore:    stats.FocusScore(),
			Band:          stats.Band(),
			UpdatedAt:     p.UpdatedAt,
		})
		if stats.TotalChecks == 0 {
			continue
		}
		scored++
		scoreSum += stats.FocusScore()
		if stats.CurrentDistractedPct > worst {
			worst = stats.CurrentDistractedPct
			view.Summary.MostDistracted = rec.ParticipantID
		}
	}

	view.Summary.Participants = len(rows)
	if scored > 0 {
		view.Summary.AverageFocusScore = (scoreSum + scored/2) / scored
	}
	return view
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("HTTP request")
	}
}
