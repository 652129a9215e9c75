package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/novi-app/attention/internal/attention"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Event types pushed to meeting watchers.
const (
	EventUpsert = "UPSERT"
	EventRemove = "REMOVE"
)

// Event is one change to a meeting's participant rows.
type Event struct {
	Type          string            `json:"type"`
	MeetingID     string            `json:"meetingId"`
	ParticipantID string            `json:"participantId"`
	Record        *attention.Record `json:"record,omitempty"`
	Timestamp     int64             `json:"timestamp"`
}

type client struct {
	conn    *websocket.Conn
	meeting string
	send    chan Event
}

// Hub fans meeting events out to websocket watchers grouped by meeting.
type Hub struct {
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	rooms  map[string]map[*client]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]map[*client]struct{}),
	}
}

// Watchers returns the number of connections watching the meeting.
func (h *Hub) Watchers(meetingID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[meetingID])
}

// Broadcast queues ev for every watcher of its meeting. A watcher whose buffer is full is
// disconnected rather than slowing the others down.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[ev.MeetingID] {
		select {
		case c.send <- ev:
		default:
			h.log.WithField("meeting", ev.MeetingID).Warn("Websocket watcher too slow, disconnecting")
			h.removeLocked(c)
		}
	}
}

// Serve upgrades the request and streams the meeting's events until the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, meetingID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &client{conn: conn, meeting: meetingID, send: make(chan Event, sendBuffer)}
	if !h.add(c) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		conn.Close()
		return
	}
	h.log.WithField("meeting", meetingID).Debug("Websocket watcher connected")

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every watcher and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, room := range h.rooms {
		for c := range room {
			h.removeLocked(c)
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	room, ok := h.rooms[c.meeting]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[c.meeting] = room
	}
	room[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked closes the client's send channel exactly once; only the hub closes it.
func (h *Hub) removeLocked(c *client) {
	room := h.rooms[c.meeting]
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.meeting)
	}
	close(c.send)
}

// readPump only services control frames; watchers never send data.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		h.log.WithField("meeting", c.meeting).Debug("Websocket watcher disconnected")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).WithField("meeting", c.meeting).Warn("Websocket read failed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
