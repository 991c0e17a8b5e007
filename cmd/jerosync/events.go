package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	apperrors "jerosync/internal/errors"
	"jerosync/internal/metrics"
	"jerosync/internal/models"
	"jerosync/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

const (
	EventConversation = "conversation"
	EventSendFailed   = "send_failed"
	EventPresence     = "presence"
	EventConnection   = "connection"
	EventExpired      = "identity_expired"

	eventBufferSize   = 64
	eventWriteTimeout = 5 * time.Second
)

// Event is one message on the event stream
type Event struct {
	Type string      `json:"type"`
	Peer string      `json:"peer,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

type eventClient struct {
	conn *websocket.Conn
	send chan Event
}

// EventHub fans session events out to connected websocket clients. A client
// that cannot keep up is disconnected rather than slowing the others.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*eventClient]struct{}
	logger  *logrus.Logger
}

func NewEventHub(logger *logrus.Logger) *EventHub {
	return &EventHub{
		clients: make(map[*eventClient]struct{}),
		logger:  logger,
	}
}

func (h *EventHub) register(c *eventClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.SetGauge("event_clients", float64(count), nil, "Connected event stream clients")
}

func (h *EventHub) unregister(c *eventClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.SetGauge("event_clients", float64(count), nil, "Connected event stream clients")
}

// Broadcast queues ev for every client without blocking
func (h *EventHub) Broadcast(ev Event) {
	var slow []*eventClient

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	metrics.IncrementCounter("events_broadcast_total", map[string]string{"type": ev.Type}, "Events pushed to the stream")

	for _, c := range slow {
		h.logger.WithField(service.LogFieldEvent, ev.Type).Warn("Event client too slow, disconnecting")
		h.unregister(c)
		_ = c.conn.Close(websocket.StatusPolicyViolation, "too slow")
	}
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client
func (h *EventHub) CloseAll() {
	h.mu.Lock()
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
		_ = c.conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Server read and write timeouts must not cut a long-lived stream
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to accept event stream")
		return
	}

	client := &eventClient{conn: conn, send: make(chan Event, eventBufferSize)}
	h.register(client)
	defer h.unregister(client)

	// Clients never send; CloseRead handles control frames and cancels ctx on close
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.send:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				h.logger.WithError(err).Debug("Event stream write failed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

type conversationPayload struct {
	State    models.LoadState        `json:"state"`
	Error    string                  `json:"error,omitempty"`
	Messages []models.DisplayMessage `json:"messages"`
}

type sendFailedPayload struct {
	TempID string                      `json:"temp_id"`
	Error  apperrors.HTTPErrorResponse `json:"error"`
}

type connectionPayload struct {
	Connected bool `json:"connected"`
}

type presencePayload struct {
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	Text     string     `json:"text"`
}

func newConversationPayload(view models.ConversationView) conversationPayload {
	p := conversationPayload{State: view.State, Messages: view.Messages}
	if view.Error != nil {
		p.Error = apperrors.GetUserMessage(view.Error)
	}
	if p.Messages == nil {
		p.Messages = []models.DisplayMessage{}
	}
	return p
}

func newPresencePayload(rec models.PresenceRecord, now time.Time) presencePayload {
	return presencePayload{
		IsOnline: rec.IsOnline,
		LastSeen: rec.LastSeen,
		Text:     service.PresenceText(rec, true, now),
	}
}

// wireEvents forwards session callbacks to the hub
func wireEvents(session *service.Session, hub *EventHub) {
	session.Conversations().SetCallbacks(
		func(view models.ConversationView) {
			hub.Broadcast(Event{Type: EventConversation, Peer: view.PeerID, Data: newConversationPayload(view)})
		},
		func(peerID, tempID string, err error) {
			hub.Broadcast(Event{Type: EventSendFailed, Peer: peerID, Data: sendFailedPayload{
				TempID: tempID,
				Error:  apperrors.ToHTTPResponse(err, ""),
			}})
		},
	)

	session.Presence().OnUpdate(func(changed map[string]models.PresenceRecord) {
		now := time.Now()
		for peer, rec := range changed {
			hub.Broadcast(Event{Type: EventPresence, Peer: peer, Data: newPresencePayload(rec, now)})
		}
	})

	session.OnConnectionChange(func(connected bool) {
		hub.Broadcast(Event{Type: EventConnection, Data: connectionPayload{Connected: connected}})
	})

	session.OnExpired(func() {
		hub.Broadcast(Event{Type: EventExpired})
	})
}
