// Package notify fans relay events out to dashboard websocket sessions.
// Sessions subscribe to rooms; an event without a room reaches everyone.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Relay events.
const (
	EventNewMessage       = "new_message"
	EventAdminMessageSent = "admin_message_sent"
	EventNewUserJoined    = "new_user_joined"
	eventJoined           = "joined"
	eventLeft             = "left"
)

const deliverBuffer = 256

// Room returns the room key of a user's conversation.
func Room(userID int64) string {
	return "chat_" + strconv.FormatInt(userID, 10)
}

// Envelope is the wire form of an event, both on websockets and on Redis.
type Envelope struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes payload into an Envelope.
func NewEnvelope(event string, payload any, room string) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Room: room, Data: data}, nil
}

type subscription struct {
	client *Client
	room   string
	join   bool
}

// Hub tracks websocket sessions and their rooms. All bookkeeping happens on
// the Run goroutine.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	deliver    chan Envelope
	done       chan struct{}

	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	count   atomic.Int64

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithCheckOrigin sets the websocket origin check.
func WithCheckOrigin(check func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = check
	}
}

// AllowOrigins returns an origin check accepting the listed origins. "*"
// accepts any origin; requests without an Origin header are always accepted.
func AllowOrigins(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	_, wildcard := allowed["*"]
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// NewHub creates a Hub. Call Run to start it.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		deliver:    make(chan Envelope, deliverBuffer),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With("component", "notify_hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Clients returns the number of connected sessions.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Publish delivers an event to local sessions. It never blocks; events are
// dropped when the hub is saturated or stopped.
func (h *Hub) Publish(ctx context.Context, event string, payload any, room string) {
	env, err := NewEnvelope(event, payload, room)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode event", "event", event, "error", err)
		return
	}
	h.Deliver(env)
}

// Deliver queues an already encoded event.
func (h *Hub) Deliver(env Envelope) {
	select {
	case <-h.done:
	case h.deliver <- env:
	default:
		h.logger.Warn("Dropping event, hub queue is full", "event", env.Event, "room", env.Room)
	}
}

// Run processes registrations and deliveries until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("Notification hub started")
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.drop(c)
		}
		h.logger.Info("Notification hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			h.logger.Debug("Session connected", "client_id", c.id)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("Session disconnected", "client_id", c.id)
			}

		case sub := <-h.subscribe:
			h.applySubscription(sub)

		case env := <-h.deliver:
			h.fanout(env)
		}
	}
}

func (h *Hub) applySubscription(sub subscription) {
	if _, ok := h.clients[sub.client]; !ok || sub.room == "" {
		return
	}

	ack := Envelope{Event: eventLeft, Room: sub.room}
	if sub.join {
		members, ok := h.rooms[sub.room]
		if !ok {
			members = make(map[*Client]struct{})
			h.rooms[sub.room] = members
		}
		members[sub.client] = struct{}{}
		sub.client.rooms[sub.room] = struct{}{}
		ack.Event = eventJoined
	} else {
		h.leave(sub.client, sub.room)
	}
	h.send(sub.client, ack)
}

func (h *Hub) fanout(env Envelope) {
	if env.Room == "" {
		for c := range h.clients {
			h.send(c, env)
		}
		return
	}
	for c := range h.rooms[env.Room] {
		h.send(c, env)
	}
}

// send queues env for c, dropping c when its buffer is full.
func (h *Hub) send(c *Client, env Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to encode envelope", "event", env.Event, "error", err)
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("Dropping slow session", "client_id", c.id)
		h.drop(c)
	}
}

func (h *Hub) leave(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for room := range c.rooms {
		h.leave(c, room)
	}
	delete(h.clients, c)
	h.count.Add(-1)
	close(c.send)
}

// ServeHTTP upgrades the request to a websocket session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		id:    uuid.NewString(),
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, clientBuffer),
		rooms: make(map[string]struct{}),
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
