package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Message is a frame handed to a transport. Either KeepAlive is set and the
// other fields are empty, or Name and Data describe a serialized event.
type Message struct {
	KeepAlive bool
	Name      Name
	Data      []byte
}

// Client is one subscribed connection. Transports read from Receive until it
// is closed, then drop the connection.
type Client struct {
	UserID string

	hub  *Hub
	send chan Message
	once sync.Once
}

// Receive returns the channel the hub delivers frames on. It is closed when
// the client is unregistered or the hub stops.
func (c *Client) Receive() <-chan Message {
	return c.send
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans events out to subscribed clients, scoped per user. Delivery is
// best effort: a client whose buffer is full misses the frame, and a broken
// client never blocks the rest.
type Hub struct {
	logger    *slog.Logger
	keepAlive time.Duration
	buffer    int

	mu      sync.RWMutex
	clients map[*Client]struct{}
	stopped bool

	done chan struct{}
	wg   sync.WaitGroup

	onEvent func(name string)
	onCount func(delta int)
}

// NewHub creates a hub and starts its keep-alive loop.
func NewHub(logger *slog.Logger, keepAlive time.Duration, buffer int) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	if buffer <= 0 {
		buffer = 32
	}
	h := &Hub{
		logger:    logger,
		keepAlive: keepAlive,
		buffer:    buffer,
		clients:   make(map[*Client]struct{}),
		done:      make(chan struct{}),
	}
	h.wg.Add(1)
	go h.keepAliveLoop()
	return h
}

// SetHooks installs optional observation callbacks invoked on every delivered
// event and on every client count change.
func (h *Hub) SetHooks(onEvent func(name string), onCount func(delta int)) {
	h.onEvent = onEvent
	h.onCount = onCount
}

// Register subscribes a new client for the given user.
func (h *Hub) Register(userID string) *Client {
	c := &Client{
		UserID: userID,
		hub:    h,
		send:   make(chan Message, h.buffer),
	}
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		c.close()
		return c
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	if h.onCount != nil {
		h.onCount(1)
	}
	h.logger.Debug("realtime client registered", "user_id", userID, "clients", n)
	return c
}

// Unregister removes a client and closes its channel. Safe to call more than
// once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	if h.onCount != nil {
		h.onCount(-1)
	}
	h.logger.Debug("realtime client unregistered", "user_id", c.UserID, "clients", n)
}

// BroadcastToUser delivers an event to every client of one user.
func (h *Hub) BroadcastToUser(userID string, ev Event) error {
	return h.broadcast(ev, func(c *Client) bool { return c.UserID == userID })
}

// BroadcastAll delivers an event to every connected client.
func (h *Hub) BroadcastAll(ev Event) error {
	return h.broadcast(ev, func(*Client) bool { return true })
}

func (h *Hub) broadcast(ev Event, match func(*Client) bool) error {
	if !validName(ev.Name) {
		return fmt.Errorf("unknown event name %q", ev.Name)
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Name, err)
	}
	msg := Message{Name: ev.Name, Data: data}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- msg:
			if h.onEvent != nil {
				h.onEvent(string(ev.Name))
			}
		default:
			h.logger.Warn("realtime client buffer full, dropping event",
				"user_id", c.UserID, "event", ev.Name)
		}
	}
	return nil
}

// ClientCount reports the number of subscribed clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts the hub down and closes every client channel.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()
	for _, c := range clients {
		c.close()
	}
	h.logger.Info("realtime hub stopped", "dropped_clients", len(clients))
}

func (h *Hub) keepAliveLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.RUnlock()
			for _, c := range targets {
				select {
				case c.send <- Message{KeepAlive: true}:
				default:
				}
			}
		}
	}
}
