package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/roomchat/internal/chat"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/storage"
)

var ErrTooManyConnections = errors.New("ws connection limit reached")

// bufPool pools bytes.Buffer for JSON encoding of outbound frames.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

type Options struct {
	MaxConns       int
	SendBuffer     int
	MaxMessageSize int64
	PongWait       time.Duration
	WriteWait      time.Duration
	HandlerTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConns <= 0 {
		o.MaxConns = 10000
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 16 * 1024
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = 5 * time.Second
	}
	return o
}

// Services are the engine entry points the dispatcher routes to.
type Services struct {
	Rooms    *chat.RoomService
	Messages *chat.MessageService
	Presence *chat.PresenceService
}

// Hub keeps this instance's connections and their topic subscriptions.
// Events published through it travel over the broker, so sessions on
// other instances subscribed to the same topic receive them too.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}
	subs    map[*Client]map[string]struct{}
	closed  bool

	opts     Options
	broker   storage.Broker
	svc      Services
	handlers map[EventType]handlerFunc
	done     chan struct{}
}

var _ chat.Publisher = (*Hub)(nil)

func NewHub(broker storage.Broker, opts Options) *Hub {
	return &Hub{
		clients:  make(map[*Client]struct{}),
		topics:   make(map[string]map[*Client]struct{}),
		subs:     make(map[*Client]map[string]struct{}),
		opts:     opts.withDefaults(),
		broker:   broker,
		handlers: make(map[EventType]handlerFunc),
		done:     make(chan struct{}),
	}
}

// Mount binds the engine services and registers the event handlers.
// The services take the hub as their Publisher, so this runs after NewHub.
func (h *Hub) Mount(svc Services) {
	h.svc = svc
	h.routes()
}

// Start subscribes the hub to the broker and returns once deliveries are
// flowing. When ctx is done every connection is closed.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.broker.Subscribe(ctx, h.deliver); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		h.shutdown()
		close(h.done)
	}()
	return nil
}

// Done is closed after shutdown finished.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.topics = make(map[string]map[*Client]struct{})
	h.subs = make(map[*Client]map[string]struct{})
	h.closed = true
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

// Register admits the connection or rejects it when the hub is at capacity.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= h.opts.MaxConns {
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.opts.MaxConns, c.userID)
		return ErrTooManyConnections
	}
	h.clients[c] = struct{}{}
	return nil
}

// Unregister drops every subscription of the connection. When it was the
// last presence-joined session of its profile on this instance, the profile
// goes offline.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	var lastPresence bool
	for topic := range h.subs[c] {
		members := h.topics[topic]
		delete(members, c)
		if len(members) == 0 {
			delete(h.topics, topic)
			if strings.HasPrefix(topic, chat.ProfileTopic("")) {
				lastPresence = true
			}
		}
	}
	delete(h.subs, c)
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastPresence && h.svc.Presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.HandlerTimeout)
		defer cancel()
		if err := h.svc.Presence.Leave(ctx, c); err != nil {
			logger.Errorf("ws presence leave on disconnect user=%s: %v", c.userID, err)
		}
	}
}

func (h *Hub) subscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]struct{})
	}
	h.topics[topic][c] = struct{}{}
	if h.subs[c] == nil {
		h.subs[c] = make(map[string]struct{})
	}
	h.subs[c][topic] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.topics[topic]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(h.subs[c], topic)
}

// Subscribers reports how many local connections listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish implements chat.Publisher.
func (h *Hub) Publish(ctx context.Context, topic, event string, payload any) error {
	data, err := encode(OutgoingMessage{Type: EventType(event), Payload: payload})
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, topic, data)
}

// deliver fans a broker frame out to the local subscribers of topic.
func (h *Hub) deliver(topic string, data []byte) {
	h.mu.RLock()
	members := h.topics[topic]
	targets := make([]*Client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendRaw(c, data)
	}
}

// sendTo writes a frame to one connection only.
func (h *Hub) sendTo(c *Client, msg OutgoingMessage) {
	data, err := encode(msg)
	if err != nil {
		logger.Errorf("ws marshal error user=%s: %v", c.userID, err)
		return
	}
	h.sendRaw(c, data)
}

func (h *Hub) sendRaw(c *Client, data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func encode(msg OutgoingMessage) ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()
	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		return nil, err
	}
	// json.Encoder appends '\n'; trim it for WebSocket text messages.
	return bytes.Clone(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})), nil
}
