package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roomchat/internal/chat"
	"github.com/roomchat/internal/logger"
)

// Client is one authenticated socket. The hub owns its subscriptions; the
// client owns the two pumps.
//
//	NewClient -> Hub.Register -> Start -> (readPump | writePump) -> Close -> Wait
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string

	// done is closed by Close; sendRaw selects on it.
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

var _ chat.Session = (*Client)(nil)

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.opts.SendBuffer),
		userID: userID,
		done:   make(chan struct{}),
	}
}

func (c *Client) UserID() string { return c.userID }

func (c *Client) Subscribe(topic string) { c.hub.subscribe(c, topic) }

// Unsubscribe takes effect before it returns.
func (c *Client) Unsubscribe(topic string) { c.hub.unsubscribe(c, topic) }

func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

func (c *Client) Wait() { c.wg.Wait() }

// Close is idempotent. Closing the socket unblocks a pending read or write.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) armReadDeadline() error {
	return c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
}

// readPump handles frames strictly one after another: events of one
// connection are processed in arrival order.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	if err := c.armReadDeadline(); err != nil {
		logger.Errorf("ws read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error { return c.armReadDeadline() })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read user=%s: %v", c.userID, err)
			}
			return
		}
		c.handleFrame(ctx, raw)
	}
}

func (c *Client) handleFrame(ctx context.Context, raw []byte) {
	var msg IncomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Debugf("ws bad frame user=%s: %v", c.userID, err)
		c.hub.sendTo(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "Malformed message"}})
		return
	}
	c.hub.HandleMessage(ctx, c, msg)
}

func (c *Client) write(kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

// writePump is the only writer of the socket. It pings slightly more often
// than the peer's pong deadline.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ping := time.NewTicker(c.hub.opts.PongWait * 9 / 10)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var err error
		select {
		case <-ctx.Done():
			if err := c.write(websocket.CloseMessage, nil); err != nil {
				logger.Debugf("ws close frame user=%s: %v", c.userID, err)
			}
			return
		case data := <-c.send:
			err = c.write(websocket.TextMessage, data)
		case <-ping.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			logger.Debugf("ws write user=%s: %v", c.userID, err)
			return
		}
	}
}
