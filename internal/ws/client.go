package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound message size; subscribers are not expected to send data.
	maxMessageSize = 512
	// Outbound buffer per subscriber.
	sendBuffer = 32
)

// ErrSlowConsumer is returned by Deliver when a subscriber's send buffer is
// full or its connection already closed.
var ErrSlowConsumer = errors.New("subscriber send buffer full or closed")

// Client is a registry Handle backed by a websocket connection. Writes go
// through a buffered channel consumed by WritePump so Deliver never blocks on
// the network.
type Client struct {
	userID   int64
	conn     *websocket.Conn
	send     chan []byte
	registry *Registry
	log      *logrus.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient wraps an upgraded websocket connection for a user's subscription.
func NewClient(registry *Registry, conn *websocket.Conn, userID int64, log *logrus.Logger) *Client {
	return &Client{
		userID:   userID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		registry: registry,
		log:      log,
		closed:   make(chan struct{}),
	}
}

// Deliver queues a payload for the write pump without blocking.
func (c *Client) Deliver(payload []byte) error {
	select {
	case <-c.closed:
		return ErrSlowConsumer
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close marks the client dead. The write pump drains out and closes the
// connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// ReadPump consumes inbound frames until the peer disconnects, then removes
// the client from the registry. Subscribers only listen, so inbound payloads
// are discarded.
func (c *Client) ReadPump() {
	defer func() {
		c.registry.Unsubscribe(c.userID, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).WithField("user_id", c.userID).Debug("websocket read ended")
			}
			return
		}
	}
}

// WritePump forwards queued payloads to the peer and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.closed:
			// Forward whatever Deliver queued before the close, then
			// say goodbye.
			for {
				select {
				case payload := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.WithError(err).WithField("user_id", c.userID).Debug("websocket write failed")
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
