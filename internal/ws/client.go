package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"codecollab/server/internal/ratelimit"
	"codecollab/server/internal/session"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client bridges one websocket connection to the coordinator. It
// implements session.Conn: delivery is best-effort through a buffered
// channel and a full or closed peer never blocks a broadcast.
type Client struct {
	coord *session.Coordinator
	conn  *websocket.Conn

	send      chan []byte
	done      chan struct{}
	limiter   *ratelimit.Limiter
	closed    atomic.Bool
	closeOnce sync.Once
}

// ServeWs upgrades an HTTP request and hands the resulting connection to
// the coordinator.
func ServeWs(coord *session.Coordinator, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &Client{
		coord:   coord,
		conn:    conn,
		send:    make(chan []byte, 512),
		done:    make(chan struct{}),
		limiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
	}

	coord.Connect(client)

	go client.writePump()
	go client.readPump()
}

// Send enqueues a message without blocking. Pre-encoded broadcast frames
// pass through as-is; anything else is marshaled here. A false return
// means the message was dropped.
func (c *Client) Send(v any) bool {
	if c.closed.Load() {
		return false
	}
	data, ok := v.(json.RawMessage)
	if !ok {
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			logrus.WithError(err).Error("Failed to marshal outbound message")
			return false
		}
	}
	select {
	case c.send <- data:
		return true
	default:
		logrus.WithField("remote", c.conn.RemoteAddr().String()).
			Warn("Client send buffer full, dropping message")
		return false
	}
}

func (c *Client) IsOpen() bool {
	return !c.closed.Load()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		c.coord.Disconnect(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Warn("WebSocket read error")
			}
			break
		}

		if !c.limiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				logrus.WithFields(logrus.Fields{
					"remote":  c.conn.RemoteAddr().String(),
					"warning": rateLimitWarnings,
				}).Warn("Rate limit exceeded for client")
			}
			if rateLimitWarnings > 1000 {
				logrus.WithField("remote", c.conn.RemoteAddr().String()).
					Warn("Disconnecting client for excessive rate limit violations")
				return
			}
			continue
		}

		c.coord.Receive(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
