package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/manpreetbhatti/synclink/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBuffer     = 512

	// Clients exceeding the rate this many times are disconnected
	maxRateLimitWarnings = 1000
)

// Client is one socket connection. The read pump owns the session fields;
// the hub owns the send channel.
type Client struct {
	id      string
	hub     *Hub
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	logger  *zap.Logger

	session session
}

func newClient(g *Gateway, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	logger := g.logger.With(zap.String("client", id))
	if conn != nil {
		logger = logger.With(zap.String("remote", conn.RemoteAddr().String()))
	}
	return &Client{
		id:      id,
		hub:     g.hub,
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(g.config.MessagesPerSecond), g.config.MessageBurst),
		logger:  logger,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		if !c.limiter.Allow() {
			rateLimitWarnings++
			c.gateway.metrics.RecordRateLimited()
			if rateLimitWarnings%100 == 1 {
				c.logger.Warn("rate limit exceeded", zap.Int("warnings", rateLimitWarnings))
			}
			if rateLimitWarnings > maxRateLimitWarnings {
				c.logger.Warn("disconnecting client for excessive rate limit violations")
				return
			}
			continue
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			c.logger.Warn("invalid message", zap.Error(err))
			continue
		}

		c.gateway.Dispatch(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
