package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/synclink/internal/document"
	"github.com/manpreetbhatti/synclink/internal/metrics"
	"github.com/manpreetbhatti/synclink/internal/protocol"
	"github.com/manpreetbhatti/synclink/internal/ratelimit"
	"github.com/manpreetbhatti/synclink/internal/room"
	"github.com/manpreetbhatti/synclink/internal/store"
)

// Persister accepts saved documents for asynchronous writing
type Persister interface {
	Submit(doc *document.Document) bool
}

type Config struct {
	MessagesPerSecond float64
	MessageBurst      int
	// Origins allowed to open a socket; empty or "*" allows any
	AllowedOrigins []string
	// Bound on document loads during get-document
	LoadTimeout time.Duration
	// New connections per remote IP; zero disables the check
	ConnectionsPerSecond float64
	ConnectionBurst      int
}

func DefaultConfig() Config {
	return Config{
		MessagesPerSecond: 100,
		MessageBurst:      200,
		LoadTimeout:       10 * time.Second,
	}
}

// Document-room connection state
type sessionState int

const (
	stateDisconnected sessionState = iota
	stateJoining
	stateJoined
)

// Per-connection session, touched only by the client's read pump
type session struct {
	state     sessionState
	docID     string
	callRooms []string
}

func (s *session) addCallRoom(id string) {
	for _, existing := range s.callRooms {
		if existing == id {
			return
		}
	}
	s.callRooms = append(s.callRooms, id)
}

// Gateway accepts socket connections and turns their events into room
// operations on the hub.
type Gateway struct {
	hub       *Hub
	store     store.DocumentStore
	persister Persister
	config    Config
	upgrader  websocket.Upgrader
	connects  *ratelimit.KeyedLimiters
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewGateway(hub *Hub, docs store.DocumentStore, persister Persister, config Config, logger *zap.Logger, m *metrics.Metrics) *Gateway {
	defaults := DefaultConfig()
	if config.MessagesPerSecond <= 0 {
		config.MessagesPerSecond = defaults.MessagesPerSecond
	}
	if config.MessageBurst <= 0 {
		config.MessageBurst = defaults.MessageBurst
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = defaults.LoadTimeout
	}

	g := &Gateway{
		hub:       hub,
		store:     docs,
		persister: persister,
		config:    config,
		logger:    logger.Named("gateway"),
		metrics:   m,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	if config.ConnectionsPerSecond > 0 {
		burst := config.ConnectionBurst
		if burst <= 0 {
			burst = 1
		}
		g.connects = ratelimit.NewKeyedLimiters(config.ConnectionsPerSecond, burst)
	}
	return g
}

// Close releases the connection limiter. Open sockets are owned by the hub.
func (g *Gateway) Close() {
	if g.connects != nil {
		g.connects.Stop()
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range g.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.connects != nil && !g.connects.Allow(remoteIP(r)) {
		g.metrics.RecordRateLimited()
		g.logger.Warn("connection rate exceeded", zap.String("remote", remoteIP(r)))
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade error", zap.Error(err))
		return
	}

	client := newClient(g, conn)
	g.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// Dispatch runs the handler for one event. A panicking handler ends only
// that event.
func (g *Gateway) Dispatch(c *Client, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			g.metrics.RecordPanic()
			c.logger.Error("event handler panicked",
				zap.String("event", msg.Event),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	g.metrics.RecordEvent(msg.Event)

	switch msg.Event {
	case protocol.EventGetDocument:
		g.getDocument(c, msg)
	case protocol.EventChanges:
		g.relayToDocument(c, protocol.EventReceiveChanges, msg)
	case protocol.EventPencilColorChange:
		g.relayToDocument(c, protocol.EventPencilColorChange, msg)
	case protocol.EventDrawing:
		g.drawing(c, msg)
	case protocol.EventSaveDocument:
		g.saveDocument(c, msg)
	case protocol.EventJoinRoom:
		g.joinCall(c, msg)
	case protocol.EventToggled:
		g.toggled(c, msg)
	default:
		c.logger.Debug("ignoring unknown event", zap.String("event", msg.Event))
	}
}

func (g *Gateway) getDocument(c *Client, msg protocol.Message) {
	id := msg.StringArg(0)
	if id == "" {
		// A null id means the client has nothing to open yet
		return
	}

	previous := c.session.state
	c.session.state = stateJoining

	ctx, cancel := context.WithTimeout(context.Background(), g.config.LoadTimeout)
	defer cancel()

	doc, err := g.store.GetOrCreate(ctx, id)
	if err != nil {
		c.session.state = previous
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Error("failed to load document", zap.String("doc_id", id), zap.Error(err))
		}
		return
	}

	frame, err := protocol.Encode(protocol.EventLoadDocument, doc)
	if err != nil {
		c.session.state = previous
		c.logger.Error("failed to encode document", zap.String("doc_id", id), zap.Error(err))
		return
	}

	g.hub.Join(JoinRequest{
		Key:       room.DocumentKey(id),
		Client:    c,
		Exclusive: true,
		Welcome:   frame,
	})
	c.session.docID = id
	c.session.state = stateJoined
}

// Room-scoped relay of the first argument, which is never interpreted
func (g *Gateway) relayToDocument(c *Client, event string, msg protocol.Message) {
	if c.session.state != stateJoined {
		return
	}
	frame, err := protocol.Encode(event, msg.Arg(0))
	if err != nil {
		c.logger.Warn("failed to encode relay", zap.String("event", event), zap.Error(err))
		return
	}
	g.hub.Broadcast(Message{
		Scope:  ScopeRoom,
		Key:    room.DocumentKey(c.session.docID),
		Sender: c,
		Data:   frame,
	})
}

// Drawing goes to every connection on the server, not just the document
// room. Clients filter by what they have open.
func (g *Gateway) drawing(c *Client, msg protocol.Message) {
	if c.session.state != stateJoined {
		return
	}
	frame, err := protocol.Encode(protocol.EventDrawing, msg.Arg(0))
	if err != nil {
		c.logger.Warn("failed to encode drawing", zap.Error(err))
		return
	}
	g.hub.Broadcast(Message{Scope: ScopeAll, Sender: c, Data: frame})
}

func (g *Gateway) saveDocument(c *Client, msg protocol.Message) {
	if c.session.state != stateJoined {
		return
	}
	doc, err := document.FromSave(c.session.docID, msg.Arg(0))
	if err != nil {
		c.logger.Warn("invalid save payload", zap.String("doc_id", c.session.docID), zap.Error(err))
		return
	}
	g.persister.Submit(doc)
}

func (g *Gateway) joinCall(c *Client, msg protocol.Message) {
	roomID := msg.StringArg(0)
	if roomID == "" {
		return
	}
	userID := msg.StringArg(1)

	announce, err := protocol.Encode(protocol.EventUserConnected, userID)
	if err != nil {
		c.logger.Warn("failed to encode join notice", zap.Error(err))
		return
	}

	g.hub.Join(JoinRequest{
		Key:      room.CallKey(roomID),
		Client:   c,
		Info:     room.Info{UserID: userID, UserName: msg.StringArg(2)},
		Announce: announce,
	})
	c.session.addCallRoom(roomID)
}

// Media toggles go to every call room the connection joined
func (g *Gateway) toggled(c *Client, msg protocol.Message) {
	if len(c.session.callRooms) == 0 {
		return
	}
	frame, err := protocol.Encode(protocol.EventReceivedToggledEvents, msg.Arg(0), msg.Arg(1), msg.Arg(2))
	if err != nil {
		c.logger.Warn("failed to encode toggle", zap.Error(err))
		return
	}
	for _, id := range c.session.callRooms {
		g.hub.Broadcast(Message{Scope: ScopeRoom, Key: room.CallKey(id), Sender: c, Data: frame})
	}
}
