package ws

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/manpreetbhatti/synclink/internal/cluster"
	"github.com/manpreetbhatti/synclink/internal/metrics"
	"github.com/manpreetbhatti/synclink/internal/protocol"
	"github.com/manpreetbhatti/synclink/internal/room"
)

// Scope of a broadcast
type Scope int

const (
	// Members of one room
	ScopeRoom Scope = iota
	// Every connection on the server, regardless of room
	ScopeAll
)

func (s Scope) String() string {
	if s == ScopeAll {
		return cluster.ScopeAll
	}
	return cluster.ScopeRoom
}

// Relay carries local broadcasts to other server instances
type Relay interface {
	Publish(msg cluster.Message)
}

// Hub owns every connection and room membership. All state is touched only
// by the Run goroutine; other goroutines talk to it over channels, so
// commands from one sender are applied in the order they were sent.
type Hub struct {
	clients  map[*Client]struct{}
	registry *room.Registry[*Client]

	register   chan *Client
	unregister chan *Client
	join       chan *JoinRequest
	broadcast  chan *Message
	remote     chan cluster.Message
	query      chan func()
	done       chan struct{}

	relay   Relay
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// A frame to fan out. Sender never receives its own broadcast.
type Message struct {
	Scope  Scope
	Key    room.Key
	Sender *Client
	Data   []byte
}

// Adds Client to the room under Key. With Exclusive set the client first
// leaves its other rooms of the same family. Welcome goes to the joining
// client only; Announce goes to the other members.
type JoinRequest struct {
	Key       room.Key
	Client    *Client
	Info      room.Info
	Exclusive bool
	Welcome   []byte
	Announce  []byte
}

// Active room with its member count
type RoomStat struct {
	Family  string `json:"family"`
	ID      string `json:"id"`
	Members int    `json:"members"`
}

type Stats struct {
	Clients int        `json:"clients"`
	Rooms   []RoomStat `json:"rooms"`
}

func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		registry:   room.NewRegistry[*Client](),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan *JoinRequest),
		broadcast:  make(chan *Message),
		remote:     make(chan cluster.Message),
		query:      make(chan func()),
		done:       make(chan struct{}),
		logger:     logger.Named("hub"),
		metrics:    m,
	}
}

// SetRelay must be called before Run.
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.metrics.ConnectionOpened()
			h.logger.Debug("client connected", zap.String("client", client.id), zap.Int("total", len(h.clients)))

		case client := <-h.unregister:
			h.removeClient(client)

		case req := <-h.join:
			h.handleJoin(req)

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)

		case msg := <-h.remote:
			h.handleRemote(msg)

		case fn := <-h.query:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Join(req JoinRequest) {
	select {
	case h.join <- &req:
	case <-h.done:
	}
}

func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- &msg:
	case <-h.done:
	}
}

// Deliver hands a broadcast from another instance to local members.
func (h *Hub) Deliver(msg cluster.Message) {
	select {
	case h.remote <- msg:
	case <-h.done:
	}
}

// Stats returns a snapshot of connections and active rooms.
func (h *Hub) Stats() Stats {
	var stats Stats
	h.inspect(func() {
		stats.Clients = len(h.clients)
		for key, n := range h.registry.Active() {
			stats.Rooms = append(stats.Rooms, RoomStat{Family: key.Family.String(), ID: key.ID, Members: n})
		}
	})
	sort.Slice(stats.Rooms, func(i, j int) bool {
		if stats.Rooms[i].Family != stats.Rooms[j].Family {
			return stats.Rooms[i].Family < stats.Rooms[j].Family
		}
		return stats.Rooms[i].ID < stats.Rooms[j].ID
	})
	return stats
}

func (h *Hub) GetClientCount() int {
	var n int
	h.inspect(func() { n = len(h.clients) })
	return n
}

func (h *Hub) GetRoomCount() int {
	var n int
	h.inspect(func() { n = h.registry.RoomCount() })
	return n
}

// Runs fn on the hub goroutine and waits for it
func (h *Hub) inspect(fn func()) {
	finished := make(chan struct{})
	select {
	case h.query <- func() { fn(); close(finished) }:
		<-finished
	case <-h.done:
	}
}

func (h *Hub) handleJoin(req *JoinRequest) {
	c := req.Client
	if _, ok := h.clients[c]; !ok {
		return
	}

	if req.Exclusive {
		for _, key := range h.registry.RoomsOf(c, req.Key.Family) {
			if key != req.Key {
				h.registry.Leave(key, c)
			}
		}
	}

	if h.registry.Join(req.Key, c, req.Info) {
		h.logger.Debug("client joined room",
			zap.String("client", c.id),
			zap.Stringer("family", req.Key.Family),
			zap.String("room", req.Key.ID),
			zap.Int("members", len(h.registry.Members(req.Key))))
	}
	h.updateRoomMetrics()

	if req.Welcome != nil {
		h.deliver(c, req.Welcome)
	}
	if req.Announce != nil {
		h.handleBroadcast(&Message{Scope: ScopeRoom, Key: req.Key, Sender: c, Data: req.Announce})
	}
}

func (h *Hub) handleBroadcast(msg *Message) {
	if msg.Sender != nil {
		if _, ok := h.clients[msg.Sender]; !ok {
			return
		}
		if msg.Scope == ScopeRoom && !h.registry.IsMember(msg.Key, msg.Sender) {
			h.logger.Debug("dropping broadcast from non-member",
				zap.String("client", msg.Sender.id), zap.String("room", msg.Key.ID))
			return
		}
	}

	h.fanOut(msg)

	if h.relay != nil && msg.Sender != nil {
		h.relay.Publish(cluster.Message{
			Scope:  msg.Scope.String(),
			Family: msg.Key.Family.String(),
			Room:   msg.Key.ID,
			Frame:  msg.Data,
		})
	}
}

func (h *Hub) handleRemote(msg cluster.Message) {
	local := &Message{Data: msg.Frame}
	switch msg.Scope {
	case cluster.ScopeAll:
		local.Scope = ScopeAll
	case cluster.ScopeRoom:
		family, ok := room.ParseFamily(msg.Family)
		if !ok {
			h.logger.Warn("remote broadcast for unknown room family", zap.String("family", msg.Family))
			return
		}
		local.Scope = ScopeRoom
		local.Key = room.Key{Family: family, ID: msg.Room}
	default:
		h.logger.Warn("remote broadcast with unknown scope", zap.String("scope", msg.Scope))
		return
	}
	h.fanOut(local)
}

func (h *Hub) fanOut(msg *Message) {
	var targets []*Client
	switch msg.Scope {
	case ScopeAll:
		targets = make([]*Client, 0, len(h.clients))
		for c := range h.clients {
			if c != msg.Sender {
				targets = append(targets, c)
			}
		}
	default:
		targets = h.registry.Peers(msg.Key, msg.Sender)
	}

	delivered := 0
	for _, c := range targets {
		if h.deliver(c, msg.Data) {
			delivered++
		}
	}
	h.metrics.RecordDeliveries(msg.Scope.String(), delivered)
}

// Queues data on the client's send buffer. A client whose buffer is full is
// too slow to keep up and is disconnected.
func (h *Hub) deliver(c *Client, data []byte) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		h.logger.Warn("client send buffer full, disconnecting", zap.String("client", c.id))
		h.metrics.RecordSlowClient()
		h.removeClient(c)
		return false
	}
}

// Drops the client from every room. Remaining call-room members are told the
// user left; document rooms get no notice.
func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.ConnectionClosed()

	departures := h.registry.LeaveAll(c)
	h.updateRoomMetrics()
	h.logger.Debug("client disconnected",
		zap.String("client", c.id),
		zap.Int("rooms_left", len(departures)),
		zap.Int("remaining", len(h.clients)))

	for _, d := range departures {
		if d.Key.Family != room.Call {
			continue
		}
		frame, err := protocol.Encode(protocol.EventUserDisconnected, d.Info.UserID)
		if err != nil {
			h.logger.Error("failed to encode disconnect notice", zap.Error(err))
			continue
		}
		msg := &Message{Scope: ScopeRoom, Key: d.Key, Data: frame}
		h.fanOut(msg)
		if h.relay != nil {
			h.relay.Publish(cluster.Message{
				Scope:  cluster.ScopeRoom,
				Family: d.Key.Family.String(),
				Room:   d.Key.ID,
				Frame:  frame,
			})
		}
	}
}

func (h *Hub) updateRoomMetrics() {
	if h.metrics == nil {
		return
	}
	counts := map[room.Family]int{room.Document: 0, room.Call: 0}
	for key := range h.registry.Active() {
		counts[key.Family]++
	}
	for family, n := range counts {
		h.metrics.SetActiveRooms(family.String(), n)
	}
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		h.metrics.ConnectionClosed()
	}
	h.logger.Info("hub stopped")
}
