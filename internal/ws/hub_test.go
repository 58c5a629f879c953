package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/synclink/internal/cluster"
	"github.com/manpreetbhatti/synclink/internal/room"
)

// Client with no socket; tests read its send buffer directly
func newMockClient(id string, buffer int) *Client {
	return &Client{
		id:     id,
		send:   make(chan []byte, buffer),
		logger: zap.NewNop(),
	}
}

// Everything queued for c so far
func received(c *Client) []string {
	var out []string
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, string(data))
		default:
			return out
		}
	}
}

func isClosed(c *Client) bool {
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}

type recordingRelay struct {
	mu        sync.Mutex
	published []cluster.Message
}

func (r *recordingRelay) Publish(msg cluster.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, msg)
}

func (r *recordingRelay) Published() []cluster.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cluster.Message(nil), r.published...)
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	return startHubWithRelay(t, nil)
}

func startHubWithRelay(t *testing.T, relay Relay) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop(), nil)
	if relay != nil {
		hub.SetRelay(relay)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}

func registered(hub *Hub, clients ...*Client) {
	for _, c := range clients {
		hub.Register(c)
	}
}

// Commands are applied in order, so a query returns only after everything
// submitted before it has been handled.
func flush(hub *Hub) {
	hub.GetClientCount()
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := startHub(t)
	a := newMockClient("a", 8)
	b := newMockClient("b", 8)
	registered(hub, a, b)

	assert.Equal(t, 2, hub.GetClientCount())

	hub.Unregister(a)
	assert.Equal(t, 1, hub.GetClientCount())
	assert.True(t, isClosed(a))

	// Second unregister is a no-op
	hub.Unregister(a)
	assert.Equal(t, 1, hub.GetClientCount())
}

func TestHubRoomBroadcastExcludesSender(t *testing.T) {
	hub := startHub(t)
	a := newMockClient("a", 8)
	b := newMockClient("b", 8)
	c := newMockClient("c", 8)
	outsider := newMockClient("outsider", 8)
	registered(hub, a, b, c, outsider)

	for _, client := range []*Client{a, b, c} {
		hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: client, Exclusive: true})
	}

	hub.Broadcast(Message{Scope: ScopeRoom, Key: room.DocumentKey("doc1"), Sender: a, Data: []byte("delta")})
	flush(hub)

	assert.Empty(t, received(a))
	assert.Equal(t, []string{"delta"}, received(b))
	assert.Equal(t, []string{"delta"}, received(c))
	assert.Empty(t, received(outsider))
}

func TestHubBroadcastPreservesSenderOrder(t *testing.T) {
	hub := startHub(t)
	a := newMockClient("a", 64)
	b := newMockClient("b", 64)
	registered(hub, a, b)
	hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: a})
	hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: b})

	want := []string{"1", "2", "3", "4", "5"}
	for _, d := range want {
		hub.Broadcast(Message{Scope: ScopeRoom, Key: room.DocumentKey("doc1"), Sender: a, Data: []byte(d)})
	}
	flush(hub)

	assert.Equal(t, want, received(b))
}

func TestHubDropsBroadcastFromNonMember(t *testing.T) {
	hub := startHub(t)
	a := newMockClient("a", 8)
	b := newMockClient("b", 8)
	registered(hub, a, b)
	hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: b})

	hub.Broadcast(Message{Scope: ScopeRoom, Key: room.DocumentKey("doc1"), Sender: a, Data: []byte("nope")})
	flush(hub)

	assert.Empty(t, received(b))
}

func TestHubExclusiveJoinMovesDocumentRoom(t *testing.T) {
	hub := startHub(t)
	a := newMockClient("a", 8)
	b := newMockClient("b", 8)
	registered(hub, a, b)

	hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: a, Exclusive: true})
	hub.Join(JoinRequest{Key: room.CallKey("call1"), Client: a})
	hub.Join(JoinRequest{Key: room.DocumentKey("doc2"), Client: a, Exclusive: true})
	hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: b, Exclusive: true})

	stats := hub.Stats()
	assert.Equal(t, 2, stats.Clients)
	assert.Equal(t, []RoomStat{
		{Family: "call", ID: "call1", Members: 1},
		{Family: "document", ID: "doc1", Members: 1},
		{Family: "document", ID: "doc2", Members: 1},
	}, stats.Rooms)

	// b is alone in doc1 now
	hub.Broadcast(Message{Scope: ScopeRoom, Key: room.DocumentKey("doc1"), Sender: b, Data: []byte("x")})
	flush(hub)
	assert.Empty(t, received(a))
}

func TestHubWelcomeAndAnnounce(t *testing.T) {
	hub := startHub(t)
	a := newMockClient("a", 8)
	b := newMockClient("b", 8)
	registered(hub, a, b)

	hub.Join(JoinRequest{Key: room.CallKey("call1"), Client: a, Announce: []byte("a-joined")})
	hub.Join(JoinRequest{Key: room.CallKey("call1"), Client: b, Welcome: []byte("welcome-b"), Announce: []byte("b-joined")})
	flush(hub)

	assert.Equal(t, []string{"b-joined"}, received(a))
	assert.Equal(t, []string{"welcome-b"}, received(b))
}

func TestHubJoinIgnoresUnknownClient(t *testing.T) {
	hub := startHub(t)
	ghost := newMockClient("ghost", 8)

	hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: ghost, Welcome: []byte("hi")})

	assert.Zero(t, hub.GetRoomCount())
	assert.Empty(t, received(ghost))
}

func TestHubDisconnectNotifiesCallRoomsOnly(t *testing.T) {
	hub := startHub(t)
	leaver := newMockClient("leaver", 8)
	docPeer := newMockClient("doc-peer", 8)
	callPeer := newMockClient("call-peer", 8)
	registered(hub, leaver, docPeer, callPeer)

	hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: leaver, Exclusive: true})
	hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: docPeer, Exclusive: true})
	hub.Join(JoinRequest{Key: room.CallKey("call1"), Client: leaver, Info: room.Info{UserID: "u1"}})
	hub.Join(JoinRequest{Key: room.CallKey("call1"), Client: callPeer, Info: room.Info{UserID: "u2"}})

	hub.Unregister(leaver)
	hub.Unregister(leaver)
	flush(hub)

	assert.Empty(t, received(docPeer))
	assert.Equal(t, []string{`{"event":"user-disconnected","args":["u1"]}`}, received(callPeer))
	assert.Equal(t, 2, hub.GetRoomCount())
}

func TestHubGlobalBroadcastReachesEveryoneButSender(t *testing.T) {
	hub := startHub(t)
	a := newMockClient("a", 8)
	b := newMockClient("b", 8)
	c := newMockClient("c", 8)
	registered(hub, a, b, c)
	hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: a})
	hub.Join(JoinRequest{Key: room.DocumentKey("doc2"), Client: b})

	hub.Broadcast(Message{Scope: ScopeAll, Sender: a, Data: []byte("stroke")})
	flush(hub)

	assert.Empty(t, received(a))
	assert.Equal(t, []string{"stroke"}, received(b))
	assert.Equal(t, []string{"stroke"}, received(c))
}

func TestHubDisconnectsSlowClient(t *testing.T) {
	hub := startHub(t)
	a := newMockClient("a", 8)
	slow := newMockClient("slow", 1)
	registered(hub, a, slow)
	hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: a})
	hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: slow})

	hub.Broadcast(Message{Scope: ScopeRoom, Key: room.DocumentKey("doc1"), Sender: a, Data: []byte("1")})
	hub.Broadcast(Message{Scope: ScopeRoom, Key: room.DocumentKey("doc1"), Sender: a, Data: []byte("2")})

	assert.Equal(t, 1, hub.GetClientCount())
	assert.Equal(t, []string{"1"}, received(slow))
	assert.True(t, isClosed(slow))
}

func TestHubRelayPublishesLocalBroadcasts(t *testing.T) {
	relay := &recordingRelay{}
	hub := startHubWithRelay(t, relay)
	a := newMockClient("a", 8)
	registered(hub, a)
	hub.Join(JoinRequest{Key: room.CallKey("call1"), Client: a, Info: room.Info{UserID: "u1"}})

	hub.Broadcast(Message{Scope: ScopeRoom, Key: room.CallKey("call1"), Sender: a, Data: []byte("toggle")})
	hub.Broadcast(Message{Scope: ScopeAll, Sender: a, Data: []byte("stroke")})
	hub.Unregister(a)
	flush(hub)

	published := relay.Published()
	require.Len(t, published, 3)
	assert.Equal(t, cluster.Message{Scope: cluster.ScopeRoom, Family: "call", Room: "call1", Frame: []byte("toggle")}, published[0])
	assert.Equal(t, cluster.ScopeAll, published[1].Scope)
	assert.Equal(t, json.RawMessage("stroke"), published[1].Frame)
	assert.Equal(t, `{"event":"user-disconnected","args":["u1"]}`, string(published[2].Frame))
}

func TestHubDeliversRemoteBroadcasts(t *testing.T) {
	relay := &recordingRelay{}
	hub := startHubWithRelay(t, relay)
	a := newMockClient("a", 8)
	b := newMockClient("b", 8)
	registered(hub, a, b)
	hub.Join(JoinRequest{Key: room.DocumentKey("doc1"), Client: a})

	hub.Deliver(cluster.Message{Scope: cluster.ScopeRoom, Family: "document", Room: "doc1", Frame: []byte("remote-delta")})
	hub.Deliver(cluster.Message{Scope: cluster.ScopeAll, Frame: []byte("remote-stroke")})
	hub.Deliver(cluster.Message{Scope: cluster.ScopeRoom, Family: "bogus", Room: "doc1", Frame: []byte("dropped")})
	flush(hub)

	assert.Equal(t, []string{"remote-delta", "remote-stroke"}, received(a))
	assert.Equal(t, []string{"remote-stroke"}, received(b))
	assert.Empty(t, relay.Published(), "remote messages must not be republished")
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	a := newMockClient("a", 8)
	hub.Register(a)
	flush(hub)

	cancel()
	<-hub.Done()

	assert.True(t, isClosed(a))
	// Calls after shutdown return instead of blocking
	hub.Broadcast(Message{Scope: ScopeAll, Data: []byte("late")})
	assert.Zero(t, hub.GetClientCount())
}
