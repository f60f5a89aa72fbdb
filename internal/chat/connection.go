package chat

import (
	"sync"

	"github.com/adred-codev/chat-core/internal/protocol"
	"github.com/adred-codev/chat-core/internal/router"
)

// Connection is a transport handle bound one-to-one with a presence
// User for its entire lifetime. It implements router.Subscriber so the
// router can deliver published frames without knowing anything about
// WebSocket framing.
type Connection struct {
	server   *Server
	username string

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.Mutex
	channels []string // every channel currently subscribed to
}

// newConnection allocates a Connection; it does not yet touch presence
// or the router. Connect performs the full "entering Active" sequence.
func newConnection(s *Server, username string) *Connection {
	return &Connection{
		server:   s,
		username: username,
		send:     make(chan []byte, SendBufferSize),
		closed:   make(chan struct{}),
	}
}

// Username returns the connection's bound username.
func (c *Connection) Username() string {
	return c.username
}

// Outbound returns the channel the transport layer's write pump drains.
// It is never closed; Closed signals teardown.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Closed reports, via a channel close, that this connection has been
// torn down and the transport should stop reading/writing it.
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// TrySend implements router.Subscriber: a non-blocking enqueue onto
// this connection's bounded outbound queue.
func (c *Connection) TrySend(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Drop implements router.Subscriber. It is the single entry point for
// tearing a connection down, whether triggered by the router (slow
// subscriber), by a transport-level read/write error, or by a normal
// client-initiated close — the Closed state is reached the same way
// regardless of cause.
func (c *Connection) Drop() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.teardown()
	})
}

// reply enqueues frame for this connection only. A full queue is
// treated the same as a slow subscriber: the connection is dropped.
func (c *Connection) reply(frame []byte) {
	if !c.TrySend(frame) {
		c.Drop()
	}
}

func (c *Connection) trackSubscription(channel string) {
	c.mu.Lock()
	c.channels = append(c.channels, channel)
	c.mu.Unlock()
}

// Connect performs the "On entering Active" sequence: register the
// user, subscribe to the group channel, ensure and subscribe to a pair
// channel with every other currently-registered user, then announce
// arrival. Returns presence.ErrDuplicateName if the name is already
// taken (the transport layer is expected to have already refused this
// at the handshake, but the check is repeated here as the registry's
// own invariant).
func Connect(s *Server, username string) (*Connection, error) {
	now := s.Now()
	if _, err := s.Registry.Register(username, now); err != nil {
		return nil, err
	}

	c := newConnection(s, username)
	s.trackConnection(c)

	s.Router.Subscribe(c, s.GroupName)
	c.trackSubscription(s.GroupName)

	for _, other := range s.Registry.Iterate() {
		if other.Username == username {
			continue
		}
		s.Router.EnsurePairHistory(username, other.Username)
		channel := router.PairKey(username, other.Username)

		s.Router.Subscribe(c, channel)
		c.trackSubscription(channel)

		// The peer's own connection, if still live, must also join this
		// pair channel: it was never subscribed when it connected,
		// because this username didn't exist in the registry yet.
		if peer, ok := s.connectionFor(other.Username); ok {
			s.Router.Subscribe(peer, channel)
			peer.trackSubscription(channel)
		}
	}

	s.Router.Publish(s.GroupName, protocol.EncodeRegisteredUser(username, protocol.StatusActive))

	return c, nil
}

// teardown performs the "On entering Closed" sequence: unsubscribe
// from every channel this connection participated in, remove its User
// from the registry, then reap every chat history its username
// touches. No terminal status transition is published; that choice is
// left to the caller, and this core does not make one.
func (c *Connection) teardown() {
	c.mu.Lock()
	channels := c.channels
	c.channels = nil
	c.mu.Unlock()

	for _, channel := range channels {
		c.server.Router.Unsubscribe(c, channel)
	}
	c.server.untrackConnection(c.username)
	c.server.Registry.Remove(c.username)
	c.server.Router.ReapHistoriesTouching(c.username)
}
