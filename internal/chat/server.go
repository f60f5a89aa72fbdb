// Package chat implements the typed request dispatcher and the
// per-connection lifecycle: registration into presence, group/pair
// subscription, frame handling, and teardown.
package chat

import (
	"sync"
	"time"

	"github.com/adred-codev/chat-core/internal/presence"
	"github.com/adred-codev/chat-core/internal/router"
)

// SendBufferSize bounds each connection's outbound queue. A publish
// that finds this queue full drops the connection rather than block.
const SendBufferSize = 256

// Metrics is the optional dispatcher-error counter the process wires
// in. A nil Server.Metr disables it. *metrics.Metrics satisfies this.
type Metrics interface {
	IncDispatcherError(code string)
}

// Server holds every piece of shared mutable state a connection's
// dispatcher needs: the presence registry and the channel router. A
// single Server value is threaded through every connection rather than
// relying on process-wide globals.
type Server struct {
	Registry  *presence.Registry
	Router    *router.Router
	GroupName string

	// Now is the clock used for registration/touch timestamps. Tests
	// substitute a deterministic clock; production uses time.Now.
	Now func() time.Time

	// Metr is optional; nil disables dispatcher-error counting.
	Metr Metrics

	mu          sync.Mutex
	connections map[string]*Connection
}

// NewServer builds a Server with a fresh registry and router.
func NewServer(groupName string, historyCapacity int) *Server {
	return &Server{
		Registry:    presence.New(),
		Router:      router.New(groupName, historyCapacity),
		GroupName:   groupName,
		Now:         time.Now,
		connections: make(map[string]*Connection),
	}
}

// connectionFor returns the live Connection bound to username, if one
// is currently registered.
func (s *Server) connectionFor(username string) (*Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[username]
	return c, ok
}

func (s *Server) trackConnection(c *Connection) {
	s.mu.Lock()
	s.connections[c.username] = c
	s.mu.Unlock()
}

func (s *Server) untrackConnection(username string) {
	s.mu.Lock()
	delete(s.connections, username)
	s.mu.Unlock()
}
