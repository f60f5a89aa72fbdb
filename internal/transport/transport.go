// Package transport wires the chat core to the outside world: it owns
// the HTTP listener, performs the WebSocket upgrade and handshake, and
// runs the per-connection read/write pumps that feed decoded frames
// into the dispatcher and drain its outbound queue onto the wire.
//
// Uses a raw gobwas/ws upgrade (no net/http websocket wrapper), a
// buffered writer batching outbound frames, and ping/pong deadlines
// maintained on the read side. Frames here are binary (OpBinary)
// rather than JSON/text.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/adred-codev/chat-core/internal/chat"
	"github.com/adred-codev/chat-core/internal/logging"
	"github.com/adred-codev/chat-core/internal/metrics"
)

// Admitter gates a connection attempt by source IP before the handshake
// is allowed to proceed. *admission.Guard implements this; tests
// substitute a fake.
type Admitter interface {
	Allow(ip string) bool
}

// Config configures the transport's HTTP/WebSocket surface: bind
// address, ping interval, max frame size.
type Config struct {
	Addr         string
	PingInterval time.Duration
	MaxFrameSize int
	WriteWait    time.Duration
}

// Server owns the listener and upgrades connections into the chat
// core. It never mutates presence/router state directly; every mutation
// flows through chat.Connect and Connection.HandleFrame.
type Server struct {
	cfg    Config
	chat   *chat.Server
	guard  Admitter
	metr   *metrics.Metrics
	logger zerolog.Logger

	httpServer *http.Server
	listener   net.Listener

	shuttingDown int32
}

// New builds a transport Server. guard and metr may be nil (admission
// control and metrics are both optional ambient concerns).
func New(cfg Config, chatServer *chat.Server, guard Admitter, metr *metrics.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		chat:   chatServer,
		guard:  guard,
		metr:   metr,
		logger: logger.With().Str("component", "transport").Logger(),
	}
}

// Start binds the listener and begins serving /ws, /health and
// /metrics. It returns once the listener is bound; serving happens in a
// background goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metr != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("accept loop terminated")
		}
	}()

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("transport listening")
	return nil
}

// Shutdown marks the server as shutting down, so /ws handshakes and
// /health answer 503 from then on, and calls http.Server.Shutdown, which
// closes the listener and waits for non-upgraded requests to finish.
// Upgraded WebSocket connections are hijacked from the HTTP server and
// are not touched: they are neither waited for nor closed, and
// publishes to them continue.
func (s *Server) Shutdown(ctx context.Context) error {
	atomic.StoreInt32(&s.shuttingDown, 1)
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports liveness: 200 "ok", or 503 once shutdown has
// begun.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleWebSocket applies the handshake refusal rules before ever
// calling ws.UpgradeHTTP: the upgrade request must carry a `name` query
// parameter; it is refused with HTTP 400 if absent, equal to the
// reserved group name, too long, or already registered.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ip := remoteIP(r)
	if s.guard != nil && !s.guard.Allow(ip) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	username := r.URL.Query().Get("name")
	if username == "" {
		http.Error(w, "missing required query parameter: name", http.StatusBadRequest)
		return
	}
	if len(username) > 255 {
		http.Error(w, "username exceeds 255 bytes", http.StatusBadRequest)
		return
	}
	if username == s.chat.GroupName {
		http.Error(w, "username may not equal the reserved group name", http.StatusBadRequest)
		return
	}
	if _, err := s.chat.Registry.Lookup(username); err == nil {
		http.Error(w, "username already registered", http.StatusBadRequest)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Error().Err(err).Str("client_ip", ip).Msg("websocket upgrade failed")
		return
	}

	c, err := chat.Connect(s.chat, username)
	if err != nil {
		// Most likely presence.ErrDuplicateName: lost the registration
		// race between the Lookup check above and Connect's own
		// Register call. The socket is already upgraded; close it
		// rather than writing a second HTTP response.
		conn.Close()
		return
	}

	if s.metr != nil {
		s.metr.ConnectionsTotal.Inc()
		s.metr.ConnectionsActive.Inc()
	}

	go s.writePump(conn, c)
	go s.readPump(conn, c, username)
}

// readPump decodes inbound binary frames and hands them to the
// dispatcher until the connection errs out or is dropped.
func (s *Server) readPump(conn net.Conn, c *chat.Connection, username string) {
	defer logging.RecoverPanic(s.logger, "readPump", map[string]any{"username": username})
	defer c.Drop()

	maxFrame := s.cfg.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = 512
	}

	for {
		select {
		case <-c.Closed():
			return
		default:
		}

		if s.cfg.PingInterval > 0 {
			conn.SetReadDeadline(time.Now().Add(3 * s.cfg.PingInterval))
		}

		msg, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}

		switch op {
		case ws.OpBinary:
			if len(msg) > maxFrame {
				continue
			}
			decoded := c.HandleFrame(msg)
			if s.metr != nil {
				if decoded {
					s.metr.FramesReceived.Inc()
				} else {
					s.metr.FramesMalformed.Inc()
				}
			}
		case ws.OpClose:
			return
		case ws.OpPing, ws.OpPong:
			// gobwas/wsutil answers pings automatically on the write side.
		}
	}
}

// writePump drains the connection's outbound queue onto the wire,
// batching whatever has accumulated since the last flush and sending a
// protocol-level ping on PingInterval.
func (s *Server) writePump(conn net.Conn, c *chat.Connection) {
	defer logging.RecoverPanic(s.logger, "writePump", map[string]any{})
	writer := bufio.NewWriter(conn)

	pingInterval := s.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer conn.Close()
	if s.metr != nil {
		defer func() {
			s.metr.ConnectionsActive.Dec()
			s.metr.ConnectionsDropped.Inc()
		}()
	}

	writeWait := s.cfg.WriteWait
	if writeWait <= 0 {
		writeWait = 5 * time.Second
	}

	for {
		select {
		case <-c.Closed():
			wsutil.WriteServerMessage(conn, ws.OpClose, nil)
			return

		case frame, ok := <-c.Outbound():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpBinary, frame); err != nil {
				return
			}

			sent := 1
			n := len(c.Outbound())
			for i := 0; i < n; i++ {
				select {
				case frame = <-c.Outbound():
					if err := wsutil.WriteServerMessage(writer, ws.OpBinary, frame); err != nil {
						return
					}
					sent++
				default:
				}
			}
			if err := writer.Flush(); err != nil {
				return
			}
			if s.metr != nil {
				s.metr.FramesSent.Add(float64(sent))
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

// remoteIP extracts the caller's IP: X-Forwarded-For first, RemoteAddr
// fallback.
func remoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := indexByte(forwarded, ','); idx >= 0 {
			return forwarded[:idx]
		}
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
