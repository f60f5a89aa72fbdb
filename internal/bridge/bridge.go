// Package bridge implements an optional cross-process pub/sub
// forwarder: a bus exposing publish(channel, payload) and
// subscribe(channel, connection). When configured with a NATS URL it
// forwards every local router.Publish onto a NATS subject and
// re-publishes what it receives on its subscribed subjects into the
// local router, so multiple chat-core processes sharing a NATS
// deployment observe each other's traffic on those channels.
// cmd/chatserver subscribes the bridge to the group channel only; pair
// channel frames are forwarded out but not received back in.
//
// The core packages (chat, router, presence, idle) never import this
// package — federation across instances beyond this opaque forwarding
// stays out of scope, and the bridge is wired only from
// cmd/chatserver/main.go when CHAT_NATS_URL is set.
//
// Built on nats.go: connection options, reconnect/disconnect/error
// handlers logged through the structured logger, and a
// subject-per-channel subscription model.
package bridge

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// subjectPrefix namespaces every forwarded subject so a shared NATS
// deployment can carry other traffic without collision.
const subjectPrefix = "chatcore.channel."

// Publisher is the subset of router.Router the bridge drives: publish a
// raw frame to every local subscriber of a channel, without relaying it
// anywhere else (router.Router.PublishLocal satisfies this — using
// router.Router.Publish here would forward a message this process just
// received from NATS straight back out to NATS).
type Publisher interface {
	PublishLocal(channel string, frame []byte)
}

// Config configures the NATS connection.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

// DefaultConfig is a reasonable starting point for a single-deployment
// NATS connection.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxReconnects:   10,
		ReconnectWait:   time.Second,
		ReconnectJitter: 200 * time.Millisecond,
		MaxPingsOut:     3,
		PingInterval:    10 * time.Second,
	}
}

// Bridge forwards local publishes to NATS and incoming NATS messages
// back into the local router. It treats the remote side as an opaque
// forwarder: it never decodes the frame, just relays raw bytes.
type Bridge struct {
	conn   *nats.Conn
	local  Publisher
	logger zerolog.Logger

	subs map[string]*nats.Subscription
}

// Connect dials NATS and returns a Bridge ready to forward. local is
// the router that messages arriving from NATS get re-published into.
func Connect(cfg Config, local Publisher, logger zerolog.Logger) (*Bridge, error) {
	b := &Bridge{
		local:  local,
		logger: logger.With().Str("component", "bridge").Logger(),
		subs:   make(map[string]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		// Do not deliver this connection's own publishes back to it.
		nats.NoEcho(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn().Err(err).Msg("disconnected from nats")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to nats")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			b.logger.Error().Err(err).Msg("nats error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bridge: connect: %w", err)
	}
	b.conn = conn
	b.logger.Info().Str("url", conn.ConnectedUrl()).Msg("connected to nats")
	return b, nil
}

// subject maps a chat channel name to its NATS subject. Channel names
// are arbitrary bytes (usernames are 1..255 raw bytes), so they are
// hex-encoded to guarantee a valid NATS subject token.
func subject(channel string) string {
	return subjectPrefix + fmt.Sprintf("%x", channel)
}

// ForwardOut publishes frame on channel's NATS subject, so any other
// process bridging the same NATS deployment observes it. It implements
// router.Forwarder; wire it in with router.Router.SetForwarder so every
// local Publish also reaches NATS.
func (b *Bridge) ForwardOut(channel string, frame []byte) {
	if err := b.conn.Publish(subject(channel), frame); err != nil {
		b.logger.Error().Err(err).Str("channel_subject", subject(channel)).Msg("failed to forward frame to nats")
	}
}

// Subscribe arranges for frames arriving on channel's NATS subject from
// other processes to be published into the local router. It is
// idempotent per channel.
func (b *Bridge) Subscribe(channel string) error {
	subj := subject(channel)
	if _, ok := b.subs[subj]; ok {
		return nil
	}
	sub, err := b.conn.Subscribe(subj, func(msg *nats.Msg) {
		b.local.PublishLocal(channel, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("bridge: subscribe %q: %w", subj, err)
	}
	b.subs[subj] = sub
	return nil
}

// Close unsubscribes every subscription and closes the NATS connection.
func (b *Bridge) Close() {
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.conn.Close()
}
