// Package router derives pair-channel keys and maintains the
// channel-to-subscribers table, fanning published frames out to every
// current subscriber of a channel without ever blocking on a slow one.
//
// The subscriber index is a copy-on-write SubscriptionIndex: writers
// (Subscribe/Unsubscribe/reap) take an exclusive lock and install a
// fresh immutable slice; Publish holds the lock only long enough to
// look up the channel entry, then reads the current slice with a single
// atomic load and delivers outside the lock, so a slow or stuck
// subscriber can never stall routing for anyone else.
package router

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/adred-codev/chat-core/internal/history"
)

// pairSeparator joins two usernames into a pair key. It must never
// appear inside a valid username; the handshake layer is responsible
// for enforcing the username alphabet that keeps this true.
const pairSeparator = "\x00\x1f\x00"

// Subscriber is anything that can receive a published frame. Connections
// implement this; tests use a fake.
type Subscriber interface {
	// TrySend attempts a non-blocking delivery of frame. It returns
	// false if the subscriber's outbound queue is full.
	TrySend(frame []byte) bool
	// Drop is invoked whenever TrySend reports the subscriber is too
	// slow to keep up; it may be invoked more than once for the same
	// subscriber, so it must be idempotent. It must trigger that
	// connection's normal teardown without blocking the caller.
	Drop()
}

// Forwarder relays a locally originated publish to another process
// (e.g. over NATS). Router invokes it only from Publish, never from
// PublishLocal, so a frame arriving from a remote process through
// PublishLocal is never bounced back out.
type Forwarder interface {
	ForwardOut(channel string, frame []byte)
}

type channelEntry struct {
	subs *atomic.Value // holds []Subscriber
}

func newChannelEntry() *channelEntry {
	e := &channelEntry{subs: &atomic.Value{}}
	e.subs.Store([]Subscriber{})
	return e
}

func (e *channelEntry) load() []Subscriber {
	return e.subs.Load().([]Subscriber)
}

// Router owns the subscription table and every chat history.
type Router struct {
	mu        sync.Mutex
	channels  map[string]*channelEntry
	histories map[string]*history.History

	groupName       string
	historyCapacity int

	forwarder Forwarder
}

// New returns a Router with the group channel's history already created
// (it lives for the server's entire lifetime).
func New(groupName string, historyCapacity int) *Router {
	r := &Router{
		channels:        make(map[string]*channelEntry),
		histories:       make(map[string]*history.History),
		groupName:       groupName,
		historyCapacity: historyCapacity,
	}
	r.histories[groupName] = history.New(groupName, historyCapacity)
	return r
}

// GroupName returns the reserved group channel name.
func (r *Router) GroupName() string {
	return r.groupName
}

// SetForwarder wires an optional cross-process forwarder. Every
// subsequent Publish call also invokes f.ForwardOut, in addition to its
// usual local delivery. Call this once at startup, before the router
// sees any traffic.
func (r *Router) SetForwarder(f Forwarder) {
	r.mu.Lock()
	r.forwarder = f
	r.mu.Unlock()
}

// PairKey forms the canonical, commutative channel name for two
// usernames: pair(a,b) == pair(b,a).
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + pairSeparator + b
}

// isPairChannel reports whether channel is a pair key (as opposed to
// the group channel) and, if so, its two participants.
func isPairChannel(channel string) (a, b string, ok bool) {
	idx := strings.Index(channel, pairSeparator)
	if idx < 0 {
		return "", "", false
	}
	return channel[:idx], channel[idx+len(pairSeparator):], true
}

// Subscribe adds sub to channel's subscriber set.
func (r *Router) Subscribe(sub Subscriber, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.channels[channel]
	if !ok {
		e = newChannelEntry()
		r.channels[channel] = e
	}
	current := e.load()
	next := make([]Subscriber, len(current), len(current)+1)
	copy(next, current)
	next = append(next, sub)
	e.subs.Store(next)
}

// Unsubscribe removes sub from channel's subscriber set. A no-op if sub
// wasn't present.
func (r *Router) Unsubscribe(sub Subscriber, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.channels[channel]
	if !ok {
		return
	}
	current := e.load()
	next := make([]Subscriber, 0, len(current))
	for _, s := range current {
		if s != sub {
			next = append(next, s)
		}
	}
	e.subs.Store(next)
}

// Publish delivers frame to every connection subscribed to channel at
// the moment of the call, and, if a Forwarder is configured, relays it
// to other processes too. Delivery to each subscriber is independent; a
// subscriber whose queue is full is dropped, never backpressuring the
// publisher or delaying delivery to the others.
func (r *Router) Publish(channel string, frame []byte) {
	r.mu.Lock()
	fwd := r.forwarder
	r.mu.Unlock()
	if fwd != nil {
		fwd.ForwardOut(channel, frame)
	}

	r.PublishLocal(channel, frame)
}

// PublishLocal delivers frame to this process's subscribers only,
// without relaying it anywhere else. The bridge uses this for frames
// that arrived from another process, so they are never forwarded back
// out.
func (r *Router) PublishLocal(channel string, frame []byte) {
	r.mu.Lock()
	e, ok := r.channels[channel]
	r.mu.Unlock()
	if !ok {
		return
	}

	for _, sub := range e.load() {
		if !sub.TrySend(frame) {
			sub.Drop()
		}
	}
}

// EnsurePairHistory returns the history for pair(a,b), creating it (and
// its empty subscriber entry) if this is the first time either
// endpoint has referenced it.
func (r *Router) EnsurePairHistory(a, b string) *history.History {
	channel := PairKey(a, b)

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.histories[channel]
	if !ok {
		h = history.New(channel, r.historyCapacity)
		r.histories[channel] = h
	}
	if _, ok := r.channels[channel]; !ok {
		r.channels[channel] = newChannelEntry()
	}
	return h
}

// HistoryFor returns the existing history for channel, if any. The
// group history always exists; a pair history exists iff both
// endpoints have been connected together at some point since the last
// reap.
func (r *Router) HistoryFor(channel string) (*history.History, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histories[channel]
	return h, ok
}

// GroupHistory returns the permanent group history.
func (r *Router) GroupHistory() *history.History {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.histories[r.groupName]
}

// ReapHistoriesTouching drops every chat history (and its subscription
// table entry) whose channel name is a pair key mentioning username.
// Called once, from teardown, after the departing connection has
// already unsubscribed from every channel it participated in.
func (r *Router) ReapHistoriesTouching(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for channel := range r.histories {
		a, b, ok := isPairChannel(channel)
		if !ok {
			continue
		}
		if a != username && b != username {
			continue
		}
		delete(r.histories, channel)
		delete(r.channels, channel)
	}
}
