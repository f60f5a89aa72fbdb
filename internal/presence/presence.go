// Package presence maintains the authoritative set of connected users
// and their status, in registration order.
package presence

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/adred-codev/chat-core/internal/protocol"
)

var (
	// ErrDuplicateName is returned by Register when the username is
	// already taken by a connected user.
	ErrDuplicateName = errors.New("presence: duplicate name")
	// ErrNotFound is returned by any lookup/mutation on an unknown user.
	ErrNotFound = errors.New("presence: user not found")
	// ErrInvalidStatus is returned for any status transition that isn't
	// a client-requested Active<->Busy move, including no-op requests.
	ErrInvalidStatus = errors.New("presence: invalid status transition")
)

// User is a point-in-time snapshot of a registered user's presence.
// Values returned by the registry are copies; mutating a User obtained
// from Lookup or Iterate has no effect on registry state.
type User struct {
	Username   string
	Status     protocol.Status
	LastAction time.Time
}

type entry struct {
	username   string
	status     protocol.Status
	lastAction time.Time
}

// Registry is the ordered, unique-by-name container of connected users.
// A single RWMutex guards all reads and writes: iteration always sees
// a consistent snapshot with respect to concurrent registration, status
// changes, and idle demotion.
type Registry struct {
	mu      sync.RWMutex
	order   *list.List
	byName  map[string]*list.Element
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		order:  list.New(),
		byName: make(map[string]*list.Element),
	}
}

// Register inserts a new user at the end of the iteration order with
// status Active and last_action stamped to now. Fails with
// ErrDuplicateName if the name is already registered.
func (r *Registry) Register(username string, now time.Time) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[username]; ok {
		return User{}, ErrDuplicateName
	}

	e := &entry{username: username, status: protocol.StatusActive, lastAction: now}
	elem := r.order.PushBack(e)
	r.byName[username] = elem
	return toUser(e), nil
}

// Lookup returns a snapshot of the named user, or ErrNotFound.
func (r *Registry) Lookup(username string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	elem, ok := r.byName[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return toUser(elem.Value.(*entry)), nil
}

// Remove deregisters username. Returns ErrNotFound if it wasn't present.
func (r *Registry) Remove(username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.byName[username]
	if !ok {
		return ErrNotFound
	}
	r.order.Remove(elem)
	delete(r.byName, username)
	return nil
}

// Iterate returns a snapshot of every registered user in registration
// order. It is the deterministic order used to serialize roster
// responses.
func (r *Registry) Iterate() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]User, 0, r.order.Len())
	for e := r.order.Front(); e != nil; e = e.Next() {
		users = append(users, toUser(e.Value.(*entry)))
	}
	return users
}

// Touch stamps last_action = now for username.
func (r *Registry) Touch(username string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.byName[username]
	if !ok {
		return ErrNotFound
	}
	elem.Value.(*entry).lastAction = now
	return nil
}

// TouchAndPromote stamps last_action = now and, if the user was
// Inactive, promotes it to Active. It reports whether a promotion
// occurred so the caller can publish CHANGED_STATUS exactly once, per
// the dispatcher's "touch before handling" rule.
func (r *Registry) TouchAndPromote(username string, now time.Time) (promoted bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.byName[username]
	if !ok {
		return false, ErrNotFound
	}
	e := elem.Value.(*entry)
	e.lastAction = now
	if e.status == protocol.StatusInactive {
		e.status = protocol.StatusActive
		return true, nil
	}
	return false, nil
}

// ChangeStatus applies the client-requested transition policy: only
// Active<->Busy is accepted. A no-op (requesting the current status)
// or any other requested value is ErrInvalidStatus.
func (r *Registry) ChangeStatus(username string, requested protocol.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.byName[username]
	if !ok {
		return ErrNotFound
	}
	e := elem.Value.(*entry)

	if requested != protocol.StatusActive && requested != protocol.StatusBusy {
		return ErrInvalidStatus
	}
	if e.status != protocol.StatusActive && e.status != protocol.StatusBusy {
		return ErrInvalidStatus
	}
	if e.status == requested {
		return ErrInvalidStatus
	}

	e.status = requested
	return nil
}

// DemoteIdle scans every user whose now-last_action has reached
// threshold and whose status is Active or Busy, demotes it to
// Inactive, and returns the demoted usernames in registration order.
// The scan and the demotions happen under a single lock acquisition so
// the idle detector never observes a torn snapshot.
func (r *Registry) DemoteIdle(threshold time.Duration, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var demoted []string
	for e := r.order.Front(); e != nil; e = e.Next() {
		u := e.Value.(*entry)
		if u.status != protocol.StatusActive && u.status != protocol.StatusBusy {
			continue
		}
		if now.Sub(u.lastAction) >= threshold {
			u.status = protocol.StatusInactive
			demoted = append(demoted, u.username)
		}
	}
	return demoted
}

func toUser(e *entry) User {
	return User{Username: e.username, Status: e.status, LastAction: e.lastAction}
}
