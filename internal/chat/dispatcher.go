package chat

import (
	"github.com/adred-codev/chat-core/internal/history"
	"github.com/adred-codev/chat-core/internal/protocol"
	"github.com/adred-codev/chat-core/internal/router"
)

// HandleFrame decodes one inbound frame and dispatches it. It reports
// whether the frame decoded; the caller (the transport's read pump)
// uses this to count malformed frames. A frame that fails to decode is
// otherwise dropped silently — a single malformed frame never closes
// the connection.
//
// Every decoded frame first touches the connection's last_action and, if the
// user was Inactive, promotes it back to Active and publishes
// CHANGED_STATUS before the frame itself is handled.
func (c *Connection) HandleFrame(frame []byte) bool {
	req, err := protocol.Decode(frame)
	if err != nil {
		return false
	}

	promoted, err := c.server.Registry.TouchAndPromote(c.username, c.server.Now())
	if err != nil {
		// The connection's own User record is always present until
		// teardown; this can only race with a concurrent Drop, in
		// which case there is nothing left to reply to.
		return true
	}
	if promoted {
		c.server.Router.Publish(c.server.GroupName, protocol.EncodeChangedStatus(c.username, protocol.StatusActive))
	}

	switch r := req.(type) {
	case protocol.ListUsersRequest:
		c.handleListUsers()
	case protocol.GetUserRequest:
		c.handleGetUser(r)
	case protocol.ChangeStatusRequest:
		c.handleChangeStatus(r)
	case protocol.SendMessageRequest:
		c.handleSendMessage(r)
	case protocol.GetMessagesRequest:
		c.handleGetMessages(r)
	}
	return true
}

// replyError encodes an ERROR(code) frame, sends it, and counts it
// against the optional dispatcher-error metric.
func (c *Connection) replyError(code protocol.ErrorCode) {
	if c.server.Metr != nil {
		c.server.Metr.IncDispatcherError(code.String())
	}
	c.reply(protocol.EncodeError(code))
}

func (c *Connection) handleListUsers() {
	users := c.server.Registry.Iterate()
	statuses := make([]protocol.UserStatus, len(users))
	for i, u := range users {
		statuses[i] = protocol.UserStatus{User: u.Username, Status: u.Status}
	}
	c.reply(protocol.EncodeListedUsers(statuses))
}

func (c *Connection) handleGetUser(r protocol.GetUserRequest) {
	u, err := c.server.Registry.Lookup(r.User)
	if err != nil {
		c.replyError(protocol.ErrorUserNotFound)
		return
	}
	c.reply(protocol.EncodeGotUser(u.Username, u.Status))
}

// handleChangeStatus: a client may only change its own status. A
// request naming another user is silently ignored.
func (c *Connection) handleChangeStatus(r protocol.ChangeStatusRequest) {
	if r.User != c.username {
		return
	}
	if err := c.server.Registry.ChangeStatus(c.username, r.Status); err != nil {
		c.replyError(protocol.ErrorInvalidStatus)
		return
	}
	c.server.Router.Publish(c.server.GroupName, protocol.EncodeChangedStatus(c.username, r.Status))
}

func (c *Connection) handleSendMessage(r protocol.SendMessageRequest) {
	if r.Content == "" {
		c.replyError(protocol.ErrorEmptyMessage)
		return
	}

	var channel string
	if r.Peer == c.server.GroupName {
		channel = c.server.GroupName
	} else {
		if _, err := c.server.Registry.Lookup(r.Peer); err != nil {
			c.replyError(protocol.ErrorUserNotFound)
			return
		}
		channel = router.PairKey(c.username, r.Peer)
	}

	h, ok := c.server.Router.HistoryFor(channel)
	if !ok {
		// Defensive: the pair history is guaranteed to exist by
		// construction, but a missing one is recovered rather than
		// panicking.
		h = c.server.Router.EnsurePairHistory(c.username, r.Peer)
	}
	h.Append(history.Entry{OriginUsername: c.username, Content: r.Content})
	c.server.Router.Publish(channel, protocol.EncodeGotMessage(r.Peer, r.Content))
}

func (c *Connection) handleGetMessages(r protocol.GetMessagesRequest) {
	var channel string
	if r.Peer == c.server.GroupName {
		channel = c.server.GroupName
	} else {
		if _, err := c.server.Registry.Lookup(r.Peer); err != nil {
			c.replyError(protocol.ErrorUserNotFound)
			return
		}
		channel = router.PairKey(c.username, r.Peer)
	}

	h, ok := c.server.Router.HistoryFor(channel)
	if !ok {
		h = c.server.Router.EnsurePairHistory(c.username, r.Peer)
	}

	entries := h.Iterate()
	out := make([]protocol.Entry, len(entries))
	for i, e := range entries {
		out[i] = protocol.Entry{Origin: e.OriginUsername, Content: e.Content}
	}
	c.reply(protocol.EncodeGotMessages(out))
}
