// Package protocol implements the length-prefixed binary wire format
// exchanged between chat clients and the server over a single WebSocket
// binary frame per application frame.
//
// Every frame begins with a one-byte type code. Byte-string fields are
// encoded as a single length byte L followed by L payload bytes, so a
// field can carry at most 255 bytes.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// Type codes, client to server.
const (
	TypeListUsers    byte = 1
	TypeGetUser      byte = 2
	TypeChangeStatus byte = 3
	TypeSendMessage  byte = 4
	TypeGetMessages  byte = 5
)

// Type codes, server to client.
const (
	TypeError          byte = 50
	TypeListedUsers    byte = 51
	TypeGotUser        byte = 52
	TypeRegisteredUser byte = 53
	TypeChangedStatus  byte = 54
	TypeGotMessage     byte = 55
	TypeGotMessages    byte = 56
)

// Status is a user's presence state.
type Status byte

const (
	StatusDisconnected Status = 0
	StatusActive       Status = 1
	StatusBusy         Status = 2
	StatusInactive     Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusActive:
		return "active"
	case StatusBusy:
		return "busy"
	case StatusInactive:
		return "inactive"
	default:
		return fmt.Sprintf("status(%d)", byte(s))
	}
}

// ErrorCode is carried in an ERROR frame body.
type ErrorCode byte

const (
	ErrorUserNotFound            ErrorCode = 1
	ErrorInvalidStatus           ErrorCode = 2
	ErrorEmptyMessage            ErrorCode = 3
	ErrorUserAlreadyDisconnected ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorUserNotFound:
		return "user_not_found"
	case ErrorInvalidStatus:
		return "invalid_status"
	case ErrorEmptyMessage:
		return "empty_message"
	case ErrorUserAlreadyDisconnected:
		return "user_already_disconnected"
	default:
		return fmt.Sprintf("error(%d)", byte(c))
	}
}

// ErrMalformedFrame is returned by Decode when a length prefix would read
// past the end of the frame, or the type code is unrecognized. The caller
// drops the frame; the connection is never closed for this alone.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// UserStatus pairs a username with its current presence, used in the
// LISTED_USERS response body.
type UserStatus struct {
	User   string
	Status Status
}

// Entry pairs an origin username with message content, used in the
// GOT_MESSAGES response body.
type Entry struct {
	Origin  string
	Content string
}

// Request is the decoded form of any client-to-server frame.
type Request interface {
	requestType() byte
}

type ListUsersRequest struct{}

func (ListUsersRequest) requestType() byte { return TypeListUsers }

type GetUserRequest struct{ User string }

func (GetUserRequest) requestType() byte { return TypeGetUser }

type ChangeStatusRequest struct {
	User   string
	Status Status
}

func (ChangeStatusRequest) requestType() byte { return TypeChangeStatus }

type SendMessageRequest struct {
	Peer    string
	Content string
}

func (SendMessageRequest) requestType() byte { return TypeSendMessage }

type GetMessagesRequest struct{ Peer string }

func (GetMessagesRequest) requestType() byte { return TypeGetMessages }

// byteReader walks a frame payload, returning ErrMalformedFrame on any
// out-of-bounds access instead of panicking.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ErrMalformedFrame
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readString() (string, error) {
	l, err := r.readByte()
	if err != nil {
		return "", err
	}
	if r.pos+int(l) > len(r.data) {
		return "", ErrMalformedFrame
	}
	s := string(r.data[r.pos : r.pos+int(l)])
	r.pos += int(l)
	return s, nil
}

// Decode parses a single inbound frame (the payload of one WebSocket
// binary message) into a typed Request.
func Decode(frame []byte) (Request, error) {
	r := &byteReader{data: frame}
	typeCode, err := r.readByte()
	if err != nil {
		return nil, ErrMalformedFrame
	}

	switch typeCode {
	case TypeListUsers:
		return ListUsersRequest{}, nil

	case TypeGetUser:
		user, err := r.readString()
		if err != nil {
			return nil, err
		}
		return GetUserRequest{User: user}, nil

	case TypeChangeStatus:
		user, err := r.readString()
		if err != nil {
			return nil, err
		}
		statusByte, err := r.readByte()
		if err != nil {
			return nil, err
		}
		return ChangeStatusRequest{User: user, Status: Status(statusByte)}, nil

	case TypeSendMessage:
		peer, err := r.readString()
		if err != nil {
			return nil, err
		}
		content, err := r.readString()
		if err != nil {
			return nil, err
		}
		return SendMessageRequest{Peer: peer, Content: content}, nil

	case TypeGetMessages:
		peer, err := r.readString()
		if err != nil {
			return nil, err
		}
		return GetMessagesRequest{Peer: peer}, nil

	default:
		return nil, ErrMalformedFrame
	}
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 255 {
		return fmt.Errorf("protocol: field %q exceeds 255 bytes", s)
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

// EncodeError builds an ERROR frame.
func EncodeError(code ErrorCode) []byte {
	return []byte{TypeError, byte(code)}
}

// EncodeListedUsers builds a LISTED_USERS frame. At most 255 entries are
// encoded; callers must not pass more.
func EncodeListedUsers(users []UserStatus) []byte {
	buf := bytes.NewBuffer(nil)
	buf.WriteByte(TypeListedUsers)
	buf.WriteByte(byte(len(users)))
	for _, u := range users {
		writeString(buf, u.User)
		buf.WriteByte(byte(u.Status))
	}
	return buf.Bytes()
}

// EncodeGotUser builds a GOT_USER frame.
func EncodeGotUser(user string, status Status) []byte {
	buf := bytes.NewBuffer(nil)
	buf.WriteByte(TypeGotUser)
	writeString(buf, user)
	buf.WriteByte(byte(status))
	return buf.Bytes()
}

// EncodeRegisteredUser builds a REGISTERED_USER frame.
func EncodeRegisteredUser(user string, status Status) []byte {
	buf := bytes.NewBuffer(nil)
	buf.WriteByte(TypeRegisteredUser)
	writeString(buf, user)
	buf.WriteByte(byte(status))
	return buf.Bytes()
}

// EncodeChangedStatus builds a CHANGED_STATUS frame.
func EncodeChangedStatus(user string, status Status) []byte {
	buf := bytes.NewBuffer(nil)
	buf.WriteByte(TypeChangedStatus)
	writeString(buf, user)
	buf.WriteByte(byte(status))
	return buf.Bytes()
}

// EncodeGotMessage builds a GOT_MESSAGE frame.
func EncodeGotMessage(peer, content string) []byte {
	buf := bytes.NewBuffer(nil)
	buf.WriteByte(TypeGotMessage)
	writeString(buf, peer)
	writeString(buf, content)
	return buf.Bytes()
}

// EncodeGotMessages builds a GOT_MESSAGES frame from up to 255 entries.
func EncodeGotMessages(entries []Entry) []byte {
	buf := bytes.NewBuffer(nil)
	buf.WriteByte(TypeGotMessages)
	buf.WriteByte(byte(len(entries)))
	for _, e := range entries {
		writeString(buf, e.Origin)
		writeString(buf, e.Content)
	}
	return buf.Bytes()
}
