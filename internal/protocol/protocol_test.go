package protocol

import (
	"reflect"
	"testing"
)

func TestDecodeListUsers(t *testing.T) {
	req, err := Decode([]byte{TypeListUsers})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := req.(ListUsersRequest); !ok {
		t.Fatalf("got %T, want ListUsersRequest", req)
	}
}

func TestDecodeGetUser(t *testing.T) {
	frame := []byte{TypeGetUser, 5, 'a', 'l', 'i', 'c', 'e'}
	req, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := GetUserRequest{User: "alice"}
	if req != want {
		t.Fatalf("got %#v, want %#v", req, want)
	}
}

func TestDecodeChangeStatus(t *testing.T) {
	frame := []byte{TypeChangeStatus, 3, 'b', 'o', 'b', byte(StatusBusy)}
	req, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := ChangeStatusRequest{User: "bob", Status: StatusBusy}
	if req != want {
		t.Fatalf("got %#v, want %#v", req, want)
	}
}

func TestDecodeSendMessage(t *testing.T) {
	frame := []byte{TypeSendMessage, 3, 'b', 'o', 'b', 2, 'h', 'i'}
	req, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := SendMessageRequest{Peer: "bob", Content: "hi"}
	if req != want {
		t.Fatalf("got %#v, want %#v", req, want)
	}
}

func TestDecodeGetMessages(t *testing.T) {
	frame := []byte{TypeGetMessages, 3, 'b', 'o', 'b'}
	req, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := GetMessagesRequest{Peer: "bob"}
	if req != want {
		t.Fatalf("got %#v, want %#v", req, want)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	cases := map[string][]byte{
		"empty":                {},
		"unknown type":         {99},
		"truncated length":     {TypeGetUser},
		"length past buffer":   {TypeGetUser, 10, 'a'},
		"missing status byte":  {TypeChangeStatus, 1, 'a'},
		"missing content body": {TypeSendMessage, 1, 'a', 5, 'h', 'i'},
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(frame); err != ErrMalformedFrame {
				t.Fatalf("got err=%v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	// Encode*/Decode don't share an identity for server->client frames
	// (there's no Decode-side counterpart; clients decode those), but
	// the request-side codec must be a perfect round trip: decode what
	// a correctly-encoded request frame contains.
	frame := []byte{TypeSendMessage, 5, 'a', 'l', 'i', 'c', 'e', 7, 'h', 'e', 'l', 'l', 'o', '!', '!'}
	req, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := SendMessageRequest{Peer: "alice", Content: "hello!!"}
	if !reflect.DeepEqual(req, want) {
		t.Fatalf("got %#v, want %#v", req, want)
	}
}

func TestEncodeError(t *testing.T) {
	got := EncodeError(ErrorUserNotFound)
	want := []byte{TypeError, byte(ErrorUserNotFound)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEncodeListedUsers(t *testing.T) {
	got := EncodeListedUsers([]UserStatus{
		{User: "al", Status: StatusActive},
		{User: "bo", Status: StatusBusy},
	})
	want := []byte{
		TypeListedUsers, 2,
		2, 'a', 'l', byte(StatusActive),
		2, 'b', 'o', byte(StatusBusy),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEncodeGotMessages(t *testing.T) {
	got := EncodeGotMessages([]Entry{
		{Origin: "al", Content: "hi"},
	})
	want := []byte{
		TypeGotMessages, 1,
		2, 'a', 'l',
		2, 'h', 'i',
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEncodeGotMessage(t *testing.T) {
	got := EncodeGotMessage("al", "hi")
	want := []byte{TypeGotMessage, 2, 'a', 'l', 2, 'h', 'i'}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
