package chat

import (
	"testing"
	"time"

	"github.com/adred-codev/chat-core/internal/protocol"
	"github.com/adred-codev/chat-core/internal/router"
)

func newTestServer(now time.Time) *Server {
	s := NewServer("~", 8)
	s.Now = func() time.Time { return now }
	return s
}

func drain(c *Connection) [][]byte {
	var out [][]byte
	for {
		select {
		case f := <-c.Outbound():
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestRegistrationBroadcastsRegisteredUser(t *testing.T) {
	s := newTestServer(time.Now())
	a, err := Connect(s, "Flavio")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := drain(a)
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	want := protocol.EncodeRegisteredUser("Flavio", protocol.StatusActive)
	if string(got[0]) != string(want) {
		t.Fatalf("got %v, want %v", got[0], want)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	s := newTestServer(time.Now())
	a, _ := Connect(s, "Flavio")
	drain(a)

	a.HandleFrame([]byte{protocol.TypeChangeStatus, 6, 'F', 'l', 'a', 'v', 'i', 'o', byte(protocol.StatusBusy)})
	got := drain(a)
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	want := protocol.EncodeChangedStatus("Flavio", protocol.StatusBusy)
	if string(got[0]) != string(want) {
		t.Fatalf("got %v, want %v", got[0], want)
	}

	a.HandleFrame([]byte{protocol.TypeChangeStatus, 6, 'F', 'l', 'a', 'v', 'i', 'o', byte(protocol.StatusBusy)})
	got = drain(a)
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	wantErr := protocol.EncodeError(protocol.ErrorInvalidStatus)
	if string(got[0]) != string(wantErr) {
		t.Fatalf("got %v, want ERROR(InvalidStatus)", got[0])
	}
}

func TestDirectMessage(t *testing.T) {
	s := newTestServer(time.Now())
	a, _ := Connect(s, "Flavio")
	drain(a)
	b, _ := Connect(s, "Jose")
	drain(a)
	drain(b)

	a.HandleFrame([]byte{protocol.TypeSendMessage, 4, 'J', 'o', 's', 'e', 4, 'H', 'o', 'l', 'a'})

	want := protocol.EncodeGotMessage("Jose", "Hola")
	gotA := drain(a)
	gotB := drain(b)
	if len(gotA) != 1 || string(gotA[0]) != string(want) {
		t.Fatalf("A got %v, want %v", gotA, want)
	}
	if len(gotB) != 1 || string(gotB[0]) != string(want) {
		t.Fatalf("B got %v, want %v", gotB, want)
	}

	b.HandleFrame([]byte{protocol.TypeGetMessages, 6, 'F', 'l', 'a', 'v', 'i', 'o'})
	gotB = drain(b)
	wantHistory := protocol.EncodeGotMessages([]protocol.Entry{{Origin: "Flavio", Content: "Hola"}})
	if len(gotB) != 1 || string(gotB[0]) != string(wantHistory) {
		t.Fatalf("B history got %v, want %v", gotB, wantHistory)
	}
}

func TestGroupMessage(t *testing.T) {
	s := newTestServer(time.Now())
	a, _ := Connect(s, "Flavio")
	drain(a)

	a.HandleFrame([]byte{protocol.TypeSendMessage, 1, '~', 4, 'a', 'b', 'c', 'd'})
	got := drain(a)
	want := protocol.EncodeGotMessage("~", "abcd")
	if len(got) != 1 || string(got[0]) != string(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	a.HandleFrame([]byte{protocol.TypeGetMessages, 1, '~'})
	got = drain(a)
	wantHistory := protocol.EncodeGotMessages([]protocol.Entry{{Origin: "Flavio", Content: "abcd"}})
	if len(got) != 1 || string(got[0]) != string(wantHistory) {
		t.Fatalf("got %v, want %v", got, wantHistory)
	}
}

func TestIdleDemotionAndImplicitPromotion(t *testing.T) {
	start := time.Now()
	s := newTestServer(start)
	a, _ := Connect(s, "Flavio")
	drain(a)

	demoted := s.Registry.DemoteIdle(5*time.Second, start.Add(6*time.Second))
	if len(demoted) != 1 || demoted[0] != "Flavio" {
		t.Fatalf("got %v, want [Flavio] demoted", demoted)
	}
	s.Router.Publish(s.GroupName, protocol.EncodeChangedStatus("Flavio", protocol.StatusInactive))
	got := drain(a)
	want := protocol.EncodeChangedStatus("Flavio", protocol.StatusInactive)
	if len(got) != 1 || string(got[0]) != string(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	s.Now = func() time.Time { return start.Add(7 * time.Second) }
	a.HandleFrame([]byte{protocol.TypeListUsers})
	got = drain(a)
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2 (promotion + reply)", len(got))
	}
	wantPromotion := protocol.EncodeChangedStatus("Flavio", protocol.StatusActive)
	if string(got[0]) != string(wantPromotion) {
		t.Fatalf("got %v, want promotion frame %v", got[0], wantPromotion)
	}
}

func TestDepartureReap(t *testing.T) {
	s := newTestServer(time.Now())
	a, _ := Connect(s, "Flavio")
	drain(a)
	b, _ := Connect(s, "Jose")
	drain(a)
	drain(b)

	a.Drop()

	b.HandleFrame([]byte{protocol.TypeGetMessages, 6, 'F', 'l', 'a', 'v', 'i', 'o'})
	got := drain(b)
	want := protocol.EncodeError(protocol.ErrorUserNotFound)
	if len(got) != 1 || string(got[0]) != string(want) {
		t.Fatalf("got %v, want ERROR(UserNotFound)", got)
	}

	if _, ok := s.Router.HistoryFor(router.PairKey("Flavio", "Jose")); ok {
		t.Fatalf("expected pair history to be reaped")
	}
}

func TestChangeStatusIgnoresOtherUsers(t *testing.T) {
	s := newTestServer(time.Now())
	a, _ := Connect(s, "Flavio")
	drain(a)
	b, _ := Connect(s, "Jose")
	drain(a)
	drain(b)

	a.HandleFrame([]byte{protocol.TypeChangeStatus, 4, 'J', 'o', 's', 'e', byte(protocol.StatusBusy)})
	gotA := drain(a)
	gotB := drain(b)
	if len(gotA) != 0 || len(gotB) != 0 {
		t.Fatalf("changing another user's status must be silently ignored, got a=%v b=%v", gotA, gotB)
	}
}

func TestSendMessageEmptyContent(t *testing.T) {
	s := newTestServer(time.Now())
	a, _ := Connect(s, "Flavio")
	drain(a)

	a.HandleFrame([]byte{protocol.TypeSendMessage, 1, '~', 0})
	got := drain(a)
	want := protocol.EncodeError(protocol.ErrorEmptyMessage)
	if len(got) != 1 || string(got[0]) != string(want) {
		t.Fatalf("got %v, want ERROR(EmptyMessage)", got)
	}
}
