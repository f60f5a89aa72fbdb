package idle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/adred-codev/chat-core/internal/protocol"
	"github.com/adred-codev/chat-core/internal/router"
)

type fakeRegistry struct {
	mu      sync.Mutex
	demoted [][]string
	script  []string
}

func (f *fakeRegistry) DemoteIdle(threshold time.Duration, now time.Time) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.script
	f.script = nil
	f.demoted = append(f.demoted, out)
	return out
}

type capturingSub struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *capturingSub) TrySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return true
}

func (c *capturingSub) Drop() {}

func (c *capturingSub) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestDetectorPublishesDemotions(t *testing.T) {
	reg := &fakeRegistry{script: []string{"Flavio"}}
	r := router.New("~", 8)
	sub := &capturingSub{}
	r.Subscribe(sub, "~")

	d := New(reg, r, "~")
	d.CheckPeriod = 10 * time.Millisecond
	d.Now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for sub.count() == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("timed out waiting for demotion publish")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	<-done

	if sub.count() != 1 {
		t.Fatalf("got %d frames, want 1", sub.count())
	}
	want := protocol.EncodeChangedStatus("Flavio", protocol.StatusInactive)
	if string(sub.frames[0]) != string(want) {
		t.Fatalf("got %v, want %v", sub.frames[0], want)
	}
}

func TestDetectorStopsOnContextCancel(t *testing.T) {
	reg := &fakeRegistry{}
	r := router.New("~", 8)
	d := New(reg, r, "~")
	d.CheckPeriod = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("detector did not stop after context cancellation")
	}
}
