// Package idle implements the background worker that demotes
// inactive users: it owns a monotonic clock, scans the presence
// registry on a fixed period, and publishes the resulting status
// transitions through the router.
//
// Uses a dedicated-goroutine background-worker shape (sleeps on a
// ticker, checks a shutdown signal) rather than an event loop.
package idle

import (
	"context"
	"time"

	"github.com/adred-codev/chat-core/internal/protocol"
	"github.com/adred-codev/chat-core/internal/router"
)

// Registry is the subset of presence.Registry the detector depends on.
type Registry interface {
	DemoteIdle(threshold time.Duration, now time.Time) []string
}

// Metrics is the optional idle-demotion counter the process wires in.
// A nil Detector.Metr disables it. *metrics.Metrics satisfies this.
type Metrics interface {
	AddIdleDemotions(n int)
}

// Detector periodically scans Registry for users idle past Threshold
// and publishes their demotion on GroupName.
type Detector struct {
	Registry  Registry
	Router    *router.Router
	GroupName string

	CheckPeriod time.Duration
	Threshold   time.Duration

	// Now is the clock used to evaluate idleness. Defaults to
	// time.Now; tests substitute a deterministic clock.
	Now func() time.Time

	// Metr is optional; nil disables idle-demotion counting.
	Metr Metrics
}

// DefaultCheckPeriod and DefaultThreshold are the detector's default
// timings.
const (
	DefaultCheckPeriod = 3 * time.Second
	DefaultThreshold   = 5 * time.Second
)

// New builds a Detector with the default timings above. Callers may
// override CheckPeriod/Threshold/Now before calling Run.
func New(registry Registry, r *router.Router, groupName string) *Detector {
	return &Detector{
		Registry:    registry,
		Router:      r,
		GroupName:   groupName,
		CheckPeriod: DefaultCheckPeriod,
		Threshold:   DefaultThreshold,
		Now:         time.Now,
	}
}

// Run scans on every tick of CheckPeriod until ctx is cancelled, which
// is the shutdown signal: the idle detector returns as soon as ctx is
// done, without waiting for another tick. Run blocks; call it in its
// own goroutine.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.CheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Detector) tick() {
	now := d.Now()
	demoted := d.Registry.DemoteIdle(d.Threshold, now)
	for _, username := range demoted {
		d.Router.Publish(d.GroupName, protocol.EncodeChangedStatus(username, protocol.StatusInactive))
	}
	if len(demoted) > 0 && d.Metr != nil {
		d.Metr.AddIdleDemotions(len(demoted))
	}
}
