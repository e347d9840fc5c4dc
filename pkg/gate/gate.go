package gate

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"invcrawler/pkg/logger"
)

// Options configures a Gate
type Options struct {
	// MinBackoff and MaxBackoff bound the random cooldown applied by Trip
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// PollInterval is how often AwaitClear re-checks the cooldown
	PollInterval time.Duration
	// Keys, when set, is rotated on every fresh trip
	Keys *KeyRing
	// OnTrip is called after a fresh trip with the trip reason
	OnTrip func(reason string)
	Logger logger.Logger
}

// Gate is a shared cooldown that pauses every worker holding it after
// upstream signals throttling.
type Gate struct {
	mu            sync.Mutex
	cooldownUntil time.Time
	trips         int

	minBackoff   time.Duration
	maxBackoff   time.Duration
	pollInterval time.Duration
	keys         *KeyRing
	onTrip       func(reason string)
	logger       logger.Logger

	now    func() time.Time
	jitter func(n int64) int64
}

// New creates a clear gate
func New(opts Options) *Gate {
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	return &Gate{
		minBackoff:   opts.MinBackoff,
		maxBackoff:   opts.MaxBackoff,
		pollInterval: opts.PollInterval,
		keys:         opts.Keys,
		onTrip:       opts.OnTrip,
		logger:       logger.OrNop(opts.Logger),
		now:          time.Now,
		jitter:       rand.Int63n,
	}
}

// window picks the cooldown length uniformly in [minBackoff, maxBackoff]
func (g *Gate) window() time.Duration {
	spread := int64(g.maxBackoff - g.minBackoff)
	if spread <= 0 {
		return g.minBackoff
	}
	return g.minBackoff + time.Duration(g.jitter(spread+1))
}

// Trip starts a cooldown and returns its deadline. A trip during an active
// cooldown only ever extends it, and only a trip on a clear gate rotates
// the API key.
func (g *Gate) Trip(reason string) time.Time {
	g.mu.Lock()
	now := g.now()
	fresh := !now.Before(g.cooldownUntil)
	until := now.Add(g.window())
	if until.After(g.cooldownUntil) {
		g.cooldownUntil = until
	}
	until = g.cooldownUntil
	if fresh {
		g.trips++
	}
	g.mu.Unlock()

	if !fresh {
		return until
	}

	if g.keys != nil && g.keys.Len() > 1 {
		g.keys.Rotate()
		g.logger.WithField("key", g.keys.CurrentLabel()).Info("Rotated API key")
	}
	logger.LogRateLimit(g.logger, reason, until)
	if g.onTrip != nil {
		g.onTrip(reason)
	}
	return until
}

// Keys returns the key ring rotated by this gate, or nil
func (g *Gate) Keys() *KeyRing {
	return g.keys
}

// Blocked reports whether a cooldown is active
func (g *Gate) Blocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.cooldownUntil)
}

// CooldownUntil returns the current cooldown deadline (zero when never tripped)
func (g *Gate) CooldownUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldownUntil
}

// Trips returns how many fresh trips happened
func (g *Gate) Trips() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trips
}

// Clear ends any active cooldown
func (g *Gate) Clear() {
	g.mu.Lock()
	g.cooldownUntil = time.Time{}
	g.mu.Unlock()
}

// AwaitClear blocks until the cooldown has elapsed or ctx is done. The lock
// is only held to read the deadline; sleeping happens outside it.
func (g *Gate) AwaitClear(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		g.mu.Lock()
		remaining := g.cooldownUntil.Sub(g.now())
		g.mu.Unlock()
		if remaining <= 0 {
			return nil
		}

		wait := g.pollInterval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
