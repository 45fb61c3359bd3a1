// Package keepalive keeps the remote's display awake while a dashboard is
// watching it. The lease is a single TTL cache entry renewed by heartbeats.
package keepalive

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cjeanneret/roboremote/internal/debug"
)

const leaseKey = "session"

// Session is the keep-alive lease. Expiry turns stay-on-screen off and
// notifies listeners; it never stops the control loop.
type Session struct {
	cache *ttlcache.Cache[string, time.Time]
	ttl   time.Duration

	mu       sync.Mutex
	stay     bool
	onExpire []func()
}

// New creates a session whose lease lasts ttl after each Acquire.
func New(ttl time.Duration) *Session {
	s := &Session{
		cache: ttlcache.New[string, time.Time](ttlcache.WithTTL[string, time.Time](ttl)),
		ttl:   ttl,
	}
	s.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, time.Time]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		s.expire(item.Value())
	})
	return s
}

// Run drives lease expiry until ctx is done.
func (s *Session) Run(ctx context.Context) {
	go s.cache.Start()
	<-ctx.Done()
	s.cache.Stop()
}

// Acquire starts or renews the lease and turns stay-on-screen on.
func (s *Session) Acquire() {
	s.mu.Lock()
	wasOn := s.stay
	s.stay = true
	s.mu.Unlock()

	s.cache.Set(leaseKey, time.Now(), ttlcache.DefaultTTL)
	if !wasOn {
		debug.Live("Keep-alive session acquired (%s)", s.ttl)
	}
}

// Release ends the lease without firing expiry listeners.
func (s *Session) Release() {
	s.mu.Lock()
	wasOn := s.stay
	s.stay = false
	s.mu.Unlock()

	s.cache.Delete(leaseKey)
	if wasOn {
		debug.Live("Keep-alive session released")
	}
}

// Active reports whether an unexpired lease is held.
func (s *Session) Active() bool {
	return s.cache.Has(leaseKey)
}

// StayOnScreen reports whether the display should be kept awake.
func (s *Session) StayOnScreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stay
}

// OnExpire registers fn to be called when the lease expires.
func (s *Session) OnExpire(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = append(s.onExpire, fn)
}

func (s *Session) expire(acquired time.Time) {
	s.mu.Lock()
	s.stay = false
	fns := append([]func(){}, s.onExpire...)
	s.mu.Unlock()

	debug.Warn("Keep-alive session expired (last renewed %s ago)", time.Since(acquired).Round(time.Second))
	for _, fn := range fns {
		fn()
	}
}
