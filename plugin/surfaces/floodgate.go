package surfaces

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultEventsPerMinute = 20
	defaultBurst           = 5

	// Buckets idle longer than this are dropped on the next insert so the
	// map does not grow with every user ever seen.
	bucketIdleTTL = 10 * time.Minute
)

// FloodGate applies a per-user token bucket to inbound events so one
// chatty user cannot starve the dispatcher. Excess events are dropped,
// not queued.
type FloodGate struct {
	mu      sync.Mutex
	buckets map[string]*userBucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewFloodGate creates a gate allowing eventsPerMinute sustained events
// per user with the given burst. Non-positive values fall back to
// defaults.
func NewFloodGate(eventsPerMinute float64, burst int) *FloodGate {
	if eventsPerMinute <= 0 {
		eventsPerMinute = defaultEventsPerMinute
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &FloodGate{
		buckets: make(map[string]*userBucket),
		limit:   rate.Limit(eventsPerMinute / 60.0),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow reports whether an event for the given user key is within
// budget, consuming one token when it is.
func (g *FloodGate) Allow(userKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	bucket, ok := g.buckets[userKey]
	if !ok {
		g.prune(now)
		bucket = &userBucket{limiter: rate.NewLimiter(g.limit, g.burst)}
		g.buckets[userKey] = bucket
	}
	bucket.lastSeen = now

	return bucket.limiter.AllowN(now, 1)
}

// prune drops buckets that have been idle past the TTL. Caller holds mu.
func (g *FloodGate) prune(now time.Time) {
	for key, bucket := range g.buckets {
		if now.Sub(bucket.lastSeen) > bucketIdleTTL {
			delete(g.buckets, key)
		}
	}
}
