package executor

import (
	"sync"
	"time"
)

// Dedup tracks in-flight intents so the same intent cannot run twice at
// once. Claims expire after ttl so a crashed holder cannot wedge a key
// forever. It is safe for concurrent use.
type Dedup struct {
	claimed map[string]time.Time // intent key -> claim time
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
}

// NewDedup creates a Dedup whose claims lapse after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		claimed: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Claim records key as in flight. It returns false when key is already
// claimed and the claim has not expired. Expired claims left by holders that
// never released are dropped on the way.
func (d *Dedup) Claim(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.dropExpired(now)
	if _, ok := d.claimed[key]; ok {
		return false
	}
	d.claimed[key] = now
	return true
}

// Release drops the claim on key.
func (d *Dedup) Release(key string) {
	d.mu.Lock()
	delete(d.claimed, key)
	d.mu.Unlock()
}

func (d *Dedup) dropExpired(now time.Time) {
	for key, at := range d.claimed {
		if now.Sub(at) >= d.ttl {
			delete(d.claimed, key)
		}
	}
}

// Len returns the number of live claims.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.claimed)
}
