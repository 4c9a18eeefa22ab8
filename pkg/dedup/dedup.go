// Package dedup suppresses repeated deliveries of the same message within a TTL.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	now  func() time.Time
	seen map[string]time.Time
}

// New returns a Deduper remembering at most max keys for ttl each.
func New(ttl time.Duration, max int) *Deduper {
	return NewWithClock(ttl, max, time.Now)
}

func NewWithClock(ttl time.Duration, max int, now func() time.Time) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, now: now, seen: make(map[string]time.Time)}
}

// Key derives a stable id from a raw payload.
func Key(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ShouldProcess reports whether id is new (or its previous sighting expired)
// and remembers it. An empty id is always processed.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if d.seenLocked(id, now) {
		return false
	}
	d.markLocked(id, now)
	return true
}

// Seen reports whether id was marked and has not expired, without marking it.
func (d *Deduper) Seen(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seenLocked(id, d.now())
}

// Mark remembers id for the TTL.
func (d *Deduper) Mark(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markLocked(id, d.now())
}

func (d *Deduper) seenLocked(id string, now time.Time) bool {
	exp, ok := d.seen[id]
	return ok && now.Before(exp)
}

func (d *Deduper) markLocked(id string, now time.Time) {
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.evict(now)
	}
}

// evict drops expired keys, then the oldest ones until the map fits.
func (d *Deduper) evict(now time.Time) {
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	for len(d.seen) > d.max {
		var oldest string
		var oldestExp time.Time
		for k, exp := range d.seen {
			if oldest == "" || exp.Before(oldestExp) {
				oldest, oldestExp = k, exp
			}
		}
		delete(d.seen, oldest)
	}
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
