package dedup

import (
	"sync"
	"time"
)

// DefaultTTL is how long a decoded code blocks repeat saves
const DefaultTTL = 5 * time.Minute

// Deduplicator is a time-windowed set of recently seen codes.
// A repeat inside the window never refreshes the original timestamp.
type Deduplicator struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	codes map[string]time.Time
}

// Option customizes a Deduplicator
type Option func(*Deduplicator)

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) {
		d.now = now
	}
}

// New creates a deduplicator; ttl <= 0 selects DefaultTTL
func New(ttl time.Duration, opts ...Option) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	d := &Deduplicator{
		ttl:   ttl,
		now:   time.Now,
		codes: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsDuplicate expires stale entries, then reports whether code was seen
// inside the window. An unseen code is recorded and reported as new.
// Empty codes are never recorded and always count as duplicates.
func (d *Deduplicator) IsDuplicate(code string) bool {
	if code == "" {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expireLocked(now)

	if _, ok := d.codes[code]; ok {
		return true
	}
	d.codes[code] = now
	return false
}

// Remove unblocks a code immediately
func (d *Deduplicator) Remove(code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.codes[code]; !ok {
		return false
	}
	delete(d.codes, code)
	return true
}

// Clear drops every entry
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes = make(map[string]time.Time)
}

// Len returns the number of live entries
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked(d.now())
	return len(d.codes)
}

func (d *Deduplicator) expireLocked(now time.Time) {
	for code, seen := range d.codes {
		if now.Sub(seen) > d.ttl {
			delete(d.codes, code)
		}
	}
}
