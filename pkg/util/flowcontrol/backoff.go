package flowcontrol

import (
	"math/rand"
	"sync"
	"time"
)

type backoffEntry struct {
	backoff    time.Duration
	lastUpdate time.Time
}

// Backoff tracks an exponential delay per key, capped at a maximum. An entry
// that has not been bumped for twice the maximum starts over.
type Backoff struct {
	mu              sync.Mutex
	now             func() time.Time
	defaultDuration time.Duration
	maxDuration     time.Duration
	perItemBackoff  map[string]*backoffEntry
	rand            *rand.Rand

	// maxJitterFactor adds up to factor*delay of random jitter. Zero disables it.
	maxJitterFactor float64
}

func NewBackOff(initial, max time.Duration) *Backoff {
	return NewBackOffWithJitter(initial, max, 0.0)
}

func NewBackOffWithJitter(initial, max time.Duration, maxJitterFactor float64) *Backoff {
	return newBackoff(time.Now, initial, max, maxJitterFactor)
}

func newBackoff(now func() time.Time, initial, max time.Duration, maxJitterFactor float64) *Backoff {
	var random *rand.Rand
	if maxJitterFactor > 0 {
		random = rand.New(rand.NewSource(now().UnixNano()))
	}
	return &Backoff{
		now:             now,
		perItemBackoff:  map[string]*backoffEntry{},
		defaultDuration: initial,
		maxDuration:     max,
		maxJitterFactor: maxJitterFactor,
		rand:            random,
	}
}

// Get the current backoff Duration
func (p *Backoff) Get(id string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.perItemBackoff[id]; ok {
		return entry.backoff
	}
	return 0
}

// Next moves id to its next delay and returns it.
func (p *Backoff) Next(id string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	entry, ok := p.perItemBackoff[id]
	if !ok || now.Sub(entry.lastUpdate) > p.maxDuration*2 {
		entry = &backoffEntry{backoff: p.defaultDuration}
		p.perItemBackoff[id] = entry
		entry.backoff += p.jitter(entry.backoff)
	} else {
		delay := entry.backoff*2 + p.jitter(entry.backoff)
		if delay > p.maxDuration {
			delay = p.maxDuration
		}
		entry.backoff = delay
	}
	entry.lastUpdate = now
	return entry.backoff
}

// Reset forgets id.
func (p *Backoff) Reset(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.perItemBackoff, id)
}

func (p *Backoff) jitter(delay time.Duration) time.Duration {
	if p.rand == nil {
		return 0
	}
	return time.Duration(p.rand.Float64() * p.maxJitterFactor * float64(delay))
}
