// Package hotkeys counts key accesses seen by the proxy and reports the
// most frequently used keys of the namespace.
package hotkeys

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Entry is a key and its decayed access count.
type Entry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Tracker counts accesses for up to Capacity keys. When a new key arrives at
// capacity, the least used half is evicted. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	counts   map[string]int64
	capacity int

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a tracker. Every halfLife all counts are halved and keys that
// reach zero are forgotten; zero disables decay.
func New(capacity int, halfLife time.Duration) *Tracker {
	if capacity <= 0 {
		capacity = 1024
	}
	t := &Tracker{
		counts:   make(map[string]int64, capacity),
		capacity: capacity,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if halfLife > 0 {
		go t.decayLoop(halfLife)
	} else {
		close(t.done)
	}
	return t
}

// Record counts one access to key.
func (t *Tracker) Record(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.counts[key]; !ok && len(t.counts) >= t.capacity {
		t.evict()
	}
	t.counts[key]++
}

// evict drops the least used half of the keys. Callers hold t.mu.
func (t *Tracker) evict() {
	entries := t.sorted()
	for _, e := range entries[len(entries)/2:] {
		delete(t.counts, e.Key)
	}
}

// Top returns the n most used keys, most used first. Ties are ordered by key.
// n <= 0 returns every tracked key.
func (t *Tracker) Top(n int) []Entry {
	t.mu.Lock()
	entries := t.sorted()
	t.mu.Unlock()
	if n > 0 && n < len(entries) {
		entries = entries[:n]
	}
	return entries
}

func (t *Tracker) sorted() []Entry {
	entries := make([]Entry, 0, len(t.counts))
	for k, c := range t.counts {
		entries = append(entries, Entry{Key: k, Count: c})
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return entries
}

// Decay halves every count and forgets keys that reach zero.
func (t *Tracker) Decay() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, c := range t.counts {
		if c /= 2; c == 0 {
			delete(t.counts, k)
		} else {
			t.counts[k] = c
		}
	}
}

// Reset forgets every key.
func (t *Tracker) Reset() {
	t.mu.Lock()
	clear(t.counts)
	t.mu.Unlock()
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

// Close stops the decay loop.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Tracker) decayLoop(every time.Duration) {
	defer close(t.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Decay()
		case <-t.stop:
			return
		}
	}
}
