package signals

import "sync"

// Ring keeps the most recent accepted signals; the oldest entry is evicted first
type Ring struct {
	mu    sync.RWMutex
	items []Signal // oldest first
	cap   int
}

// NewRing creates a ring holding at most capacity signals
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		items: make([]Signal, 0, capacity),
		cap:   capacity,
	}
}

// Push stores a copy of sig, dropping the oldest entry when full
func (r *Ring) Push(sig Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) == r.cap {
		copy(r.items, r.items[1:])
		r.items = r.items[:len(r.items)-1]
	}
	r.items = append(r.items, sig.clone())
}

// Recent returns copies of the stored signals, newest first
func (r *Ring) Recent() []Signal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Signal, len(r.items))
	for i := range r.items {
		out[len(r.items)-1-i] = r.items[i].clone()
	}
	return out
}

// Find looks a signal up by id
func (r *Ring) Find(id string) (Signal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].ID == id {
			return r.items[i].clone(), true
		}
	}
	return Signal{}, false
}

// Len returns the number of stored signals
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
