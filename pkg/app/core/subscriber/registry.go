package subscriber

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownSubscriber = errors.New("unknown subscriber")

// Subscriber is a registered consumer of one backtest
type Subscriber struct {
	ID               uint64 `json:"subscriberId"`
	RegisteredAtTick uint64 `json:"registeredAtTick"`
}

// Registry allocates subscriber identities and tracks each subscriber's read cursor
// Ids start at 1 and are never reused
type Registry struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]Subscriber
	cursors map[uint64]uint64 // subscriber -> next trade offset to read
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		nextID:  1,
		subs:    make(map[uint64]Subscriber),
		cursors: make(map[uint64]uint64),
	}
}

// Register allocates a new subscriber id stamped with the current tick
func (r *Registry) Register(tick uint64) Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Subscriber{ID: r.nextID, RegisteredAtTick: tick}
	r.nextID++
	r.subs[s.ID] = s
	r.cursors[s.ID] = 0
	return s
}

// Authorize returns ErrUnknownSubscriber unless id was issued by this registry
func (r *Registry) Authorize(id uint64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.subs[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSubscriber, id)
	}
	return nil
}

// Get retrieves a subscriber by id
func (r *Registry) Get(id uint64) (Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.subs[id]
	if !ok {
		return Subscriber{}, fmt.Errorf("%w: %d", ErrUnknownSubscriber, id)
	}
	return s, nil
}

// Cursor returns the next trade offset the subscriber has not read
func (r *Registry) Cursor(id uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.cursors[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownSubscriber, id)
	}
	return c, nil
}

// Advance moves the cursor to offset. Cursors only move forward;
// an offset behind the current cursor is ignored.
func (r *Registry) Advance(id uint64, offset uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cursors[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSubscriber, id)
	}
	if offset > c {
		r.cursors[id] = offset
	}
	return nil
}

// List returns all subscribers ordered by id
func (r *Registry) List() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered subscribers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
