package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/marl/vm"
)

// handle is a server-side reference to a runtime object.
type handle struct {
	id        string
	value     vm.Value
	className string
	sessionID string
	created   time.Time
	lastUsed  time.Time
}

// HandleStore maps opaque string IDs to runtime values. Heap objects
// referenced by handles are pinned so the collector keeps them.
//
// Create, Release, ReleaseSession and Sweep touch object memory and must
// run on the worker goroutine; Lookup may run anywhere.
type HandleStore struct {
	mu      sync.RWMutex
	handles map[string]*handle
	nextID  atomic.Uint64
}

// NewHandleStore creates a new handle store.
func NewHandleStore() *HandleStore {
	return &HandleStore{handles: make(map[string]*handle)}
}

// Create registers a value and returns an opaque handle ID.
func (s *HandleStore) Create(rt *vm.Runtime, value vm.Value, className, sessionID string) string {
	id := fmt.Sprintf("h-%d", s.nextID.Add(1))

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.handles[id] = &handle{
		id:        id,
		value:     value,
		className: className,
		sessionID: sessionID,
		created:   now,
		lastUsed:  now,
	}
	rt.Memory.Pin(value)
	return id
}

// Lookup retrieves the value for a handle. Returns the value and true,
// or Nil and false if the handle doesn't exist.
func (s *HandleStore) Lookup(id string) (vm.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return vm.Nil, false
	}
	h.lastUsed = time.Now()
	return h.value, true
}

// Len returns the number of live handles.
func (s *HandleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Release removes a handle and unpins the object.
func (s *HandleStore) Release(rt *vm.Runtime, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return
	}
	rt.Memory.Unpin(h.value)
	delete(s.handles, id)
}

// ReleaseSession releases all handles owned by a session.
func (s *HandleStore) ReleaseSession(rt *vm.Runtime, sessionID string) int {
	return s.releaseWhere(rt, func(h *handle) bool { return h.sessionID == sessionID })
}

// Sweep removes handles that haven't been accessed within the TTL.
func (s *HandleStore) Sweep(rt *vm.Runtime, ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	return s.releaseWhere(rt, func(h *handle) bool { return h.lastUsed.Before(cutoff) })
}

func (s *HandleStore) releaseWhere(rt *vm.Runtime, match func(*handle) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, h := range s.handles {
		if match(h) {
			rt.Memory.Unpin(h.value)
			delete(s.handles, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps on the worker in the background.
// Returns a stop function.
func (s *HandleStore) StartSweeper(worker *VMWorker, interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				n, err := worker.Do(func(rt *vm.Runtime) (any, error) {
					return s.Sweep(rt, ttl), nil
				})
				if err != nil {
					ticker.Stop()
					return
				}
				if n.(int) > 0 {
					log.Debugf("swept %d handles", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
