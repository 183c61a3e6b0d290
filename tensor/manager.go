// Package tensor tracks the lifetime of numeric buffers allocated during
// inference and training. Every hot path runs inside a Scope; when the scope
// exits, everything that was not explicitly retained is released, so the
// live-allocation count returns to its pre-call baseline no matter how the
// computation ended. A count that does not return to baseline is a leak.
package tensor

import (
	"sync"
	"sync/atomic"
)

// Resource is anything with an explicit release step: a float buffer, a
// runtime tensor, a trained classifier's weights.
type Resource interface {
	Release()
}

// Manager counts live allocations across all scopes. One manager serves the
// whole pipeline so leak checks see every path.
type Manager struct {
	live atomic.Int64
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// AllocationCount returns the number of currently live tracked resources.
func (m *Manager) AllocationCount() int64 {
	return m.live.Load()
}

// Buffer is a manager-tracked float32 slice. Release is idempotent.
type Buffer struct {
	data     []float32
	m        *Manager
	released atomic.Bool
}

// NewBuffer allocates a tracked buffer of n elements. Callers that do not
// allocate through a Scope own the release themselves.
func (m *Manager) NewBuffer(n int) *Buffer {
	m.live.Add(1)
	return &Buffer{data: make([]float32, n), m: m}
}

// Data returns the underlying slice. The slice must not be used after
// Release.
func (b *Buffer) Data() []float32 {
	return b.data
}

// Release returns the buffer to the manager's accounting. Safe to call more
// than once; only the first call counts.
func (b *Buffer) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	b.m.live.Add(-1)
	b.data = nil
}

// tracked wraps an external resource so scope exit both releases it and
// keeps the manager's count honest.
type tracked struct {
	r        Resource
	m        *Manager
	released atomic.Bool
}

func (t *tracked) Release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}
	t.m.live.Add(-1)
	t.r.Release()
}

// Scope collects resources allocated during one logical operation.
type Scope struct {
	m       *Manager
	mu      sync.Mutex
	pending []Resource
	closed  bool
}

func (m *Manager) newScope() *Scope {
	return &Scope{m: m}
}

// NewBuffer allocates a buffer owned by the scope.
func (s *Scope) NewBuffer(n int) *Buffer {
	b := s.m.NewBuffer(n)
	s.add(b)
	return b
}

// Track registers an externally allocated resource with the scope and the
// manager's accounting. Returns a handle whose Release is idempotent; pass
// the handle to Retain to move it out of the scope.
func (s *Scope) Track(r Resource) Resource {
	if r == nil {
		return nil
	}
	t := &tracked{r: r, m: s.m}
	s.m.live.Add(1)
	s.add(t)
	return t
}

// Retain removes a resource from the scope so it survives scope exit. The
// caller takes over the release.
func (s *Scope) Retain(r Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p == r {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Scope) add(r Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, r)
}

// Close releases every resource still owned by the scope, most recent
// first. Idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for i := len(pending) - 1; i >= 0; i-- {
		pending[i].Release()
	}
}

// WithScope runs fn inside a fresh scope and guarantees cleanup of all
// non-retained resources, including on panic.
func WithScope[T any](m *Manager, fn func(*Scope) (T, error)) (T, error) {
	s := m.newScope()
	defer s.Close()
	return fn(s)
}
