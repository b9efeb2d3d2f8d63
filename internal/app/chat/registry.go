package chat

import (
	"sync"

	"github.com/samber/lo"
)

// registryEntry is one live session and the identity it claimed, if any.
type registryEntry struct {
	session  *Session
	identity string
	bound    bool
}

// Registry is the set of live sessions and the identity bound to each.
// It is the single source of truth for the online count.
type Registry struct {
	// mu guards entries. Only the greet callback of Admit delivers while it is held.
	mu sync.RWMutex

	// entries in registration order.
	entries []*registryEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds s with no identity.
func (r *Registry) Register(s *Session) {
	r.Admit(s, nil)
}

// Admit adds s with no identity and, under the same lock, calls greet with the current
// online count. Frames greet queues on s therefore precede every broadcast s receives.
// greet must not block or call back into the Registry.
func (r *Registry) Admit(s *Session, greet func(online int)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, &registryEntry{session: s})

	if greet != nil {
		greet(lo.CountBy(r.entries, func(e *registryEntry) bool {
			return e.bound
		}))
	}
}

// Bind sets the identity of s, overwriting any earlier one. It reports whether this call
// moved s from unbound to bound. Unknown sessions are ignored.
func (r *Registry) Bind(s *Session, identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.find(s)
	if !ok {
		return false
	}

	first := !entry.bound
	entry.identity = identity
	entry.bound = true

	return first
}

// Unregister removes s and returns the identity it had bound.
func (r *Registry) Unregister(s *Session) (identity string, bound bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, index, ok := lo.FindIndexOf(r.entries, func(e *registryEntry) bool {
		return e.session == s
	})
	if !ok {
		return "", false
	}

	entry := r.entries[index]
	r.entries = append(r.entries[:index], r.entries[index+1:]...)

	return entry.identity, entry.bound
}

// identityOf returns the identity bound to s.
func (r *Registry) identityOf(s *Session) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.find(s)
	if !ok || !entry.bound {
		return "", false
	}

	return entry.identity, true
}

// OnlineCount returns the number of sessions with a bound identity.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.CountBy(r.entries, func(e *registryEntry) bool {
		return e.bound
	})
}

// Len returns the number of live sessions, bound or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Sessions returns a snapshot of all live sessions. The order is not part of the contract.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.entries, func(e *registryEntry, _ int) *Session {
		return e.session
	})
}

// find must be called with mu held.
func (r *Registry) find(s *Session) (*registryEntry, bool) {
	return lo.Find(r.entries, func(e *registryEntry) bool {
		return e.session == s
	})
}
