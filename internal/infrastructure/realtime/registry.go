package realtime

import (
	"sync"

	"github.com/gorilla/websocket"

	"go-leadchat/internal/infrastructure/metrics"
)

// Registry maps a user to at most one live Handle. A newer registration for the
// same user supersedes the older one; it never queues behind it.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle // userID -> current handle
}

// NewRegistry constructs an initialized Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Register associates h with userID. A previous handle for the user is removed
// and closed after the swap. It returns the superseded handle, if any.
func (r *Registry) Register(userID string, h Handle) Handle {
	r.mu.Lock()
	previous, existed := r.handles[userID]
	r.handles[userID] = h
	r.mu.Unlock()

	if !existed {
		metrics.LiveConnections.Inc()
		return nil
	}
	if previous == h {
		return nil
	}
	metrics.SupersededConnections.Inc()
	previous.Close(CloseSessionReplaced, "session replaced")
	return previous
}

// Unregister removes the association only while h is still the handle on record,
// so a stale disconnect cannot clobber a newer connection. It reports whether
// anything was removed.
func (r *Registry) Unregister(userID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.handles[userID]
	if !ok || current != h {
		return false
	}
	delete(r.handles, userID)
	metrics.LiveConnections.Dec()
	return true
}

// Lookup returns the user's current handle. Absent is not an error: the user is
// simply not reachable live.
func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[userID]
	return h, ok
}

// IsOnline tells whether the user has a live handle on this node.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// IsCurrent tells whether h is the handle on record for userID.
func (r *Registry) IsCurrent(userID string, h Handle) bool {
	current, ok := r.Lookup(userID)
	return ok && current == h
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Close terminates all tracked connections and clears registry state.
func (r *Registry) Close() {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]Handle)
	r.mu.Unlock()

	metrics.LiveConnections.Sub(float64(len(handles)))
	for _, h := range handles {
		h.Close(websocket.CloseGoingAway, "server shutdown")
	}
}
