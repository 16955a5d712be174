package presence

import (
	"sync"

	"chatrelay/internal/domain"
)

// Registry is the single source of truth for which users currently have
// a live connection. It maps connection ids to authenticated users and
// keeps a reverse index (user id -> connection id) so that routing a
// message to a user does not scan every binding.
//
// All methods are safe for concurrent use. Callers must not hold any
// assumption across calls; the registry can change between them.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*domain.User
	byUser map[int64]string
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*domain.User),
		byUser: make(map[int64]string),
	}
}

// Bind associates a connection with an authenticated user, replacing
// any prior binding for that connection. If the user is already bound
// on another connection the reverse index is re-pointed, so the most
// recently bound connection wins delivery.
func (r *Registry) Bind(connID string, u *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok && r.byUser[prev.ID] == connID {
		delete(r.byUser, prev.ID)
	}
	r.byConn[connID] = u
	r.byUser[u.ID] = connID
}

// Unbind removes the binding for a connection and returns the user that
// was bound, or nil if none. Calling it again for the same connection
// is a no-op returning nil.
func (r *Registry) Unbind(connID string) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	delete(r.byConn, connID)
	if r.byUser[u.ID] == connID {
		delete(r.byUser, u.ID)
	}
	return u
}

// Lookup returns the user bound to the connection, or nil.
func (r *Registry) Lookup(connID string) *domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// FindConnection returns the connection id currently bound to the user,
// or "" if the user is offline.
func (r *Registry) FindConnection(userID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID]
}

// Online reports whether the user has a live binding.
func (r *Registry) Online(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Annotate stamps IsOnline on each user from the live bindings. The
// stored is_online column is never trusted for snapshots; only the
// registry knows who is connected right now.
func (r *Registry) Annotate(users []*domain.User) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range users {
		_, ok := r.byUser[u.ID]
		u.IsOnline = ok
	}
}
