// Package registry holds the strong-reference bookkeeping for live
// connections: the one place in the gateway that owns a connection for
// its entire lifetime.
package registry

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Connection is the narrow contract the registry needs from a connection
// to shut it down; it is satisfied by *conn.ConnectionFSM without this
// package importing it, avoiding an import cycle between registry and
// conn (conn registers itself here when its Run starts).
type Connection interface {
	ID() string
	Close()
}

// SessionRegistry holds the single strong reference to every live
// connection. No connection outlives the registry: Shutdown closes them
// all, and a connection unregisters itself the moment it closes for any
// other reason.
type SessionRegistry struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

// New constructs an empty SessionRegistry.
func New() *SessionRegistry {
	return &SessionRegistry{conns: make(map[string]Connection)}
}

// Register adds c to the registry, keyed by its own ID.
func (r *SessionRegistry) Register(c Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
}

// Stop removes and closes one connection by ID. It is a no-op if the
// connection isn't registered (already closed and unregistered).
func (r *SessionRegistry) Stop(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if ok {
		c.Close()
	}
}

// Unregister removes a connection without closing it, for use by the
// connection's own close path so Stop and self-close don't double-close.
func (r *SessionRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Count reports the number of live connections.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IDs returns a snapshot of every live connection ID, for operator-facing
// listings (the CLI, the admin API) that have no need for the connections
// themselves.
func (r *SessionRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown closes every live connection and empties the registry.
func (r *SessionRegistry) Shutdown() {
	r.mu.Lock()
	conns := make([]Connection, 0, len(r.conns))
	for id, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	log.Info().Int("count", len(conns)).Msg("session registry shut down")
}
