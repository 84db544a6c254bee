package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hsmehta/watchparty/internal/core"
	"github.com/hsmehta/watchparty/internal/domain"
)

// connEntry is the registry's record for one live connection. Room and
// Peer are empty until the connection joins.
type connEntry struct {
	Room   domain.RoomID
	Peer   domain.PeerID
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry owns the connection→room association. The coordinator is
// its only writer.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*connEntry)}
}

// Bind begins tracking a connection with no room association.
func (r *Registry) Bind(id domain.ConnID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("bound connection")
}

// Associate records which room and identity the connection joined as.
// A prior association is overwritten without complaint; the protocol
// only usefully joins once per connection, but a re-join must not
// crash.
func (r *Registry) Associate(id domain.ConnID, roomID domain.RoomID, peer domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.Room = roomID
	e.Peer = peer
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(roomID)).Str("peer", string(peer)).Msg("associated")
	return true
}

func (r *Registry) Lookup(id domain.ConnID) (domain.RoomID, domain.PeerID, core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return "", "", nil, false
	}
	return e.Room, e.Peer, e.Conn, true
}

// Unbind drops all bookkeeping for a closed connection.
func (r *Registry) Unbind(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbound connection")
}

type connSnap struct {
	ID   domain.ConnID
	Peer domain.PeerID
	Conn core.SignalConnection
}

// ConnsInRoom scans for every connection currently associated with the
// room. Fan-out iterates this snapshot.
func (r *Registry) ConnsInRoom(roomID domain.RoomID) []connSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]connSnap, 0, len(r.conns))
	for id, e := range r.conns {
		if e.Room == roomID {
			out = append(out, connSnap{ID: id, Peer: e.Peer, Conn: e.Conn})
		}
	}
	return out
}

// Cancel fires the connection-scoped cancel func, tearing down its
// pumps. The entry stays until the read loop's disconnect path unbinds
// it.
func (r *Registry) Cancel(id domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}

func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
