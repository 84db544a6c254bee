package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hsmehta/watchparty/internal/domain"
)

// room holds the participant identities currently joined under one room
// identifier. Membership is a set: a peer appears at most once.
type room struct {
	peers      map[domain.PeerID]struct{}
	lastActive time.Time
}

// RoomInfo is a read-only view for APIs (no membership internals).
type RoomInfo struct {
	ID        domain.RoomID `json:"id"`
	PeerCount int           `json:"peerCount"`
}

// Rooms is the process-wide room table. Rooms are created implicitly on
// first use and, unless the janitor is enabled, never deleted; an empty
// entry after the last leave is accepted staleness bounded by process
// lifetime.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[domain.RoomID]*room)}
}

// getOrCreate must be called with mu held.
func (t *Rooms) getOrCreate(id domain.RoomID) *room {
	r, ok := t.rooms[id]
	if !ok {
		r = &room{peers: make(map[domain.PeerID]struct{}), lastActive: time.Now()}
		t.rooms[id] = r
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	}
	return r
}

// Ensure creates an empty room if absent. Idempotent: an existing room
// keeps its membership.
func (t *Rooms) Ensure(id domain.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getOrCreate(id)
}

// AddPeer inserts the identity into the room's set, creating the room
// on first use, and reports whether the identity was newly added. A
// repeated join under the same identity is a membership no-op.
func (t *Rooms) AddPeer(id domain.RoomID, peer domain.PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.getOrCreate(id)
	_, exists := r.peers[peer]
	r.peers[peer] = struct{}{}
	r.lastActive = time.Now()
	if !exists {
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("peer", string(peer)).Msg("peer added")
	}
	return !exists
}

// RemovePeer drops the identity from the room's set; no-op if absent.
func (t *Rooms) RemovePeer(id domain.RoomID, peer domain.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[id]
	if !ok {
		return
	}
	if _, ok := r.peers[peer]; ok {
		delete(r.peers, peer)
		r.lastActive = time.Now()
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("peer", string(peer)).Msg("peer removed")
	}
}

// Snapshot returns a point-in-time copy of the room's membership. Order
// is unspecified. A missing room yields an empty slice.
func (t *Rooms) Snapshot(id domain.RoomID) []domain.PeerID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rooms[id]
	if !ok {
		return nil
	}
	out := make([]domain.PeerID, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	return out
}

// RoomsWithPeer scans every room for the identity. Disconnect cleanup
// is driven by this: the peer id doubles as the membership key, so each
// room returned here must emit a peer-left. Full scan is acceptable at
// the expected cardinality of tens of rooms.
func (t *Rooms) RoomsWithPeer(peer domain.PeerID) []domain.RoomID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.RoomID
	for id, r := range t.rooms {
		if _, ok := r.peers[peer]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (t *Rooms) PeerCount(id domain.RoomID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := t.rooms[id]; ok {
		return len(r.peers)
	}
	return 0
}

func (t *Rooms) List() []RoomInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RoomInfo, 0, len(t.rooms))
	for id, r := range t.rooms {
		out = append(out, RoomInfo{ID: id, PeerCount: len(r.peers)})
	}
	return out
}

// Drop removes a room entry if it is still empty. Only the janitor
// calls this; the emptiness re-check closes the window against a join
// landing between sweep selection and deletion.
func (t *Rooms) Drop(id domain.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rooms[id]; ok && len(r.peers) == 0 {
		delete(t.rooms, id)
	}
}

// idleEmptySince reports rooms that have been empty with no activity
// since the cutoff.
func (t *Rooms) idleEmptySince(cutoff time.Time) []domain.RoomID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.RoomID
	for id, r := range t.rooms {
		if len(r.peers) == 0 && r.lastActive.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}
