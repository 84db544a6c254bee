package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hsmehta/watchparty/internal/core"
	"github.com/hsmehta/watchparty/internal/domain"
)

// Coordinator is the protocol state machine. It owns the room table and
// connection registry and is their only writer. One instance per
// process, created at startup and handed to the transport adapter.
//
// mu serializes inbound events end-to-end: no two membership mutations
// for the same room may interleave, and an existing-peers snapshot must
// never observe a partial add. The reference protocol gets this for
// free from a single-threaded event loop; here one mutex across the
// whole handle path reproduces it. Fan-out inside the lock is fine
// because TrySend never blocks.
type Coordinator struct {
	mu       sync.Mutex
	Rooms    *Rooms
	Registry *Registry
}

func NewCoordinator(rooms *Rooms, registry *Registry) *Coordinator {
	return &Coordinator{Rooms: rooms, Registry: registry}
}

// OnConnect begins tracking a fresh connection. No room association yet;
// a connection that never joins never receives room-scoped fan-out.
func (c *Coordinator) OnConnect(id domain.ConnID, conn core.SignalConnection, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Registry.Bind(id, conn, cancel)
}

// OnEvent dispatches one inbound frame by event kind. Malformed frames
// are dropped: a relay fed by untrusted browsers must never let one bad
// message take down the coordinator serving every room.
func (c *Coordinator) OnEvent(id domain.ConnID, data core.Frame) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("conn", string(id)).Msg("bad json")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch env.Type {
	case core.EventJoin:
		c.handleJoin(id, data)
	case core.EventChatMessage:
		c.handleChat(id, data)
	case core.EventSetMediaURL:
		c.handleSetMediaURL(id, data)
	case core.EventPlay, core.EventPause:
		c.handlePlayback(id, env.Type, data)
	case core.EventSeek:
		c.handleSeek(id, data)
	case core.EventPing:
		c.handlePing(id)
	default:
		log.Warn().Str("module", "app.coordinator").Str("type", env.Type).Msg("unknown event")
	}
}

// OnDisconnect is raised by the transport, not by clients. Every room
// where the connection's identity is a member loses it and hears a
// peer-left. The scan covers all rooms because the peer id, not the
// conn id, is the membership key.
func (c *Coordinator) OnDisconnect(id domain.ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, peer, _, ok := c.Registry.Lookup(id)
	if !ok {
		return
	}
	// Tear down the connection-scoped context so both pumps exit; the
	// entry itself goes next.
	c.Registry.Cancel(id)
	c.Registry.Unbind(id)
	if peer == "" {
		return
	}

	for _, roomID := range c.Rooms.RoomsWithPeer(peer) {
		c.Rooms.RemovePeer(roomID, peer)
		c.emitToRoom(roomID, core.PeerLeft{
			Type:          core.EventPeerLeft,
			ParticipantID: peer,
		})
		log.Info().Str("module", "app.coordinator").Str("conn", string(id)).Str("room", string(roomID)).Str("peer", string(peer)).Msg("peer left")
	}
}

func (c *Coordinator) handleJoin(id domain.ConnID, data core.Frame) {
	var p core.JoinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Msg("bad join payload")
		return
	}
	if !domain.ValidRoomID(p.RoomID) || !domain.ValidPeerID(p.ParticipantID) {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(id)).Msg("join dropped: invalid room or participant id")
		return
	}

	roomID := domain.RoomID(p.RoomID)
	peer := domain.PeerID(p.ParticipantID)
	name := domain.ClampDisplayName(p.DisplayName)

	if !c.Registry.Associate(id, roomID, peer) {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(id)).Msg("join from unknown connection")
		return
	}
	c.Rooms.AddPeer(roomID, peer)

	// Notify the rest of the room first, reference order. A repeated
	// join under the same identity re-fires the notification even
	// though the set is unchanged.
	c.emitToRoomExcept(roomID, id, core.PeerJoined{
		Type:          core.EventPeerJoined,
		ParticipantID: peer,
		DisplayName:   name,
	})

	// Snapshot taken immediately after the add: the joiner sees its own
	// identity in the list and is expected to filter it out.
	c.emitTo(id, core.ExistingPeers{
		Type:         core.EventExistingPeers,
		Participants: c.Rooms.Snapshot(roomID),
	})

	log.Info().Str("module", "app.coordinator").Str("conn", string(id)).Str("room", string(roomID)).Str("peer", string(peer)).Str("name", name).Msg("joined room")
}

func (c *Coordinator) handleChat(id domain.ConnID, data core.Frame) {
	var p core.ChatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Msg("bad chat payload")
		return
	}
	if !domain.ValidRoomID(p.RoomID) {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(id)).Msg("chat dropped: invalid room id")
		return
	}
	c.emitToRoomExcept(domain.RoomID(p.RoomID), id, core.ChatRelay{
		Type:    core.EventChatMessage,
		Payload: p.Payload,
	})
}

func (c *Coordinator) handleSetMediaURL(id domain.ConnID, data core.Frame) {
	var p core.MediaURLPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Msg("bad media-url payload")
		return
	}
	if !domain.ValidRoomID(p.RoomID) {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(id)).Msg("media-url dropped: invalid room id")
		return
	}
	c.emitToRoomExcept(domain.RoomID(p.RoomID), id, core.MediaURLRelay{
		Type: core.EventSetMediaURL,
		URL:  p.URL,
	})
}

func (c *Coordinator) handlePlayback(id domain.ConnID, kind string, data core.Frame) {
	var p core.PlaybackPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("type", kind).Msg("bad playback payload")
		return
	}
	if !domain.ValidRoomID(p.RoomID) {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(id)).Str("type", kind).Msg("playback dropped: invalid room id")
		return
	}
	c.emitToRoomExcept(domain.RoomID(p.RoomID), id, core.PlaybackRelay{Type: kind})
}

func (c *Coordinator) handleSeek(id domain.ConnID, data core.Frame) {
	var p core.SeekPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Msg("bad seek payload")
		return
	}
	if !domain.ValidRoomID(p.RoomID) {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(id)).Msg("seek dropped: invalid room id")
		return
	}
	c.emitToRoomExcept(domain.RoomID(p.RoomID), id, core.SeekRelay{
		Type:        core.EventSeek,
		TimeSeconds: p.TimeSeconds,
	})
}

func (c *Coordinator) handlePing(id domain.ConnID) {
	c.emitTo(id, core.PlaybackRelay{Type: core.EventPong})
}

// emitTo unicasts to one connection. A send failure means the
// connection is effectively gone; never retried.
func (c *Coordinator) emitTo(id domain.ConnID, v any) {
	_, _, conn, ok := c.Registry.Lookup(id)
	if !ok {
		return
	}
	c.send(id, conn, v)
}

// emitToRoomExcept is the standard relay fan-out: every connection in
// the room except the sender, so no client echoes its own action back.
func (c *Coordinator) emitToRoomExcept(roomID domain.RoomID, except domain.ConnID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("marshal outbound")
		return
	}
	sent := 0
	for _, snap := range c.Registry.ConnsInRoom(roomID) {
		if snap.ID == except {
			continue
		}
		if err := snap.Conn.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "app.coordinator").Str("conn", string(snap.ID)).Msg("drop outbound")
			continue
		}
		sent++
	}
	log.Debug().Str("module", "app.coordinator").Str("room", string(roomID)).Int("sent_to", sent).Msg("fan-out")
}

// emitToRoom broadcasts to the whole room. Used for peer-left, whose
// subject connection is already unbound and so not a recipient anyway.
func (c *Coordinator) emitToRoom(roomID domain.RoomID, v any) {
	c.emitToRoomExcept(roomID, "", v)
}

func (c *Coordinator) send(id domain.ConnID, conn core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("marshal outbound")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("conn", string(id)).Msg("drop outbound")
	}
}
