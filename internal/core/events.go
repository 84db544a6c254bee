package core

import (
	"encoding/json"

	"github.com/hsmehta/watchparty/internal/domain"
)

// Wire event names. Inbound names are what clients send; outbound names
// are what the coordinator fans out. Both sides of the protocol must
// agree on these strings and the payload field names below.
const (
	EventJoin        = "join"
	EventChatMessage = "chat-message"
	EventSetMediaURL = "set-media-url"
	EventPlay        = "play"
	EventPause       = "pause"
	EventSeek        = "seek"
	EventPing        = "ping"

	EventPeerJoined    = "peer-joined"
	EventExistingPeers = "existing-peers"
	EventPeerLeft      = "peer-left"
	EventPong          = "pong"
)

// Envelope is the first-pass decode of any inbound frame; the type tag
// selects which payload struct the frame is decoded into next.
type Envelope struct {
	Type string `json:"type"`
}

type JoinPayload struct {
	Type          string `json:"type"`
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName,omitempty"`
}

// ChatPayload carries the chat body as raw JSON: the relay forwards it
// unmodified and never interprets it.
type ChatPayload struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

type MediaURLPayload struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	URL    string `json:"url"`
}

// PlaybackPayload covers play and pause, which carry only the room.
type PlaybackPayload struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type SeekPayload struct {
	Type        string  `json:"type"`
	RoomID      string  `json:"roomId"`
	TimeSeconds float64 `json:"timeSeconds"`
}

// Outbound events.

type PeerJoined struct {
	Type          string        `json:"type"`
	ParticipantID domain.PeerID `json:"participantId"`
	DisplayName   string        `json:"displayName,omitempty"`
}

// ExistingPeers is the unicast reply to a join. The list is the room's
// membership immediately after the add, so it includes the joiner's own
// identity; clients filter themselves out.
type ExistingPeers struct {
	Type         string          `json:"type"`
	Participants []domain.PeerID `json:"participants"`
}

type ChatRelay struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type MediaURLRelay struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type PlaybackRelay struct {
	Type string `json:"type"`
}

type SeekRelay struct {
	Type        string  `json:"type"`
	TimeSeconds float64 `json:"timeSeconds"`
}

type PeerLeft struct {
	Type          string        `json:"type"`
	ParticipantID domain.PeerID `json:"participantId"`
}
