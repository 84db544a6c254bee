// Package domain contains entity identifiers without logic, just meta-data.
package domain

const (
	MaxRoomIDLen      = 64
	MaxPeerIDLen      = 64
	MaxDisplayNameLen = 36
)

// RoomID is a client-chosen room identifier. Opaque, never validated
// for collision.
type RoomID string

// PeerID is the identity a participant joins under. It is assigned by
// the client's media-negotiation library; the server never inspects its
// format, only its length.
type PeerID string

// ConnID is the transport-assigned identifier of one live connection.
// Globally unique, unlike PeerID which is only unique within a room.
type ConnID string

// ValidRoomID reports whether a room identifier is usable as a
// membership key.
func ValidRoomID(s string) bool {
	return s != "" && len(s) <= MaxRoomIDLen
}

// ValidPeerID reports whether a participant identity is usable as a
// membership key.
func ValidPeerID(s string) bool {
	return s != "" && len(s) <= MaxPeerIDLen
}

// ClampDisplayName truncates over-long display names rather than
// rejecting the join outright.
func ClampDisplayName(s string) string {
	if len(s) > MaxDisplayNameLen {
		return s[:MaxDisplayNameLen]
	}
	return s
}
