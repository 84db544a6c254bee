package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hsmehta/watchparty/internal/core"
	"github.com/hsmehta/watchparty/internal/domain"
)

// fakeConn records every frame the coordinator emits to it.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	reject bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {}

// events decodes every recorded frame into a generic map.
func (f *fakeConn) events(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(fr, &m); err != nil {
			t.Fatalf("emitted frame is not valid JSON: %v", err)
		}
		out = append(out, m)
	}
	return out
}

// lastOfType returns the most recent emitted event of the given type.
func (f *fakeConn) lastOfType(t *testing.T, typ string) map[string]any {
	t.Helper()
	var found map[string]any
	for _, e := range f.events(t) {
		if e["type"] == typ {
			found = e
		}
	}
	if found == nil {
		t.Fatalf("no %q event emitted, got %v", typ, f.events(t))
	}
	return found
}

func (f *fakeConn) countOfType(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, e := range f.events(t) {
		if e["type"] == typ {
			n++
		}
	}
	return n
}

func newTestCoordinator() *Coordinator {
	return NewCoordinator(NewRooms(), NewRegistry())
}

// connect registers a fake connection under the given id.
func connect(c *Coordinator, id domain.ConnID) *fakeConn {
	conn := &fakeConn{}
	c.OnConnect(id, conn, nil)
	return conn
}

func join(c *Coordinator, id domain.ConnID, room, peer, name string) {
	c.OnEvent(id, frame(`{"type":"join","roomId":%q,"participantId":%q,"displayName":%q}`, room, peer, name))
}

func frame(format string, args ...any) core.Frame {
	return core.Frame(fmt.Sprintf(format, args...))
}

func TestCoordinator(t *testing.T) {
	t.Run("WatchPartyScenario", testWatchPartyScenario)
	t.Run("RelayFanOut", testRelayFanOut)
	t.Run("ExistingPeersIncludesSelf", testExistingPeersIncludesSelf)
	t.Run("DuplicateJoinNotifiesAgain", testDuplicateJoinNotifiesAgain)
	t.Run("MalformedEventsDropped", testMalformedEventsDropped)
	t.Run("UnknownRoomIsNoop", testUnknownRoomIsNoop)
	t.Run("InvalidRoomRelaysLogged", testInvalidRoomRelaysLogged)
	t.Run("DisconnectWithoutJoin", testDisconnectWithoutJoin)
	t.Run("DisconnectFiresCancel", testDisconnectFiresCancel)
	t.Run("DisconnectCleansEveryRoom", testDisconnectCleansEveryRoom)
	t.Run("DeadConnectionSkipped", testDeadConnectionSkipped)
	t.Run("PingPong", testPingPong)
}

// The end-to-end walk from the protocol description: two participants,
// one seek, one disconnect.
func testWatchPartyScenario(t *testing.T) {
	coord := newTestCoordinator()

	connA := connect(coord, "conn-a")
	join(coord, "conn-a", "abc123", "peerA", "Alice")

	connB := connect(coord, "conn-b")
	join(coord, "conn-b", "abc123", "peerB", "Bob")

	// B's existing-peers reply holds both identities, B's own included.
	reply := connB.lastOfType(t, core.EventExistingPeers)
	peers, _ := reply["participants"].([]any)
	if len(peers) != 2 {
		t.Fatalf("existing-peers = %v, want peerA and peerB", peers)
	}

	// A hears about B.
	joined := connA.lastOfType(t, core.EventPeerJoined)
	if joined["participantId"] != "peerB" || joined["displayName"] != "Bob" {
		t.Errorf("peer-joined = %v, want peerB/Bob", joined)
	}

	// A seeks; B receives it, A hears nothing back.
	before := len(connA.events(t))
	coord.OnEvent("conn-a", frame(`{"type":"seek","roomId":"abc123","timeSeconds":42.5}`))
	seek := connB.lastOfType(t, core.EventSeek)
	if seek["timeSeconds"] != 42.5 {
		t.Errorf("seek relayed %v, want 42.5", seek["timeSeconds"])
	}
	if got := len(connA.events(t)); got != before {
		t.Errorf("sender received its own seek (%d new events)", got-before)
	}

	// A disconnects; B hears peer-left and the room shrinks.
	coord.OnDisconnect("conn-a")
	left := connB.lastOfType(t, core.EventPeerLeft)
	if left["participantId"] != "peerA" {
		t.Errorf("peer-left = %v, want peerA", left)
	}
	snap := coord.Rooms.Snapshot("abc123")
	if len(snap) != 1 || snap[0] != "peerB" {
		t.Errorf("snapshot after disconnect = %v, want [peerB]", snap)
	}
}

// Every relay event reaches exactly the room minus the sender, payload
// unmodified.
func testRelayFanOut(t *testing.T) {
	coord := newTestCoordinator()

	conns := make(map[domain.ConnID]*fakeConn)
	for i := 0; i < 4; i++ {
		id := domain.ConnID(fmt.Sprintf("conn-%d", i))
		conns[id] = connect(coord, id)
		join(coord, id, "abc123", fmt.Sprintf("peer-%d", i), "")
	}

	cases := []struct {
		name    string
		inbound core.Frame
		out     string
		field   string
		want    any
	}{
		{"Chat", frame(`{"type":"chat-message","roomId":"abc123","payload":{"text":"hi"}}`), core.EventChatMessage, "payload", map[string]any{"text": "hi"}},
		{"SetMediaURL", frame(`{"type":"set-media-url","roomId":"abc123","url":"https://v/1.mp4"}`), core.EventSetMediaURL, "url", "https://v/1.mp4"},
		{"Play", frame(`{"type":"play","roomId":"abc123"}`), core.EventPlay, "", nil},
		{"Pause", frame(`{"type":"pause","roomId":"abc123"}`), core.EventPause, "", nil},
		{"Seek", frame(`{"type":"seek","roomId":"abc123","timeSeconds":7}`), core.EventSeek, "timeSeconds", 7.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coord.OnEvent("conn-0", tc.inbound)

			if got := conns["conn-0"].countOfType(t, tc.out); got != 0 {
				t.Errorf("sender received %d of its own %s", got, tc.out)
			}
			for id, conn := range conns {
				if id == "conn-0" {
					continue
				}
				if got := conn.countOfType(t, tc.out); got != 1 {
					t.Fatalf("%s received %d %s events, want 1", id, got, tc.out)
				}
				if tc.field == "" {
					continue
				}
				ev := conn.lastOfType(t, tc.out)
				if fmt.Sprint(ev[tc.field]) != fmt.Sprint(tc.want) {
					t.Errorf("%s payload %s = %v, want %v", tc.out, tc.field, ev[tc.field], tc.want)
				}
			}
		})
	}
}

func testExistingPeersIncludesSelf(t *testing.T) {
	coord := newTestCoordinator()
	conn := connect(coord, "conn-a")
	join(coord, "conn-a", "abc123", "peerA", "")

	reply := conn.lastOfType(t, core.EventExistingPeers)
	peers, _ := reply["participants"].([]any)
	if len(peers) != 1 || peers[0] != "peerA" {
		t.Fatalf("existing-peers = %v, want the joiner's own id", peers)
	}
}

func testDuplicateJoinNotifiesAgain(t *testing.T) {
	coord := newTestCoordinator()
	connect(coord, "conn-a")
	join(coord, "conn-a", "abc123", "peerA", "")

	other := connect(coord, "conn-b")
	join(coord, "conn-b", "abc123", "peerB", "")

	// Same identity joins again: membership unchanged, notification
	// still fires.
	join(coord, "conn-a", "abc123", "peerA", "")

	if got := len(coord.Rooms.Snapshot("abc123")); got != 2 {
		t.Errorf("snapshot len = %d, want 2 after duplicate join", got)
	}
	if got := other.countOfType(t, core.EventPeerJoined); got != 1 {
		t.Errorf("peer-joined count = %d, want 1 (the re-join)", got)
	}
}

func testMalformedEventsDropped(t *testing.T) {
	coord := newTestCoordinator()
	connA := connect(coord, "conn-a")
	join(coord, "conn-a", "abc123", "peerA", "")
	connB := connect(coord, "conn-b")

	before := len(connA.events(t))
	bad := []core.Frame{
		core.Frame(`not json at all`),
		frame(`{"type":"join","roomId":"","participantId":"peerB"}`),
		frame(`{"type":"join","roomId":"abc123","participantId":""}`),
		frame(`{"type":"seek","participantId":"x"}`),
		frame(`{"type":"chat-message"}`),
		frame(`{"type":"no-such-event","roomId":"abc123"}`),
	}
	for _, b := range bad {
		coord.OnEvent("conn-b", b)
	}

	if got := len(connA.events(t)); got != before {
		t.Errorf("malformed events reached the room: %d new events", got-before)
	}
	if got := len(connB.events(t)); got != 0 {
		t.Errorf("offending connection received %d events, want 0", got)
	}
	if got := len(coord.Rooms.Snapshot("abc123")); got != 1 {
		t.Errorf("membership changed by malformed joins: %d peers", got)
	}
}

func testUnknownRoomIsNoop(t *testing.T) {
	coord := newTestCoordinator()
	connect(coord, "conn-a")

	// Relay into a room nobody tracks: zero recipients, no error, no
	// room springs into existence.
	coord.OnEvent("conn-a", frame(`{"type":"play","roomId":"nowhere"}`))

	for _, info := range coord.Rooms.List() {
		if info.ID == "nowhere" {
			t.Error("relay created a room")
		}
	}
}

// Relay events with an unusable room id are dropped AND logged, same
// as the join path.
func testInvalidRoomRelaysLogged(t *testing.T) {
	var buf bytes.Buffer
	old := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = old }()

	coord := newTestCoordinator()
	connect(coord, "conn-a")
	buf.Reset()

	inbound := []core.Frame{
		frame(`{"type":"chat-message","roomId":"","payload":{}}`),
		frame(`{"type":"set-media-url","roomId":"","url":"https://v/1.mp4"}`),
		frame(`{"type":"play","roomId":""}`),
		frame(`{"type":"seek","roomId":"","timeSeconds":1}`),
	}
	for _, f := range inbound {
		coord.OnEvent("conn-a", f)
	}

	for _, want := range []string{"chat dropped", "media-url dropped", "playback dropped", "seek dropped"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("no drop log containing %q", want)
		}
	}
}

func testDisconnectWithoutJoin(t *testing.T) {
	coord := newTestCoordinator()
	connect(coord, "conn-a")

	coord.OnDisconnect("conn-a")
	coord.OnDisconnect("conn-a") // double disconnect is harmless

	if got := coord.Registry.ConnCount(); got != 0 {
		t.Errorf("conn count = %d, want 0", got)
	}
}

// Disconnect must release the connection-scoped context, joined or
// not, or every closed websocket leaks its context node for the
// process lifetime.
func testDisconnectFiresCancel(t *testing.T) {
	coord := newTestCoordinator()

	joinedFired := false
	coord.OnConnect("conn-a", &fakeConn{}, func() { joinedFired = true })
	join(coord, "conn-a", "abc123", "peerA", "")

	idleFired := false
	coord.OnConnect("conn-b", &fakeConn{}, func() { idleFired = true })

	coord.OnDisconnect("conn-a")
	coord.OnDisconnect("conn-b")

	if !joinedFired {
		t.Error("cancel did not fire for a joined connection")
	}
	if !idleFired {
		t.Error("cancel did not fire for a never-joined connection")
	}
}

// A single identity present in several rooms gets a peer-left in each.
func testDisconnectCleansEveryRoom(t *testing.T) {
	coord := newTestCoordinator()

	connect(coord, "conn-a")
	join(coord, "conn-a", "room1", "peerA", "")
	join(coord, "conn-a", "room2", "peerA", "")

	watchers := map[domain.ConnID]*fakeConn{}
	for id, room := range map[domain.ConnID]string{"conn-b": "room1", "conn-c": "room2"} {
		watchers[id] = connect(coord, id)
		join(coord, id, room, "peer-"+string(id), "")
	}

	coord.OnDisconnect("conn-a")

	for id, conn := range watchers {
		left := conn.lastOfType(t, core.EventPeerLeft)
		if left["participantId"] != "peerA" {
			t.Errorf("%s saw peer-left %v, want peerA", id, left)
		}
	}
	if hasPeer(coord.Rooms.Snapshot("room1"), "peerA") || hasPeer(coord.Rooms.Snapshot("room2"), "peerA") {
		t.Error("peerA still present after disconnect")
	}
}

// A recipient that rejects the send is skipped, never retried, and the
// rest of the room still gets the event.
func testDeadConnectionSkipped(t *testing.T) {
	coord := newTestCoordinator()

	connect(coord, "conn-a")
	join(coord, "conn-a", "abc123", "peerA", "")

	dead := connect(coord, "conn-b")
	dead.reject = true
	join(coord, "conn-b", "abc123", "peerB", "")

	healthy := connect(coord, "conn-c")
	join(coord, "conn-c", "abc123", "peerC", "")

	coord.OnEvent("conn-a", frame(`{"type":"play","roomId":"abc123"}`))

	if got := healthy.countOfType(t, core.EventPlay); got != 1 {
		t.Errorf("healthy connection got %d play events, want 1", got)
	}
}

func testPingPong(t *testing.T) {
	coord := newTestCoordinator()
	conn := connect(coord, "conn-a")

	coord.OnEvent("conn-a", frame(`{"type":"ping"}`))
	if got := conn.countOfType(t, core.EventPong); got != 1 {
		t.Errorf("pong count = %d, want 1", got)
	}
}
