package relay

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iabtm/rtc-core/internal/domain"
	"github.com/iabtm/rtc-core/internal/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRelay(t *testing.T) (*Relay, *httptest.Server) {
	t.Helper()
	r := New(discardLogger())
	srv := httptest.NewServer(SetupRouter(r))
	t.Cleanup(srv.Close)
	return r, srv
}

func wsURL(srv *httptest.Server, roomID string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/rooms/" + roomID + "/ws"
}

// join dials the relay and performs the join handshake.
func join(t *testing.T, srv *httptest.Server, roomID, userID, displayName string) *transport.WSTransport {
	t.Helper()

	tr, err := transport.Dial(context.Background(), wsURL(srv, roomID), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	require.NoError(t, tr.Emit(context.Background(), domain.Signal{
		From: userID,
		Room: roomID,
		Body: domain.JoinRoom{DisplayName: displayName},
	}))
	return tr
}

// waitKind reads inbound signals until one of the wanted kind arrives.
func waitKind(t *testing.T, tr *transport.WSTransport, kind domain.Kind) domain.Signal {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case sig, ok := <-tr.Inbound():
			require.True(t, ok, "inbound closed while waiting for %s", kind)
			if sig.Body.Kind() == kind {
				return sig
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

// expectQuiet asserts no signal of the given kind arrives within the window.
func expectQuiet(t *testing.T, tr *transport.WSTransport, kind domain.Kind, window time.Duration) {
	t.Helper()

	deadline := time.After(window)
	for {
		select {
		case sig, ok := <-tr.Inbound():
			if !ok {
				return
			}
			if sig.Body.Kind() == kind {
				t.Fatalf("unexpected %s from %s", kind, sig.From)
			}
		case <-deadline:
			return
		}
	}
}

func TestHealthz(t *testing.T) {
	_, srv := startRelay(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJoinerGetsRoomReady(t *testing.T) {
	r, srv := startRelay(t)

	alice := join(t, srv, "room-1", "alice", "Alice")

	sig := waitKind(t, alice, domain.KindRoomReady)
	assert.Equal(t, "alice", sig.To)
	assert.Equal(t, "room-1", sig.Room)
	assert.Equal(t, 1, r.RoomSize("room-1"))
}

func TestNewPeerIsAnnouncedBothWays(t *testing.T) {
	_, srv := startRelay(t)

	alice := join(t, srv, "room-1", "alice", "Alice")
	waitKind(t, alice, domain.KindRoomReady)

	bob := join(t, srv, "room-1", "bob", "Bob")

	// Roster replay: bob learns about alice before his room-ready.
	sig := waitKind(t, bob, domain.KindPeerJoined)
	assert.Equal(t, "alice", sig.From)
	assert.Equal(t, "Alice", sig.Body.(domain.PeerJoined).DisplayName)
	waitKind(t, bob, domain.KindRoomReady)

	// Broadcast: alice learns about bob.
	sig = waitKind(t, alice, domain.KindPeerJoined)
	assert.Equal(t, "bob", sig.From)
	assert.Equal(t, "Bob", sig.Body.(domain.PeerJoined).DisplayName)
}

func TestTargetedSignalReachesOnlyItsPeer(t *testing.T) {
	_, srv := startRelay(t)

	alice := join(t, srv, "room-1", "alice", "Alice")
	bob := join(t, srv, "room-1", "bob", "Bob")
	carol := join(t, srv, "room-1", "carol", "Carol")

	waitKind(t, alice, domain.KindRoomReady)
	waitKind(t, bob, domain.KindRoomReady)
	waitKind(t, carol, domain.KindRoomReady)

	mid := "0"
	require.NoError(t, alice.Emit(context.Background(), domain.Signal{
		To: "bob",
		Body: domain.ICECandidate{Candidate: webrtc.ICECandidateInit{
			Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host",
			SDPMid:    &mid,
		}},
	}))

	sig := waitKind(t, bob, domain.KindICECandidate)
	assert.Equal(t, "alice", sig.From, "relay stamps the sender id")
	assert.Equal(t, "room-1", sig.Room)

	expectQuiet(t, carol, domain.KindICECandidate, 200*time.Millisecond)
}

func TestChatIsBroadcastToEveryoneElse(t *testing.T) {
	_, srv := startRelay(t)

	alice := join(t, srv, "room-1", "alice", "Alice")
	bob := join(t, srv, "room-1", "bob", "Bob")

	waitKind(t, alice, domain.KindRoomReady)
	waitKind(t, bob, domain.KindRoomReady)

	require.NoError(t, alice.Emit(context.Background(), domain.Signal{
		Body: domain.Chat{Body: "hello room", SentAt: time.Now().UTC()},
	}))

	sig := waitKind(t, bob, domain.KindChat)
	assert.Equal(t, "alice", sig.From)
	assert.Equal(t, "hello room", sig.Body.(domain.Chat).Body)

	expectQuiet(t, alice, domain.KindChat, 200*time.Millisecond)
}

func TestLeaveBroadcastsPeerLeft(t *testing.T) {
	r, srv := startRelay(t)

	alice := join(t, srv, "room-1", "alice", "Alice")
	bob := join(t, srv, "room-1", "bob", "Bob")

	waitKind(t, alice, domain.KindRoomReady)
	waitKind(t, bob, domain.KindRoomReady)
	waitKind(t, alice, domain.KindPeerJoined)

	require.NoError(t, bob.Emit(context.Background(), domain.Signal{Body: domain.LeaveRoom{}}))

	sig := waitKind(t, alice, domain.KindPeerLeft)
	assert.Equal(t, "bob", sig.From)

	assert.Eventually(t, func() bool { return r.RoomSize("room-1") == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestDisconnectCountsAsLeave(t *testing.T) {
	r, srv := startRelay(t)

	alice := join(t, srv, "room-1", "alice", "Alice")
	bob := join(t, srv, "room-1", "bob", "Bob")

	waitKind(t, alice, domain.KindRoomReady)
	waitKind(t, bob, domain.KindRoomReady)

	require.NoError(t, bob.Close())

	sig := waitKind(t, alice, domain.KindPeerLeft)
	assert.Equal(t, "bob", sig.From)

	assert.Eventually(t, func() bool { return r.RoomSize("room-1") == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestEnqueueAfterUnregisterDoesNotPanic(t *testing.T) {
	r := New(discardLogger())
	rm := r.getOrCreateRoom("room-1")

	alice := newClient("alice", "Alice", nil)
	bob := newClient("bob", "Bob", nil)
	r.register(rm, alice)
	r.register(rm, bob)

	r.unregister(rm, bob)

	// A broadcast that snapshotted the roster before bob left may still
	// try to deliver to him.
	assert.NotPanics(t, func() {
		bob.enqueue(domain.Signal{From: "alice", Room: "room-1", Body: domain.Typing{}})
	})
	assert.NotPanics(t, func() {
		r.broadcast(rm, domain.Signal{From: "alice", Room: "room-1", Body: domain.Typing{}}, "alice")
	})
}

func TestRoomsAreIsolated(t *testing.T) {
	r, srv := startRelay(t)

	alice := join(t, srv, "room-1", "alice", "Alice")
	bob := join(t, srv, "room-2", "bob", "Bob")

	waitKind(t, alice, domain.KindRoomReady)
	waitKind(t, bob, domain.KindRoomReady)

	assert.Equal(t, 1, r.RoomSize("room-1"))
	assert.Equal(t, 1, r.RoomSize("room-2"))

	require.NoError(t, alice.Emit(context.Background(), domain.Signal{
		Body: domain.Chat{Body: "wrong room"},
	}))

	expectQuiet(t, bob, domain.KindChat, 200*time.Millisecond)
}
