package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalRoundTripOffer(t *testing.T) {
	in := Signal{
		From: "alice",
		To:   "bob",
		Room: "room-1",
		Body: Offer{SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Signal
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestSignalRoundTripCandidate(t *testing.T) {
	mid := "0"
	in := Signal{
		From: "bob",
		To:   "alice",
		Room: "room-1",
		Body: ICECandidate{Candidate: webrtc.ICECandidateInit{
			Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host",
			SDPMid:    &mid,
		}},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Signal
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestSignalRoundTripChat(t *testing.T) {
	in := Signal{
		From: "alice",
		Room: "room-1",
		Body: Chat{Body: "hello", SentAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Signal
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestSignalWireShape(t *testing.T) {
	sig := Signal{
		From: "alice",
		Room: "room-1",
		Body: JoinRoom{DisplayName: "Alice"},
	}

	data, err := json.Marshal(sig)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "join-audio-room", raw["type"])
	assert.Equal(t, "alice", raw["fromUserId"])
	assert.Equal(t, "room-1", raw["groupId"])
	assert.Equal(t, "Alice", raw["displayName"])
	assert.NotContains(t, raw, "targetUserId", "empty routing fields stay off the wire")
	assert.NotContains(t, raw, "offer")
}

func TestSignalBareKinds(t *testing.T) {
	for _, body := range []Payload{
		LeaveRoom{}, MuteMic{}, UnmuteMic{}, RoomReady{}, PeerLeft{}, Typing{},
	} {
		in := Signal{From: "alice", Room: "room-1", Body: body}

		data, err := json.Marshal(in)
		require.NoError(t, err, "%s", body.Kind())

		var out Signal
		require.NoError(t, json.Unmarshal(data, &out), "%s", body.Kind())
		assert.Equal(t, body, out.Body, "%s", body.Kind())
	}
}

func TestSignalUnknownType(t *testing.T) {
	var sig Signal
	err := json.Unmarshal([]byte(`{"type":"screen-share","fromUserId":"alice"}`), &sig)
	assert.ErrorIs(t, err, ErrUnknownSignal)
}

func TestSignalNilPayload(t *testing.T) {
	_, err := json.Marshal(Signal{From: "alice"})
	assert.ErrorIs(t, err, ErrUnknownSignal)
}

func TestSignalOfferWithoutSDP(t *testing.T) {
	var sig Signal
	err := json.Unmarshal([]byte(`{"type":"webrtc_offer","fromUserId":"alice"}`), &sig)
	assert.Error(t, err)
}
