package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
)

// Kind names a signaling event on the relay channel. The set is closed:
// decoding any other value fails with ErrUnknownSignal.
type Kind string

const (
	KindOffer        Kind = "webrtc_offer"
	KindAnswer       Kind = "webrtc_answer"
	KindICECandidate Kind = "webrtc_ice_candidate"
	KindJoinRoom     Kind = "join-audio-room"
	KindLeaveRoom    Kind = "leave-audio-room"
	KindMuteMic      Kind = "mute-mic"
	KindUnmuteMic    Kind = "unmute-mic"
	KindRoomReady    Kind = "audio-room-ready"
	KindPeerJoined   Kind = "peer-joined"
	KindPeerLeft     Kind = "peer-left"
	KindChat         Kind = "chat"
	KindTyping       Kind = "typing"
)

var ErrUnknownSignal = errors.New("unknown signal type")

// Payload is the tagged union of signaling payloads. Handlers switch on the
// concrete type; an unmatched type is a bug, not a runtime condition.
type Payload interface {
	Kind() Kind
}

type Offer struct {
	SDP webrtc.SessionDescription
}

func (Offer) Kind() Kind { return KindOffer }

type Answer struct {
	SDP webrtc.SessionDescription
}

func (Answer) Kind() Kind { return KindAnswer }

type ICECandidate struct {
	Candidate webrtc.ICECandidateInit
}

func (ICECandidate) Kind() Kind { return KindICECandidate }

type JoinRoom struct {
	DisplayName string
}

func (JoinRoom) Kind() Kind { return KindJoinRoom }

type LeaveRoom struct{}

func (LeaveRoom) Kind() Kind { return KindLeaveRoom }

type MuteMic struct{}

func (MuteMic) Kind() Kind { return KindMuteMic }

type UnmuteMic struct{}

func (UnmuteMic) Kind() Kind { return KindUnmuteMic }

type RoomReady struct{}

func (RoomReady) Kind() Kind { return KindRoomReady }

type PeerJoined struct {
	DisplayName string
}

func (PeerJoined) Kind() Kind { return KindPeerJoined }

type PeerLeft struct{}

func (PeerLeft) Kind() Kind { return KindPeerLeft }

type Chat struct {
	Body   string
	SentAt time.Time
}

func (Chat) Kind() Kind { return KindChat }

type Typing struct{}

func (Typing) Kind() Kind { return KindTyping }

// Signal is one message on the signaling channel: routing metadata plus a
// typed payload. Transient, never persisted.
type Signal struct {
	From string
	To   string
	Room string
	Body Payload
}

// envelope is the wire shape shared with the relay and the browser clients.
type envelope struct {
	Type        Kind                       `json:"type"`
	From        string                     `json:"fromUserId,omitempty"`
	To          string                     `json:"targetUserId,omitempty"`
	Room        string                     `json:"groupId,omitempty"`
	Offer       *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer      *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	DisplayName string                     `json:"displayName,omitempty"`
	Body        string                     `json:"body,omitempty"`
	SentAt      *time.Time                 `json:"sentAt,omitempty"`
}

func (s Signal) MarshalJSON() ([]byte, error) {
	if s.Body == nil {
		return nil, fmt.Errorf("marshal signal: %w: nil payload", ErrUnknownSignal)
	}

	env := envelope{
		Type: s.Body.Kind(),
		From: s.From,
		To:   s.To,
		Room: s.Room,
	}

	switch p := s.Body.(type) {
	case Offer:
		sdp := p.SDP
		env.Offer = &sdp
	case Answer:
		sdp := p.SDP
		env.Answer = &sdp
	case ICECandidate:
		cand := p.Candidate
		env.Candidate = &cand
	case JoinRoom:
		env.DisplayName = p.DisplayName
	case PeerJoined:
		env.DisplayName = p.DisplayName
	case Chat:
		env.Body = p.Body
		if !p.SentAt.IsZero() {
			sentAt := p.SentAt.UTC()
			env.SentAt = &sentAt
		}
	case LeaveRoom, MuteMic, UnmuteMic, RoomReady, PeerLeft, Typing:
	default:
		return nil, fmt.Errorf("marshal signal: %w: %T", ErrUnknownSignal, s.Body)
	}

	return json.Marshal(env)
}

func (s *Signal) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal signal: %w", err)
	}

	body, err := env.payload()
	if err != nil {
		return err
	}

	s.From = env.From
	s.To = env.To
	s.Room = env.Room
	s.Body = body
	return nil
}

func (e envelope) payload() (Payload, error) {
	switch e.Type {
	case KindOffer:
		if e.Offer == nil {
			return nil, errors.New("offer signal without sdp")
		}
		return Offer{SDP: *e.Offer}, nil
	case KindAnswer:
		if e.Answer == nil {
			return nil, errors.New("answer signal without sdp")
		}
		return Answer{SDP: *e.Answer}, nil
	case KindICECandidate:
		if e.Candidate == nil {
			return nil, errors.New("ice-candidate signal without candidate")
		}
		return ICECandidate{Candidate: *e.Candidate}, nil
	case KindJoinRoom:
		return JoinRoom{DisplayName: e.DisplayName}, nil
	case KindLeaveRoom:
		return LeaveRoom{}, nil
	case KindMuteMic:
		return MuteMic{}, nil
	case KindUnmuteMic:
		return UnmuteMic{}, nil
	case KindRoomReady:
		return RoomReady{}, nil
	case KindPeerJoined:
		return PeerJoined{DisplayName: e.DisplayName}, nil
	case KindPeerLeft:
		return PeerLeft{}, nil
	case KindChat:
		chat := Chat{Body: e.Body}
		if e.SentAt != nil {
			chat.SentAt = e.SentAt.UTC()
		}
		return chat, nil
	case KindTyping:
		return Typing{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, e.Type)
	}
}
