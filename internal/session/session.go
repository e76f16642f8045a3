package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iabtm/rtc-core/internal/bus"
	"github.com/iabtm/rtc-core/internal/domain"
	"github.com/iabtm/rtc-core/internal/peer"
	"github.com/iabtm/rtc-core/internal/ratelimit"
	"github.com/iabtm/rtc-core/internal/ringbuf"
	"github.com/iabtm/rtc-core/internal/transport"
	"github.com/iabtm/rtc-core/lib/logger/sl"
)

type Config struct {
	UserID      string
	DisplayName string
	RoomID      string
	STUNServers []string

	Policies         map[ratelimit.Action]ratelimit.Policy
	VoiceWindow      int
	SpeakThreshold   float64
	SilenceThreshold float64
}

// ChatEvent is the bus payload for chat and typing topics.
type ChatEvent struct {
	From   string
	Body   string
	SentAt time.Time
}

// MuteEvent is the bus payload for remote mute changes.
type MuteEvent struct {
	PeerID string
	Muted  bool
}

// Session is the explicitly constructed context object tying one user's
// room membership together: transport, peer manager, lifecycle machine,
// limiters, voice detection and the event bus. Nothing in this package is
// a singleton; two sessions in one process do not share state.
type Session struct {
	log     *slog.Logger
	cfg     Config
	tr      transport.Transport
	machine *Machine
	peers   *peer.Manager
	events  *bus.Bus
	limits  *ratelimit.Registry
	voice   *ringbuf.VoiceActivity

	mu           sync.RWMutex
	participants map[string]*domain.Participant

	startOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config, tr transport.Transport, log *slog.Logger) (*Session, error) {
	if cfg.UserID == "" {
		return nil, errors.New("session: user id is required")
	}
	if cfg.RoomID == "" {
		return nil, errors.New("session: room id is required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("room_id", cfg.RoomID), slog.String("user_id", cfg.UserID))

	s := &Session{
		log:          log,
		cfg:          cfg,
		tr:           tr,
		events:       bus.New(log),
		limits:       ratelimit.NewRegistry(cfg.Policies),
		voice:        ringbuf.NewVoiceActivity(cfg.VoiceWindow, cfg.SpeakThreshold, cfg.SilenceThreshold),
		participants: make(map[string]*domain.Participant),
	}

	s.machine = NewMachine(s.emitLifecycle, log)
	s.machine.SubscribeAny(func(state State) {
		s.events.Publish(bus.TopicStateChanged, state)
	})

	s.peers = peer.NewManager(peer.Config{
		SelfID:      cfg.UserID,
		RoomID:      cfg.RoomID,
		STUNServers: cfg.STUNServers,
	}, tr.Emit, log)

	s.peers.OnPeerConnected(func(remoteID string) {
		// First media path up moves connecting to live; afterwards this
		// is a no-op rejection.
		_ = s.machine.Trigger(EventConnectionEstablished)
	})
	s.peers.OnPeerFailure(func(remoteID string) {
		s.log.Warn("peer connection failed", slog.String("remote_id", remoteID))
		s.events.Publish(bus.TopicError, remoteID)
		_ = s.machine.Trigger(EventErrorOccurred)
	})

	return s, nil
}

// Join requests room membership and starts draining inbound signaling.
func (s *Session) Join(ctx context.Context) error {
	const op = "session.Session.Join"

	if !s.limits.Allow(ratelimit.ActionRoomJoin, s.cfg.UserID) {
		return fmt.Errorf("%s: %w", op, ratelimit.ErrRateLimited)
	}
	if err := s.machine.Trigger(EventJoinRoom); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.dispatch(ctx)
	})
	return nil
}

// Leave tears the session down: every pending connection attempt is
// cancelled by closing its peer connection, buffers and limiters tied to
// the session are cleared.
func (s *Session) Leave(ctx context.Context) error {
	const op = "session.Session.Leave"

	if err := s.machine.Trigger(EventLeaveRoom); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.peers.CloseAll()
	s.voice.Clear()
	s.limits.Reset(s.cfg.UserID)

	s.mu.Lock()
	s.participants = make(map[string]*domain.Participant)
	s.mu.Unlock()

	// Closing the transport ends the dispatch loop, which records the
	// CONNECTION_LOST transition into ended.
	return s.tr.Close()
}

// ToggleMute flips the local mute state, picking the event the machine
// will accept for the current state.
func (s *Session) ToggleMute() error {
	const op = "session.Session.ToggleMute"

	if !s.limits.Allow(ratelimit.ActionMicToggle, s.cfg.UserID) {
		return fmt.Errorf("%s: %w", op, ratelimit.ErrRateLimited)
	}

	event := EventMuteMic
	if s.machine.State() == StateMuted {
		event = EventUnmuteMic
	}
	if err := s.machine.Trigger(event); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendMessage emits a chat message, gated by the message token bucket.
func (s *Session) SendMessage(ctx context.Context, body string) error {
	const op = "session.Session.SendMessage"

	return s.limits.Do(ratelimit.ActionMessage, s.cfg.UserID, func() error {
		sig := domain.Signal{
			From: s.cfg.UserID,
			Room: s.cfg.RoomID,
			Body: domain.Chat{Body: body, SentAt: time.Now().UTC()},
		}
		if err := s.tr.Emit(ctx, sig); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

// Typing emits a typing indicator, smoothed by the leaky bucket.
func (s *Session) Typing(ctx context.Context) error {
	const op = "session.Session.Typing"

	return s.limits.Do(ratelimit.ActionTyping, s.cfg.UserID, func() error {
		sig := domain.Signal{
			From: s.cfg.UserID,
			Room: s.cfg.RoomID,
			Body: domain.Typing{},
		}
		if err := s.tr.Emit(ctx, sig); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

// PushAudioLevel feeds one captured level sample into voice detection and
// drives the speaking transitions off the rolling window.
func (s *Session) PushAudioLevel(level float64) {
	s.voice.Push(level)

	switch s.machine.State() {
	case StateLive:
		if s.voice.IsSpeaking() {
			if err := s.machine.Trigger(EventStartSpeaking); err == nil {
				s.events.Publish(bus.TopicSpeaking, true)
			}
		}
	case StateSpeaking:
		if s.voice.IsSilent() {
			if err := s.machine.Trigger(EventStopSpeaking); err == nil {
				s.events.Publish(bus.TopicSpeaking, false)
			}
		}
	}
}

// Reset returns a terminal machine to idle so the user can rejoin.
func (s *Session) Reset() error {
	return s.machine.Trigger(EventReset)
}

func (s *Session) Machine() *Machine { return s.machine }

func (s *Session) Events() *bus.Bus { return s.events }

func (s *Session) Peers() *peer.Manager { return s.peers }

func (s *Session) Participants() []*domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}

// Wait blocks until the dispatch loop has finished.
func (s *Session) Wait() { s.wg.Wait() }

// emitLifecycle is the machine's transition action: it turns the table's
// emit column into signaling messages.
func (s *Session) emitLifecycle(kind domain.Kind) {
	var body domain.Payload
	switch kind {
	case domain.KindJoinRoom:
		body = domain.JoinRoom{DisplayName: s.cfg.DisplayName}
	case domain.KindLeaveRoom:
		body = domain.LeaveRoom{}
	case domain.KindMuteMic:
		body = domain.MuteMic{}
	case domain.KindUnmuteMic:
		body = domain.UnmuteMic{}
	case domain.KindRoomReady:
		body = domain.RoomReady{}
	default:
		return
	}

	sig := domain.Signal{From: s.cfg.UserID, Room: s.cfg.RoomID, Body: body}
	if err := s.tr.Emit(context.Background(), sig); err != nil {
		s.log.Warn("failed to emit lifecycle signal",
			slog.String("kind", string(kind)), sl.Err(err))
	}
}

// dispatch is the single consumer of inbound signaling. Per-peer ordering
// follows from there being exactly one loop.
func (s *Session) dispatch(ctx context.Context) {
	defer s.wg.Done()

	for sig := range s.tr.Inbound() {
		if sig.From == s.cfg.UserID {
			continue
		}
		s.handleSignal(ctx, sig)
	}

	// Inbound closed: expected while disconnecting, a transport failure
	// anywhere else.
	if err := s.machine.Trigger(EventConnectionLost); err != nil {
		switch s.machine.State() {
		case StateIdle, StateEnded:
			// Leaving from a pre-live state already returned the machine
			// to rest; losing the transport afterwards is not an error.
		default:
			_ = s.machine.Trigger(EventErrorOccurred)
		}
	}
}

func (s *Session) handleSignal(ctx context.Context, sig domain.Signal) {
	switch body := sig.Body.(type) {
	case domain.RoomReady:
		_ = s.machine.Trigger(EventConnectionEstablished)
		// Nobody to negotiate with means the room is live immediately.
		if len(s.Participants()) == 0 {
			_ = s.machine.Trigger(EventConnectionEstablished)
		}

	case domain.PeerJoined:
		s.addParticipant(sig.From, body.DisplayName)
		s.events.Publish(bus.TopicPeerJoined, sig.From)

		if err := s.peers.EnsureConnection(sig.From); err != nil {
			s.failPeer(sig.From, err)
			return
		}
		// Deterministic initiator choice avoids offer glare: the lower
		// user id offers, the other side answers.
		if s.cfg.UserID < sig.From {
			if err := s.peers.InitiateOffer(ctx, sig.From); err != nil {
				s.failPeer(sig.From, err)
			}
		}

	case domain.PeerLeft:
		_ = s.peers.CloseConnection(sig.From)
		s.removeParticipant(sig.From)
		s.events.Publish(bus.TopicPeerLeft, sig.From)

	case domain.Offer:
		if err := s.peers.HandleRemoteOffer(ctx, sig.From, body.SDP); err != nil {
			s.failPeer(sig.From, err)
		}

	case domain.Answer:
		if err := s.peers.HandleRemoteAnswer(sig.From, body.SDP); err != nil {
			s.failPeer(sig.From, err)
		}

	case domain.ICECandidate:
		_ = s.peers.HandleRemoteCandidate(sig.From, body.Candidate)

	case domain.MuteMic:
		s.setParticipantMuted(sig.From, true)

	case domain.UnmuteMic:
		s.setParticipantMuted(sig.From, false)

	case domain.Chat:
		s.events.Publish(bus.TopicChat, ChatEvent{
			From:   sig.From,
			Body:   body.Body,
			SentAt: body.SentAt,
		})

	case domain.Typing:
		s.events.Publish(bus.TopicTyping, ChatEvent{From: sig.From})

	default:
		s.log.Debug("ignoring signal",
			slog.String("type", string(sig.Body.Kind())),
			slog.String("from", sig.From),
		)
	}
}

// failPeer contains a negotiation failure to one connection: log it, close
// that link, leave everyone else alone.
func (s *Session) failPeer(remoteID string, err error) {
	s.log.Warn("peer negotiation failed",
		slog.String("remote_id", remoteID), sl.Err(err))
	_ = s.peers.CloseConnection(remoteID)
	s.events.Publish(bus.TopicError, remoteID)
}

func (s *Session) addParticipant(id, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.participants[id]; ok {
		existing.Touch()
		return
	}
	s.participants[id] = domain.NewParticipant(id, displayName)
}

func (s *Session) removeParticipant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, id)
}

func (s *Session) setParticipantMuted(id string, muted bool) {
	s.mu.RLock()
	p, ok := s.participants[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	p.SetMuted(muted)
	s.events.Publish(bus.TopicRemoteMute, MuteEvent{PeerID: id, Muted: muted})
}
