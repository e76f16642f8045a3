package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/iabtm/rtc-core/internal/domain"
	"github.com/iabtm/rtc-core/lib/logger/sl"
)

var ErrNoConnection = errors.New("no connection for peer")

// Emitter sends a signaling message out through the transport.
type Emitter func(ctx context.Context, sig domain.Signal) error

type Config struct {
	SelfID      string
	RoomID      string
	STUNServers []string
}

// Manager owns at most one media connection per remote participant and
// keeps each one synchronized with the signaling channel. Failures are
// contained per peer: a broken negotiation closes that link and leaves
// every other connection untouched.
type Manager struct {
	log       *slog.Logger
	cfg       Config
	webrtcCfg webrtc.Configuration
	emit      Emitter

	mu          sync.Mutex
	links       map[string]*link
	localTracks []webrtc.TrackLocal

	// Callbacks are set before any connection exists and never change.
	onRemoteTrack   func(remoteID string, track *webrtc.TrackRemote)
	onPeerConnected func(remoteID string)
	onPeerFailure   func(remoteID string)
}

type link struct {
	pc *webrtc.PeerConnection

	// Candidates that arrived before the remote description. Signaling
	// order is not negotiation order; they are flushed once the remote
	// description is set.
	pending      []webrtc.ICECandidateInit
	remoteSet    bool
	remoteTracks []*webrtc.TrackRemote
}

func NewManager(cfg Config, emit Emitter, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}

	return &Manager{
		log:  log,
		cfg:  cfg,
		emit: emit,
		webrtcCfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: cfg.STUNServers}},
		},
		links: make(map[string]*link),
	}
}

func (m *Manager) OnRemoteTrack(fn func(remoteID string, track *webrtc.TrackRemote)) {
	m.onRemoteTrack = fn
}

func (m *Manager) OnPeerConnected(fn func(remoteID string)) {
	m.onPeerConnected = fn
}

func (m *Manager) OnPeerFailure(fn func(remoteID string)) {
	m.onPeerFailure = fn
}

// AddLocalTrack attaches track to every current and future connection.
// Tracks are shared, never owned: closing a connection leaves them usable
// by the rest.
func (m *Manager) AddLocalTrack(track webrtc.TrackLocal) error {
	const op = "peer.Manager.AddLocalTrack"

	m.mu.Lock()
	defer m.mu.Unlock()

	m.localTracks = append(m.localTracks, track)
	for remoteID, l := range m.links {
		if _, err := l.pc.AddTrack(track); err != nil {
			return fmt.Errorf("%s: attach to %s: %w", op, remoteID, err)
		}
	}
	return nil
}

// EnsureConnection creates the connection for remoteID if none exists.
func (m *Manager) EnsureConnection(remoteID string) error {
	const op = "peer.Manager.EnsureConnection"

	m.mu.Lock()
	if _, ok := m.links[remoteID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(m.webrtcCfg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.mu.Lock()
		if l, ok := m.links[remoteID]; ok {
			l.remoteTracks = append(l.remoteTracks, track)
		}
		m.mu.Unlock()

		if m.onRemoteTrack != nil {
			m.onRemoteTrack(remoteID, track)
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		sig := domain.Signal{
			From: m.cfg.SelfID,
			To:   remoteID,
			Room: m.cfg.RoomID,
			Body: domain.ICECandidate{Candidate: c.ToJSON()},
		}
		if err := m.emit(context.Background(), sig); err != nil {
			m.log.Warn("failed to signal local candidate",
				slog.String("remote_id", remoteID), sl.Err(err))
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.log.Debug("peer connection state changed",
			slog.String("remote_id", remoteID),
			slog.String("state", state.String()),
		)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if m.onPeerConnected != nil {
				m.onPeerConnected(remoteID)
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			_ = m.CloseConnection(remoteID)
			if m.onPeerFailure != nil {
				m.onPeerFailure(remoteID)
			}
		}
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	// Lost the race against a concurrent EnsureConnection for the same
	// peer: keep the first connection, discard ours.
	if _, ok := m.links[remoteID]; ok {
		_ = pc.Close()
		return nil
	}

	for _, track := range m.localTracks {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return fmt.Errorf("%s: attach local track: %w", op, err)
		}
	}

	m.links[remoteID] = &link{pc: pc}
	return nil
}

// InitiateOffer starts negotiation toward remoteID. EnsureConnection must
// have run first.
func (m *Manager) InitiateOffer(ctx context.Context, remoteID string) error {
	const op = "peer.Manager.InitiateOffer"

	l, ok := m.getLink(remoteID)
	if !ok {
		return fmt.Errorf("%s: %w: %s", op, ErrNoConnection, remoteID)
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	sig := domain.Signal{
		From: m.cfg.SelfID,
		To:   remoteID,
		Room: m.cfg.RoomID,
		Body: domain.Offer{SDP: offer},
	}
	if err := m.emit(ctx, sig); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HandleRemoteOffer applies an inbound offer and answers it.
func (m *Manager) HandleRemoteOffer(ctx context.Context, fromID string, sdp webrtc.SessionDescription) error {
	const op = "peer.Manager.HandleRemoteOffer"

	if err := m.EnsureConnection(fromID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	l, _ := m.getLink(fromID)

	if err := l.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.flushPending(fromID, l)

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	sig := domain.Signal{
		From: m.cfg.SelfID,
		To:   fromID,
		Room: m.cfg.RoomID,
		Body: domain.Answer{SDP: answer},
	}
	if err := m.emit(ctx, sig); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HandleRemoteAnswer applies an inbound answer. An answer for an unknown
// peer is a stale or reordered message; it is logged and ignored rather
// than failing the room.
func (m *Manager) HandleRemoteAnswer(fromID string, sdp webrtc.SessionDescription) error {
	const op = "peer.Manager.HandleRemoteAnswer"

	l, ok := m.getLink(fromID)
	if !ok {
		m.log.Warn("answer for unknown peer, ignoring",
			slog.String("op", op), slog.String("remote_id", fromID))
		return nil
	}

	if err := l.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.flushPending(fromID, l)
	return nil
}

// HandleRemoteCandidate applies an inbound candidate, buffering it when
// the remote description has not been set yet.
func (m *Manager) HandleRemoteCandidate(fromID string, candidate webrtc.ICECandidateInit) error {
	const op = "peer.Manager.HandleRemoteCandidate"

	m.mu.Lock()
	l, ok := m.links[fromID]
	if !ok {
		m.mu.Unlock()
		m.log.Debug("candidate for unknown peer, ignoring",
			slog.String("op", op), slog.String("remote_id", fromID))
		return nil
	}
	if !l.remoteSet {
		l.pending = append(l.pending, candidate)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := l.pc.AddICECandidate(candidate); err != nil {
		// Contained: a bad candidate degrades this one path, not the room.
		m.log.Warn("failed to apply remote candidate",
			slog.String("remote_id", fromID), sl.Err(err))
	}
	return nil
}

// CloseConnection releases everything held for remoteID. Idempotent.
func (m *Manager) CloseConnection(remoteID string) error {
	m.mu.Lock()
	l, ok := m.links[remoteID]
	if ok {
		delete(m.links, remoteID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return l.pc.Close()
}

// CloseAll releases every connection. Idempotent.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[string]*link)
	m.mu.Unlock()

	for remoteID, l := range links {
		if err := l.pc.Close(); err != nil {
			m.log.Warn("failed to close peer connection",
				slog.String("remote_id", remoteID), sl.Err(err))
		}
	}
}

func (m *Manager) HasConnection(remoteID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[remoteID]
	return ok
}

func (m *Manager) PeerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	return ids
}

// RemoteTracks returns the media tracks received from remoteID so far.
func (m *Manager) RemoteTracks(remoteID string) []*webrtc.TrackRemote {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[remoteID]
	if !ok {
		return nil
	}
	tracks := make([]*webrtc.TrackRemote, len(l.remoteTracks))
	copy(tracks, l.remoteTracks)
	return tracks
}

func (m *Manager) getLink(remoteID string) (*link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[remoteID]
	return l, ok
}

func (m *Manager) flushPending(remoteID string, l *link) {
	m.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	m.mu.Unlock()

	for _, candidate := range pending {
		if err := l.pc.AddICECandidate(candidate); err != nil {
			m.log.Warn("failed to apply buffered candidate",
				slog.String("remote_id", remoteID), sl.Err(err))
		}
	}
}
