package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iabtm/rtc-core/internal/domain"
	"github.com/iabtm/rtc-core/lib/logger/sl"
)

// Relay is a minimal in-memory signaling fan-out used for local
// development and integration tests. The production relay is a separate
// service; this one implements only the signaling taxonomy the session
// layer speaks, with no persistence and no auth.
type Relay struct {
	log   *slog.Logger
	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	id    string
	mu    sync.RWMutex
	peers map[string]*client
}

type client struct {
	id          string
	displayName string
	joinedAt    time.Time
	conn        *websocket.Conn

	mu     sync.Mutex
	events chan domain.Signal
	closed bool
}

func New(log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:   log,
		rooms: make(map[string]*room),
	}
}

func (r *Relay) getOrCreateRoom(roomID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, peers: make(map[string]*client)}
		r.rooms[roomID] = rm
		r.log.Info("room created", slog.String("room_id", roomID))
	}
	return rm
}

func (r *Relay) removeRoomIfEmpty(rm *room) {
	rm.mu.RLock()
	empty := len(rm.peers) == 0
	rm.mu.RUnlock()
	if !empty {
		return
	}

	r.mu.Lock()
	delete(r.rooms, rm.id)
	r.mu.Unlock()
	r.log.Info("room removed", slog.String("room_id", rm.id))
}

// RoomSize reports the current number of peers in roomID.
func (r *Relay) RoomSize(roomID string) int {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.peers)
}

// register adds a peer to the room, replays the existing roster to the
// newcomer and announces the newcomer to everyone else.
func (r *Relay) register(rm *room, c *client) {
	rm.mu.Lock()
	existing := make([]*client, 0, len(rm.peers))
	for _, peer := range rm.peers {
		existing = append(existing, peer)
	}
	rm.peers[c.id] = c
	rm.mu.Unlock()

	for _, peer := range existing {
		c.enqueue(domain.Signal{
			From: peer.id,
			To:   c.id,
			Room: rm.id,
			Body: domain.PeerJoined{DisplayName: peer.displayName},
		})
	}

	r.broadcast(rm, domain.Signal{
		From: c.id,
		Room: rm.id,
		Body: domain.PeerJoined{DisplayName: c.displayName},
	}, c.id)

	c.enqueue(domain.Signal{
		Room: rm.id,
		To:   c.id,
		Body: domain.RoomReady{},
	})

	r.log.Info("peer registered",
		slog.String("room_id", rm.id),
		slog.String("peer_id", c.id),
		slog.String("display_name", c.displayName),
	)
}

func (r *Relay) unregister(rm *room, c *client) {
	rm.mu.Lock()
	_, ok := rm.peers[c.id]
	if ok {
		delete(rm.peers, c.id)
	}
	rm.mu.Unlock()

	if !ok {
		return
	}

	c.close()

	r.broadcast(rm, domain.Signal{
		From: c.id,
		Room: rm.id,
		Body: domain.PeerLeft{},
	}, c.id)

	r.log.Info("peer unregistered",
		slog.String("room_id", rm.id),
		slog.String("peer_id", c.id),
	)
	r.removeRoomIfEmpty(rm)
}

// route forwards one inbound signal. Targeted messages go to their peer,
// everything else fans out to the rest of the room.
func (r *Relay) route(rm *room, c *client, sig domain.Signal) {
	sig.From = c.id
	sig.Room = rm.id

	switch sig.Body.(type) {
	case domain.Offer, domain.Answer, domain.ICECandidate:
		if sig.To == "" {
			r.broadcast(rm, sig, c.id)
			return
		}
		rm.mu.RLock()
		target, ok := rm.peers[sig.To]
		rm.mu.RUnlock()
		if !ok {
			r.log.Debug("target peer not found",
				slog.String("room_id", rm.id), slog.String("target", sig.To))
			return
		}
		target.enqueue(sig)

	case domain.MuteMic, domain.UnmuteMic, domain.Chat, domain.Typing, domain.RoomReady:
		r.broadcast(rm, sig, c.id)

	case domain.LeaveRoom:
		r.unregister(rm, c)

	default:
		r.log.Debug("dropping unroutable signal",
			slog.String("type", string(sig.Body.Kind())),
			slog.String("peer_id", c.id),
		)
	}
}

func (r *Relay) broadcast(rm *room, sig domain.Signal, exclude string) {
	rm.mu.RLock()
	peers := make([]*client, 0, len(rm.peers))
	for id, peer := range rm.peers {
		if id == exclude {
			continue
		}
		peers = append(peers, peer)
	}
	rm.mu.RUnlock()

	for _, peer := range peers {
		peer.enqueue(sig)
	}
}

// enqueue delivers sig unless the client is already gone. Broadcasts race
// with unregister; sends and the close are serialized under c.mu so a
// departing client can never panic a sender.
func (c *client) enqueue(sig domain.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.events <- sig:
	default:
		// Slow consumer: drop rather than stall the whole room.
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

func newClient(id, displayName string, conn *websocket.Conn) *client {
	if id == "" {
		id = uuid.New().String()
	}
	return &client{
		id:          id,
		displayName: displayName,
		joinedAt:    time.Now().UTC(),
		events:      make(chan domain.Signal, 16),
		conn:        conn,
	}
}

func (c *client) writePump(log *slog.Logger) {
	for sig := range c.events {
		if err := c.conn.WriteJSON(sig); err != nil {
			log.Debug("relay write failed",
				slog.String("peer_id", c.id), sl.Err(err))
			return
		}
	}
	_ = c.conn.Close()
}
