package domain

import (
	"sync"
	"time"
)

// Participant represents a member of the current audio room as seen by the
// local session: the local user plus every remote peer discovered through
// the roster.
type Participant struct {
	ID          string
	DisplayName string
	JoinedAt    time.Time
	LastSeen    time.Time

	mu       sync.RWMutex
	muted    bool
	speaking bool
}

func NewParticipant(id, displayName string) *Participant {
	now := time.Now().UTC()
	return &Participant{
		ID:          id,
		DisplayName: displayName,
		JoinedAt:    now,
		LastSeen:    now,
	}
}

func (p *Participant) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LastSeen = time.Now().UTC()
}

func (p *Participant) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

func (p *Participant) Muted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.muted
}

func (p *Participant) SetSpeaking(speaking bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speaking = speaking
}

func (p *Participant) Speaking() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.speaking
}
