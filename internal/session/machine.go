package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/iabtm/rtc-core/internal/domain"
)

// State is the local participant's position in the audio-room lifecycle.
type State string

const (
	StateIdle          State = "idle"
	StateJoining       State = "joining"
	StateConnecting    State = "connecting"
	StateLive          State = "live"
	StateMuted         State = "muted"
	StateSpeaking      State = "speaking"
	StateDisconnecting State = "disconnecting"
	StateEnded         State = "ended"
	StateError         State = "error"
)

type Event string

const (
	EventJoinRoom              Event = "JOIN_ROOM"
	EventConnectionEstablished Event = "CONNECTION_ESTABLISHED"
	EventConnectionFailed      Event = "CONNECTION_FAILED"
	EventConnectionLost        Event = "CONNECTION_LOST"
	EventLeaveRoom             Event = "LEAVE_ROOM"
	EventMuteMic               Event = "MUTE_MIC"
	EventUnmuteMic             Event = "UNMUTE_MIC"
	EventStartSpeaking         Event = "START_SPEAKING"
	EventStopSpeaking          Event = "STOP_SPEAKING"
	EventErrorOccurred         Event = "ERROR_OCCURRED"
	EventReset                 Event = "RESET"
)

var ErrInvalidTransition = errors.New("invalid transition")

type HistoryEntry struct {
	State State
	At    time.Time
}

type transitionKey struct {
	from  State
	event Event
}

type transitionRow struct {
	to    State
	emits domain.Kind // zero value: transition is silent
}

// transitionTable is the single source of truth for the lifecycle. Any
// (state, event) pair missing here is rejected without a state change,
// which is how illegal UI actions are ignored safely.
var transitionTable = map[transitionKey]transitionRow{
	{StateIdle, EventJoinRoom}:      {to: StateJoining, emits: domain.KindJoinRoom},
	{StateIdle, EventErrorOccurred}: {to: StateError},

	{StateJoining, EventConnectionEstablished}: {to: StateConnecting},
	{StateJoining, EventConnectionFailed}:      {to: StateError},
	{StateJoining, EventLeaveRoom}:             {to: StateIdle},

	{StateConnecting, EventConnectionEstablished}: {to: StateLive, emits: domain.KindRoomReady},
	{StateConnecting, EventConnectionFailed}:      {to: StateError},
	{StateConnecting, EventLeaveRoom}:             {to: StateIdle},

	{StateLive, EventMuteMic}:       {to: StateMuted, emits: domain.KindMuteMic},
	{StateLive, EventStartSpeaking}: {to: StateSpeaking},
	{StateLive, EventLeaveRoom}:     {to: StateDisconnecting, emits: domain.KindLeaveRoom},
	{StateLive, EventErrorOccurred}: {to: StateError},

	{StateMuted, EventUnmuteMic}:     {to: StateLive, emits: domain.KindUnmuteMic},
	{StateMuted, EventStartSpeaking}: {to: StateSpeaking},
	{StateMuted, EventLeaveRoom}:     {to: StateDisconnecting, emits: domain.KindLeaveRoom},
	{StateMuted, EventErrorOccurred}: {to: StateError},

	{StateSpeaking, EventStopSpeaking}:  {to: StateLive},
	{StateSpeaking, EventMuteMic}:       {to: StateMuted, emits: domain.KindMuteMic},
	{StateSpeaking, EventLeaveRoom}:     {to: StateDisconnecting, emits: domain.KindLeaveRoom},
	{StateSpeaking, EventErrorOccurred}: {to: StateError},

	{StateDisconnecting, EventConnectionLost}: {to: StateEnded},
	{StateDisconnecting, EventErrorOccurred}:  {to: StateError},

	{StateError, EventReset}: {to: StateIdle},
	{StateEnded, EventReset}: {to: StateIdle},
}

type stateListener struct {
	state State
	any   bool
	fn    func(State)
}

// Machine is the room lifecycle state machine for one local session. All
// mutation goes through Trigger; there is no other way to move the state.
type Machine struct {
	log  *slog.Logger
	emit func(kind domain.Kind)
	now  func() time.Time

	mu        sync.Mutex
	state     State
	history   []HistoryEntry
	listeners map[int]stateListener
	nextSub   int
}

// NewMachine starts in idle. emit fires the transition's signaling action
// and may be nil for machines that only track state.
func NewMachine(emit func(kind domain.Kind), log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		log:       log,
		emit:      emit,
		now:       time.Now,
		state:     StateIdle,
		listeners: make(map[int]stateListener),
	}
}

// Trigger applies event. On an accepted transition it appends to history,
// fires the transition's emit action, then notifies subscribers for the
// new state followed by any-state subscribers. A rejected event changes
// nothing and returns ErrInvalidTransition.
func (m *Machine) Trigger(event Event) error {
	m.mu.Lock()

	row, ok := transitionTable[transitionKey{m.state, event}]
	if !ok {
		from := m.state
		m.mu.Unlock()
		m.log.Warn("rejected transition",
			slog.String("state", string(from)),
			slog.String("event", string(event)),
		)
		return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event, from)
	}

	m.state = row.to
	m.history = append(m.history, HistoryEntry{State: row.to, At: m.now().UTC()})

	notify := make([]func(State), 0, len(m.listeners))
	for _, l := range m.listeners {
		if l.any || l.state == row.to {
			notify = append(notify, l.fn)
		}
	}
	m.mu.Unlock()

	if row.emits != "" && m.emit != nil {
		m.emit(row.emits)
	}
	for _, fn := range notify {
		fn(row.to)
	}
	return nil
}

// CanTrigger reports whether event is valid in the current state, letting
// UI disable controls instead of triggering rejections.
func (m *Machine) CanTrigger(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := transitionTable[transitionKey{m.state, event}]
	return ok
}

// AvailableEvents lists the events valid in the current state, sorted.
func (m *Machine) AvailableEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]Event, 0, 4)
	for key := range transitionTable {
		if key.from == m.state {
			events = append(events, key.event)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsStable reports whether the machine is resting in a state where no
// connection work is in flight; UI uses it to hide spinners.
func (m *Machine) IsStable() bool {
	switch m.State() {
	case StateIdle, StateLive, StateMuted, StateEnded:
		return true
	}
	return false
}

// History returns the accepted transitions in order, one entry each.
func (m *Machine) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// SubscribeState notifies fn whenever the machine enters state. Returns
// the unsubscribe func.
func (m *Machine) SubscribeState(state State, fn func(State)) func() {
	return m.addListener(stateListener{state: state, fn: fn})
}

// SubscribeAny notifies fn on every accepted transition.
func (m *Machine) SubscribeAny(fn func(State)) func() {
	return m.addListener(stateListener{any: true, fn: fn})
}

func (m *Machine) addListener(l stateListener) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}
