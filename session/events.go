package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sipphone/engine"
)

// EventKind identifies a one-shot notification to UI collaborators.
type EventKind int

const (
	EventIncomingCallSurfaced EventKind = iota
	EventOutgoingCallSurfaced
	EventCallConnected
	EventCallUpdated
	EventCallEnded
	EventNoMoreCalls
	EventErrorMessage
	EventCallDeclined
	EventPermissionNeeded
	EventCurrentCallChanged
	EventCallListChanged
	EventRegistrationChanged
)

var eventNames = [...]string{
	EventIncomingCallSurfaced: "incoming_call_surfaced",
	EventOutgoingCallSurfaced: "outgoing_call_surfaced",
	EventCallConnected:        "call_connected",
	EventCallUpdated:          "call_updated",
	EventCallEnded:            "call_ended",
	EventNoMoreCalls:          "no_more_calls",
	EventErrorMessage:         "error_message",
	EventCallDeclined:         "call_declined",
	EventPermissionNeeded:     "permission_needed",
	EventCurrentCallChanged:   "current_call_changed",
	EventCallListChanged:      "call_list_changed",
	EventRegistrationChanged:  "registration_changed",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Permission is an OS permission an action depends on.
type Permission string

const (
	PermissionRecordAudio Permission = "record_audio"
	PermissionCamera      Permission = "camera"
)

// Event is a discrete notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind         EventKind                `json:"kind"`
	CallID       string                   `json:"call_id,omitempty"`
	Message      string                   `json:"message,omitempty"`
	Category     ErrorCategory            `json:"category,omitempty"`
	Permission   Permission               `json:"permission,omitempty"`
	Call         *CallInfo                `json:"call,omitempty"`
	Calls        []CallInfo               `json:"calls,omitempty"`
	Registration engine.RegistrationState `json:"registration,omitempty"`
	At           time.Time                `json:"at"`
}

// broadcaster fans events out to channel subscribers. A subscriber that
// does not keep up loses events rather than stalling the publisher.
type broadcaster struct {
	log    *logrus.Entry
	mu     sync.Mutex
	next   int
	subs   map[int]chan Event
	closed bool
}

func newBroadcaster(log *logrus.Entry) *broadcaster {
	return &broadcaster{log: log, subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warnf("subscriber %d is slow, dropping %s event", id, ev.Kind)
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
