package session

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"sipphone/engine"
	"sipphone/engine/enginetest"
)

type manualTask struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTask) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// manualScheduler fires tasks only when the test advances its clock.
type manualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*manualTask
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTask{at: s.now + d, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*manualTask
	for _, t := range s.tasks {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

// Scheduled counts every task ever created.
func (s *manualScheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Pending counts tasks that neither fired nor were stopped.
func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// recorder implements every platform collaborator and records the calls.
type recorder struct {
	mu sync.Mutex

	incoming []CallInfo
	outgoing []CallInfo
	started  []CallInfo
	missed   []CallInfo
	shown    int
	hidden   int

	stopConnecting int

	inCall    bool
	denied    map[Permission]bool
	lowBand   bool
	headset   bool
	bluetooth bool

	routedHeadset   []string
	routedBluetooth []string
}

func newRecorder() *recorder {
	return &recorder{denied: map[Permission]bool{}}
}

func (r *recorder) platform() Platform {
	return Platform{
		Presenter:   r,
		Notifier:    r,
		History:     r,
		Telephony:   r,
		Permissions: r,
		Network:     r,
		AudioRouter: r,
	}
}

func (r *recorder) PresentIncoming(c CallInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incoming = append(r.incoming, c)
}

func (r *recorder) PresentOutgoing(c CallInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outgoing = append(r.outgoing, c)
}

func (r *recorder) PresentCallStarted(c CallInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, c)
}

func (r *recorder) ShowInCallSurface() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown++
}

func (r *recorder) HideInCallSurface() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hidden++
}

func (r *recorder) StopConnectingNotification() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopConnecting++
}

func (r *recorder) RecordMissed(c CallInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missed = append(r.missed, c)
}

func (r *recorder) InCall() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inCall
}

func (r *recorder) Has(p Permission) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.denied[p]
}

func (r *recorder) setDenied(p Permission, denied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denied[p] = denied
}

func (r *recorder) LowBandwidth() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lowBand
}

func (r *recorder) HeadsetAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headset
}

func (r *recorder) BluetoothAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bluetooth
}

func (r *recorder) RouteToHeadset(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routedHeadset = append(r.routedHeadset, id)
}

func (r *recorder) RouteToBluetooth(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routedBluetooth = append(r.routedBluetooth, id)
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// harness drives a Context without its loop goroutine: every engine event
// is followed by a synchronous drain of the inbox.
type harness struct {
	t      *testing.T
	eng    *enginetest.Engine
	sched  *manualScheduler
	rec    *recorder
	sc     *Context
	events <-chan Event
}

func newHarness(t *testing.T, cfg Config, setup ...func(*recorder)) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		eng:   enginetest.New(),
		sched: &manualScheduler{},
		rec:   newRecorder(),
	}
	for _, fn := range setup {
		fn(h.rec)
	}
	h.sc = New(Options{
		Engine:    h.eng,
		Config:    cfg,
		Platform:  h.rec.platform(),
		Scheduler: h.sched,
		Log:       quietLog(),
	})
	events, cancel := h.sc.Subscribe(512)
	h.events = events
	require.NoError(t, h.sc.attach(context.Background()))
	t.Cleanup(func() {
		h.sc.shutdown()
		cancel()
	})
	return h
}

func (h *harness) drain() {
	h.sc.runPending()
}

// emit publishes a transition and processes it.
func (h *harness) emit(c *enginetest.Call, state engine.CallState) {
	h.eng.Emit(c, state, state.String())
	h.drain()
}

func (h *harness) advance(d time.Duration) {
	h.sched.Advance(d)
	h.drain()
}

func (h *harness) incoming(id string) *enginetest.Call {
	c := enginetest.NewCall(id, engine.Incoming, engine.Address{Username: "bob", Domain: "example.org"})
	h.eng.AddCall(c)
	return c
}

func (h *harness) outgoing(id string) *enginetest.Call {
	c := enginetest.NewCall(id, engine.Outgoing, engine.Address{Username: "carol", Domain: "example.org"})
	h.eng.AddCall(c)
	return c
}

// end removes c from the engine and reports it ended.
func (h *harness) end(c *enginetest.Call, state engine.CallState) {
	h.eng.RemoveCall(c)
	h.emit(c, state)
}

// collect returns the events published so far.
func (h *harness) collect() []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-h.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofKind(events []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
