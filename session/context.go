// Package session is the call session orchestrator. It registers the local
// account, follows every call reported by the engine, keeps the current
// call selection and runs the side effects tied to call state changes.
//
// Everything the orchestrator owns is touched from a single loop
// goroutine. Engine callbacks, timers and commands are posted to it.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/frostbyte73/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"sipphone/engine"
)

// Options configure a Context.
type Options struct {
	Engine    engine.Engine
	Config    Config
	Platform  Platform
	Scheduler Scheduler
	// Registerer receives the metrics. Nil keeps them unregistered.
	Registerer prometheus.Registerer
	Log        *logrus.Entry
}

// Snapshot is a read-only view of the orchestrator state.
type Snapshot struct {
	Calls              []CallInfo               `json:"calls"`
	Current            *CallInfo                `json:"current,omitempty"`
	InactiveCalls      int                      `json:"inactive_calls"`
	MicrophoneMuted    bool                     `json:"microphone_muted"`
	Registration       engine.RegistrationState `json:"registration"`
	RegistrationStatus string                   `json:"registration_status"`
}

// Context owns one orchestrator instance. Construct it with New, Start it
// once and Stop it once.
type Context struct {
	log      *logrus.Entry
	eng      *engine.Adapter
	cfg      Config
	platform Platform
	sched    Scheduler
	metrics  *Metrics
	events   *broadcaster

	roster     *Roster
	registrar  *Registrar
	controller *Controller
	pending    map[Permission][]func() error
	subs       []engine.Subscription
	stopErr    error

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	started core.Fuse
	running core.Fuse
	stopped core.Fuse
	done    core.Fuse

	snapMu sync.RWMutex
	snap   Snapshot
}

// New builds a Context around e. The engine is not started until Start.
func New(opts Options) *Context {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger().WithField("name", "session")
	}
	eng, ok := opts.Engine.(*engine.Adapter)
	if !ok {
		eng = engine.NewAdapter(opts.Engine, log.WithField("component", "engine"))
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = RealScheduler{}
	}
	cfg := opts.Config
	cfg.Messages = cfg.Messages.withDefaults()

	sc := &Context{
		log:      log,
		eng:      eng,
		cfg:      cfg,
		platform: opts.Platform.withDefaults(),
		sched:    sched,
		metrics:  NewMetrics(opts.Registerer),
		events:   newBroadcaster(log),
		roster:   NewRoster(log.WithField("component", "roster")),
		pending:  make(map[Permission][]func() error),
		wake:     make(chan struct{}, 1),
	}
	sc.registrar = newRegistrar(sc)
	sc.controller = newController(sc)
	return sc
}

// Start starts the engine, subscribes to it and runs the loop until Stop.
func (sc *Context) Start(ctx context.Context) error {
	if err := sc.attach(ctx); err != nil {
		return err
	}
	sc.running.Break()
	go sc.run()
	return nil
}

// attach starts the engine and subscribes to its events.
func (sc *Context) attach(ctx context.Context) error {
	if !sc.started.Break() {
		return fmt.Errorf("session: already started")
	}
	if _, err := sc.eng.Ensure(ctx); err != nil {
		return err
	}
	sc.subs = append(sc.subs,
		sc.eng.SubscribeCallState(func(ev engine.CallStateEvent) {
			sc.Post(func() { sc.controller.onCallState(ev.Call, ev.State, ev.Message) })
		}),
		sc.eng.SubscribeLastCallEnded(func() {
			sc.Post(sc.controller.onLastCallEnded)
		}),
	)
	sc.log.Info("call session started")
	return nil
}

func (sc *Context) run() {
	defer sc.done.Break()
	for {
		select {
		case <-sc.wake:
			sc.runPending()
			if sc.stopped.IsBroken() {
				return
			}
		case <-sc.stopped.Watch():
			return
		}
	}
}

// runPending drains the inbox in FIFO order.
func (sc *Context) runPending() {
	for {
		sc.mu.Lock()
		if len(sc.queue) == 0 {
			sc.mu.Unlock()
			break
		}
		fn := sc.queue[0]
		sc.queue[0] = nil
		sc.queue = sc.queue[1:]
		sc.mu.Unlock()

		if sc.stopped.IsBroken() {
			continue
		}
		fn()
	}
	if !sc.stopped.IsBroken() {
		sc.updateSnapshot()
	}
}

// Post queues fn on the loop. It reports false once the context stopped.
func (sc *Context) Post(fn func()) bool {
	if sc.stopped.IsBroken() {
		return false
	}
	sc.mu.Lock()
	sc.queue = append(sc.queue, fn)
	sc.mu.Unlock()
	select {
	case sc.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it.
func (sc *Context) Do(ctx context.Context, fn func()) error {
	if !sc.running.IsBroken() {
		return ErrNotStarted
	}
	finished := make(chan struct{})
	if !sc.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-sc.done.Watch():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels every pending task and subscription, drops the calls and
// stops the engine. It must not be called from the loop.
func (sc *Context) Stop() error {
	if !sc.running.IsBroken() {
		sc.shutdown()
		return sc.stopErr
	}
	sc.Post(sc.shutdown)
	<-sc.done.Watch()
	return sc.stopErr
}

func (sc *Context) shutdown() {
	if sc.stopped.IsBroken() {
		return
	}
	sc.log.Info("stopping call session")
	for _, c := range sc.roster.Calls() {
		c.release()
	}
	for _, s := range sc.subs {
		s.Cancel()
	}
	sc.subs = nil
	sc.registrar.reset()
	sc.roster.Clear()
	sc.pending = make(map[Permission][]func() error)
	if err := sc.eng.Stop(); err != nil {
		sc.stopErr = fmt.Errorf("stop engine: %w", err)
		sc.log.Error(sc.stopErr)
	}
	sc.stopped.Break()
	sc.events.close()
}

// Subscribe returns a channel of events and a func that detaches it.
// Events are dropped for a subscriber whose buffer is full.
func (sc *Context) Subscribe(buffer int) (<-chan Event, func()) {
	return sc.events.subscribe(buffer)
}

func (sc *Context) publish(ev Event) {
	sc.events.publish(ev)
}

func (sc *Context) publishCallList() {
	sc.publish(Event{Kind: EventCallListChanged, Calls: sc.roster.List()})
}

func (sc *Context) updateSnapshot() {
	s := Snapshot{
		Calls:           sc.roster.List(),
		InactiveCalls:   sc.roster.InactiveCount(),
		MicrophoneMuted: sc.roster.MicrophoneMuted(sc.platform.Permissions),
		Registration:    sc.registrar.State(),
	}
	s.RegistrationStatus = StatusText(s.Registration)
	if cur := sc.roster.Current(); cur != nil {
		info := cur.info(true)
		s.Current = &info
	}
	sc.snapMu.Lock()
	sc.snap = s
	sc.snapMu.Unlock()
}

// Snapshot returns the state as of the last processed loop item.
func (sc *Context) Snapshot() Snapshot {
	sc.snapMu.RLock()
	defer sc.snapMu.RUnlock()
	return sc.snap
}

// Metrics returns the orchestrator's collectors.
func (sc *Context) Metrics() *Metrics {
	return sc.metrics
}

// Register replaces the local account with one for id. The outcome is
// reported through RegistrationChanged events and Snapshot.
func (sc *Context) Register(id Identity) {
	sc.Post(func() { sc.registrar.register(id) })
}

// StartCall places a call to raw and returns the engine call id.
func (sc *Context) StartCall(ctx context.Context, raw string) (string, error) {
	return sc.StartCallWith(ctx, raw, CallOptions{})
}

// StartCallWith is StartCall with options.
func (sc *Context) StartCallWith(ctx context.Context, raw string, opts CallOptions) (string, error) {
	var (
		call engine.Call
		err  error
	)
	if doErr := sc.Do(ctx, func() { call, err = sc.controller.startCall(raw, opts) }); doErr != nil {
		return "", doErr
	}
	if err != nil {
		return "", err
	}
	return call.ID(), nil
}

// StartCallTo places a call to an already resolved address.
func (sc *Context) StartCallTo(ctx context.Context, addr engine.Address, opts CallOptions) (string, error) {
	var (
		call engine.Call
		err  error
	)
	if doErr := sc.Do(ctx, func() { call, err = sc.controller.startCallTo(addr, opts) }); doErr != nil {
		return "", doErr
	}
	if err != nil {
		return "", err
	}
	return call.ID(), nil
}

func (sc *Context) command(ctx context.Context, fn func() error) error {
	var err error
	if doErr := sc.Do(ctx, func() { err = fn() }); doErr != nil {
		return doErr
	}
	return err
}

// Answer accepts the incoming call id. An empty id means the current call.
func (sc *Context) Answer(ctx context.Context, id string) error {
	return sc.command(ctx, func() error { return sc.answer(id) })
}

// Decline rejects the call id.
func (sc *Context) Decline(ctx context.Context, id string) error {
	return sc.command(ctx, func() error { return sc.decline(id) })
}

// Terminate hangs up the call id.
func (sc *Context) Terminate(ctx context.Context, id string) error {
	return sc.command(ctx, func() error { return sc.terminate(id) })
}

// Pause puts the call id on hold.
func (sc *Context) Pause(ctx context.Context, id string) error {
	return sc.command(ctx, func() error { return sc.pause(id) })
}

// Resume takes the call id off hold.
func (sc *Context) Resume(ctx context.Context, id string) error {
	return sc.command(ctx, func() error { return sc.resume(id) })
}

// ToggleMute flips the microphone of the current call. Without the record
// audio permission it returns ErrPermissionNeeded and runs once granted.
func (sc *Context) ToggleMute(ctx context.Context) error {
	return sc.command(ctx, sc.toggleMute)
}

// ToggleVideo flips the camera of the call id. Without the camera
// permission it returns ErrPermissionNeeded and runs once granted.
func (sc *Context) ToggleVideo(ctx context.Context, id string) error {
	return sc.command(ctx, func() error { return sc.toggleVideo(id) })
}

// PermissionGranted runs the actions that waited for p.
func (sc *Context) PermissionGranted(p Permission) {
	sc.Post(func() { sc.permissionGranted(p) })
}
