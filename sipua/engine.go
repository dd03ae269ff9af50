// Package sipua implements engine.Engine as a SIP user agent on top of gosip.
package sipua

import (
	"context"
	"fmt"
	"sync"
	"time"

	gosip "github.com/ghettovoice/gosip"
	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/ghettovoice/gosip/sip"
	"github.com/sirupsen/logrus"

	"sipphone/engine"
)

// Config holds the user agent settings.
type Config struct {
	Host          string
	Port          int
	PortRange     int
	Transport     string
	UserAgent     string
	RTPPort       int
	DefaultDomain string
	// AcceptEarlyMedia answers incoming INVITEs with 183 and an SDP answer.
	AcceptEarlyMedia bool
	VideoPolicy      engine.VideoPolicy
	RegisterExpiry   time.Duration
	RequestTimeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 5060
	}
	if c.Transport == "" {
		c.Transport = "udp"
	}
	if c.UserAgent == "" {
		c.UserAgent = "sipphone"
	}
	if c.RTPPort == 0 {
		c.RTPPort = 7078
	}
	if c.RegisterExpiry == 0 {
		c.RegisterExpiry = time.Hour
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 32 * time.Second
	}
}

// Engine is a gosip backed engine.Engine.
type Engine struct {
	*engine.Bus

	cfg Config
	log *logrus.Entry

	srv    gosip.Server
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	started     bool
	listenPort  int
	accounts    []*account
	calls       []*call
	current     *call
	mic         bool
	conferences map[string]bool

	// emitMu keeps per-call transitions in publish order.
	emitMu sync.Mutex
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine. Nothing touches the network until Start.
func New(cfg Config, log *logrus.Entry) *Engine {
	cfg.setDefaults()
	if log == nil {
		log = logrus.StandardLogger().WithField("name", "sip")
	}
	return &Engine{
		Bus:         engine.NewBus(),
		cfg:         cfg,
		log:         log,
		mic:         true,
		conferences: make(map[string]bool),
	}
}

// Start binds the SIP listener, walking the configured port range.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	logger := gosiplog.NewLogrusLogger(e.log, "SIP", nil)
	e.srv = gosip.NewServer(gosip.ServerConfig{Host: e.cfg.Host, UserAgent: e.cfg.UserAgent}, nil, nil, logger)

	var listenErr error
	for i := 0; i <= e.cfg.PortRange; i++ {
		addr := fmt.Sprintf(":%d", e.cfg.Port+i)
		listenErr = e.srv.Listen(e.cfg.Transport, addr)
		if listenErr == nil {
			e.listenPort = e.cfg.Port + i
			e.log.Infof("SIP user agent listening on %s/%s", addr, e.cfg.Transport)
			break
		}
		e.log.Warnf("failed to listen on %s: %v", addr, listenErr)
	}
	if listenErr != nil {
		e.srv.Shutdown()
		return fmt.Errorf("sip listen: %w", listenErr)
	}

	handlers := map[sip.RequestMethod]gosip.RequestHandler{
		sip.INVITE:  e.handleInvite,
		sip.ACK:     e.handleAck,
		sip.BYE:     e.handleBye,
		sip.CANCEL:  e.handleCancel,
		sip.OPTIONS: e.handleOptions,
	}
	for method, h := range handlers {
		if err := e.srv.OnRequest(method, h); err != nil {
			e.srv.Shutdown()
			return fmt.Errorf("register %s handler: %w", method, err)
		}
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.started = true
	return nil
}

// Stop terminates every call, unregisters accounts and shuts the server down.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	calls := append([]*call(nil), e.calls...)
	accounts := append([]*account(nil), e.accounts...)
	e.accounts = nil
	e.mu.Unlock()

	for _, c := range calls {
		if err := c.Terminate(); err != nil {
			e.log.Warnf("terminate %s on stop: %v", c.id, err)
		}
	}
	for _, a := range accounts {
		a.stop()
	}

	e.mu.Lock()
	e.started = false
	e.cancel()
	srv := e.srv
	e.mu.Unlock()

	srv.Shutdown()
	e.log.Info("SIP user agent stopped")
	return nil
}

func (e *Engine) isStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// contactURI is where peers reach this user agent.
func (e *Engine) contactURI(user string) string {
	e.mu.Lock()
	port := e.listenPort
	e.mu.Unlock()
	if user == "" {
		return fmt.Sprintf("sip:%s:%d;transport=%s", e.cfg.Host, port, e.cfg.Transport)
	}
	return fmt.Sprintf("sip:%s@%s:%d;transport=%s", user, e.cfg.Host, port, e.cfg.Transport)
}

// CreateCallParams returns defaults for a new call or the current
// parameters of an existing one.
func (e *Engine) CreateCallParams(c engine.Call) *engine.CallParams {
	if !e.isStarted() {
		e.log.Warn("call params requested before engine start")
		return nil
	}
	if c == nil {
		return &engine.CallParams{VideoEnabled: e.cfg.VideoPolicy.AutomaticallyInitiate}
	}
	sc, ok := c.(*call)
	if !ok {
		return nil
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	p := sc.params
	p.VideoEnabled = sc.video || sc.remoteVideo
	return &p
}

func (e *Engine) CurrentCall() engine.Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	return e.current
}

func (e *Engine) Calls() []engine.Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]engine.Call, 0, len(e.calls))
	for _, c := range e.calls {
		out = append(out, c)
	}
	return out
}

func (e *Engine) CallsCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *Engine) MicEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mic
}

func (e *Engine) SetMicEnabled(enabled bool) {
	e.mu.Lock()
	e.mic = enabled
	e.mu.Unlock()
	e.log.Infof("microphone enabled: %v", enabled)
}

// NetworkReachable reports whether the listener is up and the host known.
func (e *Engine) NetworkReachable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && e.cfg.Host != ""
}

// IsConference reports whether addr was seen acting as a conference focus.
func (e *Engine) IsConference(addr engine.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for a := range e.conferences {
		if ca, err := parseAddress(a); err == nil && ca.WeakEqual(addr) {
			return true
		}
	}
	return false
}

func (e *Engine) markConference(addr engine.Address) {
	e.mu.Lock()
	e.conferences[addr.String()] = true
	e.mu.Unlock()
}

func (e *Engine) VideoPolicy() engine.VideoPolicy {
	return e.cfg.VideoPolicy
}

func (e *Engine) addCall(c *call) {
	e.mu.Lock()
	e.calls = append(e.calls, c)
	e.mu.Unlock()
}

func (e *Engine) findCall(callID string) *call {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.calls {
		if c.id == callID {
			return c
		}
	}
	return nil
}

func (e *Engine) setCurrent(c *call) {
	e.mu.Lock()
	e.current = c
	e.mu.Unlock()
}

func (e *Engine) clearCurrent(c *call) {
	e.mu.Lock()
	if e.current == c {
		e.current = nil
	}
	e.mu.Unlock()
}

// release drops c and signals when the last call is gone.
func (e *Engine) release(c *call) {
	e.mu.Lock()
	for i, existing := range e.calls {
		if existing == c {
			e.calls = append(e.calls[:i:i], e.calls[i+1:]...)
			break
		}
	}
	if e.current == c {
		e.current = nil
	}
	last := len(e.calls) == 0
	e.mu.Unlock()

	if last {
		e.PublishLastCallEnded()
	}
}

// transition moves c to state and publishes the change. Terminal states
// are followed by Released.
func (e *Engine) transition(c *call, state engine.CallState, message string) {
	e.emitMu.Lock()
	c.mu.Lock()
	if c.state == engine.CallReleased || (c.state.IsTerminal() && state != engine.CallReleased) {
		c.mu.Unlock()
		e.emitMu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	e.log.Infof("call %s: %s (%s)", c.id, state, message)
	e.PublishCallState(engine.CallStateEvent{Call: c, State: state, Message: message})
	e.emitMu.Unlock()

	if state == engine.CallEnd || state == engine.CallError {
		e.transition(c, engine.CallReleased, "call released")
		e.release(c)
	}
}
