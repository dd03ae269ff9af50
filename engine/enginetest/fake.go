// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sipphone/engine"
)

// Account is an in-memory engine.Account.
type Account struct {
	mu       sync.Mutex
	id       string
	identity engine.Address
	state    engine.RegistrationState
}

func (a *Account) ID() string               { return a.id }
func (a *Account) Identity() engine.Address { return a.identity }

func (a *Account) State() engine.RegistrationState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Call is an in-memory engine.Call that records the commands it receives.
type Call struct {
	mu sync.Mutex

	id        string
	direction engine.Direction
	state     engine.CallState
	remote    engine.Address
	created   time.Time
	errInfo   engine.ErrorInfo
	log       engine.CallLog

	mediaInProgress bool
	recording       bool
	muted           bool
	video           bool
	remoteVideo     bool

	Accepts        int
	AcceptedParams *engine.CallParams
	Declines       []engine.Reason
	Pauses         int
	Resumes        int
	Terminates     int
	Deferrals      int
}

// NewCall creates a call handle in the Idle state.
func NewCall(id string, dir engine.Direction, remote engine.Address) *Call {
	return &Call{
		id:        id,
		direction: dir,
		remote:    remote,
		created:   time.Now(),
		log:       engine.CallLog{Direction: dir},
	}
}

func (c *Call) ID() string                    { return c.id }
func (c *Call) Direction() engine.Direction   { return c.direction }
func (c *Call) RemoteAddress() engine.Address { return c.remote }
func (c *Call) CreatedAt() time.Time          { return c.created }

func (c *Call) State() engine.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) SetState(s engine.CallState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Call) ErrorInfo() engine.ErrorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errInfo
}

func (c *Call) SetErrorInfo(info engine.ErrorInfo) {
	c.mu.Lock()
	c.errInfo = info
	c.mu.Unlock()
}

func (c *Call) Log() engine.CallLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}

func (c *Call) SetLog(l engine.CallLog) {
	c.mu.Lock()
	c.log = l
	c.mu.Unlock()
}

func (c *Call) MediaInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaInProgress
}

func (c *Call) SetMediaInProgress(v bool) {
	c.mu.Lock()
	c.mediaInProgress = v
	c.mu.Unlock()
}

func (c *Call) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

func (c *Call) MicrophoneMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Call) SetMicrophoneMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
}

func (c *Call) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video
}

func (c *Call) SetVideoEnabled(enabled bool) error {
	c.mu.Lock()
	c.video = enabled
	c.mu.Unlock()
	return nil
}

func (c *Call) RemoteVideoRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteVideo
}

func (c *Call) SetRemoteVideoRequested(v bool) {
	c.mu.Lock()
	c.remoteVideo = v
	c.mu.Unlock()
}

func (c *Call) Accept() error {
	c.mu.Lock()
	c.Accepts++
	c.mu.Unlock()
	return nil
}

func (c *Call) AcceptWithParams(params *engine.CallParams) error {
	c.mu.Lock()
	c.Accepts++
	c.AcceptedParams = params
	c.mu.Unlock()
	return nil
}

func (c *Call) Decline(reason engine.Reason) error {
	c.mu.Lock()
	c.Declines = append(c.Declines, reason)
	c.mu.Unlock()
	return nil
}

func (c *Call) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != engine.CallStreamsRunning {
		return fmt.Errorf("pause in %s: %w", c.state, engine.ErrInvalidState)
	}
	c.Pauses++
	return nil
}

func (c *Call) Resume() error {
	c.mu.Lock()
	c.Resumes++
	c.mu.Unlock()
	return nil
}

func (c *Call) Terminate() error {
	c.mu.Lock()
	c.Terminates++
	c.mu.Unlock()
	return nil
}

func (c *Call) StartRecording() error {
	c.mu.Lock()
	c.recording = true
	c.mu.Unlock()
	return nil
}

func (c *Call) StopRecording() error {
	c.mu.Lock()
	c.recording = false
	c.mu.Unlock()
	return nil
}

func (c *Call) DeferUpdate() error {
	c.mu.Lock()
	c.Deferrals++
	c.mu.Unlock()
	return nil
}

// Invite records one call placement.
type Invite struct {
	Address engine.Address
	Params  *engine.CallParams
}

// Engine is an in-memory engine.Engine.
type Engine struct {
	*engine.Bus

	mu sync.Mutex

	Starts int
	Stops  int

	accounts   []*Account
	FailCreate bool

	calls   []*Call
	current *Call

	// NoParams makes CreateCallParams return nil.
	NoParams       bool
	Interpretation int
	Invites        []Invite
	// NoCall makes invitations return nil.
	NoCall bool

	Unreachable bool
	Conferences map[string]bool
	Policy      engine.VideoPolicy
	mic         bool
	nextID      int
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine with the mic enabled and the network reachable.
func New() *Engine {
	return &Engine{Bus: engine.NewBus(), mic: true, Conferences: map[string]bool{}}
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.Starts++
	e.mu.Unlock()
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	e.Stops++
	e.mu.Unlock()
	return nil
}

func (e *Engine) CreateAccount(params engine.AccountParams) engine.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailCreate {
		return nil
	}
	e.nextID++
	acc := &Account{id: fmt.Sprintf("acc-%d", e.nextID), identity: params.Identity}
	e.accounts = append(e.accounts, acc)
	return acc
}

func (e *Engine) ClearAccounts() {
	e.mu.Lock()
	e.accounts = nil
	e.mu.Unlock()
}

func (e *Engine) Accounts() []engine.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]engine.Account, 0, len(e.accounts))
	for _, a := range e.accounts {
		out = append(out, a)
	}
	return out
}

func (e *Engine) DefaultAccount() engine.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.accounts) == 0 {
		return nil
	}
	return e.accounts[0]
}

// Register moves acc to state and publishes the change.
func (e *Engine) Register(acc engine.Account, state engine.RegistrationState) {
	a := acc.(*Account)
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
	e.PublishRegistration(engine.RegistrationEvent{Account: acc, State: state, Message: state.String()})
}

func (e *Engine) CreateCallParams(call engine.Call) *engine.CallParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NoParams {
		return nil
	}
	return &engine.CallParams{}
}

// InterpretAddress accepts "user@domain" or a bare user and rejects
// anything containing spaces.
func (e *Engine) InterpretAddress(raw string) *engine.Address {
	e.mu.Lock()
	e.Interpretation++
	e.mu.Unlock()
	raw = strings.TrimPrefix(raw, "sip:")
	if raw == "" || strings.ContainsAny(raw, " \t") {
		return nil
	}
	user, domain, ok := strings.Cut(raw, "@")
	if !ok {
		domain = "example.org"
	}
	return &engine.Address{Username: user, Domain: domain}
}

func (e *Engine) InviteAddress(addr engine.Address) engine.Call {
	return e.InviteAddressWithParams(addr, nil)
}

func (e *Engine) InviteAddressWithParams(addr engine.Address, params *engine.CallParams) engine.Call {
	e.mu.Lock()
	e.Invites = append(e.Invites, Invite{Address: addr, Params: params})
	if e.NoCall {
		e.mu.Unlock()
		return nil
	}
	e.nextID++
	c := NewCall(fmt.Sprintf("out-%d", e.nextID), engine.Outgoing, addr)
	e.calls = append(e.calls, c)
	e.current = c
	e.mu.Unlock()
	return c
}

// AddCall makes c known to the engine.
func (e *Engine) AddCall(c *Call) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.calls {
		if existing.id == c.id {
			return
		}
	}
	e.calls = append(e.calls, c)
}

// RemoveCall forgets c and clears it as current.
func (e *Engine) RemoveCall(c *Call) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.calls {
		if existing.id == c.id {
			e.calls = append(e.calls[:i:i], e.calls[i+1:]...)
			break
		}
	}
	if e.current != nil && e.current.id == c.id {
		e.current = nil
	}
}

// SetCurrent sets the engine's current call. Nil clears it.
func (e *Engine) SetCurrent(c *Call) {
	e.mu.Lock()
	e.current = c
	e.mu.Unlock()
}

// Emit moves c to state and publishes the transition.
func (e *Engine) Emit(c *Call, state engine.CallState, message string) {
	c.SetState(state)
	e.PublishCallState(engine.CallStateEvent{Call: c, State: state, Message: message})
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
}

func (e *Engine) NetworkReachable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Unreachable
}

func (e *Engine) IsConference(addr engine.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Conferences[addr.String()]
}

func (e *Engine) VideoPolicy() engine.VideoPolicy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Policy
}

// InviteCount returns how many calls were placed.
func (e *Engine) InviteCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Invites)
}

// LastInvite returns the most recent placement.
func (e *Engine) LastInvite() Invite {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Invites[len(e.Invites)-1]
}
