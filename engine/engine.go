// Package engine is the boundary between the call orchestrator and the
// SIP/media stack that actually places calls.
package engine

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotStarted   = errors.New("engine not started")
	ErrNoSuchCall   = errors.New("no such call")
	ErrInvalidState = errors.New("invalid call state")
)

// CallParams are the negotiable parameters of a call.
type CallParams struct {
	VideoEnabled      bool
	VideoDirection    MediaDirection
	MediaEncryption   MediaEncryption
	LowBandwidth      bool
	EarlyMediaSending bool
	// Account binds the call to a local identity. Nil means the default account.
	Account Account
}

// VideoPolicy is the engine's automatic video behaviour.
type VideoPolicy struct {
	AutomaticallyInitiate bool
	AutomaticallyAccept   bool
}

// AccountParams describe a credentialed local identity.
type AccountParams struct {
	Identity     Address
	AuthUsername string
	Password     string
	Transport    string
	Expires      time.Duration
}

// Account is a local identity registered against a registrar.
type Account interface {
	ID() string
	Identity() Address
	State() RegistrationState
}

// Call is an engine-owned call handle. Implementations must be safe for
// concurrent use.
type Call interface {
	ID() string
	Direction() Direction
	State() CallState
	RemoteAddress() Address
	CreatedAt() time.Time
	ErrorInfo() ErrorInfo
	Log() CallLog

	MediaInProgress() bool
	IsRecording() bool
	MicrophoneMuted() bool
	VideoEnabled() bool
	RemoteVideoRequested() bool

	Accept() error
	AcceptWithParams(params *CallParams) error
	Decline(reason Reason) error
	Pause() error
	Resume() error
	Terminate() error
	StartRecording() error
	StopRecording() error
	DeferUpdate() error
	SetMicrophoneMuted(muted bool)
	SetVideoEnabled(enabled bool) error
}

// CallStateEvent is published on every call state transition.
type CallStateEvent struct {
	Call    Call
	State   CallState
	Message string
}

// RegistrationEvent is published on every registration state change.
type RegistrationEvent struct {
	Account Account
	State   RegistrationState
	Message string
}

// Engine is the command and subscription surface of the call stack.
// Commands that cannot produce a result return nil instead of failing.
type Engine interface {
	Start(ctx context.Context) error
	Stop() error

	CreateAccount(params AccountParams) Account
	ClearAccounts()
	Accounts() []Account
	DefaultAccount() Account

	CreateCallParams(call Call) *CallParams
	InterpretAddress(raw string) *Address
	InviteAddress(addr Address) Call
	InviteAddressWithParams(addr Address, params *CallParams) Call

	CurrentCall() Call
	Calls() []Call
	CallsCount() int

	MicEnabled() bool
	SetMicEnabled(enabled bool)
	NetworkReachable() bool
	IsConference(addr Address) bool
	VideoPolicy() VideoPolicy

	SubscribeRegistration(acc Account, fn func(RegistrationEvent)) Subscription
	SubscribeCallState(fn func(CallStateEvent)) Subscription
	SubscribeLastCallEnded(fn func()) Subscription
}
