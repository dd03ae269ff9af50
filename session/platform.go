package session

// Presenter shows call surfaces to the user.
type Presenter interface {
	// PresentIncoming raises the full-screen incoming call UI.
	PresentIncoming(call CallInfo)
	PresentOutgoing(call CallInfo)
	PresentCallStarted(call CallInfo)
	ShowInCallSurface()
	HideInCallSurface()
}

// Notifier owns the persistent service notifications.
type Notifier interface {
	StopConnectingNotification()
}

// History persists call history bookkeeping.
type History interface {
	RecordMissed(call CallInfo)
}

// Telephony reports the state of the device's legacy telephony stack.
type Telephony interface {
	InCall() bool
}

// Permissions reports granted OS permissions.
type Permissions interface {
	Has(p Permission) bool
}

// Network describes the active network.
type Network interface {
	LowBandwidth() bool
}

// AudioRouter switches the audio route of a call.
type AudioRouter interface {
	HeadsetAvailable() bool
	BluetoothAvailable() bool
	RouteToHeadset(callID string)
	RouteToBluetooth(callID string)
}

// Platform bundles the collaborators the orchestrator calls into.
// Nil members are replaced by no-op implementations.
type Platform struct {
	Presenter   Presenter
	Notifier    Notifier
	History     History
	Telephony   Telephony
	Permissions Permissions
	Network     Network
	AudioRouter AudioRouter
}

func (p Platform) withDefaults() Platform {
	if p.Presenter == nil {
		p.Presenter = nopPresenter{}
	}
	if p.Notifier == nil {
		p.Notifier = nopNotifier{}
	}
	if p.History == nil {
		p.History = nopHistory{}
	}
	if p.Telephony == nil {
		p.Telephony = nopTelephony{}
	}
	if p.Permissions == nil {
		p.Permissions = grantAll{}
	}
	if p.Network == nil {
		p.Network = nopNetwork{}
	}
	if p.AudioRouter == nil {
		p.AudioRouter = nopRouter{}
	}
	return p
}

type nopPresenter struct{}

func (nopPresenter) PresentIncoming(CallInfo)    {}
func (nopPresenter) PresentOutgoing(CallInfo)    {}
func (nopPresenter) PresentCallStarted(CallInfo) {}
func (nopPresenter) ShowInCallSurface()          {}
func (nopPresenter) HideInCallSurface()          {}

type nopNotifier struct{}

func (nopNotifier) StopConnectingNotification() {}

type nopHistory struct{}

func (nopHistory) RecordMissed(CallInfo) {}

type nopTelephony struct{}

func (nopTelephony) InCall() bool { return false }

type grantAll struct{}

func (grantAll) Has(Permission) bool { return true }

type nopNetwork struct{}

func (nopNetwork) LowBandwidth() bool { return false }

type nopRouter struct{}

func (nopRouter) HeadsetAvailable() bool   { return false }
func (nopRouter) BluetoothAvailable() bool { return false }
func (nopRouter) RouteToHeadset(string)    {}
func (nopRouter) RouteToBluetooth(string)  {}
