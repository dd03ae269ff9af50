package main

import (
	"sync"

	"github.com/sirupsen/logrus"

	"sipphone/session"
)

// devicePlatform stands in for the handset services on a headless host.
// Surfaces are logged, device capabilities come from settings.ini and
// permissions are granted through the gateway.
type devicePlatform struct {
	log      *logrus.Entry
	settings *Settings

	mu      sync.RWMutex
	granted map[session.Permission]bool
	visible bool
}

func newDevicePlatform(s *Settings, log *logrus.Entry) *devicePlatform {
	return &devicePlatform{
		log:      log,
		settings: s,
		granted: map[session.Permission]bool{
			session.PermissionRecordAudio: s.RecordAudio(),
			session.PermissionCamera:      s.Camera(),
		},
	}
}

// Platform bundles p with the given history store.
func (p *devicePlatform) Platform(history session.History) session.Platform {
	return session.Platform{
		Presenter:   p,
		Notifier:    p,
		History:     history,
		Telephony:   p,
		Permissions: p,
		Network:     p,
		AudioRouter: p,
	}
}

func (p *devicePlatform) PresentIncoming(c session.CallInfo) {
	p.log.Infof("incoming call %s from %s", c.ID, c.Remote)
}

func (p *devicePlatform) PresentOutgoing(c session.CallInfo) {
	p.log.Infof("outgoing call %s to %s", c.ID, c.Remote)
}

func (p *devicePlatform) PresentCallStarted(c session.CallInfo) {
	p.log.Infof("call %s with %s started", c.ID, c.Remote)
}

func (p *devicePlatform) ShowInCallSurface() {
	p.mu.Lock()
	p.visible = true
	p.mu.Unlock()
	p.log.Debug("in-call surface shown")
}

func (p *devicePlatform) HideInCallSurface() {
	p.mu.Lock()
	p.visible = false
	p.mu.Unlock()
	p.log.Debug("in-call surface hidden")
}

// SurfaceVisible reports whether the in-call surface is up.
func (p *devicePlatform) SurfaceVisible() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.visible
}

func (p *devicePlatform) StopConnectingNotification() {
	p.log.Info("registered, connecting notification dismissed")
}

// InCall is always false: there is no cellular stack on this host.
func (p *devicePlatform) InCall() bool { return false }

func (p *devicePlatform) Has(perm session.Permission) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.granted[perm]
}

// Grant records perm as granted. It reports false for unknown permissions.
func (p *devicePlatform) Grant(perm session.Permission) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.granted[perm]; !ok {
		return false
	}
	p.granted[perm] = true
	return true
}

func (p *devicePlatform) LowBandwidth() bool       { return p.settings.LowBandwidth() }
func (p *devicePlatform) HeadsetAvailable() bool   { return p.settings.HeadsetAvailable() }
func (p *devicePlatform) BluetoothAvailable() bool { return p.settings.BluetoothAvailable() }

func (p *devicePlatform) RouteToHeadset(callID string) {
	p.log.Infof("routing audio of call %s to headset", callID)
}

func (p *devicePlatform) RouteToBluetooth(callID string) {
	p.log.Infof("routing audio of call %s to bluetooth", callID)
}
