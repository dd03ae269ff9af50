package session

import (
	"errors"
	"fmt"

	"sipphone/engine"
)

var (
	ErrEmptyAddress       = errors.New("empty address")
	ErrUnresolvedAddress  = errors.New("address cannot be resolved")
	ErrNetworkUnreachable = errors.New("network unreachable")
	ErrCallNotCreated     = errors.New("engine did not create the call")
	ErrNoCurrentCall      = errors.New("no current call")
	ErrPermissionNeeded   = errors.New("permission needed")
	ErrNotStarted         = errors.New("session not started")
	ErrStopped            = errors.New("session stopped")
)

// lookup resolves a call id. An empty id means the current call.
func (sc *Context) lookup(id string) (*Call, error) {
	if id == "" {
		if cur := sc.roster.Current(); cur != nil {
			return cur, nil
		}
		return nil, ErrNoCurrentCall
	}
	if c := sc.roster.Find(id); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("call %s: %w", id, engine.ErrNoSuchCall)
}

func (sc *Context) answer(id string) error {
	c, err := sc.lookup(id)
	if err != nil {
		return err
	}
	if !c.state.IsIncoming() {
		return fmt.Errorf("answer call %s in %s: %w", c.id, c.state, engine.ErrInvalidState)
	}
	return sc.controller.answer(c)
}

func (sc *Context) decline(id string) error {
	c, err := sc.lookup(id)
	if err != nil {
		return err
	}
	c.cancelTask(taskAutoAnswer)
	if err := c.handle.Decline(engine.ReasonDeclined); err != nil {
		return fmt.Errorf("decline call %s: %w", c.id, err)
	}
	return nil
}

func (sc *Context) terminate(id string) error {
	c, err := sc.lookup(id)
	if err != nil {
		return err
	}
	c.cancelTask(taskAutoAnswer)
	if err := c.handle.Terminate(); err != nil {
		return fmt.Errorf("terminate call %s: %w", c.id, err)
	}
	return nil
}

func (sc *Context) pause(id string) error {
	c, err := sc.lookup(id)
	if err != nil {
		return err
	}
	if !c.CanBePaused() {
		return fmt.Errorf("pause call %s in %s: %w", c.id, c.state, engine.ErrInvalidState)
	}
	if err := c.handle.Pause(); err != nil {
		return fmt.Errorf("pause call %s: %w", c.id, err)
	}
	return nil
}

func (sc *Context) resume(id string) error {
	c, err := sc.lookup(id)
	if err != nil {
		return err
	}
	if c.state != engine.CallPaused {
		return fmt.Errorf("resume call %s in %s: %w", c.id, c.state, engine.ErrInvalidState)
	}
	if err := c.handle.Resume(); err != nil {
		return fmt.Errorf("resume call %s: %w", c.id, err)
	}
	return nil
}

// requirePermission runs action now when p is granted. Otherwise it asks
// for p and keeps action until the grant is reported.
func (sc *Context) requirePermission(p Permission, action func() error) error {
	if sc.platform.Permissions.Has(p) {
		return action()
	}
	sc.log.Infof("%s permission is missing, deferring action", p)
	sc.pending[p] = append(sc.pending[p], action)
	sc.publish(Event{Kind: EventPermissionNeeded, Permission: p})
	return fmt.Errorf("%s: %w", p, ErrPermissionNeeded)
}

func (sc *Context) permissionGranted(p Permission) {
	actions := sc.pending[p]
	delete(sc.pending, p)
	for _, action := range actions {
		if err := action(); err != nil {
			sc.log.Warnf("deferred %s action: %v", p, err)
		}
	}
}

func (sc *Context) toggleMute() error {
	return sc.requirePermission(PermissionRecordAudio, func() error {
		if cur := sc.roster.Current(); cur != nil {
			muted := !cur.handle.MicrophoneMuted()
			cur.handle.SetMicrophoneMuted(muted)
			cur.refresh()
			sc.log.Infof("call %s microphone muted: %v", cur.id, muted)
			return nil
		}
		enabled := !sc.eng.MicEnabled()
		sc.eng.SetMicEnabled(enabled)
		sc.log.Infof("microphone enabled: %v", enabled)
		return nil
	})
}

func (sc *Context) toggleVideo(id string) error {
	c, err := sc.lookup(id)
	if err != nil {
		return err
	}
	return sc.requirePermission(PermissionCamera, func() error {
		if sc.roster.Find(c.id) != c {
			return fmt.Errorf("call %s: %w", c.id, engine.ErrNoSuchCall)
		}
		enabled := !c.handle.VideoEnabled()
		if err := c.handle.SetVideoEnabled(enabled); err != nil {
			return fmt.Errorf("set video of call %s: %w", c.id, err)
		}
		c.refresh()
		return nil
	})
}
