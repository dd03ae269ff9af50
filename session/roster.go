package session

import (
	"github.com/sirupsen/logrus"

	"sipphone/engine"
)

// Roster holds the live calls in discovery order and the current call.
// It is not safe for concurrent use; the context loop owns it.
type Roster struct {
	log     *logrus.Entry
	calls   []*Call
	current *Call
}

// NewRoster creates an empty roster.
func NewRoster(log *logrus.Entry) *Roster {
	if log == nil {
		log = logrus.StandardLogger().WithField("name", "roster")
	}
	return &Roster{log: log}
}

// Add tracks h unless a call with the same id is already present. It
// returns the entry and whether it was created.
func (r *Roster) Add(h engine.Call) (*Call, bool) {
	if c := r.Find(h.ID()); c != nil {
		return c, false
	}
	c := newCall(h)
	r.calls = append(r.calls, c)
	return c, true
}

// Find returns the entry for id, or nil.
func (r *Roster) Find(id string) *Call {
	for _, c := range r.calls {
		if c.id == id {
			return c
		}
	}
	return nil
}

// Remove releases and forgets the entry for id. Removing the current call
// clears the current pointer.
func (r *Roster) Remove(id string) *Call {
	for i, c := range r.calls {
		if c.id != id {
			continue
		}
		c.release()
		r.calls = append(r.calls[:i:i], r.calls[i+1:]...)
		if r.current == c {
			r.current = nil
		}
		return c
	}
	r.log.Warnf("call %s is not in the call list", id)
	return nil
}

// SelectCurrent re-evaluates the current call from the engine's own
// current call and reports whether the pointer changed.
//
// A live engine current call is adopted. Otherwise a sole remaining live
// call becomes current, and with several calls the first live call that is
// not already current is chosen.
func (r *Roster) SelectCurrent(engineCurrent engine.Call) bool {
	prev := r.current
	if engineCurrent != nil && !engineCurrent.State().IsTerminal() {
		c, added := r.Add(engineCurrent)
		if added {
			c.apply(engineCurrent.State())
		}
		r.current = c
		return prev != r.current
	}

	switch len(r.calls) {
	case 0:
		r.current = nil
	case 1:
		// the sole call is current by elimination, most likely paused
		if r.current == nil && !r.calls[0].state.IsTerminal() {
			r.current = r.calls[0]
		}
	default:
		var next *Call
		for _, c := range r.calls {
			if !c.state.IsTerminal() && c != r.current {
				next = c
				break
			}
		}
		switch {
		case next != nil:
			r.current = next
		case r.current == nil || r.current.state.IsTerminal():
			r.current = nil
			r.log.Warn("no live call left to make current")
		default:
			r.log.Warnf("keeping call %s as current, no other live call", r.current.id)
		}
	}
	return prev != r.current
}

// Current returns the current call, or nil.
func (r *Roster) Current() *Call {
	return r.current
}

// Calls returns the entries in discovery order.
func (r *Roster) Calls() []*Call {
	out := make([]*Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// List returns snapshots of the entries in discovery order.
func (r *Roster) List() []CallInfo {
	out := make([]CallInfo, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.info(c == r.current))
	}
	return out
}

func (r *Roster) Len() int {
	return len(r.calls)
}

// InactiveCount is the number of calls besides the current one.
func (r *Roster) InactiveCount() int {
	if n := len(r.calls) - 1; n > 0 {
		return n
	}
	return 0
}

// MicrophoneMuted reports the mic as muted when recording is not permitted
// or the current call is muted.
func (r *Roster) MicrophoneMuted(perms Permissions) bool {
	if !perms.Has(PermissionRecordAudio) {
		return true
	}
	return r.current != nil && r.current.handle.MicrophoneMuted()
}

// Clear releases every entry and empties the roster.
func (r *Roster) Clear() {
	for _, c := range r.calls {
		c.release()
	}
	r.calls = nil
	r.current = nil
}
