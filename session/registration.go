package session

import (
	"strings"

	"github.com/sirupsen/logrus"

	"sipphone/engine"
)

// StatusText is the human-readable form of a registration state.
func StatusText(s engine.RegistrationState) string {
	switch s {
	case engine.RegistrationOk:
		return "Connected"
	case engine.RegistrationProgress:
		return "Connecting"
	case engine.RegistrationFailed:
		return "Error"
	}
	return "Not connected"
}

// Registrar creates the local account and watches its registration until
// it settles. It runs on the context loop.
type Registrar struct {
	sc  *Context
	log *logrus.Entry

	identity Identity
	account  engine.Account
	sub      engine.Subscription
	state    engine.RegistrationState
}

func newRegistrar(sc *Context) *Registrar {
	return &Registrar{sc: sc, log: sc.log.WithField("component", "registration")}
}

// register replaces any previous account with one for id. Failures are
// logged; callers poll the state.
func (r *Registrar) register(id Identity) {
	r.reset()
	eng := r.sc.eng
	eng.ClearAccounts()

	transport := strings.ToLower(strings.TrimSpace(id.Transport))
	if transport == "" {
		transport = "tcp"
	}
	auth := id.AuthUsername
	if auth == "" {
		auth = id.Username
	}
	r.identity = id
	r.identity.Transport = transport

	acc := eng.CreateAccount(engine.AccountParams{
		Identity: engine.Address{
			DisplayName: id.DisplayName,
			Username:    id.Username,
			Domain:      id.Domain,
			Transport:   transport,
		},
		AuthUsername: auth,
		Password:     id.Password,
		Transport:    transport,
	})
	if acc == nil {
		r.log.Errorf("failed to create account for %s@%s", id.Username, id.Domain)
		return
	}
	r.account = acc
	r.log.Infof("account %s created for %s", acc.ID(), acc.Identity())

	r.sub = eng.SubscribeRegistration(acc, func(ev engine.RegistrationEvent) {
		r.sc.Post(func() { r.onRegistration(ev) })
	})
	// the account may have moved before the subscription existed
	if s := acc.State(); s != engine.RegistrationNone {
		r.onRegistration(engine.RegistrationEvent{Account: acc, State: s})
	}
}

func (r *Registrar) onRegistration(ev engine.RegistrationEvent) {
	if r.sub == nil || r.account == nil || ev.Account == nil || ev.Account.ID() != r.account.ID() {
		return
	}
	if ev.State == r.state {
		return
	}
	r.log.Infof("account %s registration state changed to %s %s", r.account.Identity(), ev.State, ev.Message)
	r.state = ev.State
	r.sc.metrics.registrations.WithLabelValues(ev.State.String()).Inc()
	r.sc.publish(Event{
		Kind:         EventRegistrationChanged,
		Message:      StatusText(ev.State),
		Registration: ev.State,
	})

	if ev.State == engine.RegistrationOk {
		if def := r.sc.eng.DefaultAccount(); def != nil && def.ID() == r.account.ID() {
			r.sc.platform.Notifier.StopConnectingNotification()
		}
	}
	if ev.State == engine.RegistrationOk || ev.State == engine.RegistrationFailed {
		r.sub.Cancel()
		r.sub = nil
	}
}

// reset drops interest in the previous account.
func (r *Registrar) reset() {
	if r.sub != nil {
		r.sub.Cancel()
		r.sub = nil
	}
	r.account = nil
	r.state = engine.RegistrationNone
}

// State returns the last observed state of the registered account.
func (r *Registrar) State() engine.RegistrationState {
	if r.account == nil {
		return engine.RegistrationNone
	}
	if r.sub == nil {
		// settled; later churn is read directly from the engine
		return r.account.State()
	}
	return r.state
}

// Identity returns the identity of the last register call.
func (r *Registrar) Identity() Identity {
	return r.identity
}

// domainConfigured reports whether an identity domain is known.
func (r *Registrar) domainConfigured() bool {
	return strings.TrimSpace(r.identity.Domain) != ""
}
