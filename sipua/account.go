package sipua

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gosip "github.com/ghettovoice/gosip"
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/ghettovoice/gosip/util"
	"github.com/google/uuid"

	"sipphone/engine"
)

const registerRetry = 30 * time.Second

type account struct {
	e      *Engine
	id     string
	params engine.AccountParams

	mu     sync.Mutex
	state  engine.RegistrationState
	cseq   uint
	callID sip.CallID
	tag    string
	cancel context.CancelFunc
	done   chan struct{}
}

func (a *account) ID() string               { return a.id }
func (a *account) Identity() engine.Address { return a.params.Identity }

func (a *account) State() engine.RegistrationState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *account) setState(state engine.RegistrationState, message string) {
	a.mu.Lock()
	if a.state == state {
		a.mu.Unlock()
		return
	}
	a.state = state
	a.mu.Unlock()
	a.e.log.Infof("account %s registration: %s (%s)", a.params.Identity, state, message)
	a.e.PublishRegistration(engine.RegistrationEvent{Account: a, State: state, Message: message})
}

// CreateAccount creates a credentialed account and starts registering it.
func (e *Engine) CreateAccount(params engine.AccountParams) engine.Account {
	if !e.isStarted() {
		e.log.Error("cannot create account: engine not started")
		return nil
	}
	if params.Identity.Domain == "" || params.Identity.Username == "" {
		e.log.Errorf("cannot create account for %q: incomplete identity", params.Identity)
		return nil
	}
	if params.Transport == "" {
		params.Transport = e.cfg.Transport
	}
	if params.Expires == 0 {
		params.Expires = e.cfg.RegisterExpiry
	}

	ctx, cancel := context.WithCancel(e.ctx)
	a := &account{
		e:      e,
		id:     uuid.NewString(),
		params: params,
		callID: sip.CallID(util.RandString(16)),
		tag:    util.RandString(8),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.accounts = append(e.accounts, a)
	e.mu.Unlock()

	go a.run(ctx)
	return a
}

// ClearAccounts forgets every account. Unregistration continues in the
// background.
func (e *Engine) ClearAccounts() {
	e.mu.Lock()
	accounts := e.accounts
	e.accounts = nil
	e.mu.Unlock()
	for _, a := range accounts {
		a.cancel()
	}
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

// DefaultAccount is the first account created.
func (e *Engine) DefaultAccount() engine.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.accounts) == 0 {
		return nil
	}
	return e.accounts[0]
}

func (e *Engine) accountFor(params *engine.CallParams) *account {
	if params != nil && params.Account != nil {
		if a, ok := params.Account.(*account); ok {
			return a
		}
	}
	if a, ok := e.DefaultAccount().(*account); ok {
		return a
	}
	return nil
}

func (a *account) stop() {
	a.cancel()
	<-a.done
}

// run keeps the binding alive until ctx is cancelled, then removes it.
func (a *account) run(ctx context.Context) {
	defer close(a.done)
	for {
		a.setState(engine.RegistrationProgress, "registration in progress")
		expires, err := a.register(ctx, a.params.Expires)
		wait := registerRetry
		switch {
		case ctx.Err() != nil:
		case err != nil:
			a.setState(engine.RegistrationFailed, err.Error())
		default:
			a.setState(engine.RegistrationOk, "registration successful")
			wait = expires / 2
		}

		select {
		case <-ctx.Done():
			a.unregister()
			return
		case <-time.After(wait):
		}
	}
}

func (a *account) unregister() {
	if a.State() != engine.RegistrationOk {
		a.setState(engine.RegistrationCleared, "unregistered")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.e.cfg.RequestTimeout)
	defer cancel()
	if _, err := a.register(ctx, 0); err != nil {
		a.e.log.Warnf("unregister %s: %v", a.params.Identity, err)
	}
	a.setState(engine.RegistrationCleared, "unregistered")
}

// register sends one REGISTER and returns the granted expiry.
func (a *account) register(ctx context.Context, expires time.Duration) (time.Duration, error) {
	id := a.params.Identity
	registrar := fmt.Sprintf("sip:%s;transport=%s", id.Domain, strings.ToLower(a.params.Transport))
	if id.Port > 0 {
		registrar = fmt.Sprintf("sip:%s:%d;transport=%s", id.Domain, id.Port, strings.ToLower(a.params.Transport))
	}
	recipient, err := parseURIString(registrar)
	if err != nil {
		return 0, err
	}
	aor, err := toSIPAddress(engine.Address{DisplayName: id.DisplayName, Username: id.Username, Domain: id.Domain})
	if err != nil {
		return 0, err
	}
	from := &sip.Address{DisplayName: aor.DisplayName, Uri: aor.Uri, Params: sip.NewParams().Add("tag", sip.String{Str: a.tag})}
	contactURI, err := parseURIString(a.e.contactURI(id.Username))
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.cseq++
	seq := a.cseq
	callID := a.callID
	a.mu.Unlock()

	exp := sip.Expires(uint32(expires / time.Second))
	rb := sip.NewRequestBuilder().
		SetMethod(sip.REGISTER).
		SetRecipient(recipient).
		SetFrom(from).
		SetTo(aor).
		SetContact(&sip.Address{Uri: contactURI}).
		SetCallID(&callID).
		SetSeqNo(seq)
	rb.AddHeader(&exp)
	req, err := rb.Build()
	if err != nil {
		return 0, fmt.Errorf("build REGISTER: %w", err)
	}

	user := a.params.AuthUsername
	if user == "" {
		user = id.Username
	}
	auth := &sip.DefaultAuthorizer{User: sip.String{Str: user}, Password: sip.String{Str: a.params.Password}}

	reqCtx, cancel := context.WithTimeout(ctx, a.e.cfg.RequestTimeout)
	defer cancel()
	res, err := a.e.srv.RequestWithContext(reqCtx, req, gosip.WithAuthorizer(auth))
	if err != nil {
		return 0, fmt.Errorf("send REGISTER: %w", err)
	}
	if !res.IsSuccess() {
		return 0, fmt.Errorf("registrar answered %d %s", res.StatusCode(), res.Reason())
	}

	granted := expires
	if hdrs := res.GetHeaders("Expires"); len(hdrs) > 0 {
		if e, ok := hdrs[0].(*sip.Expires); ok && *e > 0 {
			granted = time.Duration(*e) * time.Second
		}
	}
	if granted <= 0 {
		granted = a.e.cfg.RegisterExpiry
	}
	return granted, nil
}

func parseURIString(raw string) (sip.Uri, error) {
	uri, err := parser.ParseUri(raw)
	if err != nil {
		return nil, fmt.Errorf("parse uri %q: %w", raw, err)
	}
	return uri, nil
}
