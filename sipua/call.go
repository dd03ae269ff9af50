package sipua

import (
	"context"
	"fmt"
	"sync"
	"time"

	gosip "github.com/ghettovoice/gosip"
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/util"

	"sipphone/engine"
)

// call is one SIP dialog and its engine-facing state.
type call struct {
	e         *Engine
	id        string
	direction engine.Direction
	remote    engine.Address
	created   time.Time

	mu              sync.Mutex
	state           engine.CallState
	errInfo         engine.ErrorInfo
	log             engine.CallLog
	params          engine.CallParams
	muted           bool
	recording       bool
	video           bool
	remoteVideo     bool
	remoteDirection engine.MediaDirection
	mediaInProgress bool
	deferred        bool

	callID      sip.CallID
	local       *sip.Address
	peer        *sip.Address
	target      sip.Uri
	contact     *sip.Address
	cseq        uint
	sessionID   uint64
	sdpVersion  uint64
	invite      sip.Request
	inviteTx    sip.ServerTransaction
	abort       context.CancelFunc
	established bool
	account     *account
}

func (c *call) ID() string                    { return c.id }
func (c *call) Direction() engine.Direction   { return c.direction }
func (c *call) RemoteAddress() engine.Address { return c.remote }
func (c *call) CreatedAt() time.Time          { return c.created }

func (c *call) State() engine.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *call) ErrorInfo() engine.ErrorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errInfo
}

func (c *call) Log() engine.CallLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}

func (c *call) MediaInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaInProgress
}

func (c *call) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

func (c *call) MicrophoneMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *call) SetMicrophoneMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
	c.e.log.Infof("call %s microphone muted: %v", c.id, muted)
}

func (c *call) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video
}

func (c *call) RemoteVideoRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteVideo && !c.video
}

func (c *call) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.IsTerminal() {
		return fmt.Errorf("start recording in %s: %w", c.state, engine.ErrInvalidState)
	}
	c.recording = true
	c.e.log.Infof("call %s recording started", c.id)
	return nil
}

func (c *call) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = false
	c.e.log.Infof("call %s recording stopped", c.id)
	return nil
}

// DeferUpdate keeps the pending remote video offer unanswered on our side.
func (c *call) DeferUpdate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != engine.CallUpdatedByRemote {
		return fmt.Errorf("defer update in %s: %w", c.state, engine.ErrInvalidState)
	}
	c.deferred = true
	return nil
}

// localSDP renders our current media offer or answer. Caller holds c.mu.
func (c *call) localSDP(direction engine.MediaDirection) (string, error) {
	c.sdpVersion++
	return buildSDP(c.sessionID, c.sdpVersion, mediaOffer{
		Host:           c.e.cfg.Host,
		AudioPort:      c.e.cfg.RTPPort,
		Direction:      direction,
		Video:          c.video,
		VideoDirection: c.params.VideoDirection,
		Encryption:     c.params.MediaEncryption,
		LowBandwidth:   c.params.LowBandwidth,
	})
}

// inDialog builds a request inside the established dialog.
func (c *call) inDialog(method sip.RequestMethod, body string) (sip.Request, uint, error) {
	c.mu.Lock()
	c.cseq++
	seq := c.cseq
	rb := sip.NewRequestBuilder().
		SetMethod(method).
		SetRecipient(c.target).
		SetFrom(c.local).
		SetTo(c.peer).
		SetContact(c.contact).
		SetCallID(&c.callID).
		SetSeqNo(seq)
	c.mu.Unlock()
	if body != "" {
		ctype := sip.ContentType("application/sdp")
		rb.SetContentType(&ctype).SetBody(body)
	}
	req, err := rb.Build()
	if err != nil {
		return nil, 0, fmt.Errorf("build %s: %w", method, err)
	}
	return req, seq, nil
}

func (c *call) sendAck(seq uint) {
	c.mu.Lock()
	rb := sip.NewRequestBuilder().
		SetMethod(sip.ACK).
		SetRecipient(c.target).
		SetFrom(c.local).
		SetTo(c.peer).
		SetContact(c.contact).
		SetCallID(&c.callID).
		SetSeqNo(seq)
	c.mu.Unlock()
	ack, err := rb.Build()
	if err != nil {
		c.e.log.Errorf("call %s: build ACK: %v", c.id, err)
		return
	}
	if err := c.e.srv.Send(ack); err != nil {
		c.e.log.Errorf("call %s: send ACK: %v", c.id, err)
	}
}

// InviteAddress places a call with default parameters.
func (e *Engine) InviteAddress(addr engine.Address) engine.Call {
	return e.InviteAddressWithParams(addr, nil)
}

// InviteAddressWithParams places a call. Nil is returned if the INVITE
// cannot be built.
func (e *Engine) InviteAddressWithParams(addr engine.Address, params *engine.CallParams) engine.Call {
	if !e.isStarted() {
		e.log.Error("cannot place call: engine not started")
		return nil
	}
	c, req, err := e.newOutgoing(addr, params)
	if err != nil {
		e.log.Errorf("cannot place call to %s: %v", addr, err)
		return nil
	}

	e.addCall(c)
	e.setCurrent(c)
	e.transition(c, engine.CallOutgoingInit, "starting outgoing call")

	ctx, cancel := context.WithCancel(e.ctx)
	c.mu.Lock()
	c.abort = cancel
	c.mu.Unlock()
	go c.dial(ctx, req)
	return c
}

func (e *Engine) newOutgoing(addr engine.Address, params *engine.CallParams) (*call, sip.Request, error) {
	c := &call{
		e:          e,
		id:         util.RandString(16),
		direction:  engine.Outgoing,
		remote:     addr,
		created:    time.Now(),
		log:        engine.CallLog{Direction: engine.Outgoing, Status: engine.LogAborted},
		cseq:       1,
		sessionID:  newSessionID(),
		account:    e.accountFor(params),
	}
	c.callID = sip.CallID(c.id)
	if params != nil {
		c.params = *params
		c.video = params.VideoEnabled
	}

	self := engine.Address{Username: "anonymous", Domain: e.cfg.Host}
	if c.account != nil {
		self = c.account.params.Identity
	}
	from, err := toSIPAddress(self)
	if err != nil {
		return nil, nil, err
	}
	from.Params = from.Params.Add("tag", sip.String{Str: util.RandString(8)})
	to, err := toSIPAddress(addr)
	if err != nil {
		return nil, nil, err
	}
	contactURI, err := parseURIString(e.contactURI(self.Username))
	if err != nil {
		return nil, nil, err
	}
	c.local = from
	c.peer = to
	c.target = to.Uri
	c.contact = &sip.Address{Uri: contactURI}

	c.mu.Lock()
	body, err := c.localSDP(engine.MediaSendRecv)
	c.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	ctype := sip.ContentType("application/sdp")
	req, err := sip.NewRequestBuilder().
		SetMethod(sip.INVITE).
		SetRecipient(c.target).
		SetFrom(c.local).
		SetTo(c.peer).
		SetContact(c.contact).
		SetCallID(&c.callID).
		SetSeqNo(c.cseq).
		SetContentType(&ctype).
		SetBody(body).
		Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build INVITE: %w", err)
	}
	return c, req, nil
}

// dial runs the INVITE client transaction. Cancelling ctx sends CANCEL.
func (c *call) dial(ctx context.Context, req sip.Request) {
	c.e.transition(c, engine.CallOutgoingProgress, "outgoing call in progress")

	opts := []gosip.RequestWithContextOption{
		gosip.WithResponseHandler(func(res sip.Response, _ sip.Request) {
			c.onProvisional(res)
		}),
	}
	if c.account != nil {
		user := c.account.params.AuthUsername
		if user == "" {
			user = c.account.params.Identity.Username
		}
		opts = append(opts, gosip.WithAuthorizer(&sip.DefaultAuthorizer{
			User:     sip.String{Str: user},
			Password: sip.String{Str: c.account.params.Password},
		}))
	}

	res, err := c.e.srv.RequestWithContext(ctx, req, opts...)
	switch {
	case ctx.Err() != nil:
		c.e.transition(c, engine.CallEnd, "call aborted")
	case err != nil && res == nil:
		c.fail(0, err.Error())
	case !res.IsSuccess():
		c.fail(int(res.StatusCode()), res.Reason())
	default:
		c.onAnswered(res)
	}
}

func (c *call) onProvisional(res sip.Response) {
	if !res.IsProvisional() {
		return
	}
	switch code := int(res.StatusCode()); {
	case code == 180:
		c.e.transition(c, engine.CallOutgoingRinging, "remote ringing")
	case code == 183 && res.Body() != "":
		c.mu.Lock()
		c.mediaInProgress = c.params.EarlyMediaSending
		c.mu.Unlock()
		c.e.transition(c, engine.CallOutgoingEarlyMedia, "early media")
	}
}

func (c *call) fail(code int, phrase string) {
	reason := engine.ReasonFromStatus(code)
	c.mu.Lock()
	c.errInfo = engine.ErrorInfo{Reason: reason, ProtocolCode: code, Phrase: phrase}
	if reason == engine.ReasonDeclined {
		c.log.Status = engine.LogDeclined
	}
	c.mu.Unlock()

	if reason == engine.ReasonDeclined {
		c.e.transition(c, engine.CallEnd, "call declined")
		return
	}
	c.e.transition(c, engine.CallError, fmt.Sprintf("%d %s", code, phrase))
}

func (c *call) onAnswered(res sip.Response) {
	seq := uint(1)
	if cseq, ok := res.CSeq(); ok {
		seq = uint(cseq.SeqNo)
	}

	c.mu.Lock()
	c.cseq = seq
	if to, ok := res.To(); ok && to.Params != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			c.peer.Params = c.peer.Params.Add("tag", tag)
		}
	}
	focus := false
	if contact, ok := res.Contact(); ok && contact.Address != nil {
		c.target = contact.Address
		focus = contact.Params != nil && contact.Params.Has("isfocus")
	}
	if body := res.Body(); body != "" {
		if rm, err := parseSDP(body); err == nil {
			c.remoteDirection = rm.AudioDirection
			c.video = c.video && rm.Video
		} else {
			c.e.log.Warnf("call %s: %v", c.id, err)
		}
	}
	c.established = true
	c.log.Status = engine.LogSuccess
	c.mediaInProgress = c.params.MediaEncryption == engine.EncryptionZRTP
	c.mu.Unlock()

	if focus {
		c.e.markConference(c.remote)
	}
	c.sendAck(seq)
	c.e.transition(c, engine.CallConnected, "call connected")

	c.mu.Lock()
	c.mediaInProgress = false
	c.mu.Unlock()
	c.e.transition(c, engine.CallStreamsRunning, "streams running")
}

// Accept answers an incoming call with default parameters.
func (c *call) Accept() error {
	return c.AcceptWithParams(nil)
}

// AcceptWithParams answers an incoming call with a 200 OK.
func (c *call) AcceptWithParams(params *engine.CallParams) error {
	c.mu.Lock()
	if c.direction != engine.Incoming || !c.state.IsIncoming() {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("accept in %s: %w", state, engine.ErrInvalidState)
	}
	if params != nil {
		c.params = *params
		c.video = params.VideoEnabled && c.remoteVideo
	}
	body, err := c.localSDP(answerDirection(c.remoteDirection))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	res := c.response(statusOK, "OK", body)
	tx := c.inviteTx
	c.established = true
	c.log.Status = engine.LogSuccess
	c.mu.Unlock()

	if err := tx.Respond(res); err != nil {
		return fmt.Errorf("send 200 OK: %w", err)
	}
	c.e.setCurrent(c)
	c.e.transition(c, engine.CallConnected, "call accepted")
	return nil
}

// response builds a reply to the initial INVITE. Caller holds c.mu.
func (c *call) response(code sip.StatusCode, reason, body string) sip.Response {
	res := sip.NewResponseFromRequest("", c.invite, code, reason, body)
	if to, ok := res.To(); ok {
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		if tag, ok := c.local.Params.Get("tag"); ok {
			to.Params = to.Params.Add("tag", tag)
		}
	}
	if body != "" {
		ctype := sip.ContentType("application/sdp")
		res.AppendHeader(&ctype)
		res.AppendHeader(&sip.ContactHeader{Address: c.contact.Uri})
	}
	return res
}

// Decline rejects an incoming call that has not been answered yet.
func (c *call) Decline(reason engine.Reason) error {
	code, phrase := sip.StatusCode(603), "Decline"
	switch reason {
	case engine.ReasonBusy:
		code, phrase = 486, "Busy Here"
	case engine.ReasonNotAnswered, engine.ReasonTemporarilyUnavailable:
		code, phrase = 480, "Temporarily Unavailable"
	}

	c.mu.Lock()
	if c.direction != engine.Incoming || !c.state.IsIncoming() {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("decline in %s: %w", state, engine.ErrInvalidState)
	}
	res := c.response(code, phrase, "")
	tx := c.inviteTx
	c.errInfo = engine.ErrorInfo{Reason: reason, ProtocolCode: int(code), Phrase: phrase}
	c.log.Status = engine.LogDeclined
	c.mu.Unlock()

	if err := tx.Respond(res); err != nil {
		c.e.log.Warnf("call %s: send %d: %v", c.id, code, err)
	}
	c.e.transition(c, engine.CallEnd, "call declined")
	return nil
}

// Terminate ends the call whatever its state.
func (c *call) Terminate() error {
	c.mu.Lock()
	state := c.state
	established := c.established
	abort := c.abort
	c.mu.Unlock()

	switch {
	case state.IsTerminal():
		return nil
	case c.direction == engine.Incoming && state.IsIncoming():
		return c.Decline(engine.ReasonDeclined)
	case !established && abort != nil:
		abort()
		return nil
	}
	go c.bye()
	return nil
}

func (c *call) bye() {
	req, _, err := c.inDialog(sip.BYE, "")
	if err != nil {
		c.e.log.Errorf("call %s: %v", c.id, err)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), c.e.cfg.RequestTimeout)
		if _, err := c.e.srv.RequestWithContext(ctx, req); err != nil {
			c.e.log.Warnf("call %s: BYE: %v", c.id, err)
		}
		cancel()
	}
	c.e.transition(c, engine.CallEnd, "call terminated")
}

// Pause puts the remote party on hold with a sendonly re-INVITE.
func (c *call) Pause() error {
	if s := c.State(); s != engine.CallStreamsRunning {
		return fmt.Errorf("pause in %s: %w", s, engine.ErrInvalidState)
	}
	c.e.transition(c, engine.CallPausing, "pausing call")
	go func() {
		if err := c.reinvite(engine.MediaSendOnly); err != nil {
			c.e.log.Warnf("call %s: pause: %v", c.id, err)
			c.e.transition(c, engine.CallStreamsRunning, "pause failed")
			return
		}
		c.e.clearCurrent(c)
		c.e.transition(c, engine.CallPaused, "call paused")
	}()
	return nil
}

// Resume takes the call off hold.
func (c *call) Resume() error {
	if s := c.State(); s != engine.CallPaused {
		return fmt.Errorf("resume in %s: %w", s, engine.ErrInvalidState)
	}
	go func() {
		if err := c.reinvite(engine.MediaSendRecv); err != nil {
			c.e.log.Warnf("call %s: resume: %v", c.id, err)
			return
		}
		c.e.setCurrent(c)
		c.e.transition(c, engine.CallStreamsRunning, "call resumed")
	}()
	return nil
}

// SetVideoEnabled offers or removes video on a running call.
func (c *call) SetVideoEnabled(enabled bool) error {
	c.mu.Lock()
	if c.state != engine.CallStreamsRunning {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("video update in %s: %w", state, engine.ErrInvalidState)
	}
	c.video = enabled
	c.params.VideoEnabled = enabled
	c.mu.Unlock()

	go func() {
		if err := c.reinvite(engine.MediaSendRecv); err != nil {
			c.e.log.Warnf("call %s: video update: %v", c.id, err)
			return
		}
		c.e.transition(c, engine.CallStreamsRunning, "call updated")
	}()
	return nil
}

func (c *call) reinvite(direction engine.MediaDirection) error {
	c.mu.Lock()
	body, err := c.localSDP(direction)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	req, seq, err := c.inDialog(sip.INVITE, body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.e.cfg.RequestTimeout)
	defer cancel()
	res, err := c.e.srv.RequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("re-INVITE: %w", err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("re-INVITE answered %d %s", res.StatusCode(), res.Reason())
	}
	c.sendAck(seq)
	return nil
}
