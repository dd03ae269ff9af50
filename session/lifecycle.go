package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sipphone/engine"
)

// CallOptions tune an outgoing call.
type CallOptions struct {
	// ForceZRTP requests ZRTP media encryption.
	ForceZRTP bool
	// LocalAddress selects the account to call from. The first account
	// whose identity weakly equals it is used.
	LocalAddress *engine.Address
}

// Controller applies call state transitions and the policies tied to them.
// All methods run on the context loop.
type Controller struct {
	sc  *Context
	log *logrus.Entry
}

func newController(sc *Context) *Controller {
	return &Controller{sc: sc, log: sc.log.WithField("component", "lifecycle")}
}

// onCallState handles one engine transition.
func (l *Controller) onCallState(h engine.Call, state engine.CallState, message string) {
	id := h.ID()
	l.log.Infof("call %s state changed to %s %s", id, state, message)
	roster := l.sc.roster

	entry := roster.Find(id)
	if entry == nil {
		switch state {
		case engine.CallOutgoingInit, engine.CallIncomingReceived, engine.CallIncomingEarlyMedia:
			entry, _ = roster.Add(h)
			l.sc.metrics.callsTotal.WithLabelValues(h.Direction().String()).Inc()
			l.sc.metrics.activeCalls.Set(float64(roster.Len()))
		default:
			if !state.IsTerminal() {
				l.log.Debugf("call %s is not tracked, ignoring %s", id, state)
			}
		}
	}

	if entry != nil {
		from := entry.state
		if !entry.apply(state) {
			l.log.Warnf("unexpected transition %s -> %s for call %s", from, state, id)
			l.sc.metrics.unexpectedTransitions.WithLabelValues(from.String(), state.String()).Inc()
		}
		l.sc.metrics.transitions.WithLabelValues(state.String()).Inc()
		if !state.IsIncoming() {
			entry.cancelTask(taskAutoAnswer)
		}
	}

	switch state {
	case engine.CallIncomingReceived, engine.CallIncomingEarlyMedia:
		l.onIncoming(entry)
	case engine.CallOutgoingProgress:
		l.onOutgoingProgress(entry)
	case engine.CallConnected:
		l.onConnected(entry)
	case engine.CallStreamsRunning:
		l.onStreamsRunning(entry)
	case engine.CallUpdatedByRemote:
		l.onUpdatedByRemote(entry)
	case engine.CallEnd, engine.CallError, engine.CallReleased:
		l.onTerminated(h, entry, state)
	}

	if entry != nil && !state.IsTerminal() {
		l.trackMedia(entry)
	}
	l.selectCurrent()
	l.sc.publishCallList()
}

func (l *Controller) onIncoming(c *Call) {
	if c == nil {
		return
	}
	cfg := l.sc.cfg
	if !cfg.UseTelecomManager && l.sc.platform.Telephony.InCall() {
		l.log.Infof("refusing call %s with reason busy, a telephony call is active", c.id)
		if err := c.handle.Decline(engine.ReasonBusy); err != nil {
			l.log.Errorf("decline call %s: %v", c.id, err)
		}
		return
	}

	// early media after ringing is the same incoming call
	if c.prevState == engine.CallIdle {
		info := c.info(l.sc.roster.Current() == c)
		l.sc.platform.Presenter.PresentIncoming(info)
		l.sc.publish(Event{Kind: EventIncomingCallSurfaced, CallID: c.id, Call: &info})
	}

	if !cfg.AutoAnswer || c.answered || c.hasTask(taskAutoAnswer) {
		return
	}
	if cfg.AutoAnswerDelay <= 0 {
		l.log.Warnf("auto answering call %s immediately", c.id)
		l.autoAnswer(c)
		return
	}
	l.log.Infof("scheduling auto answering of call %s in %s", c.id, cfg.AutoAnswerDelay)
	c.setTask(taskAutoAnswer, l.sc.schedule(cfg.AutoAnswerDelay, func() {
		c.forgetTask(taskAutoAnswer)
		if l.sc.roster.Find(c.id) != c || !c.state.IsIncoming() {
			return
		}
		l.log.Warnf("auto answering call %s", c.id)
		l.autoAnswer(c)
	}))
}

func (l *Controller) autoAnswer(c *Call) {
	if err := l.answer(c); err != nil {
		l.log.Errorf("auto answer: %v", err)
		return
	}
	l.sc.metrics.autoAnswers.Inc()
}

// answer accepts c, falling back to a parameterless accept when the engine
// has no params for it.
func (l *Controller) answer(c *Call) error {
	eng := l.sc.eng
	l.log.Infof("answering call %s", c.id)
	params := eng.CreateCallParams(c.handle)
	var err error
	if params == nil {
		l.log.Warnf("answering call %s without params", c.id)
		err = c.handle.Accept()
	} else {
		if c.handle.Log().WasConference || eng.IsConference(c.remote) {
			// keeps a group call from starting in the audio-only layout
			params.VideoEnabled = true
			params.VideoDirection = engine.MediaRecvOnly
			if eng.VideoPolicy().AutomaticallyInitiate {
				params.VideoDirection = engine.MediaSendRecv
			}
			l.log.Infof("enabling video to answer conference call %s", c.id)
		}
		err = c.handle.AcceptWithParams(params)
	}
	if err != nil {
		return fmt.Errorf("accept call %s: %w", c.id, err)
	}
	c.answered = true
	c.cancelTask(taskAutoAnswer)
	return nil
}

func (l *Controller) onOutgoingProgress(c *Call) {
	if c == nil {
		return
	}
	if !l.sc.eng.IsConference(c.remote) {
		info := c.info(l.sc.roster.Current() == c)
		l.sc.platform.Presenter.PresentOutgoing(info)
		l.sc.publish(Event{Kind: EventOutgoingCallSurfaced, CallID: c.id, Call: &info})
	}
	if l.sc.roster.Len() == 1 && l.sc.cfg.RouteAudioToBluetooth {
		l.sc.platform.AudioRouter.RouteToBluetooth(c.id)
	}
}

func (l *Controller) onConnected(c *Call) {
	if c == nil {
		return
	}
	if l.sc.cfg.AutoStartRecording {
		l.log.Infof("starting recording of call %s", c.id)
		if err := c.handle.StartRecording(); err != nil {
			l.log.Errorf("start recording of call %s: %v", c.id, err)
		}
		c.refresh()
	}
	info := c.info(l.sc.roster.Current() == c)
	if !l.sc.cfg.KeepAppInvisible {
		l.sc.platform.Presenter.PresentCallStarted(info)
	}
	l.sc.platform.Presenter.ShowInCallSurface()
	l.sc.publish(Event{Kind: EventCallConnected, CallID: c.id, Call: &info})
}

func (l *Controller) onStreamsRunning(c *Call) {
	if c == nil {
		return
	}
	if c.prevState == engine.CallConnected && !c.routedAudio && l.sc.roster.Len() == 1 {
		c.routedAudio = true
		router := l.sc.platform.AudioRouter
		switch {
		case router.HeadsetAvailable():
			l.log.Infof("routing audio of call %s to headset", c.id)
			router.RouteToHeadset(c.id)
		case l.sc.cfg.RouteAudioToBluetooth && router.BluetoothAvailable():
			l.log.Infof("routing audio of call %s to bluetooth", c.id)
			router.RouteToBluetooth(c.id)
		}
	}
	info := c.info(l.sc.roster.Current() == c)
	l.sc.publish(Event{Kind: EventCallUpdated, CallID: c.id, Call: &info})
}

func (l *Controller) onUpdatedByRemote(c *Call) {
	if c == nil {
		return
	}
	h := c.handle
	if h.RemoteVideoRequested() && !h.VideoEnabled() && !l.sc.eng.VideoPolicy().AutomaticallyAccept {
		l.log.Infof("remote asked to add video to call %s, deferring update", c.id)
		if err := h.DeferUpdate(); err != nil {
			l.log.Errorf("defer update of call %s: %v", c.id, err)
		}
	}
	info := c.info(l.sc.roster.Current() == c)
	l.sc.publish(Event{Kind: EventCallUpdated, CallID: c.id, Call: &info})
}

func (l *Controller) onTerminated(h engine.Call, c *Call, state engine.CallState) {
	var info CallInfo
	if c != nil {
		info = c.info(l.sc.roster.Current() == c)
	} else {
		info = CallInfo{
			ID:        h.ID(),
			Direction: h.Direction(),
			Remote:    h.RemoteAddress().String(),
			State:     state,
			CreatedAt: h.CreatedAt(),
		}
	}

	if state == engine.CallEnd && h.Log().IsMissed() {
		l.log.Infof("call %s from %s was missed", info.ID, info.Remote)
		l.sc.platform.History.RecordMissed(info)
		l.sc.metrics.missedCalls.Inc()
	}

	if c != nil {
		l.sc.roster.Remove(c.id)
		l.sc.metrics.activeCalls.Set(float64(l.sc.roster.Len()))
		l.sc.metrics.callDuration.Observe(time.Since(c.createdAt).Seconds())
	}
	remaining := l.sc.roster.Len()

	errInfo := h.ErrorInfo()
	switch {
	case state == engine.CallError:
		l.log.Warnf("call %s error reason is %d / %s / %s", info.ID, errInfo.ProtocolCode, errInfo.Reason, errInfo.Phrase)
		cat := Classify(errInfo, l.sc.registrar.domainConfigured())
		l.sc.metrics.callErrors.WithLabelValues(string(cat)).Inc()
		l.sc.publish(Event{
			Kind:     EventErrorMessage,
			CallID:   info.ID,
			Category: cat,
			Message:  l.sc.cfg.Messages.Text(cat, errInfo),
		})
	case state == engine.CallEnd && h.Direction() == engine.Outgoing &&
		errInfo.Reason == engine.ReasonDeclined && remaining == 0:
		l.log.Infof("call %s has been declined", info.ID)
		l.sc.publish(Event{Kind: EventCallDeclined, CallID: info.ID, Message: l.sc.cfg.Messages.CallDeclined})
	}

	if c != nil && remaining > 0 {
		l.sc.publish(Event{Kind: EventCallEnded, CallID: info.ID, Call: &info})
	}
}

// onLastCallEnded restores the microphone for the next call.
func (l *Controller) onLastCallEnded() {
	l.log.Info("last call has ended")
	eng := l.sc.eng
	if !eng.MicEnabled() {
		l.log.Warn("mic was muted, enabling it back for next call")
		eng.SetMicEnabled(true)
	}
	l.sc.platform.Presenter.HideInCallSurface()
	l.sc.publish(Event{Kind: EventNoMoreCalls})
}

// trackMedia re-reads c every RefreshInterval while media is in progress.
func (l *Controller) trackMedia(c *Call) {
	if !c.mediaInProgress || c.hasTask(taskRefresh) {
		return
	}
	var tick func()
	tick = func() {
		c.forgetTask(taskRefresh)
		if l.sc.roster.Find(c.id) != c {
			return
		}
		c.refresh()
		if c.mediaInProgress {
			c.setTask(taskRefresh, l.sc.schedule(RefreshInterval, tick))
			return
		}
		l.sc.publishCallList()
	}
	c.setTask(taskRefresh, l.sc.schedule(RefreshInterval, tick))
}

// selectCurrent re-runs the current call selection and announces changes.
func (l *Controller) selectCurrent() {
	roster := l.sc.roster
	if !roster.SelectCurrent(l.sc.eng.CurrentCall()) {
		return
	}
	ev := Event{Kind: EventCurrentCallChanged}
	if cur := roster.Current(); cur != nil {
		info := cur.info(true)
		ev.CallID = cur.id
		ev.Call = &info
	}
	l.sc.publish(ev)
}

// startCall resolves raw and places a call to it.
func (l *Controller) startCall(raw string, opts CallOptions) (engine.Call, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyAddress
	}
	addr := l.sc.eng.InterpretAddress(raw)
	if addr == nil {
		l.log.Errorf("failed to parse %s, abort outgoing call", raw)
		l.networkUnreachable()
		return nil, fmt.Errorf("interpret %q: %w", raw, ErrUnresolvedAddress)
	}
	return l.startCallTo(*addr, opts)
}

func (l *Controller) startCallTo(addr engine.Address, opts CallOptions) (engine.Call, error) {
	eng := l.sc.eng
	if !eng.NetworkReachable() {
		l.log.Error("network unreachable, abort outgoing call")
		l.networkUnreachable()
		return nil, ErrNetworkUnreachable
	}

	params := eng.CreateCallParams(nil)
	if params == nil {
		call := eng.InviteAddress(addr)
		if call == nil {
			l.log.Errorf("failed to start call to %s", addr)
			return nil, fmt.Errorf("invite %s: %w", addr, ErrCallNotCreated)
		}
		l.log.Warnf("starting call %s without params", call.ID())
		return call, nil
	}

	if opts.ForceZRTP || l.sc.cfg.ForceZRTP {
		l.log.Warn("starting call with ZRTP forced")
		params.MediaEncryption = engine.EncryptionZRTP
	}
	if l.sc.platform.Network.LowBandwidth() {
		l.log.Warn("enabling low bandwidth mode")
		params.LowBandwidth = true
	}
	if opts.LocalAddress != nil {
		var match engine.Account
		for _, acc := range eng.Accounts() {
			if acc.Identity().WeakEqual(*opts.LocalAddress) {
				match = acc
				break
			}
		}
		if match != nil {
			params.Account = match
			l.log.Infof("using account matching address %s as From", opts.LocalAddress)
		} else {
			l.log.Errorf("failed to find account matching address %s", opts.LocalAddress)
		}
	}
	if l.sc.cfg.SendEarlyMedia {
		params.EarlyMediaSending = true
	}

	call := eng.InviteAddressWithParams(addr, params)
	if call == nil {
		l.log.Errorf("failed to start call to %s", addr)
		return nil, fmt.Errorf("invite %s: %w", addr, ErrCallNotCreated)
	}
	l.log.Infof("starting call %s to %s", call.ID(), addr)
	return call, nil
}

func (l *Controller) networkUnreachable() {
	l.sc.publish(Event{
		Kind:     EventErrorMessage,
		Category: CategoryNetworkUnreachable,
		Message:  l.sc.cfg.Messages.NetworkUnreachable,
	})
}
