package sipua

import (
	"time"

	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/util"

	"sipphone/engine"
)

const statusOK sip.StatusCode = 200

func callIDOf(req sip.Request) string {
	cid, ok := req.CallID()
	if !ok || cid == nil {
		return ""
	}
	return string(*cid)
}

func hasTag(params sip.Params) bool {
	if params == nil {
		return false
	}
	_, ok := params.Get("tag")
	return ok
}

// handleInvite creates an incoming call or routes a re-INVITE to its dialog.
func (e *Engine) handleInvite(req sip.Request, tx sip.ServerTransaction) {
	e.log.Debugf("received SIP message:\n%s", req)
	callID := callIDOf(req)

	toHdr, ok := req.To()
	if !ok {
		e.respond(req, 400, "Bad Request")
		return
	}
	if hasTag(toHdr.Params) {
		if c := e.findCall(callID); c != nil {
			c.onReinvite(req, tx)
			return
		}
		e.respond(req, 481, "Call/Transaction Does Not Exist")
		return
	}
	if e.findCall(callID) != nil {
		// retransmission of an INVITE we already track
		return
	}

	fromHdr, ok := req.From()
	if !ok {
		e.respond(req, 400, "Bad Request")
		return
	}

	c := &call{
		e:         e,
		id:        callID,
		direction: engine.Incoming,
		remote:    fromURI(fromHdr.Address, fromHdr.DisplayName),
		created:   time.Now(),
		log:       engine.CallLog{Direction: engine.Incoming, Status: engine.LogMissed},
		callID:    sip.CallID(callID),
		sessionID: newSessionID(),
		invite:    req,
		inviteTx:  tx,
	}
	fromParams := fromHdr.Params
	if fromParams == nil {
		fromParams = sip.NewParams()
	}
	c.peer = &sip.Address{DisplayName: fromHdr.DisplayName, Uri: fromHdr.Address, Params: fromParams}
	c.local = &sip.Address{Uri: toHdr.Address, Params: sip.NewParams().Add("tag", sip.String{Str: util.RandString(8)})}
	c.target = fromHdr.Address
	if seq, ok := req.CSeq(); ok {
		c.cseq = uint(seq.SeqNo)
	}
	focus := false
	if contact, ok := req.Contact(); ok && contact.Address != nil {
		c.target = contact.Address
		focus = contact.Params != nil && contact.Params.Has("isfocus")
	}
	contactURI, err := parseURIString(e.contactURI(maybe(toHdr.Address.User())))
	if err != nil {
		e.log.Errorf("incoming call %s: %v", callID, err)
		e.respond(req, 500, "Server Internal Error")
		return
	}
	c.contact = &sip.Address{Uri: contactURI}

	if body := req.Body(); body != "" {
		rm, err := parseSDP(body)
		if err != nil {
			e.log.Warnf("incoming call %s: %v", callID, err)
			e.respond(req, 488, "Not Acceptable Here")
			return
		}
		c.remoteDirection = rm.AudioDirection
		c.remoteVideo = rm.Video
	}
	if focus {
		e.markConference(c.remote)
	}

	e.addCall(c)
	go c.watchCancel(tx)

	c.mu.Lock()
	ringing := c.response(180, "Ringing", "")
	c.mu.Unlock()
	if err := tx.Respond(ringing); err != nil {
		e.log.Warnf("incoming call %s: send 180: %v", callID, err)
	}
	e.transition(c, engine.CallIncomingReceived, "incoming call")

	if e.cfg.AcceptEarlyMedia {
		c.mu.Lock()
		body, err := c.localSDP(answerDirection(c.remoteDirection))
		var progress sip.Response
		if err == nil {
			progress = c.response(183, "Session Progress", body)
		}
		c.mu.Unlock()
		if err != nil {
			e.log.Warnf("incoming call %s: early media: %v", callID, err)
			return
		}
		if err := tx.Respond(progress); err != nil {
			e.log.Warnf("incoming call %s: send 183: %v", callID, err)
			return
		}
		e.transition(c, engine.CallIncomingEarlyMedia, "incoming call with early media")
	}
}

// watchCancel ends a ringing call when the caller gives up.
func (c *call) watchCancel(tx sip.ServerTransaction) {
	select {
	case <-tx.Cancels():
		c.onRemoteCancel()
	case <-tx.Done():
	}
}

func (c *call) onRemoteCancel() {
	c.mu.Lock()
	if !c.state.IsIncoming() {
		c.mu.Unlock()
		return
	}
	res := c.response(487, "Request Terminated", "")
	tx := c.inviteTx
	c.log.Status = engine.LogMissed
	c.mu.Unlock()

	if err := tx.Respond(res); err != nil {
		c.e.log.Warnf("call %s: send 487: %v", c.id, err)
	}
	c.e.transition(c, engine.CallEnd, "call cancelled by remote")
}

// onReinvite handles hold, resume and media updates from the peer.
func (c *call) onReinvite(req sip.Request, tx sip.ServerTransaction) {
	rm := remoteMedia{AudioDirection: engine.MediaSendRecv}
	if body := req.Body(); body != "" {
		var err error
		if rm, err = parseSDP(body); err != nil {
			c.e.log.Warnf("call %s: re-INVITE: %v", c.id, err)
			c.e.respond(req, 488, "Not Acceptable Here")
			return
		}
	}

	c.mu.Lock()
	prev := c.state
	c.remoteDirection = rm.AudioDirection
	next := prev
	message := ""
	switch {
	case isHold(rm.AudioDirection):
		next, message = engine.CallPausedByRemote, "call paused by remote"
	case rm.Video && !c.video:
		c.remoteVideo = true
		c.deferred = false
		if c.e.cfg.VideoPolicy.AutomaticallyAccept {
			c.video = true
		}
		next, message = engine.CallUpdatedByRemote, "remote requested video"
	case !rm.Video && c.video:
		c.video = false
		c.remoteVideo = false
		next, message = engine.CallStreamsRunning, "remote removed video"
	case prev == engine.CallPausedByRemote:
		next, message = engine.CallStreamsRunning, "call resumed by remote"
	}
	body, err := c.localSDP(answerDirection(rm.AudioDirection))
	c.mu.Unlock()
	if err != nil {
		c.e.log.Errorf("call %s: answer re-INVITE: %v", c.id, err)
		c.e.respond(req, 500, "Server Internal Error")
		return
	}

	if next == engine.CallUpdatedByRemote {
		c.e.transition(c, next, message)
	}

	res := sip.NewResponseFromRequest("", req, statusOK, "OK", body)
	ctype := sip.ContentType("application/sdp")
	res.AppendHeader(&ctype)
	res.AppendHeader(&sip.ContactHeader{Address: c.contact.Uri})
	if err := tx.Respond(res); err != nil {
		c.e.log.Warnf("call %s: answer re-INVITE: %v", c.id, err)
		return
	}

	if next != prev && next != engine.CallUpdatedByRemote {
		c.e.transition(c, next, message)
	}
}

func (e *Engine) handleAck(req sip.Request, tx sip.ServerTransaction) {
	c := e.findCall(callIDOf(req))
	if c == nil {
		return
	}
	switch c.State() {
	case engine.CallConnected:
		e.transition(c, engine.CallStreamsRunning, "streams running")
	case engine.CallUpdatedByRemote:
		e.transition(c, engine.CallStreamsRunning, "call updated")
	}
}

func (e *Engine) handleBye(req sip.Request, tx sip.ServerTransaction) {
	e.log.Debugf("received SIP message:\n%s", req)
	c := e.findCall(callIDOf(req))
	if c == nil {
		e.respond(req, 481, "Call/Transaction Does Not Exist")
		return
	}
	e.respond(req, statusOK, "OK")
	c.mu.Lock()
	if c.established {
		c.log.Status = engine.LogSuccess
	}
	c.mu.Unlock()
	e.transition(c, engine.CallEnd, "call ended by remote")
}

func (e *Engine) handleCancel(req sip.Request, tx sip.ServerTransaction) {
	e.respond(req, statusOK, "OK")
	if c := e.findCall(callIDOf(req)); c != nil {
		c.onRemoteCancel()
	}
}

func (e *Engine) handleOptions(req sip.Request, tx sip.ServerTransaction) {
	e.respond(req, statusOK, "OK")
}

func (e *Engine) respond(req sip.Request, code sip.StatusCode, reason string) {
	if _, err := e.srv.RespondOnRequest(req, code, reason, "", nil); err != nil {
		e.log.Warnf("respond %d to %s: %v", code, req.Method(), err)
	}
}
