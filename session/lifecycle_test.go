package session

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipphone/engine"
)

func autoAnswerConfig(delay time.Duration) Config {
	cfg := DefaultConfig()
	cfg.AutoAnswer = true
	cfg.AutoAnswerDelay = delay
	return cfg
}

func TestAutoAnswerWithoutDelayAnswersImmediately(t *testing.T) {
	h := newHarness(t, autoAnswerConfig(0))
	c := h.incoming("in-1")

	h.emit(c, engine.CallIncomingReceived)

	assert.Equal(t, 1, c.Accepts)
	assert.Zero(t, h.sched.Scheduled(), "no timer may be created")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.sc.metrics.autoAnswers))
}

func TestAutoAnswerFiresAfterDelay(t *testing.T) {
	h := newHarness(t, autoAnswerConfig(2*time.Second))
	c := h.incoming("in-1")

	h.emit(c, engine.CallIncomingReceived)
	require.Equal(t, 1, h.sched.Pending())
	assert.Zero(t, c.Accepts)

	h.advance(1999 * time.Millisecond)
	assert.Zero(t, c.Accepts)
	h.advance(time.Millisecond)
	assert.Equal(t, 1, c.Accepts)
	assert.False(t, h.sc.roster.Find("in-1").hasTask(taskAutoAnswer))
}

func TestAutoAnswerCancelledWhenCallEndsFirst(t *testing.T) {
	h := newHarness(t, autoAnswerConfig(2*time.Second))
	c := h.incoming("in-1")

	h.emit(c, engine.CallIncomingReceived)
	h.advance(500 * time.Millisecond)
	h.end(c, engine.CallEnd)
	h.advance(5 * time.Second)

	assert.Zero(t, c.Accepts)
	assert.Zero(t, h.sched.Pending())
}

func TestAutoAnswerCancelledWhenCallLeavesIncoming(t *testing.T) {
	h := newHarness(t, autoAnswerConfig(2*time.Second))
	c := h.incoming("in-1")

	h.emit(c, engine.CallIncomingReceived)
	h.emit(c, engine.CallIncomingEarlyMedia)
	require.Equal(t, 1, h.sched.Pending(), "early media keeps the same task")
	h.emit(c, engine.CallConnected)
	h.advance(3 * time.Second)

	assert.Zero(t, c.Accepts)
}

func TestIncomingCallDeclinedWhileTelephonyBusy(t *testing.T) {
	h := newHarness(t, autoAnswerConfig(0), func(r *recorder) { r.inCall = true })
	c := h.incoming("in-1")

	h.emit(c, engine.CallIncomingReceived)

	assert.Equal(t, []engine.Reason{engine.ReasonBusy}, c.Declines)
	assert.Zero(t, c.Accepts)
	assert.Empty(t, h.rec.incoming)
	assert.Empty(t, ofKind(h.collect(), EventIncomingCallSurfaced))
}

func TestIncomingCallAllowedWithTelecomManager(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseTelecomManager = true
	h := newHarness(t, cfg, func(r *recorder) { r.inCall = true })
	c := h.incoming("in-1")

	h.emit(c, engine.CallIncomingReceived)

	assert.Empty(t, c.Declines)
	assert.Len(t, h.rec.incoming, 1)
	assert.Len(t, ofKind(h.collect(), EventIncomingCallSurfaced), 1)
}

func TestIncomingEarlyMediaIsPresentedOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c := h.incoming("in-1")

	h.emit(c, engine.CallIncomingReceived)
	h.emit(c, engine.CallIncomingEarlyMedia)

	assert.Len(t, h.rec.incoming, 1)
}

func TestDeclinedOutgoingCallEmitsDeclinedOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c := h.outgoing("out-1")
	h.emit(c, engine.CallOutgoingInit)
	h.emit(c, engine.CallOutgoingProgress)
	h.collect()

	c.SetErrorInfo(engine.ErrorInfo{Reason: engine.ReasonDeclined, ProtocolCode: 603, Phrase: "Decline"})
	h.end(c, engine.CallEnd)
	h.emit(c, engine.CallReleased)

	events := h.collect()
	declined := ofKind(events, EventCallDeclined)
	require.Len(t, declined, 1)
	assert.Equal(t, "Call declined", declined[0].Message)
	assert.Empty(t, ofKind(events, EventErrorMessage))
}

func TestDeclinedOutgoingCallWithOtherCallsIsQuiet(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	other := h.incoming("in-1")
	h.emit(other, engine.CallIncomingReceived)
	c := h.outgoing("out-1")
	h.emit(c, engine.CallOutgoingInit)
	h.collect()

	c.SetErrorInfo(engine.ErrorInfo{Reason: engine.ReasonDeclined, ProtocolCode: 603})
	h.end(c, engine.CallEnd)

	events := h.collect()
	assert.Empty(t, ofKind(events, EventCallDeclined))
	assert.Len(t, ofKind(events, EventCallEnded), 1)
}

func TestCallErrorsAreClassified(t *testing.T) {
	cases := []struct {
		name     string
		info     engine.ErrorInfo
		domain   string
		category ErrorCategory
		message  string
	}{
		{"busy", engine.ErrorInfo{Reason: engine.ReasonBusy, ProtocolCode: 486}, "example.org", CategoryBusy, "User is busy"},
		{"io error", engine.ErrorInfo{Reason: engine.ReasonIOError, ProtocolCode: 503}, "example.org", CategoryIOError, "Service unavailable or network error"},
		{"io error without account", engine.ErrorInfo{Reason: engine.ReasonIOError}, "", CategoryAccountNotSetUp, "Account not set up"},
		{"not acceptable", engine.ErrorInfo{Reason: engine.ReasonNotAcceptable, ProtocolCode: 488}, "example.org", CategoryNotAcceptable, "Incompatible media parameters"},
		{"not found", engine.ErrorInfo{Reason: engine.ReasonNotFound, ProtocolCode: 404}, "example.org", CategoryNotFound, "User not found"},
		{"timeout", engine.ErrorInfo{Reason: engine.ReasonServerTimeout, ProtocolCode: 408}, "example.org", CategoryServerTimeout, "Server timeout"},
		{"unavailable", engine.ErrorInfo{Reason: engine.ReasonTemporarilyUnavailable, ProtocolCode: 480}, "example.org", CategoryTemporarilyUnavailable, "Temporarily unavailable"},
		{"other", engine.ErrorInfo{Reason: engine.ReasonUnknown, ProtocolCode: 500, Phrase: "Server Internal Error"}, "example.org", CategoryOther, "Error: 500 Server Internal Error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig())
			h.sc.registrar.register(Identity{Domain: tc.domain, Username: "alice"})
			h.drain()
			c := h.outgoing("out-1")
			h.emit(c, engine.CallOutgoingInit)
			h.collect()

			c.SetErrorInfo(tc.info)
			h.end(c, engine.CallError)

			errs := ofKind(h.collect(), EventErrorMessage)
			require.Len(t, errs, 1)
			assert.Equal(t, tc.category, errs[0].Category)
			assert.Equal(t, tc.message, errs[0].Message)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.sc.metrics.callErrors.WithLabelValues(string(tc.category))))
		})
	}
}

func TestMissedCallIsRecorded(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c := h.incoming("in-1")
	h.emit(c, engine.CallIncomingReceived)

	c.SetLog(engine.CallLog{Direction: engine.Incoming, Status: engine.LogMissed})
	h.end(c, engine.CallEnd)

	require.Len(t, h.rec.missed, 1)
	assert.Equal(t, "in-1", h.rec.missed[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.sc.metrics.missedCalls))
}

func TestAnsweredCallIsNotRecordedAsMissed(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c := h.incoming("in-1")
	h.emit(c, engine.CallIncomingReceived)
	h.emit(c, engine.CallConnected)

	c.SetLog(engine.CallLog{Direction: engine.Incoming, Status: engine.LogSuccess})
	h.end(c, engine.CallEnd)

	assert.Empty(t, h.rec.missed)
}

func TestOutgoingProgressPresentsAndRoutesToBluetooth(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c := h.outgoing("out-1")

	h.emit(c, engine.CallOutgoingInit)
	h.emit(c, engine.CallOutgoingProgress)

	assert.Len(t, h.rec.outgoing, 1)
	assert.Equal(t, []string{"out-1"}, h.rec.routedBluetooth)
	assert.Len(t, ofKind(h.collect(), EventOutgoingCallSurfaced), 1)
}

func TestOutgoingConferenceIsNotPresented(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RouteAudioToBluetooth = false
	h := newHarness(t, cfg)
	c := h.outgoing("out-1")
	h.eng.Conferences[c.RemoteAddress().String()] = true

	h.emit(c, engine.CallOutgoingInit)
	h.emit(c, engine.CallOutgoingProgress)

	assert.Empty(t, h.rec.outgoing)
	assert.Empty(t, h.rec.routedBluetooth)
}

func TestOutgoingProgressSkipsBluetoothWithSeveralCalls(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	in := h.incoming("in-1")
	h.emit(in, engine.CallIncomingReceived)
	c := h.outgoing("out-1")

	h.emit(c, engine.CallOutgoingInit)
	h.emit(c, engine.CallOutgoingProgress)

	assert.Empty(t, h.rec.routedBluetooth)
}

func TestConnectedStartsRecordingAndPresents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoStartRecording = true
	h := newHarness(t, cfg)
	c := h.outgoing("out-1")
	h.emit(c, engine.CallOutgoingInit)

	h.emit(c, engine.CallConnected)

	assert.True(t, c.IsRecording())
	require.Len(t, h.rec.started, 1)
	assert.True(t, h.rec.started[0].Recording)
	assert.Equal(t, 1, h.rec.shown)
	assert.Len(t, ofKind(h.collect(), EventCallConnected), 1)
}

func TestConnectedStaysInvisible(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeepAppInvisible = true
	h := newHarness(t, cfg)
	c := h.outgoing("out-1")
	h.emit(c, engine.CallOutgoingInit)

	h.emit(c, engine.CallConnected)

	assert.False(t, c.IsRecording())
	assert.Empty(t, h.rec.started)
}

func TestAudioRoutedOnceOnFirstStreamsRunning(t *testing.T) {
	h := newHarness(t, DefaultConfig(), func(r *recorder) { r.headset = true })
	c := h.outgoing("out-1")

	for _, s := range []engine.CallState{
		engine.CallOutgoingInit, engine.CallOutgoingProgress, engine.CallConnected, engine.CallStreamsRunning,
		engine.CallPausing, engine.CallPaused, engine.CallStreamsRunning,
	} {
		h.emit(c, s)
	}

	assert.Equal(t, []string{"out-1"}, h.rec.routedHeadset)
	assert.Equal(t, []string{"out-1"}, h.rec.routedBluetooth, "only the OutgoingProgress request")
}

func TestAudioRoutedToBluetoothWithoutHeadset(t *testing.T) {
	h := newHarness(t, DefaultConfig(), func(r *recorder) { r.bluetooth = true })
	c := h.incoming("in-1")

	for _, s := range []engine.CallState{engine.CallIncomingReceived, engine.CallConnected, engine.CallStreamsRunning} {
		h.emit(c, s)
	}

	assert.Empty(t, h.rec.routedHeadset)
	assert.Equal(t, []string{"in-1"}, h.rec.routedBluetooth)
}

func TestAudioNotRoutedWithSeveralCalls(t *testing.T) {
	h := newHarness(t, DefaultConfig(), func(r *recorder) { r.headset = true })
	held := h.incoming("in-1")
	h.emit(held, engine.CallIncomingReceived)
	c := h.incoming("in-2")

	for _, s := range []engine.CallState{engine.CallIncomingReceived, engine.CallConnected, engine.CallStreamsRunning} {
		h.emit(c, s)
	}

	assert.Empty(t, h.rec.routedHeadset)
}

func TestUpdatedByRemoteDefersVideoOffer(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c := h.outgoing("out-1")
	h.emit(c, engine.CallOutgoingInit)
	h.emit(c, engine.CallConnected)
	h.emit(c, engine.CallStreamsRunning)
	h.collect()

	c.SetRemoteVideoRequested(true)
	h.emit(c, engine.CallUpdatedByRemote)

	assert.Equal(t, 1, c.Deferrals)
	assert.Len(t, ofKind(h.collect(), EventCallUpdated), 1)
}

func TestUpdatedByRemoteAcceptedByPolicy(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.eng.Policy = engine.VideoPolicy{AutomaticallyAccept: true}
	c := h.outgoing("out-1")
	h.emit(c, engine.CallOutgoingInit)
	h.emit(c, engine.CallConnected)
	h.emit(c, engine.CallStreamsRunning)

	c.SetRemoteVideoRequested(true)
	h.emit(c, engine.CallUpdatedByRemote)

	assert.Zero(t, c.Deferrals)
}

func TestLastCallEndedReenablesMic(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.eng.SetMicEnabled(false)

	h.eng.PublishLastCallEnded()
	h.drain()

	assert.True(t, h.eng.MicEnabled())
	assert.Equal(t, 1, h.rec.hidden)
	assert.Len(t, ofKind(h.collect(), EventNoMoreCalls), 1)
}

func TestMediaInProgressIsRefreshedUntilCleared(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c := h.outgoing("out-1")
	h.emit(c, engine.CallOutgoingInit)
	c.SetMediaInProgress(true)

	h.emit(c, engine.CallConnected)
	require.Equal(t, 1, h.sched.Pending())
	entry := h.sc.roster.Find("out-1")
	assert.True(t, entry.info(false).MediaInProgress)

	h.advance(RefreshInterval)
	assert.Equal(t, 1, h.sched.Pending(), "still in progress")

	c.SetMediaInProgress(false)
	h.advance(RefreshInterval)
	assert.Zero(t, h.sched.Pending())
	assert.False(t, entry.info(false).MediaInProgress)
}

func TestMediaInProgressIsRefreshedWhileStreamsRunning(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c := h.outgoing("out-1")
	h.eng.SetCurrent(c)
	h.emit(c, engine.CallOutgoingInit)
	h.emit(c, engine.CallOutgoingProgress)
	h.emit(c, engine.CallConnected)

	c.SetMediaInProgress(true)
	h.emit(c, engine.CallStreamsRunning)
	require.Equal(t, 1, h.sched.Pending())
	assert.ErrorIs(t, h.sc.pause(""), engine.ErrInvalidState)

	h.advance(RefreshInterval)
	assert.Equal(t, 1, h.sched.Pending(), "still in progress")

	c.SetMediaInProgress(false)
	h.advance(RefreshInterval)
	assert.Zero(t, h.sched.Pending())

	entry := h.sc.roster.Find("out-1")
	assert.False(t, entry.info(false).MediaInProgress)
	assert.True(t, entry.CanBePaused())
	require.NoError(t, h.sc.pause(""))
	assert.Equal(t, 1, c.Pauses)
}

func TestUnexpectedTransitionIsCountedAndApplied(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c := h.outgoing("out-1")
	h.emit(c, engine.CallOutgoingInit)

	h.emit(c, engine.CallPaused)

	assert.Equal(t, engine.CallPaused, h.sc.roster.Find("out-1").State())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.sc.metrics.unexpectedTransitions.WithLabelValues("OutgoingInit", "Paused")))
}

func TestCurrentCallChangeIsAnnounced(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c := h.outgoing("out-1")
	h.eng.SetCurrent(c)

	h.emit(c, engine.CallOutgoingInit)

	changes := ofKind(h.collect(), EventCurrentCallChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, "out-1", changes[0].CallID)
	assert.Equal(t, "out-1", h.sc.roster.Current().ID())
}

func TestRemainingCallBecomesCurrentWhenCurrentEnds(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	a := h.outgoing("A")
	h.eng.SetCurrent(a)
	h.emit(a, engine.CallOutgoingInit)
	h.emit(a, engine.CallConnected)
	h.emit(a, engine.CallStreamsRunning)
	h.emit(a, engine.CallPaused)

	b := h.incoming("B")
	h.eng.SetCurrent(b)
	h.emit(b, engine.CallIncomingReceived)
	h.emit(b, engine.CallStreamsRunning)
	require.Equal(t, "B", h.sc.roster.Current().ID())

	h.eng.SetCurrent(nil)
	h.end(b, engine.CallEnd)

	require.Equal(t, 1, h.sc.roster.Len())
	require.NotNil(t, h.sc.roster.Current())
	assert.Equal(t, "A", h.sc.roster.Current().ID())
	require.NoError(t, h.sc.terminate(""))
	assert.Equal(t, 1, a.Terminates)
}

func TestAnswerFallsBackWithoutParams(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.eng.NoParams = true
	c := h.incoming("in-1")
	h.emit(c, engine.CallIncomingReceived)

	require.NoError(t, h.sc.answer("in-1"))

	assert.Equal(t, 1, c.Accepts)
	assert.Nil(t, c.AcceptedParams)
}

func TestAnswerConferenceEnablesVideo(t *testing.T) {
	for _, initiate := range []bool{true, false} {
		h := newHarness(t, DefaultConfig())
		h.eng.Policy = engine.VideoPolicy{AutomaticallyInitiate: initiate}
		c := h.incoming("in-1")
		c.SetLog(engine.CallLog{Direction: engine.Incoming, WasConference: true})
		h.emit(c, engine.CallIncomingReceived)

		require.NoError(t, h.sc.answer("in-1"))

		require.NotNil(t, c.AcceptedParams)
		assert.True(t, c.AcceptedParams.VideoEnabled)
		want := engine.MediaRecvOnly
		if initiate {
			want = engine.MediaSendRecv
		}
		assert.Equal(t, want, c.AcceptedParams.VideoDirection)
	}
}

func TestStartCallWithEmptyAddressDoesNothing(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	_, err := h.sc.controller.startCall("", CallOptions{})

	assert.ErrorIs(t, err, ErrEmptyAddress)
	assert.Zero(t, h.eng.Interpretation)
	assert.Zero(t, h.eng.InviteCount())
	assert.Empty(t, h.collect())
}

func TestStartCallWithUnresolvableAddress(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	_, err := h.sc.controller.startCall("not a uri", CallOptions{})

	assert.ErrorIs(t, err, ErrUnresolvedAddress)
	assert.Zero(t, h.eng.InviteCount())
	errs := ofKind(h.collect(), EventErrorMessage)
	require.Len(t, errs, 1)
	assert.Equal(t, CategoryNetworkUnreachable, errs[0].Category)
	assert.Equal(t, "Network is unreachable", errs[0].Message)
}

func TestStartCallWithUnreachableNetwork(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.eng.Unreachable = true

	_, err := h.sc.controller.startCall("bob@example.org", CallOptions{})

	assert.ErrorIs(t, err, ErrNetworkUnreachable)
	assert.Zero(t, h.eng.InviteCount())
	assert.Len(t, ofKind(h.collect(), EventErrorMessage), 1)
}

func TestStartCallBuildsParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendEarlyMedia = true
	h := newHarness(t, cfg, func(r *recorder) { r.lowBand = true })

	call, err := h.sc.controller.startCall("bob@example.org", CallOptions{ForceZRTP: true})
	require.NoError(t, err)
	require.NotNil(t, call)

	inv := h.eng.LastInvite()
	assert.Equal(t, engine.Address{Username: "bob", Domain: "example.org"}, inv.Address)
	require.NotNil(t, inv.Params)
	assert.Equal(t, engine.EncryptionZRTP, inv.Params.MediaEncryption)
	assert.True(t, inv.Params.LowBandwidth)
	assert.True(t, inv.Params.EarlyMediaSending)
	assert.Nil(t, inv.Params.Account)
}

func TestStartCallWithoutParams(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.eng.NoParams = true

	call, err := h.sc.controller.startCall("bob", CallOptions{})

	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Nil(t, h.eng.LastInvite().Params)
}

func TestStartCallWhenEngineCreatesNoCall(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.eng.NoCall = true

	_, err := h.sc.controller.startCall("bob", CallOptions{})

	assert.ErrorIs(t, err, ErrCallNotCreated)
}

func TestStartCallBindsLocalAccount(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.sc.registrar.register(Identity{Domain: "example.org", Username: "alice"})
	acc := h.eng.DefaultAccount()
	require.NotNil(t, acc)

	_, err := h.sc.controller.startCall("bob", CallOptions{
		LocalAddress: &engine.Address{Username: "alice", Domain: "EXAMPLE.org", Port: 5060},
	})
	require.NoError(t, err)
	require.NotNil(t, h.eng.LastInvite().Params.Account)
	assert.Equal(t, acc.ID(), h.eng.LastInvite().Params.Account.ID())

	_, err = h.sc.controller.startCall("bob", CallOptions{
		LocalAddress: &engine.Address{Username: "mallory", Domain: "example.org"},
	})
	require.NoError(t, err, "a missing account falls back to the default one")
	assert.Nil(t, h.eng.LastInvite().Params.Account)
	assert.Equal(t, 2, h.eng.InviteCount())
}

func TestCommandsOnUnknownCall(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	assert.ErrorIs(t, h.sc.answer("nope"), engine.ErrNoSuchCall)
	assert.ErrorIs(t, h.sc.terminate(""), ErrNoCurrentCall)
}

func TestPauseAndResumeCurrentCall(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	c := h.outgoing("out-1")
	h.eng.SetCurrent(c)
	h.emit(c, engine.CallOutgoingInit)

	assert.ErrorIs(t, h.sc.pause(""), engine.ErrInvalidState)

	h.emit(c, engine.CallConnected)
	h.emit(c, engine.CallStreamsRunning)
	require.NoError(t, h.sc.pause(""))
	assert.Equal(t, 1, c.Pauses)

	h.emit(c, engine.CallPausing)
	h.emit(c, engine.CallPaused)
	require.NoError(t, h.sc.resume("out-1"))
	assert.Equal(t, 1, c.Resumes)
}

func TestDeclineCancelsAutoAnswer(t *testing.T) {
	h := newHarness(t, autoAnswerConfig(time.Second))
	c := h.incoming("in-1")
	h.emit(c, engine.CallIncomingReceived)

	require.NoError(t, h.sc.decline("in-1"))
	h.advance(2 * time.Second)

	assert.Equal(t, []engine.Reason{engine.ReasonDeclined}, c.Declines)
	assert.Zero(t, c.Accepts)
}

func TestToggleMuteWaitsForPermission(t *testing.T) {
	h := newHarness(t, DefaultConfig(), func(r *recorder) { r.denied[PermissionRecordAudio] = true })
	c := h.outgoing("out-1")
	h.eng.SetCurrent(c)
	h.emit(c, engine.CallOutgoingInit)
	h.collect()

	err := h.sc.toggleMute()

	assert.ErrorIs(t, err, ErrPermissionNeeded)
	assert.False(t, c.MicrophoneMuted())
	needed := ofKind(h.collect(), EventPermissionNeeded)
	require.Len(t, needed, 1)
	assert.Equal(t, PermissionRecordAudio, needed[0].Permission)

	h.rec.setDenied(PermissionRecordAudio, false)
	h.sc.permissionGranted(PermissionRecordAudio)
	assert.True(t, c.MicrophoneMuted())

	require.NoError(t, h.sc.toggleMute())
	assert.False(t, c.MicrophoneMuted())
}

func TestToggleVideoWaitsForCamera(t *testing.T) {
	h := newHarness(t, DefaultConfig(), func(r *recorder) { r.denied[PermissionCamera] = true })
	c := h.outgoing("out-1")
	h.emit(c, engine.CallOutgoingInit)

	assert.ErrorIs(t, h.sc.toggleVideo("out-1"), ErrPermissionNeeded)
	assert.False(t, c.VideoEnabled())

	h.sc.permissionGranted(PermissionCamera)
	assert.True(t, c.VideoEnabled())
}

func TestToggleMuteWithoutCallUsesEngineMic(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	require.NoError(t, h.sc.toggleMute())
	assert.False(t, h.eng.MicEnabled())
}
