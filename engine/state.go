package engine

// CallState is the engine-reported state of a call.
type CallState int

const (
	CallIdle CallState = iota
	CallOutgoingInit
	CallIncomingReceived
	CallIncomingEarlyMedia
	CallOutgoingProgress
	CallOutgoingRinging
	CallOutgoingEarlyMedia
	CallConnected
	CallStreamsRunning
	CallPausing
	CallPaused
	CallPausedByRemote
	CallUpdatedByRemote
	CallEnd
	CallError
	CallReleased
)

var callStateNames = map[CallState]string{
	CallIdle:               "Idle",
	CallOutgoingInit:       "OutgoingInit",
	CallIncomingReceived:   "IncomingReceived",
	CallIncomingEarlyMedia: "IncomingEarlyMedia",
	CallOutgoingProgress:   "OutgoingProgress",
	CallOutgoingRinging:    "OutgoingRinging",
	CallOutgoingEarlyMedia: "OutgoingEarlyMedia",
	CallConnected:          "Connected",
	CallStreamsRunning:     "StreamsRunning",
	CallPausing:            "Pausing",
	CallPaused:             "Paused",
	CallPausedByRemote:     "PausedByRemote",
	CallUpdatedByRemote:    "UpdatedByRemote",
	CallEnd:                "End",
	CallError:              "Error",
	CallReleased:           "Released",
}

func (s CallState) String() string {
	if n, ok := callStateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// AllCallStates lists every state in declaration order.
func AllCallStates() []CallState {
	states := make([]CallState, 0, len(callStateNames))
	for s := CallIdle; s <= CallReleased; s++ {
		states = append(states, s)
	}
	return states
}

// IsTerminal reports whether the call is over from the orchestrator's view.
func (s CallState) IsTerminal() bool {
	return s == CallEnd || s == CallError || s == CallReleased
}

// IsIncoming reports whether the call is still ringing locally.
func (s CallState) IsIncoming() bool {
	return s == CallIncomingReceived || s == CallIncomingEarlyMedia
}

// IsOutgoing reports whether the call is still being placed.
func (s CallState) IsOutgoing() bool {
	switch s {
	case CallOutgoingInit, CallOutgoingProgress, CallOutgoingRinging, CallOutgoingEarlyMedia:
		return true
	}
	return false
}

// RegistrationState of an account against the registrar.
type RegistrationState int

const (
	RegistrationNone RegistrationState = iota
	RegistrationProgress
	RegistrationOk
	RegistrationFailed
	RegistrationCleared
)

func (s RegistrationState) String() string {
	switch s {
	case RegistrationNone:
		return "None"
	case RegistrationProgress:
		return "Progress"
	case RegistrationOk:
		return "Ok"
	case RegistrationFailed:
		return "Failed"
	case RegistrationCleared:
		return "Cleared"
	}
	return "Unknown"
}

// Direction of a call relative to the local account.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "Incoming"
	}
	return "Outgoing"
}

// Reason explains why a call ended or failed.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDeclined
	ReasonBusy
	ReasonIOError
	ReasonNotAcceptable
	ReasonNotFound
	ReasonServerTimeout
	ReasonTemporarilyUnavailable
	ReasonNotAnswered
	ReasonUnknown
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonDeclined:
		return "Declined"
	case ReasonBusy:
		return "Busy"
	case ReasonIOError:
		return "IOError"
	case ReasonNotAcceptable:
		return "NotAcceptable"
	case ReasonNotFound:
		return "NotFound"
	case ReasonServerTimeout:
		return "ServerTimeout"
	case ReasonTemporarilyUnavailable:
		return "TemporarilyUnavailable"
	case ReasonNotAnswered:
		return "NotAnswered"
	}
	return "Unknown"
}

// ReasonFromStatus maps a final SIP status code to a call reason.
func ReasonFromStatus(code int) Reason {
	switch code {
	case 0:
		return ReasonIOError
	case 404, 484, 604:
		return ReasonNotFound
	case 408, 504:
		return ReasonServerTimeout
	case 480:
		return ReasonTemporarilyUnavailable
	case 486, 600:
		return ReasonBusy
	case 487:
		return ReasonNotAnswered
	case 488, 606:
		return ReasonNotAcceptable
	case 603:
		return ReasonDeclined
	case 503:
		return ReasonIOError
	}
	return ReasonUnknown
}

// ErrorInfo carries the failure details of a call.
type ErrorInfo struct {
	Reason       Reason
	ProtocolCode int
	Phrase       string
}

// LogStatus is the final status recorded in a call log.
type LogStatus int

const (
	LogSuccess LogStatus = iota
	LogAborted
	LogMissed
	LogDeclined
	LogEarlyAborted
)

// CallLog summarises a call once it has ended.
type CallLog struct {
	Direction     Direction
	Status        LogStatus
	WasConference bool
}

// IsMissed reports whether the log describes an unanswered incoming call.
func (l CallLog) IsMissed() bool {
	if l.Direction != Incoming {
		return false
	}
	return l.Status == LogMissed || l.Status == LogAborted || l.Status == LogEarlyAborted
}

// MediaDirection of a media stream.
type MediaDirection int

const (
	MediaSendRecv MediaDirection = iota
	MediaSendOnly
	MediaRecvOnly
	MediaInactive
)

func (d MediaDirection) String() string {
	switch d {
	case MediaSendOnly:
		return "sendonly"
	case MediaRecvOnly:
		return "recvonly"
	case MediaInactive:
		return "inactive"
	}
	return "sendrecv"
}

// MediaEncryption requested for a call.
type MediaEncryption int

const (
	EncryptionNone MediaEncryption = iota
	EncryptionSRTP
	EncryptionZRTP
	EncryptionDTLS
)

func (e MediaEncryption) String() string {
	switch e {
	case EncryptionSRTP:
		return "SRTP"
	case EncryptionZRTP:
		return "ZRTP"
	case EncryptionDTLS:
		return "DTLS"
	}
	return "None"
}

func (s CallState) MarshalText() ([]byte, error)         { return []byte(s.String()), nil }
func (s RegistrationState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (d Direction) MarshalText() ([]byte, error)         { return []byte(d.String()), nil }
