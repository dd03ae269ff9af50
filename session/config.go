package session

import "time"

// Identity is the local SIP identity the orchestrator registers.
type Identity struct {
	Domain       string
	Username     string
	AuthUsername string
	Password     string
	DisplayName  string
	// Transport is "udp" or "tcp". Empty means tcp.
	Transport string
}

// Config holds the behaviour switches read from persisted settings.
type Config struct {
	AutoAnswer            bool
	AutoAnswerDelay       time.Duration
	RouteAudioToBluetooth bool
	AutoStartRecording    bool
	AcceptEarlyMedia      bool
	SendEarlyMedia        bool
	UseTelecomManager     bool
	KeepAppInvisible      bool
	ForceZRTP             bool

	Messages Messages
}

// DefaultConfig mirrors the defaults of a fresh installation.
func DefaultConfig() Config {
	return Config{
		RouteAudioToBluetooth: true,
		Messages:              DefaultMessages(),
	}
}

// RefreshInterval is how often a call with media in progress is re-read.
const RefreshInterval = time.Second
