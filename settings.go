package main

import (
	"fmt"
	"strings"
	"time"

	ini "gopkg.in/ini.v1"

	"sipphone/engine"
	"sipphone/session"
	"sipphone/sipua"
)

// Settings holds application configuration loaded from settings.ini.
type Settings struct {
	sipPort       int
	sipPortRange  int
	publicAddress string
	sipTransport  string
	userAgent     string
	rtpPort       int

	domain       string
	username     string
	authUsername string
	password     string
	displayName  string
	accTransport string

	autoAnswer         bool
	autoAnswerDelay    int
	routeToBluetooth   bool
	autoStartRecording bool
	keepAppInvisible   bool
	useTelecomManager  bool

	headsetAvailable   bool
	bluetoothAvailable bool
	lowBandwidth       bool
	recordAudio        bool
	camera             bool

	incomingEarlyMedia bool
	outgoingEarlyMedia bool
	forceZRTP          bool
	videoInitiate      bool
	videoAccept        bool

	httpListen  string
	historyFile string

	messages session.Messages
}

// LoadSettings reads configuration from ini file and validates required fields.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("sip")
	s.sipPort = sec.Key("port").MustInt(5060)
	s.sipPortRange = sec.Key("port_range").MustInt(0)
	s.publicAddress = sec.Key("public_address").String()
	s.sipTransport = strings.ToLower(sec.Key("transport").MustString("udp"))
	s.userAgent = sec.Key("user_agent").MustString("sipphone")
	s.rtpPort = sec.Key("rtp_port").MustInt(7078)

	sec = cfg.Section("account")
	s.domain = sec.Key("domain").String()
	s.username = sec.Key("username").String()
	s.authUsername = sec.Key("auth_username").String()
	s.password = sec.Key("password").String()
	s.displayName = sec.Key("display_name").String()
	s.accTransport = sec.Key("transport").MustString("tcp")

	sec = cfg.Section("app")
	s.autoAnswer = sec.Key("auto_answer").MustBool(false)
	s.autoAnswerDelay = sec.Key("auto_answer_delay").MustInt(0)
	s.routeToBluetooth = sec.Key("route_audio_to_bluetooth").MustBool(true)
	s.autoStartRecording = sec.Key("auto_start_call_record").MustBool(false)
	s.keepAppInvisible = sec.Key("keep_app_invisible").MustBool(false)
	s.useTelecomManager = sec.Key("use_self_managed_telecom_manager").MustBool(false)

	s.headsetAvailable = sec.Key("headset_available").MustBool(false)
	s.bluetoothAvailable = sec.Key("bluetooth_available").MustBool(false)
	s.lowBandwidth = sec.Key("low_bandwidth").MustBool(false)
	s.recordAudio = sec.Key("record_audio").MustBool(true)
	s.camera = sec.Key("camera").MustBool(false)

	sec = cfg.Section("media")
	s.incomingEarlyMedia = sec.Key("incoming_calls_early_media").MustBool(false)
	s.outgoingEarlyMedia = sec.Key("outgoing_calls_early_media").MustBool(false)
	s.forceZRTP = sec.Key("force_zrtp").MustBool(false)
	s.videoInitiate = sec.Key("video_auto_initiate").MustBool(false)
	s.videoAccept = sec.Key("video_auto_accept").MustBool(false)

	s.httpListen = cfg.Section("http").Key("listen").MustString("127.0.0.1:8080")
	s.historyFile = cfg.Section("history").Key("file").MustString("missed_calls.jsonl")

	sec = cfg.Section("messages")
	s.messages = session.Messages{
		NetworkUnreachable:     sec.Key("network_unreachable").String(),
		UserBusy:               sec.Key("user_busy").String(),
		IOError:                sec.Key("io_error").String(),
		AccountNotSetUp:        sec.Key("account_not_set_up").String(),
		IncompatibleMedia:      sec.Key("incompatible_media").String(),
		UserNotFound:           sec.Key("user_not_found").String(),
		ServerTimeout:          sec.Key("server_timeout").String(),
		TemporarilyUnavailable: sec.Key("temporarily_unavailable").String(),
		GenericError:           sec.Key("generic_error").String(),
		CallDeclined:           sec.Key("call_declined").String(),
	}

	if s.sipTransport != "udp" && s.sipTransport != "tcp" {
		return nil, fmt.Errorf("sip transport must be udp or tcp, got %q", s.sipTransport)
	}
	if s.autoAnswerDelay < 0 {
		return nil, fmt.Errorf("auto_answer_delay must not be negative")
	}

	return s, nil
}

func (s *Settings) SIPPort() int          { return s.sipPort }
func (s *Settings) SIPPortRange() int     { return s.sipPortRange }
func (s *Settings) PublicAddress() string { return s.publicAddress }
func (s *Settings) SIPTransport() string  { return s.sipTransport }
func (s *Settings) UserAgent() string     { return s.userAgent }
func (s *Settings) RTPPort() int          { return s.rtpPort }

func (s *Settings) HeadsetAvailable() bool   { return s.headsetAvailable }
func (s *Settings) BluetoothAvailable() bool { return s.bluetoothAvailable }
func (s *Settings) LowBandwidth() bool       { return s.lowBandwidth }
func (s *Settings) RecordAudio() bool        { return s.recordAudio }
func (s *Settings) Camera() bool             { return s.camera }

func (s *Settings) HTTPListen() string  { return s.httpListen }
func (s *Settings) HistoryFile() string { return s.historyFile }

func (s *Settings) AutoAnswerDelay() time.Duration {
	return time.Duration(s.autoAnswerDelay) * time.Millisecond
}

func (s *Settings) VideoPolicy() engine.VideoPolicy {
	return engine.VideoPolicy{AutomaticallyInitiate: s.videoInitiate, AutomaticallyAccept: s.videoAccept}
}

// Identity is the account the session registers at startup.
func (s *Settings) Identity() session.Identity {
	return session.Identity{
		Domain:       s.domain,
		Username:     s.username,
		AuthUsername: s.authUsername,
		Password:     s.password,
		DisplayName:  s.displayName,
		Transport:    s.accTransport,
	}
}

// SessionConfig is the orchestrator view of the [app], [media] and
// [messages] sections.
func (s *Settings) SessionConfig() session.Config {
	return session.Config{
		AutoAnswer:            s.autoAnswer,
		AutoAnswerDelay:       s.AutoAnswerDelay(),
		RouteAudioToBluetooth: s.routeToBluetooth,
		AutoStartRecording:    s.autoStartRecording,
		AcceptEarlyMedia:      s.incomingEarlyMedia,
		SendEarlyMedia:        s.outgoingEarlyMedia,
		UseTelecomManager:     s.useTelecomManager,
		KeepAppInvisible:      s.keepAppInvisible,
		ForceZRTP:             s.forceZRTP,
		Messages:              s.messages,
	}
}

// UserAgentConfig builds the SIP stack settings. host is used when no
// public address is configured.
func (s *Settings) UserAgentConfig(host string) sipua.Config {
	if s.publicAddress != "" {
		host = s.publicAddress
	}
	return sipua.Config{
		Host:             host,
		Port:             s.sipPort,
		PortRange:        s.sipPortRange,
		Transport:        s.sipTransport,
		UserAgent:        s.userAgent,
		RTPPort:          s.rtpPort,
		DefaultDomain:    s.domain,
		AcceptEarlyMedia: s.incomingEarlyMedia,
		VideoPolicy:      s.VideoPolicy(),
	}
}
