package sipua

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"

	"sipphone/engine"
)

const lowBandwidthKbps = 40

// mediaOffer describes the local side of a session description.
type mediaOffer struct {
	Host           string
	AudioPort      int
	Direction      engine.MediaDirection
	Video          bool
	VideoDirection engine.MediaDirection
	Encryption     engine.MediaEncryption
	LowBandwidth   bool
}

// remoteMedia is what we care about in a peer's session description.
type remoteMedia struct {
	AudioDirection engine.MediaDirection
	Video          bool
	VideoDirection engine.MediaDirection
}

func newSessionID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8]) >> 1
}

func mediaProtocol(enc engine.MediaEncryption) []string {
	switch enc {
	case engine.EncryptionSRTP:
		return []string{"RTP", "SAVP"}
	case engine.EncryptionDTLS:
		return []string{"UDP", "TLS", "RTP", "SAVP"}
	}
	// ZRTP keys in-band over plain RTP/AVP.
	return []string{"RTP", "AVP"}
}

// buildSDP renders a session description for the given offer.
func buildSDP(sessionID, version uint64, o mediaOffer) (string, error) {
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: o.Host,
		},
		SessionName: "sipphone",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: o.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
	}

	audio := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: o.AudioPort},
			Protos:  mediaProtocol(o.Encryption),
			Formats: []string{"0", "8", "101"},
		},
	}
	audio = audio.
		WithValueAttribute("rtpmap", "0 PCMU/8000").
		WithValueAttribute("rtpmap", "8 PCMA/8000").
		WithValueAttribute("rtpmap", "101 telephone-event/8000").
		WithValueAttribute("fmtp", "101 0-15").
		WithPropertyAttribute(o.Direction.String())
	if o.Encryption == engine.EncryptionZRTP {
		audio = audio.WithPropertyAttribute("zrtp")
	}
	if o.LowBandwidth {
		audio.Bandwidth = []sdp.Bandwidth{{Type: "AS", Bandwidth: lowBandwidthKbps}}
	}
	desc.MediaDescriptions = append(desc.MediaDescriptions, audio)

	if o.Video && !o.LowBandwidth {
		video := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   "video",
				Port:    sdp.RangedPort{Value: o.AudioPort + 2},
				Protos:  mediaProtocol(o.Encryption),
				Formats: []string{"96"},
			},
		}
		video = video.
			WithValueAttribute("rtpmap", "96 VP8/90000").
			WithPropertyAttribute(o.VideoDirection.String())
		desc.MediaDescriptions = append(desc.MediaDescriptions, video)
	}

	b, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal sdp: %w", err)
	}
	return string(b), nil
}

func directionOf(attrs func(string) (string, bool), fallback engine.MediaDirection) engine.MediaDirection {
	switch {
	case has(attrs, "sendonly"):
		return engine.MediaSendOnly
	case has(attrs, "recvonly"):
		return engine.MediaRecvOnly
	case has(attrs, "inactive"):
		return engine.MediaInactive
	case has(attrs, "sendrecv"):
		return engine.MediaSendRecv
	}
	return fallback
}

func has(attrs func(string) (string, bool), key string) bool {
	_, ok := attrs(key)
	return ok
}

// parseSDP extracts media directions from a peer's session description.
func parseSDP(body string) (remoteMedia, error) {
	var rm remoteMedia
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(body)); err != nil {
		return rm, fmt.Errorf("unmarshal sdp: %w", err)
	}

	session := directionOf(desc.Attribute, engine.MediaSendRecv)
	rm.AudioDirection = session
	for _, md := range desc.MediaDescriptions {
		switch md.MediaName.Media {
		case "audio":
			rm.AudioDirection = directionOf(md.Attribute, session)
			if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil &&
				md.ConnectionInformation.Address.Address == "0.0.0.0" {
				rm.AudioDirection = engine.MediaInactive
			}
		case "video":
			if md.MediaName.Port.Value == 0 {
				continue
			}
			rm.Video = true
			rm.VideoDirection = directionOf(md.Attribute, session)
		}
	}
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil &&
		desc.ConnectionInformation.Address.Address == "0.0.0.0" {
		rm.AudioDirection = engine.MediaInactive
	}
	return rm, nil
}

// answerDirection mirrors a remote direction for our answer.
func answerDirection(remote engine.MediaDirection) engine.MediaDirection {
	switch remote {
	case engine.MediaSendOnly:
		return engine.MediaRecvOnly
	case engine.MediaRecvOnly:
		return engine.MediaSendOnly
	}
	return remote
}

// isHold reports whether a remote direction puts us on hold.
func isHold(d engine.MediaDirection) bool {
	return d == engine.MediaSendOnly || d == engine.MediaInactive
}
