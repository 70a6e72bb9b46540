package relay

import "github.com/danmuck/mcrelay/internal/protocol/packet"

// marker is a packet the relay reacts to by id alone. Its body is forwarded
// untouched and never decoded.
type marker uint8

const (
	markerNone marker = iota
	markerEncryptionRequest
	markerEncryptionResponse
	markerLoginSuccess
	markerFinishConfiguration
	markerAcknowledgeConfiguration
)

func (m marker) String() string {
	switch m {
	case markerEncryptionRequest:
		return "encryption request"
	case markerEncryptionResponse:
		return "encryption response"
	case markerLoginSuccess:
		return "login success"
	case markerFinishConfiguration:
		return "finish configuration"
	case markerAcknowledgeConfiguration:
		return "acknowledge configuration"
	default:
		return "none"
	}
}

func markerOf(state packet.State, dir packet.Direction, v packet.Version, id int32) marker {
	switch state {
	case packet.StateLogin:
		switch {
		case dir == packet.Clientbound && id == 0x01:
			return markerEncryptionRequest
		case dir == packet.Clientbound && id == 0x02:
			return markerLoginSuccess
		case dir == packet.Serverbound && id == 0x01:
			return markerEncryptionResponse
		}
	case packet.StateConfig:
		if dir == packet.Serverbound && id == finishConfigurationID(v) {
			return markerFinishConfiguration
		}
	case packet.StatePlay:
		if dir == packet.Serverbound && v >= packet.V1_20_2 && id == acknowledgeConfigurationID(v) {
			return markerAcknowledgeConfiguration
		}
	}
	return markerNone
}

// finishConfigurationID is the client's acknowledgement that ends the
// configuration state.
func finishConfigurationID(v packet.Version) int32 {
	if v >= packet.V1_20_5 {
		return 0x03
	}
	return 0x02
}

// acknowledgeConfigurationID is the client's acknowledgement of a play to
// configuration switch.
func acknowledgeConfigurationID(v packet.Version) int32 {
	if v >= packet.V1_20_5 {
		return 0x0C
	}
	return 0x0B
}

// cookieState reports whether the cookie packets exist in s.
func cookieState(s packet.State) bool {
	return s == packet.StateLogin || s == packet.StateConfig || s == packet.StatePlay
}
