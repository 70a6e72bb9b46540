package packet

import (
	"fmt"
	"strings"
)

// Direction is the peer a packet travels toward.
type Direction uint8

const (
	Serverbound Direction = iota + 1
	Clientbound
)

func (d Direction) String() string {
	switch d {
	case Serverbound:
		return "serverbound"
	case Clientbound:
		return "clientbound"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

func (d Direction) Opposite() Direction {
	if d == Serverbound {
		return Clientbound
	}
	return Serverbound
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "serverbound", "server", "sb":
		return Serverbound, nil
	case "clientbound", "client", "cb":
		return Clientbound, nil
	default:
		return 0, fmt.Errorf("packet: unknown direction %q", s)
	}
}

// State is the connection phase a packet id is resolved in.
type State uint8

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StateConfig
	StatePlay
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StateConfig:
		return "config"
	case StatePlay:
		return "play"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "handshake":
		return StateHandshake, nil
	case "status":
		return StateStatus, nil
	case "login":
		return StateLogin, nil
	case "config", "configuration":
		return StateConfig, nil
	case "play":
		return StatePlay, nil
	default:
		return 0, fmt.Errorf("packet: unknown state %q", s)
	}
}
