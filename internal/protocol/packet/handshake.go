package packet

import (
	"bytes"
	"fmt"
)

const MaxServerAddressLength = 255

// Next-state values carried by Handshake.
const (
	IntentStatus   int32 = 1
	IntentLogin    int32 = 2
	IntentTransfer int32 = 3
)

// Handshake opens every connection and fixes the protocol version for it.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       int32
}

var handshakeLayout = Layout[*Handshake]{
	VarIntRule("protocol_version", AllVersions(), func(p *Handshake) *int32 { return &p.ProtocolVersion }),
	StringRule("server_address", AllVersions(), MaxServerAddressLength, func(p *Handshake) *string { return &p.ServerAddress }),
	Uint16Rule("server_port", AllVersions(), func(p *Handshake) *uint16 { return &p.ServerPort }),
	VarIntRule("next_state", AllVersions(), func(p *Handshake) *int32 { return &p.NextState }),
}

func (p *Handshake) Encode(buf *bytes.Buffer, dir Direction, v Version) error {
	return handshakeLayout.Encode(p, buf, dir, v)
}

func (p *Handshake) Decode(buf *bytes.Buffer, dir Direction, v Version) error {
	return handshakeLayout.Decode(p, buf, dir, v)
}

// TargetState maps NextState to the state the connection moves into.
func (p *Handshake) TargetState() (State, error) {
	switch p.NextState {
	case IntentStatus:
		return StateStatus, nil
	case IntentLogin, IntentTransfer:
		return StateLogin, nil
	default:
		return 0, fmt.Errorf("packet: invalid handshake next state %d", p.NextState)
	}
}

func (p *Handshake) String() string {
	return fmt.Sprintf("Handshake{version=%d, address=%q, port=%d, next=%d}",
		p.ProtocolVersion, p.ServerAddress, p.ServerPort, p.NextState)
}
