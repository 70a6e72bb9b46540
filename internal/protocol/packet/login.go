package packet

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/danmuck/mcrelay/internal/protocol/wire"
	"github.com/google/uuid"
)

const (
	MaxUsernameLength  = 16
	MaxPublicKeyLength = 512
	MaxSignatureLength = 4096
)

// ErrMissingPlayerID is returned when encoding a ServerLogin without a player
// id at a version that always carries one.
var ErrMissingPlayerID = errors.New("player id required")

// SignatureData is the chat-signing key a 1.19 / 1.19.1 client sends at login.
type SignatureData struct {
	Expiry    int64
	PublicKey []byte
	Signature []byte
}

// ServerLogin is the client's login start. From 1.20.2 on the player id is
// mandatory: HasPlayerID must be set to encode, and decode always sets it.
type ServerLogin struct {
	Username     string
	HasSignature bool
	Signature    SignatureData
	HasPlayerID  bool
	PlayerID     uuid.UUID
}

var serverLoginLayout = Layout[*ServerLogin]{
	StringRule("username", AllVersions(), MaxUsernameLength, func(p *ServerLogin) *string { return &p.Username }),
	{
		Name:     "signature",
		Versions: Between(V1_19, V1_19_1),
		Encode: func(p *ServerLogin, buf *bytes.Buffer) error {
			wire.WriteBool(buf, p.HasSignature)
			if !p.HasSignature {
				return nil
			}
			wire.WriteInt64(buf, p.Signature.Expiry)
			if err := wire.WriteBytes(buf, p.Signature.PublicKey, MaxPublicKeyLength); err != nil {
				return wire.WithField(err, "signature.public_key")
			}
			return wire.WithField(wire.WriteBytes(buf, p.Signature.Signature, MaxSignatureLength), "signature.signature")
		},
		Decode: func(p *ServerLogin, buf *bytes.Buffer) error {
			ok, err := wire.ReadBool(buf)
			if err != nil {
				return err
			}
			p.HasSignature = ok
			if !ok {
				p.Signature = SignatureData{}
				return nil
			}
			if p.Signature.Expiry, err = wire.ReadInt64(buf); err != nil {
				return wire.WithField(err, "signature.expiry")
			}
			if p.Signature.PublicKey, err = wire.ReadBytes(buf, MaxPublicKeyLength); err != nil {
				return wire.WithField(err, "signature.public_key")
			}
			if p.Signature.Signature, err = wire.ReadBytes(buf, MaxSignatureLength); err != nil {
				return wire.WithField(err, "signature.signature")
			}
			return nil
		},
	},
	OptionalUUIDRule("player_id", Between(V1_19_1, V1_20), func(p *ServerLogin) (*bool, *uuid.UUID) {
		return &p.HasPlayerID, &p.PlayerID
	}),
	{
		Name:     "player_id",
		Versions: Since(V1_20_2),
		Encode: func(p *ServerLogin, buf *bytes.Buffer) error {
			if !p.HasPlayerID {
				return &wire.EncodeError{Err: ErrMissingPlayerID}
			}
			wire.WriteUUID(buf, p.PlayerID)
			return nil
		},
		Decode: func(p *ServerLogin, buf *bytes.Buffer) error {
			id, err := wire.ReadUUID(buf)
			if err != nil {
				return err
			}
			p.HasPlayerID, p.PlayerID = true, id
			return nil
		},
	},
}

func (p *ServerLogin) Encode(buf *bytes.Buffer, dir Direction, v Version) error {
	return serverLoginLayout.Encode(p, buf, dir, v)
}

func (p *ServerLogin) Decode(buf *bytes.Buffer, dir Direction, v Version) error {
	return serverLoginLayout.Decode(p, buf, dir, v)
}

func (p *ServerLogin) String() string {
	if p.HasPlayerID {
		return fmt.Sprintf("ServerLogin{username=%q, player_id=%s}", p.Username, p.PlayerID)
	}
	return fmt.Sprintf("ServerLogin{username=%q}", p.Username)
}

// ServerLoginFields lists the ServerLogin fields carried at v.
func ServerLoginFields(v Version) []string {
	return serverLoginLayout.Fields(Serverbound, v)
}

// SetCompression switches both peers to compressed framing.
type SetCompression struct {
	Threshold int32
}

var setCompressionLayout = Layout[*SetCompression]{
	VarIntRule("threshold", AllVersions(), func(p *SetCompression) *int32 { return &p.Threshold }),
}

func (p *SetCompression) Encode(buf *bytes.Buffer, dir Direction, v Version) error {
	return setCompressionLayout.Encode(p, buf, dir, v)
}

func (p *SetCompression) Decode(buf *bytes.Buffer, dir Direction, v Version) error {
	return setCompressionLayout.Decode(p, buf, dir, v)
}

func (p *SetCompression) String() string {
	return fmt.Sprintf("SetCompression{threshold=%d}", p.Threshold)
}

// LoginAcknowledged moves a 1.20.2+ connection from login into configuration.
type LoginAcknowledged struct{}

func (p *LoginAcknowledged) Encode(*bytes.Buffer, Direction, Version) error { return nil }
func (p *LoginAcknowledged) Decode(*bytes.Buffer, Direction, Version) error { return nil }
func (p *LoginAcknowledged) String() string { return "LoginAcknowledged{}" }
