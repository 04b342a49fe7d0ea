package models

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// VoiceChannelMember is one participant as reported by the server.
type VoiceChannelMember struct {
	ID   int32  `msgpack:"id"`
	Name string `msgpack:"name"`
}

// VoiceChannel is one channel with its current members.
type VoiceChannel struct {
	ID      int32                `msgpack:"id"`
	Name    string               `msgpack:"name"`
	Members []VoiceChannelMember `msgpack:"members"`
}

// JoinVoiceChannelPayload asks the server to move this user into a
// channel.
type JoinVoiceChannelPayload struct {
	ChannelID int32 `msgpack:"channel_id"`
}

// VoiceUserState is the per-user mute/deafen presence.
type VoiceUserState struct {
	IsMicOff   bool `msgpack:"is_mic_off"`
	IsSoundOff bool `msgpack:"is_sound_off"`
}

// VoiceChannelUpdate is the presence notification body.
type VoiceChannelUpdate struct {
	ChannelID int32                     `msgpack:"channel_id"`
	Message   VoiceChannelUpdateMessage `msgpack:"message"`
}

// VoiceChannelUpdateMessage is the notification variant: exactly one
// field is set.
type VoiceChannelUpdateMessage struct {
	UserConnected    *int32
	UserDisconnected *int32
	UserStateUpdated *UserStateUpdated
}

// UserStateUpdated carries the (user, state) pair of a presence
// change. It is encoded as a two-element array.
type UserStateUpdated struct {
	UserID int32
	State  VoiceUserState
}

var (
	_ msgpack.CustomEncoder = (*VoiceChannelUpdateMessage)(nil)
	_ msgpack.CustomDecoder = (*VoiceChannelUpdateMessage)(nil)
	_ msgpack.CustomEncoder = (*UserStateUpdated)(nil)
	_ msgpack.CustomDecoder = (*UserStateUpdated)(nil)
)

// EncodeMsgpack writes the variant as a single-entry map.
func (m *VoiceChannelUpdateMessage) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch {
	case m.UserConnected != nil:
		return encodeVariant(enc, "UserConnected", *m.UserConnected)
	case m.UserDisconnected != nil:
		return encodeVariant(enc, "UserDisconnected", *m.UserDisconnected)
	case m.UserStateUpdated != nil:
		return encodeVariant(enc, "UserStateUpdated", m.UserStateUpdated)
	default:
		return errors.New("models: empty VoiceChannelUpdateMessage")
	}
}

// DecodeMsgpack reads the single-entry variant map.
func (m *VoiceChannelUpdateMessage) DecodeMsgpack(dec *msgpack.Decoder) error {
	name, err := decodeVariantName(dec)
	if err != nil {
		return err
	}

	switch name {
	case "UserConnected":
		var id int32
		if err := dec.Decode(&id); err != nil {
			return err
		}
		m.UserConnected = &id
	case "UserDisconnected":
		var id int32
		if err := dec.Decode(&id); err != nil {
			return err
		}
		m.UserDisconnected = &id
	case "UserStateUpdated":
		upd := new(UserStateUpdated)
		if err := dec.Decode(upd); err != nil {
			return err
		}
		m.UserStateUpdated = upd
	default:
		return fmt.Errorf("models: unknown VoiceChannelUpdateMessage variant %q", name)
	}
	return nil
}

// EncodeMsgpack writes the (user, state) tuple as a two-element array.
func (u *UserStateUpdated) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.Encode(u.UserID); err != nil {
		return err
	}
	return enc.Encode(&u.State)
}

// DecodeMsgpack reads the two-element tuple array.
func (u *UserStateUpdated) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("models: UserStateUpdated tuple has %d elements", n)
	}
	if err := dec.Decode(&u.UserID); err != nil {
		return err
	}
	return dec.Decode(&u.State)
}
