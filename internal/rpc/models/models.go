// Package models defines the MessagePack payloads of the voice and
// auth methods.
//
// The server encodes fallible responses and enum-like messages as
// single-entry maps keyed by the variant name; Result and
// VoiceChannelUpdateMessage mirror that layout with custom msgpack
// codecs.
package models

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/TaPO4eg3D/hazel/internal/auth"
)

// Method names spoken over the RPC stream.
const (
	MethodGetSessionKey  = "GetSessionKey"
	MethodLogin          = "Login"
	MethodGetCurrentUser = "GetCurrentUser"
	MethodGetUserInfo    = "GetUserInfo"

	MethodGetVoiceChannels     = "GetVoiceChannels"
	MethodJoinVoiceChannel     = "JoinVoiceChannel"
	MethodGetUdpPort           = "GetUdpPort"
	MethodUpdateVoiceUserState = "UpdateVoiceUserState"

	// NotifyVoiceChannelUpdate is the presence notification topic.
	NotifyVoiceChannelUpdate = "VoiceChannelUpdate"
)

// Empty is the payload of parameterless methods.
type Empty struct{}

// APIError is a server-reported failure decoded from a Result
// envelope.
type APIError struct {
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %s", e.Detail)
}

// UnmarshalResult decodes a Result envelope (a single-entry map keyed
// "Ok" or "Err") into out. A nil out skips the Ok value.
func UnmarshalResult(data []byte, out any) error {
	var envelope map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(data, &envelope); err != nil {
		return err
	}

	if raw, ok := envelope["Ok"]; ok {
		if out == nil {
			return nil
		}
		return msgpack.Unmarshal(raw, out)
	}
	if raw, ok := envelope["Err"]; ok {
		var detail any
		if err := msgpack.Unmarshal(raw, &detail); err != nil {
			return &APIError{Detail: "unreadable error payload"}
		}
		return &APIError{Detail: fmt.Sprint(detail)}
	}
	return errors.New("models: response is not a Result envelope")
}

// GetSessionKeyPayload requests a fresh session key.
type GetSessionKeyPayload struct {
	Login    string `msgpack:"login"`
	Password string `msgpack:"password"`
}

// GetSessionKeyResponse distinguishes a returning user from a newly
// registered one; both carry the issued key.
type GetSessionKeyResponse struct {
	ExistingUser *auth.SessionKey
	NewUser      *auth.SessionKey
}

var (
	_ msgpack.CustomEncoder = (*GetSessionKeyResponse)(nil)
	_ msgpack.CustomDecoder = (*GetSessionKeyResponse)(nil)
)

// EncodeMsgpack writes the variant as a single-entry map.
func (r *GetSessionKeyResponse) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch {
	case r.ExistingUser != nil:
		return encodeVariant(enc, "ExistingUser", r.ExistingUser)
	case r.NewUser != nil:
		return encodeVariant(enc, "NewUser", r.NewUser)
	default:
		return errors.New("models: empty GetSessionKeyResponse")
	}
}

// DecodeMsgpack reads the single-entry variant map.
func (r *GetSessionKeyResponse) DecodeMsgpack(dec *msgpack.Decoder) error {
	name, err := decodeVariantName(dec)
	if err != nil {
		return err
	}
	key := new(auth.SessionKey)
	if err := dec.Decode(key); err != nil {
		return err
	}
	switch name {
	case "ExistingUser":
		r.ExistingUser = key
	case "NewUser":
		r.NewUser = key
	default:
		return fmt.Errorf("models: unknown GetSessionKeyResponse variant %q", name)
	}
	return nil
}

// Key returns whichever variant's session key is present.
func (r *GetSessionKeyResponse) Key() *auth.SessionKey {
	if r.ExistingUser != nil {
		return r.ExistingUser
	}
	return r.NewUser
}

// LoginPayload authenticates the stream with a stored session key.
type LoginPayload struct {
	SessionKey auth.SessionKey `msgpack:"session_key"`
}

// GetUserPayload looks up a user by id.
type GetUserPayload struct {
	ID int32 `msgpack:"id"`
}

// UserInfo describes one user.
type UserInfo struct {
	ID       int32  `msgpack:"id"`
	Username string `msgpack:"username"`
}

func encodeVariant(enc *msgpack.Encoder, name string, value any) error {
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	if err := enc.EncodeString(name); err != nil {
		return err
	}
	return enc.Encode(value)
}

func decodeVariantName(dec *msgpack.Decoder) (string, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return "", err
	}
	if n != 1 {
		return "", fmt.Errorf("models: variant map has %d entries", n)
	}
	return dec.DecodeString()
}
