// Package auth implements the signed session-key contract shared with
// the server.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// SessionKeyBody is the signed portion of a session key.
type SessionKeyBody struct {
	UserID    int32 `msgpack:"user_id"`
	ExpiresAt int64 `msgpack:"expires_at"` // unix seconds
}

// SessionKey is a server-issued credential: the body plus an
// HMAC-SHA256 signature over it.
type SessionKey struct {
	Body SessionKeyBody `msgpack:"body"`
	Sign []byte         `msgpack:"sign"`
}

// mac computes HMAC-SHA256 over user_id and expires_at concatenated
// little-endian.
func (b SessionKeyBody) mac(key []byte) []byte {
	payload := make([]byte, 0, 12)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(b.UserID))
	payload = binary.LittleEndian.AppendUint64(payload, uint64(b.ExpiresAt))

	m := hmac.New(sha256.New, key)
	m.Write(payload)
	return m.Sum(nil)
}

// NewSessionKey issues a key for userID valid for ttl, signed with the
// server-held key.
func NewSessionKey(userID int32, key []byte, ttl time.Duration) SessionKey {
	body := SessionKeyBody{
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	return SessionKey{
		Body: body,
		Sign: body.mac(key),
	}
}

// Verify reports whether the signature matches the body under key.
func (k SessionKey) Verify(key []byte) bool {
	return hmac.Equal(k.Sign, k.Body.mac(key))
}

// Expired reports whether the key's validity window has passed.
func (k SessionKey) Expired() bool {
	return !time.Unix(k.Body.ExpiresAt, 0).After(time.Now())
}
