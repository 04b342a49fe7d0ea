package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/TaPO4eg3D/hazel/internal/auth"
)

func TestVoiceChannelUpdateVariants(t *testing.T) {
	id := int32(17)

	tests := []struct {
		name    string
		message VoiceChannelUpdateMessage
	}{
		{"user connected", VoiceChannelUpdateMessage{UserConnected: &id}},
		{"user disconnected", VoiceChannelUpdateMessage{UserDisconnected: &id}},
		{"state updated", VoiceChannelUpdateMessage{UserStateUpdated: &UserStateUpdated{
			UserID: id,
			State:  VoiceUserState{IsMicOff: true, IsSoundOff: false},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update := VoiceChannelUpdate{ChannelID: 3, Message: tt.message}
			data, err := msgpack.Marshal(&update)
			require.NoError(t, err)

			var got VoiceChannelUpdate
			require.NoError(t, msgpack.Unmarshal(data, &got))
			assert.Equal(t, update, got)
		})
	}
}

func TestVoiceChannelUpdateMessageEncodesAsVariantMap(t *testing.T) {
	id := int32(5)
	data, err := msgpack.Marshal(&VoiceChannelUpdateMessage{UserConnected: &id})
	require.NoError(t, err)

	var raw map[string]int32
	require.NoError(t, msgpack.Unmarshal(data, &raw))
	assert.Equal(t, map[string]int32{"UserConnected": 5}, raw)
}

func TestEmptyVariantRejected(t *testing.T) {
	_, err := msgpack.Marshal(&VoiceChannelUpdateMessage{})
	assert.Error(t, err)
}

func TestGetSessionKeyResponseRoundTrip(t *testing.T) {
	key := auth.NewSessionKey(9, []byte("k"), time.Hour)

	for _, resp := range []GetSessionKeyResponse{
		{ExistingUser: &key},
		{NewUser: &key},
	} {
		data, err := msgpack.Marshal(&resp)
		require.NoError(t, err)

		var got GetSessionKeyResponse
		require.NoError(t, msgpack.Unmarshal(data, &got))
		assert.Equal(t, resp, got)
		require.NotNil(t, got.Key())
		assert.Equal(t, int32(9), got.Key().Body.UserID)
	}
}

func TestUnmarshalResultOk(t *testing.T) {
	data, err := msgpack.Marshal(map[string]any{"Ok": "9899"})
	require.NoError(t, err)

	var port string
	require.NoError(t, UnmarshalResult(data, &port))
	assert.Equal(t, "9899", port)

	// A nil target just checks for success.
	require.NoError(t, UnmarshalResult(data, nil))
}

func TestUnmarshalResultErr(t *testing.T) {
	data, err := msgpack.Marshal(map[string]any{"Err": "Unauthorized"})
	require.NoError(t, err)

	err = UnmarshalResult(data, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Error(), "Unauthorized")
}

func TestUnmarshalResultRejectsOtherShapes(t *testing.T) {
	data, err := msgpack.Marshal(map[string]any{"What": 1})
	require.NoError(t, err)
	assert.Error(t, UnmarshalResult(data, nil))
}

func TestVoiceChannelRoundTrip(t *testing.T) {
	channel := VoiceChannel{
		ID:   2,
		Name: "general",
		Members: []VoiceChannelMember{
			{ID: 1, Name: "alice"},
			{ID: 2, Name: "bob"},
		},
	}

	data, err := msgpack.Marshal(&channel)
	require.NoError(t, err)

	var got VoiceChannel
	require.NoError(t, msgpack.Unmarshal(data, &got))
	assert.Equal(t, channel, got)
}
