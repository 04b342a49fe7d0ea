package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TaPO4eg3D/hazel/internal/mixer"
	"github.com/TaPO4eg3D/hazel/internal/rpc/models"
)

func testClient() *Client {
	c := New(zap.NewNop(), nil, nil, nil, nil, nil, mixer.NewScheduler(0), "voice.example.com:5900")
	c.channels = []Channel{
		{
			ID:       1,
			Name:     "general",
			IsActive: true,
			Members: []Member{
				{ID: 10, Name: "alice"},
				{ID: 11, Name: "bob"},
			},
		},
	}
	return c
}

func TestChannelsSnapshotIsDeepCopy(t *testing.T) {
	c := testClient()

	snapshot := c.Channels()
	snapshot[0].Members[0].Name = "mallory"

	assert.Equal(t, "alice", c.channels[0].Members[0].Name)
}

func TestUserDisconnectedRemovesMember(t *testing.T) {
	c := testClient()

	id := int32(10)
	c.applyUpdate(context.Background(), models.VoiceChannelUpdate{
		ChannelID: 1,
		Message:   models.VoiceChannelUpdateMessage{UserDisconnected: &id},
	})

	require.Len(t, c.channels[0].Members, 1)
	assert.Equal(t, int32(11), c.channels[0].Members[0].ID)
}

func TestUserDisconnectedUnknownUserIsNoop(t *testing.T) {
	c := testClient()

	id := int32(99)
	c.applyUpdate(context.Background(), models.VoiceChannelUpdate{
		ChannelID: 1,
		Message:   models.VoiceChannelUpdateMessage{UserDisconnected: &id},
	})

	assert.Len(t, c.channels[0].Members, 2)
}

func TestUserStateUpdatedFlagsMember(t *testing.T) {
	c := testClient()

	c.applyUpdate(context.Background(), models.VoiceChannelUpdate{
		ChannelID: 1,
		Message: models.VoiceChannelUpdateMessage{UserStateUpdated: &models.UserStateUpdated{
			UserID: 11,
			State:  models.VoiceUserState{IsMicOff: true, IsSoundOff: true},
		}},
	})

	member := c.channels[0].Members[1]
	assert.True(t, member.IsMicOff)
	assert.True(t, member.IsSoundOff)

	// The other member is untouched.
	assert.False(t, c.channels[0].Members[0].IsMicOff)
}

func TestUserStateUpdatedWrongChannelIsNoop(t *testing.T) {
	c := testClient()
	c.channels = append(c.channels, Channel{ID: 2, Name: "afk"})

	c.applyUpdate(context.Background(), models.VoiceChannelUpdate{
		ChannelID: 2,
		Message: models.VoiceChannelUpdateMessage{UserStateUpdated: &models.UserStateUpdated{
			UserID: 10,
			State:  models.VoiceUserState{IsMicOff: true},
		}},
	})

	assert.False(t, c.channels[0].Members[0].IsMicOff)
}

func TestIsTalkingUnknownSpeaker(t *testing.T) {
	c := testClient()
	assert.False(t, c.IsTalking(10))
}
