// Package client holds the connected-user state: login, the voice
// channel list with membership and presence, and the capture/playback
// toggles that feed both the audio pipeline and the server-visible
// user state.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/TaPO4eg3D/hazel/internal/audio"
	"github.com/TaPO4eg3D/hazel/internal/auth"
	"github.com/TaPO4eg3D/hazel/internal/mixer"
	"github.com/TaPO4eg3D/hazel/internal/profile"
	"github.com/TaPO4eg3D/hazel/internal/rpc"
	"github.com/TaPO4eg3D/hazel/internal/rpc/models"
	"github.com/TaPO4eg3D/hazel/internal/voice"
)

// talkThreshold is the mixed-RMS level above which a speaker counts as
// talking.
const talkThreshold = 0.01

// defaultVoicePort is the voice datagram port assumed when the server
// does not report one.
const defaultVoicePort = "9899"

// Member is one voice-channel participant.
type Member struct {
	ID         int32
	Name       string
	IsMicOff   bool
	IsSoundOff bool
}

// Channel is one voice channel with its current members.
type Channel struct {
	ID       int32
	Name     string
	IsActive bool
	Members  []Member
}

// Client orchestrates the RPC connection, the profile store and the
// voice session on behalf of one logged-in user.
type Client struct {
	logger  *zap.Logger
	conn    *rpc.Conn
	store   *profile.Store
	session *voice.Session

	capture  *audio.Capture
	playback *audio.Playback
	sched    *mixer.Scheduler

	// serverAddr is the host:port of the RPC stream; the datagram
	// endpoint is derived from its host and GetUdpPort.
	serverAddr string

	mu              sync.Mutex
	userID          int32
	loggedIn        bool
	channels        []Channel
	captureEnabled  bool
	playbackEnabled bool
}

// New wires a client over already-constructed components.
func New(
	logger *zap.Logger,
	conn *rpc.Conn,
	store *profile.Store,
	session *voice.Session,
	capture *audio.Capture,
	playback *audio.Playback,
	sched *mixer.Scheduler,
	serverAddr string,
) *Client {
	return &Client{
		logger:          logger,
		conn:            conn,
		store:           store,
		session:         session,
		capture:         capture,
		playback:        playback,
		sched:           sched,
		serverAddr:      serverAddr,
		captureEnabled:  true,
		playbackEnabled: true,
	}
}

// Login authenticates with credentials, then persists the issued
// session key and the server address so the next startup can log in
// automatically.
func (c *Client) Login(ctx context.Context, login, password string) error {
	data, err := c.conn.Call(ctx, models.MethodGetSessionKey, &models.GetSessionKeyPayload{
		Login:    login,
		Password: password,
	})
	if err != nil {
		return err
	}

	var resp models.GetSessionKeyResponse
	if err := models.UnmarshalResult(data, &resp); err != nil {
		return fmt.Errorf("get session key: %w", err)
	}
	key := resp.Key()
	if key == nil {
		return fmt.Errorf("get session key: empty response")
	}

	if err := c.loginWithKey(ctx, *key); err != nil {
		return err
	}

	encoded, err := msgpack.Marshal(key)
	if err != nil {
		return err
	}
	if err := c.store.SaveSessionKey(ctx, encoded); err != nil {
		return err
	}
	if err := c.store.SaveServer(ctx, c.serverAddr); err != nil {
		return err
	}

	c.logger.Info("logged in", zap.Int32("user_id", key.Body.UserID))
	return nil
}

// AutoLogin attempts a login with the profile's stored session key.
// It reports false without error when no usable key is stored.
func (c *Client) AutoLogin(ctx context.Context) (bool, error) {
	record, err := c.store.Load(ctx)
	if err != nil {
		return false, err
	}
	if record.SessionKey == nil {
		return false, nil
	}

	var key auth.SessionKey
	if err := msgpack.Unmarshal(record.SessionKey, &key); err != nil {
		c.logger.Warn("stored session key is unreadable", zap.Error(err))
		return false, nil
	}
	if key.Expired() {
		c.logger.Info("stored session key expired")
		return false, nil
	}

	if err := c.loginWithKey(ctx, key); err != nil {
		return false, err
	}

	c.logger.Info("auto login succeeded", zap.Int32("user_id", key.Body.UserID))
	return true, nil
}

func (c *Client) loginWithKey(ctx context.Context, key auth.SessionKey) error {
	data, err := c.conn.Call(ctx, models.MethodLogin, &models.LoginPayload{SessionKey: key})
	if err != nil {
		return err
	}
	if err := models.UnmarshalResult(data, nil); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	c.mu.Lock()
	c.userID = key.Body.UserID
	c.loggedIn = true
	c.mu.Unlock()
	return nil
}

// UserID returns the logged-in user id, or 0 before login.
func (c *Client) UserID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// FetchChannels refreshes the channel list from the server, keeping
// the local active flag.
func (c *Client) FetchChannels(ctx context.Context) error {
	data, err := c.conn.Call(ctx, models.MethodGetVoiceChannels, &models.Empty{})
	if err != nil {
		return err
	}

	var channels []models.VoiceChannel
	if err := models.UnmarshalResult(data, &channels); err != nil {
		return fmt.Errorf("get voice channels: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	active := int32(0)
	for _, ch := range c.channels {
		if ch.IsActive {
			active = ch.ID
		}
	}

	c.channels = c.channels[:0]
	for _, ch := range channels {
		out := Channel{
			ID:       ch.ID,
			Name:     ch.Name,
			IsActive: ch.ID == active && active != 0,
		}
		for _, m := range ch.Members {
			out.Members = append(out.Members, Member{ID: m.ID, Name: m.Name})
		}
		c.channels = append(c.channels, out)
	}
	return nil
}

// Channels returns a snapshot of the channel list.
func (c *Client) Channels() []Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Channel, len(c.channels))
	for i, ch := range c.channels {
		out[i] = ch
		out[i].Members = append([]Member(nil), ch.Members...)
	}
	return out
}

// Join moves the user into a voice channel: the membership call, a
// channel refresh, the datagram endpoint lookup and the voice session
// hookup, then a presence sync reflecting the local toggles.
func (c *Client) Join(ctx context.Context, channelID int32) error {
	data, err := c.conn.Call(ctx, models.MethodJoinVoiceChannel, &models.JoinVoiceChannelPayload{
		ChannelID: channelID,
	})
	if err != nil {
		return err
	}
	if err := models.UnmarshalResult(data, nil); err != nil {
		return fmt.Errorf("join voice channel: %w", err)
	}

	if err := c.FetchChannels(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	for i := range c.channels {
		c.channels[i].IsActive = c.channels[i].ID == channelID
	}
	userID := c.userID
	captureEnabled := c.captureEnabled
	playbackEnabled := c.playbackEnabled
	c.mu.Unlock()

	peer, err := c.voicePeerAddr(ctx)
	if err != nil {
		return err
	}
	if err := c.session.Connect(userID, peer); err != nil {
		return err
	}

	c.capture.SetEnabled(captureEnabled)
	c.playback.SetEnabled(playbackEnabled)
	return c.syncUserState(ctx)
}

// Leave disconnects from the active channel; transmission stops while
// the receive side keeps draining stragglers.
func (c *Client) Leave() {
	c.session.Disconnect()
	c.capture.SetEnabled(false)

	c.mu.Lock()
	for i := range c.channels {
		c.channels[i].IsActive = false
	}
	c.mu.Unlock()
}

// voicePeerAddr asks the server for its datagram port and resolves it
// against the RPC host.
func (c *Client) voicePeerAddr(ctx context.Context) (*net.UDPAddr, error) {
	data, err := c.conn.Call(ctx, models.MethodGetUdpPort, &models.Empty{})
	if err != nil {
		return nil, err
	}

	var port string
	if err := models.UnmarshalResult(data, &port); err != nil {
		return nil, fmt.Errorf("get udp port: %w", err)
	}
	if port == "" {
		port = defaultVoicePort
	}

	host, _, err := net.SplitHostPort(c.serverAddr)
	if err != nil {
		host = c.serverAddr
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("resolve voice endpoint: %w", err)
	}
	return addr, nil
}

// ToggleCapture flips the microphone. Re-enabling the microphone also
// re-enables playback: you cannot transmit into a channel you cannot
// hear.
func (c *Client) ToggleCapture(ctx context.Context) error {
	c.mu.Lock()
	c.captureEnabled = !c.captureEnabled
	if c.captureEnabled && !c.playbackEnabled {
		c.playbackEnabled = true
	}
	capture, playback := c.captureEnabled, c.playbackEnabled
	c.mu.Unlock()

	c.capture.SetEnabled(capture)
	c.playback.SetEnabled(playback)
	return c.syncUserState(ctx)
}

// TogglePlayback flips the speakers. Disabling playback also disables
// the microphone.
func (c *Client) TogglePlayback(ctx context.Context) error {
	c.mu.Lock()
	c.playbackEnabled = !c.playbackEnabled
	if !c.playbackEnabled {
		c.captureEnabled = false
	}
	capture, playback := c.captureEnabled, c.playbackEnabled
	c.mu.Unlock()

	c.capture.SetEnabled(capture)
	c.playback.SetEnabled(playback)
	return c.syncUserState(ctx)
}

// syncUserState pushes the local toggles to the server when a channel
// is active.
func (c *Client) syncUserState(ctx context.Context) error {
	c.mu.Lock()
	active := false
	for _, ch := range c.channels {
		active = active || ch.IsActive
	}
	state := models.VoiceUserState{
		IsMicOff:   !c.captureEnabled,
		IsSoundOff: !c.playbackEnabled,
	}
	c.mu.Unlock()

	if !active {
		return nil
	}

	data, err := c.conn.Call(ctx, models.MethodUpdateVoiceUserState, &state)
	if err != nil {
		return err
	}
	return models.UnmarshalResult(data, nil)
}

// IsTalking reports whether the speaker contributed audible audio on
// the last mixer tick.
func (c *Client) IsTalking(userID int32) bool {
	return c.sched.Level(userID) > talkThreshold
}

// WatchUpdates consumes VoiceChannelUpdate notifications until ctx is
// done. Malformed payloads are logged and skipped; the subscription
// stays registered across server reconnects.
func (c *Client) WatchUpdates(ctx context.Context) error {
	sub := c.conn.Subscribe(models.NotifyVoiceChannelUpdate)
	defer sub.Close()

	for {
		body, err := sub.Recv(ctx)
		if err != nil {
			return err
		}

		var update models.VoiceChannelUpdate
		if err := msgpack.Unmarshal(body, &update); err != nil {
			c.logger.Warn("invalid channel update", zap.Error(err))
			continue
		}

		c.applyUpdate(ctx, update)
	}
}

func (c *Client) applyUpdate(ctx context.Context, update models.VoiceChannelUpdate) {
	c.mu.Lock()
	known := false
	for _, ch := range c.channels {
		known = known || ch.ID == update.ChannelID
	}
	c.mu.Unlock()

	if !known {
		// A channel appeared since the last fetch; resync instead of
		// guessing.
		if err := c.FetchChannels(ctx); err != nil {
			c.logger.Warn("channel refresh failed", zap.Error(err))
		}
		return
	}

	switch msg := update.Message; {
	case msg.UserConnected != nil:
		c.handleUserConnected(ctx, update.ChannelID, *msg.UserConnected)
	case msg.UserDisconnected != nil:
		c.removeMember(update.ChannelID, *msg.UserDisconnected)
	case msg.UserStateUpdated != nil:
		c.updateMemberState(update.ChannelID, *msg.UserStateUpdated)
	}
}

func (c *Client) handleUserConnected(ctx context.Context, channelID, userID int32) {
	c.mu.Lock()
	for _, ch := range c.channels {
		if ch.ID != channelID {
			continue
		}
		for _, m := range ch.Members {
			if m.ID == userID {
				c.mu.Unlock()
				return
			}
		}
	}
	c.mu.Unlock()

	data, err := c.conn.Call(ctx, models.MethodGetUserInfo, &models.GetUserPayload{ID: userID})
	if err != nil {
		c.logger.Warn("user lookup failed", zap.Int32("user_id", userID), zap.Error(err))
		return
	}
	var info *models.UserInfo
	if err := models.UnmarshalResult(data, &info); err != nil || info == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.channels {
		if c.channels[i].ID == channelID {
			c.channels[i].Members = append(c.channels[i].Members, Member{
				ID:   info.ID,
				Name: info.Username,
			})
			return
		}
	}
}

func (c *Client) removeMember(channelID, userID int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.channels {
		if c.channels[i].ID != channelID {
			continue
		}
		members := c.channels[i].Members[:0]
		for _, m := range c.channels[i].Members {
			if m.ID != userID {
				members = append(members, m)
			}
		}
		c.channels[i].Members = members
		return
	}
}

func (c *Client) updateMemberState(channelID int32, upd models.UserStateUpdated) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.channels {
		if c.channels[i].ID != channelID {
			continue
		}
		for j := range c.channels[i].Members {
			if c.channels[i].Members[j].ID == upd.UserID {
				c.channels[i].Members[j].IsMicOff = upd.State.IsMicOff
				c.channels[i].Members[j].IsSoundOff = upd.State.IsSoundOff
				return
			}
		}
	}
}
