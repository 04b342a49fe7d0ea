// Package voice binds the local user to a server datagram endpoint and
// glues the audio pipeline to the network: capture → encode → send on
// one side, receive → decode → mixer on the other.
package voice

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/TaPO4eg3D/hazel/internal/audio"
	"github.com/TaPO4eg3D/hazel/internal/codec"
	"github.com/TaPO4eg3D/hazel/internal/mixer"
	"github.com/TaPO4eg3D/hazel/internal/wire"
)

// recvBufBytes fits any single voice datagram with room to detect
// oversized garbage.
const recvBufBytes = 2048

// peerState is the receive-side state for one remote speaker, owned by
// the receiver goroutine.
type peerState struct {
	dec     *codec.Decoder
	lastSeq uint16
	primed  bool
}

// Session is the voice-channel datagram session.
//
// The receiver goroutine runs from New until Close so late in-flight
// packets after a disconnect are still parsed harmlessly; only the
// sender starts and stops with Connect/Disconnect.
type Session struct {
	logger  *zap.Logger
	sock    *net.UDPConn
	capture *audio.Capture
	sched   *mixer.Scheduler

	mu         sync.Mutex
	connected  bool
	senderDone chan struct{}

	wg sync.WaitGroup

	plcFrames  atomic.Uint64
	staleDrops atomic.Uint64
}

// New binds an ephemeral UDP socket and starts the receiver.
func New(logger *zap.Logger, capture *audio.Capture, sched *mixer.Scheduler) (*Session, error) {
	sock, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("voice: bind socket: %w", err)
	}

	s := &Session{
		logger:  logger,
		sock:    sock,
		capture: capture,
		sched:   sched,
	}

	s.wg.Add(1)
	go s.receiveLoop()
	return s, nil
}

// Connect transitions to Connected(peer, userID) and starts the sender
// loop on a fresh capture subscriber. Whether the microphone actually
// produces audio stays under the capture enable toggle.
func (s *Session) Connect(userID int32, peer *net.UDPAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		close(s.senderDone)
	}

	sub, err := s.capture.Subscribe()
	if err != nil {
		return err
	}

	done := make(chan struct{})
	s.senderDone = done
	s.connected = true

	s.wg.Add(1)
	go s.sendLoop(sub, userID, peer, done)

	s.logger.Info("voice session connected",
		zap.Int32("user_id", userID),
		zap.String("peer", peer.String()))
	return nil
}

// Disconnect stops transmitting. Receiving continues until Close so
// stray packets from the old channel cannot fault.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return
	}
	close(s.senderDone)
	s.senderDone = nil
	s.connected = false

	s.logger.Info("voice session disconnected")
}

// sendLoop pulls encoded packets off the capture subscriber and ships
// each one as a voice datagram. seq wraps at 2^16 by u16 arithmetic.
func (s *Session) sendLoop(sub *audio.Subscriber, userID int32, peer *net.UDPAddr, done <-chan struct{}) {
	defer s.wg.Done()
	defer sub.Close()

	var seq uint16
	buf := make([]byte, 0, wire.HeaderSize+codec.MaxPacketBytes)

	for {
		packets, ok := sub.RecvEncoded(done)
		if !ok {
			return
		}

		for _, payload := range packets {
			packet := wire.Packet{
				Type:    wire.TypeVoice,
				Seq:     seq,
				UserID:  userID,
				Payload: payload,
			}
			seq++

			buf = packet.AppendTo(buf[:0])
			if _, err := s.sock.WriteToUDP(buf, peer); err != nil {
				s.logger.Debug("voice send failed", zap.Error(err))
			}
		}
	}
}

// receiveLoop parses datagrams and routes them to per-user decoders.
// The decoder map is owned by this goroutine; speakers appear lazily on
// their first packet.
func (s *Session) receiveLoop() {
	defer s.wg.Done()

	peers := make(map[int32]*peerState)
	buf := make([]byte, recvBufBytes)

	for {
		n, _, err := s.sock.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		packet, err := wire.Parse(buf[:n])
		if err != nil {
			continue
		}
		if packet.Type != wire.TypeVoice {
			// Acks are reserved and not consumed by the mixer.
			continue
		}

		peer, ok := peers[packet.UserID]
		if !ok {
			dec, err := codec.NewDecoder()
			if err != nil {
				s.logger.Error("init speaker decoder", zap.Error(err))
				continue
			}
			peer = &peerState{dec: dec}
			peers[packet.UserID] = peer
		}

		s.handleVoice(peer, packet)
	}
}

// handleVoice enforces the per-speaker sequencing policy: a strict gap
// drives one concealment frame before the real decode, datagrams two
// or more frames behind the newest are dropped, a one-frame-late
// arrival is decoded and left to the speaker queue ordering.
func (s *Session) handleVoice(peer *peerState, packet wire.Packet) {
	if peer.primed {
		switch dist := int16(packet.Seq - peer.lastSeq); {
		case dist == 0:
			return
		case dist <= -2:
			s.staleDrops.Add(1)
			return
		case dist > 1:
			s.sched.Push(packet.UserID, peer.dec.DecodePLC())
			s.plcFrames.Add(1)
			peer.lastSeq = packet.Seq
		case dist == 1:
			peer.lastSeq = packet.Seq
		}
	} else {
		peer.primed = true
		peer.lastSeq = packet.Seq
	}

	s.sched.Push(packet.UserID, peer.dec.Decode(packet.Payload))
}

// LocalAddr returns the bound socket address.
func (s *Session) LocalAddr() net.Addr {
	return s.sock.LocalAddr()
}

// PLCFrames returns how many concealment frames were synthesized.
func (s *Session) PLCFrames() uint64 {
	return s.plcFrames.Load()
}

// StaleDrops returns how many out-of-window datagrams were dropped.
func (s *Session) StaleDrops() uint64 {
	return s.staleDrops.Load()
}

// Close tears the session down: sender, then socket, then receiver.
func (s *Session) Close() {
	s.Disconnect()
	s.sock.Close()
	s.wg.Wait()
}
