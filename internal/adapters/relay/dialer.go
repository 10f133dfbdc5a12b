// Package relay talks to the media relay: websocket signaling for the
// room roster plus a pion peer connection for the media itself.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/fieldlink/internal/adapters/rtc"
	"github.com/dkeye/fieldlink/internal/app/sfu"
	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/domain"
)

var ErrRejected = errors.New("relay rejected join")

// Dialer implements core.RelayDialer.
type Dialer struct {
	ICEServers       []string
	HandshakeTimeout time.Duration
	PingPeriod       time.Duration
	ReadLimit        int64
	// WS is used for the signaling socket; nil means websocket.DefaultDialer.
	WS *websocket.Dialer
}

var _ core.RelayDialer = (*Dialer)(nil)

// Dial joins room with the token granted for it. It returns once the relay sent
// the initial room state and the local offer went out.
func (d *Dialer) Dial(ctx context.Context, rawURL, token string, room domain.RoomName, identity domain.Identity, handler core.RelayEventHandler) (core.RelaySession, error) {
	logger := log.With().Str("module", "relay").Str("identity", string(identity)).Logger()

	wsURL, err := signalURL(rawURL)
	if err != nil {
		return nil, err
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws := d.WS
	if ws == nil {
		ws = websocket.DefaultDialer
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := ws.DialContext(hctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("signal dial: %w", err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}

	state, err := handshake(conn, room, token, identity, time.Now().Add(timeout))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info().Str("room", string(state.Room)).Int("participants", len(state.Participants)).Msg("joined")

	pc, err := rtc.NewWebRTCConnection(rtc.DefaultWebRTCConfig(d.ICEServers), string(identity))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("peer connection: %w", err)
	}

	sctx, scancel := context.WithCancel(context.Background())
	s := &Session{
		identity: identity,
		room:     state.Room,
		logger:   logger,
		sig:      newSignalConn(conn, logger),
		pc:       pc,
		roster:   newRoster(identity),
		relays:   sfu.NewRelayManager(),
		handler:  handler,
		ctx:      sctx,
		cancel:   scancel,
	}
	s.roster.reset(state.Participants)

	if err := s.setupMedia(); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.run(d.PingPeriod)

	offer, err := pc.CreateOffer()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("offer: %w", err)
	}
	if err := s.sig.sendJSON(sdpMsg{Type: msgOffer, SDP: offer.SDP}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("send offer: %w", err)
	}
	return s, nil
}

func (s *Session) setupMedia() error {
	s.pc.OnTrack(s.onTrack)
	s.pc.OnStateChange(s.onPeerState)
	s.pc.OnICECandidate(s.onLocalCandidate)
	if err := s.pc.Start(s.ctx); err != nil {
		return err
	}

	mic, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"microphone", string(s.identity))
	if err != nil {
		return fmt.Errorf("mic track: %w", err)
	}
	if _, err := s.pc.AddLocalTrack(mic); err != nil {
		return fmt.Errorf("mic track: %w", err)
	}
	s.mic = mic

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if err := s.pc.AddRecvTransceiver(kind); err != nil {
			return fmt.Errorf("transceiver %s: %w", kind, err)
		}
	}
	return nil
}

// handshake sends join and blocks until the first room_state.
func handshake(conn *websocket.Conn, room domain.RoomName, token string, identity domain.Identity, deadline time.Time) (*roomStateMsg, error) {
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(joinMsg{Type: msgJoin, Room: room, Identity: identity, Token: token}); err != nil {
		return nil, fmt.Errorf("send join: %w", err)
	}
	_ = conn.SetReadDeadline(deadline)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("handshake: %w", err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case msgRoomState:
			var st roomStateMsg
			if err := json.Unmarshal(data, &st); err != nil {
				return nil, fmt.Errorf("handshake: %w", err)
			}
			_ = conn.SetReadDeadline(time.Time{})
			_ = conn.SetWriteDeadline(time.Time{})
			return &st, nil
		case msgError:
			var m errorMsg
			_ = json.Unmarshal(data, &m)
			return nil, fmt.Errorf("%w: %s", ErrRejected, m.Message)
		}
	}
}

// signalURL turns the relay address into the websocket endpoint.
func signalURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("relay url: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/rtc"
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}
