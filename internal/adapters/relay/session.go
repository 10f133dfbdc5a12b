package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/fieldlink/internal/adapters/rtc"
	"github.com/dkeye/fieldlink/internal/app/sfu"
	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/domain"
)

// Session is one joined room. It implements core.RelaySession.
type Session struct {
	identity domain.Identity
	room     domain.RoomName
	logger   zerolog.Logger

	sig     *signalConn
	pc      *rtc.WebRTCConnection
	mic     *webrtc.TrackLocalStaticSample
	roster  *roster
	relays  *sfu.RelayManager
	handler core.RelayEventHandler

	micEnabled atomic.Bool
	closed     atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

func (s *Session) LocalIdentity() domain.Identity { return s.identity }

func (s *Session) RemoteParticipants() []core.RemoteParticipant { return s.roster.snapshot() }

func (s *Session) MicrophoneEnabled() bool { return s.micEnabled.Load() }

// SetMicrophoneEnabled publishes the mute state of the local mic track.
func (s *Session) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: session closed", domain.ErrTransport)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.mic == nil {
		return fmt.Errorf("%w: no microphone track", domain.ErrCapability)
	}
	if err := s.sig.sendJSON(muteMsg{Type: msgMute, TrackID: s.mic.ID(), Muted: !enabled}); err != nil {
		return fmt.Errorf("%w: mute: %w", domain.ErrTransport, err)
	}
	s.micEnabled.Store(enabled)
	return nil
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		_ = s.sig.sendJSON(envelope{Type: msgLeave})
		s.cancel()
		s.relays.StopAll()
		s.pc.Close()
		s.sig.Close()
		s.logger.Info().Msg("session closed")
	})
	return nil
}

func (s *Session) emit(t core.RelayEventType, identity domain.Identity, trackID string) {
	if s.handler == nil {
		return
	}
	s.handler(core.RelayEvent{Type: t, Identity: identity, TrackID: trackID})
}

// run pumps signal messages until the socket dies. A socket that dies
// while the session is still open is reported as a disconnect.
func (s *Session) run(pingPeriod time.Duration) {
	go s.sig.writePump(s.ctx, pingPeriod)
	go func() {
		err := s.sig.readPump(s.ctx, s.handleSignal)
		if s.closed.Load() {
			return
		}
		s.logger.Warn().Err(err).Msg("signal lost")
		s.emit(core.EventDisconnected, "", "")
	}()
}

func (s *Session) handleSignal(typ string, data []byte) {
	switch typ {
	case msgRoomState:
		var m roomStateMsg
		if !s.decode(data, &m) {
			return
		}
		for _, id := range s.roster.reset(m.Participants) {
			s.relays.StopRelay(id)
		}
		s.emit(core.EventConnected, "", "")
	case msgParticipantJoined:
		var m participantMsg
		if !s.decode(data, &m) {
			return
		}
		if s.roster.join(m.Participant) {
			s.emit(core.EventParticipantJoined, m.Participant.Identity, "")
		}
	case msgParticipantLeft:
		var m participantMsg
		if !s.decode(data, &m) {
			return
		}
		identity := m.Identity
		if identity == "" {
			identity = m.Participant.Identity
		}
		ids, ok := s.roster.leave(identity)
		for _, id := range ids {
			s.relays.StopRelay(id)
		}
		if ok {
			s.emit(core.EventParticipantLeft, identity, "")
		}
	case msgTrackPublished:
		var m trackMsg
		if !s.decode(data, &m) {
			return
		}
		if s.roster.publish(m.Identity, m.Track) {
			s.relays.SetMuted(m.Track.TrackID, m.Track.Muted)
			s.emit(core.EventTrackPublished, m.Identity, m.Track.TrackID)
		}
	case msgTrackUnpublished:
		var m trackMsg
		if !s.decode(data, &m) {
			return
		}
		id := trackIDOf(m)
		subscribed, ok := s.roster.unpublish(m.Identity, id)
		if subscribed {
			s.relays.StopRelay(id)
		}
		if ok {
			s.emit(core.EventTrackUnpublished, m.Identity, id)
		}
	case msgTrackMuted, msgTrackUnmuted:
		var m trackMsg
		if !s.decode(data, &m) {
			return
		}
		id := trackIDOf(m)
		muted := typ == msgTrackMuted
		if s.roster.setMuted(m.Identity, id, muted) {
			s.relays.SetMuted(id, muted)
			ev := core.EventTrackUnmuted
			if muted {
				ev = core.EventTrackMuted
			}
			s.emit(ev, m.Identity, id)
		}
	case msgOffer:
		var m sdpMsg
		if !s.decode(data, &m) {
			return
		}
		answer, err := s.pc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP})
		if err != nil {
			s.logger.Error().Err(err).Msg("renegotiation failed")
			return
		}
		if err := s.sig.sendJSON(sdpMsg{Type: msgAnswer, SDP: answer.SDP}); err != nil {
			s.logger.Warn().Err(err).Msg("send answer")
		}
	case msgAnswer:
		var m sdpMsg
		if !s.decode(data, &m) {
			return
		}
		if err := s.pc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}); err != nil {
			s.logger.Error().Err(err).Msg("apply answer")
		}
	case msgCandidate:
		var m candidateMsg
		if !s.decode(data, &m) {
			return
		}
		ci := webrtc.ICECandidateInit{Candidate: m.Candidate}
		if m.SDPMid != "" {
			ci.SDPMid = &m.SDPMid
			ci.SDPMLineIndex = &m.SDPMLineIndex
		}
		if err := s.pc.AddICECandidate(ci); err != nil {
			s.logger.Warn().Err(err).Msg("add candidate")
		}
	case msgReconnecting:
		s.emit(core.EventReconnecting, "", "")
	case msgReconnected:
		s.emit(core.EventConnected, "", "")
	case msgPong:
	case msgError:
		var m errorMsg
		if s.decode(data, &m) {
			s.logger.Warn().Str("message", m.Message).Msg("relay error")
		}
	default:
		s.logger.Warn().Str("type", typ).Msg("unknown signal")
	}
}

// onTrack starts a relay for a newly subscribed remote track. The
// track's stream id carries the publisher identity.
func (s *Session) onTrack(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	id := track.ID()
	identity := domain.Identity(track.StreamID())
	relay := s.relays.StartRelay(ctx, id, trackSource{track: track})
	ref := &remoteTrack{id: id, kind: kindOf(track.Kind()), relay: relay}

	if s.roster.subscribe(identity, ref) {
		s.emit(core.EventTrackSubscribed, identity, id)
	}
	go func() {
		<-relay.Done()
		if s.closed.Load() {
			return
		}
		if who, ok := s.roster.unsubscribe(id); ok {
			s.emit(core.EventTrackUnsubscribed, who, id)
		}
	}()
}

func (s *Session) onPeerState(st webrtc.PeerConnectionState) {
	if s.closed.Load() {
		return
	}
	switch st {
	case webrtc.PeerConnectionStateDisconnected:
		s.emit(core.EventReconnecting, "", "")
	case webrtc.PeerConnectionStateConnected:
		s.emit(core.EventConnected, "", "")
	case webrtc.PeerConnectionStateFailed:
		s.emit(core.EventDisconnected, "", "")
	}
}

func (s *Session) onLocalCandidate(ci webrtc.ICECandidateInit) {
	m := candidateMsg{Type: msgCandidate, Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		m.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		m.SDPMLineIndex = *ci.SDPMLineIndex
	}
	if err := s.sig.sendJSON(m); err != nil {
		s.logger.Warn().Err(err).Msg("send candidate")
	}
}

func (s *Session) decode(data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn().Err(err).Msg("bad signal payload")
		return false
	}
	return true
}

func trackIDOf(m trackMsg) string {
	if m.TrackID != "" {
		return m.TrackID
	}
	return m.Track.TrackID
}
