// Package coretest provides in-memory fakes of the core relay interfaces.
package coretest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/domain"
	"github.com/pion/rtp"
)

// Track is a TrackRef that records attachments and lets tests push packets.
type Track struct {
	TrackID   string
	TrackKind domain.TrackKind

	mu    sync.Mutex
	sinks map[int]core.RTPSink
	next  int
}

func NewTrack(id string, kind domain.TrackKind) *Track {
	return &Track{TrackID: id, TrackKind: kind, sinks: make(map[int]core.RTPSink)}
}

func (t *Track) ID() string             { return t.TrackID }
func (t *Track) Kind() domain.TrackKind { return t.TrackKind }

func (t *Track) Attach(sink core.RTPSink) func() {
	t.mu.Lock()
	id := t.next
	t.next++
	t.sinks[id] = sink
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.sinks, id)
		t.mu.Unlock()
	}
}

// Attached returns the number of live sinks.
func (t *Track) Attached() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sinks)
}

// Push writes pkt to every attached sink.
func (t *Track) Push(pkt *rtp.Packet) {
	t.mu.Lock()
	sinks := make([]core.RTPSink, 0, len(t.sinks))
	for _, s := range t.sinks {
		sinks = append(sinks, s)
	}
	t.mu.Unlock()
	for _, s := range sinks {
		_ = s.WriteRTP(pkt)
	}
}

// Session is a mutable in-memory RelaySession.
type Session struct {
	Identity domain.Identity
	// MicErr, when set, is returned by SetMicrophoneEnabled.
	MicErr error

	mu      sync.Mutex
	roster  map[domain.Identity]*core.RemoteParticipant
	mic     bool
	micCall int
	closed  bool
	handler core.RelayEventHandler
	// block, when non-nil, holds SetMicrophoneEnabled until closed.
	block chan struct{}
}

func NewSession(identity domain.Identity) *Session {
	return &Session{Identity: identity, roster: make(map[domain.Identity]*core.RemoteParticipant)}
}

func (s *Session) LocalIdentity() domain.Identity { return s.Identity }

func (s *Session) RemoteParticipants() []core.RemoteParticipant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.RemoteParticipant, 0, len(s.roster))
	for _, rp := range s.roster {
		cp := *rp
		cp.Publications = append([]core.Publication(nil), rp.Publications...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant.Identity < out[j].Participant.Identity })
	return out
}

func (s *Session) MicrophoneEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mic
}

func (s *Session) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.micCall++
	block := s.block
	err := s.MicErr
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.mic = enabled
	s.mu.Unlock()
	return nil
}

// MicCalls counts SetMicrophoneEnabled invocations.
func (s *Session) MicCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micCall
}

// BlockMic makes SetMicrophoneEnabled wait until the returned func is called.
func (s *Session) BlockMic() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.block = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.block = nil
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Join adds a participant and emits participant_joined.
func (s *Session) Join(identity domain.Identity, name string) {
	s.mu.Lock()
	s.roster[identity] = &core.RemoteParticipant{
		Participant: domain.Participant{Identity: identity, Name: name},
	}
	s.mu.Unlock()
	s.emit(core.RelayEvent{Type: core.EventParticipantJoined, Identity: identity})
}

// Leave removes a participant and emits participant_left.
func (s *Session) Leave(identity domain.Identity) {
	s.mu.Lock()
	delete(s.roster, identity)
	s.mu.Unlock()
	s.emit(core.RelayEvent{Type: core.EventParticipantLeft, Identity: identity})
}

// Publish adds a subscribed track and emits track_subscribed.
func (s *Session) Publish(identity domain.Identity, track *Track) {
	s.mu.Lock()
	if rp, ok := s.roster[identity]; ok {
		rp.Publications = append(rp.Publications, core.Publication{
			TrackID: track.TrackID,
			Kind:    track.TrackKind,
			Track:   track,
		})
	}
	s.mu.Unlock()
	s.emit(core.RelayEvent{Type: core.EventTrackSubscribed, Identity: identity, TrackID: track.TrackID})
}

// Unpublish removes a track and emits track_unpublished.
func (s *Session) Unpublish(identity domain.Identity, trackID string) {
	s.mu.Lock()
	if rp, ok := s.roster[identity]; ok {
		kept := rp.Publications[:0]
		for _, p := range rp.Publications {
			if p.TrackID != trackID {
				kept = append(kept, p)
			}
		}
		rp.Publications = kept
	}
	s.mu.Unlock()
	s.emit(core.RelayEvent{Type: core.EventTrackUnpublished, Identity: identity, TrackID: trackID})
}

// SetMuted flips a publication's muted flag and emits the matching event.
func (s *Session) SetMuted(identity domain.Identity, trackID string, muted bool) {
	s.mu.Lock()
	if rp, ok := s.roster[identity]; ok {
		for i := range rp.Publications {
			if rp.Publications[i].TrackID == trackID {
				rp.Publications[i].Muted = muted
			}
		}
	}
	s.mu.Unlock()
	typ := core.EventTrackUnmuted
	if muted {
		typ = core.EventTrackMuted
	}
	s.emit(core.RelayEvent{Type: typ, Identity: identity, TrackID: trackID})
}

// Emit delivers an arbitrary event to the dialer's handler.
func (s *Session) Emit(ev core.RelayEvent) { s.emit(ev) }

func (s *Session) emit(ev core.RelayEvent) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

var ErrDial = errors.New("dial refused")

// Dialer hands out pre-built sessions in order.
type Dialer struct {
	mu       sync.Mutex
	Sessions []*Session
	Err      error
	Calls    []DialCall
}

type DialCall struct {
	URL      string
	Token    string
	Room     domain.RoomName
	Identity domain.Identity
}

func (d *Dialer) Dial(_ context.Context, url, token string, room domain.RoomName, identity domain.Identity, h core.RelayEventHandler) (core.RelaySession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, DialCall{URL: url, Token: token, Room: room, Identity: identity})
	if d.Err != nil {
		return nil, d.Err
	}
	if len(d.Sessions) == 0 {
		return nil, ErrDial
	}
	s := d.Sessions[0]
	d.Sessions = d.Sessions[1:]
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	return s, nil
}

// Tokens is a static TokenIssuer.
type Tokens struct {
	URL string
	Err error

	mu    sync.Mutex
	calls int
}

func (t *Tokens) IssueToken(_ context.Context, room domain.RoomName, identity domain.Identity, _ string) (domain.RelayToken, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	if t.Err != nil {
		return domain.RelayToken{}, t.Err
	}
	return domain.RelayToken{Token: "tok-" + string(identity), Room: room, RelayURL: t.URL}, nil
}

func (t *Tokens) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
