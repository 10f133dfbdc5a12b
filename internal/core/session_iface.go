package core

import (
	"context"

	"github.com/dkeye/fieldlink/internal/domain"
)

// Publication is one track a remote participant has published.
// Track is nil until the local side is subscribed to it.
type Publication struct {
	TrackID string
	Kind    domain.TrackKind
	Muted   bool
	Track   TrackRef
}

// Usable reports whether the publication can be rendered right now.
func (p Publication) Usable() bool {
	return p.Track != nil && !p.Muted
}

type RemoteParticipant struct {
	Participant  domain.Participant
	Publications []Publication
}

// ParticipantSource exposes the current remote roster of a session.
type ParticipantSource interface {
	RemoteParticipants() []RemoteParticipant
}

// RelaySession is one joined room on the media relay.
type RelaySession interface {
	ParticipantSource
	LocalIdentity() domain.Identity
	MicrophoneEnabled() bool
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	Close() error
}

type RelayEventType string

const (
	EventConnected         RelayEventType = "connected"
	EventReconnecting      RelayEventType = "reconnecting"
	EventDisconnected      RelayEventType = "disconnected"
	EventParticipantJoined RelayEventType = "participant_joined"
	EventParticipantLeft   RelayEventType = "participant_left"
	EventTrackPublished    RelayEventType = "track_published"
	EventTrackUnpublished  RelayEventType = "track_unpublished"
	EventTrackSubscribed   RelayEventType = "track_subscribed"
	EventTrackUnsubscribed RelayEventType = "track_unsubscribed"
	EventTrackMuted        RelayEventType = "track_muted"
	EventTrackUnmuted      RelayEventType = "track_unmuted"
)

type RelayEvent struct {
	Type     RelayEventType
	Identity domain.Identity
	TrackID  string
}

type RelayEventHandler func(RelayEvent)

// RelayDialer opens a session against the media relay. Dial returns once
// the handshake completed; handler is invoked for every later event.
type RelayDialer interface {
	Dial(ctx context.Context, url, token string, room domain.RoomName, identity domain.Identity, handler RelayEventHandler) (RelaySession, error)
}
