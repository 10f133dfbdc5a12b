package core

import (
	"github.com/dkeye/fieldlink/internal/domain"
	"github.com/pion/rtp"
)

// RTPSink receives the packets of a live remote track.
type RTPSink interface {
	WriteRTP(*rtp.Packet) error
}

// TrackRef is a handle to a live remote audio or video source.
// It is never owned by consumers, only attached to a sink.
type TrackRef interface {
	ID() string
	Kind() domain.TrackKind
	// Attach starts forwarding packets to sink. The returned func detaches it.
	Attach(sink RTPSink) (detach func())
}
