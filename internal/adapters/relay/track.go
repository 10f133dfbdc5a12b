package relay

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/fieldlink/internal/app/sfu"
	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/domain"
)

// remoteTrack is the TrackRef handed to the roster for a subscribed
// remote track. Every Attach adds one sink to the track's relay.
type remoteTrack struct {
	id    string
	kind  domain.TrackKind
	relay *sfu.Relay
}

func (t *remoteTrack) ID() string             { return t.id }
func (t *remoteTrack) Kind() domain.TrackKind { return t.kind }

func (t *remoteTrack) Attach(sink core.RTPSink) func() {
	return t.relay.Attach(sink)
}

// trackSource adapts a pion remote track to sfu.PacketSource.
type trackSource struct {
	track *webrtc.TrackRemote
}

func (s trackSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.track.ReadRTP()
	return pkt, err
}

func kindOf(k webrtc.RTPCodecType) domain.TrackKind {
	if k == webrtc.RTPCodecTypeVideo {
		return domain.TrackVideo
	}
	return domain.TrackAudio
}
