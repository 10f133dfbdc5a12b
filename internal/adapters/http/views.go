package http

import (
	"github.com/dkeye/fieldlink/internal/app/streams"
	"github.com/dkeye/fieldlink/internal/domain"
)

// StreamView is the wire form of one registry entry. Tracks are
// referenced by id; media flows over the track websocket.
type StreamView struct {
	Identity   domain.Identity `json:"identity"`
	Name       string          `json:"name"`
	MicEnabled bool            `json:"mic_enabled"`
	VideoTrack string          `json:"video_track,omitempty"`
	AudioTrack string          `json:"audio_track,omitempty"`
}

func streamViews(s streams.Snapshot) []StreamView {
	out := make([]StreamView, 0, len(s))
	for _, id := range s.Identities() {
		e := s[id]
		v := StreamView{
			Identity:   id,
			Name:       e.Participant.Name,
			MicEnabled: e.Participant.MicEnabled,
		}
		if e.Video != nil {
			v.VideoTrack = e.Video.ID()
		}
		if e.Audio != nil {
			v.AudioTrack = e.Audio.ID()
		}
		out = append(out, v)
	}
	return out
}
