package relay

import (
	"github.com/dkeye/fieldlink/internal/domain"
)

// Signal message types exchanged with the relay over the websocket.
const (
	msgJoin              = "join"
	msgLeave             = "leave"
	msgPing              = "ping"
	msgPong              = "pong"
	msgOffer             = "offer"
	msgAnswer            = "answer"
	msgCandidate         = "candidate"
	msgMute              = "mute"
	msgRoomState         = "room_state"
	msgParticipantJoined = "participant_joined"
	msgParticipantLeft   = "participant_left"
	msgTrackPublished    = "track_published"
	msgTrackUnpublished  = "track_unpublished"
	msgTrackMuted        = "track_muted"
	msgTrackUnmuted      = "track_unmuted"
	msgReconnecting      = "reconnecting"
	msgReconnected       = "reconnected"
	msgError             = "error"
)

type envelope struct {
	Type string `json:"type"`
}

type joinMsg struct {
	Type     string          `json:"type"`
	Room     domain.RoomName `json:"room,omitempty"`
	Identity domain.Identity `json:"identity"`
	Token    string          `json:"token"`
}

type trackInfo struct {
	TrackID string           `json:"track_id"`
	Kind    domain.TrackKind `json:"kind"`
	Muted   bool             `json:"muted"`
}

type participantInfo struct {
	Identity   domain.Identity `json:"identity"`
	Name       string          `json:"name"`
	MicEnabled bool            `json:"mic_enabled"`
	Tracks     []trackInfo     `json:"tracks"`
}

type roomStateMsg struct {
	Type         string            `json:"type"`
	Room         domain.RoomName   `json:"room"`
	Participants []participantInfo `json:"participants"`
}

type participantMsg struct {
	Type        string          `json:"type"`
	Participant participantInfo `json:"participant"`
	Identity    domain.Identity `json:"identity"`
}

type trackMsg struct {
	Type     string          `json:"type"`
	Identity domain.Identity `json:"identity"`
	Track    trackInfo       `json:"track"`
	TrackID  string          `json:"track_id"`
}

type sdpMsg struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidateMsg struct {
	Type          string `json:"type"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

type muteMsg struct {
	Type    string `json:"type"`
	TrackID string `json:"track_id"`
	Muted   bool   `json:"muted"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
