package domain

type RoomName string

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// RelayToken is a short-lived grant to join one room on the media relay.
type RelayToken struct {
	Token    string   `json:"token"`
	Room     RoomName `json:"room_name"`
	RelayURL string   `json:"livekit_url"`
}
