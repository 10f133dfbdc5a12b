// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrIdentityEmpty      = errors.New("identity empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

// Identity is the relay-wide participant identity, e.g. "w1".
type Identity string

// Participant is a remote identity visible in the session.
type Participant struct {
	Identity   Identity `json:"identity"`
	Name       string   `json:"name"`
	MicEnabled bool     `json:"mic_enabled"`
}

// NewParticipant falls back to the identity when no display name is given.
func NewParticipant(identity Identity, name string) (Participant, error) {
	if identity == "" {
		return Participant{}, ErrIdentityEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return Participant{}, ErrDisplayNameTooLong
	}
	if name == "" {
		name = string(identity)
	}
	return Participant{Identity: identity, Name: name}, nil
}

// CaptureContext is the (site, feed, worker) triple a note or annotation is tied to.
type CaptureContext struct {
	FeedID         string   `json:"feed_id"`
	SiteID         string   `json:"site_id"`
	WorkerIdentity Identity `json:"worker_identity,omitempty"`
}

// Complete reports whether feed, site and worker are all present.
func (c CaptureContext) Complete() bool {
	return c.FeedID != "" && c.SiteID != "" && c.WorkerIdentity != ""
}
