// Package audio drives the local microphone: plain toggle and push-to-talk.
package audio

import (
	"context"
	"sync"

	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/metrics"
	"github.com/rs/zerolog/log"
)

type PTTState string

const (
	PTTIdle     PTTState = "idle"
	PTTStarting PTTState = "starting"
	PTTActive   PTTState = "active"
	PTTStopping PTTState = "stopping"
)

// SessionSource yields the active relay session, or nil.
type SessionSource interface {
	ActiveSession() core.RelaySession
}

type Status struct {
	MicEnabled bool     `json:"mic_enabled"`
	PTT        PTTState `json:"ptt"`
}

type Control struct {
	sessions SessionSource
	metrics  *metrics.Metrics

	mu  sync.Mutex
	ptt PTTState
	// stopPending is set by StopTalking while a start is still in flight.
	stopPending bool
	toggling    bool
	// gen is bumped by Reset; mic calls that straddle it drop their result.
	gen uint64
}

func NewControl(sessions SessionSource, m *metrics.Metrics) *Control {
	return &Control{sessions: sessions, metrics: m, ptt: PTTIdle}
}

// ToggleMic flips the local microphone. Without a session it does nothing.
func (c *Control) ToggleMic(ctx context.Context) {
	sess := c.sessions.ActiveSession()
	if sess == nil {
		return
	}
	c.mu.Lock()
	if c.toggling || c.ptt != PTTIdle {
		c.mu.Unlock()
		return
	}
	c.toggling = true
	gen := c.gen
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.gen == gen {
			c.toggling = false
		}
		c.mu.Unlock()
	}()

	want := !sess.MicrophoneEnabled()
	if err := sess.SetMicrophoneEnabled(ctx, want); err != nil {
		log.Error().Err(err).Str("module", "audio").Bool("enable", want).Msg("mic toggle failed")
		c.metrics.IncPTT("toggle", "error")
		return
	}
	c.metrics.IncPTT("toggle", "ok")
}

// StartTalking enables the mic for push-to-talk. A second call while
// starting or active is a no-op.
func (c *Control) StartTalking(ctx context.Context) {
	sess := c.sessions.ActiveSession()
	if sess == nil {
		return
	}
	c.mu.Lock()
	if c.ptt != PTTIdle || c.toggling {
		c.mu.Unlock()
		return
	}
	c.ptt = PTTStarting
	c.stopPending = false
	gen := c.gen
	c.mu.Unlock()

	err := sess.SetMicrophoneEnabled(ctx, true)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		log.Debug().Str("module", "audio").Msg("ptt start outlived a reset")
		return
	}
	if err != nil {
		c.ptt = PTTIdle
		c.stopPending = false
		c.mu.Unlock()
		log.Error().Err(err).Str("module", "audio").Msg("ptt start failed")
		c.metrics.IncPTT("start", "error")
		return
	}
	c.ptt = PTTActive
	pending := c.stopPending
	c.stopPending = false
	c.mu.Unlock()
	c.metrics.IncPTT("start", "ok")

	if pending {
		c.StopTalking(ctx)
	}
}

// StopTalking disables the mic after push-to-talk. It only acts when
// active; a stop that arrives while starting is applied once the start lands.
func (c *Control) StopTalking(ctx context.Context) {
	c.mu.Lock()
	switch c.ptt {
	case PTTStarting:
		c.stopPending = true
		c.mu.Unlock()
		return
	case PTTActive:
		c.ptt = PTTStopping
	default:
		c.mu.Unlock()
		return
	}
	gen := c.gen
	c.mu.Unlock()

	sess := c.sessions.ActiveSession()
	var err error
	if sess != nil {
		err = sess.SetMicrophoneEnabled(ctx, false)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.ptt = PTTActive
		c.mu.Unlock()
		log.Error().Err(err).Str("module", "audio").Msg("ptt stop failed")
		c.metrics.IncPTT("stop", "error")
		return
	}
	c.ptt = PTTIdle
	c.mu.Unlock()
	c.metrics.IncPTT("stop", "ok")
}

func (c *Control) Status() Status {
	c.mu.Lock()
	st := Status{PTT: c.ptt}
	c.mu.Unlock()
	if sess := c.sessions.ActiveSession(); sess != nil {
		st.MicEnabled = sess.MicrophoneEnabled()
	}
	return st
}

// Reset returns push-to-talk to idle, e.g. after the session went away.
// Mic calls still in flight no longer move the state.
func (c *Control) Reset() {
	c.mu.Lock()
	c.gen++
	c.ptt = PTTIdle
	c.stopPending = false
	c.toggling = false
	c.mu.Unlock()
}
