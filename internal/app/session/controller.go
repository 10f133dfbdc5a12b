// Package session owns the connect/disconnect lifecycle of the relay room.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/domain"
	"github.com/dkeye/fieldlink/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Status is a read-only view of the controller.
type Status struct {
	State     domain.ConnectionState `json:"state"`
	Room      domain.RoomName        `json:"room,omitempty"`
	Identity  domain.Identity        `json:"identity,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
}

type Controller struct {
	Tokens core.TokenIssuer
	Dialer core.RelayDialer
	// PublicURL, when set, wins over the relay address in the token.
	PublicURL string

	rebuild func(core.ParticipantSource)
	clear   func()
	metrics *metrics.Metrics

	// rebuildMu orders every rebuild and clear; taken before mu, never inside it.
	rebuildMu sync.Mutex

	mu       sync.Mutex
	state    domain.ConnectionState
	room     domain.RoomName
	identity domain.Identity
	lastErr  string
	sess     core.RelaySession
	// epoch invalidates events and in-flight connects of superseded sessions.
	epoch uint64
	// dropped is the last epoch ended by the relay rather than by a caller.
	dropped uint64

	observers []func(Status)
}

// NewController wires the controller to a registry's rebuild/clear pair.
func NewController(tokens core.TokenIssuer, dialer core.RelayDialer, rebuild func(core.ParticipantSource), clear func(), m *metrics.Metrics) *Controller {
	return &Controller{
		Tokens:  tokens,
		Dialer:  dialer,
		rebuild: rebuild,
		clear:   clear,
		metrics: m,
		state:   domain.StateDisconnected,
	}
}

// OnStateChange registers an observer. Observers run outside the lock.
func (c *Controller) OnStateChange(fn func(Status)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Connect joins room as identity. An empty room is a no-op. Any prior
// session is torn down first.
func (c *Controller) Connect(ctx context.Context, room domain.RoomName, identity domain.Identity, displayName string) error {
	if room == "" {
		return nil
	}
	logger := log.With().Str("module", "session").Str("room", string(room)).Str("identity", string(identity)).Logger()

	c.mu.Lock()
	prev := c.sess
	c.sess = nil
	c.epoch++
	epoch := c.epoch
	c.room = room
	c.identity = identity
	c.lastErr = ""
	c.state = domain.StateConnecting
	c.mu.Unlock()

	if prev != nil {
		logger.Info().Msg("tearing down previous session")
		if err := prev.Close(); err != nil {
			logger.Warn().Err(err).Msg("close previous session")
		}
		c.clearViews()
	}
	c.notify()

	tok, err := c.Tokens.IssueToken(ctx, room, identity, displayName)
	if err != nil {
		return c.fail(epoch, fmt.Errorf("%w: token: %w", domain.ErrTransport, err))
	}
	url := tok.RelayURL
	if c.PublicURL != "" {
		url = c.PublicURL
	}
	if url == "" {
		return c.fail(epoch, fmt.Errorf("%w: no relay url", domain.ErrTransport))
	}

	joinRoom := tok.Room
	if joinRoom == "" {
		joinRoom = room
	}
	sess, err := c.Dialer.Dial(ctx, url, tok.Token, joinRoom, identity, c.handler(epoch))
	if err != nil {
		return c.fail(epoch, fmt.Errorf("%w: dial %s: %w", domain.ErrTransport, url, err))
	}

	c.mu.Lock()
	if c.epoch != epoch {
		dropped := c.dropped == epoch
		c.mu.Unlock()
		_ = sess.Close()
		if dropped {
			// the relay hung up before Dial returned
			return c.fail(epoch+1, fmt.Errorf("%w: relay disconnected during connect", domain.ErrTransport))
		}
		// superseded by a newer connect or a disconnect
		return nil
	}
	c.sess = sess
	c.state = domain.StateConnected
	c.mu.Unlock()

	c.rebuildIfCurrent(epoch, sess)
	c.metrics.IncConnect("ok")
	logger.Info().Str("url", url).Msg("connected")
	c.notify()
	return nil
}

// Disconnect closes the session and clears all derived stream entries.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.epoch++
	c.state = domain.StateDisconnected
	c.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("close session")
		}
	}
	c.clearViews()
	log.Info().Str("module", "session").Msg("disconnected")
	c.notify()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ActiveSession returns the live session, or nil when not connected.
func (c *Controller) ActiveSession() core.RelaySession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.StateConnected && c.state != domain.StateReconnecting {
		return nil
	}
	return c.sess
}

func (c *Controller) fail(epoch uint64, err error) error {
	c.mu.Lock()
	if c.epoch == epoch {
		c.state = domain.StateDisconnected
		c.lastErr = err.Error()
	}
	c.mu.Unlock()
	c.metrics.IncConnect("error")
	log.Error().Err(err).Str("module", "session").Msg("connect failed")
	c.notify()
	return err
}

func (c *Controller) handler(epoch uint64) core.RelayEventHandler {
	return func(ev core.RelayEvent) {
		c.mu.Lock()
		if c.epoch != epoch {
			c.mu.Unlock()
			return
		}
		sess := c.sess
		changed := false
		switch ev.Type {
		case core.EventReconnecting:
			if c.state == domain.StateConnected {
				c.state = domain.StateReconnecting
				changed = true
			}
		case core.EventConnected:
			if c.state != domain.StateConnected && sess != nil {
				c.state = domain.StateConnected
				changed = true
			}
		case core.EventDisconnected:
			c.sess = nil
			c.dropped = c.epoch
			c.epoch++
			c.state = domain.StateDisconnected
			c.lastErr = fmt.Sprintf("%v: relay disconnected", domain.ErrTransport)
			changed = true
		}
		c.mu.Unlock()

		log.Debug().Str("module", "session").Str("event", string(ev.Type)).Str("identity", string(ev.Identity)).Msg("relay event")

		switch ev.Type {
		case core.EventDisconnected:
			if sess != nil {
				_ = sess.Close()
			}
			c.clearViews()
		case core.EventReconnecting:
		default:
			// the session may still be mid-handshake; Connect rebuilds once it lands
			if sess != nil {
				c.rebuildIfCurrent(epoch, sess)
			}
		}
		if changed {
			c.notify()
		}
	}
}

// rebuildIfCurrent republishes sess's roster unless a disconnect or a newer
// connect has happened since the caller read it.
func (c *Controller) rebuildIfCurrent(epoch uint64, sess core.RelaySession) {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()
	c.mu.Lock()
	current := c.epoch == epoch && c.sess == sess
	c.mu.Unlock()
	if current {
		c.rebuild(sess)
	}
}

func (c *Controller) clearViews() {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()
	c.clear()
}

func (c *Controller) statusLocked() Status {
	return Status{State: c.state, Room: c.room, Identity: c.identity, LastError: c.lastErr}
}

func (c *Controller) notify() {
	c.mu.Lock()
	st := c.statusLocked()
	obs := append([]func(Status){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range obs {
		fn(st)
	}
}
