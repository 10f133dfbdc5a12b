package sfu

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// RelayManager owns one Relay per remote track id.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[string]*Relay),
	}
}

// StartRelay creates a new Relay for trackID and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, trackID string, src PacketSource) *Relay {
	logger := log.With().
		Str("module", "sfu").
		Str("track_id", trackID).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, cancel)

	m.mu.Lock()
	if old, ok := m.relays[trackID]; ok {
		logger.Info().Msg("replacing existing relay for track")
		old.markAllDelete()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[trackID] = relay
	m.mu.Unlock()

	logger.Debug().Msg("starting relay loop")

	go func() {
		relay.loop(relayCtx, &logger)
		m.remove(trackID, relay)
	}()
	return relay
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(trackID string) {
	m.mu.Lock()
	relay, ok := m.relays[trackID]
	if ok {
		delete(m.relays, trackID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	if relay.cancel != nil {
		relay.cancel()
	}
}

// SetMuted pauses or resumes forwarding of trackID.
func (m *RelayManager) SetMuted(trackID string, muted bool) {
	m.mu.RLock()
	relay, ok := m.relays[trackID]
	m.mu.RUnlock()
	if ok {
		relay.SetMuted(muted)
	}
}

func (m *RelayManager) Get(trackID string) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[trackID]
	return relay, ok
}

// StopAll stops every relay.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, relay := range relays {
		relay.markAllDelete()
		if relay.cancel != nil {
			relay.cancel()
		}
	}
}

func (m *RelayManager) remove(trackID string, relay *Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relays[trackID] == relay {
		delete(m.relays, trackID)
	}
}
