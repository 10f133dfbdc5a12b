// Package streams derives the {identity -> tracks} view from the live session.
package streams

import (
	"sort"
	"sync"

	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/domain"
	"github.com/dkeye/fieldlink/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Entry is the unit the registry publishes for one joined participant.
// Video and Audio stay nil until a usable track exists.
type Entry struct {
	Participant domain.Participant
	Video       core.TrackRef
	Audio       core.TrackRef
}

// Snapshot is immutable once published.
type Snapshot map[domain.Identity]Entry

// Identities returns the snapshot keys in sorted order.
func (s Snapshot) Identities() []domain.Identity {
	ids := make([]domain.Identity, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type Registry struct {
	mu      sync.RWMutex
	current Snapshot
	subs    map[int]chan Snapshot
	nextSub int

	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		current: Snapshot{},
		subs:    make(map[int]chan Snapshot),
		metrics: m,
	}
}

// Rebuild reads the source's full roster and replaces the published map.
// It never consults the previous snapshot.
func (r *Registry) Rebuild(src core.ParticipantSource) Snapshot {
	next := Snapshot{}
	if src != nil {
		for _, rp := range src.RemoteParticipants() {
			next[rp.Participant.Identity] = pick(rp)
		}
	}
	r.publish(next)
	log.Debug().Str("module", "streams").Int("entries", len(next)).Msg("registry rebuilt")
	return next
}

// Clear publishes an empty map.
func (r *Registry) Clear() {
	r.publish(Snapshot{})
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Subscribe delivers every new snapshot, starting with the current one.
// Slow subscribers only ever see the latest map.
func (r *Registry) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.current
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			close(ch)
			r.mu.Unlock()
		})
	}
	return ch, cancel
}

func (r *Registry) publish(next Snapshot) {
	r.mu.Lock()
	r.current = next
	for _, ch := range r.subs {
		// drop the stale pending snapshot, keep the newest
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	r.mu.Unlock()
	r.metrics.ObserveRebuild(len(next))
}

// pick chooses at most one usable audio and one usable video track.
func pick(rp core.RemoteParticipant) Entry {
	e := Entry{Participant: rp.Participant}
	for _, pub := range rp.Publications {
		if !pub.Usable() {
			continue
		}
		switch pub.Kind {
		case domain.TrackVideo:
			if e.Video == nil {
				e.Video = pub.Track
			}
		case domain.TrackAudio:
			if e.Audio == nil {
				e.Audio = pub.Track
			}
		}
	}
	return e
}
