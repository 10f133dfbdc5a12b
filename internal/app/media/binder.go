// Package media binds live tracks to rendering sinks.
package media

import (
	"sync"

	"github.com/dkeye/fieldlink/internal/core"
	"github.com/rs/zerolog/log"
)

// Binder holds at most one track attached to its sink.
type Binder struct {
	sink core.RTPSink

	mu      sync.Mutex
	current *binding
}

type binding struct {
	track  core.TrackRef
	detach func()
	once   sync.Once
}

func (b *binding) release() {
	b.once.Do(b.detach)
}

func NewBinder(sink core.RTPSink) *Binder {
	return &Binder{sink: sink}
}

// Bind detaches the previous track and attaches track. The returned
// disposer is idempotent and only ever detaches this binding.
// Binding nil just clears the sink.
func (b *Binder) Bind(track core.TrackRef) (dispose func()) {
	// attach and swap under one lock so overlapping binds leave one track
	b.mu.Lock()
	prev := b.current
	var nb *binding
	if track != nil {
		nb = &binding{track: track, detach: track.Attach(b.sink)}
	}
	b.current = nb
	b.mu.Unlock()
	if prev != nil {
		prev.release()
	}
	if nb == nil {
		return func() {}
	}

	log.Debug().Str("module", "media").Str("track_id", track.ID()).Str("kind", string(track.Kind())).Msg("track bound")

	return func() {
		b.mu.Lock()
		if b.current == nb {
			b.current = nil
		}
		b.mu.Unlock()
		nb.release()
	}
}

// Current returns the bound track or nil.
func (b *Binder) Current() core.TrackRef {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	return b.current.track
}

// Close detaches whatever is bound.
func (b *Binder) Close() {
	b.Bind(nil)
}
