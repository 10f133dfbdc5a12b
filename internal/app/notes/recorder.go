// Package notes records voice notes tied to a (site, feed, worker) triple.
package notes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/fieldlink/internal/app/capture"
	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/domain"
	"github.com/dkeye/fieldlink/internal/metrics"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRecording Phase = "recording"
	PhaseSaving    Phase = "saving"
	PhaseError     Phase = "error"
)

type State struct {
	Phase   Phase                 `json:"phase"`
	Error   string                `json:"error,omitempty"`
	Context domain.CaptureContext `json:"context"`
	Last    *domain.Note          `json:"last,omitempty"`
}

type Options struct {
	// SavedDelay is how long "saving" stays visible after a successful save.
	SavedDelay time.Duration
	TempDir    string
	// OnSaved runs after a note was persisted.
	OnSaved func(domain.Note)
}

type Recorder struct {
	mic     core.Microphone
	store   core.NoteStore
	opts    Options
	metrics *metrics.Metrics

	mu    sync.Mutex
	phase Phase
	err   string
	cc    domain.CaptureContext
	rec   *capture.Recording
	last  *domain.Note
	timer *time.Timer
	// gen ties a pending saving->idle timer to the save that armed it.
	gen uint64
}

func NewRecorder(mic core.Microphone, store core.NoteStore, opts Options, m *metrics.Metrics) *Recorder {
	return &Recorder{mic: mic, store: store, opts: opts, metrics: m, phase: PhaseIdle}
}

// Start begins a recording for cc. Starting while a recording is active
// is a no-op.
func (r *Recorder) Start(ctx context.Context, cc domain.CaptureContext) error {
	if r.mic == nil {
		return fmt.Errorf("%w: audio capture not supported", domain.ErrCapability)
	}
	if !cc.Complete() {
		return fmt.Errorf("%w: feed, site and worker are required", domain.ErrPrecondition)
	}

	r.mu.Lock()
	if r.phase == PhaseRecording || (r.phase == PhaseSaving && r.rec != nil) {
		r.mu.Unlock()
		return nil
	}
	stale := r.rec
	r.rec = nil
	r.stopTimerLocked()
	r.mu.Unlock()

	if stale != nil {
		stale.Discard()
	}

	rec, err := capture.Start(ctx, r.mic, r.opts.TempDir)
	if err != nil {
		r.setError(err.Error())
		return err
	}

	r.mu.Lock()
	if r.rec != nil {
		// lost a race with a concurrent Start
		r.mu.Unlock()
		rec.Discard()
		return nil
	}
	r.rec = rec
	r.cc = cc
	r.phase = PhaseRecording
	r.err = ""
	r.mu.Unlock()

	log.Info().Str("module", "notes").Str("feed", cc.FeedID).Str("worker", string(cc.WorkerIdentity)).Msg("note recording started")
	return nil
}

// Stop finalizes the active recording and submits it. The device is
// released whatever the outcome.
func (r *Recorder) Stop(ctx context.Context) (domain.Note, error) {
	r.mu.Lock()
	if r.phase != PhaseRecording || r.rec == nil {
		r.mu.Unlock()
		return domain.Note{}, fmt.Errorf("%w: not recording", domain.ErrPrecondition)
	}
	rec := r.rec
	cc := r.cc
	r.phase = PhaseSaving
	r.mu.Unlock()

	note, err := r.submit(ctx, rec, cc)

	r.mu.Lock()
	if r.rec == rec {
		r.rec = nil
	}
	if err != nil {
		r.phase = PhaseError
		r.err = err.Error()
		r.mu.Unlock()
		r.metrics.IncNote("error")
		log.Error().Err(err).Str("module", "notes").Msg("note save failed")
		return domain.Note{}, err
	}
	r.last = &note
	r.gen++
	gen := r.gen
	r.stopTimerLocked()
	r.timer = time.AfterFunc(r.opts.SavedDelay, func() { r.settle(gen) })
	r.mu.Unlock()

	r.metrics.IncNote("ok")
	log.Info().Str("module", "notes").Str("note_id", note.ID).Msg("note saved")
	if r.opts.OnSaved != nil {
		r.opts.OnSaved(note)
	}
	return note, nil
}

func (r *Recorder) submit(ctx context.Context, rec *capture.Recording, cc domain.CaptureContext) (domain.Note, error) {
	clip, err := rec.FinishBase64()
	if err != nil {
		return domain.Note{}, err
	}
	return r.store.CreateNote(ctx, domain.NoteDraft{CaptureContext: cc, AudioClip: clip})
}

func (r *Recorder) settle(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen && r.phase == PhaseSaving {
		r.phase = PhaseIdle
	}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{Phase: r.phase, Error: r.err, Context: r.cc, Last: r.last}
}

// Close tears down any active capture and returns to idle.
func (r *Recorder) Close() {
	r.mu.Lock()
	rec := r.rec
	r.rec = nil
	r.stopTimerLocked()
	r.phase = PhaseIdle
	r.err = ""
	r.mu.Unlock()
	if rec != nil {
		rec.Discard()
	}
}

func (r *Recorder) setError(msg string) {
	r.mu.Lock()
	r.phase = PhaseError
	r.err = msg
	r.mu.Unlock()
}

func (r *Recorder) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
