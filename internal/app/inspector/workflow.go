// Package inspector runs the frame-annotation workflow: detect objects on a
// captured frame, pick one, attach a note and persist it, or look up similar
// objects that were embedded before.
package inspector

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/fieldlink/internal/app/capture"
	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/domain"
	"github.com/dkeye/fieldlink/internal/metrics"
)

type Mode string

const (
	ModeMenu   Mode = ""
	ModeNew    Mode = "new"
	ModeDetect Mode = "detect"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseDetecting Phase = "detecting"
	PhaseReady     Phase = "ready"
	PhaseRecording Phase = "recording"
	PhaseSaving    Phase = "saving"
	PhaseClosed    Phase = "closed"
	PhaseError     Phase = "error"
)

const fallbackLabel = "object"

type Deps struct {
	Detector  core.Detector
	Annotator core.Annotator
	Similar   core.SimilaritySearcher
	// Mic may be nil when audio capture is unsupported.
	Mic core.Microphone
}

type Options struct {
	// DetectFallback substitutes a whole-frame candidate when detection fails.
	DetectFallback   bool
	SimilarTopK      int
	SimilarThreshold float64
	TempDir          string
	OnSaved          func(domain.EmbeddedObject)
}

// State is a copy of the workflow for rendering.
type State struct {
	Open        bool                        `json:"open"`
	Mode        Mode                        `json:"mode"`
	Phase       Phase                       `json:"phase"`
	Context     domain.CaptureContext       `json:"context"`
	FrameWidth  int                         `json:"frame_width"`
	FrameHeight int                         `json:"frame_height"`
	Candidates  []domain.DetectionCandidate `json:"candidates"`
	Selected    int                         `json:"selected"`
	NoteText    string                      `json:"note_text,omitempty"`
	HasAudio    bool                        `json:"has_audio"`
	Warning     string                      `json:"warning,omitempty"`
	Error       string                      `json:"error,omitempty"`
	Similar     []domain.SimilarResult      `json:"similar"`
	Searching   bool                        `json:"searching"`
}

type Workflow struct {
	deps    Deps
	opts    Options
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu         sync.Mutex
	open       bool
	frame      domain.Frame
	cc         domain.CaptureContext
	mode       Mode
	phase      Phase
	candidates []domain.DetectionCandidate
	selected   int
	noteText   string
	audioClip  string
	rec        *capture.Recording
	warning    string
	errMsg     string
	similar    []domain.SimilarResult
	searching  bool
	// epoch changes on every reset; results of calls started under an
	// older epoch are dropped.
	epoch uint64
}

func New(deps Deps, opts Options, m *metrics.Metrics) *Workflow {
	if opts.SimilarTopK <= 0 {
		opts.SimilarTopK = 1
	}
	return &Workflow{
		deps:     deps,
		opts:     opts,
		metrics:  m,
		logger:   log.With().Str("module", "inspector").Logger(),
		phase:    PhaseClosed,
		selected: -1,
	}
}

// Open loads a captured frame for cc and shows the mode menu. Anything
// left from a previous frame is discarded.
func (w *Workflow) Open(frame domain.Frame, cc domain.CaptureContext) {
	frame.Image = domain.StripDataURI(frame.Image)
	if width, height, err := frame.NaturalSize(); err == nil {
		frame.Width, frame.Height = width, height
	} else {
		w.logger.Warn().Err(err).Msg("frame size unknown")
	}

	w.mu.Lock()
	rec := w.resetLocked()
	w.open = true
	w.frame = frame
	w.cc = cc
	w.phase = PhaseIdle
	w.mu.Unlock()

	if rec != nil {
		rec.Discard()
	}
	w.logger.Info().Str("feed", cc.FeedID).Str("worker", string(cc.WorkerIdentity)).Int("width", frame.Width).Int("height", frame.Height).Msg("frame opened")
}

// EnterNew switches to the detect-select-annotate mode.
func (w *Workflow) EnterNew() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return errNotOpen
	}
	if w.mode == ModeNew {
		return nil
	}
	if w.mode != ModeMenu {
		return errModeActive
	}
	w.mode = ModeNew
	w.phase = PhaseIdle
	return nil
}

// Back returns to the mode menu, dropping all ephemeral state but keeping the frame.
func (w *Workflow) Back() {
	w.mu.Lock()
	if !w.open {
		w.mu.Unlock()
		return
	}
	rec := w.resetLocked()
	w.phase = PhaseIdle
	w.mu.Unlock()
	if rec != nil {
		rec.Discard()
	}
}

// Close discards the frame and every piece of ephemeral state.
func (w *Workflow) Close() {
	w.mu.Lock()
	rec := w.resetLocked()
	w.open = false
	w.frame = domain.Frame{}
	w.cc = domain.CaptureContext{}
	w.phase = PhaseClosed
	w.mu.Unlock()
	if rec != nil {
		rec.Discard()
	}
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return State{
		Open:        w.open,
		Mode:        w.mode,
		Phase:       w.phase,
		Context:     w.cc,
		FrameWidth:  w.frame.Width,
		FrameHeight: w.frame.Height,
		Candidates:  append([]domain.DetectionCandidate(nil), w.candidates...),
		Selected:    w.selected,
		NoteText:    w.noteText,
		HasAudio:    w.audioClip != "",
		Warning:     w.warning,
		Error:       w.errMsg,
		Similar:     append([]domain.SimilarResult(nil), w.similar...),
		Searching:   w.searching,
	}
}

// resetLocked clears ephemeral state and hands back a recording the
// caller must discard outside the lock.
func (w *Workflow) resetLocked() *capture.Recording {
	rec := w.rec
	w.epoch++
	w.mode = ModeMenu
	w.candidates = nil
	w.selected = -1
	w.noteText = ""
	w.audioClip = ""
	w.rec = nil
	w.warning = ""
	w.errMsg = ""
	w.similar = nil
	w.searching = false
	return rec
}

func (w *Workflow) similarQueryLocked() domain.SimilarQuery {
	return domain.SimilarQuery{
		FrameImage:     w.frame.Image,
		WorkerIdentity: w.cc.WorkerIdentity,
		FeedID:         w.cc.FeedID,
		TopK:           w.opts.SimilarTopK,
		Threshold:      w.opts.SimilarThreshold,
	}
}
