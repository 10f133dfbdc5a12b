package inspector

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/fieldlink/internal/app/capture"
	"github.com/dkeye/fieldlink/internal/domain"
)

// Scan runs detection on the open frame with an optional free-text prompt.
// When detection fails and fallback is enabled, a single whole-frame
// candidate is offered instead and the phase still becomes ready.
func (w *Workflow) Scan(ctx context.Context, prompt string) error {
	w.mu.Lock()
	if err := w.annotatingLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	switch w.phase {
	case PhaseDetecting, PhaseRecording, PhaseSaving:
		w.mu.Unlock()
		return errBusy
	}
	w.phase = PhaseDetecting
	w.warning = ""
	w.errMsg = ""
	epoch := w.epoch
	frame := w.frame
	w.mu.Unlock()

	prompt = strings.TrimSpace(prompt)
	candidates, err := w.deps.Detector.Detect(ctx, frame.Image, prompt)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch != epoch {
		w.logger.Debug().Msg("detection result dropped, workflow was reset")
		return nil
	}

	if err != nil {
		w.logger.Warn().Err(err).Str("prompt", prompt).Msg("detection failed")
		if !w.opts.DetectFallback {
			w.metrics.IncDetection("error")
			w.phase = PhaseError
			w.errMsg = "Detection failed: " + err.Error()
			return fmt.Errorf("detect: %w", err)
		}
		w.metrics.IncDetection("fallback")
		w.candidates = []domain.DetectionCandidate{{
			BBox:  domain.WholeFrame(frame.Width, frame.Height),
			Label: fallbackLabel,
		}}
		w.selected = 0
		w.phase = PhaseReady
		w.warning = "Detection unavailable, using the whole frame"
		return nil
	}

	w.metrics.IncDetection("ok")
	w.candidates = candidates
	w.selected = -1
	if len(candidates) == 1 {
		w.selected = 0
	}
	w.phase = PhaseReady
	w.logger.Info().Str("prompt", prompt).Int("candidates", len(candidates)).Msg("detection done")
	return nil
}

// Select picks candidate i. Geometry stays in native frame pixels.
func (w *Workflow) Select(i int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.annotatingLocked(); err != nil {
		return err
	}
	if w.phase != PhaseReady && w.phase != PhaseError {
		return errBusy
	}
	if i < 0 || i >= len(w.candidates) {
		return errBadIndex
	}
	w.selected = i
	return nil
}

func (w *Workflow) SetNote(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.annotatingLocked(); err != nil {
		return err
	}
	w.noteText = text
	return nil
}

// StartVoiceNote starts capturing a voice memo into the draft. It is a
// no-op while a memo is already being recorded.
func (w *Workflow) StartVoiceNote(ctx context.Context) error {
	w.mu.Lock()
	if err := w.annotatingLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	if w.rec != nil || w.phase == PhaseRecording {
		w.mu.Unlock()
		return nil
	}
	if w.phase != PhaseReady && w.phase != PhaseError {
		w.mu.Unlock()
		return errBusy
	}
	w.phase = PhaseRecording
	epoch := w.epoch
	w.mu.Unlock()

	rec, err := capture.Start(ctx, w.deps.Mic, w.opts.TempDir)

	w.mu.Lock()
	if w.epoch != epoch || (err == nil && w.phase != PhaseRecording) {
		// reset or discarded while the device was opening
		w.mu.Unlock()
		if rec != nil {
			rec.Discard()
		}
		return nil
	}
	if err != nil {
		w.phase = PhaseReady
		w.mu.Unlock()
		w.logger.Warn().Err(err).Msg("voice note start failed")
		return err
	}
	w.rec = rec
	w.mu.Unlock()
	return nil
}

// StopVoiceNote finalizes the memo and keeps it in the draft.
func (w *Workflow) StopVoiceNote() error {
	w.mu.Lock()
	rec := w.rec
	if rec == nil {
		w.mu.Unlock()
		return errNoRecording
	}
	w.rec = nil
	epoch := w.epoch
	w.mu.Unlock()

	clip, err := rec.FinishBase64()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch != epoch {
		return nil
	}
	w.phase = PhaseReady
	if err != nil {
		w.warning = "Voice note could not be encoded"
		w.logger.Error().Err(err).Msg("voice note encode failed")
		return err
	}
	w.audioClip = clip
	return nil
}

// DiscardVoiceNote drops an active or finished memo.
func (w *Workflow) DiscardVoiceNote() {
	w.mu.Lock()
	rec := w.rec
	w.rec = nil
	w.audioClip = ""
	if w.phase == PhaseRecording {
		w.phase = PhaseReady
	}
	w.mu.Unlock()
	if rec != nil {
		rec.Discard()
	}
}

// Submit persists the selected candidate with the draft note. On failure
// the candidates, selection and draft are kept so it can be retried
// without detecting again.
func (w *Workflow) Submit(ctx context.Context) (domain.EmbeddedObject, error) {
	w.mu.Lock()
	if err := w.annotatingLocked(); err != nil {
		w.mu.Unlock()
		return domain.EmbeddedObject{}, err
	}
	if w.selected < 0 || w.selected >= len(w.candidates) {
		w.mu.Unlock()
		return domain.EmbeddedObject{}, errNoSelection
	}
	if w.phase != PhaseReady && w.phase != PhaseError {
		w.mu.Unlock()
		return domain.EmbeddedObject{}, errBusy
	}
	cand := w.candidates[w.selected]
	draft := domain.EmbeddedObjectDraft{
		CaptureContext: w.cc,
		FrameImage:     w.frame.Image,
		SelectedBBox:   cand.BBox,
		Label:          cand.Label,
		NoteText:       strings.TrimSpace(w.noteText),
		AudioClip:      w.audioClip,
	}
	w.phase = PhaseSaving
	w.errMsg = ""
	epoch := w.epoch
	w.mu.Unlock()

	obj, err := w.deps.Annotator.Annotate(ctx, draft)

	w.mu.Lock()
	if w.epoch != epoch {
		w.mu.Unlock()
		return obj, err
	}
	if err != nil {
		w.phase = PhaseError
		w.errMsg = "Save failed: " + err.Error()
		w.mu.Unlock()
		w.metrics.IncAnnotation("error")
		w.logger.Error().Err(err).Str("label", draft.Label).Msg("submit failed")
		return domain.EmbeddedObject{}, err
	}
	rec := w.resetLocked()
	w.open = false
	w.frame = domain.Frame{}
	w.cc = domain.CaptureContext{}
	w.phase = PhaseClosed
	w.mu.Unlock()

	if rec != nil {
		rec.Discard()
	}
	w.metrics.IncAnnotation("ok")
	w.logger.Info().Str("object_id", obj.ID).Str("label", obj.Label).Msg("object embedded")
	if w.opts.OnSaved != nil {
		w.opts.OnSaved(obj)
	}
	return obj, nil
}

func (w *Workflow) annotatingLocked() error {
	if !w.open {
		return errNotOpen
	}
	if w.mode != ModeNew {
		return errWrongMode
	}
	return nil
}
