package inspector

import (
	"context"
	"sort"
)

// EnterDetect switches to similarity mode and immediately looks up the best
// matches for the open frame. Failures and empty answers both yield an
// empty list.
func (w *Workflow) EnterDetect(ctx context.Context) error {
	w.mu.Lock()
	if !w.open {
		w.mu.Unlock()
		return errNotOpen
	}
	if w.mode != ModeMenu && w.mode != ModeDetect {
		w.mu.Unlock()
		return errModeActive
	}
	w.mode = ModeDetect
	w.phase = PhaseIdle
	w.similar = nil
	w.searching = true
	epoch := w.epoch
	q := w.similarQueryLocked()
	w.mu.Unlock()

	results, err := w.deps.Similar.Similar(ctx, q)
	if err != nil {
		w.logger.Warn().Err(err).Msg("similarity search failed")
		w.metrics.IncSimilar("error")
		results = nil
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}
	if err == nil {
		if len(results) == 0 {
			w.metrics.IncSimilar("empty")
		} else {
			w.metrics.IncSimilar("hit")
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch != epoch || w.mode != ModeDetect {
		return nil
	}
	w.similar = results
	w.searching = false
	return nil
}
