package notes

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/fieldlink/internal/core/coretest"
	"github.com/dkeye/fieldlink/internal/domain"
)

type fakeStore struct {
	mu     sync.Mutex
	err    error
	drafts []domain.NoteDraft
}

func (s *fakeStore) CreateNote(_ context.Context, d domain.NoteDraft) (domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts = append(s.drafts, d)
	if s.err != nil {
		return domain.Note{}, s.err
	}
	return domain.Note{ID: "n1", FeedID: d.FeedID, SiteID: d.SiteID, WorkerIdentity: d.WorkerIdentity, AudioClip: d.AudioClip}, nil
}

var site1 = domain.CaptureContext{FeedID: "feed-1", SiteID: "site-1", WorkerIdentity: "w1"}

func TestStartWithoutMicrophone(t *testing.T) {
	r := NewRecorder(nil, &fakeStore{}, Options{}, nil)
	if err := r.Start(context.Background(), site1); !errors.Is(err, domain.ErrCapability) {
		t.Fatalf("err = %v, want capability", err)
	}
}

func TestStartIncompleteContext(t *testing.T) {
	mic := &coretest.Microphone{}
	r := NewRecorder(mic, &fakeStore{}, Options{}, nil)
	err := r.Start(context.Background(), domain.CaptureContext{FeedID: "f", SiteID: "s"})
	if !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}
	if mic.Opened() != 0 {
		t.Fatal("microphone opened despite missing context")
	}
}

func TestRestartWhileRecordingIsNoop(t *testing.T) {
	mic := &coretest.Microphone{Frames: [][]int{{1, 2, 3}}}
	r := NewRecorder(mic, &fakeStore{}, Options{TempDir: t.TempDir()}, nil)
	ctx := context.Background()

	if err := r.Start(ctx, site1); err != nil {
		t.Fatal(err)
	}
	other := domain.CaptureContext{FeedID: "feed-2", SiteID: "site-1", WorkerIdentity: "w2"}
	if err := r.Start(ctx, other); err != nil {
		t.Fatal(err)
	}
	if mic.Opened() != 1 {
		t.Fatalf("opened = %d, want 1", mic.Opened())
	}
	if r.State().Context != site1 {
		t.Fatal("second start replaced the active context")
	}
	r.Close()
	if mic.Live() != 0 {
		t.Fatal("close did not release the microphone")
	}
}

func TestStopSubmitsAndSettles(t *testing.T) {
	mic := &coretest.Microphone{Frames: [][]int{{10, 20}, {30}}}
	store := &fakeStore{}
	var saved []domain.Note
	r := NewRecorder(mic, store, Options{
		SavedDelay: 10 * time.Millisecond,
		TempDir:    t.TempDir(),
		OnSaved:    func(n domain.Note) { saved = append(saved, n) },
	}, nil)
	ctx := context.Background()

	if err := r.Start(ctx, site1); err != nil {
		t.Fatal(err)
	}
	note, err := r.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if note.ID != "n1" || len(saved) != 1 {
		t.Fatalf("note = %+v saved = %d", note, len(saved))
	}
	if mic.Live() != 0 {
		t.Fatal("microphone not released")
	}

	d := store.drafts[0]
	if d.CaptureContext != site1 {
		t.Fatalf("draft context = %+v", d.CaptureContext)
	}
	if _, err := base64.StdEncoding.DecodeString(d.AudioClip); err != nil || d.AudioClip == "" {
		t.Fatalf("audio clip not base64: %v", err)
	}

	if r.State().Phase != PhaseSaving {
		t.Fatalf("phase = %s, want saving", r.State().Phase)
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.State().Phase != PhaseIdle {
		if time.Now().After(deadline) {
			t.Fatal("never returned to idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopFailureKeepsMessage(t *testing.T) {
	mic := &coretest.Microphone{Frames: [][]int{{1}}}
	store := &fakeStore{err: errors.New("persistence down")}
	r := NewRecorder(mic, store, Options{TempDir: t.TempDir()}, nil)
	ctx := context.Background()

	if err := r.Start(ctx, site1); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Stop(ctx); err == nil {
		t.Fatal("expected error")
	}
	st := r.State()
	if st.Phase != PhaseError || st.Error == "" {
		t.Fatalf("state = %+v", st)
	}
	if mic.Live() != 0 {
		t.Fatal("microphone not released after failure")
	}

	// a new recording may start from the error phase
	if err := r.Start(ctx, site1); err != nil {
		t.Fatal(err)
	}
	if r.State().Phase != PhaseRecording {
		t.Fatalf("phase = %s", r.State().Phase)
	}
	r.Close()
}

func TestStopWhenIdle(t *testing.T) {
	r := NewRecorder(&coretest.Microphone{}, &fakeStore{}, Options{}, nil)
	if _, err := r.Stop(context.Background()); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("err = %v", err)
	}
}
