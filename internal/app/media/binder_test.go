package media

import (
	"sync"
	"testing"

	"github.com/dkeye/fieldlink/internal/core/coretest"
	"github.com/dkeye/fieldlink/internal/domain"
	"github.com/pion/rtp"
)

type countingSink struct {
	mu sync.Mutex
	n  int
}

func (s *countingSink) WriteRTP(*rtp.Packet) error {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return nil
}

func TestBindReplacesPrevious(t *testing.T) {
	sink := &countingSink{}
	b := NewBinder(sink)
	t1 := coretest.NewTrack("t1", domain.TrackVideo)
	t2 := coretest.NewTrack("t2", domain.TrackVideo)

	dispose1 := b.Bind(t1)
	if t1.Attached() != 1 {
		t.Fatal("t1 not attached")
	}
	b.Bind(t2)
	if t1.Attached() != 0 || t2.Attached() != 1 {
		t.Fatalf("attached t1=%d t2=%d", t1.Attached(), t2.Attached())
	}

	// a stale disposer must not detach the newer binding
	dispose1()
	if t2.Attached() != 1 || b.Current() != t2 {
		t.Fatal("stale disposer detached the current binding")
	}

	t2.Push(&rtp.Packet{})
	if sink.n != 1 {
		t.Fatalf("sink got %d packets, want 1", sink.n)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	b := NewBinder(&countingSink{})
	tr := coretest.NewTrack("a", domain.TrackAudio)
	dispose := b.Bind(tr)
	dispose()
	dispose()
	if tr.Attached() != 0 || b.Current() != nil {
		t.Fatal("binding survived dispose")
	}
	b.Close()
}

func TestCloseDetaches(t *testing.T) {
	b := NewBinder(&countingSink{})
	tr := coretest.NewTrack("a", domain.TrackAudio)
	b.Bind(tr)
	b.Close()
	if tr.Attached() != 0 {
		t.Fatal("close left track attached")
	}
}

func TestConcurrentBindsLeaveOneAttached(t *testing.T) {
	b := NewBinder(&countingSink{})
	tracks := make([]*coretest.Track, 8)
	for i := range tracks {
		tracks[i] = coretest.NewTrack(string(rune('a'+i)), domain.TrackVideo)
	}

	for round := 0; round < 50; round++ {
		var wg sync.WaitGroup
		for _, tr := range tracks {
			wg.Add(1)
			go func(tr *coretest.Track) {
				defer wg.Done()
				b.Bind(tr)
			}(tr)
		}
		wg.Wait()

		attached := 0
		for _, tr := range tracks {
			attached += tr.Attached()
		}
		if attached != 1 {
			t.Fatalf("round %d: %d tracks attached to one sink", round, attached)
		}
		if cur := b.Current(); cur == nil || cur.(*coretest.Track).Attached() != 1 {
			t.Fatalf("round %d: current binding is not the attached track", round)
		}
	}
}
