package relay

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/dkeye/fieldlink/internal/core/coretest"
	"github.com/dkeye/fieldlink/internal/domain"
)

func worker(id string, tracks ...trackInfo) participantInfo {
	return participantInfo{Identity: domain.Identity(id), Name: id, MicEnabled: true, Tracks: tracks}
}

func TestRosterSkipsLocalIdentity(t *testing.T) {
	r := newRoster("manager")
	r.reset([]participantInfo{worker("manager"), worker("site-1/w1")})
	if r.join(worker("manager")) {
		t.Fatal("local join must be ignored")
	}
	got := r.snapshot()
	if len(got) != 1 || got[0].Participant.Identity != "site-1/w1" {
		t.Fatalf("unexpected roster: %+v", got)
	}
}

func TestRosterSubscribeAfterPublish(t *testing.T) {
	r := newRoster("manager")
	r.join(worker("w1"))
	if !r.publish("w1", trackInfo{TrackID: "TR_v", Kind: domain.TrackVideo}) {
		t.Fatal("publish failed")
	}
	track := coretest.NewTrack("TR_v", domain.TrackVideo)
	if !r.subscribe("w1", track) {
		t.Fatal("subscribe failed")
	}
	pubs := r.snapshot()[0].Publications
	if len(pubs) != 1 || !pubs[0].Usable() {
		t.Fatalf("expected usable publication, got %+v", pubs)
	}
}

func TestRosterTrackBeforePublication(t *testing.T) {
	r := newRoster("manager")
	track := coretest.NewTrack("TR_a", domain.TrackAudio)
	if r.subscribe("w1", track) {
		t.Fatal("subscribe without participant must park the track")
	}
	r.join(worker("w1", trackInfo{TrackID: "TR_a", Kind: domain.TrackAudio}))
	pubs := r.snapshot()[0].Publications
	if len(pubs) != 1 || pubs[0].Track == nil {
		t.Fatalf("orphan track not adopted: %+v", pubs)
	}
}

func TestRosterMuteTracksMic(t *testing.T) {
	r := newRoster("manager")
	r.join(worker("w1", trackInfo{TrackID: "TR_a", Kind: domain.TrackAudio}))
	if !r.setMuted("w1", "TR_a", true) {
		t.Fatal("setMuted failed")
	}
	p := r.snapshot()[0]
	if p.Participant.MicEnabled || !p.Publications[0].Muted {
		t.Fatalf("mute not applied: %+v", p)
	}
	if r.setMuted("w1", "nope", true) {
		t.Fatal("unknown track must report false")
	}
}

func TestRosterLeaveReturnsSubscribed(t *testing.T) {
	r := newRoster("manager")
	r.join(worker("w1",
		trackInfo{TrackID: "TR_v", Kind: domain.TrackVideo},
		trackInfo{TrackID: "TR_a", Kind: domain.TrackAudio}))
	r.subscribe("w1", coretest.NewTrack("TR_v", domain.TrackVideo))

	ids, ok := r.leave("w1")
	if !ok || len(ids) != 1 || ids[0] != "TR_v" {
		t.Fatalf("leave = %v, %v", ids, ok)
	}
	if _, ok := r.leave("w1"); ok {
		t.Fatal("second leave must report false")
	}
}

func TestRosterResetKeepsLiveTracks(t *testing.T) {
	r := newRoster("manager")
	r.join(worker("w1", trackInfo{TrackID: "TR_v", Kind: domain.TrackVideo}))
	r.join(worker("w2", trackInfo{TrackID: "TR_x", Kind: domain.TrackVideo}))
	r.subscribe("w1", coretest.NewTrack("TR_v", domain.TrackVideo))
	r.subscribe("w2", coretest.NewTrack("TR_x", domain.TrackVideo))

	gone := r.reset([]participantInfo{worker("w1", trackInfo{TrackID: "TR_v", Kind: domain.TrackVideo})})
	if len(gone) != 1 || gone[0] != "TR_x" {
		t.Fatalf("gone = %v", gone)
	}
	snap := r.snapshot()
	if len(snap) != 1 || snap[0].Publications[0].Track == nil {
		t.Fatalf("live track lost across reset: %+v", snap)
	}
}

func TestRosterUnpublishAndUnsubscribe(t *testing.T) {
	r := newRoster("manager")
	r.join(worker("w1", trackInfo{TrackID: "TR_v", Kind: domain.TrackVideo}))
	r.subscribe("w1", coretest.NewTrack("TR_v", domain.TrackVideo))

	who, ok := r.unsubscribe("TR_v")
	if !ok || who != "w1" {
		t.Fatalf("unsubscribe = %q, %v", who, ok)
	}
	subscribed, ok := r.unpublish("w1", "TR_v")
	if !ok || subscribed {
		t.Fatalf("unpublish = %v, %v", subscribed, ok)
	}
	if len(r.snapshot()[0].Publications) != 0 {
		t.Fatal("publication still listed")
	}
}

func TestRosterSnapshotSorted(t *testing.T) {
	r := newRoster("manager")
	r.join(worker("b"))
	r.join(worker("a"))
	snap := r.snapshot()
	if snap[0].Participant.Identity != "a" || snap[1].Participant.Identity != "b" {
		t.Fatalf("not sorted: %+v", snap)
	}
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
