package rtc

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
)

func newConn(t *testing.T, identity string) *WebRTCConnection {
	t.Helper()
	c, err := NewWebRTCConnection(webrtc.Configuration{}, identity)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	c := newConn(t, "manager")
	if err := c.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"}); err != nil {
		t.Fatalf("queued candidate must not fail: %v", err)
	}
	c.mu.Lock()
	n := len(c.pendingICE)
	c.mu.Unlock()
	if n != 1 {
		t.Fatalf("pending = %d", n)
	}
}

func TestOfferAnswerLoopback(t *testing.T) {
	offerer := newConn(t, "manager")
	answerer := newConn(t, "relay")

	if err := offerer.AddRecvTransceiver(webrtc.RTPCodecTypeVideo); err != nil {
		t.Fatal(err)
	}
	mic, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "microphone", "manager")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := offerer.AddLocalTrack(mic); err != nil {
		t.Fatal(err)
	}

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatal(err)
	}
	answer, err := answerer.ApplyOfferAndCreateAnswer(*offer)
	if err != nil {
		t.Fatal(err)
	}
	if err := offerer.ApplyAnswer(*answer); err != nil {
		t.Fatal(err)
	}
	if offerer.pc.RemoteDescription() == nil {
		t.Fatal("remote description not set")
	}
}

func TestCloseFiresOnce(t *testing.T) {
	c, err := NewWebRTCConnection(webrtc.Configuration{}, "manager")
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	c.OnClosed(func() { calls++ })
	c.Close()
	c.Close()
	if calls != 1 {
		t.Fatalf("closed fired %d times", calls)
	}
}
