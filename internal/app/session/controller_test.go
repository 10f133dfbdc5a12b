package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/fieldlink/internal/app/streams"
	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/core/coretest"
	"github.com/dkeye/fieldlink/internal/domain"
)

func newTestController(tokens *coretest.Tokens, dialer *coretest.Dialer) (*Controller, *streams.Registry) {
	reg := streams.NewRegistry(nil)
	c := NewController(tokens, dialer, func(src core.ParticipantSource) { reg.Rebuild(src) }, reg.Clear, nil)
	return c, reg
}

func TestConnectEmptyRoomIsNoop(t *testing.T) {
	tokens := &coretest.Tokens{URL: "ws://relay"}
	c, _ := newTestController(tokens, &coretest.Dialer{})
	if err := c.Connect(context.Background(), "", "manager", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if tokens.Calls() != 0 {
		t.Fatal("token requested for empty room")
	}
	if c.State() != domain.StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}
}

func TestConnectSite1Scenario(t *testing.T) {
	sess := coretest.NewSession("manager")
	dialer := &coretest.Dialer{Sessions: []*coretest.Session{sess}}
	c, reg := newTestController(&coretest.Tokens{URL: "ws://relay"}, dialer)

	if err := c.Connect(context.Background(), "site-1", "manager", "Manager"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != domain.StateConnected {
		t.Fatalf("state = %s, want connected", c.State())
	}
	if dialer.Calls[0].Token != "tok-manager" || dialer.Calls[0].URL != "ws://relay" || dialer.Calls[0].Room != "site-1" {
		t.Fatalf("unexpected dial: %+v", dialer.Calls[0])
	}

	sess.Join("w1", "Worker 1")
	sess.Publish("w1", coretest.NewTrack("cam", domain.TrackVideo))

	snap := reg.Snapshot()
	if len(snap) != 1 || snap["w1"].Video == nil || snap["w1"].Audio != nil {
		t.Fatalf("snapshot = %+v", snap)
	}

	sess.Unpublish("w1", "cam")
	if e, ok := reg.Snapshot()["w1"]; !ok || e.Video != nil {
		t.Fatalf("after unpublish: %+v ok=%v", e, ok)
	}

	sess.Leave("w1")
	if len(reg.Snapshot()) != 0 {
		t.Fatal("entry should be removed after leave")
	}
}

func TestConnectTokenFailure(t *testing.T) {
	c, _ := newTestController(&coretest.Tokens{Err: errors.New("503")}, &coretest.Dialer{})
	err := c.Connect(context.Background(), "site-1", "manager", "")
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("err = %v, want transport", err)
	}
	st := c.Status()
	if st.State != domain.StateDisconnected || st.LastError == "" {
		t.Fatalf("status = %+v", st)
	}
}

func TestConnectDialFailure(t *testing.T) {
	c, _ := newTestController(&coretest.Tokens{URL: "ws://relay"}, &coretest.Dialer{Err: coretest.ErrDial})
	if err := c.Connect(context.Background(), "site-1", "manager", ""); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("err = %v", err)
	}
	if c.State() != domain.StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}
	if c.ActiveSession() != nil {
		t.Fatal("no session expected")
	}
}

func TestPublicURLOverridesToken(t *testing.T) {
	dialer := &coretest.Dialer{Sessions: []*coretest.Session{coretest.NewSession("m")}}
	c, _ := newTestController(&coretest.Tokens{URL: "ws://internal:7880"}, dialer)
	c.PublicURL = "wss://relay.example"
	if err := c.Connect(context.Background(), "site-1", "m", ""); err != nil {
		t.Fatal(err)
	}
	if dialer.Calls[0].URL != "wss://relay.example" {
		t.Fatalf("url = %s", dialer.Calls[0].URL)
	}
}

func TestReconnectTearsDownPrevious(t *testing.T) {
	first := coretest.NewSession("m")
	second := coretest.NewSession("m")
	dialer := &coretest.Dialer{Sessions: []*coretest.Session{first, second}}
	c, reg := newTestController(&coretest.Tokens{URL: "ws://relay"}, dialer)

	ctx := context.Background()
	if err := c.Connect(ctx, "site-1", "m", ""); err != nil {
		t.Fatal(err)
	}
	first.Join("w1", "")
	if err := c.Connect(ctx, "site-2", "m", ""); err != nil {
		t.Fatal(err)
	}
	if !first.Closed() {
		t.Fatal("previous session not closed")
	}
	if len(reg.Snapshot()) != 0 {
		t.Fatal("stale entries survived reconnect")
	}

	// events from the superseded session are ignored
	first.Join("w9", "")
	if _, ok := reg.Snapshot()["w9"]; ok {
		t.Fatal("stale session event was applied")
	}
	if c.Status().Room != "site-2" {
		t.Fatalf("room = %s", c.Status().Room)
	}
}

func TestConnectionStateEvents(t *testing.T) {
	sess := coretest.NewSession("m")
	c, reg := newTestController(&coretest.Tokens{URL: "ws://relay"}, &coretest.Dialer{Sessions: []*coretest.Session{sess}})

	var seen []domain.ConnectionState
	c.OnStateChange(func(s Status) { seen = append(seen, s.State) })

	if err := c.Connect(context.Background(), "site-1", "m", ""); err != nil {
		t.Fatal(err)
	}
	sess.Join("w1", "")

	sess.Emit(core.RelayEvent{Type: core.EventReconnecting})
	if c.State() != domain.StateReconnecting {
		t.Fatalf("state = %s, want reconnecting", c.State())
	}
	if c.ActiveSession() == nil {
		t.Fatal("session should stay available while reconnecting")
	}
	sess.Emit(core.RelayEvent{Type: core.EventConnected})
	if c.State() != domain.StateConnected {
		t.Fatalf("state = %s, want connected", c.State())
	}

	sess.Emit(core.RelayEvent{Type: core.EventDisconnected})
	if c.State() != domain.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", c.State())
	}
	if len(reg.Snapshot()) != 0 {
		t.Fatal("registry not cleared on relay disconnect")
	}

	want := []domain.ConnectionState{
		domain.StateConnecting,
		domain.StateConnected,
		domain.StateReconnecting,
		domain.StateConnected,
		domain.StateDisconnected,
	}
	if len(seen) != len(want) {
		t.Fatalf("observed %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("observed %v, want %v", seen, want)
		}
	}
}

func TestDisconnect(t *testing.T) {
	sess := coretest.NewSession("m")
	c, reg := newTestController(&coretest.Tokens{URL: "ws://relay"}, &coretest.Dialer{Sessions: []*coretest.Session{sess}})
	if err := c.Connect(context.Background(), "site-1", "m", ""); err != nil {
		t.Fatal(err)
	}
	sess.Join("w1", "")

	c.Disconnect()
	if !sess.Closed() {
		t.Fatal("session not closed")
	}
	if c.State() != domain.StateDisconnected || len(reg.Snapshot()) != 0 {
		t.Fatalf("state=%s entries=%d", c.State(), len(reg.Snapshot()))
	}
	sess.Join("w2", "")
	if len(reg.Snapshot()) != 0 {
		t.Fatal("event after disconnect was applied")
	}
}

func TestDisconnectWaitsForInflightRebuild(t *testing.T) {
	sess := coretest.NewSession("m")
	reg := streams.NewRegistry(nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	rebuild := func(src core.ParticipantSource) {
		calls++
		if calls == 2 {
			// the roster was read for w1; hold the publish
			close(entered)
			<-release
		}
		reg.Rebuild(src)
	}
	c := NewController(&coretest.Tokens{URL: "ws://relay"}, &coretest.Dialer{Sessions: []*coretest.Session{sess}}, rebuild, reg.Clear, nil)
	if err := c.Connect(context.Background(), "site-1", "m", ""); err != nil {
		t.Fatal(err)
	}

	joined := make(chan struct{})
	go func() {
		sess.Join("w1", "")
		close(joined)
	}()
	<-entered

	disconnected := make(chan struct{})
	go func() {
		c.Disconnect()
		close(disconnected)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != domain.StateDisconnected {
		if time.Now().After(deadline) {
			t.Fatal("disconnect never started")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	<-joined
	<-disconnected

	if n := len(reg.Snapshot()); n != 0 {
		t.Fatalf("state=%s entries=%d after disconnect", c.State(), n)
	}
}

func TestEventAfterDisconnectDoesNotRebuild(t *testing.T) {
	sess := coretest.NewSession("m")
	reg := streams.NewRegistry(nil)
	calls := 0
	c := NewController(&coretest.Tokens{URL: "ws://relay"}, &coretest.Dialer{Sessions: []*coretest.Session{sess}},
		func(src core.ParticipantSource) { calls++; reg.Rebuild(src) }, reg.Clear, nil)
	if err := c.Connect(context.Background(), "site-1", "m", ""); err != nil {
		t.Fatal(err)
	}
	handle := c.handler(c.epoch)
	c.Disconnect()
	before := calls

	sess.Join("w1", "")
	handle(core.RelayEvent{Type: core.EventParticipantJoined, Identity: "w1"})
	if calls != before || len(reg.Snapshot()) != 0 {
		t.Fatalf("rebuilt after disconnect: calls=%d entries=%d", calls-before, len(reg.Snapshot()))
	}
}

func TestRelayDropDuringConnectIsAnError(t *testing.T) {
	sess := coretest.NewSession("m")
	reg := streams.NewRegistry(nil)
	// the relay hangs up before Dial returns
	dialer := dialerFunc(func(h core.RelayEventHandler) (core.RelaySession, error) {
		h(core.RelayEvent{Type: core.EventDisconnected})
		return sess, nil
	})
	c := NewController(&coretest.Tokens{URL: "ws://relay"}, dialer,
		func(src core.ParticipantSource) { reg.Rebuild(src) }, reg.Clear, nil)

	err := c.Connect(context.Background(), "site-1", "m", "")
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("err = %v, want transport", err)
	}
	st := c.Status()
	if st.State != domain.StateDisconnected || st.LastError == "" {
		t.Fatalf("status = %+v", st)
	}
	if !sess.Closed() {
		t.Fatal("dropped session not closed")
	}
	if c.ActiveSession() != nil {
		t.Fatal("no session expected")
	}
}

func TestDisconnectDuringConnectIsNotAnError(t *testing.T) {
	sess := coretest.NewSession("m")
	var c *Controller
	dialer := dialerFunc(func(h core.RelayEventHandler) (core.RelaySession, error) {
		c.Disconnect()
		return sess, nil
	})
	c = NewController(&coretest.Tokens{URL: "ws://relay"}, dialer, func(core.ParticipantSource) {}, func() {}, nil)
	if err := c.Connect(context.Background(), "site-1", "m", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if st := c.Status(); st.State != domain.StateDisconnected || st.LastError != "" {
		t.Fatalf("status = %+v", st)
	}
	if !sess.Closed() {
		t.Fatal("superseded session not closed")
	}
}

type dialerFunc func(core.RelayEventHandler) (core.RelaySession, error)

func (f dialerFunc) Dial(_ context.Context, _, _ string, _ domain.RoomName, _ domain.Identity, h core.RelayEventHandler) (core.RelaySession, error) {
	return f(h)
}
