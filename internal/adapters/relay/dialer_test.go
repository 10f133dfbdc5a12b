package relay

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSignalURL(t *testing.T) {
	cases := map[string]string{
		"https://relay.example.com":   "wss://relay.example.com/rtc",
		"http://localhost:7880/":      "ws://localhost:7880/rtc",
		"wss://relay.example.com/rtc": "wss://relay.example.com/rtc",
		"ws://h/custom/":              "ws://h/custom",
	}
	for in, want := range cases {
		got, err := signalURL(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Errorf("%s: got %s want %s", in, got, want)
		}
	}
	if _, err := signalURL("ftp://x"); err == nil {
		t.Fatal("expected scheme error")
	}
}

// relayServer answers join with the given frames.
func relayServer(t *testing.T, replies ...string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var join joinMsg
		if err := conn.ReadJSON(&join); err != nil || join.Type != msgJoin || join.Token != "tok" || join.Room != "site-1" {
			return
		}
		for _, m := range replies {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// hold the socket until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	h := http.Header{}
	h.Set("Authorization", "Bearer tok")
	conn, _, err := websocket.DefaultDialer.Dial(u, h)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandshakeReadsRoomState(t *testing.T) {
	srv := relayServer(t,
		`{"type":"pong"}`,
		`{"type":"room_state","room":"site-1","participants":[{"identity":"site-1/w1","name":"W1","tracks":[{"track_id":"TR_v","kind":"video"}]}]}`)
	conn := dialWS(t, srv)

	st, err := handshake(conn, "site-1", "tok", "manager", time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if st.Room != "site-1" || len(st.Participants) != 1 || st.Participants[0].Tracks[0].TrackID != "TR_v" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestHandshakeJoinCarriesRoom(t *testing.T) {
	joins := make(chan joinMsg, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var join joinMsg
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		joins <- join
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"room_state","room":"site-7"}`))
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	conn := dialWS(t, srv)

	if _, err := handshake(conn, "site-7", "tok", "manager", time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	join := <-joins
	if join.Room != "site-7" || join.Identity != "manager" || join.Token != "tok" {
		t.Fatalf("join = %+v", join)
	}
}

func TestHandshakeRejected(t *testing.T) {
	srv := relayServer(t, `{"type":"error","message":"invalid token"}`)
	conn := dialWS(t, srv)

	_, err := handshake(conn, "site-1", "tok", "manager", time.Now().Add(2*time.Second))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("message lost: %v", err)
	}
}

func TestHandshakeTimesOut(t *testing.T) {
	srv := relayServer(t)
	conn := dialWS(t, srv)

	start := time.Now()
	if _, err := handshake(conn, "site-1", "tok", "manager", time.Now().Add(100*time.Millisecond)); err == nil {
		t.Fatal("expected timeout")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("deadline not honoured")
	}
}

func TestSignalConnBackpressure(t *testing.T) {
	srv := relayServer(t)
	c := newSignalConn(dialWS(t, srv), testLogger())
	for i := 0; i < cap(c.send); i++ {
		if err := c.TrySend([]byte("{}")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := c.TrySend([]byte("{}")); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("expected backpressure, got %v", err)
	}
	c.Close()
	c.Close()
	if err := c.TrySend([]byte("{}")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
}
