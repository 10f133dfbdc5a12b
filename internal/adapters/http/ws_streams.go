package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/fieldlink/internal/app/media"
	"github.com/dkeye/fieldlink/internal/app/streams"
	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsFrame struct {
	kind int
	data []byte
}

// wsConn serializes writes to one operator websocket.
type wsConn struct {
	conn *websocket.Conn
	send chan wsFrame

	mu     sync.RWMutex
	closed bool
}

func newWSConn(conn *websocket.Conn, buf int) *wsConn {
	return &wsConn{conn: conn, send: make(chan wsFrame, buf)}
}

func (c *wsConn) TrySend(kind int, data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- wsFrame{kind: kind, data: data}:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *wsConn) writePump(ctx context.Context, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				logger.Debug().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

// drain discards client frames until the peer goes away.
func (c *wsConn) drain(cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// rtpSink forwards relayed packets as binary websocket frames. Slow
// readers lose packets rather than stall the relay.
type rtpSink struct {
	ws *wsConn
}

func (s rtpSink) WriteRTP(pkt *rtp.Packet) error {
	b, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if err := s.ws.TrySend(websocket.BinaryMessage, b); err != nil && !errors.Is(err, ErrBackpressure) {
		return err
	}
	return nil
}

// handleStreamsWS pushes the stream list on every registry change.
func (a *handlers) handleStreamsWS(c *gin.Context) {
	logger := log.With().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Logger()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws := newWSConn(conn, 8)
	ctx, cancel := context.WithCancel(a.ctx)
	snaps, unsubscribe := a.deps.Streams.Subscribe()

	go ws.writePump(ctx, logger)
	go ws.drain(cancel)
	go func() {
		defer func() {
			unsubscribe()
			ws.Close()
			logger.Debug().Msg("streams ws closed")
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-snaps:
				a.pushStreams(ws, s)
			}
		}
	}()
}

func (a *handlers) pushStreams(ws *wsConn, s streams.Snapshot) {
	b, err := json.Marshal(gin.H{"type": "streams", "streams": streamViews(s)})
	if err != nil {
		return
	}
	_ = ws.TrySend(websocket.TextMessage, b)
}

// handleTrackWS follows one participant's track of the given kind and
// streams its RTP packets. The binding is swapped whenever the registry
// resolves a different track for that participant.
func (a *handlers) handleTrackWS(c *gin.Context) {
	identity := domain.Identity(c.Query("identity"))
	kind := domain.TrackKind(c.Query("kind"))
	if identity == "" || (kind != domain.TrackVideo && kind != domain.TrackAudio) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity and kind (audio|video) required"})
		return
	}
	logger := log.With().Str("module", "adapters.http").Str("identity", string(identity)).Str("kind", string(kind)).Logger()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws := newWSConn(conn, 256)
	binder := media.NewBinder(rtpSink{ws: ws})
	ctx, cancel := context.WithCancel(a.ctx)
	snaps, unsubscribe := a.deps.Streams.Subscribe()

	go ws.writePump(ctx, logger)
	go ws.drain(cancel)
	go func() {
		defer func() {
			unsubscribe()
			binder.Close()
			ws.Close()
			logger.Debug().Msg("track ws closed")
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-snaps:
				follow(binder, s, identity, kind)
			}
		}
	}()
}

func follow(b *media.Binder, s streams.Snapshot, identity domain.Identity, kind domain.TrackKind) {
	var next core.TrackRef
	if e, ok := s[identity]; ok {
		if kind == domain.TrackVideo {
			next = e.Video
		} else {
			next = e.Audio
		}
	}
	cur := b.Current()
	if cur == nil && next == nil {
		return
	}
	if cur != nil && next != nil && cur.ID() == next.ID() {
		return
	}
	b.Bind(next)
}
